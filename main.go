package main

import "github.com/turbolytics/csvimport/internal/cmd"

func main() {
	cmd.Execute()
}
