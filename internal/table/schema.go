package table

// Column is a declared database column as reported by the catalog.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	DataType string `json:"data_type" yaml:"data_type"`
}

// Schema is the ordered list of columns of a table, by physical position.
type Schema []Column
