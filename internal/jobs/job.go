package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/turbolytics/csvimport/internal/catalog"
)

var ErrNotFound = errors.New("import job not found")

const (
	StatusStarting = "starting"
	StatusRunning  = "running"
)

// Job is the tracked state of one asynchronous import. Result stays nil until
// the run has finished. Logs holds every log line of the finished run, while
// Result carries only the most recent ones.
type Job struct {
	ID        string           `json:"job_id" bson:"_id"`
	Status    string           `json:"status" bson:"status"`
	StartTime time.Time        `json:"start_time" bson:"start_time"`
	Result    *catalog.Summary `json:"result,omitempty" bson:"result,omitempty"`
	Logs      []string         `json:"logs,omitempty" bson:"logs,omitempty"`
}

func (j Job) Complete() bool {
	return j.Result != nil
}

// Store persists jobs by id.
type Store interface {
	Put(ctx context.Context, job Job) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Job, error)
}

// Notifier is told about every finished job.
type Notifier interface {
	Notify(ctx context.Context, job Job) error
}
