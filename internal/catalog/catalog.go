package catalog

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

/*
The catalog is a record of what an import run did.
It inventories the files that were downloaded and loaded, the rows that
landed in each table, and every log line emitted along the way, so a run
can be audited after the fact.
*/

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

const (
	timeLayout = "2006-01-02 15:04:05"

	// MaxSummaryLogLines bounds the log lines returned by Summary.
	MaxSummaryLogLines = 100
)

// ProcessedFile is the number of rows loaded from one file.
type ProcessedFile struct {
	Name string `json:"name" yaml:"name" bson:"name"`
	Rows int    `json:"rows" yaml:"rows" bson:"rows"`
}

// Report accumulates the outcome of one import run. It is safe for concurrent
// use.
type Report struct {
	mu sync.Mutex

	startTime       time.Time
	endTime         time.Time
	status          Status
	downloadedFiles []string
	processedFiles  []ProcessedFile
	errors          []string
	logs            []string

	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Report)

// WithLogger mirrors every log line into logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Report) {
		r.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Report) {
		r.now = now
	}
}

func New(opts ...Option) *Report {
	r := &Report{
		status: StatusRunning,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startTime = r.now()
	return r
}

// Log appends a timestamped line. ERROR lines are also recorded as errors.
func (r *Report) Log(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs = append(r.logs, fmt.Sprintf("%s - %s - %s", r.now().Format(timeLayout), level, msg))
	if level == LevelError {
		r.errors = append(r.errors, msg)
	}

	switch level {
	case LevelError:
		r.logger.Error(msg)
	case LevelWarning:
		r.logger.Warn(msg)
	default:
		r.logger.Info(msg)
	}
}

func (r *Report) Infof(format string, args ...any) {
	r.Log(LevelInfo, fmt.Sprintf(format, args...))
}

func (r *Report) Warnf(format string, args ...any) {
	r.Log(LevelWarning, fmt.Sprintf(format, args...))
}

func (r *Report) Errorf(format string, args ...any) {
	r.Log(LevelError, fmt.Sprintf(format, args...))
}

func (r *Report) AddDownloaded(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloadedFiles = append(r.downloadedFiles, names...)
}

func (r *Report) AddProcessed(name string, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processedFiles = append(r.processedFiles, ProcessedFile{Name: name, Rows: rows})
}

// Complete finalizes the report. Only the first call has any effect.
func (r *Report) Complete(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusRunning {
		return
	}
	r.endTime = r.now()
	r.status = StatusFailed
	if success {
		r.status = StatusSuccess
	}
}

func (r *Report) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Report) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

// Summary is the external view of a report. RowCounts is derived from
// ProcessedFiles and is not persisted to document stores since file names
// contain dots.
type Summary struct {
	Status          Status          `json:"status" yaml:"status" bson:"status"`
	StartTime       time.Time       `json:"start_time" yaml:"start_time" bson:"start_time"`
	EndTime         *time.Time      `json:"end_time" yaml:"end_time" bson:"end_time"`
	DurationSeconds *float64        `json:"duration_seconds" yaml:"duration_seconds" bson:"duration_seconds"`
	DownloadedFiles []string        `json:"downloaded_files" yaml:"downloaded_files" bson:"downloaded_files"`
	ProcessedFiles  []ProcessedFile `json:"processed_files" yaml:"processed_files" bson:"processed_files"`
	Errors          []string        `json:"errors" yaml:"errors" bson:"errors"`
	RowCounts       map[string]int  `json:"row_counts" yaml:"row_counts" bson:"-"`
	LogMessages     []string        `json:"log_messages" yaml:"log_messages" bson:"log_messages"`
}

// Summary projects the report. Only the last MaxSummaryLogLines log lines are
// included. End time and duration are nil until the report is complete.
func (r *Report) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		Status:          r.status,
		StartTime:       r.startTime,
		DownloadedFiles: append([]string{}, r.downloadedFiles...),
		ProcessedFiles:  append([]ProcessedFile{}, r.processedFiles...),
		Errors:          append([]string{}, r.errors...),
		RowCounts:       RowCounts(r.processedFiles),
	}

	if !r.endTime.IsZero() {
		end := r.endTime
		d := end.Sub(r.startTime).Seconds()
		s.EndTime = &end
		s.DurationSeconds = &d
	}

	logs := r.logs
	if len(logs) > MaxSummaryLogLines {
		logs = logs[len(logs)-MaxSummaryLogLines:]
	}
	s.LogMessages = append([]string{}, logs...)
	return s
}

// RowCounts indexes processed files by name.
func RowCounts(files []ProcessedFile) map[string]int {
	counts := make(map[string]int, len(files))
	for _, pf := range files {
		counts[pf.Name] = pf.Rows
	}
	return counts
}
