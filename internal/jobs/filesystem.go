package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FilesystemStore keeps one JSON document per job so results survive a
// restart.
type FilesystemStore struct {
	baseDir string
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewFilesystemStore(baseDir string, logger *zap.Logger) *FilesystemStore {
	return &FilesystemStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (f *FilesystemStore) path(id string) string {
	return filepath.Join(f.baseDir, id+".json")
}

func (f *FilesystemStore) Get(ctx context.Context, id string) (Job, error) {
	// ids are UUIDs; anything else cannot name a job file
	if _, err := uuid.Parse(id); err != nil {
		return Job{}, ErrNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (f *FilesystemStore) Put(ctx context.Context, job Job) error {
	if _, err := uuid.Parse(job.ID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.baseDir, 0755); err != nil {
		return err
	}

	jobPath := f.path(job.ID)
	tempPath := jobPath + ".tmp"

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	if file, err := os.OpenFile(tempPath, os.O_RDWR, 0644); err == nil {
		file.Sync()
		file.Close()
	}

	// Atomic rename
	if err := os.Rename(tempPath, jobPath); err != nil {
		os.Remove(tempPath)
		return err
	}

	f.logger.Debug("job saved",
		zap.String("job_id", job.ID),
		zap.String("status", job.Status),
	)
	return nil
}
