package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/catalog"
	"github.com/turbolytics/csvimport/internal/jobs"
)

const startingLogPlaceholder = "Job still starting, no logs available"

// Jobs starts and looks up import jobs.
type Jobs interface {
	Submit(ctx context.Context) (jobs.Job, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
}

type Server struct {
	logger *zap.Logger
	jobs   Jobs
}

// ImportResponse is the status view of a job.
type ImportResponse struct {
	JobID           string                  `json:"job_id"`
	Status          string                  `json:"status"`
	StartTime       time.Time               `json:"start_time"`
	EndTime         *time.Time              `json:"end_time"`
	DurationSeconds *float64                `json:"duration_seconds"`
	DownloadedFiles []string                `json:"downloaded_files"`
	ProcessedFiles  []catalog.ProcessedFile `json:"processed_files"`
	Errors          []string                `json:"errors"`
	RowCounts       map[string]int          `json:"row_counts"`
	LogLines        int                     `json:"log_lines"`
}

func NewImportResponse(job jobs.Job) ImportResponse {
	resp := ImportResponse{
		JobID:           job.ID,
		Status:          job.Status,
		StartTime:       job.StartTime,
		DownloadedFiles: []string{},
		ProcessedFiles:  []catalog.ProcessedFile{},
		Errors:          []string{},
	}
	if !job.Complete() {
		return resp
	}

	res := job.Result
	resp.Status = string(res.Status)
	resp.StartTime = res.StartTime
	resp.EndTime = res.EndTime
	resp.DurationSeconds = res.DurationSeconds
	resp.DownloadedFiles = res.DownloadedFiles
	resp.ProcessedFiles = res.ProcessedFiles
	resp.Errors = res.Errors
	resp.RowCounts = res.RowCounts
	resp.LogLines = len(res.LogMessages)
	return resp
}

func New(j Jobs, logger *zap.Logger) *Server {
	return &Server{
		logger: logger,
		jobs:   j,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.root)
	r.Get("/health", s.health)

	r.Route("/import", func(r chi.Router) {
		r.Post("/", s.startImport)
		r.Get("/{job_id}", s.getImport)
		r.Get("/{job_id}/logs", s.getImportLogs)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("from", r.RemoteAddr),
				zap.String("protocol", r.Proto),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Data Import API is running",
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startImport(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Submit(r.Context())
	if err != nil {
		s.logger.Error("failed to start import", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": "Could not start import job",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"start_time": job.StartTime,
		"log_lines":  0,
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	id := chi.URLParam(r, "job_id")

	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"detail": "Import job not found",
		})
		return jobs.Job{}, false
	}
	if err != nil {
		s.logger.Error("failed to load job", zap.String("job_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"detail": "Could not load import job",
		})
		return jobs.Job{}, false
	}
	return job, true
}

func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewImportResponse(job))
}

func (s *Server) getImportLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}

	logs := []string{startingLogPlaceholder}
	if job.Complete() {
		logs = job.Logs
		if logs == nil {
			logs = []string{}
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"logs": logs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting import server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down import server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
