// Package api exposes job control over HTTP: start a harvest, poll its
// progress, cancel it and download the artifact.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/FranksOps/harvest/internal/input"
	"github.com/FranksOps/harvest/internal/jobs"
	"github.com/FranksOps/harvest/internal/pipeline"
	"github.com/FranksOps/harvest/internal/report"
)

const (
	maxUploadBytes = 32 << 20
	maxPagesLimit  = 20
)

// JobManager is the job control surface the handlers drive.
type JobManager interface {
	Start(req jobs.Request) (string, error)
	Progress() jobs.Progress
	Artifact(name string) ([]byte, error)
	Cancel() bool
	Result() *pipeline.Result
}

// Server serves the HTTP surface.
type Server struct {
	jobs   JobManager
	logger *slog.Logger
}

// NewServer returns a Server driving m.
func NewServer(m JobManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{jobs: m, logger: logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/download/{filename}", s.handleDownload)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s.logRequests(mux)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.logger.Info("api server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	req, err := parseScrapeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.jobs.Start(req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "started", "job_id": id})
	case errors.Is(err, jobs.ErrJobRunning):
		writeError(w, http.StatusConflict, "A scrape is already running")
	case errors.Is(err, jobs.ErrNoKeywords):
		writeError(w, http.StatusBadRequest, "No keywords provided")
	case errors.Is(err, jobs.ErrMissingCredentials):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("start job", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseScrapeRequest reads keywords from the keywords_file upload when one is
// present, otherwise from the line-delimited keywords field.
func parseScrapeRequest(r *http.Request) (jobs.Request, error) {
	var req jobs.Request

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return req, fmt.Errorf("invalid form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form: %w", err)
	}

	if v := r.FormValue("max_pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPagesLimit {
			return req, fmt.Errorf("max_pages must be between 1 and %d", maxPagesLimit)
		}
		req.MaxPages = n
	}

	keywords, found, err := readUpload(r, "keywords_file", input.KeywordsFromFile)
	if err != nil {
		return req, err
	}
	if found {
		req.Keywords = keywords
	} else {
		req.Keywords = input.KeywordsFromText(r.FormValue("keywords"))
	}

	old, _, err := readUpload(r, "old_urls_file", input.OldURLsFromFile)
	if err != nil {
		return req, err
	}
	req.OldURLs = old
	return req, nil
}

func readUpload(r *http.Request, field string, parse func(string, io.Reader) ([]string, error)) ([]string, bool, error) {
	if r.MultipartForm == nil {
		return nil, false, nil
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", field, err)
	}
	defer f.Close()

	values, err := parse(hdr.Filename, f)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", field, err)
	}
	return values, true, nil
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Progress())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.jobs.Cancel() {
		writeError(w, http.StatusConflict, "No scrape is running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	data, err := s.jobs.Artifact(name)
	if err != nil {
		if errors.Is(err, jobs.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		s.logger.Error("read artifact", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Could not read file")
		return
	}

	if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res := s.jobs.Result()
	if res == nil {
		writeError(w, http.StatusNotFound, "No completed scrape yet")
		return
	}
	summary := report.FromResult(res)

	var err error
	switch r.URL.Query().Get("format") {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		err = report.WriteJSON(w, summary)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = report.WriteText(w, summary)
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = report.WriteHTML(w, summary)
	default:
		writeError(w, http.StatusBadRequest, "format must be json, text or html")
		return
	}
	if err != nil {
		s.logger.Error("render summary", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		// progress is polled every second or so
		level := slog.LevelInfo
		if r.URL.Path == "/api/progress" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
