// Package api exposes the job operations over a small JSON HTTP facade.
// It translates transport shapes into manager calls and error taxonomy
// into status codes; all analysis semantics live below it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mallardlabs/mallard/internal/manager"
	"github.com/mallardlabs/mallard/internal/model"
)

const gracefulShutdownTimeout = 5 * time.Second

type Server struct {
	manager *manager.Manager
	addr    string
}

func New(m *manager.Manager, addr string) *Server {
	return &Server{manager: m, addr: addr}
}

func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(
		chiMiddleware.Recoverer,
		requestLogger,
	)

	router.Get("/v1/health", s.handleHealth)
	router.Post("/v1/jobs", s.handleSubmit)
	router.Get("/v1/jobs", s.handleList)
	router.Get("/v1/jobs/{id}", s.handleGet)
	router.Get("/v1/stats", s.handleStats)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:     s.Router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	slog.InfoContext(ctx, "api server listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type submitRequest struct {
	Code     string   `json:"code"`
	JobTypes []string `json:"job_types"`
	Options  struct {
		MinSeverity string `json:"min_severity,omitempty"`
		TopN        int    `json:"top_n,omitempty"`
	} `json:"options"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decoding request body: %v: %w", err, model.ErrInvalidRequest))
		return
	}

	types := make([]model.JobType, 0, len(req.JobTypes))
	for _, s := range req.JobTypes {
		t, err := model.ParseJobType(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		types = append(types, t)
	}

	opts := model.FilterOptions{TopN: req.Options.TopN}
	if req.Options.MinSeverity != "" {
		sev, err := model.ParseSeverity(req.Options.MinSeverity)
		if err != nil {
			writeError(w, r, err)
			return
		}
		opts.MinSeverity = sev
	}

	id, err := s.manager.Submit(r.Context(), req.Code, types, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, submitResponse{JobID: id, Status: "accepted"})
}

type jobResponse struct {
	JobID           string                               `json:"job_id"`
	Status          model.JobStatus                      `json:"status"`
	RequestedTypes  []model.JobType                      `json:"requested_types"`
	Results         map[model.JobType][]model.Diagnostic `json:"results,omitempty"`
	Error           string                               `json:"error,omitempty"`
	ExecutionTimeMS int64                                `json:"execution_time_ms,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := jobResponse{
		JobID:          job.ID,
		Status:         job.Status,
		RequestedTypes: job.RequestedTypes,
		Error:          job.Error,
	}
	if job.Status.Terminal() {
		resp.Results = job.Results
		resp.ExecutionTimeMS = job.ExecutionTime().Milliseconds()
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter model.JobType
	if q := r.URL.Query().Get("type"); q != "" {
		t, err := model.ParseJobType(q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter = t
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"jobs": s.manager.List(filter),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.manager.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.DebugContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start).String(),
		)
	})
}
