// Package server exposes the dashboard over HTTP: the embedded web page, a
// WebSocket feed and a small JSON API mirroring the dashboard buttons.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jes/pressuredash/internal/chart"
	"github.com/jes/pressuredash/internal/controller"
	"github.com/jes/pressuredash/internal/metrics"
	"github.com/jes/pressuredash/internal/reading"
	"github.com/jes/pressuredash/internal/transport"
)

//go:embed web
var webFS embed.FS

const maxBodySize = 4 << 10

// Dashboard is the session the API drives.
type Dashboard interface {
	Connect(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	TagEvent(ctx context.Context, label string) (reading.Reading, bool, error)
	Export(ctx context.Context, sessionName string) (string, []byte, error)
	Snapshot(ctx context.Context) (controller.Snapshot, error)
}

type ChartSource interface {
	Snapshot() chart.Frame
}

type Config struct {
	Dashboard Dashboard
	Chart     ChartSource
	Hub       *Hub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// SerialPorts lists candidate serial devices. Defaults to
	// transport.SerialPorts.
	SerialPorts func() ([]string, error)
}

type Server struct {
	dashboard   Dashboard
	chart       ChartSource
	hub         *Hub
	metrics     *metrics.Metrics
	logger      *slog.Logger
	serialPorts func() ([]string, error)
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SerialPorts == nil {
		cfg.SerialPorts = transport.SerialPorts
	}
	s := &Server{
		dashboard:   cfg.Dashboard,
		chart:       cfg.Chart,
		hub:         cfg.Hub,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		serialPorts: cfg.SerialPorts,
	}
	s.hub.SetWelcome(s.welcome, s.chartCatchUp)
	return s
}

func (s *Server) welcome(ctx context.Context) ([]any, error) {
	snap, err := s.dashboard.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	lines := snap.Log
	if lines == nil {
		lines = []string{}
	}
	return []any{
		snap.State,
		controller.LogHistoryMessage{Type: "log_clear", Seq: snap.LogSeq, Lines: lines},
	}, nil
}

func (s *Server) chartCatchUp() any {
	return s.chart.Snapshot()
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	static, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err)
	}
	r.Get("/", s.handleIndex(static))
	r.Handle("/static/*", http.FileServer(http.FS(static)))
	r.Get("/ws", s.hub.HandleConnections)

	r.Route("/api", func(r chi.Router) {
		r.Post("/connect", s.handleAction(s.dashboard.Connect))
		r.Post("/start", s.handleAction(s.dashboard.Start))
		r.Post("/stop", s.handleAction(s.dashboard.Stop))
		r.Post("/reset", s.handleAction(s.dashboard.Reset))
		r.Post("/events", s.handleEvent)
		r.Get("/state", s.handleState)
		r.Get("/export", s.handleExport)
		r.Get("/serial_ports", s.handleListSerialPorts)
	})

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("graceful shutdown failed, forcing close", "err", err)
			_ = srv.Close()
		}
		return <-errCh

	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleIndex(static fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := fs.ReadFile(static, "index.html")
		if err != nil {
			http.Error(w, "index missing", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}
}

func (s *Server) handleAction(action func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		s.handleState(w, r)
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rd, ok, err := s.dashboard.TagEvent(r.Context(), req.Label)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusCreated, rd)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dashboard.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.State)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name, body, err := s.dashboard.Export(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	_, _ = w.Write(body)
}

func (s *Server) handleListSerialPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.serialPorts()
	if err != nil {
		s.logger.Error("listing serial ports", "err", err)
		http.Error(w, "Failed to list serial ports", http.StatusInternalServerError)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	s.writeJSON(w, http.StatusOK, ports)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Clients(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrInvalidTransition), errors.Is(err, controller.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, transport.ErrLinkUnavailable), errors.Is(err, transport.ErrSubscription):
		return http.StatusBadGateway
	case errors.Is(err, controller.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !strings.Contains(err.Error(), "broken pipe") {
		s.logger.Warn("writing response", "err", err)
	}
}
