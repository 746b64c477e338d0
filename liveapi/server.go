package liveapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/victron-monitor/victron"
)

// Source is the decode-side state the API reads from. *victron.Monitor
// satisfies it.
type Source interface {
	Table() *victron.DeviceTable
	Keys() *victron.KeyRegistry
	Diagnostics() victron.Diagnostics
}

// Uploader reports the state of the periodic uploader.
// *metrics.Pusher satisfies it.
type Uploader interface {
	LastPushTime() time.Time
	Buffered() int
}

// Config holds the live API settings
type Config struct {
	Port      int
	Freshness time.Duration
	// Uploader is optional; when set, /health turns unhealthy once the last
	// successful push is older than three push intervals
	Uploader     Uploader
	PushInterval time.Duration
	// Now overrides the clock (tests)
	Now func() time.Time
}

// Server serves live readings over HTTP
type Server struct {
	source       Source
	freshness    time.Duration
	uploader     Uploader
	pushInterval time.Duration
	now          func() time.Time
	startedAt    time.Time
	srv          *http.Server
	logger       *zap.Logger
}

// HealthStatus is the body of /health
type HealthStatus struct {
	Status            string     `json:"status"`
	LastPushTime      *time.Time `json:"last_push_time,omitempty"`
	BufferedSnapshots int        `json:"buffered_snapshots"`
}

// StatusResponse is the body of /api/status
type StatusResponse struct {
	LastSeenDevice string     `json:"last_seen_device"`
	LastError      string     `json:"last_error,omitempty"`
	LastErrorAt    *time.Time `json:"last_error_at,omitempty"`
	Decoded        uint64     `json:"decoded"`
	Dropped        uint64     `json:"dropped"`
	KeyCount       int        `json:"key_count"`
	DeviceCount    int        `json:"device_count"`
	FreshCount     int        `json:"fresh_count"`
	UptimeSeconds  int64      `json:"uptime_s"`
}

// New creates a live API server
func New(cfg Config, source Source, logger *zap.Logger) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		source:       source,
		freshness:    cfg.Freshness,
		uploader:     cfg.Uploader,
		pushInterval: cfg.PushInterval,
		now:          now,
		startedAt:    now(),
		logger:       logger,
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(s.Router(), "liveapi"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/data", s.handleData)
	r.Get("/api/data/{mac}", s.handleDevice)
	r.Get("/api/status", s.handleStatus)

	return r
}

// Start serves until ctx is cancelled, then shuts the server down
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("live API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("live API failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.logger.Info("stopping live API")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown live API: %w", err)
	}
	return nil
}

// FreshViews returns the views of all snapshots inside the freshness
// window, ordered by device identifier
func (s *Server) FreshViews() []victron.View {
	now := s.now()
	all := s.source.Table().All()

	views := make([]victron.View, 0, len(all))
	for _, snap := range all {
		if snap.Fresh(now, s.freshness) {
			views = append(views, victron.NewView(snap))
		}
	}

	sort.Slice(views, func(i, j int) bool { return views[i].MAC < views[j].MAC })
	return views
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Status: "healthy"}
	code := http.StatusOK

	if s.uploader != nil {
		lastPush := s.uploader.LastPushTime()
		status.BufferedSnapshots = s.uploader.Buffered()

		if !lastPush.IsZero() {
			status.LastPushTime = &lastPush
			if s.now().Sub(lastPush) > 3*s.pushInterval {
				status.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
	}

	writeJSON(w, code, status)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.FreshViews())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")

	snap, ok := s.source.Table().Get(mac)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}

	writeJSON(w, http.StatusOK, victron.NewView(snap))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	diag := s.source.Diagnostics()

	resp := StatusResponse{
		LastSeenDevice: diag.LastSeenDevice,
		LastError:      diag.LastError,
		Decoded:        diag.Decoded,
		Dropped:        diag.Dropped,
		KeyCount:       s.source.Keys().Len(),
		DeviceCount:    s.source.Table().Len(),
		FreshCount:     len(s.FreshViews()),
		UptimeSeconds:  int64(s.now().Sub(s.startedAt).Seconds()),
	}
	if !diag.LastErrorAt.IsZero() {
		at := diag.LastErrorAt
		resp.LastErrorAt = &at
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
