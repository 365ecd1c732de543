// Package server exposes the classification and detection backends over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Tutortoise/vision-service/imageload"
	"github.com/Tutortoise/vision-service/inference"
	"github.com/Tutortoise/vision-service/models"
	"github.com/gorilla/mux"
)

const (
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// ImageLoader resolves a parsed request input to a decoded image.
type ImageLoader interface {
	Load(ctx context.Context, in imageload.Input) (image.Image, error)
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxBodyBytes limits request bodies; zero means unlimited.
	MaxBodyBytes int64
	// MaxMemory is the multipart form size kept in memory before spilling to disk.
	MaxMemory       int64
	ParallelAnalyze bool
}

type Deps struct {
	Loader     ImageLoader
	Classifier inference.Classifier
	Detector   inference.Detector
	// Backend names the active backend in /health.
	Backend string
	// PoolStats reports session pool counters for /metrics; may be nil.
	PoolStats func() []models.PoolStats
}

type Server struct {
	cfg        Config
	loader     ImageLoader
	classifier inference.Classifier
	detector   inference.Detector
	backend    string
	poolStats  func() []models.PoolStats
	requests   *requestMetrics
	started    time.Time
}

func New(cfg Config, deps Deps) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = imageload.DefaultMaxMemory
	}

	return &Server{
		cfg:        cfg,
		loader:     deps.Loader,
		classifier: deps.Classifier,
		detector:   deps.Detector,
		backend:    deps.Backend,
		poolStats:  deps.PoolStats,
		requests:   newRequestMetrics(),
		started:    time.Now(),
	}
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	s.addMonitoringRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendErrorResponse(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sendErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	var h http.Handler = r
	h = limitBody(s.cfg.MaxBodyBytes, h)
	h = enableCORS(h)
	h = recoverPanics(h)
	h = s.accessLog(h)
	h = withRequestID(h)
	return h
}

func (s *Server) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", ln.Addr().String(), "backend", s.backend)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
