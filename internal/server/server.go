// Package server exposes the grader over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cutekitek/rankode-grader/internal/repository/dto"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/runner/lang"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxBodyBytes       = 32 << 20
	healthCheckTimeout = 2 * time.Second
)

type Submitter interface {
	Submit(ctx context.Context, req *dto.RunRequest) (*models.SubmissionResult, error)
	Languages() []lang.Spec
}

// Pinger reports whether the isolation backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg     Config
	service Submitter
	pinger  Pinger
	limiter *RateLimiter
	logger  *slog.Logger
	router  *mux.Router
	http    *http.Server
}

// New wires the routes. pinger and limiter may be nil.
func New(cfg Config, service Submitter, pinger Pinger, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, service: service, pinger: pinger, limiter: limiter, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	var run http.Handler = http.HandlerFunc(s.Run)
	if s.limiter != nil {
		run = s.limiter.Middleware(run)
	}
	r.Handle("/run", run).Methods(http.MethodPost)
	r.HandleFunc("/plagiarism", s.Plagiarism).Methods(http.MethodPost)
	r.HandleFunc("/languages", s.Languages).Methods(http.MethodGet)
	r.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. Listen errors other than a clean
// shutdown are sent to the returned channel.
func (s *Server) Start() <-chan error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "http server failed")
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.http == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	return s.http.Shutdown(ctx)
}
