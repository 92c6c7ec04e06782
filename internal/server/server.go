package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"song-catalog/internal/api"
	"song-catalog/internal/observability/logging"
	"song-catalog/internal/observability/metrics"
	"song-catalog/internal/serverutil"
	"song-catalog/internal/users"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr            string
	TLS             TLSConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Security        SecurityConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	rateLimiter     *rateLimiter
	tls             TLSConfig
	shutdownTimeout time.Duration
}

// New mounts the catalog routes, the /user sub-router, health, and metrics on
// one mux and wraps it in the shared middleware chain.
func New(songs *api.Handler, accounts *users.Handler, cfg Config) (*Server, error) {
	if songs == nil {
		return nil, errors.New("song handler is required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "server")

	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("configure rate limiter: %w", err)
	}
	if rl.store != nil {
		songs.Checks = append(songs.Checks, api.HealthCheck{Component: "rate_limiter", Ping: rl.Ping})
	}
	cors, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		rl.Close()
		return nil, fmt.Errorf("configure CORS: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", songs.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/songs", songs.Songs)
	mux.HandleFunc("/songs/", songs.SongByID)
	if accounts != nil {
		mux.Handle("/user/", http.StripPrefix("/user", accounts.Routes()))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeMiddlewareError(w, http.StatusNotFound, "Route not found")
	})

	handlerChain := http.Handler(mux)
	handlerChain = rateLimitMiddleware(rl, logger, handlerChain)
	handlerChain = corsMiddleware(cors, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return &Server{
		httpServer:  httpServer,
		logger:      logger,
		rateLimiter: rl,
		tls: TLSConfig{
			CertFile: strings.TrimSpace(cfg.TLS.CertFile),
			KeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Handler exposes the fully wrapped handler chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled and then shuts down gracefully. The bound
// address is sent on ready when it is non-nil.
func (s *Server) Run(ctx context.Context, ready chan<- string) error {
	defer s.rateLimiter.Close()
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tls.CertFile, KeyFile: s.tls.KeyFile},
		ShutdownTimeout: s.shutdownTimeout,
		Ready:           ready,
		Logger:          s.logger,
	})
}
