package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Import for side effects (registers pprof handlers)
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/health"
	"github.com/zsiec/cadence/internal/logger"
)

// Server serves the control API over HTTP/1.1 and, when TLS material is
// configured, over HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	http3Server  *http3.Server
	httpServer   *http.Server
	logger       *logrus.Logger
	redis        *redis.Client
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler

	routesOnce sync.Once
	httpAddr   chan net.Addr

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a new server instance. redisClient may be nil when session
// persistence is disabled.
func New(cfg *config.ServerConfig, log *logrus.Logger, redisClient *redis.Client) *Server {
	s := &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		redis:            redisClient,
		healthMgr:        health.NewManager(log),
		errorHandler:     errors.NewErrorHandler(log),
		httpAddr:         make(chan net.Addr, 1),
		additionalRoutes: make([]func(*mux.Router), 0),
	}

	s.registerHealthCheckers()

	return s
}

// http3Enabled reports whether the QUIC listener should start.
func (s *Server) http3Enabled() bool {
	return s.config.EnableHTTP3 && s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	if s.http3Enabled() {
		if err := s.configureHTTP3(); err != nil {
			return err
		}
	}

	go s.healthMgr.StartPeriodicChecks(ctx, 15*time.Second)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.HTTPPort, err)
	}
	s.httpAddr <- ln.Addr()

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 2)

	s.logger.WithField("addr", ln.Addr().String()).Info("Starting HTTP server")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.http3Server != nil {
		s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
		go func() {
			if err := s.http3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) configureHTTP3() error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler: s.router,
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			MinVersion:   tls.VersionTLS13,
			Certificates: []tls.Certificate{cert},
		}),
		QUICConfig: &quic.Config{
			MaxIncomingStreams:    s.config.MaxIncomingStreams,
			MaxIncomingUniStreams: s.config.MaxIncomingUniStreams,
			MaxIdleTimeout:        s.config.MaxIdleTimeout,
		},
	}
	return nil
}

// Shutdown stops both listeners, waiting up to ShutdownTimeout for in-flight
// HTTP/1.1 requests.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP servers")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("failed to shutdown http server: %w", err)
		}
	}
	// http3.Server.Close does not drain; the session timeout bounds it.
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shutdown http3 server: %w", err)
		}
	}

	s.logger.Info("HTTP server shutdown complete")
	return firstErr
}

// setupRoutes configures all routes. Safe to call more than once.
func (s *Server) setupRoutes() {
	s.routesOnce.Do(func() {
		s.router.Use(s.requestIDMiddleware)
		s.router.Use(logger.RequestLoggerMiddleware(s.logger))
		s.router.Use(s.recoveryMiddleware)
		s.router.Use(s.errorHandler.Middleware)
		s.router.Use(s.metricsMiddleware)
		s.router.Use(s.corsMiddleware)
		s.router.Use(s.altSvcMiddleware)

		healthHandler := health.NewHandler(s.healthMgr)
		s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
		s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
		s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

		s.router.HandleFunc("/version", s.handleVersion).Methods("GET")
		s.router.HandleFunc("/debug/info", s.handleDebugInfo).Methods("GET")
		s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

		for _, registerFunc := range s.additionalRoutes {
			registerFunc(s.router)
		}

		s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
		s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
	})
}

// registerHealthCheckers registers the process-level checkers. Playback
// checkers are added by the caller through RegisterHealthChecker.
func (s *Server) registerHealthCheckers() {
	if s.redis != nil {
		s.healthMgr.Register(health.NewRedisChecker(s.redis))
	}
	s.healthMgr.Register(health.NewMemoryChecker(0, 0.9))
}

// RegisterHealthChecker adds a checker to /health and /ready.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthMgr.Register(c)
}

func (s *Server) handleDebugInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"protocols": map[string]bool{
			"http11": true,
			"http3":  s.http3Enabled(),
		},
		"ports": map[string]int{
			"http":  s.config.HTTPPort,
			"http3": s.config.HTTP3Port,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(info)
}

// RegisterRoutes adds additional route handlers to the server. It must be
// called before Start.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// Addr blocks until the HTTP listener is bound and returns its address.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case addr := <-s.httpAddr:
		s.httpAddr <- addr
		return addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Router wires the routes without starting listeners and returns the router,
// for tests and embedding.
func (s *Server) Router() *mux.Router {
	s.setupRoutes()
	return s.router
}
