package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/ogis/internal/governance"
	"github.com/polisai/ogis/pkg/domain"
)

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// Config holds listener settings.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimiter guards the render endpoint with limiter.
func WithRateLimiter(limiter *governance.RateLimiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithMetrics records HTTP metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTLS terminates HTTPS on the listener with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// Server is the HTTP surface of the image service.
type Server struct {
	config     Config
	service    *Service
	limiter    *governance.RateLimiter
	metrics    *Metrics
	gatherer   prometheus.Gatherer
	tlsConfig  *tls.Config
	logger     *slog.Logger
	httpServer *http.Server
	stopOnce   sync.Once
}

// New builds a server around service.
func New(cfg Config, service *Service, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		config:   cfg,
		service:  service,
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	render := http.Handler(http.HandlerFunc(s.handleRender))
	if s.limiter != nil {
		render = s.limiter.Middleware(render)
	}

	mux.Handle("GET /{$}", s.metrics.Middleware("render", render))
	mux.Handle("GET /health", s.metrics.Middleware("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return otelhttp.NewHandler(requestID(mux), "ogis.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", listener.Addr().String(), "tls", s.tlsConfig != nil)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: http error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("server: shutting down")
		if s.httpServer != nil {
			if stopErr := s.httpServer.Shutdown(ctx); stopErr != nil {
				s.logger.Error("server: shutdown failed", "error", stopErr)
				err = stopErr
			}
		}
	})
	return err
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	markup, err := s.service.Render(r.Context(), ParamsFromQuery(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(markup); err != nil {
		s.logger.Debug("server: write response failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := domain.ErrorResponse{Code: CodeRenderFailed, Message: "failed to render image"}

	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Code = de.Code
		resp.Message = de.Error()
		switch de.Code {
		case CodeInvalidInput:
			status = http.StatusBadRequest
		case CodeImageFetchFailed:
			status = http.StatusBadGateway
		}
	}

	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		resp.TraceID = sc.TraceID().String()
	}

	attrs := []any{"code", resp.Code, "status", status, "error", err, "request_id", w.Header().Get(RequestIDHeader)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("server: render failed", attrs...)
	} else {
		s.logger.Warn("server: render rejected", attrs...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// requestID stamps every response with an identifier. A well-formed UUID
// supplied by the caller is kept.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("http.request_id", id))
		next.ServeHTTP(w, r)
	})
}
