package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"videovault/internal/api"
	"videovault/internal/observability/logging"
	"videovault/internal/observability/metrics"
	"videovault/internal/serverutil"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type Config struct {
	Addr              string
	TLS               TLSConfig
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RateLimit         RateLimitConfig
	CORS              CORSConfig
	Security          SecurityConfig
	// TrustForwardedHeaders lets X-Forwarded-For and X-Real-IP name the
	// client, optionally only when the peer is one of TrustedProxies.
	TrustForwardedHeaders bool
	TrustedProxies        []string
	Logger                *slog.Logger
	AuditLogger           *slog.Logger
	Metrics               *metrics.Recorder
}

type Server struct {
	httpServer      *http.Server
	handler         http.Handler
	logger          *slog.Logger
	rateLimiter     *rateLimiter
	tlsCertFile     string
	tlsKeyFile      string
	shutdownTimeout time.Duration
}

// assetRoute serves a path prefix followed by a client-chosen file name.
type assetRoute struct {
	prefix string
	method string
	handle http.HandlerFunc
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handler.Index)
	mux.HandleFunc("GET /api/docs", handler.Docs)
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.Handle("GET /metrics", recorder.Handler())
	mux.HandleFunc("GET /api/videos", handler.ListVideos)
	mux.HandleFunc("POST /api/upload", handler.Upload)
	mux.HandleFunc("POST /api/fpga-transfer", handler.Transfer)
	mux.HandleFunc("GET /api/transfers", handler.ListTransfers)

	assets := []assetRoute{
		{prefix: "/api/video/", method: http.MethodDelete, handle: handler.DeleteVideo},
		{prefix: "/api/download/", method: http.MethodGet, handle: handler.Download},
		{prefix: "/videos/", method: http.MethodGet, handle: handler.ServeVideo},
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	ipResolver, err := newClientIPResolver(cfg.TrustForwardedHeaders, cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	handlerChain := assetRouter(assets, mux)
	handlerChain = rateLimitMiddleware(rl, ipResolver, recorder, logger, handlerChain)
	handlerChain = corsMiddleware(policy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, ipResolver, handlerChain)
	handlerChain = loggingMiddleware(logger, ipResolver, handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	srv := &Server{
		httpServer:      httpServer,
		handler:         handlerChain,
		logger:          logger,
		rateLimiter:     rl,
		tlsCertFile:     strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:      strings.TrimSpace(cfg.TLS.KeyFile),
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully and runs
// hooks. ready, when non-nil, receives the bound address.
func (s *Server) Run(ctx context.Context, ready func(net.Addr), hooks ...serverutil.Hook) error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	hooks = append(hooks, serverutil.Hook{Name: "rate limiter", Stop: func(context.Context) error {
		return s.rateLimiter.Close()
	}})
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             serverutil.TLSConfig{CertFile: s.tlsCertFile, KeyFile: s.tlsKeyFile},
		ShutdownTimeout: s.shutdownTimeout,
		Ready:           ready,
		Hooks:           hooks,
		Logger:          s.logger,
	})
}

// assetRouter dispatches asset routes ahead of ServeMux. The mux cleans dot
// segments and redirects, which would answer traversal attempts with a 301
// instead of letting the resolver reject them.
func assetRouter(routes []assetRoute, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, route := range routes {
			if !strings.HasPrefix(r.URL.Path, route.prefix) {
				continue
			}
			allowed := r.Method == route.method || (route.method == http.MethodGet && r.Method == http.MethodHead)
			if !allowed {
				allow := route.method
				if route.method == http.MethodGet {
					allow += ", " + http.MethodHead
				}
				w.Header().Set("Allow", allow)
				writeMiddlewareError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
			route.handle(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            logger,
		DisableRemoteAddr: true,
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			return requestLogFields(r, resolver)
		},
	})(next)
}

func rateLimitMiddleware(rl *rateLimiter, resolver *clientIPResolver, recorder *metrics.Recorder, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			recorder.ObserveRateLimited("global")
			w.Header().Set("Retry-After", "1")
			writeMiddlewareError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/upload" {
			ip, _ := resolveClientIP(r, resolver)
			allowed, retryAfter, err := rl.AllowUpload(r.Context(), ip)
			if err != nil {
				if reqLogger := requestLogger(logger, resolver, r); reqLogger != nil {
					reqLogger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "Rate limiter unavailable")
				return
			}
			if !allowed {
				recorder.ObserveRateLimited("upload")
				w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
				writeMiddlewareError(w, http.StatusTooManyRequests, "Too many uploads")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func auditMiddleware(logger *slog.Logger, resolver *clientIPResolver, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := metrics.NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rr, r)
		if !shouldAudit(r) {
			return
		}
		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rr.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		logging.WithContext(r.Context(), logger).Info("audit", append(fields, requestLogFields(r, resolver)...)...)
	})
}

// shouldAudit selects requests that change stored assets or start transfers.
func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
