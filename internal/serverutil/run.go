// Package serverutil runs an http.Server until its context ends and then
// drains it together with the background work that feeds it.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Hook is a shutdown step that runs after the HTTP server stopped accepting
// requests. Hooks share the shutdown deadline.
type Hook struct {
	Name string
	Stop func(ctx context.Context) error
}

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Server *http.Server
	// Listener, when set, is served instead of listening on Server.Addr.
	Listener        net.Listener
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	// Ready is called with the bound address once the listener is open.
	Ready  func(addr net.Addr)
	Hooks  []Hook
	Logger *slog.Logger
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 15 * time.Second

// Run starts the server and blocks until it stops. When ctx is cancelled the
// server is shut down gracefully, in-flight requests get until
// ShutdownTimeout to finish, and the hooks then run in order.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("server is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ln := cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			return err
		}
	}

	if cfg.TLS.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		tlsCfg := cfg.Server.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
		cfg.Server.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	if cfg.Ready != nil {
		cfg.Ready(ln.Addr())
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		stopHooks(context.Background(), cfg.Hooks, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := cfg.Server.Shutdown(shutdownCtx)
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) && shutdownErr == nil {
		shutdownErr = err
	}
	if hookErr := stopHooks(shutdownCtx, cfg.Hooks, logger); shutdownErr == nil {
		shutdownErr = hookErr
	}
	return shutdownErr
}

func stopHooks(ctx context.Context, hooks []Hook, logger *slog.Logger) error {
	var errs []error
	for _, hook := range hooks {
		if hook.Stop == nil {
			continue
		}
		if err := hook.Stop(ctx); err != nil {
			logger.Error("shutdown step failed", "step", hook.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
		}
	}
	return errors.Join(errs...)
}
