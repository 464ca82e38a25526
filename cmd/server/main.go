// Command server starts the videovault HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"videovault/internal/api"
	"videovault/internal/config"
	"videovault/internal/observability/logging"
	"videovault/internal/observability/metrics"
	"videovault/internal/server"
	"videovault/internal/serverutil"
	"videovault/internal/storage"
)

// flagValues holds command line overrides. Empty values keep whatever the
// config file and environment produced.
type flagValues struct {
	Addr           string
	StorageRoot    string
	LogLevel       string
	LogFormat      string
	TransferDriver string
	ProbeDriver    string
}

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file (created with defaults when missing)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading VIDEOVAULT_* variables")
	var overrides flagValues
	flag.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	flag.StringVar(&overrides.StorageRoot, "storage-root", "", "directory that holds uploaded videos")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.LogFormat, "log-format", "", "log format (json or text)")
	flag.StringVar(&overrides.TransferDriver, "transfer-driver", "", "transfer driver (simulated, http or queue)")
	flag.StringVar(&overrides.ProbeDriver, "probe-driver", "", "duration probe driver (ffprobe or none)")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "videovault: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(firstNonEmpty(*configPath, os.Getenv("VIDEOVAULT_CONFIG")), os.Environ(), overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "videovault: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "videovault: %v\n", err)
		os.Exit(1)
	}
	auditLogger := logging.WithComponent(logger, "audit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, auditLogger); err != nil {
		logger.Error("server exited with error", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
	logger.Info("server stopped")
	_ = logCloser.Close()
}

// loadEnvFile exports the variables in path that are not already set. A
// missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig layers the config file, environment and flags, in that order,
// and validates the result.
func loadConfig(path string, environ []string, overrides flagValues) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.ApplyEnv(&cfg, environ); err != nil {
		return config.Config{}, err
	}
	applyFlags(&cfg, overrides)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, overrides flagValues) {
	cfg.Server.Addr = firstNonEmpty(overrides.Addr, cfg.Server.Addr)
	cfg.Storage.Root = firstNonEmpty(overrides.StorageRoot, cfg.Storage.Root)
	cfg.Logging.Level = firstNonEmpty(overrides.LogLevel, cfg.Logging.Level)
	cfg.Logging.Format = firstNonEmpty(overrides.LogFormat, cfg.Logging.Format)
	cfg.Transfer.Driver = firstNonEmpty(overrides.TransferDriver, cfg.Transfer.Driver)
	cfg.Probe.Driver = firstNonEmpty(overrides.ProbeDriver, cfg.Probe.Driver)
}

// run builds every component from cfg and serves until ctx is cancelled.
// Background components are stopped through shutdown hooks once the HTTP
// server has drained.
func run(ctx context.Context, cfg config.Config, logger, auditLogger *slog.Logger) error {
	recorder := metrics.Default()
	var hooks []serverutil.Hook

	probes, err := buildProbeChain(ctx, cfg, logger, recorder)
	if err != nil {
		return err
	}
	if probes.closer != nil {
		hooks = append(hooks, serverutil.Hook{Name: "probe cache", Stop: func(context.Context) error {
			return probes.closer.Close()
		}})
	}

	storeCfg := storage.Config{
		Root:             cfg.Storage.Root,
		MaxUploadBytes:   cfg.Storage.MaxUploadBytes,
		ProbeConcurrency: cfg.Probe.Concurrency,
		Logger:           logging.WithComponent(logger, "storage"),
		Metrics:          recorder,
	}
	if probes.describer != nil {
		storeCfg.Prober = probes.describer
	}
	if probes.cached != nil {
		cached := probes.cached
		storeCfg.OnChange = func(path string) {
			cached.Forget(context.Background(), path)
		}
	}
	store, err := storage.New(storeCfg)
	if err != nil {
		stopHooks(logger, hooks)
		return fmt.Errorf("open storage: %w", err)
	}

	handlerCfg := api.Config{
		Store:                store,
		Logger:               logging.WithComponent(logger, "api"),
		Metrics:              recorder,
		MaxConcurrentUploads: cfg.Server.MaxConcurrentUploads,
	}

	if probes.cached != nil && cfg.Probe.Watch {
		watcher, err := startWatcher(store.Resolver().Root(), probes, logger)
		if err != nil {
			logger.Warn("probe cache watcher disabled", "error", err)
		} else {
			hooks = append(hooks, serverutil.Hook{Name: "probe watcher", Stop: func(context.Context) error {
				return watcher.Close()
			}})
		}
	}
	if warmer := buildWarmer(cfg, probes, store.Resolver().Root(), logger); warmer != nil {
		warmer.Start()
		handlerCfg.Warmer = warmer
		hooks = append(hooks, serverutil.Hook{Name: "probe warmer", Stop: warmer.Shutdown})
	}

	transfers, err := buildTransfers(ctx, cfg, store, logger, recorder)
	if err != nil {
		stopHooks(logger, hooks)
		return err
	}
	handlerCfg.Transfers = transfers.service
	hooks = append(hooks, transfers.hooks...)

	handler, err := api.NewHandler(handlerCfg)
	if err != nil {
		stopHooks(logger, hooks)
		return fmt.Errorf("build api handler: %w", err)
	}

	srv, err := server.New(handler, serverConfig(cfg, logger, auditLogger, recorder))
	if err != nil {
		stopHooks(logger, hooks)
		return fmt.Errorf("initialise server: %w", err)
	}

	logger.Info("starting videovault", newStartupSummary(cfg).LogArgs()...)
	ready := func(addr net.Addr) {
		logger.Info("videovault listening", "addr", addr.String(), "tls", cfg.Server.TLSCert != "")
	}
	return srv.Run(ctx, ready, hooks...)
}

func serverConfig(cfg config.Config, logger, auditLogger *slog.Logger, recorder *metrics.Recorder) server.Config {
	return server.Config{
		Addr:                  cfg.Server.Addr,
		TLS:                   server.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey},
		ReadHeaderTimeout:     cfg.Server.ReadHeaderTimeout.Std(),
		ReadTimeout:           cfg.Server.ReadTimeout.Std(),
		WriteTimeout:          cfg.Server.WriteTimeout.Std(),
		IdleTimeout:           cfg.Server.IdleTimeout.Std(),
		ShutdownTimeout:       cfg.Server.ShutdownTimeout.Std(),
		RateLimit:             rateLimitConfig(cfg),
		CORS:                  server.CORSConfig{AllowedOrigins: cfg.Server.CORSOrigins},
		TrustForwardedHeaders: cfg.RateLimit.TrustForwardedHeaders,
		TrustedProxies:        cfg.RateLimit.TrustedProxies,
		Logger:                logger,
		AuditLogger:           auditLogger,
		Metrics:               recorder,
	}
}

// rateLimitConfig maps the rate limit settings, attaching the shared Redis
// connection when the upload window is kept in Redis.
func rateLimitConfig(cfg config.Config) server.RateLimitConfig {
	rl := server.RateLimitConfig{
		GlobalRPS:    cfg.RateLimit.GlobalRPS,
		GlobalBurst:  cfg.RateLimit.GlobalBurst,
		UploadLimit:  cfg.RateLimit.UploadLimit,
		UploadWindow: cfg.RateLimit.UploadWindow.Std(),
	}
	if cfg.RateLimit.Driver == "redis" && cfg.RateLimit.UploadLimit > 0 {
		rl.Redis = &server.RedisStoreConfig{
			Addr:     primaryRedisAddr(cfg.Redis),
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout.Std(),
		}
	}
	return rl
}

// primaryRedisAddr picks the single address used by components that do not
// speak to a cluster or sentinel deployment.
func primaryRedisAddr(cfg config.RedisConfig) string {
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		return addr
	}
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
