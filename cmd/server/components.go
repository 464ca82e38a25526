package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"videovault/internal/config"
	"videovault/internal/observability/logging"
	"videovault/internal/observability/metrics"
	"videovault/internal/probe"
	"videovault/internal/serverutil"
	"videovault/internal/storage"
	"videovault/internal/transfer"
)

// probeChain is the duration probing stack: ffprobe, optionally behind a
// cache, described as catalog strings. All fields are nil when probing is
// disabled.
type probeChain struct {
	describer *probe.Describer
	cached    *probe.Cached
	closer    io.Closer
}

func buildProbeChain(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (probeChain, error) {
	var chain probeChain
	if cfg.Probe.Driver == "none" {
		return chain, nil
	}
	probeLogger := logging.WithComponent(logger, "probe")
	ffprobe := probe.NewFFProbe(probe.FFProbeConfig{
		Binary:  cfg.Probe.Binary,
		Timeout: cfg.Probe.Timeout.Std(),
	})

	var cache probe.Cache
	switch cfg.Cache.Driver {
	case "memory":
		cache = probe.NewMemoryCache(cfg.Cache.TTL.Std())
	case "redis":
		redisCache, err := probe.NewRedisCache(ctx, probe.RedisCacheConfig{
			Addr:     primaryRedisAddr(cfg.Redis),
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Cache.Prefix,
			TTL:      cfg.Cache.TTL.Std(),
		})
		if err != nil {
			return probeChain{}, fmt.Errorf("connect probe cache: %w", err)
		}
		cache = redisCache
		chain.closer = redisCache
	}

	var source probe.SecondsProber = ffprobe
	if cache != nil {
		chain.cached = probe.NewCached(ffprobe, cache, probeLogger)
		source = chain.cached
	}
	chain.describer = &probe.Describer{Source: source, Logger: probeLogger, Metrics: recorder}
	return chain, nil
}

func startWatcher(root string, chain probeChain, logger *slog.Logger) (*probe.Watcher, error) {
	return probe.Watch(root, chain.cached, logging.WithComponent(logger, "probe"))
}

// buildWarmer returns nil when probing or warming is disabled.
func buildWarmer(cfg config.Config, chain probeChain, root string, logger *slog.Logger) *probe.Warmer {
	if chain.describer == nil || cfg.Probe.WarmWorkers <= 0 {
		return nil
	}
	return probe.NewWarmer(probe.WarmerConfig{
		Prober:    chain.describer,
		Workers:   cfg.Probe.WarmWorkers,
		QueueSize: cfg.Probe.WarmQueue,
		Timeout:   cfg.Probe.Timeout.Std(),
		Logger:    logging.WithComponent(logger, "probe-warmer"),
		Root:      root,
		Accept:    storage.IsVideoName,
	})
}

type transferStack struct {
	service *transfer.Service
	worker  *transfer.Worker
	hooks   []serverutil.Hook
}

// buildTransfers wires the transfer service for cfg.Transfer.Driver. The queue
// driver also starts the worker pool that delivers jobs downstream; its hooks
// stop the workers before the queue and ledger they depend on are closed.
func buildTransfers(ctx context.Context, cfg config.Config, locator transfer.Locator, logger *slog.Logger, recorder *metrics.Recorder) (transferStack, error) {
	transferLogger := logging.WithComponent(logger, "transfer")
	var stack transferStack

	ledger, closeLedger, err := buildLedger(ctx, cfg.Transfer.Ledger)
	if err != nil {
		return transferStack{}, err
	}

	var transporter transfer.AssetTransporter
	if cfg.Transfer.Driver == "queue" {
		queue, closeQueue, err := buildQueue(ctx, cfg, transferLogger)
		if err != nil {
			closeQuietly(closeLedger)
			return transferStack{}, err
		}
		downstream, err := buildTransporter(cfg.Transfer.Queue.Downstream, cfg.Transfer, transferLogger)
		if err != nil {
			closeQuietly(closeQueue)
			closeQuietly(closeLedger)
			return transferStack{}, err
		}
		worker, err := transfer.NewWorker(transfer.WorkerConfig{
			Queue:      queue,
			Downstream: downstream,
			Driver:     cfg.Transfer.Queue.Downstream,
			Ledger:     ledger,
			Locator:    locator,
			Workers:    cfg.Transfer.Queue.Workers,
			Timeout:    cfg.Transfer.Queue.JobTimeout.Std(),
			Logger:     logging.WithComponent(logger, "transfer-worker"),
			Metrics:    recorder,
		})
		if err != nil {
			closeQuietly(closeQueue)
			closeQuietly(closeLedger)
			return transferStack{}, err
		}
		// Workers outlive the signal context so in-flight jobs can finish
		// during shutdown.
		worker.Start(context.WithoutCancel(ctx))
		stack.worker = worker
		stack.hooks = append(stack.hooks,
			serverutil.Hook{Name: "transfer worker", Stop: worker.Stop},
			serverutil.Hook{Name: "transfer queue", Stop: closeQueue},
		)
		transporter = transfer.NewQueueTransporter(queue)
	} else {
		transporter, err = buildTransporter(cfg.Transfer.Driver, cfg.Transfer, transferLogger)
		if err != nil {
			closeQuietly(closeLedger)
			return transferStack{}, err
		}
	}

	service, err := transfer.NewService(transfer.ServiceConfig{
		Driver:      cfg.Transfer.Driver,
		Transporter: transporter,
		Ledger:      ledger,
		Locator:     locator,
		Logger:      transferLogger,
		Metrics:     recorder,
	})
	if err != nil {
		stopHooks(logger, stack.hooks)
		closeQuietly(closeLedger)
		return transferStack{}, err
	}
	stack.service = service
	if closeLedger != nil {
		stack.hooks = append(stack.hooks, serverutil.Hook{Name: "transfer ledger", Stop: closeLedger})
	}
	return stack, nil
}

// buildTransporter returns the driver that delivers a job synchronously.
func buildTransporter(driver string, cfg config.TransferConfig, logger *slog.Logger) (transfer.AssetTransporter, error) {
	switch driver {
	case "simulated":
		return transfer.NewSimulated(cfg.SimulatedDelay.Std()), nil
	case "http":
		transporter, err := transfer.NewHTTPTransporter(transfer.HTTPConfig{
			URL:           cfg.Pipeline.URL,
			Token:         cfg.Pipeline.Token,
			Attempts:      cfg.Pipeline.Attempts,
			RetryInterval: cfg.Pipeline.RetryInterval.Std(),
			HTTPClient:    &http.Client{Timeout: cfg.Pipeline.Timeout.Std()},
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configure pipeline transporter: %w", err)
		}
		return transporter, nil
	default:
		return nil, fmt.Errorf("unsupported transfer driver %q", driver)
	}
}

// buildQueue returns the job queue for cfg.Transfer.Queue.Driver and the
// function that releases it.
func buildQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (transfer.Queue, func(context.Context) error, error) {
	queueCfg := cfg.Transfer.Queue
	switch queueCfg.Driver {
	case "memory":
		queue := transfer.NewMemoryQueue(queueCfg.Buffer)
		return queue, func(context.Context) error {
			queue.Close()
			return nil
		}, nil
	case "redis":
		timeout := cfg.Redis.Timeout.Std()
		queue, err := transfer.NewRedisQueue(ctx, transfer.RedisQueueConfig{
			Addr:         cfg.Redis.Addr,
			Addrs:        cfg.Redis.Addrs,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			Stream:       queueCfg.Stream,
			Group:        queueCfg.Group,
			MaxLen:       queueCfg.MaxLen,
			Logger:       logger,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			Buffer:       queueCfg.Buffer,
			PoolSize:     cfg.Redis.PoolSize,
			MasterName:   cfg.Redis.MasterName,
			TLS: transfer.RedisTLSConfig{
				CAFile:             cfg.Redis.TLS.CAFile,
				CertFile:           cfg.Redis.TLS.CertFile,
				KeyFile:            cfg.Redis.TLS.KeyFile,
				ServerName:         cfg.Redis.TLS.ServerName,
				InsecureSkipVerify: cfg.Redis.TLS.InsecureSkipVerify,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect transfer queue: %w", err)
		}
		return queue, func(context.Context) error {
			return queue.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transfer queue driver %q", queueCfg.Driver)
	}
}

// buildLedger returns the transfer ledger and, for ledgers holding external
// resources, the function that releases them.
func buildLedger(ctx context.Context, cfg config.LedgerConfig) (transfer.Ledger, func(context.Context) error, error) {
	switch cfg.Driver {
	case "", "memory":
		return transfer.NewMemoryLedger(cfg.Capacity), nil, nil
	case "postgres":
		ledger, err := transfer.NewPostgresLedger(ctx, transfer.PostgresConfig{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return ledger, ledger.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transfer ledger driver %q", cfg.Driver)
	}
}

// stopHooks releases components that were started before a later startup
// step failed.
func stopHooks(logger *slog.Logger, hooks []serverutil.Hook) {
	ctx, cancel := context.WithTimeout(context.Background(), serverutil.DefaultShutdownTimeout)
	defer cancel()
	for _, hook := range hooks {
		if err := hook.Stop(ctx); err != nil {
			logger.Warn("failed to stop component", "component", hook.Name, "error", err)
		}
	}
}

func closeQuietly(closeFn func(context.Context) error) {
	if closeFn == nil {
		return
	}
	_ = closeFn(context.Background())
}
