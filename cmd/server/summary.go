package main

import (
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"videovault/internal/config"
)

// startupSummary is the effective configuration logged once at startup.
// Credentials never appear in it.
type startupSummary struct {
	sections []summarySection
}

type summarySection struct {
	key    string
	fields map[string]any
}

func newStartupSummary(cfg config.Config) startupSummary {
	var s startupSummary

	s.add("server", map[string]any{
		"addr":                   cfg.Server.Addr,
		"tls":                    cfg.Server.TLSCert != "",
		"cors_origins":           strings.Join(cfg.Server.CORSOrigins, ","),
		"max_concurrent_uploads": cfg.Server.MaxConcurrentUploads,
	})

	s.add("storage", map[string]any{
		"root":       cfg.Storage.Root,
		"max_upload": humanize.IBytes(uint64(cfg.Storage.MaxUploadBytes)),
	})

	probeFields := map[string]any{"driver": cfg.Probe.Driver}
	if cfg.Probe.Driver != "none" {
		probeFields["binary"] = cfg.Probe.Binary
		probeFields["timeout"] = cfg.Probe.Timeout.String()
		probeFields["concurrency"] = cfg.Probe.Concurrency
		probeFields["warm_workers"] = cfg.Probe.WarmWorkers
		probeFields["cache"] = cfg.Cache.Driver
		if cfg.Cache.Driver != "none" {
			probeFields["cache_ttl"] = cfg.Cache.TTL.String()
			probeFields["watch"] = cfg.Probe.Watch
		}
		if cfg.Cache.Driver == "redis" {
			probeFields["redis_addr"] = primaryRedisAddr(cfg.Redis)
		}
	}
	s.add("probe", probeFields)

	transferFields := map[string]any{"driver": cfg.Transfer.Driver}
	downstream := cfg.Transfer.Driver
	if cfg.Transfer.Driver == "queue" {
		downstream = cfg.Transfer.Queue.Downstream
		transferFields["queue"] = cfg.Transfer.Queue.Driver
		transferFields["downstream"] = downstream
		transferFields["workers"] = cfg.Transfer.Queue.Workers
		if cfg.Transfer.Queue.Driver == "redis" {
			transferFields["stream"] = cfg.Transfer.Queue.Stream
			transferFields["group"] = cfg.Transfer.Queue.Group
			transferFields["redis_addrs"] = redisAddrs(cfg.Redis)
			if cfg.Redis.MasterName != "" {
				transferFields["master_name"] = cfg.Redis.MasterName
			}
		}
	}
	switch downstream {
	case "simulated":
		transferFields["simulated_delay"] = cfg.Transfer.SimulatedDelay.String()
	case "http":
		transferFields["pipeline_url"] = redactURL(cfg.Transfer.Pipeline.URL)
		transferFields["pipeline_token"] = cfg.Transfer.Pipeline.Token != ""
		transferFields["attempts"] = cfg.Transfer.Pipeline.Attempts
	}
	s.add("transfer", transferFields)

	ledgerFields := map[string]any{"driver": cfg.Transfer.Ledger.Driver}
	if cfg.Transfer.Ledger.Driver == "postgres" {
		ledgerFields["dsn"] = redactDSN(cfg.Transfer.Ledger.PostgresDSN)
	} else {
		ledgerFields["capacity"] = cfg.Transfer.Ledger.Capacity
	}
	s.add("transfer_ledger", ledgerFields)

	rateFields := map[string]any{
		"global_rps":   cfg.RateLimit.GlobalRPS,
		"upload_limit": cfg.RateLimit.UploadLimit,
	}
	if cfg.RateLimit.UploadLimit > 0 {
		rateFields["driver"] = cfg.RateLimit.Driver
		rateFields["upload_window"] = cfg.RateLimit.UploadWindow.String()
		if cfg.RateLimit.Driver == "redis" {
			rateFields["redis_addr"] = primaryRedisAddr(cfg.Redis)
		}
	}
	s.add("rate_limit", rateFields)

	return s
}

func (s *startupSummary) add(key string, fields map[string]any) {
	s.sections = append(s.sections, summarySection{key: key, fields: fields})
}

// LogArgs flattens the summary into slog key/value pairs.
func (s startupSummary) LogArgs() []any {
	args := make([]any, 0, len(s.sections)*2)
	for _, section := range s.sections {
		args = append(args, section.key, section.fields)
	}
	return args
}

func redisAddrs(cfg config.RedisConfig) string {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	if cfg.Addr != "" {
		addrs = append(addrs, cfg.Addr)
	}
	addrs = append(addrs, cfg.Addrs...)
	return strings.Join(addrs, ",")
}

// redactURL hides the password in raw's userinfo.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}

// redactDSN handles both URL and key=value Postgres connection strings.
func redactDSN(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		return redactURL(raw)
	}
	fields := strings.Fields(raw)
	for i, field := range fields {
		if key, _, ok := strings.Cut(field, "="); ok && strings.EqualFold(key, "password") {
			fields[i] = key + "=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}
