package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// EnvPrefix is the prefix shared by every environment override.
const EnvPrefix = "VIDEOVAULT_"

// overrides lists the settings that can be supplied through the environment.
// Empty or zero values leave the loaded configuration untouched, which is why
// booleans and durations are read as strings.
type overrides struct {
	Addr                 string  `env:"VIDEOVAULT_ADDR"`
	TLSCert              string  `env:"VIDEOVAULT_TLS_CERT"`
	TLSKey               string  `env:"VIDEOVAULT_TLS_KEY"`
	ShutdownTimeout      string  `env:"VIDEOVAULT_SHUTDOWN_TIMEOUT"`
	MaxConcurrentUploads int     `env:"VIDEOVAULT_MAX_CONCURRENT_UPLOADS"`
	CORSOrigins          string  `env:"VIDEOVAULT_CORS_ORIGINS"`
	StorageRoot          string  `env:"VIDEOVAULT_STORAGE_ROOT"`
	MaxUploadBytes       int64   `env:"VIDEOVAULT_MAX_UPLOAD_BYTES"`
	ProbeDriver          string  `env:"VIDEOVAULT_PROBE_DRIVER"`
	FFProbePath          string  `env:"VIDEOVAULT_FFPROBE_PATH"`
	ProbeTimeout         string  `env:"VIDEOVAULT_PROBE_TIMEOUT"`
	ProbeConcurrency     int     `env:"VIDEOVAULT_PROBE_CONCURRENCY"`
	ProbeWatch           string  `env:"VIDEOVAULT_PROBE_WATCH"`
	CacheDriver          string  `env:"VIDEOVAULT_CACHE_DRIVER"`
	CacheTTL             string  `env:"VIDEOVAULT_CACHE_TTL"`
	RedisAddr            string  `env:"VIDEOVAULT_REDIS_ADDR"`
	RedisAddrs           string  `env:"VIDEOVAULT_REDIS_ADDRS"`
	RedisUsername        string  `env:"VIDEOVAULT_REDIS_USERNAME"`
	RedisPassword        string  `env:"VIDEOVAULT_REDIS_PASSWORD"`
	RedisMasterName      string  `env:"VIDEOVAULT_REDIS_MASTER_NAME"`
	TransferDriver       string  `env:"VIDEOVAULT_TRANSFER_DRIVER"`
	TransferDelay        string  `env:"VIDEOVAULT_TRANSFER_DELAY"`
	PipelineURL          string  `env:"VIDEOVAULT_PIPELINE_URL"`
	PipelineToken        string  `env:"VIDEOVAULT_PIPELINE_TOKEN"`
	QueueDriver          string  `env:"VIDEOVAULT_QUEUE_DRIVER"`
	QueueDownstream      string  `env:"VIDEOVAULT_QUEUE_DOWNSTREAM"`
	LedgerDriver         string  `env:"VIDEOVAULT_LEDGER_DRIVER"`
	PostgresDSN          string  `env:"VIDEOVAULT_POSTGRES_DSN"`
	LogLevel             string  `env:"VIDEOVAULT_LOG_LEVEL"`
	LogFormat            string  `env:"VIDEOVAULT_LOG_FORMAT"`
	LogFile              string  `env:"VIDEOVAULT_LOG_FILE"`
	RateGlobalRPS        float64 `env:"VIDEOVAULT_RATE_GLOBAL_RPS"`
	RateGlobalBurst      int     `env:"VIDEOVAULT_RATE_GLOBAL_BURST"`
	RateUploadLimit      int     `env:"VIDEOVAULT_RATE_UPLOAD_LIMIT"`
	RateUploadWindow     string  `env:"VIDEOVAULT_RATE_UPLOAD_WINDOW"`
	RateDriver           string  `env:"VIDEOVAULT_RATE_DRIVER"`
}

// ApplyEnv overlays VIDEOVAULT_* variables from environ (KEY=value pairs, as
// returned by os.Environ) onto cfg.
func ApplyEnv(cfg *Config, environ []string) error {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	var ov overrides
	if err := env.Unmarshal(es, &ov); err != nil {
		return fmt.Errorf("decode environment: %w", err)
	}

	setString(&cfg.Server.Addr, ov.Addr)
	setString(&cfg.Server.TLSCert, ov.TLSCert)
	setString(&cfg.Server.TLSKey, ov.TLSKey)
	setInt(&cfg.Server.MaxConcurrentUploads, ov.MaxConcurrentUploads)
	if list := splitList(ov.CORSOrigins); len(list) > 0 {
		cfg.Server.CORSOrigins = list
	}
	setString(&cfg.Storage.Root, ov.StorageRoot)
	if ov.MaxUploadBytes > 0 {
		cfg.Storage.MaxUploadBytes = ov.MaxUploadBytes
	}
	setString(&cfg.Probe.Driver, ov.ProbeDriver)
	setString(&cfg.Probe.Binary, ov.FFProbePath)
	setInt(&cfg.Probe.Concurrency, ov.ProbeConcurrency)
	setString(&cfg.Cache.Driver, ov.CacheDriver)
	setString(&cfg.Redis.Addr, ov.RedisAddr)
	if list := splitList(ov.RedisAddrs); len(list) > 0 {
		cfg.Redis.Addrs = list
	}
	setString(&cfg.Redis.Username, ov.RedisUsername)
	setString(&cfg.Redis.Password, ov.RedisPassword)
	setString(&cfg.Redis.MasterName, ov.RedisMasterName)
	setString(&cfg.Transfer.Driver, ov.TransferDriver)
	setString(&cfg.Transfer.Pipeline.URL, ov.PipelineURL)
	setString(&cfg.Transfer.Pipeline.Token, ov.PipelineToken)
	setString(&cfg.Transfer.Queue.Driver, ov.QueueDriver)
	setString(&cfg.Transfer.Queue.Downstream, ov.QueueDownstream)
	setString(&cfg.Transfer.Ledger.Driver, ov.LedgerDriver)
	setString(&cfg.Transfer.Ledger.PostgresDSN, ov.PostgresDSN)
	setString(&cfg.Logging.Level, ov.LogLevel)
	setString(&cfg.Logging.Format, ov.LogFormat)
	setString(&cfg.Logging.File, ov.LogFile)
	if ov.RateGlobalRPS > 0 {
		cfg.RateLimit.GlobalRPS = ov.RateGlobalRPS
	}
	setInt(&cfg.RateLimit.GlobalBurst, ov.RateGlobalBurst)
	setInt(&cfg.RateLimit.UploadLimit, ov.RateUploadLimit)
	setString(&cfg.RateLimit.Driver, ov.RateDriver)

	durations := []struct {
		name  string
		value string
		dest  *Duration
	}{
		{"VIDEOVAULT_SHUTDOWN_TIMEOUT", ov.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"VIDEOVAULT_PROBE_TIMEOUT", ov.ProbeTimeout, &cfg.Probe.Timeout},
		{"VIDEOVAULT_CACHE_TTL", ov.CacheTTL, &cfg.Cache.TTL},
		{"VIDEOVAULT_TRANSFER_DELAY", ov.TransferDelay, &cfg.Transfer.SimulatedDelay},
		{"VIDEOVAULT_RATE_UPLOAD_WINDOW", ov.RateUploadWindow, &cfg.RateLimit.UploadWindow},
	}
	for _, d := range durations {
		value := strings.TrimSpace(d.value)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dest = Duration(parsed)
	}
	if value := strings.TrimSpace(ov.ProbeWatch); value != "" {
		watch, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid VIDEOVAULT_PROBE_WATCH: %w", err)
		}
		cfg.Probe.Watch = watch
	}
	return nil
}

func setString(dest *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dest = value
	}
}

func setInt(dest *int, value int) {
	if value > 0 {
		*dest = value
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
