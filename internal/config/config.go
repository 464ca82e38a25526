// Package config loads the service configuration from a JSON or YAML file,
// environment variables and defaults.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"videovault/internal/observability/logging"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Probe     ProbeConfig     `json:"probe" yaml:"probe"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Transfer  TransferConfig  `json:"transfer" yaml:"transfer"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
}

type ServerConfig struct {
	Addr                 string   `json:"addr" yaml:"addr"`
	TLSCert              string   `json:"tlsCert" yaml:"tlsCert"`
	TLSKey               string   `json:"tlsKey" yaml:"tlsKey"`
	ReadHeaderTimeout    Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
	ReadTimeout          Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout         Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout          Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout      Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	MaxConcurrentUploads int      `json:"maxConcurrentUploads" yaml:"maxConcurrentUploads"`
	CORSOrigins          []string `json:"corsOrigins" yaml:"corsOrigins"`
}

type StorageConfig struct {
	Root           string `json:"root" yaml:"root"`
	MaxUploadBytes int64  `json:"maxUploadBytes" yaml:"maxUploadBytes"`
}

type ProbeConfig struct {
	// Driver is "ffprobe" or "none".
	Driver      string   `json:"driver" yaml:"driver"`
	Binary      string   `json:"binary" yaml:"binary"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	Concurrency int      `json:"concurrency" yaml:"concurrency"`
	Watch       bool     `json:"watch" yaml:"watch"`
	WarmWorkers int      `json:"warmWorkers" yaml:"warmWorkers"`
	WarmQueue   int      `json:"warmQueue" yaml:"warmQueue"`
}

type CacheConfig struct {
	// Driver is "memory", "redis" or "none".
	Driver string   `json:"driver" yaml:"driver"`
	TTL    Duration `json:"ttl" yaml:"ttl"`
	Prefix string   `json:"prefix" yaml:"prefix"`
}

// RedisConfig is shared by every component whose driver is "redis".
type RedisConfig struct {
	Addr       string         `json:"addr" yaml:"addr"`
	Addrs      []string       `json:"addrs" yaml:"addrs"`
	Username   string         `json:"username" yaml:"username"`
	Password   string         `json:"password" yaml:"password"`
	DB         int            `json:"db" yaml:"db"`
	MasterName string         `json:"masterName" yaml:"masterName"`
	PoolSize   int            `json:"poolSize" yaml:"poolSize"`
	Timeout    Duration       `json:"timeout" yaml:"timeout"`
	TLS        RedisTLSConfig `json:"tls" yaml:"tls"`
}

type RedisTLSConfig struct {
	CAFile             string `json:"caFile" yaml:"caFile"`
	CertFile           string `json:"certFile" yaml:"certFile"`
	KeyFile            string `json:"keyFile" yaml:"keyFile"`
	ServerName         string `json:"serverName" yaml:"serverName"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}

type TransferConfig struct {
	// Driver is "simulated", "http" or "queue".
	Driver         string         `json:"driver" yaml:"driver"`
	SimulatedDelay Duration       `json:"simulatedDelay" yaml:"simulatedDelay"`
	Pipeline       PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Queue          QueueConfig    `json:"queue" yaml:"queue"`
	Ledger         LedgerConfig   `json:"ledger" yaml:"ledger"`
}

type PipelineConfig struct {
	URL           string   `json:"url" yaml:"url"`
	Token         string   `json:"token" yaml:"token"`
	Attempts      int      `json:"attempts" yaml:"attempts"`
	RetryInterval Duration `json:"retryInterval" yaml:"retryInterval"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
}

type QueueConfig struct {
	// Driver is "memory" or "redis".
	Driver string `json:"driver" yaml:"driver"`
	// Downstream is the driver workers forward to: "simulated" or "http".
	Downstream string   `json:"downstream" yaml:"downstream"`
	Stream     string   `json:"stream" yaml:"stream"`
	Group      string   `json:"group" yaml:"group"`
	Buffer     int      `json:"buffer" yaml:"buffer"`
	MaxLen     int64    `json:"maxLen" yaml:"maxLen"`
	Workers    int      `json:"workers" yaml:"workers"`
	JobTimeout Duration `json:"jobTimeout" yaml:"jobTimeout"`
}

type LedgerConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `json:"driver" yaml:"driver"`
	Capacity    int    `json:"capacity" yaml:"capacity"`
	PostgresDSN string `json:"postgresDsn" yaml:"postgresDsn"`
	MaxConns    int32  `json:"maxConns" yaml:"maxConns"`
	MinConns    int32  `json:"minConns" yaml:"minConns"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file" yaml:"file"`
}

type RateLimitConfig struct {
	GlobalRPS    float64  `json:"globalRps" yaml:"globalRps"`
	GlobalBurst  int      `json:"globalBurst" yaml:"globalBurst"`
	UploadLimit  int      `json:"uploadLimit" yaml:"uploadLimit"`
	UploadWindow Duration `json:"uploadWindow" yaml:"uploadWindow"`
	// Driver selects the upload window store: "memory" or "redis".
	Driver                string   `json:"driver" yaml:"driver"`
	TrustForwardedHeaders bool     `json:"trustForwardedHeaders" yaml:"trustForwardedHeaders"`
	TrustedProxies        []string `json:"trustedProxies" yaml:"trustedProxies"`
}

// Default returns the built-in configuration. Timeouts that would cut off
// multi-gigabyte transfers are left unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                 ":3000",
			ReadHeaderTimeout:    Duration(10 * time.Second),
			IdleTimeout:          Duration(120 * time.Second),
			ShutdownTimeout:      Duration(15 * time.Second),
			MaxConcurrentUploads: 8,
			CORSOrigins:          []string{"*"},
		},
		Storage: StorageConfig{
			Root:           filepath.Join(os.TempDir(), "videos"),
			MaxUploadBytes: 3 << 30,
		},
		Probe: ProbeConfig{
			Driver:      "ffprobe",
			Binary:      "ffprobe",
			Timeout:     Duration(10 * time.Second),
			Concurrency: 4,
			Watch:       true,
			WarmWorkers: 2,
			WarmQueue:   64,
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    Duration(24 * time.Hour),
			Prefix: "videovault:probe:",
		},
		Redis: RedisConfig{
			Timeout: Duration(2 * time.Second),
		},
		Transfer: TransferConfig{
			Driver:         "simulated",
			SimulatedDelay: Duration(2 * time.Second),
			Pipeline: PipelineConfig{
				Attempts:      3,
				RetryInterval: Duration(time.Second),
				Timeout:       Duration(10 * time.Second),
			},
			Queue: QueueConfig{
				Driver:     "memory",
				Downstream: "simulated",
				Stream:     "videovault:transfers",
				Group:      "transfer-workers",
				Buffer:     64,
				Workers:    2,
				JobTimeout: Duration(time.Minute),
			},
			Ledger: LedgerConfig{
				Driver:   "memory",
				Capacity: 256,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			UploadWindow: Duration(time.Minute),
			Driver:       "memory",
		},
	}
}

// Load reads path over the defaults and writes the merged document back so
// keys added in newer versions appear in the file. A missing file is created
// with the defaults. A file that does not decode is an error and is left
// untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := write(path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := decode(path, data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := write(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decode(path string, data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Marshal renders cfg in the format implied by path's extension.
func Marshal(path string, cfg Config) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func write(path string, cfg Config) error {
	data, err := Marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tlsCert and server.tlsKey must be set together")
	}
	if c.Server.MaxConcurrentUploads <= 0 {
		return errors.New("server.maxConcurrentUploads must be positive")
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("storage.root is required")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return errors.New("storage.maxUploadBytes must be positive")
	}
	if err := oneOf("probe.driver", c.Probe.Driver, "ffprobe", "none"); err != nil {
		return err
	}
	if c.Probe.Concurrency < 0 || c.Probe.WarmWorkers < 0 || c.Probe.WarmQueue < 0 {
		return errors.New("probe concurrency settings must not be negative")
	}
	if err := oneOf("cache.driver", c.Cache.Driver, "memory", "redis", "none"); err != nil {
		return err
	}
	if err := oneOf("transfer.driver", c.Transfer.Driver, "simulated", "http", "queue"); err != nil {
		return err
	}
	if err := oneOf("transfer.queue.driver", c.Transfer.Queue.Driver, "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("transfer.queue.downstream", c.Transfer.Queue.Downstream, "simulated", "http"); err != nil {
		return err
	}
	if err := oneOf("transfer.ledger.driver", c.Transfer.Ledger.Driver, "memory", "postgres"); err != nil {
		return err
	}
	if err := oneOf("rateLimit.driver", c.RateLimit.Driver, "memory", "redis"); err != nil {
		return err
	}
	needsPipeline := c.Transfer.Driver == "http" || (c.Transfer.Driver == "queue" && c.Transfer.Queue.Downstream == "http")
	if needsPipeline && strings.TrimSpace(c.Transfer.Pipeline.URL) == "" {
		return errors.New("transfer.pipeline.url is required for the http driver")
	}
	if c.Transfer.Ledger.Driver == "postgres" && strings.TrimSpace(c.Transfer.Ledger.PostgresDSN) == "" {
		return errors.New("transfer.ledger.postgresDsn is required for the postgres ledger")
	}
	if c.UsesRedis() && strings.TrimSpace(c.Redis.Addr) == "" && len(c.Redis.Addrs) == 0 {
		return errors.New("redis.addr is required when a redis driver is selected")
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.UploadLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if err := oneOf("logging.format", strings.ToLower(c.Logging.Format), "", "json", "text"); err != nil {
		return err
	}
	return nil
}

// UsesRedis reports whether any component is configured with a Redis driver.
func (c Config) UsesRedis() bool {
	if c.Cache.Driver == "redis" || (c.RateLimit.Driver == "redis" && c.RateLimit.UploadLimit > 0) {
		return true
	}
	return c.Transfer.Driver == "queue" && c.Transfer.Queue.Driver == "redis"
}

func oneOf(field, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return fmt.Errorf("%s %q must be one of %s", field, value, strings.Join(allowed, ", "))
}
