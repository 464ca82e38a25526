package transfer

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisQueueConfig configures the Redis Streams job queue.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	Group        string
	MaxLen       int64
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	Buffer       int
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

// RedisQueue stores jobs in a Redis stream consumed through a consumer group,
// so replicas share the work and every job is acknowledged once.
type RedisQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	maxLen       int64
	blockTimeout time.Duration
	logger       *slog.Logger
	buffer       int

	groupMu    sync.Mutex
	groupReady atomic.Bool
}

// NewRedisQueue connects to Redis and makes sure the consumer group exists.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "videovault:transfers"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "transfer-workers"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 32
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	queue := &RedisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		maxLen:       cfg.MaxLen,
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
		buffer:       cfg.Buffer,
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	if queue.blockTimeout <= 0 {
		queue.blockTimeout = 2 * time.Second
	}
	if err := queue.ensureGroup(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return queue, nil
}

// Close releases the Redis connections.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Publish(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}
	return q.client.XAdd(ctx, args).Err()
}

func (q *RedisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.ensureGroup(ctx); err != nil {
		q.logger.Error("redis queue group setup failed", "error", err)
	}
	sub := &redisSubscription{
		queue:    q,
		consumer: randomConsumerID(),
		cancel:   cancel,
		ch:       make(chan Job),
	}
	go sub.run(ctx)
	return sub
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	if q.groupReady.Load() {
		return nil
	}
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady.Load() {
		return nil
	}
	if err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err(); err != nil && !isBusyGroup(err) {
		return err
	}
	q.groupReady.Store(true)
	return nil
}

type redisSubscription struct {
	queue    *RedisQueue
	consumer string
	cancel   context.CancelFunc
	ch       chan Job
}

func (s *redisSubscription) Jobs() <-chan Job {
	return s.ch
}

// Close stops reading. The job channel is closed once the reader exits.
func (s *redisSubscription) Close() {
	s.cancel()
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	logger := s.queue.logger
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.queue.ensureGroup(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("redis queue group ensure failed", "error", err)
			s.pause(ctx)
			continue
		}
		messages, err := s.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("redis queue read failed", "error", err)
			s.pause(ctx)
			continue
		}
		for i, msg := range messages {
			payload := extractPayload(msg.Values)
			var job Job
			if err := json.Unmarshal(payload, &job); err != nil || job.ID == "" {
				logger.Error("redis queue decode failed", "id", msg.ID, "error", err)
				s.ack(ctx, msg.ID)
				continue
			}
			select {
			case s.ch <- job:
				s.ack(ctx, msg.ID)
			case <-ctx.Done():
				for _, rest := range messages[i:] {
					s.requeue(rest)
				}
				return
			}
		}
	}
}

func (s *redisSubscription) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
	}
}

func (s *redisSubscription) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.queue.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.queue.group,
		Consumer: s.consumer,
		Streams:  []string{s.queue.stream, ">"},
		Count:    int64(s.queue.buffer),
		Block:    s.queue.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return messages, nil
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := s.queue.client.XAck(ctx, s.queue.stream, s.queue.group, id).Err(); err != nil {
		s.queue.logger.Warn("redis ack failed", "id", id, "error", err)
	}
}

// requeue acknowledges a delivered but unconsumed message and appends it
// again so another consumer picks it up.
func (s *redisSubscription) requeue(msg redis.XMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	s.ack(ctx, msg.ID)
	payload := extractPayload(msg.Values)
	if len(payload) == 0 {
		return
	}
	err := s.queue.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.queue.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		s.queue.logger.Warn("redis requeue failed", "id", msg.ID, "error", err)
	}
}

func extractPayload(values map[string]interface{}) []byte {
	for key, value := range values {
		if !strings.EqualFold(key, "payload") {
			continue
		}
		switch v := value.(type) {
		case string:
			return []byte(v)
		case []byte:
			return v
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify, MinVersion: tls.VersionTLS12}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
