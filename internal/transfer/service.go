package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"videovault/internal/observability/logging"
	"videovault/internal/observability/metrics"
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Driver      string
	Transporter AssetTransporter
	Ledger      Ledger
	Locator     Locator
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

// Service validates transfer requests, hands them to the configured driver
// and records the outcome.
type Service struct {
	driver      string
	transporter AssetTransporter
	ledger      Ledger
	locator     Locator
	logger      *slog.Logger
	metrics     *metrics.Recorder
	now         func() time.Time
}

// NewService returns a Service. A missing ledger selects a MemoryLedger.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Transporter == nil {
		return nil, errors.New("transfer transporter is required")
	}
	if cfg.Locator == nil {
		return nil, errors.New("transfer locator is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "custom"
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		driver:      driver,
		transporter: cfg.Transporter,
		ledger:      ledger,
		locator:     cfg.Locator,
		logger:      logger,
		metrics:     recorder,
		now:         now,
	}, nil
}

// Driver names the configured transport.
func (s *Service) Driver() string {
	return s.driver
}

// Transfer hands the asset at accessPath to the driver. Invalid references
// fail with ErrInvalidReference and are not recorded; driver failures are
// recorded and returned wrapped in ErrTransferFailed.
func (s *Service) Transfer(ctx context.Context, accessPath string) (Record, error) {
	ref, err := ParseReference(s.locator, accessPath)
	if err != nil {
		s.metrics.ObserveTransfer(s.driver, StatusRejected)
		return Record{}, err
	}
	ctx = logging.ContextWithAsset(ctx, ref.Name)
	logger := logging.WithContext(ctx, s.logger)

	job := NewJob(ref, s.now())
	record := newRecord(job, s.driver)
	result, err := s.transporter.Transfer(ctx, job)
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
		s.complete(&record)
		s.save(ctx, record)
		s.metrics.ObserveTransfer(s.driver, StatusFailed)
		logger.Error("transfer failed", "transfer_id", job.ID, "driver", s.driver, "error", err)
		return record, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	record.Status = result.Status
	if record.Status != StatusQueued {
		s.complete(&record)
	}
	s.save(ctx, record)
	s.metrics.ObserveTransfer(s.driver, record.Status)
	logger.Info("transfer handed off", "transfer_id", job.ID, "driver", s.driver, "status", record.Status)
	return record, nil
}

// Recent lists the newest ledger records first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.ledger.Recent(ctx, limit)
}

func (s *Service) complete(record *Record) {
	ts := s.now().UTC()
	record.CompletedAt = &ts
}

func (s *Service) save(ctx context.Context, record Record) {
	if err := s.ledger.Record(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("transfer ledger write failed", "transfer_id", record.ID, "error", err)
	}
}
