package transfer

import (
	"context"
	"sync"
	"time"
)

// DefaultLedgerCapacity bounds the in-memory ledger.
const DefaultLedgerCapacity = 256

// Record is the ledger entry for one hand-off. A queued hand-off is recorded
// twice under the same ID: once when queued and once when a worker finishes.
type Record struct {
	ID          string     `json:"id"`
	AccessPath  string     `json:"videoPath"`
	Name        string     `json:"name"`
	Size        int64      `json:"size"`
	Driver      string     `json:"driver"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func newRecord(job Job, driver string) Record {
	return Record{
		ID:          job.ID,
		AccessPath:  job.AccessPath,
		Name:        job.Name,
		Size:        job.Size,
		Driver:      driver,
		RequestedAt: job.RequestedAt,
	}
}

// Ledger persists transfer records. Record upserts by ID, except that a
// completed record is never replaced by one still in flight; the queue
// worker may finish before the queued entry is written.
type Ledger interface {
	Record(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// MemoryLedger keeps the most recent records in process memory.
type MemoryLedger struct {
	mu       sync.Mutex
	capacity int
	records  []Record
}

// NewMemoryLedger returns a ledger that retains at most capacity records.
func NewMemoryLedger(capacity int) *MemoryLedger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return &MemoryLedger{capacity: capacity}
}

func (l *MemoryLedger) Record(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		if l.records[i].ID == record.ID {
			if l.records[i].CompletedAt == nil || record.CompletedAt != nil {
				l.records[i] = record
			}
			return nil
		}
	}
	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
	}
	l.records = append(l.records, record)
	return nil
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything retained.
func (l *MemoryLedger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]Record, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}
