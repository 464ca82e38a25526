//go:build postgres

package transfer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openPostgresLedgerForTest(t *testing.T) *PostgresLedger {
	t.Helper()
	dsn := os.Getenv("VIDEOVAULT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VIDEOVAULT_TEST_POSTGRES_DSN not set")
	}
	ledger, err := NewPostgresLedger(context.Background(), PostgresConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open postgres ledger: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = ledger.pool.Exec(ctx, `DELETE FROM transfers`)
		_ = ledger.Close(ctx)
	})
	return ledger
}

func TestPostgresLedgerRoundTrip(t *testing.T) {
	ledger := openPostgresLedgerForTest(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	older := Record{ID: uuid.NewString(), AccessPath: "/videos/a.mp4", Name: "a.mp4", Size: 1, Driver: "queue", Status: StatusQueued, RequestedAt: base}
	newer := Record{ID: uuid.NewString(), AccessPath: "/videos/b.mp4", Name: "b.mp4", Size: 2, Driver: "simulated", Status: StatusSimulated, RequestedAt: base.Add(time.Second)}
	for _, record := range []Record{older, newer} {
		if err := ledger.Record(ctx, record); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	done := base.Add(2 * time.Second)
	older.Status = StatusAccepted
	older.CompletedAt = &done
	if err := ledger.Record(ctx, older); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	records, err := ledger.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
	if records[0].ID != newer.ID || records[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", records)
	}
	if records[1].Status != StatusAccepted || records[1].CompletedAt == nil || !records[1].CompletedAt.Equal(done) {
		t.Fatalf("expected upserted status, got %+v", records[1])
	}
}
