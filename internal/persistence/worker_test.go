package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

type fakeBatchWriter struct {
	mu      sync.Mutex
	batches [][]EventRow
	fails   int
}

func (f *fakeBatchWriter) WriteBatch(_ context.Context, events []EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("connection reset")
	}
	cp := make([]EventRow, len(events))
	copy(cp, events)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeBatchWriter) rows() []EventRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EventRow
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func change(seq int64, kind ledger.ChangeKind) ledger.Change {
	return ledger.Change{
		Seq:    seq,
		Kind:   kind,
		Amount: decimal.RequireFromString("0.1"),
		At:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		State: ledger.State{
			UserID:  "alice",
			Session: 1,
			Balance: decimal.RequireFromString("1.1"),
		},
	}
}

// ============================================================================
// Test: EventRowFromChange
// ============================================================================

func TestEventRowFromChange_StableID(t *testing.T) {
	c := change(7, ledger.ChangeDelta)
	c.DeltaID = "sess-7"

	a := EventRowFromChange("inst-1", c)
	b := EventRowFromChange("inst-1", c)
	other := EventRowFromChange("inst-2", c)

	assert.Equal(t, a.EventID, b.EventID, "retries must map to the same row")
	assert.NotEqual(t, a.EventID, other.EventID)
	assert.Equal(t, "delta", a.Kind)
	require.NotNil(t, a.DeltaID)
	assert.Equal(t, "sess-7", *a.DeltaID)
	assert.Nil(t, a.Source)
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("1.1")))
}

// ============================================================================
// Test: JournalWorker
// ============================================================================

func TestJournalWorker_FlushesOnBatchSize(t *testing.T) {
	fw := &fakeBatchWriter{}
	jw := newJournalWorker(fw, WorkerConfig{InstanceID: "i", BatchSize: 2, FlushTimeout: time.Hour}, zerolog.Nop(), observability.NewMetrics(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		jw.Run(ctx)
		close(done)
	}()

	jw.Enqueue(change(1, ledger.ChangeDelta))
	jw.Enqueue(change(2, ledger.ChangeAbsolute))

	require.Eventually(t, func() bool { return len(fw.rows()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestJournalWorker_FlushesRemainderOnShutdown(t *testing.T) {
	fw := &fakeBatchWriter{}
	jw := newJournalWorker(fw, WorkerConfig{InstanceID: "i", BatchSize: 100, FlushTimeout: time.Hour}, zerolog.Nop(), nil)

	jw.Enqueue(change(1, ledger.ChangeDelta))
	jw.Enqueue(change(2, ledger.ChangeReset))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := jw.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, fw.rows(), 2)
}

func TestJournalWorker_RetriesFailedFlush(t *testing.T) {
	fw := &fakeBatchWriter{fails: 2}
	jw := newJournalWorker(fw, WorkerConfig{InstanceID: "i", BatchSize: 1, FlushTimeout: time.Hour}, zerolog.Nop(), nil)
	jw.maxBackoff = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jw.Run(ctx)

	jw.Enqueue(change(1, ledger.ChangeDelta))
	require.Eventually(t, func() bool { return len(fw.rows()) == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestJournalWorker_SkipsDetachedAndDropsWhenFull(t *testing.T) {
	fw := &fakeBatchWriter{}
	metrics := observability.NewMetrics(nil)
	jw := newJournalWorker(fw, WorkerConfig{InstanceID: "i", BufferSize: 1}, zerolog.Nop(), metrics)

	detached := change(1, ledger.ChangeBind)
	detached.State.UserID = ""
	jw.Enqueue(detached)
	assert.Len(t, jw.input, 0)

	jw.Enqueue(change(2, ledger.ChangeDelta))
	jw.Enqueue(change(3, ledger.ChangeDelta))
	assert.Len(t, jw.input, 1, "second change is dropped, not blocked on")
}
