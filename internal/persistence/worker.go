package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

// batchWriter is the part of EventLogWriter the worker needs; tests swap it.
type batchWriter interface {
	WriteBatch(ctx context.Context, events []EventRow) error
}

type txBatchWriter struct {
	db     *sql.DB
	writer *EventLogWriter
}

// WriteBatch writes events in a single transaction.
func (w *txBatchWriter) WriteBatch(ctx context.Context, events []EventRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx_begin: %w", err)
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		return fmt.Errorf("write_events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx_commit: %w", err)
	}
	return nil
}

// JournalWorker receives committed ledger changes and batch-writes them to
// the balance_events table. Enqueue never blocks the ledger: when the buffer
// is full the change is dropped and counted, since the journal is an audit
// trail and not the source of truth.
type JournalWorker struct {
	writer       batchWriter
	input        chan EventRow
	instanceID   string
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// WorkerConfig configures a JournalWorker.
type WorkerConfig struct {
	InstanceID   string
	BatchSize    int
	BufferSize   int
	FlushTimeout time.Duration
}

func NewJournalWorker(db *sql.DB, cfg WorkerConfig, logger zerolog.Logger, metrics *observability.Metrics) *JournalWorker {
	return newJournalWorker(&txBatchWriter{db: db, writer: NewEventLogWriter(db)}, cfg, logger, metrics)
}

func newJournalWorker(w batchWriter, cfg WorkerConfig, logger zerolog.Logger, metrics *observability.Metrics) *JournalWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = time.Second
	}
	return &JournalWorker{
		writer:       w,
		input:        make(chan EventRow, cfg.BufferSize),
		instanceID:   cfg.InstanceID,
		batchSize:    cfg.BatchSize,
		flushTimeout: cfg.FlushTimeout,
		maxBackoff:   30 * time.Second,
		logger:       logger,
		metrics:      metrics,
	}
}

// Enqueue is a ledger subscriber.
func (jw *JournalWorker) Enqueue(c ledger.Change) {
	if c.State.UserID == "" {
		return
	}
	select {
	case jw.input <- EventRowFromChange(jw.instanceID, c):
	default:
		if jw.metrics != nil {
			jw.metrics.PersistDrops.Inc()
		}
		jw.logger.Warn().Int64("seq", c.Seq).Str("kind", c.Kind.String()).Msg("journal buffer full, change dropped")
	}
}

// Run batches incoming rows and flushes when the batch is full or the flush
// timeout expires. Blocks until ctx is cancelled.
func (jw *JournalWorker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, jw.batchSize)

	timer := time.NewTimer(jw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// drain what is already buffered, then flush once more
			for {
				select {
				case row := <-jw.input:
					batch = append(batch, row)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				if err := jw.flush(context.Background(), batch); err != nil {
					jw.logger.Error().Err(err).Int("events", len(batch)).Msg("final journal flush failed")
				}
			}
			return ctx.Err()

		case row := <-jw.input:
			batch = append(batch, row)
			if len(batch) >= jw.batchSize {
				if err := jw.flushWithRetry(ctx, batch); err != nil {
					jw.logger.Error().Err(err).Msg("journal batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(jw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := jw.flushWithRetry(ctx, batch); err != nil {
					jw.logger.Error().Err(err).Msg("journal timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(jw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff (100ms doubling to
// maxBackoff) until the write succeeds or ctx is cancelled.
func (jw *JournalWorker) flushWithRetry(ctx context.Context, events []EventRow) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			jw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("journal retry")
			select {
			case <-ctx.Done():
				if err := jw.flush(context.Background(), events); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > jw.maxBackoff {
				backoff = jw.maxBackoff
			}
		}

		err := jw.flush(ctx, events)
		if err == nil {
			if attempt > 0 {
				jw.logger.Info().Int("retries", attempt).Msg("journal flush succeeded")
			}
			return nil
		}

		jw.logger.Warn().Err(err).Msg("journal flush failed")
		if jw.metrics != nil {
			jw.metrics.PersistRetry.Inc()
		}
	}
}

func (jw *JournalWorker) flush(ctx context.Context, events []EventRow) error {
	start := time.Now()

	if err := jw.writer.WriteBatch(ctx, events); err != nil {
		if jw.metrics != nil {
			jw.metrics.PersistErrors.WithLabelValues("write_batch").Inc()
		}
		return err
	}

	if jw.metrics != nil {
		jw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		jw.metrics.PersistBatchSize.Observe(float64(len(events)))
		jw.metrics.PersistEventsWritten.Add(float64(len(events)))
		jw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}
	return nil
}
