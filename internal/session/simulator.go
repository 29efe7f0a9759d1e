// Package session produces simulated earning sessions for the bound user.
// Each session becomes a BalanceDelta on the event bus; the ledger applies
// the daily cap, so the simulator only skips sessions it knows are futile.
package session

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/event"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

// Ledger is the read side the simulator consults.
type Ledger interface {
	Snapshot() ledger.State
}

// Sink receives the produced deltas; *event.Bus in production.
type Sink interface {
	Publish(e event.Event)
}

type Config struct {
	Interval time.Duration
	// Jitter is the maximum random delay added to each interval.
	Jitter  time.Duration
	MinGain decimal.Decimal
	MaxGain decimal.Decimal
	Seed    int64
}

// Result of one simulated session.
const (
	ResultPublished = "published"
	ResultUnbound   = "unbound"
	ResultNotReady  = "not_ready"
	ResultLimit     = "limit_reached"
)

type Simulator struct {
	cfg     Config
	ledger  Ledger
	sink    Sink
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(cfg Config, l Ledger, sink Sink, logger zerolog.Logger, metrics *observability.Metrics) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MinGain.Sign() <= 0 {
		cfg.MinGain = decimal.RequireFromString("0.01")
	}
	if cfg.MaxGain.LessThan(cfg.MinGain) {
		cfg.MaxGain = cfg.MinGain
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:     cfg,
		ledger:  l,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

// RunOnce simulates one session and reports what happened.
func (s *Simulator) RunOnce() string {
	snap := s.ledger.Snapshot()
	result := ResultPublished
	switch {
	case !snap.Bound():
		result = ResultUnbound
	case !snap.Ready:
		result = ResultNotReady
	case !snap.Remaining().IsPositive():
		result = ResultLimit
	}
	s.metrics.SessionSimulated(result)
	if result != ResultPublished {
		return result
	}

	gain := s.nextGain()
	delta := &event.BalanceDelta{ID: uuid.NewString(), UserID: snap.UserID, Amount: gain}
	s.logger.Debug().Str("user_id", snap.UserID).Str("delta_id", delta.ID).Str("amount", gain.String()).Msg("session simulated")
	s.sink.Publish(delta)
	return result
}

// nextGain draws a gain in [MinGain, MaxGain], rounded to cents.
func (s *Simulator) nextGain() decimal.Decimal {
	s.mu.Lock()
	f := s.rng.Float64()
	s.mu.Unlock()

	span := s.cfg.MaxGain.Sub(s.cfg.MinGain)
	gain := s.cfg.MinGain.Add(span.Mul(decimal.NewFromFloat(f))).Round(2)
	if gain.LessThan(s.cfg.MinGain) {
		return s.cfg.MinGain
	}
	return gain
}

func (s *Simulator) nextWait() time.Duration {
	if s.cfg.Jitter <= 0 {
		return s.cfg.Interval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval + time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
}

// Run simulates sessions until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.RunOnce()
			timer.Reset(s.nextWait())
		}
	}
}
