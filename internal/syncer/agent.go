// Package syncer reconciles the ledger with the remote record store.
//
// Every attempt is bounded by a timeout, throttled unless forced, and
// coalesced with any attempt already in flight. Remote values only enter the
// ledger through its max-merge; local values reach the remote store through
// an optimistic version check, except for a pending reset or correction,
// which is written unconditionally and then acknowledged.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/ledger"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/remote"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

// ErrResetNotAcknowledged is returned by PushReset when the remote store did
// not take the reset. The reset stays pending locally and is retried on the
// next sync.
var ErrResetNotAcknowledged = errors.New("reset not acknowledged by remote store")

// Ledger is the ledger surface the agent drives.
type Ledger interface {
	Snapshot() ledger.State
	ApplyAbsoluteFor(session, epoch uint64, value decimal.Decimal, source ledger.Source) (decimal.Decimal, error)
	SetDailyGainsFor(session, epoch uint64, value decimal.Decimal) error
	SetTierFor(session uint64, t tier.Tier) error
	AckOverride(session, epoch uint64) error
	MarkSynced(session uint64, at time.Time) error
}

type Config struct {
	MinInterval  time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
	Backoff      []time.Duration
}

// Agent is the remote sync agent for one ledger.
type Agent struct {
	cfg     Config
	ledger  Ledger
	store   remote.Store
	windows *window.Manager
	logger  zerolog.Logger
	metrics *observability.Metrics
	onEvent func(Event)

	// attempt holds one token; every remote round trip takes it, so a
	// reset push never interleaves with a reconcile.
	attempt chan struct{}

	mu          sync.Mutex
	lastSuccess time.Time
	lastSession uint64

	nudge  chan struct{}
	manual chan struct{}
}

func New(cfg Config, l Ledger, store remote.Store, windows *window.Manager, logger zerolog.Logger, metrics *observability.Metrics, onEvent func(Event)) *Agent {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{2 * time.Second, 5 * time.Second, 15 * time.Second, 60 * time.Second}
	}
	if windows == nil {
		windows = window.NewManager(time.UTC, nil)
	}
	return &Agent{
		cfg:     cfg,
		ledger:  l,
		store:   store,
		windows: windows,
		logger:  logger,
		metrics: metrics,
		onEvent: onEvent,
		attempt: make(chan struct{}, 1),
		nudge:   make(chan struct{}, 1),
		manual:  make(chan struct{}, 1),
	}
}

// Nudge asks the loop for a throttled sync (visibility change, reconnect).
// Multiple nudges before the loop wakes collapse into one.
func (a *Agent) Nudge() {
	select {
	case a.nudge <- struct{}{}:
	default:
	}
}

// RequestSync asks the loop for a forced, user-initiated sync. Failures of
// user-initiated syncs are retried along the backoff slice.
func (a *Agent) RequestSync() {
	select {
	case a.manual <- struct{}{}:
	default:
	}
}

// Run drives periodic syncs until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	var retryTimer *time.Timer
	var retryC <-chan time.Time
	backoffIdx := 0

	retry := func(o Outcome) {
		if o.Kind != OutcomeFailed {
			if retryTimer != nil {
				retryTimer.Stop()
			}
			retryTimer, retryC, backoffIdx = nil, nil, 0
			return
		}
		var wait time.Duration
		retryTimer, retryC, backoffIdx, wait = scheduleRetry(retryTimer, a.cfg.Backoff, backoffIdx)
		a.emit(Event{Type: EventSyncFailed, UserID: a.ledger.Snapshot().UserID, Forced: true, Outcome: o, At: a.windows.Now(), RetryIn: wait})
	}

	for {
		select {
		case <-ctx.Done():
			if retryTimer != nil {
				retryTimer.Stop()
			}
			return
		case <-a.manual:
			retry(a.SyncNow(ctx, true))
		case <-retryC:
			retryTimer, retryC = nil, nil
			retry(a.SyncNow(ctx, true))
		case <-a.nudge:
			a.SyncNow(ctx, false)
		case <-ticker.C:
			if retryC != nil {
				continue
			}
			a.SyncNow(ctx, false)
		}
	}
}

// SyncNow performs one reconciliation with the remote store.
func (a *Agent) SyncNow(ctx context.Context, force bool) Outcome {
	select {
	case a.attempt <- struct{}{}:
	default:
		return a.finish(Outcome{Kind: OutcomeCoalesced}, "", force, time.Time{})
	}
	defer func() { <-a.attempt }()

	snap := a.ledger.Snapshot()
	if !snap.Bound() {
		return a.finish(Outcome{Kind: OutcomeSkipped}, "", force, time.Time{})
	}

	now := a.windows.Now()
	a.mu.Lock()
	if !force && snap.Session == a.lastSession && now.Sub(a.lastSuccess) < a.cfg.MinInterval {
		a.mu.Unlock()
		return a.finish(Outcome{Kind: OutcomeThrottled}, snap.UserID, force, time.Time{})
	}
	a.mu.Unlock()

	a.emit(Event{Type: EventSyncStarted, UserID: snap.UserID, Forced: force, At: now})
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var out Outcome
	if snap.OverridePending {
		out = a.pushOverride(ctx, snap)
	} else {
		out = a.reconcile(ctx, snap, force)
	}

	if out.OK() {
		a.succeeded(snap.Session)
	}
	return a.finish(out, snap.UserID, force, start)
}

// succeeded starts the throttle window and stamps the ledger.
func (a *Agent) succeeded(session uint64) {
	at := a.windows.Now()
	a.mu.Lock()
	a.lastSuccess = at
	a.lastSession = session
	a.mu.Unlock()
	_ = a.ledger.MarkSynced(session, at)
}

// superseded reports whether the ledger moved past snap in a way that makes
// values derived from it unsafe to write or merge: another user, or a reset
// or correction since snap was taken.
func (a *Agent) superseded(snap ledger.State) error {
	cur := a.ledger.Snapshot()
	if cur.Session != snap.Session || cur.OverrideEpoch != snap.OverrideEpoch || cur.OverridePending {
		return ledger.ErrStale
	}
	return nil
}

// reconcile reads the remote record and moves the larger side across.
func (a *Agent) reconcile(ctx context.Context, snap ledger.State, force bool) Outcome {
	local := snap.Displayed()

	rec, err := a.store.ReadBalance(ctx, snap.UserID)
	if errors.Is(err, remote.ErrNotFound) {
		rec = remote.Record{UserID: snap.UserID, Version: 0}
	} else if err != nil {
		return failed("sync.read", err)
	}

	if t, ok := tier.Parse(rec.Tier); ok && t != snap.Tier {
		if err := a.ledger.SetTierFor(snap.Session, t); err != nil {
			return a.staleOrFailed(err)
		}
	}

	today := a.windows.CurrentWindowDate()
	remoteGains := decimal.Zero
	if rec.WindowDate == today {
		remoteGains = rec.DailyGains
	}
	if remoteGains.GreaterThan(snap.DailyGains) {
		if err := a.ledger.SetDailyGainsFor(snap.Session, snap.OverrideEpoch, remoteGains); err != nil {
			return a.staleOrFailed(err)
		}
	}

	out := Outcome{Local: local, Remote: rec.Balance}
	switch {
	case rec.Balance.GreaterThan(local):
		source := ledger.SourceRemote
		if force {
			source = ledger.SourceForcedSync
		}
		if _, err := a.ledger.ApplyAbsoluteFor(snap.Session, snap.OverrideEpoch, rec.Balance, source); err != nil {
			return a.staleOrFailed(err)
		}
		out.Kind = OutcomeApplied
		return out

	case local.GreaterThan(rec.Balance) || snap.DailyGains.GreaterThan(remoteGains):
		// local was captured before the read; a withdrawal may have landed
		// since, and its push waits for this attempt to finish.
		if err := a.superseded(snap); err != nil {
			return Outcome{Kind: OutcomeSkipped, Local: local, Remote: rec.Balance, Err: err}
		}
		_, err := a.store.WriteBalance(ctx, snap.UserID, remote.Write{
			Balance:    decimal.Max(local, rec.Balance),
			DailyGains: decimal.Max(snap.DailyGains, remoteGains),
			WindowDate: today,
			IfVersion:  rec.Version,
		})
		if errors.Is(err, remote.ErrVersionConflict) {
			// Someone else wrote since our read; the next tick re-reads.
			out.Kind = OutcomeConflict
			out.Err = err
			return out
		}
		if err != nil {
			return failed("sync.write", err)
		}
		out.Kind = OutcomePushed
		return out

	default:
		out.Kind = OutcomeUnchanged
		return out
	}
}

// pushOverride writes a pending reset or correction unconditionally and
// acknowledges it in the ledger.
func (a *Agent) pushOverride(ctx context.Context, snap ledger.State) Outcome {
	value := snap.Displayed()
	_, err := a.store.WriteBalance(ctx, snap.UserID, remote.Write{
		Balance:    value,
		DailyGains: snap.DailyGains,
		WindowDate: snap.WindowDate,
		IfVersion:  remote.AnyVersion,
	})
	if err != nil {
		return failed("sync.override", err)
	}
	if err := a.ledger.AckOverride(snap.Session, snap.OverrideEpoch); err != nil {
		return a.staleOrFailed(err)
	}
	a.logger.Info().Str("user_id", snap.UserID).Str("balance", value.String()).Msg("override acknowledged by remote store")
	return Outcome{Kind: OutcomePushed, Local: value, Remote: value}
}

// PushReset pushes a pending reset immediately. Used by the withdrawal path,
// which must tell the user whether the remote store took the reset.
func (a *Agent) PushReset(ctx context.Context) error {
	if !a.ledger.Snapshot().Bound() {
		return ledger.ErrUnbound
	}

	// Wait out a reconcile in flight; it may be about to write a balance
	// read before the reset.
	select {
	case a.attempt <- struct{}{}:
	case <-ctx.Done():
		return errors.Join(ErrResetNotAcknowledged, ctx.Err())
	}
	defer func() { <-a.attempt }()

	snap := a.ledger.Snapshot()
	if !snap.Bound() {
		return ledger.ErrUnbound
	}
	if !snap.OverridePending {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out := a.pushOverride(ctx, snap)
	if out.OK() {
		a.succeeded(snap.Session)
	}
	a.finish(out, snap.UserID, true, start)
	if out.Kind != OutcomePushed {
		return errors.Join(ErrResetNotAcknowledged, out.Err)
	}
	return nil
}

func (a *Agent) staleOrFailed(err error) Outcome {
	if errors.Is(err, ledger.ErrStale) || errors.Is(err, ledger.ErrUnbound) {
		// The user changed, or a reset or correction landed, while the request
		// was in flight.
		return Outcome{Kind: OutcomeSkipped, Err: err}
	}
	return Outcome{Kind: OutcomeFailed, Reason: ledger.ReasonStore, Err: err}
}

func (a *Agent) finish(out Outcome, userID string, force bool, start time.Time) Outcome {
	var seconds float64
	if !start.IsZero() {
		seconds = time.Since(start).Seconds()
	}
	a.metrics.SyncObserved(string(out.Kind), string(out.Reason), seconds, out.OK(), float64(time.Now().Unix()))

	switch out.Kind {
	case OutcomeFailed:
		a.logger.Warn().Err(out.Err).Str("user_id", userID).Bool("forced", force).Str("reason", string(out.Reason)).Msg("sync failed")
		a.emit(Event{Type: EventSyncFailed, UserID: userID, Forced: force, Outcome: out, At: a.windows.Now()})
	case OutcomeApplied, OutcomePushed, OutcomeUnchanged:
		a.logger.Debug().Str("user_id", userID).Str("outcome", string(out.Kind)).Str("local", out.Local.String()).Str("remote", out.Remote.String()).Msg("sync ok")
		a.emit(Event{Type: EventSyncOK, UserID: userID, Forced: force, Outcome: out, At: a.windows.Now()})
	default:
		a.emit(Event{Type: EventSyncSkipped, UserID: userID, Forced: force, Outcome: out, At: a.windows.Now()})
	}
	return out
}

func (a *Agent) emit(evt Event) {
	if a.onEvent == nil {
		return
	}
	a.onEvent(evt)
}
