// Package ledger holds the displayed balance and daily gains of the bound
// user and reconciles every writer against them.
//
// Absolute candidates are max-merged, so the balance never moves down except
// through Reset or Correct. Deltas are clipped to what remains of the daily
// cap. Every commit is written through to the local mirror and then delivered
// to subscribers outside the ledger lock, in commit order.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/mirror"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/tier"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/window"
)

const (
	defaultDedupCapacity = 4096
	defaultMirrorTimeout = 2 * time.Second
)

// Options configures a Ledger. Window and Tiers default to UTC and the
// built-in caps; a nil Mirror runs memory-only.
type Options struct {
	Mirror        mirror.Mirror
	Window        *window.Manager
	Tiers         *tier.Table
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
	DedupCapacity int
	MirrorTimeout time.Duration
}

type subscriber struct {
	id     uint64
	fn     func(Change)
	active atomic.Bool
}

// Ledger is the single owner of the balance state.
type Ledger struct {
	mu sync.Mutex

	mirror         mirror.Mirror
	mirrorDegraded bool
	mirrorTimeout  time.Duration
	windows        *window.Manager
	tiers          *tier.Table
	validator      *InvariantValidator
	logger         zerolog.Logger
	metrics        *observability.Metrics
	dedup          *deltaLRU

	st state

	subs       []*subscriber
	nextSubID  uint64
	outbox     []Change
	delivering bool
}

// state is only touched with mu held.
type state struct {
	userID          string
	session         uint64
	current         decimal.Decimal
	highest         decimal.Decimal
	dailyGains      decimal.Decimal
	windowDate      window.Date
	tier            tier.Tier
	lastSyncedAt    time.Time
	overridePending bool
	// overrideEpoch counts resets and corrections within the session.
	overrideEpoch uint64
	ready         bool
	seq           int64
}

// New creates an unbound ledger.
func New(opts Options) *Ledger {
	if opts.Window == nil {
		opts.Window = window.NewManager(time.UTC, nil)
	}
	if opts.Tiers == nil {
		opts.Tiers, _ = tier.NewTable(nil)
	}
	if opts.DedupCapacity <= 0 {
		opts.DedupCapacity = defaultDedupCapacity
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = defaultMirrorTimeout
	}

	l := &Ledger{
		mirror:        opts.Mirror,
		mirrorTimeout: opts.MirrorTimeout,
		windows:       opts.Window,
		tiers:         opts.Tiers,
		validator:     NewInvariantValidator(opts.Window),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		dedup:         newDeltaLRU(opts.DedupCapacity),
	}
	l.st.tier = tier.Freemium
	l.st.ready = true
	return l
}

// =============================================================================
// Binding
// =============================================================================

// SetUser binds userID and hydrates from the mirror. Binding a different
// user starts a new session: in-memory state is cleared and results of I/O
// started for the previous session are rejected as stale. An empty userID
// detaches. Returns the session token of the binding.
func (l *Ledger) SetUser(userID string) uint64 {
	l.mu.Lock()
	if userID == l.st.userID {
		session := l.st.session
		l.mu.Unlock()
		return session
	}

	prev := l.st.userID
	l.st = state{
		session:    l.st.session + 1,
		seq:        l.st.seq,
		userID:     userID,
		tier:       tier.Freemium,
		windowDate: l.windows.CurrentWindowDate(),
		current:    decimal.Zero,
		highest:    decimal.Zero,
		dailyGains: decimal.Zero,
		ready:      userID == "",
	}
	l.mirrorDegraded = false
	l.dedup.Reset()

	if userID != "" {
		l.hydrateLocked()
	}

	l.logger.Info().
		Str("previous_user", prev).
		Str("user_id", userID).
		Uint64("session", l.st.session).
		Str("balance", l.st.current.String()).
		Msg("user bound")

	session := l.st.session
	l.commitLocked(Change{Kind: ChangeBind})
	l.mu.Unlock()

	l.flush()
	return session
}

// hydrateLocked loads the mirror record for the bound user.
func (l *Ledger) hydrateLocked() {
	if l.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.mirrorTimeout)
	defer cancel()

	rec, found, err := l.mirror.Read(ctx, l.st.userID)
	if err != nil {
		l.mirrorFailedLocked("read", err)
		return
	}
	if !found {
		return
	}

	if rec.Balance.IsNegative() {
		rec.Balance = decimal.Zero
	}
	l.st.current = rec.Balance
	l.st.highest = rec.Balance
	l.st.lastSyncedAt = rec.LastSyncedAt
	l.st.overridePending = rec.OverridePending
	if t, ok := tier.Parse(rec.Tier); ok {
		l.st.tier = t
	}

	// Gains only carry over within the same window.
	if rec.WindowDate == l.st.windowDate && rec.DailyGains.IsPositive() {
		l.st.dailyGains = decimal.Min(rec.DailyGains, l.tiers.DailyCap(l.st.tier))
	}
}

// MarkReady flags the session as hydrated from the remote store.
func (l *Ledger) MarkReady(session uint64) error {
	l.mu.Lock()
	if err := l.checkSessionLocked("mark_ready", session); err != nil {
		l.mu.Unlock()
		return err
	}
	if l.st.ready {
		l.mu.Unlock()
		return nil
	}
	l.st.ready = true
	l.commitLocked(Change{Kind: ChangeReady})
	l.mu.Unlock()

	l.flush()
	return nil
}

// MarkSynced records a successful remote round trip for session.
func (l *Ledger) MarkSynced(session uint64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkSessionLocked("mark_synced", session); err != nil {
		return err
	}
	l.st.lastSyncedAt = at
	l.persistLocked()
	return nil
}

// WarmDedup seeds the delta dedup cache, oldest id first.
func (l *Ledger) WarmDedup(session uint64, ids []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkSessionLocked("warm_dedup", session); err != nil {
		return err
	}
	l.dedup.Warm(ids)
	l.metrics.SetDedupMetrics(l.dedup.Size(), l.dedup.takeEvictions())
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Session returns the token of the current binding.
func (l *Ledger) Session() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.session
}

// UserID returns the bound user, or "" when detached.
func (l *Ledger) UserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.userID
}

// Balance returns max(current, highest), or zero when detached.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.st.userID == "" {
		return decimal.Zero
	}
	return decimal.Max(l.st.current, l.st.highest)
}

// DailyGains returns the gains of the current window, rolling it over first.
func (l *Ledger) DailyGains() decimal.Decimal {
	l.mu.Lock()
	if l.st.userID == "" {
		l.mu.Unlock()
		return decimal.Zero
	}
	rolled := l.rolloverLocked()
	gains := l.st.dailyGains
	if rolled {
		l.commitLocked(Change{Kind: ChangeRollover})
	}
	l.mu.Unlock()

	if rolled {
		l.flush()
	}
	return gains
}

// DailyCap returns the cap of the current tier.
func (l *Ledger) DailyCap() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tiers.DailyCap(l.st.tier)
}

// OverridePending reports whether a reset or correction awaits remote
// acknowledgment.
func (l *Ledger) OverridePending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.overridePending
}

// Ready reports whether the bound session finished remote hydration.
func (l *Ledger) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.ready
}

// Snapshot returns a copy of the state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Validate checks the state invariants.
func (l *Ledger) Validate() error {
	return l.validator.ValidateAll(l.Snapshot())
}

// =============================================================================
// Writes
// =============================================================================

// ApplyDelta credits amount, clipped to what remains of the daily cap, to
// both the balance and the daily gains. Returns the credited amount.
func (l *Ledger) ApplyDelta(amount decimal.Decimal) (decimal.Decimal, error) {
	return l.applyDelta("apply_delta", "", amount)
}

// ApplyDeltaOnce is ApplyDelta keyed by a producer-assigned id; a replayed id
// is rejected with ErrDuplicate.
func (l *Ledger) ApplyDeltaOnce(id string, amount decimal.Decimal) (decimal.Decimal, error) {
	if id == "" {
		return l.applyDelta("apply_delta", "", amount)
	}
	return l.applyDelta("apply_delta_once", id, amount)
}

func (l *Ledger) applyDelta(op, id string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, l.reject(newError(KindInvalidAmount, op, fmt.Errorf("amount must be positive, got %s", amount)))
	}

	l.mu.Lock()
	if l.st.userID == "" {
		l.mu.Unlock()
		return decimal.Zero, l.reject(newError(KindUnbound, op, nil))
	}
	if id != "" && l.dedup.Contains(id) {
		l.mu.Unlock()
		return decimal.Zero, l.reject(newError(KindDuplicate, op, fmt.Errorf("delta %s already applied", id)))
	}

	rolled := l.rolloverLocked()
	remaining := l.tiers.DailyCap(l.st.tier).Sub(l.st.dailyGains)
	if !remaining.IsPositive() {
		if rolled {
			l.commitLocked(Change{Kind: ChangeRollover})
		}
		l.mu.Unlock()
		l.flush()
		return decimal.Zero, l.reject(newError(KindLimitReached, op, nil))
	}

	credit := decimal.Min(amount, remaining)
	next := decimal.Max(l.st.current, l.st.highest).Add(credit)
	l.st.current = next
	l.st.highest = next
	l.st.dailyGains = l.st.dailyGains.Add(credit)
	if id != "" {
		l.dedup.Add(id)
		l.metrics.SetDedupMetrics(l.dedup.Size(), l.dedup.takeEvictions())
	}

	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeDelta, Amount: credit, DeltaID: id})
	l.mu.Unlock()

	l.flush()
	return credit, nil
}

// ApplyAbsolute merges value from source into the current session.
func (l *Ledger) ApplyAbsolute(value decimal.Decimal, source Source) (decimal.Decimal, error) {
	session, epoch := l.stamp()
	return l.ApplyAbsoluteFor(session, epoch, value, source)
}

// ApplyAbsoluteFor merges an absolute candidate observed for session:
//
//	accepted = max(candidate, current, highest)
//
// While an override is pending, Remote and Storage candidates are rejected
// as stale; ForcedSync merges and clears the override. A candidate read
// before a reset or correction (epoch behind) is rejected as stale. Returns
// the accepted value.
func (l *Ledger) ApplyAbsoluteFor(session, epoch uint64, value decimal.Decimal, source Source) (decimal.Decimal, error) {
	const op = "apply_absolute"
	if value.IsNegative() {
		return decimal.Zero, l.reject(newError(KindInvalidAmount, op, fmt.Errorf("value must be >= 0, got %s", value)))
	}
	if source < SourceRemote || source > SourceStorage {
		return decimal.Zero, l.reject(newError(KindInvalidAmount, op, fmt.Errorf("unknown source %d", source)))
	}

	l.mu.Lock()
	if err := l.checkStampLocked(op, session, epoch); err != nil {
		l.mu.Unlock()
		return decimal.Zero, l.reject(err)
	}
	if l.st.overridePending && source != SourceForcedSync {
		accepted := decimal.Max(l.st.current, l.st.highest)
		l.mu.Unlock()
		return accepted, l.reject(newError(KindStale, op, fmt.Errorf("%s candidate ignored while override pending", source)))
	}

	prev := decimal.Max(l.st.current, l.st.highest)
	accepted := decimal.Max(value, prev)
	clearedOverride := l.st.overridePending
	if accepted.Equal(l.st.current) && accepted.Equal(l.st.highest) && !clearedOverride {
		l.mu.Unlock()
		return accepted, nil
	}

	l.st.current = accepted
	l.st.highest = accepted
	l.st.overridePending = false

	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeAbsolute, Source: source, Amount: accepted.Sub(prev)})
	l.mu.Unlock()

	if clearedOverride {
		l.logger.Warn().Str("accepted", accepted.String()).Msg("forced sync cleared pending override")
	}
	l.flush()
	return accepted, nil
}

// SetDailyGains replaces the gains of the current window, clipped to [0, cap].
func (l *Ledger) SetDailyGains(value decimal.Decimal) error {
	session, epoch := l.stamp()
	return l.SetDailyGainsFor(session, epoch, value)
}

// SetDailyGainsFor is SetDailyGains bound to session and override epoch.
func (l *Ledger) SetDailyGainsFor(session, epoch uint64, value decimal.Decimal) error {
	const op = "set_daily_gains"
	if value.IsNegative() {
		return l.reject(newError(KindInvalidAmount, op, fmt.Errorf("value must be >= 0, got %s", value)))
	}

	l.mu.Lock()
	if err := l.checkStampLocked(op, session, epoch); err != nil {
		l.mu.Unlock()
		return l.reject(err)
	}
	rolled := l.rolloverLocked()
	clipped := decimal.Min(value, l.tiers.DailyCap(l.st.tier))
	if clipped.Equal(l.st.dailyGains) {
		if rolled {
			l.commitLocked(Change{Kind: ChangeRollover})
		}
		l.mu.Unlock()
		l.flush()
		return nil
	}

	l.st.dailyGains = clipped
	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeDailyGains, Amount: clipped})
	l.mu.Unlock()

	l.flush()
	return nil
}

// SetTier changes the subscription tier; gains above the new cap are clipped.
func (l *Ledger) SetTier(t tier.Tier) error {
	return l.SetTierFor(l.Session(), t)
}

// SetTierFor is SetTier bound to session.
func (l *Ledger) SetTierFor(session uint64, t tier.Tier) error {
	const op = "set_tier"
	parsed, ok := tier.Parse(string(t))
	if !ok {
		return l.reject(newError(KindInvalidAmount, op, fmt.Errorf("unknown tier %q", t)))
	}
	t = parsed

	l.mu.Lock()
	if err := l.checkSessionLocked(op, session); err != nil {
		l.mu.Unlock()
		return l.reject(err)
	}
	if l.st.tier == t {
		l.mu.Unlock()
		return nil
	}

	l.st.tier = t
	if capAmt := l.tiers.DailyCap(t); l.st.dailyGains.GreaterThan(capAmt) {
		l.st.dailyGains = capAmt
	}
	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeTier, Reason: string(t)})
	l.mu.Unlock()

	l.flush()
	return nil
}

// RollOver starts a new daily window if the reference date moved. Reports
// whether it did.
func (l *Ledger) RollOver() bool {
	l.mu.Lock()
	if l.st.userID == "" {
		l.mu.Unlock()
		return false
	}
	rolled := l.rolloverLocked()
	if rolled {
		l.commitLocked(Change{Kind: ChangeRollover})
	}
	l.mu.Unlock()

	if rolled {
		l.flush()
	}
	return rolled
}

// Reset zeroes balance, watermark and gains in one step, clears the mirror
// and marks an override pending until the remote store acknowledges it.
func (l *Ledger) Reset(reason string) error {
	const op = "reset"

	l.mu.Lock()
	if l.st.userID == "" {
		l.mu.Unlock()
		return l.reject(newError(KindUnbound, op, nil))
	}

	prev := decimal.Max(l.st.current, l.st.highest)
	l.st.current = decimal.Zero
	l.st.highest = decimal.Zero
	l.st.dailyGains = decimal.Zero
	l.st.windowDate = l.windows.CurrentWindowDate()
	l.st.overridePending = true
	l.st.overrideEpoch++

	l.clearMirrorLocked()
	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeReset, Amount: prev.Neg(), Reason: reason})
	userID := l.st.userID
	l.mu.Unlock()

	l.logger.Info().
		Str("user_id", userID).
		Str("previous_balance", prev.String()).
		Str("reason", reason).
		Msg("balance reset")

	l.flush()
	return nil
}

// Correct sets balance and watermark to value, bypassing the max-merge.
// Administrative path only; marks an override pending like Reset.
func (l *Ledger) Correct(value decimal.Decimal, reason string) error {
	const op = "correct"
	if value.IsNegative() {
		return l.reject(newError(KindInvalidAmount, op, fmt.Errorf("value must be >= 0, got %s", value)))
	}

	l.mu.Lock()
	if l.st.userID == "" {
		l.mu.Unlock()
		return l.reject(newError(KindUnbound, op, nil))
	}

	prev := decimal.Max(l.st.current, l.st.highest)
	l.st.current = value
	l.st.highest = value
	l.st.overridePending = true
	l.st.overrideEpoch++

	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeCorrect, Amount: value.Sub(prev), Reason: reason})
	userID := l.st.userID
	l.mu.Unlock()

	l.logger.Warn().
		Str("user_id", userID).
		Str("previous_balance", prev.String()).
		Str("balance", value.String()).
		Str("reason", reason).
		Msg("balance corrected")

	l.flush()
	return nil
}

// AckOverride clears a pending override once the remote store holds the
// overriding value. epoch is the one the pushed value was read at; a newer
// reset or correction stays pending.
func (l *Ledger) AckOverride(session, epoch uint64) error {
	l.mu.Lock()
	if err := l.checkStampLocked("ack_override", session, epoch); err != nil {
		l.mu.Unlock()
		return l.reject(err)
	}
	if !l.st.overridePending {
		l.mu.Unlock()
		return nil
	}
	l.st.overridePending = false
	l.persistLocked()
	l.commitLocked(Change{Kind: ChangeOverrideAck})
	l.mu.Unlock()

	l.flush()
	return nil
}

// =============================================================================
// Subscriptions
// =============================================================================

// Subscribe registers fn for every committed change. Callbacks run in
// registration order, outside the ledger lock, and may call back into the
// ledger; a panicking callback is recovered and does not affect the others.
func (l *Ledger) Subscribe(fn func(Change)) (unsubscribe func()) {
	l.mu.Lock()
	l.nextSubID++
	sub := &subscriber{id: l.nextSubID, fn: fn}
	sub.active.Store(true)
	l.subs = append(l.subs, sub)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subs {
				if s.id == sub.id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// flush delivers queued changes. Only one goroutine delivers at a time; a
// commit made while another goroutine (or a callback) is delivering is picked
// up by that delivery loop, which keeps Seq order across subscribers.
func (l *Ledger) flush() {
	l.mu.Lock()
	if l.delivering {
		l.mu.Unlock()
		return
	}
	l.delivering = true
	for len(l.outbox) > 0 {
		batch := l.outbox
		l.outbox = nil
		subs := make([]*subscriber, len(l.subs))
		copy(subs, l.subs)
		l.mu.Unlock()

		for _, change := range batch {
			for _, sub := range subs {
				if sub.active.Load() {
					l.deliver(sub, change)
				}
			}
		}

		l.mu.Lock()
	}
	l.delivering = false
	l.mu.Unlock()
}

func (l *Ledger) deliver(sub *subscriber, change Change) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.SubscriberPanicked()
			l.logger.Error().
				Interface("panic", r).
				Uint64("subscriber", sub.id).
				Int64("seq", change.Seq).
				Msg("ledger subscriber panicked")
		}
	}()
	sub.fn(change)
}

// =============================================================================
// Internals (mu held)
// =============================================================================

func (l *Ledger) checkSessionLocked(op string, session uint64) *Error {
	if l.st.userID == "" {
		return newError(KindUnbound, op, nil)
	}
	if session != l.st.session {
		return newError(KindStale, op, fmt.Errorf("session %d superseded by %d", session, l.st.session))
	}
	return nil
}

func (l *Ledger) checkStampLocked(op string, session, epoch uint64) *Error {
	if err := l.checkSessionLocked(op, session); err != nil {
		return err
	}
	if epoch != l.st.overrideEpoch {
		return newError(KindStale, op, fmt.Errorf("override epoch %d superseded by %d", epoch, l.st.overrideEpoch))
	}
	return nil
}

func (l *Ledger) stamp() (session, epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.session, l.st.overrideEpoch
}

// rolloverLocked zeroes gains when the window date moved. The caller commits.
func (l *Ledger) rolloverLocked() bool {
	if !l.windows.CheckRollover(l.st.windowDate) {
		return false
	}
	l.st.windowDate = l.windows.CurrentWindowDate()
	l.st.dailyGains = decimal.Zero
	l.persistLocked()
	return true
}

func (l *Ledger) commitLocked(c Change) {
	l.st.seq++
	c.Seq = l.st.seq
	c.At = l.windows.Now()
	c.State = l.snapshotLocked()
	l.outbox = append(l.outbox, c)

	l.metrics.CommitRecorded(
		c.Kind.String(),
		c.State.Balance.InexactFloat64(),
		c.State.HighestObserved.InexactFloat64(),
		c.State.DailyGains.InexactFloat64(),
		c.Seq,
	)
}

func (l *Ledger) snapshotLocked() State {
	return State{
		UserID:          l.st.userID,
		Session:         l.st.session,
		Balance:         l.st.current,
		HighestObserved: l.st.highest,
		DailyGains:      l.st.dailyGains,
		DailyCap:        l.tiers.DailyCap(l.st.tier),
		WindowDate:      l.st.windowDate,
		Tier:            l.st.tier,
		LastSyncedAt:    l.st.lastSyncedAt,
		OverridePending: l.st.overridePending,
		OverrideEpoch:   l.st.overrideEpoch,
		Ready:           l.st.ready,
		Sequence:        l.st.seq,
	}
}

// persistLocked writes the state through to the mirror. Failures are logged
// and the mirror is skipped for the rest of the session.
func (l *Ledger) persistLocked() {
	if l.mirror == nil || l.mirrorDegraded || l.st.userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.mirrorTimeout)
	defer cancel()

	err := l.mirror.Write(ctx, l.st.userID, mirror.Record{
		Balance:         decimal.Max(l.st.current, l.st.highest),
		DailyGains:      l.st.dailyGains,
		WindowDate:      l.st.windowDate,
		LastSyncedAt:    l.st.lastSyncedAt,
		Tier:            string(l.st.tier),
		OverridePending: l.st.overridePending,
	})
	if err != nil {
		l.mirrorFailedLocked("write", err)
	}
}

func (l *Ledger) clearMirrorLocked() {
	if l.mirror == nil || l.mirrorDegraded {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.mirrorTimeout)
	defer cancel()

	if err := l.mirror.Clear(ctx, l.st.userID); err != nil {
		l.mirrorFailedLocked("clear", err)
	}
}

func (l *Ledger) mirrorFailedLocked(op string, err error) {
	l.mirrorDegraded = true
	l.metrics.MirrorFailed(op)
	l.logger.Warn().
		Err(NewPersistenceError("mirror."+op, err)).
		Str("user_id", l.st.userID).
		Msg("mirror unavailable, continuing memory-only for this session")
}

// MirrorDegraded reports whether the mirror was disabled for this session.
func (l *Ledger) MirrorDegraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mirrorDegraded
}

func (l *Ledger) reject(err *Error) error {
	l.metrics.RejectionRecorded(err.Kind.String())
	l.logger.Debug().Err(err).Msg("ledger operation rejected")
	return err
}
