package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/chat"
	"github.com/suPer8Hu/support-widget/internal/clock"
)

// Persistence is the durable side of a conversation. The engine is its only
// writer.
type Persistence interface {
	LoadConversationState(ctx context.Context) (chat.Snapshot, error)
	UpdateMessages(ctx context.Context, msgs []chat.Message, reason string) error
	ClearConversation(ctx context.Context) error
}

// LiveList is the in-memory transcript owned by the UI session. Its version
// changes on every mutation, so a pass can install a merge result only if
// nothing was appended since it read the list.
type LiveList interface {
	Messages() []chat.Message
	Snapshot() ([]chat.Message, uint64)
	Replace(msgs []chat.Message)
	ReplaceIf(version uint64, msgs []chat.Message) bool
}

var ErrClosed = errors.New("reconcile: engine closed")

// maxReplaceAttempts bounds how often a pass re-reads a live list that keeps
// changing under it before giving up until the next trigger.
const maxReplaceAttempts = 3

type Trigger string

const (
	TriggerInterval   Trigger = "interval"
	TriggerDependency Trigger = "dependency"
	TriggerManual     Trigger = "manual"
)

type Outcome string

const (
	OutcomeSkippedLoading   Outcome = "skipped_loading"
	OutcomeSkippedInFlight  Outcome = "skipped_in_flight"
	OutcomeSkippedDebounced Outcome = "skipped_debounced"
	OutcomeSkippedBusy      Outcome = "skipped_live_changed"
	OutcomeInSync           Outcome = "in_sync"
	OutcomePushed           Outcome = "pushed_live"
	OutcomeRecovered        Outcome = "recovered"
	OutcomeResolved         Outcome = "resolved_conflicts"
)

func (o Outcome) Skipped() bool {
	switch o {
	case OutcomeSkippedLoading, OutcomeSkippedInFlight, OutcomeSkippedDebounced, OutcomeSkippedBusy:
		return true
	}
	return false
}

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseReconciling Phase = "reconciling"
)

// Pass describes one ValidateAndRecover call.
type Pass struct {
	Trigger        Trigger `json:"trigger"`
	Outcome        Outcome `json:"outcome"`
	LiveCount      int     `json:"live_count"`
	PersistedCount int     `json:"persisted_count"`
	MergedCount    int     `json:"merged_count"`
	Conflicts      int     `json:"conflicts"`
}

type Stats struct {
	Recoveries int       `json:"recoveries"`
	Skips      int       `json:"skips"`
	Conflicts  int       `json:"conflicts"`
	Phase      Phase     `json:"phase"`
	LastRun    time.Time `json:"last_run"`
}

type Options struct {
	// Debounce is the minimum spacing of unforced passes.
	Debounce time.Duration
	// DependencyDelay batches Notify bursts into one forced pass.
	DependencyDelay time.Duration
	Interval        time.Duration
	// Cooldown keeps the engine in PhaseReconciling after it rewrote both
	// stores, so the write does not immediately trigger another pass.
	Cooldown            time.Duration
	CorruptionThreshold int
	Clock               clock.Clock
}

func DefaultOptions() Options {
	return Options{
		Debounce:            3 * time.Second,
		DependencyDelay:     time.Second,
		Interval:            10 * time.Second,
		Cooldown:            time.Second,
		CorruptionThreshold: DefaultCorruptionThreshold,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.DependencyDelay <= 0 {
		o.DependencyDelay = d.DependencyDelay
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Cooldown <= 0 {
		o.Cooldown = d.Cooldown
	}
	if o.CorruptionThreshold <= 0 {
		o.CorruptionThreshold = d.CorruptionThreshold
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	return o
}

type Engine struct {
	conversationID string
	live           LiveList
	store          Persistence
	opts           Options
	deps           *Debouncer

	mu      sync.Mutex
	phase   Phase
	release clock.Timer
	lastRun time.Time
	stats   Stats
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewEngine(conversationID string, live LiveList, store Persistence, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		conversationID: conversationID,
		live:           live,
		store:          store,
		opts:           opts,
		deps:           NewDebouncer(opts.Clock, opts.DependencyDelay),
		phase:          PhaseIdle,
		done:           make(chan struct{}),
	}
}

// ValidateAndRecover compares the live list with the persisted copy and
// repairs whichever side is behind. Interval passes honor the debounce
// window; dependency and manual passes are forced.
func (e *Engine) ValidateAndRecover(ctx context.Context, trigger Trigger) (Pass, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pass := Pass{Trigger: trigger}
	if e.closed {
		return pass, ErrClosed
	}
	if e.phase == PhaseReconciling {
		return e.skipLocked(pass, OutcomeSkippedInFlight), nil
	}

	now := e.opts.Clock.Now()
	force := trigger != TriggerInterval
	if !force && !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.opts.Debounce {
		return e.skipLocked(pass, OutcomeSkippedDebounced), nil
	}

	snap, err := e.store.LoadConversationState(ctx)
	if err != nil {
		return pass, fmt.Errorf("reconcile: load persisted state: %w", err)
	}
	if snap.IsLoading {
		return e.skipLocked(pass, OutcomeSkippedLoading), nil
	}
	e.lastRun = now
	e.stats.LastRun = now
	persisted := snap.Messages

	for attempt := 1; ; attempt++ {
		live, version := e.live.Snapshot()
		pass.LiveCount = len(live)
		pass.PersistedCount = len(persisted)

		r := Merge(live, persisted)
		pass.MergedCount = len(r.Messages)
		pass.Conflicts = r.Conflicts

		var reason string
		switch {
		case len(persisted) > len(live):
			log.Warn().
				Str("conversation_id", e.conversationID).
				Int("live", len(live)).
				Int("persisted", len(persisted)).
				Msg("persisted copy ahead of live list, recovering")
			pass.Outcome = OutcomeRecovered
			reason = "recovery"

		case len(live) > len(persisted):
			// Live running ahead is normal (an append not flushed yet), unless the
			// persisted copy holds ids or content the live list lost.
			if len(r.Messages) == len(live) && !r.HasConflicts() {
				pass.Outcome = OutcomePushed
				if err := e.store.UpdateMessages(ctx, live, "sync_live_ahead"); err != nil {
					return pass, fmt.Errorf("reconcile: push live list: %w", err)
				}
				return pass, nil
			}
			log.Warn().
				Str("conversation_id", e.conversationID).
				Int("live", len(live)).
				Int("persisted", len(persisted)).
				Int("conflicts", r.Conflicts).
				Msg("live list ahead but diverged from persisted copy")
			pass.Outcome = OutcomeRecovered
			reason = "recovery_live_ahead"

		default:
			if !r.HasConflicts() && len(r.Messages) == len(live) {
				pass.Outcome = OutcomeInSync
				return pass, nil
			}
			log.Info().
				Str("conversation_id", e.conversationID).
				Int("conflicts", r.Conflicts).
				Int("merged", len(r.Messages)).
				Msg("resolving same-count divergence")
			pass.Outcome = OutcomeResolved
			reason = "conflict_resolution"
		}

		if e.live.ReplaceIf(version, cloneMessages(r.Messages)) {
			return pass, e.writeBothLocked(ctx, r, reason)
		}
		if attempt == maxReplaceAttempts {
			log.Warn().
				Str("conversation_id", e.conversationID).
				Int("attempts", attempt).
				Msg("live list kept changing during pass, deferring recovery")
			return e.skipLocked(pass, OutcomeSkippedBusy), nil
		}
	}
}

func (e *Engine) skipLocked(pass Pass, o Outcome) Pass {
	e.stats.Skips++
	pass.Outcome = o
	return pass
}

// writeBothLocked persists a merge result that is already installed in the
// live list. The recovery is counted, and the cooldown started, only once the
// persisted write succeeds.
func (e *Engine) writeBothLocked(ctx context.Context, r MergeResult, reason string) error {
	if err := e.store.UpdateMessages(ctx, r.Messages, reason); err != nil {
		log.Error().Err(err).
			Str("conversation_id", e.conversationID).
			Str("reason", reason).
			Int("merged", len(r.Messages)).
			Msg("live list recovered but persisted copy is stale")
		return fmt.Errorf("reconcile: write merged messages: %w", err)
	}
	e.stats.Recoveries++
	e.stats.Conflicts += r.Conflicts
	e.beginCooldownLocked()
	return nil
}

func (e *Engine) beginCooldownLocked() {
	if e.release != nil {
		e.release.Stop()
	}
	e.phase = PhaseReconciling
	e.release = e.opts.Clock.AfterFunc(e.opts.Cooldown, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.phase = PhaseIdle
		e.release = nil
	})
}

// Notify reports a dependency change (new message, persistence finished
// loading). Bursts collapse into one forced pass after DependencyDelay.
func (e *Engine) Notify() {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	e.deps.Trigger(func() { e.runScheduled(TriggerDependency) })
}

// SyncConversation resets the debounce clock and runs a pass immediately.
func (e *Engine) SyncConversation(ctx context.Context) (Pass, error) {
	e.deps.Cancel()
	e.mu.Lock()
	e.lastRun = time.Time{}
	e.mu.Unlock()
	return e.ValidateAndRecover(ctx, TriggerManual)
}

// Persist writes the live list as-is. Passes only compare ids, content and
// timestamps, so flag changes such as submitted feedback go through here.
func (e *Engine) Persist(ctx context.Context, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.store.UpdateMessages(ctx, e.live.Messages(), reason); err != nil {
		return fmt.Errorf("reconcile: persist live list: %w", err)
	}
	return nil
}

// EmergencyReset wipes both stores and every recovery counter.
func (e *Engine) EmergencyReset(ctx context.Context) error {
	e.deps.Cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.release != nil {
		e.release.Stop()
		e.release = nil
	}
	e.phase = PhaseIdle
	e.lastRun = time.Time{}
	e.stats = Stats{}

	e.live.Replace(nil)
	if err := e.store.ClearConversation(ctx); err != nil {
		return fmt.Errorf("reconcile: clear persisted conversation: %w", err)
	}
	log.Warn().Str("conversation_id", e.conversationID).Msg("emergency reset: both stores cleared")
	return nil
}

// DetectCorruption reports whether the stores disagree badly enough that
// merging should not be trusted. While the persisted copy is loading the
// check is inconclusive and reports no corruption.
func (e *Engine) DetectCorruption(ctx context.Context) (CorruptionReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.store.LoadConversationState(ctx)
	if err != nil {
		return CorruptionReport{}, fmt.Errorf("reconcile: load persisted state: %w", err)
	}
	live := e.live.Messages()
	if snap.IsLoading {
		return CorruptionReport{LiveCount: len(live)}, nil
	}
	return DetectCorruption(live, snap.Messages, e.opts.CorruptionThreshold), nil
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Phase = e.phase
	return s
}

// Run drives interval passes until ctx is cancelled or Close is called.
func (e *Engine) Run(ctx context.Context) {
	t := e.opts.Clock.NewTicker(e.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-t.C():
			e.runScheduled(TriggerInterval)
		}
	}
}

func (e *Engine) runScheduled(trigger Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pass, err := e.ValidateAndRecover(ctx, trigger)
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			log.Error().Err(err).
				Str("conversation_id", e.conversationID).
				Str("trigger", string(trigger)).
				Msg("reconciliation pass failed")
		}
		return
	}
	log.Debug().
		Str("conversation_id", e.conversationID).
		Str("trigger", string(trigger)).
		Str("outcome", string(pass.Outcome)).
		Int("live", pass.LiveCount).
		Int("persisted", pass.PersistedCount).
		Msg("reconciliation pass")
}

// Close stops scheduling and releases timers. Pending passes become no-ops.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.deps.Cancel()
		e.mu.Lock()
		e.closed = true
		if e.release != nil {
			e.release.Stop()
			e.release = nil
		}
		e.mu.Unlock()
		close(e.done)
	})
}

func cloneMessages(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return nil
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out
}
