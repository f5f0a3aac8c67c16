package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/support-widget/internal/clock"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []TransitionEvent
	err    error
}

func (l *recordingLogger) LogTransition(ctx context.Context, ev TransitionEvent) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.err
}

func (l *recordingLogger) all() []TransitionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TransitionEvent(nil), l.events...)
}

func newTestMachine(t *testing.T, settings *Settings) (*Machine, *clock.Fake, *recordingLogger) {
	t.Helper()
	c := clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	lg := &recordingLogger{}
	n := 0
	m := NewMachine("conv-1",
		WithClock(c),
		WithLogger(lg),
		WithEventIDs(func() string { n++; return fmt.Sprintf("ev-%d", n) }),
	)
	require.NoError(t, m.Initialize(settings))
	t.Cleanup(m.Close)
	return m, c, lg
}

func settingsPtr(s Settings) *Settings { return &s }

func countTo(trs []Transition, to Status) int {
	n := 0
	for _, tr := range trs {
		if tr.To == to {
			n++
		}
	}
	return n
}

func TestInitialize_LogsInitializedTransition(t *testing.T) {
	m, _, lg := newTestMachine(t, settingsPtr(DefaultSettings()))

	trs := m.Transitions()
	require.Len(t, trs, 1)
	require.Equal(t, StatusActive, trs[0].From)
	require.Equal(t, StatusActive, trs[0].To)
	require.Equal(t, "initialized", trs[0].Reason)
	require.Equal(t, TriggeredBySystem, trs[0].TriggeredBy)

	evs := lg.all()
	require.Len(t, evs, 1)
	require.Equal(t, "conv-1", evs[0].ConversationID)
	require.Equal(t, "ev-1", evs[0].EventID)

	require.ElementsMatch(t, []TimerKey{TimerIdle, TimerIdleWarning, TimerMaxSession}, m.PendingTimers())
}

func TestInitialize_NilSettingsArmsNothing(t *testing.T) {
	m, c, _ := newTestMachine(t, nil)

	require.Empty(t, m.PendingTimers())
	for i := 0; i < 100; i++ {
		_, err := m.IncrementMessageCount()
		require.NoError(t, err)
	}
	c.Advance(24 * time.Hour)
	require.Equal(t, StatusActive, m.State().Status)
}

func TestIdleWarningThenTimeout(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{
		EnableIdleTimeout:  true,
		IdleTimeoutMinutes: 10,
	}))

	c.Advance(7*time.Minute + 29*time.Second)
	require.False(t, m.State().ShowIdleWarning)

	c.Advance(time.Second)
	st := m.State()
	require.True(t, st.ShowIdleWarning)
	require.Equal(t, StatusActive, st.Status)

	c.Advance(2*time.Minute + 29*time.Second)
	require.Equal(t, StatusActive, m.State().Status)

	c.Advance(time.Second)
	st = m.State()
	require.Equal(t, StatusIdleTimeout, st.Status)
	require.False(t, st.ShowIdleWarning)

	trs := m.Transitions()
	last := trs[len(trs)-1]
	require.Equal(t, StatusActive, last.From)
	require.Equal(t, TriggeredBySystem, last.TriggeredBy)
}

func TestRecordActivity_KeepsConversationAlive(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{
		EnableIdleTimeout:  true,
		IdleTimeoutMinutes: 10,
	}))

	for i := 0; i < 50; i++ {
		c.Advance(9*time.Minute + 59*time.Second)
		require.NoError(t, m.RecordActivity())
	}
	require.Equal(t, StatusActive, m.State().Status)
	require.Zero(t, countTo(m.Transitions(), StatusIdleTimeout))
}

func TestRecordActivity_ClearsWarning(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{EnableIdleTimeout: true, IdleTimeoutMinutes: 10}))

	c.Advance(8 * time.Minute)
	require.True(t, m.State().ShowIdleWarning)

	require.NoError(t, m.RecordActivity())
	require.False(t, m.State().ShowIdleWarning)

	c.Advance(8 * time.Minute)
	require.True(t, m.State().ShowIdleWarning)
	require.Equal(t, StatusActive, m.State().Status)
}

func TestRecordActivity_RapidCallsAreIdempotent(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{EnableIdleTimeout: true, IdleTimeoutMinutes: 10}))

	for i := 0; i < 1000; i++ {
		require.NoError(t, m.RecordActivity())
	}
	require.Equal(t, 2, c.Pending())

	c.Advance(10 * time.Minute)
	require.Equal(t, StatusIdleTimeout, m.State().Status)
	require.Equal(t, 1, countTo(m.Transitions(), StatusIdleTimeout))
}

func TestMaxSession(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{
		EnableMaxSessionLength: true,
		MaxSessionMinutes:      30,
	}))

	for i := 0; i < 29; i++ {
		c.Advance(time.Minute)
		require.NoError(t, m.RecordActivity())
	}
	require.Equal(t, StatusActive, m.State().Status)

	c.Advance(time.Minute)
	require.Equal(t, StatusMaxSession, m.State().Status)
	require.Empty(t, m.PendingTimers())
}

func TestQuota_NthMessageTransitions(t *testing.T) {
	const quota = 5
	m, _, lg := newTestMachine(t, settingsPtr(Settings{
		EnableMessageQuota:    true,
		MaxMessagesPerSession: quota,
	}))

	for i := 1; i < quota; i++ {
		n, err := m.IncrementMessageCount()
		require.NoError(t, err)
		require.Equal(t, i, n)
		require.Equal(t, StatusActive, m.State().Status)
	}

	n, err := m.IncrementMessageCount()
	require.NoError(t, err)
	require.Equal(t, quota, n)
	require.Equal(t, StatusQuotaExceeded, m.State().Status)
	require.False(t, m.State().Status.AcceptsMessages())

	evs := lg.all()
	last := evs[len(evs)-1]
	require.Equal(t, StatusQuotaExceeded, last.To)
	require.Equal(t, quota, last.Metadata["max_messages"])
}

func TestQuota_RejectsCountPastThreshold(t *testing.T) {
	m, _, _ := newTestMachine(t, settingsPtr(Settings{
		EnableMessageQuota:    true,
		MaxMessagesPerSession: 2,
	}))

	for i := 0; i < 2; i++ {
		_, err := m.IncrementMessageCount()
		require.NoError(t, err)
	}
	n, err := m.IncrementMessageCount()
	require.ErrorIs(t, err, ErrNotAcceptingMessages)
	require.Equal(t, 2, n)
	require.Equal(t, 2, m.State().MessageCount)
	require.Equal(t, 1, countTo(m.Transitions(), StatusQuotaExceeded))
}

func TestQuota_ConcurrentIncrements(t *testing.T) {
	const quota = 3
	m, _, _ := newTestMachine(t, settingsPtr(Settings{
		EnableMessageQuota:    true,
		MaxMessagesPerSession: quota,
	}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.IncrementMessageCount(); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, quota, accepted)
	require.Equal(t, quota, m.State().MessageCount)
	require.Equal(t, StatusQuotaExceeded, m.State().Status)
}

func TestTimerAfterQuotaIsNoop(t *testing.T) {
	s := DefaultSettings()
	s.MaxMessagesPerSession = 1
	m, c, _ := newTestMachine(t, &s)

	_, err := m.IncrementMessageCount()
	require.NoError(t, err)
	require.Equal(t, StatusQuotaExceeded, m.State().Status)

	c.Advance(2 * time.Hour)
	require.Equal(t, StatusQuotaExceeded, m.State().Status)
	require.Equal(t, 0, countTo(m.Transitions(), StatusIdleTimeout))
	require.Equal(t, 0, countTo(m.Transitions(), StatusMaxSession))
}

func TestRequestHumanAgent_TimersKeepRunning(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{EnableIdleTimeout: true, IdleTimeoutMinutes: 10}))

	require.NoError(t, m.RequestHumanAgent("billing question"))
	require.Equal(t, StatusWaitingHuman, m.State().Status)
	require.NoError(t, m.RequestHumanAgent("again"))
	require.Equal(t, 1, countTo(m.Transitions(), StatusWaitingHuman))

	c.Advance(10 * time.Minute)
	require.Equal(t, StatusIdleTimeout, m.State().Status)

	trs := m.Transitions()
	require.Equal(t, StatusWaitingHuman, trs[len(trs)-1].From)
}

func TestRequestHumanAgent_FromIdleTimeout(t *testing.T) {
	m, c, _ := newTestMachine(t, settingsPtr(Settings{EnableIdleTimeout: true, IdleTimeoutMinutes: 10}))
	c.Advance(10 * time.Minute)
	require.Equal(t, StatusIdleTimeout, m.State().Status)

	require.NoError(t, m.RequestHumanAgent(""))
	require.Equal(t, StatusWaitingHuman, m.State().Status)
	require.Contains(t, m.PendingTimers(), TimerIdle)
}

func TestEnd_IsIdempotent(t *testing.T) {
	m, _, lg := newTestMachine(t, settingsPtr(DefaultSettings()))

	m.End("user closed widget")
	m.End("user closed widget")

	require.Equal(t, 1, countTo(m.Transitions(), StatusEnded))
	require.Empty(t, m.PendingTimers())

	n := 0
	for _, ev := range lg.all() {
		if ev.To == StatusEnded {
			n++
		}
	}
	require.Equal(t, 1, n)
}

func TestEnd_LogsActualFromStatus(t *testing.T) {
	m, _, _ := newTestMachine(t, settingsPtr(DefaultSettings()))
	require.NoError(t, m.RequestHumanAgent("help"))

	m.End("done")
	trs := m.Transitions()
	last := trs[len(trs)-1]
	require.Equal(t, StatusWaitingHuman, last.From)
	require.Equal(t, StatusEnded, last.To)
}

func TestEnded_RejectsMutation(t *testing.T) {
	m, _, _ := newTestMachine(t, settingsPtr(DefaultSettings()))
	m.End("bye")

	require.ErrorIs(t, m.RecordActivity(), ErrConversationEnded)
	_, err := m.IncrementMessageCount()
	require.ErrorIs(t, err, ErrConversationEnded)
	require.ErrorIs(t, m.RequestHumanAgent("x"), ErrConversationEnded)
	require.ErrorIs(t, m.RequestEnd(), ErrConversationEnded)
	require.ErrorIs(t, m.MarkAIReply(), ErrConversationEnded)
	require.ErrorIs(t, m.Initialize(nil), ErrConversationEnded)
}

func TestTwoStepEnd(t *testing.T) {
	m, _, _ := newTestMachine(t, settingsPtr(DefaultSettings()))

	require.ErrorIs(t, m.ConfirmEnd(), ErrEndNotRequested)
	require.Equal(t, StatusActive, m.State().Status)

	require.NoError(t, m.RequestEnd())
	require.True(t, m.State().EndPending)
	m.CancelEnd()
	require.False(t, m.State().EndPending)
	require.Equal(t, StatusActive, m.State().Status)
	require.ErrorIs(t, m.ConfirmEnd(), ErrEndNotRequested)

	require.NoError(t, m.RequestEnd())
	require.NoError(t, m.ConfirmEnd())
	st := m.State()
	require.Equal(t, StatusEnded, st.Status)
	require.False(t, st.EndPending)
	require.NoError(t, m.ConfirmEnd())
	require.Equal(t, 1, countTo(m.Transitions(), StatusEnded))
}

func TestLoggerFailureDoesNotBlockTransition(t *testing.T) {
	m, _, lg := newTestMachine(t, settingsPtr(DefaultSettings()))
	lg.err = errors.New("sink down")

	require.NoError(t, m.RequestHumanAgent("please"))
	require.Equal(t, StatusWaitingHuman, m.State().Status)
	require.Len(t, lg.all(), 2)
}

func TestObserverSeesTransitionsInOrder(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	var seen []Status
	m := NewMachine("conv-2", WithClock(c), WithObserver(func(ev TransitionEvent) {
		seen = append(seen, ev.To)
	}))
	defer m.Close()

	require.NoError(t, m.Initialize(settingsPtr(DefaultSettings())))
	require.NoError(t, m.RequestHumanAgent("x"))
	m.End("y")

	require.Equal(t, []Status{StatusActive, StatusWaitingHuman, StatusEnded}, seen)
}

func TestClose_CancelsAllTimers(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	m := NewMachine("conv-3", WithClock(c))
	require.NoError(t, m.Initialize(settingsPtr(DefaultSettings())))
	require.Equal(t, 3, c.Pending())

	m.Close()
	require.Zero(t, c.Pending())
	require.Empty(t, m.PendingTimers())

	// Activity after teardown must not re-arm anything.
	require.NoError(t, m.RecordActivity())
	require.Zero(t, c.Pending())

	c.Advance(time.Hour)
	require.Equal(t, StatusActive, m.State().Status)
}

func TestNotInitialized(t *testing.T) {
	m := NewMachine("conv-4", WithClock(clock.NewFake(time.Unix(0, 0))))
	defer m.Close()
	require.ErrorIs(t, m.RecordActivity(), ErrNotInitialized)
}
