package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/support-widget/internal/clock"
)

func TestTimerBank_RescheduleReplaces(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	b := NewTimerBank(c)

	fired := 0
	b.Schedule(TimerIdle, time.Minute, func() { fired++ })
	b.Schedule(TimerIdle, 2*time.Minute, func() { fired += 10 })
	require.Equal(t, 1, c.Pending())

	c.Advance(time.Minute)
	require.Zero(t, fired)
	c.Advance(time.Minute)
	require.Equal(t, 10, fired)
	require.False(t, b.IsPending(TimerIdle))
}

func TestTimerBank_CancelAndClose(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	b := NewTimerBank(c)

	fired := false
	b.Schedule(TimerIdle, time.Minute, func() { fired = true })
	b.Schedule(TimerMaxSession, time.Minute, func() { fired = true })
	b.Cancel(TimerIdle)
	require.Equal(t, []TimerKey{TimerMaxSession}, b.Pending())

	b.Close()
	require.Empty(t, b.Pending())
	b.Schedule(TimerIdle, time.Second, func() { fired = true })
	require.Empty(t, b.Pending())

	c.Advance(time.Hour)
	require.False(t, fired)
	require.Zero(t, c.Pending())
}
