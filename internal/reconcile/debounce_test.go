package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/support-widget/internal/clock"
)

func TestDebouncer(t *testing.T) {
	c := clock.NewFake(t0)
	d := NewDebouncer(c, time.Second)

	runs := 0
	d.Trigger(func() { runs++ })
	c.Advance(900 * time.Millisecond)
	d.Trigger(func() { runs++ })
	require.True(t, d.Pending())

	c.Advance(900 * time.Millisecond)
	require.Zero(t, runs)
	c.Advance(100 * time.Millisecond)
	require.Equal(t, 1, runs)
	require.False(t, d.Pending())

	d.Trigger(func() { runs++ })
	d.Cancel()
	c.Advance(time.Minute)
	require.Equal(t, 1, runs)
}
