package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	ch := c.After(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired early")
	default:
	}
	assert.Equal(t, 1, c.Waiters())

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, time.Unix(1, 0), got)
	default:
		t.Fatal("timer did not fire")
	}
	assert.Zero(t, c.Waiters())
}

func TestSleep_ContextCancelled(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, c, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleep_ZeroDuration(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), RealClock{}, 0))
}
