package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/logging"
)

func TestManagerWaitsForServices(t *testing.T) {
	m := NewManager("test", logging.Discard())

	var ticks atomic.Int32
	require.NoError(t, m.Go("ticker", func(h *Handle) {
		h.Every(time.Millisecond, func(context.Context) { ticks.Add(1) })
	}))

	assert.Eventually(t, func() bool { return ticks.Load() > 2 }, time.Second, time.Millisecond)

	m.Shutdown()
	assert.Empty(t, m.WaitWithTimeout(time.Second))
}

func TestManagerReportsStuckServices(t *testing.T) {
	m := NewManager("test", logging.Discard())
	h, err := m.NewServiceHandle("stuck")
	require.NoError(t, err)

	_, err = m.NewServiceHandle("stuck")
	assert.Error(t, err)

	m.Shutdown()
	assert.Equal(t, []string{"stuck"}, m.WaitWithTimeout(10*time.Millisecond))

	h.Close()
	h.Close()
	assert.Empty(t, m.WaitWithTimeout(time.Second))

	_, err = m.NewServiceHandle("late")
	assert.Error(t, err)
}

func TestHandleSleepInterrupted(t *testing.T) {
	m := NewManager("test", logging.Discard())
	h, err := m.NewServiceHandle("sleeper")
	require.NoError(t, err)
	defer h.Close()

	go m.Shutdown()
	assert.ErrorIs(t, h.Sleep(time.Minute), context.Canceled)
}
