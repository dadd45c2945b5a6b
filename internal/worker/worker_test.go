package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls int64
}

func (c *countingExpirer) ExpireStale(context.Context) (int64, error) {
	atomic.AddInt64(&c.calls, 1)
	return 0, nil
}

func TestExpiryWorkerSweepsImmediately(t *testing.T) {
	expirer := &countingExpirer{}
	w := NewExpiryWorker(expirer, time.Hour)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	assert.Equal(t, int64(1), atomic.LoadInt64(&expirer.calls),
		"one sweep runs at startup, before the first tick")
}

func TestExpiryWorkerStops(t *testing.T) {
	expirer := &countingExpirer{}
	w := NewExpiryWorker(expirer, 50*time.Millisecond)

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(120 * time.Millisecond)
	w.Stop()

	after := atomic.LoadInt64(&expirer.calls)
	assert.GreaterOrEqual(t, after, int64(2))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt64(&expirer.calls), "no sweeps after Stop")
}
