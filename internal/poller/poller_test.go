package poller_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpm-dashboard/internal/poller"
)

func TestPoller_FiresImmediatelyThenOnInterval(t *testing.T) {
	var count atomic.Int64

	p := poller.New("test", 20*time.Millisecond, zap.NewNop())
	require.NoError(t, p.Start(context.Background(), func(ctx context.Context) {
		count.Add(1)
	}))
	defer p.Stop()

	// 启动后立刻执行一次
	require.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, time.Millisecond)

	// 随后按间隔继续执行
	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestPoller_StopPreventsFurtherRuns(t *testing.T) {
	var count atomic.Int64

	p := poller.New("test", 10*time.Millisecond, zap.NewNop())
	require.NoError(t, p.Start(context.Background(), func(ctx context.Context) {
		count.Add(1)
	}))

	require.Eventually(t, func() bool { return count.Load() >= 2 }, time.Second, time.Millisecond)

	p.Stop()
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, count.Load())
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	p := poller.New("test", 10*time.Millisecond, zap.NewNop())
	require.NoError(t, p.Start(context.Background(), func(ctx context.Context) {}))

	p.Stop()
	p.Stop()
	p.Stop()
}

func TestPoller_StopBeforeStart(t *testing.T) {
	p := poller.New("test", 10*time.Millisecond, zap.NewNop())
	p.Stop()
}

func TestPoller_DoubleStartIsError(t *testing.T) {
	p := poller.New("test", 10*time.Millisecond, zap.NewNop())
	require.NoError(t, p.Start(context.Background(), func(ctx context.Context) {}))
	defer p.Stop()

	assert.Error(t, p.Start(context.Background(), func(ctx context.Context) {}))
}

func TestPoller_ContextCancelStops(t *testing.T) {
	var count atomic.Int64

	ctx, cancel := context.WithCancel(context.Background())
	p := poller.New("test", 10*time.Millisecond, zap.NewNop())
	require.NoError(t, p.Start(ctx, func(ctx context.Context) {
		count.Add(1)
	}))

	require.Eventually(t, func() bool { return count.Load() >= 1 }, time.Second, time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	after := count.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, count.Load())

	p.Stop()
}

func TestPoller_InvalidInterval(t *testing.T) {
	p := poller.New("test", 0, zap.NewNop())
	assert.Error(t, p.Start(context.Background(), func(ctx context.Context) {}))
}
