package acceptor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunScheduler_RunOnce(t *testing.T) {
	callCount := 0
	scheduler := NewDefaultRunScheduler(100*time.Millisecond, true, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error {
		callCount++
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	assert.Equal(t, 1, callCount, "Expected callback to be called exactly once")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, callCount, "Expected no further runs in run-once mode")
}

func TestDefaultRunScheduler_Periodic(t *testing.T) {
	callChan := make(chan struct{}, 10)
	expectedCalls := 4

	scheduler := NewDefaultRunScheduler(10*time.Millisecond, false, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error {
		callChan <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))

	for i := 0; i < expectedCalls; i++ {
		select {
		case <-callChan:
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for run %d/%d", i+1, expectedCalls)
		}
	}

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))
	assert.True(t, scheduler.Stopped())

	// Drain anything sent before Stop took effect, then make sure nothing
	// else arrives.
	for len(callChan) > 0 {
		<-callChan
	}
	select {
	case <-callChan:
		t.Fatal("Expected no more runs after stopping")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDefaultRunScheduler_RunOnceError(t *testing.T) {
	expectedError := NewComparisonFailureError("client-1")

	scheduler := NewDefaultRunScheduler(100*time.Millisecond, true, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error {
		return expectedError
	})

	err := scheduler.Start(context.Background())
	assert.Equal(t, expectedError, err)
}

func TestDefaultRunScheduler_PeriodicErrorKeepsRunning(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewDefaultRunScheduler(5*time.Millisecond, false, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("run failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))
}

func TestDefaultRunScheduler_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	scheduler := NewDefaultRunScheduler(time.Hour, false, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	<-started
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(ctx))
	assert.True(t, cancelled.Load(), "an in-flight run must see its context cancelled")
}

func TestDefaultRunScheduler_ContextCancel(t *testing.T) {
	scheduler := NewDefaultRunScheduler(5*time.Millisecond, false, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, scheduler.WaitForShutdown(waitCtx))
	assert.True(t, scheduler.Stopped())
}

func TestDefaultRunScheduler_NoCallback(t *testing.T) {
	scheduler := NewDefaultRunScheduler(100*time.Millisecond, true, testlog.Logger(t, log.LevelInfo))
	err := scheduler.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback must be registered")
}

func TestDefaultRunScheduler_StopTwice(t *testing.T) {
	scheduler := NewDefaultRunScheduler(time.Hour, false, testlog.Logger(t, log.LevelInfo))
	scheduler.RegisterCallback(func(ctx context.Context) error { return nil })
	require.NoError(t, scheduler.Start(context.Background()))
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.Stop())
}
