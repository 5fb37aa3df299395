package dedupe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_CollapsesTriggersDuringRun(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	tracker := NewTracker(func(ctx context.Context) {
		calls.Add(1)
		started <- struct{}{}
		<-release
	})

	ctx := context.Background()
	assert.Equal(t, 1, tracker.Record(ctx))
	<-started

	assert.Equal(t, 1, tracker.Record(ctx))
	assert.Equal(t, 2, tracker.Record(ctx))
	assert.Equal(t, 3, tracker.Record(ctx))
	assert.Equal(t, 3, tracker.SeenCount())

	release <- struct{}{}
	<-started
	assert.Equal(t, 0, tracker.SeenCount())
	release <- struct{}{}

	tracker.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestTracker_SequentialTriggersEachRun(t *testing.T) {
	var calls atomic.Int32
	tracker := NewTracker(func(ctx context.Context) {
		calls.Add(1)
	})

	for i := 0; i < 3; i++ {
		tracker.Record(context.Background())
		tracker.Wait()
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestTracker_CancelledContextDropsPending(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	tracker := NewTracker(func(ctx context.Context) {
		calls.Add(1)
		close(started)
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	tracker.Record(ctx)
	<-started
	tracker.Record(ctx)
	cancel()
	close(release)

	done := make(chan struct{})
	go func() {
		tracker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "tracker did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
