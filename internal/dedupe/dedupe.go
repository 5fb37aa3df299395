package dedupe

import (
	"context"
	"sync"
)

// Tracker collapses duplicate sync triggers. At most one run is in
// flight; triggers recorded while it runs fold into a single follow-up
// run that starts when the current one returns.
type Tracker struct {
	run func(ctx context.Context)

	mu        sync.Mutex
	running   bool
	pending   bool
	seenCount int
	wg        sync.WaitGroup
}

// NewTracker creates a tracker that calls run for each collapsed trigger
func NewTracker(run func(ctx context.Context)) *Tracker {
	return &Tracker{run: run}
}

// Record records a trigger and returns the seen count: how many
// triggers the next run will answer, this one included.
func (t *Tracker) Record(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seenCount++
	if t.running {
		t.pending = true
		return t.seenCount
	}

	t.running = true
	t.wg.Add(1)
	go t.loop(ctx)
	return t.seenCount
}

// SeenCount returns the number of triggers waiting for the next run
func (t *Tracker) SeenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seenCount
}

// Wait blocks until no run is in flight or pending
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		t.mu.Lock()
		t.seenCount = 0
		t.pending = false
		t.mu.Unlock()

		t.run(ctx)

		t.mu.Lock()
		if !t.pending || ctx.Err() != nil {
			t.running = false
			t.pending = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}
