package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, events <-chan Event, want string) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Path == want {
				return ev
			}
		case <-timeout:
			require.FailNow(t, "no event for "+want)
		}
	}
}

func TestWatcher_ReportsChangesInNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 64)
	go w.Run(ctx, func(ev Event) { events <- ev })

	sub := filepath.Join(root, "trips")
	require.NoError(t, os.Mkdir(sub, 0o755))
	ev := waitFor(t, events, sub)
	require.Equal(t, Created, ev.Type)

	file := filepath.Join(sub, "a.jpg")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	waitFor(t, events, file)

	require.NoError(t, os.Remove(file))
	for {
		ev := waitFor(t, events, file)
		if ev.Type == Removed {
			break
		}
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, func(Event) {}) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Run did not return")
	}
}

func TestNew_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
}
