package config

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Start blocks for the life of the session, so callers must run it on its own
// goroutine; this pins down that it returns promptly once the context ends.
func TestWatcherStartReturnsOnContextCancel(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Watcher{Path: path}.Start(ctx, func(SessionConfig, error) {})
	}()

	select {
	case err := <-done:
		t.Fatalf("watcher returned before cancellation: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestWatcherReportsEdits(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan error, 4)
	go func() {
		_ = Watcher{Path: path, Cooldown: time.Millisecond}.Start(ctx, func(_ SessionConfig, err error) {
			changes <- err
		})
	}()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0644))

	select {
	case err := <-changes:
		assert.NoError(t, err, "the edited file is valid and must re-parse cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("edit was never reported")
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	err := Watcher{Path: "whatever"}.Start(context.Background(), nil)
	assert.Error(t, err)
}
