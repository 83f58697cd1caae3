package groups

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgast/dispatchd/internal/logging"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	path := writeGroupsFile(t, "groups:\n  users: [alice]\n")

	store := NewStore(path)
	require.NoError(t, store.Load())

	w, err := NewWatcher(store, logging.Discard())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("groups:\n  users: [alice, carol]\n"), 0644))

	waitFor(t, func() bool { return store.IsMember("carol", "users") },
		"store never picked up the new member")
}

func TestWatcherSurvivesMalformedWrite(t *testing.T) {
	path := writeGroupsFile(t, "groups:\n  users: [alice]\n")

	store := NewStore(path)
	require.NoError(t, store.Load())

	w, err := NewWatcher(store, logging.Discard())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// A broken write must not poison the snapshot.
	require.NoError(t, os.WriteFile(path, []byte("groups: [broken"), 0644))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, store.IsMember("alice", "users"))

	// And the watcher keeps working afterwards.
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  users: [bob]\n"), 0644))
	waitFor(t, func() bool { return store.IsMember("bob", "users") },
		"store never recovered after malformed write")
}
