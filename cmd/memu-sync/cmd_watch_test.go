package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memu-sync/memu-sync/pkg/config"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
	"github.com/memu-sync/memu-sync/pkg/watch"
)

func newIdleTestWatcher(t *testing.T, sessionsDir string) *watch.Watcher {
	t.Helper()
	w, err := watch.New(watch.Config{
		SessionsDir:  sessionsDir,
		LockDir:      t.TempDir(),
		WorkerBinary: "echo",
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func writeRegistry(t *testing.T, sessionsDir, activeSession string) {
	t.Helper()
	data, err := json.Marshal(map[string]string{"active_session": activeSession})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sessionsDir, "session_registry.json"), data, 0o644))
}

func TestIdleChecker_NoMainSessionReturnsNotDue(t *testing.T) {
	sessionsDir := t.TempDir()
	w := newIdleTestWatcher(t, sessionsDir)
	cfg := &config.Config{DataDir: t.TempDir()}

	due, _ := idleChecker(cfg, w)()
	assert.False(t, due)
}

func TestIdleChecker_NoTailIsNotDue(t *testing.T) {
	sessionsDir := t.TempDir()
	writeRegistry(t, sessionsDir, "main.jsonl")
	w := newIdleTestWatcher(t, sessionsDir)
	cfg := &config.Config{DataDir: t.TempDir(), FlushIdleSec: 1800}

	due, _ := idleChecker(cfg, w)()
	assert.False(t, due)
}

func TestIdleChecker_StaleTailIsDue(t *testing.T) {
	sessionsDir := t.TempDir()
	writeRegistry(t, sessionsDir, "main.jsonl")
	w := newIdleTestWatcher(t, sessionsDir)
	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir, FlushIdleSec: 60}

	state := syncstate.NewGlobalState()
	state.Sessions["main"] = syncstate.Cursor{
		TailPartMessages:   3,
		TailLastActivityTS: float64(time.Now().Add(-2 * time.Hour).Unix()),
	}
	require.NoError(t, syncstate.SaveGlobalState(filepath.Join(dataDir, "conversations", "state.json"), state))

	due, mtime := idleChecker(cfg, w)()
	assert.True(t, due)
	assert.Equal(t, state.Sessions["main"].TailLastActivityTS, mtime)
}

func TestIdleChecker_RecentTailIsNotDue(t *testing.T) {
	sessionsDir := t.TempDir()
	writeRegistry(t, sessionsDir, "main.jsonl")
	w := newIdleTestWatcher(t, sessionsDir)
	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir, FlushIdleSec: 1800}

	state := syncstate.NewGlobalState()
	state.Sessions["main"] = syncstate.Cursor{
		TailPartMessages:   3,
		TailLastActivityTS: float64(time.Now().Unix()),
	}
	require.NoError(t, syncstate.SaveGlobalState(filepath.Join(dataDir, "conversations", "state.json"), state))

	due, _ := idleChecker(cfg, w)()
	assert.False(t, due)
}

func TestIdleChecker_ForceFlushIsAlwaysDueWithTail(t *testing.T) {
	sessionsDir := t.TempDir()
	writeRegistry(t, sessionsDir, "main.jsonl")
	w := newIdleTestWatcher(t, sessionsDir)
	dataDir := t.TempDir()
	cfg := &config.Config{DataDir: dataDir, ForceFlush: true}

	state := syncstate.NewGlobalState()
	state.Sessions["main"] = syncstate.Cursor{
		TailPartMessages:   1,
		TailLastActivityTS: float64(time.Now().Unix()),
	}
	require.NoError(t, syncstate.SaveGlobalState(filepath.Join(dataDir, "conversations", "state.json"), state))

	due, _ := idleChecker(cfg, w)()
	assert.True(t, due)
}
