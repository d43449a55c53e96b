package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/memu-sync/memu-sync/pkg/config"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
	"github.com/memu-sync/memu-sync/pkg/watch"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the long-lived session and docs watcher (C8)",
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.DataDir)

	extraPaths, err := cfg.ExtraPathList()
	if err != nil {
		return err
	}

	w, err := watch.New(watch.Config{
		SessionsDir:      cfg.SessionsDir,
		ExtraPaths:       extraPaths,
		DataDir:          cfg.DataDir,
		LockDir:          os.TempDir(),
		FlushPollPeriod:  time.Duration(cfg.FlushPollSec) * time.Second,
		FlushIdleSeconds: float64(cfg.FlushIdleSec),
		WorkerBinary:     selfBinary(),
	})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	w.IdleChecker = idleChecker(cfg, w)

	go w.WaitForSignal()
	w.Run()
	return nil
}

// idleChecker reports whether the main session file's staged tail has
// gone idle long enough to warrant a flush-only sync, per spec.md
// §4.8's idle-flush poller. It re-reads the global cursor state fresh
// on every poll tick rather than caching it in-process, since a sync
// worker run between polls may have advanced it.
func idleChecker(cfg *config.Config, w *watch.Watcher) watch.IdleCheckerFunc {
	return func() (bool, float64) {
		mainSession := w.MainSessionPath()
		if mainSession == "" || cfg.DataDir == "" {
			return false, 0
		}

		statePath := filepath.Join(cfg.DataDir, "conversations", "state.json")
		state := syncstate.LoadGlobalState(statePath)
		cursor, ok := state.Sessions[sessionIDFor(mainSession)]
		if !ok || !cursor.HasTail() {
			return false, 0
		}

		if cfg.ForceFlush {
			return true, cursor.TailLastActivityTS
		}

		idle := float64(cfg.FlushIdleSec)
		if idle <= 0 {
			idle = 1800
		}
		if float64(time.Now().Unix())-cursor.TailLastActivityTS < idle {
			return false, 0
		}
		return true, cursor.TailLastActivityTS
	}
}
