package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/memu-sync/memu-sync/pkg/backoff"
	"github.com/memu-sync/memu-sync/pkg/config"
	"github.com/memu-sync/memu-sync/pkg/convert"
	"github.com/memu-sync/memu-sync/pkg/ingest"
	"github.com/memu-sync/memu-sync/pkg/lock"
	"github.com/memu-sync/memu-sync/pkg/logger"
	"github.com/memu-sync/memu-sync/pkg/memoryclient"
	"github.com/memu-sync/memu-sync/pkg/metastore"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Convert updated sessions and ingest them into the memory service (C6+C7)",
		RunE:  runSync,
	}
}

// runSync implements the 11-step sync cycle of spec.md §4.7 for the
// sessions tributary: acquire the run-lock, convert every session
// under OPENCLAW_SESSIONS_DIR, merge the result into the pending
// queue, then dispatch the queue through the ingest driver.
func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dataDir, err := cfg.RequireDataDir()
	if err != nil {
		return err
	}
	setupLogging(dataDir)

	runLock, err := lock.Acquire(filepath.Join(os.TempDir(), "memu_sync.lock_auto_sync"), lock.RunLock)
	if err != nil {
		logger.Info("sync", "auto_sync already running; skip", nil)
		return nil
	}
	defer runLock.Release()

	statePath := filepath.Join(dataDir, "conversations", "state.json")
	lastSyncPath := filepath.Join(dataDir, "last_sync_ts")
	pendingPath := filepath.Join(dataDir, "pending_ingest.json")
	backoffPath := filepath.Join(dataDir, "pending_backoff.json")
	partsDir := filepath.Join(dataDir, "conversations")

	state := syncstate.LoadGlobalState(statePath)
	lastSyncTS := syncstate.LoadLastSyncTS(lastSyncPath)
	pending := syncstate.LoadPendingQueue(pendingPath)
	backoffState := syncstate.LoadBackoff(backoffPath)

	now := time.Now()
	syncStartTS := float64(now.Unix())

	sessionFiles, err := filepath.Glob(filepath.Join(cfg.SessionsDir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("sync: glob sessions dir: %w", err)
	}
	sort.Strings(sessionFiles)

	var converted []string
	for _, sessionPath := range sessionFiles {
		sessionID := sessionIDFor(sessionPath)
		result, cursor, convErr := convert.Convert(convert.Config{
			SessionID:        sessionID,
			SessionPath:      sessionPath,
			PartsDir:         partsDir,
			MaxMessages:      cfg.MaxMessagesPerSession,
			LangPrefix:       cfg.LangPrefix(),
			FlushIdleSeconds: float64(cfg.FlushIdleSec),
			ForceFlush:       cfg.ForceFlush,
		}, state, lastSyncTS, now)
		if convErr != nil {
			logger.Warn("sync", "convert failed", map[string]any{"session": sessionID, "error": convErr.Error()})
			continue
		}
		state.Sessions[sessionID] = cursor
		converted = append(converted, result.NewParts...)
	}

	if err := syncstate.SaveGlobalState(statePath, state); err != nil {
		return err
	}

	merged := syncstate.MergeQueue(pending.Paths, converted)
	if err := syncstate.SavePendingQueue(pendingPath, syncstate.PendingQueue{Version: 1, Paths: merged}); err != nil {
		return err
	}

	if len(merged) == 0 {
		if err := syncstate.SaveLastSyncTS(lastSyncPath, syncStartTS); err != nil {
			return err
		}
		if err := syncstate.SaveBackoff(backoffPath, backoff.Cleared()); err != nil {
			return err
		}
		logger.Info("sync", "no updated sessions to ingest", nil)
		return nil
	}

	if backoffState.Active(now) {
		logger.Info("sync", "backoff active, skipping dispatch", map[string]any{
			"remaining_seconds": backoffState.RemainingWait(now).Seconds(),
		})
		return nil
	}

	svc := memoryclient.New(memoryclient.Config{
		BaseURL: cfg.Embed.BaseURL,
		APIKey:  cfg.Embed.APIKey,
		Model:   cfg.Embed.Model,
	})

	var store ingest.MetadataStore
	if dbStore, openErr := metastore.Open(cmd.Context(), filepath.Join(dataDir, "memu.db")); openErr == nil {
		store = dbStore
		defer dbStore.Close()
	} else {
		logger.Warn("sync", "metadata store unavailable; existence checks degrade to re-ingest", map[string]any{"error": openErr.Error()})
	}

	outcome, nextBackoff, err := ingest.Run(cmd.Context(), ingest.Config{
		UserID:            cfg.UserID,
		Modality:          "conversation",
		MemorizeTimeout:   time.Duration(cfg.MemorizeTimeoutSec) * time.Second,
		BackoffBase:       time.Duration(cfg.RateLimitBackoffSec) * time.Second,
		BackoffMax:        time.Duration(cfg.RateLimitBackoffMaxSec) * time.Second,
		DispatchRateLimit: rate.Limit(cfg.DispatchRatePerSec),
	}, svc, store, merged, backoffState, now)
	if err != nil {
		return err
	}

	if err := syncstate.SavePendingQueue(pendingPath, syncstate.PendingQueue{Version: 1, Paths: outcome.RemainingQueue}); err != nil {
		return err
	}
	if err := syncstate.SaveBackoff(backoffPath, nextBackoff); err != nil {
		return err
	}
	if outcome.Failed == 0 {
		if err := syncstate.SaveLastSyncTS(lastSyncPath, syncStartTS); err != nil {
			return err
		}
	}

	return nil
}
