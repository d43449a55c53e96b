package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/memu-sync/memu-sync/pkg/config"
	"github.com/memu-sync/memu-sync/pkg/docsingest"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print last sync time, pending queue size, and backoff state",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dataDir, err := cfg.RequireDataDir()
	if err != nil {
		return err
	}

	lastSync := syncstate.LoadLastSyncTS(filepath.Join(dataDir, "last_sync_ts"))
	pending := syncstate.LoadPendingQueue(filepath.Join(dataDir, "pending_ingest.json"))
	backoffState := syncstate.LoadBackoff(filepath.Join(dataDir, "pending_backoff.json"))
	_, hasMarker := syncstate.LoadFullScanMarker(docsingest.MarkerPath(dataDir))

	now := time.Now()
	fmt.Printf("last_sync_ts: %s\n", formatSyncTS(lastSync))
	fmt.Printf("pending: %d path(s)\n", len(pending.Paths))
	if backoffState.Active(now) {
		fmt.Printf("backoff: active, retry in %s\n", backoffState.RemainingWait(now).Round(time.Second))
	} else {
		fmt.Println("backoff: clear")
	}
	fmt.Printf("docs full-scan marker present: %v\n", hasMarker)
	fmt.Printf("run-lock (sync): %s\n", lockFilePresence("memu_sync.lock_auto_sync"))
	fmt.Printf("run-lock (docs): %s\n", lockFilePresence("memu_sync.lock_docs_ingest"))
	fmt.Printf("run-lock (watch): %s\n", lockFilePresence("memu_sync.lock_watch_sync"))
	return nil
}

func formatSyncTS(ts float64) string {
	if ts <= 0 {
		return "never"
	}
	return time.Unix(int64(ts), 0).Format(time.RFC3339)
}

// lockFilePresence reports a lock file's existence under the OS temp
// directory, best-effort: it does not validate the PID inside is
// still live, since that is pkg/lock.Acquire's job, not a read-only
// status report's.
func lockFilePresence(name string) string {
	if _, err := os.Stat(filepath.Join(os.TempDir(), name)); err != nil {
		return "free"
	}
	return "held"
}
