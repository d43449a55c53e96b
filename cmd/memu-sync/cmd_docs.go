package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/memu-sync/memu-sync/pkg/backoff"
	"github.com/memu-sync/memu-sync/pkg/config"
	"github.com/memu-sync/memu-sync/pkg/docsingest"
	"github.com/memu-sync/memu-sync/pkg/ingest"
	"github.com/memu-sync/memu-sync/pkg/lock"
	"github.com/memu-sync/memu-sync/pkg/logger"
	"github.com/memu-sync/memu-sync/pkg/memoryclient"
	"github.com/memu-sync/memu-sync/pkg/metastore"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
)

func newDocsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "Collect and ingest markdown docs from MEMU_EXTRA_PATHS (docs tributary of C6+C7)",
		RunE:  runDocs,
	}
}

// runDocs mirrors original_source/docs_ingest.py's main(): collect the
// files to ingest (a full scan, or one incremental change signaled via
// MEMU_CHANGED_PATH), dispatch them with modality="document" through
// the shared ingest driver, and — only after a full scan — persist the
// full-scan marker the watcher consults on its next startup.
func runDocs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dataDir, err := cfg.RequireDataDir()
	if err != nil {
		return err
	}
	setupLogging(dataDir)

	runLock, err := lock.Acquire(filepath.Join(os.TempDir(), "memu_sync.lock_docs_ingest"), lock.RunLock)
	if err != nil {
		logger.Info("docs", "docs_ingest already running; skip", nil)
		return nil
	}
	defer runLock.Release()

	extraPaths, err := cfg.ExtraPathList()
	if err != nil {
		return err
	}

	files, mode := docsingest.CollectMarkdownFiles(extraPaths, cfg.ChangedPath)
	if len(files) == 0 {
		logger.Info("docs", "no markdown files to ingest", map[string]any{"changed_path": cfg.ChangedPath})
		return nil
	}
	logger.Info("docs", "docs_ingest start", map[string]any{"mode": string(mode), "files": len(files)})

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
		logger.Warn("docs", "metadata store unavailable; existence checks degrade to re-ingest", map[string]any{"error": openErr.Error()})
	}

	// The docs tributary has no backoff/pending-queue persistence in
	// original_source/docs_ingest.py: a failed file is simply logged and
	// reconsidered on the next trigger, so Run's returned backoff state
	// (which only conversation sync persists) is intentionally discarded.
	outcome, _, err := ingest.Run(cmd.Context(), ingest.Config{
		UserID:            cfg.UserID,
		Modality:          "document",
		MemorizeTimeout:   time.Duration(cfg.MemorizeTimeoutSec) * time.Second,
		BackoffBase:       time.Duration(cfg.RateLimitBackoffSec) * time.Second,
		BackoffMax:        time.Duration(cfg.RateLimitBackoffMaxSec) * time.Second,
		DispatchRateLimit: rate.Limit(cfg.DispatchRatePerSec),
	}, svc, store, files, backoff.Cleared(), time.Now())
	if err != nil {
		return err
	}

	logger.Info("docs", "docs_ingest complete", map[string]any{"success": outcome.Success, "failed": outcome.Failed})

	if mode == docsingest.ModeFullScan {
		if err := syncstate.SaveFullScanMarker(docsingest.MarkerPath(dataDir), time.Now()); err != nil {
			logger.Warn("docs", "failed to persist full-scan marker", map[string]any{"error": err.Error()})
		}
	}
	return nil
}
