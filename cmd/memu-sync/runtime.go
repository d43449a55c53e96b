package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/memu-sync/memu-sync/pkg/logger"
)

// selfBinary resolves the path workers re-exec into, matching the
// reference daemon's self-exec pattern: the watcher spawns the same
// binary it is, invoked with a different subcommand.
func selfBinary() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

// setupLogging wires the structured JSON log and the plain sync.log
// append line under dataDir, per spec.md §6's persisted-files table.
// Failures here are non-fatal: every logger call still reaches stderr
// regardless of whether a file sink was opened.
func setupLogging(dataDir string) {
	if strings.TrimSpace(dataDir) == "" {
		return
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return
	}
	if err := logger.EnableSyncLog(filepath.Join(dataDir, "sync.log")); err != nil {
		logger.Warn("cli", "failed to open sync.log", map[string]any{"error": err.Error()})
	}
	if err := logger.EnableFileLogging(filepath.Join(dataDir, "memu_sync.jsonl")); err != nil {
		logger.Warn("cli", "failed to open structured log file", map[string]any{"error": err.Error()})
	}
}

// sessionIDFor derives a session's cursor-map key from its file path:
// the base filename without extension, matching
// original_source/convert_sessions.py's `os.path.basename(file_path).
// replace(".jsonl", "")`.
func sessionIDFor(sessionPath string) string {
	base := filepath.Base(sessionPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
