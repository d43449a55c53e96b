// Package docsingest implements the docs tributary of spec.md §4.8's
// Watcher/Ingest Driver pairing for the second, document-shaped input
// surface of this pipeline: markdown files referenced by
// MEMU_EXTRA_PATHS. It is adapted line-for-line in spirit from
// original_source/docs_ingest.py (see DESIGN.md), narrowed to the
// collect-files and mode-selection half; the actual dispatch loop
// (existence check, per-item timeout, success/fail counting) reuses
// pkg/ingest.Run since the two tributaries fail, skip, and log
// identically — only the resource collection and modality differ.
package docsingest

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FullScanMarkerFile gates the one-time full walk of extra paths: once
// written (via pkg/syncstate.SaveFullScanMarker), the watcher's initial
// start no longer triggers a full scan, per spec.md §4.8 "On first
// start, performs a full-scan only if the persistent full-scan marker
// is absent."
const FullScanMarkerFile = "docs_full_scan.marker"

// Mode reports whether a call to CollectMarkdownFiles walked the full
// configured tree or served one incremental change.
type Mode string

const (
	ModeFullScan    Mode = "full-scan"
	ModeIncremental Mode = "incremental"
)

// CollectMarkdownFiles returns the absolute, sorted, de-duplicated set
// of markdown files to ingest. If changedPath is non-empty, only that
// path is considered — and only if it falls under one of extraPaths —
// matching docs_ingest.py's _collect_markdown_files. Otherwise every
// extra path is walked (directories recursively, files individually).
func CollectMarkdownFiles(extraPaths []string, changedPath string) ([]string, Mode) {
	files := make(map[string]struct{})

	if strings.TrimSpace(changedPath) != "" {
		cp, err := filepath.Abs(changedPath)
		if err != nil {
			return nil, ModeIncremental
		}
		if !isUnderAnyPrefix(cp, extraPaths) {
			return nil, ModeIncremental
		}

		info, statErr := os.Stat(cp)
		if statErr != nil {
			return nil, ModeIncremental
		}
		if info.IsDir() {
			scanDir(cp, files)
		} else {
			addFile(cp, files)
		}
		return sortedKeys(files), ModeIncremental
	}

	for _, p := range extraPaths {
		info, statErr := os.Stat(p)
		if statErr != nil {
			continue
		}
		if info.IsDir() {
			scanDir(p, files)
		} else {
			addFile(p, files)
		}
	}
	return sortedKeys(files), ModeFullScan
}

func addFile(p string, files map[string]struct{}) {
	if !strings.HasSuffix(strings.ToLower(p), ".md") {
		return
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return
	}
	if info, err := os.Stat(abs); err != nil || info.IsDir() {
		return
	}
	files[abs] = struct{}{}
}

func scanDir(dir string, files map[string]struct{}) {
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort, matches the original's broad except.
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(path), ".md") {
			if abs, absErr := filepath.Abs(path); absErr == nil {
				files[abs] = struct{}{}
			}
		}
		return nil
	})
}

// isUnderAnyPrefix reports whether path is equal to, or nested under,
// any of prefixes.
func isUnderAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		abs, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		if path == abs {
			return true
		}
		rel, err := filepath.Rel(abs, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarkerPath returns the full-scan marker's path under dataDir, for
// callers to pass to syncstate.LoadFullScanMarker/SaveFullScanMarker.
func MarkerPath(dataDir string) string {
	return filepath.Join(dataDir, FullScanMarkerFile)
}
