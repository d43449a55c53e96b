// Package watch implements the Watcher (C8) of spec.md §4.8: two
// fsnotify-driven tributaries (sessions and docs) sharing one process,
// each debounced and gated by a per-handler trigger-lock before spawning
// a worker process, plus an idle-flush poller and singleton-lock release
// on SIGINT/SIGTERM. The watcher does not check the workers' own
// run-locks; a spawned worker that finds its run-lock held exits on its
// own. Events are handled one at a time on the Run loop; none are
// classified or dropped other than by the debounce and trigger-lock
// checks. The fsnotify directory-watch shape is adapted from the
// reference pack's internal/conv/watcher.go (gastownhall-tmux-adapter);
// the worker-spawn (exec.Command + process-group detach) and signal
// handling idiom are transcribed from the now-deleted teacher
// pkg/daemon/daemon.go pattern (see DESIGN.md).
package watch

import (
	"encoding/json"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/memu-sync/memu-sync/pkg/docsingest"
	"github.com/memu-sync/memu-sync/pkg/lock"
	"github.com/memu-sync/memu-sync/pkg/logger"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
)

// RegistryFileName is the small JSON index, living under SessionsDir,
// that names the one session file actively being synced (spec.md
// §4.8). Its absence is tolerated the same way C1's state readers
// tolerate a missing document: the sessions handler degrades to
// triggering on any .jsonl/.json write in that case, rather than
// refusing to ever sync.
const RegistryFileName = "session_registry.json"

type sessionRegistry struct {
	ActiveSession string `json:"active_session"`
}

// resolveMainSession reads the registry file and returns the absolute
// path of the currently active session file, or "" if the registry is
// absent, unreadable, or empty.
func resolveMainSession(sessionsDir string) string {
	data, err := os.ReadFile(filepath.Join(sessionsDir, RegistryFileName))
	if err != nil {
		return ""
	}
	var reg sessionRegistry
	if err := json.Unmarshal(data, &reg); err != nil || reg.ActiveSession == "" {
		return ""
	}
	if filepath.IsAbs(reg.ActiveSession) {
		return filepath.Clean(reg.ActiveSession)
	}
	return filepath.Join(sessionsDir, reg.ActiveSession)
}

// Debounce is the minimum interval between consecutive spawns of the
// same handler (spec.md §4.8).
const Debounce = 5 * time.Second

// Config configures one Watcher process.
type Config struct {
	SessionsDir      string
	ExtraPaths       []string // doc files/dirs, per MEMU_EXTRA_PATHS
	DataDir          string   // holds docs_full_scan.marker; "" skips the initial-scan check
	LockDir          string   // OS temp dir holding lock files
	FlushPollPeriod  time.Duration
	FlushIdleSeconds float64
	// WorkerBinary is the executable re-invoked for each spawn (the
	// same binary, re-entered with a subcommand, matching the
	// teacher's self-exec daemon pattern).
	WorkerBinary string
}

// handler tracks one tributary's debounce state.
type handler struct {
	name     string
	lastRun  time.Time
	lockPath string
	args     []string
	mu       sync.Mutex
}

// IdleCheckerFunc reports whether the main session file has been idle
// for at least FlushIdleSeconds with a non-trivial staged tail, and
// the mtime that staleness check was computed from (to avoid
// re-spawning repeatedly for the same unchanged file).
type IdleCheckerFunc func() (due bool, mtime float64)

// Watcher owns the fsnotify watchers for both tributaries plus the
// idle-flush poller, and releases its singleton lock on shutdown.
type Watcher struct {
	cfg             Config
	watcher         *fsnotify.Watcher
	sessions        *handler
	docs            *handler
	singleton       *lock.Lock
	stop            chan struct{}
	IdleChecker     IdleCheckerFunc
	lastIdleMtime   float64
	mainSessionPath string
}

// New creates a Watcher and acquires its singleton lock. The caller
// must call Run to start the event loop and WaitForSignal (or its own
// signal handling) to release the lock on shutdown.
func New(cfg Config) (*Watcher, error) {
	singleton, err := lock.Acquire(filepath.Join(cfg.LockDir, "memu_sync.lock_watch_sync"), lock.RunLock)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		singleton.Release()
		return nil, err
	}

	if err := fsw.Add(cfg.SessionsDir); err != nil {
		logger.Warn("watch", "failed to watch sessions dir", map[string]any{"dir": cfg.SessionsDir, "error": err.Error()})
	}
	for _, p := range cfg.ExtraPaths {
		addExtraPath(fsw, p)
	}

	w := &Watcher{
		cfg:     cfg,
		watcher: fsw,
		sessions: &handler{
			name:     "sessions",
			lockPath: filepath.Join(cfg.LockDir, "memu_sync.lock_trigger_sessions"),
			args:     []string{"sync"},
		},
		docs: &handler{
			name:     "docs",
			lockPath: filepath.Join(cfg.LockDir, "memu_sync.lock_trigger_docs"),
			args:     []string{"docs"},
		},
		singleton:       singleton,
		stop:            make(chan struct{}),
		mainSessionPath: resolveMainSession(cfg.SessionsDir),
	}

	if cfg.DataDir != "" {
		if _, ok := syncstate.LoadFullScanMarker(docsingest.MarkerPath(cfg.DataDir)); !ok {
			logger.Info("watch", "no full-scan marker found; triggering initial docs scan", nil)
			w.trigger(w.docs)
		}
	}

	return w, nil
}

// MainSessionPath returns the currently resolved active session file
// path ("" if no registry is present), for callers wiring an
// IdleChecker against the same file the sessions handler watches.
func (w *Watcher) MainSessionPath() string {
	return w.mainSessionPath
}

// addExtraPath watches p for the docs tributary: if p is a directory it
// is watched recursively (every subdirectory gets its own fsnotify
// watch, since fsnotify has no native recursive mode); if p is a file
// only its parent directory is watched, per spec.md §4.8.
func addExtraPath(fsw *fsnotify.Watcher, p string) {
	info, statErr := os.Stat(p)
	if statErr != nil {
		logger.Warn("watch", "extra path does not exist yet", map[string]any{"path": p, "error": statErr.Error()})
		return
	}

	if !info.IsDir() {
		if err := fsw.Add(filepath.Dir(p)); err != nil {
			logger.Warn("watch", "failed to watch docs path", map[string]any{"path": filepath.Dir(p), "error": err.Error()})
		}
		return
	}

	_ = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable subtrees.
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			logger.Warn("watch", "failed to watch docs subdir", map[string]any{"path": path, "error": err.Error()})
		}
		return nil
	})
}

// Close releases the singleton lock and the fsnotify watcher. Safe to
// call from a signal handler path.
func (w *Watcher) Close() {
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.singleton.Release()
}

// WaitForSignal blocks until SIGINT/SIGTERM, then releases the
// singleton lock, matching spec.md §4.8's "SIGINT/SIGTERM release it".
func (w *Watcher) WaitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(w.stop)
	w.Close()
}

// Run drives the fsnotify event loop plus the idle-flush poller until
// Close is called. It blocks; callers typically run it in the main
// goroutine alongside a signal handler set up via WaitForSignal in
// another goroutine.
func (w *Watcher) Run() {
	pollTicker := time.NewTicker(flushPollPeriod(w.cfg))
	defer pollTicker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch", "fsnotify error", map[string]any{"error": err.Error()})
		case <-pollTicker.C:
			w.checkIdleFlush()
		}
	}
}

func flushPollPeriod(cfg Config) time.Duration {
	if cfg.FlushPollPeriod <= 0 {
		return 60 * time.Second
	}
	return cfg.FlushPollPeriod
}

// handleEvent routes a raw fsnotify event to the sessions or docs
// tributary per spec.md §4.8. Only Write/Create events matter; other
// op bits (Remove, Rename, Chmod) are ignored.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	dir := filepath.Dir(event.Name)
	if sameDir(dir, w.cfg.SessionsDir) {
		if filepath.Base(event.Name) == RegistryFileName {
			w.mainSessionPath = resolveMainSession(w.cfg.SessionsDir)
			w.trigger(w.sessions)
			return
		}
		ext := strings.ToLower(filepath.Ext(event.Name))
		if ext != ".jsonl" && ext != ".json" {
			return
		}
		// With no registry present, degrade to triggering on any
		// session write rather than refusing to sync at all.
		if w.mainSessionPath == "" || filepath.Clean(event.Name) == w.mainSessionPath {
			w.trigger(w.sessions)
		}
		return
	}

	if strings.ToLower(filepath.Ext(event.Name)) == ".md" && w.matchesExtraPath(event.Name) {
		w.triggerWithPath(w.docs, event.Name)
	}
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

func (w *Watcher) matchesExtraPath(changed string) bool {
	for _, p := range w.cfg.ExtraPaths {
		rel, err := filepath.Rel(p, changed)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
		if filepath.Clean(p) == filepath.Clean(changed) {
			return true
		}
	}
	return false
}

// trigger spawns h's worker if the debounce window has elapsed and
// its trigger-lock isn't already held.
func (w *Watcher) trigger(h *handler) {
	w.triggerWithEnv(h, nil)
}

func (w *Watcher) triggerWithPath(h *handler, changedPath string) {
	w.triggerWithEnv(h, []string{"MEMU_CHANGED_PATH=" + changedPath})
}

func (w *Watcher) triggerWithEnv(h *handler, extraEnv []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastRun) < Debounce {
		return
	}

	triggerLock, err := lock.Acquire(h.lockPath, lock.TriggerLock)
	if err != nil {
		logger.Info("watch", h.name+" trigger already running; skip", nil)
		return
	}

	h.lastRun = time.Now()
	spawnWorker(w.cfg.WorkerBinary, h.args, extraEnv, triggerLock)
}

// spawnWorker re-execs the current binary with args in a detached
// process group (Setpgid), so the watcher's own signal handling
// doesn't propagate to in-flight workers, and releases triggerLock
// once the spawn attempt completes — the worker's own run-lock
// (acquired inside the child process) is the real exclusion
// mechanism; the trigger-lock here only prevents the watcher itself
// from double-spawning for the same debounce window.
func spawnWorker(binary string, args []string, extraEnv []string, triggerLock *lock.Lock) {
	defer triggerLock.Release()

	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		logger.Warn("watch", "failed to spawn worker", map[string]any{"binary": binary, "args": args, "error": err.Error()})
		return
	}

	go func() {
		_ = cmd.Wait()
	}()
}

// checkIdleFlush implements spec.md §4.8's idle-flush poller: if the
// caller-supplied IdleChecker (wired by cmd/memu-sync) reports a
// stale tail, spawn the sessions worker once for that mtime.
func (w *Watcher) checkIdleFlush() {
	if w.IdleChecker == nil {
		return
	}
	due, mtime := w.IdleChecker()
	if !due {
		return
	}
	if w.lastIdleMtime == mtime {
		return // already spawned for this mtime.
	}
	w.lastIdleMtime = mtime
	w.trigger(w.sessions)
}
