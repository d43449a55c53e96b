// Package ingest implements the Ingest Driver (C7) of spec.md §4.7:
// the pending queue, resource existence lookup, timeout-guarded
// dispatch to the memory service, and exponential rate-limit backoff
// whose cursor advances only on full success. The token-bucket
// throttle in front of dispatch is new wiring for golang.org/x/time/rate,
// composed with (not a replacement for) the backoff state machine —
// see DESIGN.md.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/memu-sync/memu-sync/pkg/backoff"
	"github.com/memu-sync/memu-sync/pkg/logger"
	"github.com/memu-sync/memu-sync/pkg/memoryclient"
)

// MemoryService is the subset of pkg/memoryclient.Client's surface the
// driver needs, named here so tests can substitute a fake.
type MemoryService interface {
	Memorize(ctx context.Context, resourceURL, modality, userID string) error
}

// MetadataStore is the subset of pkg/metastore.Store's surface the
// driver needs.
type MetadataStore interface {
	ResourceExists(ctx context.Context, url, userID string) bool
}

// Config carries the per-run settings of spec.md §6.
type Config struct {
	UserID            string
	Modality          string // "conversation" (default) or "document"
	MemorizeTimeout   time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	DispatchRateLimit rate.Limit // 0 disables throttling
}

// The sync start timestamp is captured by the caller (cmd/memu-sync)
// before Convert runs, per spec.md §4.7 step 3, so the cursor never
// advances past work the Converter hadn't yet considered.

// Outcome reports the result of one sync cycle, for logging and
// testing (spec.md §7's "sync complete. success=X, failed=Y" line).
type Outcome struct {
	Success        int
	Failed         int
	Skipped        string // "" | "existing" (all resources already indexed)
	LockHeld       bool
	BackoffActive  bool
	RemainingQueue []string
}

// Run executes the dispatch half of one sync cycle of spec.md §4.7
// (backoff check, existence lookup, timed memorize, backoff update);
// locking, conversion, queue merging and persistence are done by the
// caller. It assumes the run-lock is already held by the caller
// (cmd/memu-sync acquires it before calling Run, since lock lifetime
// spans more than this function alone — e.g. converter state loads).
func Run(
	ctx context.Context,
	cfg Config,
	svc MemoryService,
	store MetadataStore,
	pending []string,
	backoffState backoff.State,
	now time.Time,
) (Outcome, backoff.State, error) {
	if backoffState.Active(now) {
		logger.Info("ingest", "backoff active, skipping dispatch", map[string]any{
			"remaining_seconds": backoffState.RemainingWait(now).Seconds(),
		})
		return Outcome{BackoffActive: true, RemainingQueue: pending}, backoffState, nil
	}

	if len(pending) == 0 {
		return Outcome{}, backoff.Cleared(), nil
	}

	var limiter *rate.Limiter
	if cfg.DispatchRateLimit > 0 {
		limiter = rate.NewLimiter(cfg.DispatchRateLimit, 1)
	}

	var (
		remaining    []string
		success      int
		failed       int
		sawRateLimit bool
	)

	for _, path := range pending {
		if store != nil && store.ResourceExists(ctx, path, cfg.UserID) {
			continue // existing: skip as per spec.md §4.7 step 7.
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				remaining = append(remaining, path)
				failed++
				continue
			}
		}

		itemCtx, cancel := context.WithTimeout(ctx, memorizeTimeout(cfg))
		err := svc.Memorize(itemCtx, path, modality(cfg), cfg.UserID)
		cancel()

		if err == nil {
			success++
			continue
		}

		failed++
		remaining = append(remaining, path)

		if isRateLimited(err) {
			sawRateLimit = true
		}

		logger.Warn("ingest", "memorize failed", map[string]any{
			"path": path, "error": err.Error(),
		})
	}

	outcome := Outcome{Success: success, Failed: failed, RemainingQueue: remaining}
	if success == 0 && failed == 0 {
		outcome.Skipped = "existing"
	}

	if failed == 0 {
		logger.Info("ingest", fmt.Sprintf("sync complete. success=%d, failed=%d", success, failed), nil)
		return outcome, backoff.Cleared(), nil
	}

	next := backoffState
	if sawRateLimit {
		cfg2 := backoff.Config{
			BaseSeconds: int(cfg.BackoffBase.Seconds()),
			MaxSeconds:  int(cfg.BackoffMax.Seconds()),
		}
		next = backoffState.Arm(cfg2, now)
	}

	logger.Info("ingest", fmt.Sprintf("sync complete. success=%d, failed=%d", success, failed), nil)
	return outcome, next, nil
}

func modality(cfg Config) string {
	if cfg.Modality == "" {
		return "conversation"
	}
	return cfg.Modality
}

func memorizeTimeout(cfg Config) time.Duration {
	if cfg.MemorizeTimeout <= 0 {
		return 600 * time.Second
	}
	return cfg.MemorizeTimeout
}

// isRateLimited applies spec.md §4.7 step 7's detection rules: a
// memoryclient.Error of KindRateLimited, or a textual/code heuristic
// match as a fallback for errors from other transports.
func isRateLimited(err error) bool {
	var mcErr *memoryclient.Error
	if errors.As(err, &mcErr) {
		return mcErr.Kind == memoryclient.KindRateLimited
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "ratelimit") || strings.Contains(lower, "1302")
}
