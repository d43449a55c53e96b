// Package convert implements the Converter of spec.md §4.6: it
// orchestrates the JSONL Tailer (pkg/tailer), Content Filter
// (pkg/filter), and Part Writer (pkg/partwriter), detects mid-file
// edits via head/tail sample hashes, and persists the resulting cursor
// via pkg/syncstate. The append-only-vs-full-rebuild decision and the
// device/inode identity check are grounded on the ingestion engine's
// inode-tracking fast path in the retrieval pack's other_examples
// (behavioral ingestion's IngestOffset.Inode via syscall.Stat_t).
package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"syscall"
	"time"

	"github.com/memu-sync/memu-sync/pkg/filter"
	"github.com/memu-sync/memu-sync/pkg/partwriter"
	"github.com/memu-sync/memu-sync/pkg/syncstate"
	"github.com/memu-sync/memu-sync/pkg/tailer"
)

const sampleSize = 64 * 1024

// Config carries the per-session settings that influence layout and
// rebuild decisions. LangPrefix participates in the append-only guard:
// changing it forces a full rebuild (spec.md §4.6).
type Config struct {
	SessionID        string
	SessionPath      string
	PartsDir         string
	MaxMessages      int
	LangPrefix       string
	FlushIdleSeconds float64
	ForceFlush       bool
}

// Result reports what one Convert call produced.
type Result struct {
	NewParts []string
	Rebuilt  bool
}

// Convert runs one conversion pass for a session, per spec.md §4.6.
// sinceTS is the caller's hint (typically last_sync_ts); now is the
// wall-clock instant to stamp into the cursor's activity fields.
func Convert(cfg Config, state syncstate.GlobalState, sinceTS float64, now time.Time) (Result, syncstate.Cursor, error) {
	cursor := state.Sessions[cfg.SessionID]

	info, statErr := os.Stat(cfg.SessionPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Deleted session file: nothing to convert, cursor untouched.
			return Result{}, cursor, nil
		}
		return Result{}, cursor, statErr
	}

	nowTS := float64(now.Unix())

	if shortcut, ok := sinceTSShortcut(cfg, cursor, info, sinceTS, nowTS); ok {
		return Result{}, shortcut, nil
	}

	device, inode := fileIdentity(info)
	writer := &partwriter.Writer{
		Dir:         cfg.PartsDir,
		SessionID:   cfg.SessionID,
		MaxMessages: cfg.MaxMessages,
		LangPrefix:  cfg.LangPrefix,
	}

	if appendOnlyEligible(cfg, cursor, info, device, inode) {
		return convertAppendOnly(cfg, cursor, writer, info, device, inode, nowTS)
	}
	return convertFullRebuild(cfg, cursor, writer, info, device, inode, nowTS)
}

// sinceTSShortcut implements spec.md §4.6 "since_ts shortcut": skip
// entirely without touching disk when nothing could plausibly have
// changed. Per the Open Questions note (§9), size > last_offset is
// checked in addition to mtime since filesystem mtime granularity can
// be too coarse to trust alone.
func sinceTSShortcut(cfg Config, cursor syncstate.Cursor, info os.FileInfo, sinceTS, nowTS float64) (syncstate.Cursor, bool) {
	if sinceTS <= 0 {
		return syncstate.Cursor{}, false
	}
	mtime := float64(info.ModTime().Unix())
	if mtime > sinceTS {
		return syncstate.Cursor{}, false
	}
	if info.Size() > cursor.LastOffset {
		return syncstate.Cursor{}, false
	}
	if idleFlushDue(cursor, cfg, nowTS) {
		return syncstate.Cursor{}, false
	}
	return cursor, true
}

func idleFlushDue(cursor syncstate.Cursor, cfg Config, nowTS float64) bool {
	if cfg.ForceFlush && cursor.TailPartMessages > 0 {
		return true
	}
	if cursor.TailPartMessages == 0 {
		return false
	}
	idle := cfg.FlushIdleSeconds
	if idle <= 0 {
		idle = 1800
	}
	return nowTS-cursor.TailLastActivityTS >= idle
}

// appendOnlyEligible evaluates every guard in spec.md §4.6's
// append-only fast path; any single failure forces a full rebuild.
func appendOnlyEligible(cfg Config, cursor syncstate.Cursor, info os.FileInfo, device, inode uint64) bool {
	if cursor.FilePath == "" {
		return false // first observation of this session: always a full pass.
	}
	if cursor.Device != device || cursor.Inode != inode {
		return false
	}
	if info.Size() < cursor.LastOffset {
		return false
	}
	if cursor.LangPrefix != cfg.LangPrefix {
		return false
	}
	if headSample(cfg.SessionPath, info.Size()) != cursor.HeadSHA256 {
		return false
	}
	if tailSample(cfg.SessionPath, cursor.LastOffset) != cursor.TailSHA256 {
		return false
	}
	return true
}

func convertAppendOnly(cfg Config, cursor syncstate.Cursor, writer *partwriter.Writer, info os.FileInfo, device, inode uint64, nowTS float64) (Result, syncstate.Cursor, error) {
	read, err := tailer.ReadNew(cfg.SessionPath, cursor.LastOffset)
	if err != nil {
		return Result{}, cursor, err
	}

	newMessages := acceptAll(read.Entries)

	priorTail, err := writer.ReadTail()
	if err != nil {
		return Result{}, cursor, err
	}
	combined := append(priorTail, newMessages...)

	activityTS := cursor.TailLastActivityTS
	if len(newMessages) > 0 {
		activityTS = nowTS
	}

	plan, tailActivityTS, err := writeAppended(writer, cursor.PartCount, combined, idleFlushDue(cursor, cfg, nowTS), activityTS)
	if err != nil {
		return Result{}, cursor, err
	}

	next := cursor
	next.FilePath = cfg.SessionPath
	next.Device = device
	next.Inode = inode
	next.LastOffset = read.NewOffset
	next.LastSize = info.Size()
	next.LastMtime = float64(info.ModTime().Unix())
	next.PartCount = cursor.PartCount + plan.PartCount
	next.TailPartMessages = plan.TailPartMessages
	if plan.TailPartMessages > 0 {
		next.TailLastActivityTS = tailActivityTS
	} else {
		next.TailLastActivityTS = 0
	}
	next.LangPrefix = cfg.LangPrefix
	next.HeadSHA256 = headSample(cfg.SessionPath, info.Size())
	next.TailSHA256 = tailSample(cfg.SessionPath, next.LastOffset)

	return Result{NewParts: plan.PartsWritten}, next, nil
}

// writeAppended finalizes parts from the combined (prior-tail + new)
// message set, respecting the max_messages chunking invariant and the
// idle-flush / force-flush triggers of spec.md §4.5. startIndex is
// the part_count already on disk before this pass.
func writeAppended(writer *partwriter.Writer, startIndex int, combined []filter.Message, flushRemainder bool, activityTS float64) (partwriter.Plan, float64, error) {
	plan := partwriter.Plan{}
	partIndex := startIndex

	if writer.MaxMessages <= 0 {
		return plan, activityTS, nil
	}

	for len(combined) >= writer.MaxMessages {
		chunk := combined[:writer.MaxMessages]
		combined = combined[writer.MaxMessages:]
		path, written, err := writer.FinalizeTail(partIndex, chunk)
		if err != nil {
			return partwriter.Plan{}, activityTS, err
		}
		if written {
			plan.PartsWritten = append(plan.PartsWritten, path)
		}
		partIndex++
		plan.PartCount++
	}

	if flushRemainder && len(combined) > 0 {
		path, written, err := writer.FinalizeTail(partIndex, combined)
		if err != nil {
			return partwriter.Plan{}, activityTS, err
		}
		if written {
			plan.PartsWritten = append(plan.PartsWritten, path)
		}
		plan.PartCount++
		combined = nil
		activityTS = 0
	} else if err := writer.StageTail(combined); err != nil {
		return partwriter.Plan{}, activityTS, err
	}

	plan.TailPartMessages = len(combined)
	return plan, activityTS, nil
}

func convertFullRebuild(cfg Config, cursor syncstate.Cursor, writer *partwriter.Writer, info os.FileInfo, device, inode uint64, nowTS float64) (Result, syncstate.Cursor, error) {
	read, err := tailer.ReadNew(cfg.SessionPath, 0)
	if err != nil {
		return Result{}, cursor, err
	}

	all := acceptAll(read.Entries)
	plan, err := writer.Write(all)
	if err != nil {
		return Result{}, cursor, err
	}

	activityTS := float64(0)
	if plan.TailPartMessages > 0 {
		activityTS = nowTS
	}

	next := syncstate.Cursor{
		FilePath:           cfg.SessionPath,
		Device:             device,
		Inode:              inode,
		LastOffset:         read.NewOffset,
		LastSize:           info.Size(),
		LastMtime:          float64(info.ModTime().Unix()),
		PartCount:          plan.PartCount,
		TailPartMessages:   plan.TailPartMessages,
		TailLastActivityTS: activityTS,
		LangPrefix:         cfg.LangPrefix,
		HeadSHA256:         headSample(cfg.SessionPath, info.Size()),
		TailSHA256:         tailSample(cfg.SessionPath, read.NewOffset),
	}

	return Result{NewParts: plan.PartsWritten, Rebuilt: true}, next, nil
}

func acceptAll(entries []tailer.Entry) []filter.Message {
	var out []filter.Message
	for _, e := range entries {
		if msg, ok := filter.Accept(e.Parsed); ok {
			out = append(out, msg)
		}
	}
	return out
}

// headSample hashes [0, min(64K, size)) of path (spec.md §3).
func headSample(path string, size int64) string {
	n := size
	if n > sampleSize {
		n = sampleSize
	}
	return readHash(path, 0, n)
}

// tailSample hashes [offset-64K, offset) of path (spec.md §3).
func tailSample(path string, offset int64) string {
	start := offset - sampleSize
	if start < 0 {
		start = 0
	}
	return readHash(path, start, offset-start)
}

func readHash(path string, offset, length int64) string {
	if length <= 0 {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, length)
	n, _ := f.ReadAt(buf, offset)
	if n == 0 {
		return ""
	}
	sum := sha256.Sum256(buf[:n])
	return hex.EncodeToString(sum[:])
}

func fileIdentity(info os.FileInfo) (device, inode uint64) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Dev), stat.Ino
	}
	return 0, 0
}
