// Package tailer implements the byte-offset resumable JSONL reader of
// spec.md §4.3. The read-loop and partial-line tolerance are adapted
// from the reference pack's internal/conv/tailer.go (gastownhall), which
// streams lines over a channel driven by fsnotify; here the same
// line-reading discipline is rewritten as a single synchronous call that
// returns everything new since an offset, since the Converter (C6) is
// driven by discrete sync cycles rather than a live event stream.
package tailer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Entry is one raw JSONL record together with its decoded form. Content
// filtering (C4) operates on Parsed; the Converter never needs Raw
// directly but callers that want to re-serialize use it to avoid
// re-encoding whitespace differences.
type Entry struct {
	Raw    json.RawMessage
	Parsed map[string]any
}

// Result is the outcome of one ReadNew call.
type Result struct {
	Entries   []Entry
	NewOffset int64
}

// ReadNew opens path read-only, seeks to fromOffset, and reads complete
// JSONL lines until end of file, applying spec.md §4.3's advancement
// rules:
//
//   - no bytes read: stop.
//   - a line with no trailing newline that fails to parse as JSON: do
//     not advance past it; stop (the next sync cycle retries it).
//   - a line that parses (with or without a trailing newline): advance
//     unconditionally.
//   - a complete line (trailing newline present) that fails to parse:
//     skip it, advance past it, continue (ParseFailure, spec.md §7).
//
// A missing file is not an error: it is treated as zero bytes available,
// and fromOffset is returned unchanged (this mirrors the deleted-session
// handling in the reference pipeline's original Python predecessor).
func ReadNew(path string, fromOffset int64) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{NewOffset: fromOffset}, nil
		}
		return Result{}, fmt.Errorf("tailer: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(fromOffset, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("tailer: seek %s: %w", path, err)
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	offset := fromOffset
	var entries []Entry

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) == 0 {
			// No bytes at all: stop per spec.md §4.3.
			break
		}

		hasNewline := bytes.HasSuffix(line, []byte("\n"))
		trimmed := bytes.TrimRight(line, "\r\n")

		if len(trimmed) == 0 {
			// Blank line: always consumable, advances past it.
			offset += int64(len(line))
			if readErr == io.EOF {
				break
			}
			continue
		}

		var parsed map[string]any
		parseErr := json.Unmarshal(trimmed, &parsed)

		switch {
		case parseErr == nil:
			// Parses, regardless of trailing newline: advance
			// unconditionally and emit.
			entries = append(entries, Entry{
				Raw:    json.RawMessage(append([]byte(nil), trimmed...)),
				Parsed: parsed,
			})
			offset += int64(len(line))
		case hasNewline:
			// Complete line, bad JSON: skip it, advance past it,
			// keep going (ParseFailure).
			offset += int64(len(line))
		default:
			// No trailing newline and invalid JSON: a genuine partial
			// write. Do not advance past this line; stop.
			if readErr == io.EOF {
				return Result{Entries: entries, NewOffset: offset}, nil
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return Result{Entries: entries, NewOffset: offset}, fmt.Errorf("tailer: read %s: %w", path, readErr)
		}
	}

	return Result{Entries: entries, NewOffset: offset}, nil
}
