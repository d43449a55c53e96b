// Package syncstate implements the State Store of spec.md §4.1: atomic
// single-document persistence for the global session-cursor state, the
// pending ingest queue, the rate-limit backoff document, the last-sync
// timestamp, and the docs full-scan marker. Every document here is
// written with the write-to-temp + rename idiom, adapted from the
// reference codebase's pkg/state/state.go, so that readers never observe
// a torn write.
package syncstate

// Cursor is the per-session resumption record of spec.md §3 "Session
// cursor".
type Cursor struct {
	FilePath string `json:"file_path"`
	Device   uint64 `json:"device"`
	Inode    uint64 `json:"inode"`

	LastOffset int64   `json:"last_offset"`
	LastSize   int64   `json:"last_size"`
	LastMtime  float64 `json:"last_mtime"`

	PartCount        int `json:"part_count"`
	TailPartMessages int `json:"tail_part_messages"`

	// TailLastActivityTS is non-null (non-zero) iff TailPartMessages > 0
	// (spec.md §3 invariant). A zero value means "null".
	TailLastActivityTS float64 `json:"tail_last_activity_ts,omitempty"`

	LangPrefix string `json:"lang_prefix,omitempty"`

	HeadSHA256 string `json:"head_sha256,omitempty"`
	TailSHA256 string `json:"tail_sha256,omitempty"`
}

// HasTail reports whether the invariant-bearing tail-activity timestamp
// should be set, i.e. there are staged-but-unfinalized messages.
func (c Cursor) HasTail() bool {
	return c.TailPartMessages > 0
}

const (
	// CurrentVersion is the schema version written by this
	// implementation (spec.md §3: "version ... monotonic").
	CurrentVersion = 4
	// PredecessorVersion is the only version migrated in place; anything
	// older or newer than this and CurrentVersion is discarded.
	PredecessorVersion = 3
)

// GlobalState is the top-level document persisted at
// conversations/state.json (spec.md §6).
type GlobalState struct {
	Version  int               `json:"version"`
	Sessions map[string]Cursor `json:"sessions"`
}

// NewGlobalState returns an empty, current-version state document.
func NewGlobalState() GlobalState {
	return GlobalState{Version: CurrentVersion, Sessions: map[string]Cursor{}}
}

// migrate upgrades a v3 document to v4 in place, preserving every cursor
// so downstream part sizing across a restart is not disturbed (spec.md
// §4.1). v3->v4 added no session-level fields in this pipeline's
// lifetime, so migration is a version-stamp bump; this function is the
// single place a future schema change would add field-level conversion.
func migrate(raw GlobalState) GlobalState {
	raw.Version = CurrentVersion
	if raw.Sessions == nil {
		raw.Sessions = map[string]Cursor{}
	}
	return raw
}
