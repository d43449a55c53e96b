// Package metastore implements the External Clients (C9) MetadataStore
// adapter of spec.md §4.7/§4.9: a read-only existence lookup against
// the persistent relational store that records previously ingested
// resources. The sql.Open("sqlite", ...) + blank modernc.org/sqlite
// driver import and the query-then-scan idiom are adapted from the
// reference pack's pkg/swarm/memory/sqlite_store.go, narrowed to the
// single read-only query this module needs.
package metastore

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// Store is a read-only handle onto the metadata database. It never
// writes: the table is owned and populated by the memory service
// itself, which is out of scope here (spec.md §1).
type Store struct {
	db           *sql.DB
	hasUserIDCol bool
}

// Open connects to the sqlite database at dbPath and probes whether
// its resources table carries a user_id column, per spec.md §4.7
// "tolerant schema" lookup (query by url+user_id when that column
// exists, else by url alone).
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.hasUserIDCol = s.probeUserIDColumn(ctx)
	return s, nil
}

func (s *Store) probeUserIDColumn(ctx context.Context) bool {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(memu_resources)`)
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false
		}
		if name == "user_id" {
			return true
		}
	}
	return false
}

// ResourceExists reports whether url has already been ingested for
// userID. Any query failure degrades to "does not exist" — spec.md
// §4.7 prefers a conservative re-ingest over silently dropping a
// resource that may never actually have been recorded.
func (s *Store) ResourceExists(ctx context.Context, url, userID string) bool {
	if s == nil || s.db == nil {
		return false
	}

	var (
		row *sql.Row
	)
	if s.hasUserIDCol {
		row = s.db.QueryRowContext(ctx,
			`SELECT 1 FROM memu_resources WHERE url = ? AND user_id = ? LIMIT 1`, url, userID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT 1 FROM memu_resources WHERE url = ? LIMIT 1`, url)
	}

	var found int
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false
		}
		return false
	}
	return true
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
