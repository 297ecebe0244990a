// Package audit records a durable history of committed ticks to a
// SQLite database, queryable by the vfdswmrctl history command. It
// mirrors the host application's embedded-SQLite wrapper, retargeted
// from general-purpose storage to an append-only tick ledger.
package audit

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS tick_history (
	file_id    TEXT    NOT NULL,
	tick_num   INTEGER NOT NULL,
	committed_at TEXT  NOT NULL,
	num_entries  INTEGER NOT NULL,
	bytes_written INTEGER NOT NULL,
	digest     TEXT    NOT NULL,
	PRIMARY KEY (file_id, tick_num)
);
`

// Record is one committed tick, as recorded in tick_history.
type Record struct {
	FileID       string
	TickNum      uint64
	CommittedAt  time.Time
	NumEntries   int
	BytesWritten int64
	Digest       string
}

// Store wraps a SQLite database holding the tick history for one or
// more metadata files.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the audit database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens path for querying only, without applying the schema.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open(driverName, path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("audit: open readonly %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Digest computes the content digest audit records use: BLAKE3 over
// the tick's encoded Index bytes.
func Digest(indexBytes []byte) string {
	h := blake3.Sum256(indexBytes)
	return hex.EncodeToString(h[:])
}

// RecordCommit inserts one row for a writer-side committed tick.
func (s *Store) RecordCommit(fileID string, tickNum uint64, numEntries int, bytesWritten int64, digest string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO tick_history (file_id, tick_num, committed_at, num_entries, bytes_written, digest)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		fileID, tickNum, time.Now().UTC().Format(time.RFC3339Nano), numEntries, bytesWritten, digest,
	)
	if err != nil {
		return fmt.Errorf("audit: record commit: %w", err)
	}
	return nil
}

// History returns the most recent limit tick records for fileID,
// newest first. A non-positive limit returns the full history.
func (s *Store) History(fileID string, limit int) ([]Record, error) {
	query := `SELECT file_id, tick_num, committed_at, num_entries, bytes_written, digest
	          FROM tick_history WHERE file_id = ? ORDER BY tick_num DESC`
	args := []any{fileID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var committedAt string
		if err := rows.Scan(&r.FileID, &r.TickNum, &committedAt, &r.NumEntries, &r.BytesWritten, &r.Digest); err != nil {
			return nil, fmt.Errorf("audit: scan history row: %w", err)
		}
		r.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt)
		if err != nil {
			return nil, fmt.Errorf("audit: parse committed_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestTick returns the highest recorded tick_num for fileID, or 0 if
// no ticks have been recorded yet.
func (s *Store) LatestTick(fileID string) (uint64, error) {
	var tick uint64
	err := s.db.QueryRow(`SELECT COALESCE(MAX(tick_num), 0) FROM tick_history WHERE file_id = ?`, fileID).Scan(&tick)
	if err != nil {
		return 0, fmt.Errorf("audit: latest tick: %w", err)
	}
	return tick, nil
}
