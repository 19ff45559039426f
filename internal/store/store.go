package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/memerr"
)

// Store owns the single SQLite connection pool for a workspace: journaling
// mode, the migration ladder, schema integrity verification, and every
// domain table's CRUD. A single writer connection is serialized behind mu;
// database/sql already multiplexes readers, so readers only need to
// respect the migration-in-progress lock below.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	log zerolog.Logger
	now func() string
}

// Open creates or opens the database file at path, enables WAL journaling
// and foreign keys, and runs the migration ladder. A path of ":memory:" is
// accepted for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "open database", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, memerr.Wrap(memerr.KindStorage, "enable WAL", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, memerr.Wrap(memerr.KindStorage, "enable foreign keys", err)
	}

	s := &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
		now: nowRFC3339,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Close checkpoints the WAL and releases the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return s.db.Close()
}

// DB exposes the underlying handle for components (e.g. the vector search
// path in RecallService) that need direct query access beyond this
// package's helpers.
func (s *Store) DB() *sql.DB { return s.db }

// Now returns the store's clock, exposed so services stamp rows with the
// same notion of "now" the Store itself uses.
func (s *Store) Now() string { return s.now() }

// migrate creates schema_migrations if absent, computes the effective
// version, and applies every migration whose version exceeds it.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return memerr.Wrap(memerr.KindMigrationFailure, "create schema_migrations", err)
	}

	effective, err := s.effectiveVersionLocked()
	if err != nil {
		return memerr.Wrap(memerr.KindMigrationFailure, "compute effective schema version", err)
	}

	for _, m := range migrations {
		if m.version <= effective {
			continue
		}
		if err := s.applyMigrationLocked(m); err != nil {
			return memerr.Wrap(memerr.KindMigrationFailure, fmt.Sprintf("apply migration %d", m.version), err)
		}
		s.log.Info().Int("version", m.version).Msg("migration applied")
	}
	return nil
}

func (s *Store) applyMigrationLocked(m migration) error {
	for _, stmt := range splitStatements(m.sql) {
		if _, err := s.db.Exec(stmt); err != nil && !isBenignDDLError(err) {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)
		ON CONFLICT(version) DO UPDATE SET applied_at = excluded.applied_at`, m.version, s.now())
	return err
}

// effectiveVersionLocked reads the recorded max version, then verifies
// each migration's expected-columns fingerprint starting from 1 — the
// first migration with a missing column caps the effective version at
// (that version - 1), so migrations re-apply on next start. Caller must
// hold mu.
func (s *Store) effectiveVersionLocked() (int, error) {
	var recordedMax int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&recordedMax); err != nil {
		return 0, err
	}

	effective := recordedMax
	for _, m := range migrations {
		if m.version > recordedMax {
			break
		}
		ok, err := s.migrationColumnsPresentLocked(m)
		if err != nil {
			return 0, err
		}
		if !ok {
			effective = m.version - 1
			break
		}
	}
	return effective, nil
}

func (s *Store) migrationColumnsPresentLocked(m migration) (bool, error) {
	for table, cols := range m.expected {
		present, err := s.tableColumnsLocked(table)
		if err != nil {
			return false, err
		}
		if present == nil {
			return false, nil
		}
		for _, c := range cols {
			if !present[c] {
				return false, nil
			}
		}
	}
	return true, nil
}

func (s *Store) tableColumnsLocked(table string) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, rows.Err()
}

// EffectiveVersion recomputes and returns the effective schema version,
// for the Health endpoint and tests (spec property 7).
func (s *Store) EffectiveVersion() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveVersionLocked()
}

func splitStatements(batch string) []string {
	parts := strings.Split(batch, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isBenignDDLError reports whether err is a re-run of an idempotent DDL
// statement that SQLite does not itself treat as IF NOT EXISTS (namely
// ALTER TABLE ADD COLUMN), so the migration ladder can be safely re-applied
// from any divergence point.
func isBenignDDLError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}
