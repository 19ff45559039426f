package store

import (
	"database/sql"

	"github.com/localmemory/memcore/internal/memerr"
)

// BufferTurn appends a conversational turn. Buffering is atomic per turn,
// satisfying the SessionBuffer's transaction guard (spec §5) since a
// single INSERT is already atomic under SQLite.
func (s *Store) BufferTurn(sessionID, role, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`INSERT INTO messages (session_id, role, content, created_at, summarized) VALUES (?, ?, ?, ?, 0)`,
		sessionID, role, content, s.now())
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "buffer turn", err)
	}
	return res.LastInsertId()
}

// TurnsForSession returns every turn for a session in buffering order.
func (s *Store) TurnsForSession(sessionID string) ([]*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT id, session_id, role, content, created_at, summarized FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list turns", err)
	}
	defer rows.Close()
	var out []*Turn
	for rows.Next() {
		var t Turn
		var summarized int
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &t.CreatedAt, &summarized); err != nil {
			return nil, err
		}
		t.Summarized = summarized != 0
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CountTurnsForSession reports the soft-cap check (1000 turns) per spec §5.
func (s *Store) CountTurnsForSession(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ? AND summarized = 0`, sessionID).Scan(&n)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count turns", err)
	}
	return n, nil
}

// UnsummarizedSessions returns distinct session ids with at least one
// unsummarized turn and no Episode row.
func (s *Store) UnsummarizedSessions() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT DISTINCT m.session_id FROM messages m
		WHERE m.summarized = 0
		AND NOT EXISTS (SELECT 1 FROM episodes e WHERE e.session_id = m.session_id)`)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list unsummarized sessions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CreateEpisodeAndMarkSummarized inserts the Episode row and marks every
// turn for the session summarized, atomically — end_session's core step.
func (s *Store) CreateEpisodeAndMarkSummarized(sessionID, narrative, startAt, endAt string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "begin end_session tx", err)
	}
	res, err := tx.Exec(`INSERT INTO episodes (session_id, narrative, start_at, end_at) VALUES (?, ?, ?, ?)`,
		sessionID, narrative, startAt, endAt)
	if err != nil {
		tx.Rollback()
		return 0, memerr.Wrap(memerr.KindStorage, "insert episode", err)
	}
	if _, err := tx.Exec(`UPDATE messages SET summarized = 1 WHERE session_id = ?`, sessionID); err != nil {
		tx.Rollback()
		return 0, memerr.Wrap(memerr.KindStorage, "mark turns summarized", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "commit end_session tx", err)
	}
	return res.LastInsertId()
}

// GetEpisodeBySession fetches an episode by its session id, returning
// (nil, nil) if none exists yet.
func (s *Store) GetEpisodeBySession(sessionID string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var e Episode
	err := s.db.QueryRow(`SELECT id, session_id, narrative, start_at, end_at FROM episodes WHERE session_id = ?`, sessionID).
		Scan(&e.ID, &e.SessionID, &e.Narrative, &e.StartAt, &e.EndAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "get episode by session", err)
	}
	return &e, nil
}

// CountEpisodes returns the total number of episodes.
func (s *Store) CountEpisodes() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count episodes", err)
	}
	return n, nil
}
