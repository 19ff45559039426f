package store

import (
	"database/sql"

	"github.com/localmemory/memcore/internal/memerr"
)

// FindMemoryByContentHash returns the non-invalidated memory with the given
// hash, or (nil, nil) if none exists — the dedup check at the heart of
// remember_fact.
func (s *Store) FindMemoryByContentHash(hash string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var id int64
	err := s.db.QueryRow(`SELECT id FROM memories WHERE content_hash = ? AND invalidated_at IS NULL`, hash).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "find memory by hash", err)
	}
	return s.getMemoryLocked(id)
}

// CreateMemory inserts a new memory row and returns its id. Callers have
// already verified the content hash is not a duplicate.
func (s *Store) CreateMemory(m *Memory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if m.VerificationStatus == "" {
		m.VerificationStatus = VerificationPending
	}
	res, err := s.db.Exec(`
		INSERT INTO memories (content, type, importance, confidence, content_hash,
			created_at, updated_at, last_accessed, access_count, verification_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		m.Content, m.Type, m.Importance, m.Confidence, m.ContentHash,
		now, now, now, m.VerificationStatus)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "create memory", err)
	}
	return res.LastInsertId()
}

// GetMemory fetches a memory by id, including invalidated ones.
func (s *Store) GetMemory(id int64) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMemoryLocked(id)
}

func (s *Store) getMemoryLocked(id int64) (*Memory, error) {
	var m Memory
	var verifiedAt, invalidatedAt sql.NullString
	var mergedInto sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, content, type, importance, confidence, content_hash, created_at, updated_at,
			last_accessed, access_count, verification_status, verified_at, invalidated_at,
			aggregated_from, merged_into
		FROM memories WHERE id = ?`, id).Scan(
		&m.ID, &m.Content, &m.Type, &m.Importance, &m.Confidence, &m.ContentHash, &m.CreatedAt, &m.UpdatedAt,
		&m.LastAccessed, &m.AccessCount, &m.VerificationStatus, &verifiedAt, &invalidatedAt,
		&m.AggregatedFrom, &mergedInto)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "get memory", err)
	}
	if verifiedAt.Valid {
		m.VerifiedAt = &verifiedAt.String
	}
	if invalidatedAt.Valid {
		m.InvalidatedAt = &invalidatedAt.String
	}
	if mergedInto.Valid {
		m.MergedInto = &mergedInto.Int64
	}
	return &m, nil
}

// LinkMemoryEntity inserts a MemoryEntity row, ignoring a duplicate
// (memory_id, entity_id, role).
func (s *Store) LinkMemoryEntity(memoryID, entityID int64, role MemoryEntityRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO memory_entities (memory_id, entity_id, relationship) VALUES (?, ?, ?)`,
		memoryID, entityID, role)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "link memory to entity", err)
	}
	return nil
}

// EntitiesForMemory returns the entity ids linked to a memory.
func (s *Store) EntitiesForMemory(memoryID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`SELECT entity_id FROM memory_entities WHERE memory_id = ?`, memoryID)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list entities for memory", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemoriesForEntity returns non-invalidated memories linked to an entity,
// ordered by importance descending (feeds `about`).
func (s *Store) MemoriesForEntity(entityID int64) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT m.id FROM memories m
		JOIN memory_entities me ON me.memory_id = m.id
		WHERE me.entity_id = ? AND m.invalidated_at IS NULL
		ORDER BY m.importance DESC`, entityID)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list memories for entity", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Memory, 0, len(ids))
	for _, id := range ids {
		m, err := s.getMemoryLocked(id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// CandidateMemoriesForRecall returns every non-invalidated memory,
// optionally filtered by type, for RecallService to rank in-process. A
// dedicated vector index (see queries_vector.go) narrows this when the
// Embedder is available; this is also the keyword-fallback universe.
func (s *Store) CandidateMemoriesForRecall(typeFilter MemoryType) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if typeFilter != "" {
		rows, err = s.db.Query(`SELECT id FROM memories WHERE invalidated_at IS NULL AND type = ?`, typeFilter)
	} else {
		rows, err = s.db.Query(`SELECT id FROM memories WHERE invalidated_at IS NULL`)
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list recall candidates", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Memory, 0, len(ids))
	for _, id := range ids {
		m, err := s.getMemoryLocked(id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// RehearsalUpdate is one memory's post-recall importance boost.
type RehearsalUpdate struct {
	MemoryID   int64
	Importance float64
}

// ApplyRehearsal batches the rehearsal effect for a set of recalled
// memories in one write: importance <- the update's Importance (the caller
// computes the boosted value), last_accessed <- now, access_count += 1.
func (s *Store) ApplyRehearsal(updates []RehearsalUpdate, now string) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "begin rehearsal tx", err)
	}
	stmt, err := tx.Prepare(`UPDATE memories SET importance = ?, last_accessed = ?, access_count = access_count + 1 WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "prepare rehearsal update", err)
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err := stmt.Exec(u.Importance, now, u.MemoryID); err != nil {
			tx.Rollback()
			return memerr.Wrap(memerr.KindStorage, "apply rehearsal", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return memerr.Wrap(memerr.KindStorage, "commit rehearsal tx", err)
	}
	return nil
}

// SetMemoryImportance overwrites importance. Decay and merge write
// importance through TouchMemoryDecay and MergeMemories instead.
func (s *Store) SetMemoryImportance(id int64, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?`, importance, s.now(), id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "set memory importance", err)
	}
	return nil
}

// InvalidateMemory soft-tombstones a memory and records an invalidate
// event for it in the memory_events audit log, in one transaction.
func (s *Store) InvalidateMemory(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	tx, err := s.db.Begin()
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "begin invalidate tx", err)
	}
	if _, err := tx.Exec(`UPDATE memories SET invalidated_at = ?, updated_at = ? WHERE id = ?`, now, now, id); err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "invalidate memory", err)
	}
	if _, err := tx.Exec(`INSERT INTO memory_events (memory_id, event_type, detail, created_at) VALUES (?, 'invalidate', '', ?)`, id, now); err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "record invalidate event", err)
	}
	if err := tx.Commit(); err != nil {
		return memerr.Wrap(memerr.KindStorage, "commit invalidate tx", err)
	}
	return nil
}

// SetVerification updates a memory's verification status.
func (s *Store) SetVerification(id int64, status VerificationStatus, verifiedAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memories SET verification_status = ?, verified_at = ?, updated_at = ? WHERE id = ?`,
		status, verifiedAt, s.now(), id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "set verification", err)
	}
	return nil
}

// CountMemories returns the number of non-invalidated memories.
func (s *Store) CountMemories() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE invalidated_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count memories", err)
	}
	return n, nil
}
