package store

import (
	"strings"

	"github.com/localmemory/memcore/internal/memerr"
)

// DecayCandidates returns non-invalidated memories last touched more than a
// day ago, the universe ConsolidateService's Decay walks.
func (s *Store) DecayCandidates(now string) ([]*Memory, error) {
	s.mu.RLock()
	rows, err := s.db.Query(`
		SELECT id FROM memories
		WHERE invalidated_at IS NULL AND julianday(?) - julianday(updated_at) >= 1`, now)
	if err != nil {
		s.mu.RUnlock()
		return nil, memerr.Wrap(memerr.KindStorage, "list decay candidates", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rowsErr := rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if rowsErr != nil {
		return nil, rowsErr
	}
	out := make([]*Memory, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMemory(id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// DaysSince reports the SQLite julianday delta between now and a
// timestamp, letting Go-side decay math stay in one place.
func (s *Store) DaysSince(now, ts string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var delta float64
	err := s.db.QueryRow(`SELECT julianday(?) - julianday(?)`, now, ts).Scan(&delta)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "compute days since", err)
	}
	return delta, nil
}

// TouchMemoryDecay sets a memory's decayed importance and bumps its
// updated_at watermark so the next run's Δdays starts from zero, appending
// a decay audit event in the same transaction.
func (s *Store) TouchMemoryDecay(id int64, importance float64, now string) error {
	s.mu.Lock()
	tx, err := s.db.Begin()
	if err != nil {
		s.mu.Unlock()
		return memerr.Wrap(memerr.KindStorage, "begin decay tx", err)
	}
	if _, err := tx.Exec(`UPDATE memories SET importance = ?, updated_at = ? WHERE id = ?`, importance, now, id); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return memerr.Wrap(memerr.KindStorage, "apply memory decay", err)
	}
	if _, err := tx.Exec(`INSERT INTO memory_events (memory_id, event_type, detail, created_at) VALUES (?, 'decay', '', ?)`, id, now); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return memerr.Wrap(memerr.KindStorage, "append decay event", err)
	}
	err = tx.Commit()
	s.mu.Unlock()
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "commit decay tx", err)
	}
	return nil
}

// TouchReflectionDecay sets a reflection's decayed importance and its
// last_confirmed_at watermark.
func (s *Store) TouchReflectionDecay(id int64, importance float64, now string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE reflections SET importance = ?, last_confirmed_at = ? WHERE id = ?`, importance, now, id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "apply reflection decay", err)
	}
	return nil
}

// MergeMemories absorbs absorbedIDs into survivorID atomically: the
// survivor's importance and access_count are overwritten with the caller's
// pre-computed values, its aggregated_from gains every absorbed row's
// content, and each absorbed row is invalidated with merged_into set.
func (s *Store) MergeMemories(survivorID int64, absorbedIDs []int64, absorbedContents []string, survivorImportance float64, survivorAccessCount int, now string) error {
	if len(absorbedIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "begin merge tx", err)
	}

	appended := strings.Join(absorbedContents, "\n")
	_, err = tx.Exec(`
		UPDATE memories SET importance = ?, access_count = ?, updated_at = ?,
			aggregated_from = CASE WHEN aggregated_from = '' THEN ? ELSE aggregated_from || char(10) || ? END
		WHERE id = ?`,
		survivorImportance, survivorAccessCount, now, appended, appended, survivorID)
	if err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "update merge survivor", err)
	}
	if _, err := tx.Exec(`INSERT INTO memory_events (memory_id, event_type, detail, created_at) VALUES (?, 'merge', ?, ?)`,
		survivorID, "absorbed", now); err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "append survivor merge event", err)
	}

	stmt, err := tx.Prepare(`UPDATE memories SET invalidated_at = ?, merged_into = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "prepare absorb update", err)
	}
	defer stmt.Close()
	eventStmt, err := tx.Prepare(`INSERT INTO memory_events (memory_id, event_type, detail, created_at) VALUES (?, 'merge', ?, ?)`)
	if err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "prepare absorb event", err)
	}
	defer eventStmt.Close()
	for _, id := range absorbedIDs {
		if _, err := stmt.Exec(now, survivorID, now, id); err != nil {
			tx.Rollback()
			return memerr.Wrap(memerr.KindStorage, "absorb memory", err)
		}
		if _, err := eventStmt.Exec(id, "merged_into", now); err != nil {
			tx.Rollback()
			return memerr.Wrap(memerr.KindStorage, "append absorbed merge event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return memerr.Wrap(memerr.KindStorage, "commit merge tx", err)
	}
	return nil
}

// CoolingCandidates returns entities at or above minImportance whose most
// recent linked memory is older than olderThanDays, the universe for
// ConsolidateService's "cooling" pattern.
func (s *Store) CoolingCandidates(minImportance float64, olderThanDays int, now string) ([]*Entity, error) {
	s.mu.RLock()
	rows, err := s.db.Query(`
		SELECT e.id FROM entities e
		WHERE e.importance >= ? AND e.deleted_at IS NULL
		AND EXISTS (
			SELECT 1 FROM memory_entities me JOIN memories m ON m.id = me.memory_id
			WHERE me.entity_id = e.id AND m.invalidated_at IS NULL
		)
		AND (
			SELECT MAX(m.created_at) FROM memory_entities me JOIN memories m ON m.id = me.memory_id
			WHERE me.entity_id = e.id AND m.invalidated_at IS NULL
		) <= datetime(?, ? || ' days')`,
		minImportance, now, -olderThanDays)
	if err != nil {
		s.mu.RUnlock()
		return nil, memerr.Wrap(memerr.KindStorage, "list cooling candidates", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rowsErr := rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if rowsErr != nil {
		return nil, rowsErr
	}
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEntity(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// CommunicationBurstEntities returns entity ids with at least minCount
// observation-type memories linked within the last windowDays, the
// universe for ConsolidateService's "communication style" pattern.
func (s *Store) CommunicationBurstEntities(minCount, windowDays int, now string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT me.entity_id, COUNT(*) c FROM memory_entities me
		JOIN memories m ON m.id = me.memory_id
		WHERE m.type = 'observation' AND m.invalidated_at IS NULL
		AND m.created_at >= datetime(?, ? || ' days')
		GROUP BY me.entity_id
		HAVING c >= ?`, now, -windowDays, minCount)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list communication bursts", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		var c int
		if err := rows.Scan(&id, &c); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
