package store

import (
	"database/sql"

	"github.com/localmemory/memcore/internal/memerr"
)

// FindCurrentRelationship returns the row with invalid_at = NULL for
// (source, target, type), or (nil, nil) if none exists.
func (s *Store) FindCurrentRelationship(source, target int64, relType RelationshipType) (*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM relationships
		WHERE source_entity_id = ? AND target_entity_id = ? AND relationship_type = ? AND invalid_at IS NULL`,
		source, target, relType).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "find current relationship", err)
	}
	return s.getRelationshipLocked(id)
}

func (s *Store) getRelationshipLocked(id int64) (*Relationship, error) {
	var r Relationship
	var invalidAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, source_entity_id, target_entity_id, relationship_type, strength, valid_at, invalid_at,
			direction, created_at, updated_at
		FROM relationships WHERE id = ?`, id).Scan(
		&r.ID, &r.SourceEntityID, &r.TargetEntityID, &r.RelationshipType, &r.Strength, &r.ValidAt, &invalidAt,
		&r.Direction, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "get relationship", err)
	}
	if invalidAt.Valid {
		r.InvalidAt = &invalidAt.String
	}
	return &r, nil
}

// GetRelationship fetches a relationship row by id.
func (s *Store) GetRelationship(id int64) (*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRelationshipLocked(id)
}

// CreateRelationship inserts a new relationship row.
func (s *Store) CreateRelationship(r *Relationship) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if r.Direction == "" {
		r.Direction = "forward"
	}
	res, err := s.db.Exec(`
		INSERT INTO relationships (source_entity_id, target_entity_id, relationship_type, strength,
			valid_at, invalid_at, direction, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		r.SourceEntityID, r.TargetEntityID, r.RelationshipType, r.Strength, r.ValidAt, r.Direction, now, now)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "create relationship", err)
	}
	return res.LastInsertId()
}

// UpdateRelationshipStrength overwrites strength and updated_at on a
// still-valid relationship.
func (s *Store) UpdateRelationshipStrength(id int64, strength float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE relationships SET strength = ?, updated_at = ? WHERE id = ?`, strength, s.now(), id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "update relationship strength", err)
	}
	return nil
}

// SupersedeRelationship closes oldID's validity interval and inserts
// newRel in one transaction — supersession is atomic per spec §4.3.
func (s *Store) SupersedeRelationship(oldID int64, newRel *Relationship, invalidAt string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "begin supersede tx", err)
	}

	now := s.now()
	if _, err := tx.Exec(`UPDATE relationships SET invalid_at = ?, updated_at = ? WHERE id = ?`, invalidAt, now, oldID); err != nil {
		tx.Rollback()
		return 0, memerr.Wrap(memerr.KindStorage, "close superseded relationship", err)
	}

	if newRel.Direction == "" {
		newRel.Direction = "forward"
	}
	res, err := tx.Exec(`
		INSERT INTO relationships (source_entity_id, target_entity_id, relationship_type, strength,
			valid_at, invalid_at, direction, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		newRel.SourceEntityID, newRel.TargetEntityID, newRel.RelationshipType, newRel.Strength,
		newRel.ValidAt, newRel.Direction, now, now)
	if err != nil {
		tx.Rollback()
		return 0, memerr.Wrap(memerr.KindStorage, "insert superseding relationship", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "commit supersede tx", err)
	}
	return res.LastInsertId()
}

// RelationshipsForEntity returns currently-valid relationships touching
// entityID as either endpoint, strength descending.
func (s *Store) RelationshipsForEntity(entityID int64) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id FROM relationships
		WHERE (source_entity_id = ? OR target_entity_id = ?) AND invalid_at IS NULL
		ORDER BY strength DESC`, entityID, entityID)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list relationships for entity", err)
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
	out := make([]*Relationship, 0, len(ids))
	for _, id := range ids {
		r, err := s.getRelationshipLocked(id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// CountRelationships returns the number of currently-valid relationships.
func (s *Store) CountRelationships() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM relationships WHERE invalid_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count relationships", err)
	}
	return n, nil
}
