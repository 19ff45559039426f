package store

import (
	"database/sql"
	"strings"

	"github.com/localmemory/memcore/internal/memerr"
)

// CreateEntity inserts a new entity row and returns its id.
func (s *Store) CreateEntity(name string, typ EntityType, description string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	res, err := s.db.Exec(`
		INSERT INTO entities (name, type, description, importance, created_at, updated_at)
		VALUES (?, ?, ?, 0.5, ?, ?)`,
		name, typ, description, now, now)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "create entity", err)
	}
	return res.LastInsertId()
}

// GetEntity fetches an entity by id, including its aliases. Returns
// (nil, nil) if not found — NotFound is a null result, not an error.
func (s *Store) GetEntity(id int64) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntityLocked(id)
}

func (s *Store) getEntityLocked(id int64) (*Entity, error) {
	var e Entity
	var description string
	var deletedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, name, type, description, importance, created_at, updated_at, deleted_at
		FROM entities WHERE id = ?`, id).Scan(
		&e.ID, &e.Name, &e.Type, &description, &e.Importance, &e.CreatedAt, &e.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "get entity", err)
	}
	e.Description = description
	if deletedAt.Valid {
		e.DeletedAt = &deletedAt.String
	}
	aliases, err := s.aliasesForEntityLocked(id)
	if err != nil {
		return nil, err
	}
	e.Aliases = aliases
	return &e, nil
}

func (s *Store) aliasesForEntityLocked(id int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT alias FROM entity_aliases WHERE entity_id = ?`, id)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list aliases", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAlias links an additional alias to an entity. Duplicate aliases
// (globally unique) are ignored rather than surfaced as an error, since
// callers resolve by name first and a race is benign.
func (s *Store) AddAlias(entityID int64, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO entity_aliases (entity_id, alias) VALUES (?, ?)`, entityID, alias)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "add alias", err)
	}
	return nil
}

// ResolveEntityByName performs case-insensitive resolution against both
// canonical names and aliases. Returns the matches found, unfiltered by
// ambiguity — callers decide what to do with more than one.
func (s *Store) ResolveEntityByName(name string) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(strings.TrimSpace(name))

	rows, err := s.db.Query(`
		SELECT DISTINCT e.id FROM entities e
		LEFT JOIN entity_aliases a ON a.entity_id = e.id
		WHERE e.deleted_at IS NULL AND (LOWER(e.name) = ? OR LOWER(a.alias) = ?)`,
		lower, lower)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "resolve entity by name", err)
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

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.getEntityLocked(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpdateEntityDescription replaces the description only if the current one
// is empty — "new text wins only if old is empty" per spec §4.3.
func (s *Store) UpdateEntityDescription(id int64, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE entities SET description = ?, updated_at = ?
		WHERE id = ? AND (description IS NULL OR description = '')`,
		description, s.now(), id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "update entity description", err)
	}
	return nil
}

// SetEntityImportance overwrites an entity's aggregate importance.
func (s *Store) SetEntityImportance(id int64, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE entities SET importance = ?, updated_at = ? WHERE id = ?`, importance, s.now(), id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "set entity importance", err)
	}
	return nil
}

// SearchEntitiesByNameFragment performs a prefix+substring search directly
// in SQL; RecallService.SearchEntities uses it to fill the results its
// in-process name index leaves short of the limit.
func (s *Store) SearchEntitiesByNameFragment(query string, types []EntityType, limit int) ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := "%" + strings.ToLower(query) + "%"
	args := []any{q}
	sqlStr := `SELECT id FROM entities WHERE deleted_at IS NULL AND LOWER(name) LIKE ?`
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		sqlStr += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}
	sqlStr += ` ORDER BY importance DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "search entities", err)
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

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.getEntityLocked(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// AllEntities returns every non-deleted entity, for gazetteer warmup.
func (s *Store) AllEntities() ([]*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM entities WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list entities", err)
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

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.getEntityLocked(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountEntities returns the number of non-deleted entities, for the Health
// endpoint's counts block.
func (s *Store) CountEntities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE deleted_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count entities", err)
	}
	return n, nil
}
