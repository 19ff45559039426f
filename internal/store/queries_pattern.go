package store

import (
	"database/sql"

	"github.com/localmemory/memcore/internal/memerr"
)

// FindActivePattern looks up an existing active pattern by type and name,
// so ConsolidateService can aggregate into it rather than duplicate it.
func (s *Store) FindActivePattern(patternType PatternType, name string) (*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p Pattern
	var isActive int
	err := s.db.QueryRow(`
		SELECT id, pattern_type, name, confidence, first_observed_at, last_confirmed_at, aggregation_count, is_active
		FROM patterns WHERE pattern_type = ? AND name = ? AND is_active = 1`, patternType, name).Scan(
		&p.ID, &p.PatternType, &p.Name, &p.Confidence, &p.FirstObservedAt, &p.LastConfirmedAt, &p.AggregationCount, &isActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "find pattern", err)
	}
	p.IsActive = isActive != 0
	return &p, nil
}

// CreatePattern inserts a new pattern row.
func (s *Store) CreatePattern(p *Pattern) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		INSERT INTO patterns (pattern_type, name, confidence, first_observed_at, last_confirmed_at, aggregation_count, is_active)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		p.PatternType, p.Name, p.Confidence, p.FirstObservedAt, p.LastConfirmedAt, p.AggregationCount)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "create pattern", err)
	}
	return res.LastInsertId()
}

// ReinforcePattern bumps aggregation_count and last_confirmed_at on an
// existing pattern.
func (s *Store) ReinforcePattern(id int64, lastConfirmedAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE patterns SET aggregation_count = aggregation_count + 1, last_confirmed_at = ? WHERE id = ?`,
		lastConfirmedAt, id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "reinforce pattern", err)
	}
	return nil
}

// CountActivePatterns returns the number of active patterns.
func (s *Store) CountActivePatterns() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM patterns WHERE is_active = 1`).Scan(&n); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count patterns", err)
	}
	return n, nil
}

// CreateReflection inserts a new reflection with its higher default
// importance and slower decay rate.
func (s *Store) CreateReflection(r *Reflection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Importance == 0 {
		r.Importance = 0.7
	}
	if r.Confidence == 0 {
		r.Confidence = 0.8
	}
	if r.DecayRate == 0 {
		r.DecayRate = 0.999
	}
	if r.AggregationCount == 0 {
		r.AggregationCount = 1
	}
	res, err := s.db.Exec(`
		INSERT INTO reflections (reflection_type, content, about_entity, importance, confidence, decay_rate,
			aggregation_count, first_observed_at, last_confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReflectionType, r.Content, r.AboutEntity, r.Importance, r.Confidence, r.DecayRate,
		r.AggregationCount, r.FirstObservedAt, r.LastConfirmedAt)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "create reflection", err)
	}
	return res.LastInsertId()
}

// ListReflections returns every reflection, newest first.
func (s *Store) ListReflections() ([]*Reflection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, reflection_type, content, about_entity, importance, confidence, decay_rate,
			aggregation_count, first_observed_at, last_confirmed_at
		FROM reflections ORDER BY id DESC`)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list reflections", err)
	}
	defer rows.Close()
	var out []*Reflection
	for rows.Next() {
		var r Reflection
		var aboutEntity sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ReflectionType, &r.Content, &aboutEntity, &r.Importance, &r.Confidence,
			&r.DecayRate, &r.AggregationCount, &r.FirstObservedAt, &r.LastConfirmedAt); err != nil {
			return nil, err
		}
		if aboutEntity.Valid {
			r.AboutEntity = &aboutEntity.Int64
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateReflection overwrites a reflection's content and importance.
func (s *Store) UpdateReflection(id int64, content string, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE reflections SET content = ?, importance = ? WHERE id = ?`, content, importance, id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "update reflection", err)
	}
	return nil
}

// DeleteReflection removes a reflection permanently (reflections have no
// soft-delete state in the spec).
func (s *Store) DeleteReflection(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM reflections WHERE id = ?`, id)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "delete reflection", err)
	}
	return nil
}

// CountReflections returns the total number of reflections.
func (s *Store) CountReflections() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM reflections`).Scan(&n); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count reflections", err)
	}
	return n, nil
}

// DecayUpdate is one row's new importance. ApplyMemoryDecay and
// ApplyReflectionDecay write a batch of them in one transaction, mirroring
// ApplyRehearsal's batching.
type DecayUpdate struct {
	ID         int64
	Importance float64
}

func (s *Store) ApplyMemoryDecay(updates []DecayUpdate) error {
	return s.applyDecay("memories", updates)
}

func (s *Store) ApplyReflectionDecay(updates []DecayUpdate) error {
	return s.applyDecay("reflections", updates)
}

func (s *Store) applyDecay(table string, updates []DecayUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "begin decay tx", err)
	}
	stmt, err := tx.Prepare(`UPDATE ` + table + ` SET importance = ? WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return memerr.Wrap(memerr.KindStorage, "prepare decay update", err)
	}
	defer stmt.Close()
	for _, u := range updates {
		if _, err := stmt.Exec(u.Importance, u.ID); err != nil {
			tx.Rollback()
			return memerr.Wrap(memerr.KindStorage, "apply decay", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return memerr.Wrap(memerr.KindStorage, "commit decay tx", err)
	}
	return nil
}
