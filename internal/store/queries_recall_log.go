package store

import "github.com/localmemory/memcore/internal/memerr"

// AppendRecallLog records one recall() call for the Health endpoint's
// activity counters and future ranking-weight tuning.
func (s *Store) AppendRecallLog(query string, resultCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO recall_log (query, result_count, created_at) VALUES (?, ?, ?)`,
		query, resultCount, s.now())
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "append recall log", err)
	}
	return nil
}

// CountRecalls returns the total number of recall() calls logged.
func (s *Store) CountRecalls() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM recall_log`).Scan(&n); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count recalls", err)
	}
	return n, nil
}
