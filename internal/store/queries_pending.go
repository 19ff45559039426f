package store

import "github.com/localmemory/memcore/internal/memerr"

// EnqueuePendingEmbedding records that ownerKind/ownerID still needs an
// embedding computed, because the Embedder was unavailable at write time.
func (s *Store) EnqueuePendingEmbedding(ownerKind string, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO pending_embeddings (owner_kind, owner_id, queued_at) VALUES (?, ?, ?)`,
		ownerKind, ownerID, s.now())
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "enqueue pending embedding", err)
	}
	return nil
}

// DrainPendingEmbeddings returns up to limit queued rows for the Scheduler
// to retry opportunistically between cron jobs.
func (s *Store) DrainPendingEmbeddings(limit int) ([]PendingEmbedding, error) {
	s.mu.RLock()
	rows, err := s.db.Query(`SELECT owner_kind, owner_id, queued_at FROM pending_embeddings ORDER BY queued_at LIMIT ?`, limit)
	if err != nil {
		s.mu.RUnlock()
		return nil, memerr.Wrap(memerr.KindStorage, "list pending embeddings", err)
	}
	var out []PendingEmbedding
	for rows.Next() {
		var p PendingEmbedding
		if err := rows.Scan(&p.OwnerKind, &p.OwnerID, &p.QueuedAt); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, p)
	}
	err = rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClearPendingEmbedding removes a queue entry once its embedding has been
// computed successfully.
func (s *Store) ClearPendingEmbedding(ownerKind string, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM pending_embeddings WHERE owner_kind = ? AND owner_id = ?`, ownerKind, ownerID)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "clear pending embedding", err)
	}
	return nil
}

// CountPendingEmbeddings reports queue depth for the Health endpoint.
func (s *Store) CountPendingEmbeddings() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_embeddings`).Scan(&n); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count pending embeddings", err)
	}
	return n, nil
}
