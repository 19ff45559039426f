package store

import "github.com/localmemory/memcore/internal/memerr"

// AppendMemoryEvent records one audit row against a memory. This is the
// provenance chain trace() reads back.
func (s *Store) AppendMemoryEvent(memoryID int64, eventType MemoryEventType, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO memory_events (memory_id, event_type, detail, created_at) VALUES (?, ?, ?, ?)`,
		memoryID, eventType, detail, s.now())
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "append memory event", err)
	}
	return nil
}

// EventsForMemory returns a memory's audit trail, oldest first.
func (s *Store) EventsForMemory(memoryID int64) ([]*MemoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT id, memory_id, event_type, detail, created_at FROM memory_events
		WHERE memory_id = ? ORDER BY id`, memoryID)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list memory events", err)
	}
	defer rows.Close()
	var out []*MemoryEvent
	for rows.Next() {
		var e MemoryEvent
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
