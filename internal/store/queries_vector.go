package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/localmemory/memcore/internal/memerr"
)

// serializeEmbedding encodes a float32 vector as the little-endian raw blob
// vec0 columns accept, avoiding a second text-JSON round trip through SQLite.
func serializeEmbedding(v []float32) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(v)*4))
	for _, f := range v {
		binary.Write(buf, binary.LittleEndian, math.Float32bits(f))
	}
	return buf.Bytes()
}

func deserializeEmbedding(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// UpsertMemoryEmbedding writes a memory's embedding into vec_memories.
// vec0 virtual tables don't support UPSERT, so the row is deleted first.
func (s *Store) UpsertMemoryEmbedding(memoryID int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM vec_memories WHERE memory_id = ?`, memoryID); err != nil {
		return memerr.Wrap(memerr.KindStorage, "clear memory embedding", err)
	}
	_, err := s.db.Exec(`INSERT INTO vec_memories (memory_id, embedding) VALUES (?, ?)`, memoryID, serializeEmbedding(embedding))
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "insert memory embedding", err)
	}
	return nil
}

// UpsertEntityEmbedding writes an entity's embedding into vec_entities.
func (s *Store) UpsertEntityEmbedding(entityID int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM vec_entities WHERE entity_id = ?`, entityID); err != nil {
		return memerr.Wrap(memerr.KindStorage, "clear entity embedding", err)
	}
	_, err := s.db.Exec(`INSERT INTO vec_entities (entity_id, embedding) VALUES (?, ?)`, entityID, serializeEmbedding(embedding))
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "insert entity embedding", err)
	}
	return nil
}

// DeleteMemoryEmbedding removes a memory's vector row. vec0 virtual tables
// don't honor ON DELETE CASCADE, so callers must pair this with the owning
// memories row's deletion or invalidation explicitly.
func (s *Store) DeleteMemoryEmbedding(memoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM vec_memories WHERE memory_id = ?`, memoryID)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "delete memory embedding", err)
	}
	return nil
}

// DeleteEntityEmbedding removes an entity's vector row, same caveat as
// DeleteMemoryEmbedding.
func (s *Store) DeleteEntityEmbedding(entityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM vec_entities WHERE entity_id = ?`, entityID)
	if err != nil {
		return memerr.Wrap(memerr.KindStorage, "delete entity embedding", err)
	}
	return nil
}

// VectorMatch is one nearest-neighbor hit: the owning row id and its
// distance from the query embedding (smaller is closer).
type VectorMatch struct {
	OwnerID  int64
	Distance float64
}

// SearchMemoryEmbeddings returns the k nearest memory embeddings to query,
// using vec0's built-in KNN match operator.
func (s *Store) SearchMemoryEmbeddings(query []float32, k int) ([]VectorMatch, error) {
	return s.searchVec(`SELECT memory_id, distance FROM vec_memories WHERE embedding MATCH ? AND k = ? ORDER BY distance`, query, k)
}

// SearchEntityEmbeddings returns the k nearest entity embeddings to query.
func (s *Store) SearchEntityEmbeddings(query []float32, k int) ([]VectorMatch, error) {
	return s.searchVec(`SELECT entity_id, distance FROM vec_entities WHERE embedding MATCH ? AND k = ? ORDER BY distance`, query, k)
}

func (s *Store) searchVec(sqlStr string, query []float32, k int) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(sqlStr, serializeEmbedding(query), k)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "vector knn search", err)
	}
	defer rows.Close()
	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.OwnerID, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMemoryEmbedding fetches a memory's own stored vector, used by Merge to
// query its nearest neighbors without a re-embed round trip.
func (s *Store) GetMemoryEmbedding(memoryID int64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var raw []byte
	err := s.db.QueryRow(`SELECT embedding FROM vec_memories WHERE memory_id = ?`, memoryID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "get memory embedding", err)
	}
	return deserializeEmbedding(raw), nil
}

// HasMemoryEmbedding reports whether a memory already has a stored vector.
func (s *Store) HasMemoryEmbedding(memoryID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var id int64
	err := s.db.QueryRow(`SELECT memory_id FROM vec_memories WHERE memory_id = ?`, memoryID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, memerr.Wrap(memerr.KindStorage, "check memory embedding", err)
	}
	return true, nil
}
