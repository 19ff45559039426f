package store

import (
	"database/sql"

	"github.com/localmemory/memcore/internal/memerr"
)

// CreateDocument files a piece of source material and links it to the
// entities it mentions in one transaction.
func (s *Store) CreateDocument(d *Document, entityIDs []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "begin file_document tx", err)
	}
	res, err := tx.Exec(`
		INSERT INTO documents (source_type, filename, content, summary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.SourceType, d.Filename, d.Content, d.Summary, s.now())
	if err != nil {
		tx.Rollback()
		return 0, memerr.Wrap(memerr.KindStorage, "insert document", err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	for _, eid := range entityIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO entity_documents (entity_id, document_id) VALUES (?, ?)`, eid, docID); err != nil {
			tx.Rollback()
			return 0, memerr.Wrap(memerr.KindStorage, "link document entity", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "commit file_document tx", err)
	}
	return docID, nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var d Document
	err := s.db.QueryRow(`
		SELECT id, source_type, filename, content, summary, created_at FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.SourceType, &d.Filename, &d.Content, &d.Summary, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "get document", err)
	}
	return &d, nil
}

// DocumentsForEntity returns documents linked to an entity, newest first.
func (s *Store) DocumentsForEntity(entityID int64) ([]*Document, error) {
	ids, err := s.documentIDsForEntity(entityID)
	if err != nil {
		return nil, err
	}
	out := make([]*Document, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetDocument(id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) documentIDsForEntity(entityID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(`
		SELECT d.id FROM documents d
		JOIN entity_documents ed ON ed.document_id = d.id
		WHERE ed.entity_id = ? ORDER BY d.id DESC`, entityID)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "list documents for entity", err)
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

// LatestDocumentByFilename returns the most recently filed document under
// a given filename, or nil if none exists.
func (s *Store) LatestDocumentByFilename(filename string) (*Document, error) {
	s.mu.RLock()
	var id int64
	err := s.db.QueryRow(`
		SELECT id FROM documents WHERE filename = ? ORDER BY id DESC LIMIT 1`, filename).Scan(&id)
	s.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorage, "find latest document by filename", err)
	}
	return s.GetDocument(id)
}

// CountDocuments returns the total number of filed documents.
func (s *Store) CountDocuments() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, memerr.Wrap(memerr.KindStorage, "count documents", err)
	}
	return n, nil
}
