// Package remember implements the write side of the memory engine:
// persisting facts, entities, relationships, and filed documents, with
// content-hash dedup and best-effort embedding generation.
package remember

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/embedder"
	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/store"
	"github.com/localmemory/memcore/internal/textnorm"
)

// Service implements RememberService: remember_fact, remember_entity,
// relate_entities, supersede_relationship, file_document.
type Service struct {
	store     *store.Store
	embedder  embedder.Embedder
	log       zerolog.Logger
	filedDocs *fileCache
}

// New builds a Service. embedder may be nil if no embedding runtime is
// configured; the service then always queues embeddings for later.
func New(s *store.Store, e embedder.Embedder, log zerolog.Logger) *Service {
	return &Service{store: s, embedder: e, log: log.With().Str("component", "remember").Logger(), filedDocs: newFileCache()}
}

// RememberFactResult is the outcome of remember_fact, including whether
// the call deduplicated against an existing row.
type RememberFactResult struct {
	MemoryID int64
	Deduped  bool
}

// RememberFact stores a fact-or-similar memory, deduplicating by content
// hash and linking it to the named entities (creating any that don't
// already exist).
func (s *Service) RememberFact(ctx context.Context, content string, typ store.MemoryType, importance float64, aboutEntities []string, confidence float64) (*RememberFactResult, error) {
	hash := textnorm.ContentHash(content)

	existing, err := s.store.FindMemoryByContentHash(hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &RememberFactResult{MemoryID: existing.ID, Deduped: true}, nil
	}

	if confidence == 0 {
		confidence = 1.0
	}
	m := &store.Memory{
		Content:     strings.TrimSpace(content),
		Type:        typ,
		Importance:  importance,
		Confidence:  confidence,
		ContentHash: hash,
	}
	id, err := s.store.CreateMemory(m)
	if err != nil {
		return nil, err
	}
	if err := s.store.AppendMemoryEvent(id, store.EventAdd, "remember_fact"); err != nil {
		return nil, err
	}

	s.embedOrQueue(ctx, "memory", id, m.Content)

	for _, name := range aboutEntities {
		entityID, err := s.resolveOrCreateEntity(ctx, name, store.EntityConcept, "")
		if err != nil {
			return nil, err
		}
		if err := s.store.LinkMemoryEntity(id, entityID, store.RoleAbout); err != nil {
			return nil, err
		}
	}

	return &RememberFactResult{MemoryID: id}, nil
}

// RememberEntity resolves-or-creates a named entity, merging descriptions
// (new text only fills an empty one) and computing its embedding over
// name + description.
func (s *Service) RememberEntity(ctx context.Context, name string, typ store.EntityType, description string) (int64, error) {
	id, err := s.resolveOrCreateEntity(ctx, name, typ, description)
	if err != nil {
		return 0, err
	}
	e, err := s.store.GetEntity(id)
	if err != nil {
		return 0, err
	}
	s.embedOrQueue(ctx, "entity", id, e.Name+" "+e.Description)
	return id, nil
}

// resolveOrCreateEntity performs spec §4.3's case-insensitive
// resolve-or-create, returning EntityResolutionError (Ambiguous) if more
// than one existing entity matches.
func (s *Service) resolveOrCreateEntity(ctx context.Context, name string, typ store.EntityType, description string) (int64, error) {
	matches, err := s.store.ResolveEntityByName(name)
	if err != nil {
		return 0, err
	}
	if len(matches) > 1 {
		return 0, memerr.New(memerr.KindAmbiguous, "entity name resolves to multiple entities: "+name)
	}
	if len(matches) == 1 {
		if description != "" {
			if err := s.store.UpdateEntityDescription(matches[0].ID, description); err != nil {
				return 0, err
			}
		}
		return matches[0].ID, nil
	}
	id, err := s.store.CreateEntity(strings.TrimSpace(name), typ, description)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RelateEntities resolves-or-creates both endpoints and either strengthens
// an existing current edge or inserts a new one, per spec §4.3.
func (s *Service) RelateEntities(ctx context.Context, sourceName, targetName string, relType store.RelationshipType, strength float64, validAt string) (int64, error) {
	sourceID, err := s.resolveOrCreateEntity(ctx, sourceName, store.EntityPerson, "")
	if err != nil {
		return 0, err
	}
	targetID, err := s.resolveOrCreateEntity(ctx, targetName, store.EntityPerson, "")
	if err != nil {
		return 0, err
	}
	if sourceID == targetID {
		return 0, memerr.New(memerr.KindStorage, "relate_entities: self-edges are rejected")
	}
	if strength == 0 {
		strength = 0.5
	}
	if validAt == "" {
		validAt = s.store.Now()
	}

	current, err := s.store.FindCurrentRelationship(sourceID, targetID, relType)
	if err != nil {
		return 0, err
	}
	if current != nil {
		if strength > current.Strength {
			if err := s.store.UpdateRelationshipStrength(current.ID, strength); err != nil {
				return 0, err
			}
		}
		return current.ID, nil
	}

	return s.store.CreateRelationship(&store.Relationship{
		SourceEntityID:   sourceID,
		TargetEntityID:   targetID,
		RelationshipType: relType,
		Strength:         strength,
		ValidAt:          validAt,
	})
}

// SupersedeRelationship closes oldID and inserts newRel atomically.
func (s *Service) SupersedeRelationship(oldID int64, newRel *store.Relationship) (int64, error) {
	return s.store.SupersedeRelationship(oldID, newRel, s.store.Now())
}

// FileDocument persists a Document row, links entities, and returns its
// id. Summary generation is the caller's responsibility; summary is stored
// as given.
func (s *Service) FileDocument(ctx context.Context, sourceType, filename, content, summary string, entityNames []string) (int64, error) {
	if s.filedDocs.seen(filename, content) {
		if existing, err := s.store.LatestDocumentByFilename(filename); err == nil && existing != nil {
			return existing.ID, nil
		}
	}

	entityIDs := make([]int64, 0, len(entityNames))
	for _, name := range entityNames {
		id, err := s.resolveOrCreateEntity(ctx, name, store.EntityConcept, "")
		if err != nil {
			return 0, err
		}
		entityIDs = append(entityIDs, id)
	}
	return s.store.CreateDocument(&store.Document{
		SourceType: sourceType,
		Filename:   filename,
		Content:    content,
		Summary:    summary,
	}, entityIDs)
}

// embedOrQueue computes and persists an embedding if the Embedder is
// available, otherwise enqueues the row for a later best-effort retry —
// remember_fact/remember_entity must never fail solely because the
// embedding runtime is down.
func (s *Service) embedOrQueue(ctx context.Context, ownerKind string, ownerID int64, text string) {
	if s.embedder == nil || !s.embedder.IsAvailable() {
		if err := s.store.EnqueuePendingEmbedding(ownerKind, ownerID); err != nil {
			s.log.Warn().Err(err).Str("owner_kind", ownerKind).Int64("owner_id", ownerID).Msg("failed to queue pending embedding")
		}
		return
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warn().Err(err).Str("owner_kind", ownerKind).Int64("owner_id", ownerID).Msg("embedding failed, queueing for retry")
		if err := s.store.EnqueuePendingEmbedding(ownerKind, ownerID); err != nil {
			s.log.Warn().Err(err).Msg("failed to queue pending embedding after embed failure")
		}
		return
	}
	var upsertErr error
	switch ownerKind {
	case "memory":
		upsertErr = s.store.UpsertMemoryEmbedding(ownerID, vec)
	case "entity":
		upsertErr = s.store.UpsertEntityEmbedding(ownerID, vec)
	}
	if upsertErr != nil {
		s.log.Warn().Err(upsertErr).Str("owner_kind", ownerKind).Int64("owner_id", ownerID).Msg("failed to store embedding")
	}
}

// DrainPendingEmbeddings retries queued embeddings opportunistically,
// called by the Scheduler between cron jobs.
func (s *Service) DrainPendingEmbeddings(ctx context.Context, limit int) (int, error) {
	if s.embedder == nil || !s.embedder.IsAvailable() {
		return 0, nil
	}
	pending, err := s.store.DrainPendingEmbeddings(limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		var text string
		switch p.OwnerKind {
		case "memory":
			m, err := s.store.GetMemory(p.OwnerID)
			if err != nil || m == nil {
				continue
			}
			text = m.Content
		case "entity":
			e, err := s.store.GetEntity(p.OwnerID)
			if err != nil || e == nil {
				continue
			}
			text = e.Name + " " + e.Description
		default:
			continue
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		switch p.OwnerKind {
		case "memory":
			err = s.store.UpsertMemoryEmbedding(p.OwnerID, vec)
		case "entity":
			err = s.store.UpsertEntityEmbedding(p.OwnerID, vec)
		}
		if err != nil {
			continue
		}
		if err := s.store.ClearPendingEmbedding(p.OwnerKind, p.OwnerID); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
