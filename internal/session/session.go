// Package session implements SessionBuffer: per-session turn buffering,
// unsummarized-session recovery, and end-of-session episode creation with
// any structured extractions persisted alongside it, per spec §4.7.
package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/ingest"
	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/store"
)

// turnSoftCap is the per-session turn count past which BufferTurn asks its
// caller to force a summary, per the resource budget in spec §5.
const turnSoftCap = 1000

// episodeNarrativeImportance is the default importance given to an episode's
// narrative when it is persisted as a memory, so recall can surface it
// without a caller having to re-submit it as an explicit extracted memory.
const episodeNarrativeImportance = 0.5

// Service implements SessionBuffer.
type Service struct {
	store    *store.Store
	remember *remember.Service
	log      zerolog.Logger
}

// New builds a Service.
func New(s *store.Store, rem *remember.Service, log zerolog.Logger) *Service {
	return &Service{store: s, remember: rem, log: log.With().Str("component", "session").Logger()}
}

// BufferResult is the outcome of BufferTurn.
type BufferResult struct {
	TurnID int64
	// ForceSummary is set once a session's unsummarized turn count reaches
	// turnSoftCap; the caller (ToolServer) should prompt for end_session.
	ForceSummary bool
}

// BufferTurn appends a conversational turn to a session.
func (s *Service) BufferTurn(sessionID, role, content string) (*BufferResult, error) {
	id, err := s.store.BufferTurn(sessionID, role, content)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountTurnsForSession(sessionID)
	if err != nil {
		return nil, err
	}
	return &BufferResult{TurnID: id, ForceSummary: n >= turnSoftCap}, nil
}

// Unsummarized returns sessions with at least one turn and no Episode row.
func (s *Service) Unsummarized() ([]string, error) {
	return s.store.UnsummarizedSessions()
}

// ReflectionInput is a proposed Reflection, with its subject named rather
// than already resolved to an entity id.
type ReflectionInput struct {
	ReflectionType  store.ReflectionType
	Content         string
	AboutEntityName string
}

// EndSessionInput carries end_session's optional structured extractions,
// matching spec §4.7's parameter list.
type EndSessionInput struct {
	SessionID     string
	Narrative     string
	Memories      []ingest.ExtractedMemory
	Entities      []ingest.ExtractedEntity
	Relationships []ingest.ExtractedRelationship
	Reflections   []ReflectionInput
}

// EndSession closes a session: inserts its Episode and marks every buffered
// turn summarized in one transaction, then persists any structured
// extractions via Remember, then persists reflections at their slower-decay
// defaults. The steps after the episode are separate writes; an error in one
// of them returns with the episode and any earlier writes already committed.
func (s *Service) EndSession(ctx context.Context, in EndSessionInput) (*store.Episode, error) {
	turns, err := s.store.TurnsForSession(in.SessionID)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, memerr.New(memerr.KindNotFound, "session has no turns to summarize")
	}
	startAt := turns[0].CreatedAt
	endAt := turns[len(turns)-1].CreatedAt

	if _, err := s.store.CreateEpisodeAndMarkSummarized(in.SessionID, in.Narrative, startAt, endAt); err != nil {
		return nil, err
	}

	for _, ent := range in.Entities {
		if _, err := s.remember.RememberEntity(ctx, ent.Name, ent.Type, ent.Description); err != nil {
			return nil, err
		}
	}

	if in.Narrative != "" {
		aboutNames := make([]string, 0, len(in.Entities))
		for _, ent := range in.Entities {
			aboutNames = append(aboutNames, ent.Name)
		}
		if _, err := s.remember.RememberFact(ctx, in.Narrative, store.MemoryObservation, episodeNarrativeImportance, aboutNames, 0); err != nil {
			return nil, err
		}
	}

	for _, m := range in.Memories {
		if _, err := s.remember.RememberFact(ctx, m.Content, m.Type, m.Importance, m.AboutEntities, m.Confidence); err != nil {
			return nil, err
		}
	}
	for _, r := range in.Relationships {
		if _, err := s.remember.RelateEntities(ctx, r.Source, r.Target, r.Type, r.Strength, ""); err != nil {
			return nil, err
		}
	}
	for _, r := range in.Reflections {
		if err := s.persistReflection(ctx, r); err != nil {
			return nil, err
		}
	}

	return s.store.GetEpisodeBySession(in.SessionID)
}

func (s *Service) persistReflection(ctx context.Context, r ReflectionInput) error {
	var aboutEntity *int64
	if r.AboutEntityName != "" {
		id, err := s.remember.RememberEntity(ctx, r.AboutEntityName, store.EntityConcept, "")
		if err != nil {
			return err
		}
		aboutEntity = &id
	}
	now := s.store.Now()
	_, err := s.store.CreateReflection(&store.Reflection{
		ReflectionType:  r.ReflectionType,
		Content:         r.Content,
		AboutEntity:     aboutEntity,
		FirstObservedAt: now,
		LastConfirmedAt: now,
	})
	return err
}
