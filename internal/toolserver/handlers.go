package toolserver

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/localmemory/memcore/internal/ingest"
	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/recall"
	"github.com/localmemory/memcore/internal/session"
	"github.com/localmemory/memcore/internal/store"
)

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return memerr.New(memerr.KindNotFound, "missing args")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return memerr.Wrap(memerr.KindNotFound, "malformed args", err)
	}
	return nil
}

// --- remember ---

type rememberArgs struct {
	Content       string   `json:"content"`
	Type          string   `json:"type"`
	Importance    float64  `json:"importance"`
	Confidence    float64  `json:"confidence"`
	AboutEntities []string `json:"about_entities"`
}

func handleRemember(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a rememberArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Content == "" {
		return nil, memerr.New(memerr.KindNotFound, "content is required")
	}
	result, err := s.remember.RememberFact(ctx, a.Content, store.MemoryType(a.Type), a.Importance, a.AboutEntities, a.Confidence)
	if err != nil {
		return nil, err
	}
	return map[string]any{"memory_id": result.MemoryID, "deduped": result.Deduped}, nil
}

// --- recall ---

type recallArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
	Type  string `json:"type"`
}

func handleRecall(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a recallArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	candidates, err := s.recall.Recall(ctx, a.Query, a.Limit, recall.Filter{Type: store.MemoryType(a.Type)})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, candidateJSON(ctx, c))
	}
	return map[string]any{"results": out}, nil
}

// --- about ---

type aboutArgs struct {
	Entity string `json:"entity"`
}

func handleAbout(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a aboutArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Entity == "" {
		return nil, memerr.New(memerr.KindNotFound, "entity is required")
	}
	result, err := s.recall.About(a.Entity)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, memerr.New(memerr.KindNotFound, "no entity matches "+a.Entity)
	}

	memories := make([]map[string]any, 0, len(result.Memories))
	for _, m := range result.Memories {
		memories = append(memories, memoryJSON(ctx, m))
	}
	rels := make([]map[string]any, 0, len(result.Relationships))
	for _, r := range result.Relationships {
		rels = append(rels, relationshipJSON(ctx, r))
	}
	docs := make([]map[string]any, 0, len(result.Documents))
	for _, d := range result.Documents {
		docs = append(docs, documentJSON(ctx, d))
	}
	alts := make([]map[string]any, 0, len(result.Alternatives))
	for _, e := range result.Alternatives {
		alts = append(alts, entityJSON(ctx, e))
	}

	return map[string]any{
		"entity":        entityJSON(ctx, result.Entity),
		"memories":      memories,
		"relationships": rels,
		"documents":     docs,
		"ambiguous":     result.Ambiguous,
		"alternatives":  alts,
	}, nil
}

// --- relate ---

type relateArgs struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
	ValidAt  string  `json:"valid_at"`
}

func handleRelate(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a relateArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Source == "" || a.Target == "" {
		return nil, memerr.New(memerr.KindNotFound, "source and target are required")
	}
	id, err := s.remember.RelateEntities(ctx, a.Source, a.Target, store.RelationshipType(a.Type), a.Strength, a.ValidAt)
	if err != nil {
		return nil, err
	}
	return map[string]any{"relationship_id": id}, nil
}

// --- entity ---

type entityArgs struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

func handleEntity(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a entityArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Name == "" {
		return nil, memerr.New(memerr.KindNotFound, "name is required")
	}
	id, err := s.remember.RememberEntity(ctx, a.Name, store.EntityType(a.Type), a.Description)
	if err != nil {
		return nil, err
	}
	if err := s.recall.RebuildEntityIndex(); err != nil {
		s.log.Warn().Err(err).Msg("entity index rebuild failed after entity write")
	}
	if err := s.ingest.RebuildGazetteer(); err != nil {
		s.log.Warn().Err(err).Msg("gazetteer rebuild failed after entity write")
	}
	return map[string]any{"entity_id": id}, nil
}

// --- search_entities ---

type searchEntitiesArgs struct {
	Query string   `json:"query"`
	Types []string `json:"types"`
	Limit int      `json:"limit"`
}

func handleSearchEntities(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a searchEntitiesArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	types := make([]store.EntityType, 0, len(a.Types))
	for _, t := range a.Types {
		types = append(types, store.EntityType(t))
	}
	entities, err := s.recall.SearchEntities(a.Query, types, a.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		out = append(out, entityJSON(ctx, e))
	}
	return map[string]any{"entities": out}, nil
}

// --- buffer_turn ---

type bufferTurnArgs struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

func handleBufferTurn(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a bufferTurnArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.SessionID == "" {
		return nil, memerr.New(memerr.KindNotFound, "session_id is required")
	}
	result, err := s.session.BufferTurn(a.SessionID, a.Role, a.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"turn_id": result.TurnID, "force_summary": result.ForceSummary}, nil
}

// --- end_session ---

type reflectionArgs struct {
	ReflectionType  string `json:"reflection_type"`
	Content         string `json:"content"`
	AboutEntityName string `json:"about_entity"`
}

type endSessionArgs struct {
	SessionID     string                          `json:"session_id"`
	Narrative     string                          `json:"narrative"`
	Memories      []ingest.ExtractedMemory        `json:"memories"`
	Entities      []ingest.ExtractedEntity        `json:"entities"`
	Relationships []ingest.ExtractedRelationship  `json:"relationships"`
	Reflections   []reflectionArgs                `json:"reflections"`
}

func handleEndSession(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a endSessionArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.SessionID == "" {
		return nil, memerr.New(memerr.KindNotFound, "session_id is required")
	}

	reflections := make([]session.ReflectionInput, 0, len(a.Reflections))
	for _, r := range a.Reflections {
		reflections = append(reflections, session.ReflectionInput{
			ReflectionType:  store.ReflectionType(r.ReflectionType),
			Content:         r.Content,
			AboutEntityName: r.AboutEntityName,
		})
	}

	episode, err := s.session.EndSession(ctx, session.EndSessionInput{
		SessionID:     a.SessionID,
		Narrative:     a.Narrative,
		Memories:      a.Memories,
		Entities:      a.Entities,
		Relationships: a.Relationships,
		Reflections:   reflections,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"episode_id": episode.ID,
		"session_id": episode.SessionID,
		"narrative":  episode.Narrative,
		"start_at":   episode.StartAt,
		"end_at":     episode.EndAt,
	}, nil
}

// --- unsummarized ---

func handleUnsummarized(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	sessions, err := s.session.Unsummarized()
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": sessions}, nil
}

// --- batch ---

type batchOp struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

type batchArgs struct {
	Operations []batchOp `json:"operations"`
}

// handleBatch runs each sub-operation in order, stopping at the first
// error rather than rolling back prior successes: the Store has no path
// for a service-layer caller to thread one external transaction through
// several unrelated service methods, so "all or nothing" per spec §5 is
// honored at the batch boundary (no partial result is ever returned for a
// still-running batch) but not as a single database transaction. Operations
// before the failing one remain committed.
func handleBatch(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a batchArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	if len(a.Operations) > maxBatchSize {
		return nil, memerr.New(memerr.KindNotFound, "batch exceeds maximum of 100 operations")
	}

	results := make([]map[string]any, 0, len(a.Operations))
	for i, op := range a.Operations {
		fn, ok := s.dispatch[op.Tool]
		if !ok {
			return nil, memerr.New(memerr.KindNotFound, "unknown tool in batch operation "+strconv.Itoa(i))
		}
		result, err := fn(ctx, s, op.Args)
		if err != nil {
			kind := memerr.KindOf(err)
			return map[string]any{
				"completed": results,
				"failed_at": i,
				"error":     map[string]any{"kind": string(kind), "message": err.Error()},
			}, nil
		}
		results = append(results, map[string]any{"tool": op.Tool, "result": result})
	}
	return map[string]any{"completed": results}, nil
}

// --- trace ---

type traceArgs struct {
	MemoryID int64 `json:"memory_id"`
}

func handleTrace(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a traceArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	result, err := s.recall.Trace(a.MemoryID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, memerr.New(memerr.KindNotFound, "no memory with that id")
	}

	events := make([]map[string]any, 0, len(result.Events))
	for _, e := range result.Events {
		events = append(events, memoryEventJSON(ctx, e))
	}
	entities := make([]map[string]any, 0, len(result.Entities))
	for _, e := range result.Entities {
		entities = append(entities, entityJSON(ctx, e))
	}
	docs := make([]map[string]any, 0, len(result.Documents))
	for _, d := range result.Documents {
		docs = append(docs, documentJSON(ctx, d))
	}

	return map[string]any{
		"memory":    memoryJSON(ctx, result.Memory),
		"events":    events,
		"entities":  entities,
		"documents": docs,
	}, nil
}

// --- consolidate ---

func handleConsolidate(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	report, err := s.consolidate.FullConsolidation(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"decayed":           report.DecayedN,
		"merged":            report.MergedN,
		"patterns_detected": report.PatternsDetectedN,
	}, nil
}

// --- system_health ---

func handleSystemHealth(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	if s.health == nil {
		return nil, memerr.New(memerr.KindStorage, "health component not configured")
	}
	return s.health.Report(), nil
}

// --- reflections ---

type reflectionsArgs struct {
	Op         string  `json:"op"`
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

func handleReflections(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a reflectionsArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	switch a.Op {
	case "", "list":
		reflections, err := s.store.ListReflections()
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(reflections))
		for _, r := range reflections {
			out = append(out, reflectionJSON(ctx, r))
		}
		return map[string]any{"reflections": out}, nil
	case "update":
		if a.ID == 0 {
			return nil, memerr.New(memerr.KindNotFound, "id is required")
		}
		if err := s.store.UpdateReflection(a.ID, a.Content, a.Importance); err != nil {
			return nil, err
		}
		return map[string]any{"updated": true}, nil
	case "delete":
		if a.ID == 0 {
			return nil, memerr.New(memerr.KindNotFound, "id is required")
		}
		if err := s.store.DeleteReflection(a.ID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	default:
		return nil, memerr.New(memerr.KindNotFound, "unknown reflections op: "+a.Op)
	}
}

// --- ingest ---

type ingestArgs struct {
	Op         string              `json:"op"`
	Mode       string              `json:"mode"`
	SourceText string              `json:"source_text"`
	Extraction *ingest.Extraction  `json:"extraction"`
}

// handleIngest drives ingest's extract-then-approve-then-commit flow
// (spec §4.6) as a single tool: op "extract" returns a proposed
// Extraction for the caller to inspect, op "commit" persists a (possibly
// caller-edited) Extraction previously returned by "extract". This tool
// is not named in the spec's literal tool table, which otherwise gives a
// caller no way to drive §4.6 at all.
func handleIngest(ctx context.Context, s *Service, raw json.RawMessage) (any, error) {
	var a ingestArgs
	if err := unmarshalArgs(raw, &a); err != nil {
		return nil, err
	}
	switch a.Op {
	case "extract":
		mode := ingest.Mode(a.Mode)
		if mode == "" {
			mode = ingest.ModeGeneral
		}
		extraction, err := s.ingest.Extract(ctx, mode, a.SourceText)
		if err != nil {
			return nil, err
		}
		return map[string]any{"extraction": extraction}, nil
	case "commit":
		if a.Extraction == nil {
			return nil, memerr.New(memerr.KindNotFound, "extraction is required")
		}
		if err := s.ingest.Commit(ctx, a.Extraction); err != nil {
			return nil, err
		}
		return map[string]any{"committed": true}, nil
	default:
		return nil, memerr.New(memerr.KindNotFound, "unknown ingest op: "+a.Op)
	}
}
