package toolserver

import (
	"context"

	"github.com/localmemory/memcore/internal/recall"
	"github.com/localmemory/memcore/internal/store"
	"github.com/localmemory/memcore/pkg/pool"
)

// trackerKey is the context key under which handle() stashes the per-request
// slice of maps it borrowed from pool.MapPool, so writeResponse can return
// them once json.Marshal is done reading the response — the same
// GC-pressure-reduction idiom pool.go already provided for GoKitt's JSON
// output path. Borrowing without returning defeats the point of a pool, so
// every entityJSON/memoryJSON/etc. call registers its map here instead of
// handing back an orphaned one.
type trackerKey struct{}

func withTracker(ctx context.Context) (context.Context, *[]map[string]any) {
	t := &[]map[string]any{}
	return context.WithValue(ctx, trackerKey{}, t), t
}

// track records m so the caller's eventual writeResponse can pool.PutMap it,
// and returns m unchanged so call sites can wrap a GetMap call inline.
func track(ctx context.Context, m map[string]any) map[string]any {
	if t, ok := ctx.Value(trackerKey{}).(*[]map[string]any); ok {
		*t = append(*t, m)
	}
	return m
}

func entityJSON(ctx context.Context, e *store.Entity) map[string]any {
	if e == nil {
		return nil
	}
	m := track(ctx, pool.GetMap())
	m["id"] = e.ID
	m["name"] = e.Name
	m["type"] = e.Type
	m["description"] = e.Description
	m["importance"] = e.Importance
	m["created_at"] = e.CreatedAt
	m["updated_at"] = e.UpdatedAt
	m["aliases"] = e.Aliases
	return m
}

func memoryJSON(ctx context.Context, m *store.Memory) map[string]any {
	if m == nil {
		return nil
	}
	out := track(ctx, pool.GetMap())
	out["id"] = m.ID
	out["content"] = m.Content
	out["type"] = m.Type
	out["importance"] = m.Importance
	out["confidence"] = m.Confidence
	out["created_at"] = m.CreatedAt
	out["updated_at"] = m.UpdatedAt
	out["last_accessed"] = m.LastAccessed
	out["access_count"] = m.AccessCount
	out["verification_status"] = m.VerificationStatus
	return out
}

func reflectionJSON(ctx context.Context, r *store.Reflection) map[string]any {
	if r == nil {
		return nil
	}
	out := track(ctx, pool.GetMap())
	out["id"] = r.ID
	out["reflection_type"] = r.ReflectionType
	out["content"] = r.Content
	out["importance"] = r.Importance
	out["confidence"] = r.Confidence
	out["decay_rate"] = r.DecayRate
	out["aggregation_count"] = r.AggregationCount
	out["first_observed_at"] = r.FirstObservedAt
	out["last_confirmed_at"] = r.LastConfirmedAt
	if r.AboutEntity != nil {
		out["about_entity"] = *r.AboutEntity
	}
	return out
}

func relationshipJSON(ctx context.Context, r *store.Relationship) map[string]any {
	if r == nil {
		return nil
	}
	out := track(ctx, pool.GetMap())
	out["id"] = r.ID
	out["source_entity_id"] = r.SourceEntityID
	out["target_entity_id"] = r.TargetEntityID
	out["relationship_type"] = r.RelationshipType
	out["strength"] = r.Strength
	out["valid_at"] = r.ValidAt
	out["invalid_at"] = r.InvalidAt
	out["created_at"] = r.CreatedAt
	out["updated_at"] = r.UpdatedAt
	return out
}

func documentJSON(ctx context.Context, d *store.Document) map[string]any {
	if d == nil {
		return nil
	}
	out := track(ctx, pool.GetMap())
	out["id"] = d.ID
	out["source_type"] = d.SourceType
	out["filename"] = d.Filename
	out["summary"] = d.Summary
	out["created_at"] = d.CreatedAt
	return out
}

func memoryEventJSON(ctx context.Context, e *store.MemoryEvent) map[string]any {
	if e == nil {
		return nil
	}
	out := track(ctx, pool.GetMap())
	out["id"] = e.ID
	out["event_type"] = e.EventType
	out["detail"] = e.Detail
	out["created_at"] = e.CreatedAt
	return out
}

// candidateJSON flattens a recall.Candidate (exactly one of Memory or
// Reflection set) into one uniform result shape, tagged by "kind" so the
// tool caller can tell which source backed this hit.
func candidateJSON(ctx context.Context, c recall.Candidate) map[string]any {
	out := track(ctx, pool.GetMap())
	out["score"] = c.Score
	out["similarity"] = c.Similarity
	if c.Memory != nil {
		out["kind"] = "memory"
		out["memory"] = memoryJSON(ctx, c.Memory)
	} else {
		out["kind"] = "reflection"
		out["reflection"] = reflectionJSON(ctx, c.Reflection)
	}
	return out
}
