// Package recall implements the read side of the memory engine: ranked
// semantic+keyword search, entity context lookup, fuzzy entity search, and
// memory provenance tracing.
package recall

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	trie "github.com/derekparker/trie/v3"
	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/embedder"
	"github.com/localmemory/memcore/internal/store"
)

const (
	weightSimilarity = 0.60
	weightImportance = 0.30
	weightRecency    = 0.10
	recencyHalfLife  = 30.0 // days
	topKMultiplier   = 3
	defaultTopK      = 30
)

// Service implements RecallService: recall, about, search_entities, trace.
type Service struct {
	store    *store.Store
	embedder embedder.Embedder
	log      zerolog.Logger

	mu        sync.RWMutex
	trie      *trie.Trie       // entity name/alias prefix index, rebuilt on demand
	trieOwner map[string]int64 // lowercase key -> entity id, parallel to trie
}

// New builds a Service.
func New(s *store.Store, e embedder.Embedder, log zerolog.Logger) *Service {
	return &Service{store: s, embedder: e, log: log.With().Str("component", "recall").Logger()}
}

// Candidate is a scored item returned from Recall: exactly one of Memory
// or Reflection is set, per the decision that reflections are searchable
// alongside memories under the same composite weighting (spec §9).
type Candidate struct {
	Memory     *store.Memory
	Reflection *store.Reflection
	Similarity float64
	Score      float64
}

func (c Candidate) confidence() float64 {
	if c.Memory != nil {
		return c.Memory.Confidence
	}
	return c.Reflection.Confidence
}

func (c Candidate) sortKey() (string, int64) {
	if c.Memory != nil {
		return c.Memory.UpdatedAt, c.Memory.ID
	}
	return c.Reflection.LastConfirmedAt, c.Reflection.ID
}

// Filter narrows the recall candidate universe.
type Filter struct {
	Type store.MemoryType
}

// Recall implements spec §4.4's ranked recall pipeline: embed the query,
// narrow memories to the nearest neighbors (or fall back to keyword
// matching when the Embedder is unavailable), score memories and
// reflections by the 0.6/0.3/0.1 composite, apply tie-breaks, and batch
// the rehearsal effect for every recalled memory.
func (s *Service) Recall(ctx context.Context, query string, limit int, filter Filter) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}
	topK := limit * topKMultiplier
	if topK < defaultTopK {
		topK = defaultTopK
	}

	memories, err := s.store.CandidateMemoriesForRecall(filter.Type)
	if err != nil {
		return nil, err
	}

	memSimilarity := make(map[int64]float64, len(memories))
	if s.embedder != nil && s.embedder.IsAvailable() {
		queryVec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			matches, err := s.store.SearchMemoryEmbeddings(queryVec, topK)
			if err == nil {
				maxDist := 0.0
				for _, m := range matches {
					if m.Distance > maxDist {
						maxDist = m.Distance
					}
				}
				byID := make(map[int64]*store.Memory, len(memories))
				for _, c := range memories {
					byID[c.ID] = c
				}
				narrowed := make([]*store.Memory, 0, len(matches))
				for _, m := range matches {
					if mem, ok := byID[m.OwnerID]; ok {
						narrowed = append(narrowed, mem)
						memSimilarity[m.OwnerID] = distanceToSimilarity(m.Distance, maxDist)
					}
				}
				memories = narrowed
			}
		}
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(memSimilarity) == 0 {
		// Keyword fallback: a candidate's similarity is its fraction of
		// query terms appearing in its content, case-insensitive.
		for _, c := range memories {
			memSimilarity[c.ID] = keywordSimilarity(c.Content, terms)
		}
	}

	now := s.store.Now()
	scored := make([]Candidate, 0, len(memories))
	for _, c := range memories {
		sim := memSimilarity[c.ID]
		score := weightSimilarity*sim + weightImportance*c.Importance + weightRecency*recencyDecay(c.LastAccessed, now)
		scored = append(scored, Candidate{Memory: c, Similarity: sim, Score: score})
	}

	// Reflections have no vector index of their own (spec reserves
	// sqlite-vec for memories and entities); they always score by keyword
	// similarity, empty for filter.Type-scoped recalls since reflections
	// aren't typed as Memories.
	if filter.Type == "" {
		reflections, err := s.store.ListReflections()
		if err != nil {
			return nil, err
		}
		for _, r := range reflections {
			sim := keywordSimilarity(r.Content, terms)
			score := weightSimilarity*sim + weightImportance*r.Importance + weightRecency*recencyDecay(r.LastConfirmedAt, now)
			scored = append(scored, Candidate{Reflection: r, Similarity: sim, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.confidence() != b.confidence() {
			return a.confidence() > b.confidence()
		}
		aKey, aID := a.sortKey()
		bKey, bID := b.sortKey()
		if aKey != bKey {
			return aKey > bKey
		}
		return aID < bID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}

	updates := make([]store.RehearsalUpdate, 0, len(scored))
	for i, c := range scored {
		if c.Memory == nil {
			continue
		}
		newImportance := math.Min(1.0, c.Memory.Importance*1.02)
		updates = append(updates, store.RehearsalUpdate{MemoryID: c.Memory.ID, Importance: newImportance})
		scored[i].Memory.Importance = newImportance
		scored[i].Memory.AccessCount++
		scored[i].Memory.LastAccessed = now
	}
	if err := s.store.ApplyRehearsal(updates, now); err != nil {
		return nil, err
	}
	for _, c := range scored {
		if c.Memory == nil {
			continue
		}
		if err := s.store.AppendMemoryEvent(c.Memory.ID, store.EventReinforce, "recall"); err != nil {
			s.log.Warn().Err(err).Int64("memory_id", c.Memory.ID).Msg("failed to append reinforce event")
		}
	}

	if err := s.store.AppendRecallLog(query, len(scored)); err != nil {
		s.log.Warn().Err(err).Msg("failed to append recall log")
	}

	return scored, nil
}

func distanceToSimilarity(distance, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return 1.0
	}
	return 1.0 - (distance / maxDistance)
}

func keywordSimilarity(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// recencyDecay implements exp(-Δdays / 30); an unparseable timestamp is
// treated as maximally stale (decay 0) rather than erroring the whole
// recall pipeline.
func recencyDecay(lastAccessed, now string) float64 {
	t1, err1 := time.Parse(time.RFC3339, lastAccessed)
	t2, err2 := time.Parse(time.RFC3339, now)
	if err1 != nil || err2 != nil {
		return 0
	}
	deltaDays := t2.Sub(t1).Hours() / 24
	if deltaDays < 0 {
		deltaDays = 0
	}
	return math.Exp(-deltaDays / recencyHalfLife)
}

// AboutResult is the full context returned for one entity.
type AboutResult struct {
	Entity        *store.Entity
	Memories      []*store.Memory
	Relationships []*store.Relationship
	Documents     []*store.Document
	Ambiguous     bool
	Alternatives  []*store.Entity
}

// About resolves an entity by name (case-insensitive, aliases included)
// and returns its one-hop context. Multiple matches return the
// top-importance one with the rest flagged as alternatives.
func (s *Service) About(entityName string) (*AboutResult, error) {
	matches, err := s.store.ResolveEntityByName(entityName)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Importance > matches[j].Importance })
	best := matches[0]

	memories, err := s.store.MemoriesForEntity(best.ID)
	if err != nil {
		return nil, err
	}
	relationships, err := s.store.RelationshipsForEntity(best.ID)
	if err != nil {
		return nil, err
	}
	documents, err := s.store.DocumentsForEntity(best.ID)
	if err != nil {
		return nil, err
	}

	result := &AboutResult{Entity: best, Memories: memories, Relationships: relationships, Documents: documents}
	if len(matches) > 1 {
		result.Ambiguous = true
		result.Alternatives = matches[1:]
	}
	return result, nil
}

// RebuildEntityIndex refreshes the in-process prefix index over every
// entity's name and aliases, used by SearchEntities for the "prefix" half
// of spec §4.4's "prefix + fuzzy name match". Callers rebuild after any
// entity create/alias write; rebuilding from a full table scan is cheap
// relative to typical entity counts.
func (s *Service) RebuildEntityIndex() error {
	entities, err := s.store.AllEntities()
	if err != nil {
		return err
	}
	t := trie.New()
	owner := make(map[string]int64, len(entities)*2)
	for _, e := range entities {
		key := strings.ToLower(e.Name)
		t.Add(key, nil)
		owner[key] = e.ID
		for _, a := range e.Aliases {
			aliasKey := strings.ToLower(a)
			t.Add(aliasKey, nil)
			owner[aliasKey] = e.ID
		}
	}
	s.mu.Lock()
	s.trie = t
	s.trieOwner = owner
	s.mu.Unlock()
	return nil
}

// SearchEntities implements spec §4.4's search_entities: prefix matching
// via the in-process trie, falling back to SQL LIKE for the fuzzy half and
// whenever the trie hasn't been warmed yet.
func (s *Service) SearchEntities(query string, types []store.EntityType, limit int) ([]*store.Entity, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	t := s.trie
	owner := s.trieOwner
	s.mu.RUnlock()

	seen := make(map[int64]bool)
	out := make([]*store.Entity, 0, limit)

	if t != nil {
		for _, key := range t.PrefixSearch(strings.ToLower(query)) {
			id, ok := owner[key]
			if !ok || seen[id] {
				continue
			}
			e, err := s.store.GetEntity(id)
			if err != nil {
				return nil, err
			}
			if e == nil || !typeMatches(e.Type, types) {
				continue
			}
			seen[id] = true
			out = append(out, e)
			if len(out) >= limit {
				return out, nil
			}
		}
	}

	fuzzy, err := s.store.SearchEntitiesByNameFragment(query, types, limit-len(out))
	if err != nil {
		return nil, err
	}
	for _, e := range fuzzy {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out, nil
}

func typeMatches(t store.EntityType, allowed []store.EntityType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == t {
			return true
		}
	}
	return false
}

// TraceResult is the provenance chain for one memory.
type TraceResult struct {
	Memory    *store.Memory
	Events    []*store.MemoryEvent
	Entities  []*store.Entity
	Documents []*store.Document
}

// Trace returns the provenance chain: memory -> audit events -> linked
// entities -> documents those entities reference.
func (s *Service) Trace(memoryID int64) (*TraceResult, error) {
	m, err := s.store.GetMemory(memoryID)
	if err != nil || m == nil {
		return nil, err
	}
	events, err := s.store.EventsForMemory(memoryID)
	if err != nil {
		return nil, err
	}
	entityIDs, err := s.store.EntitiesForMemory(memoryID)
	if err != nil {
		return nil, err
	}
	entities := make([]*store.Entity, 0, len(entityIDs))
	var documents []*store.Document
	for _, id := range entityIDs {
		e, err := s.store.GetEntity(id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		entities = append(entities, e)
		docs, err := s.store.DocumentsForEntity(id)
		if err != nil {
			return nil, err
		}
		documents = append(documents, docs...)
	}
	return &TraceResult{Memory: m, Events: events, Entities: entities, Documents: documents}, nil
}
