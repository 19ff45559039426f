// Package consolidate implements ConsolidateService: importance decay,
// similarity-and-entity-link memory merging, and pattern detection over
// relationships and memories.
package consolidate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/embedder"
	"github.com/localmemory/memcore/internal/store"
)

const (
	memoryDecayRate     = 0.98
	reflectionDecayRate = 0.999
	decayFloor          = 0.05

	mergeSimilarityThreshold = 0.92
	mergeNeighborK           = 10

	coolingMinImportance = 0.5
	coolingOlderThanDays = 60

	communicationBurstMinCount   = 3
	communicationBurstWindowDays = 14
)

// Service implements decay, merge, pattern detection, and the daily
// full-consolidation pass per spec §4.5.
type Service struct {
	store    *store.Store
	embedder embedder.Embedder
	log      zerolog.Logger
	when     *when.Parser
}

// New builds a Service. embedder may be nil; Merge does not use it, since
// it clusters by the vectors already stored for each memory.
func New(s *store.Store, e embedder.Embedder, log zerolog.Logger) *Service {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Service{store: s, embedder: e, log: log.With().Str("component", "consolidate").Logger(), when: w}
}

// Report is the outcome of a FullConsolidation run.
type Report struct {
	DecayedN          int
	MergedN           int
	PatternsDetectedN int
}

// Decay applies importance decay to every non-invalidated memory and
// reflection last touched at least a day ago, per spec §4.5.
func (s *Service) Decay(ctx context.Context) (int, error) {
	now := s.store.Now()
	n := 0

	candidates, err := s.store.DecayCandidates(now)
	if err != nil {
		return 0, err
	}
	for _, m := range candidates {
		deltaDays, err := s.store.DaysSince(now, m.UpdatedAt)
		if err != nil {
			return n, err
		}
		newImportance := math.Max(decayFloor, m.Importance*math.Pow(memoryDecayRate, deltaDays))
		if err := s.store.TouchMemoryDecay(m.ID, newImportance, now); err != nil {
			return n, err
		}
		n++
	}

	reflections, err := s.store.ListReflections()
	if err != nil {
		return n, err
	}
	for _, r := range reflections {
		deltaDays, err := s.store.DaysSince(now, r.LastConfirmedAt)
		if err != nil {
			return n, err
		}
		if deltaDays < 1 {
			continue
		}
		rate := r.DecayRate
		if rate == 0 {
			rate = reflectionDecayRate
		}
		newImportance := math.Max(decayFloor, r.Importance*math.Pow(rate, deltaDays))
		if err := s.store.TouchReflectionDecay(r.ID, newImportance, now); err != nil {
			return n, err
		}
		n++
	}

	return n, nil
}

// Merge clusters memories whose embedding similarity exceeds the
// threshold and who share at least one entity link, absorbing every
// cluster member but the highest-importance one into it.
func (s *Service) Merge(ctx context.Context) (int, error) {
	now := s.store.Now()
	candidates, err := s.store.CandidateMemoriesForRecall("")
	if err != nil {
		return 0, err
	}

	entitySets := make(map[int64]map[int64]bool, len(candidates))
	for _, m := range candidates {
		ids, err := s.store.EntitiesForMemory(m.ID)
		if err != nil {
			return 0, err
		}
		set := make(map[int64]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		entitySets[m.ID] = set
	}

	byID := make(map[int64]*store.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}

	visited := make(map[int64]bool, len(candidates))
	merged := 0

	for _, m := range candidates {
		if visited[m.ID] {
			continue
		}
		vec, err := s.store.GetMemoryEmbedding(m.ID)
		if err != nil {
			return merged, err
		}
		if vec == nil {
			continue
		}
		matches, err := s.store.SearchMemoryEmbeddings(vec, mergeNeighborK)
		if err != nil {
			return merged, err
		}

		cluster := []*store.Memory{m}
		for _, match := range matches {
			if match.OwnerID == m.ID || visited[match.OwnerID] {
				continue
			}
			other, ok := byID[match.OwnerID]
			if !ok {
				continue
			}
			if cosineSimilarity(match.Distance) < mergeSimilarityThreshold {
				continue
			}
			if !sharesEntity(entitySets[m.ID], entitySets[other.ID]) {
				continue
			}
			cluster = append(cluster, other)
		}
		if len(cluster) < 2 {
			continue
		}

		survivor := cluster[0]
		for _, c := range cluster[1:] {
			if c.Importance > survivor.Importance || (c.Importance == survivor.Importance && c.ID < survivor.ID) {
				survivor = c
			}
		}

		absorbedIDs := make([]int64, 0, len(cluster)-1)
		absorbedContents := make([]string, 0, len(cluster)-1)
		accessCount := survivor.AccessCount
		for _, c := range cluster {
			visited[c.ID] = true
			if c.ID == survivor.ID {
				continue
			}
			absorbedIDs = append(absorbedIDs, c.ID)
			absorbedContents = append(absorbedContents, c.Content)
			accessCount += c.AccessCount
		}
		if err := s.store.MergeMemories(survivor.ID, absorbedIDs, absorbedContents, survivor.Importance, accessCount, now); err != nil {
			return merged, err
		}
		merged += len(absorbedIDs)
	}

	return merged, nil
}

// cosineSimilarity approximates cosine similarity from an L2 distance,
// assuming the embedder emits unit-normalized vectors: for unit vectors
// ||a-b||^2 = 2 - 2cos(a,b), so cos(a,b) = 1 - distance^2/2.
func cosineSimilarity(l2Distance float64) float64 {
	sim := 1 - (l2Distance*l2Distance)/2
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

func sharesEntity(a, b map[int64]bool) bool {
	for id := range a {
		if b[id] {
			return true
		}
	}
	return false
}

// DetectPatterns scans relationships and memories for cooling entities,
// overdue commitments, and communication-style bursts, per spec §4.5.
func (s *Service) DetectPatterns(ctx context.Context) (int, error) {
	now := s.store.Now()
	nowT, err := time.Parse(time.RFC3339, now)
	if err != nil {
		nowT = time.Now().UTC()
	}
	detected := 0

	cooling, err := s.store.CoolingCandidates(coolingMinImportance, coolingOlderThanDays, now)
	if err != nil {
		return detected, err
	}
	for _, e := range cooling {
		if err := s.upsertPattern(store.PatternRelationship, "cooling: "+e.Name, 0.7, now); err != nil {
			return detected, err
		}
		detected++
	}

	commitments, err := s.store.CandidateMemoriesForRecall(store.MemoryCommitment)
	if err != nil {
		return detected, err
	}
	for _, m := range commitments {
		r, err := s.when.Parse(m.Content, nowT)
		if err != nil || r == nil {
			continue
		}
		if r.Time.Before(nowT) {
			name := fmt.Sprintf("overdue commitment #%d", m.ID)
			if err := s.upsertPattern(store.PatternScheduling, name, 0.8, now); err != nil {
				return detected, err
			}
			detected++
		}
	}

	burstEntityIDs, err := s.store.CommunicationBurstEntities(communicationBurstMinCount, communicationBurstWindowDays, now)
	if err != nil {
		return detected, err
	}
	for _, id := range burstEntityIDs {
		e, err := s.store.GetEntity(id)
		if err != nil {
			return detected, err
		}
		if e == nil {
			continue
		}
		if err := s.upsertPattern(store.PatternCommunication, "communication style: "+e.Name, 0.6, now); err != nil {
			return detected, err
		}
		detected++
	}

	return detected, nil
}

func (s *Service) upsertPattern(patternType store.PatternType, name string, confidence float64, now string) error {
	existing, err := s.store.FindActivePattern(patternType, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.store.ReinforcePattern(existing.ID, now)
	}
	_, err = s.store.CreatePattern(&store.Pattern{
		PatternType:     patternType,
		Name:            name,
		Confidence:      confidence,
		FirstObservedAt: now,
		LastConfirmedAt: now,
	})
	return err
}

// FullConsolidation runs Decay, then Merge, then DetectPatterns, per
// spec §4.5's daily 03:00 job. Predictions and verification are
// deliberately not part of this pass — their service code stays
// callable but is never scheduled.
func (s *Service) FullConsolidation(ctx context.Context) (*Report, error) {
	decayed, err := s.Decay(ctx)
	if err != nil {
		return nil, err
	}
	merged, err := s.Merge(ctx)
	if err != nil {
		return nil, err
	}
	patterns, err := s.DetectPatterns(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{DecayedN: decayed, MergedN: merged, PatternsDetectedN: patterns}, nil
}
