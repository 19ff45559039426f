// Package ingest orchestrates LLM-backed extraction of structured memories
// out of free-form source material (call transcripts, emails, filed
// documents) per spec §4.6, falling back to the heuristic extractor when no
// LanguageModel is reachable.
package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/extractor"
	"github.com/localmemory/memcore/internal/gazetteer"
	"github.com/localmemory/memcore/internal/languagemodel"
	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/store"
)

// Mode selects the extraction prompt's framing of the source text.
type Mode string

const (
	ModeTranscript Mode = "transcript"
	ModeEmail      Mode = "email"
	ModeDocument   Mode = "document"
	ModeGeneral    Mode = "general"
)

// ExtractedEntity is a proposed Entity row, not yet persisted.
type ExtractedEntity struct {
	Name        string          `json:"name"`
	Type        store.EntityType `json:"type"`
	Description string          `json:"description,omitempty"`
}

// ExtractedMemory is a proposed Memory row, not yet persisted.
type ExtractedMemory struct {
	Content       string          `json:"content"`
	Type          store.MemoryType `json:"type"`
	Importance    float64         `json:"importance"`
	Confidence    float64         `json:"confidence"`
	AboutEntities []string        `json:"about_entities,omitempty"`
}

// ExtractedRelationship is a proposed Relationship row, not yet persisted.
type ExtractedRelationship struct {
	Source   string                 `json:"source"`
	Target   string                 `json:"target"`
	Type     store.RelationshipType `json:"type"`
	Strength float64                `json:"strength"`
}

// Extraction is the structured result of one Extract call, presented to the
// tool caller for approval before anything is written.
type Extraction struct {
	Entities      []ExtractedEntity        `json:"entities"`
	Memories      []ExtractedMemory        `json:"memories"`
	Relationships []ExtractedRelationship  `json:"relationships"`
	Commitments   []ExtractedMemory        `json:"commitments"`
	Degraded      bool                     `json:"degraded"`
}

// modelResponse is the shape asked of the LanguageModel; fields mirror
// Extraction but without the Degraded flag, which is set locally.
type modelResponse struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Memories      []ExtractedMemory       `json:"memories"`
	Relationships []ExtractedRelationship `json:"relationships"`
	Commitments   []ExtractedMemory       `json:"commitments"`
}

// Service implements IngestService per spec §4.6.
type Service struct {
	store     *store.Store
	lm        languagemodel.LanguageModel
	remember  *remember.Service
	extractor *extractor.Extractor
	log       zerolog.Logger

	mu   sync.RWMutex
	dict *gazetteer.Dictionary
}

// New builds a Service. lm may be nil (always falls back to the heuristic
// extractor); extractor may also be nil if the caller has no entity
// candidate discovery configured, in which case a degraded Extract call with
// no LanguageModel returns only the known entities the gazetteer finds.
func New(s *store.Store, lm languagemodel.LanguageModel, rem *remember.Service, ext *extractor.Extractor, log zerolog.Logger) *Service {
	return &Service{store: s, lm: lm, remember: rem, extractor: ext, log: log.With().Str("component", "ingest").Logger()}
}

// RebuildGazetteer recompiles the Aho-Corasick dictionary used by degraded
// extraction from a fresh snapshot of known entities. Callers rebuild after
// any entity create/alias write, mirroring RecallService.RebuildEntityIndex.
func (s *Service) RebuildGazetteer() error {
	entities, err := s.store.AllEntities()
	if err != nil {
		return err
	}
	entries := make([]gazetteer.Entry, 0, len(entities))
	for _, e := range entities {
		entries = append(entries, gazetteer.Entry{
			EntityID: e.ID,
			Name:     e.Name,
			Type:     e.Type,
			Aliases:  e.Aliases,
		})
	}
	dict, err := gazetteer.Compile(entries)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dict = dict
	s.mu.Unlock()
	return nil
}

func systemPrompt(mode Mode) string {
	base := `You extract structured memory data from source text about the user and the people, organizations, projects, and places they mention.
Respond with a single JSON object with exactly these keys: "entities", "memories", "relationships", "commitments".
"entities" is an array of {name, type, description}, type one of person|organization|project|concept|location.
"memories" is an array of {content, type, importance, confidence, about_entities}, type one of fact|learning|observation|preference|pattern, importance and confidence in [0,1].
"relationships" is an array of {source, target, type, strength}, strength in [0,1].
"commitments" is an array of {content, type, importance, confidence, about_entities} with type always "commitment"; content should preserve any stated deadline in natural language so it can be parsed later.
Never fabricate information not present in the source text. Omit a key's array entries rather than guessing.`

	switch mode {
	case ModeTranscript:
		return base + "\nThe source text is a verbatim conversation transcript between the user and one or more other parties."
	case ModeEmail:
		return base + "\nThe source text is an email thread; treat the sender and recipients as candidate entities."
	case ModeDocument:
		return base + "\nThe source text is a filed document (notes, a report, a reference file)."
	default:
		return base
	}
}

// Extract runs the LanguageModel extraction pipeline over sourceText and
// returns the structured result for the tool caller's approval. Nothing is
// persisted by this call; see Commit.
func (s *Service) Extract(ctx context.Context, mode Mode, sourceText string) (*Extraction, error) {
	if s.lm != nil && s.lm.IsAvailable() {
		var resp modelResponse
		err := s.lm.CompleteJSON(ctx, systemPrompt(mode), []languagemodel.Message{
			{Role: "user", Content: sourceText},
		}, &resp)
		if err == nil {
			return &Extraction{
				Entities:      resp.Entities,
				Memories:      resp.Memories,
				Relationships: resp.Relationships,
				Commitments:   resp.Commitments,
			}, nil
		}
		s.log.Warn().Err(err).Msg("language model extraction failed, falling back to heuristic extractor")
	}

	return s.degradedExtract(sourceText), nil
}

// degradedExtract falls back to the gazetteer plus EntityExtractor for
// entities only, per spec §4.6: no LanguageModel means no structured
// memory/relationship/commitment extraction, only candidate entity
// mentions. The gazetteer first surfaces every already-known entity
// mentioned in the text (so a transcript naming existing entities still
// links memories to them without LLM help); the heuristic extractor then
// promotes repeated capitalized phrases that aren't already known.
func (s *Service) degradedExtract(sourceText string) *Extraction {
	out := &Extraction{Degraded: true}

	s.mu.RLock()
	dict := s.dict
	s.mu.RUnlock()

	seen := make(map[string]bool)
	if dict != nil {
		for _, m := range dict.Scan(sourceText) {
			best := dict.SelectBest(m.Entities)
			if best == nil || seen[best.Name] {
				continue
			}
			seen[best.Name] = true
			out.Entities = append(out.Entities, ExtractedEntity{Name: best.Name, Type: best.Type})
		}
	}

	if s.extractor == nil {
		return out
	}

	isKnown := func(name string) bool {
		if dict != nil && dict.IsKnownEntity(name) {
			return true
		}
		matches, err := s.store.ResolveEntityByName(name)
		return err == nil && len(matches) > 0
	}

	for _, c := range s.extractor.ExtractCandidates(sourceText, isKnown) {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out.Entities = append(out.Entities, ExtractedEntity{Name: c.Name, Type: c.Type})
	}
	return out
}

// Commit persists an approved Extraction in one batch via the Remember
// operations, in entity-then-memory-then-relationship-then-commitment
// order so memories can reference entities created earlier in the same
// call.
func (s *Service) Commit(ctx context.Context, e *Extraction) error {
	if e == nil {
		return nil
	}

	for _, ent := range e.Entities {
		if _, err := s.remember.RememberEntity(ctx, ent.Name, ent.Type, ent.Description); err != nil {
			return memerr.Wrap(memerr.KindStorage, fmt.Sprintf("commit entity %q", ent.Name), err)
		}
	}

	for _, m := range e.Memories {
		if _, err := s.remember.RememberFact(ctx, m.Content, m.Type, m.Importance, m.AboutEntities, m.Confidence); err != nil {
			return memerr.Wrap(memerr.KindStorage, "commit memory", err)
		}
	}

	for _, r := range e.Relationships {
		if _, err := s.remember.RelateEntities(ctx, r.Source, r.Target, r.Type, r.Strength, ""); err != nil {
			return memerr.Wrap(memerr.KindStorage, fmt.Sprintf("commit relationship %s->%s", r.Source, r.Target), err)
		}
	}

	for _, c := range e.Commitments {
		c.Type = store.MemoryCommitment
		if _, err := s.remember.RememberFact(ctx, c.Content, c.Type, c.Importance, c.AboutEntities, c.Confidence); err != nil {
			return memerr.Wrap(memerr.KindStorage, "commit commitment", err)
		}
	}

	return nil
}
