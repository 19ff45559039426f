package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/extractor"
	"github.com/localmemory/memcore/internal/languagemodel"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/store"
)

// stubEmbedder mirrors internal/remember's test embedder: a fixed-dimension
// zero vector, simulating an available local embedding runtime.
type stubEmbedder struct{ dims int }

func (s *stubEmbedder) IsAvailable() bool { return true }
func (s *stubEmbedder) Dimensions() int   { return s.dims }
func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dims), nil
}
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
	}
	return out, nil
}

// stubLM returns a canned JSON response, or an error to simulate
// unavailability.
type stubLM struct {
	available bool
	resp      modelResponse
	err       error
}

func (l *stubLM) IsAvailable() bool { return l.available }
func (l *stubLM) Complete(ctx context.Context, systemPrompt string, messages []languagemodel.Message) (string, error) {
	return "", nil
}
func (l *stubLM) CompleteJSON(ctx context.Context, systemPrompt string, messages []languagemodel.Message, out any) error {
	if l.err != nil {
		return l.err
	}
	target := out.(*modelResponse)
	*target = l.resp
	return nil
}

func newTestService(t *testing.T, lm languagemodel.LanguageModel, ext *extractor.Extractor) (*Service, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memcore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	rem := remember.New(st, &stubEmbedder{dims: 384}, zerolog.Nop())
	return New(st, lm, rem, ext, zerolog.Nop()), st
}

func TestExtractUsesLanguageModelWhenAvailable(t *testing.T) {
	lm := &stubLM{
		available: true,
		resp: modelResponse{
			Entities: []ExtractedEntity{{Name: "Dana Lee", Type: store.EntityPerson}},
			Memories: []ExtractedMemory{{Content: "prefers async updates", Type: store.MemoryPreference, Importance: 0.6, Confidence: 0.9}},
		},
	}
	svc, _ := newTestService(t, lm, nil)

	got, err := svc.Extract(context.Background(), ModeTranscript, "transcript text")
	require.NoError(t, err)
	require.False(t, got.Degraded)
	require.Len(t, got.Entities, 1)
	require.Equal(t, "Dana Lee", got.Entities[0].Name)
	require.Len(t, got.Memories, 1)
}

func TestExtractFallsBackToExtractorWhenLanguageModelUnavailable(t *testing.T) {
	ext := extractor.New(1)
	svc, _ := newTestService(t, &stubLM{available: false}, ext)

	got, err := svc.Extract(context.Background(), ModeGeneral, "Dana Lee called about the project.")
	require.NoError(t, err)
	require.True(t, got.Degraded)
	require.NotEmpty(t, got.Entities)
	require.Empty(t, got.Memories, "degraded extraction proposes entities only")
	require.Empty(t, got.Relationships)
}

func TestExtractFallsBackWhenLanguageModelErrors(t *testing.T) {
	ext := extractor.New(1)
	lm := &stubLM{available: true, err: assertAnError{}}
	svc, _ := newTestService(t, lm, ext)

	got, err := svc.Extract(context.Background(), ModeGeneral, "Dana Lee called about the project.")
	require.NoError(t, err)
	require.True(t, got.Degraded)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "language model unreachable" }

func TestExtractWithNoExtractorReturnsEmptyDegradedExtraction(t *testing.T) {
	svc, _ := newTestService(t, &stubLM{available: false}, nil)

	got, err := svc.Extract(context.Background(), ModeGeneral, "Dana Lee called about the project.")
	require.NoError(t, err)
	require.True(t, got.Degraded)
	require.Empty(t, got.Entities)
}

func TestCommitPersistsEntitiesMemoriesRelationshipsAndCommitments(t *testing.T) {
	svc, st := newTestService(t, &stubLM{available: false}, nil)

	extraction := &Extraction{
		Entities: []ExtractedEntity{
			{Name: "Dana Lee", Type: store.EntityPerson},
			{Name: "Acme Robotics", Type: store.EntityOrganization},
		},
		Memories: []ExtractedMemory{
			{Content: "works on the widget project", Type: store.MemoryFact, Importance: 0.5, Confidence: 0.9, AboutEntities: []string{"Dana Lee"}},
		},
		Relationships: []ExtractedRelationship{
			{Source: "Dana Lee", Target: "Acme Robotics", Type: store.RelWorksAt, Strength: 0.8},
		},
		Commitments: []ExtractedMemory{
			{Content: "will send the report by Friday", Importance: 0.7, Confidence: 0.9, AboutEntities: []string{"Dana Lee"}},
		},
	}

	err := svc.Commit(context.Background(), extraction)
	require.NoError(t, err)

	entities, err := st.ResolveEntityByName("Dana Lee")
	require.NoError(t, err)
	require.Len(t, entities, 1)

	rels, err := st.RelationshipsForEntity(entities[0].ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, store.RelWorksAt, rels[0].RelationshipType)

	memories, err := st.MemoriesForEntity(entities[0].ID)
	require.NoError(t, err)
	require.Len(t, memories, 2)

	var sawCommitment bool
	for _, m := range memories {
		if m.Type == store.MemoryCommitment {
			sawCommitment = true
		}
	}
	require.True(t, sawCommitment)
}

func TestDegradedExtractSurfacesKnownEntitiesViaGazetteer(t *testing.T) {
	ext := extractor.New(1)
	svc, st := newTestService(t, &stubLM{available: false}, ext)

	_, err := st.CreateEntity("Grace Hopper", store.EntityPerson, "")
	require.NoError(t, err)
	require.NoError(t, svc.RebuildGazetteer())

	got, err := svc.Extract(context.Background(), ModeGeneral, "Grace Hopper visited the lab again today.")
	require.NoError(t, err)
	require.True(t, got.Degraded)

	var sawHopper bool
	for _, e := range got.Entities {
		if e.Name == "Grace Hopper" {
			sawHopper = true
		}
	}
	require.True(t, sawHopper, "gazetteer scan should surface a known entity mentioned in text")
}

func TestCommitOnNilExtractionIsNoop(t *testing.T) {
	svc, _ := newTestService(t, &stubLM{available: false}, nil)
	require.NoError(t, svc.Commit(context.Background(), nil))
}
