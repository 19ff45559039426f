package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/ingest"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/store"
	"github.com/localmemory/memcore/internal/textnorm"
)

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

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memcore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	rem := remember.New(st, &stubEmbedder{dims: 384}, zerolog.Nop())
	return New(st, rem, zerolog.Nop()), st
}

func TestBufferTurnAppendsAndCounts(t *testing.T) {
	svc, st := newTestService(t)

	res, err := svc.BufferTurn("sess-1", "user", "hello")
	require.NoError(t, err)
	require.NotZero(t, res.TurnID)
	require.False(t, res.ForceSummary)

	turns, err := st.TurnsForSession("sess-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "hello", turns[0].Content)
}

func TestUnsummarizedListsSessionsWithoutEpisode(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.BufferTurn("sess-a", "user", "hi")
	require.NoError(t, err)

	sessions, err := svc.Unsummarized()
	require.NoError(t, err)
	require.Contains(t, sessions, "sess-a")
}

func TestEndSessionRequiresExistingTurns(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.EndSession(context.Background(), EndSessionInput{SessionID: "ghost", Narrative: "n/a"})
	require.Error(t, err)
}

func TestEndSessionCreatesEpisodeAndRemovesFromUnsummarized(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.BufferTurn("sess-b", "user", "I prefer async updates")
	require.NoError(t, err)
	_, err = svc.BufferTurn("sess-b", "assistant", "Noted.")
	require.NoError(t, err)

	episode, err := svc.EndSession(context.Background(), EndSessionInput{
		SessionID: "sess-b",
		Narrative: "Discussed communication preferences.",
		Memories: []ingest.ExtractedMemory{
			{Content: "prefers async updates", Type: store.MemoryPreference, Importance: 0.6, Confidence: 0.9},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "sess-b", episode.SessionID)

	sessions, err := svc.Unsummarized()
	require.NoError(t, err)
	require.NotContains(t, sessions, "sess-b")

	count, err := st.CountTurnsForSession("sess-b")
	require.NoError(t, err)
	require.Equal(t, 0, count, "turns are marked summarized")
}

func TestEndSessionPersistsReflectionsWithDefaults(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.BufferTurn("sess-c", "user", "I like concise answers")
	require.NoError(t, err)

	_, err = svc.EndSession(context.Background(), EndSessionInput{
		SessionID: "sess-c",
		Narrative: "Learned a preference.",
		Reflections: []ReflectionInput{
			{ReflectionType: store.ReflectionLearning, Content: "prefers concise answers", AboutEntityName: "the user"},
		},
	})
	require.NoError(t, err)

	reflections, err := st.ListReflections()
	require.NoError(t, err)
	require.Len(t, reflections, 1)
	require.Equal(t, 0.7, reflections[0].Importance)
	require.Equal(t, 0.999, reflections[0].DecayRate)
	require.NotNil(t, reflections[0].AboutEntity)
}

func TestEndSessionPersistsNarrativeAsRecallableMemory(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.BufferTurn("sess-e", "user", "hello there")
	require.NoError(t, err)

	_, err = svc.EndSession(context.Background(), EndSessionInput{
		SessionID: "sess-e",
		Narrative: "Greeted user.",
	})
	require.NoError(t, err)

	m, err := st.FindMemoryByContentHash(textnorm.ContentHash("Greeted user."))
	require.NoError(t, err)
	require.NotNil(t, m, "episode narrative must enter the recall universe as a memory")
	require.Equal(t, store.MemoryObservation, m.Type)
}

func TestEndSessionPersistsEntitiesAndRelationships(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.BufferTurn("sess-d", "user", "Dana works with Sam")
	require.NoError(t, err)

	_, err = svc.EndSession(context.Background(), EndSessionInput{
		SessionID: "sess-d",
		Narrative: "Introduced a new colleague.",
		Entities: []ingest.ExtractedEntity{
			{Name: "Dana Lee", Type: store.EntityPerson},
			{Name: "Sam Rivera", Type: store.EntityPerson},
		},
		Relationships: []ingest.ExtractedRelationship{
			{Source: "Dana Lee", Target: "Sam Rivera", Type: store.RelColleagues, Strength: 0.5},
		},
	})
	require.NoError(t, err)

	dana, err := st.ResolveEntityByName("Dana Lee")
	require.NoError(t, err)
	require.Len(t, dana, 1)

	rels, err := st.RelationshipsForEntity(dana[0].ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
}
