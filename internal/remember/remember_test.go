package remember

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/store"
)

// stubEmbedder always returns a fixed-dimension zero vector, simulating an
// available local embedding runtime without a real HTTP round trip.
type stubEmbedder struct{ dims int }

func (s *stubEmbedder) IsAvailable() bool   { return true }
func (s *stubEmbedder) Dimensions() int     { return s.dims }
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
	return New(st, &stubEmbedder{dims: 384}, zerolog.Nop()), st
}

func TestRememberFactDedupes(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	r1, err := svc.RememberFact(ctx, "Sarah Chen works at Acme Corp", store.MemoryFact, 0.9, nil, 0)
	require.NoError(t, err)
	require.False(t, r1.Deduped)

	r2, err := svc.RememberFact(ctx, "Sarah Chen works at Acme Corp", store.MemoryFact, 0.9, nil, 0)
	require.NoError(t, err)
	require.True(t, r2.Deduped)
	require.Equal(t, r1.MemoryID, r2.MemoryID)

	n, err := st.CountMemories()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRememberFactLinksEntities(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	r, err := svc.RememberFact(ctx, "loves hiking in the mountains", store.MemoryPreference, 0.6, []string{"Ada Lovelace"}, 0)
	require.NoError(t, err)

	ids, err := st.EntitiesForMemory(r.MemoryID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	entities, err := st.ResolveEntityByName("ada lovelace")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	require.Equal(t, ids[0], entities[0].ID)
}

func TestRememberEntityMergesDescriptionOnlyWhenEmpty(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id, err := svc.RememberEntity(ctx, "Grace Hopper", store.EntityPerson, "")
	require.NoError(t, err)

	id2, err := svc.RememberEntity(ctx, "Grace Hopper", store.EntityPerson, "naval officer")
	require.NoError(t, err)
	require.Equal(t, id, id2)

	id3, err := svc.RememberEntity(ctx, "Grace Hopper", store.EntityPerson, "should not overwrite")
	require.NoError(t, err)
	require.Equal(t, id, id3)

	e, err := st.GetEntity(id)
	require.NoError(t, err)
	require.Equal(t, "naval officer", e.Description)
}

func TestRelateEntitiesRejectsSelfEdge(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RelateEntities(ctx, "Alice", "Alice", store.RelKnows, 0.5, "")
	require.Error(t, err)
	require.Equal(t, memerr.KindStorage, memerr.KindOf(err))
}

func TestRelateEntitiesStrengthensOnlyWhenHigher(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id1, err := svc.RelateEntities(ctx, "Alice", "Bob", store.RelWorksWith, 0.4, "2020-01-01T00:00:00Z")
	require.NoError(t, err)

	id2, err := svc.RelateEntities(ctx, "Alice", "Bob", store.RelWorksWith, 0.2, "2020-06-01T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	rel, err := st.GetRelationship(id1)
	require.NoError(t, err)
	require.Equal(t, 0.4, rel.Strength)

	id3, err := svc.RelateEntities(ctx, "Alice", "Bob", store.RelWorksWith, 0.9, "2020-09-01T00:00:00Z")
	require.NoError(t, err)
	require.Equal(t, id1, id3)

	rel, err = st.GetRelationship(id1)
	require.NoError(t, err)
	require.Equal(t, 0.9, rel.Strength)
}

func TestFileDocumentLinksEntities(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	docID, err := svc.FileDocument(ctx, "transcript", "call.txt", "we discussed the roadmap", "", []string{"Acme Corp"})
	require.NoError(t, err)

	doc, err := st.GetDocument(docID)
	require.NoError(t, err)
	require.Equal(t, "call.txt", doc.Filename)

	entities, err := st.ResolveEntityByName("acme corp")
	require.NoError(t, err)
	require.Len(t, entities, 1)

	docs, err := st.DocumentsForEntity(entities[0].ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, docID, docs[0].ID)
}

func TestFileDocumentSkipsDuplicateRefiling(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	first, err := svc.FileDocument(ctx, "transcript", "notes.txt", "same content every time", "", nil)
	require.NoError(t, err)

	second, err := svc.FileDocument(ctx, "transcript", "notes.txt", "same content every time", "", nil)
	require.NoError(t, err)
	require.Equal(t, first, second)

	n, err := st.CountDocuments()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	third, err := svc.FileDocument(ctx, "transcript", "notes.txt", "the content changed", "", nil)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}
