package store

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memcore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesFullLadder(t *testing.T) {
	s := newTestStore(t)
	v, err := s.EffectiveVersion()
	require.NoError(t, err)
	require.Equal(t, maxSchemaVersion, v)
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memcore.db")

	s1, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.EffectiveVersion()
	require.NoError(t, err)
	require.Equal(t, maxSchemaVersion, v)
}

func TestEffectiveVersionDetectsDroppedColumn(t *testing.T) {
	s := newTestStore(t)

	_, err := s.db.Exec(`CREATE TABLE memories_tmp AS SELECT id, content, type, importance, confidence,
		content_hash, created_at, updated_at, last_accessed, access_count FROM memories`)
	require.NoError(t, err)
	_, err = s.db.Exec(`DROP TABLE memories`)
	require.NoError(t, err)
	_, err = s.db.Exec(`ALTER TABLE memories_tmp RENAME TO memories`)
	require.NoError(t, err)

	v, err := s.EffectiveVersion()
	require.NoError(t, err)
	require.Equal(t, 4, v)
}

func TestEntityCreateAndResolve(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateEntity("Ada Lovelace", EntityPerson, "mathematician")
	require.NoError(t, err)
	require.NoError(t, s.AddAlias(id, "Ada"))

	matches, err := s.ResolveEntityByName("ada")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, id, matches[0].ID)

	e, err := s.GetEntity(id)
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", e.Name)
	require.Contains(t, e.Aliases, "Ada")
}

func TestEntityDescriptionOnlyFillsWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateEntity("Grace Hopper", EntityPerson, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateEntityDescription(id, "naval officer"))
	e, err := s.GetEntity(id)
	require.NoError(t, err)
	require.Equal(t, "naval officer", e.Description)

	require.NoError(t, s.UpdateEntityDescription(id, "should not overwrite"))
	e, err = s.GetEntity(id)
	require.NoError(t, err)
	require.Equal(t, "naval officer", e.Description)
}

func TestMemoryDedupByContentHash(t *testing.T) {
	s := newTestStore(t)

	m := &Memory{Content: "the sky is blue", Type: MemoryFact, Importance: 0.5, Confidence: 1.0, ContentHash: "hash-1"}
	id, err := s.CreateMemory(m)
	require.NoError(t, err)

	existing, err := s.FindMemoryByContentHash("hash-1")
	require.NoError(t, err)
	require.NotNil(t, existing)
	require.Equal(t, id, existing.ID)

	none, err := s.FindMemoryByContentHash("hash-2")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestApplyRehearsalBatches(t *testing.T) {
	s := newTestStore(t)
	m1 := &Memory{Content: "a", Type: MemoryFact, Importance: 0.5, Confidence: 1.0, ContentHash: "h1"}
	m2 := &Memory{Content: "b", Type: MemoryFact, Importance: 0.9, Confidence: 1.0, ContentHash: "h2"}
	id1, err := s.CreateMemory(m1)
	require.NoError(t, err)
	id2, err := s.CreateMemory(m2)
	require.NoError(t, err)

	err = s.ApplyRehearsal([]RehearsalUpdate{
		{MemoryID: id1, Importance: 0.51},
		{MemoryID: id2, Importance: 1.0},
	}, s.now())
	require.NoError(t, err)

	got1, err := s.GetMemory(id1)
	require.NoError(t, err)
	require.Equal(t, 1, got1.AccessCount)
	require.InDelta(t, 0.51, got1.Importance, 0.0001)

	got2, err := s.GetMemory(id2)
	require.NoError(t, err)
	require.Equal(t, 1.0, got2.Importance)
}

func TestRelationshipSupersessionIsAtomic(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateEntity("Alice", EntityPerson, "")
	require.NoError(t, err)
	b, err := s.CreateEntity("Bob", EntityPerson, "")
	require.NoError(t, err)

	oldID, err := s.CreateRelationship(&Relationship{
		SourceEntityID: a, TargetEntityID: b, RelationshipType: RelWorksWith, Strength: 0.4, ValidAt: s.now(),
	})
	require.NoError(t, err)

	newID, err := s.SupersedeRelationship(oldID, &Relationship{
		SourceEntityID: a, TargetEntityID: b, RelationshipType: RelWorksWith, Strength: 0.8, ValidAt: s.now(),
	}, s.now())
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	old, err := s.GetRelationship(oldID)
	require.NoError(t, err)
	require.NotNil(t, old.InvalidAt)

	current, err := s.FindCurrentRelationship(a, b, RelWorksWith)
	require.NoError(t, err)
	require.Equal(t, newID, current.ID)
}

func TestVectorSearchReturnsNearestFirst(t *testing.T) {
	s := newTestStore(t)
	m1 := &Memory{Content: "cats are mammals", Type: MemoryFact, Importance: 0.5, Confidence: 1.0, ContentHash: "v1"}
	m2 := &Memory{Content: "rockets use liquid fuel", Type: MemoryFact, Importance: 0.5, Confidence: 1.0, ContentHash: "v2"}
	id1, err := s.CreateMemory(m1)
	require.NoError(t, err)
	id2, err := s.CreateMemory(m2)
	require.NoError(t, err)

	near := make([]float32, 384)
	near[0] = 1.0
	far := make([]float32, 384)
	far[1] = 1.0

	require.NoError(t, s.UpsertMemoryEmbedding(id1, near))
	require.NoError(t, s.UpsertMemoryEmbedding(id2, far))

	matches, err := s.SearchMemoryEmbeddings(near, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, id1, matches[0].OwnerID)
}

func TestSessionBufferingAndEndSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.BufferTurn("session-1", "user", "hello")
	require.NoError(t, err)
	_, err = s.BufferTurn("session-1", "assistant", "hi there")
	require.NoError(t, err)

	count, err := s.CountTurnsForSession("session-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	unsummarized, err := s.UnsummarizedSessions()
	require.NoError(t, err)
	require.Contains(t, unsummarized, "session-1")

	_, err = s.CreateEpisodeAndMarkSummarized("session-1", "greeting exchanged", s.now(), s.now())
	require.NoError(t, err)

	count, err = s.CountTurnsForSession("session-1")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}
