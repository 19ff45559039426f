package consolidate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memcore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, nil, zerolog.Nop()), st
}

func backdate(t *testing.T, st *store.Store, table, column string, id int64, days int) {
	t.Helper()
	ts := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	_, err := st.DB().Exec(`UPDATE `+table+` SET `+column+` = ? WHERE id = ?`, ts, id)
	require.NoError(t, err)
}

func TestDecayFloorsAtMinimum(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id, err := st.CreateMemory(&store.Memory{Content: "stale fact", Type: store.MemoryFact, Importance: 0.1, Confidence: 1.0, ContentHash: "h1"})
	require.NoError(t, err)
	backdate(t, st, "memories", "updated_at", id, 400)

	n, err := svc.Decay(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	m, err := st.GetMemory(id)
	require.NoError(t, err)
	require.InDelta(t, 0.05, m.Importance, 0.001)
}

func TestDecaySkipsRecentMemories(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id, err := st.CreateMemory(&store.Memory{Content: "fresh fact", Type: store.MemoryFact, Importance: 0.8, Confidence: 1.0, ContentHash: "h2"})
	require.NoError(t, err)

	n, err := svc.Decay(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	m, err := st.GetMemory(id)
	require.NoError(t, err)
	require.Equal(t, 0.8, m.Importance)
}

func TestDecayAppliesSlowerRateToReflections(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id, err := st.CreateReflection(&store.Reflection{
		ReflectionType: store.ReflectionLearning, Content: "prefers async updates",
		FirstObservedAt: st.Now(), LastConfirmedAt: st.Now(),
	})
	require.NoError(t, err)
	backdate(t, st, "reflections", "last_confirmed_at", id, 100)

	_, err = svc.Decay(ctx)
	require.NoError(t, err)

	refs, err := st.ListReflections()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Greater(t, refs[0].Importance, 0.6)
	require.Less(t, refs[0].Importance, 0.7)
}

func TestMergeAbsorbsSimilarMemoriesSharingEntity(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	entID, err := st.CreateEntity("Dana Lee", store.EntityPerson, "")
	require.NoError(t, err)

	id1, err := st.CreateMemory(&store.Memory{Content: "loves rock climbing", Type: store.MemoryPreference, Importance: 0.6, Confidence: 1.0, ContentHash: "m1"})
	require.NoError(t, err)
	id2, err := st.CreateMemory(&store.Memory{Content: "really enjoys rock climbing on weekends", Type: store.MemoryPreference, Importance: 0.8, Confidence: 1.0, ContentHash: "m2"})
	require.NoError(t, err)
	require.NoError(t, st.LinkMemoryEntity(id1, entID, store.RoleAbout))
	require.NoError(t, st.LinkMemoryEntity(id2, entID, store.RoleAbout))

	vec := make([]float32, 384)
	vec[0] = 1.0
	require.NoError(t, st.UpsertMemoryEmbedding(id1, vec))
	require.NoError(t, st.UpsertMemoryEmbedding(id2, vec))

	n, err := svc.Merge(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	survivor, err := st.GetMemory(id2)
	require.NoError(t, err)
	require.Nil(t, survivor.InvalidatedAt)
	require.Contains(t, survivor.AggregatedFrom, "rock climbing")

	absorbed, err := st.GetMemory(id1)
	require.NoError(t, err)
	require.NotNil(t, absorbed.InvalidatedAt)
	require.NotNil(t, absorbed.MergedInto)
	require.Equal(t, id2, *absorbed.MergedInto)
}

func TestMergeRequiresSharedEntity(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id1, err := st.CreateMemory(&store.Memory{Content: "likes coffee", Type: store.MemoryPreference, Importance: 0.5, Confidence: 1.0, ContentHash: "m3"})
	require.NoError(t, err)
	id2, err := st.CreateMemory(&store.Memory{Content: "likes coffee too", Type: store.MemoryPreference, Importance: 0.5, Confidence: 1.0, ContentHash: "m4"})
	require.NoError(t, err)

	vec := make([]float32, 384)
	vec[0] = 1.0
	require.NoError(t, st.UpsertMemoryEmbedding(id1, vec))
	require.NoError(t, st.UpsertMemoryEmbedding(id2, vec))

	n, err := svc.Merge(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDetectPatternsFindsCoolingEntity(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	entID, err := st.CreateEntity("Old Client Inc", store.EntityOrganization, "")
	require.NoError(t, err)
	require.NoError(t, st.SetEntityImportance(entID, 0.7))

	memID, err := st.CreateMemory(&store.Memory{Content: "signed the contract", Type: store.MemoryFact, Importance: 0.5, Confidence: 1.0, ContentHash: "m5"})
	require.NoError(t, err)
	require.NoError(t, st.LinkMemoryEntity(memID, entID, store.RoleAbout))
	backdate(t, st, "memories", "created_at", memID, 90)

	n, err := svc.DetectPatterns(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, err)
	active, err := st.CountActivePatterns()
	require.NoError(t, err)
	require.Equal(t, 1, active)
}

func TestDetectPatternsFindsCommunicationBurst(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	entID, err := st.CreateEntity("Frequent Contact", store.EntityPerson, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		id, err := st.CreateMemory(&store.Memory{
			Content: "checked in again", Type: store.MemoryObservation, Importance: 0.4, Confidence: 1.0,
			ContentHash: "burst" + string(rune('a'+i)),
		})
		require.NoError(t, err)
		require.NoError(t, st.LinkMemoryEntity(id, entID, store.RoleAbout))
	}

	n, err := svc.DetectPatterns(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)
}

func TestFullConsolidationReturnsReport(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	id, err := st.CreateMemory(&store.Memory{Content: "an old note", Type: store.MemoryFact, Importance: 0.3, Confidence: 1.0, ContentHash: "m6"})
	require.NoError(t, err)
	backdate(t, st, "memories", "updated_at", id, 10)

	report, err := svc.FullConsolidation(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DecayedN)
	require.Equal(t, 0, report.MergedN)
	require.Equal(t, 0, report.PatternsDetectedN)
}
