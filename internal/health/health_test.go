package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/consolidate"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/scheduler"
	"github.com/localmemory/memcore/internal/store"
)

type fakeEmbedder struct{ available bool }

func (f *fakeEmbedder) IsAvailable() bool { return f.available }
func (f *fakeEmbedder) Dimensions() int   { return 384 }
func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 384), nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func newTestServer(t *testing.T, available bool) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memcore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cons := consolidate.New(st, nil, zerolog.Nop())
	rem := remember.New(st, nil, zerolog.Nop())
	sched := scheduler.New(cons, rem, zerolog.Nop())

	return New(st, &fakeEmbedder{available: available}, nil, sched, zerolog.Nop()), st
}

func TestHealthOKWhenEverythingAvailable(t *testing.T) {
	srv, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	var report LivenessReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "ok", report.Status)
}

func TestHealthDegradedWhenEmbedderUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	var report LivenessReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "degraded", report.Status)
}

func TestStatusReportsCountsAndJobs(t *testing.T) {
	srv, st := newTestServer(t, true)
	_, err := st.CreateEntity("Ada Lovelace", store.EntityPerson, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	var report StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, 1, report.Counts.Entities)
	require.Len(t, report.ScheduledJobs, 3)
	require.Equal(t, componentOK, report.Components["database"])
	require.Equal(t, componentOK, report.Components["embedding_model"])
}
