package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/consolidate"
	"github.com/localmemory/memcore/internal/health"
	"github.com/localmemory/memcore/internal/ingest"
	"github.com/localmemory/memcore/internal/recall"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/scheduler"
	"github.com/localmemory/memcore/internal/session"
	"github.com/localmemory/memcore/internal/store"
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

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "memcore.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	emb := &stubEmbedder{dims: 384}
	rem := remember.New(st, emb, zerolog.Nop())
	rec := recall.New(st, emb, zerolog.Nop())
	cons := consolidate.New(st, emb, zerolog.Nop())
	sess := session.New(st, rem, zerolog.Nop())
	ing := ingest.New(st, nil, rem, nil, zerolog.Nop())
	sched := scheduler.New(cons, rem, zerolog.Nop())
	h := health.New(st, emb, nil, sched, zerolog.Nop())

	return New(st, rem, rec, cons, sess, ing, h, zerolog.Nop())
}

func call(t *testing.T, s *Service, tool string, args any) Response {
	t.Helper()
	b, err := json.Marshal(args)
	require.NoError(t, err)
	req := Request{ID: "1", Tool: tool, Args: b}
	return s.handle(context.Background(), req)
}

func TestRememberThenRecallRoundTrips(t *testing.T) {
	s := newTestService(t)

	resp := call(t, s, "remember", map[string]any{
		"content":    "Ada Lovelace wrote the first algorithm",
		"type":       "fact",
		"importance": 0.9,
		"confidence": 1.0,
	})
	require.True(t, resp.OK)

	resp = call(t, s, "recall", map[string]any{"query": "Ada Lovelace", "limit": 5})
	require.True(t, resp.OK)
}

func TestUnknownToolReturnsNotFound(t *testing.T) {
	s := newTestService(t)
	resp := call(t, s, "does_not_exist", map[string]any{})
	require.False(t, resp.OK)
	require.Equal(t, "NotFound", resp.Error.Kind)
}

func TestEntityThenAbout(t *testing.T) {
	s := newTestService(t)

	resp := call(t, s, "entity", map[string]any{"name": "Acme Corp", "type": "organization"})
	require.True(t, resp.OK)

	resp = call(t, s, "about", map[string]any{"entity": "Acme Corp"})
	require.True(t, resp.OK)
}

func TestAboutMissingEntityIsNotFound(t *testing.T) {
	s := newTestService(t)
	resp := call(t, s, "about", map[string]any{"entity": "Nobody"})
	require.False(t, resp.OK)
	require.Equal(t, "NotFound", resp.Error.Kind)
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	s := newTestService(t)

	ops := []map[string]any{
		{"tool": "entity", "args": map[string]any{"name": "Grace Hopper", "type": "person"}},
		{"tool": "about", "args": map[string]any{"entity": "Nobody At All"}},
		{"tool": "entity", "args": map[string]any{"name": "Never Reached", "type": "person"}},
	}
	resp := call(t, s, "batch", map[string]any{"operations": ops})
	require.True(t, resp.OK)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, 1, result["failed_at"])
}

func TestSystemHealthReportsOK(t *testing.T) {
	s := newTestService(t)
	resp := call(t, s, "system_health", map[string]any{})
	require.True(t, resp.OK)
}

func TestServeProcessesLineDelimitedRequests(t *testing.T) {
	s := newTestService(t)

	input := `{"id":"1","tool":"entity","args":{"name":"Linda Liukas","type":"person"}}
{"id":"2","tool":"search_entities","args":{"query":"Linda"}}
`
	var out bytes.Buffer
	err := s.Serve(context.Background(), bytes.NewBufferString(input), &out)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var r1 Response
	require.NoError(t, json.Unmarshal(lines[0], &r1))
	require.True(t, r1.OK)
	require.Equal(t, "1", r1.ID)
}

func TestMalformedLineDoesNotKillConnection(t *testing.T) {
	s := newTestService(t)

	input := "not json\n{\"id\":\"2\",\"tool\":\"system_health\",\"args\":{}}\n"
	var out bytes.Buffer
	err := s.Serve(context.Background(), bytes.NewBufferString(input), &out)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var r2 Response
	require.NoError(t, json.Unmarshal(lines[1], &r2))
	require.True(t, r2.OK)
}
