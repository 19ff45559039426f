// Package toolserver implements spec §4.8's tool protocol: a line-delimited
// request/response stream where each line is one UTF-8 JSON object,
// dispatched by tool name to the RememberService/RecallService/
// ConsolidateService/SessionBuffer/IngestService handles it wires together.
// Tools are modeled as a tagged variant with a per-variant handler function
// (spec §9's "no reflection-based dispatch" design note), each validating
// its own typed argument struct before calling into a service.
package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/consolidate"
	"github.com/localmemory/memcore/internal/health"
	"github.com/localmemory/memcore/internal/ingest"
	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/recall"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/session"
	"github.com/localmemory/memcore/internal/store"
	"github.com/localmemory/memcore/pkg/pool"
)

// maxBatchSize is spec §5's resource budget: at most 100 operations per
// batch call.
const maxBatchSize = 100

// Request is one line of the tool protocol's input stream.
type Request struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ErrorPayload is a Response's machine-readable failure detail.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is one line of the tool protocol's output stream.
type Response struct {
	ID     string        `json:"id"`
	OK     bool          `json:"ok"`
	Result any           `json:"result,omitempty"`
	Error  *ErrorPayload `json:"error,omitempty"`

	// pooled holds every map a handler borrowed from pool.MapPool while
	// building Result; writeResponse returns them once json.Marshal has
	// read this Response. Unexported, so it never reaches the wire.
	pooled []map[string]any
}

// handlerFunc is one tool's per-variant implementation: parse args, call a
// service, return a JSON-marshalable result.
type handlerFunc func(ctx context.Context, s *Service, args json.RawMessage) (any, error)

// Service dispatches tool calls to the service layer. One Service instance
// is shared by every connection the Daemon accepts; it holds no per-
// connection state.
type Service struct {
	store       *store.Store
	remember    *remember.Service
	recall      *recall.Service
	consolidate *consolidate.Service
	session     *session.Service
	ingest      *ingest.Service
	health      *health.Server
	log         zerolog.Logger

	dispatch map[string]handlerFunc

	// writeMu serializes writes to a connection's output stream; requests
	// are processed sequentially per connection (spec §5), but a batch's
	// sub-operations and the main loop never write concurrently to the
	// same writer, so this exists purely as a defensive invariant should a
	// future handler ever spawn a goroutine of its own.
	writeMu sync.Mutex
}

// New builds a Service wired to every component tool calls may reach.
func New(
	st *store.Store,
	rem *remember.Service,
	rec *recall.Service,
	cons *consolidate.Service,
	sess *session.Service,
	ing *ingest.Service,
	h *health.Server,
	log zerolog.Logger,
) *Service {
	s := &Service{
		store:       st,
		remember:    rem,
		recall:      rec,
		consolidate: cons,
		session:     sess,
		ingest:      ing,
		health:      h,
		log:         log.With().Str("component", "toolserver").Logger(),
	}
	s.dispatch = map[string]handlerFunc{
		"remember":        handleRemember,
		"recall":          handleRecall,
		"about":           handleAbout,
		"relate":          handleRelate,
		"entity":          handleEntity,
		"search_entities": handleSearchEntities,
		"buffer_turn":     handleBufferTurn,
		"end_session":     handleEndSession,
		"unsummarized":    handleUnsummarized,
		"batch":           handleBatch,
		"trace":           handleTrace,
		"consolidate":     handleConsolidate,
		"system_health":   handleSystemHealth,
		"reflections":     handleReflections,
		"ingest":          handleIngest,
	}
	return s
}

// Serve reads line-delimited Requests from r and writes line-delimited
// Responses to w, in receive order, until r is exhausted or ctx is
// canceled. A malformed line produces a StorageError response rather than
// terminating the connection, so one bad client write does not kill the
// whole session.
func (s *Service) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{OK: false, Error: &ErrorPayload{Kind: string(memerr.KindStorage), Message: "malformed request: " + err.Error()}})
			continue
		}
		resp := s.handle(ctx, req)
		s.writeResponse(w, resp)
	}
	return scanner.Err()
}

// handle dispatches one request, trapping any unexpected error into a
// StorageError response — handlers never panic the process, and an
// unclassified error is reported as "internal" per spec §7.
func (s *Service) handle(ctx context.Context, req Request) (resp Response) {
	ctx, tracker := withTracker(ctx)
	defer func() {
		if r := recover(); r != nil {
			resp = Response{ID: req.ID, OK: false, Error: &ErrorPayload{Kind: string(memerr.KindStorage), Message: "internal"}}
		}
		resp.pooled = *tracker
	}()

	fn, ok := s.dispatch[req.Tool]
	if !ok {
		return Response{ID: req.ID, OK: false, Error: &ErrorPayload{Kind: string(memerr.KindNotFound), Message: "unknown tool: " + req.Tool}}
	}

	result, err := fn(ctx, s, req.Args)
	if err != nil {
		kind := memerr.KindOf(err)
		msg := err.Error()
		if kind == memerr.KindStorage && !memerr.Is(err, memerr.KindStorage) {
			msg = "internal"
		}
		return Response{ID: req.ID, OK: false, Error: &ErrorPayload{Kind: string(kind), Message: msg}}
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

// writeResponse marshals resp and returns every map it borrowed from
// pool.MapPool while building Result — only safe once marshal has finished
// reading them.
func (s *Service) writeResponse(w io.Writer, resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	b, err := json.Marshal(resp)
	if err != nil {
		b, _ = json.Marshal(Response{ID: resp.ID, OK: false, Error: &ErrorPayload{Kind: string(memerr.KindStorage), Message: "internal"}})
	}
	for _, m := range resp.pooled {
		pool.PutMap(m)
	}
	w.Write(b)
	w.Write([]byte("\n"))
	if f, ok := w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}
