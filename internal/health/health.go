// Package health serves the daemon's HTTP diagnostics surface per spec
// §4.10: a terse `/health` liveness probe and a comprehensive `/status`
// report. Each component check is independent; any failed check downgrades
// the overall status to "degraded", grounded on cuemby-warren's
// pkg/metrics.HealthChecker component-registry idiom, adapted here to
// run live checks per request rather than consult a registered cache —
// this daemon has few enough components that a fresh check per request
// is cheap and never stale.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/embedder"
	"github.com/localmemory/memcore/internal/languagemodel"
	"github.com/localmemory/memcore/internal/scheduler"
	"github.com/localmemory/memcore/internal/store"
)

const componentTimeout = 3 * time.Second

// Server serves /health and /status over loopback HTTP.
type Server struct {
	store     *store.Store
	embedder  embedder.Embedder
	lm        languagemodel.LanguageModel
	scheduler *scheduler.Service
	log       zerolog.Logger

	srv *http.Server
}

// New builds a Server. embedder and scheduler may be nil if their
// corresponding component was never configured; their status reports
// "disabled" rather than "degraded" in that case. lm is held but not
// reported as a component.
func New(s *store.Store, e embedder.Embedder, lm languagemodel.LanguageModel, sched *scheduler.Service, log zerolog.Logger) *Server {
	return &Server{store: s, embedder: e, lm: lm, scheduler: sched, log: log.With().Str("component", "health").Logger()}
}

// LivenessReport is GET /health's response shape.
type LivenessReport struct {
	Status   string `json:"status"`
	Entities int    `json:"entities"`
}

// ScheduledJob is one entry of /status's scheduled_jobs array.
type ScheduledJob struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
}

// Counts is /status's counts object.
type Counts struct {
	Memories      int `json:"memories"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Episodes      int `json:"episodes"`
	Patterns      int `json:"patterns"`
	Reflections   int `json:"reflections"`
}

// StatusReport is GET /status's comprehensive response shape.
type StatusReport struct {
	Timestamp      time.Time         `json:"timestamp"`
	Status         string            `json:"status"`
	SchemaVersion  int               `json:"schema_version"`
	Components     map[string]string `json:"components"`
	ScheduledJobs  []ScheduledJob    `json:"scheduled_jobs"`
	Counts         Counts            `json:"counts"`
}

const (
	componentOK       = "ok"
	componentDegraded = "degraded"
	componentDisabled = "disabled"
)

// checkDatabase reports "ok" when the store's effective schema version can
// be recomputed without error.
func (s *Server) checkDatabase() (string, int) {
	version, err := s.store.EffectiveVersion()
	if err != nil {
		s.log.Warn().Err(err).Msg("database health check failed")
		return componentDegraded, version
	}
	return componentOK, version
}

func (s *Server) checkEmbeddings() string {
	if s.embedder == nil {
		return componentDisabled
	}
	if s.embedder.IsAvailable() {
		return componentOK
	}
	return componentDegraded
}

func (s *Server) checkEmbeddingModel() string {
	if s.embedder == nil {
		return componentDisabled
	}
	ctx, cancel := context.WithTimeout(context.Background(), componentTimeout)
	defer cancel()
	if err := probeEmbedder(ctx, s.embedder); err != nil {
		return componentDegraded
	}
	return componentOK
}

// probeEmbedder is a seam so tests can substitute a fake Embedder without
// requiring the concrete Probe method embedder.Client exposes.
var probeEmbedder = func(ctx context.Context, e embedder.Embedder) error {
	if e.IsAvailable() {
		return nil
	}
	_, err := e.Embed(ctx, "healthcheck")
	return err
}

func (s *Server) checkScheduler() string {
	if s.scheduler == nil {
		return componentDisabled
	}
	if len(s.scheduler.Jobs()) == 0 {
		return componentDegraded
	}
	return componentOK
}

// Report assembles the full /status payload.
func (s *Server) Report() StatusReport {
	dbStatus, version := s.checkDatabase()
	components := map[string]string{
		"database":         dbStatus,
		"embeddings":       s.checkEmbeddings(),
		"embedding_model":  s.checkEmbeddingModel(),
		"scheduler":        s.checkScheduler(),
	}

	overall := "ok"
	for _, v := range components {
		if v == componentDegraded {
			overall = "degraded"
		}
	}

	var jobs []ScheduledJob
	if s.scheduler != nil {
		for _, j := range s.scheduler.Jobs() {
			jobs = append(jobs, ScheduledJob{ID: j.ID, Name: j.ID, NextRun: j.NextRun})
		}
	}

	counts := Counts{}
	counts.Memories, _ = s.store.CountMemories()
	counts.Entities, _ = s.store.CountEntities()
	counts.Relationships, _ = s.store.CountRelationships()
	counts.Episodes, _ = s.store.CountEpisodes()
	counts.Patterns, _ = s.store.CountActivePatterns()
	counts.Reflections, _ = s.store.CountReflections()

	return StatusReport{
		Timestamp:     time.Now().UTC(),
		Status:        overall,
		SchemaVersion: version,
		Components:    components,
		ScheduledJobs: jobs,
		Counts:        counts,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Report()
	status := "ok"
	if report.Status != "ok" {
		status = "degraded"
	}
	n, _ := s.store.CountEntities()
	writeJSON(w, LivenessReport{Status: status, Entities: n})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Report())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the HTTP server on 127.0.0.1:port, blocking until
// Shutdown is called or the server fails to bind.
func (s *Server) ListenAndServe(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	s.srv = &http.Server{Addr: loopbackAddr(port), Handler: mux}
	s.log.Info().Int("port", port).Msg("health endpoint listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func loopbackAddr(port int) string {
	if port <= 0 {
		port = 3848
	}
	return "127.0.0.1:" + strconv.Itoa(port)
}
