// Package daemon wires every memory-engine component into one process:
// Store, Embedder, LanguageModel, entity Extractor, RememberService,
// RecallService, ConsolidateService, SessionBuffer, IngestService,
// Scheduler, Health, and ToolServer. It owns the process's signal
// handling and graceful shutdown, the way roelfdiedericks-goclaw's
// supervisor owns its gateway subprocess's lifecycle.
package daemon

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/config"
	"github.com/localmemory/memcore/internal/consolidate"
	"github.com/localmemory/memcore/internal/embedder"
	"github.com/localmemory/memcore/internal/extractor"
	"github.com/localmemory/memcore/internal/health"
	"github.com/localmemory/memcore/internal/ingest"
	"github.com/localmemory/memcore/internal/languagemodel"
	"github.com/localmemory/memcore/internal/memerr"
	"github.com/localmemory/memcore/internal/recall"
	"github.com/localmemory/memcore/internal/remember"
	"github.com/localmemory/memcore/internal/scheduler"
	"github.com/localmemory/memcore/internal/session"
	"github.com/localmemory/memcore/internal/store"
	"github.com/localmemory/memcore/internal/toolserver"
)

// shutdownDrain is how long a running request gets to finish once
// shutdown begins before the process gives up waiting on it.
const shutdownDrain = 10 * time.Second

// entityCandidateThreshold is the occurrence count ExtractCandidates
// requires before promoting a capitalized phrase run to a candidate, per
// internal/extractor's design.
const entityCandidateThreshold = 2

// Daemon holds every wired component for the lifetime of one process.
type Daemon struct {
	cfg config.Config
	log zerolog.Logger

	store       *store.Store
	embedder    *embedder.Client
	lm          *languagemodel.Client
	extractor   *extractor.Extractor
	remember    *remember.Service
	recall      *recall.Service
	consolidate *consolidate.Service
	session     *session.Service
	ingest      *ingest.Service
	scheduler   *scheduler.Service
	health      *health.Server
	tools       *toolserver.Service
}

// New opens the store at cfg's resolved path and wires every component
// against it. The returned Daemon is ready to Serve but has not started
// its scheduler or health listener yet.
func New(cfg config.Config, log zerolog.Logger) (*Daemon, error) {
	storePath, err := cfg.EnsureStoreDir()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(storePath, log)
	if err != nil {
		return nil, err
	}

	emb := embedder.New(cfg.EmbeddingBaseURL, "", cfg.EmbeddingModel, cfg.EmbeddingDims, log)
	lm := languagemodel.New(cfg.LMBaseURL, cfg.LMAPIKey, cfg.LMModel, log)
	ext := extractor.New(entityCandidateThreshold)

	// A configured dimension that doesn't match the serving model is a fatal
	// SchemaMismatch per spec §4.2/§7: the vec0 column width is fixed at
	// migration time and cannot be reconciled after the fact. Any other
	// probe failure (connection refused, timeout) is the ordinary
	// unavailable-at-startup case the rest of the engine already degrades
	// through, so it only logs.
	if err := emb.Probe(context.Background()); err != nil {
		if memerr.KindOf(err) == memerr.KindSchemaMismatch {
			st.Close()
			return nil, err
		}
		log.Warn().Err(err).Msg("embedder unavailable at startup, degrading to lexical recall until it recovers")
	}
	if err := lm.Probe(context.Background()); err != nil {
		if memerr.KindOf(err) == memerr.KindSchemaMismatch {
			st.Close()
			return nil, err
		}
		log.Warn().Err(err).Msg("language model unavailable at startup, ingest will fall back to heuristic extraction")
	}

	rem := remember.New(st, emb, log)
	rec := recall.New(st, emb, log)
	cons := consolidate.New(st, emb, log)
	sess := session.New(st, rem, log)
	ing := ingest.New(st, lm, rem, ext, log)
	sched := scheduler.New(cons, rem, log)
	h := health.New(st, emb, lm, sched, log)
	ts := toolserver.New(st, rem, rec, cons, sess, ing, h, log)

	if err := rec.RebuildEntityIndex(); err != nil {
		log.Warn().Err(err).Msg("initial entity index build failed")
	}
	if err := ing.RebuildGazetteer(); err != nil {
		log.Warn().Err(err).Msg("initial gazetteer build failed")
	}

	return &Daemon{
		cfg:         cfg,
		log:         log.With().Str("component", "daemon").Logger(),
		store:       st,
		embedder:    emb,
		lm:          lm,
		extractor:   ext,
		remember:    rem,
		recall:      rec,
		consolidate: cons,
		session:     sess,
		ingest:      ing,
		scheduler:   sched,
		health:      h,
		tools:       ts,
	}, nil
}

// Tools exposes the wired ToolServer so a transport (stdio, a future
// socket listener) can call Serve against it.
func (d *Daemon) Tools() *toolserver.Service { return d.tools }

// Store exposes the wired Store for one-shot CLI modes (--consolidate).
func (d *Daemon) Store() *store.Store { return d.store }

// Consolidate exposes the wired ConsolidateService for one-shot CLI modes.
func (d *Daemon) Consolidate() *consolidate.Service { return d.consolidate }

// Run starts the scheduler and health listener and serves tool requests
// over stdin/stdout until ctx is canceled, then drains in-flight work for
// up to shutdownDrain before returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.scheduler.Start()
	defer d.scheduler.Stop()

	healthErrCh := make(chan error, 1)
	go func() {
		healthErrCh <- d.health.ListenAndServe(d.cfg.HealthPort)
	}()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- d.tools.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-ctx.Done():
		d.log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer cancel()
		if err := d.health.Shutdown(shutdownCtx); err != nil {
			d.log.Warn().Err(err).Msg("health listener shutdown")
		}
		select {
		case <-serveErrCh:
		case <-shutdownCtx.Done():
			d.log.Warn().Msg("drain deadline reached before the tool server stopped")
		}
		return nil
	case err := <-serveErrCh:
		return err
	case err := <-healthErrCh:
		return err
	}
}

// Close releases the underlying store. Callers should call Close after
// Run returns.
func (d *Daemon) Close() error {
	return d.store.Close()
}
