// Package scheduler runs the cooperative cron-style job set that drives
// background consolidation, per spec §4.9: daily decay, six-hourly pattern
// detection, and daily full consolidation, each guarded so a running job
// never overlaps a second invocation of itself.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/localmemory/memcore/internal/consolidate"
	"github.com/localmemory/memcore/internal/remember"
)

const (
	JobDailyDecay        = "daily_decay"
	JobPatternDetection  = "pattern_detection"
	JobFullConsolidation = "full_consolidation"

	specDailyDecay        = "0 2 * * *"
	specPatternDetection  = "@every 6h"
	specFullConsolidation = "0 3 * * *"

	// drainBatch bounds how many pending embeddings are retried opportunistically
	// at the start of each job tick, per the re-embed queue's "best-effort,
	// between cron jobs" draining note.
	drainBatch = 50
)

// Job describes one registered cron job, for the Health endpoint's
// scheduled_jobs listing.
type Job struct {
	ID      string
	NextRun time.Time
}

// runState tracks whether a job id is currently executing, so a slow run
// never overlaps a second tick of the same job.
type runState struct {
	running   int32
	lastErr   error
	lastRunID string
	mu        sync.Mutex
}

// Service owns the cron engine and the consolidate/remember services its
// jobs invoke.
type Service struct {
	cron       *cronlib.Cron
	consolidate *consolidate.Service
	remember   *remember.Service
	log        zerolog.Logger

	mu      sync.RWMutex
	entries map[string]cronlib.EntryID
	states  map[string]*runState
}

// New builds a Service and registers the three default jobs. It does not
// start the cron engine; call Start.
func New(c *consolidate.Service, rem *remember.Service, log zerolog.Logger) *Service {
	s := &Service{
		cron:        cronlib.New(cronlib.WithSeconds()),
		consolidate: c,
		remember:    rem,
		log:         log.With().Str("component", "scheduler").Logger(),
		entries:     make(map[string]cronlib.EntryID),
		states:      make(map[string]*runState),
	}
	// WithSeconds() expects a 6-field spec; pad the 5-field specs named in
	// spec §4.9 with a leading "0" seconds field.
	s.register(JobDailyDecay, "0 "+specDailyDecay, s.runDecay)
	s.register(JobPatternDetection, specPatternDetection, s.runPatternDetection)
	s.register(JobFullConsolidation, "0 "+specFullConsolidation, s.runFullConsolidation)
	return s
}

func (s *Service) register(id, spec string, fn func(ctx context.Context)) {
	s.states[id] = &runState{}
	entryID, err := s.cron.AddFunc(spec, func() { fn(context.Background()) })
	if err != nil {
		s.log.Error().Err(err).Str("job", id).Str("spec", spec).Msg("failed to register job")
		return
	}
	s.entries[id] = entryID
}

// Start begins running registered jobs on their schedule.
func (s *Service) Start() { s.cron.Start() }

// Stop halts the cron engine and waits for any in-flight job to finish.
func (s *Service) Stop() { <-s.cron.Stop().Done() }

// Jobs returns the next scheduled run for every registered job, in the
// order spec §4.9 lists them, for the Health endpoint.
func (s *Service) Jobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := []string{JobDailyDecay, JobPatternDetection, JobFullConsolidation}
	out := make([]Job, 0, len(order))
	for _, id := range order {
		entryID, ok := s.entries[id]
		if !ok {
			continue
		}
		e := s.cron.Entry(entryID)
		next := e.Next
		if next.IsZero() && e.Schedule != nil {
			// cron fills Entry.Next only once the engine is started.
			next = e.Schedule.Next(time.Now())
		}
		out = append(out, Job{ID: id, NextRun: next})
	}
	return out
}

// LastError returns the most recent error a job id's run ended with, or nil
// if its last run (or every run so far) succeeded.
func (s *Service) LastError(id string) error {
	s.mu.RLock()
	st := s.states[id]
	s.mu.RUnlock()
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastErr
}

// LastRunID returns the run id of a job id's most recent execution, for
// correlating a Health endpoint report or a log line with a specific tick.
func (s *Service) LastRunID(id string) string {
	s.mu.RLock()
	st := s.states[id]
	s.mu.RUnlock()
	if st == nil {
		return ""
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastRunID
}

// RunNow executes a registered job's body immediately, honoring the same
// per-job overlap guard as its cron tick. The `consolidate` tool and the
// daemon's `--consolidate` mode call ConsolidateService directly instead.
func (s *Service) RunNow(ctx context.Context, id string) error {
	switch id {
	case JobDailyDecay:
		s.runDecay(ctx)
	case JobPatternDetection:
		s.runPatternDetection(ctx)
	case JobFullConsolidation:
		s.runFullConsolidation(ctx)
	}
	return s.LastError(id)
}

func (s *Service) withGuard(id string, fn func(ctx context.Context) error, ctx context.Context) {
	s.mu.RLock()
	st := s.states[id]
	s.mu.RUnlock()
	if st == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&st.running, 0, 1) {
		s.log.Warn().Str("job", id).Msg("skipped tick: previous run still in progress")
		return
	}
	defer atomic.StoreInt32(&st.running, 0)

	runID := uuid.NewString()
	log := s.log.With().Str("job", id).Str("run_id", runID).Logger()

	if s.remember != nil {
		if _, err := s.remember.DrainPendingEmbeddings(ctx, drainBatch); err != nil {
			log.Warn().Err(err).Msg("opportunistic pending-embedding drain failed")
		}
	}

	err := fn(ctx)
	st.mu.Lock()
	st.lastErr = err
	st.lastRunID = runID
	st.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("job failed")
	} else {
		log.Info().Msg("job completed")
	}
}

func (s *Service) runDecay(ctx context.Context) {
	s.withGuard(JobDailyDecay, func(ctx context.Context) error {
		n, err := s.consolidate.Decay(ctx)
		if err == nil {
			s.log.Info().Int("decayed_n", n).Msg("decay complete")
		}
		return err
	}, ctx)
}

func (s *Service) runPatternDetection(ctx context.Context) {
	s.withGuard(JobPatternDetection, func(ctx context.Context) error {
		n, err := s.consolidate.DetectPatterns(ctx)
		if err == nil {
			s.log.Info().Int("patterns_detected_n", n).Msg("pattern detection complete")
		}
		return err
	}, ctx)
}

func (s *Service) runFullConsolidation(ctx context.Context) {
	s.withGuard(JobFullConsolidation, func(ctx context.Context) error {
		report, err := s.consolidate.FullConsolidation(ctx)
		if err == nil {
			s.log.Info().
				Int("decayed_n", report.DecayedN).
				Int("merged_n", report.MergedN).
				Int("patterns_detected_n", report.PatternsDetectedN).
				Msg("full consolidation complete")
		}
		return err
	}, ctx)
}
