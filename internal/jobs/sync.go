package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"reactally/internal/aggregate"
	"reactally/internal/metrics"
	"reactally/internal/model"
)

// Syncer refreshes the ledger for one marker.
type Syncer interface {
	Sync(ctx context.Context, reaction string) (aggregate.Stats, error)
}

// RunLedger records finished sync runs.
type RunLedger interface {
	RecordRun(ctx context.Context, run model.SyncRun) error
}

// RunSyncOnce performs one sync pass for marker and records it in runs.
// A failed pass is not recorded; its error is returned.
func RunSyncOnce(ctx context.Context, s Syncer, runs RunLedger, marker string, log zerolog.Logger) (model.SyncRun, error) {
	run := model.SyncRun{ID: uuid.NewString(), Reaction: marker, StartedAt: time.Now().UTC()}
	log = log.With().Str("run_id", run.ID).Str("reaction", marker).Logger()
	metrics.SyncRuns.Inc()
	defer metrics.ObserveSyncDuration(run.StartedAt)

	stats, err := s.Sync(ctx, marker)
	run.FinishedAt = time.Now().UTC()
	run.Channels, run.Failures, run.Events = stats.Channels, stats.Failures, stats.Events
	if err != nil {
		metrics.SyncErrors.Inc()
		log.Error().Err(err).Int("events", stats.Events).Msg("sync run failed")
		return run, fmt.Errorf("sync %q: %w", marker, err)
	}
	if runs != nil {
		if err := runs.RecordRun(ctx, run); err != nil {
			metrics.SyncErrors.Inc()
			return run, err
		}
	}
	log.Info().
		Int("channels", run.Channels).
		Int("failures", run.Failures).
		Int("events", run.Events).
		Dur("took", run.FinishedAt.Sub(run.StartedAt)).
		Msg("sync run recorded")
	return run, nil
}

// RunSyncSchedule runs fn immediately and then on every activation of the cron spec
// until ctx is cancelled. Activations that fire while fn is still running are skipped.
func RunSyncSchedule(ctx context.Context, spec string, fn func(ctx context.Context) error, log zerolog.Logger) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	run := func() {
		if ctx.Err() != nil {
			return
		}
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled sync failed")
		}
	}
	run()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(run))
	c.Start()
	log.Info().Str("schedule", spec).Time("next", sched.Next(time.Now())).Msg("sync schedule started")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("sync schedule stopped")
	return ctx.Err()
}
