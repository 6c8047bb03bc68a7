// Package scheduler provides the cron-based reaper that times out runs
// stuck in processing. A run whose worker died mid-pipeline would otherwise
// sit in processing forever and block the reviewer's queue.
package scheduler

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
	db "github.com/ashish-frozo/frozo-zendesk/internal/repository/db"
	"github.com/ashish-frozo/frozo-zendesk/internal/service"
)

// staleAfter is the run's total deadline: how long after creation a run may
// still be processing before it is failed. It is measured from created_at,
// so per-asset progress cannot keep extending a run's life.
const staleAfter = 10 * time.Minute

// Reaper periodically fails runs that have been processing for too long.
type Reaper struct {
	cron    *cron.Cron
	querier db.Querier
	auditor *service.Auditor
	logger  *zap.Logger
}

// NewReaper creates and configures the reaper.
func NewReaper(q db.Querier, auditor *service.Auditor, logger *zap.Logger) *Reaper {
	return &Reaper{
		cron:    cron.New(),
		querier: q,
		auditor: auditor,
		logger:  logger,
	}
}

// Start registers the sweep job and starts the scheduler. Call Stop() to
// gracefully shut down.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc("@every 1m", r.sweep); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("run reaper started", zap.Duration("stale_after", staleAfter))
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running sweep.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("run reaper stopped")
}

func (r *Reaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := r.Sweep(ctx, time.Now()); err != nil {
		r.logger.Error("run reaper sweep failed", zap.Error(err))
	}
}

// Sweep fails every run still in processing whose creation predates now
// minus the stale window, and audits each one.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) error {
	failed, err := r.querier.FailStaleProcessingRuns(ctx, db.FailStaleProcessingRunsParams{
		Before:    pgtype.Timestamptz{Time: now.Add(-staleAfter), Valid: true},
		ErrorCode: pgtype.Text{String: string(fault.CodeTimedOut), Valid: true},
	})
	if err != nil {
		return err
	}
	for _, run := range failed {
		r.auditor.Record(ctx, run.TenantID, run.ID, service.EventRunTimedOut, map[string]interface{}{
			"previous_status": "processing",
		})
		r.logger.Warn("run timed out", zap.String("ticket_id", run.TicketID))
	}
	return nil
}
