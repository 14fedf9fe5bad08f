package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/orchestrate"
	"github.com/driftcms/revalidator/pkg/types"
)

// Run is the main schedule loop. Each tick it scans the persisted schedules
// and launches jobs whose next activation falls inside the tick window.
// This runs in a separate goroutine and respects context cancellation.
func (d *Daemon) Run(ctx context.Context) {
	tickInterval := time.Duration(d.config.Scheduler.TickInterval)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	d.logger.Info("Schedule loop started",
		zap.Duration("tick_interval", tickInterval))

	tickCount := 0
	lastCheck := time.Now().UTC()

	for {
		select {
		case <-ticker.C:
			tickCount++
			now := time.Now().UTC()
			d.recordTick(now)

			d.logger.Debug("Schedule tick",
				zap.Int("tick", tickCount),
				zap.Time("time", now))

			if d.IsSchedulerPaused() {
				d.logger.Debug("Scheduler paused, skipping tick", zap.Int("tick", tickCount))
				lastCheck = now
				continue
			}

			d.runDueSchedules(ctx, lastCheck, now)
			lastCheck = now

			if tickCount%10 == 0 {
				d.logger.Debug("Schedule loop status",
					zap.Int("tick", tickCount),
					zap.Int("active_jobs", d.runner.ActiveJobs()))
			}

		case <-ctx.Done():
			d.logger.Info("Schedule loop shutdown requested")
			return
		}
	}
}

// runDueSchedules launches every schedule whose next activation lies in
// (lastCheck, now]. One-off schedules are removed after their run so they
// never fire twice.
func (d *Daemon) runDueSchedules(ctx context.Context, lastCheck, now time.Time) {
	schedules, err := d.scheduleStore.ListSchedules(ctx)
	if err != nil {
		d.logger.Error("Failed to list schedules for tick", zap.Error(err))
		return
	}

	for _, spec := range schedules {
		next, ok := orchestrate.NextActivation(spec, lastCheck)
		if !ok {
			// No further activations: expired one-offs and ended
			// recurrences are cleaned up here
			if d.scheduleExpired(spec, now) {
				d.removeSchedule(ctx, spec.ID, "expired")
			}
			continue
		}
		if next.After(now) {
			continue
		}

		d.launchScheduledJob(ctx, spec)

		if spec.Recurrence == types.RecurrenceOneOff {
			d.removeSchedule(ctx, spec.ID, "one-off completed")
		}
	}
}

func (d *Daemon) scheduleExpired(spec types.ScheduleSpec, now time.Time) bool {
	if spec.Recurrence == types.RecurrenceOneOff {
		return spec.StartTime.Before(now)
	}
	return spec.EndTime != nil && spec.EndTime.Before(now)
}

func (d *Daemon) launchScheduledJob(ctx context.Context, spec types.ScheduleSpec) {
	request := spec.Request("schedule:" + spec.ID)
	if err := request.Validate(); err != nil {
		d.logger.Error("Stored schedule produced an invalid request",
			zap.String("schedule_id", spec.ID),
			zap.Error(err))
		d.metricsCollector.RecordScheduleRun("invalid")
		return
	}

	jobID := uuid.New().String()
	if err := d.runner.Launch(ctx, jobID, request); err != nil {
		d.logger.Warn("Failed to launch scheduled job",
			zap.String("schedule_id", spec.ID),
			zap.Error(err))
		d.metricsCollector.RecordScheduleRun("error")
		return
	}

	d.metricsCollector.RecordScheduleRun("ok")
	d.logger.Info("Scheduled job launched",
		zap.String("schedule_id", spec.ID),
		zap.String("job_id", jobID),
		zap.String("environment", string(spec.Environment)),
		zap.String("scope", string(spec.Scope)))
}

func (d *Daemon) removeSchedule(ctx context.Context, id, reason string) {
	if err := d.scheduleStore.DeleteSchedule(ctx, id); err != nil {
		d.logger.Warn("Failed to remove schedule",
			zap.String("schedule_id", id),
			zap.Error(err))
		return
	}
	d.logger.Info("Schedule removed",
		zap.String("schedule_id", id),
		zap.String("reason", reason))
}
