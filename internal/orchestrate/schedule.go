package orchestrate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/pkg/types"
)

// ProductionPolicy decides whether a schedule may target production.
// The default policy denies.
type ProductionPolicy interface {
	AllowProduction() bool
}

type denyProduction struct{}

func (denyProduction) AllowProduction() bool { return false }

// ScheduleSaver persists a validated schedule
type ScheduleSaver interface {
	SaveSchedule(ctx context.Context, spec types.ScheduleSpec) error
}

// ScheduleBuilder validates schedule drafts and hands accepted ones to the
// saver. Validation checks run in a fixed order and short-circuit on the
// first failure, so the caller always sees the earliest problem.
type ScheduleBuilder struct {
	saver  ScheduleSaver
	policy ProductionPolicy
	logger *zap.Logger
}

// NewScheduleBuilder creates a builder. A nil policy denies production.
func NewScheduleBuilder(saver ScheduleSaver, policy ProductionPolicy, logger *zap.Logger) *ScheduleBuilder {
	if policy == nil {
		policy = denyProduction{}
	}
	return &ScheduleBuilder{
		saver:  saver,
		policy: policy,
		logger: logger,
	}
}

// Validate checks a schedule draft without persisting it. The checks run in
// order: start time, route selection, tag selection, cron expression,
// production gate. The first failing check is returned.
func (b *ScheduleBuilder) Validate(spec types.ScheduleSpec) error {
	if spec.StartTime.IsZero() {
		return &ValidationError{Field: "startTime", Reason: "start time is required"}
	}

	if spec.Scope == types.ScopeRoutes && len(types.NormalizeList(spec.Routes)) == 0 {
		return &ValidationError{Field: "routes", Reason: "at least one route is required for route scope"}
	}

	if spec.Scope == types.ScopeTags && len(types.NormalizeList(spec.Tags)) == 0 {
		return &ValidationError{Field: "tags", Reason: "at least one tag is required for tag scope"}
	}

	if spec.Recurrence == types.RecurrenceCron {
		expr := strings.TrimSpace(spec.Cron)
		if expr == "" {
			return &ValidationError{Field: "cron", Reason: "cron expression is required for cron recurrence"}
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return &ValidationError{Field: "cron", Reason: "invalid cron expression: " + err.Error()}
		}
	}

	if spec.Environment == types.EnvProduction && !b.policy.AllowProduction() {
		return &ValidationError{Field: "environment", Reason: "production schedules are not permitted"}
	}

	return nil
}

// Save validates the draft and persists it. Drafts without an ID get one
// assigned.
func (b *ScheduleBuilder) Save(ctx context.Context, spec types.ScheduleSpec) (types.ScheduleSpec, error) {
	if err := b.Validate(spec); err != nil {
		return types.ScheduleSpec{}, err
	}

	if spec.ID == "" {
		spec.ID = uuid.New().String()
	}

	if err := b.saver.SaveSchedule(ctx, spec); err != nil {
		return types.ScheduleSpec{}, err
	}

	b.logger.Info("Schedule saved",
		zap.String("schedule_id", spec.ID),
		zap.String("environment", string(spec.Environment)),
		zap.String("recurrence", string(spec.Recurrence)))

	return spec, nil
}

// NextActivation returns the first activation at or after the given time,
// honoring the recurrence rule. ok is false when the schedule has no further
// activations (one-off in the past, or past its end time).
func NextActivation(spec types.ScheduleSpec, after time.Time) (time.Time, bool) {
	var next time.Time

	switch spec.Recurrence {
	case types.RecurrenceOneOff:
		if spec.StartTime.Before(after) {
			return time.Time{}, false
		}
		next = spec.StartTime

	case types.RecurrenceCron:
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return time.Time{}, false
		}
		from := after
		if spec.StartTime.After(from) {
			from = spec.StartTime
		}
		next = sched.Next(from.Add(-time.Second))

	default:
		interval := spec.Recurrence.Interval()
		if interval <= 0 {
			return time.Time{}, false
		}
		next = spec.StartTime
		if next.Before(after) {
			elapsed := after.Sub(spec.StartTime)
			steps := elapsed / interval
			next = spec.StartTime.Add(steps * interval)
			if next.Before(after) {
				next = next.Add(interval)
			}
		}
	}

	if spec.EndTime != nil && next.After(*spec.EndTime) {
		return time.Time{}, false
	}
	return next, true
}
