package orchestrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftcms/revalidator/pkg/types"
)

// JobService is the slice of the admin API the orchestrator needs
type JobService interface {
	Submit(ctx context.Context, request types.RevalidationRequest) (types.JobHandle, error)
	FetchStatus(ctx context.Context, jobID string) (types.JobStatus, error)
}

// Orchestrator ties submission, polling and lifecycle tracking together for
// one job at a time. The in-flight guard is a single-slot semaphore: it
// debounces double submission within this process only and coordinates
// nothing across processes.
type Orchestrator struct {
	service JobService
	tracker *Tracker
	poller  *Poller
	logger  *zap.Logger

	inflight chan struct{}
}

// NewOrchestrator creates an orchestrator polling at the given interval
func NewOrchestrator(service JobService, tracker *Tracker, pollInterval time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		service:  service,
		tracker:  tracker,
		poller:   NewPoller(service.FetchStatus, pollInterval, logger),
		logger:   logger,
		inflight: make(chan struct{}, 1),
	}
}

// StartJob validates, submits and begins polling a revalidation job.
// Returns ErrJobInFlight when a previous job has not reached a terminal
// state yet. Submission failures surface as *SubmissionError after resetting
// the tracked state.
func (o *Orchestrator) StartJob(ctx context.Context, request types.RevalidationRequest) (types.JobHandle, error) {
	request.Normalize()
	if err := request.Validate(); err != nil {
		return types.JobHandle{}, &ValidationError{Field: requestField(request), Reason: err.Error()}
	}

	select {
	case o.inflight <- struct{}{}:
	default:
		return types.JobHandle{}, ErrJobInFlight
	}

	handle, err := o.service.Submit(ctx, request)
	if err != nil {
		o.release()
		o.tracker.Interrupt("Failed to start revalidation job")
		return types.JobHandle{}, err
	}

	o.tracker.Begin(handle, request)

	err = o.poller.Start(ctx, handle,
		func(status types.JobStatus) {
			o.tracker.Observe(status)
			if status.Terminal() {
				o.release()
			}
		},
		func(pollErr error) {
			o.logger.Warn("Polling failed",
				zap.String("job_id", handle.JobID),
				zap.Error(pollErr))
			o.tracker.Interrupt("Lost connection to job status")
			o.release()
		},
	)
	if err != nil {
		// Cannot happen while the in-flight slot is held, but do not leak it
		o.release()
		return types.JobHandle{}, err
	}

	return handle, nil
}

// Stop tears down any active polling session and frees the in-flight slot
func (o *Orchestrator) Stop() {
	o.poller.Stop()
	o.release()
}

// Polling returns true while a polling session is active
func (o *Orchestrator) Polling() bool {
	return o.poller.Active()
}

// requestField names the input a failed request validation refers to. The
// cases follow the check order of RevalidationRequest.Validate.
func requestField(r types.RevalidationRequest) string {
	switch {
	case !r.Environment.Valid():
		return "environment"
	case !r.Scope.Valid():
		return "scope"
	case r.Scope == types.ScopeRoutes:
		return "routes"
	default:
		return "tags"
	}
}

func (o *Orchestrator) release() {
	select {
	case <-o.inflight:
	default:
	}
}
