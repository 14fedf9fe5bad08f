package orchestrate

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftcms/revalidator/pkg/types"
)

// DefaultResetDelay is the cosmetic pause between a terminal state and the
// reset of transient progress indicators.
const DefaultResetDelay = 1200 * time.Millisecond

// State is the client-side view of a job's lifecycle
type State string

const (
	StateIdle    State = "idle"
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Completion carries the terminal summary delivered when a job finishes
type Completion struct {
	JobID       string
	Environment types.Environment
	Scope       types.Scope
	DurationMs  int64
}

// Notification is a user-facing toast message
type Notification struct {
	Success bool
	Message string
}

// TrackerCallbacks are the side effects wired to lifecycle transitions.
// Any callback may be nil.
type TrackerCallbacks struct {
	OnProgress func(types.JobStatus)
	OnNotify   func(Notification)
	OnComplete func(Completion)
	OnReset    func()
}

// Tracker maps server-reported status snapshots onto the job lifecycle
// (idle, queued, running, done, failed). Transitions are driven solely by
// observed snapshots; terminal side effects fire exactly once per job even
// if stale snapshots resolve after the terminal one.
type Tracker struct {
	callbacks  TrackerCallbacks
	resetDelay time.Duration
	logger     *zap.Logger

	mu            sync.Mutex
	state         State
	jobID         string
	environment   types.Environment
	scope         types.Scope
	status        types.JobStatus
	terminalFired bool
	resetTimer    *time.Timer
}

// NewTracker creates a tracker in the idle state. A non-positive resetDelay
// falls back to DefaultResetDelay.
func NewTracker(callbacks TrackerCallbacks, resetDelay time.Duration, logger *zap.Logger) *Tracker {
	if resetDelay <= 0 {
		resetDelay = DefaultResetDelay
	}
	return &Tracker{
		callbacks:  callbacks,
		resetDelay: resetDelay,
		logger:     logger,
		state:      StateIdle,
	}
}

// Begin marks a newly submitted job as queued. A reset still pending from a
// previous job is cancelled so the new run does not get wiped mid-flight.
func (t *Tracker) Begin(handle types.JobHandle, request types.RevalidationRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelResetLocked()

	t.state = StateQueued
	t.jobID = handle.JobID
	t.environment = request.Environment
	t.scope = request.Scope
	t.status = types.JobStatus{}
	t.terminalFired = false

	t.logger.Debug("Tracking job",
		zap.String("job_id", handle.JobID),
		zap.String("environment", string(request.Environment)),
		zap.String("scope", string(request.Scope)))
}

// Observe applies a status snapshot. Snapshots arriving after the terminal
// one are dropped.
func (t *Tracker) Observe(status types.JobStatus) {
	t.mu.Lock()

	if t.terminalFired {
		t.mu.Unlock()
		t.logger.Debug("Dropping stale status snapshot",
			zap.String("job_id", t.jobID),
			zap.String("step", string(status.Step)))
		return
	}

	t.status = status
	onProgress := t.callbacks.OnProgress

	if !status.Terminal() {
		t.state = StateRunning
		t.mu.Unlock()
		if onProgress != nil {
			onProgress(status)
		}
		return
	}

	t.terminalFired = true
	var notification Notification
	var completion *Completion

	if status.Failed() {
		t.state = StateFailed
		message := status.Message
		if message == "" {
			message = "Revalidation job failed"
		}
		notification = Notification{Success: false, Message: message}
	} else {
		t.state = StateDone
		notification = Notification{
			Success: true,
			Message: fmt.Sprintf("%s revalidated on %s", t.scope.Label(), t.environment),
		}
		completion = &Completion{
			JobID:       t.jobID,
			Environment: t.environment,
			Scope:       t.scope,
			DurationMs:  status.DurationMs,
		}
	}

	t.scheduleResetLocked()
	onNotify := t.callbacks.OnNotify
	onComplete := t.callbacks.OnComplete
	t.mu.Unlock()

	if onProgress != nil {
		onProgress(status)
	}
	if onNotify != nil {
		onNotify(notification)
	}
	if completion != nil && onComplete != nil {
		onComplete(*completion)
	}
}

// Interrupt aborts the current run outside of job-terminal flow: submission
// failures and polling failures land here. Progress resets immediately and a
// failure notification is emitted.
func (t *Tracker) Interrupt(message string) {
	t.mu.Lock()
	t.cancelResetLocked()
	t.state = StateIdle
	t.status = types.JobStatus{}
	t.terminalFired = false
	onNotify := t.callbacks.OnNotify
	t.mu.Unlock()

	if onNotify != nil {
		onNotify(Notification{Success: false, Message: message})
	}
}

// State returns the current lifecycle state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Status returns the last observed snapshot
func (t *Tracker) Status() types.JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tracker) scheduleResetLocked() {
	t.cancelResetLocked()
	t.resetTimer = time.AfterFunc(t.resetDelay, func() {
		t.mu.Lock()
		t.resetTimer = nil
		t.state = StateIdle
		t.status = types.JobStatus{}
		onReset := t.callbacks.OnReset
		t.mu.Unlock()

		if onReset != nil {
			onReset()
		}
	})
}

func (t *Tracker) cancelResetLocked() {
	if t.resetTimer != nil {
		t.resetTimer.Stop()
		t.resetTimer = nil
	}
}
