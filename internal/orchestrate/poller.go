package orchestrate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftcms/revalidator/pkg/types"
)

// DefaultPollInterval is the fixed cadence between status checks.
// No backoff, no jitter: the interval is constant for the whole session.
const DefaultPollInterval = 1400 * time.Millisecond

// StatusFetcher retrieves the current status snapshot for a job
type StatusFetcher func(ctx context.Context, jobID string) (types.JobStatus, error)

// Poller owns at most one polling session at a time. Ticks are strictly
// sequential: the wait for the next tick begins only after the previous
// fetch has resolved and been delivered, so out-of-order snapshots cannot
// occur within a session.
type Poller struct {
	fetch    StatusFetcher
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc // nil when no session is active
	done   chan struct{}
}

// NewPoller creates a poller with the given fetcher and tick interval.
// A non-positive interval falls back to DefaultPollInterval.
func NewPoller(fetch StatusFetcher, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		fetch:    fetch,
		interval: interval,
		logger:   logger,
	}
}

// Start begins a polling session for the job. Each tick delivers one status
// snapshot to onStatus; a fetch failure stops the session immediately and
// delivers the error to onError (no retry). A terminal snapshot stops the
// session after delivery. Returns ErrPollInProgress if a session is already
// active.
func (p *Poller) Start(ctx context.Context, handle types.JobHandle, onStatus func(types.JobStatus), onError func(error)) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		p.logger.Warn("Poll start ignored, session already active",
			zap.String("job_id", handle.JobID))
		return ErrPollInProgress
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	p.logger.Debug("Polling session started",
		zap.String("job_id", handle.JobID),
		zap.Duration("interval", p.interval))

	go p.run(sessionCtx, handle, onStatus, onError, done)
	return nil
}

func (p *Poller) run(ctx context.Context, handle types.JobHandle, onStatus func(types.JobStatus), onError func(error), done chan struct{}) {
	defer close(done)
	defer p.clearSession(done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Polling session cancelled", zap.String("job_id", handle.JobID))
			return

		case <-timer.C:
			status, err := p.fetch(ctx, handle.JobID)
			if err != nil {
				// Cancellation mid-fetch is a teardown, not a polling failure
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("Status fetch failed, stopping poll",
					zap.String("job_id", handle.JobID),
					zap.Error(err))
				onError(err)
				return
			}

			onStatus(status)

			if status.Terminal() {
				p.logger.Debug("Terminal status observed, stopping poll",
					zap.String("job_id", handle.JobID),
					zap.String("step", string(status.Step)),
					zap.Int("progress", status.Progress))
				return
			}

			timer.Reset(p.interval)
		}
	}
}

// Stop tears down the active session, if any. Calling Stop with no active
// session is a no-op. Stop does not wait for the session goroutine to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.done = nil
	}
}

// Active returns true while a polling session owns a timer
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// clearSession releases session state if it still belongs to this run.
// A newer session started after Stop must not be clobbered.
func (p *Poller) clearSession(done chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == done {
		if p.cancel != nil {
			p.cancel()
		}
		p.cancel = nil
		p.done = nil
	}
}
