package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
	"github.com/driftcms/revalidator/internal/common/redis"
	"github.com/driftcms/revalidator/internal/daemon/metrics"
	"github.com/driftcms/revalidator/pkg/types"
)

// Progress checkpoints reported as a job moves through its steps
const (
	progressKickoff    = 6
	progressPurgeCDN   = 25
	progressInvalidate = 55
	progressWarm       = 85
	progressFinalize   = 95
	progressDone       = 100
)

// ErrTooManyJobs is returned when a job cannot start because the runner is
// at its concurrency limit.
var ErrTooManyJobs = fmt.Errorf("too many jobs running")

// Runner executes revalidation jobs: it resolves the affected cache entries,
// purges the CDN, invalidates Redis-backed page entries, optionally warms
// them back and records the run in history. Progress is written to the job
// store after every step so pollers see a monotonic sequence.
type Runner struct {
	config           configtypes.RunnerConfig
	redis            *redis.Client
	keyGenerator     *redis.KeyGenerator
	jobStore         *JobStore
	historyStore     *HistoryStore
	metricsCollector *metrics.MetricsCollector
	httpClient       *fasthttp.Client
	logger           *zap.Logger

	slots chan struct{}

	activeMu sync.Mutex
	active   int
}

// NewRunner creates a job runner
func NewRunner(
	config configtypes.RunnerConfig,
	redisClient *redis.Client,
	keyGenerator *redis.KeyGenerator,
	jobStore *JobStore,
	historyStore *HistoryStore,
	metricsCollector *metrics.MetricsCollector,
	logger *zap.Logger,
) *Runner {
	warmTimeout := time.Duration(config.WarmTimeout)
	if warmTimeout <= 0 {
		warmTimeout = 15 * time.Second
	}

	return &Runner{
		config:           config,
		redis:            redisClient,
		keyGenerator:     keyGenerator,
		jobStore:         jobStore,
		historyStore:     historyStore,
		metricsCollector: metricsCollector,
		httpClient: &fasthttp.Client{
			ReadTimeout:         warmTimeout,
			WriteTimeout:        warmTimeout,
			MaxIdleConnDuration: 500 * time.Millisecond,
		},
		logger: logger,
		slots:  make(chan struct{}, config.MaxConcurrentJobs),
	}
}

// Launch starts executing a job in the background. The initial queued status
// is written before Launch returns, so a poll immediately after submission
// always finds the job. Returns ErrTooManyJobs at the concurrency limit.
func (r *Runner) Launch(ctx context.Context, jobID string, request types.RevalidationRequest) error {
	select {
	case r.slots <- struct{}{}:
	default:
		return ErrTooManyJobs
	}

	initial := types.JobStatus{Step: types.StepKickoff, Progress: 0, Message: "queued"}
	if err := r.jobStore.SetStatus(ctx, jobID, initial); err != nil {
		<-r.slots
		return err
	}

	r.setActive(1)
	go func() {
		defer func() {
			<-r.slots
			r.setActive(-1)
		}()
		r.execute(context.Background(), jobID, request)
	}()

	return nil
}

// ActiveJobs returns the number of jobs currently executing
func (r *Runner) ActiveJobs() int {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	return r.active
}

func (r *Runner) setActive(delta int) {
	r.activeMu.Lock()
	r.active += delta
	count := r.active
	r.activeMu.Unlock()
	r.metricsCollector.SetActiveJobs(count)
}

type runState struct {
	jobID     string
	request   types.RevalidationRequest
	startedAt time.Time
	routes    []string
	media     []string
	timeline  []types.StepTiming
	logs      []string
	summary   *types.CacheSummary
}

func (rs *runState) logf(format string, args ...interface{}) {
	rs.logs = append(rs.logs, fmt.Sprintf(format, args...))
}

func (r *Runner) execute(ctx context.Context, jobID string, request types.RevalidationRequest) {
	state := &runState{
		jobID:     jobID,
		request:   request,
		startedAt: time.Now().UTC(),
	}

	r.logger.Info("Job started",
		zap.String("job_id", jobID),
		zap.String("environment", string(request.Environment)),
		zap.String("scope", string(request.Scope)),
		zap.Bool("dry_run", request.DryRun))

	// Record the run as in-progress right away. The terminal append below
	// overwrites this entry, so history shows each job exactly once.
	r.appendHistory(ctx, state, types.RunRunning, 0)

	steps := []struct {
		step     types.Step
		progress int
		run      func(context.Context, *runState) (string, error)
	}{
		{types.StepKickoff, progressKickoff, r.stepKickoff},
		{types.StepPurgeCDN, progressPurgeCDN, r.stepPurgeCDN},
		{types.StepInvalidate, progressInvalidate, r.stepInvalidate},
		{types.StepWarm, progressWarm, r.stepWarm},
		{types.StepFinalize, progressFinalize, r.stepFinalize},
	}

	for _, s := range steps {
		stepStart := time.Now()
		message, err := s.run(ctx, state)
		elapsed := time.Since(stepStart)

		state.timeline = append(state.timeline, types.StepTiming{
			Step:       s.step,
			DurationMs: elapsed.Milliseconds(),
			Completed:  err == nil,
		})

		if err != nil {
			r.failJob(ctx, state, s.step, err)
			return
		}

		r.reportProgress(ctx, state, s.step, s.progress, message)

		if delay := time.Duration(r.config.StepDelay); delay > 0 {
			time.Sleep(delay)
		}
	}

	r.completeJob(ctx, state)
}

func (r *Runner) reportProgress(ctx context.Context, state *runState, step types.Step, progress int, message string) {
	status := types.JobStatus{
		Step:     step,
		Progress: progress,
		Message:  message,
	}
	if err := r.jobStore.SetStatus(ctx, state.jobID, status); err != nil {
		r.logger.Error("Failed to write job progress",
			zap.String("job_id", state.jobID),
			zap.String("step", string(step)),
			zap.Error(err))
	}
}

func (r *Runner) failJob(ctx context.Context, state *runState, step types.Step, cause error) {
	duration := time.Since(state.startedAt)
	state.logf("step %s failed: %v", step, cause)

	r.logger.Error("Job failed",
		zap.String("job_id", state.jobID),
		zap.String("step", string(step)),
		zap.Duration("duration", duration),
		zap.Error(cause))

	status := types.JobStatus{
		Step:       types.StepFailed,
		Progress:   progressDone,
		Message:    cause.Error(),
		DurationMs: duration.Milliseconds(),
	}
	if err := r.jobStore.SetStatus(ctx, state.jobID, status); err != nil {
		r.logger.Error("Failed to write terminal job status",
			zap.String("job_id", state.jobID),
			zap.Error(err))
	}

	r.appendHistory(ctx, state, types.RunFailed, duration)
	r.metricsCollector.RecordJobCompleted(string(types.RunFailed), duration)
}

func (r *Runner) completeJob(ctx context.Context, state *runState) {
	duration := time.Since(state.startedAt)

	r.logger.Info("Job completed",
		zap.String("job_id", state.jobID),
		zap.Int("pages_touched", len(state.routes)+len(state.media)),
		zap.Duration("duration", duration))

	status := types.JobStatus{
		Step:       types.StepDone,
		Progress:   progressDone,
		Message:    "revalidation complete",
		DurationMs: duration.Milliseconds(),
	}
	if err := r.jobStore.SetStatus(ctx, state.jobID, status); err != nil {
		r.logger.Error("Failed to write terminal job status",
			zap.String("job_id", state.jobID),
			zap.Error(err))
	}

	r.appendHistory(ctx, state, types.RunSucceeded, duration)
	r.metricsCollector.RecordJobCompleted(string(types.RunSucceeded), duration)
}

func (r *Runner) appendHistory(ctx context.Context, state *runState, status types.RunStatus, duration time.Duration) {
	entry := types.HistoryEntry{
		JobID:        state.jobID,
		Environment:  state.request.Environment,
		Scope:        state.request.Scope,
		Status:       status,
		TriggeredBy:  state.request.TriggeredBy,
		StartedAt:    state.startedAt,
		DurationMs:   duration.Milliseconds(),
		PagesTouched: len(state.routes) + len(state.media),
		StepTimeline: state.timeline,
		Logs:         state.logs,
		CacheSummary: state.summary,
	}
	if err := r.historyStore.Append(ctx, entry); err != nil {
		r.logger.Error("Failed to record run history",
			zap.String("job_id", state.jobID),
			zap.Error(err))
	}
}

// stepKickoff resolves which cache entries the job targets
func (r *Runner) stepKickoff(ctx context.Context, state *runState) (string, error) {
	env := state.request.Environment

	switch state.request.Scope {
	case types.ScopeAll:
		routes, err := r.redis.SMembers(ctx, r.keyGenerator.PageIndexKey(env))
		if err != nil {
			return "", fmt.Errorf("failed to resolve cached pages: %w", err)
		}
		media, err := r.redis.SMembers(ctx, r.keyGenerator.MediaIndexKey(env))
		if err != nil {
			return "", fmt.Errorf("failed to resolve cached media: %w", err)
		}
		state.routes = routes
		state.media = media

	case types.ScopeRoutes:
		state.routes = state.request.Routes

	case types.ScopeTags:
		seen := make(map[string]bool)
		for _, tag := range state.request.Tags {
			routes, err := r.redis.SMembers(ctx, r.keyGenerator.TagIndexKey(env, tag))
			if err != nil {
				return "", fmt.Errorf("failed to resolve tag %q: %w", tag, err)
			}
			for _, route := range routes {
				if !seen[route] {
					seen[route] = true
					state.routes = append(state.routes, route)
				}
			}
		}

	case types.ScopeMedia:
		media, err := r.redis.SMembers(ctx, r.keyGenerator.MediaIndexKey(env))
		if err != nil {
			return "", fmt.Errorf("failed to resolve cached media: %w", err)
		}
		state.media = media

	default:
		return "", fmt.Errorf("unknown scope %q", state.request.Scope)
	}

	state.logf("resolved %d routes and %d media assets", len(state.routes), len(state.media))
	return fmt.Sprintf("resolved %d targets", len(state.routes)+len(state.media)), nil
}

// stepPurgeCDN asks the CDN to drop the affected paths. Skipped when the
// request did not ask for a purge or no purge endpoint is configured.
func (r *Runner) stepPurgeCDN(ctx context.Context, state *runState) (string, error) {
	if !state.request.PurgeCDN || r.config.CDNPurgeURL == "" {
		state.logf("cdn purge skipped")
		return "cdn purge skipped", nil
	}
	if state.request.DryRun {
		state.logf("dry-run: would purge %d paths from cdn", len(state.routes)+len(state.media))
		return "dry-run: cdn purge skipped", nil
	}

	paths := append(append([]string(nil), state.routes...), state.media...)
	body, err := json.Marshal(map[string]interface{}{
		"environment": state.request.Environment,
		"paths":       paths,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal purge request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.config.CDNPurgeURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := r.httpClient.Do(req, resp); err != nil {
		return "", fmt.Errorf("cdn purge request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", fmt.Errorf("cdn purge returned status %d", resp.StatusCode())
	}

	state.logf("purged %d paths from cdn", len(paths))
	return fmt.Sprintf("purged %d paths", len(paths)), nil
}

// stepInvalidate removes the targeted entries from the page cache
func (r *Runner) stepInvalidate(ctx context.Context, state *runState) (string, error) {
	env := state.request.Environment
	total := len(state.routes) + len(state.media)

	if state.request.DryRun {
		state.logf("dry-run: would invalidate %d entries", total)
		return fmt.Sprintf("dry-run: %d entries would be invalidated", total), nil
	}

	for _, route := range state.routes {
		if err := r.redis.Del(ctx, r.keyGenerator.PageKey(env, route)); err != nil {
			return "", fmt.Errorf("failed to invalidate route %q: %w", route, err)
		}
	}
	if state.request.Scope != types.ScopeAll && len(state.routes) > 0 {
		members := make([]interface{}, len(state.routes))
		for i, route := range state.routes {
			members[i] = route
		}
		if err := r.redis.SRem(ctx, r.keyGenerator.PageIndexKey(env), members...); err != nil {
			return "", fmt.Errorf("failed to update page index: %w", err)
		}
	}

	for _, path := range state.media {
		if err := r.redis.Del(ctx, r.keyGenerator.MediaKey(env, path)); err != nil {
			return "", fmt.Errorf("failed to invalidate media %q: %w", path, err)
		}
	}

	// A full invalidation clears the indexes outright
	if state.request.Scope == types.ScopeAll {
		if err := r.redis.Del(ctx, r.keyGenerator.PageIndexKey(env), r.keyGenerator.MediaIndexKey(env)); err != nil {
			return "", fmt.Errorf("failed to clear cache indexes: %w", err)
		}
	}
	if state.request.Scope == types.ScopeMedia && len(state.media) > 0 {
		members := make([]interface{}, len(state.media))
		for i, path := range state.media {
			members[i] = path
		}
		if err := r.redis.SRem(ctx, r.keyGenerator.MediaIndexKey(env), members...); err != nil {
			return "", fmt.Errorf("failed to update media index: %w", err)
		}
	}

	state.logf("invalidated %d entries", total)
	return fmt.Sprintf("invalidated %d entries", total), nil
}

// stepWarm re-fetches invalidated routes so the cache is hot before the job
// reports done. Media assets are never warmed.
func (r *Runner) stepWarm(ctx context.Context, state *runState) (string, error) {
	if !state.request.Warm || len(state.routes) == 0 {
		state.logf("warm skipped")
		return "warm skipped", nil
	}
	if state.request.DryRun {
		state.logf("dry-run: would warm %d routes", len(state.routes))
		return "dry-run: warm skipped", nil
	}
	if r.config.WarmBaseURL == "" {
		state.logf("warm skipped: no base url configured")
		return "warm skipped", nil
	}

	concurrency := r.config.WarmConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	warmed := 0
	missed := 0
	var totalMs int64

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, route := range state.routes {
		wg.Add(1)
		sem <- struct{}{}
		go func(route string) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			ok := r.warmRoute(route)
			elapsed := time.Since(start).Milliseconds()

			mu.Lock()
			if ok {
				warmed++
				totalMs += elapsed
			} else {
				missed++
			}
			mu.Unlock()

			if ok {
				r.metricsCollector.RecordWarmRequest("ok")
			} else {
				r.metricsCollector.RecordWarmRequest("error")
			}
		}(route)
	}
	wg.Wait()

	summary := &types.CacheSummary{WarmPages: warmed}
	if total := warmed + missed; total > 0 {
		summary.MissRatio = float64(missed) / float64(total)
	}
	if warmed > 0 {
		summary.AvgRebuildMs = totalMs / int64(warmed)
	}
	state.summary = summary

	state.logf("warmed %d routes, %d failed", warmed, missed)
	return fmt.Sprintf("warmed %d routes", warmed), nil
}

func (r *Runner) warmRoute(route string) bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.config.WarmBaseURL + route)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := r.httpClient.Do(req, resp); err != nil {
		r.logger.Debug("Warm fetch failed",
			zap.String("route", route),
			zap.Error(err))
		return false
	}
	return resp.StatusCode() >= 200 && resp.StatusCode() <= 299
}

// stepFinalize re-registers warmed routes in the page index so subsequent
// scoped invalidations can find them
func (r *Runner) stepFinalize(ctx context.Context, state *runState) (string, error) {
	if state.request.DryRun || !state.request.Warm || len(state.routes) == 0 {
		return "finalized", nil
	}

	env := state.request.Environment
	members := make([]interface{}, len(state.routes))
	for i, route := range state.routes {
		members[i] = route
	}
	if err := r.redis.SAdd(ctx, r.keyGenerator.PageIndexKey(env), members...); err != nil {
		return "", fmt.Errorf("failed to re-register warmed routes: %w", err)
	}
	return "finalized", nil
}
