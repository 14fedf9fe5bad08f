package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/httputil"
	"github.com/driftcms/revalidator/internal/orchestrate"
	"github.com/driftcms/revalidator/pkg/types"
)

const (
	apiPrefix      = "/api/admin/revalidate"
	historyPath    = apiPrefix + "/history"
	schedulesPath  = apiPrefix + "/schedules"
	schedulePrefix = schedulesPath + "/"
)

// ServeHTTP is the main HTTP request handler for the daemon API
func (d *Daemon) ServeHTTP(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	// Auth middleware - validate X-Internal-Auth header for all endpoints
	authKey := string(ctx.Request.Header.Peek(orchestrate.AuthHeader))
	if authKey != d.internalAuthKey {
		d.logger.Warn("Unauthorized API request",
			zap.String("path", path),
			zap.String("remote_addr", ctx.RemoteAddr().String()))
		httputil.JSONError(ctx, "unauthorized", fasthttp.StatusUnauthorized)
		return
	}

	switch {
	case method == "POST" && path == apiPrefix:
		d.handleSubmitAPI(ctx)
	case method == "GET" && path == historyPath:
		d.handleHistoryAPI(ctx)
	case method == "GET" && path == schedulesPath:
		d.handleListSchedulesAPI(ctx)
	case method == "POST" && path == schedulesPath:
		d.handleSaveScheduleAPI(ctx)
	case method == "DELETE" && strings.HasPrefix(path, schedulePrefix):
		d.handleDeleteScheduleAPI(ctx, strings.TrimPrefix(path, schedulePrefix))
	case method == "GET" && strings.HasPrefix(path, apiPrefix+"/"):
		d.handleJobStatusAPI(ctx, strings.TrimPrefix(path, apiPrefix+"/"))
	case method == "GET" && path == "/status":
		d.handleStatusAPI(ctx)
	case method == "POST" && path == "/internal/scheduler/pause":
		d.handleSchedulerPauseAPI(ctx)
	case method == "POST" && path == "/internal/scheduler/resume":
		d.handleSchedulerResumeAPI(ctx)
	default:
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
	}
}

// handleSubmitAPI handles POST /api/admin/revalidate
func (d *Daemon) handleSubmitAPI(ctx *fasthttp.RequestCtx) {
	var req types.RevalidationRequest
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		httputil.JSONError(ctx, fmt.Sprintf("invalid json: %s", err.Error()), fasthttp.StatusBadRequest)
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	if err := d.runner.Launch(context.Background(), jobID, req); err != nil {
		if err == ErrTooManyJobs {
			httputil.JSONError(ctx, err.Error(), fasthttp.StatusTooManyRequests)
			return
		}
		d.logger.Error("Failed to launch job", zap.Error(err))
		httputil.JSONError(ctx, "failed to start job", fasthttp.StatusInternalServerError)
		return
	}

	d.metricsCollector.RecordJobSubmitted(string(req.Environment), string(req.Scope))

	d.logger.Info("Job submitted",
		zap.String("job_id", jobID),
		zap.String("environment", string(req.Environment)),
		zap.String("scope", string(req.Scope)),
		zap.String("triggered_by", req.TriggeredBy))

	// The response shape is part of the client contract: a bare job handle
	httputil.JSONRaw(ctx, types.JobHandle{JobID: jobID}, fasthttp.StatusOK)
}

// handleJobStatusAPI handles GET /api/admin/revalidate/{jobId}
func (d *Daemon) handleJobStatusAPI(ctx *fasthttp.RequestCtx, jobID string) {
	if jobID == "" || strings.Contains(jobID, "/") {
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
		return
	}

	d.metricsCollector.RecordStatusRequest()

	status, found, err := d.jobStore.GetStatus(context.Background(), jobID)
	if err != nil {
		d.logger.Error("Failed to read job status",
			zap.String("job_id", jobID),
			zap.Error(err))
		httputil.JSONError(ctx, "failed to read job status", fasthttp.StatusInternalServerError)
		return
	}
	if !found {
		httputil.JSONError(ctx, fmt.Sprintf("job %s not found", jobID), fasthttp.StatusNotFound)
		return
	}

	httputil.JSONRaw(ctx, status, fasthttp.StatusOK)
}

// handleHistoryAPI handles GET /api/admin/revalidate/history
func (d *Daemon) handleHistoryAPI(ctx *fasthttp.RequestCtx) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")

	entries, err := d.historyStore.List(context.Background(), limit)
	if err != nil {
		d.logger.Error("Failed to read run history", zap.Error(err))
		httputil.JSONError(ctx, "failed to read history", fasthttp.StatusInternalServerError)
		return
	}

	httputil.JSONRaw(ctx, entries, fasthttp.StatusOK)
}

// handleSaveScheduleAPI handles POST /api/admin/revalidate/schedules
func (d *Daemon) handleSaveScheduleAPI(ctx *fasthttp.RequestCtx) {
	var spec types.ScheduleSpec
	if err := json.Unmarshal(ctx.Request.Body(), &spec); err != nil {
		httputil.JSONError(ctx, fmt.Sprintf("invalid json: %s", err.Error()), fasthttp.StatusBadRequest)
		return
	}

	saved, err := d.builder.Save(context.Background(), spec)
	if err != nil {
		if verr, ok := err.(*orchestrate.ValidationError); ok {
			httputil.JSONError(ctx, verr.Error(), fasthttp.StatusBadRequest)
			return
		}
		d.logger.Error("Failed to save schedule", zap.Error(err))
		httputil.JSONError(ctx, "failed to save schedule", fasthttp.StatusInternalServerError)
		return
	}

	httputil.JSONRaw(ctx, saved, fasthttp.StatusOK)
}

// handleListSchedulesAPI handles GET /api/admin/revalidate/schedules
func (d *Daemon) handleListSchedulesAPI(ctx *fasthttp.RequestCtx) {
	specs, err := d.scheduleStore.ListSchedules(context.Background())
	if err != nil {
		d.logger.Error("Failed to list schedules", zap.Error(err))
		httputil.JSONError(ctx, "failed to list schedules", fasthttp.StatusInternalServerError)
		return
	}

	httputil.JSONRaw(ctx, specs, fasthttp.StatusOK)
}

// handleDeleteScheduleAPI handles DELETE /api/admin/revalidate/schedules/{id}
func (d *Daemon) handleDeleteScheduleAPI(ctx *fasthttp.RequestCtx, id string) {
	if id == "" || strings.Contains(id, "/") {
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
		return
	}

	_, found, err := d.scheduleStore.GetSchedule(context.Background(), id)
	if err != nil {
		d.logger.Error("Failed to read schedule",
			zap.String("schedule_id", id),
			zap.Error(err))
		httputil.JSONError(ctx, "failed to read schedule", fasthttp.StatusInternalServerError)
		return
	}
	if !found {
		httputil.JSONError(ctx, fmt.Sprintf("schedule %s not found", id), fasthttp.StatusNotFound)
		return
	}

	if err := d.scheduleStore.DeleteSchedule(context.Background(), id); err != nil {
		d.logger.Error("Failed to delete schedule",
			zap.String("schedule_id", id),
			zap.Error(err))
		httputil.JSONError(ctx, "failed to delete schedule", fasthttp.StatusInternalServerError)
		return
	}

	d.logger.Info("Schedule deleted", zap.String("schedule_id", id))
	httputil.JSONSuccess(ctx, "schedule deleted", fasthttp.StatusOK)
}

// handleStatusAPI handles GET /status
func (d *Daemon) handleStatusAPI(ctx *fasthttp.RequestCtx) {
	reqCtx := context.Background()

	redisConnected := d.redis.Ping(reqCtx) == nil

	historyCount, err := d.redis.ZCard(reqCtx, d.keyGenerator.HistoryIndexKey())
	if err != nil {
		historyCount = -1
	}

	schedules, err := d.scheduleStore.ListSchedules(reqCtx)
	scheduleCount := len(schedules)
	if err != nil {
		scheduleCount = -1
	}

	status := StatusResponse{
		DaemonID:        d.config.DaemonID,
		UptimeSeconds:   int64(time.Since(d.startTime).Seconds()),
		ActiveJobs:      d.runner.ActiveJobs(),
		HistoryEntries:  historyCount,
		Schedules:       scheduleCount,
		SchedulerPaused: d.IsSchedulerPaused(),
		RedisConnected:  redisConnected,
	}
	if last := d.lastTick(); !last.IsZero() {
		status.LastTickTime = last.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	httputil.JSONData(ctx, status, fasthttp.StatusOK)
}

// handleSchedulerPauseAPI handles POST /internal/scheduler/pause
func (d *Daemon) handleSchedulerPauseAPI(ctx *fasthttp.RequestCtx) {
	if !d.config.HTTPApi.SchedulerControlAPI {
		httputil.JSONError(ctx, "scheduler control API disabled", fasthttp.StatusForbidden)
		return
	}
	d.PauseScheduler()
	httputil.JSONSuccess(ctx, "scheduler paused", fasthttp.StatusOK)
}

// handleSchedulerResumeAPI handles POST /internal/scheduler/resume
func (d *Daemon) handleSchedulerResumeAPI(ctx *fasthttp.RequestCtx) {
	if !d.config.HTTPApi.SchedulerControlAPI {
		httputil.JSONError(ctx, "scheduler control API disabled", fasthttp.StatusForbidden)
		return
	}
	d.ResumeScheduler()
	httputil.JSONSuccess(ctx, "scheduler resumed", fasthttp.StatusOK)
}
