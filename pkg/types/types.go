// Package types defines the shared domain types for the revalidation service:
// revalidation requests, job status snapshots, schedule specifications and
// history entries exchanged between the daemon and its clients.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Environment identifies the deployment target a revalidation job runs against
type Environment string

const (
	EnvStaging    Environment = "staging"
	EnvProduction Environment = "production"
)

// Valid returns true if the environment is a known value
func (e Environment) Valid() bool {
	return e == EnvStaging || e == EnvProduction
}

// Scope identifies the breadth of content a revalidation job targets
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeRoutes Scope = "routes"
	ScopeTags   Scope = "tags"
	ScopeMedia  Scope = "media"
)

// Valid returns true if the scope is a known value
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeRoutes, ScopeTags, ScopeMedia:
		return true
	default:
		return false
	}
}

// Label returns the human-readable scope label used in notifications
func (s Scope) Label() string {
	switch s {
	case ScopeAll:
		return "All content"
	case ScopeRoutes:
		return "Selected routes"
	case ScopeTags:
		return "Selected tags"
	case ScopeMedia:
		return "Media cache"
	default:
		return string(s)
	}
}

// RevalidationRequest describes one revalidation job to be created.
// Routes/Tags must be non-empty when their scope is selected and are expected
// to be trimmed and de-duplicated before submission (see Normalize).
type RevalidationRequest struct {
	Environment Environment `json:"environment"`
	Scope       Scope       `json:"scope"`
	Routes      []string    `json:"routes,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	DryRun      bool        `json:"dryRun"`
	PurgeCDN    bool        `json:"purgeCdn"`
	Warm        bool        `json:"warm"`
	TriggeredBy string      `json:"triggeredBy,omitempty"`
}

// Normalize trims whitespace and drops empty and duplicate entries from the
// route and tag lists, preserving first-seen order. Lists for unselected
// scopes are cleared.
func (r *RevalidationRequest) Normalize() {
	if r.Scope == ScopeRoutes {
		r.Routes = NormalizeList(r.Routes)
	} else {
		r.Routes = nil
	}
	if r.Scope == ScopeTags {
		r.Tags = NormalizeList(r.Tags)
	} else {
		r.Tags = nil
	}
}

// Validate checks the business invariants of the request. Callers should
// Normalize first; Validate treats whitespace-only entries as empty either way.
func (r *RevalidationRequest) Validate() error {
	if !r.Environment.Valid() {
		return fmt.Errorf("environment must be 'staging' or 'production', got %q", r.Environment)
	}
	if !r.Scope.Valid() {
		return fmt.Errorf("scope must be one of all, routes, tags, media, got %q", r.Scope)
	}
	if r.Scope == ScopeRoutes && len(NormalizeList(r.Routes)) == 0 {
		return fmt.Errorf("routes cannot be empty when scope is 'routes'")
	}
	if r.Scope == ScopeTags && len(NormalizeList(r.Tags)) == 0 {
		return fmt.Errorf("tags cannot be empty when scope is 'tags'")
	}
	return nil
}

// NormalizeList trims whitespace and drops empty or duplicate entries,
// preserving first-seen order.
func NormalizeList(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}

// JobHandle identifies a created revalidation job. Immutable; its lifetime is
// bounded by the polling session that observes the job.
type JobHandle struct {
	JobID string `json:"jobId"`
}

// Step is a phase label within a running revalidation job. Only StepDone and
// StepFailed are semantically special to clients; intermediate values are
// treated as opaque progress markers.
type Step string

const (
	StepKickoff    Step = "kickoff"
	StepPurgeCDN   Step = "purge-cdn"
	StepInvalidate Step = "invalidate"
	StepWarm       Step = "warm"
	StepFinalize   Step = "finalize"
	StepDone       Step = "done"
	StepFailed     Step = "failed"
)

// JobStatus is a server-reported snapshot of a job's progress. Clients only
// read snapshots; they never compute progress themselves.
type JobStatus struct {
	Step       Step   `json:"step"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// Terminal returns true when no further progress is expected from the job
func (s JobStatus) Terminal() bool {
	return s.Step == StepDone || s.Step == StepFailed || s.Progress >= 100
}

// Failed returns true when the job ended in the failed state
func (s JobStatus) Failed() bool {
	return s.Step == StepFailed
}

// Recurrence describes how often a scheduled revalidation runs
type Recurrence string

const (
	RecurrenceOneOff Recurrence = "one-off"
	RecurrenceHourly Recurrence = "hourly"
	RecurrenceDaily  Recurrence = "daily"
	RecurrenceWeekly Recurrence = "weekly"
	RecurrenceCron   Recurrence = "cron"
)

// Valid returns true if the recurrence is a known value
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceOneOff, RecurrenceHourly, RecurrenceDaily, RecurrenceWeekly, RecurrenceCron:
		return true
	default:
		return false
	}
}

// Interval returns the fixed interval for hourly/daily/weekly recurrences.
// One-off and cron recurrences have no fixed interval and return 0.
func (r Recurrence) Interval() time.Duration {
	switch r {
	case RecurrenceHourly:
		return time.Hour
	case RecurrenceDaily:
		return 24 * time.Hour
	case RecurrenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ScheduleSpec describes a deferred or recurring revalidation job.
// Invariants: StartTime is required; Cron is present and non-empty iff
// Recurrence is cron; production schedules require an explicit approval policy.
type ScheduleSpec struct {
	ID           string      `json:"id,omitempty"`
	Environment  Environment `json:"environment"`
	Scope        Scope       `json:"scope"`
	Routes       []string    `json:"routes,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
	Recurrence   Recurrence  `json:"recurrence"`
	Cron         string      `json:"cron,omitempty"`
	StartTime    time.Time   `json:"startTime"`
	EndTime      *time.Time  `json:"endTime,omitempty"`
	WarmCritical bool        `json:"warmCritical"`
	PurgeCDN     bool        `json:"purgeCdn"`
}

// Request converts the schedule into the revalidation request it triggers
func (s ScheduleSpec) Request(triggeredBy string) RevalidationRequest {
	req := RevalidationRequest{
		Environment: s.Environment,
		Scope:       s.Scope,
		Routes:      append([]string(nil), s.Routes...),
		Tags:        append([]string(nil), s.Tags...),
		PurgeCDN:    s.PurgeCDN,
		Warm:        s.WarmCritical,
		TriggeredBy: triggeredBy,
	}
	req.Normalize()
	return req
}

// RunStatus is the lifecycle state recorded for a history entry
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StepTiming records how long a single step of a run took
type StepTiming struct {
	Step       Step  `json:"step"`
	DurationMs int64 `json:"durationMs"`
	Completed  bool  `json:"completed"`
}

// CacheSummary aggregates cache-health figures produced by a warm pass
type CacheSummary struct {
	WarmPages    int     `json:"warmPages"`
	MissRatio    float64 `json:"missRatio"`
	AvgRebuildMs int64   `json:"avgRebuildMs"`
}

// HistoryEntry is an immutable record of a completed or in-progress job run.
// Clients only filter, sort and aggregate these; they never mutate them.
type HistoryEntry struct {
	JobID        string       `json:"jobId"`
	Environment  Environment  `json:"env"`
	Scope        Scope        `json:"scope"`
	Status       RunStatus    `json:"status"`
	TriggeredBy  string       `json:"triggeredBy"`
	StartedAt    time.Time    `json:"startedAt"`
	DurationMs   int64        `json:"durationMs"`
	PagesTouched int          `json:"pagesTouched"`
	StepTimeline []StepTiming `json:"stepTimeline,omitempty"`
	Logs         []string     `json:"logs,omitempty"`
	CacheSummary *CacheSummary `json:"cacheSummary,omitempty"`
}
