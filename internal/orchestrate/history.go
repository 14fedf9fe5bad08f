package orchestrate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/driftcms/revalidator/pkg/types"
)

// HistoryWindow restricts history to entries started within a lookback period
type HistoryWindow string

const (
	Window24h HistoryWindow = "24h"
	Window7d  HistoryWindow = "7d"
	Window30d HistoryWindow = "30d"
	WindowAll HistoryWindow = "all"
)

func (w HistoryWindow) lookback() time.Duration {
	switch w {
	case Window24h:
		return 24 * time.Hour
	case Window7d:
		return 7 * 24 * time.Hour
	case Window30d:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// HistoryFilter narrows a history projection. Zero values mean no filtering
// on that axis.
type HistoryFilter struct {
	Window HistoryWindow
	Status types.RunStatus
	Search string
}

// Projection derives read-side views over run history. The clock is
// injectable so window filters are testable.
type Projection struct {
	now func() time.Time
}

// NewProjection creates a projection using the wall clock
func NewProjection() *Projection {
	return &Projection{now: time.Now}
}

// NewProjectionAt creates a projection with a fixed clock
func NewProjectionAt(now func() time.Time) *Projection {
	return &Projection{now: now}
}

// Latest returns the most recently started entry, or false when history is
// empty.
func (p *Projection) Latest(entries []types.HistoryEntry) (types.HistoryEntry, bool) {
	if len(entries) == 0 {
		return types.HistoryEntry{}, false
	}
	latest := entries[0]
	for _, entry := range entries[1:] {
		if entry.StartedAt.After(latest.StartedAt) {
			latest = entry
		}
	}
	return latest, true
}

// CacheHealth aggregates the per-run cache summaries into a single view:
// mean warm pages, mean miss ratio rounded to two decimals, and mean rebuild
// time. Entries without a summary are skipped. Returns false when no entry
// carries a summary.
func (p *Projection) CacheHealth(entries []types.HistoryEntry) (types.CacheSummary, bool) {
	var warmPages, rebuildMs int64
	var missRatio float64
	var count int64

	for _, entry := range entries {
		if entry.CacheSummary == nil {
			continue
		}
		warmPages += int64(entry.CacheSummary.WarmPages)
		missRatio += entry.CacheSummary.MissRatio
		rebuildMs += entry.CacheSummary.AvgRebuildMs
		count++
	}
	if count == 0 {
		return types.CacheSummary{}, false
	}

	return types.CacheSummary{
		WarmPages:    int(warmPages / count),
		MissRatio:    math.Round(missRatio/float64(count)*100) / 100,
		AvgRebuildMs: rebuildMs / count,
	}, true
}

// Filter returns matching entries sorted newest first. The input slice is
// never mutated. The search term matches case-insensitively against who
// triggered the run, the scope, the environment and the run status.
func (p *Projection) Filter(entries []types.HistoryEntry, filter HistoryFilter) []types.HistoryEntry {
	var cutoff time.Time
	if lookback := filter.Window.lookback(); lookback > 0 {
		cutoff = p.now().Add(-lookback)
	}
	needle := strings.ToLower(strings.TrimSpace(filter.Search))

	result := make([]types.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		if !cutoff.IsZero() && entry.StartedAt.Before(cutoff) {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if needle != "" && !entryMatches(entry, needle) {
			continue
		}
		result = append(result, entry)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	return result
}

func entryMatches(entry types.HistoryEntry, needle string) bool {
	fields := []string{
		entry.TriggeredBy,
		string(entry.Scope),
		string(entry.Environment),
		string(entry.Status),
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}
