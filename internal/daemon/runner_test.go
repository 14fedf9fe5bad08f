package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
	"github.com/driftcms/revalidator/internal/common/redis"
	"github.com/driftcms/revalidator/internal/daemon/metrics"
	"github.com/driftcms/revalidator/pkg/types"
)

func testRunnerConfig() configtypes.RunnerConfig {
	return configtypes.RunnerConfig{
		MaxConcurrentJobs: 4,
		WarmConcurrency:   4,
		WarmTimeout:       types.Duration(5 * time.Second),
		JobStatusTTL:      types.Duration(time.Hour),
	}
}

func setupTestRunner(t *testing.T, cfg configtypes.RunnerConfig) (*Runner, *JobStore, *HistoryStore, *redis.Client) {
	client, _ := setupTestRedis(t)
	kg := redis.NewKeyGenerator()
	logger := zap.NewNop()

	jobStore := NewJobStore(client, kg, time.Duration(cfg.JobStatusTTL), logger)
	historyStore := NewHistoryStore(client, kg, 100, configtypes.CompressionNone, logger)
	collector := metrics.NewMetricsCollector("test", logger)

	runner := NewRunner(cfg, client, kg, jobStore, historyStore, collector, logger)
	return runner, jobStore, historyStore, client
}

func seedPages(t *testing.T, client *redis.Client, env types.Environment, routes ...string) {
	t.Helper()
	kg := redis.NewKeyGenerator()
	ctx := context.Background()
	for _, route := range routes {
		require.NoError(t, client.Set(ctx, kg.PageKey(env, route), "<html>", 0))
		require.NoError(t, client.SAdd(ctx, kg.PageIndexKey(env), route))
	}
}

func waitForTerminal(t *testing.T, store *JobStore, jobID string) types.JobStatus {
	t.Helper()
	var status types.JobStatus
	require.Eventually(t, func() bool {
		got, found, err := store.GetStatus(context.Background(), jobID)
		if err != nil || !found {
			return false
		}
		status = got
		return got.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestRunnerInvalidatesSelectedRoutes(t *testing.T) {
	runner, jobStore, historyStore, client := setupTestRunner(t, testRunnerConfig())
	kg := redis.NewKeyGenerator()
	ctx := context.Background()

	seedPages(t, client, types.EnvStaging, "/blog", "/about", "/pricing")

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog", "/about"},
		TriggeredBy: "alice",
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))

	status := waitForTerminal(t, jobStore, "job1")
	assert.Equal(t, types.StepDone, status.Step)
	assert.Equal(t, 100, status.Progress)
	assert.GreaterOrEqual(t, status.DurationMs, int64(0))

	// Targeted entries are gone, the rest survives
	raw, err := client.Get(ctx, kg.PageKey(types.EnvStaging, "/blog"))
	require.NoError(t, err)
	assert.Empty(t, raw)
	raw, err = client.Get(ctx, kg.PageKey(types.EnvStaging, "/pricing"))
	require.NoError(t, err)
	assert.Equal(t, "<html>", raw)

	remaining, err := client.SMembers(ctx, kg.PageIndexKey(types.EnvStaging))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/pricing"}, remaining)

	// The run was recorded
	entries, err := historyStore.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job1", entries[0].JobID)
	assert.Equal(t, types.RunSucceeded, entries[0].Status)
	assert.Equal(t, "alice", entries[0].TriggeredBy)
	assert.Equal(t, 2, entries[0].PagesTouched)
	assert.NotEmpty(t, entries[0].StepTimeline)
}

func TestRunnerRecordsRunningEntryBeforeTerminal(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.StepDelay = types.Duration(100 * time.Millisecond)
	runner, jobStore, historyStore, client := setupTestRunner(t, cfg)
	ctx := context.Background()

	seedPages(t, client, types.EnvStaging, "/blog")

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog"},
		TriggeredBy: "alice",
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))

	// The in-progress run shows up in history before the job finishes
	require.Eventually(t, func() bool {
		entries, err := historyStore.List(ctx, 0)
		return err == nil && len(entries) == 1 && entries[0].Status == types.RunRunning
	}, 2*time.Second, 5*time.Millisecond)

	waitForTerminal(t, jobStore, "job1")

	// The terminal append overwrites the running entry in place
	entries, err := historyStore.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job1", entries[0].JobID)
	assert.Equal(t, types.RunSucceeded, entries[0].Status)
}

func TestRunnerDryRunTouchesNothing(t *testing.T) {
	runner, jobStore, _, client := setupTestRunner(t, testRunnerConfig())
	kg := redis.NewKeyGenerator()
	ctx := context.Background()

	seedPages(t, client, types.EnvStaging, "/blog")

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog"},
		DryRun:      true,
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))

	status := waitForTerminal(t, jobStore, "job1")
	assert.Equal(t, types.StepDone, status.Step)

	raw, err := client.Get(ctx, kg.PageKey(types.EnvStaging, "/blog"))
	require.NoError(t, err)
	assert.Equal(t, "<html>", raw)
}

func TestRunnerResolvesTagScope(t *testing.T) {
	runner, jobStore, historyStore, client := setupTestRunner(t, testRunnerConfig())
	kg := redis.NewKeyGenerator()
	ctx := context.Background()

	seedPages(t, client, types.EnvStaging, "/blog/a", "/blog/b", "/news/c")
	require.NoError(t, client.SAdd(ctx, kg.TagIndexKey(types.EnvStaging, "blog"), "/blog/a", "/blog/b"))
	require.NoError(t, client.SAdd(ctx, kg.TagIndexKey(types.EnvStaging, "featured"), "/blog/a", "/news/c"))

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeTags,
		Tags:        []string{"blog", "featured"},
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))
	waitForTerminal(t, jobStore, "job1")

	// Union of both tags, each route counted once
	entries, err := historyStore.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].PagesTouched)

	raw, err := client.Get(ctx, kg.PageKey(types.EnvStaging, "/blog/a"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestRunnerMediaScope(t *testing.T) {
	runner, jobStore, _, client := setupTestRunner(t, testRunnerConfig())
	kg := redis.NewKeyGenerator()
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, kg.MediaKey(types.EnvStaging, "/img/logo.png"), "bytes", 0))
	require.NoError(t, client.SAdd(ctx, kg.MediaIndexKey(types.EnvStaging), "/img/logo.png"))
	seedPages(t, client, types.EnvStaging, "/blog")

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeMedia,
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))

	status := waitForTerminal(t, jobStore, "job1")
	assert.Equal(t, types.StepDone, status.Step)

	raw, err := client.Get(ctx, kg.MediaKey(types.EnvStaging, "/img/logo.png"))
	require.NoError(t, err)
	assert.Empty(t, raw)

	// Page cache untouched by a media-only job
	raw, err = client.Get(ctx, kg.PageKey(types.EnvStaging, "/blog"))
	require.NoError(t, err)
	assert.Equal(t, "<html>", raw)
}

func TestRunnerWarmBuildsCacheSummary(t *testing.T) {
	var mu sync.Mutex
	fetched := make(map[string]int)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetched[r.URL.Path]++
		mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	cfg := testRunnerConfig()
	cfg.WarmBaseURL = origin.URL
	runner, jobStore, historyStore, client := setupTestRunner(t, cfg)
	ctx := context.Background()

	seedPages(t, client, types.EnvStaging, "/blog", "/about", "/broken/page")

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog", "/about", "/broken/page"},
		Warm:        true,
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))
	waitForTerminal(t, jobStore, "job1")

	mu.Lock()
	assert.Equal(t, 1, fetched["/blog"])
	assert.Equal(t, 1, fetched["/about"])
	assert.Equal(t, 1, fetched["/broken/page"])
	mu.Unlock()

	entries, err := historyStore.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].CacheSummary)
	assert.Equal(t, 2, entries[0].CacheSummary.WarmPages)
	assert.InDelta(t, 1.0/3.0, entries[0].CacheSummary.MissRatio, 0.001)

	// Warmed routes land back in the page index
	kg := redis.NewKeyGenerator()
	members, err := client.SMembers(ctx, kg.PageIndexKey(types.EnvStaging))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/blog", "/about", "/broken/page"}, members)
}

func TestRunnerCDNPurgeFailureFailsJob(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "purge backend down", http.StatusBadGateway)
	}))
	defer cdn.Close()

	cfg := testRunnerConfig()
	cfg.CDNPurgeURL = cdn.URL
	runner, jobStore, historyStore, client := setupTestRunner(t, cfg)
	ctx := context.Background()

	seedPages(t, client, types.EnvStaging, "/blog")

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog"},
		PurgeCDN:    true,
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))

	status := waitForTerminal(t, jobStore, "job1")
	assert.Equal(t, types.StepFailed, status.Step)
	assert.Contains(t, status.Message, "cdn purge returned status 502")

	// The failed run is still recorded
	entries, err := historyStore.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.RunFailed, entries[0].Status)

	// Invalidation never ran
	kg := redis.NewKeyGenerator()
	raw, err := client.Get(ctx, kg.PageKey(types.EnvStaging, "/blog"))
	require.NoError(t, err)
	assert.Equal(t, "<html>", raw)
}

func TestRunnerConcurrencyLimit(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.StepDelay = types.Duration(200 * time.Millisecond)
	runner, jobStore, _, _ := setupTestRunner(t, cfg)
	ctx := context.Background()

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog"},
	}

	require.NoError(t, runner.Launch(ctx, "job1", request))

	err := runner.Launch(ctx, "job2", request)
	assert.ErrorIs(t, err, ErrTooManyJobs)

	// Once the first job finishes the slot frees up
	waitForTerminal(t, jobStore, "job1")
	assert.Eventually(t, func() bool {
		return runner.Launch(ctx, "job2", request) == nil
	}, 2*time.Second, 20*time.Millisecond)
	waitForTerminal(t, jobStore, "job2")
}

func TestRunnerInitialStatusVisibleImmediately(t *testing.T) {
	cfg := testRunnerConfig()
	cfg.StepDelay = types.Duration(100 * time.Millisecond)
	runner, jobStore, _, _ := setupTestRunner(t, cfg)
	ctx := context.Background()

	request := types.RevalidationRequest{
		Environment: types.EnvStaging,
		Scope:       types.ScopeRoutes,
		Routes:      []string{"/blog"},
	}
	require.NoError(t, runner.Launch(ctx, "job1", request))

	_, found, err := jobStore.GetStatus(ctx, "job1")
	require.NoError(t, err)
	assert.True(t, found)

	waitForTerminal(t, jobStore, "job1")
}
