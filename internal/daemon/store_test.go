package daemon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
	"github.com/driftcms/revalidator/internal/common/redis"
	"github.com/driftcms/revalidator/pkg/types"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&configtypes.RedisConfig{
		Addr: mr.Addr(),
	}, zap.NewNop())
	require.NoError(t, err)

	return client, mr
}

func TestJobStoreRoundTrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewJobStore(client, redis.NewKeyGenerator(), time.Hour, zap.NewNop())
	ctx := context.Background()

	status := types.JobStatus{Step: types.StepInvalidate, Progress: 55, Message: "invalidated 12 entries"}
	require.NoError(t, store.SetStatus(ctx, "abc123", status))

	got, found, err := store.GetStatus(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, status, got)
}

func TestJobStoreUnknownJob(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewJobStore(client, redis.NewKeyGenerator(), time.Hour, zap.NewNop())

	_, found, err := store.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJobStoreStatusExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewJobStore(client, redis.NewKeyGenerator(), time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetStatus(ctx, "abc123", types.JobStatus{Step: types.StepDone, Progress: 100}))

	mr.FastForward(2 * time.Minute)

	_, found, err := store.GetStatus(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func historyEntry(jobID string, startedAt time.Time) types.HistoryEntry {
	return types.HistoryEntry{
		JobID:       jobID,
		Environment: types.EnvStaging,
		Scope:       types.ScopeAll,
		Status:      types.RunSucceeded,
		TriggeredBy: "alice",
		StartedAt:   startedAt,
		DurationMs:  4200,
		Logs:        []string{"resolved 12 targets"},
	}
}

func TestHistoryStoreAppendAndList(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewHistoryStore(client, redis.NewKeyGenerator(), 100, configtypes.CompressionSnappy, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, historyEntry("job1", base)))
	require.NoError(t, store.Append(ctx, historyEntry("job2", base.Add(time.Minute))))
	require.NoError(t, store.Append(ctx, historyEntry("job3", base.Add(2*time.Minute))))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first
	assert.Equal(t, "job3", entries[0].JobID)
	assert.Equal(t, "job2", entries[1].JobID)
	assert.Equal(t, "job1", entries[2].JobID)

	assert.Equal(t, "alice", entries[0].TriggeredBy)
	assert.Equal(t, []string{"resolved 12 targets"}, entries[0].Logs)
}

func TestHistoryStoreListLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewHistoryStore(client, redis.NewKeyGenerator(), 100, configtypes.CompressionNone, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, historyEntry(fmt.Sprintf("job%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	entries, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "job4", entries[0].JobID)
	assert.Equal(t, "job3", entries[1].JobID)
}

func TestHistoryStoreTrimsOldestBeyondLimit(t *testing.T) {
	client, _ := setupTestRedis(t)
	kg := redis.NewKeyGenerator()
	store := NewHistoryStore(client, kg, 3, configtypes.CompressionLZ4, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, historyEntry(fmt.Sprintf("job%d", i), base.Add(time.Duration(i)*time.Minute))))
	}

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "job4", entries[0].JobID)
	assert.Equal(t, "job2", entries[2].JobID)

	// Trimmed blobs are deleted, not just de-indexed
	raw, err := client.Get(ctx, kg.HistoryEntryKey("job0"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func scheduleFixture(id string) types.ScheduleSpec {
	return types.ScheduleSpec{
		ID:          id,
		Environment: types.EnvStaging,
		Scope:       types.ScopeAll,
		Recurrence:  types.RecurrenceDaily,
		StartTime:   time.Date(2026, 9, 2, 3, 0, 0, 0, time.UTC),
	}
}

func TestScheduleStoreCRUD(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewScheduleStore(client, redis.NewKeyGenerator(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SaveSchedule(ctx, scheduleFixture("nightly")))
	require.NoError(t, store.SaveSchedule(ctx, scheduleFixture("weekly")))

	spec, found, err := store.GetSchedule(ctx, "nightly")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.RecurrenceDaily, spec.Recurrence)

	specs, err := store.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	require.NoError(t, store.DeleteSchedule(ctx, "nightly"))
	_, found, err = store.GetSchedule(ctx, "nightly")
	require.NoError(t, err)
	assert.False(t, found)

	specs, err = store.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, specs, 1)
}

func TestScheduleStoreRejectsMissingID(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewScheduleStore(client, redis.NewKeyGenerator(), zap.NewNop())

	spec := scheduleFixture("")
	err := store.SaveSchedule(context.Background(), spec)
	assert.Error(t, err)
}

func TestScheduleStoreSaveReplaces(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewScheduleStore(client, redis.NewKeyGenerator(), zap.NewNop())
	ctx := context.Background()

	spec := scheduleFixture("nightly")
	require.NoError(t, store.SaveSchedule(ctx, spec))

	spec.Recurrence = types.RecurrenceWeekly
	require.NoError(t, store.SaveSchedule(ctx, spec))

	got, found, err := store.GetSchedule(ctx, "nightly")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.RecurrenceWeekly, got.Recurrence)
}
