package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
	"github.com/driftcms/revalidator/pkg/types"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&configtypes.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClient(t *testing.T) {
	logger := zap.NewNop()

	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis config is required")
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewClient(&configtypes.RedisConfig{Addr: "localhost:6379"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("unreachable address", func(t *testing.T) {
		_, err := NewClient(&configtypes.RedisConfig{Addr: "invalid:99999"}, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestClientOperations(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing key returns empty", func(t *testing.T) {
		client, _ := setupTestClient(t)
		val, err := client.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, "", val)
	})

	t.Run("set get del roundtrip", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.Set(ctx, "k", "v", time.Minute))

		val, err := client.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", val)

		require.NoError(t, client.Del(ctx, "k"))
		val, err = client.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "", val)
	})

	t.Run("set membership", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.SAdd(ctx, "s", "a", "b"))

		ok, err := client.SIsMember(ctx, "s", "a")
		require.NoError(t, err)
		assert.True(t, ok)

		members, err := client.SMembers(ctx, "s")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, members)

		require.NoError(t, client.SRem(ctx, "s", "a"))
		ok, err = client.SIsMember(ctx, "s", "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("hash operations", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.HSet(ctx, "h", "f1", "v1"))
		require.NoError(t, client.HSet(ctx, "h", "f2", "v2"))

		val, err := client.HGet(ctx, "h", "f1")
		require.NoError(t, err)
		assert.Equal(t, "v1", val)

		val, err = client.HGet(ctx, "h", "absent")
		require.NoError(t, err)
		assert.Equal(t, "", val)

		all, err := client.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, client.HDel(ctx, "h", "f1"))
		all, err = client.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("sorted set ordering", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.ZAdd(ctx, "z", 1, "oldest"))
		require.NoError(t, client.ZAdd(ctx, "z", 3, "newest"))
		require.NoError(t, client.ZAdd(ctx, "z", 2, "middle"))

		count, err := client.ZCard(ctx, "z")
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		members, err := client.ZRevRange(ctx, "z", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"newest", "middle", "oldest"}, members)

		popped, err := client.ZPopMin(ctx, "z", 1)
		require.NoError(t, err)
		require.Len(t, popped, 1)
		assert.Equal(t, "oldest", popped[0].Member)
	})
}

func TestKeyGenerator(t *testing.T) {
	kg := NewKeyGenerator()

	assert.Equal(t, "job:abc123", kg.JobStatusKey("abc123"))
	assert.Equal(t, "history:runs", kg.HistoryIndexKey())
	assert.Equal(t, "history:run:abc123", kg.HistoryEntryKey("abc123"))
	assert.Equal(t, "schedules", kg.ScheduleHashKey())
	assert.Equal(t, "pages:staging", kg.PageIndexKey(types.EnvStaging))
	assert.Equal(t, "tag:production:news", kg.TagIndexKey(types.EnvProduction, "news"))
	assert.Equal(t, "media:staging", kg.MediaIndexKey(types.EnvStaging))

	// Same route hashes to the same key; different routes differ
	k1 := kg.PageKey(types.EnvStaging, "/blog/post-1")
	k2 := kg.PageKey(types.EnvStaging, "/blog/post-1")
	k3 := kg.PageKey(types.EnvStaging, "/blog/post-2")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Contains(t, k1, "page:staging:")
}
