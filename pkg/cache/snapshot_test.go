package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis client on localhost.
// Tests are skipped when Redis is not reachable; snapshot_integration_test.go
// covers the same paths against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewSnapshotter_Panic(t *testing.T) {
	assert.Panics(t, func() { NewSnapshotter(nil) })
}

func TestSnapshotter_WithPrefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	s := NewSnapshotter(client)
	p := s.WithPrefix("test:")

	assert.Equal(t, DefaultSnapshotPrefix, s.prefix)
	assert.Equal(t, "test:", p.prefix)
}

func TestSnapshotter_SaveAndRestore(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	s := NewSnapshotter(client)

	src := NewValidatorCache()
	src.PutWithTTL("https://gitlab.com/api/v4/projects?page=1", `"p1"`, time.Hour)
	src.PutWithTTL("https://gitlab.com/api/v4/projects?page=2", `W/"p2"`, 10*time.Minute)

	saved, err := s.Save(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	dst := NewValidatorCache()
	restored, err := s.Restore(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	token, ok := dst.Get("https://gitlab.com/api/v4/projects?page=1")
	require.True(t, ok)
	assert.Equal(t, `"p1"`, token)

	token, ok = dst.Get("https://gitlab.com/api/v4/projects?page=2")
	require.True(t, ok)
	assert.Equal(t, `W/"p2"`, token)

	// Remaining TTL is carried over, not reset to the default
	for _, e := range dst.Entries() {
		assert.LessOrEqual(t, e.Remaining, time.Hour)
	}
}

func TestSnapshotter_Save_Empty(t *testing.T) {
	client := setupTestRedis(t)

	n, err := NewSnapshotter(client).Save(context.Background(), NewValidatorCache())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSnapshotter_Clear(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	s := NewSnapshotter(client)

	src := NewValidatorCache()
	src.Put("a", `"1"`)
	_, err := s.Save(ctx, src)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))

	restored, err := s.Restore(ctx, NewValidatorCache())
	require.NoError(t, err)
	assert.Equal(t, 0, restored)
}
