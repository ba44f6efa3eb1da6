package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedisURL returns a reachable Redis or skips the test. Set
// TEST_REDIS_URL to run these against a specific server.
func testRedisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := ConnectRedis(ctx, url)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	_ = client.Close()
	return url
}

func TestConnectRedis_InvalidURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not a url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}

func TestRedisStore_CommitFindDelete(t *testing.T) {
	url := testRedisURL(t)
	ctx := context.Background()

	client, err := ConnectRedis(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	token := uuid.NewString()

	_, found, err := store.Find(token)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Commit(token, []byte("data"), time.Now().Add(time.Minute)))

	b, found, err := store.Find(token)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("data"), b)

	require.NoError(t, store.Delete(token))
	_, found, err = store.Find(token)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_CommitExpiredDeletes(t *testing.T) {
	url := testRedisURL(t)
	ctx := context.Background()

	client, err := ConnectRedis(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	token := uuid.NewString()

	require.NoError(t, store.CommitCtx(ctx, token, []byte("data"), time.Now().Add(time.Minute)))
	require.NoError(t, store.CommitCtx(ctx, token, []byte("data"), time.Now().Add(-time.Second)))

	_, found, err := store.FindCtx(ctx, token)
	require.NoError(t, err)
	assert.False(t, found)
}
