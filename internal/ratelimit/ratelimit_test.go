package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBucketCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewRedisBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed, "third request exceeds capacity")

	// Other clients have their own budget.
	allowed, _, err = bucket.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Note: refill cannot be exercised against miniredis because the script
	// receives time from Go, not from Redis's clock.
}

func TestLocalBucketCapacityAndRefill(t *testing.T) {
	ctx := context.Background()
	bucket := NewLocalBucket(2, 1)

	clock := time.Unix(1700000000, 0)
	bucket.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		allowed, _, err := bucket.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _, err := bucket.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, allowed)

	// One second refills one token.
	clock = clock.Add(time.Second)
	allowed, tokens, err := bucket.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Less(t, tokens, 1.0)
}
