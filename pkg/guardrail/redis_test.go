package guardrail_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/guardrail"
)

// TestRedisCounters_Integration requires a running Redis; skipped otherwise,
// mirroring the teacher's TestRedisLimiterStore_Integration.
func TestRedisCounters_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		t.Skip("skipping redis integration test: redis not available")
	}
	defer func() { _ = client.Close() }()

	counters := guardrail.NewRedisCounters(client)
	now := time.Now()
	key := "itest:" + now.Format(time.RFC3339Nano)

	c1, err := counters.CountSince(ctx, key, now.Add(-time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, 0, c1)

	c2, err := counters.CountSince(ctx, key, now.Add(-time.Minute), now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, c2)

	require.NoError(t, counters.Touch(ctx, key, now))
	last, ok, err := counters.LastTouch(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, now, last, time.Millisecond)

	require.NoError(t, counters.RecordSpend(ctx, key, 25.5, now))
	require.NoError(t, counters.RecordSpend(ctx, key, 10, now.Add(time.Second)))
	total, err := counters.SpendSince(ctx, key, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 35.5, total, 0.001)
}
