package guardrail

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/switchboard-run/switchboard/pkg/errs"
)

// countSinceScript atomically prunes entries older than ARGV[1], records one
// new entry at ARGV[2], and returns the count before the new entry was
// added — the sorted-set analogue of the teacher's redisTokenBucketScript
// (core/pkg/kernel/limiter_redis.go), adapted from token refill to a sliding
// window count.
//
// KEYS[1] = sorted set key
// ARGV[1] = window start (unix micros)
// ARGV[2] = now (unix micros), used as the new member's score and member
//           prefix; an INCR counter suffix keeps members at equal timestamps distinct
var countSinceScript = redis.NewScript(`
local key = KEYS[1]
local since = tonumber(ARGV[1])
local now = tonumber(ARGV[2])

redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. since)
local count = redis.call("ZCARD", key)
redis.call("ZADD", key, now, now .. "-" .. redis.call("INCR", key .. ":seq"))
redis.call("EXPIRE", key, 86400)
redis.call("EXPIRE", key .. ":seq", 86400)
return count
`)

// spendSumScript prunes spend entries older than ARGV[1] and sums the
// remaining amounts, recording nothing (spend is recorded separately via
// RecordSpend so a check can be dry-run without mutating the ledger).
var spendSumScript = redis.NewScript(`
local key = KEYS[1]
local since = tonumber(ARGV[1])
redis.call("ZREMRANGEBYSCORE", key, "-inf", "(" .. since)
local members = redis.call("ZRANGEBYSCORE", key, since, "+inf")
local total = 0
for _, m in ipairs(members) do
	local amount = string.match(m, "^[^:]+:(.+)$")
	total = total + tonumber(amount)
end
return tostring(total)
`)

// RedisCounters is a distributed Counters implementation for multi-instance
// deployments (spec §9 "Global state... external stores must be used when
// running more than one instance so that counters ... are shared"), built
// on sorted sets rather than the teacher's hash-based token bucket because
// sliding-window counting needs per-event timestamps, not a single refill state.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters wraps an existing redis.Client.
func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (r *RedisCounters) CountSince(ctx context.Context, key string, since, now time.Time) (int, error) {
	res, err := countSinceScript.Run(ctx, r.client, []string{"guardrail:count:" + key},
		since.UnixMicro(), now.UnixMicro()).Result()
	if err != nil {
		return 0, errs.Wrap(errs.Transient, err, "redis count-since script")
	}
	n, ok := res.(int64)
	if !ok {
		return 0, errs.New(errs.Fatal, "unexpected redis count-since script response type")
	}
	return int(n), nil
}

func (r *RedisCounters) LastTouch(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, "guardrail:touch:"+key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errs.Wrap(errs.Transient, err, "redis get last touch")
	}
	micros, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, errs.Wrap(errs.Fatal, err, "parsing stored last-touch timestamp")
	}
	return time.UnixMicro(micros), true, nil
}

func (r *RedisCounters) Touch(ctx context.Context, key string, now time.Time) error {
	err := r.client.Set(ctx, "guardrail:touch:"+key, now.UnixMicro(), 30*24*time.Hour).Err()
	if err != nil {
		return errs.Wrap(errs.Transient, err, "redis set last touch")
	}
	return nil
}

func (r *RedisCounters) SpendSince(ctx context.Context, key string, since time.Time) (float64, error) {
	res, err := spendSumScript.Run(ctx, r.client, []string{"guardrail:spend:" + key}, since.UnixMicro()).Result()
	if err != nil {
		return 0, errs.Wrap(errs.Transient, err, "redis spend-sum script")
	}
	s, ok := res.(string)
	if !ok {
		return 0, errs.New(errs.Fatal, "unexpected redis spend-sum script response type")
	}
	total, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errs.Wrap(errs.Fatal, err, "parsing spend-sum script result")
	}
	return total, nil
}

func (r *RedisCounters) RecordSpend(ctx context.Context, key string, amount float64, now time.Time) error {
	member := strconv.FormatInt(now.UnixMicro(), 10) + ":" + strconv.FormatFloat(amount, 'f', -1, 64)
	err := r.client.ZAdd(ctx, "guardrail:spend:"+key, redis.Z{Score: float64(now.UnixMicro()), Member: member}).Err()
	if err != nil {
		return errs.Wrap(errs.Transient, err, "redis record spend")
	}
	r.client.Expire(ctx, "guardrail:spend:"+key, 90*24*time.Hour)
	return nil
}

var _ Counters = (*RedisCounters)(nil)
