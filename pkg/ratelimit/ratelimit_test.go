package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/switchboard-run/switchboard/pkg/ratelimit"
)

func TestLimiterAllowsUpToBurstThenDenies(t *testing.T) {
	l := ratelimit.New(1, 2)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestRegistryReusesLimiterPerKey(t *testing.T) {
	r := ratelimit.NewRegistry(1, 1)
	a := r.For("cartridge-a")
	b := r.For("cartridge-a")
	assert.Same(t, a, b)

	c := r.For("cartridge-b")
	assert.NotSame(t, a, c)
}

func TestBackoffDoublesUntilCap(t *testing.T) {
	noJitter := func() float64 { return 1 }
	assert.Equal(t, 100*time.Millisecond, ratelimit.Backoff(1, 100*time.Millisecond, time.Second, noJitter))
	assert.Equal(t, 200*time.Millisecond, ratelimit.Backoff(2, 100*time.Millisecond, time.Second, noJitter))
	assert.Equal(t, 400*time.Millisecond, ratelimit.Backoff(3, 100*time.Millisecond, time.Second, noJitter))
	assert.Equal(t, time.Second, ratelimit.Backoff(10, 100*time.Millisecond, time.Second, noJitter))
}

func TestBackoffAppliesJitter(t *testing.T) {
	half := func() float64 { return 0.5 }
	assert.Equal(t, 50*time.Millisecond, ratelimit.Backoff(1, 100*time.Millisecond, time.Second, half))
}
