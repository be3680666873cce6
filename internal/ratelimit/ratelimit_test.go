// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowRespectsSecondBucket(t *testing.T) {
	l := New("test", Config{PerSecond: 1, Burst: 1})
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "second call within the same tick should be denied")
}

func TestLimiterAllowStacksAdditionalBuckets(t *testing.T) {
	l := New("test", Config{PerSecond: 100, Burst: 100, PerMinute: 1})
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "per-minute cap of 1 should deny the second call even though the per-second bucket allows it")
}

func TestLimiterWaitReturnsOnCancelledContext(t *testing.T) {
	l := New("test", Config{PerSecond: 0.01, Burst: 1})
	l.Allow() // drain the single burst token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
}

func TestLimiterNameReturnsConstructorArg(t *testing.T) {
	l := New("scraper-backend", Config{PerSecond: 1})
	assert.Equal(t, "scraper-backend", l.Name())
}

func TestLimiterBurstDefaultsFromPerSecond(t *testing.T) {
	l := New("test", Config{PerSecond: 3})
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst should default to floor(PerSecond) when unset")
}

func TestRegistryGetCreatesConservativeDefault(t *testing.T) {
	r := NewRegistry()
	l := r.Get("unconfigured")
	require.NotNil(t, l)
	assert.Equal(t, "unconfigured", l.Name())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestRegistryGetReturnsSameLimiterAcrossCalls(t *testing.T) {
	r := NewRegistry()
	first := r.Get("backend")
	second := r.Get("backend")
	assert.Same(t, first, second)
}

func TestRegistryConfigureOverridesDefault(t *testing.T) {
	r := NewRegistry()
	r.Configure("backend", Config{PerSecond: 10, Burst: 10})
	l := r.Get("backend")
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow())
	}
	assert.False(t, l.Allow())
}

func TestWaitForAppliesDeadline(t *testing.T) {
	r := NewRegistry()
	r.Configure("backend", Config{PerSecond: 0.01, Burst: 1})
	r.Get("backend").Allow() // drain the single burst token

	start := time.Now()
	err := WaitFor(context.Background(), r, "backend", 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, time.Second)
}
