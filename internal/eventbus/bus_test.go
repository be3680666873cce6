// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/dispatcher"
	"github.com/riven-go/riven/internal/model"
)

func newTestBus(t *testing.T, clk clock.Clock) *Bus {
	t.Helper()
	cfg := DefaultConfig()
	b, err := New(cfg, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishTransitionDeliversToSubscriber(t *testing.T) {
	clk := clock.NewFake(time.Now())
	b := newTestBus(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx)
	require.NoError(t, err)

	want := dispatcher.TransitionMessage{
		ItemID: 42,
		Kind:   model.KindMovie,
		From:   model.StateDownloaded,
		To:     model.StateSymlinked,
		At:     clk.Now().Unix(),
	}
	require.NoError(t, b.PublishTransition(ctx, want))

	select {
	case got := <-msgs:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition message")
	}
}

func TestPublishTransitionThrottlesRepeatedFailures(t *testing.T) {
	clk := clock.NewFake(time.Now())
	b := newTestBus(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx)
	require.NoError(t, err)

	failing := dispatcher.TransitionMessage{
		ItemID: 7,
		Kind:   model.KindMovie,
		From:   model.StateScraping,
		To:     model.StateScraping,
		At:     clk.Now().Unix(),
		Err:    "no streams found",
	}

	require.NoError(t, b.PublishTransition(ctx, failing))
	select {
	case <-msgs:
	case <-time.After(2 * time.Second):
		t.Fatal("expected first failure to publish")
	}

	require.NoError(t, b.PublishTransition(ctx, failing))

	clk.Advance(16 * time.Minute)
	failing.At = clk.Now().Unix()
	require.NoError(t, b.PublishTransition(ctx, failing))

	select {
	case got := <-msgs:
		assert.Equal(t, failing.At, got.At)
	case <-time.After(2 * time.Second):
		t.Fatal("expected cooldown to lapse and re-deliver")
	}
}

func TestPublishTransitionAlwaysDeliversNonFailures(t *testing.T) {
	clk := clock.NewFake(time.Now())
	b := newTestBus(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx)
	require.NoError(t, err)

	ok := dispatcher.TransitionMessage{ItemID: 1, Kind: model.KindMovie, From: model.StateRequested, To: model.StateIndexed, At: clk.Now().Unix()}
	for i := 0; i < 3; i++ {
		require.NoError(t, b.PublishTransition(ctx, ok))
		select {
		case <-msgs:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected delivery %d", i)
		}
	}
}
