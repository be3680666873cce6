// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventbus

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/dispatcher"
	"github.com/riven-go/riven/internal/model"
)

// startEmbeddedNATS runs a throwaway JetStream-enabled NATS server for the
// duration of one test, mirroring the teacher's embedded-server helper but
// without the build tag: this bus always ships both transports (package comment
// in bus.go).
func startEmbeddedNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random free port
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "embedded NATS server did not become ready")
	t.Cleanup(ns.Shutdown)

	return ns.ClientURL()
}

func TestNATSTransportDeliversTransitionToSubscriber(t *testing.T) {
	url := startEmbeddedNATS(t)
	clk := clock.NewFake(time.Now())

	b, err := New(Config{
		NATSEnabled:          true,
		NATSURL:              url,
		StreamName:           "riven-transitions-test",
		NotificationCooldown: 15 * time.Minute,
	}, clk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := b.Subscribe(ctx)
	require.NoError(t, err)

	want := dispatcher.TransitionMessage{
		ItemID: 99,
		Kind:   model.KindMovie,
		From:   model.StateDownloaded,
		To:     model.StateSymlinked,
		At:     clk.Now().Unix(),
	}
	require.NoError(t, b.PublishTransition(ctx, want))

	select {
	case got := <-msgs:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for NATS-delivered transition message")
	}
}
