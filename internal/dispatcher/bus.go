// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatcher

import (
	"context"

	"github.com/riven-go/riven/internal/model"
)

// TransitionMessage is published on the outbound Event Bus (§4.5, §11)
// after every committed transition, regardless of outcome kind.
type TransitionMessage struct {
	ItemID    int64
	Kind      model.Kind
	From      model.State
	To        model.State
	At        int64 // unix seconds, stable across transport encodings
	Attempt   int
	Err       string // empty unless the transition represents a failure/retry
}

// Bus is the outbound publish seam the Dispatcher depends on (§4.5 "publishes
// a transition message on the outbound Event Bus"). The concrete
// Watermill/NATS-backed implementation lives in package eventbus; Bus is
// declared here, not there, so the Dispatcher never imports a transport.
type Bus interface {
	PublishTransition(ctx context.Context, msg TransitionMessage) error
}

// NopBus discards every message. Used where no bus is configured (§1
// "Event Bus consumers are out of scope" does not mean publish is optional,
// but a deployment with nothing subscribed should not fail transactions).
type NopBus struct{}

func (NopBus) PublishTransition(context.Context, TransitionMessage) error { return nil }
