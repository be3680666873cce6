// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventbus

import (
	"github.com/goccy/go-json"

	"github.com/riven-go/riven/internal/dispatcher"
	"github.com/riven-go/riven/internal/model"
)

// wireTransition is the JSON wire shape for dispatcher.TransitionMessage.
// Kept distinct from the domain type so a future wire-format change never
// has to touch dispatcher.
type wireTransition struct {
	ItemID  int64  `json:"item_id"`
	Kind    string `json:"kind"`
	From    string `json:"from"`
	To      string `json:"to"`
	At      int64  `json:"at"`
	Attempt int    `json:"attempt"`
	Err     string `json:"err,omitempty"`
}

func marshalTransition(msg dispatcher.TransitionMessage) ([]byte, error) {
	return json.Marshal(wireTransition{
		ItemID:  msg.ItemID,
		Kind:    string(msg.Kind),
		From:    string(msg.From),
		To:      string(msg.To),
		At:      msg.At,
		Attempt: msg.Attempt,
		Err:     msg.Err,
	})
}

func unmarshalTransition(data []byte) (dispatcher.TransitionMessage, error) {
	var w wireTransition
	if err := json.Unmarshal(data, &w); err != nil {
		return dispatcher.TransitionMessage{}, err
	}
	return dispatcher.TransitionMessage{
		ItemID:  w.ItemID,
		Kind:    model.Kind(w.Kind),
		From:    model.State(w.From),
		To:      model.State(w.To),
		At:      w.At,
		Attempt: w.Attempt,
		Err:     w.Err,
	}, nil
}
