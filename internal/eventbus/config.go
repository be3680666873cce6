// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package eventbus

import "time"

// Config selects and tunes the outbound transition bus (C11, §11). NATS is
// off by default, matching spec.md's in-memory-by-default event table.
type Config struct {
	NATSEnabled bool
	NATSURL     string

	// StreamName is the JetStream stream the transition topic is provisioned
	// under when NATSEnabled is set.
	StreamName string

	// NotificationCooldown implements the §12 supplemented throttling: the
	// same item.failed notification is not re-sent for the same item more
	// often than this.
	NotificationCooldown time.Duration
}

// DefaultConfig returns the in-process default.
func DefaultConfig() Config {
	return Config{
		NATSEnabled:          false,
		NATSURL:              "nats://127.0.0.1:4222",
		StreamName:           "riven-transitions",
		NotificationCooldown: 15 * time.Minute,
	}
}

const transitionTopic = "item.transitions"
