// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/riven-go/riven/internal/model"
)

// Symlinker creates a symlink under the library root pointing at a file
// already visible in the debrid mount, returning the created path.
// Concrete path templating (§6) and mount filesystem access are backend
// concerns, out of scope here; this handler only sequences the bounded
// retry around them.
type Symlinker interface {
	Link(ctx context.Context, item *model.MediaItem) (path string, err error)
}

// symlinkRetryDelays is the increasing-delay schedule for up to 6 attempts
// while the source file has not yet appeared in the mount (§4.6).
var symlinkRetryDelays = []time.Duration{
	5 * time.Second, 10 * time.Second, 30 * time.Second,
	time.Minute, 2 * time.Minute, 5 * time.Minute,
}

// HandleSymlink implements the Symlinker row of §4.6. attempt is the number
// of prior tries this cycle (0 on first try), carried by the Dispatcher via
// the item's failed_attempts counter so a restart resumes the same backoff.
func (h *Handlers) HandleSymlink(ctx context.Context, item *model.MediaItem, linker Symlinker, attempt int, now time.Time) model.Outcome {
	path, err := linker.Link(ctx, item)
	if err == nil {
		return model.Outcome{
			Kind:      model.OutcomeAdvance,
			NextState: model.StateSymlinked,
			Attributes: map[string]any{
				"symlink_path":    path,
				"failed_attempts": 0,
			},
		}
	}

	if attempt+1 >= len(symlinkRetryDelays) {
		return model.Outcome{Kind: model.OutcomeFail, Err: fmt.Errorf("symlink: source file not visible after %d attempts: %w", attempt+1, err)}
	}

	return model.Outcome{
		Kind:  model.OutcomeRetry,
		RunAt: now.Add(symlinkRetryDelays[attempt]),
		Attributes: map[string]any{
			"failed_attempts": attempt + 1,
		},
		Err: err,
	}
}
