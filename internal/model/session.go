// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// SessionState is the lifecycle of a manual override session (§4.10).
type SessionState string

const (
	SessionOpen       SessionState = "open"
	SessionCommitting SessionState = "committing"
	SessionClosed     SessionState = "closed"
)

// FileSelection maps a file inside a selected stream's archive to the leaf
// item it belongs to (used by show-pack commits to assign episodes).
type FileSelection struct {
	ItemID   int64
	FileName string
	FileSize int64
}

// Session holds a user's in-flight manual scrape/choose/download override
// for one item (§4.10). Creating a Session cancels autonomous events for
// ItemID; closing it resumes autonomous scheduling.
type Session struct {
	ID               string
	ItemID           int64
	CreatedAt        time.Time
	ExpiresAt        time.Time
	SelectedStreamID *int64
	SelectedFiles    []FileSelection
	State            SessionState
}

// Expired reports whether the session's TTL has elapsed as of now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
