// Package turns implements the Turn Queue + Worker Pool (spec.md §4.6,
// component C6): a bounded non-blocking FIFO of accepted turns drained by
// a fixed worker count, each invoking the Turn Engine. Adapted from the
// teacher's internal/gateway/server.go client registry + graceful
// shutdown shape and internal/agent/loop.go's activeRuns cooperative
// cancellation idiom.
package turns

import "time"

// Status is a Turn's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Attachment mirrors codial.Attachment on the wire into a Turn; kept as a
// thin alias point so internal/turns doesn't need to import pkg/codial
// for anything beyond this shape. The richer codial.Attachment lives in
// pkg/codial.
type Attachment struct {
	AttachmentID string
	Filename     string
	ContentType  string
	Size         int64
	URL          string
	LocalPath    string
}

// Turn is one user request -> agent response cycle inside a session
// (spec.md §3).
type Turn struct {
	TurnID         string
	SessionID      string
	UserID         string
	ChannelID      string
	Text           string
	Attachments    []Attachment
	IdempotencyKey string
	TraceID        string

	Status    Status
	StartedAt *time.Time
	EndedAt   *time.Time
	Err       error
}
