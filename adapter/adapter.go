// Package adapter publishes notifications about saved files.
//
// Adapters are optional post-save hooks. A failed publish is reported to the
// caller but never changes the outcome of the save itself.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventTypeFileSaved is the event_type of every FileSavedEvent.
const EventTypeFileSaved = "file_saved"

// FileSavedEvent is the payload published after a file is written.
type FileSavedEvent struct {
	EventType  string `json:"event_type"` // always "file_saved"
	EventID    string `json:"event_id"`
	AppVersion string `json:"app_version"`
	MessageID  int    `json:"message_id"`
	ChatID     int64  `json:"chat_id"`
	SenderID   int64  `json:"sender_id"`
	Origin     string `json:"origin"` // photo, document or text
	Source     string `json:"source"` // remote path or URL
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Checksum   string `json:"checksum"` // hex SHA-256
	MirrorPath string `json:"mirror_path,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC 3339
	DurationMs int64  `json:"duration_ms"`
}

// NewFileSavedEvent returns an event with type, id and timestamp filled in.
func NewFileSavedEvent(now time.Time) *FileSavedEvent {
	return &FileSavedEvent{
		EventType: EventTypeFileSaved,
		EventID:   uuid.NewString(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes file_saved events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *FileSavedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the delay before retry attempt i (1-based):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	if i < 1 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx is done or permanent reports true.
func Retry(ctx context.Context, retries int, fn func(context.Context) error, permanent func(error) bool) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
