// Package followup reads the queue of unanswered visitor questions that
// the chat bot pushes onto a shared Redis list. This side only consumes:
// entries are listed with their current position and dismissed by it.
package followup

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when the targeted queue position does not
// exist at removal time.
var ErrNotFound = errors.New("no follow-up entry at index")

// Entry is one queued question, produced by the bot and passed through
// unchanged. Index is the entry's position at read time; it is
// recomputed on every listing and only valid for a same-session removal.
type Entry struct {
	Index       int             `json:"index"`
	SenderID    string          `json:"sender_id"`
	Question    string          `json:"question"`
	BotResponse string          `json:"bot_response"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// Gateway is the consumer view of the shared follow-up queue.
type Gateway interface {
	// Available reports whether the shared store currently answers.
	Available(ctx context.Context) bool
	// Count returns the queue depth.
	Count(ctx context.Context) (int64, error)
	// List returns a snapshot of all entries, front of queue first,
	// each tagged with its position.
	List(ctx context.Context) ([]Entry, error)
	// RemoveAt dismisses the entry at the given position. ErrNotFound
	// if the position is outside the queue at removal time.
	RemoveAt(ctx context.Context, index int64) error
	Close() error
}
