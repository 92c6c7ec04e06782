// Package events announces catalog changes to interested subscribers.
//
// Handlers publish after a write has been committed to the datastore. A
// failed publish is reported to the caller for logging only; it never undoes
// or masks the write.
package events

import (
	"context"
	"time"

	"song-catalog/internal/models"
)

// Type names a catalog change.
type Type string

const (
	SongCreated Type = "song.created"
	SongUpdated Type = "song.updated"
	SongDeleted Type = "song.deleted"
)

// Event describes a single committed change. Song is omitted for deletions.
type Event struct {
	Type       Type         `json:"type"`
	SongID     string       `json:"songId"`
	Song       *models.Song `json:"song,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// New stamps an event with the current UTC time.
func New(kind Type, songID string, song *models.Song) Event {
	return Event{Type: kind, SongID: songID, Song: song, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events to a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
