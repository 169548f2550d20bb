package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing record.
var ErrDuplicate = errors.New("duplicate record")

// Session is one conversation with its own history, watchlist, and document.
type Session struct {
	ID        string
	Persona   string
	CreatedAt time.Time
}

// WatchItem is a saved movie on a session's watchlist. Position preserves
// insertion order and is unique per session.
type WatchItem struct {
	ID              string
	SessionID       string
	Position        int
	Title           string
	TMDBID          int64
	DurationMinutes int
	Genres          string // JSON array of genre names
	Rating          float64
	AddedAt         time.Time
}

// Document records the single indexed document attached to a session.
type Document struct {
	ID         string
	SessionID  string
	Name       string
	PageCount  int
	ChunkCount int
	CreatedAt  time.Time
}

// Turn is one completed user/assistant exchange.
type Turn struct {
	ID        string
	SessionID string
	CreatedAt time.Time
	UserText  string
	ReplyText string
	Persona   string
	ToolTrace string // JSON array of tool invocations
}
