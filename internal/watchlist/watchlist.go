// Package watchlist maintains each session's ordered list of saved movies.
package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/satriobp/kino/internal/storage"
)

var (
	// ErrDuplicateItem is returned when a title is already on the list.
	ErrDuplicateItem = errors.New("title already on watchlist")

	// ErrNotFound is returned when a title is not on the list.
	ErrNotFound = errors.New("title not on watchlist")

	// ErrInvalidImportFormat is returned when an import payload fails
	// validation. The existing list is left untouched.
	ErrInvalidImportFormat = errors.New("invalid import format")
)

// Item is a saved movie. Genres and rating come from the metadata lookup
// at add time and feed scheduling and recommendations later.
type Item struct {
	Title           string   `json:"title"`
	TMDBID          int64    `json:"tmdb_id,omitempty"`
	DurationMinutes int      `json:"duration_minutes"`
	Genres          []string `json:"genres,omitempty"`
	Rating          float64  `json:"rating,omitempty"`
}

// Store exposes watchlist operations on top of the session database.
type Store struct {
	db *storage.Store
}

func NewStore(db *storage.Store) *Store {
	return &Store{db: db}
}

// Add appends item to the session's watchlist, preserving insertion order.
func (s *Store) Add(sessionID string, item Item) (Item, error) {
	if err := validate(item); err != nil {
		return Item{}, err
	}

	rec, err := toRecord(sessionID, item)
	if err != nil {
		return Item{}, err
	}
	saved, err := s.db.InsertWatchItem(rec)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return Item{}, fmt.Errorf("%q: %w", item.Title, ErrDuplicateItem)
		}
		return Item{}, fmt.Errorf("adding %q: %w", item.Title, err)
	}
	return fromRecord(saved)
}

// Remove deletes the item whose title matches case-insensitively.
func (s *Store) Remove(sessionID, title string) error {
	err := s.db.DeleteWatchItemByTitle(sessionID, title)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%q: %w", title, ErrNotFound)
	}
	return err
}

// List returns the session's watchlist in insertion order.
func (s *Store) List(sessionID string) ([]Item, error) {
	records, err := s.db.ListWatchItems(sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing watchlist: %w", err)
	}
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		item, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// exportEnvelope is the interchange format for Export and Import.
type exportEnvelope struct {
	Items []Item `json:"items"`
}

// Export serializes the watchlist for transfer to another session.
func (s *Store) Export(sessionID string) ([]byte, error) {
	items, err := s.List(sessionID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(exportEnvelope{Items: items}, "", "  ")
}

// Import replaces the session's watchlist with the payload's items in one
// transaction. The whole payload is validated first; any invalid record
// rejects the import and leaves the current list unchanged.
func (s *Store) Import(sessionID string, data []byte) (int, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()

	var env exportEnvelope
	if err := dec.Decode(&env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidImportFormat, err)
	}

	seen := make(map[string]bool, len(env.Items))
	records := make([]storage.WatchItem, 0, len(env.Items))
	for i, item := range env.Items {
		if err := validate(item); err != nil {
			return 0, fmt.Errorf("%w: item %d: %v", ErrInvalidImportFormat, i, err)
		}
		key := strings.ToLower(strings.TrimSpace(item.Title))
		if seen[key] {
			return 0, fmt.Errorf("%w: item %d: duplicate title %q", ErrInvalidImportFormat, i, item.Title)
		}
		seen[key] = true

		rec, err := toRecord(sessionID, item)
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}

	if err := s.db.ReplaceWatchItems(sessionID, records); err != nil {
		return 0, fmt.Errorf("replacing watchlist: %w", err)
	}
	return len(records), nil
}

func validate(item Item) error {
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidImportFormat)
	}
	if item.DurationMinutes <= 0 {
		return fmt.Errorf("%w: %q: duration must be positive", ErrInvalidImportFormat, item.Title)
	}
	return nil
}

func toRecord(sessionID string, item Item) (storage.WatchItem, error) {
	genres, err := json.Marshal(item.Genres)
	if err != nil {
		return storage.WatchItem{}, fmt.Errorf("encoding genres: %w", err)
	}
	return storage.WatchItem{
		SessionID:       sessionID,
		Title:           strings.TrimSpace(item.Title),
		TMDBID:          item.TMDBID,
		DurationMinutes: item.DurationMinutes,
		Genres:          string(genres),
		Rating:          item.Rating,
	}, nil
}

func fromRecord(rec storage.WatchItem) (Item, error) {
	var genres []string
	if rec.Genres != "" {
		if err := json.Unmarshal([]byte(rec.Genres), &genres); err != nil {
			return Item{}, fmt.Errorf("decoding genres for %q: %w", rec.Title, err)
		}
	}
	return Item{
		Title:           rec.Title,
		TMDBID:          rec.TMDBID,
		DurationMinutes: rec.DurationMinutes,
		Genres:          genres,
		Rating:          rec.Rating,
	}, nil
}
