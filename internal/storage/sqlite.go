package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for sessions, watchlists,
// documents, and turn history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "kino.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	// Cascade deletes rely on foreign key enforcement.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for components that share the
// database file (the vector store keeps its chunks alongside documents).
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Sessions ---

func (s *Store) CreateSession(sess Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO sessions (id, persona, created_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Persona, sess.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrDuplicate
	}
	return err
}

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var createdAt string
	err := s.db.QueryRow(`SELECT id, persona, created_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Persona, &createdAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	sess.CreatedAt = t
	return sess, nil
}

func (s *Store) UpdateSessionPersona(id, persona string) error {
	res, err := s.db.Exec(`UPDATE sessions SET persona = ? WHERE id = ?`, persona, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSession removes a session and everything attached to it.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Watchlist ---

// ListWatchItems returns a session's watchlist in insertion order.
func (s *Store) ListWatchItems(sessionID string) ([]WatchItem, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, position, title, tmdb_id, duration_minutes, genres, rating, added_at
		FROM watch_items WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []WatchItem
	for rows.Next() {
		item, err := scanWatchItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchItem(row rowScanner) (WatchItem, error) {
	var item WatchItem
	var addedAt string
	if err := row.Scan(&item.ID, &item.SessionID, &item.Position, &item.Title, &item.TMDBID,
		&item.DurationMinutes, &item.Genres, &item.Rating, &addedAt); err != nil {
		return WatchItem{}, err
	}
	t, err := time.Parse(time.RFC3339, addedAt)
	if err != nil {
		return WatchItem{}, fmt.Errorf("parsing added_at: %w", err)
	}
	item.AddedAt = t
	return item, nil
}

// InsertWatchItem appends an item to the end of the session's watchlist.
// Returns ErrDuplicate when the title (case-insensitive) or TMDB id is
// already on the list.
func (s *Store) InsertWatchItem(item WatchItem) (WatchItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return WatchItem{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var dupes int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM watch_items
		WHERE session_id = ? AND (lower(title) = lower(?) OR (tmdb_id != 0 AND tmdb_id = ?))`,
		item.SessionID, item.Title, item.TMDBID,
	).Scan(&dupes)
	if err != nil {
		return WatchItem{}, err
	}
	if dupes > 0 {
		return WatchItem{}, ErrDuplicate
	}

	var maxPos sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM watch_items WHERE session_id = ?`, item.SessionID).Scan(&maxPos); err != nil {
		return WatchItem{}, err
	}
	item.Position = int(maxPos.Int64) + 1

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	if item.Genres == "" {
		item.Genres = "[]"
	}

	_, err = tx.Exec(`
		INSERT INTO watch_items (id, session_id, position, title, tmdb_id, duration_minutes, genres, rating, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.SessionID, item.Position, item.Title, item.TMDBID,
		item.DurationMinutes, item.Genres, item.Rating, item.AddedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return WatchItem{}, err
	}

	if err := tx.Commit(); err != nil {
		return WatchItem{}, fmt.Errorf("committing insert: %w", err)
	}
	return item, nil
}

// DeleteWatchItemByTitle removes the item matching title case-insensitively.
func (s *Store) DeleteWatchItemByTitle(sessionID, title string) error {
	res, err := s.db.Exec(`DELETE FROM watch_items WHERE session_id = ? AND lower(title) = lower(?)`, sessionID, title)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceWatchItems swaps the session's entire watchlist in one transaction.
// Positions are assigned from slice order.
func (s *Store) ReplaceWatchItems(sessionID string, items []WatchItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watch_items WHERE session_id = ?`, sessionID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		genres := item.Genres
		if genres == "" {
			genres = "[]"
		}
		addedAt := now
		if !item.AddedAt.IsZero() {
			addedAt = item.AddedAt.UTC().Format(time.RFC3339)
		}
		if _, err := tx.Exec(`
			INSERT INTO watch_items (id, session_id, position, title, tmdb_id, duration_minutes, genres, rating, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sessionID, i+1, item.Title, item.TMDBID, item.DurationMinutes, genres, item.Rating, addedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- Documents ---

// GetDocumentBySession returns the document indexed for a session, if any.
func (s *Store) GetDocumentBySession(sessionID string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, session_id, name, page_count, chunk_count, created_at
		FROM documents WHERE session_id = ?`, sessionID,
	).Scan(&d.ID, &d.SessionID, &d.Name, &d.PageCount, &d.ChunkCount, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// --- Turns ---

func (s *Store) SaveTurn(t Turn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	trace := t.ToolTrace
	if trace == "" {
		trace = "[]"
	} else if !json.Valid([]byte(trace)) {
		return fmt.Errorf("tool trace is not valid JSON")
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (id, session_id, created_at, user_text, reply_text, persona, tool_trace)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.CreatedAt.UTC().Format(time.RFC3339), t.UserText, t.ReplyText, t.Persona, trace,
	)
	return err
}

// ListTurns returns a session's turns oldest first, at most limit of them
// (0 means no limit).
func (s *Store) ListTurns(sessionID string, limit int) ([]Turn, error) {
	query := `
		SELECT id, session_id, created_at, user_text, reply_text, persona, tool_trace
		FROM turns WHERE session_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &createdAt, &t.UserText, &t.ReplyText, &t.Persona, &t.ToolTrace); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.CreatedAt = ts
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
