package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/satriobp/kino/internal/llm"
	"github.com/satriobp/kino/internal/persona"
	"github.com/satriobp/kino/internal/storage"
)

// ErrNotFound is returned for session ids that don't exist.
var ErrNotFound = errors.New("session not found")

// Manager owns the live sessions and keeps them in step with the
// database, so sessions survive a server restart.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	db       *storage.Store
}

func NewManager(db *storage.Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		db:       db,
	}
}

// Create returns the session with the given id, creating it if needed.
// Creation is idempotent: an existing session is returned unchanged, its
// persona untouched.
func (m *Manager) Create(id string, p persona.Persona) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}

	if err := m.db.CreateSession(storage.Session{ID: id, Persona: p.String()}); err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		// Present in the database but not in memory: a restart. Rehydrate.
		return m.loadLocked(id)
	}

	sess := &Session{ID: id, persona: p}
	m.sessions[id] = sess
	return sess, nil
}

// Get returns a live session, rehydrating it from the database if the
// process restarted since it was created.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}
	return m.loadLocked(id)
}

// loadLocked rebuilds a session from its stored row, turn log, and
// document. Caller holds m.mu.
func (m *Manager) loadLocked(id string) (*Session, error) {
	row, err := m.db.GetSession(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	p, err := persona.Parse(row.Persona)
	if err != nil {
		p = persona.Default
	}
	sess := &Session{ID: id, persona: p}

	turns, err := m.db.ListTurns(id, 0)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	for _, t := range turns {
		sess.messages = append(sess.messages,
			llm.Message{Role: "user", Content: t.UserText},
			llm.Message{Role: "assistant", Content: t.ReplyText},
		)
	}

	if doc, err := m.db.GetDocumentBySession(id); err == nil {
		sess.documentID = doc.ID
		sess.documentName = doc.Name
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading document: %w", err)
	}

	m.sessions[id] = sess
	return sess, nil
}

// SetPersona switches a session's voice. History is preserved; only
// future replies change register.
func (m *Manager) SetPersona(id string, p persona.Persona) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := m.db.UpdateSessionPersona(id, p.String()); err != nil {
		return fmt.Errorf("persisting persona: %w", err)
	}
	sess.setPersona(p)
	return nil
}

// End removes a session and all its stored state.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	if err := m.db.DeleteSession(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
