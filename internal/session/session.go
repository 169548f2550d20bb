// Package session tracks per-conversation state: persona, message
// history, and the attached document. Turns within one session run
// sequentially; different sessions are independent.
package session

import (
	"sync"

	"github.com/satriobp/kino/internal/llm"
	"github.com/satriobp/kino/internal/persona"
)

// Session is one conversation's mutable state. All access goes through
// the methods, which lock; a full turn holds the turn lock so concurrent
// messages to the same session serialize.
type Session struct {
	ID string

	turnMu sync.Mutex

	mu           sync.Mutex
	persona      persona.Persona
	messages     []llm.Message
	documentID   string
	documentName string
}

// LockTurn serializes turns on this session. The returned func releases it.
func (s *Session) LockTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

// Persona returns the session's active persona.
func (s *Session) Persona() persona.Persona {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

func (s *Session) setPersona(p persona.Persona) {
	s.mu.Lock()
	s.persona = p
	s.mu.Unlock()
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Append adds messages to the conversation history.
func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

// Document returns the indexed document's id and name, if one is attached.
func (s *Session) Document() (id, name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentID, s.documentName, s.documentID != ""
}

// SetDocument records the session's indexed document.
func (s *Session) SetDocument(id, name string) {
	s.mu.Lock()
	s.documentID = id
	s.documentName = name
	s.mu.Unlock()
}
