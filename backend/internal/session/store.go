package session

import (
	"sync"

	"github.com/google/uuid"

	"kgrag/backend/internal/state"
)

// Store keeps conversation history per session in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]state.Turn
}

func NewStore() *Store {
	return &Store{sessions: make(map[string][]state.Turn)}
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// Append records a completed turn for id.
func (s *Store) Append(id, question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = append(s.sessions[id], state.Turn{Question: question, Answer: answer})
}

// History returns a copy of the turns recorded for id, oldest first.
func (s *Store) History(id string) []state.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.sessions[id]
	if len(turns) == 0 {
		return nil
	}
	out := make([]state.Turn, len(turns))
	copy(out, turns)
	return out
}

// Clear forgets id and reports whether it existed.
func (s *Store) Clear(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of sessions with history.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
