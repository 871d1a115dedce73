package bot

import (
	"sync"
)

// Session is the ledger identity a Telegram account logged in as.
type Session struct {
	Username string
	Role     string
}

// Sessions maps Telegram user ids to their login and pending input state.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	states   map[int64]string
}

func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[int64]Session),
		states:   make(map[int64]string),
	}
}

func (s *Sessions) Get(telegramID int64) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[telegramID]
	return sess, ok
}

func (s *Sessions) Set(telegramID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[telegramID] = sess
	delete(s.states, telegramID)
}

// Delete ends the session and returns what it was.
func (s *Sessions) Delete(telegramID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[telegramID]
	delete(s.sessions, telegramID)
	delete(s.states, telegramID)
	return sess, ok
}

func (s *Sessions) SetState(telegramID int64, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[telegramID] = state
}

// TakeState returns the pending state and clears it.
func (s *Sessions) TakeState(telegramID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[telegramID]
	delete(s.states, telegramID)
	return state
}

// Usernames lists the distinct ledger users with an open session.
func (s *Sessions) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool, len(s.sessions))
	var out []string
	for _, sess := range s.sessions {
		if !seen[sess.Username] {
			seen[sess.Username] = true
			out = append(out, sess.Username)
		}
	}
	return out
}
