package relay

import "sync"

// Sessions maps chat id to conversation state. Idle chats hold no entry, so
// abandoned sessions cost nothing until the user returns.
type Sessions struct {
	mu     sync.Mutex
	states map[int64]State
}

func NewSessions() *Sessions {
	return &Sessions{states: make(map[int64]State)}
}

func (s *Sessions) Get(chatID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[chatID]
}

func (s *Sessions) Set(chatID int64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == Idle {
		delete(s.states, chatID)
		return
	}
	s.states[chatID] = st
}

// Active counts chats in a non-idle state.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
