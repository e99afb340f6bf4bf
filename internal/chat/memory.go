package chat

import "sync"

// Memory is everything remembered about one user across turns. Each user's
// messages are processed one at a time, so the fields are mutated without
// further locking once the Memory is fetched from the store.
type Memory struct {
	UserID string

	// Booking is nil outside an active booking flow.
	Booking *State

	// CurrentPatientID tracks the patient record partial details are
	// merged into before the booking confirms.
	CurrentPatientID string

	// History feeds the conversational agent.
	History []AgentMessage
}

func (m *Memory) BookingActive() bool {
	return m.Booking != nil
}

func (m *Memory) AppendHistory(role, content string) {
	m.History = append(m.History, AgentMessage{Role: role, Content: content})
	if len(m.History) > historyLimit {
		m.History = m.History[len(m.History)-historyLimit:]
	}
}

const historyLimit = 20

// Store holds per-user conversation memory. The lock guards the map only.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Memory
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Memory)}
}

// Get returns the user's memory, creating it on first contact.
func (s *Store) Get(userID string) *Memory {
	s.mu.RLock()
	mem, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return mem
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mem, ok = s.sessions[userID]; ok {
		return mem
	}
	mem = &Memory{UserID: userID}
	s.sessions[userID] = mem
	return mem
}

// Reset discards everything remembered about the user.
func (s *Store) Reset(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}
