package trade

import (
	"fmt"
	"sync"
	"time"
)

// Manager owns all live sessions and the participant -> session index. It
// enforces "at most one non-terminal session per participant"; nothing else
// holds a long-lived *Session reference.
type Manager struct {
	mu            sync.Mutex
	byID          map[string]*Session
	byParticipant map[string]string // participant -> session id
	now           func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		byID:          map[string]*Session{},
		byParticipant: map[string]string{},
		now:           time.Now,
	}
}

// Start creates a Negotiating session for a and b and indexes both
// participants. Callers must have verified neither participant is already in
// a session; violating that is a programming error, not a recoverable one.
func (m *Manager) Start(a, b string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byParticipant[a]; ok {
		panic(fmt.Sprintf("trade: participant %s already in session %s", a, id))
	}
	if id, ok := m.byParticipant[b]; ok {
		panic(fmt.Sprintf("trade: participant %s already in session %s", b, id))
	}
	s := NewSession(a, b, m.now())
	m.byID[s.ID] = s
	m.byParticipant[a] = s.ID
	m.byParticipant[b] = s.ID
	return s
}

// Lookup returns the active session for a participant, or nil.
func (m *Manager) Lookup(participant string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byParticipant[participant]
	if !ok {
		return nil
	}
	return m.byID[id]
}

// Trading reports whether a participant is in an active session.
func (m *Manager) Trading(participant string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byParticipant[participant]
	return ok
}

// Close removes the session and both participant index entries. The session
// must already be in a terminal state.
func (m *Manager) Close(s *Session) {
	if st := s.State(); st == Negotiating {
		panic(fmt.Sprintf("trade: Close called on negotiating session %s", s.ID))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, s.ID)
	delete(m.byParticipant, s.A)
	delete(m.byParticipant, s.B)
}

// Sessions snapshots all live sessions (for shutdown iteration).
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out
}
