package trade

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the session lifecycle tag. Negotiating is the only non-terminal
// state; Completed and Cancelled are reachable solely through the session's
// own transition methods.
type State int

const (
	Negotiating State = iota
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "NEGOTIATING"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

var (
	ErrClosed         = errors.New("session is no longer negotiating")
	ErrNotParticipant = errors.New("not a participant of this session")
	ErrNegativeAmount = errors.New("amount must be non-negative")
)

// Offer is one side's proposed bundle.
type Offer struct {
	Items map[int]Item // slot -> item
	Money float64
	Exp   int
}

// Session is the mutable negotiation state for exactly two participants.
// Any offer mutation resets both confirmation flags and both secondary-step
// bits; affordability is deliberately not checked here (it only binds at
// settlement, so a participant can raise an offer before it is affordable).
type Session struct {
	ID        string
	A, B      string
	CreatedAt time.Time

	mu          sync.Mutex
	state       State
	offers      map[string]*Offer
	confirmed   map[string]bool
	secondaryOK map[string]bool
}

func NewSession(a, b string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		A:         a,
		B:         b,
		CreatedAt: now,
		state:     Negotiating,
		offers: map[string]*Offer{
			a: {Items: map[int]Item{}},
			b: {Items: map[int]Item{}},
		},
		confirmed:   map[string]bool{},
		secondaryOK: map[string]bool{},
	}
}

func (s *Session) IsParticipant(p string) bool {
	return p == s.A || p == s.B
}

// Other returns the counterpart of p. p must be a participant.
func (s *Session) Other(p string) string {
	if p == s.A {
		return s.B
	}
	return s.A
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetItem places (or clears, when item is nil) an offered stack in a slot.
func (s *Session) SetItem(p string, slot int, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(p); err != nil {
		return err
	}
	s.resetConfirmationLocked()
	if item == nil {
		delete(s.offers[p].Items, slot)
		return nil
	}
	s.offers[p].Items[slot] = *item
	return nil
}

func (s *Session) SetMoney(p string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(p); err != nil {
		return err
	}
	if amount < 0 {
		return ErrNegativeAmount
	}
	s.resetConfirmationLocked()
	s.offers[p].Money = amount
	return nil
}

func (s *Session) SetExp(p string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(p); err != nil {
		return err
	}
	if amount < 0 {
		return ErrNegativeAmount
	}
	s.resetConfirmationLocked()
	s.offers[p].Exp = amount
	return nil
}

// Offer returns a copy of p's offered bundle.
func (s *Session) Offer(p string) Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.offers[p]
	if o == nil {
		return Offer{Items: map[int]Item{}}
	}
	cp := Offer{Items: make(map[int]Item, len(o.Items)), Money: o.Money, Exp: o.Exp}
	for slot, it := range o.Items {
		cp.Items[slot] = it
	}
	return cp
}

func (s *Session) SetConfirmed(p string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(p); err != nil {
		return err
	}
	s.confirmed[p] = v
	return nil
}

func (s *Session) Confirmed(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[p]
}

func (s *Session) BothConfirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[s.A] && s.confirmed[s.B]
}

func (s *Session) ResetConfirmation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetConfirmationLocked()
}

// MarkSecondaryDone records that p passed the secondary confirmation step for
// the current offer state. Editing any offer dimension clears it again.
func (s *Session) MarkSecondaryDone(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(p); err != nil {
		return err
	}
	s.secondaryOK[p] = true
	return nil
}

func (s *Session) SecondaryDone(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secondaryOK[p]
}

// complete and cancel are the only paths to a terminal state; they are
// unexported so only this package's engine can drive them.
func (s *Session) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Negotiating {
		return false
	}
	s.state = Completed
	return true
}

func (s *Session) cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Negotiating {
		return false
	}
	s.state = Cancelled
	return true
}

func (s *Session) mutableLocked(p string) error {
	if !s.IsParticipant(p) {
		return ErrNotParticipant
	}
	if s.state != Negotiating {
		return ErrClosed
	}
	return nil
}

func (s *Session) resetConfirmationLocked() {
	s.confirmed[s.A] = false
	s.confirmed[s.B] = false
	s.secondaryOK[s.A] = false
	s.secondaryOK[s.B] = false
}
