package trade

import (
	"time"

	"tradehall.ai/internal/protocol"
)

// Item is one offered stack: an item identifier plus a count.
type Item struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

// Ledger is the authoritative balance provider. The core never caches
// balances; it reads and moves them only inside a settlement pass.
// Balance and Experience must report the state before any withdrawal made in
// the same pass.
type Ledger interface {
	Balance(participant string) float64
	Withdraw(participant string, amount float64) bool
	Deposit(participant string, amount float64) bool

	Experience(participant string) int
	SetExperience(participant string, total int) bool
}

// Inventory delivers items to a participant. Items that do not fit are
// returned as overflow; the caller decides what happens to them.
type Inventory interface {
	AddItems(participant string, items []Item) (overflow []Item)
}

// DropFunc handles overflow items that could not be delivered. It must not
// lose them silently.
type DropFunc func(participant string, items []Item)

// Notifier delivers an event to a participant. Fire-and-forget: it must not
// block and must not fail the caller.
type Notifier interface {
	Notify(participant string, ev protocol.Event)
}

// Presence answers whether a participant is currently reachable.
type Presence interface {
	Online(participant string) bool
}

// PolicyGate holds the pure predicates consulted before a request is created.
type PolicyGate interface {
	TradingEnabled(participant string) bool
	// Blocked reports whether owner has target on their blocklist.
	Blocked(owner, target string) bool
	// SameWorld and WithinRange implement the distance/world gate.
	SameWorld(a, b string) bool
	WithinRange(a, b string, maxDistance float64) bool
}

// SettledRecord summarizes one finished negotiation for the audit sinks.
type SettledRecord struct {
	SessionID string    `json:"session_id"`
	A         string    `json:"a"`
	B         string    `json:"b"`
	AItems    []Item    `json:"a_items,omitempty"`
	BItems    []Item    `json:"b_items,omitempty"`
	AMoney    float64   `json:"a_money"`
	BMoney    float64   `json:"b_money"`
	AExp      int       `json:"a_exp"`
	BExp      int       `json:"b_exp"`
	MoneyTax  float64   `json:"money_tax"`
	ExpTax    int       `json:"exp_tax"`
	Outcome   string    `json:"outcome"` // "COMPLETED" or "CANCELLED"
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// SettledSink records finished negotiations. Implementations are expected to
// be asynchronous; errors are logged by the engine and never affect the
// trade's own outcome.
type SettledSink interface {
	Record(rec SettledRecord) error
}

// Record outcomes.
const (
	OutcomeCompleted = "COMPLETED"
	OutcomeCancelled = "CANCELLED"
)
