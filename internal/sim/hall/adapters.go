package hall

import (
	"tradehall.ai/internal/protocol"
	"tradehall.ai/internal/trade"
)

// The trade core talks to the hall through small capability interfaces.
// Each adapter is a typed view of the hall so the core never sees the
// participant map directly.

type hallLedger Hall

func (l *hallLedger) h() *Hall { return (*Hall)(l) }

func (l *hallLedger) Balance(participant string) float64 {
	h := l.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.participants[participant]; p != nil {
		return p.Balance
	}
	return 0
}

func (l *hallLedger) Withdraw(participant string, amount float64) bool {
	h := l.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.participants[participant]
	if p == nil || amount < 0 || p.Balance < amount {
		return false
	}
	p.Balance -= amount
	return true
}

func (l *hallLedger) Deposit(participant string, amount float64) bool {
	h := l.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.participants[participant]
	if p == nil || amount < 0 {
		return false
	}
	p.Balance += amount
	return true
}

func (l *hallLedger) Experience(participant string) int {
	h := l.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.participants[participant]; p != nil {
		return p.Exp
	}
	return 0
}

func (l *hallLedger) SetExperience(participant string, total int) bool {
	h := l.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.participants[participant]
	if p == nil || total < 0 {
		return false
	}
	p.Exp = total
	return true
}

type hallInventory Hall

func (i *hallInventory) AddItems(participant string, items []trade.Item) []trade.Item {
	h := (*Hall)(i)
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.participants[participant]
	if p == nil {
		// Owner left between escrow and delivery; everything overflows so
		// the drop handler keeps a trace.
		return items
	}
	return p.add(items)
}

type hallPresence Hall

func (pr *hallPresence) Online(participant string) bool {
	h := (*Hall)(pr)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.participants[participant]
	return ok
}

type hallNotifier Hall

func (n *hallNotifier) Notify(participant string, ev protocol.Event) {
	(*Hall)(n).notify(participant, ev)
}

type hallGate Hall

func (g *hallGate) h() *Hall { return (*Hall)(g) }

func (g *hallGate) TradingEnabled(participant string) bool {
	return g.h().settings.TradingEnabled(participant)
}

func (g *hallGate) Blocked(owner, target string) bool {
	return g.h().settings.IsBlocked(owner, target)
}

func (g *hallGate) SameWorld(a, b string) bool {
	h := g.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	pa, pb := h.participants[a], h.participants[b]
	return pa != nil && pb != nil && pa.WorldID == pb.WorldID
}

func (g *hallGate) WithinRange(a, b string, maxDistance float64) bool {
	h := g.h()
	h.mu.Lock()
	defer h.mu.Unlock()
	pa, pb := h.participants[a], h.participants[b]
	if pa == nil || pb == nil {
		return false
	}
	return dist(pa.Pos, pb.Pos) <= maxDistance
}
