package trade

import (
	"errors"
	"sync"
	"time"

	"tradehall.ai/internal/protocol"
)

// env fakes every capability the core consumes. One struct keeps the test
// wiring short; individual tests flip the fields they care about.
type env struct {
	mu sync.Mutex

	balances map[string]float64
	exp      map[string]int
	inv      map[string][]Item
	capacity int // max stacks a participant can hold; 0 = unlimited

	offline  map[string]bool
	disabled map[string]bool
	blocked  map[string]map[string]bool
	farAway  bool
	otherDim bool

	events  map[string][]protocol.Event
	dropped map[string][]Item

	records []SettledRecord
	sinkErr error
}

func newEnv() *env {
	return &env{
		balances: map[string]float64{},
		exp:      map[string]int{},
		inv:      map[string][]Item{},
		offline:  map[string]bool{},
		disabled: map[string]bool{},
		blocked:  map[string]map[string]bool{},
		events:   map[string][]protocol.Event{},
		dropped:  map[string][]Item{},
	}
}

func (e *env) Balance(p string) float64 { e.mu.Lock(); defer e.mu.Unlock(); return e.balances[p] }

func (e *env) Withdraw(p string, amount float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.balances[p] < amount {
		return false
	}
	e.balances[p] -= amount
	return true
}

func (e *env) Deposit(p string, amount float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[p] += amount
	return true
}

func (e *env) Experience(p string) int { e.mu.Lock(); defer e.mu.Unlock(); return e.exp[p] }

func (e *env) SetExperience(p string, total int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exp[p] = total
	return true
}

func (e *env) AddItems(p string, items []Item) []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	var overflow []Item
	for _, it := range items {
		if e.capacity > 0 && len(e.inv[p]) >= e.capacity {
			overflow = append(overflow, it)
			continue
		}
		e.inv[p] = append(e.inv[p], it)
	}
	return overflow
}

func (e *env) Drop(p string, items []Item) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropped[p] = append(e.dropped[p], items...)
}

func (e *env) Notify(p string, ev protocol.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[p] = append(e.events[p], ev)
}

func (e *env) Online(p string) bool { e.mu.Lock(); defer e.mu.Unlock(); return !e.offline[p] }

func (e *env) TradingEnabled(p string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.disabled[p]
}

func (e *env) Blocked(owner, target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocked[owner][target]
}

func (e *env) SameWorld(a, b string) bool { e.mu.Lock(); defer e.mu.Unlock(); return !e.otherDim }

func (e *env) WithinRange(a, b string, max float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.farAway
}

func (e *env) Record(rec SettledRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sinkErr != nil {
		return e.sinkErr
	}
	e.records = append(e.records, rec)
	return nil
}

func (e *env) block(owner, target string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.blocked[owner] == nil {
		e.blocked[owner] = map[string]bool{}
	}
	e.blocked[owner][target] = true
}

func (e *env) eventKinds(p string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var kinds []string
	for _, ev := range e.events[p] {
		kind, _ := ev["type"].(string)
		kinds = append(kinds, kind)
	}
	return kinds
}

// rig bundles a fully wired core over an env with a controllable clock.
type rig struct {
	env    *env
	cfg    Config
	mgr    *Manager
	reg    *Registry
	policy ConfirmPolicy
	eng    *Engine

	now time.Time
}

// newRig wires a core with money, exp, and logging enabled, the common case.
// Tests exercising a disabled feature build their config and use newRigFrom.
func newRig(cfg Config) *rig {
	cfg.EnableMoneyTrade = true
	cfg.EnableExpTrade = true
	cfg.EnableTradeLog = true
	return newRigFrom(cfg)
}

// newRigFrom wires a core from the config verbatim.
func newRigFrom(cfg Config) *rig {
	cfg.ApplyDefaults()
	e := newEnv()
	mgr := NewManager()
	r := &rig{env: e, cfg: cfg, mgr: mgr, now: time.Unix(1_700_000_000, 0)}
	r.reg = NewRegistry(mgr, e, e, e, cfg)
	r.reg.SetClock(r.clock)
	r.policy = ConfirmPolicy{Threshold: cfg.ConfirmThreshold}
	r.eng = NewEngine(cfg, mgr, e, e, e, e, e, e.Drop, nil)
	r.eng.SetClock(r.clock)
	return r
}

func (r *rig) clock() time.Time { return r.now }

func (r *rig) advance(d time.Duration) { r.now = r.now.Add(d) }

// startSession shortcuts the request handshake.
func (r *rig) startSession(a, b string) *Session {
	if s, code := r.reg.Send(a, b); code != "" {
		panic("send: " + code)
	} else if s != nil {
		return s
	}
	s, code := r.reg.Accept(b)
	if code != "" {
		panic("accept: " + code)
	}
	return s
}

var errSink = errors.New("sink unavailable")
