package trade

import (
	"sync"
	"time"

	"tradehall.ai/internal/protocol"
)

// Request is a pending invitation, keyed by receiver in the registry.
type Request struct {
	Sender    string
	Receiver  string
	CreatedAt time.Time
}

func (r Request) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.CreatedAt) > timeout
}

// Registry tracks at most one inbound pending request per receiver and owns
// the send/accept/deny/expire transitions that happen before a session
// exists. It is lock-protected because the sweeper interleaves with
// on-demand calls.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Request // receiver -> request

	mgr      *Manager
	gate     PolicyGate
	presence Presence
	notify   Notifier

	timeout     time.Duration
	maxDistance float64
	crossWorld  bool

	now func() time.Time
}

func NewRegistry(mgr *Manager, gate PolicyGate, presence Presence, notify Notifier, cfg Config) *Registry {
	return &Registry{
		pending:     map[string]Request{},
		mgr:         mgr,
		gate:        gate,
		presence:    presence,
		notify:      notify,
		timeout:     cfg.RequestTimeout,
		maxDistance: cfg.MaxDistance,
		crossWorld:  cfg.AllowCrossWorld,
		now:         time.Now,
	}
}

// SetClock overrides the registry's time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Send validates and stores a request from sender to receiver.
//
// Returns (nil, "") when a request was stored, (session, "") when a crossed
// request auto-matched into a session, and (nil, code) on rejection. The
// precondition order is part of the contract: busy sender, busy receiver,
// trading toggles, blocklists (both directions), distance/world gate,
// duplicate request.
func (r *Registry) Send(sender, receiver string) (*Session, string) {
	if r.mgr.Trading(sender) {
		return nil, protocol.ErrAlreadyTrading
	}
	if r.mgr.Trading(receiver) {
		return nil, protocol.ErrPeerTrading
	}
	if !r.gate.TradingEnabled(sender) {
		return nil, protocol.ErrTradeDisabled
	}
	if !r.gate.TradingEnabled(receiver) {
		return nil, protocol.ErrPeerDisabled
	}
	if r.gate.Blocked(receiver, sender) {
		return nil, protocol.ErrBlocked
	}
	if r.gate.Blocked(sender, receiver) {
		return nil, protocol.ErrBlockedByYou
	}
	if r.maxDistance > 0 {
		if !r.gate.SameWorld(sender, receiver) {
			if !r.crossWorld {
				return nil, protocol.ErrCrossWorld
			}
		} else if !r.gate.WithinRange(sender, receiver, r.maxDistance) {
			return nil, protocol.ErrOutOfRange
		}
	}

	r.mu.Lock()
	if existing, ok := r.pending[receiver]; ok && !existing.Expired(r.now(), r.timeout) {
		r.mu.Unlock()
		if existing.Sender == sender {
			return nil, protocol.ErrDuplicateRequest
		}
		// One pending request per receiver; a request from a different
		// sender is rejected, never silently replaced.
		return nil, protocol.ErrPeerBusy
	}
	// Crossed request: the receiver already asked us. Consume it and start
	// the session immediately instead of storing a mirror request. An
	// expired reverse request counts as absent, same as in Accept.
	if reverse, ok := r.pending[sender]; ok && reverse.Sender == receiver && !reverse.Expired(r.now(), r.timeout) {
		delete(r.pending, sender)
		r.mu.Unlock()
		s := r.mgr.Start(receiver, sender)
		r.notify.Notify(sender, protocol.Event{"type": protocol.EvSessionStarted, "session_id": s.ID, "with": receiver})
		r.notify.Notify(receiver, protocol.Event{"type": protocol.EvSessionStarted, "session_id": s.ID, "with": sender})
		return s, ""
	}
	r.pending[receiver] = Request{Sender: sender, Receiver: receiver, CreatedAt: r.now()}
	r.mu.Unlock()

	r.notify.Notify(sender, protocol.Event{"type": protocol.EvRequestSent, "to": receiver})
	r.notify.Notify(receiver, protocol.Event{"type": protocol.EvRequestReceived, "from": sender, "timeout_s": int(r.timeout / time.Second)})
	return nil, ""
}

// Accept consumes the receiver's pending request and starts a session. An
// expired-but-not-yet-swept request counts as absent.
func (r *Registry) Accept(receiver string) (*Session, string) {
	r.mu.Lock()
	req, ok := r.pending[receiver]
	if ok {
		delete(r.pending, receiver)
	}
	r.mu.Unlock()

	if !ok || req.Expired(r.now(), r.timeout) {
		return nil, protocol.ErrNoPendingRequest
	}
	if !r.presence.Online(req.Sender) {
		return nil, protocol.ErrSenderOffline
	}
	s := r.mgr.Start(req.Sender, receiver)
	r.notify.Notify(req.Sender, protocol.Event{"type": protocol.EvSessionStarted, "session_id": s.ID, "with": receiver})
	r.notify.Notify(receiver, protocol.Event{"type": protocol.EvSessionStarted, "session_id": s.ID, "with": req.Sender})
	return s, ""
}

// Deny consumes the receiver's pending request and tells the sender, if
// reachable.
func (r *Registry) Deny(receiver string) string {
	r.mu.Lock()
	req, ok := r.pending[receiver]
	if ok {
		delete(r.pending, receiver)
	}
	r.mu.Unlock()

	if !ok {
		return protocol.ErrNoPendingRequest
	}
	if r.presence.Online(req.Sender) {
		r.notify.Notify(req.Sender, protocol.Event{"type": protocol.EvRequestDenied, "by": receiver})
	}
	return ""
}

// Drop removes a pending request addressed to receiver without notifying
// anyone. Used when the receiver disconnects.
func (r *Registry) Drop(receiver string) {
	r.mu.Lock()
	delete(r.pending, receiver)
	r.mu.Unlock()
}

// Pending returns the pending request for receiver, if any.
func (r *Registry) Pending(receiver string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[receiver]
	return req, ok
}

// PendingCount reports the number of stored requests.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// SweepExpired removes every request older than the configured timeout and
// notifies each receiver once. Returns the removed requests.
func (r *Registry) SweepExpired(now time.Time) []Request {
	var expired []Request
	r.mu.Lock()
	for receiver, req := range r.pending {
		if req.Expired(now, r.timeout) {
			delete(r.pending, receiver)
			expired = append(expired, req)
		}
	}
	r.mu.Unlock()

	for _, req := range expired {
		r.notify.Notify(req.Receiver, protocol.Event{"type": protocol.EvRequestExpired, "from": req.Sender})
	}
	return expired
}
