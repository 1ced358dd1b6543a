package trade

import (
	"log"
	"sort"
	"time"

	"tradehall.ai/internal/protocol"
)

// Engine performs settlement and cancellation. Within Settle the phase order
// is a contract: currency, then experience, then items, and within each phase
// validation for both sides strictly precedes application for either side.
type Engine struct {
	cfg      Config
	mgr      *Manager
	ledger   Ledger
	inv      Inventory
	notify   Notifier
	presence Presence
	sink     SettledSink
	drop     DropFunc
	log      *log.Logger

	now func() time.Time
}

func NewEngine(cfg Config, mgr *Manager, ledger Ledger, inv Inventory, notify Notifier, presence Presence, sink SettledSink, drop DropFunc, logger *log.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		mgr:      mgr,
		ledger:   ledger,
		inv:      inv,
		notify:   notify,
		presence: presence,
		sink:     sink,
		drop:     drop,
		log:      logger,
		now:      time.Now,
	}
}

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Settle applies both offers. On any failure it routes through Cancel with
// the failure code and no resources move (the currency and experience phases
// validate both sides before applying either).
func (e *Engine) Settle(s *Session) (SettledRecord, string) {
	if !s.BothConfirmed() {
		return SettledRecord{}, protocol.ErrBadRequest
	}
	if !e.presence.Online(s.A) || !e.presence.Online(s.B) {
		e.Cancel(s, protocol.ErrUnreachable)
		return SettledRecord{}, protocol.ErrUnreachable
	}

	offerA := s.Offer(s.A)
	offerB := s.Offer(s.B)

	var moneyTax float64
	if e.cfg.EnableMoneyTrade {
		taxA := offerA.Money * e.cfg.MoneyTaxRate
		taxB := offerB.Money * e.cfg.MoneyTaxRate

		// Validate both sides before moving anything.
		if offerA.Money > 0 && e.ledger.Balance(s.A) < offerA.Money {
			e.Cancel(s, protocol.ErrInsufficientFunds+":"+s.A)
			return SettledRecord{}, protocol.ErrInsufficientFunds
		}
		if offerB.Money > 0 && e.ledger.Balance(s.B) < offerB.Money {
			e.Cancel(s, protocol.ErrInsufficientFunds+":"+s.B)
			return SettledRecord{}, protocol.ErrInsufficientFunds
		}

		if offerA.Money > 0 {
			if !e.ledger.Withdraw(s.A, offerA.Money) {
				e.Cancel(s, protocol.ErrInsufficientFunds+":"+s.A)
				return SettledRecord{}, protocol.ErrInsufficientFunds
			}
		}
		if offerB.Money > 0 {
			if !e.ledger.Withdraw(s.B, offerB.Money) {
				// A's withdrawal already happened; put it back.
				if offerA.Money > 0 {
					e.ledger.Deposit(s.A, offerA.Money)
				}
				e.Cancel(s, protocol.ErrInsufficientFunds+":"+s.B)
				return SettledRecord{}, protocol.ErrInsufficientFunds
			}
		}
		if offerA.Money > 0 {
			e.ledger.Deposit(s.B, offerA.Money-taxA)
		}
		if offerB.Money > 0 {
			e.ledger.Deposit(s.A, offerB.Money-taxB)
		}
		moneyTax = taxA + taxB
	}

	var expTax int
	if e.cfg.EnableExpTrade {
		taxA := int(float64(offerA.Exp) * e.cfg.ExpTaxRate)
		taxB := int(float64(offerB.Exp) * e.cfg.ExpTaxRate)

		expA := e.ledger.Experience(s.A)
		expB := e.ledger.Experience(s.B)
		if offerA.Exp > 0 && expA < offerA.Exp {
			e.Cancel(s, protocol.ErrInsufficientExp+":"+s.A)
			return SettledRecord{}, protocol.ErrInsufficientExp
		}
		if offerB.Exp > 0 && expB < offerB.Exp {
			e.Cancel(s, protocol.ErrInsufficientExp+":"+s.B)
			return SettledRecord{}, protocol.ErrInsufficientExp
		}

		// Both balances were read before either write.
		if offerA.Exp > 0 || offerB.Exp > 0 {
			e.ledger.SetExperience(s.A, expA-offerA.Exp+(offerB.Exp-taxB))
			e.ledger.SetExperience(s.B, expB-offerB.Exp+(offerA.Exp-taxA))
		}
		expTax = taxA + taxB
	}

	// Items last. Overflow goes through the drop channel, never lost.
	if overflow := e.inv.AddItems(s.B, itemList(offerA.Items)); len(overflow) > 0 {
		e.drop(s.B, overflow)
	}
	if overflow := e.inv.AddItems(s.A, itemList(offerB.Items)); len(overflow) > 0 {
		e.drop(s.A, overflow)
	}

	s.complete()
	e.mgr.Close(s)

	rec := e.record(s, offerA, offerB, OutcomeCompleted, "")
	rec.MoneyTax = moneyTax
	rec.ExpTax = expTax
	e.emit(rec)

	e.notify.Notify(s.A, protocol.Event{"type": protocol.EvSettled, "session_id": s.ID})
	e.notify.Notify(s.B, protocol.Event{"type": protocol.EvSettled, "session_id": s.ID})
	return rec, ""
}

// Cancel returns every offered item to its owner, notifies both sides and
// tears the session down. Safe to call from player action, failed
// settlement, disconnect and shutdown; repeat calls are no-ops.
func (e *Engine) Cancel(s *Session, reason string) {
	offerA := s.Offer(s.A)
	offerB := s.Offer(s.B)
	if !s.cancel() {
		return
	}

	if overflow := e.inv.AddItems(s.A, itemList(offerA.Items)); len(overflow) > 0 {
		e.drop(s.A, overflow)
	}
	if overflow := e.inv.AddItems(s.B, itemList(offerB.Items)); len(overflow) > 0 {
		e.drop(s.B, overflow)
	}

	e.mgr.Close(s)
	e.emit(e.record(s, offerA, offerB, OutcomeCancelled, reason))

	e.notify.Notify(s.A, protocol.Event{"type": protocol.EvCancelled, "session_id": s.ID, "reason": reason})
	e.notify.Notify(s.B, protocol.Event{"type": protocol.EvCancelled, "session_id": s.ID, "reason": reason})
}

func (e *Engine) record(s *Session, offerA, offerB Offer, outcome, reason string) SettledRecord {
	return SettledRecord{
		SessionID: s.ID,
		A:         s.A,
		B:         s.B,
		AItems:    itemList(offerA.Items),
		BItems:    itemList(offerB.Items),
		AMoney:    offerA.Money,
		BMoney:    offerB.Money,
		AExp:      offerA.Exp,
		BExp:      offerB.Exp,
		Outcome:   outcome,
		Reason:    reason,
		At:        e.now(),
	}
}

// emit hands the record to the sink. Sink failures are logged, never
// propagated into the trade result.
func (e *Engine) emit(rec SettledRecord) {
	if e.sink == nil || !e.cfg.EnableTradeLog {
		return
	}
	if err := e.sink.Record(rec); err != nil && e.log != nil {
		e.log.Printf("settled sink: %v", err)
	}
}

// itemList flattens a slot map in slot order.
func itemList(slots map[int]Item) []Item {
	if len(slots) == 0 {
		return nil
	}
	keys := make([]int, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, slots[k])
	}
	return out
}
