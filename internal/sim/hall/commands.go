package hall

import (
	"errors"

	"tradehall.ai/internal/protocol"
	"tradehall.ai/internal/trade"
)

// applyCmd runs one participant command and queues a CMD_RESULT carrying the
// echoed command id. Domain events (REQUEST_*, SESSION_STARTED, OFFER_*,
// SETTLED, ...) are emitted by the trade core through the notifier adapter.
func (h *Hall) applyCmd(participant string, cmd protocol.CmdMsg) {
	h.mu.Lock()
	_, known := h.participants[participant]
	h.mu.Unlock()
	if !known {
		return
	}

	var (
		code  string
		extra protocol.Event
	)
	switch cmd.Kind {
	case protocol.CmdTradeRequest:
		code = h.cmdTradeRequest(participant, cmd)
	case protocol.CmdTradeAccept:
		_, code = h.reg.Accept(participant)
	case protocol.CmdTradeDeny:
		code = h.reg.Deny(participant)
	case protocol.CmdTradeCancel:
		code = h.cmdTradeCancel(participant)
	case protocol.CmdSetItem:
		code = h.cmdSetItem(participant, cmd)
	case protocol.CmdSetMoney:
		code = h.cmdSetMoney(participant, cmd)
	case protocol.CmdSetExp:
		code = h.cmdSetExp(participant, cmd)
	case protocol.CmdConfirm:
		code = h.cmdConfirm(participant)
	case protocol.CmdUnconfirm:
		code = h.cmdUnconfirm(participant)
	case protocol.CmdToggle:
		code, extra = h.cmdToggle(participant)
	case protocol.CmdBlock:
		code, extra = h.cmdBlock(participant, cmd)
	case protocol.CmdUnblock:
		code, extra = h.cmdUnblock(participant, cmd)
	case protocol.CmdMove:
		h.mu.Lock()
		if p := h.participants[participant]; p != nil {
			p.Pos = cmd.Pos
		}
		h.mu.Unlock()
	default:
		code = protocol.ErrBadRequest
	}

	result := protocol.Event{
		"type": protocol.EvCmdResult,
		"id":   cmd.ID,
		"kind": cmd.Kind,
		"ok":   code == "",
	}
	if code != "" {
		result["code"] = code
	}
	for k, v := range extra {
		result[k] = v
	}
	h.notify(participant, result)
}

func (h *Hall) cmdTradeRequest(participant string, cmd protocol.CmdMsg) string {
	to := normalizeName(cmd.To)
	if to == "" || to == participant {
		return protocol.ErrInvalidTarget
	}
	h.mu.Lock()
	_, present := h.participants[to]
	h.mu.Unlock()
	if !present {
		return protocol.ErrInvalidTarget
	}
	_, code := h.reg.Send(participant, to)
	return code
}

func (h *Hall) cmdTradeCancel(participant string) string {
	s := h.mgr.Lookup(participant)
	if s == nil {
		return protocol.ErrNotTrading
	}
	h.eng.Cancel(s, "cancelled_by_"+participant)
	h.disarm(s)
	return ""
}

func (h *Hall) cmdSetItem(participant string, cmd protocol.CmdMsg) string {
	s := h.mgr.Lookup(participant)
	if s == nil {
		return protocol.ErrNotTrading
	}
	if cmd.Slot < 0 {
		return protocol.ErrBadRequest
	}
	prev, hadPrev := s.Offer(participant).Items[cmd.Slot]

	if cmd.Item == "" || cmd.Count <= 0 {
		// Clearing the slot hands the escrowed stack back.
		if err := s.SetItem(participant, cmd.Slot, nil); err != nil {
			return sessionErrCode(err)
		}
		if hadPrev {
			h.returnItems(participant, []trade.Item{prev})
		}
		h.disarm(s)
		h.offerUpdated(s, participant, cmd.Slot, "", 0)
		return ""
	}

	// Offered items are escrowed out of the inventory immediately; a
	// replaced stack goes back first.
	h.mu.Lock()
	p := h.participants[participant]
	if p == nil || !p.has(cmd.Item, cmd.Count) {
		h.mu.Unlock()
		return protocol.ErrNoResource
	}
	p.remove(cmd.Item, cmd.Count)
	if hadPrev {
		p.add([]trade.Item{prev})
	}
	h.mu.Unlock()

	if err := s.SetItem(participant, cmd.Slot, &trade.Item{Item: cmd.Item, Count: cmd.Count}); err != nil {
		// Undo the escrow; the session refused the edit.
		h.mu.Lock()
		if p := h.participants[participant]; p != nil {
			p.add([]trade.Item{{Item: cmd.Item, Count: cmd.Count}})
			if hadPrev {
				p.remove(prev.Item, prev.Count)
			}
		}
		h.mu.Unlock()
		if hadPrev {
			// The previous stack belongs back in the (still live) offer.
			_ = s.SetItem(participant, cmd.Slot, &prev)
		}
		return sessionErrCode(err)
	}
	h.disarm(s)
	h.offerUpdated(s, participant, cmd.Slot, cmd.Item, cmd.Count)
	return ""
}

func (h *Hall) cmdSetMoney(participant string, cmd protocol.CmdMsg) string {
	if !h.tcfg.EnableMoneyTrade {
		return protocol.ErrBadRequest
	}
	s := h.mgr.Lookup(participant)
	if s == nil {
		return protocol.ErrNotTrading
	}
	if err := s.SetMoney(participant, cmd.Amount); err != nil {
		return sessionErrCode(err)
	}
	h.disarm(s)
	h.notifyBoth(s, protocol.Event{
		"type":  protocol.EvOfferUpdated,
		"by":    participant,
		"money": cmd.Amount,
	})
	return ""
}

func (h *Hall) cmdSetExp(participant string, cmd protocol.CmdMsg) string {
	if !h.tcfg.EnableExpTrade {
		return protocol.ErrBadRequest
	}
	s := h.mgr.Lookup(participant)
	if s == nil {
		return protocol.ErrNotTrading
	}
	if err := s.SetExp(participant, cmd.Exp); err != nil {
		return sessionErrCode(err)
	}
	h.disarm(s)
	h.notifyBoth(s, protocol.Event{
		"type": protocol.EvOfferUpdated,
		"by":   participant,
		"exp":  cmd.Exp,
	})
	return ""
}

func (h *Hall) cmdConfirm(participant string) string {
	s := h.mgr.Lookup(participant)
	if s == nil {
		return protocol.ErrNotTrading
	}

	h.mu.Lock()
	armed := h.armed[participant] == s.ID
	h.mu.Unlock()

	if armed {
		// This CONFIRM is the explicit acknowledgment asked for below.
		if err := h.policy.AcceptSecondary(s, participant); err != nil {
			return sessionErrCode(err)
		}
		h.mu.Lock()
		delete(h.armed, participant)
		h.mu.Unlock()
	} else {
		secondary, err := h.policy.Confirm(s, participant)
		if err != nil {
			return sessionErrCode(err)
		}
		if secondary {
			h.mu.Lock()
			h.armed[participant] = s.ID
			h.mu.Unlock()
			h.notify(participant, protocol.Event{
				"type":      protocol.EvConfirmNeeded,
				"threshold": h.tcfg.ConfirmThreshold,
			})
			return ""
		}
	}

	h.notifyBoth(s, protocol.Event{
		"type":      protocol.EvConfirmed,
		"by":        participant,
		"confirmed": true,
	})
	if s.BothConfirmed() {
		_, code := h.eng.Settle(s)
		h.disarm(s)
		return code
	}
	return ""
}

func (h *Hall) cmdUnconfirm(participant string) string {
	s := h.mgr.Lookup(participant)
	if s == nil {
		return protocol.ErrNotTrading
	}
	if err := s.SetConfirmed(participant, false); err != nil {
		return sessionErrCode(err)
	}
	h.notifyBoth(s, protocol.Event{
		"type":      protocol.EvConfirmed,
		"by":        participant,
		"confirmed": false,
	})
	return ""
}

func (h *Hall) cmdToggle(participant string) (string, protocol.Event) {
	on, err := h.settings.Toggle(participant)
	if err != nil {
		return protocol.ErrInternal, nil
	}
	return "", protocol.Event{"enabled": on}
}

func (h *Hall) cmdBlock(participant string, cmd protocol.CmdMsg) (string, protocol.Event) {
	to := normalizeName(cmd.To)
	if to == "" || to == participant {
		return protocol.ErrInvalidTarget, nil
	}
	added, err := h.settings.Block(participant, to)
	if err != nil {
		return protocol.ErrInternal, nil
	}
	return "", protocol.Event{"added": added}
}

func (h *Hall) cmdUnblock(participant string, cmd protocol.CmdMsg) (string, protocol.Event) {
	to := normalizeName(cmd.To)
	if to == "" {
		return protocol.ErrInvalidTarget, nil
	}
	removed, err := h.settings.Unblock(participant, to)
	if err != nil {
		return protocol.ErrInternal, nil
	}
	return "", protocol.Event{"removed": removed}
}

func (h *Hall) offerUpdated(s *trade.Session, by string, slot int, item string, count int) {
	h.notifyBoth(s, protocol.Event{
		"type":  protocol.EvOfferUpdated,
		"by":    by,
		"slot":  slot,
		"item":  item,
		"count": count,
	})
}

func (h *Hall) notifyBoth(s *trade.Session, ev protocol.Event) {
	h.notify(s.A, ev)
	h.notify(s.B, ev)
}

// returnItems puts items back in the participant's inventory, dropping what
// no longer fits.
func (h *Hall) returnItems(participant string, items []trade.Item) {
	h.mu.Lock()
	p := h.participants[participant]
	var overflow []trade.Item
	if p == nil {
		overflow = items
	} else {
		overflow = p.add(items)
	}
	h.mu.Unlock()
	if len(overflow) > 0 {
		h.dropItems(participant, overflow)
	}
}

func sessionErrCode(err error) string {
	switch {
	case errors.Is(err, trade.ErrClosed):
		return protocol.ErrSessionClosed
	case errors.Is(err, trade.ErrNotParticipant), errors.Is(err, trade.ErrNegativeAmount):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}
