package hall

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tradehall.ai/internal/protocol"
	"tradehall.ai/internal/trade"
)

func newTestHall(t *testing.T, mutate func(*trade.Config)) *Hall {
	t.Helper()
	tcfg := trade.Defaults()
	tcfg.MoneyTaxRate = 0.1
	tcfg.ExpTaxRate = 0.1
	if mutate != nil {
		mutate(&tcfg)
	}
	return New(Config{WorldID: "hall-0", StarterBalance: 1000, StarterExp: 500, InvSlots: 4}, tcfg, nil, nil, nil)
}

func joinHall(t *testing.T, h *Hall, name string) {
	t.Helper()
	resp := make(chan JoinResponse, 1)
	h.handleJoin(JoinRequest{Name: name, Resp: resp})
	r := <-resp
	if r.Err != "" {
		t.Fatalf("join %s: %s", name, r.Err)
	}
	if r.Welcome.ParticipantID != name {
		t.Fatalf("join %s: got participant id %q", name, r.Welcome.ParticipantID)
	}
}

func give(h *Hall, name, item string, count int) {
	h.mu.Lock()
	h.participants[name].Inventory[item] += count
	h.mu.Unlock()
}

func held(h *Hall, name, item string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.participants[name].Inventory[item]
}

func balance(h *Hall, name string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.participants[name].Balance
}

// drain empties a participant's event buffer.
func drain(h *Hall, name string) []protocol.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.participants[name]; p != nil {
		return p.takeEvents()
	}
	return nil
}

func kinds(events []protocol.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		if k, ok := ev["type"].(string); ok {
			out = append(out, k)
		}
	}
	return out
}

func lastResult(t *testing.T, events []protocol.Event) protocol.Event {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i]["type"] == protocol.EvCmdResult {
			return events[i]
		}
	}
	t.Fatal("no CMD_RESULT in events")
	return nil
}

func mustOK(t *testing.T, h *Hall, name string, cmd protocol.CmdMsg) []protocol.Event {
	t.Helper()
	h.applyCmd(name, cmd)
	events := drain(h, name)
	res := lastResult(t, events)
	if res["ok"] != true {
		t.Fatalf("%s %s failed: %v", name, cmd.Kind, res["code"])
	}
	return events
}

func mustFail(t *testing.T, h *Hall, name string, cmd protocol.CmdMsg, code string) {
	t.Helper()
	h.applyCmd(name, cmd)
	res := lastResult(t, drain(h, name))
	if res["ok"] != false {
		t.Fatalf("%s %s unexpectedly succeeded", name, cmd.Kind)
	}
	if res["code"] != code {
		t.Fatalf("%s %s: got code %v, want %s", name, cmd.Kind, res["code"], code)
	}
}

func startTrade(t *testing.T, h *Hall, a, b string) {
	t.Helper()
	mustOK(t, h, a, protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: b})
	mustOK(t, h, b, protocol.CmdMsg{Kind: protocol.CmdTradeAccept})
	if h.mgr.Lookup(a) == nil || h.mgr.Lookup(b) == nil {
		t.Fatal("session not started for both parties")
	}
}

func TestFullTradeFlow(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")
	give(h, "alice", "iron_ingot", 10)

	startTrade(t, h, "alice", "bob")

	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "iron_ingot", Count: 10})
	if held(h, "alice", "iron_ingot") != 0 {
		t.Fatal("offered items should leave the inventory immediately")
	}
	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdSetMoney, Amount: 200})

	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdConfirm})
	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdConfirm})

	if h.mgr.Lookup("alice") != nil {
		t.Fatal("session should be closed after settlement")
	}
	if held(h, "bob", "iron_ingot") != 10 {
		t.Fatalf("bob should hold the ingots, has %d", held(h, "bob", "iron_ingot"))
	}
	// bob paid 200, alice received 200 minus 10% tax.
	if got := balance(h, "bob"); got != 800 {
		t.Fatalf("bob balance = %v, want 800", got)
	}
	if got := balance(h, "alice"); got != 1180 {
		t.Fatalf("alice balance = %v, want 1180", got)
	}
}

func TestEscrowReplaceAndClear(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")
	give(h, "alice", "iron_ingot", 5)
	give(h, "alice", "oak_log", 3)
	startTrade(t, h, "alice", "bob")

	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "iron_ingot", Count: 5})
	// Replacing the slot returns the ingots.
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "oak_log", Count: 3})
	if held(h, "alice", "iron_ingot") != 5 || held(h, "alice", "oak_log") != 0 {
		t.Fatalf("replace escrow wrong: ingot=%d log=%d", held(h, "alice", "iron_ingot"), held(h, "alice", "oak_log"))
	}
	// Clearing returns the logs.
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0})
	if held(h, "alice", "oak_log") != 3 {
		t.Fatal("clearing the slot should return the stack")
	}

	mustFail(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "diamond", Count: 1}, protocol.ErrNoResource)
	mustFail(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "iron_ingot", Count: 6}, protocol.ErrNoResource)
}

func TestCancelReturnsEscrow(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")
	give(h, "alice", "iron_ingot", 5)
	startTrade(t, h, "alice", "bob")

	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "iron_ingot", Count: 5})
	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdTradeCancel})

	if held(h, "alice", "iron_ingot") != 5 {
		t.Fatal("cancel should return escrowed items")
	}
	if h.mgr.Lookup("alice") != nil {
		t.Fatal("session should be gone after cancel")
	}
	if ks := kinds(drain(h, "alice")); !contains(ks, protocol.EvCancelled) {
		t.Fatalf("alice should see CANCELLED, got %v", ks)
	}
}

func TestSecondaryConfirmation(t *testing.T) {
	h := newTestHall(t, func(c *trade.Config) { c.ConfirmThreshold = 100 })
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")
	startTrade(t, h, "alice", "bob")

	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetMoney, Amount: 150})

	// First CONFIRM is intercepted by the secondary step.
	events := mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdConfirm})
	if !contains(kinds(events), protocol.EvConfirmNeeded) {
		t.Fatalf("expected CONFIRM_NEEDED, got %v", kinds(events))
	}
	s := h.mgr.Lookup("alice")
	if s.Confirmed("alice") {
		t.Fatal("confirmation must be withheld until the acknowledgment")
	}

	// Second CONFIRM acknowledges and applies.
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdConfirm})
	if !s.Confirmed("alice") {
		t.Fatal("acknowledged confirmation should stick")
	}

	// Editing the offer disarms the acknowledgment and resets confirmations.
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetMoney, Amount: 180})
	events = mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdConfirm})
	if !contains(kinds(events), protocol.EvConfirmNeeded) {
		t.Fatal("re-edited large offer must escalate again")
	}
}

func TestToggleAndBlockGates(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")

	events := mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdToggle})
	if lastResult(t, events)["enabled"] != false {
		t.Fatal("first toggle should disable trading")
	}
	mustFail(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "bob"}, protocol.ErrPeerDisabled)
	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdToggle})

	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdBlock, To: "alice"})
	mustFail(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "bob"}, protocol.ErrBlocked)
	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdUnblock, To: "alice"})
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "bob"})
}

func TestDistanceGate(t *testing.T) {
	h := newTestHall(t, func(c *trade.Config) { c.MaxDistance = 10 })
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")

	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdMove, Pos: [3]int{100, 0, 0}})
	mustFail(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "bob"}, protocol.ErrOutOfRange)

	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdMove, Pos: [3]int{3, 0, 4}})
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "bob"})
}

func TestCrossedRequestsAutoMatch(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")

	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "bob"})
	events := mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdTradeRequest, To: "alice"})
	if !contains(kinds(events), protocol.EvSessionStarted) {
		t.Fatalf("crossed request should start a session, got %v", kinds(events))
	}
	if h.mgr.Lookup("alice") == nil {
		t.Fatal("session should exist")
	}
}

func TestLeaveCancelsSession(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")
	give(h, "bob", "oak_log", 7)
	startTrade(t, h, "alice", "bob")
	mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "oak_log", Count: 7})

	h.handleLeave("alice")

	if h.mgr.Lookup("bob") != nil {
		t.Fatal("session should be cancelled when a party leaves")
	}
	if held(h, "bob", "oak_log") != 7 {
		t.Fatal("remaining party should get escrowed items back")
	}
	if h.Population() != 1 {
		t.Fatalf("population = %d, want 1", h.Population())
	}
}

func TestDuplicateJoinRejected(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")

	resp := make(chan JoinResponse, 1)
	h.handleJoin(JoinRequest{Name: "Alice", Resp: resp})
	if r := <-resp; r.Err != protocol.ErrInvalidTarget {
		t.Fatalf("duplicate join: got %q", r.Err)
	}
}

func TestRunLoopEndToEnd(t *testing.T) {
	h := newTestHall(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	out := make(chan []byte, 16)
	resp := make(chan JoinResponse, 1)
	h.Join() <- JoinRequest{Name: "alice", Out: out, Resp: resp}
	if r := <-resp; r.Err != "" {
		t.Fatalf("join: %s", r.Err)
	}
	resp2 := make(chan JoinResponse, 1)
	h.Join() <- JoinRequest{Name: "bob", Resp: resp2}
	<-resp2

	h.Inbox() <- CmdEnvelope{ParticipantID: "alice", Cmd: protocol.CmdMsg{ID: "c1", Kind: protocol.CmdTradeRequest, To: "bob"}}

	select {
	case b := <-out:
		var msg protocol.EventsMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("bad EVT frame: %v", err)
		}
		if msg.Type != protocol.TypeEvents || len(msg.Events) == 0 {
			t.Fatalf("unexpected frame: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no EVT frame delivered")
	}

	h.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestInventorySlotOverflowOnSettle(t *testing.T) {
	h := newTestHall(t, nil)
	joinHall(t, h, "alice")
	joinHall(t, h, "bob")
	give(h, "alice", "a1", 1)
	give(h, "alice", "a2", 1)
	// Fill bob's four slots so a new kind cannot land.
	for _, it := range []string{"b1", "b2", "b3", "b4"} {
		give(h, "bob", it, 1)
	}
	startTrade(t, h, "alice", "bob")
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 0, Item: "a1", Count: 1})
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdSetItem, Slot: 1, Item: "a2", Count: 1})
	mustOK(t, h, "alice", protocol.CmdMsg{Kind: protocol.CmdConfirm})
	events := mustOK(t, h, "bob", protocol.CmdMsg{Kind: protocol.CmdConfirm})

	if held(h, "bob", "a1") != 0 || held(h, "bob", "a2") != 0 {
		t.Fatal("full inventory should not receive new kinds")
	}
	if ks := kinds(events); !contains(ks, protocol.EvItemDropped) {
		t.Fatalf("bob should see ITEM_DROPPED, got %v", ks)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
