package hall

import (
	"sort"

	"tradehall.ai/internal/protocol"
	"tradehall.ai/internal/trade"
)

// Participant is one connected trader. All fields are guarded by the hall
// mutex; the hall loop and the notifier adapters are the only writers.
type Participant struct {
	ID      string
	Name    string
	WorldID string
	Pos     [3]int

	Balance float64
	Exp     int

	Inventory map[string]int
	InvSlots  int // distinct item kinds; 0 means unlimited

	events []protocol.Event
	out    chan []byte
}

func (p *Participant) addEvent(ev protocol.Event) {
	p.events = append(p.events, ev)
}

func (p *Participant) takeEvents() []protocol.Event {
	ev := p.events
	p.events = nil
	return ev
}

// has reports whether the participant holds at least count of item.
func (p *Participant) has(item string, count int) bool {
	return count > 0 && p.Inventory[item] >= count
}

func (p *Participant) remove(item string, count int) {
	p.Inventory[item] -= count
	if p.Inventory[item] <= 0 {
		delete(p.Inventory, item)
	}
}

// add merges items into the inventory, honoring the slot limit for item
// kinds the participant does not already carry. Returns what did not fit.
func (p *Participant) add(items []trade.Item) (overflow []trade.Item) {
	for _, it := range items {
		if it.Count <= 0 {
			continue
		}
		if p.Inventory[it.Item] > 0 || p.InvSlots <= 0 || len(p.Inventory) < p.InvSlots {
			p.Inventory[it.Item] += it.Count
			continue
		}
		overflow = append(overflow, it)
	}
	return overflow
}

func (p *Participant) inventoryList() []trade.Item {
	out := make([]trade.Item, 0, len(p.Inventory))
	for item, c := range p.Inventory {
		if c <= 0 {
			continue
		}
		out = append(out, trade.Item{Item: item, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}
