package hall

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"tradehall.ai/internal/protocol"
	"tradehall.ai/internal/trade"
)

// Config holds hall-level parameters. Trade rules live in trade.Config.
type Config struct {
	WorldID string

	// Seed state handed to every joining participant.
	StarterBalance float64
	StarterExp     int
	StarterItems   map[string]int
	InvSlots       int

	// How often buffered events are flushed to clients.
	FlushInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.WorldID == "" {
		c.WorldID = "hall-0"
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.InvSlots == 0 {
		c.InvSlots = 36
	}
}

// Settings is the per-player preference store consulted by the request gate.
// *tradedb.Store satisfies it; tests and db-less deployments use the
// in-memory variant.
type Settings interface {
	Toggle(player string) (bool, error)
	Block(player, target string) (bool, error)
	Unblock(player, target string) (bool, error)
	TradingEnabled(player string) bool
	IsBlocked(owner, target string) bool
}

type JoinRequest struct {
	Name    string
	WorldID string
	Pos     [3]int
	Out     chan []byte
	Resp    chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Err     string
}

type CmdEnvelope struct {
	ParticipantID string
	Cmd           protocol.CmdMsg
}

// Hall hosts the connected participants and routes their commands through
// the trade core. Joins, leaves and commands are serialized on one loop
// goroutine; the participant map and event buffers carry a mutex because the
// expiry sweeper delivers notifications from its own goroutine.
type Hall struct {
	cfg  Config
	tcfg trade.Config
	log  *log.Logger

	mu           sync.Mutex
	participants map[string]*Participant

	mgr      *trade.Manager
	reg      *trade.Registry
	policy   trade.ConfirmPolicy
	eng      *trade.Engine
	settings Settings

	// participant -> session ID whose next CONFIRM counts as the explicit
	// secondary acknowledgment.
	armed map[string]string

	join  chan JoinRequest
	leave chan string
	inbox chan CmdEnvelope
	stop  chan struct{}
}

func New(cfg Config, tcfg trade.Config, settings Settings, sink trade.SettledSink, logger *log.Logger) *Hall {
	cfg.applyDefaults()
	if settings == nil {
		settings = NewMemSettings()
	}
	h := &Hall{
		cfg:          cfg,
		tcfg:         tcfg,
		log:          logger,
		participants: map[string]*Participant{},
		mgr:          trade.NewManager(),
		settings:     settings,
		armed:        map[string]string{},
		join:         make(chan JoinRequest, 16),
		leave:        make(chan string, 16),
		inbox:        make(chan CmdEnvelope, 256),
		stop:         make(chan struct{}),
	}
	h.reg = trade.NewRegistry(h.mgr, (*hallGate)(h), (*hallPresence)(h), (*hallNotifier)(h), tcfg)
	h.policy = trade.ConfirmPolicy{Threshold: tcfg.ConfirmThreshold}
	h.eng = trade.NewEngine(tcfg, h.mgr, (*hallLedger)(h), (*hallInventory)(h), (*hallNotifier)(h), (*hallPresence)(h), sink, h.dropItems, logger)
	return h
}

// Registry exposes the request registry so the server can attach the expiry
// sweeper to it.
func (h *Hall) Registry() *trade.Registry { return h.reg }

func (h *Hall) Join() chan<- JoinRequest  { return h.join }
func (h *Hall) Leave() chan<- string      { return h.leave }
func (h *Hall) Inbox() chan<- CmdEnvelope { return h.inbox }

func (h *Hall) Stop() { close(h.stop) }

func (h *Hall) Run(ctx context.Context) error {
	flush := time.NewTicker(h.cfg.FlushInterval)
	defer flush.Stop()

	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case req := <-h.join:
			h.handleJoin(req)
		case id := <-h.leave:
			h.handleLeave(id)
		case env := <-h.inbox:
			h.applyCmd(env.ParticipantID, env.Cmd)
			h.flushAll()
		case <-flush.C:
			h.flushAll()
		}
	}
}

// shutdown cancels every open session so escrowed items and confirmations do
// not evaporate with the process.
func (h *Hall) shutdown() {
	for _, s := range h.mgr.Sessions() {
		h.eng.Cancel(s, "shutdown")
	}
	h.flushAll()
}

func (h *Hall) handleJoin(req JoinRequest) {
	id := normalizeName(req.Name)
	resp := JoinResponse{}
	if id == "" {
		resp.Err = protocol.ErrBadRequest
	} else {
		h.mu.Lock()
		if _, taken := h.participants[id]; taken {
			resp.Err = protocol.ErrInvalidTarget
		} else {
			p := &Participant{
				ID:        id,
				Name:      req.Name,
				WorldID:   req.WorldID,
				Pos:       req.Pos,
				Balance:   h.cfg.StarterBalance,
				Exp:       h.cfg.StarterExp,
				Inventory: map[string]int{},
				InvSlots:  h.cfg.InvSlots,
				out:       req.Out,
			}
			if p.WorldID == "" {
				p.WorldID = h.cfg.WorldID
			}
			for item, n := range h.cfg.StarterItems {
				if item != "" && n > 0 {
					p.Inventory[item] = n
				}
			}
			h.participants[id] = p
			resp.Welcome = protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				ParticipantID:   id,
				WorldID:         p.WorldID,
				HallParams: protocol.HallParams{
					RequestTimeoutS:  int(h.tcfg.RequestTimeout / time.Second),
					MaxDistance:      h.tcfg.MaxDistance,
					AllowCrossWorld:  h.tcfg.AllowCrossWorld,
					EnableMoneyTrade: h.tcfg.EnableMoneyTrade,
					EnableExpTrade:   h.tcfg.EnableExpTrade,
					MoneyTaxRate:     h.tcfg.MoneyTaxRate,
					ExpTaxRate:       h.tcfg.ExpTaxRate,
					ConfirmThreshold: h.tcfg.ConfirmThreshold,
				},
			}
		}
		h.mu.Unlock()
	}
	if req.Resp != nil {
		req.Resp <- resp
	}
}

// handleLeave cancels the participant's open session and drops any request
// addressed to them before removing them from the hall.
func (h *Hall) handleLeave(id string) {
	if s := h.mgr.Lookup(id); s != nil {
		h.eng.Cancel(s, "peer_disconnected")
		h.disarm(s)
	}
	h.reg.Drop(id)

	h.mu.Lock()
	delete(h.participants, id)
	delete(h.armed, id)
	h.mu.Unlock()

	h.flushAll()
}

func (h *Hall) dropItems(participant string, items []trade.Item) {
	for _, it := range items {
		h.notify(participant, protocol.Event{
			"type":  protocol.EvItemDropped,
			"item":  it.Item,
			"count": it.Count,
		})
	}
	if h.log != nil {
		h.log.Printf("hall: dropped %d overflow stack(s) for %s", len(items), participant)
	}
}

func (h *Hall) notify(participant string, ev protocol.Event) {
	h.mu.Lock()
	if p := h.participants[participant]; p != nil {
		p.addEvent(ev)
	}
	h.mu.Unlock()
}

func (h *Hall) disarm(s *trade.Session) {
	h.mu.Lock()
	if h.armed[s.A] == s.ID {
		delete(h.armed, s.A)
	}
	if h.armed[s.B] == s.ID {
		delete(h.armed, s.B)
	}
	h.mu.Unlock()
}

func (h *Hall) flushAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.participants {
		if p.out == nil || len(p.events) == 0 {
			continue
		}
		msg := protocol.EventsMsg{
			Type:            protocol.TypeEvents,
			ProtocolVersion: protocol.Version,
			Events:          p.takeEvents(),
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		sendLatest(p.out, b)
	}
}

// sendLatest enqueues without blocking, evicting the oldest frame when the
// client cannot keep up.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func normalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if len(name) > 32 {
		name = name[:32]
	}
	for _, r := range name {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return ""
		}
	}
	return name
}

func dist(a, b [3]int) float64 {
	dx := float64(a[0] - b[0])
	dy := float64(a[1] - b[1])
	dz := float64(a[2] - b[2])
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Snapshot reports a participant's current holdings. Admin/debug surface.
func (h *Hall) Snapshot(participant string) (balance float64, exp int, items []trade.Item, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.participants[participant]
	if p == nil {
		return 0, 0, nil, false
	}
	return p.Balance, p.Exp, p.inventoryList(), true
}

// Population reports how many participants are in the hall.
func (h *Hall) Population() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.participants)
}

// OpenSessions reports how many negotiations are currently open.
func (h *Hall) OpenSessions() int { return len(h.mgr.Sessions()) }
