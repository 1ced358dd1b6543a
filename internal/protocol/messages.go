package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	WorldPreference string `json:"world_preference,omitempty"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ParticipantID   string     `json:"participant_id"`
	WorldID         string     `json:"world_id"`
	HallParams      HallParams `json:"hall_params"`
}

// HallParams tells clients the negotiated trade rules up front so UIs can
// render tax and threshold hints without a round trip.
type HallParams struct {
	RequestTimeoutS  int     `json:"request_timeout_s"`
	MaxDistance      float64 `json:"max_distance"`
	AllowCrossWorld  bool    `json:"allow_cross_world"`
	EnableMoneyTrade bool    `json:"enable_money_trade"`
	EnableExpTrade   bool    `json:"enable_exp_trade"`
	MoneyTaxRate     float64 `json:"money_tax_rate"`
	ExpTaxRate       float64 `json:"exp_tax_rate"`
	ConfirmThreshold float64 `json:"confirm_threshold"`
}

// Command kinds carried in CMD messages.
const (
	CmdTradeRequest = "TRADE_REQUEST"
	CmdTradeAccept  = "TRADE_ACCEPT"
	CmdTradeDeny    = "TRADE_DENY"
	CmdTradeCancel  = "TRADE_CANCEL"
	CmdSetItem      = "SET_ITEM"
	CmdSetMoney     = "SET_MONEY"
	CmdSetExp       = "SET_EXP"
	CmdConfirm      = "CONFIRM"
	CmdUnconfirm    = "UNCONFIRM"
	CmdToggle       = "TOGGLE"
	CmdBlock        = "BLOCK"
	CmdUnblock      = "UNBLOCK"
	CmdMove         = "MOVE"
)

// CMD (client -> server). One command per message; ID is echoed back in the
// CMD_RESULT event so clients can correlate.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Kind            string `json:"kind"`

	// TRADE_REQUEST / BLOCK / UNBLOCK target.
	To string `json:"to,omitempty"`

	// SET_ITEM payload.
	Slot  int    `json:"slot,omitempty"`
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`

	// SET_MONEY / SET_EXP payloads.
	Amount float64 `json:"amount,omitempty"`
	Exp    int     `json:"exp,omitempty"`

	// MOVE payload.
	Pos [3]int `json:"pos,omitempty"`
}

// EVT (server -> client): a batch of pending events for this participant.
type EventsMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Events          []Event `json:"events"`
}

// Event kinds emitted by the hall.
const (
	EvCmdResult       = "CMD_RESULT"
	EvRequestSent     = "REQUEST_SENT"
	EvRequestReceived = "REQUEST_RECEIVED"
	EvRequestDenied   = "REQUEST_DENIED"
	EvRequestExpired  = "REQUEST_EXPIRED"
	EvSessionStarted  = "SESSION_STARTED"
	EvOfferUpdated    = "OFFER_UPDATED"
	EvConfirmed       = "CONFIRMED"
	EvConfirmNeeded   = "CONFIRM_NEEDED"
	EvSettled         = "SETTLED"
	EvCancelled       = "CANCELLED"
	EvItemDropped     = "ITEM_DROPPED"
)
