package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Command layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrInternal      = "E_INTERNAL"

	// Request lifecycle rejections.
	ErrAlreadyTrading   = "E_ALREADY_TRADING"
	ErrPeerTrading      = "E_PEER_TRADING"
	ErrTradeDisabled    = "E_TRADE_DISABLED"
	ErrPeerDisabled     = "E_PEER_DISABLED"
	ErrBlocked          = "E_BLOCKED"
	ErrBlockedByYou     = "E_BLOCKED_BY_YOU"
	ErrCrossWorld       = "E_CROSS_WORLD"
	ErrOutOfRange       = "E_OUT_OF_RANGE"
	ErrDuplicateRequest = "E_DUPLICATE_REQUEST"
	ErrPeerBusy         = "E_PEER_BUSY"
	ErrNoPendingRequest = "E_NO_PENDING_REQUEST"
	ErrSenderOffline    = "E_SENDER_OFFLINE"

	// Negotiation/settlement.
	ErrNotTrading        = "E_NOT_TRADING"
	ErrSessionClosed     = "E_SESSION_CLOSED"
	ErrUnreachable       = "E_UNREACHABLE"
	ErrInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ErrInsufficientExp   = "E_INSUFFICIENT_EXP"
	ErrNoResource        = "E_NO_RESOURCE"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrBadRequest:        {},
	ErrInvalidTarget:     {},
	ErrInternal:          {},
	ErrAlreadyTrading:    {},
	ErrPeerTrading:       {},
	ErrTradeDisabled:     {},
	ErrPeerDisabled:      {},
	ErrBlocked:           {},
	ErrBlockedByYou:      {},
	ErrCrossWorld:        {},
	ErrOutOfRange:        {},
	ErrDuplicateRequest:  {},
	ErrPeerBusy:          {},
	ErrNoPendingRequest:  {},
	ErrSenderOffline:     {},
	ErrNotTrading:        {},
	ErrSessionClosed:     {},
	ErrUnreachable:       {},
	ErrInsufficientFunds: {},
	ErrInsufficientExp:   {},
	ErrNoResource:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
