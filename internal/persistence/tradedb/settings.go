package tradedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PlayerSettings is a player's trade preferences plus lifetime statistics.
// Absent rows read as the defaults (trading enabled, nobody blocked).
type PlayerSettings struct {
	Player       string    `json:"player"`
	TradeEnabled bool      `json:"trade_enabled"`
	Blocked      []string  `json:"blocked"`
	TotalTrades  int       `json:"total_trades"`
	TotalMoney   float64   `json:"total_money"`
	TotalExp     int       `json:"total_exp"`
	LastTrade    time.Time `json:"last_trade,omitempty"`
}

func defaultSettings(player string) PlayerSettings {
	return PlayerSettings{Player: player, TradeEnabled: true}
}

func (s *Store) Settings(player string) (PlayerSettings, error) {
	var (
		enabled   int
		blocked   string
		lastTrade int64
		out       = defaultSettings(player)
	)
	err := s.db.QueryRow(
		`SELECT trade_enabled, blocked, total_trades, total_money, total_exp, last_trade
		 FROM player_settings WHERE player = ?`, player,
	).Scan(&enabled, &blocked, &out.TotalTrades, &out.TotalMoney, &out.TotalExp, &lastTrade)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.TradeEnabled = enabled != 0
	if blocked != "" {
		_ = json.Unmarshal([]byte(blocked), &out.Blocked)
	}
	if lastTrade > 0 {
		out.LastTrade = time.UnixMilli(lastTrade).UTC()
	}
	return out, nil
}

// Toggle flips the player's trade-enabled flag and returns the new state.
func (s *Store) Toggle(player string) (bool, error) {
	st, err := s.Settings(player)
	if err != nil {
		return false, err
	}
	st.TradeEnabled = !st.TradeEnabled
	return st.TradeEnabled, s.writeSettings(st)
}

// Block adds target to the player's blocklist. Returns false when target was
// already blocked.
func (s *Store) Block(player, target string) (bool, error) {
	st, err := s.Settings(player)
	if err != nil {
		return false, err
	}
	for _, b := range st.Blocked {
		if b == target {
			return false, nil
		}
	}
	st.Blocked = append(st.Blocked, target)
	return true, s.writeSettings(st)
}

// Unblock removes target from the player's blocklist. Returns false when
// target was not blocked.
func (s *Store) Unblock(player, target string) (bool, error) {
	st, err := s.Settings(player)
	if err != nil {
		return false, err
	}
	kept := st.Blocked[:0]
	found := false
	for _, b := range st.Blocked {
		if b == target {
			found = true
			continue
		}
		kept = append(kept, b)
	}
	if !found {
		return false, nil
	}
	st.Blocked = kept
	return true, s.writeSettings(st)
}

func (s *Store) writeSettings(st PlayerSettings) error {
	blocked, err := json.Marshal(st.Blocked)
	if err != nil {
		return err
	}
	enabled := 0
	if st.TradeEnabled {
		enabled = 1
	}
	_, err = s.db.Exec(
		`INSERT INTO player_settings (player, trade_enabled, blocked)
		 VALUES (?,?,?)
		 ON CONFLICT(player) DO UPDATE SET
			trade_enabled = excluded.trade_enabled,
			blocked = excluded.blocked`,
		st.Player, enabled, string(blocked),
	)
	return err
}

// TradingEnabled reports whether the player accepts trade requests. Lookup
// failures read as enabled so a degraded settings store never locks the
// hall.
func (s *Store) TradingEnabled(player string) bool {
	st, err := s.Settings(player)
	if err != nil {
		return true
	}
	return st.TradeEnabled
}

// IsBlocked reports whether owner has target on their blocklist.
func (s *Store) IsBlocked(owner, target string) bool {
	st, err := s.Settings(owner)
	if err != nil {
		return false
	}
	for _, b := range st.Blocked {
		if b == target {
			return true
		}
	}
	return false
}
