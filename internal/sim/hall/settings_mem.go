package hall

import "sync"

// MemSettings is the in-memory Settings store used when the hall runs
// without a database. Defaults match the persistent store: trading enabled,
// empty blocklist.
type MemSettings struct {
	mu       sync.Mutex
	disabled map[string]bool
	blocked  map[string]map[string]bool
}

func NewMemSettings() *MemSettings {
	return &MemSettings{
		disabled: map[string]bool{},
		blocked:  map[string]map[string]bool{},
	}
}

func (m *MemSettings) Toggle(player string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[player] = !m.disabled[player]
	return !m.disabled[player], nil
}

func (m *MemSettings) Block(player, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.blocked[player]
	if set == nil {
		set = map[string]bool{}
		m.blocked[player] = set
	}
	if set[target] {
		return false, nil
	}
	set[target] = true
	return true, nil
}

func (m *MemSettings) Unblock(player, target string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.blocked[player]
	if set == nil || !set[target] {
		return false, nil
	}
	delete(set, target)
	return true, nil
}

func (m *MemSettings) TradingEnabled(player string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled[player]
}

func (m *MemSettings) IsBlocked(owner, target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[owner][target]
}
