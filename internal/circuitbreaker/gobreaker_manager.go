package circuitbreaker

import (
	"sort"
	"sync"

	"automation-engine/internal/common/logging"
)

// Manager keeps one breaker per name, typically a remote host.
type Manager struct {
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger
	mu       sync.Mutex
}

func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	breaker := New(name, m.config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// AllStats returns a snapshot of every breaker, sorted by name.
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	m.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Remove drops a breaker so the next Get starts closed.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[name]; exists {
		delete(m.breakers, name)
		return true
	}
	return false
}
