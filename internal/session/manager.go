package session

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Namespace is the storage namespace of a Telegram chat.
func Namespace(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

type managedMachine struct {
	machine  *Machine
	lastUsed time.Time
}

// Manager keeps one Machine per namespace, created on first use.
type Manager struct {
	mu       sync.Mutex
	deps     Deps
	machines map[string]*managedMachine
}

func NewManager(deps Deps) *Manager {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		deps:     deps,
		machines: make(map[string]*managedMachine),
	}
}

// Get returns the namespace's machine. A new machine loads from storage
// without holding the manager lock; if two callers race, the first insert wins.
func (m *Manager) Get(ctx context.Context, namespace string) *Machine {
	if machine, ok := m.lookup(namespace); ok {
		return machine
	}

	built := NewMachine(ctx, namespace, m.deps)

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.machines[namespace]; ok {
		entry.lastUsed = m.deps.Now()
		return entry.machine
	}
	m.machines[namespace] = &managedMachine{machine: built, lastUsed: m.deps.Now()}
	return built
}

func (m *Manager) lookup(namespace string) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.machines[namespace]
	if !ok {
		return nil, false
	}
	entry.lastUsed = m.deps.Now()
	return entry.machine, true
}

// Len reports how many machines are cached.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.machines)
}

// EvictIdle drops machines unused for longer than idle. Machines with a
// request in flight are kept. It returns the number evicted.
func (m *Manager) EvictIdle(idle time.Duration) int {
	cutoff := m.deps.Now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for namespace, entry := range m.machines {
		if entry.lastUsed.After(cutoff) || entry.machine.busy() {
			continue
		}
		delete(m.machines, namespace)
		evicted++
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is cancelled.
func (m *Manager) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(idle); n > 0 {
				m.deps.Log.Debug("evicted idle sessions", "count", n, "remaining", m.Len())
			}
		}
	}
}
