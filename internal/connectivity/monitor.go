package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State of the link to the remote store
type State int

const (
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	}
	return "unknown"
}

// Edge is a state transition between online and offline
type Edge struct {
	Online bool
	At     time.Time
}

// Monitor is the process-wide connectivity signal. It starts unknown, which
// write routing treats as offline, and is never reset.
type Monitor struct {
	mu          sync.RWMutex
	state       State
	changedAt   time.Time
	subscribers []chan Edge
	logger      *slog.Logger
}

// NewMonitor creates a monitor in the unknown state
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger.With("component", "connectivity"),
	}
}

// Set records a connectivity observation and notifies subscribers on a transition
func (m *Monitor) Set(online bool) {
	next := StateOffline
	if online {
		next = StateOnline
	}

	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = next
	m.changedAt = time.Now().UTC()
	edge := Edge{Online: online, At: m.changedAt}
	subscribers := append([]chan Edge(nil), m.subscribers...)
	m.mu.Unlock()

	m.logger.Info("Connectivity changed", "from", prev.String(), "to", next.String())

	// From unknown to offline is not an edge anyone acts on
	if prev == StateUnknown && !online {
		return
	}
	for _, ch := range subscribers {
		select {
		case ch <- edge:
		default:
			m.logger.Warn("Dropped connectivity edge for slow subscriber", "online", online)
		}
	}
}

// IsOnline reports whether the remote store is believed reachable
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateOnline
}

// State returns the current state and when it was entered
func (m *Monitor) State() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.changedAt
}

// Subscribe returns a channel receiving edges until ctx is done
func (m *Monitor) Subscribe(ctx context.Context) <-chan Edge {
	ch := make(chan Edge, 8)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub == ch {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				break
			}
		}
	}()
	return ch
}
