// Package session serves live dialogue sessions over WebSocket.
package session

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Manager tracks the open dialogue connections of each learner.
type Manager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Register adds a connection for a learner under connID.
func (m *Manager) Register(learnerID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[learnerID]; !exists {
		m.active[learnerID] = make(map[string]*websocket.Conn)
	}
	m.active[learnerID][connID] = conn
	slog.Info("Dialogue session registered", "learner_id", learnerID, "conn_id", connID)
}

// Unregister removes the connection if it is still the one registered under connID.
func (m *Manager) Unregister(learnerID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[learnerID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, learnerID)
			}
			slog.Info("Dialogue session unregistered", "learner_id", learnerID, "conn_id", connID)
		}
	}
}

// Count returns the number of open connections for learnerID, or of all learners
// when learnerID is empty.
func (m *Manager) Count(learnerID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if learnerID != "" {
		return len(m.active[learnerID])
	}
	n := 0
	for _, conns := range m.active {
		n += len(conns)
	}
	return n
}

// CloseAll closes every open connection. Used on shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]map[string]*websocket.Conn)
	m.mu.Unlock()

	// Close blocks on the closing handshake; run it outside the lock.
	for learnerID, conns := range active {
		for id, conn := range conns {
			if err := conn.Close(websocket.StatusGoingAway, reason); err != nil {
				slog.Debug("Failed to close dialogue session", "error", err, "learner_id", learnerID, "conn_id", id)
			}
		}
	}
}
