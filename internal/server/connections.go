package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager tracks live websockets by connection id. The connection
// id doubles as the session-scoped player id, so no extra token indirection
// is needed.
type ConnectionManager struct {
	connections map[string]*websocket.Conn
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
	}
}

func (cm *ConnectionManager) Add(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

func (cm *ConnectionManager) Remove(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.connections, id)
}

func (cm *ConnectionManager) Get(id string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[id]
}

// All returns a snapshot of every live connection so broadcasts never hold
// the lock while writing to sockets.
func (cm *ConnectionManager) All() map[string]*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	snapshot := make(map[string]*websocket.Conn, len(cm.connections))
	for id, conn := range cm.connections {
		snapshot[id] = conn
	}
	return snapshot
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}
