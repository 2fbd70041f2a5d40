package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Stats is a point-in-time snapshot of the server counters.
type Stats struct {
	ActiveConnections int    `json:"active_connections"`
	AcceptedTotal     uint64 `json:"accepted_total"`
	UpgradeFailures   uint64 `json:"upgrade_failures"`
	LoginRequests     uint64 `json:"login_requests"`
	LoginsRejected    uint64 `json:"logins_rejected"`
	DroppedMessages   uint64 `json:"dropped_messages"`
}

type ConnectionManager struct {
	clients map[string]*ClientConnection
	// key: client ID, value: live connection
	// only used for counting and for closing everything on process exit,
	// never for routing messages between connections
	mu     sync.RWMutex
	logger *slog.Logger

	accepted        atomic.Uint64
	upgradeFailures atomic.Uint64
	loginRequests   atomic.Uint64
	loginsRejected  atomic.Uint64
	dropped         atomic.Uint64
}

// constructor for ConnectionManager
func NewConnectionManager(logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  logger,
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	m.logger.Debug("client_added",
		"client_id", client.ID,
	)
}

// method to remove a connection
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.ID)
	m.logger.Debug("client_removed",
		"client_id", client.ID,
	)
}

// CloseAllConnections closes every live channel; their read loops then exit on their own.
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
	m.clients = make(map[string]*ClientConnection)
}

func (m *ConnectionManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) Stats() Stats {
	return Stats{
		ActiveConnections: m.ConnectionCount(),
		AcceptedTotal:     m.accepted.Load(),
		UpgradeFailures:   m.upgradeFailures.Load(),
		LoginRequests:     m.loginRequests.Load(),
		LoginsRejected:    m.loginsRejected.Load(),
		DroppedMessages:   m.dropped.Load(),
	}
}

func (m *ConnectionManager) recordAccepted()       { m.accepted.Add(1) }
func (m *ConnectionManager) recordUpgradeFailure() { m.upgradeFailures.Add(1) }
func (m *ConnectionManager) recordDropped()        { m.dropped.Add(1) }

func (m *ConnectionManager) recordLogin(success bool) {
	m.loginRequests.Add(1)
	if !success {
		m.loginsRejected.Add(1)
	}
}
