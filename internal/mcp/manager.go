package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns the clients for every server a program configures. Startup
// is fail-fast: a server that cannot be reached or lists no usable tools is
// a startup error, not a silent degradation.
type Manager struct {
	servers map[string]*ServerConfig
	logger  *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager creates a manager over the named server configs.
func NewManager(servers map[string]*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		servers: servers,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Start connects to every configured server.
func (m *Manager) Start(ctx context.Context) error {
	for name := range m.servers {
		if err := m.Connect(ctx, name); err != nil {
			m.Stop()
			return fmt.Errorf("mcp server %q: %w", name, err)
		}
	}
	return nil
}

// Connect connects one server by name.
func (m *Manager) Connect(ctx context.Context, name string) error {
	cfg, ok := m.servers[name]
	if !ok {
		return fmt.Errorf("server %q not found in config", name)
	}

	m.mu.RLock()
	_, exists := m.clients[name]
	m.mu.RUnlock()
	if exists {
		return nil
	}

	client := NewClient(cfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[name] = client
	m.mu.Unlock()
	return nil
}

// Client returns the connected client for a server.
func (m *Manager) Client(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[name]
	return client, ok
}

// Stop closes all connections.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
}
