package dbmanager

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/bitechdev/NotifySpec/pkg/logger"
)

// Manager manages multiple named database connections
type Manager interface {
	// Connection retrieval
	Get(name string) (*Connection, error)
	GetDefault() (*Connection, error)
	GetDefaultDB() (*gorm.DB, error)

	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error
}

// connectionManager implements Manager
type connectionManager struct {
	connections map[string]*Connection
	config      ManagerConfig
	mu          sync.RWMutex
}

var (
	// singleton instance of the manager
	instance Manager
	// instanceMu protects the singleton instance
	instanceMu sync.RWMutex
)

// SetupManager initializes the singleton database manager with the provided configuration.
// This function must be called before GetInstance().
// Returns an error if the manager is already initialized or if configuration is invalid.
func SetupManager(cfg ManagerConfig) error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return fmt.Errorf("manager already initialized")
	}

	mgr, err := NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	instance = mgr
	return nil
}

// GetInstance returns the singleton instance of the database manager.
// Returns an error if SetupManager has not been called yet.
func GetInstance() (Manager, error) {
	instanceMu.RLock()
	defer instanceMu.RUnlock()

	if instance == nil {
		return nil, fmt.Errorf("manager not initialized: call SetupManager first")
	}

	return instance, nil
}

// ResetInstance resets the singleton instance (primarily for testing purposes).
// WARNING: This should only be used in tests. Calling this in production code
// while the manager is in use can lead to undefined behavior.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		_ = instance.Close()
	}
	instance = nil
}

// NewManager creates a new database connection manager
func NewManager(cfg ManagerConfig) (Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &connectionManager{
		connections: make(map[string]*Connection),
		config:      cfg,
	}, nil
}

// Get retrieves a named connection
func (m *connectionManager) Get(name string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, name)
	}

	return conn, nil
}

// GetDefault retrieves the default connection
func (m *connectionManager) GetDefault() (*Connection, error) {
	m.mu.RLock()
	defaultName := m.config.DefaultConnection
	m.mu.RUnlock()

	if defaultName == "" {
		return nil, ErrNoDefaultConnection
	}

	return m.Get(defaultName)
}

// GetDefaultDB returns the gorm handle of the default connection
func (m *connectionManager) GetDefaultDB() (*gorm.DB, error) {
	conn, err := m.GetDefault()
	if err != nil {
		return nil, err
	}
	return conn.DB()
}

// Connect establishes all configured database connections
func (m *connectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.config.Connections {
		connCfg := m.config.Connections[name]
		connCfg.Name = name

		conn, err := NewConnection(connCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection '%s': %w", name, err)
		}

		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect '%s': %w", name, err)
		}

		m.connections[name] = conn
		logger.Info("Database connection established: name=%s, driver=%s", name, connCfg.Driver)
	}

	logger.Info("Database manager initialized: connections=%d", len(m.connections))
	return nil
}

// Close closes all database connections
func (m *connectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, conn := range m.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection '%s': %w", name, err))
			logger.Error("Failed to close connection: name=%s, error=%v", name, err)
		} else {
			logger.Info("Connection closed: name=%s", name)
		}
	}

	m.connections = make(map[string]*Connection)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}

	logger.Info("Database manager closed")
	return nil
}

// HealthCheck performs health checks on all connections
func (m *connectionManager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	connections := make(map[string]*Connection, len(m.connections))
	for name, conn := range m.connections {
		connections[name] = conn
	}
	m.mu.RUnlock()

	var errs []error
	for name, conn := range connections {
		if err := conn.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connection '%s': %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("health check failed for %d connections: %v", len(errs), errs)
	}

	return nil
}
