package dbmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bitechdev/NotifySpec/pkg/logger"
)

// Connection is one named gorm connection with lifecycle management
type Connection struct {
	cfg ConnectionConfig

	mu        sync.RWMutex
	db        *gorm.DB
	connected bool
}

// NewConnection creates an unconnected Connection from configuration
func NewConnection(cfg ConnectionConfig) (*Connection, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connection{cfg: cfg}, nil
}

// Name returns the connection name
func (c *Connection) Name() string {
	return c.cfg.Name
}

// Connect opens the underlying database and configures the pool
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return NewConnectionError(c.cfg.Name, "connect", ErrAlreadyConnected)
	}

	dialector, err := openDialector(c.cfg)
	if err != nil {
		return NewConnectionError(c.cfg.Name, "connect", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return NewConnectionError(c.cfg.Name, "connect", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return NewConnectionError(c.cfg.Name, "connect", err)
	}
	sqlDB.SetMaxOpenConns(c.cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(c.cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return NewConnectionError(c.cfg.Name, "ping", err)
	}

	c.db = db
	c.connected = true
	return nil
}

// Close closes the underlying database
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		return NewConnectionError(c.cfg.Name, "close", err)
	}
	if err := sqlDB.Close(); err != nil {
		return NewConnectionError(c.cfg.Name, "close", err)
	}

	c.db = nil
	c.connected = false
	return nil
}

// HealthCheck pings the database
func (c *Connection) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	db := c.db
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return NewConnectionError(c.cfg.Name, "health check", ErrConnectionClosed)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return NewConnectionError(c.cfg.Name, "health check", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return NewConnectionError(c.cfg.Name, "health check", err)
	}
	return nil
}

// Reconnect closes and reopens the connection
func (c *Connection) Reconnect(ctx context.Context) error {
	if err := c.Close(); err != nil {
		logger.Warn("Close before reconnect failed: name=%s, error=%v", c.cfg.Name, err)
	}
	return c.Connect(ctx)
}

// DB returns the gorm handle, or an error if the connection is closed
func (c *Connection) DB() (*gorm.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, NewConnectionError(c.cfg.Name, "db", ErrConnectionClosed)
	}
	return c.db, nil
}

// openDialector maps a driver name to a gorm dialector
func openDialector(cfg ConnectionConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverSQLite:
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}
