package dbmanager

import (
	"fmt"
	"time"
)

// Driver names understood by the connection factory
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ConnectionConfig describes one named database connection
type ConnectionConfig struct {
	Name            string        `mapstructure:"name"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ApplyDefaults fills in any missing pool settings
func (c *ConnectionConfig) ApplyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
}

// Validate checks the connection configuration
func (c *ConnectionConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDriver, c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("%w: empty DSN for connection '%s'", ErrInvalidConfiguration, c.Name)
	}
	return nil
}

// ManagerConfig describes the full set of named connections
type ManagerConfig struct {
	DefaultConnection string                      `mapstructure:"default_connection"`
	Connections       map[string]ConnectionConfig `mapstructure:"connections"`
}

// ApplyDefaults fills in defaults for every connection
func (c *ManagerConfig) ApplyDefaults() {
	if c.DefaultConnection == "" && len(c.Connections) == 1 {
		for name := range c.Connections {
			c.DefaultConnection = name
		}
	}
	for name, conn := range c.Connections {
		conn.Name = name
		conn.ApplyDefaults()
		c.Connections[name] = conn
	}
}

// Validate checks the manager configuration
func (c *ManagerConfig) Validate() error {
	if len(c.Connections) == 0 {
		return fmt.Errorf("%w: no connections configured", ErrInvalidConfiguration)
	}
	if c.DefaultConnection != "" {
		if _, ok := c.Connections[c.DefaultConnection]; !ok {
			return fmt.Errorf("%w: default connection '%s' not configured", ErrInvalidConfiguration, c.DefaultConnection)
		}
	}
	for _, conn := range c.Connections {
		if err := conn.Validate(); err != nil {
			return err
		}
	}
	return nil
}
