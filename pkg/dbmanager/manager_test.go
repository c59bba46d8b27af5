package dbmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteConfig() ManagerConfig {
	return ManagerConfig{
		DefaultConnection: "test",
		Connections: map[string]ConnectionConfig{
			"test": {
				Driver: DriverSQLite,
				DSN:    ":memory:",
			},
		},
	}
}

func TestManagerConnectAndGet(t *testing.T) {
	mgr, err := NewManager(sqliteConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	defer mgr.Close()

	conn, err := mgr.Get("test")
	require.NoError(t, err)
	assert.Equal(t, "test", conn.Name())

	db, err := conn.DB()
	require.NoError(t, err)
	assert.NotNil(t, db)

	_, err = mgr.Get("missing")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestManagerDefaultConnection(t *testing.T) {
	// Single-connection configs promote that connection to default
	cfg := sqliteConfig()
	cfg.DefaultConnection = ""

	mgr, err := NewManager(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))
	defer mgr.Close()

	db, err := mgr.GetDefaultDB()
	require.NoError(t, err)
	assert.NotNil(t, db)
}

func TestManagerHealthCheck(t *testing.T) {
	mgr, err := NewManager(sqliteConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Connect(ctx))

	assert.NoError(t, mgr.HealthCheck(ctx))

	require.NoError(t, mgr.Close())

	// All connections removed after Close
	_, err = mgr.Get("test")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestConnectionLifecycle(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Name:   "lifecycle",
		Driver: DriverSQLite,
		DSN:    ":memory:",
	})
	require.NoError(t, err)

	ctx := context.Background()

	// DB before connect fails
	_, err = conn.DB()
	assert.ErrorIs(t, err, ErrConnectionClosed)

	require.NoError(t, conn.Connect(ctx))

	// Double connect fails
	err = conn.Connect(ctx)
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	assert.NoError(t, conn.HealthCheck(ctx))
	require.NoError(t, conn.Close())

	// Close is idempotent
	assert.NoError(t, conn.Close())

	err = conn.HealthCheck(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	assert.Error(t, err)

	_, err = NewManager(ManagerConfig{
		Connections: map[string]ConnectionConfig{
			"bad": {Driver: "oracle", DSN: "x"},
		},
	})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = NewManager(ManagerConfig{
		DefaultConnection: "nope",
		Connections: map[string]ConnectionConfig{
			"test": {Driver: DriverSQLite, DSN: ":memory:"},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSingletonSetup(t *testing.T) {
	ResetInstance()
	defer ResetInstance()

	_, err := GetInstance()
	assert.Error(t, err)

	require.NoError(t, SetupManager(sqliteConfig()))

	mgr, err := GetInstance()
	require.NoError(t, err)
	assert.NotNil(t, mgr)

	// Second setup fails
	assert.Error(t, SetupManager(sqliteConfig()))
}
