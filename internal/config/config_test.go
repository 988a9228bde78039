package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/runtime-core/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 2, cfg.RDBPoolMin)
	require.Equal(t, 20, cfg.RDBPoolMax)
	require.Equal(t, 1*time.Second, cfg.PoolAcquireTimeout)
	require.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	require.False(t, cfg.TLSEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("RDB_POOL_MAX", "50")
	t.Setenv("TLS_CERT_FILE", "/tmp/cert.pem")
	t.Setenv("TLS_KEY_FILE", "/tmp/key.pem")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProd())
	require.False(t, cfg.IsDev())
	require.Equal(t, 50, cfg.RDBPoolMax)
	require.True(t, cfg.TLSEnabled())
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
