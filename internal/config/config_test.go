package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndDerivedExpiry(t *testing.T) {
	t.Setenv("PROVEX_JWT_SECRET", "test-secret")
	t.Setenv("PROVEX_LEASE_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("PROVEX_LEASE_EXPIRY", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "Provex API", cfg.AppName)
	require.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 6*time.Second, cfg.LeaseExpiry)
	require.Equal(t, ":8080", cfg.HTTPAddress())
}

func TestLoadRejectsMissingJWTSecret(t *testing.T) {
	t.Setenv("PROVEX_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsExpiryShorterThanHeartbeat(t *testing.T) {
	t.Setenv("PROVEX_JWT_SECRET", "test-secret")
	t.Setenv("PROVEX_LEASE_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("PROVEX_LEASE_EXPIRY", "5s")

	_, err := Load()
	require.Error(t, err)
}

func TestHTTPAddressKeepsExplicitColon(t *testing.T) {
	cfg := Config{AppPort: ":9090"}
	require.Equal(t, ":9090", cfg.HTTPAddress())
}
