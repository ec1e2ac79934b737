package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().ValidateBasic())
	require.NoError(t, TestConfig().ValidateBasic())
}

func TestConfigValidateBasic(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown network", func(cfg *Config) { cfg.Network = "nosuchnet" }, "unsupported network"},
		{"zero poll interval", func(cfg *Config) { cfg.Sync.PollInterval = 0 }, "poll-interval"},
		{"negative request timeout", func(cfg *Config) { cfg.Sync.RequestTimeout = -time.Second }, "request-timeout"},
		{"zero stuck-at-start polls", func(cfg *Config) { cfg.Sync.StuckAtStartPolls = 0 }, "stuck-at-start-polls"},
		{"mid-sync window not above start window", func(cfg *Config) {
			cfg.Sync.StuckAtStartPolls = 8
			cfg.Sync.StuckMidSyncPolls = 8
		}, "stuck-mid-sync-polls"},
		{"zero group size", func(cfg *Config) { cfg.Peers.GroupSize = 0 }, "group-size"},
		{"zero max groups", func(cfg *Config) { cfg.Peers.MaxGroups = 0 }, "max-groups"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.ValidateBasic()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDefaultSyncWindows(t *testing.T) {
	cfg := DefaultSyncConfig()

	// 6 polls of 5s give the 30s stuck-at-start window, 8 give the 40s
	// stuck-mid-sync window.
	assert.Equal(t, 30*time.Second, time.Duration(cfg.StuckAtStartPolls)*cfg.PollInterval)
	assert.Equal(t, 40*time.Second, time.Duration(cfg.StuckMidSyncPolls)*cfg.PollInterval)
}

func TestDataPathsAreNetworkScoped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = "/tmp/spvsync-test"
	cfg.Network = NetworkTestnet

	assert.Equal(t, filepath.Join("/tmp/spvsync-test", "data", "testnet"), cfg.DataDir())
	assert.Equal(t, filepath.Join(cfg.DataDir(), "sync_state.json"), cfg.StateFile())
}

func TestEnsureRootCreatesDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = filepath.Join(t.TempDir(), "root")
	require.NoError(t, EnsureRoot(cfg))
	assert.DirExists(t, cfg.DataDir())
}
