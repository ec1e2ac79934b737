package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultDirName is the default root directory of the engine, relative
// to the user's home directory.
var DefaultDirName = ".spvsync"

const (
	defaultDataDir       = "data"
	defaultStateFileName = "sync_state.json"
	defaultHeaderDBName  = "headers"
)

// Config defines the top level configuration for the header-sync engine.
type Config struct {
	// Top level options use an anonymous struct.
	BaseConfig `mapstructure:",squash"`

	Sync            *SyncConfig            `mapstructure:"sync"`
	Peers           *PeerConfig            `mapstructure:"peers"`
	RPC             *RPCConfig             `mapstructure:"rpc"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for the engine.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Sync:            DefaultSyncConfig(),
		Peers:           DefaultPeerConfig(),
		RPC:             DefaultRPCConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing: a
// temporary root directory, aggressive timers, and no instrumentation.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.RootDir = os.TempDir()
	cfg.Network = NetworkRegtest
	cfg.DBBackend = "memdb"
	cfg.Sync.PollInterval = 10 * time.Millisecond
	cfg.Sync.RequestTimeout = 100 * time.Millisecond
	cfg.RPC.ListenAddress = ""
	cfg.Instrumentation.Prometheus = false
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.)
// and returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [sync] section: %w", err)
	}
	if err := cfg.Peers.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [peers] section: %w", err)
	}
	return nil
}

// BaseConfig defines the base configuration for the engine.
type BaseConfig struct {
	// The root directory for all data.
	RootDir string `mapstructure:"home"`

	// The network to sync: mainnet, testnet or regtest.
	Network string `mapstructure:"network"`

	// Database backend: goleveldb | memdb | badgerdb
	DBBackend string `mapstructure:"db-backend"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Network:   NetworkMainnet,
		DBBackend: "goleveldb",
		LogLevel:  "info",
		LogFormat: "plain",
	}
}

// ValidateBasic performs basic validation on the base configuration.
func (cfg BaseConfig) ValidateBasic() error {
	if _, err := NetworkParams(cfg.Network); err != nil {
		return err
	}
	return nil
}

// DataDir returns the directory holding the persisted chain state for
// the configured network.
func (cfg BaseConfig) DataDir() string {
	return filepath.Join(cfg.RootDir, defaultDataDir, cfg.Network)
}

// StateFile returns the path of the persisted sync-state record.
func (cfg BaseConfig) StateFile() string {
	return filepath.Join(cfg.DataDir(), defaultStateFileName)
}

// HeaderDBDir returns the directory of the header database.
func (cfg BaseConfig) HeaderDBDir() string {
	return cfg.DataDir()
}

// HeaderDBName returns the name of the header database.
func (cfg BaseConfig) HeaderDBName() string {
	return defaultHeaderDBName
}

// SyncConfig defines the configuration of the sync supervisor's timers.
type SyncConfig struct {
	// How often sync progress is polled for stall detection.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// Number of consecutive unchanged polls at the checkpoint (or zero)
	// height before the engine is considered stuck at start.
	StuckAtStartPolls int `mapstructure:"stuck-at-start-polls"`

	// Number of consecutive unchanged polls above the checkpoint height
	// before the engine is considered stuck mid-sync. Must exceed
	// stuck-at-start-polls.
	StuckMidSyncPolls int `mapstructure:"stuck-mid-sync-polls"`

	// How long to wait for a header response before treating the
	// request as unanswered.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
}

// DefaultSyncConfig returns a default configuration for the supervisor.
// A 5s poll with 6/8 unchanged-poll thresholds yields the 30s
// stuck-at-start and 40s stuck-mid-sync windows.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		PollInterval:      5 * time.Second,
		StuckAtStartPolls: 6,
		StuckMidSyncPolls: 8,
		RequestTimeout:    30 * time.Second,
	}
}

// ValidateBasic performs basic validation on the sync configuration.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.PollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	if cfg.StuckAtStartPolls <= 0 {
		return errors.New("stuck-at-start-polls must be positive")
	}
	if cfg.StuckMidSyncPolls <= cfg.StuckAtStartPolls {
		return errors.New("stuck-mid-sync-polls must exceed stuck-at-start-polls")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	return nil
}

// PeerConfig defines where peer addresses come from and how they are
// grouped for rotation.
type PeerConfig struct {
	// Platform-advertised endpoints (https://host:port), converted to
	// peer-to-peer addresses and tried before the static fallback list.
	PlatformAddresses []string `mapstructure:"platform-addresses"`

	// Number of peers connected per group.
	GroupSize int `mapstructure:"group-size"`

	// Maximum number of peer groups tried before sync is declared
	// unavailable.
	MaxGroups int `mapstructure:"max-groups"`
}

// DefaultPeerConfig returns a default peer configuration.
func DefaultPeerConfig() *PeerConfig {
	return &PeerConfig{
		GroupSize: 3,
		MaxGroups: 10,
	}
}

// ValidateBasic performs basic validation on the peer configuration.
func (cfg *PeerConfig) ValidateBasic() error {
	if cfg.GroupSize <= 0 {
		return errors.New("group-size must be positive")
	}
	if cfg.MaxGroups <= 0 {
		return errors.New("max-groups must be positive")
	}
	return nil
}

// RPCConfig defines the configuration of the read-only status endpoint.
type RPCConfig struct {
	// TCP address for the status server to listen on. Empty disables
	// the server.
	ListenAddress string `mapstructure:"laddr"`
}

// DefaultRPCConfig returns a default status-server configuration.
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress: "127.0.0.1:26659",
	}
}

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are collected and served.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default instrumentation
// configuration.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "spvsync",
	}
}

// EnsureRoot creates the root and data directories if they are missing.
func EnsureRoot(cfg *Config) error {
	if cfg.RootDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.RootDir = filepath.Join(home, DefaultDirName)
	}
	return os.MkdirAll(cfg.DataDir(), 0o700)
}
