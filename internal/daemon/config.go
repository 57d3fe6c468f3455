// Package daemon holds process-level configuration, loaded from
// ~/.hisab/config.toml with sane defaults for every field.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hisab-network/hisab/internal/coordinator"
)

// Config is the full daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api"`
	Store       StoreConfig       `toml:"store"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Ledger      LedgerConfig      `toml:"ledger"`
}

// APIConfig configures the ledger store server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	DataDir string `toml:"data_dir"`
	Metrics bool   `toml:"metrics"`
}

// StoreConfig points the client engine at a ledger store.
type StoreConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// CoordinatorConfig tunes the request coordinator. Durations use Go
// syntax ("200ms", "10s").
type CoordinatorConfig struct {
	MaxInFlight int    `toml:"max_in_flight"`
	MaxAttempts int    `toml:"max_attempts"`
	BaseBackoff string `toml:"base_backoff"`
	CacheTTL    string `toml:"cache_ttl"`
	MinInterval string `toml:"min_interval"`
	CallTimeout string `toml:"call_timeout"`
}

// LedgerConfig carries business settings.
type LedgerConfig struct {
	CompanyParty string `toml:"company_party"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    7421,
			DataDir: defaultDataDir(),
		},
		Store: StoreConfig{
			URL: "http://127.0.0.1:7421",
		},
		Coordinator: CoordinatorConfig{
			MaxInFlight: 3,
			MaxAttempts: 4,
			BaseBackoff: "200ms",
			CacheTTL:    "15s",
			MinInterval: "300ms",
			CallTimeout: "10s",
		},
	}
}

// Load reads the config at path, or the default location when path is
// empty. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = filepath.Join(configDir(), "config.toml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// CoordinatorConfig materializes the coordinator settings, falling back
// to the coordinator's own defaults on unparseable durations.
func (c Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		MaxInFlight: c.Coordinator.MaxInFlight,
		MaxAttempts: c.Coordinator.MaxAttempts,
		BaseBackoff: parseDuration(c.Coordinator.BaseBackoff),
		CacheTTL:    parseDuration(c.Coordinator.CacheTTL),
		MinInterval: parseDuration(c.Coordinator.MinInterval),
		CallTimeout: parseDuration(c.Coordinator.CallTimeout),
	}
}

// ListenAddr returns the host:port the server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".hisab")
}

func defaultDataDir() string {
	return filepath.Join(configDir(), "data")
}
