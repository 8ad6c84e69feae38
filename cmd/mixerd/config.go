// config.go - Daemon configuration.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/staking"
	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/withdraw"
)

// Duration is a time.Duration that reads from YAML as "720h" style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// PoolConfig describes one fixed-denomination anonymity pool.
type PoolConfig struct {
	Asset        string `yaml:"asset"`
	Denomination string `yaml:"denomination"`
	Fee          string `yaml:"fee"`
	TreeLevels   int    `yaml:"tree_levels"`
	RootHistory  int    `yaml:"root_history"`
}

// StakingConfig controls the season ledger.
type StakingConfig struct {
	Period Duration `yaml:"period"`
}

// StorageConfig points at the journal database. An empty path keeps
// everything in memory, useful for development.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// KeysConfig points at the Groth16 key material.
type KeysConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig controls log level and optional file output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// LimitsConfig controls per-client rate limiting.
type LimitsConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// FaucetAccount pre-funds an address at startup. Development only; the
// vault economy is closed, so somebody has to hold coins first.
type FaucetAccount struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

// Config is the daemon configuration.
type Config struct {
	Listen       string          `yaml:"listen"`
	VaultAddress string          `yaml:"vault_address"`
	Pools        []PoolConfig    `yaml:"pools"`
	Staking      StakingConfig   `yaml:"staking"`
	Storage      StorageConfig   `yaml:"storage"`
	Keys         KeysConfig      `yaml:"keys"`
	Logging      LoggingConfig   `yaml:"logging"`
	Limits       LimitsConfig    `yaml:"limits"`
	Faucet       []FaucetAccount `yaml:"faucet"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       ":8080",
		VaultAddress: "0x0000000000000000000000000000000000000001",
		Pools: []PoolConfig{
			{
				Asset:        "native",
				Denomination: "1000000000000000000",
				Fee:          "30000000000000000",
				TreeLevels:   withdraw.TreeLevels,
				RootHistory:  30,
			},
		},
		Staking: StakingConfig{Period: Duration(720 * time.Hour)},
		Storage: StorageConfig{Path: "mixer.db"},
		Keys:    KeysConfig{Dir: "keys"},
		Logging: LoggingConfig{Level: "info", File: "mixer.log"},
		Limits:  LimitsConfig{RequestsPerMinute: 600, Burst: 50},
	}
}

// LoadConfig loads configuration from file or creates the default.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var config Config
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ProvingKeyPath returns the proving key location.
func (k KeysConfig) ProvingKeyPath() string {
	return filepath.Join(k.Dir, "CircuitWithdraw_pk.bin")
}

// VerifyingKeyPath returns the verifying key location.
func (k KeysConfig) VerifyingKeyPath() string {
	return filepath.Join(k.Dir, "CircuitWithdraw_vk.bin")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if !common.IsHexAddress(c.VaultAddress) {
		return fmt.Errorf("vault_address %q is not a valid address", c.VaultAddress)
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("at least one pool must be configured")
	}
	seen := make(map[string]bool, len(c.Pools))
	for _, p := range c.Pools {
		if _, ok := staking.ParseAsset(p.Asset); !ok {
			return fmt.Errorf("pool asset %q is unknown", p.Asset)
		}
		if seen[p.Asset] {
			return fmt.Errorf("pool asset %q configured twice", p.Asset)
		}
		seen[p.Asset] = true
		denomination, err := uint256.FromDecimal(p.Denomination)
		if err != nil {
			return fmt.Errorf("pool %s: denomination %q: %w", p.Asset, p.Denomination, err)
		}
		if denomination.IsZero() {
			return fmt.Errorf("pool %s: denomination must be positive", p.Asset)
		}
		if p.Fee != "" {
			if _, err := uint256.FromDecimal(p.Fee); err != nil {
				return fmt.Errorf("pool %s: fee %q: %w", p.Asset, p.Fee, err)
			}
		}
		if p.TreeLevels != withdraw.TreeLevels {
			return fmt.Errorf("pool %s: tree_levels must be %d, the depth the withdrawal circuit is compiled for", p.Asset, withdraw.TreeLevels)
		}
		if p.RootHistory <= 0 {
			return fmt.Errorf("pool %s: root_history must be positive", p.Asset)
		}
	}
	if c.Staking.Period <= 0 {
		return fmt.Errorf("staking period must be positive")
	}
	if c.Keys.Dir == "" {
		return fmt.Errorf("keys dir must not be empty")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("log level %q: %w", c.Logging.Level, err)
	}
	if c.Limits.RequestsPerMinute <= 0 || c.Limits.Burst <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	for _, f := range c.Faucet {
		if !common.IsHexAddress(f.Address) {
			return fmt.Errorf("faucet address %q is not a valid address", f.Address)
		}
		if _, err := uint256.FromDecimal(f.Balance); err != nil {
			return fmt.Errorf("faucet balance %q: %w", f.Balance, err)
		}
	}
	return nil
}
