// Package config loads the vault daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"sudovault/core/types"
)

// Config is the vault daemon's on-disk configuration.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogFile        string `toml:"LogFile"`
	Env            string `toml:"Env"`

	VaultAccount string `toml:"VaultAccount"`
	OwnerAccount string `toml:"OwnerAccount"`
	VaultIndex   uint64 `toml:"VaultIndex"`
	VaultVersion uint64 `toml:"VaultVersion"`

	// RateLimitRPS bounds inbound API requests per second; 0 disables the
	// limiter.
	RateLimitRPS float64 `toml:"RateLimitRPS"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)
	return cfg, cfg.Validate()
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults(path string) {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8547"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9187"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(c.VaultAccount) == "" {
		c.VaultAccount = "vault-0.factory.testnet"
	}
	if strings.TrimSpace(c.OwnerAccount) == "" {
		c.OwnerAccount = "owner.testnet"
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 50
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if !types.AccountID(c.VaultAccount).Valid() {
		return fmt.Errorf("config: invalid VaultAccount %q", c.VaultAccount)
	}
	if !types.AccountID(c.OwnerAccount).Valid() {
		return fmt.Errorf("config: invalid OwnerAccount %q", c.OwnerAccount)
	}
	if c.VaultAccount == c.OwnerAccount {
		return fmt.Errorf("config: VaultAccount and OwnerAccount must differ")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: RateLimitRPS must not be negative")
	}
	return nil
}
