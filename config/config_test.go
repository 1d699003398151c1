package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file missing: %v", err)
	}
	if cfg.ListenAddress != ":8547" {
		t.Fatalf("listen address %q", cfg.ListenAddress)
	}
	if cfg.MetricsAddress != ":9187" {
		t.Fatalf("metrics address %q", cfg.MetricsAddress)
	}
	if cfg.VaultAccount != "vault-0.factory.testnet" {
		t.Fatalf("vault account %q", cfg.VaultAccount)
	}
	if cfg.RateLimitRPS != 50 {
		t.Fatalf("rate limit %v", cfg.RateLimitRPS)
	}

	// A second load reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.toml")
	contents := "VaultAccount = \"vault-7.factory.testnet\"\nOwnerAccount = \"alice.testnet\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VaultAccount != "vault-7.factory.testnet" {
		t.Fatalf("vault account %q", cfg.VaultAccount)
	}
	if cfg.OwnerAccount != "alice.testnet" {
		t.Fatalf("owner account %q", cfg.OwnerAccount)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"invalid vault account", func(c *Config) { c.VaultAccount = "NOPE" }},
		{"invalid owner account", func(c *Config) { c.OwnerAccount = ".." }},
		{"same accounts", func(c *Config) { c.OwnerAccount = c.VaultAccount }},
		{"negative rate limit", func(c *Config) { c.RateLimitRPS = -1 }},
	}
	for _, tc := range cases {
		cfg := &Config{}
		cfg.applyDefaults("vaultd.toml")
		tc.mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
