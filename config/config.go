package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`
	StableAsset    string `toml:"StableAsset"`

	// Genesis settings are only consulted the first time the node starts
	// against an empty data directory.
	Authority            string `toml:"Authority"`
	Treasury             string `toml:"Treasury"`
	DefaultSlippageBps   uint16 `toml:"DefaultSlippageBps"`
	ProtectedSlippageBps uint16 `toml:"ProtectedSlippageBps"`
	MaxPriceImpactBps    uint16 `toml:"MaxPriceImpactBps"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./flowmint-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.StableAsset) == "" {
		cfg.StableAsset = "USDC"
	}

	return cfg, nil
}

// AuthorityAddress decodes the configured authority into an address.
func (c *Config) AuthorityAddress() ([20]byte, error) {
	return decodeAddress(c.Authority)
}

// TreasuryAddress decodes the configured treasury into an address. An empty
// treasury decodes to the zero address.
func (c *Config) TreasuryAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Treasury) == "" {
		return [20]byte{}, nil
	}
	return decodeAddress(c.Treasury)
}

func decodeAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("config: invalid address %q: %w", value, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("config: invalid address %q: want %d bytes, got %d", value, len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		MetricsAddress:       ":9464",
		DataDir:              "./flowmint-data",
		Environment:          "local",
		StableAsset:          "USDC",
		DefaultSlippageBps:   100,
		ProtectedSlippageBps: 50,
		MaxPriceImpactBps:    300,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
