// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Network presets: chain ID and public endpoints, fixed per network
//   - Wallet settings: runtime configuration the user may change
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies which EVM network the wallet talks to.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Sepolia NetworkType = "sepolia"
)

// Config holds the wallet's runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Chain access
	Chain ChainConfig

	// Indexer access
	Indexer IndexerConfig

	// Price venues
	Prices PriceConfig

	// Vault behavior
	Vault VaultConfig

	// Logging
	Log LogConfig
}

// ChainConfig holds JSON-RPC node settings.
type ChainConfig struct {
	ChainID  int64  `conf:"chain.id"`
	Endpoint string `conf:"chain.endpoint"`
}

// IndexerConfig holds etherscan-compatible indexer settings.
type IndexerConfig struct {
	Endpoint string `conf:"indexer.endpoint"`
	APIKey   string `conf:"indexer.apikey"`
}

// PriceConfig holds API keys for the metered price venues. A venue with no
// key is skipped; the keyless backstop needs none.
type PriceConfig struct {
	CoinMarketCapKey string `conf:"prices.coinmarketcap"`
	CryptoCompareKey string `conf:"prices.cryptocompare"`
	CoinpaprikaKey   string `conf:"prices.coinpaprika"`
}

// VaultConfig holds seed encryption and session settings.
type VaultConfig struct {
	// AutoLockSeconds is the unlocked-session idle timeout. 0 disables it.
	AutoLockSeconds int `conf:"vault.autolock"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-appropriate data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".emberwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "EmberWallet")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "EmberWallet")
	default:
		return filepath.Join(home, ".emberwallet")
	}
}

// DatabaseDir returns where the key-value store lives.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.DataDir, "db", string(c.Network))
}
