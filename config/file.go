package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets one config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Chain
	case "chain.id":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Chain.ChainID = id
	case "chain.endpoint":
		cfg.Chain.Endpoint = value

	// Indexer
	case "indexer.endpoint":
		cfg.Indexer.Endpoint = value
	case "indexer.apikey":
		cfg.Indexer.APIKey = value

	// Price venues
	case "prices.coinmarketcap":
		cfg.Prices.CoinMarketCapKey = value
	case "prices.cryptocompare":
		cfg.Prices.CryptoCompareKey = value
	case "prices.coinpaprika":
		cfg.Prices.CoinpaprikaKey = value

	// Vault
	case "vault.autolock":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Vault.AutoLockSeconds = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	defaults := Default(network)
	content := `# EmberWallet Configuration

# Network: mainnet or sepolia
network = ` + string(network) + `

# Data directory (default: ~/.emberwallet)
# datadir = ~/.emberwallet

# ============================================================================
# Chain access
# ============================================================================

chain.id = ` + strconv.FormatInt(defaults.Chain.ChainID, 10) + `
chain.endpoint = ` + defaults.Chain.Endpoint + `

# ============================================================================
# Indexer (etherscan-compatible)
# ============================================================================

indexer.endpoint = ` + defaults.Indexer.Endpoint + `
# indexer.apikey =

# ============================================================================
# Price venues (metered venues are skipped without a key)
# ============================================================================

# prices.coinmarketcap =
# prices.cryptocompare =
# prices.coinpaprika =

# ============================================================================
# Vault
# ============================================================================

# Idle seconds before an unlocked wallet locks itself (0 disables)
vault.autolock = 300

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
