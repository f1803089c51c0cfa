package config

// DefaultMainnet returns the default configuration for Ethereum mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			ChainID:  1,
			Endpoint: "https://eth.llamarpc.com",
		},
		Indexer: IndexerConfig{
			Endpoint: "https://api.etherscan.io/api",
		},
		Vault: VaultConfig{
			AutoLockSeconds: 300,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultSepolia returns the default configuration for the Sepolia testnet.
func DefaultSepolia() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Sepolia
	cfg.Chain.ChainID = 11155111
	cfg.Chain.Endpoint = "https://rpc.sepolia.org"
	cfg.Indexer.Endpoint = "https://api-sepolia.etherscan.io/api"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Sepolia:
		return DefaultSepolia()
	default:
		return DefaultMainnet()
	}
}
