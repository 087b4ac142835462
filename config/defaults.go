package config

import "time"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	btc := BitcoinNetwork(Mainnet)
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8645,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Bitcoin: BitcoinConfig{
			EsploraURL: btc.EsploraURL,
			FeeURL:     btc.FeeURL,
			Timeout:    15 * time.Second,
		},
		EVM: EVMConfig{
			Chains:         DefaultEVMChains(Mainnet),
			RPCURLs:        map[string]string{},
			FallbackGas:    map[string]uint64{},
			Concurrency:    3,
			GasMultiplier:  1.25,
			ApprovalMode:   ApprovalExact,
			ConfirmTimeout: 3 * time.Minute,
			PollInterval:   4 * time.Second,
			HealthInterval: 60 * time.Second,
		},
		Etherscan: EtherscanConfig{
			URL: "https://api.etherscan.io/v2/api",
		},
		Price: PriceConfig{
			URL: "https://api.coingecko.com/api/v3",
			TTL: 60 * time.Second,
		},
		Cache: CacheConfig{
			BalanceTTL: 60 * time.Second,
			FeeTTL:     30 * time.Second,
		},
		Vault: VaultConfig{
			ArgonMemory:      64 * 1024,
			ArgonIterations:  3,
			ArgonParallelism: 4,
			PasswordEnv:      "KLINGWALLET_PASSWORD",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	btc := BitcoinNetwork(Testnet)
	cfg.Network = Testnet
	cfg.RPC.Port = 8745
	cfg.Bitcoin.EsploraURL = btc.EsploraURL
	cfg.Bitcoin.FeeURL = btc.FeeURL
	cfg.EVM.Chains = DefaultEVMChains(Testnet)
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
