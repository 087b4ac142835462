// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Network definitions: supported chains, token contracts and endpoint
//     defaults, fixed per build (chains.go)
//   - Runtime settings: per-installation values from defaults, the
//     klingwallet.conf file and command-line flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Approval modes for ERC-20 allowances.
const (
	ApprovalExact = "exact"
	ApprovalMax   = "max"
)

// Config holds runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// JSON-RPC server
	RPC RPCConfig

	// Chain backends
	Bitcoin   BitcoinConfig
	EVM       EVMConfig
	Etherscan EtherscanConfig
	Price     PriceConfig

	// Caching
	Cache CacheConfig

	// Secret storage
	Vault VaultConfig

	// Metrics
	Metrics MetricsConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// BitcoinConfig holds the Esplora and fee oracle endpoints.
type BitcoinConfig struct {
	EsploraURL string        `conf:"bitcoin.esplora"`
	FeeURL     string        `conf:"bitcoin.feeurl"`
	Timeout    time.Duration `conf:"bitcoin.timeout"`
}

// EVMConfig holds EVM chain settings.
type EVMConfig struct {
	Chains         []string          `conf:"evm.chains"`
	RPCURLs        map[string]string `conf:"evm.rpc.<chain>"`
	FallbackGas    map[string]uint64 `conf:"evm.fallbackgas.<chain>"` // gwei
	Concurrency    int               `conf:"evm.concurrency"`
	GasMultiplier  float64           `conf:"evm.gasmultiplier"`
	ApprovalMode   string            `conf:"evm.approval"`
	ConfirmTimeout time.Duration     `conf:"evm.confirmtimeout"`
	PollInterval   time.Duration     `conf:"evm.pollinterval"`
	HealthInterval time.Duration     `conf:"evm.healthinterval"` // 0 disables
}

// RPCURL returns the endpoint for a chain, preferring the operator override.
func (e *EVMConfig) RPCURL(spec EVMChainSpec) string {
	if url, ok := e.RPCURLs[spec.Name]; ok && url != "" {
		return url
	}
	return spec.RPCURL
}

// FallbackGasGwei returns the degraded-mode gas price for a chain.
func (e *EVMConfig) FallbackGasGwei(spec EVMChainSpec) uint64 {
	if v, ok := e.FallbackGas[spec.Name]; ok && v > 0 {
		return v
	}
	return spec.FallbackGas
}

// EtherscanConfig holds the explorer API used for EVM history.
type EtherscanConfig struct {
	URL    string `conf:"etherscan.url"`
	APIKey string `conf:"etherscan.apikey"`
}

// PriceConfig holds the spot price oracle settings.
type PriceConfig struct {
	URL    string        `conf:"price.url"`
	APIKey string        `conf:"price.apikey"`
	TTL    time.Duration `conf:"price.ttl"`
}

// CacheConfig holds cache windows.
type CacheConfig struct {
	BalanceTTL time.Duration `conf:"cache.balancettl"`
	FeeTTL     time.Duration `conf:"cache.feettl"`
}

// VaultConfig holds Argon2id parameters for sealing secrets. The password
// itself is never part of the configuration.
type VaultConfig struct {
	ArgonMemory      uint32 `conf:"vault.argon.memory"` // KiB
	ArgonIterations  uint32 `conf:"vault.argon.iterations"`
	ArgonParallelism uint8  `conf:"vault.argon.parallelism"`
	PasswordEnv      string `conf:"vault.passwordenv"`
}

// MetricsConfig controls the Prometheus endpoint on the RPC server.
type MetricsConfig struct {
	Enabled bool   `conf:"metrics.enabled"`
	Path    string `conf:"metrics.path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingwallet
//	macOS:   ~/Library/Application Support/Klingwallet
//	Windows: %APPDATA%\Klingwallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingwallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingwallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingwallet")
	default:
		return filepath.Join(home, ".klingwallet")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the wallet database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.NetworkDataDir(), "walletdb")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingwallet.conf")
}
