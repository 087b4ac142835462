package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments). A missing file yields
// an empty map.
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
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

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

// setConfigValue sets a config value by key. Unknown keys are ignored.
func setConfigValue(cfg *Config, key, value string) error {
	if chain, ok := strings.CutPrefix(key, "evm.rpc."); ok {
		if cfg.EVM.RPCURLs == nil {
			cfg.EVM.RPCURLs = make(map[string]string)
		}
		cfg.EVM.RPCURLs[strings.ToLower(chain)] = value
		return nil
	}
	if chain, ok := strings.CutPrefix(key, "evm.fallbackgas."); ok {
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		if cfg.EVM.FallbackGas == nil {
			cfg.EVM.FallbackGas = make(map[string]uint64)
		}
		cfg.EVM.FallbackGas[strings.ToLower(chain)] = n
		return nil
	}

	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		cfg.RPC.Port, err = strconv.Atoi(value)
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// Bitcoin
	case "bitcoin.esplora":
		cfg.Bitcoin.EsploraURL = strings.TrimRight(value, "/")
	case "bitcoin.feeurl":
		cfg.Bitcoin.FeeURL = strings.TrimRight(value, "/")
	case "bitcoin.timeout":
		cfg.Bitcoin.Timeout, err = time.ParseDuration(value)

	// EVM
	case "evm.chains":
		cfg.EVM.Chains = parseStringList(value)
	case "evm.concurrency":
		cfg.EVM.Concurrency, err = strconv.Atoi(value)
	case "evm.gasmultiplier":
		cfg.EVM.GasMultiplier, err = strconv.ParseFloat(value, 64)
	case "evm.approval":
		cfg.EVM.ApprovalMode = strings.ToLower(value)
	case "evm.confirmtimeout":
		cfg.EVM.ConfirmTimeout, err = time.ParseDuration(value)
	case "evm.pollinterval":
		cfg.EVM.PollInterval, err = time.ParseDuration(value)
	case "evm.healthinterval":
		cfg.EVM.HealthInterval, err = time.ParseDuration(value)

	// Explorer and price oracle
	case "etherscan.url":
		cfg.Etherscan.URL = value
	case "etherscan.apikey":
		cfg.Etherscan.APIKey = value
	case "price.url":
		cfg.Price.URL = strings.TrimRight(value, "/")
	case "price.apikey":
		cfg.Price.APIKey = value
	case "price.ttl":
		cfg.Price.TTL, err = time.ParseDuration(value)

	// Caches
	case "cache.balancettl":
		cfg.Cache.BalanceTTL, err = time.ParseDuration(value)
	case "cache.feettl":
		cfg.Cache.FeeTTL, err = time.ParseDuration(value)

	// Vault
	case "vault.argon.memory":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 32)
		cfg.Vault.ArgonMemory = uint32(n)
	case "vault.argon.iterations":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 32)
		cfg.Vault.ArgonIterations = uint32(n)
	case "vault.argon.parallelism":
		var n uint64
		n, err = strconv.ParseUint(value, 10, 8)
		cfg.Vault.ArgonParallelism = uint8(n)
	case "vault.passwordenv":
		cfg.Vault.PasswordEnv = value

	// Metrics
	case "metrics.enabled", "metrics":
		cfg.Metrics.Enabled = parseBool(value)
	case "metrics.path":
		cfg.Metrics.Path = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	}
	return err
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a commented default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	cfg := Default(network)
	content := `# Klingwallet Configuration
#
# Runtime settings only. Supported chains and token contracts are built in.
# The vault password is never read from this file.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingwallet)
# datadir = ~/.klingwallet

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(cfg.RPC.Port) + `
rpc.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# rpc.cors = http://localhost:1420

# ============================================================================
# Bitcoin
# ============================================================================

bitcoin.esplora = ` + cfg.Bitcoin.EsploraURL + `
bitcoin.feeurl = ` + cfg.Bitcoin.FeeURL + `
# bitcoin.timeout = 15s

# ============================================================================
# EVM
# ============================================================================

# Enabled chains (default: every chain of the selected network)
# evm.chains = ` + strings.Join(cfg.EVM.Chains, ",") + `
# Per-chain RPC endpoint override
# evm.rpc.ethereum = https://mainnet.infura.io/v3/<key>
# Per-chain degraded-mode gas price in gwei
# evm.fallbackgas.ethereum = 20
evm.concurrency = 3
evm.gasmultiplier = 1.25
# ERC-20 approvals: exact (approve only the amount needed) or max
evm.approval = exact
# evm.confirmtimeout = 3m
# evm.pollinterval = 4s
# Head-block check of every EVM node; 0 disables
# evm.healthinterval = 60s

# Explorer API for EVM history (Etherscan v2, multichain)
etherscan.url = ` + cfg.Etherscan.URL + `
# etherscan.apikey =

# ============================================================================
# Prices and caching
# ============================================================================

price.url = ` + cfg.Price.URL + `
# price.apikey =
price.ttl = 60s
cache.balancettl = 60s
cache.feettl = 30s

# ============================================================================
# Vault (Argon2id parameters for sealing secrets)
# ============================================================================

# vault.argon.memory = 65536
# vault.argon.iterations = 3
# vault.argon.parallelism = 4
# Environment variable holding the vault password (prompted if unset)
vault.passwordenv = KLINGWALLET_PASSWORD

# ============================================================================
# Metrics and logging
# ============================================================================

metrics.enabled = false
# metrics.path = /metrics

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0600)
}
