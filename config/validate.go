package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}

	for _, u := range []struct{ key, value string }{
		{"bitcoin.esplora", cfg.Bitcoin.EsploraURL},
		{"bitcoin.feeurl", cfg.Bitcoin.FeeURL},
		{"etherscan.url", cfg.Etherscan.URL},
		{"price.url", cfg.Price.URL},
	} {
		if err := validateURL(u.key, u.value); err != nil {
			return err
		}
	}

	if err := validateEVMChains(cfg); err != nil {
		return err
	}
	if cfg.EVM.Concurrency < 1 {
		return fmt.Errorf("evm.concurrency must be at least 1")
	}
	if cfg.EVM.GasMultiplier < 1 {
		return fmt.Errorf("evm.gasmultiplier must be >= 1")
	}
	switch cfg.EVM.ApprovalMode {
	case ApprovalExact, ApprovalMax:
	default:
		return fmt.Errorf("evm.approval must be %q or %q", ApprovalExact, ApprovalMax)
	}
	if cfg.EVM.PollInterval <= 0 || cfg.EVM.ConfirmTimeout < cfg.EVM.PollInterval {
		return fmt.Errorf("evm.confirmtimeout must be at least evm.pollinterval (> 0)")
	}
	if cfg.EVM.HealthInterval != 0 && cfg.EVM.HealthInterval < 5*time.Second {
		return fmt.Errorf("evm.healthinterval must be 0 or at least 5s")
	}
	if cfg.Cache.BalanceTTL < 0 || cfg.Cache.FeeTTL < 0 || cfg.Price.TTL < 0 {
		return fmt.Errorf("cache windows must not be negative")
	}
	if cfg.Vault.ArgonIterations == 0 || cfg.Vault.ArgonParallelism == 0 || cfg.Vault.ArgonMemory < 8*uint32(cfg.Vault.ArgonParallelism) {
		return fmt.Errorf("vault.argon parameters are too weak or malformed")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

func validateURL(key, value string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, value)
	}
	return nil
}

func validateEVMChains(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.EVM.Chains))
	for i, name := range cfg.EVM.Chains {
		name = strings.ToLower(strings.TrimSpace(name))
		spec, ok := EVMChain(name)
		if !ok {
			return fmt.Errorf("evm.chains[%d]: unknown chain %q", i, name)
		}
		if spec.Testnet != (cfg.Network == Testnet) {
			return fmt.Errorf("evm.chains[%d]: %s is not a %s chain", i, name, cfg.Network)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("evm.chains has duplicate chain %q", name)
		}
		seen[name] = struct{}{}
		cfg.EVM.Chains[i] = name
	}
	for name, u := range cfg.EVM.RPCURLs {
		if _, ok := EVMChain(name); !ok {
			return fmt.Errorf("evm.rpc.%s: unknown chain", name)
		}
		if err := validateURL("evm.rpc."+name, u); err != nil {
			return err
		}
	}
	return nil
}
