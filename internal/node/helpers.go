package node

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// bitcoinParams maps a network to its address and signing parameters.
func bitcoinParams(network config.NetworkType) *chaincfg.Params {
	if network == config.Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// kdfParams converts the vault config, falling back to the defaults for
// unset fields.
func kdfParams(cfg config.VaultConfig) wallet.KDFParams {
	p := wallet.DefaultKDFParams()
	if cfg.ArgonMemory > 0 {
		p.Memory = cfg.ArgonMemory
	}
	if cfg.ArgonIterations > 0 {
		p.Iterations = cfg.ArgonIterations
	}
	if cfg.ArgonParallelism > 0 {
		p.Parallelism = cfg.ArgonParallelism
	}
	return p
}

// ReadPasswordEnv returns the vault password from the configured
// environment variable, or nil when it is unset.
func ReadPasswordEnv(cfg *config.Config) []byte {
	name := cfg.Vault.PasswordEnv
	if name == "" {
		return nil
	}
	if v := os.Getenv(name); v != "" {
		return []byte(v)
	}
	return nil
}
