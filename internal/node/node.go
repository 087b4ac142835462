// Package node wires the wallet engine and its JSON-RPC server so it can be
// embedded in any binary (daemon, tests).
package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/engine"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/ledger"
	klog "github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/price"
	"github.com/Klingon-tech/klingwallet/internal/rpc"
	"github.com/Klingon-tech/klingwallet/internal/storage"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
)

// dialTimeout bounds the chain ID handshake with each EVM endpoint.
const dialTimeout = 15 * time.Second

// Node is a fully-initialized wallet engine.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	db     storage.DB
	vault  *wallet.Vault
	ledger *ledger.Ledger
	engine *engine.Engine

	// Chains
	btc *bitcoin.Client
	evm *evm.Registry

	// RPC
	rpcServer *rpc.Server

	// Background loops
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, storage, vault, chains, fees, prices, engine, RPC) but does
// NOT start listening. Call Start() for that.
func New(cfg *config.Config, password []byte) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0700); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "klingwallet.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Strs("evm_chains", cfg.EVM.Chains).
		Msg("Starting Klingwallet")

	n := &Node{cfg: cfg, logger: logger}

	// ── 2. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	n.db = db
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	// ── 3. Key vault ────────────────────────────────────────────────
	params := bitcoinParams(cfg.Network)
	vault, err := wallet.Open(storage.NewPrefixDB(db, []byte("vault/")), password, kdfParams(cfg.Vault), params)
	if err != nil {
		n.Stop()
		return nil, fmt.Errorf("open vault: %w", err)
	}
	n.vault = vault
	n.ledger = ledger.New(db)

	// ── 4. Bitcoin ──────────────────────────────────────────────────
	var btc engine.BitcoinClient
	if cfg.Bitcoin.EsploraURL != "" {
		n.btc = bitcoin.New(cfg.Bitcoin.EsploraURL, cfg.Bitcoin.FeeURL, cfg.Bitcoin.Timeout)
		btc = n.btc
		logger.Info().Str("esplora", cfg.Bitcoin.EsploraURL).Msg("Bitcoin client ready")
	}

	// ── 5. EVM chains ───────────────────────────────────────────────
	n.evm, err = dialEVM(cfg, logger)
	if err != nil {
		n.Stop()
		return nil, err
	}

	// ── 6. Fees, prices, history ────────────────────────────────────
	fees := fee.New(btc, cfg.Network, cfg.EVM, cfg.Cache.FeeTTL)

	var prices engine.PriceSource
	if cfg.Price.URL != "" {
		prices = price.New(cfg.Price.URL, cfg.Price.APIKey, cfg.Price.TTL)
	}
	var explorer engine.Explorer
	if cfg.Etherscan.URL != "" {
		explorer = evm.NewExplorer(cfg.Etherscan.URL, cfg.Etherscan.APIKey, cfg.Bitcoin.Timeout)
	}

	// ── 7. Transaction builder ──────────────────────────────────────
	builder := txbuilder.New(txbuilder.Config{
		Params:         params,
		ApprovalMode:   cfg.EVM.ApprovalMode,
		ConfirmTimeout: cfg.EVM.ConfirmTimeout,
		PollInterval:   cfg.EVM.PollInterval,
	}, vault, btc, n.evm, fees, n.ledger)
	builder.SetObserver(observeSend)

	// ── 8. Engine ───────────────────────────────────────────────────
	n.engine = engine.New(engine.Deps{
		Network:    cfg.Network,
		Vault:      vault,
		Ledger:     n.ledger,
		Builder:    builder,
		Fees:       fees,
		Bitcoin:    btc,
		EVM:        n.evm,
		Explorer:   explorer,
		Prices:     prices,
		BalanceTTL: cfg.Cache.BalanceTTL,
	})

	// ── 9. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		addr := net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
		n.rpcServer = rpc.New(addr, n.engine, cfg.RPC, cfg.Metrics)
	}

	return n, nil
}

// dialEVM connects every enabled EVM chain. A chain whose endpoint fails
// the handshake is skipped so the rest stay usable.
func dialEVM(cfg *config.Config, logger zerolog.Logger) (*evm.Registry, error) {
	reg := evm.NewRegistry(cfg.EVM.Concurrency)
	for _, name := range cfg.EVM.Chains {
		spec, ok := config.EVMChain(name)
		if !ok {
			reg.Close()
			return nil, fmt.Errorf("unknown evm chain %q", name)
		}
		url := cfg.EVM.RPCURL(spec)

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		client, err := evm.Dial(ctx, spec, url)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("chain", name).Msg("EVM chain unavailable, skipping")
			continue
		}
		reg.Register(client)
		logger.Info().
			Str("chain", name).
			Uint64("chain_id", spec.ChainID).
			Msg("EVM chain connected")
	}
	return reg, nil
}

// monitorEVM checks every EVM node's head block until ctx ends.
func (n *Node) monitorEVM(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkEVM(ctx, n.evm, n.logger)
		}
	}
}

// checkEVM runs one health round and returns the chains that failed it.
func checkEVM(ctx context.Context, reg *evm.Registry, logger zerolog.Logger) []string {
	results := evm.Each(ctx, reg, func(ctx context.Context, c *evm.Client) (evm.Health, error) {
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		return c.CheckHealth(ctx)
	})
	var down []string
	for _, r := range results {
		if r.Err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(r.Err).Str("chain", r.Chain).Uint64("failures", r.Value.Failures).Msg("EVM node health check failed")
				down = append(down, r.Chain)
			}
			continue
		}
		logger.Debug().Str("chain", r.Chain).Uint64("avg_latency_ms", r.Value.AvgLatencyMs).Msg("EVM node healthy")
	}
	return down
}

// observeSend counts terminal send states.
func observeSend(tr txbuilder.Transition) {
	if !tr.To.Terminal() {
		return
	}
	metrics.SendOutcomes.WithLabelValues(tr.Chain, string(tr.To)).Inc()
	if tr.Err != nil {
		klog.Node.Debug().Err(tr.Err).Str("wallet_id", tr.WalletID).Str("chain", tr.Chain).Str("state", string(tr.To)).Msg("Send ended")
	}
}

// Start begins serving RPC.
func (n *Node) Start() error {
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("RPC server listening")
	}

	if every := n.cfg.EVM.HealthInterval; every > 0 && len(n.evm.Clients()) > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.monitorEVM(ctx, every)
		}()
	}

	n.logger.Info().
		Int("evm_chains", len(n.evm.Clients())).
		Bool("bitcoin", n.btc != nil).
		Msg("Wallet engine started")
	return nil
}

// Stop performs graceful shutdown in reverse order. Safe to call more
// than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.cancel != nil {
			n.cancel()
			n.wg.Wait()
		}
		if n.rpcServer != nil {
			n.rpcServer.Stop()
		}
		if n.evm != nil {
			n.evm.Close()
		}
		if n.vault != nil {
			n.vault.Close()
		}
		if n.db != nil {
			n.db.Close()
		}
		n.logger.Info().Msg("Goodbye!")
	})
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Engine returns the command executor.
func (n *Node) Engine() *engine.Engine {
	return n.engine
}
