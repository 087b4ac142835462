// Package engine dispatches wallet commands to the vault, ledger, chain
// clients and transaction builder. Every front end (RPC, CLI, tests) goes
// through Execute.
package engine

import (
	"context"
	"time"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/ledger"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/price"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// BitcoinClient is the Bitcoin client surface the engine uses.
// *bitcoin.Client implements it.
type BitcoinClient interface {
	txbuilder.BitcoinChain
	fee.BitcoinSource
	Balance(ctx context.Context, addr string) (*bitcoin.AddressBalance, error)
	TipHeight(ctx context.Context) (uint64, error)
	TxStatus(ctx context.Context, txHash string) (*bitcoin.Status, error)
	HistoryRecords(ctx context.Context, walletID, addr string) ([]types.TransactionRecord, error)
}

// Explorer lists an address's EVM history. *evm.Explorer implements it.
type Explorer interface {
	HistoryRecords(ctx context.Context, spec config.EVMChainSpec, walletID, addr string) ([]types.TransactionRecord, error)
}

// PriceSource returns USD quotes. *price.Oracle implements it.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) (map[string]price.Quote, error)
}

// Deps wires an engine. Bitcoin, Explorer and Prices may be nil.
type Deps struct {
	Network    config.NetworkType
	Vault      *wallet.Vault
	Ledger     *ledger.Ledger
	Builder    *txbuilder.Builder
	Fees       *fee.Estimator
	Bitcoin    BitcoinClient
	EVM        *evm.Registry
	Explorer   Explorer
	Prices     PriceSource
	BalanceTTL time.Duration
}

// Engine executes commands.
type Engine struct {
	network   config.NetworkType
	vault     *wallet.Vault
	ledger    *ledger.Ledger
	refresher *ledger.Refresher
	builder   *txbuilder.Builder
	fees      *fee.Estimator
	btc       BitcoinClient
	evm       *evm.Registry
	explorer  Explorer
	prices    PriceSource
}

// New creates an engine.
func New(d Deps) *Engine {
	e := &Engine{
		network:  d.Network,
		vault:    d.Vault,
		ledger:   d.Ledger,
		builder:  d.Builder,
		fees:     d.Fees,
		btc:      d.Bitcoin,
		evm:      d.EVM,
		explorer: d.Explorer,
		prices:   d.Prices,
	}
	if e.evm == nil {
		e.evm = evm.NewRegistry(0)
	}
	e.refresher = ledger.NewRefresher(d.Ledger, e.fetchBalances, d.BalanceTTL)
	return e
}

// Execute runs one command and returns its result.
func (e *Engine) Execute(ctx context.Context, cmd Command) (any, error) {
	switch c := cmd.(type) {
	case *CreateWallet:
		return e.CreateWallet(c)
	case *GenerateMnemonic:
		return e.GenerateMnemonic(c)
	case *ListWallets:
		return e.ListWallets(c)
	case *GetWalletWithBalances:
		return e.GetWalletWithBalances(ctx, c)
	case *RenameWallet:
		return e.RenameWallet(c)
	case *ExportSecret:
		return e.ExportSecret(c)
	case *DeleteWallet:
		return e.DeleteWallet(c)
	case *EstimateFee:
		return e.EstimateFee(ctx, c)
	case *EstimateGas:
		return e.EstimateGas(ctx, c)
	case *Send:
		return e.Send(ctx, c)
	case *Approve:
		return e.Approve(ctx, c)
	case *SendRaw:
		return e.SendRaw(ctx, c)
	case *FetchHistory:
		return e.FetchHistory(ctx, c)
	case *GetAllTransactions:
		return e.GetAllTransactions(c)
	case *RefreshTransactions:
		return e.RefreshTransactions(ctx, c)
	case *ListChains:
		return e.ListChains(ctx, c), nil
	case *GetPortfolio:
		return e.GetPortfolio(ctx, c)
	case *GetPrices:
		return e.GetPrices(ctx, c)
	case nil:
		return nil, walleterr.Validation("engine.execute", "no command")
	}
	return nil, walleterr.New(walleterr.KindInternal, "engine.execute", "unhandled command %T", cmd)
}

// Refresher exposes the balance cache.
func (e *Engine) Refresher() *ledger.Refresher { return e.refresher }

// ListChains describes Bitcoin (when enabled) and every registered EVM
// chain with its node health.
func (e *Engine) ListChains(ctx context.Context, c *ListChains) []ChainInfo {
	if c != nil && c.Check {
		for _, r := range evm.Each(ctx, e.evm, func(ctx context.Context, client *evm.Client) (evm.Health, error) {
			return client.CheckHealth(ctx)
		}) {
			if r.Err != nil {
				log.Engine.Warn().Err(r.Err).Str("chain", r.Chain).Msg("EVM node health check failed")
			}
		}
	}

	var out []ChainInfo
	if e.btc != nil {
		info := bitcoinChainInfo
		info.Testnet = e.network != config.Mainnet
		out = append(out, info)
	}
	for _, client := range e.evm.Clients() {
		spec := client.Spec()
		info := ChainInfo{
			Name:    spec.Name,
			Family:  types.FamilyEVM,
			ChainID: spec.ChainID,
			Native:  client.NativeAsset(),
			Testnet: spec.Testnet,
		}
		health := client.Health()
		info.Health = &health
		for _, t := range spec.Tokens {
			if a, ok := client.Token(t.Symbol); ok {
				info.Tokens = append(info.Tokens, a)
			}
		}
		out = append(out, info)
	}
	return out
}

// GetPrices returns USD quotes. A partial failure still returns what was
// resolved; the error is returned only when nothing was.
func (e *Engine) GetPrices(ctx context.Context, c *GetPrices) (map[string]price.Quote, error) {
	if len(c.Symbols) == 0 {
		return nil, walleterr.Validation("engine.get_prices", "no symbols")
	}
	if e.prices == nil {
		return nil, walleterr.New(walleterr.KindUnavailable, "engine.get_prices", "price oracle is disabled")
	}
	quotes, err := e.prices.Prices(ctx, c.Symbols)
	if err != nil && len(quotes) == 0 {
		return nil, err
	}
	return quotes, nil
}
