package engine

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/price"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// CreateWallet imports key material into the vault and registers the
// wallet in the ledger. Importing an address that already has a wallet of
// the same family is a validation error.
func (e *Engine) CreateWallet(c *CreateWallet) (*types.Wallet, error) {
	const op = "engine.create_wallet"
	family, err := types.ParseFamily(string(c.Family))
	if err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	hasMnemonic := strings.TrimSpace(c.Mnemonic) != ""
	hasKey := strings.TrimSpace(c.PrivateKey) != ""
	if hasMnemonic == hasKey {
		return nil, walleterr.Validation(op, "exactly one of mnemonic and private_key is required")
	}

	var w *types.Wallet
	if hasMnemonic {
		w, err = e.vault.FromMnemonic(family, c.Mnemonic, c.Label)
	} else {
		w, err = e.vault.FromPrivateKey(family, c.PrivateKey, c.Label)
	}
	if err != nil {
		return nil, err
	}

	if err := e.ledger.AddWallet(*w); err != nil {
		e.discard(w.ID)
		return nil, err
	}

	log.Engine.Info().
		Str("wallet_id", w.ID).
		Str("family", string(w.Family)).
		Str("kind", string(w.Kind)).
		Str("address", w.Address).
		Msg("Wallet created")
	return w, nil
}

// discard drops key material whose wallet could not be registered.
func (e *Engine) discard(id string) {
	if err := e.vault.Delete(id); err != nil {
		log.Engine.Error().Err(err).Str("wallet_id", id).Msg("Failed to discard key material")
	}
}

// GenerateMnemonic returns a new phrase. Nothing is stored.
func (e *Engine) GenerateMnemonic(c *GenerateMnemonic) (*MnemonicResult, error) {
	words := c.Words
	if words == 0 {
		words = 12
	}
	phrase, err := e.vault.CreateMnemonic(words)
	if err != nil {
		return nil, err
	}
	return &MnemonicResult{Mnemonic: phrase, Words: words}, nil
}

// ListWallets returns every wallet, or those of one family, with its last
// stored balances. It never touches the network.
func (e *Engine) ListWallets(c *ListWallets) ([]types.WalletWithBalances, error) {
	if c.Family != "" {
		if _, err := types.ParseFamily(string(c.Family)); err != nil {
			return nil, walleterr.Validation("engine.list_wallets", "%v", err)
		}
	}
	wallets, err := e.ledger.Wallets()
	if err != nil {
		return nil, err
	}
	out := make([]types.WalletWithBalances, 0, len(wallets))
	for _, w := range wallets {
		if c.Family != "" && w.Family != c.Family {
			continue
		}
		wb, err := e.refresher.Cached(w.ID)
		if err != nil {
			if walleterr.KindOf(err) == walleterr.KindNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, *wb)
	}
	return out, nil
}

// GetWalletWithBalances returns a wallet with balances from cache or a
// fresh fetch.
func (e *Engine) GetWalletWithBalances(ctx context.Context, c *GetWalletWithBalances) (*types.WalletWithBalances, error) {
	if c.WalletID == "" {
		return nil, walleterr.Validation("engine.get_wallet", "wallet_id is required")
	}
	return e.refresher.WalletWithBalances(ctx, c.WalletID, c.Force)
}

// RenameWallet changes a wallet's label.
func (e *Engine) RenameWallet(c *RenameWallet) (*types.Wallet, error) {
	w, err := e.ledger.Rename(c.WalletID, c.Label)
	if err != nil {
		return nil, err
	}
	e.refresher.Invalidate(w.ID)
	return &w, nil
}

// ExportSecret discloses a wallet's mnemonic or private key.
func (e *Engine) ExportSecret(c *ExportSecret) (*SecretResult, error) {
	const op = "engine.export_secret"
	if _, err := e.ledger.Wallet(c.WalletID); err != nil {
		return nil, err
	}

	var (
		secret string
		err    error
	)
	switch c.Kind {
	case types.SecretMnemonic:
		secret, err = e.vault.ExportMnemonic(c.WalletID)
	case types.SecretPrivateKey:
		secret, err = e.vault.ExportPrivateKey(c.WalletID)
	default:
		return nil, walleterr.Validation(op, "unknown secret kind %q", c.Kind)
	}
	if err != nil {
		return nil, err
	}
	log.Engine.Warn().Str("wallet_id", c.WalletID).Str("kind", string(c.Kind)).Msg("Secret exported")
	return &SecretResult{WalletID: c.WalletID, Kind: c.Kind, Secret: secret}, nil
}

// DeleteWallet removes the wallet, its owned records and its key material.
// Deleted reports whether the wallet existed.
func (e *Engine) DeleteWallet(c *DeleteWallet) (*DeleteResult, error) {
	if c.WalletID == "" {
		return nil, walleterr.Validation("engine.delete_wallet", "wallet_id is required")
	}
	_, err := e.ledger.Wallet(c.WalletID)
	existed := err == nil
	if err != nil && walleterr.KindOf(err) != walleterr.KindNotFound {
		return nil, err
	}

	if err := e.ledger.DeleteWallet(c.WalletID); err != nil {
		return nil, err
	}
	if err := e.vault.Delete(c.WalletID); err != nil {
		return nil, err
	}
	e.refresher.Invalidate(c.WalletID)
	if existed {
		log.Engine.Info().Str("wallet_id", c.WalletID).Msg("Wallet deleted")
	}
	return &DeleteResult{WalletID: c.WalletID, Deleted: existed}, nil
}

// fetchBalances is the refresher's loader: Bitcoin wallets read one chain,
// EVM wallets fan out over every registered chain. Balances are priced when
// an oracle is configured.
func (e *Engine) fetchBalances(ctx context.Context, w types.Wallet) ([]types.ChainBalances, error) {
	var chains []types.ChainBalances
	switch w.Family {
	case types.FamilyBitcoin:
		chains = []types.ChainBalances{e.bitcoinBalances(ctx, w.Address)}
	case types.FamilyEVM:
		owner := common.HexToAddress(w.Address)
		results := evm.Each(ctx, e.evm, func(ctx context.Context, c *evm.Client) ([]types.AssetBalance, error) {
			return c.Balances(ctx, owner)
		})
		for _, r := range results {
			cb := types.ChainBalances{Chain: r.Chain, Balances: r.Value}
			if r.Err != nil {
				cb.Balances = nil
				cb.Error = chainError(r.Err)
				log.Engine.Warn().Err(r.Err).Str("chain", r.Chain).Str("wallet_id", w.ID).Msg("Balance fetch failed")
			}
			chains = append(chains, cb)
		}
	default:
		return nil, walleterr.Validation("engine.balances", "unknown family %q", w.Family)
	}
	e.priceBalances(ctx, chains)
	return chains, nil
}

// bitcoinBalances reports confirmed plus net pending satoshis, floored at
// zero.
func (e *Engine) bitcoinBalances(ctx context.Context, addr string) types.ChainBalances {
	cb := types.ChainBalances{Chain: bitcoin.ChainName}
	if e.btc == nil {
		cb.Error = &types.ChainError{Kind: string(walleterr.KindUnavailable), Reason: "bitcoin is not enabled"}
		return cb
	}
	bal, err := e.btc.Balance(ctx, addr)
	if err != nil {
		cb.Error = chainError(err)
		log.Engine.Warn().Err(err).Str("chain", bitcoin.ChainName).Msg("Balance fetch failed")
		return cb
	}
	total := int64(bal.Confirmed) + bal.Pending
	if total < 0 {
		total = 0
	}
	asset := bitcoin.NativeAsset
	sats := big.NewInt(total)
	cb.Balances = []types.AssetBalance{{
		Chain:   bitcoin.ChainName,
		Asset:   asset,
		Balance: sats.String(),
		Display: types.FormatUnits(sats, asset.Decimals),
	}}
	return cb
}

func (e *Engine) priceBalances(ctx context.Context, chains []types.ChainBalances) {
	if e.prices == nil {
		return
	}
	seen := make(map[string]bool)
	var symbols []string
	for _, cb := range chains {
		for _, b := range cb.Balances {
			sym := strings.ToUpper(b.Asset.Symbol)
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	if len(symbols) == 0 {
		return
	}
	quotes, err := e.prices.Prices(ctx, symbols)
	if err != nil {
		log.Engine.Warn().Err(err).Msg("Pricing balances failed")
	}
	for i := range chains {
		for j := range chains[i].Balances {
			b := &chains[i].Balances[j]
			b.USDPrice, b.USDValue, b.PriceSource = price.Value(quotes, b.Asset.Symbol, b.Balance, b.Asset.Decimals)
		}
	}
}

func chainError(err error) *types.ChainError {
	return &types.ChainError{Kind: string(walleterr.KindOf(err)), Reason: walleterr.ReasonOf(err)}
}
