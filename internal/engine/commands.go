package engine

import (
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/ledger"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// Command is one engine request. Only the types in this file implement it.
type Command interface {
	command()
}

// CreateWallet imports a mnemonic or a private key. Exactly one of
// Mnemonic and PrivateKey is set.
type CreateWallet struct {
	Family     types.Family `json:"family"`
	Mnemonic   string       `json:"mnemonic,omitempty"`
	PrivateKey string       `json:"private_key,omitempty"`
	Label      string       `json:"label,omitempty"`
}

// GenerateMnemonic returns a fresh phrase without storing it.
type GenerateMnemonic struct {
	Words int `json:"words"` // 12 or 24; 0 means 12
}

// ListWallets returns wallets with their last stored balances. An empty
// Family lists every wallet.
type ListWallets struct {
	Family types.Family `json:"family,omitempty"`
}

// GetWalletWithBalances returns one wallet with balances, refreshed unless
// cached. Force bypasses the cache.
type GetWalletWithBalances struct {
	WalletID string `json:"wallet_id"`
	Force    bool   `json:"force,omitempty"`
}

// RenameWallet changes a wallet's label.
type RenameWallet struct {
	WalletID string `json:"wallet_id"`
	Label    string `json:"label"`
}

// ExportSecret discloses a wallet's mnemonic or private key.
type ExportSecret struct {
	WalletID string           `json:"wallet_id"`
	Kind     types.SecretKind `json:"kind"`
}

// DeleteWallet removes a wallet and its key material. Repeating it is a
// no-op.
type DeleteWallet struct {
	WalletID string `json:"wallet_id"`
}

// EstimateFee returns the fee tiers of a chain ("bitcoin" or an EVM chain).
type EstimateFee struct {
	Chain string     `json:"chain"`
	Tier  types.Tier `json:"tier,omitempty"`
}

// EstimateGas estimates an EVM transfer or call.
type EstimateGas struct {
	Chain  string     `json:"chain"`
	From   string     `json:"from,omitempty"`
	To     string     `json:"to"`
	Asset  string     `json:"asset,omitempty"`
	Amount string     `json:"amount,omitempty"`
	Data   string     `json:"data,omitempty"` // 0x hex
	Tier   types.Tier `json:"tier,omitempty"`
}

// Send transfers an asset from a wallet.
type Send struct {
	WalletID string     `json:"wallet_id"`
	Chain    string     `json:"chain"`
	To       string     `json:"to"`
	Amount   string     `json:"amount,omitempty"`
	Asset    string     `json:"asset,omitempty"`
	SendAll  bool       `json:"send_all,omitempty"`
	Tier     types.Tier `json:"tier,omitempty"`
	FeeRate  uint64     `json:"fee_rate,omitempty"`  // sat/vB
	GasPrice string     `json:"gas_price,omitempty"` // wei
	GasLimit uint64     `json:"gas_limit,omitempty"`
	Spender  string     `json:"spender,omitempty"`
	Data     string     `json:"data,omitempty"` // 0x hex, for Spender calls
}

// Approve sets an ERC-20 allowance.
type Approve struct {
	WalletID string     `json:"wallet_id"`
	Chain    string     `json:"chain"`
	Token    string     `json:"token"`
	Spender  string     `json:"spender"`
	Amount   string     `json:"amount,omitempty"`
	Max      bool       `json:"max,omitempty"`
	Tier     types.Tier `json:"tier,omitempty"`
}

// SendRaw broadcasts a transaction signed outside the engine.
type SendRaw struct {
	WalletID string `json:"wallet_id"`
	Chain    string `json:"chain"`
	RawTx    string `json:"raw_tx"` // 0x hex
}

// FetchHistory pulls a wallet's history from the chain explorers into the
// ledger. The wallet is named by WalletID, Address or both (they must then
// agree). Chain limits an EVM wallet to one chain.
type FetchHistory struct {
	WalletID string `json:"wallet_id,omitempty"`
	Address  string `json:"address,omitempty"`
	Chain    string `json:"chain,omitempty"`
}

// GetAllTransactions lists ledger records, for one wallet or all, optionally
// of one family.
type GetAllTransactions struct {
	WalletID string       `json:"wallet_id,omitempty"`
	Family   types.Family `json:"family,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

// RefreshTransactions re-checks a wallet's pending records.
type RefreshTransactions struct {
	WalletID string `json:"wallet_id"`
}

// ListChains describes every enabled chain. Check asks each EVM node for
// its head block first so the reported health is current.
type ListChains struct {
	Check bool `json:"check,omitempty"`
}

// GetPortfolio totals stored balances over every wallet, or those of one
// family. Refresh first re-reads wallets whose cached balances expired.
type GetPortfolio struct {
	Family      types.Family `json:"family,omitempty"`
	Refresh     bool         `json:"refresh,omitempty"`
	RecentLimit int          `json:"recent_limit,omitempty"` // 0 means 10
}

// GetPrices returns USD prices.
type GetPrices struct {
	Symbols []string `json:"symbols"`
}

func (*CreateWallet) command()          {}
func (*GenerateMnemonic) command()      {}
func (*ListWallets) command()           {}
func (*GetWalletWithBalances) command() {}
func (*RenameWallet) command()          {}
func (*ExportSecret) command()          {}
func (*DeleteWallet) command()          {}
func (*EstimateFee) command()           {}
func (*EstimateGas) command()           {}
func (*Send) command()                  {}
func (*Approve) command()               {}
func (*SendRaw) command()               {}
func (*FetchHistory) command()          {}
func (*GetAllTransactions) command()    {}
func (*RefreshTransactions) command()   {}
func (*ListChains) command()            {}
func (*GetPortfolio) command()          {}
func (*GetPrices) command()             {}

// =============================================================================
// Results
// =============================================================================

// MnemonicResult carries a generated phrase.
type MnemonicResult struct {
	Mnemonic string `json:"mnemonic"`
	Words    int    `json:"words"`
}

// SecretResult carries an exported secret.
type SecretResult struct {
	WalletID string           `json:"wallet_id"`
	Kind     types.SecretKind `json:"kind"`
	Secret   string           `json:"secret"`
}

// DeleteResult reports a deletion.
type DeleteResult struct {
	WalletID string `json:"wallet_id"`
	Deleted  bool   `json:"deleted"`
}

// ChainHistory is the per-chain outcome of a history fetch.
type ChainHistory struct {
	Chain   string            `json:"chain"`
	Records int               `json:"records"`
	Error   *types.ChainError `json:"error,omitempty"`
}

// HistoryResult reports a history fetch.
type HistoryResult struct {
	WalletID string         `json:"wallet_id"`
	Added    int            `json:"added"`
	Chains   []ChainHistory `json:"chains"`
}

// TransactionsResult is a page of ledger records.
type TransactionsResult struct {
	Transactions []types.TransactionRecord `json:"transactions"`
	Total        int                       `json:"total"`
}

// RefreshResult reports a status refresh.
type RefreshResult struct {
	WalletID string `json:"wallet_id"`
	Updated  int    `json:"updated"`
	Error    string `json:"error,omitempty"`
}

// ChainInfo describes one enabled chain.
type ChainInfo struct {
	Name    string        `json:"name"`
	Family  types.Family  `json:"family"`
	ChainID uint64        `json:"chain_id,omitempty"`
	Native  types.Asset   `json:"native"`
	Tokens  []types.Asset `json:"tokens,omitempty"`
	Testnet bool          `json:"testnet"`
	Health  *evm.Health   `json:"health,omitempty"` // EVM chains only
}

// PortfolioAsset is one symbol summed across wallets and chains.
type PortfolioAsset struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Balance  string   `json:"balance"`             // display units
	USDValue string   `json:"usd_value,omitempty"` // empty when never priced
	Share    string   `json:"share,omitempty"`     // percent of TotalUSD
	Chains   []string `json:"chains"`
	Wallets  int      `json:"wallets"`
}

// WalletError is a wallet whose balances could not be refreshed.
type WalletError struct {
	WalletID string `json:"wallet_id"`
	Reason   string `json:"reason"`
}

// PortfolioResult is the aggregate view of the wallets.
type PortfolioResult struct {
	TotalUSD string                    `json:"total_usd"`
	TotalBTC string                    `json:"total_btc,omitempty"` // empty without a BTC price
	Wallets  int                       `json:"wallets"`
	Assets   []PortfolioAsset          `json:"assets"`
	Recent   []types.TransactionRecord `json:"recent"`
	Errors   []WalletError             `json:"errors,omitempty"`
}

// FeeResult is a fee quote.
type FeeResult = types.FeeQuote

// Snapshot re-exports the stored balance shape.
type Snapshot = ledger.Snapshot

var bitcoinChainInfo = ChainInfo{Name: bitcoin.ChainName, Family: types.FamilyBitcoin, Native: bitcoin.NativeAsset}
