package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/ledger"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/price"
	"github.com/Klingon-tech/klingwallet/internal/storage"
	"github.com/Klingon-tech/klingwallet/internal/txbuilder"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

func init() { log.Disable() }

const (
	abandon = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	keyOne  = "0000000000000000000000000000000000000000000000000000000000000001"
	btcDest = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	evmDest = "0x1111111111111111111111111111111111111111"
)

type env struct {
	e        *Engine
	ledger   *ledger.Ledger
	btc      *fakeBitcoin
	ethereum *fakeNode
	polygon  *fakeNode
	explorer *fakeExplorer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := storage.NewMemory()
	vault, err := wallet.Open(storage.NewPrefixDB(db, []byte("vault/")), []byte("test-password"),
		wallet.KDFParams{Memory: 64, Iterations: 1, Parallelism: 1}, &chaincfg.MainNetParams)
	require.NoError(t, err)
	t.Cleanup(vault.Close)

	v := &env{
		ledger:   ledger.New(db),
		btc:      &fakeBitcoin{statuses: make(map[string]bitcoin.Status)},
		explorer: &fakeExplorer{records: make(map[string][]types.TransactionRecord)},
	}
	reg := evm.NewRegistry(0)
	for _, name := range []string{"ethereum", "polygon"} {
		spec, ok := config.EVMChain(name)
		require.True(t, ok)
		node := newFakeNode(spec)
		if name == "ethereum" {
			v.ethereum = node
		} else {
			v.polygon = node
		}
		reg.Register(evm.NewClient(spec, node))
	}

	fees := fee.New(v.btc, config.Mainnet, config.EVMConfig{}, 0)
	builder := txbuilder.New(txbuilder.Config{Params: &chaincfg.MainNetParams}, vault, v.btc, reg, fees, v.ledger)
	v.e = New(Deps{
		Network:    config.Mainnet,
		Vault:      vault,
		Ledger:     v.ledger,
		Builder:    builder,
		Fees:       fees,
		Bitcoin:    v.btc,
		EVM:        reg,
		Explorer:   v.explorer,
		Prices:     fixedPrices{"BTC": "50000", "MATIC": "0.5", "ETH": "3000"},
		BalanceTTL: time.Minute,
	})
	return v
}

func (v *env) create(t *testing.T, cmd *CreateWallet) types.Wallet {
	t.Helper()
	out, err := v.e.Execute(context.Background(), cmd)
	require.NoError(t, err)
	return *out.(*types.Wallet)
}

func TestCreateWallet_DerivationPins(t *testing.T) {
	v := newEnv(t)

	btc := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	assert.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", btc.Address)
	assert.Equal(t, types.KindMnemonic, btc.Kind)

	eth := v.create(t, &CreateWallet{Family: types.FamilyEVM, Mnemonic: abandon, Label: "main"})
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", eth.Address)
	assert.Equal(t, "main", eth.Label)

	key := v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
	assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", key.Address)
	assert.Equal(t, types.KindPrivateKey, key.Kind)

	out, err := v.e.Execute(context.Background(), &ListWallets{})
	require.NoError(t, err)
	assert.Len(t, out.([]types.WalletWithBalances), 3)
}

func TestCreateWallet_Rejects(t *testing.T) {
	v := newEnv(t)
	v.create(t, &CreateWallet{Family: types.FamilyBitcoin, PrivateKey: keyOne})

	tests := []struct {
		name string
		cmd  *CreateWallet
		want error
	}{
		{"unknown family", &CreateWallet{Family: "solana", Mnemonic: abandon}, walleterr.ErrValidation},
		{"both secrets", &CreateWallet{Family: types.FamilyEVM, Mnemonic: abandon, PrivateKey: keyOne}, walleterr.ErrValidation},
		{"no secret", &CreateWallet{Family: types.FamilyEVM}, walleterr.ErrValidation},
		{"bad checksum", &CreateWallet{Family: types.FamilyEVM, Mnemonic: strings.Repeat("abandon ", 12)}, walleterr.ErrInvalidMnemonic},
		{"bad key", &CreateWallet{Family: types.FamilyEVM, PrivateKey: "0x1234"}, walleterr.ErrInvalidPrivateKey},
		{"duplicate address", &CreateWallet{Family: types.FamilyBitcoin, PrivateKey: keyOne}, walleterr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.e.Execute(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	wallets, err := v.e.ListWallets(&ListWallets{})
	require.NoError(t, err)
	assert.Len(t, wallets, 1)
}

func TestCreateWallet_ConcurrentDuplicateImport(t *testing.T) {
	v := newEnv(t)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.e.CreateWallet(&CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, walleterr.ErrValidation), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	wallets, err := v.ledger.Wallets()
	require.NoError(t, err)
	assert.Len(t, wallets, 1)
}

func TestListWallets_FamilyFilter(t *testing.T) {
	v := newEnv(t)
	btc := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	v.create(t, &CreateWallet{Family: types.FamilyEVM, Mnemonic: abandon})
	v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})

	evmOnly, err := v.e.ListWallets(&ListWallets{Family: types.FamilyEVM})
	require.NoError(t, err)
	assert.Len(t, evmOnly, 2)

	btcOnly, err := v.e.ListWallets(&ListWallets{Family: types.FamilyBitcoin})
	require.NoError(t, err)
	require.Len(t, btcOnly, 1)
	assert.Equal(t, btc.ID, btcOnly[0].Wallet.ID)

	_, err = v.e.ListWallets(&ListWallets{Family: "solana"})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}

func TestExecute_NilCommand(t *testing.T) {
	v := newEnv(t)
	_, err := v.e.Execute(context.Background(), nil)
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}

func TestGenerateMnemonic(t *testing.T) {
	v := newEnv(t)
	out, err := v.e.Execute(context.Background(), &GenerateMnemonic{})
	require.NoError(t, err)
	res := out.(*MnemonicResult)
	assert.Equal(t, 12, res.Words)
	assert.Len(t, strings.Fields(res.Mnemonic), 12)
	assert.True(t, wallet.ValidateMnemonic(res.Mnemonic))

	_, err = v.e.Execute(context.Background(), &GenerateMnemonic{Words: 13})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}

func TestExportSecret(t *testing.T) {
	v := newEnv(t)
	mw := v.create(t, &CreateWallet{Family: types.FamilyEVM, Mnemonic: abandon})
	kw := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, PrivateKey: keyOne})

	out, err := v.e.Execute(context.Background(), &ExportSecret{WalletID: mw.ID, Kind: types.SecretMnemonic})
	require.NoError(t, err)
	assert.Equal(t, abandon, out.(*SecretResult).Secret)

	out, err = v.e.Execute(context.Background(), &ExportSecret{WalletID: kw.ID, Kind: types.SecretPrivateKey})
	require.NoError(t, err)
	assert.Equal(t, "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn", out.(*SecretResult).Secret)

	_, err = v.e.Execute(context.Background(), &ExportSecret{WalletID: kw.ID, Kind: types.SecretMnemonic})
	assert.True(t, errors.Is(err, walleterr.ErrUnsupportedExport))

	_, err = v.e.Execute(context.Background(), &ExportSecret{WalletID: kw.ID, Kind: "seed"})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))

	_, err = v.e.Execute(context.Background(), &ExportSecret{WalletID: "missing", Kind: types.SecretMnemonic})
	assert.True(t, errors.Is(err, walleterr.ErrNotFound))
}

func TestDeleteWallet_Idempotent(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})

	out, err := v.e.Execute(context.Background(), &DeleteWallet{WalletID: w.ID})
	require.NoError(t, err)
	assert.True(t, out.(*DeleteResult).Deleted)

	out, err = v.e.Execute(context.Background(), &DeleteWallet{WalletID: w.ID})
	require.NoError(t, err)
	assert.False(t, out.(*DeleteResult).Deleted)

	_, err = v.e.Execute(context.Background(), &ExportSecret{WalletID: w.ID, Kind: types.SecretMnemonic})
	assert.True(t, errors.Is(err, walleterr.ErrNotFound))

	// The address can be imported again once deleted.
	v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
}

func TestRenameWallet(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})

	out, err := v.e.Execute(context.Background(), &RenameWallet{WalletID: w.ID, Label: "  savings "})
	require.NoError(t, err)
	assert.Equal(t, "savings", out.(*types.Wallet).Label)

	_, err = v.e.Execute(context.Background(), &RenameWallet{WalletID: w.ID, Label: " "})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}

func TestBalances_Bitcoin(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	v.btc.balance = bitcoin.AddressBalance{Confirmed: 150_000, Pending: -50_000}

	out, err := v.e.Execute(context.Background(), &GetWalletWithBalances{WalletID: w.ID})
	require.NoError(t, err)
	wb := out.(*types.WalletWithBalances)
	assert.False(t, wb.CacheHit)
	require.Len(t, wb.Chains, 1)
	require.Len(t, wb.Chains[0].Balances, 1)
	bal := wb.Chains[0].Balances[0]
	assert.Equal(t, "100000", bal.Balance)
	assert.Equal(t, "0.001", bal.Display)
	assert.Equal(t, "50000", bal.USDPrice)
	assert.Equal(t, "50.00", bal.USDValue)
	assert.Equal(t, types.SourceLive, bal.PriceSource)
	assert.Equal(t, "50.00", wb.TotalUSD)

	out, err = v.e.Execute(context.Background(), &GetWalletWithBalances{WalletID: w.ID})
	require.NoError(t, err)
	assert.True(t, out.(*types.WalletWithBalances).CacheHit)

	listed, err := v.e.ListWallets(&ListWallets{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "50.00", listed[0].TotalUSD)
}

func TestBalances_PerChainErrors(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
	v.ethereum.down = true
	v.polygon.balance = new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000))

	wb, err := v.e.GetWalletWithBalances(context.Background(), &GetWalletWithBalances{WalletID: w.ID})
	require.NoError(t, err)
	require.Len(t, wb.Chains, 2)

	assert.Equal(t, "ethereum", wb.Chains[0].Chain)
	require.NotNil(t, wb.Chains[0].Error)
	assert.Equal(t, string(walleterr.KindUnavailable), wb.Chains[0].Error.Kind)
	assert.Empty(t, wb.Chains[0].Balances)

	polygon := wb.Chains[1]
	assert.Equal(t, "polygon", polygon.Chain)
	assert.Nil(t, polygon.Error)
	require.NotEmpty(t, polygon.Balances)
	assert.Equal(t, "MATIC", polygon.Balances[0].Asset.Symbol)
	assert.Equal(t, "2", polygon.Balances[0].Display)
	assert.Equal(t, "1.00", polygon.Balances[0].USDValue)
	assert.Equal(t, "1.00", wb.TotalUSD)
}

func TestFetchHistory_TwiceKeepsOneRecord(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	v.btc.history = []types.TransactionRecord{{
		Family: types.FamilyBitcoin,
		Chain:  bitcoin.ChainName,
		TxHash: strings.Repeat("ab", 32),
		Type:   types.TxReceive,
		Amount: "1000",
		Asset:  bitcoin.NativeAsset,
	}}

	for i, wantAdded := range []int{1, 0} {
		out, err := v.e.Execute(context.Background(), &FetchHistory{WalletID: w.ID})
		require.NoError(t, err, "fetch %d", i)
		res := out.(*HistoryResult)
		assert.Equal(t, wantAdded, res.Added, "fetch %d", i)
		require.Len(t, res.Chains, 1)
		assert.Equal(t, 1, res.Chains[0].Records)
	}

	out, err := v.e.Execute(context.Background(), &GetAllTransactions{WalletID: w.ID})
	require.NoError(t, err)
	txs := out.(*TransactionsResult)
	assert.Equal(t, 1, txs.Total)
	require.Len(t, txs.Transactions, 1)
	assert.Equal(t, types.StatusPending, txs.Transactions[0].Status)
}

func TestFetchHistory_EVMExplorer(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
	v.explorer.records["polygon"] = []types.TransactionRecord{{
		Family:  types.FamilyEVM,
		Chain:   "polygon",
		ChainID: 137,
		TxHash:  "0x" + strings.Repeat("cd", 32),
		Type:    types.TxSend,
		Status:  types.StatusConfirmed,
	}}

	for i := 0; i < 2; i++ {
		_, err := v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: w.ID})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, v.explorer.calls, "two chains, two fetches")

	res, err := v.e.GetAllTransactions(&GetAllTransactions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, types.StatusConfirmed, res.Transactions[0].Status)
}

func TestFetchHistory_SingleChain(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
	for chain, id := range map[string]uint64{"ethereum": 1, "polygon": 137} {
		v.explorer.records[chain] = []types.TransactionRecord{{
			Family:  types.FamilyEVM,
			Chain:   chain,
			ChainID: id,
			TxHash:  "0x" + strings.Repeat("cd", 32),
			Type:    types.TxSend,
			Status:  types.StatusConfirmed,
		}}
	}

	res, err := v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: w.ID, Chain: "polygon"})
	require.NoError(t, err)
	assert.Equal(t, 1, v.explorer.calls)
	require.Len(t, res.Chains, 1)
	assert.Equal(t, "polygon", res.Chains[0].Chain)
	assert.Equal(t, 1, res.Added)

	tests := []struct {
		name string
		cmd  *FetchHistory
		want error
	}{
		{"unknown chain", &FetchHistory{WalletID: w.ID, Chain: "dogechain"}, walleterr.ErrValidation},
		{"bitcoin chain on evm wallet", &FetchHistory{WalletID: w.ID, Chain: bitcoin.ChainName}, walleterr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.e.FetchHistory(context.Background(), tt.cmd)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 1, v.explorer.calls)
}

func TestFetchHistory_ByAddress(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	v.btc.history = []types.TransactionRecord{{
		Family: types.FamilyBitcoin,
		Chain:  bitcoin.ChainName,
		TxHash: strings.Repeat("ab", 32),
		Type:   types.TxReceive,
		Amount: "1000",
		Asset:  bitcoin.NativeAsset,
	}}

	res, err := v.e.FetchHistory(context.Background(), &FetchHistory{Address: w.Address})
	require.NoError(t, err)
	assert.Equal(t, w.ID, res.WalletID)

	res, err = v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: w.ID, Address: w.Address, Chain: bitcoin.ChainName})
	require.NoError(t, err)
	assert.Equal(t, w.ID, res.WalletID)

	_, err = v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: w.ID, Address: btcDest[:len(btcDest)-1] + "x"})
	assert.True(t, errors.Is(err, walleterr.ErrValidation), "mismatched address: %v", err)

	_, err = v.e.FetchHistory(context.Background(), &FetchHistory{Address: evmDest})
	assert.True(t, errors.Is(err, walleterr.ErrNotFound), "unknown address: %v", err)

	_, err = v.e.FetchHistory(context.Background(), &FetchHistory{})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))

	_, err = v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: w.ID, Chain: "polygon"})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}

func TestGetAllTransactions_FamilyFilter(t *testing.T) {
	v := newEnv(t)
	btc := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	eth := v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
	v.btc.history = []types.TransactionRecord{{
		Family: types.FamilyBitcoin, Chain: bitcoin.ChainName, TxHash: strings.Repeat("ab", 32),
		Type: types.TxReceive, Asset: bitcoin.NativeAsset,
	}}
	v.explorer.records["polygon"] = []types.TransactionRecord{{
		Family: types.FamilyEVM, Chain: "polygon", ChainID: 137, TxHash: "0x" + strings.Repeat("cd", 32),
		Type: types.TxSend, Status: types.StatusConfirmed,
	}}
	_, err := v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: btc.ID})
	require.NoError(t, err)
	_, err = v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: eth.ID})
	require.NoError(t, err)

	all, err := v.e.GetAllTransactions(&GetAllTransactions{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	evmOnly, err := v.e.GetAllTransactions(&GetAllTransactions{Family: types.FamilyEVM})
	require.NoError(t, err)
	assert.Equal(t, 1, evmOnly.Total)
	require.Len(t, evmOnly.Transactions, 1)
	assert.Equal(t, "polygon", evmOnly.Transactions[0].Chain)

	none, err := v.e.GetAllTransactions(&GetAllTransactions{WalletID: btc.ID, Family: types.FamilyEVM})
	require.NoError(t, err)
	assert.Equal(t, 0, none.Total)
	assert.NotNil(t, none.Transactions)

	_, err = v.e.GetAllTransactions(&GetAllTransactions{Family: "solana"})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}

func TestRefreshTransactions(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	confirmed := strings.Repeat("ab", 32)
	unknown := strings.Repeat("ef", 32)
	for _, h := range []string{confirmed, unknown} {
		_, err := v.ledger.UpsertTransaction(types.TransactionRecord{
			WalletID: w.ID, Family: types.FamilyBitcoin, Chain: bitcoin.ChainName, TxHash: h, Type: types.TxSend,
		})
		require.NoError(t, err)
	}
	v.btc.tip = 102
	v.btc.statuses[confirmed] = bitcoin.Status{Confirmed: true, BlockHeight: 100, BlockTime: 1_700_000_000}

	out, err := v.e.Execute(context.Background(), &RefreshTransactions{WalletID: w.ID})
	require.NoError(t, err)
	res := out.(*RefreshResult)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Error)

	rec, err := v.ledger.Transaction(ledger.RecordID(bitcoin.ChainName, confirmed))
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, rec.Status)
	assert.Equal(t, uint64(3), rec.Confirmations)
	assert.Equal(t, uint64(100), rec.BlockNumber)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), rec.Timestamp.UTC())

	pending, err := v.ledger.Pending(w.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, unknown, pending[0].TxHash)
}

func TestSend_BitcoinRecordsAndInvalidates(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, PrivateKey: keyOne})
	v.btc.utxos = []types.UTXO{{
		Outpoint:  types.Outpoint{TxHash: strings.Repeat("11", 32)},
		Value:     100_000,
		Confirmed: true,
	}}

	_, err := v.e.GetWalletWithBalances(context.Background(), &GetWalletWithBalances{WalletID: w.ID})
	require.NoError(t, err)

	out, err := v.e.Execute(context.Background(), &Send{WalletID: w.ID, To: btcDest, Amount: "0.0005", FeeRate: 10})
	require.NoError(t, err)
	res := out.(*txbuilder.Result)
	assert.NotEmpty(t, res.TxHash)
	assert.Len(t, v.btc.broadcast, 1)

	wb, err := v.e.GetWalletWithBalances(context.Background(), &GetWalletWithBalances{WalletID: w.ID})
	require.NoError(t, err)
	assert.False(t, wb.CacheHit, "a send drops cached balances")

	txs, err := v.e.GetAllTransactions(&GetAllTransactions{WalletID: w.ID})
	require.NoError(t, err)
	require.Equal(t, 1, txs.Total)
	assert.Equal(t, res.TxHash, txs.Transactions[0].TxHash)
	assert.Equal(t, types.TxSend, txs.Transactions[0].Type)
	assert.Equal(t, "50000", txs.Transactions[0].Amount)
}

func TestSend_Validation(t *testing.T) {
	v := newEnv(t)
	w := v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})

	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"unknown wallet", &Send{WalletID: "nope", Chain: "polygon", To: evmDest, Amount: "1"}, walleterr.ErrNotFound},
		{"bad tier", &Send{WalletID: w.ID, Chain: "polygon", To: evmDest, Amount: "1", Tier: "turbo"}, walleterr.ErrValidation},
		{"bad gas price", &Send{WalletID: w.ID, Chain: "polygon", To: evmDest, Amount: "1", GasPrice: "-5"}, walleterr.ErrValidation},
		{"bad data", &Send{WalletID: w.ID, Chain: "polygon", To: evmDest, Amount: "1", Data: "0xzz"}, walleterr.ErrValidation},
		{"empty raw tx", &SendRaw{WalletID: w.ID, Chain: "polygon"}, walleterr.ErrValidation},
		{"odd raw tx", &SendRaw{WalletID: w.ID, Chain: "polygon", RawTx: "abc"}, walleterr.ErrValidation},
		{"approve native", &Approve{WalletID: w.ID, Chain: "polygon", Token: "MATIC", Spender: evmDest, Max: true}, walleterr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.e.Execute(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEstimateFeeAndGas(t *testing.T) {
	v := newEnv(t)

	out, err := v.e.Execute(context.Background(), &EstimateFee{Chain: "bitcoin", Tier: types.TierFast})
	require.NoError(t, err)
	q := out.(*types.FeeQuote)
	require.NotNil(t, q.Bitcoin)
	assert.Equal(t, uint64(8), q.Bitcoin.Fast)
	assert.Equal(t, types.SourceLive, q.Source)

	_, err = v.e.Execute(context.Background(), &EstimateFee{Chain: "dogechain"})
	assert.True(t, errors.Is(err, walleterr.ErrNotFound) || errors.Is(err, walleterr.ErrValidation), "got %v", err)

	out, err = v.e.Execute(context.Background(), &EstimateGas{Chain: "polygon", To: evmDest, Amount: "1"})
	require.NoError(t, err)
	est := out.(*types.GasEstimate)
	assert.Equal(t, uint64(26250), est.GasLimit)
	assert.NotEmpty(t, est.FeeUSD)
}

func TestListChains(t *testing.T) {
	v := newEnv(t)
	chains := v.e.ListChains(context.Background(), &ListChains{})
	require.Len(t, chains, 3)
	assert.Equal(t, "bitcoin", chains[0].Name)
	assert.Equal(t, "BTC", chains[0].Native.Symbol)
	assert.False(t, chains[0].Testnet)
	assert.Equal(t, "ethereum", chains[1].Name)
	assert.Equal(t, uint64(1), chains[1].ChainID)
	assert.NotEmpty(t, chains[1].Tokens)
	assert.Equal(t, "MATIC", chains[2].Native.Symbol)
	assert.Nil(t, chains[0].Health)
	require.NotNil(t, chains[1].Health)
	assert.True(t, chains[1].Health.Healthy)
}

func TestListChains_CheckReportsNodeHealth(t *testing.T) {
	v := newEnv(t)
	v.ethereum.down = true

	out, err := v.e.Execute(context.Background(), &ListChains{Check: true})
	require.NoError(t, err)
	chains := out.([]ChainInfo)
	require.Len(t, chains, 3)

	eth := chains[1].Health
	require.NotNil(t, eth)
	assert.False(t, eth.Healthy)
	assert.Equal(t, uint64(1), eth.Failures)
	assert.Contains(t, eth.LastError, "connection refused")

	polygon := chains[2].Health
	require.NotNil(t, polygon)
	assert.True(t, polygon.Healthy)
	assert.False(t, polygon.LastOKAt.IsZero())

	v.ethereum.down = false
	chains = v.e.ListChains(context.Background(), &ListChains{Check: true})
	assert.True(t, chains[1].Health.Healthy)
}

func TestGetPortfolio(t *testing.T) {
	v := newEnv(t)
	btc := v.create(t, &CreateWallet{Family: types.FamilyBitcoin, Mnemonic: abandon})
	v.create(t, &CreateWallet{Family: types.FamilyEVM, Mnemonic: abandon})
	v.create(t, &CreateWallet{Family: types.FamilyEVM, PrivateKey: keyOne})
	v.btc.balance = bitcoin.AddressBalance{Confirmed: 100_000}
	v.polygon.balance = new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000))
	v.btc.history = []types.TransactionRecord{{
		Family: types.FamilyBitcoin, Chain: bitcoin.ChainName, TxHash: strings.Repeat("ab", 32),
		Type: types.TxReceive, Amount: "100000", Asset: bitcoin.NativeAsset,
	}}
	_, err := v.e.FetchHistory(context.Background(), &FetchHistory{WalletID: btc.ID})
	require.NoError(t, err)

	stored, err := v.e.GetPortfolio(context.Background(), &GetPortfolio{})
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Wallets)
	assert.Empty(t, stored.Assets, "nothing refreshed yet")
	assert.Equal(t, "0.00", stored.TotalUSD)

	out, err := v.e.Execute(context.Background(), &GetPortfolio{Refresh: true})
	require.NoError(t, err)
	p := out.(*PortfolioResult)
	assert.Equal(t, "52.00", p.TotalUSD)
	assert.Equal(t, "0.00104000", p.TotalBTC)
	assert.Empty(t, p.Errors)
	require.Len(t, p.Assets, 2, "zero ETH balances are left out")

	assert.Equal(t, "BTC", p.Assets[0].Symbol)
	assert.Equal(t, "0.001", p.Assets[0].Balance)
	assert.Equal(t, "50.00", p.Assets[0].USDValue)
	assert.Equal(t, "96.15", p.Assets[0].Share)
	assert.Equal(t, []string{"bitcoin"}, p.Assets[0].Chains)

	assert.Equal(t, "MATIC", p.Assets[1].Symbol)
	assert.Equal(t, "4", p.Assets[1].Balance)
	assert.Equal(t, "2.00", p.Assets[1].USDValue)
	assert.Equal(t, "3.85", p.Assets[1].Share)
	assert.Equal(t, 2, p.Assets[1].Wallets)
	require.Len(t, p.Recent, 1)
	assert.Equal(t, btc.ID, p.Recent[0].WalletID)

	// Stored snapshots now carry the same totals.
	stored, err = v.e.GetPortfolio(context.Background(), &GetPortfolio{})
	require.NoError(t, err)
	assert.Equal(t, "52.00", stored.TotalUSD)

	evmOnly, err := v.e.GetPortfolio(context.Background(), &GetPortfolio{Family: types.FamilyEVM})
	require.NoError(t, err)
	assert.Equal(t, 2, evmOnly.Wallets)
	assert.Equal(t, "2.00", evmOnly.TotalUSD)
	require.Len(t, evmOnly.Assets, 1)
	assert.Equal(t, "100.00", evmOnly.Assets[0].Share)
	assert.Empty(t, evmOnly.Recent)
	assert.NotNil(t, evmOnly.Recent)
}

func TestGetPortfolio_Validation(t *testing.T) {
	v := newEnv(t)
	tests := []struct {
		name string
		cmd  *GetPortfolio
	}{
		{"unknown family", &GetPortfolio{Family: "solana"}},
		{"negative limit", &GetPortfolio{RecentLimit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.e.GetPortfolio(context.Background(), tt.cmd)
			assert.True(t, errors.Is(err, walleterr.ErrValidation), "got %v", err)
		})
	}
}

func TestGetPrices(t *testing.T) {
	v := newEnv(t)
	out, err := v.e.Execute(context.Background(), &GetPrices{Symbols: []string{"btc", "DOGE"}})
	require.NoError(t, err)
	quotes := out.(map[string]price.Quote)
	assert.Equal(t, "50000", quotes["BTC"].USD.String())
	assert.NotContains(t, quotes, "DOGE")

	_, err = v.e.Execute(context.Background(), &GetPrices{})
	assert.True(t, errors.Is(err, walleterr.ErrValidation))
}
