package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Klingon-tech/klingwallet/internal/chain/bitcoin"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/ledger"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// FetchHistory pulls a wallet's history from every chain of its family,
// or from c.Chain alone, and ingests it. Chains that fail are reported per
// chain; records from the others are still stored.
func (e *Engine) FetchHistory(ctx context.Context, c *FetchHistory) (*HistoryResult, error) {
	const op = "engine.fetch_history"
	w, err := e.historyWallet(c)
	if err != nil {
		return nil, err
	}
	if c.Chain != "" {
		if err := e.checkHistoryChain(w, c.Chain); err != nil {
			return nil, err
		}
	}

	var (
		chains []ChainHistory
		all    []types.TransactionRecord
	)
	switch w.Family {
	case types.FamilyBitcoin:
		if e.btc == nil {
			return nil, walleterr.New(walleterr.KindUnavailable, op, "bitcoin is not enabled")
		}
		recs, err := e.btc.HistoryRecords(ctx, w.ID, w.Address)
		ch := ChainHistory{Chain: bitcoin.ChainName, Records: len(recs)}
		if err != nil {
			ch.Error = chainError(err)
		}
		chains = append(chains, ch)
		all = append(all, recs...)
	case types.FamilyEVM:
		if e.explorer == nil {
			return nil, walleterr.New(walleterr.KindUnavailable, op, "no EVM explorer configured")
		}
		results := evm.Each(ctx, e.evm, func(ctx context.Context, client *evm.Client) ([]types.TransactionRecord, error) {
			if c.Chain != "" && client.Name() != c.Chain {
				return nil, errSkipChain
			}
			return e.explorer.HistoryRecords(ctx, client.Spec(), w.ID, w.Address)
		})
		for _, r := range results {
			if errors.Is(r.Err, errSkipChain) {
				continue
			}
			ch := ChainHistory{Chain: r.Chain, Records: len(r.Value)}
			if r.Err != nil {
				ch.Error = chainError(r.Err)
				log.Engine.Warn().Err(r.Err).Str("chain", r.Chain).Str("wallet_id", w.ID).Msg("History fetch failed")
			}
			chains = append(chains, ch)
			all = append(all, r.Value...)
		}
	}

	added, err := e.ledger.IngestHistory(all)
	if err != nil {
		return nil, err
	}
	log.Engine.Info().Str("wallet_id", w.ID).Int("fetched", len(all)).Int("added", added).Msg("History ingested")
	return &HistoryResult{WalletID: w.ID, Added: added, Chains: chains}, nil
}

// errSkipChain marks chains left out of a single-chain history fetch.
var errSkipChain = errors.New("chain not selected")

// historyWallet resolves the wallet a FetchHistory names.
func (e *Engine) historyWallet(c *FetchHistory) (types.Wallet, error) {
	const op = "engine.fetch_history"
	addr := strings.TrimSpace(c.Address)
	switch {
	case c.WalletID == "" && addr == "":
		return types.Wallet{}, walleterr.Validation(op, "wallet_id or address is required")
	case c.WalletID == "":
		family := types.FamilyBitcoin
		if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
			family = types.FamilyEVM
		}
		return e.ledger.WalletByAddress(family, addr)
	}
	w, err := e.ledger.Wallet(c.WalletID)
	if err != nil {
		return types.Wallet{}, err
	}
	if addr != "" && !strings.EqualFold(addr, w.Address) {
		return types.Wallet{}, walleterr.Validation(op, "address %s does not belong to wallet %s", addr, w.ID)
	}
	return w, nil
}

// checkHistoryChain rejects a chain that the wallet's family cannot have
// history on.
func (e *Engine) checkHistoryChain(w types.Wallet, chain string) error {
	const op = "engine.fetch_history"
	if w.Family == types.FamilyBitcoin {
		if chain != bitcoin.ChainName {
			return walleterr.Validation(op, "bitcoin wallet has no history on %s", chain)
		}
		return nil
	}
	if chain == bitcoin.ChainName {
		return walleterr.Validation(op, "evm wallet has no history on bitcoin")
	}
	_, err := e.evm.Get(chain)
	return err
}

// GetAllTransactions pages through one wallet's records, or every record
// when WalletID is empty, optionally of one family. Newest first.
func (e *Engine) GetAllTransactions(c *GetAllTransactions) (*TransactionsResult, error) {
	const op = "engine.list_transactions"
	if c.Limit < 0 || c.Offset < 0 {
		return nil, walleterr.Validation(op, "limit and offset must not be negative")
	}
	if c.Family != "" {
		if _, err := types.ParseFamily(string(c.Family)); err != nil {
			return nil, walleterr.Validation(op, "%v", err)
		}
	}
	if c.WalletID != "" {
		if _, err := e.ledger.Wallet(c.WalletID); err != nil {
			return nil, err
		}
	}
	recs, total, err := e.ledger.Select(ledger.Query{
		WalletID: c.WalletID,
		Family:   c.Family,
		Limit:    c.Limit,
		Offset:   c.Offset,
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []types.TransactionRecord{}
	}
	return &TransactionsResult{Transactions: recs, Total: total}, nil
}

// RefreshTransactions re-checks a wallet's pending records. Lookup
// failures are reported in the result; the records that could be checked
// are still updated.
func (e *Engine) RefreshTransactions(ctx context.Context, c *RefreshTransactions) (*RefreshResult, error) {
	if _, err := e.ledger.Wallet(c.WalletID); err != nil {
		return nil, err
	}
	updated, err := e.ledger.RefreshStatuses(ctx, c.WalletID, chainStatus{e})
	res := &RefreshResult{WalletID: c.WalletID, Updated: updated}
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		res.Error = walleterr.ReasonOf(err)
	}
	if updated > 0 {
		e.refresher.Invalidate(c.WalletID)
	}
	return res, nil
}

// chainStatus resolves record status from the record's chain.
type chainStatus struct{ e *Engine }

func (s chainStatus) TxStatus(ctx context.Context, rec types.TransactionRecord) (*ledger.StatusUpdate, error) {
	if rec.Chain == bitcoin.ChainName {
		return s.bitcoin(ctx, rec.TxHash)
	}
	return s.evm(ctx, rec.Chain, rec.TxHash)
}

func (s chainStatus) bitcoin(ctx context.Context, hash string) (*ledger.StatusUpdate, error) {
	if s.e.btc == nil {
		return nil, walleterr.New(walleterr.KindUnavailable, "engine.tx_status", "bitcoin is not enabled")
	}
	st, err := s.e.btc.TxStatus(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !st.Confirmed {
		return &ledger.StatusUpdate{Status: types.StatusPending}, nil
	}
	tip, err := s.e.btc.TipHeight(ctx)
	if err != nil {
		return nil, err
	}
	u := &ledger.StatusUpdate{
		Status:        types.StatusConfirmed,
		Confirmations: bitcoin.Confirmations(*st, tip),
		BlockNumber:   st.BlockHeight,
	}
	if st.BlockTime > 0 {
		u.Timestamp = time.Unix(st.BlockTime, 0).UTC()
	}
	return u, nil
}

func (s chainStatus) evm(ctx context.Context, chain, hash string) (*ledger.StatusUpdate, error) {
	client, err := s.e.evm.Get(chain)
	if err != nil {
		return nil, err
	}
	r, err := client.Receipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	u := &ledger.StatusUpdate{Status: evm.ReceiptStatus(r)}
	if r.BlockNumber != nil {
		u.BlockNumber = r.BlockNumber.Uint64()
		if head, err := client.CurrentBlock(ctx); err == nil && head >= u.BlockNumber {
			u.Confirmations = head - u.BlockNumber + 1
		}
	}
	return u, nil
}
