package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/storage"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/crypto"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// RecordID returns the ledger ID of a transaction on a chain.
func RecordID(chain, txHash string) string {
	return crypto.RecordID(chain, txHash).String()
}

func (l *Ledger) record(id string) (types.TransactionRecord, error) {
	data, err := l.db.Get(recordKey(id))
	if err != nil {
		return types.TransactionRecord{}, err
	}
	var rec types.TransactionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.TransactionRecord{}, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return rec, nil
}

// Transaction returns one record by ID.
func (l *Ledger) Transaction(id string) (types.TransactionRecord, error) {
	rec, err := l.record(id)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return rec, walleterr.NotFound("ledger.transaction", "transaction %s not found", id)
	}
	if err != nil {
		return rec, walleterr.Wrap(walleterr.KindInternal, "ledger.transaction", err)
	}
	return rec, nil
}

// UpsertTransaction inserts rec or merges it into the stored record of the
// same (chain, hash). Status never regresses: a confirmed or failed record
// stays so whatever a lagging source reports.
func (l *Ledger) UpsertTransaction(rec types.TransactionRecord) (types.TransactionRecord, error) {
	const op = "ledger.upsert_transaction"
	if rec.Status == "" {
		rec.Status = types.StatusPending
	}
	if err := rec.Validate(); err != nil {
		return rec, walleterr.Validation(op, "%v", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	rec.ID = RecordID(rec.Chain, rec.TxHash)
	indexed := rec.WalletID

	old, err := l.record(rec.ID)
	switch {
	case err == nil:
		rec = merge(old, rec)
	case errors.Is(err, storage.ErrKeyNotFound):
		rec.CreatedAt = now
	default:
		return rec, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	rec.UpdatedAt = now
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}

	data, err := json.Marshal(&rec)
	if err != nil {
		return rec, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	batch := storage.NewBatch(l.db)
	if err := batch.Put(recordKey(rec.ID), data); err != nil {
		return rec, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	if err := batch.Put(indexKey(indexed, rec.ID), []byte{}); err != nil {
		return rec, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	if err := batch.Commit(); err != nil {
		return rec, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	return rec, nil
}

// merge folds an incoming observation of a transaction into the stored
// record. The stored wallet keeps ownership; the incoming wallet still gets
// an index entry.
func merge(old, in types.TransactionRecord) types.TransactionRecord {
	out := in
	out.ID = old.ID
	out.CreatedAt = old.CreatedAt

	if old.WalletID != in.WalletID {
		// Another wallet's view of the transaction only moves it along.
		pos := old
		pos.Status = in.Status
		pos.Confirmations = in.Confirmations
		pos.BlockNumber = in.BlockNumber
		pos.Timestamp = in.Timestamp
		return mergeStatus(old, pos)
	}

	out = mergeStatus(old, out)
	keep := func(dst *string, prev string) {
		if *dst == "" {
			*dst = prev
		}
	}
	keep(&out.From, old.From)
	keep(&out.To, old.To)
	keep(&out.Amount, old.Amount)
	keep(&out.AmountDisplay, old.AmountDisplay)
	keep(&out.Fee, old.Fee)
	if out.Type == "" {
		out.Type = old.Type
	}
	if out.Asset == (types.Asset{}) {
		out.Asset = old.Asset
	}
	if out.Family == "" {
		out.Family = old.Family
	}
	if out.ChainID == 0 {
		out.ChainID = old.ChainID
	}
	if out.Nonce == nil {
		out.Nonce = old.Nonce
	}
	return out
}

// mergeStatus applies in's chain position to old's record unless that
// would move status backwards.
func mergeStatus(old, in types.TransactionRecord) types.TransactionRecord {
	out := in
	if !old.Status.CanTransition(in.Status) {
		out.Status = old.Status
		out.Confirmations = old.Confirmations
		out.BlockNumber = old.BlockNumber
		out.Timestamp = old.Timestamp
		return out
	}
	if out.Confirmations < old.Confirmations {
		out.Confirmations = old.Confirmations
	}
	if out.BlockNumber == 0 {
		out.BlockNumber = old.BlockNumber
	}
	if out.Timestamp.IsZero() || (in.Status == types.StatusPending && !old.Timestamp.IsZero()) {
		out.Timestamp = old.Timestamp
	}
	return out
}

// IngestHistory upserts a batch of records from a chain source and returns
// how many were new.
func (l *Ledger) IngestHistory(recs []types.TransactionRecord) (int, error) {
	added := 0
	for _, rec := range recs {
		id := RecordID(rec.Chain, rec.TxHash)
		_, err := l.record(id)
		isNew := errors.Is(err, storage.ErrKeyNotFound)
		if _, err := l.UpsertTransaction(rec); err != nil {
			return added, err
		}
		if isNew {
			added++
		}
	}
	if len(recs) > 0 {
		log.Ledger.Debug().Int("records", len(recs)).Int("new", added).Msg("History ingested")
	}
	return added, nil
}

// Query selects ledger records. Empty fields match everything.
type Query struct {
	WalletID string
	Family   types.Family
	Limit    int // <= 0 returns everything from Offset
	Offset   int
}

// Select returns the records matching q newest first, with the total
// count before paging.
func (l *Ledger) Select(q Query) ([]types.TransactionRecord, int, error) {
	var (
		all []types.TransactionRecord
		err error
	)
	if q.WalletID != "" {
		all, err = l.walletRecords(q.WalletID)
	} else {
		all, err = l.allRecords()
	}
	if err != nil {
		return nil, 0, err
	}
	if q.Family != "" {
		kept := all[:0]
		for _, rec := range all {
			if rec.Family == q.Family {
				kept = append(kept, rec)
			}
		}
		all = kept
	}
	return page(all, q.Limit, q.Offset), len(all), nil
}

// Transactions returns a wallet's records newest first with the total
// count. limit <= 0 returns everything from offset.
func (l *Ledger) Transactions(walletID string, limit, offset int) ([]types.TransactionRecord, int, error) {
	return l.Select(Query{WalletID: walletID, Limit: limit, Offset: offset})
}

// AllTransactions returns every record across wallets, newest first.
func (l *Ledger) AllTransactions(limit, offset int) ([]types.TransactionRecord, int, error) {
	return l.Select(Query{Limit: limit, Offset: offset})
}

func (l *Ledger) walletRecords(walletID string) ([]types.TransactionRecord, error) {
	prefix := indexPrefix(walletID)
	var ids []string
	err := l.db.ForEach(prefix, func(key, _ []byte) error {
		ids = append(ids, string(key[len(prefix):]))
		return nil
	})
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, "ledger.transactions", err)
	}

	all := make([]types.TransactionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := l.record(id)
		if err != nil {
			log.Ledger.Warn().Str("record_id", id).Err(err).Msg("Skipping unreadable record")
			continue
		}
		all = append(all, rec)
	}
	return all, nil
}

func (l *Ledger) allRecords() ([]types.TransactionRecord, error) {
	var all []types.TransactionRecord
	err := l.db.ForEach([]byte("t/"), func(key, value []byte) error {
		var rec types.TransactionRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.Ledger.Warn().Str("key", string(key)).Err(err).Msg("Skipping corrupt record")
			return nil
		}
		all = append(all, rec)
		return nil
	})
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, "ledger.all_transactions", err)
	}
	return all, nil
}

// Pending returns a wallet's records still awaiting inclusion.
func (l *Ledger) Pending(walletID string) ([]types.TransactionRecord, error) {
	all, _, err := l.Transactions(walletID, 0, 0)
	if err != nil {
		return nil, err
	}
	var out []types.TransactionRecord
	for _, rec := range all {
		if rec.Status == types.StatusPending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func page(all []types.TransactionRecord, limit, offset int) []types.TransactionRecord {
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.After(all[j].Timestamp)
		}
		return strings.Compare(all[i].ID, all[j].ID) < 0
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []types.TransactionRecord{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
