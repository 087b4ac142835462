// Package ledger persists wallets, transaction records and balance
// snapshots.
//
// Key layout (all under the "ledger/" namespace):
//
//	Wallet:   "w/<wallet id>"               → JSON types.Wallet
//	Record:   "t/<record id>"               → JSON types.TransactionRecord
//	Index:    "x/<wallet id>/<record id>"   → empty
//	Balances: "b/<wallet id>"               → JSON Snapshot
//
// A record ID is hex(BLAKE3(chain "|" lower(tx hash))), so the same
// transaction ingested twice from different sources is one record.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/storage"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// Namespace is the storage prefix of all ledger keys.
const Namespace = "ledger/"

// Ledger stores the engine's public records. It never sees key material.
type Ledger struct {
	db  storage.DB
	now func() time.Time

	// mu serializes read-modify-write of records and wallets.
	mu sync.Mutex
}

// New creates a ledger in db's ledger namespace.
func New(db storage.DB) *Ledger {
	return &Ledger{db: storage.NewPrefixDB(db, []byte(Namespace)), now: time.Now}
}

func walletKey(id string) []byte   { return []byte("w/" + id) }
func recordKey(id string) []byte   { return []byte("t/" + id) }
func snapshotKey(id string) []byte { return []byte("b/" + id) }

func indexPrefix(walletID string) []byte {
	return []byte("x/" + walletID + "/")
}

func indexKey(walletID, recordID string) []byte {
	return append(indexPrefix(walletID), recordID...)
}

// =============================================================================
// Wallets
// =============================================================================

// PutWallet creates or replaces a wallet record.
func (l *Ledger) PutWallet(w types.Wallet) error {
	const op = "ledger.put_wallet"
	if w.ID == "" {
		return walleterr.Validation(op, "wallet has no id")
	}
	data, err := json.Marshal(&w)
	if err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	if err := l.db.Put(walletKey(w.ID), data); err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, fmt.Errorf("store wallet: %w", err))
	}
	return nil
}

// AddWallet registers a new wallet. A wallet of the same family already
// holding the address makes it a validation error; the check and the write
// happen under one lock.
func (l *Ledger) AddWallet(w types.Wallet) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	other, err := l.WalletByAddress(w.Family, w.Address)
	switch {
	case err == nil:
		return walleterr.Validation("ledger.add_wallet", "address %s is already wallet %s", w.Address, other.ID)
	case walleterr.KindOf(err) != walleterr.KindNotFound:
		return err
	}
	return l.PutWallet(w)
}

// WalletByAddress finds the wallet of family holding address. EVM
// addresses compare case-insensitively.
func (l *Ledger) WalletByAddress(family types.Family, address string) (types.Wallet, error) {
	wallets, err := l.Wallets()
	if err != nil {
		return types.Wallet{}, err
	}
	for _, w := range wallets {
		if w.Family == family && strings.EqualFold(w.Address, address) {
			return w, nil
		}
	}
	return types.Wallet{}, walleterr.NotFound("ledger.wallet_by_address", "no %s wallet holds %s", family, address)
}

// Wallet returns one wallet.
func (l *Ledger) Wallet(id string) (types.Wallet, error) {
	const op = "ledger.wallet"
	data, err := l.db.Get(walletKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return types.Wallet{}, walleterr.NotFound(op, "wallet %s not found", id)
	}
	if err != nil {
		return types.Wallet{}, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	var w types.Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return types.Wallet{}, walleterr.Wrap(walleterr.KindInternal, op, fmt.Errorf("corrupt wallet %s: %w", id, err))
	}
	return w, nil
}

// Wallets lists every wallet, oldest first.
func (l *Ledger) Wallets() ([]types.Wallet, error) {
	var out []types.Wallet
	err := l.db.ForEach([]byte("w/"), func(key, value []byte) error {
		var w types.Wallet
		if err := json.Unmarshal(value, &w); err != nil {
			log.Ledger.Warn().Str("key", string(key)).Err(err).Msg("Skipping corrupt wallet record")
			return nil
		}
		out = append(out, w)
		return nil
	})
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, "ledger.wallets", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Rename changes a wallet's label.
func (l *Ledger) Rename(id, label string) (types.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.Wallet(id)
	if err != nil {
		return types.Wallet{}, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return types.Wallet{}, walleterr.Validation("ledger.rename", "label is empty")
	}
	w.Label = label
	w.UpdatedAt = l.now().UTC()
	return w, l.PutWallet(w)
}

// DeleteWallet removes a wallet, its index, its balance snapshot and the
// records only it references. A record another wallet still indexes is
// handed to that wallet. Deleting an unknown wallet is a no-op.
func (l *Ledger) DeleteWallet(id string) error {
	const op = "ledger.delete_wallet"
	l.mu.Lock()
	defer l.mu.Unlock()

	owners, err := l.indexOwners()
	if err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, err)
	}

	batch := storage.NewBatch(l.db)
	removed, handed := 0, 0
	prefix := indexPrefix(id)
	err = l.db.ForEach(prefix, func(key, _ []byte) error {
		recordID := string(key[len(prefix):])
		rec, err := l.record(recordID)
		if err != nil || rec.WalletID != id {
			return nil // dangling entry or another wallet's record
		}
		heir := heirOf(owners[recordID], id)
		if heir == "" {
			removed++
			return batch.Delete(recordKey(recordID))
		}
		rec = l.handOver(rec, heir)
		data, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		handed++
		return batch.Put(recordKey(recordID), data)
	})
	if err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	for _, k := range [][]byte{walletKey(id), snapshotKey(id)} {
		if err := batch.Delete(k); err != nil {
			return walleterr.Wrap(walleterr.KindInternal, op, err)
		}
	}
	if err := batch.Commit(); err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	if err := storage.NewPrefixDB(l.db, prefix).DeleteAll(); err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, fmt.Errorf("drop index: %w", err))
	}
	log.Ledger.Info().Str("wallet_id", id).Int("removed", removed).Int("handed_over", handed).Msg("Wallet removed from ledger")
	return nil
}

// indexOwners maps each record ID to the wallets indexing it.
func (l *Ledger) indexOwners() (map[string][]string, error) {
	owners := make(map[string][]string)
	err := l.db.ForEach([]byte("x/"), func(key, _ []byte) error {
		rest := string(key[len("x/"):])
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return nil
		}
		owners[rest[i+1:]] = append(owners[rest[i+1:]], rest[:i])
		return nil
	})
	return owners, err
}

// heirOf picks the surviving wallet that inherits a record: the smallest
// ID other than doomed, or "" when none is left.
func heirOf(wallets []string, doomed string) string {
	heir := ""
	for _, w := range wallets {
		if w != doomed && (heir == "" || w < heir) {
			heir = w
		}
	}
	return heir
}

// handOver reassigns rec to heir, flipping a send into a receive when the
// heir is the recipient.
func (l *Ledger) handOver(rec types.TransactionRecord, heir string) types.TransactionRecord {
	rec.WalletID = heir
	w, err := l.Wallet(heir)
	if err == nil && rec.Type == types.TxSend && strings.EqualFold(rec.To, w.Address) {
		rec.Type = types.TxReceive
	}
	return rec
}

// =============================================================================
// Balance snapshots
// =============================================================================

// Snapshot is the last refreshed balances of a wallet.
type Snapshot struct {
	WalletID      string                `json:"wallet_id"`
	Chains        []types.ChainBalances `json:"chains"`
	TotalUSD      string                `json:"total_usd"`
	LastRefreshed time.Time             `json:"last_refreshed"`
}

// PutSnapshot stores a wallet's balances. It fails with NotFound once the
// wallet is deleted, so a refresh finishing after a delete leaves nothing
// behind.
func (l *Ledger) PutSnapshot(s Snapshot) error {
	const op = "ledger.put_snapshot"
	data, err := json.Marshal(&s)
	if err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.Wallet(s.WalletID); err != nil {
		return err
	}
	if err := l.db.Put(snapshotKey(s.WalletID), data); err != nil {
		return walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	return nil
}

// Snapshot returns the stored balances of a wallet, or nil when it was
// never refreshed.
func (l *Ledger) Snapshot(walletID string) (*Snapshot, error) {
	data, err := l.db.Get(snapshotKey(walletID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, "ledger.snapshot", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, "ledger.snapshot", fmt.Errorf("corrupt snapshot: %w", err))
	}
	return &s, nil
}
