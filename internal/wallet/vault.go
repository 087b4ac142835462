package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"github.com/Klingon-tech/klingwallet/internal/address"
	"github.com/Klingon-tech/klingwallet/internal/keylock"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/storage"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/crypto"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// secretRecord is the stored form of one wallet's key material. Only Sealed
// is secret; the rest lets the vault reject mismatched requests without
// decrypting.
type secretRecord struct {
	Version   int              `json:"version"`
	Family    types.Family     `json:"family"`
	Kind      types.WalletKind `json:"kind"`
	Address   string           `json:"address"`
	CreatedAt time.Time        `json:"created_at"`
	Sealed    []byte           `json:"sealed"`
}

func secretKey(id string) []byte {
	return []byte("s/" + id)
}

// Vault stores wallet secrets sealed under a password-derived key and is
// the only component that ever sees them in plaintext.
type Vault struct {
	db     storage.DB
	params *chaincfg.Params
	locks  *keylock.Map

	mu  sync.RWMutex
	key []byte // nil once closed
}

// Open unlocks the vault stored in db, initializing it on first use. The
// password is only used to derive the sealing key and is not retained.
func Open(db storage.DB, password []byte, kdf KDFParams, params *chaincfg.Params) (*Vault, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("vault password is empty")
	}
	key, err := unlock(db, password, kdf)
	if err != nil {
		return nil, err
	}
	log.Vault.Info().Str("network", params.Name).Msg("Vault unlocked")
	return &Vault{db: db, params: params, locks: keylock.New(), key: key}, nil
}

// Close wipes the sealing key. Further calls fail.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	zero(v.key)
	v.key = nil
}

// Network returns the Bitcoin network the vault derives for.
func (v *Vault) Network() *chaincfg.Params {
	return v.params
}

// CreateMnemonic generates a fresh 12- or 24-word phrase. Nothing is stored
// until the phrase is imported with FromMnemonic.
func (v *Vault) CreateMnemonic(words int) (string, error) {
	phrase, err := GenerateMnemonic(words)
	if err != nil {
		return "", walleterr.Validation("vault.create_mnemonic", "%v", err)
	}
	return phrase, nil
}

// FromMnemonic imports a mnemonic and derives the family's address.
func (v *Vault) FromMnemonic(family types.Family, phrase, label string) (*types.Wallet, error) {
	const op = "vault.from_mnemonic"
	phrase = NormalizeMnemonic(phrase)
	if !ValidateMnemonic(phrase) {
		return nil, walleterr.New(walleterr.KindInvalidMnemonic, op, "mnemonic must be 12 or 24 valid BIP-39 words with a correct checksum")
	}
	key, err := deriveFromMnemonic(phrase, family, v.params.HDCoinType)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindValidation, op, err)
	}
	defer key.Zero()
	return v.store(op, family, types.KindMnemonic, []byte(phrase), key.PublicKey(), label)
}

// FromPrivateKey imports a raw private key.
func (v *Vault) FromPrivateKey(family types.Family, secret, label string) (*types.Wallet, error) {
	const op = "vault.from_private_key"
	if _, err := types.ParseFamily(string(family)); err != nil {
		return nil, walleterr.Validation(op, "%v", err)
	}
	key, err := ParsePrivateKey(family, secret, v.params)
	if err != nil {
		return nil, walleterr.New(walleterr.KindInvalidPrivateKey, op, "%v", err)
	}
	defer key.Zero()
	raw := key.Serialize()
	defer zero(raw)
	return v.store(op, family, types.KindPrivateKey, raw, key.PublicKey(), label)
}

func (v *Vault) store(op string, family types.Family, kind types.WalletKind, secret, pubKey []byte, label string) (*types.Wallet, error) {
	addr, err := address.Derive(family, pubKey, v.params)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}

	id := uuid.NewString()
	unlock := v.locks.Lock(id)
	defer unlock()

	sealingKey, err := v.sealingKey(op)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(sealingKey, secret, secretKey(id))
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}

	now := time.Now().UTC()
	rec := secretRecord{
		Version:   1,
		Family:    family,
		Kind:      kind,
		Address:   addr,
		CreatedAt: now,
		Sealed:    sealed,
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	if err := v.db.Put(secretKey(id), data); err != nil {
		return nil, walleterr.Wrap(walleterr.KindInternal, op, fmt.Errorf("store secret: %w", err))
	}

	if label == "" {
		label = defaultLabel(family)
	}
	log.Vault.Info().
		Str("wallet_id", id).
		Str("family", string(family)).
		Str("kind", string(kind)).
		Msg("Wallet key material stored")

	return &types.Wallet{
		ID:        id,
		Label:     label,
		Family:    family,
		Kind:      kind,
		Address:   addr,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func defaultLabel(family types.Family) string {
	if family == types.FamilyBitcoin {
		return "Bitcoin Wallet"
	}
	return "EVM Wallet"
}

// ExportMnemonic discloses a mnemonic wallet's phrase.
func (v *Vault) ExportMnemonic(id string) (string, error) {
	const op = "vault.export_mnemonic"
	unlock := v.locks.Lock(id)
	defer unlock()

	rec, secret, err := v.load(op, id)
	if err != nil {
		return "", err
	}
	defer zero(secret)
	if rec.Kind != types.KindMnemonic {
		return "", walleterr.New(walleterr.KindUnsupportedExport, op, "wallet was imported from a private key and has no mnemonic")
	}
	return string(secret), nil
}

// ExportPrivateKey discloses the wallet's signing key in canonical form.
// Mnemonic wallets export the key at their derivation path.
func (v *Vault) ExportPrivateKey(id string) (string, error) {
	const op = "vault.export_private_key"
	unlock := v.locks.Lock(id)
	defer unlock()

	rec, key, err := v.signingKey(op, id)
	if err != nil {
		return "", err
	}
	defer key.Zero()
	out, err := FormatPrivateKey(rec.Family, key, v.params)
	if err != nil {
		return "", walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	return out, nil
}

// Sign signs a built transaction with the wallet's key.
func (v *Vault) Sign(id string, utx UnsignedTx) (*SignedTx, error) {
	const op = "vault.sign"
	unlock := v.locks.Lock(id)
	defer unlock()

	rec, key, err := v.signingKey(op, id)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	if utx == nil || utx.Family() != rec.Family {
		return nil, walleterr.New(walleterr.KindSigningFailed, op, "transaction family does not match %s wallet", rec.Family)
	}

	var signed *SignedTx
	switch tx := utx.(type) {
	case *BitcoinTx:
		signed, err = signBitcoin(key, tx, v.params)
	case *EVMTx:
		signed, err = signEVM(key, tx)
	default:
		err = fmt.Errorf("unsupported transaction type %T", utx)
	}
	if err != nil {
		return nil, walleterr.New(walleterr.KindSigningFailed, op, "%v", err)
	}
	log.Vault.Debug().Str("wallet_id", id).Str("tx_hash", signed.Hash).Msg("Transaction signed")
	return signed, nil
}

// Delete removes a wallet's secret. Deleting an unknown id is a no-op.
func (v *Vault) Delete(id string) error {
	unlock := v.locks.Lock(id)
	defer unlock()

	if err := v.db.Delete(secretKey(id)); err != nil {
		return walleterr.Wrap(walleterr.KindInternal, "vault.delete", err)
	}
	log.Vault.Info().Str("wallet_id", id).Msg("Wallet key material deleted")
	return nil
}

// Has reports whether a secret is stored for id.
func (v *Vault) Has(id string) (bool, error) {
	return v.db.Has(secretKey(id))
}

func (v *Vault) sealingKey(op string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, walleterr.New(walleterr.KindInternal, op, "vault is closed")
	}
	return v.key, nil
}

// load reads and decrypts a secret. Callers hold the id lock and must zero
// the returned secret.
func (v *Vault) load(op, id string) (*secretRecord, []byte, error) {
	data, err := v.db.Get(secretKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil, walleterr.NotFound(op, "wallet %s not found", id)
	}
	if err != nil {
		return nil, nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	var rec secretRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, walleterr.Wrap(walleterr.KindInternal, op, fmt.Errorf("parse secret record: %w", err))
	}

	sealingKey, err := v.sealingKey(op)
	if err != nil {
		return nil, nil, err
	}
	secret, err := open(sealingKey, rec.Sealed, secretKey(id))
	if err != nil {
		return nil, nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	return &rec, secret, nil
}

// signingKey loads the wallet's private key, deriving it for mnemonic
// wallets.
func (v *Vault) signingKey(op, id string) (*secretRecord, *crypto.PrivateKey, error) {
	rec, secret, err := v.load(op, id)
	if err != nil {
		return nil, nil, err
	}
	defer zero(secret)

	var key *crypto.PrivateKey
	switch rec.Kind {
	case types.KindMnemonic:
		key, err = deriveFromMnemonic(string(secret), rec.Family, v.params.HDCoinType)
	case types.KindPrivateKey:
		key, err = crypto.PrivateKeyFromBytes(secret)
	default:
		err = fmt.Errorf("unknown secret kind %q", rec.Kind)
	}
	if err != nil {
		return nil, nil, walleterr.Wrap(walleterr.KindInternal, op, err)
	}
	return rec, key, nil
}
