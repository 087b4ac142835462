package wallet

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Klingon-tech/klingwallet/internal/storage"
)

// SaltSize is the Argon2id salt length.
const SaltSize = 32

// sealVersion prefixes every sealed blob.
const sealVersion byte = 1

// checkPlaintext is sealed into the vault header so a wrong password is
// detected at open time rather than on the first export.
var checkPlaintext = []byte("klingwallet-vault-v1")

var metaKey = []byte("meta")

// ErrWrongPassword is returned by Open when the password does not unlock
// an existing vault.
var ErrWrongPassword = errors.New("wrong vault password")

// KDFParams holds Argon2id parameters.
type KDFParams struct {
	Memory      uint32 `json:"memory"` // KiB
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultKDFParams returns recommended Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024, // 64 MiB
		Iterations:  3,
		Parallelism: 4,
	}
}

// vaultMeta is stored once per vault. The sealing key itself is never
// stored; it is re-derived from the password and salt on open.
type vaultMeta struct {
	Version int       `json:"version"`
	Salt    []byte    `json:"salt"`
	KDF     KDFParams `json:"kdf"`
	Check   []byte    `json:"check"`
}

func deriveKey(password, salt []byte, params KDFParams) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		chacha20poly1305.KeySize,
	)
}

// unlock loads or initializes the vault header and returns the sealing key.
func unlock(db storage.DB, password []byte, params KDFParams) ([]byte, error) {
	raw, err := db.Get(metaKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return initMeta(db, password, params)
	}
	if err != nil {
		return nil, fmt.Errorf("read vault header: %w", err)
	}

	var meta vaultMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse vault header: %w", err)
	}
	if meta.Version != 1 {
		return nil, fmt.Errorf("unsupported vault version: %d", meta.Version)
	}

	key := deriveKey(password, meta.Salt, meta.KDF)
	plain, err := open(key, meta.Check, metaKey)
	if err != nil {
		zero(key)
		return nil, ErrWrongPassword
	}
	zero(plain)
	return key, nil
}

func initMeta(db storage.DB, password []byte, params KDFParams) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(password, salt, params)
	check, err := seal(key, checkPlaintext, metaKey)
	if err != nil {
		zero(key)
		return nil, err
	}
	data, err := json.Marshal(vaultMeta{Version: 1, Salt: salt, KDF: params, Check: check})
	if err != nil {
		zero(key)
		return nil, fmt.Errorf("marshal vault header: %w", err)
	}
	if err := db.Put(metaKey, data); err != nil {
		zero(key)
		return nil, fmt.Errorf("write vault header: %w", err)
	}
	return key, nil
}

// seal encrypts data with XChaCha20-Poly1305 under key, binding it to aad.
//
// Output format: version(1) | nonce(24) | ciphertext
func seal(key, data, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(data)+aead.Overhead())
	out = append(out, sealVersion)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, aad), nil
}

// open reverses seal. A blob sealed under a different aad does not open.
func open(key, blob, aad []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(blob) < 1+nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(blob))
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("unsupported seal version %d", blob[0])
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plain, err := aead.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plain, nil
}
