package wallet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingwallet/pkg/crypto"
	"github.com/Klingon-tech/klingwallet/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// HardenedOffset is added to an index for hardened derivation.
const HardenedOffset = bip32.FirstHardenedChild

// EVMPath is the BIP-44 path of the first Ethereum account. All EVM chains
// share it.
const EVMPath = "m/44'/60'/0'/0/0"

// BitcoinPath returns the BIP-84 native segwit path of the first receive
// address for a coin type (0 mainnet, 1 testnet).
func BitcoinPath(coinType uint32) string {
	return fmt.Sprintf("m/84'/%d'/0'/0/0", coinType)
}

// DerivationPath returns the path used for a family's wallet key.
func DerivationPath(family types.Family, coinType uint32) (string, error) {
	switch family {
	case types.FamilyBitcoin:
		return BitcoinPath(coinType), nil
	case types.FamilyEVM:
		return EVMPath, nil
	}
	return "", fmt.Errorf("unknown chain family %q", family)
}

// ParsePath parses a path like m/84'/0'/0'/0/0. Hardened components end in
// ' or h.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("derivation path %q must start with m", path)
	}
	indices := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil || n >= uint64(HardenedOffset) {
			return nil, fmt.Errorf("derivation path %q: bad component %q", path, part)
		}
		idx := uint32(n)
		if hardened {
			idx += HardenedOffset
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add HardenedOffset to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		if current != k {
			current.Zero()
		}
		current = child
	}
	return current, nil
}

// DeriveString derives the key at a textual path.
func (k *HDKey) DeriveString(path string) (*HDKey, error) {
	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return k.DerivePath(indices...)
}

// PrivateKeyBytes returns the raw 32-byte private key.
// Returns nil if this is a public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	return k.key.PublicKey().Key
}

// Signer returns the key as a signing key.
func (k *HDKey) Signer() (*crypto.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	return crypto.PrivateKeyFromBytes(priv)
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Zero wipes the key and chain code.
func (k *HDKey) Zero() {
	zero(k.key.Key)
	zero(k.key.ChainCode)
}

// deriveFromMnemonic derives the signing key of a family's wallet path.
func deriveFromMnemonic(phrase string, family types.Family, coinType uint32) (*crypto.PrivateKey, error) {
	path, err := DerivationPath(family, coinType)
	if err != nil {
		return nil, err
	}
	seed, err := SeedFromMnemonic(phrase, "")
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	key, err := master.DeriveString(path)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	return key.Signer()
}
