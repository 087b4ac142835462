package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// PrivateKey wraps a secp256k1 private key. Bitcoin and EVM wallets share the
// curve, so one type serves both signing paths.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
// The scalar must be in [1, N-1].
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("private key is not below the curve order")
	}
	if scalar.IsZero() {
		return nil, fmt.Errorf("private key is zero")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&scalar)}, nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// BTCEC returns the key as a btcec key for txscript signing.
func (pk *PrivateKey) BTCEC() *btcec.PrivateKey {
	return pk.key
}

// ECDSA returns the key on go-ethereum's secp256k1 curve for transaction
// signing.
func (pk *PrivateKey) ECDSA() (*ecdsa.PrivateKey, error) {
	raw := pk.key.Serialize()
	defer func() {
		for i := range raw {
			raw[i] = 0
		}
	}()
	return ethcrypto.ToECDSA(raw)
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// VerifyDigest checks a DER-encoded ECDSA signature against a 32-byte digest
// and a serialized public key. Returns false on any error.
func VerifyDigest(hash, signature, publicKey []byte) bool {
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := secpecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pub)
}
