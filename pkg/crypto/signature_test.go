package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"testing"

	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func TestPrivateKeyFromBytes_GeneratorPoint(t *testing.T) {
	one := make([]byte, 32)
	one[31] = 1
	key, err := PrivateKeyFromBytes(one)
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	want := "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	if got := hex.EncodeToString(key.PublicKey()); got != want {
		t.Errorf("PublicKey() = %s, want %s", got, want)
	}
	if !bytes.Equal(key.Serialize(), one) {
		t.Error("Serialize() does not round-trip")
	}
}

func TestPrivateKeyFromBytes_Invalid(t *testing.T) {
	if _, err := PrivateKeyFromBytes(make([]byte, 31)); err == nil {
		t.Error("31-byte key should fail")
	}
	if _, err := PrivateKeyFromBytes(make([]byte, 32)); err == nil {
		t.Error("zero key should fail")
	}
	overOrder, _ := hex.DecodeString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	if _, err := PrivateKeyFromBytes(overOrder); err == nil {
		t.Error("key equal to the curve order should fail")
	}
}

func testKey(t *testing.T) *PrivateKey {
	t.Helper()
	raw, _ := hex.DecodeString("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	key, err := PrivateKeyFromBytes(raw)
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	return key
}

func TestVerifyDigest(t *testing.T) {
	key := testKey(t)
	digest := sha256.Sum256([]byte("spend"))
	sig := secpecdsa.Sign(key.BTCEC(), digest[:]).Serialize()

	if !VerifyDigest(digest[:], sig, key.PublicKey()) {
		t.Fatal("valid signature rejected")
	}
	other := sha256.Sum256([]byte("other"))
	if VerifyDigest(other[:], sig, key.PublicKey()) {
		t.Error("signature verified against the wrong digest")
	}
	if VerifyDigest(digest[:], []byte{0x30, 0x01}, key.PublicKey()) {
		t.Error("garbage signature verified")
	}
	if VerifyDigest(digest[:], sig, []byte{0x02}) {
		t.Error("garbage public key verified")
	}
}

func TestPrivateKey_ConversionsShareScalar(t *testing.T) {
	key := testKey(t)
	if !bytes.Equal(key.BTCEC().Serialize(), key.Serialize()) {
		t.Error("btcec key differs from wrapper")
	}
	ek, err := key.ECDSA()
	if err != nil {
		t.Fatalf("ECDSA() error: %v", err)
	}
	if ek.D.Cmp(new(big.Int).SetBytes(key.Serialize())) != 0 {
		t.Error("ecdsa scalar differs from wrapper")
	}
}

func TestPrivateKey_Zero(t *testing.T) {
	key := testKey(t)
	key.Zero()
	if !bytes.Equal(key.Serialize(), make([]byte, 32)) {
		t.Error("Zero() left key material behind")
	}
}
