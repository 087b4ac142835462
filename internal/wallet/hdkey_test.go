package wallet

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/Klingon-tech/klingwallet/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// BIP-32 test vector 1.
const vector1Seed = "000102030405060708090a0b0c0d0e0f"

func vectorSeedMaster(t *testing.T) *HDKey {
	t.Helper()
	raw, _ := hex.DecodeString(vector1Seed)
	// NewMasterKey only accepts BIP-39 sized seeds, so go through bip32 directly.
	m, err := newMasterForTest(raw)
	if err != nil {
		t.Fatalf("master key: %v", err)
	}
	return m
}

func newMasterForTest(seed []byte) (*HDKey, error) {
	k, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return &HDKey{key: k}, nil
}

func testMaster(t *testing.T) *HDKey {
	t.Helper()
	seed, err := SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	return master
}

func TestBIP32Vector1(t *testing.T) {
	master := vectorSeedMaster(t)
	if got := hex.EncodeToString(master.PrivateKeyBytes()); got != "e8f32e723decf4051aefac8e2c93c9c5b214313817cdb01a1494b917c8436b35" {
		t.Errorf("master key = %s", got)
	}

	child, err := master.DeriveString("m/0'")
	if err != nil {
		t.Fatalf("DeriveString: %v", err)
	}
	if got := hex.EncodeToString(child.PrivateKeyBytes()); got != "edb2e14f9ee77d26dd93b4ecede8d16ed408ce149b6cd80b0715a2d911a0afea" {
		t.Errorf("m/0' key = %s", got)
	}
}

func TestNewMasterKey_InvalidSeedLength(t *testing.T) {
	for _, n := range []int{0, 32, 128} {
		if _, err := NewMasterKey(make([]byte, n)); err == nil {
			t.Errorf("NewMasterKey(%d bytes) should fail", n)
		}
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path string
		want []uint32
		ok   bool
	}{
		{"m", []uint32{}, true},
		{"m/84'/0'/0'/0/0", []uint32{HardenedOffset + 84, HardenedOffset, HardenedOffset, 0, 0}, true},
		{"m/44h/60h/0h/0/7", []uint32{HardenedOffset + 44, HardenedOffset + 60, HardenedOffset, 0, 7}, true},
		{"84'/0'", nil, false},
		{"m/x", nil, false},
		{"m/-1", nil, false},
		{"m/2147483648", nil, false},
		{"m//0", nil, false},
	}

	for _, tt := range tests {
		got, err := ParsePath(tt.path)
		if (err == nil) != tt.ok {
			t.Errorf("ParsePath(%q) error = %v, want ok=%v", tt.path, err, tt.ok)
			continue
		}
		if !tt.ok {
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("ParsePath(%q) = %v, want %v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParsePath(%q)[%d] = %d, want %d", tt.path, i, got[i], tt.want[i])
			}
		}
	}
}

func TestDerivationPath(t *testing.T) {
	if p, _ := DerivationPath(types.FamilyBitcoin, 0); p != "m/84'/0'/0'/0/0" {
		t.Errorf("bitcoin mainnet path = %s", p)
	}
	if p, _ := DerivationPath(types.FamilyBitcoin, 1); p != "m/84'/1'/0'/0/0" {
		t.Errorf("bitcoin testnet path = %s", p)
	}
	if p, _ := DerivationPath(types.FamilyEVM, 1); p != EVMPath {
		t.Errorf("evm path = %s", p)
	}
	if _, err := DerivationPath("cosmos", 0); err == nil {
		t.Error("unknown family should fail")
	}
}

func TestDerivePath_MatchesSequential(t *testing.T) {
	master := testMaster(t)

	c1, _ := master.DeriveChild(HardenedOffset + 44)
	c2, _ := c1.DeriveChild(HardenedOffset + 60)

	combined, err := master.DeriveString("m/44'/60'")
	if err != nil {
		t.Fatalf("DeriveString() error: %v", err)
	}
	if !bytes.Equal(c2.PrivateKeyBytes(), combined.PrivateKeyBytes()) {
		t.Error("DeriveString should equal sequential DeriveChild")
	}
	if !bytes.Equal(master.PrivateKeyBytes(), testMaster(t).PrivateKeyBytes()) {
		t.Error("deriving must not wipe the parent key")
	}
}

func TestSigner(t *testing.T) {
	key, err := testMaster(t).DeriveString(EVMPath)
	if err != nil {
		t.Fatalf("DeriveString() error: %v", err)
	}
	signer, err := key.Signer()
	if err != nil {
		t.Fatalf("Signer() error: %v", err)
	}
	if !bytes.Equal(signer.PublicKey(), key.PublicKeyBytes()) {
		t.Error("signer public key should match HD public key")
	}

	key.Zero()
	if !bytes.Equal(key.PrivateKeyBytes(), make([]byte, 32)) {
		t.Error("Zero() should wipe the private key")
	}
}
