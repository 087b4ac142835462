package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/klingwallet/pkg/crypto"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// ParsePrivateKey parses an imported private key.
//
// Bitcoin accepts compressed WIF for the configured network or 64 hex
// digits. EVM accepts 64 hex digits with or without a 0x prefix.
func ParsePrivateKey(family types.Family, s string, params *chaincfg.Params) (*crypto.PrivateKey, error) {
	s = strings.TrimSpace(s)
	switch family {
	case types.FamilyBitcoin:
		if len(s) != 64 {
			return parseWIF(s, params)
		}
		return parseHexKey(s)
	case types.FamilyEVM:
		return parseHexKey(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	}
	return nil, fmt.Errorf("unknown chain family %q", family)
}

func parseWIF(s string, params *chaincfg.Params) (*crypto.PrivateKey, error) {
	wif, err := btcutil.DecodeWIF(s)
	if err != nil {
		return nil, fmt.Errorf("not a WIF or 64-digit hex key: %w", err)
	}
	if !wif.IsForNet(params) {
		return nil, fmt.Errorf("WIF key is not for %s", params.Name)
	}
	if !wif.CompressPubKey {
		return nil, fmt.Errorf("uncompressed WIF keys cannot own segwit outputs")
	}
	raw := wif.PrivKey.Serialize()
	defer zero(raw)
	return crypto.PrivateKeyFromBytes(raw)
}

func parseHexKey(s string) (*crypto.PrivateKey, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("hex private key must be 64 digits, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}
	defer zero(raw)
	return crypto.PrivateKeyFromBytes(raw)
}

// FormatPrivateKey renders a key in its canonical export form: compressed
// WIF for Bitcoin and 0x-prefixed lowercase hex for EVM.
func FormatPrivateKey(family types.Family, key *crypto.PrivateKey, params *chaincfg.Params) (string, error) {
	switch family {
	case types.FamilyBitcoin:
		wif, err := btcutil.NewWIF(key.BTCEC(), params, true)
		if err != nil {
			return "", fmt.Errorf("encode WIF: %w", err)
		}
		return wif.String(), nil
	case types.FamilyEVM:
		raw := key.Serialize()
		defer zero(raw)
		return "0x" + hex.EncodeToString(raw), nil
	}
	return "", fmt.Errorf("unknown chain family %q", family)
}
