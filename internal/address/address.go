// Package address derives and validates chain-formatted addresses.
//
// Bitcoin wallets use native segwit P2WPKH everywhere. EVM wallets use one
// EIP-55 checksummed address that is valid on every EVM chain ID.
package address

import (
	"crypto/ecdsa"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Klingon-tech/klingwallet/pkg/types"
)

var evmHexPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Bitcoin returns the P2WPKH address of a compressed public key.
func Bitcoin(pubKey []byte, params *chaincfg.Params) (string, error) {
	if len(pubKey) != 33 {
		return "", fmt.Errorf("bitcoin address needs a 33-byte compressed public key, got %d bytes", len(pubKey))
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), params)
	if err != nil {
		return "", fmt.Errorf("p2wpkh address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// EVM returns the checksummed address of a public key (compressed or not).
func EVM(pubKey []byte) (string, error) {
	var (
		pub *ecdsa.PublicKey
		err error
	)
	if len(pubKey) == 65 {
		pub, err = ethcrypto.UnmarshalPubkey(pubKey)
	} else {
		pub, err = ethcrypto.DecompressPubkey(pubKey)
	}
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}

// Derive formats the address of pubKey for a chain family.
func Derive(family types.Family, pubKey []byte, params *chaincfg.Params) (string, error) {
	switch family {
	case types.FamilyBitcoin:
		return Bitcoin(pubKey, params)
	case types.FamilyEVM:
		return EVM(pubKey)
	}
	return "", fmt.Errorf("unknown chain family %q", family)
}

// ValidateBitcoin decodes addr and checks it belongs to params' network.
// Any standard script type is accepted as a destination.
func ValidateBitcoin(addr string, params *chaincfg.Params) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(strings.TrimSpace(addr), params)
	if err != nil {
		return nil, fmt.Errorf("invalid bitcoin address %q: %w", addr, err)
	}
	if !decoded.IsForNet(params) {
		return nil, fmt.Errorf("address %q is not a %s address", addr, params.Name)
	}
	return decoded, nil
}

// BitcoinScript returns the output script paying to addr.
func BitcoinScript(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := ValidateBitcoin(addr, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}

// ValidateEVM checks addr is 0x followed by 40 hex digits. All-lowercase and
// all-uppercase forms are accepted; mixed case must carry a valid EIP-55
// checksum.
func ValidateEVM(addr string) (common.Address, error) {
	if !evmHexPattern.MatchString(addr) {
		return common.Address{}, fmt.Errorf("invalid EVM address %q: want 0x followed by 40 hex digits", addr)
	}
	parsed := common.HexToAddress(addr)
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && parsed.Hex() != addr {
		return common.Address{}, fmt.Errorf("invalid EVM address %q: checksum mismatch", addr)
	}
	return parsed, nil
}
