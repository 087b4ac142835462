// Package wallet implements the key vault: mnemonic and private key import,
// HD derivation, encrypted secret storage and transaction signing.
package wallet

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// entropyBits maps supported mnemonic lengths to their BIP-39 entropy size.
var entropyBits = map[int]int{
	12: 128,
	24: 256,
}

// GenerateMnemonic creates a new BIP-39 mnemonic of 12 or 24 words.
func GenerateMnemonic(words int) (string, error) {
	bits, ok := entropyBits[words]
	if !ok {
		return "", fmt.Errorf("mnemonic must be 12 or 24 words, got %d", words)
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// NormalizeMnemonic lowercases a phrase and collapses runs of whitespace.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39
// (12 or 24 words from the English list with a valid checksum).
func ValidateMnemonic(mnemonic string) bool {
	if _, ok := entropyBits[len(strings.Fields(mnemonic))]; !ok {
		return false
	}
	return bip39.IsMnemonicValid(mnemonic)
}
