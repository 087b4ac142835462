package types

import "fmt"

// Family is a chain family: the UTXO model or the account model.
type Family string

// Supported chain families.
const (
	FamilyBitcoin Family = "bitcoin"
	FamilyEVM     Family = "evm"
)

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyBitcoin, FamilyEVM:
		return Family(s), nil
	}
	return "", fmt.Errorf("unknown chain family %q", s)
}

// WalletKind records where a wallet's key material came from.
type WalletKind string

// Wallet kinds.
const (
	KindMnemonic   WalletKind = "mnemonic"
	KindPrivateKey WalletKind = "private_key"
)

// SecretKind selects what an export returns.
type SecretKind string

// Secret kinds.
const (
	SecretMnemonic   SecretKind = "mnemonic"
	SecretPrivateKey SecretKind = "private_key"
)
