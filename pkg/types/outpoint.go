package types

import "fmt"

// Outpoint references a Bitcoin transaction output.
type Outpoint struct {
	TxHash string `json:"tx_hash"`
	Vout   uint32 `json:"vout"`
}

// String returns "txhash:vout".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxHash, o.Vout)
}

// UTXO is a spendable Bitcoin output owned by a wallet address.
type UTXO struct {
	Outpoint
	Value         uint64 `json:"value"` // satoshis
	Confirmations uint64 `json:"confirmations"`
	Confirmed     bool   `json:"confirmed"`
}
