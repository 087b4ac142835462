package types

import (
	"fmt"
	"time"
)

// TxType classifies a transaction record from the wallet's point of view.
type TxType string

// Transaction types.
const (
	TxSend     TxType = "send"
	TxReceive  TxType = "receive"
	TxApprove  TxType = "approve"
	TxContract TxType = "contract"
)

// TxStatus is a record's lifecycle state.
type TxStatus string

// Transaction statuses. Pending may move to confirmed or failed; nothing
// moves back to pending and the two terminal states never swap.
const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// Terminal reports whether s is final.
func (s TxStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransition reports whether a record in status s may move to next.
func (s TxStatus) CanTransition(next TxStatus) bool {
	if s == next {
		return true
	}
	return s == StatusPending && next.Terminal()
}

// TransactionRecord is the ledger's record of one on-chain transaction.
type TransactionRecord struct {
	ID            string    `json:"id"`
	WalletID      string    `json:"wallet_id"`
	Family        Family    `json:"family"`
	Chain         string    `json:"chain"`
	ChainID       uint64    `json:"chain_id,omitempty"`
	TxHash        string    `json:"tx_hash"`
	Type          TxType    `json:"tx_type"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Amount        string    `json:"amount"` // base units
	AmountDisplay string    `json:"amount_display"`
	Asset         Asset     `json:"asset"`
	Fee           string    `json:"fee"` // base units of the native asset
	Status        TxStatus  `json:"status"`
	Confirmations uint64    `json:"confirmations"`
	BlockNumber   uint64    `json:"block_number,omitempty"`
	Nonce         *uint64   `json:"nonce,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the fields every stored record must carry.
func (r *TransactionRecord) Validate() error {
	switch {
	case r.WalletID == "":
		return fmt.Errorf("record has no wallet id")
	case r.Chain == "":
		return fmt.Errorf("record has no chain")
	case r.TxHash == "":
		return fmt.Errorf("record has no tx hash")
	}
	switch r.Status {
	case StatusPending, StatusConfirmed, StatusFailed:
	default:
		return fmt.Errorf("record has invalid status %q", r.Status)
	}
	return nil
}
