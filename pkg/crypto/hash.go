// Package crypto provides the hashing and key primitives shared by the vault
// and the ledger.
package crypto

import (
	"strings"

	"github.com/Klingon-tech/klingwallet/pkg/types"
	"github.com/zeebo/blake3"
)

// RecordID derives the ledger ID of a transaction record. The hash is
// lowercased so one transaction maps to one record however its hash was
// spelled upstream.
func RecordID(chain, txHash string) types.Hash {
	h := blake3.New()
	h.Write([]byte(chain))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(txHash, "0x"), "0X"))))
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
