package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/walleterr"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// StatusUpdate is a transaction's position on its chain.
type StatusUpdate struct {
	Status        types.TxStatus
	Confirmations uint64
	BlockNumber   uint64
	Timestamp     time.Time // zero when unknown
}

// StatusSource looks up the chain status of a recorded transaction. A
// transaction the chain does not know yet is NotFound.
type StatusSource interface {
	TxStatus(ctx context.Context, rec types.TransactionRecord) (*StatusUpdate, error)
}

// RefreshStatuses re-checks every pending record of a wallet and returns
// how many changed. Unknown transactions stay pending. Lookup failures are
// collected and do not stop the pass.
func (l *Ledger) RefreshStatuses(ctx context.Context, walletID string, src StatusSource) (int, error) {
	const op = "ledger.refresh_statuses"
	pending, err := l.Pending(walletID)
	if err != nil {
		return 0, err
	}

	var (
		updated int
		errs    []error
	)
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return updated, walleterr.Unavailable(op, err)
		}
		u, err := src.TxStatus(ctx, rec)
		if errors.Is(err, walleterr.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", rec.Chain, rec.TxHash, err))
			continue
		}
		if u.Status == types.StatusPending && u.Confirmations == rec.Confirmations {
			continue
		}

		rec.Status = u.Status
		rec.Confirmations = u.Confirmations
		rec.BlockNumber = u.BlockNumber
		if !u.Timestamp.IsZero() {
			rec.Timestamp = u.Timestamp
		}
		if _, err := l.UpsertTransaction(rec); err != nil {
			return updated, err
		}
		updated++
		log.Ledger.Info().
			Str("wallet_id", walletID).
			Str("chain", rec.Chain).
			Str("tx_hash", rec.TxHash).
			Str("status", string(u.Status)).
			Msg("Transaction status updated")
	}
	if len(errs) > 0 {
		return updated, walleterr.Unavailable(op, errors.Join(errs...))
	}
	return updated, nil
}
