package txbuilder

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Klingon-tech/klingwallet/config"
	"github.com/Klingon-tech/klingwallet/internal/chain/evm"
	"github.com/Klingon-tech/klingwallet/internal/fee"
	"github.com/Klingon-tech/klingwallet/internal/keylock"
	"github.com/Klingon-tech/klingwallet/internal/log"
	"github.com/Klingon-tech/klingwallet/internal/metrics"
	"github.com/Klingon-tech/klingwallet/internal/wallet"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// Signer signs built transactions. *wallet.Vault implements it.
type Signer interface {
	Sign(id string, utx wallet.UnsignedTx) (*wallet.SignedTx, error)
}

// BitcoinChain is the part of the Bitcoin client a send needs.
type BitcoinChain interface {
	UTXOs(ctx context.Context, addr string) ([]types.UTXO, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

// Recorder stores the pending record of a submitted transaction.
type Recorder interface {
	UpsertTransaction(rec types.TransactionRecord) (types.TransactionRecord, error)
}

// Config holds builder settings.
type Config struct {
	Params         *chaincfg.Params
	ApprovalMode   string // config.ApprovalExact or config.ApprovalMax
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Builder builds, signs, broadcasts and records transactions.
type Builder struct {
	cfg    Config
	signer Signer
	btc    BitcoinChain
	evm    *evm.Registry
	fees   *fee.Estimator
	rec    Recorder

	locks    *keylock.Map
	inflight *InFlight
	nonces   *Nonces
	observer atomic.Pointer[Observer]
	now      func() time.Time
}

// New creates a builder. btc may be nil when Bitcoin is disabled.
func New(cfg Config, signer Signer, btc BitcoinChain, reg *evm.Registry, fees *fee.Estimator, rec Recorder) *Builder {
	if cfg.Params == nil {
		cfg.Params = &chaincfg.MainNetParams
	}
	if cfg.ApprovalMode == "" {
		cfg.ApprovalMode = config.ApprovalExact
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	return &Builder{
		cfg:      cfg,
		signer:   signer,
		btc:      btc,
		evm:      reg,
		fees:     fees,
		rec:      rec,
		locks:    keylock.New(),
		inflight: NewInFlight(0),
		nonces:   NewNonces(),
		now:      time.Now,
	}
}

// SetObserver installs a transition hook. Pass nil to remove it.
func (b *Builder) SetObserver(o Observer) {
	if o == nil {
		b.observer.Store(nil)
		return
	}
	b.observer.Store(&o)
}

// SendRequest describes a transfer. Amount is in display units of the
// asset ("0.5"); it is ignored when SendAll is set.
type SendRequest struct {
	Wallet  types.Wallet
	Chain   string // "bitcoin" or an EVM chain name
	To      string
	Amount  string
	Asset   string // symbol or contract; empty for the native asset
	SendAll bool

	Tier     types.Tier
	FeeRate  uint64   // sat/vB override
	GasPrice *big.Int // wei override; forces a legacy transaction
	GasLimit uint64   // override of the padded estimate

	// Spender, when set, is a contract that pulls Asset from the wallet.
	// The builder ensures its allowance covers Amount, then calls it with
	// Data.
	Spender string
	Data    []byte
}

// Result is a submitted transaction.
type Result struct {
	TxHash string                  `json:"tx_hash"`
	Record types.TransactionRecord `json:"record"`
	// Approval is set when an approval was broadcast first.
	Approval *types.TransactionRecord `json:"approval,omitempty"`
}

// Send dispatches on the wallet family.
func (b *Builder) Send(ctx context.Context, req SendRequest) (*Result, error) {
	if req.Wallet.Family == types.FamilyBitcoin {
		return b.SendBitcoin(ctx, req)
	}
	return b.SendEVM(ctx, req)
}

// lockWallet serializes sends of one wallet across both families.
func (b *Builder) lockWallet(id string) func() {
	return b.locks.Lock("send/" + id)
}

// record stores a pending record. A failure here is logged, not returned:
// the transaction is already on the network and a later history sync
// recovers the record.
func (b *Builder) record(rec types.TransactionRecord) types.TransactionRecord {
	now := b.now().UTC()
	rec.Status = types.StatusPending
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	if b.rec == nil {
		return rec
	}
	stored, err := b.rec.UpsertTransaction(rec)
	if err != nil {
		log.Builder.Error().Err(err).Str("wallet_id", rec.WalletID).Str("tx_hash", rec.TxHash).Msg("Failed to record submitted transaction")
		return rec
	}
	return stored
}

func countBroadcast(chain string, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = "failed"
	}
	metrics.Broadcasts.WithLabelValues(chain, outcome).Inc()
}
