// Package txbuilder turns a send request into a signed, broadcast and
// recorded transaction on Bitcoin or an EVM chain.
//
// Every send walks the same state machine:
//
//	Drafting -> Estimating -> [ApprovalRequired -> Approving -> Approved ->]
//	Ready -> Signing -> Broadcasting -> Submitted
//
// with terminal failures EstimationFailed, SigningFailed and
// BroadcastRejected. The builder never retries; the caller adjusts the
// request and tries again.
package txbuilder

import (
	"github.com/Klingon-tech/klingwallet/internal/log"
)

// State is a step of the send state machine.
type State string

// States.
const (
	StateDrafting          State = "drafting"
	StateEstimating        State = "estimating"
	StateApprovalRequired  State = "approval_required"
	StateApproving         State = "approving"
	StateApproved          State = "approved"
	StateReady             State = "ready"
	StateSigning           State = "signing"
	StateBroadcasting      State = "broadcasting"
	StateSubmitted         State = "submitted"
	StateEstimationFailed  State = "estimation_failed"
	StateSigningFailed     State = "signing_failed"
	StateBroadcastRejected State = "broadcast_rejected"
)

// Terminal reports whether s ends a send.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateEstimationFailed, StateSigningFailed, StateBroadcastRejected:
		return true
	}
	return false
}

// Transition is one observed state change.
type Transition struct {
	WalletID string
	Chain    string
	From     State
	To       State
	Err      error // set on failure states
}

// Observer receives every transition of every send, synchronously.
type Observer func(Transition)

// run tracks one send's current state.
type run struct {
	b        *Builder
	walletID string
	chain    string
	state    State
}

func (b *Builder) newRun(walletID, chain string) *run {
	r := &run{b: b, walletID: walletID, chain: chain}
	r.to(StateDrafting, nil)
	return r
}

func (r *run) to(next State, err error) {
	t := Transition{WalletID: r.walletID, Chain: r.chain, From: r.state, To: next, Err: err}
	r.state = next

	ev := log.Builder.Debug()
	if err != nil {
		ev = log.Builder.Warn().Err(err)
	}
	ev.Str("wallet_id", r.walletID).Str("chain", r.chain).Str("from", string(t.From)).Str("to", string(next)).Msg("Send state")

	if obs := r.b.observer.Load(); obs != nil {
		(*obs)(t)
	}
}

// fail moves to a terminal failure state and returns err unchanged.
func (r *run) fail(state State, err error) error {
	r.to(state, err)
	return err
}
