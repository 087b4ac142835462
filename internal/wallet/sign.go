package wallet

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/Klingon-tech/klingwallet/pkg/crypto"
	"github.com/Klingon-tech/klingwallet/pkg/types"
)

// UnsignedTx is a fully built transaction awaiting a signature.
type UnsignedTx interface {
	Family() types.Family
}

// BitcoinTx is an unsigned segwit transaction. PrevOuts holds the output
// spent by each input, in input order.
type BitcoinTx struct {
	Tx       *wire.MsgTx
	PrevOuts []*wire.TxOut
}

// Family implements UnsignedTx.
func (BitcoinTx) Family() types.Family { return types.FamilyBitcoin }

// EVMTx is an unsigned EVM transaction for one chain.
type EVMTx struct {
	Tx      *ethtypes.Transaction
	ChainID *big.Int
}

// Family implements UnsignedTx.
func (EVMTx) Family() types.Family { return types.FamilyEVM }

// SignedTx is a serialized, broadcastable transaction.
type SignedTx struct {
	Raw  []byte
	Hash string // txid for Bitcoin, 0x-prefixed hash for EVM
}

// P2WPKHScript returns the output script owned by a compressed public key.
func P2WPKHScript(pubKey []byte, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

func signBitcoin(key *crypto.PrivateKey, utx *BitcoinTx, params *chaincfg.Params) (*SignedTx, error) {
	if utx.Tx == nil || len(utx.Tx.TxIn) == 0 {
		return nil, fmt.Errorf("transaction has no inputs")
	}
	if len(utx.PrevOuts) != len(utx.Tx.TxIn) {
		return nil, fmt.Errorf("have %d prevouts for %d inputs", len(utx.PrevOuts), len(utx.Tx.TxIn))
	}
	script, err := P2WPKHScript(key.PublicKey(), params)
	if err != nil {
		return nil, fmt.Errorf("wallet script: %w", err)
	}

	tx := utx.Tx.Copy()
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, utx.PrevOuts[i])
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prev := utx.PrevOuts[i]
		if !bytes.Equal(prev.PkScript, script) {
			return nil, fmt.Errorf("input %d (%s) is not owned by this wallet", i, in.PreviousOutPoint)
		}
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, prev.Value, prev.PkScript,
			txscript.SigHashAll, key.BTCEC(), true)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		if err := verifyWitness(tx, sigHashes, i, prev, witness, key.PublicKey()); err != nil {
			return nil, err
		}
		in.Witness = witness
	}

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return &SignedTx{Raw: buf.Bytes(), Hash: tx.TxHash().String()}, nil
}

// verifyWitness checks a fresh P2WPKH witness against its sighash before
// the transaction leaves the vault.
func verifyWitness(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, prev *wire.TxOut, witness wire.TxWitness, pubKey []byte) error {
	if len(witness) != 2 || len(witness[0]) < 2 || !bytes.Equal(witness[1], pubKey) {
		return fmt.Errorf("input %d: malformed witness", idx)
	}
	sig := witness[0]
	hash, err := txscript.CalcWitnessSigHash(prev.PkScript, sigHashes, txscript.SigHashAll, tx, idx, prev.Value)
	if err != nil {
		return fmt.Errorf("input %d sighash: %w", idx, err)
	}
	if !crypto.VerifyDigest(hash, sig[:len(sig)-1], pubKey) {
		return fmt.Errorf("input %d: signature does not verify", idx)
	}
	return nil
}

func signEVM(key *crypto.PrivateKey, utx *EVMTx) (*SignedTx, error) {
	if utx.Tx == nil || utx.ChainID == nil {
		return nil, fmt.Errorf("transaction or chain id missing")
	}
	ek, err := key.ECDSA()
	if err != nil {
		return nil, err
	}

	signed, err := ethtypes.SignTx(utx.Tx, ethtypes.LatestSignerForChainID(utx.ChainID), ek)
	ek.D.SetInt64(0)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return &SignedTx{Raw: raw, Hash: signed.Hash().Hex()}, nil
}
