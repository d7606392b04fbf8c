// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/lightwallet/discovery"
	"github.com/btcsuite/lightwallet/keychain"
	"github.com/btcsuite/lightwallet/pkg/btcunit"
)

var (
	// ErrKeyNotFound is returned when no wallet key controls an input.
	ErrKeyNotFound = errors.New("no wallet key for input")

	// ErrUnsupportedInput is returned for inputs that are not P2WPKH.
	ErrUnsupportedInput = errors.New("unsupported input script")

	// ErrInputMismatch is returned when the prevout data does not line
	// up with the transaction inputs.
	ErrInputMismatch = errors.New("prevout data does not match inputs")
)

// SignedTx is a fully witnessed transaction.
type SignedTx struct {
	Tx    *wire.MsgTx
	TxID  chainhash.Hash
	Fee   btcutil.Amount
	VSize btcunit.VByte
}

// Signer signs inputs paying to addresses of one BIP84 account.
type Signer struct {
	root        keychain.ExtendedKey
	accountPath keychain.DerivationPath
	index       *discovery.AddressIndex
	params      *chaincfg.Params

	// window is how many indices per branch the brute force fallback
	// derives.
	window uint32

	// derived caches brute force results by output script.
	derived map[string]keychain.DerivationPath
}

// NewSigner creates a signer for account below root. index is the address
// index of the last scan and may be nil, in which case every key is found by
// re-deriving window addresses per branch.
func NewSigner(root keychain.ExtendedKey, account uint32,
	index *discovery.AddressIndex, window uint32,
	params *chaincfg.Params) *Signer {

	if window == 0 {
		window = discovery.DefaultGapLimit
	}
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	return &Signer{
		root:        root,
		accountPath: keychain.BIP84Account(account),
		index:       index,
		params:      params,
		window:      window,
		derived:     make(map[string]keychain.DerivationPath),
	}
}

// SignTransaction signs every input of unsigned with the keys of account,
// using the gap limit as the brute force window.
func SignTransaction(unsigned *UnsignedTx, root keychain.ExtendedKey,
	account uint32, index *discovery.AddressIndex) (*SignedTx, error) {

	return NewSigner(root, account, index, 0, nil).Sign(unsigned)
}

// Sign returns a signed copy of unsigned. Every input is verified with the
// script engine before returning.
func (s *Signer) Sign(unsigned *UnsignedTx) (*SignedTx, error) {
	tx := unsigned.Tx.Copy()
	prevScripts := unsigned.PrevScripts
	values := unsigned.PrevInputValues

	if len(prevScripts) != len(tx.TxIn) || len(values) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d inputs, %d scripts, %d values",
			ErrInputMismatch, len(tx.TxIn), len(prevScripts),
			len(values))
	}

	fetcher, err := txauthor.TXPrevOutFetcher(tx, prevScripts, values)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		witness, err := s.signInput(
			tx, i, prevScripts[i], values[i], sigHashes,
		)
		if err != nil {
			return nil, fmt.Errorf("input %d (%v): %w", i,
				txIn.PreviousOutPoint, err)
		}
		txIn.Witness = witness
	}

	if err := validateMsgTx(tx, prevScripts, values); err != nil {
		return nil, err
	}

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	signed := &SignedTx{
		Tx:    tx,
		TxID:  tx.TxHash(),
		Fee:   unsigned.Fee,
		VSize: btcunit.NewWeightUnit(uint64(weight)).ToVB(),
	}

	log.Debugf("Signed tx %v: %v", signed.TxID, newLogClosure(func() string {
		return fmt.Sprintf("%d inputs, %v, fee %v", len(tx.TxIn),
			signed.VSize, signed.Fee)
	}))

	return signed, nil
}

// signInput produces the witness [sig||sighash, pubkey] for input i.
func (s *Signer) signInput(tx *wire.MsgTx, i int, prevScript []byte,
	value btcutil.Amount, sigHashes *txscript.TxSigHashes) (wire.TxWitness,
	error) {

	if !txscript.IsPayToWitnessPubKeyHash(prevScript) {
		return nil, ErrUnsupportedInput
	}

	path, err := s.resolve(prevScript)
	if err != nil {
		return nil, err
	}

	key, err := keychain.DerivePath(s.root, path)
	if err != nil {
		return nil, err
	}

	pub, err := key.PublicKey()
	if err != nil {
		return nil, err
	}

	// The program of a P2WPKH script is the 20 byte key hash after
	// OP_0 OP_DATA_20.
	if !bytes.Equal(btcutil.Hash160(pub), prevScript[2:]) {
		return nil, fmt.Errorf("%w: %v derives a different key",
			ErrKeyNotFound, path)
	}

	priv, err := key.PrivKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	hash, err := txscript.CalcWitnessSigHash(
		prevScript, sigHashes, txscript.SigHashAll, tx, i,
		int64(value),
	)
	if err != nil {
		return nil, err
	}

	sig := ecdsa.Sign(priv, hash)
	der := append(sig.Serialize(), byte(txscript.SigHashAll))

	return wire.TxWitness{der, pub}, nil
}

// resolve finds the derivation path controlling prevScript, first in the scan
// index and then by re-deriving both branches.
func (s *Signer) resolve(prevScript []byte) (keychain.DerivationPath, error) {
	if entry, ok := s.index.LookupScript(prevScript); ok {
		return entry.Path, nil
	}
	if path, ok := s.derived[string(prevScript)]; ok {
		return path, nil
	}

	log.Debugf("Script %x not in the address index, searching %d "+
		"indices per branch", prevScript, s.window)

	account, err := keychain.DerivePath(s.root, s.accountPath)
	if err != nil {
		return nil, err
	}

	branches := []keychain.Branch{
		keychain.ExternalBranch, keychain.InternalBranch,
	}
	for _, branch := range branches {
		branchKey, err := discovery.BranchKey(account, branch)
		if err != nil {
			return nil, err
		}

		for i := range s.window {
			entry, err := discovery.DeriveEntry(
				branchKey, s.accountPath, branch, i, s.params,
			)
			if err != nil {
				return nil, err
			}

			s.derived[string(entry.Script)] = entry.Path
			if bytes.Equal(entry.Script, prevScript) {
				return entry.Path, nil
			}
		}
	}

	return nil, ErrKeyNotFound
}

// validateMsgTx verifies transaction input scripts for tx.  All previous output
// scripts from outputs redeemed by the transaction, in the same order they are
// spent, must be passed in the prevScripts slice.
func validateMsgTx(tx *wire.MsgTx, prevScripts [][]byte,
	inputValues []btcutil.Amount) error {

	inputFetcher, err := txauthor.TXPrevOutFetcher(
		tx, prevScripts, inputValues,
	)
	if err != nil {
		return err
	}

	hashCache := txscript.NewTxSigHashes(tx, inputFetcher)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(
			prevScript, tx, i, txscript.StandardVerifyFlags, nil,
			hashCache, int64(inputValues[i]), inputFetcher,
		)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w", err)
		}
		err = vm.Execute()
		if err != nil {
			return fmt.Errorf("cannot validate transaction: %w", err)
		}
	}

	return nil
}
