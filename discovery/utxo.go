// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package discovery

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// WalletTx is a transaction touching the wallet together with the height it
// was confirmed at. Height is zero or negative while unconfirmed.
type WalletTx struct {
	Tx     *wire.MsgTx
	Height int32
}

// Confirmations returns the number of confirmations at tip.
func (w *WalletTx) Confirmations(tip int32) int32 {
	return confirmations(w.Height, tip)
}

// confirmations returns tip-height+1 for mined heights and zero otherwise.
func confirmations(height, tip int32) int32 {
	if height <= 0 || height > tip {
		return 0
	}

	return tip - height + 1
}

// UTXO is an output paying to a wallet address.
type UTXO struct {
	OutPoint      wire.OutPoint
	Address       string
	PkScript      []byte
	Value         btcutil.Amount
	Height        int32
	Confirmations int32

	// Spent is set when another transaction of the same history set
	// consumes the output.
	Spent bool

	// Entry is the wallet address the output pays to.
	Entry AddressEntry
}

// ComputeUTXOs collects every output of txs paying to an owned script. An
// output consumed as an input by any transaction of the set is marked spent.
// Inputs pointing outside the set are external funding and mark nothing.
// The result is ordered by txid, then output index.
func ComputeUTXOs(txs map[chainhash.Hash]*WalletTx, owned *AddressIndex,
	tip int32) []UTXO {

	spent := fn.NewSet[wire.OutPoint]()
	for _, wtx := range txs {
		for _, in := range wtx.Tx.TxIn {
			spent.Add(in.PreviousOutPoint)
		}
	}

	var utxos []UTXO
	for _, txid := range sortedHashes(txs) {
		wtx := txs[txid]
		for i, out := range wtx.Tx.TxOut {
			if out.Value <= 0 {
				continue
			}

			entry, ok := owned.LookupScript(out.PkScript)
			if !ok {
				continue
			}

			op := wire.OutPoint{Hash: txid, Index: uint32(i)}
			utxos = append(utxos, UTXO{
				OutPoint:      op,
				Address:       entry.Address,
				PkScript:      out.PkScript,
				Value:         btcutil.Amount(out.Value),
				Height:        wtx.Height,
				Confirmations: wtx.Confirmations(tip),
				Spent:         spent.Contains(op),
				Entry:         entry,
			})
		}
	}

	return utxos
}

// Balance sums the value of the unspent outputs.
func Balance(utxos []UTXO) btcutil.Amount {
	var total btcutil.Amount
	for _, u := range utxos {
		if !u.Spent {
			total += u.Value
		}
	}

	return total
}

// Spendable returns the unspent outputs with at least minConfs
// confirmations.
func Spendable(utxos []UTXO, minConfs int32) []UTXO {
	var out []UTXO
	for _, u := range utxos {
		if !u.Spent && u.Confirmations >= minConfs {
			out = append(out, u)
		}
	}

	return out
}

// TxKind classifies a transaction from the wallet's point of view.
type TxKind uint8

const (
	// TxReceived pays the wallet without spending any wallet output.
	TxReceived TxKind = iota

	// TxSent spends wallet outputs and pays someone else.
	TxSent

	// TxSelfTransfer spends wallet outputs back to the wallet only.
	TxSelfTransfer

	// TxUnknown spends an output of a transaction that could not be
	// fetched, so whether it spends wallet funds is not known.
	TxUnknown
)

// String returns the name of the kind.
func (k TxKind) String() string {
	switch k {
	case TxReceived:
		return "received"

	case TxSent:
		return "sent"

	case TxSelfTransfer:
		return "self-transfer"

	case TxUnknown:
		return "unknown"

	default:
		return "unknown"
	}
}

// TxSummary is the wallet's view of one transaction.
type TxSummary struct {
	TxID   chainhash.Hash
	Height int32
	Kind   TxKind

	// Received is the value of the outputs paying the wallet.
	Received btcutil.Amount

	// Sent is the value of the wallet outputs consumed as inputs.
	Sent btcutil.Amount

	// Net is Received minus Sent. A self-transfer nets to minus the fee.
	// Sent and Net are understated for TxUnknown.
	Net btcutil.Amount

	// Fee is only known when every input's previous output is in the
	// history set.
	Fee      btcutil.Amount
	FeeKnown bool
}

// Classify summarizes every transaction of txs, newest first with unconfirmed
// transactions on top. Transactions spending an output of one of the failed
// transactions are classified as TxUnknown.
func Classify(txs map[chainhash.Hash]*WalletTx, owned *AddressIndex,
	failed []chainhash.Hash) []TxSummary {

	missing := fn.NewSet(failed...)

	summaries := make([]TxSummary, 0, len(txs))
	for _, txid := range sortedHashes(txs) {
		wtx := txs[txid]
		s := TxSummary{TxID: txid, Height: wtx.Height}

		var totalIn, totalOut btcutil.Amount
		feeKnown, incomplete := true, false
		for _, in := range wtx.Tx.TxIn {
			if missing.Contains(in.PreviousOutPoint.Hash) {
				incomplete = true
			}

			prev, ok := txs[in.PreviousOutPoint.Hash]
			if !ok || int(in.PreviousOutPoint.Index) >=
				len(prev.Tx.TxOut) {

				feeKnown = false
				continue
			}

			prevOut := prev.Tx.TxOut[in.PreviousOutPoint.Index]
			totalIn += btcutil.Amount(prevOut.Value)
			if _, mine := owned.LookupScript(prevOut.PkScript); mine {
				s.Sent += btcutil.Amount(prevOut.Value)
			}
		}

		allMine := true
		for _, out := range wtx.Tx.TxOut {
			totalOut += btcutil.Amount(out.Value)
			if _, mine := owned.LookupScript(out.PkScript); mine {
				s.Received += btcutil.Amount(out.Value)
			} else {
				allMine = false
			}
		}

		s.Net = s.Received - s.Sent
		if feeKnown {
			s.Fee, s.FeeKnown = totalIn-totalOut, true
		}

		switch {
		case incomplete:
			s.Kind = TxUnknown

		case s.Sent == 0:
			s.Kind = TxReceived

		case allMine:
			s.Kind = TxSelfTransfer

		default:
			s.Kind = TxSent
		}

		summaries = append(summaries, s)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		hi, hj := summaries[i].Height, summaries[j].Height
		if (hi <= 0) != (hj <= 0) {
			return hi <= 0
		}

		return hi > hj
	})

	return summaries
}

// sortedHashes returns the keys of m in byte order.
func sortedHashes[V any](m map[chainhash.Hash]V) []chainhash.Hash {
	ids := make([]chainhash.Hash, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	return ids
}
