// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/lightwallet/electrum"
	"github.com/btcsuite/lightwallet/pkg/btcunit"
	"github.com/davecgh/go-spew/spew"
)

// ErrPreflight is returned when a transaction is not sane or does not survive
// its own wire round trip. Nothing is sent to the network in that case.
var ErrPreflight = errors.New("transaction failed pre-flight check")

// Broadcaster relays a raw transaction. *electrum.Conn satisfies it.
type Broadcaster interface {
	// Broadcast sends the hex encoded transaction and returns the txid
	// reported by the server.
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

var _ Broadcaster = (*electrum.Conn)(nil)

// BroadcastResult is the outcome of relaying a transaction. A rejection by
// the server is a result, not an error.
type BroadcastResult struct {
	Success bool
	TxID    string
	Error   string
}

// SendTransaction serializes signed, checks that its own bytes decode back to
// the same transaction, and broadcasts it. Transport failures are returned as
// errors. A server rejecting the transaction yields a result with Success
// unset.
func SendTransaction(ctx context.Context, b Broadcaster,
	signed *SignedTx) (*BroadcastResult, error) {

	raw, err := preflight(signed.Tx)
	if err != nil {
		return nil, err
	}

	txid := signed.Tx.TxHash()

	const maxTxSizeForLog = 1_000_000
	if len(raw) < maxTxSizeForLog {
		log.Debugf("Broadcasting tx %v: %v", txid,
			newLogClosure(func() string {
				return spew.Sdump(signed.Tx)
			}))
	}

	got, err := b.Broadcast(ctx, hex.EncodeToString(raw))

	var rpcErr *electrum.RPCError
	switch {
	case errors.As(err, &rpcErr):
		log.Warnf("Tx %v rejected: %v", txid, rpcErr.Message)

		return &BroadcastResult{
			TxID:  txid.String(),
			Error: rpcErr.Message,
		}, nil

	case err != nil:
		return nil, fmt.Errorf("broadcast %v: %w", txid, err)

	case got != txid.String():
		log.Errorf("Server acknowledged tx %v as %q", txid, got)

		return &BroadcastResult{
			TxID: txid.String(),
			Error: fmt.Sprintf("server returned txid %q, expected "+
				"%v", got, txid),
		}, nil
	}

	log.Infof("Broadcast tx %v", txid)

	return &BroadcastResult{Success: true, TxID: got}, nil
}

// preflight runs the consensus sanity checks on tx, requires every output to
// carry a valid amount, then serializes tx and decodes the bytes again,
// comparing the txid and wtxid of both.
func preflight(tx *wire.MsgTx) ([]byte, error) {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return nil, fmt.Errorf("%w: %d inputs, %d outputs",
			ErrPreflight, len(tx.TxIn), len(tx.TxOut))
	}

	err := blockchain.CheckTransactionSanity(btcutil.NewTx(tx))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPreflight, err)
	}

	// Sanity allows zero value outputs, the wallet never pays them.
	for i, out := range tx.TxOut {
		err := btcunit.ValidateAmount(btcutil.Amount(out.Value))
		if err != nil {
			return nil, fmt.Errorf("%w: output %d: %w", ErrPreflight,
				i, err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: serialize: %w", ErrPreflight, err)
	}
	raw := buf.Bytes()

	var decoded wire.MsgTx
	if err := decoded.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrPreflight, err)
	}

	if decoded.TxHash() != tx.TxHash() ||
		decoded.WitnessHash() != tx.WitnessHash() {

		return nil, fmt.Errorf("%w: decoded %v, built %v", ErrPreflight,
			decoded.TxHash(), tx.TxHash())
	}

	for i, in := range decoded.TxIn {
		if len(in.Witness) == 0 {
			return nil, fmt.Errorf("%w: input %d has no witness",
				ErrPreflight, i)
		}
	}

	return raw, nil
}
