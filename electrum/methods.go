// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrum

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ServerVersion is the reply to the server.version handshake.
type ServerVersion struct {
	Software string
	Protocol string
}

// HistoryItem is one transaction touching a scripthash. Height is zero or
// negative for mempool transactions.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int32  `json:"height"`
	Fee    int64  `json:"fee,omitempty"`
}

// Balance is the server side balance of a scripthash in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// HeaderNotification is the current chain tip.
type HeaderNotification struct {
	Height int32  `json:"height"`
	Hex    string `json:"hex"`
}

// ServerVersion performs the protocol version handshake.
func (c *Conn) ServerVersion(ctx context.Context, clientName,
	protocol string) (ServerVersion, error) {

	var reply []string
	err := c.Call(ctx, "server.version", []any{clientName, protocol},
		&reply)
	if err != nil {
		return ServerVersion{}, err
	}

	if len(reply) != 2 {
		return ServerVersion{}, fmt.Errorf("%w: server.version "+
			"returned %d fields", ErrMalformedResponse, len(reply))
	}

	return ServerVersion{Software: reply[0], Protocol: reply[1]}, nil
}

// ServerPeers returns the TLS capable peers the server knows about.
func (c *Conn) ServerPeers(ctx context.Context) ([]Peer, error) {
	var raw json.RawMessage
	if err := c.Call(ctx, "server.peers.subscribe", nil, &raw); err != nil {
		return nil, err
	}

	return parsePeerList(raw)
}

// HeadersSubscribe returns the current chain tip.
func (c *Conn) HeadersSubscribe(ctx context.Context) (HeaderNotification,
	error) {

	var tip HeaderNotification
	err := c.Call(ctx, "blockchain.headers.subscribe", nil, &tip)
	if err != nil {
		return HeaderNotification{}, err
	}

	if tip.Height < 0 {
		return HeaderNotification{}, fmt.Errorf("%w: tip height %d",
			ErrMalformedResponse, tip.Height)
	}

	return tip, nil
}

// ScriptHashHistory returns the confirmed and mempool history of scripthash.
func (c *Conn) ScriptHashHistory(ctx context.Context,
	scripthash string) ([]HistoryItem, error) {

	var history []HistoryItem
	err := c.Call(ctx, "blockchain.scripthash.get_history",
		[]any{scripthash}, &history)
	if err != nil {
		return nil, err
	}

	for _, item := range history {
		if _, err := chainhash.NewHashFromStr(item.TxHash); err != nil {
			return nil, fmt.Errorf("%w: history txid %q",
				ErrMalformedResponse, item.TxHash)
		}
	}

	return history, nil
}

// ScriptHashBalance returns the server computed balance of scripthash.
func (c *Conn) ScriptHashBalance(ctx context.Context,
	scripthash string) (Balance, error) {

	var balance Balance
	err := c.Call(ctx, "blockchain.scripthash.get_balance",
		[]any{scripthash}, &balance)

	return balance, err
}

// Transaction fetches and decodes a raw transaction, checking the server
// returned the transaction that was asked for.
func (c *Conn) Transaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	var rawHex string
	err := c.Call(ctx, "blockchain.transaction.get",
		[]any{txid.String()}, &rawHex)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %v hex: %w",
			ErrMalformedResponse, txid, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: tx %v: %w", ErrMalformedResponse,
			txid, err)
	}

	if got := tx.TxHash(); got != txid {
		return nil, fmt.Errorf("%w: asked for tx %v, got %v",
			ErrMalformedResponse, txid, got)
	}

	return tx, nil
}

// Broadcast submits a raw transaction hex and returns the txid reported by
// the server. Rejections come back as *RPCError.
func (c *Conn) Broadcast(ctx context.Context, rawHex string) (string,
	error) {

	var txid string
	err := c.Call(ctx, "blockchain.transaction.broadcast",
		[]any{rawHex}, &txid)

	return txid, err
}

// BlockHeader fetches and decodes the header at height.
func (c *Conn) BlockHeader(ctx context.Context,
	height int32) (*wire.BlockHeader, error) {

	var rawHex string
	err := c.Call(ctx, "blockchain.block.get_header", []any{height},
		&rawHex)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil || len(raw) != wire.MaxBlockHeaderPayload {
		return nil, fmt.Errorf("%w: header at %d", ErrMalformedResponse,
			height)
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: header at %d: %w",
			ErrMalformedResponse, height, err)
	}

	return &header, nil
}
