// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrum

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/lightwallet/kvstore"
	"github.com/stretchr/testify/require"
)

// testTx returns a small serialized transaction and its txid.
func testTx(t *testing.T, value int64) (string, chainhash.Hash) {
	t.Helper()

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, []byte{0x00, 0x14}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	return hex.EncodeToString(buf.Bytes()), tx.TxHash()
}

// TestCallRoundTrip exercises the typed wrappers against the test server.
func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	rawTx, txid := testTx(t, 5000)
	server := newTestServer(t, func(req rpcRequest) reply {
		switch req.Method {
		case "blockchain.headers.subscribe":
			return reply{Result: HeaderNotification{Height: 800000}}

		case "blockchain.scripthash.get_history":
			return reply{Result: []HistoryItem{
				{TxHash: txid.String(), Height: 799990},
			}}

		case "blockchain.scripthash.get_balance":
			return reply{Result: Balance{Confirmed: 5000}}

		case "blockchain.transaction.get":
			return reply{Result: rawTx}

		case "blockchain.transaction.broadcast":
			return reply{Result: txid.String()}

		default:
			return reply{Err: &RPCError{Code: -32601,
				Message: "unknown method"}}
		}
	})

	client := newTestClient(t, Config{Bootstrap: []Peer{server.peer}})
	ctx := t.Context()

	conn, err := client.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, server.peer, conn.Peer())

	tip, err := conn.HeadersSubscribe(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 800000, tip.Height)

	history, err := conn.ScriptHashHistory(ctx, "ab")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, txid.String(), history[0].TxHash)

	req := server.lastRequest()
	require.Equal(t, "2.0", req.JSONRPC)
	require.Equal(t, "blockchain.scripthash.get_history", req.Method)
	require.Len(t, req.Params, 1)
	require.JSONEq(t, `"ab"`, string(req.Params[0]))

	balance, err := conn.ScriptHashBalance(ctx, "ab")
	require.NoError(t, err)
	require.EqualValues(t, 5000, balance.Confirmed)

	tx, err := conn.Transaction(ctx, txid)
	require.NoError(t, err)
	require.Equal(t, txid, tx.TxHash())

	broadcast, err := conn.Broadcast(ctx, rawTx)
	require.NoError(t, err)
	require.Equal(t, txid.String(), broadcast)

	require.Equal(t, []string{
		"blockchain.headers.subscribe",
		"blockchain.scripthash.get_history",
		"blockchain.scripthash.get_balance",
		"blockchain.transaction.get",
		"blockchain.transaction.broadcast",
	}, server.methods())
}

// TestCallSkipsUnrelatedLines makes sure notifications, replies for other ids
// and garbage lines are skipped until the matching reply arrives.
func TestCallSkipsUnrelatedLines(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(req rpcRequest) reply {
		return reply{
			Result: HeaderNotification{Height: 42},
			Before: []string{
				`{"jsonrpc":"2.0","method":"blockchain.` +
					`headers.subscribe","params":[{"height":1}]}`,
				`{"jsonrpc":"2.0","id":9999,"result":{"height":7}}`,
				`{"jsonrpc":`,
				``,
			},
		}
	})

	client := newTestClient(t, Config{Bootstrap: []Peer{server.peer}})
	conn, err := client.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		tip, err := conn.HeadersSubscribe(t.Context())
		require.NoError(t, err)
		require.EqualValues(t, 42, tip.Height)
	}
}

// TestRPCError checks a server error surfaces as *RPCError and leaves the
// connection usable.
func TestRPCError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(t, func(req rpcRequest) reply {
		if calls.Add(1) == 1 {
			return reply{Err: &RPCError{
				Code:    1,
				Message: "bad-txns-inputs-missingorspent",
			}}
		}

		return reply{Result: "ok"}
	})

	client := newTestClient(t, Config{Bootstrap: []Peer{server.peer}})
	conn, err := client.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Broadcast(t.Context(), "00")

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "bad-txns-inputs-missingorspent", rpcErr.Message)
	require.Equal(t, "blockchain.transaction.broadcast", rpcErr.Method)

	txid, err := conn.Broadcast(t.Context(), "00")
	require.NoError(t, err)
	require.Equal(t, "ok", txid)
	require.NoError(t, conn.Err())
}

// TestTransactionChecksTxid rejects a reply carrying a different transaction.
func TestTransactionChecksTxid(t *testing.T) {
	t.Parallel()

	rawTx, _ := testTx(t, 1)
	_, otherTxid := testTx(t, 2)

	server := newTestServer(t, func(rpcRequest) reply {
		return reply{Result: rawTx}
	})

	client := newTestClient(t, Config{Bootstrap: []Peer{server.peer}})
	conn, err := client.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Transaction(t.Context(), otherTxid)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

// TestConnectFallback walks past unreachable peers to a live one and fails
// with every dial error once nothing answers.
func TestConnectFallback(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, tipHandler(1))
	dead1, dead2 := deadPeer(t), deadPeer(t)

	client := newTestClient(t, Config{
		Bootstrap: []Peer{dead1, server.peer, dead2},
	})

	conn, err := client.Connect(t.Context())
	require.NoError(t, err)
	require.Equal(t, server.peer, conn.Peer())
	require.NoError(t, conn.Close())

	client = newTestClient(t, Config{Bootstrap: []Peer{dead1, dead2}})
	_, err = client.Connect(t.Context())
	require.ErrorIs(t, err, ErrNoReachablePeer)
	require.Contains(t, err.Error(), dead1.String())
	require.Contains(t, err.Error(), dead2.String())
}

// TestEstablishTrust selects the two peers agreeing on the tip over the lone
// dissenter, persists them and prefers them on the next connect.
func TestEstablishTrust(t *testing.T) {
	t.Parallel()

	stale := newTestServer(t, tipHandler(800000))
	agree1 := newTestServer(t, tipHandler(800010))
	agree2 := newTestServer(t, tipHandler(800010))

	store := kvstore.NewMemory()
	client := newTestClient(t, Config{Store: store})

	trusted, height, err := client.EstablishTrust(t.Context(), []Peer{
		stale.peer, agree1.peer, agree2.peer,
	})
	require.NoError(t, err)
	require.EqualValues(t, 800010, height)
	require.Equal(t, []Peer{agree1.peer, agree2.peer}, trusted)
	require.Equal(t, trusted, client.TrustedPeers())

	persisted, err := kvstore.GetJSON[[]Peer](
		t.Context(), store, TrustedPeersKey,
	)
	require.NoError(t, err)
	require.Equal(t, trusted, persisted)

	// A fresh client loads the trusted tier and dials it before the
	// bootstrap set.
	reloaded := newTestClient(t, Config{
		Store:     store,
		Bootstrap: []Peer{stale.peer},
	})
	require.ElementsMatch(t, trusted, reloaded.TrustedPeers())

	conn, err := reloaded.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()
	require.Contains(t, trusted, conn.Peer())
}

// TestEstablishTrustNoQuorum leaves the cache untouched when nobody agrees.
func TestEstablishTrustNoQuorum(t *testing.T) {
	t.Parallel()

	a := newTestServer(t, tipHandler(1))
	b := newTestServer(t, tipHandler(2))

	client := newTestClient(t, Config{})
	_, _, err := client.EstablishTrust(t.Context(), []Peer{
		a.peer, b.peer, deadPeer(t),
	})
	require.ErrorIs(t, err, ErrNoTrustQuorum)
	require.Empty(t, client.TrustedPeers())
}

// TestSelectTrusted covers the grouping rules of the trust check.
func TestSelectTrusted(t *testing.T) {
	t.Parallel()

	p := func(i int) Peer {
		return Peer{Host: "peer", Port: uint16(i)}
	}
	errDown := errors.New("down")

	tests := []struct {
		name       string
		results    []PeerHeight
		want       []Peer
		wantHeight int32
		wantErr    error
	}{
		{
			name: "majority over lone dissenter",
			results: []PeerHeight{
				{Peer: p(1), Height: 800000},
				{Peer: p(2), Height: 800010},
				{Peer: p(3), Height: 800010},
			},
			want:       []Peer{p(2), p(3)},
			wantHeight: 800010,
		},
		{
			name: "stale majority still wins",
			results: []PeerHeight{
				{Peer: p(1), Height: 10},
				{Peer: p(2), Height: 10},
				{Peer: p(3), Height: 11},
			},
			want:       []Peer{p(1), p(2)},
			wantHeight: 10,
		},
		{
			name: "tie goes to the higher tip",
			results: []PeerHeight{
				{Peer: p(1), Height: 10},
				{Peer: p(2), Height: 10},
				{Peer: p(3), Height: 11},
				{Peer: p(4), Height: 11},
			},
			want:       []Peer{p(3), p(4)},
			wantHeight: 11,
		},
		{
			name: "failed probes are ignored",
			results: []PeerHeight{
				{Peer: p(1), Height: 5, Err: errDown},
				{Peer: p(2), Height: 5, Err: errDown},
				{Peer: p(3), Height: 4},
			},
			wantErr: ErrNoTrustQuorum,
		},
		{
			name:    "no results",
			wantErr: ErrNoTrustQuorum,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, height, err := SelectTrusted(tc.results,
				MinTrustQuorum)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.wantHeight, height)
		})
	}
}

// closeRecorder remembers whether Close was called.
type closeRecorder struct {
	net.Conn
	closed atomic.Bool
}

// Close records the call and closes the wrapped connection.
func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return c.Conn.Close()
}

// TestSocketOwnership checks a timed out call closes owned sockets but leaves
// caller supplied ones open.
func TestSocketOwnership(t *testing.T) {
	t.Parallel()

	for _, owned := range []bool{true, false} {
		client, server := net.Pipe()
		t.Cleanup(func() {
			_ = client.Close()
			_ = server.Close()
		})

		// Swallow requests without ever answering.
		go func() {
			buf := make([]byte, 1024)
			for {
				if _, err := server.Read(buf); err != nil {
					return
				}
			}
		}()

		rec := &closeRecorder{Conn: client}
		conn := newConn(rec, Peer{Host: "pipe"}, 50*time.Millisecond,
			owned)

		_, err := conn.HeadersSubscribe(t.Context())
		require.ErrorIs(t, err, ErrCallTimeout)
		require.ErrorIs(t, conn.Err(), ErrCallTimeout)
		require.Equal(t, owned, rec.closed.Load())

		// The torn down connection refuses further calls.
		_, err = conn.HeadersSubscribe(t.Context())
		require.Error(t, err)
	}
}

// TestCanceledCallKeepsConnection makes sure an abandoned call does not tear
// the connection down and its late reply is skipped by the next call.
func TestCanceledCallKeepsConnection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(t, func(req rpcRequest) reply {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
			return reply{Result: HeaderNotification{Height: 1}}
		}

		return reply{Result: HeaderNotification{Height: 2}}
	})

	client := newTestClient(t, Config{Bootstrap: []Peer{server.peer}})
	conn, err := client.Connect(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	_, err = conn.HeadersSubscribe(ctx)
	require.Error(t, err)
	require.NoError(t, conn.Err())

	tip, err := conn.HeadersSubscribe(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 2, tip.Height)
}

// gatedDeadlineConn holds back deadlines in the past until release is
// closed.
type gatedDeadlineConn struct {
	net.Conn
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// SetDeadline blocks on release for deadlines that already expired.
func (c *gatedDeadlineConn) SetDeadline(d time.Time) error {
	if !d.IsZero() && !d.After(time.Now()) {
		c.once.Do(func() { close(c.entered) })
		<-c.release
	}

	return c.Conn.SetDeadline(d)
}

// TestCancelCallbackFinishesWithCall makes sure a cancellation racing a
// successful reply is fully applied before the call returns, so it cannot
// expire the socket under the next call.
func TestCancelCallbackFinishesWithCall(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	// The server hands every request id to the test and answers once the
	// test sends it back.
	requests := make(chan uint64)
	answers := make(chan uint64)
	go func() {
		reader := bufio.NewReader(server)
		for height := 1; ; height++ {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}

			var req rpcRequest
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			var id uint64
			if err := json.Unmarshal(req.ID, &id); err != nil {
				return
			}

			requests <- id
			id = <-answers

			_, err = fmt.Fprintf(server, `{"jsonrpc":"2.0","id":%d,`+
				`"result":{"height":%d}}`+"\n", id, height)
			if err != nil {
				return
			}
		}
	}()

	gated := &gatedDeadlineConn{
		Conn:    client,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	conn := NewConn(gated, Peer{Host: "pipe"}, time.Minute)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := conn.HeadersSubscribe(ctx)
		done <- err
	}()

	id := <-requests
	cancel()
	<-gated.entered
	answers <- id

	select {
	case err := <-done:
		require.FailNow(t, "call returned while its cancel callback "+
			"was running", "err=%v", err)

	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-done)

	var tip HeaderNotification
	go func() {
		var err error
		tip, err = conn.HeadersSubscribe(t.Context())
		done <- err
	}()
	answers <- <-requests

	require.NoError(t, <-done)
	require.EqualValues(t, 2, tip.Height)
	require.NoError(t, conn.Err())
}

// TestParsePeerList decodes a server.peers.subscribe result.
func TestParsePeerList(t *testing.T) {
	t.Parallel()

	raw := json.RawMessage(`[
		["1.2.3.4", "a.example", ["v1.4", "s995", "t50001"]],
		["5.6.7.8", "", ["v1.4", "s"]],
		["9.9.9.9", "tcp.example", ["v1.4", "t"]],
		["bad"],
		[1, 2, 3]
	]`)

	peers, err := parsePeerList(raw)
	require.NoError(t, err)
	require.Equal(t, []Peer{
		{Host: "a.example", Port: 995},
		{Host: "5.6.7.8", Port: DefaultTLSPort},
	}, peers)

	_, err = parsePeerList(json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

// TestParsePeer covers the host:port notation.
func TestParsePeer(t *testing.T) {
	t.Parallel()

	peer, err := ParsePeer("electrum.example:50002")
	require.NoError(t, err)
	require.Equal(t, Peer{Host: "electrum.example", Port: 50002}, peer)

	peer, err = ParsePeer("electrum.example")
	require.NoError(t, err)
	require.EqualValues(t, DefaultTLSPort, peer.Port)

	_, err = ParsePeer("electrum.example:http")
	require.ErrorIs(t, err, ErrInvalidPeer)

	_, err = ParsePeer(":50002")
	require.ErrorIs(t, err, ErrInvalidPeer)
}
