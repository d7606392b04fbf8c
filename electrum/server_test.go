// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrum

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

var (
	// errBadCertPair is returned when the generated PEM pair cannot be
	// loaded.
	errBadCertPair = errors.New("unable to load generated cert pair")

	// testCerts generates one self-signed certificate for the whole
	// package.
	testCerts = sync.OnceValues(func() (*tls.Config, error) {
		certPEM, keyPEM, err := btcutil.NewTLSCertPair(
			"lightwallet test", time.Now().Add(time.Hour), nil,
		)
		if err != nil {
			return nil, err
		}

		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(certPEM) {
			return nil, errBadCertPair
		}

		// The same config serves both ends: the certificate for the
		// server and the pool for the client.
		return &tls.Config{
			Certificates: []tls.Certificate{pair},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
		}, nil
	})
)

// rpcRequest is a request as seen by the test server.
type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// reply tells the test server how to answer one request.
type reply struct {
	// Result is marshalled into the result member.
	Result any

	// Err is sent as the error member instead of a result.
	Err *RPCError

	// Before lists raw lines written ahead of the response.
	Before []string

	// Silent suppresses the response entirely.
	Silent bool
}

// handlerFunc answers a single request.
type handlerFunc func(req rpcRequest) reply

// testServer is an in-process Electrum server speaking newline delimited
// JSON-RPC over TLS.
type testServer struct {
	peer    Peer
	handler handlerFunc

	mtx      sync.Mutex
	requests []rpcRequest
}

// newTestServer starts a server on a random loopback port. The server answers
// server.version itself and hands every other request to handler.
func newTestServer(t *testing.T, handler handlerFunc) *testServer {
	t.Helper()

	cfg, err := testCerts()
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ln.Close()
	})

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)

	s := &testServer{
		peer:    Peer{Host: "127.0.0.1", Port: uint16(addr.Port)},
		handler: handler,
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			go s.serve(conn)
		}
	}()

	return s
}

// serve answers requests on one connection until it closes.
func (s *testServer) serve(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}

		s.mtx.Lock()
		s.requests = append(s.requests, req)
		s.mtx.Unlock()

		var r reply
		if req.Method == "server.version" {
			r = reply{Result: []string{"TestServer 1.0", "1.4"}}
		} else {
			r = s.handler(req)
		}

		if r.Silent {
			continue
		}

		for _, line := range r.Before {
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if r.Err != nil {
			resp["error"] = r.Err
		} else {
			resp["result"] = r.Result
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			return
		}

		if _, err := conn.Write(append(payload, '\n')); err != nil {
			return
		}
	}
}

// methods returns the method names received so far, excluding the
// handshake.
func (s *testServer) methods() []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var out []string
	for _, req := range s.requests {
		if req.Method != "server.version" {
			out = append(out, req.Method)
		}
	}

	return out
}

// lastRequest returns the most recent request.
func (s *testServer) lastRequest() rpcRequest {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.requests[len(s.requests)-1]
}

// tipHandler answers blockchain.headers.subscribe with height.
func tipHandler(height int32) handlerFunc {
	return func(req rpcRequest) reply {
		if req.Method != "blockchain.headers.subscribe" {
			return reply{Err: &RPCError{Code: -32601,
				Message: "unknown method"}}
		}

		return reply{Result: HeaderNotification{Height: height}}
	}
}

// deadPeer returns a loopback peer nobody listens on.
func deadPeer(t *testing.T) Peer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	require.NoError(t, ln.Close())

	return Peer{Host: "127.0.0.1", Port: uint16(addr.Port)}
}

// newTestClient returns a client trusting the test certificate.
func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()

	tlsCfg, err := testCerts()
	require.NoError(t, err)

	cfg.TLSConfig = &tls.Config{
		RootCAs:    tlsCfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.Bootstrap == nil {
		cfg.Bootstrap = []Peer{}
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 5 * time.Second
	}

	client, err := NewClient(t.Context(), cfg)
	require.NoError(t, err)

	return client
}
