// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrum

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// jsonRPCVersion is the protocol version tag sent with every request.
const jsonRPCVersion = "2.0"

// maxLineSize caps a single response line. Raw transactions and peer lists
// are well below this.
const maxLineSize = 16 << 20

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// response is a JSON-RPC 2.0 response or notification.
type response struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// matches reports whether the response carries the given numeric id.
func (r *response) matches(id uint64) bool {
	if len(r.ID) == 0 {
		return false
	}

	var got uint64
	if err := json.Unmarshal(r.ID, &got); err == nil {
		return got == id
	}

	// Some servers echo the id back as a string.
	var str string
	if err := json.Unmarshal(r.ID, &str); err == nil {
		return str == strconv.FormatUint(id, 10)
	}

	return false
}

// rpcError decodes the error member, or returns nil when there is none.
func (r *response) rpcError(method string) error {
	if len(r.Error) == 0 || bytes.Equal(r.Error, []byte("null")) {
		return nil
	}

	rpcErr := &RPCError{Method: method}
	if err := json.Unmarshal(r.Error, rpcErr); err == nil &&
		rpcErr.Message != "" {

		return rpcErr
	}

	// Older servers send a bare string.
	var msg string
	if err := json.Unmarshal(r.Error, &msg); err == nil {
		rpcErr.Message = msg
		return rpcErr
	}

	rpcErr.Message = string(r.Error)

	return rpcErr
}

// Conn is a single JSON-RPC session with an Electrum server. Calls on one
// Conn are serialized: at most one request is in flight at a time, and
// callers wanting parallelism open more connections.
type Conn struct {
	peer        Peer
	sock        net.Conn
	reader      *bufio.Reader
	owned       bool
	callTimeout time.Duration

	mtx    sync.Mutex
	nextID uint64
	err    error
}

// NewConn wraps a socket supplied by the caller. Errors and Close leave the
// socket open so the caller can reuse it.
func NewConn(sock net.Conn, peer Peer, callTimeout time.Duration) *Conn {
	return newConn(sock, peer, callTimeout, false)
}

// newConn creates a Conn over sock.
func newConn(sock net.Conn, peer Peer, callTimeout time.Duration,
	owned bool) *Conn {

	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	return &Conn{
		peer:        peer,
		sock:        sock,
		reader:      bufio.NewReader(sock),
		owned:       owned,
		callTimeout: callTimeout,
	}
}

// Peer returns the server this connection talks to.
func (c *Conn) Peer() Peer {
	return c.peer
}

// Err returns the error that tore the connection down, if any.
func (c *Conn) Err() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.err
}

// Close tears the connection down. The socket is only closed when the
// connection dialed it itself.
func (c *Conn) Close() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.err != nil {
		return nil
	}
	c.err = ErrConnClosed

	if !c.owned {
		return nil
	}

	return c.sock.Close()
}

// Call sends method with params and decodes the matching result into result,
// which may be nil to discard it. A server side error is returned as
// *RPCError and leaves the connection usable.
func (c *Conn) Call(ctx context.Context, method string, params []any,
	result any) error {

	if params == nil {
		params = []any{}
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.err != nil {
		return fmt.Errorf("%s on %v: %w", method, c.peer, c.err)
	}

	c.nextID++
	id := c.nextID

	payload, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	payload = append(payload, '\n')

	deadline := time.Now().Add(c.callTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok &&
		ctxDeadline.Before(deadline) {

		deadline = ctxDeadline
	}
	if err := c.sock.SetDeadline(deadline); err != nil {
		return c.teardown(method, err)
	}

	// Cancellation unblocks the socket by moving the deadline into the
	// past. A callback already running is waited for before the mutex is
	// released so its deadline cannot land on the next call.
	cancelDone := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(cancelDone)
		_ = c.sock.SetDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			<-cancelDone
		}
	}()

	log.Tracef("-> %v %s id=%d params=%v", c.peer, method, id, params)

	if _, err := c.sock.Write(payload); err != nil {
		return c.fail(ctx, method, err)
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return c.fail(ctx, method, err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Debugf("Skipping malformed line from %v: %v",
				c.peer, err)
			continue
		}

		// Notifications and stale replies from abandoned calls are
		// skipped.
		if !resp.matches(id) {
			continue
		}

		if rpcErr := resp.rpcError(method); rpcErr != nil {
			return rpcErr
		}

		if result == nil {
			return nil
		}

		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%w: %s result: %w",
				ErrMalformedResponse, method, err)
		}

		return nil
	}
}

// readLine reads one newline-terminated line, refusing lines longer than
// maxLineSize.
func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return nil, err
		}

		line = append(line, chunk...)
		if len(line) > maxLineSize {
			return nil, fmt.Errorf("%w: line exceeds %d bytes",
				ErrMalformedResponse, maxLineSize)
		}

		if !isPrefix {
			return line, nil
		}
	}
}

// fail maps a socket error of an in-flight call. A canceled caller leaves the
// connection intact since stale replies are skipped by id. Everything else
// tears it down. The caller must hold mtx.
func (c *Conn) fail(ctx context.Context, method string, err error) error {
	// The socket deadline may fire a hair before the context notices
	// its own.
	ctxErr := ctx.Err()
	if d, ok := ctx.Deadline(); ok && ctxErr == nil &&
		!time.Now().Before(d) {

		ctxErr = context.DeadlineExceeded
	}
	if ctxErr != nil {
		_ = c.sock.SetDeadline(time.Time{})
		return fmt.Errorf("%s on %v: %w", method, c.peer, ctxErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		err = fmt.Errorf("%w: %w", ErrCallTimeout, err)
	}

	return c.teardown(method, err)
}

// teardown records err as the terminal error of the connection and closes
// the socket if the connection owns it. The caller must hold mtx.
func (c *Conn) teardown(method string, err error) error {
	log.Debugf("Tearing down connection to %v: %v", c.peer, err)

	c.err = err
	if c.owned {
		_ = c.sock.Close()
	}

	return fmt.Errorf("%s on %v: %w", method, c.peer, err)
}
