// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package electrum implements a client for the Electrum protocol: newline
// delimited JSON-RPC 2.0 over TLS. A Client owns the prioritized peer list and
// the trust cache; a Conn is one session with one server.
package electrum

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/lightwallet/kvstore"
	"golang.org/x/net/proxy"
)

const (
	// DefaultDialTimeout bounds connecting, the TLS handshake and the
	// protocol version handshake.
	DefaultDialTimeout = 10 * time.Second

	// DefaultCallTimeout bounds a single request/response round trip.
	DefaultCallTimeout = 30 * time.Second

	// DefaultClientName is announced in server.version.
	DefaultClientName = "lightwallet"

	// ProtocolVersion is the Electrum protocol version requested in the
	// handshake.
	ProtocolVersion = "1.4"

	// TrustedPeersKey is the key the last trust consensus is persisted
	// under.
	TrustedPeersKey = "trusted_electrum_peers"
)

var (
	// ErrNoReachablePeer is returned by Connect once every peer of every
	// tier failed. It wraps the individual dial errors.
	ErrNoReachablePeer = errors.New("no reachable electrum peer")

	// ErrNoTrustQuorum is returned when no group of at least
	// MinTrustQuorum peers agrees on the chain height.
	ErrNoTrustQuorum = errors.New("no trust quorum")

	// ErrMalformedResponse is returned when a server reply cannot be
	// decoded into the expected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrCallTimeout is returned when a call exceeds its deadline.
	ErrCallTimeout = errors.New("call timed out")

	// ErrConnClosed is returned by calls on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrInvalidPeer is returned when a peer address cannot be parsed.
	ErrInvalidPeer = errors.New("invalid peer")
)

// RPCError is an error reported by the server in the error member of a
// response.
type RPCError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: server error %d: %s", e.Method, e.Code,
		e.Message)
}

// Config holds the parameters of a Client.
type Config struct {
	// Bootstrap is the static peer tier. Nil selects BootstrapPeers.
	Bootstrap []Peer

	// Store persists the trusted peers. It may be nil.
	Store kvstore.Store

	// TLSConfig is cloned for every dial. ServerName is filled in per
	// peer when empty.
	TLSConfig *tls.Config

	// Proxy is an optional SOCKS5 proxy address, e.g. a local Tor
	// daemon at 127.0.0.1:9050.
	Proxy string

	// DialTimeout and CallTimeout default to DefaultDialTimeout and
	// DefaultCallTimeout.
	DialTimeout time.Duration
	CallTimeout time.Duration

	// ClientName is announced during the handshake.
	ClientName string
}

// Client connects to Electrum servers. It owns the trusted and learned peer
// tiers, both replaced wholesale and never mutated in place.
type Client struct {
	cfg Config

	trusted atomic.Pointer[[]Peer]
	learned atomic.Pointer[[]Peer]

	rngMtx sync.Mutex
	rng    *rand.Rand
}

// NewClient creates a client and loads the previously trusted peers from the
// store, if any.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bootstrap == nil {
		cfg.Bootstrap = BootstrapPeers
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}

	var none []Peer
	c.trusted.Store(&none)
	c.learned.Store(&none)

	if cfg.Store == nil {
		return c, nil
	}

	trusted, err := kvstore.GetJSON[[]Peer](ctx, cfg.Store, TrustedPeersKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		log.Debugf("No trusted peers persisted yet")

	case err != nil:
		return nil, fmt.Errorf("load trusted peers: %w", err)

	default:
		log.Debugf("Loaded %d trusted peers", len(trusted))
		c.trusted.Store(&trusted)
	}

	return c, nil
}

// TrustedPeers returns the current trusted tier.
func (c *Client) TrustedPeers() []Peer {
	return append([]Peer(nil), *c.trusted.Load()...)
}

// LearnedPeers returns the peers learned from server.peers.subscribe.
func (c *Client) LearnedPeers() []Peer {
	return append([]Peer(nil), *c.learned.Load()...)
}

// tiers returns the peer tiers in priority order, each shuffled and with
// peers of an earlier tier removed from later ones.
func (c *Client) tiers() [][]Peer {
	seen := make(map[Peer]struct{})
	tiers := [][]Peer{
		dedupe(*c.trusted.Load(), seen),
		dedupe(c.cfg.Bootstrap, seen),
		dedupe(*c.learned.Load(), seen),
	}

	c.rngMtx.Lock()
	defer c.rngMtx.Unlock()

	for _, tier := range tiers {
		c.rng.Shuffle(len(tier), func(i, j int) {
			tier[i], tier[j] = tier[j], tier[i]
		})
	}

	return tiers
}

// Candidates returns every known peer once, in tier priority order.
func (c *Client) Candidates() []Peer {
	var out []Peer
	for _, tier := range c.tiers() {
		out = append(out, tier...)
	}

	return out
}

// Connect dials the first reachable peer, trying trusted peers first, then the
// bootstrap set, then learned peers, in random order within a tier. There is
// no retry beyond walking the list.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	var errs []error
	for _, tier := range c.tiers() {
		for _, peer := range tier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			conn, err := c.Dial(ctx, peer)
			if err == nil {
				return conn, nil
			}

			log.Debugf("Peer %v unreachable: %v", peer, err)
			errs = append(errs, err)
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrNoReachablePeer, errors.Join(errs...))
}

// Dial opens a TLS session with peer and performs the protocol handshake. The
// returned connection owns its socket.
func (c *Client) Dial(ctx context.Context, peer Peer) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	raw, err := c.dialRaw(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("dial %v: %w", peer, err)
	}

	tlsCfg := c.cfg.TLSConfig.Clone()
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = peer.Host
	}

	sock := tls.Client(raw, tlsCfg)
	if err := sock.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %v: %w", peer, err)
	}

	conn := newConn(sock, peer, c.cfg.CallTimeout, true)

	version, err := conn.ServerVersion(ctx, c.cfg.ClientName,
		ProtocolVersion)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Debugf("Connected to %v running %v", peer, version.Software)

	return conn, nil
}

// dialRaw opens the TCP connection, through the SOCKS5 proxy when one is
// configured.
func (c *Client) dialRaw(ctx context.Context, peer Peer) (net.Conn, error) {
	direct := &net.Dialer{Timeout: c.cfg.DialTimeout}
	if c.cfg.Proxy == "" {
		return direct.DialContext(ctx, "tcp", peer.Address())
	}

	dialer, err := proxy.SOCKS5("tcp", c.cfg.Proxy, nil, direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return dialer.Dial("tcp", peer.Address())
	}

	return ctxDialer.DialContext(ctx, "tcp", peer.Address())
}

// LearnPeers asks the server behind conn for its peer list and replaces the
// learned tier with it.
func (c *Client) LearnPeers(ctx context.Context, conn *Conn) ([]Peer, error) {
	peers, err := conn.ServerPeers(ctx)
	if err != nil {
		return nil, err
	}

	c.learned.Store(&peers)
	log.Debugf("Learned %d peers from %v", len(peers), conn.Peer())

	return append([]Peer(nil), peers...), nil
}
