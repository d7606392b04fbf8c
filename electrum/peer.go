// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrum

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultTLSPort is the port an Electrum server advertises TLS on when its
// "s" feature carries no explicit port.
const DefaultTLSPort = 50002

// Peer is an Electrum server reachable over TLS.
type Peer struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Address returns the dialable host:port of the peer.
func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// String returns the host:port of the peer.
func (p Peer) String() string {
	return p.Address()
}

// ParsePeer parses a host:port string. A missing port defaults to
// DefaultTLSPort.
func ParsePeer(s string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// Assume the port was left out.
		host, portStr = s, strconv.Itoa(DefaultTLSPort)
	}

	if host == "" {
		return Peer{}, fmt.Errorf("%w: %q", ErrInvalidPeer, s)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return Peer{}, fmt.Errorf("%w: bad port in %q", ErrInvalidPeer, s)
	}

	return Peer{Host: host, Port: uint16(port)}, nil
}

// BootstrapPeers is the static set of public mainnet servers tried after the
// trusted peers.
var BootstrapPeers = []Peer{
	{Host: "electrum.blockstream.info", Port: 50002},
	{Host: "electrum.emzy.de", Port: 50002},
	{Host: "electrum.bitaroo.net", Port: 50002},
	{Host: "fortress.qtornado.com", Port: 443},
	{Host: "electrum.hodlister.co", Port: 50002},
	{Host: "bitcoin.lu.ke", Port: 50002},
}

// dedupe returns peers in order with later duplicates removed, skipping any
// peer already in seen. It records every returned peer in seen.
func dedupe(peers []Peer, seen map[Peer]struct{}) []Peer {
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	return out
}

// parsePeerList decodes the server.peers.subscribe result, a list of
// [ip, hostname, [features...]] triples, keeping only TLS capable servers.
func parsePeerList(raw json.RawMessage) ([]Peer, error) {
	var entries [][]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: peers: %w", ErrMalformedResponse, err)
	}

	peers := make([]Peer, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 3 {
			continue
		}

		var (
			ip, hostname string
			features     []string
		)
		if json.Unmarshal(entry[0], &ip) != nil ||
			json.Unmarshal(entry[1], &hostname) != nil ||
			json.Unmarshal(entry[2], &features) != nil {

			log.Debugf("Skipping malformed peer entry %s", entry)
			continue
		}

		host := hostname
		if host == "" {
			host = ip
		}

		port, ok := tlsPort(features)
		if !ok || host == "" {
			continue
		}

		peers = append(peers, Peer{Host: host, Port: port})
	}

	return peers, nil
}

// tlsPort extracts the TLS port from a peer feature list such as
// ["v1.4", "s995", "t"].
func tlsPort(features []string) (uint16, bool) {
	for _, f := range features {
		if !strings.HasPrefix(f, "s") {
			continue
		}

		if f == "s" {
			return DefaultTLSPort, true
		}

		port, err := strconv.ParseUint(f[1:], 10, 16)
		if err != nil || port == 0 {
			return 0, false
		}

		return uint16(port), true
	}

	return 0, false
}
