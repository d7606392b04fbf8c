// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package electrum

import (
	"context"
	"fmt"

	"github.com/btcsuite/lightwallet/kvstore"
	"golang.org/x/sync/errgroup"
)

// MinTrustQuorum is the minimum number of peers that must agree on the chain
// height before they are trusted.
const MinTrustQuorum = 2

// PeerHeight is the outcome of asking one peer for its tip.
type PeerHeight struct {
	Peer   Peer
	Height int32
	Err    error
}

// EstablishTrust asks every candidate for its chain tip in parallel, groups
// the answers by height and promotes the largest agreeing group to the
// trusted tier. Nil candidates selects every known peer. This guards against
// a single stale or lying server; it is not a consensus proof.
func (c *Client) EstablishTrust(ctx context.Context,
	candidates []Peer) ([]Peer, int32, error) {

	if candidates == nil {
		candidates = c.Candidates()
	}

	results := make([]PeerHeight, len(candidates))

	var eg errgroup.Group
	for i, peer := range candidates {
		eg.Go(func() error {
			results[i] = c.probe(ctx, peer)
			return nil
		})
	}
	_ = eg.Wait()

	trusted, height, err := SelectTrusted(results, MinTrustQuorum)
	if err != nil {
		return nil, 0, err
	}

	log.Infof("Trusting %d peers at height %d", len(trusted), height)

	c.trusted.Store(&trusted)

	if c.cfg.Store != nil {
		err := kvstore.SetJSON(ctx, c.cfg.Store, TrustedPeersKey, trusted)
		if err != nil {
			return nil, 0, fmt.Errorf("persist trusted peers: %w", err)
		}
	}

	return append([]Peer(nil), trusted...), height, nil
}

// probe connects to peer and reads its tip height.
func (c *Client) probe(ctx context.Context, peer Peer) PeerHeight {
	conn, err := c.Dial(ctx, peer)
	if err != nil {
		return PeerHeight{Peer: peer, Err: err}
	}
	defer conn.Close()

	tip, err := conn.HeadersSubscribe(ctx)
	if err != nil {
		log.Debugf("Peer %v did not report its tip: %v", peer, err)
		return PeerHeight{Peer: peer, Err: err}
	}

	return PeerHeight{Peer: peer, Height: tip.Height}
}

// SelectTrusted groups the successful results by height and returns the
// peers of the largest group together with its height. Ties go to the
// greater height. Peers keep their input order.
func SelectTrusted(results []PeerHeight, quorum int) ([]Peer, int32,
	error) {

	groups := make(map[int32][]Peer)
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		groups[r.Height] = append(groups[r.Height], r.Peer)
	}

	var (
		best       []Peer
		bestHeight int32
	)
	for height, peers := range groups {
		switch {
		case len(peers) > len(best):
		case len(peers) == len(best) && height > bestHeight:
		default:
			continue
		}

		best, bestHeight = peers, height
	}

	if len(best) < quorum {
		return nil, 0, fmt.Errorf("%w: largest agreeing group has %d "+
			"of %d required peers", ErrNoTrustQuorum, len(best),
			quorum)
	}

	return best, bestHeight, nil
}
