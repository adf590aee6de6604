// Package peerstate tracks which peers the host node is connected to, so
// that message delivery can check connectivity without a round trip to the
// node for every send.
package peerstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/routing/route"
)

// ErrPeerNotConnected is returned when a peer required for delivery is not
// connected, distinguishing ordinary disconnection from failures of the
// connectivity check itself.
var ErrPeerNotConnected = errors.New("peer not connected")

// CheckError wraps a failure of the connectivity check itself, as opposed
// to the peer simply not being connected.
type CheckError struct {
	// Peer is the peer whose connectivity was being checked.
	Peer route.Vertex

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *CheckError) Error() string {
	return fmt.Sprintf("connectivity check for peer %v failed: %v",
		e.Peer, e.Err)
}

// Unwrap returns the underlying failure.
func (e *CheckError) Unwrap() error {
	return e.Err
}

// PeerLister lists the peers the host node currently has connections to.
type PeerLister interface {
	// ListPeers returns the identities of all currently connected peers.
	ListPeers(ctx context.Context) ([]route.Vertex, error)
}

// PeerState is a local cache of the host node's peer connections. Lookups
// hit the cache first and only fall back to querying the node on a miss,
// trusting connection events to keep the cache current in between.
//
// The cache may transiently disagree with the node in either direction; a
// miss is always reconciled against the node before delivery is refused.
type PeerState struct {
	lister PeerLister

	mtx   sync.RWMutex
	peers map[route.Vertex]struct{}
}

// NewPeerState creates an empty peer cache backed by the lister provided.
func NewPeerState(lister PeerLister) *PeerState {
	return &PeerState{
		lister: lister,
		peers:  make(map[route.Vertex]struct{}),
	}
}

// IsConnected reports whether the peer is currently connected. Cache hits
// answer immediately; on a miss the cache is reconciled against the node's
// actual peer list before answering, so a stale cache never turns into a
// false refusal.
func (p *PeerState) IsConnected(ctx context.Context,
	peer route.Vertex) (bool, error) {

	p.mtx.RLock()
	_, ok := p.peers[peer]
	p.mtx.RUnlock()

	if ok {
		return true, nil
	}

	// Cache miss: the peer may have connected before we started
	// tracking events, so ask the node directly and rebuild the cache
	// from its answer.
	listed, err := p.lister.ListPeers(ctx)
	if err != nil {
		return false, &CheckError{Peer: peer, Err: err}
	}

	connected := make(map[route.Vertex]struct{}, len(listed))
	for _, listedPeer := range listed {
		connected[listedPeer] = struct{}{}
	}

	p.mtx.Lock()
	p.peers = connected
	p.mtx.Unlock()

	_, ok = connected[peer]
	if !ok {
		log.Debugf("Peer %v not connected after reconcile", peer)
	}

	return ok, nil
}

// EnsureConnected fails with ErrPeerNotConnected unless the peer is
// currently connected.
func (p *PeerState) EnsureConnected(ctx context.Context,
	peer route.Vertex) error {

	connected, err := p.IsConnected(ctx, peer)
	if err != nil {
		return err
	}

	if !connected {
		return fmt.Errorf("%w: %v", ErrPeerNotConnected, peer)
	}

	return nil
}

// MarkConnected records that the peer is connected. Called when the node
// reports a peer online event or after we connect to a peer ourselves.
func (p *PeerState) MarkConnected(peer route.Vertex) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.peers[peer] = struct{}{}
}

// MarkDisconnected records that the peer is no longer connected. Safe to
// call for peers that were never tracked.
func (p *PeerState) MarkDisconnected(peer route.Vertex) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	delete(p.peers, peer)
}

// NumConnected returns the number of peers currently cached as connected.
func (p *PeerState) NumConnected() int {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	return len(p.peers)
}
