package lnd

import (
	"context"
	"errors"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/btcsuite/btcd/btcec/v2"
)

// DirectPathFactory builds degenerate single-node reply paths that name our
// own node as the introduction point. Counterparties answer us directly
// rather than through blinded intermediate hops, which trades sender
// privacy for not needing route selection.
type DirectPathFactory struct {
	nodeID *btcec.PublicKey
}

// NewDirectPathFactory creates a path factory for the node identity
// provided.
func NewDirectPathFactory(nodeID *btcec.PublicKey) *DirectPathFactory {
	return &DirectPathFactory{nodeID: nodeID}
}

// BuildReplyPath returns a path that terminates at our own node.
func (d *DirectPathFactory) BuildReplyPath(
	_ context.Context) (*lnwire.BlindedMessagePath, error) {

	if d.nodeID == nil {
		return nil, errors.New("node identity not available")
	}

	return &lnwire.BlindedMessagePath{
		IntroductionNode: lnwire.IntroductionNode{
			NodeID: d.nodeID,
		},
	}, nil
}
