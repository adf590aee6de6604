package lnwire

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Direction indicates which end of a channel a node sits on, matching the
// ordering of the channel announcement for the referenced channel.
type Direction uint8

const (
	// DirectionNodeOne references the numerically-first node of a
	// channel.
	DirectionNodeOne Direction = iota

	// DirectionNodeTwo references the numerically-second node of a
	// channel.
	DirectionNodeTwo
)

// String returns a human readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionNodeOne:
		return "node one"
	case DirectionNodeTwo:
		return "node two"
	default:
		return fmt.Sprintf("unknown direction: %d", d)
	}
}

// DirectedSCID references a channel counterparty by short channel ID and
// direction. The pair must be resolved to a node identity against the
// channel graph before it can be used as a network-level destination.
type DirectedSCID struct {
	// Direction selects which end of the channel is referenced.
	Direction Direction

	// SCID is the short channel ID of the referenced channel.
	SCID uint64
}

// IntroductionNode identifies the first hop of a blinded path. Exactly one
// of the fields is set: either the node is identified directly by its public
// key, or indirectly via a channel it is a party to.
type IntroductionNode struct {
	// NodeID is the identity of the introduction node, when identified
	// directly.
	NodeID *btcec.PublicKey

	// DirectedSCID references the introduction node via one of its
	// channels, when it is not identified directly.
	DirectedSCID *DirectedSCID
}

// BlindedHop is a single hop in a blinded path.
type BlindedHop struct {
	// BlindedNode is the blinded identity of the hop.
	BlindedNode *btcec.PublicKey

	// EncryptedData is the encrypted routing data for the hop, readable
	// only by the hop itself.
	EncryptedData []byte
}

// BlindedMessagePath is a source-routed path for onion messages whose
// intermediate hops cannot identify the final destination.
type BlindedMessagePath struct {
	// IntroductionNode is the first, unblinded hop of the path.
	IntroductionNode IntroductionNode

	// BlindingPoint is the ephemeral key the introduction node needs to
	// process the remaining hops. Nil for degenerate single-node paths.
	BlindingPoint *btcec.PublicKey

	// Hops are the blinded hops following the introduction node.
	Hops []*BlindedHop
}

// PayInfo describes the aggregate relay parameters for a blinded payment
// path.
type PayInfo struct {
	// FeeBaseMsat is the aggregate base fee for the path in
	// millisatoshis.
	FeeBaseMsat uint32

	// FeeProportionalMillionths is the aggregate proportional fee for
	// the path, in parts per million.
	FeeProportionalMillionths uint32

	// CltvExpiryDelta is the aggregate cltv delta for the path.
	CltvExpiryDelta uint16

	// HTLCMinimumMsat is the minimum HTLC amount the path will relay.
	HTLCMinimumMsat uint64

	// HTLCMaximumMsat is the maximum HTLC amount the path will relay.
	HTLCMaximumMsat uint64
}

// BlindedPaymentPath is a blinded path along which a payment can be
// dispatched, together with the relay parameters required to use it.
type BlindedPaymentPath struct {
	// IntroductionNode is the first, unblinded hop of the path.
	IntroductionNode IntroductionNode

	// BlindingPoint is the ephemeral key the introduction node needs to
	// process the remaining hops.
	BlindingPoint *btcec.PublicKey

	// Hops are the blinded hops following the introduction node.
	Hops []*BlindedHop

	// PayInfo holds the aggregate relay parameters for the path.
	PayInfo PayInfo
}
