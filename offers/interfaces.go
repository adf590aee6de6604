package offers

import (
	"context"
	"fmt"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
)

// InvoiceInfo holds what the host node contributes to an invoice we issue:
// the payment hash it will settle against and the paths payment can be
// dispatched over.
type InvoiceInfo struct {
	// PaymentHash is the hash the payment must settle against.
	PaymentHash lntypes.Hash

	// PaymentPaths are the blinded paths to advertise in the invoice.
	PaymentPaths []*lnwire.BlindedPaymentPath
}

// InvoiceCreator registers an inbound payment with the host node and
// produces the information required to issue an invoice for a verified
// invoice request.
type InvoiceCreator interface {
	// CreateInvoiceInfo registers an inbound payment for the request and
	// returns the payment hash and payment paths for the invoice.
	CreateInvoiceInfo(ctx context.Context,
		request *lnwire.InvoiceRequest) (*InvoiceInfo, error)
}

// SendPaymentParams describe a payment to dispatch along a single blinded
// path.
type SendPaymentParams struct {
	// Path is the blinded path to pay over.
	Path *lnwire.BlindedPaymentPath

	// IntroductionNode is the resolved identity of the path's
	// introduction node.
	IntroductionNode route.Vertex

	// CltvExpiryDelta is the aggregate cltv delta of the path.
	CltvExpiryDelta uint16

	// FeeBaseMsat is the aggregate base fee of the path.
	FeeBaseMsat uint32

	// FeePPM is the aggregate proportional fee of the path in parts per
	// million.
	FeePPM uint32

	// PaymentHash is the hash the payment settles against.
	PaymentHash lntypes.Hash

	// AmountMsats is the amount to pay in millisatoshis.
	AmountMsats uint64

	// PaymentID identifies the negotiation attempt the payment belongs
	// to.
	PaymentID lnwire.PaymentID
}

// PaymentDispatcher hands payments to the host node's payment engine and
// tracks them to terminal settlement.
type PaymentDispatcher interface {
	// SendPayment dispatches a payment along the path described by
	// params.
	SendPayment(ctx context.Context, params SendPaymentParams) error

	// TrackPayment blocks until the payment identified by hash reaches
	// a terminal state, returning the final payment on success and an
	// error when settlement fails.
	TrackPayment(ctx context.Context,
		hash lntypes.Hash) (*lnrpc.Payment, error)
}

// ChannelInfoLookup resolves channel IDs against the host node's channel
// graph.
type ChannelInfoLookup interface {
	// GetChanInfo returns the channel edge for the channel ID provided.
	GetChanInfo(ctx context.Context,
		chanID uint64) (*lnrpc.ChannelEdge, error)
}

// ReplyPathFactory builds the blinded paths we hand out so counterparties
// can message us back. Path construction and route selection live with the
// transport, not with the handler.
type ReplyPathFactory interface {
	// BuildReplyPath builds a path that terminates at our own node.
	BuildReplyPath(ctx context.Context) (*lnwire.BlindedMessagePath,
		error)
}

// ResolveIntroductionNode resolves a blinded path's introduction node to a
// concrete node identity, querying the channel graph when the node is
// referenced by channel.
func ResolveIntroductionNode(ctx context.Context, lookup ChannelInfoLookup,
	intro lnwire.IntroductionNode) (route.Vertex, error) {

	if intro.NodeID != nil {
		return route.NewVertexFromBytes(
			intro.NodeID.SerializeCompressed(),
		)
	}

	if intro.DirectedSCID == nil {
		return route.Vertex{}, ErrUnknownIntroductionNode
	}

	edge, err := lookup.GetChanInfo(ctx, intro.DirectedSCID.SCID)
	if err != nil {
		return route.Vertex{}, fmt.Errorf("%w: %v", ErrGetChannelInfo,
			err)
	}

	pubKey := edge.Node1Pub
	if intro.DirectedSCID.Direction == lnwire.DirectionNodeTwo {
		pubKey = edge.Node2Pub
	}

	return route.NewVertexFromStr(pubKey)
}
