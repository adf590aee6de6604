package onionmsg

import (
	"context"

	"github.com/a-mpch/lndk/offers"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/routing/route"
)

// MessageSender delivers a negotiation message to a directly connected
// peer. Implementations own onion packetization and the actual wire send.
type MessageSender interface {
	// SendMessage sends the message to the peer provided, which is
	// expected to be connected at the time of the call.
	SendMessage(ctx context.Context, peer route.Vertex,
		msg *offers.PendingMessage) error
}

// MessageSource produces the outbound messages awaiting delivery.
type MessageSource interface {
	// ReleasePendingMessages drains and returns all messages queued
	// for sending.
	ReleasePendingMessages() []*offers.PendingMessage
}

// NodeConnector connects the host node to peers on demand.
type NodeConnector interface {
	// GetNodeAddresses returns the advertised network addresses of the
	// node identified by the vertex provided.
	GetNodeAddresses(ctx context.Context,
		peer route.Vertex) ([]string, error)

	// Connect instructs the host node to connect to the peer at the
	// address provided.
	Connect(ctx context.Context, peer route.Vertex,
		address string, perm bool) error
}

// PeerEventStream delivers the host node's peer connection events.
type PeerEventStream interface {
	// Recv blocks until the next peer event arrives.
	Recv() (*lnrpc.PeerEvent, error)
}

// PeerEventSubscriber opens a subscription to the host node's peer events.
type PeerEventSubscriber interface {
	// SubscribePeerEvents subscribes to peer online and offline events.
	SubscribePeerEvents(ctx context.Context) (PeerEventStream, error)
}
