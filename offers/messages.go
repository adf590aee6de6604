package offers

import (
	"github.com/a-mpch/lndk/lnwire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
)

// MessageContext is the context a message was received under, extracted by
// the transport from the blinded path the message arrived on. It tells the
// handler what the message is answering.
type MessageContext interface {
	messageContext()
}

// InvoiceRequestContext is carried by the paths of an offer we created. An
// invoice request arriving with this context is answering one of our own
// offers, created under the embedded nonce.
type InvoiceRequestContext struct {
	// Nonce is the nonce the offer was created under.
	Nonce lnwire.Nonce
}

func (*InvoiceRequestContext) messageContext() {}

// OutboundPaymentContext is carried by the reply path of an invoice request
// we sent. An invoice arriving with this context is answering the
// negotiation attempt identified by PaymentID.
type OutboundPaymentContext struct {
	// PaymentID identifies the negotiation attempt.
	PaymentID lnwire.PaymentID

	// Nonce is the nonce the invoice request was created under.
	Nonce lnwire.Nonce
}

func (*OutboundPaymentContext) messageContext() {}

// InboundPaymentContext is carried by the reply path of an invoice we sent,
// binding later messages to the payment hash of that invoice.
type InboundPaymentContext struct {
	// PaymentHash is the payment hash of the invoice.
	PaymentHash lntypes.Hash

	// Nonce is the nonce the binding was derived under.
	Nonce lnwire.Nonce

	// HMAC authenticates the payment hash and nonce pair.
	HMAC [32]byte
}

func (*InboundPaymentContext) messageContext() {}

// Destination is where a message we initiate should be delivered: either a
// peer identified directly, or the introduction path of a blinded route the
// counterparty published.
type Destination struct {
	// NodeID is the destination peer, when identified directly.
	NodeID *btcec.PublicKey

	// BlindedPath is the blinded introduction path to send over, when
	// the destination is not identified directly.
	BlindedPath *lnwire.BlindedMessagePath
}

// SendInstructions tells the messaging transport how a queued message should
// be delivered.
type SendInstructions struct {
	// Destination is set for messages we initiate ourselves.
	Destination *Destination

	// ResponsePath is set for replies: the path the counterparty told us
	// to answer on.
	ResponsePath *lnwire.BlindedMessagePath

	// ReplyPath optionally gives the recipient a path to respond on.
	ReplyPath *lnwire.BlindedMessagePath

	// ReplyContext is the context the transport must hand back to the
	// handler when a response arrives on ReplyPath.
	ReplyContext MessageContext
}

// PendingMessage is a message queued for transmission together with its send
// instructions. Produced once by the handler and consumed exactly once by
// the transport.
type PendingMessage struct {
	// Message is the negotiation message to send.
	Message lnwire.OffersMessage

	// Instructions describe where and how to send it.
	Instructions SendInstructions
}

// Responder is the reply handle the transport provides for an inbound
// message that can be answered.
type Responder struct {
	responsePath *lnwire.BlindedMessagePath
}

// NewResponder creates a responder that replies over the path provided.
func NewResponder(responsePath *lnwire.BlindedMessagePath) *Responder {
	return &Responder{responsePath: responsePath}
}

// Respond returns send instructions for a plain reply.
func (r *Responder) Respond() SendInstructions {
	return SendInstructions{ResponsePath: r.responsePath}
}

// RespondWithReplyPath returns send instructions for a reply that also
// gives the recipient a path to respond on, bound to the context provided.
func (r *Responder) RespondWithReplyPath(replyPath *lnwire.BlindedMessagePath,
	replyCtx MessageContext) SendInstructions {

	return SendInstructions{
		ResponsePath: r.responsePath,
		ReplyPath:    replyPath,
		ReplyContext: replyCtx,
	}
}
