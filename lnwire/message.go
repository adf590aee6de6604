package lnwire

import "fmt"

// OffersMessageType identifies the kind of a payment negotiation message.
type OffersMessageType uint8

const (
	// MsgInvoiceRequest is a request for an invoice.
	MsgInvoiceRequest OffersMessageType = iota

	// MsgInvoice is an invoice answering an earlier request.
	MsgInvoice

	// MsgInvoiceError reports a protocol-level failure to produce or
	// accept an invoice.
	MsgInvoiceError
)

// String returns a human readable identifier for the message type.
func (t OffersMessageType) String() string {
	switch t {
	case MsgInvoiceRequest:
		return "invoice request"
	case MsgInvoice:
		return "invoice"
	case MsgInvoiceError:
		return "invoice error"
	default:
		return fmt.Sprintf("unknown message type: %d", t)
	}
}

// OffersMessage is a payment negotiation message carried in an onion
// message payload.
type OffersMessage interface {
	// MsgType returns the kind of the negotiation message.
	MsgType() OffersMessageType
}

// MsgType returns MsgInvoiceRequest.
//
// NOTE: Part of the OffersMessage interface.
func (r *InvoiceRequest) MsgType() OffersMessageType {
	return MsgInvoiceRequest
}

// MsgType returns MsgInvoice.
//
// NOTE: Part of the OffersMessage interface.
func (i *Invoice) MsgType() OffersMessageType {
	return MsgInvoice
}

// MsgType returns MsgInvoiceError.
//
// NOTE: Part of the OffersMessage interface.
func (e *InvoiceError) MsgType() OffersMessageType {
	return MsgInvoiceError
}
