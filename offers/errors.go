package offers

import (
	"errors"
	"fmt"
	"time"

	"github.com/a-mpch/lndk/lnwire"
)

var (
	// ErrNoAmount is returned when an offer leaves its amount open and
	// the caller did not supply one.
	ErrNoAmount = errors.New("amount must be specified when offer " +
		"does not set one")

	// ErrAmountLessThanOffer is returned when the caller-supplied amount
	// is below the amount the offer requires.
	ErrAmountLessThanOffer = errors.New("amount is less than offer " +
		"amount")

	// ErrUnsupportedChain is returned when an offer is not payable on
	// the chain we are operating on.
	ErrUnsupportedChain = errors.New("offer not payable on this chain")

	// ErrOfferExpired is returned when an offer is past its absolute
	// expiry.
	ErrOfferExpired = errors.New("offer expired")

	// ErrOfferRequired is returned when no offer was provided.
	ErrOfferRequired = errors.New("offer required")

	// ErrNetworkRequired is returned when no network was provided.
	ErrNetworkRequired = errors.New("network required")

	// ErrNoReplyPath is returned when no reply path is available for an
	// outgoing invoice request, so the counterparty would have nowhere
	// to send the invoice.
	ErrNoReplyPath = errors.New("no reply path available")

	// ErrNoInvoicePaths is returned when an invoice does not contain any
	// payment paths.
	ErrNoInvoicePaths = errors.New("invoice contains no payment paths")

	// ErrUnknownIntroductionNode is returned when a blinded path's
	// introduction node carries neither a node ID nor a channel
	// reference.
	ErrUnknownIntroductionNode = errors.New("unknown introduction node")

	// ErrGetChannelInfo is returned when a channel-referenced
	// introduction node cannot be resolved against the channel graph.
	ErrGetChannelInfo = errors.New("unable to resolve channel info")

	// ErrHandlerShutdown is returned when an operation is interrupted by
	// the handler shutting down.
	ErrHandlerShutdown = errors.New("offer handler shutting down")
)

// AlreadyProcessingError is returned when a payment ID is registered while a
// negotiation attempt for the same identifier is still outstanding.
type AlreadyProcessingError struct {
	// PaymentID is the identifier that is already being processed.
	PaymentID lnwire.PaymentID
}

// Error implements the error interface.
func (e *AlreadyProcessingError) Error() string {
	return fmt.Sprintf("payment %v already being processed", e.PaymentID)
}

// InvoiceTimeoutError is returned when no valid invoice arrived within the
// configured wait bound.
type InvoiceTimeoutError struct {
	// Timeout is the bound that elapsed.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *InvoiceTimeoutError) Error() string {
	return fmt.Sprintf("did not receive invoice in %v", e.Timeout)
}
