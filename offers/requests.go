package offers

import (
	"context"
	"fmt"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// validateAmount resolves the amount of a payment attempt from the
// caller-supplied amount and the amount stated by the offer. The offer may
// leave its amount open, in which case the caller must supply one; when the
// offer states an amount, the caller may only raise it.
func validateAmount(offer *lnwire.Offer,
	requested fn.Option[uint64]) (uint64, error) {

	offerAmount := offer.AmountMsats

	switch {
	// The offer leaves the amount open, so the caller must choose one.
	case offerAmount == 0:
		amount := requested.UnwrapOr(0)
		if amount == 0 {
			return 0, ErrNoAmount
		}

		return amount, nil

	// The offer states an amount and the caller did not override it.
	case requested.IsNone():
		return offerAmount, nil

	// Caller-supplied amounts may only raise the offer amount.
	default:
		amount := requested.UnwrapOr(0)
		if amount < offerAmount {
			return 0, fmt.Errorf("%w: %v msat < %v msat",
				ErrAmountLessThanOffer, amount, offerAmount)
		}

		return amount, nil
	}
}

// createInvoiceRequest builds a signed invoice request for the offer
// provided, returning the request together with the fresh payment ID, the
// validated amount and the context the transport must hand back when the
// invoice arrives on our reply path.
func (h *OfferHandler) createInvoiceRequest(offer *lnwire.Offer,
	network *chaincfg.Params, amount fn.Option[uint64],
	payerNote string) (*lnwire.InvoiceRequest, lnwire.PaymentID, uint64,
	*OutboundPaymentContext, error) {

	var paymentID lnwire.PaymentID

	if offer == nil {
		return nil, paymentID, 0, nil, ErrOfferRequired
	}

	if network == nil {
		return nil, paymentID, 0, nil, ErrNetworkRequired
	}

	if offer.Chain != *network.GenesisHash {
		return nil, paymentID, 0, nil, fmt.Errorf("%w: offer chain "+
			"%v, our chain %v", ErrUnsupportedChain, offer.Chain,
			network.GenesisHash)
	}

	if offer.Expired(h.cfg.Clock.Now()) {
		return nil, paymentID, 0, nil, ErrOfferExpired
	}

	validatedAmount, err := validateAmount(offer, amount)
	if err != nil {
		return nil, paymentID, 0, nil, err
	}

	paymentID = lnwire.NewPaymentID(h.cfg.Entropy)
	nonce := lnwire.NewNonce(h.cfg.Entropy)

	payerKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, paymentID, 0, nil, fmt.Errorf("payer key: %w",
			err)
	}

	quantity := offer.Quantity
	if quantity == 0 {
		quantity = 1
	}

	request := &lnwire.InvoiceRequest{
		Chain:         offer.Chain,
		OfferID:       offer.ID(),
		OfferMetadata: offer.Metadata,
		AmountMsats:   validatedAmount,
		Quantity:      quantity,
		PayerKey:      payerKey.PubKey(),
		PayerNote:     payerNote,
		PayerMetadata: h.expandedKey.PayerMetadata(paymentID, nonce),
	}

	digest := request.SignatureDigest()
	sig, err := schnorr.Sign(payerKey, digest[:])
	if err != nil {
		return nil, paymentID, 0, nil, fmt.Errorf("sign request: %w",
			err)
	}

	var sigBytes [64]byte
	copy(sigBytes[:], sig.Serialize())
	request.Signature = &sigBytes

	msgCtx := &OutboundPaymentContext{
		PaymentID: paymentID,
		Nonce:     nonce,
	}

	return request, paymentID, validatedAmount, msgCtx, nil
}

// buildSendInstructions pairs an invoice request with the instructions the
// transport needs to deliver it: the destination the offer creator
// published and a reply path the invoice can be sent back over.
func (h *OfferHandler) buildSendInstructions(ctx context.Context,
	params PayOfferParams, request *lnwire.InvoiceRequest,
	msgCtx *OutboundPaymentContext) (*PendingMessage, error) {

	replyPath := params.ReplyPath
	if replyPath == nil {
		if h.cfg.PathFactory == nil {
			return nil, ErrNoReplyPath
		}

		var err error
		replyPath, err = h.cfg.PathFactory.BuildReplyPath(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoReplyPath, err)
		}
	}

	destination := params.Destination

	return &PendingMessage{
		Message: request,
		Instructions: SendInstructions{
			Destination:  &destination,
			ReplyPath:    replyPath,
			ReplyContext: msgCtx,
		},
	}, nil
}

// createOffer builds an offer advertising our node's payable terms. The
// returned context must be served back by the transport with every invoice
// request arriving on the offer's paths, so incoming requests can be
// verified as answering this offer.
func (h *OfferHandler) createOffer(ctx context.Context,
	params CreateOfferParams) (*lnwire.Offer, *InvoiceRequestContext,
	error) {

	if params.Network == nil {
		return nil, nil, ErrNetworkRequired
	}

	nonce := lnwire.NewNonce(h.cfg.Entropy)

	offer := &lnwire.Offer{
		Chain:         *params.Network.GenesisHash,
		Metadata:      h.expandedKey.OfferMetadata(nonce),
		AmountMsats:   params.AmountMsats,
		Description:   params.Description,
		Issuer:        params.Issuer,
		Quantity:      params.Quantity,
		SigningPubkey: h.signingKey.PubKey(),
	}

	if params.Expiry != 0 {
		offer.AbsoluteExpiry = h.cfg.Clock.Now().Add(params.Expiry)
	}

	if h.cfg.PathFactory != nil {
		path, err := h.cfg.PathFactory.BuildReplyPath(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to build offer "+
				"message path: %w", err)
		}

		offer.Paths = []*lnwire.BlindedMessagePath{path}
	}

	return offer, &InvoiceRequestContext{Nonce: nonce}, nil
}

// buildAndSignInvoice produces a signed invoice answering the verified
// invoice request provided, using the payment hash and paths the host node
// contributed.
func (h *OfferHandler) buildAndSignInvoice(request *lnwire.InvoiceRequest,
	info *InvoiceInfo) (*lnwire.Invoice, error) {

	if len(info.PaymentPaths) == 0 {
		return nil, ErrNoInvoicePaths
	}

	invoice := &lnwire.Invoice{
		Chain:          request.Chain,
		PayerMetadata:  request.PayerMetadata,
		PaymentHash:    info.PaymentHash,
		AmountMsats:    request.AmountMsats,
		CreatedAt:      h.cfg.Clock.Now(),
		RelativeExpiry: DefaultInvoiceExpiry,
		PaymentPaths:   info.PaymentPaths,
		SigningPubkey:  h.signingKey.PubKey(),
	}

	digest := invoice.SignatureDigest()
	sig, err := schnorr.Sign(h.signingKey, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign invoice: %w", err)
	}

	var sigBytes [64]byte
	copy(sigBytes[:], sig.Serialize())
	invoice.Signature = &sigBytes

	return invoice, nil
}
