package offers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnrpc"
)

const (
	// DefaultResponseInvoiceTimeout is how long we wait for an offer
	// creator to respond with an invoice when no per-call override is
	// given.
	DefaultResponseInvoiceTimeout = 15 * time.Second

	// DefaultInvoiceExpiry is the relative expiry set on invoices we
	// issue.
	DefaultInvoiceExpiry = 2 * time.Hour

	// inboundQueueSize bounds the number of inbound messages waiting for
	// the handler's worker. The transport callback drops messages once
	// the queue is full rather than blocking.
	inboundQueueSize = 100
)

// PaymentState is the state of an in-flight payment negotiation attempt.
type PaymentState uint8

const (
	// PaymentStateRequestCreated indicates that an invoice request has
	// been created and queued for sending.
	PaymentStateRequestCreated PaymentState = iota

	// PaymentStateInvoiceReceived indicates that a verified invoice
	// matching the attempt has arrived.
	PaymentStateInvoiceReceived

	// PaymentStateDispatched indicates that payment of the invoice has
	// been handed to the host node's payment engine.
	PaymentStateDispatched
)

// String returns a human readable identifier for the payment state.
func (s PaymentState) String() string {
	switch s {
	case PaymentStateRequestCreated:
		return "request created"
	case PaymentStateInvoiceReceived:
		return "invoice received"
	case PaymentStateDispatched:
		return "dispatched"
	default:
		return fmt.Sprintf("unknown state: %d", s)
	}
}

// paymentInfo is the ledger entry for a single negotiation attempt.
type paymentInfo struct {
	state   PaymentState
	invoice *lnwire.Invoice

	// invoiceReady is closed when a verified invoice is stored, waking
	// the goroutine waiting in GetInvoice.
	invoiceReady chan struct{}
}

// PayOfferParams holds everything needed to request and pay an invoice for
// an offer.
type PayOfferParams struct {
	// Offer is the offer to pay.
	Offer *lnwire.Offer

	// Amount optionally overrides the offer amount, in millisatoshis.
	// Required when the offer leaves its amount open.
	Amount fn.Option[uint64]

	// PayerNote is an optional note to attach to the invoice request.
	PayerNote string

	// Network is the chain we operate on.
	Network *chaincfg.Params

	// Destination is where the offer creator receives invoice requests.
	Destination Destination

	// ReplyPath optionally overrides the reply path the invoice is sent
	// back over. Built via the handler's path factory when unset.
	ReplyPath *lnwire.BlindedMessagePath

	// ResponseInvoiceTimeout optionally overrides how long we wait for
	// the invoice. Zero uses the handler-wide default.
	ResponseInvoiceTimeout time.Duration
}

// CreateOfferParams holds the payable terms of a new offer.
type CreateOfferParams struct {
	// AmountMsats is the offer amount in millisatoshis, zero leaving the
	// amount open.
	AmountMsats uint64

	// Network is the chain the offer is payable on.
	Network *chaincfg.Params

	// Description describes the purpose of the offer.
	Description string

	// Issuer optionally identifies the issuing party.
	Issuer string

	// Quantity is the supported quantity of items, zero meaning one.
	Quantity uint64

	// Expiry is the relative expiry of the offer since creation, zero
	// meaning the offer never expires.
	Expiry time.Duration
}

// Config holds the external collaborators and tuning knobs of an
// OfferHandler.
type Config struct {
	// InvoiceCreator registers inbound payments with the host node. May
	// be nil when the node does not serve offers.
	InvoiceCreator InvoiceCreator

	// Dispatcher hands payments to the host node's payment engine.
	Dispatcher PaymentDispatcher

	// ChannelLookup resolves channel-referenced introduction nodes.
	ChannelLookup ChannelInfoLookup

	// PathFactory builds the reply paths we hand out.
	PathFactory ReplyPathFactory

	// Entropy is the source of randomness for identifiers and nonces.
	// Defaults to crypto/rand.
	Entropy lnwire.EntropySource

	// Clock is the time source used for waits and expiry checks.
	// Defaults to the wall clock.
	Clock clock.Clock

	// ResponseInvoiceTimeout is the handler-wide default for how long we
	// wait for an invoice.
	ResponseInvoiceTimeout time.Duration

	// SigningSeed optionally fixes the seed our signing keys and
	// metadata bindings are derived from. Securely randomized when
	// unset.
	SigningSeed fn.Option[[32]byte]
}

// OfferHandler drives payment negotiation over onion messages: it builds
// and tracks outbound invoice request attempts, classifies inbound
// negotiation messages, and hands agreed payments to the host node's
// payment engine.
//
// The handler synchronizes exclusively through two small pieces of shared
// state: the active payments ledger and the pending message queue. Neither
// lock is ever held across I/O.
type OfferHandler struct {
	started int32 // to be used atomically
	stopped int32 // to be used atomically

	cfg Config

	expandedKey lnwire.ExpandedKey
	signingKey  *btcec.PrivateKey

	// activePayments holds the payments we are currently negotiating.
	// When we create an invoice request we register its payment ID
	// here, then wait until an invoice carrying the same ID arrives. An
	// entry exists exactly while its attempt is outstanding.
	activePayments    map[lnwire.PaymentID]*paymentInfo
	activePaymentsMtx sync.Mutex

	// pendingMessages holds messages awaiting transmission, drained by
	// the transport via ReleasePendingMessages.
	pendingMessages    []*PendingMessage
	pendingMessagesMtx sync.Mutex

	// incomingMessages carries inbound messages from the transport
	// callback to the worker goroutine.
	incomingMessages chan *incomingMessage

	wg   sync.WaitGroup
	quit chan struct{}
}

// incomingMessage is an inbound message queued for the worker.
type incomingMessage struct {
	msg       lnwire.OffersMessage
	msgCtx    MessageContext
	responder *Responder
}

// NewOfferHandler creates an offer handler with the config provided,
// filling in defaults for any optional fields left unset.
func NewOfferHandler(cfg Config) *OfferHandler {
	if cfg.Entropy == nil {
		cfg.Entropy = lnwire.CryptoEntropy{}
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	if cfg.ResponseInvoiceTimeout == 0 {
		cfg.ResponseInvoiceTimeout = DefaultResponseInvoiceTimeout
	}

	seed := cfg.Entropy.GetSecureRandomBytes()
	if cfg.SigningSeed.IsSome() {
		seed = cfg.SigningSeed.UnwrapOr(seed)
	}

	expandedKey := lnwire.NewExpandedKey(seed)

	return &OfferHandler{
		cfg:              cfg,
		expandedKey:      expandedKey,
		signingKey:       expandedKey.DeriveSigningKey(),
		activePayments:   make(map[lnwire.PaymentID]*paymentInfo),
		incomingMessages: make(chan *incomingMessage, inboundQueueSize),
		quit:             make(chan struct{}),
	}
}

// Start launches the handler's message worker.
func (h *OfferHandler) Start() error {
	if !atomic.CompareAndSwapInt32(&h.started, 0, 1) {
		return errors.New("offer handler already started")
	}

	h.wg.Add(1)
	go h.messageWorker()

	return nil
}

// Stop shuts the handler down and waits for the worker to exit.
func (h *OfferHandler) Stop() error {
	if !atomic.CompareAndSwapInt32(&h.stopped, 0, 1) {
		return errors.New("offer handler already stopped")
	}

	close(h.quit)
	h.wg.Wait()

	return nil
}

// PayOffer requests an invoice for the offer described by params, pays it
// and blocks until the payment reaches a terminal state.
func (h *OfferHandler) PayOffer(ctx context.Context,
	params PayOfferParams) (*lnrpc.Payment, error) {

	invoice, validatedAmount, paymentID, err := h.GetInvoice(ctx, params)
	if err != nil {
		return nil, err
	}

	return h.PayInvoice(ctx, validatedAmount, invoice, paymentID)
}

// GetInvoice sends an invoice request for the offer described by params and
// waits for the offer creator to respond with an invoice. If this method
// returns an error after the payment ID was registered, the registration
// has been removed again; no entry outlives its owning call.
func (h *OfferHandler) GetInvoice(ctx context.Context,
	params PayOfferParams) (*lnwire.Invoice, uint64, lnwire.PaymentID,
	error) {

	request, paymentID, validatedAmount, msgCtx, err :=
		h.createInvoiceRequest(
			params.Offer, params.Network, params.Amount,
			params.PayerNote,
		)
	if err != nil {
		return nil, 0, paymentID, err
	}

	invoiceReady, err := h.registerPayment(paymentID)
	if err != nil {
		return nil, 0, paymentID, err
	}

	pending, err := h.buildSendInstructions(ctx, params, request, msgCtx)
	if err != nil {
		h.removeActivePayment(paymentID)
		return nil, 0, paymentID, err
	}

	h.enqueueMessage(pending)

	timeout := params.ResponseInvoiceTimeout
	if timeout == 0 {
		timeout = h.cfg.ResponseInvoiceTimeout
	}

	select {
	case <-invoiceReady:

	case <-h.cfg.Clock.TickAfter(timeout):
		// An invoice that arrived just as the timer fired may have
		// won the race without waking us, so check once more before
		// giving up.
		if invoice := h.fetchInvoice(paymentID); invoice != nil {
			return invoice, validatedAmount, paymentID, nil
		}

		log.Errorf("Did not receive invoice for payment %v in %v",
			paymentID, timeout)
		h.removeActivePayment(paymentID)

		return nil, 0, paymentID, &InvoiceTimeoutError{
			Timeout: timeout,
		}

	case <-ctx.Done():
		h.removeActivePayment(paymentID)
		return nil, 0, paymentID, ctx.Err()

	case <-h.quit:
		h.removeActivePayment(paymentID)
		return nil, 0, paymentID, ErrHandlerShutdown
	}

	invoice := h.fetchInvoice(paymentID)
	if invoice == nil {
		// The wake signal only fires after the invoice is stored, and
		// only the owning call removes the entry.
		h.removeActivePayment(paymentID)
		return nil, 0, paymentID, fmt.Errorf("invoice for payment "+
			"%v missing after wake", paymentID)
	}

	return invoice, validatedAmount, paymentID, nil
}

// PayInvoice dispatches payment of the invoice along its first payment path
// and blocks until the host node reports a terminal outcome. The payment ID
// is deregistered before returning, whatever the outcome.
func (h *OfferHandler) PayInvoice(ctx context.Context, amount uint64,
	invoice *lnwire.Invoice,
	paymentID lnwire.PaymentID) (*lnrpc.Payment, error) {

	if len(invoice.PaymentPaths) == 0 {
		h.removeActivePayment(paymentID)
		return nil, ErrNoInvoicePaths
	}

	path := invoice.PaymentPaths[0]

	introNode, err := ResolveIntroductionNode(
		ctx, h.cfg.ChannelLookup, path.IntroductionNode,
	)
	if err != nil {
		h.removeActivePayment(paymentID)
		return nil, err
	}

	log.Debugf("Attempting to pay invoice with introduction node %v",
		introNode)

	params := SendPaymentParams{
		Path:             path,
		IntroductionNode: introNode,
		CltvExpiryDelta:  path.PayInfo.CltvExpiryDelta,
		FeeBaseMsat:      path.PayInfo.FeeBaseMsat,
		FeePPM:           path.PayInfo.FeeProportionalMillionths,
		PaymentHash:      invoice.PaymentHash,
		AmountMsats:      amount,
		PaymentID:        paymentID,
	}

	if err := h.cfg.Dispatcher.SendPayment(ctx, params); err != nil {
		h.removeActivePayment(paymentID)
		return nil, err
	}

	h.markDispatched(paymentID)

	// Track the payment until it settles. The attempt is complete either
	// way, so the ledger entry goes regardless of the outcome.
	payment, err := h.cfg.Dispatcher.TrackPayment(
		ctx, invoice.PaymentHash,
	)
	h.removeActivePayment(paymentID)
	if err != nil {
		return nil, err
	}

	return payment, nil
}

// CreateOffer builds an offer advertising our payable terms. The returned
// context must be handed back by the transport with every invoice request
// arriving on the offer's paths.
func (h *OfferHandler) CreateOffer(ctx context.Context,
	params CreateOfferParams) (*lnwire.Offer, *InvoiceRequestContext,
	error) {

	return h.createOffer(ctx, params)
}

// CreateInvoice registers an inbound payment for the invoice request
// provided and returns the information an invoice for it is built from.
func (h *OfferHandler) CreateInvoice(ctx context.Context,
	request *lnwire.InvoiceRequest) (*InvoiceInfo, error) {

	if h.cfg.InvoiceCreator == nil {
		return nil, errors.New("no invoice creator configured")
	}

	return h.cfg.InvoiceCreator.CreateInvoiceInfo(ctx, request)
}

// HandleMessage is the protocol entry point invoked by the onion messaging
// transport for every inbound negotiation message. The message is only
// classified and queued here; verification, collaborator calls and ledger
// mutation happen on the handler's worker so the transport callback never
// blocks. Responses flow through the pending message queue, so the
// synchronous return is always nil.
func (h *OfferHandler) HandleMessage(msg lnwire.OffersMessage,
	msgCtx MessageContext, responder *Responder) *PendingMessage {

	select {
	case h.incomingMessages <- &incomingMessage{
		msg:       msg,
		msgCtx:    msgCtx,
		responder: responder,
	}:

	default:
		log.Warnf("Inbound message queue full, dropping %v message",
			msg.MsgType())
	}

	return nil
}

// ReleasePendingMessages atomically drains and returns all queued outbound
// messages, leaving the queue empty. Called by the transport on each send
// opportunity.
func (h *OfferHandler) ReleasePendingMessages() []*PendingMessage {
	h.pendingMessagesMtx.Lock()
	defer h.pendingMessagesMtx.Unlock()

	msgs := h.pendingMessages
	h.pendingMessages = nil

	return msgs
}

// messageWorker consumes inbound messages queued by HandleMessage.
func (h *OfferHandler) messageWorker() {
	defer h.wg.Done()

	for {
		select {
		case incoming := <-h.incomingMessages:
			h.processMessage(incoming)

		case <-h.quit:
			return
		}
	}
}

// processMessage dispatches a single inbound message by kind. Failures are
// contained per message: a bad message is dropped or answered with an
// invoice error, never allowed to disturb other ledger entries.
func (h *OfferHandler) processMessage(incoming *incomingMessage) {
	switch msg := incoming.msg.(type) {
	case *lnwire.InvoiceRequest:
		h.handleInvoiceRequest(msg, incoming.msgCtx,
			incoming.responder)

	case *lnwire.Invoice:
		h.handleInvoice(msg, incoming.msgCtx, incoming.responder)

	case *lnwire.InvoiceError:
		log.Errorf("Invoice error received: %v", msg.Message)

	default:
		log.Warnf("Ignoring unknown offers message type %T",
			incoming.msg)
	}
}

// handleInvoiceRequest answers an invoice request for one of our offers. A
// request that cannot be answered safely (no responder, no context, failed
// verification) is dropped without a response.
func (h *OfferHandler) handleInvoiceRequest(request *lnwire.InvoiceRequest,
	msgCtx MessageContext, responder *Responder) {

	if responder == nil {
		log.Debugf("Invoice request without responder, dropping")
		return
	}

	reqCtx, ok := msgCtx.(*InvoiceRequestContext)
	if !ok {
		log.Debugf("Invoice request without offer context, dropping")
		return
	}

	err := request.VerifyRecipientData(reqCtx.Nonce, h.expandedKey)
	if err != nil {
		log.Debugf("Invoice request verification failed: %v", err)
		return
	}

	if h.cfg.InvoiceCreator == nil {
		log.Errorf("No invoice creator configured, unable to " +
			"respond to invoice request")
		return
	}

	ctx := context.Background()

	invoiceInfo, err := h.cfg.InvoiceCreator.CreateInvoiceInfo(
		ctx, request,
	)
	if err != nil {
		log.Errorf("Error creating invoice: %v", err)
		h.enqueueMessage(&PendingMessage{
			Message: &lnwire.InvoiceError{
				Message: "unable to create invoice",
			},
			Instructions: responder.Respond(),
		})

		return
	}

	invoice, err := h.buildAndSignInvoice(request, invoiceInfo)
	if err != nil {
		log.Errorf("Error building invoice: %v", err)
		h.enqueueMessage(&PendingMessage{
			Message: &lnwire.InvoiceError{
				Message: "unable to build invoice",
			},
			Instructions: responder.Respond(),
		})

		return
	}

	// Hand out a fresh reply path bound to the payment hash, so later
	// messages about this payment can be authenticated.
	nonce := lnwire.NewNonce(h.cfg.Entropy)
	replyCtx := &InboundPaymentContext{
		PaymentHash: invoiceInfo.PaymentHash,
		Nonce:       nonce,
		HMAC: h.expandedKey.PaymentHashHMAC(
			invoiceInfo.PaymentHash, nonce,
		),
	}

	instructions := responder.Respond()
	if h.cfg.PathFactory != nil {
		replyPath, err := h.cfg.PathFactory.BuildReplyPath(ctx)
		if err != nil {
			log.Warnf("Unable to build reply path for invoice "+
				"response: %v", err)
		} else {
			instructions = responder.RespondWithReplyPath(
				replyPath, replyCtx,
			)
		}
	}

	log.Tracef("Responding with invoice for payment hash %v",
		invoiceInfo.PaymentHash)

	h.enqueueMessage(&PendingMessage{
		Message:      invoice,
		Instructions: instructions,
	})
}

// handleInvoice processes an invoice answering one of our earlier invoice
// requests.
func (h *OfferHandler) handleInvoice(invoice *lnwire.Invoice,
	msgCtx MessageContext, responder *Responder) {

	payCtx, ok := msgCtx.(*OutboundPaymentContext)
	if !ok {
		// Without an outbound payment context this is an invoice we
		// never solicited, or one whose attempt already resolved.
		log.Errorf("Received an invoice we did not solicit, ignoring")
		return
	}

	err := invoice.VerifyPayerData(
		payCtx.PaymentID, payCtx.Nonce, h.expandedKey,
	)
	if err != nil {
		log.Errorf("Invoice verification failed for payment %v: %v",
			payCtx.PaymentID, err)

		if responder != nil {
			h.enqueueMessage(&PendingMessage{
				Message: &lnwire.InvoiceError{
					Message: "invoice verification " +
						"failure",
				},
				Instructions: responder.Respond(),
			})
		}

		return
	}

	log.Infof("Successfully verified invoice for payment %v",
		payCtx.PaymentID)

	h.storeInvoice(payCtx.PaymentID, invoice)
}

// registerPayment atomically registers a new negotiation attempt, returning
// the channel that is closed once a matching invoice arrives. Registration
// fails if an attempt for the same identifier is already outstanding; the
// existing entry is never touched.
func (h *OfferHandler) registerPayment(
	paymentID lnwire.PaymentID) (chan struct{}, error) {

	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	if _, ok := h.activePayments[paymentID]; ok {
		return nil, &AlreadyProcessingError{PaymentID: paymentID}
	}

	invoiceReady := make(chan struct{})
	h.activePayments[paymentID] = &paymentInfo{
		state:        PaymentStateRequestCreated,
		invoiceReady: invoiceReady,
	}

	return invoiceReady, nil
}

// storeInvoice records a verified invoice against its payment ID and wakes
// the waiting negotiation. Only the first valid invoice per identifier is
// accepted; unknown identifiers and duplicates are dropped.
func (h *OfferHandler) storeInvoice(paymentID lnwire.PaymentID,
	invoice *lnwire.Invoice) {

	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	payment, ok := h.activePayments[paymentID]
	if !ok {
		// The attempt already completed or timed out; the sender did
		// nothing wrong, so there is nothing to answer.
		log.Errorf("Received an invoice for a payment we don't "+
			"recognize or already resolved: %v, ignoring",
			paymentID)
		return
	}

	if payment.invoice != nil {
		log.Errorf("Already received an invoice for payment %v, "+
			"ignoring duplicate", paymentID)
		return
	}

	payment.invoice = invoice
	payment.state = PaymentStateInvoiceReceived
	close(payment.invoiceReady)
}

// fetchInvoice returns the stored invoice for the payment ID, or nil if the
// entry is absent or no invoice has arrived.
func (h *OfferHandler) fetchInvoice(
	paymentID lnwire.PaymentID) *lnwire.Invoice {

	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	payment, ok := h.activePayments[paymentID]
	if !ok {
		return nil
	}

	return payment.invoice
}

// markDispatched transitions the payment to the dispatched state.
func (h *OfferHandler) markDispatched(paymentID lnwire.PaymentID) {
	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	if payment, ok := h.activePayments[paymentID]; ok {
		payment.state = PaymentStateDispatched
	}
}

// removeActivePayment removes the ledger entry for the payment ID. Safe to
// call for identifiers that were already removed.
func (h *OfferHandler) removeActivePayment(paymentID lnwire.PaymentID) {
	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	delete(h.activePayments, paymentID)
}

// numActivePayments returns the number of outstanding negotiation attempts.
func (h *OfferHandler) numActivePayments() int {
	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	return len(h.activePayments)
}

// paymentState looks up the state of an outstanding attempt.
func (h *OfferHandler) paymentState(
	paymentID lnwire.PaymentID) (PaymentState, bool) {

	h.activePaymentsMtx.Lock()
	defer h.activePaymentsMtx.Unlock()

	payment, ok := h.activePayments[paymentID]
	if !ok {
		return 0, false
	}

	return payment.state, true
}

// enqueueMessage appends a message to the pending outbound queue.
func (h *OfferHandler) enqueueMessage(msg *PendingMessage) {
	h.pendingMessagesMtx.Lock()
	defer h.pendingMessagesMtx.Unlock()

	h.pendingMessages = append(h.pendingMessages, msg)
}
