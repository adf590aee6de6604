package offers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testStartTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// fixedEntropy returns the same bytes on every call, forcing colliding
// payment identifiers.
type fixedEntropy struct {
	b byte
}

func (f fixedEntropy) GetSecureRandomBytes() [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = f.b
	}

	return out
}

// mockDispatcher mocks the host node's payment engine.
type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) SendPayment(ctx context.Context,
	params SendPaymentParams) error {

	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockDispatcher) TrackPayment(ctx context.Context,
	hash lntypes.Hash) (*lnrpc.Payment, error) {

	args := m.Called(ctx, hash)

	payment := args.Get(0)
	if payment == nil {
		return nil, args.Error(1)
	}

	return payment.(*lnrpc.Payment), args.Error(1)
}

// invoiceCreatorFunc adapts a function to the InvoiceCreator interface.
type invoiceCreatorFunc func(ctx context.Context,
	request *lnwire.InvoiceRequest) (*InvoiceInfo, error)

func (f invoiceCreatorFunc) CreateInvoiceInfo(ctx context.Context,
	request *lnwire.InvoiceRequest) (*InvoiceInfo, error) {

	return f(ctx, request)
}

// testHarness bundles a started handler with the hooks tests poke at.
type testHarness struct {
	handler    *OfferHandler
	clock      *clock.TestClock
	tickSignal chan time.Duration
	dispatcher *mockDispatcher
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	tickSignal := make(chan time.Duration, 1)
	testClock := clock.NewTestClockWithTickSignal(
		testStartTime, tickSignal,
	)

	dispatcher := &mockDispatcher{}

	cfg.Clock = testClock
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatcher
	}

	handler := NewOfferHandler(cfg)
	require.NoError(t, handler.Start())
	t.Cleanup(func() {
		require.NoError(t, handler.Stop())
	})

	return &testHarness{
		handler:    handler,
		clock:      testClock,
		tickSignal: tickSignal,
		dispatcher: dispatcher,
	}
}

// testOffer returns an offer payable on the regression network.
func testOffer(t *testing.T, amount uint64) *lnwire.Offer {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &lnwire.Offer{
		Chain:         *chaincfg.RegressionNetParams.GenesisHash,
		AmountMsats:   amount,
		Description:   "test offer",
		SigningPubkey: key.PubKey(),
	}
}

// testReplyPath returns a minimal single-hop reply path.
func testReplyPath(t *testing.T) *lnwire.BlindedMessagePath {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &lnwire.BlindedMessagePath{
		IntroductionNode: lnwire.IntroductionNode{
			NodeID: key.PubKey(),
		},
		BlindingPoint: key.PubKey(),
		Hops: []*lnwire.BlindedHop{
			{BlindedNode: key.PubKey()},
		},
	}
}

// testPaymentPath returns a blinded payment path whose introduction node is
// identified directly, so no graph lookup is needed to pay it.
func testPaymentPath(t *testing.T) *lnwire.BlindedPaymentPath {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return &lnwire.BlindedPaymentPath{
		IntroductionNode: lnwire.IntroductionNode{
			NodeID: key.PubKey(),
		},
		BlindingPoint: key.PubKey(),
		Hops: []*lnwire.BlindedHop{
			{BlindedNode: key.PubKey()},
		},
		PayInfo: lnwire.PayInfo{
			FeeBaseMsat:     1000,
			CltvExpiryDelta: 40,
		},
	}
}

// signedInvoice returns a validly signed invoice answering the request
// provided.
func signedInvoice(t *testing.T,
	request *lnwire.InvoiceRequest) *lnwire.Invoice {

	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	invoice := &lnwire.Invoice{
		Chain:         request.Chain,
		PayerMetadata: request.PayerMetadata,
		PaymentHash:   lntypes.Hash{1, 2, 3},
		AmountMsats:   request.AmountMsats,
		CreatedAt:     testStartTime,
		PaymentPaths: []*lnwire.BlindedPaymentPath{
			testPaymentPath(t),
		},
		SigningPubkey: key.PubKey(),
	}

	digest := invoice.SignatureDigest()
	sig, err := schnorr.Sign(key, digest[:])
	require.NoError(t, err)

	var sigBytes [64]byte
	copy(sigBytes[:], sig.Serialize())
	invoice.Signature = &sigBytes

	return invoice
}

// payOfferParams returns pay-offer parameters that pass request creation.
func payOfferParams(t *testing.T, offer *lnwire.Offer) PayOfferParams {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return PayOfferParams{
		Offer:   offer,
		Network: &chaincfg.RegressionNetParams,
		Destination: Destination{
			NodeID: key.PubKey(),
		},
		ReplyPath: testReplyPath(t),
	}
}

// releaseRequest waits for the handler to queue an outbound message and
// returns it.
func releaseRequest(t *testing.T, h *OfferHandler) *PendingMessage {
	t.Helper()

	var released []*PendingMessage
	require.Eventually(t, func() bool {
		released = h.ReleasePendingMessages()
		return len(released) != 0
	}, time.Second*5, time.Millisecond*10)

	require.Len(t, released, 1)

	return released[0]
}

// TestGetInvoiceSuccess drives a full invoice request round trip: the
// request is queued for sending, an invoice answering it arrives through
// the message callback, and the waiting call returns it.
func TestGetInvoiceSuccess(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	type result struct {
		invoice *lnwire.Invoice
		amount  uint64
		err     error
	}
	resultChan := make(chan result, 1)

	go func() {
		invoice, amount, _, err := handler.GetInvoice(
			context.Background(), payOfferParams(
				t, testOffer(t, 5000),
			),
		)
		resultChan <- result{
			invoice: invoice,
			amount:  amount,
			err:     err,
		}
	}()

	pending := releaseRequest(t, handler)

	request, ok := pending.Message.(*lnwire.InvoiceRequest)
	require.True(t, ok)
	require.NotNil(t, pending.Instructions.ReplyPath)

	// Deliver the invoice with the context the transport would hand
	// back for a reply on our path.
	handler.HandleMessage(
		signedInvoice(t, request),
		pending.Instructions.ReplyContext, nil,
	)

	res := <-resultChan
	require.NoError(t, res.err)
	require.NotNil(t, res.invoice)
	require.EqualValues(t, 5000, res.amount)

	// The invoice is in hand but the attempt is still live, to be
	// resolved by payment.
	require.Equal(t, 1, handler.numActivePayments())
}

// TestGetInvoiceTimeout asserts that an attempt nobody answers fails with a
// timeout and leaves no trace behind.
func TestGetInvoiceTimeout(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	errChan := make(chan error, 1)
	go func() {
		_, _, _, err := handler.GetInvoice(
			context.Background(), payOfferParams(
				t, testOffer(t, 5000),
			),
		)
		errChan <- err
	}()

	// Wait for the call to start its timeout timer, then fire it.
	timeout := <-harness.tickSignal
	require.Equal(t, DefaultResponseInvoiceTimeout, timeout)
	harness.clock.SetTime(testStartTime.Add(timeout))

	err := <-errChan

	var timeoutErr *InvoiceTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, DefaultResponseInvoiceTimeout, timeoutErr.Timeout)

	require.Equal(t, 0, handler.numActivePayments())
}

// TestGetInvoiceContextCanceled asserts that caller cancelation deregisters
// the attempt.
func TestGetInvoiceContextCanceled(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() {
		_, _, _, err := handler.GetInvoice(
			ctx, payOfferParams(t, testOffer(t, 5000)),
		)
		errChan <- err
	}()

	<-harness.tickSignal
	cancel()

	require.ErrorIs(t, <-errChan, context.Canceled)
	require.Equal(t, 0, handler.numActivePayments())
}

// TestGetInvoiceAlreadyProcessing asserts that colliding payment
// identifiers admit exactly one attempt and leave the winner's ledger entry
// untouched.
func TestGetInvoiceAlreadyProcessing(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{
		Entropy: fixedEntropy{b: 9},
	})
	handler := harness.handler

	errChan := make(chan error, 1)
	go func() {
		_, _, _, err := handler.GetInvoice(
			context.Background(), payOfferParams(
				t, testOffer(t, 5000),
			),
		)
		errChan <- err
	}()

	// Wait until the first attempt holds its registration.
	<-harness.tickSignal

	_, _, _, err := handler.GetInvoice(
		context.Background(), payOfferParams(t, testOffer(t, 5000)),
	)

	var alreadyErr *AlreadyProcessingError
	require.ErrorAs(t, err, &alreadyErr)

	// The loser must not have disturbed the winner's entry.
	require.Equal(t, 1, handler.numActivePayments())

	harness.clock.SetTime(
		testStartTime.Add(DefaultResponseInvoiceTimeout),
	)
	<-errChan
}

// TestGetInvoiceValidationFailures asserts that attempts rejected before
// registration leave the ledger empty.
func TestGetInvoiceValidationFailures(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler
	ctx := context.Background()

	// Open amount offer with no amount supplied.
	_, _, _, err := handler.GetInvoice(
		ctx, payOfferParams(t, testOffer(t, 0)),
	)
	require.ErrorIs(t, err, ErrNoAmount)

	// Amount lower than the offer demands.
	params := payOfferParams(t, testOffer(t, 5000))
	params.Amount = fn.Some[uint64](100)
	_, _, _, err = handler.GetInvoice(ctx, params)
	require.ErrorIs(t, err, ErrAmountLessThanOffer)

	// Offer on a different chain than ours.
	offer := testOffer(t, 5000)
	offer.Chain = *chaincfg.MainNetParams.GenesisHash
	_, _, _, err = handler.GetInvoice(ctx, payOfferParams(t, offer))
	require.ErrorIs(t, err, ErrUnsupportedChain)

	// Expired offer.
	offer = testOffer(t, 5000)
	offer.AbsoluteExpiry = testStartTime.Add(-time.Hour)
	_, _, _, err = handler.GetInvoice(ctx, payOfferParams(t, offer))
	require.ErrorIs(t, err, ErrOfferExpired)

	// No reply path and no factory to build one.
	params = payOfferParams(t, testOffer(t, 5000))
	params.ReplyPath = nil
	_, _, _, err = handler.GetInvoice(ctx, params)
	require.ErrorIs(t, err, ErrNoReplyPath)

	require.Equal(t, 0, handler.numActivePayments())
}

// TestPayInvoice exercises payment dispatch and the ledger cleanup that
// must follow it whatever the outcome.
func TestPayInvoice(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("dispatch failed")
	trackErr := errors.New("payment failed")

	successPayment := &lnrpc.Payment{
		Status: lnrpc.Payment_SUCCEEDED,
	}

	tests := []struct {
		name        string
		sendErr     error
		trackResult *lnrpc.Payment
		trackErr    error
		expectedErr error
	}{
		{
			name:        "payment succeeds",
			trackResult: successPayment,
		},
		{
			name:        "dispatch fails",
			sendErr:     sendErr,
			expectedErr: sendErr,
		},
		{
			name:        "settlement fails",
			trackErr:    trackErr,
			expectedErr: trackErr,
		},
	}

	for _, testCase := range tests {
		testCase := testCase

		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			harness := newTestHarness(t, Config{})
			handler := harness.handler

			invoice := signedInvoice(t, &lnwire.InvoiceRequest{
				Chain:       *chaincfg.RegressionNetParams.GenesisHash,
				AmountMsats: 5000,
			})

			paymentID := lnwire.NewPaymentID(
				lnwire.CryptoEntropy{},
			)
			_, err := handler.registerPayment(paymentID)
			require.NoError(t, err)

			harness.dispatcher.On(
				"SendPayment", mock.Anything, mock.Anything,
			).Return(testCase.sendErr)

			if testCase.sendErr == nil {
				harness.dispatcher.On(
					"TrackPayment", mock.Anything,
					invoice.PaymentHash,
				).Return(
					testCase.trackResult,
					testCase.trackErr,
				)
			}

			payment, err := handler.PayInvoice(
				context.Background(), 5000, invoice,
				paymentID,
			)

			if testCase.expectedErr != nil {
				require.ErrorIs(t, err, testCase.expectedErr)
			} else {
				require.NoError(t, err)
				require.Equal(
					t, testCase.trackResult, payment,
				)
			}

			// Terminal outcomes always clear the attempt.
			require.Equal(t, 0, handler.numActivePayments())
		})
	}
}

// TestPayInvoiceNoPaths asserts that an invoice without payment paths is
// rejected and the attempt cleared.
func TestPayInvoiceNoPaths(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	invoice := signedInvoice(t, &lnwire.InvoiceRequest{
		Chain: *chaincfg.RegressionNetParams.GenesisHash,
	})
	invoice.PaymentPaths = nil

	paymentID := lnwire.NewPaymentID(lnwire.CryptoEntropy{})
	_, err := handler.registerPayment(paymentID)
	require.NoError(t, err)

	_, err = handler.PayInvoice(
		context.Background(), 5000, invoice, paymentID,
	)
	require.ErrorIs(t, err, ErrNoInvoicePaths)
	require.Equal(t, 0, handler.numActivePayments())
}

// TestStoreInvoiceFirstWins asserts that only the first invoice per attempt
// is accepted and that invoices for unknown attempts are dropped.
func TestStoreInvoiceFirstWins(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	paymentID := lnwire.NewPaymentID(lnwire.CryptoEntropy{})
	ready, err := handler.registerPayment(paymentID)
	require.NoError(t, err)

	first := signedInvoice(t, &lnwire.InvoiceRequest{})
	second := signedInvoice(t, &lnwire.InvoiceRequest{})

	handler.storeInvoice(paymentID, first)

	// The wake signal fired and the invoice is in place.
	select {
	case <-ready:
	default:
		t.Fatal("invoice arrival did not wake the waiter")
	}

	// A duplicate must not displace the stored invoice.
	handler.storeInvoice(paymentID, second)
	require.Equal(t, first, handler.fetchInvoice(paymentID))

	state, ok := handler.paymentState(paymentID)
	require.True(t, ok)
	require.Equal(t, PaymentStateInvoiceReceived, state)

	// Invoices for attempts we no longer track are ignored.
	unknown := lnwire.NewPaymentID(lnwire.CryptoEntropy{})
	handler.storeInvoice(unknown, first)
	require.Nil(t, handler.fetchInvoice(unknown))
	require.Equal(t, 1, handler.numActivePayments())
}

// TestHandleInvoiceVerification covers invoice arrival through the worker:
// a verified invoice wakes the attempt, a bad one draws an invoice error on
// the counterparty's response path.
func TestHandleInvoiceVerification(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	// An invoice with no payment context was never solicited.
	handler.handleInvoice(
		signedInvoice(t, &lnwire.InvoiceRequest{}), nil, nil,
	)
	require.Empty(t, handler.ReleasePendingMessages())

	// An invoice whose metadata does not match our binding draws an
	// invoice error when it can be answered.
	badCtx := &OutboundPaymentContext{
		PaymentID: lnwire.NewPaymentID(lnwire.CryptoEntropy{}),
		Nonce:     lnwire.NewNonce(lnwire.CryptoEntropy{}),
	}
	responder := NewResponder(testReplyPath(t))

	handler.handleInvoice(
		signedInvoice(t, &lnwire.InvoiceRequest{}), badCtx, responder,
	)

	released := handler.ReleasePendingMessages()
	require.Len(t, released, 1)

	invoiceErr, ok := released[0].Message.(*lnwire.InvoiceError)
	require.True(t, ok)
	require.NotEmpty(t, invoiceErr.Message)
	require.NotNil(t, released[0].Instructions.ResponsePath)

	// Without a responder the failure is only logged.
	handler.handleInvoice(
		signedInvoice(t, &lnwire.InvoiceRequest{}), badCtx, nil,
	)
	require.Empty(t, handler.ReleasePendingMessages())
}

// TestHandleInvoiceRequest covers answering invoice requests for offers we
// created.
func TestHandleInvoiceRequest(t *testing.T) {
	t.Parallel()

	paymentHash := lntypes.Hash{4, 5, 6}

	newHarness := func(t *testing.T,
		creator InvoiceCreator) *testHarness {

		return newTestHarness(t, Config{
			InvoiceCreator: creator,
			Entropy:        lnwire.CryptoEntropy{},
		})
	}

	creatorFor := func(t *testing.T) invoiceCreatorFunc {
		return func(_ context.Context,
			_ *lnwire.InvoiceRequest) (*InvoiceInfo, error) {

			return &InvoiceInfo{
				PaymentHash: paymentHash,
				PaymentPaths: []*lnwire.BlindedPaymentPath{
					testPaymentPath(t),
				},
			}, nil
		}
	}

	// requestFor builds a signed invoice request answering one of the
	// harness handler's own offers, the way a remote payer would.
	requestFor := func(t *testing.T, handler *OfferHandler) (
		*lnwire.InvoiceRequest, *InvoiceRequestContext) {

		offer, reqCtx, err := handler.CreateOffer(
			context.Background(), CreateOfferParams{
				AmountMsats: 7000,
				Network:     &chaincfg.RegressionNetParams,
				Description: "coffee",
			},
		)
		require.NoError(t, err)

		payerKey, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		request := &lnwire.InvoiceRequest{
			Chain:         offer.Chain,
			OfferID:       offer.ID(),
			OfferMetadata: offer.Metadata,
			AmountMsats:   7000,
			Quantity:      1,
			PayerKey:      payerKey.PubKey(),
		}

		digest := request.SignatureDigest()
		sig, err := schnorr.Sign(payerKey, digest[:])
		require.NoError(t, err)

		var sigBytes [64]byte
		copy(sigBytes[:], sig.Serialize())
		request.Signature = &sigBytes

		return request, reqCtx
	}

	t.Run("responds with signed invoice", func(t *testing.T) {
		t.Parallel()

		harness := newHarness(t, creatorFor(t))
		request, reqCtx := requestFor(t, harness.handler)

		harness.handler.handleInvoiceRequest(
			request, reqCtx, NewResponder(testReplyPath(t)),
		)

		released := harness.handler.ReleasePendingMessages()
		require.Len(t, released, 1)

		invoice, ok := released[0].Message.(*lnwire.Invoice)
		require.True(t, ok)
		require.NoError(t, invoice.Validate())
		require.Equal(t, paymentHash, invoice.PaymentHash)
		require.Equal(
			t, request.PayerMetadata, invoice.PayerMetadata,
		)
		require.NotNil(t, released[0].Instructions.ResponsePath)
	})

	t.Run("creator failure draws invoice error", func(t *testing.T) {
		t.Parallel()

		harness := newHarness(
			t, invoiceCreatorFunc(func(_ context.Context,
				_ *lnwire.InvoiceRequest) (*InvoiceInfo,
				error) {

				return nil, errors.New("no invoice for you")
			}),
		)
		request, reqCtx := requestFor(t, harness.handler)

		harness.handler.handleInvoiceRequest(
			request, reqCtx, NewResponder(testReplyPath(t)),
		)

		released := harness.handler.ReleasePendingMessages()
		require.Len(t, released, 1)
		require.IsType(
			t, &lnwire.InvoiceError{}, released[0].Message,
		)
	})

	t.Run("foreign metadata is dropped", func(t *testing.T) {
		t.Parallel()

		harness := newHarness(t, creatorFor(t))
		request, _ := requestFor(t, harness.handler)

		// A nonce we never issued fails the metadata binding.
		foreignCtx := &InvoiceRequestContext{
			Nonce: lnwire.NewNonce(lnwire.CryptoEntropy{}),
		}

		harness.handler.handleInvoiceRequest(
			request, foreignCtx, NewResponder(testReplyPath(t)),
		)
		require.Empty(t, harness.handler.ReleasePendingMessages())
	})

	t.Run("no responder means no answer", func(t *testing.T) {
		t.Parallel()

		harness := newHarness(t, creatorFor(t))
		request, reqCtx := requestFor(t, harness.handler)

		harness.handler.handleInvoiceRequest(request, reqCtx, nil)
		require.Empty(t, harness.handler.ReleasePendingMessages())
	})
}

// TestHandleMessageQueueFull asserts that the transport callback never
// blocks, even against a stopped worker.
func TestHandleMessageQueueFull(t *testing.T) {
	t.Parallel()

	// Not started, so nothing drains the queue.
	handler := NewOfferHandler(Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)

		for i := 0; i < inboundQueueSize+10; i++ {
			handler.HandleMessage(
				&lnwire.InvoiceError{Message: "spam"}, nil,
				nil,
			)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("message callback blocked on a full queue")
	}

	require.Len(t, handler.incomingMessages, inboundQueueSize)
}

// TestPayOffer drives the combined negotiate-and-pay flow end to end.
func TestPayOffer(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	successPayment := &lnrpc.Payment{
		Status: lnrpc.Payment_SUCCEEDED,
	}

	harness.dispatcher.On(
		"SendPayment", mock.Anything, mock.Anything,
	).Return(nil)
	harness.dispatcher.On(
		"TrackPayment", mock.Anything, mock.Anything,
	).Return(successPayment, nil)

	resultChan := make(chan error, 1)
	go func() {
		payment, err := handler.PayOffer(
			context.Background(), payOfferParams(
				t, testOffer(t, 5000),
			),
		)
		if err == nil && payment.Status != lnrpc.Payment_SUCCEEDED {
			err = errors.New("unexpected payment status")
		}
		resultChan <- err
	}()

	pending := releaseRequest(t, handler)
	request := pending.Message.(*lnwire.InvoiceRequest)

	handler.HandleMessage(
		signedInvoice(t, request),
		pending.Instructions.ReplyContext, nil,
	)

	require.NoError(t, <-resultChan)
	require.Equal(t, 0, handler.numActivePayments())

	harness.dispatcher.AssertExpectations(t)
}

// TestPayOfferConcurrent runs several pay-offer flows at once and checks
// that each waiter receives the invoice answering its own request.
func TestPayOfferConcurrent(t *testing.T) {
	t.Parallel()

	harness := newTestHarness(t, Config{})
	handler := harness.handler

	successPayment := &lnrpc.Payment{
		Status: lnrpc.Payment_SUCCEEDED,
	}

	harness.dispatcher.On(
		"SendPayment", mock.Anything, mock.Anything,
	).Return(nil)
	harness.dispatcher.On(
		"TrackPayment", mock.Anything, mock.Anything,
	).Return(successPayment, nil)

	const flows = 3

	resultChan := make(chan error, flows)
	for i := 0; i < flows; i++ {
		go func() {
			_, err := handler.PayOffer(
				context.Background(), payOfferParams(
					t, testOffer(t, 5000),
				),
			)
			resultChan <- err
		}()
	}

	// Each flow arms its timeout after queueing its request, so once
	// all tick signals have fired every request is in flight.
	for i := 0; i < flows; i++ {
		<-harness.tickSignal
	}
	require.Equal(t, flows, handler.numActivePayments())

	var pending []*PendingMessage
	require.Eventually(t, func() bool {
		pending = append(
			pending, handler.ReleasePendingMessages()...,
		)
		return len(pending) == flows
	}, time.Second*5, time.Millisecond*10)

	for _, msg := range pending {
		request := msg.Message.(*lnwire.InvoiceRequest)
		handler.HandleMessage(
			signedInvoice(t, request),
			msg.Instructions.ReplyContext, nil,
		)
	}

	for i := 0; i < flows; i++ {
		require.NoError(t, <-resultChan)
	}
	require.Equal(t, 0, handler.numActivePayments())
}

// TestReleasePendingMessagesConcurrent asserts that concurrent producers
// and a draining consumer never lose or duplicate a message.
func TestReleasePendingMessagesConcurrent(t *testing.T) {
	t.Parallel()

	handler := NewOfferHandler(Config{})

	const producers = 4
	const perProducer = 50

	done := make(chan struct{})
	for i := 0; i < producers; i++ {
		go func() {
			for j := 0; j < perProducer; j++ {
				handler.enqueueMessage(&PendingMessage{
					Message: &lnwire.InvoiceError{},
				})
			}
			done <- struct{}{}
		}()
	}

	var total int
	finished := 0
	for finished < producers {
		select {
		case <-done:
			finished++
		default:
			total += len(handler.ReleasePendingMessages())
		}
	}
	total += len(handler.ReleasePendingMessages())

	require.Equal(t, producers*perProducer, total)
	require.Empty(t, handler.ReleasePendingMessages())
}
