package lnd

import (
	"context"
	"errors"
	"fmt"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/a-mpch/lndk/offers"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrNoRoute is returned when the node cannot find a route along the
	// invoice's payment path.
	ErrNoRoute = errors.New("no route to destination")

	// ErrPaymentFailed is returned when a dispatched payment reaches a
	// terminal failure.
	ErrPaymentFailed = errors.New("payment failed")
)

// feeLimitMsat returns the fee budget for a payment of the amount provided
// over a path with the aggregate relay parameters given. The path's own
// fees are the floor; anything beyond that is routing budget to reach the
// introduction node.
func feeLimitMsat(amountMsats uint64, payInfo lnwire.PayInfo) int64 {
	pathFee := uint64(payInfo.FeeBaseMsat) +
		amountMsats*uint64(payInfo.FeeProportionalMillionths)/1_000_000

	// Add one percent of the amount for the hops in front of the
	// introduction node, with a floor for tiny payments.
	budget := pathFee + amountMsats/100
	if budget < 1_000 {
		budget = 1_000
	}

	return int64(budget)
}

// marshalBlindedPaymentPath converts a payment path and its resolved
// introduction node to the rpc representation the router consumes.
func marshalBlindedPaymentPath(path *lnwire.BlindedPaymentPath,
	introNode []byte) *lnrpc.BlindedPaymentPath {

	hops := make([]*lnrpc.BlindedHop, len(path.Hops))
	for i, hop := range path.Hops {
		hops[i] = &lnrpc.BlindedHop{
			BlindedNode:   hop.BlindedNode.SerializeCompressed(),
			EncryptedData: hop.EncryptedData,
		}
	}

	var blindingPoint []byte
	if path.BlindingPoint != nil {
		blindingPoint = path.BlindingPoint.SerializeCompressed()
	}

	return &lnrpc.BlindedPaymentPath{
		BlindedPath: &lnrpc.BlindedPath{
			IntroductionNode: introNode,
			BlindingPoint:    blindingPoint,
			BlindedHops:      hops,
		},
		BaseFeeMsat:         uint64(path.PayInfo.FeeBaseMsat),
		ProportionalFeeRate: path.PayInfo.FeeProportionalMillionths,
		TotalCltvDelta:      uint32(path.PayInfo.CltvExpiryDelta),
		HtlcMinMsat:         path.PayInfo.HTLCMinimumMsat,
		HtlcMaxMsat:         path.PayInfo.HTLCMaximumMsat,
	}
}

// SendPayment queries a route along the invoice's blinded payment path and
// dispatches the payment over it.
func (c *Client) SendPayment(ctx context.Context,
	params offers.SendPaymentParams) error {

	blindedPath := marshalBlindedPaymentPath(
		params.Path, params.IntroductionNode[:],
	)

	routes, err := c.ln.QueryRoutes(ctx, &lnrpc.QueryRoutesRequest{
		AmtMsat: int64(params.AmountMsats),
		FeeLimit: &lnrpc.FeeLimit{
			Limit: &lnrpc.FeeLimit_FixedMsat{
				FixedMsat: feeLimitMsat(
					params.AmountMsats, params.Path.PayInfo,
				),
			},
		},
		BlindedPaymentPaths: []*lnrpc.BlindedPaymentPath{
			blindedPath,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoRoute, err)
	}

	if len(routes.Routes) == 0 {
		return ErrNoRoute
	}

	log.Debugf("Dispatching payment %v of %v msat over %d hops",
		params.PaymentID, params.AmountMsats,
		len(routes.Routes[0].Hops))

	attempt, err := c.router.SendToRouteV2(
		ctx, &routerrpc.SendToRouteRequest{
			PaymentHash: params.PaymentHash[:],
			Route:       routes.Routes[0],
		},
	)
	if err != nil {
		return fmt.Errorf("unable to send to route: %w", err)
	}

	if attempt.Status == lnrpc.HTLCAttempt_FAILED {
		return fmt.Errorf("%w: attempt failed with %v",
			ErrPaymentFailed, attempt.Failure.GetCode())
	}

	return nil
}

// TrackPayment blocks until the payment identified by hash reaches a
// terminal state.
func (c *Client) TrackPayment(ctx context.Context,
	hash lntypes.Hash) (*lnrpc.Payment, error) {

	stream, err := c.router.TrackPaymentV2(
		ctx, &routerrpc.TrackPaymentRequest{
			PaymentHash:       hash[:],
			NoInflightUpdates: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to track payment: %w", err)
	}

	for {
		payment, err := stream.Recv()
		if err != nil {
			return nil, fmt.Errorf("payment stream for %v "+
				"failed: %w", hash, err)
		}

		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED:
			return payment, nil

		case lnrpc.Payment_FAILED:
			return nil, fmt.Errorf("%w: %v", ErrPaymentFailed,
				payment.FailureReason)
		}
	}
}
