package lnd

import (
	"context"
	"fmt"

	"github.com/a-mpch/lndk/lnwire"
	"github.com/a-mpch/lndk/offers"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lntypes"
)

// CreateInvoiceInfo registers an inbound payment with the node for the
// invoice request provided and returns the payment hash and payment paths
// an invoice is issued from.
func (c *Client) CreateInvoiceInfo(ctx context.Context,
	request *lnwire.InvoiceRequest) (*offers.InvoiceInfo, error) {

	memo := request.PayerNote
	if memo == "" {
		memo = "offer payment"
	}

	resp, err := c.ln.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:      memo,
		ValueMsat: int64(request.AmountMsats),
		Private:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to add invoice: %w", err)
	}

	hash, err := lntypes.MakeHash(resp.RHash)
	if err != nil {
		return nil, fmt.Errorf("malformed payment hash: %w", err)
	}

	log.Debugf("Registered inbound payment with hash %v", hash)

	// Advertise a degenerate path with our own node as the introduction
	// point, so payers route to us directly.
	return &offers.InvoiceInfo{
		PaymentHash: hash,
		PaymentPaths: []*lnwire.BlindedPaymentPath{
			{
				IntroductionNode: lnwire.IntroductionNode{
					NodeID: c.nodeID,
				},
			},
		},
	}, nil
}
