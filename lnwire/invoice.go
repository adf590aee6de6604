package lnwire

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Invoice is a signed, time-bounded payment instruction produced in answer
// to an invoice request.
type Invoice struct {
	// Chain is the genesis hash of the chain the invoice is payable on.
	Chain chainhash.Hash

	// PayerMetadata is the payer metadata of the originating invoice
	// request, echoed back so the payer can match the invoice to the
	// attempt that solicited it.
	PayerMetadata [32]byte

	// PaymentHash is the hash the payment must settle against.
	PaymentHash lntypes.Hash

	// AmountMsats is the invoiced amount in millisatoshis.
	AmountMsats uint64

	// Description is the description inherited from the offer.
	Description string

	// CreatedAt is the time the invoice was created.
	CreatedAt time.Time

	// RelativeExpiry is how long past CreatedAt the invoice remains
	// payable.
	RelativeExpiry time.Duration

	// PaymentPaths are the blinded paths the payment can be dispatched
	// over. At least one path is required.
	PaymentPaths []*BlindedPaymentPath

	// SigningPubkey is the key the invoice is signed with.
	SigningPubkey *btcec.PublicKey

	// Signature is the schnorr signature over SignatureDigest.
	Signature *[64]byte
}

// SignatureDigest returns the message digest the invoice signature commits
// to.
func (i *Invoice) SignatureDigest() [32]byte {
	h := sha256.New()
	h.Write([]byte("lndk invoice"))
	h.Write(i.Chain[:])
	h.Write(i.PayerMetadata[:])
	h.Write(i.PaymentHash[:])

	var amount [8]byte
	binary.BigEndian.PutUint64(amount[:], i.AmountMsats)
	h.Write(amount[:])

	h.Write([]byte(i.Description))

	var createdAt [8]byte
	binary.BigEndian.PutUint64(createdAt[:], uint64(i.CreatedAt.Unix()))
	h.Write(createdAt[:])

	if i.SigningPubkey != nil {
		h.Write(i.SigningPubkey.SerializeCompressed())
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))

	return digest
}

// Validate checks that the invoice is well formed and carries a valid
// signature by its signing key.
func (i *Invoice) Validate() error {
	if i.SigningPubkey == nil {
		return fmt.Errorf("%w: signing key", ErrPayerKeyRequired)
	}

	if i.Signature == nil {
		return ErrSignatureRequired
	}

	sig, err := schnorr.ParseSignature(i.Signature[:])
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}

	digest := i.SignatureDigest()
	if !sig.Verify(digest[:], i.SigningPubkey) {
		return ErrInvalidSignature
	}

	return nil
}

// VerifyPayerData checks that the invoice answers an invoice request we
// created for the payment ID and nonce provided: the invoice must be
// validly signed and its echoed payer metadata must match the binding
// derived from our expanded key.
func (i *Invoice) VerifyPayerData(id PaymentID, nonce Nonce,
	key ExpandedKey) error {

	if err := i.Validate(); err != nil {
		return err
	}

	return key.VerifyPayerMetadata(i.PayerMetadata, id, nonce)
}

// InvoiceError is a protocol-level error message sent in response to an
// invoice request or invoice that could not be processed.
type InvoiceError struct {
	// Message is a human readable description of the failure.
	Message string
}
