package lnwire

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// ErrPayerKeyRequired is returned when an invoice request does not
	// carry the required payer key.
	ErrPayerKeyRequired = errors.New("payer key required")

	// ErrSignatureRequired is returned when a message that must be
	// signed is missing its signature.
	ErrSignatureRequired = errors.New("signature required")

	// ErrInvalidSignature is returned when a message signature does not
	// verify against its digest.
	ErrInvalidSignature = errors.New("invalid signature")
)

// InvoiceRequest asks the creator of an offer to produce a one-time invoice
// for it.
type InvoiceRequest struct {
	// Chain is the genesis hash of the chain payment is requested on.
	Chain chainhash.Hash

	// OfferID identifies the offer the request is for.
	OfferID [32]byte

	// OfferMetadata is the metadata of the quoted offer, echoed back so
	// that the offer creator can verify the request answers one of its
	// own offers.
	OfferMetadata [32]byte

	// AmountMsats is the amount the request is for, in millisatoshis.
	AmountMsats uint64

	// Quantity is the number of items the request is for.
	Quantity uint64

	// PayerKey is the key the paying party signs the request with,
	// providing it with proof of payment.
	PayerKey *btcec.PublicKey

	// PayerNote is an optional note from the paying party.
	PayerNote string

	// PayerMetadata commits to the payment ID and nonce the request was
	// created under. Opaque to the recipient, echoed back in the
	// invoice.
	PayerMetadata [32]byte

	// Signature is the payer's schnorr signature over SignatureDigest.
	Signature *[64]byte
}

// SignatureDigest returns the message digest the request signature commits
// to.
func (r *InvoiceRequest) SignatureDigest() [32]byte {
	h := sha256.New()
	h.Write([]byte("lndk invoice request"))
	h.Write(r.Chain[:])
	h.Write(r.OfferID[:])
	h.Write(r.OfferMetadata[:])

	var amount [8]byte
	binary.BigEndian.PutUint64(amount[:], r.AmountMsats)
	h.Write(amount[:])

	var quantity [8]byte
	binary.BigEndian.PutUint64(quantity[:], r.Quantity)
	h.Write(quantity[:])

	if r.PayerKey != nil {
		h.Write(r.PayerKey.SerializeCompressed())
	}

	h.Write([]byte(r.PayerNote))
	h.Write(r.PayerMetadata[:])

	var digest [32]byte
	copy(digest[:], h.Sum(nil))

	return digest
}

// Validate checks that the request is well formed and carries a valid
// signature by the payer key.
func (r *InvoiceRequest) Validate() error {
	if r.PayerKey == nil {
		return ErrPayerKeyRequired
	}

	if r.Signature == nil {
		return ErrSignatureRequired
	}

	sig, err := schnorr.ParseSignature(r.Signature[:])
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}

	digest := r.SignatureDigest()
	if !sig.Verify(digest[:], r.PayerKey) {
		return ErrInvalidSignature
	}

	return nil
}

// VerifyRecipientData checks that the request answers an offer we created
// under the nonce provided: the request must be validly signed and its
// echoed offer metadata must match the binding derived from our expanded
// key.
func (r *InvoiceRequest) VerifyRecipientData(nonce Nonce,
	key ExpandedKey) error {

	if err := r.Validate(); err != nil {
		return err
	}

	return key.VerifyOfferMetadata(r.OfferMetadata, nonce)
}
