package lnwire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// PaymentIDSize is the size of a payment identifier in bytes.
	PaymentIDSize = 32

	// NonceSize is the size of a message nonce in bytes.
	NonceSize = 16

	// ExpandedKeySize is the size of an expanded signing key seed in
	// bytes.
	ExpandedKeySize = 32
)

var (
	// ErrInvalidMetadata is returned when a metadata binding does not
	// match the values it claims to commit to.
	ErrInvalidMetadata = errors.New("metadata binding mismatch")
)

// PaymentID uniquely identifies a single payment negotiation attempt. It is
// committed to in the payer metadata of an outgoing invoice request so that
// the invoice sent back to us can be matched to the attempt that solicited
// it.
type PaymentID [PaymentIDSize]byte

// String returns the hex encoding of the payment ID.
func (p PaymentID) String() string {
	return hex.EncodeToString(p[:])
}

// Nonce is single-use entropy bound into a message so that responses can be
// tied to the context that the original message was created under.
type Nonce [NonceSize]byte

// EntropySource provides cryptographically secure random bytes.
type EntropySource interface {
	// GetSecureRandomBytes returns 32 bytes of secure random data.
	GetSecureRandomBytes() [32]byte
}

// CryptoEntropy is an EntropySource backed by crypto/rand.
type CryptoEntropy struct{}

// GetSecureRandomBytes returns 32 bytes read from crypto/rand.
func (CryptoEntropy) GetSecureRandomBytes() [32]byte {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// A failed read from the system entropy source is not
		// recoverable.
		panic(fmt.Sprintf("unable to read random bytes: %v", err))
	}

	return b
}

// NewPaymentID produces a fresh payment identifier from the entropy source
// provided.
func NewPaymentID(entropy EntropySource) PaymentID {
	return PaymentID(entropy.GetSecureRandomBytes())
}

// NewNonce produces a fresh nonce from the entropy source provided.
func NewNonce(entropy EntropySource) Nonce {
	var nonce Nonce
	random := entropy.GetSecureRandomBytes()
	copy(nonce[:], random[:NonceSize])

	return nonce
}

// ExpandedKey is the expansion of a node's signing seed that is used to
// create and verify the metadata bindings carried by offers, invoice
// requests and invoices.
type ExpandedKey [ExpandedKeySize]byte

// NewExpandedKey expands the seed provided into a key usable for metadata
// bindings and signing key derivation.
func NewExpandedKey(seed [32]byte) ExpandedKey {
	expanded := sha256.Sum256(append([]byte("lndk expanded key"), seed[:]...))
	return ExpandedKey(expanded)
}

// DeriveSigningKey derives the private key used to sign offers and invoices
// we produce.
func (k ExpandedKey) DeriveSigningKey() *btcec.PrivateKey {
	digest := sha256.Sum256(append([]byte("lndk signing key"), k[:]...))
	priv, _ := btcec.PrivKeyFromBytes(digest[:])

	return priv
}

// PayerMetadata commits to the payment ID and nonce of an outgoing invoice
// request. The value is opaque to the counterparty, who simply echoes it
// back in the invoice.
func (k ExpandedKey) PayerMetadata(id PaymentID, nonce Nonce) [32]byte {
	return k.binding("lndk payer metadata", id[:], nonce[:])
}

// VerifyPayerMetadata checks that metadata commits to the payment ID and
// nonce provided.
func (k ExpandedKey) VerifyPayerMetadata(metadata [32]byte, id PaymentID,
	nonce Nonce) error {

	expected := k.PayerMetadata(id, nonce)
	if !hmac.Equal(metadata[:], expected[:]) {
		return ErrInvalidMetadata
	}

	return nil
}

// OfferMetadata commits to the nonce an offer was created under, allowing
// invoice requests quoting the offer to be verified as answering one of our
// own offers.
func (k ExpandedKey) OfferMetadata(nonce Nonce) [32]byte {
	return k.binding("lndk offer metadata", nonce[:])
}

// VerifyOfferMetadata checks that metadata commits to the nonce provided.
func (k ExpandedKey) VerifyOfferMetadata(metadata [32]byte, nonce Nonce) error {
	expected := k.OfferMetadata(nonce)
	if !hmac.Equal(metadata[:], expected[:]) {
		return ErrInvalidMetadata
	}

	return nil
}

// PaymentHashHMAC commits to the payment hash of an invoice we issued, bound
// to a fresh nonce. It is handed to the transport alongside the reply path
// for the invoice so that later messages referencing the payment can be
// authenticated.
func (k ExpandedKey) PaymentHashHMAC(hash lntypes.Hash, nonce Nonce) [32]byte {
	return k.binding("lndk inbound payment", hash[:], nonce[:])
}

// VerifyPaymentHashHMAC checks that mac commits to the payment hash and
// nonce provided.
func (k ExpandedKey) VerifyPaymentHashHMAC(mac [32]byte, hash lntypes.Hash,
	nonce Nonce) error {

	expected := k.PaymentHashHMAC(hash, nonce)
	if !hmac.Equal(mac[:], expected[:]) {
		return ErrInvalidMetadata
	}

	return nil
}

// binding computes a HMAC-SHA256 over the fields provided, keyed by the
// expanded key and domain-separated by tag.
func (k ExpandedKey) binding(tag string, fields ...[]byte) [32]byte {
	mac := hmac.New(sha256.New, k[:])
	mac.Write([]byte(tag))
	for _, field := range fields {
		mac.Write(field)
	}

	var out [32]byte
	copy(out[:], mac.Sum(nil))

	return out
}
