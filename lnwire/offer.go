package lnwire

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Offer is a reusable advertisement of payable terms. It carries everything
// a payer needs to request an invoice: the chain it is payable on, the
// amount (possibly left open), the recipient's signing key and optionally a
// set of message paths invoice requests can be sent over.
type Offer struct {
	// Chain is the genesis hash of the chain the offer is payable on.
	Chain chainhash.Hash

	// Metadata binds the offer to the nonce it was created under. Opaque
	// to payers, who echo it back in their invoice requests.
	Metadata [32]byte

	// AmountMsats is the amount of the offer in millisatoshis. Zero
	// leaves the amount open for the payer to choose.
	AmountMsats uint64

	// Description is a description of the purpose of the offer.
	Description string

	// Issuer optionally identifies the issuing party.
	Issuer string

	// Quantity is the supported quantity of items, zero meaning a single
	// item.
	Quantity uint64

	// AbsoluteExpiry is the time at which the offer stops being payable.
	// The zero value means the offer never expires.
	AbsoluteExpiry time.Time

	// SigningPubkey is the key the offer creator will sign invoices
	// with.
	SigningPubkey *btcec.PublicKey

	// Paths optionally holds blinded paths that invoice requests for the
	// offer should be sent over.
	Paths []*BlindedMessagePath
}

// ID returns a stable digest identifying the offer.
func (o *Offer) ID() [32]byte {
	h := sha256.New()
	h.Write([]byte("lndk offer id"))
	h.Write(o.Chain[:])
	h.Write(o.Metadata[:])

	var amount [8]byte
	binary.BigEndian.PutUint64(amount[:], o.AmountMsats)
	h.Write(amount[:])

	h.Write([]byte(o.Description))
	h.Write([]byte(o.Issuer))

	var quantity [8]byte
	binary.BigEndian.PutUint64(quantity[:], o.Quantity)
	h.Write(quantity[:])

	if !o.AbsoluteExpiry.IsZero() {
		var expiry [8]byte
		binary.BigEndian.PutUint64(
			expiry[:], uint64(o.AbsoluteExpiry.Unix()),
		)
		h.Write(expiry[:])
	}

	if o.SigningPubkey != nil {
		h.Write(o.SigningPubkey.SerializeCompressed())
	}

	var id [32]byte
	copy(id[:], h.Sum(nil))

	return id
}

// Expired reports whether the offer has expired as of now.
func (o *Offer) Expired(now time.Time) bool {
	return !o.AbsoluteExpiry.IsZero() && now.After(o.AbsoluteExpiry)
}
