// Package x402 implements the x402 payment protocol for Aptos: HTTP-native
// micropayments negotiated over the 402 Payment Required status code and
// settled on-chain through a facilitator service.
//
// The wire format uses x402Version 1 with CAIP-2 network identifiers
// ("aptos:1" for mainnet, "aptos:2" for testnet). Payment payloads travel in
// the X-PAYMENT request header as base64-encoded JSON; settlement results
// come back in the X-PAYMENT-RESPONSE header, also base64-encoded JSON.
package x402

import (
	"time"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version carried in every wire message.
const X402Version = 1

// SchemeExact is the only payment scheme currently defined: the payer
// transfers exactly the requested amount to the recipient.
const SchemeExact = "exact"

// ResourceInfo describes the protected resource a payment unlocks.
type ResourceInfo struct {
	// URL is the URL of the protected resource.
	URL string `json:"url"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`
}

// PaymentRequirements defines a single acceptable payment option. It is an
// element of the "accepts" array in a 402 response.
//
// A requirements value is the contract between server, client, and
// facilitator: the exact value offered in the 402 response must be echoed
// back, unmodified, in the payment payload and in verify/settle requests.
// Fields must never be normalized or reordered once constructed.
type PaymentRequirements struct {
	// Scheme is the payment scheme identifier (currently always "exact").
	Scheme string `json:"scheme"`

	// Network is the CAIP-2 chain identifier (e.g., "aptos:2").
	Network string `json:"network"`

	// Amount is the payment amount as a decimal string in atomic units
	// (octas for APT, micro-units for USDC).
	Amount string `json:"amount"`

	// Asset is the fungible asset metadata address ("0xa" for APT).
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Sponsored marks the payment as gas-sponsored: the client leaves the
	// fee-payer slot as a zero-address placeholder and the facilitator's gas
	// station covers network fees.
	Sponsored bool `json:"sponsored,omitempty"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// Extra contains scheme-specific additional data.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the 402 response body sent by resource servers.
type PaymentRequired struct {
	// X402Version is the protocol version (1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Resource describes the protected resource.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepts is the list of payment options the server will accept.
	Accepts []PaymentRequirements `json:"accepts"`
}

// AptosPayload carries the signed Aptos transaction for a payment.
type AptosPayload struct {
	// Transaction is the base64-encoded BCS-serialized signed transaction.
	// The payer's signature is already applied; for sponsored payments the
	// fee-payer slot holds the all-zero address with no fee-payer
	// authenticator, to be filled in by the facilitator's gas station.
	Transaction string `json:"transaction"`
}

// PaymentPayload is sent by clients in the X-PAYMENT header to pay for a
// resource. It is produced once per payment attempt and never reused; replay
// protection is enforced by the chain (sequence numbers), not by this engine.
type PaymentPayload struct {
	// X402Version is the protocol version (1).
	X402Version int `json:"x402Version"`

	// Resource optionally describes the resource being paid for.
	Resource *ResourceInfo `json:"resource,omitempty"`

	// Accepted is the payment requirements entry the client chose from the
	// 402 "accepts" list, echoed back byte-for-byte.
	Accepted PaymentRequirements `json:"accepted"`

	// Payload contains the signed Aptos transaction.
	Payload AptosPayload `json:"payload"`
}

// VerifyResponse is the facilitator's answer to a /verify call.
type VerifyResponse struct {
	// IsValid reports whether the payment passed format and signature checks.
	IsValid bool `json:"isValid"`

	// InvalidReason explains a rejection; empty when IsValid is true.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the address that signed the payment, when known.
	Payer string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a /settle call. Encoded as
// base64 JSON it becomes the X-PAYMENT-RESPONSE header value.
type SettleResponse struct {
	// Success indicates the transaction was submitted and confirmed.
	Success bool `json:"success"`

	// TransactionHash is the on-chain transaction hash.
	TransactionHash string `json:"transactionHash,omitempty"`

	// Network is the CAIP-2 identifier of the chain settled on.
	Network string `json:"network,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`

	// ErrorReason explains a settlement failure; empty on success.
	ErrorReason string `json:"error,omitempty"`
}

// SupportedKind describes one scheme/network pair a facilitator supports.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the facilitator's /supported discovery response.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// TimeoutConfig bounds the facilitator round trips.
type TimeoutConfig struct {
	// VerifyTimeout bounds /verify calls.
	VerifyTimeout time.Duration

	// SettleTimeout bounds /settle calls. A settle that exceeds this deadline
	// is a failure, never a success.
	SettleTimeout time.Duration

	// RequestTimeout bounds auxiliary calls such as /supported.
	RequestTimeout time.Duration
}

// DefaultTimeouts are the stock timeout values. Settlement is deliberately
// tight: the middleware reports 408 rather than holding a request open while
// a transaction crawls through the chain.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  3 * time.Second,
	RequestTimeout: 10 * time.Second,
}

// FindMatchingRequirement returns the entry in requirements that the payment
// payload accepted, matching on scheme, network, asset, recipient, and
// amount. Returns ErrUnsupportedScheme if nothing matches.
func FindMatchingRequirement(payment *PaymentPayload, requirements []PaymentRequirements) (*PaymentRequirements, error) {
	for i := range requirements {
		req := &requirements[i]
		if req.Scheme == payment.Accepted.Scheme &&
			req.Network == payment.Accepted.Network &&
			req.Asset == payment.Accepted.Asset &&
			req.PayTo == payment.Accepted.PayTo &&
			req.Amount == payment.Accepted.Amount {
			return req, nil
		}
	}
	return nil, ErrUnsupportedScheme
}

// AmountToAtomic converts a human-readable decimal amount string to atomic
// units. For example, "1.5" with 6 decimals becomes "1500000". Amounts with
// more fractional digits than the asset supports are rejected rather than
// rounded.
func AmountToAtomic(amount string, decimals int32) (string, error) {
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return "", ErrInvalidAmount
	}
	if dec.IsNegative() {
		return "", ErrInvalidAmount
	}
	shifted := dec.Shift(decimals)
	if !shifted.IsInteger() {
		return "", ErrInvalidAmount
	}
	return shifted.BigInt().String(), nil
}

// AtomicToAmount converts an atomic-unit amount string to a human-readable
// decimal string. For example, "1500000" with 6 decimals becomes "1.5".
func AtomicToAmount(atomic string, decimals int32) (string, error) {
	dec, err := decimal.NewFromString(atomic)
	if err != nil {
		return "", ErrInvalidAmount
	}
	return dec.Shift(-decimals).String(), nil
}
