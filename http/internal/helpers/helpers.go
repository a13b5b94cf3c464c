// Package helpers contains the header parsing and response writing shared by
// the net/http, gin, and chi middleware adapters.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/encoding"
)

// Header names used by the payment handshake.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
	VerifyDurationHeader  = "X-PAYMENT-VERIFY-DURATION"
	SettleDurationHeader  = "X-PAYMENT-SETTLE-DURATION"
)

// ParsePaymentHeader extracts and decodes the X-PAYMENT header from a request.
// It returns the decoded payload together with the raw header string, which
// must be forwarded to the facilitator verbatim.
func ParsePaymentHeader(r *http.Request) (*x402.PaymentPayload, string, error) {
	raw := r.Header.Get(PaymentHeader)
	if raw == "" {
		return nil, "", fmt.Errorf("%w: missing %s header", x402.ErrMalformedHeader, PaymentHeader)
	}

	payload, err := encoding.DecodePayment(raw)
	if err != nil {
		return nil, raw, fmt.Errorf("%w: %v", x402.ErrMalformedHeader, err)
	}
	if payload.X402Version != x402.X402Version {
		return nil, raw, fmt.Errorf("%w: version %d", x402.ErrUnsupportedVersion, payload.X402Version)
	}
	return &payload, raw, nil
}

// SendPaymentRequired writes a 402 response carrying the payment requirements.
func SendPaymentRequired(w http.ResponseWriter, errMsg string, resource *x402.ResourceInfo, accepts []x402.PaymentRequirements) {
	body := x402.PaymentRequired{
		X402Version: x402.X402Version,
		Error:       errMsg,
		Resource:    resource,
		Accepts:     accepts,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(body)
}

// SendJSONError writes a JSON error body with the given status.
func SendJSONError(w http.ResponseWriter, status int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errMsg})
}

// AddPaymentResponseHeader attaches the encoded settlement result to the
// response headers.
func AddPaymentResponseHeader(h http.Header, settlement *x402.SettleResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	h.Set(PaymentResponseHeader, encoded)
	return nil
}

// BuildResourceURL reconstructs the resource URL for a request, honoring
// proxy forwarding headers.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	return scheme + "://" + host + r.URL.Path
}
