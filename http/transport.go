package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/encoding"
	"github.com/aptos-x402/x402-go/http/internal/helpers"
	"github.com/aptos-x402/x402-go/logger"
)

// maxPaymentRequiredBody bounds how much of a 402 body the transport will
// read while parsing payment requirements.
const maxPaymentRequiredBody = 1 << 20

// X402Transport is an http.RoundTripper that transparently handles 402
// Payment Required responses: it parses the server's payment requirements,
// signs a payment with one of the configured signers, and retries the request
// exactly once with the X-PAYMENT header attached.
//
// Requests that never hit a 402 pass through untouched. A second 402 on the
// paid retry is returned to the caller as-is; the transport never pays twice
// for one request.
type X402Transport struct {
	// Base is the underlying transport. If nil, http.DefaultTransport is used.
	Base http.RoundTripper

	// Signers are the available payment signers.
	Signers []x402.Signer

	// Selector chooses which signer pays for which requirement. If nil, the
	// default selection algorithm is used.
	Selector x402.PaymentSelector

	// Callbacks are invoked synchronously for payment lifecycle events.
	Callbacks []x402.PaymentCallback

	// Logger receives transport diagnostics; defaults to a noop.
	Logger logger.Logger
}

func (t *X402Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *X402Transport) selector() x402.PaymentSelector {
	if t.Selector != nil {
		return t.Selector
	}
	return x402.NewDefaultPaymentSelector()
}

func (t *X402Transport) log() logger.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logger.NoopLogger{}
}

func (t *X402Transport) emit(event x402.PaymentEvent) {
	event.Timestamp = time.Now()
	for _, cb := range t.Callbacks {
		cb(event)
	}
}

// RoundTrip implements http.RoundTripper.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// The body may need to be replayed for the paid retry. Reading and closing
	// the body is the transport's job; everything else on the caller's request
	// stays untouched, so each attempt goes out on its own clone.
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	probeReq := req.Clone(req.Context())
	if bodyBytes != nil {
		probeReq.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		probeReq.ContentLength = int64(len(bodyBytes))
	}

	resp, err := t.base().RoundTrip(probeReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := parsePaymentRequired(resp)
	if err != nil {
		return nil, err
	}

	t.log().Debug("payment required", map[string]any{
		"url":     req.URL.String(),
		"options": len(required.Accepts),
	})

	if len(required.Accepts) > 0 {
		first := required.Accepts[0]
		t.emit(x402.PaymentEvent{
			Type:      x402.PaymentEventAttempt,
			URL:       req.URL.String(),
			Amount:    first.Amount,
			Asset:     first.Asset,
			Network:   first.Network,
			Scheme:    first.Scheme,
			Recipient: first.PayTo,
		})
	}

	start := time.Now()
	payment, err := t.selector().SelectAndSign(req.Context(), t.Signers, required.Accepts)
	if err != nil {
		t.emit(x402.PaymentEvent{
			Type:     x402.PaymentEventFailure,
			URL:      req.URL.String(),
			Error:    err,
			Duration: time.Since(start),
		})
		return nil, err
	}

	header, err := encoding.EncodePayment(*payment)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to encode payment header", err)
	}

	retryReq := req.Clone(req.Context())
	retryReq.Header.Set(helpers.PaymentHeader, header)
	if bodyBytes != nil {
		retryReq.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		retryReq.ContentLength = int64(len(bodyBytes))
	}

	paidResp, err := t.base().RoundTrip(retryReq)
	if err != nil {
		t.emit(x402.PaymentEvent{
			Type:      x402.PaymentEventFailure,
			URL:       req.URL.String(),
			Amount:    payment.Accepted.Amount,
			Asset:     payment.Accepted.Asset,
			Network:   payment.Accepted.Network,
			Scheme:    payment.Accepted.Scheme,
			Recipient: payment.Accepted.PayTo,
			Error:     err,
			Duration:  time.Since(start),
		})
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "paid retry failed", err)
	}

	event := x402.PaymentEvent{
		URL:       req.URL.String(),
		Amount:    payment.Accepted.Amount,
		Asset:     payment.Accepted.Asset,
		Network:   payment.Accepted.Network,
		Scheme:    payment.Accepted.Scheme,
		Recipient: payment.Accepted.PayTo,
		Duration:  time.Since(start),
	}

	if paidResp.StatusCode == http.StatusPaymentRequired {
		// The server rejected the payment. One payment per request: surface
		// the response rather than signing again.
		event.Type = x402.PaymentEventFailure
		event.Error = x402.NewPaymentError(x402.ErrCodePaymentRejected, "server rejected signed payment", x402.ErrSettlementFailed)
		t.emit(event)
		t.log().Warn("paid retry still returned 402", map[string]any{"url": req.URL.String()})
		return paidResp, nil
	}

	event.Type = x402.PaymentEventSuccess
	if settlement, err := GetSettlement(paidResp); err == nil && settlement != nil {
		event.Payer = settlement.Payer
		event.TransactionHash = settlement.TransactionHash
	}
	t.emit(event)

	t.log().Info("payment accepted", map[string]any{
		"url":     req.URL.String(),
		"status":  paidResp.StatusCode,
		"amount":  payment.Accepted.Amount,
		"asset":   payment.Accepted.Asset,
		"network": payment.Accepted.Network,
	})

	return paidResp, nil
}

// parsePaymentRequired decodes a 402 response body into payment requirements.
// A body that is not the protocol's JSON shape (an HTML error page, a plain
// 402 from an unrelated server) yields ErrUnexpectedResponse so callers can
// tell a non-x402 server apart from a payment failure.
func parsePaymentRequired(resp *http.Response) (*x402.PaymentRequired, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPaymentRequiredBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeUnexpectedResponse, "402 response is not a payment requirements document", x402.ErrUnexpectedResponse).
			WithDetails("body_prefix", truncate(string(body), 128))
	}
	if required.X402Version != x402.X402Version {
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedVersion,
			fmt.Sprintf("server speaks x402 version %d", required.X402Version), x402.ErrUnsupportedVersion)
	}
	if len(required.Accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "402 response offers no payment options", x402.ErrInvalidRequirements)
	}

	return &required, nil
}

// PaymentDetails summarizes what a request paid and how it settled, so
// callers never re-parse wire headers.
type PaymentDetails struct {
	Paid            bool
	Amount          string
	Asset           string
	Network         string
	Scheme          string
	Recipient       string
	Payer           string
	TransactionHash string
	Settled         bool
}

// RequestPaymentInfo reconstructs the payment details for a response produced
// by X402Transport: the payment from the X-PAYMENT header on the (retried)
// request, the outcome from the settlement header on the response. A response
// that never triggered a payment yields Paid == false.
func RequestPaymentInfo(resp *http.Response) (*PaymentDetails, error) {
	details := &PaymentDetails{}
	if resp.Request == nil {
		return details, nil
	}
	raw := resp.Request.Header.Get(helpers.PaymentHeader)
	if raw == "" {
		return details, nil
	}

	payment, err := encoding.DecodePayment(raw)
	if err != nil {
		return nil, err
	}
	details.Paid = true
	details.Amount = payment.Accepted.Amount
	details.Asset = payment.Accepted.Asset
	details.Network = payment.Accepted.Network
	details.Scheme = payment.Accepted.Scheme
	details.Recipient = payment.Accepted.PayTo

	settlement, err := GetSettlement(resp)
	if err != nil {
		return nil, err
	}
	if settlement != nil {
		details.Settled = settlement.Success
		details.Payer = settlement.Payer
		details.TransactionHash = settlement.TransactionHash
	}
	return details, nil
}

// GetSettlement decodes the X-PAYMENT-RESPONSE header from a paid response.
// Returns (nil, nil) when the header is absent.
func GetSettlement(resp *http.Response) (*x402.SettleResponse, error) {
	raw := resp.Header.Get(helpers.PaymentResponseHeader)
	if raw == "" {
		return nil, nil
	}
	settlement, err := encoding.DecodeSettlement(raw)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
