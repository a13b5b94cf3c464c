// Package http provides the HTTP client and server implementations of the
// x402 payment protocol: a payment-gating middleware, an auto-paying client
// transport, and the facilitator client both sides rely on.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/retry"
)

// AuthorizationProvider is a function that returns an Authorization header
// value. This is useful for dynamic tokens (e.g., JWT refresh) where the
// value may change.
//
// The provider is called on each HTTP request. If it accesses shared state or
// performs I/O, it must be safe for concurrent use; the FacilitatorClient
// does not serialize calls to it.
type AuthorizationProvider func(*http.Request) string

// OnBeforeFunc is a callback invoked before a verify or settle operation.
// Return an error to abort the operation.
type OnBeforeFunc func(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) error

// OnAfterVerifyFunc is a callback invoked after a Verify operation completes,
// with the result (success or failure) for logging, metrics, etc.
type OnAfterVerifyFunc func(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements, resp *x402.VerifyResponse, err error)

// OnAfterSettleFunc is a callback invoked after a Settle operation completes,
// with the result (success or failure) for logging, metrics, etc.
type OnAfterSettleFunc func(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements, resp *x402.SettleResponse, err error)

// VerifyRequest is the body POSTed to the facilitator's /verify endpoint.
// The payment header travels as the raw X-PAYMENT string so the facilitator
// decodes exactly the bytes the client produced.
type VerifyRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentHeader       string                   `json:"paymentHeader"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body POSTed to the facilitator's /settle endpoint.
// It has the same shape as VerifyRequest.
type SettleRequest = VerifyRequest

// Facilitator is the interface the middleware consumes; FacilitatorClient is
// the production implementation, tests supply fakes.
type Facilitator interface {
	Verify(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error)
	Settle(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// FacilitatorClient talks to an x402 facilitator service over HTTP.
//
// Verify and Settle are single request/response calls with no client-side
// retry: retry policy belongs to the caller, and the middleware's policy is
// to time out and report failure rather than retry settlement. Only the
// idempotent /supported discovery call uses the retry package.
type FacilitatorClient struct {
	// BaseURL is the facilitator service URL (e.g., "https://facilitator.example.org").
	BaseURL string

	// Client is the HTTP client to use for requests; persistent connections
	// come for free from its transport. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts contains timeout configuration for payment operations. These
	// apply only when the caller's context has no deadline of its own.
	Timeouts x402.TimeoutConfig

	// DiscoveryRetries is the number of retry attempts for the /supported
	// call (default 0, no retries).
	DiscoveryRetries int

	// Authorization is a static Authorization header value (e.g., "Bearer token").
	// If AuthorizationProvider is also set, the provider takes precedence.
	Authorization string

	// AuthorizationProvider returns a per-request Authorization header value.
	AuthorizationProvider AuthorizationProvider

	// OnBeforeVerify is called before the Verify operation starts.
	// If it returns an error, the operation is aborted immediately.
	OnBeforeVerify OnBeforeFunc

	// OnAfterVerify is called after the Verify operation completes.
	OnAfterVerify OnAfterVerifyFunc

	// OnBeforeSettle is called before the Settle operation starts.
	// If it returns an error, the operation is aborted immediately.
	OnBeforeSettle OnBeforeFunc

	// OnAfterSettle is called after the Settle operation completes.
	OnAfterSettle OnAfterSettleFunc
}

var _ Facilitator = (*FacilitatorClient)(nil)

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// setAuthorizationHeader sets the Authorization header on the request if
// configured, preferring the provider over the static value.
func (c *FacilitatorClient) setAuthorizationHeader(req *http.Request) {
	var authValue string
	if c.AuthorizationProvider != nil {
		authValue = c.AuthorizationProvider(req)
	} else if c.Authorization != "" {
		authValue = c.Authorization
	}
	if authValue != "" {
		req.Header.Set("Authorization", authValue)
	}
}

// withDeadline applies the fallback timeout only when the caller's context
// carries no deadline of its own.
func withDeadline(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || fallback <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, fallback)
}

// Verify asks the facilitator whether the payment header satisfies the
// requirements, without executing the transaction.
func (c *FacilitatorClient) Verify(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if c.OnBeforeVerify != nil {
		if err := c.OnBeforeVerify(ctx, paymentHeader, requirements); err != nil {
			return nil, err
		}
	}

	resp, err := c.post(ctx, "/verify", paymentHeader, requirements, c.Timeouts.VerifyTimeout, x402.ErrVerificationFailed, func(body io.Reader) (interface{}, error) {
		var verifyResp x402.VerifyResponse
		if err := json.NewDecoder(body).Decode(&verifyResp); err != nil {
			return nil, fmt.Errorf("failed to decode verify response: %w", err)
		}
		return &verifyResp, nil
	})

	var verifyResp *x402.VerifyResponse
	if resp != nil {
		verifyResp = resp.(*x402.VerifyResponse)
	}
	if c.OnAfterVerify != nil {
		c.OnAfterVerify(ctx, paymentHeader, requirements, verifyResp, err)
	}
	return verifyResp, err
}

// Settle asks the facilitator to submit the verified payment on-chain. A
// context deadline aborts the in-flight HTTP call; the resulting error wraps
// context.DeadlineExceeded so callers can map it to a timeout status.
func (c *FacilitatorClient) Settle(ctx context.Context, paymentHeader string, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	if c.OnBeforeSettle != nil {
		if err := c.OnBeforeSettle(ctx, paymentHeader, requirements); err != nil {
			return nil, err
		}
	}

	resp, err := c.post(ctx, "/settle", paymentHeader, requirements, c.Timeouts.SettleTimeout, x402.ErrSettlementFailed, func(body io.Reader) (interface{}, error) {
		var settleResp x402.SettleResponse
		if err := json.NewDecoder(body).Decode(&settleResp); err != nil {
			return nil, fmt.Errorf("failed to decode settle response: %w", err)
		}
		return &settleResp, nil
	})

	var settleResp *x402.SettleResponse
	if resp != nil {
		settleResp = resp.(*x402.SettleResponse)
	}
	if c.OnAfterSettle != nil {
		c.OnAfterSettle(ctx, paymentHeader, requirements, settleResp, err)
	}
	return settleResp, err
}

// post performs a single facilitator POST with no retry.
func (c *FacilitatorClient) post(ctx context.Context, path, paymentHeader string, requirements x402.PaymentRequirements, timeout time.Duration, opErr error, decode func(io.Reader) (interface{}, error)) (interface{}, error) {
	req := VerifyRequest{
		X402Version:         x402.X402Version,
		PaymentHeader:       paymentHeader,
		PaymentRequirements: requirements,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := withDeadline(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthorizationHeader(httpReq)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(httpResp, opErr)
	}

	return decode(httpResp.Body)
}

// Supported queries the facilitator for the scheme/network pairs it handles.
func (c *FacilitatorClient) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	cfg := retry.DefaultConfig
	cfg.MaxAttempts = c.DiscoveryRetries + 1

	return retry.WithRetry(ctx, cfg, isFacilitatorUnavailable, func() (*x402.SupportedResponse, error) {
		reqCtx, cancel := withDeadline(ctx, c.Timeouts.RequestTimeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.BaseURL+"/supported", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setAuthorizationHeader(httpReq)

		httpResp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("supported endpoint failed: status %d", httpResp.StatusCode)
		}

		var supportedResp x402.SupportedResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&supportedResp); err != nil {
			return nil, fmt.Errorf("failed to decode supported response: %w", err)
		}

		return &supportedResp, nil
	})
}

// EnrichRequirements fetches supported payment kinds from the facilitator and
// merges their extra data (e.g., a sponsored fee-payer address) into the
// configured requirements. User-specified values take precedence.
func (c *FacilitatorClient) EnrichRequirements(ctx context.Context, requirements []x402.PaymentRequirements) ([]x402.PaymentRequirements, error) {
	supported, err := c.Supported(ctx)
	if err != nil {
		return requirements, fmt.Errorf("failed to fetch supported payment types: %w", err)
	}

	supportedMap := make(map[string]x402.SupportedKind)
	for _, kind := range supported.Kinds {
		supportedMap[kind.Network+"-"+kind.Scheme] = kind
	}

	enriched := make([]x402.PaymentRequirements, len(requirements))
	for i, req := range requirements {
		enriched[i] = req
		kind, ok := supportedMap[req.Network+"-"+req.Scheme]
		if !ok || kind.Extra == nil {
			continue
		}
		// The input slice is caller-owned; merge into a copy of its map.
		extra := maps.Clone(req.Extra)
		if extra == nil {
			extra = make(map[string]interface{})
		}
		for k, v := range kind.Extra {
			if _, exists := extra[k]; !exists {
				extra[k] = v
			}
		}
		enriched[i].Extra = extra
	}

	return enriched, nil
}

func isFacilitatorUnavailable(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}

// parseErrorResponse turns a non-200 facilitator response into an error,
// surfacing the facilitator's own error message when the body carries one.
func parseErrorResponse(resp *http.Response, opErr error) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errBody struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
		return fmt.Errorf("%w: status %d: %s", opErr, resp.StatusCode, errBody.Error)
	}
	return fmt.Errorf("%w: status %d", opErr, resp.StatusCode)
}
