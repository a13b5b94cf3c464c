package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/http/internal/helpers"
	"github.com/aptos-x402/x402-go/logger"
	"github.com/aptos-x402/x402-go/metrics"
	"github.com/aptos-x402/x402-go/validation"
)

type contextKey string

// PaymentInfoKey is the request context key under which the middleware stores
// the settled payment details for the protected handler.
const PaymentInfoKey contextKey = "x402-payment-info"

// PaymentInfo is what a protected handler can read from the request context
// after the payment has cleared.
type PaymentInfo struct {
	Payer           string
	TransactionHash string
	Network         string
	Scheme          string
	Amount          string
	Asset           string
	Verified        bool
	Settled         bool
}

// GetPaymentInfo extracts the payment details from a request context, if the
// request passed through the payment middleware.
func GetPaymentInfo(ctx context.Context) (*PaymentInfo, bool) {
	info, ok := ctx.Value(PaymentInfoKey).(*PaymentInfo)
	return info, ok
}

// MiddlewareConfig configures the payment middleware.
type MiddlewareConfig struct {
	// FacilitatorURL is the facilitator service endpoint. Ignored when
	// Facilitator is set directly.
	FacilitatorURL string `validate:"required_without=Facilitator,omitempty,url"`

	// Facilitator overrides the default facilitator client; tests and
	// embedded facilitators plug in here.
	Facilitator Facilitator `validate:"-"`

	// Resource describes the protected resource advertised in 402 responses.
	// If the URL is empty it is reconstructed per request from the request URL.
	Resource x402.ResourceInfo

	// PaymentRequirements lists the accepted payment options. These exact
	// values are echoed in 402 responses and sent to the facilitator, so they
	// must not be mutated after the middleware is constructed.
	PaymentRequirements []x402.PaymentRequirements `validate:"required,min=1,dive"`

	// SettleTimeout bounds the settle call. Zero means
	// x402.DefaultTimeouts.SettleTimeout.
	SettleTimeout time.Duration

	// VerifyCache memoizes successful verifications. Nil disables caching.
	VerifyCache *VerificationCache

	// VerifyOnly skips settlement and forwards the request once the payment
	// verifies. The caller is responsible for settling out of band.
	VerifyOnly bool

	// FacilitatorAuth is a static Authorization header value for facilitator
	// calls. Ignored when Facilitator is set directly.
	FacilitatorAuth string

	// FacilitatorAuthProvider supplies a per-request Authorization header
	// value for facilitator calls, taking precedence over FacilitatorAuth.
	FacilitatorAuthProvider AuthorizationProvider `validate:"-"`

	// OnBeforeVerify/OnAfterVerify/OnBeforeSettle/OnAfterSettle are passed to
	// the default facilitator client. Ignored when Facilitator is set directly.
	OnBeforeVerify OnBeforeFunc      `validate:"-"`
	OnAfterVerify  OnAfterVerifyFunc `validate:"-"`
	OnBeforeSettle OnBeforeFunc      `validate:"-"`
	OnAfterSettle  OnAfterSettleFunc `validate:"-"`

	// EnrichRequirements fetches the facilitator's /supported kinds at
	// construction and merges their extra data (e.g., the sponsor's fee-payer
	// address) into the configured requirements. Enrichment happens once,
	// before the first 402 is served, so the advertised requirements stay
	// stable for the middleware's lifetime. Failure to reach the facilitator
	// is logged, not fatal.
	EnrichRequirements bool

	// Logger receives middleware diagnostics; defaults to a noop.
	Logger logger.Logger

	// Metrics receives counters and latencies; defaults to a noop.
	Metrics metrics.Recorder
}

// PaymentMiddleware gates an http.Handler behind an x402 payment. Requests
// without a valid X-PAYMENT header receive a 402 carrying the accepted
// payment requirements; requests with one are verified and settled through
// the facilitator before the protected handler runs.
type PaymentMiddleware struct {
	cfg         MiddlewareConfig
	facilitator Facilitator
	log         logger.Logger
	rec         metrics.Recorder
}

// NewPaymentMiddleware validates the config and constructs the middleware.
func NewPaymentMiddleware(cfg MiddlewareConfig) (*PaymentMiddleware, error) {
	if cfg.Facilitator == nil && cfg.FacilitatorURL == "" {
		return nil, fmt.Errorf("%w: facilitator URL is required", x402.ErrInvalidRequirements)
	}
	if err := validation.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}
	for i := range cfg.PaymentRequirements {
		if err := validation.ValidatePaymentRequirements(cfg.PaymentRequirements[i]); err != nil {
			return nil, fmt.Errorf("requirement %d: %w", i, err)
		}
	}

	facilitator := cfg.Facilitator
	if facilitator == nil {
		facilitator = &FacilitatorClient{
			BaseURL:               cfg.FacilitatorURL,
			Timeouts:              x402.DefaultTimeouts,
			Authorization:         cfg.FacilitatorAuth,
			AuthorizationProvider: cfg.FacilitatorAuthProvider,
			OnBeforeVerify:        cfg.OnBeforeVerify,
			OnAfterVerify:         cfg.OnAfterVerify,
			OnBeforeSettle:        cfg.OnBeforeSettle,
			OnAfterSettle:         cfg.OnAfterSettle,
		}
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = x402.DefaultTimeouts.SettleTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NoopLogger{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	if cfg.EnrichRequirements {
		if fc, ok := facilitator.(*FacilitatorClient); ok {
			ctx, cancel := context.WithTimeout(context.Background(), x402.DefaultTimeouts.RequestTimeout)
			enriched, err := fc.EnrichRequirements(ctx, cfg.PaymentRequirements)
			cancel()
			if err != nil {
				log.Warn("requirement enrichment failed", map[string]any{"error": err.Error()})
			} else {
				cfg.PaymentRequirements = enriched
			}
		}
	}

	return &PaymentMiddleware{
		cfg:         cfg,
		facilitator: facilitator,
		log:         log,
		rec:         rec,
	}, nil
}

// Handler wraps next with the payment gate.
func (m *PaymentMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(w, r, next)
	})
}

// Close releases middleware resources (the verification cache sweeper).
func (m *PaymentMiddleware) Close() {
	if m.cfg.VerifyCache != nil {
		m.cfg.VerifyCache.Close()
	}
}

func (m *PaymentMiddleware) resourceFor(r *http.Request) string {
	if m.cfg.Resource.URL != "" {
		return m.cfg.Resource.URL
	}
	return helpers.BuildResourceURL(r)
}

func (m *PaymentMiddleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	resource := m.resourceFor(r)

	payload, rawHeader, err := helpers.ParsePaymentHeader(r)
	if err != nil {
		if errors.Is(err, x402.ErrMalformedHeader) && r.Header.Get(helpers.PaymentHeader) == "" {
			m.rec.IncCounter("payment_required", nil)
			info := m.cfg.Resource
			info.URL = resource
			helpers.SendPaymentRequired(w, "Payment required", &info, m.cfg.PaymentRequirements)
			return
		}
		m.log.Warn("rejecting unparseable payment header", map[string]any{
			"resource": resource,
			"error":    err.Error(),
		})
		m.rec.IncCounter("malformed_header", nil)
		helpers.SendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The client must pay against one of the advertised options, unchanged.
	requirement, err := x402.FindMatchingRequirement(payload, m.cfg.PaymentRequirements)
	if err != nil {
		m.log.Warn("payment does not match any accepted requirement", map[string]any{
			"resource": resource,
			"network":  payload.Accepted.Network,
			"asset":    payload.Accepted.Asset,
		})
		m.rec.IncCounter("requirement_mismatch", map[string]string{"network": payload.Accepted.Network})
		helpers.SendJSONError(w, http.StatusBadRequest, "payment does not match accepted requirements")
		return
	}

	verifyResp, verifyDuration, err := m.verify(r.Context(), rawHeader, *requirement)
	if err != nil {
		m.log.Error("facilitator verify failed", map[string]any{
			"resource": resource,
			"error":    err.Error(),
		})
		m.rec.IncCounter("facilitator_unavailable", map[string]string{"network": requirement.Network})
		helpers.SendJSONError(w, http.StatusServiceUnavailable, "payment facilitator unavailable")
		return
	}
	if !verifyResp.IsValid {
		m.log.Info("payment verification rejected", map[string]any{
			"resource": resource,
			"reason":   verifyResp.InvalidReason,
		})
		m.rec.IncCounter("verify_rejected", map[string]string{"network": requirement.Network})
		helpers.SendJSONError(w, http.StatusForbidden, verifyResp.InvalidReason)
		return
	}
	w.Header().Set(helpers.VerifyDurationHeader, formatDuration(verifyDuration))

	info := &PaymentInfo{
		Payer:    verifyResp.Payer,
		Network:  requirement.Network,
		Scheme:   requirement.Scheme,
		Amount:   requirement.Amount,
		Asset:    requirement.Asset,
		Verified: true,
	}

	if !m.cfg.VerifyOnly {
		settleStart := time.Now()
		settleCtx, cancel := context.WithTimeout(r.Context(), m.cfg.SettleTimeout)
		settleResp, err := m.facilitator.Settle(settleCtx, rawHeader, *requirement)
		cancel()
		settleDuration := time.Since(settleStart)
		m.rec.ObserveLatency("settle", settleDuration, map[string]string{"network": requirement.Network})

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				m.log.Error("settlement timed out", map[string]any{
					"resource": resource,
					"timeout":  m.cfg.SettleTimeout.String(),
				})
				m.rec.IncCounter("settle_timeout", map[string]string{"network": requirement.Network})
				helpers.SendJSONError(w, http.StatusRequestTimeout, x402.ErrSettlementTimeout.Error())
				return
			}
			m.log.Error("settlement failed", map[string]any{
				"resource": resource,
				"error":    err.Error(),
			})
			m.rec.IncCounter("settle_failed", map[string]string{"network": requirement.Network})
			helpers.SendJSONError(w, http.StatusPaymentRequired, "payment settlement failed")
			return
		}
		if !settleResp.Success {
			m.log.Error("settlement rejected", map[string]any{
				"resource": resource,
				"reason":   settleResp.ErrorReason,
			})
			m.rec.IncCounter("settle_rejected", map[string]string{"network": requirement.Network})
			helpers.SendJSONError(w, http.StatusPaymentRequired, settleResp.ErrorReason)
			return
		}

		if err := helpers.AddPaymentResponseHeader(w.Header(), settleResp); err != nil {
			m.log.Error("failed to encode settlement header", map[string]any{"error": err.Error()})
		}
		w.Header().Set(helpers.SettleDurationHeader, formatDuration(settleDuration))

		info.TransactionHash = settleResp.TransactionHash
		info.Settled = true

		m.log.Info("payment settled", map[string]any{
			"resource": resource,
			"payer":    verifyResp.Payer,
			"tx_hash":  settleResp.TransactionHash,
			"network":  requirement.Network,
		})
		m.rec.IncCounter("settle_success", map[string]string{"network": requirement.Network})
	}

	ctx := context.WithValue(r.Context(), PaymentInfoKey, info)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// verify consults the cache before the facilitator and records latency for
// uncached calls.
func (m *PaymentMiddleware) verify(ctx context.Context, rawHeader string, requirement x402.PaymentRequirements) (*x402.VerifyResponse, time.Duration, error) {
	if m.cfg.VerifyCache != nil {
		if cached := m.cfg.VerifyCache.Get(rawHeader); cached != nil {
			m.rec.IncCounter("verify_cache_hit", map[string]string{"network": requirement.Network})
			return cached, 0, nil
		}
	}

	start := time.Now()
	resp, err := m.facilitator.Verify(ctx, rawHeader, requirement)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}
	m.rec.ObserveLatency("verify", elapsed, map[string]string{"network": requirement.Network})

	if m.cfg.VerifyCache != nil {
		m.cfg.VerifyCache.Put(rawHeader, resp)
	}
	return resp, elapsed, nil
}

func formatDuration(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
