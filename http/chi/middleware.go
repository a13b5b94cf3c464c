// Package chi adapts the x402 payment middleware to chi routers.
package chi

import (
	"net/http"

	x402http "github.com/aptos-x402/x402-go/http"
)

// Middleware returns a chi-compatible middleware that gates handlers behind
// an x402 payment. Payment details are available to downstream handlers via
// x402http.GetPaymentInfo on the request context.
//
// Usage:
//
//	mw, err := chi.Middleware(cfg)
//	r.With(mw).Get("/paid", handler)
func Middleware(cfg x402http.MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	m, err := x402http.NewPaymentMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	return m.Handler, nil
}
