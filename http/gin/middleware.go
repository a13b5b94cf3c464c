// Package gin adapts the x402 payment middleware to the gin framework.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	x402http "github.com/aptos-x402/x402-go/http"
)

// PaymentInfoContextKey is the gin context key under which settled payment
// details are stored.
const PaymentInfoContextKey = "x402-payment-info"

// Middleware returns a gin middleware that gates handlers behind an x402
// payment. On success the payment details are available both via
// c.Get(PaymentInfoContextKey) and x402http.GetPaymentInfo(c.Request.Context()).
func Middleware(cfg x402http.MiddlewareConfig) (gin.HandlerFunc, error) {
	m, err := x402http.NewPaymentMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		proceeded := false
		handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proceeded = true
			c.Request = r
			if info, ok := x402http.GetPaymentInfo(r.Context()); ok {
				c.Set(PaymentInfoContextKey, info)
			}
			c.Next()
		}))

		handler.ServeHTTP(c.Writer, c.Request)
		if !proceeded {
			c.Abort()
		}
	}, nil
}

// GetPaymentInfo extracts the payment details from a gin context.
func GetPaymentInfo(c *gin.Context) (*x402http.PaymentInfo, bool) {
	v, ok := c.Get(PaymentInfoContextKey)
	if !ok {
		return nil, false
	}
	info, ok := v.(*x402http.PaymentInfo)
	return info, ok
}
