package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/encoding"
	x402http "github.com/aptos-x402/x402-go/http"
)

type stubFacilitator struct{}

func (stubFacilitator) Verify(ctx context.Context, header string, req x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true, Payer: "0x456"}, nil
}

func (stubFacilitator) Settle(ctx context.Context, header string, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	return &x402.SettleResponse{Success: true, TransactionHash: "0xdeadbeef"}, nil
}

func requirement() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkAptosTestnet,
		Amount:            "1000000",
		Asset:             x402.AssetAPT,
		PayTo:             "0x123",
		MaxTimeoutSeconds: 60,
	}
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()

	mw, err := Middleware(x402http.MiddlewareConfig{
		Facilitator:         stubFacilitator{},
		PaymentRequirements: []x402.PaymentRequirements{requirement()},
	})
	if err != nil {
		t.Fatalf("Middleware error: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/free", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("free"))
	})
	router.With(mw).Get("/paid", func(w http.ResponseWriter, r *http.Request) {
		info, ok := x402http.GetPaymentInfo(r.Context())
		if !ok {
			t.Error("payment info missing from context")
		} else if !info.Settled {
			t.Errorf("payment info = %+v", info)
		}
		w.Write([]byte("premium"))
	})
	return router
}

func TestChiMiddlewareGatesRoute(t *testing.T) {
	router := newRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/paid", nil))
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("paid route status = %d, want 402", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/free", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("free route status = %d, want 200", rec.Code)
	}
}

func TestChiMiddlewarePassesPayment(t *testing.T) {
	router := newRouter(t)

	header, err := encoding.EncodePayment(x402.PaymentPayload{
		X402Version: x402.X402Version,
		Accepted:    requirement(),
		Payload:     x402.AptosPayload{Transaction: "dGVzdA=="},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-PAYMENT", header)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "premium" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
