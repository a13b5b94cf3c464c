package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aptos-x402/x402-go"
)

func TestNewClientOptions(t *testing.T) {
	signer := newTestSigner()
	selector := x402.NewDefaultPaymentSelector()

	client := NewClient(
		WithSigner(signer),
		WithSelector(selector),
		WithTimeout(5*time.Second),
		WithPaymentCallbacks(func(x402.PaymentEvent) {}),
	)

	transport := client.Transport()
	if len(transport.Signers) != 1 || transport.Signers[0] != x402.Signer(signer) {
		t.Errorf("signers = %v", transport.Signers)
	}
	if transport.Selector != x402.PaymentSelector(selector) {
		t.Error("selector not applied")
	}
	if len(transport.Callbacks) != 1 {
		t.Errorf("callbacks = %d", len(transport.Callbacks))
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", client.Timeout)
	}
}

func TestClientPaysThroughPaywall(t *testing.T) {
	var requests int32
	server := paywalledServer(t, &requests)
	defer server.Close()

	client := NewClient(WithSigners(newTestSigner()))
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != `{"data":"premium"}` {
		t.Errorf("status = %d, body = %q", resp.StatusCode, body)
	}
	if atomic.LoadInt32(&requests) != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestWithHTTPClientPreservesBase(t *testing.T) {
	var baseUsed int32
	base := &http.Client{
		Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&baseUsed, 1)
			return http.DefaultTransport.RoundTrip(r)
		}),
		Timeout: 7 * time.Second,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(WithHTTPClient(base), WithSigner(newTestSigner()))
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	resp.Body.Close()

	if atomic.LoadInt32(&baseUsed) != 1 {
		t.Error("base transport bypassed")
	}
	if client.Timeout != 7*time.Second {
		t.Errorf("timeout = %v, want base client's 7s", client.Timeout)
	}
}
