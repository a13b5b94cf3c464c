package http

import (
	"net/http"
	"time"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/logger"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// Client is an http.Client wrapper whose transport pays x402 invoices
// automatically.
type Client struct {
	*http.Client
	transport *X402Transport
}

// WithSigner adds a payment signer.
func WithSigner(signer x402.Signer) ClientOption {
	return func(c *Client) {
		c.transport.Signers = append(c.transport.Signers, signer)
	}
}

// WithSigners adds multiple payment signers.
func WithSigners(signers ...x402.Signer) ClientOption {
	return func(c *Client) {
		c.transport.Signers = append(c.transport.Signers, signers...)
	}
}

// WithSelector overrides the signer selection algorithm.
func WithSelector(selector x402.PaymentSelector) ClientOption {
	return func(c *Client) {
		c.transport.Selector = selector
	}
}

// WithHTTPClient bases the payment client on an existing http.Client,
// preserving its transport, jar, and redirect policy.
func WithHTTPClient(base *http.Client) ClientOption {
	return func(c *Client) {
		inner := *base
		c.transport.Base = inner.Transport
		inner.Transport = c.transport
		c.Client = &inner
	}
}

// WithTimeout sets the overall request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.Client.Timeout = d
	}
}

// WithPaymentCallbacks registers payment lifecycle callbacks.
func WithPaymentCallbacks(callbacks ...x402.PaymentCallback) ClientOption {
	return func(c *Client) {
		c.transport.Callbacks = append(c.transport.Callbacks, callbacks...)
	}
}

// WithLogger sets the transport logger.
func WithLogger(log logger.Logger) ClientOption {
	return func(c *Client) {
		c.transport.Logger = log
	}
}

// NewClient builds a payment-capable HTTP client. With no options it behaves
// like http.DefaultClient until a request hits a 402, at which point it fails
// with ErrNoValidSigner unless signers were configured.
func NewClient(opts ...ClientOption) *Client {
	transport := &X402Transport{}
	c := &Client{
		Client: &http.Client{
			Transport: transport,
			Timeout:   x402.DefaultTimeouts.RequestTimeout,
		},
		transport: transport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transport exposes the underlying payment transport, e.g. for embedding in
// another client.
func (c *Client) Transport() *X402Transport {
	return c.transport
}
