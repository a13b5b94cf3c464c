package x402

import (
	"context"
	"math/big"
)

// Signer creates signed payment payloads for a specific network.
// The Aptos implementation lives in the aptos subpackage; tests supply fakes.
type Signer interface {
	// Network returns the CAIP-2 network identifier (e.g., "aptos:2").
	Network() string

	// Scheme returns the payment scheme identifier (e.g., "exact").
	Scheme() string

	// CanSign checks if this signer can satisfy the given payment
	// requirements. Returns true if the signer supports the required network
	// and asset.
	CanSign(requirements *PaymentRequirements) bool

	// Sign creates a signed PaymentPayload for the given requirements. The
	// context bounds any chain queries (balance preflight) performed before
	// signing. The returned payload references the requirements value
	// unmodified.
	Sign(ctx context.Context, requirements *PaymentRequirements) (*PaymentPayload, error)

	// GetPriority returns the signer's priority level.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	GetPriority() int

	// GetTokens returns the list of assets supported by this signer.
	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending limit, or nil if no limit is set.
	GetMaxAmount() *big.Int
}

// TokenConfig represents configuration for a supported fungible asset.
type TokenConfig struct {
	// Address is the fungible asset metadata address ("0xa" for APT).
	Address string

	// Symbol is the asset symbol (e.g., "USDC", "APT").
	Symbol string

	// Decimals is the number of decimal places for the asset.
	Decimals int32

	// Priority is the asset's priority level within the signer.
	// Lower numbers indicate higher priority (1 > 2 > 3).
	// Default is 0 if not set.
	Priority int

	// Name is an optional human-readable asset name.
	Name string
}
