package x402

import (
	"fmt"
	"strings"
)

// CAIP-2 network identifiers for Aptos chains. The reference after the colon
// is the on-chain chain id.
const (
	// NetworkAptosMainnet is Aptos mainnet (chain id 1).
	NetworkAptosMainnet = "aptos:1"

	// NetworkAptosTestnet is Aptos testnet (chain id 2).
	NetworkAptosTestnet = "aptos:2"
)

// AssetAPT is the fungible asset metadata address for the native APT coin.
const AssetAPT = "0xa"

// ChainConfig holds configuration for a specific Aptos network.
type ChainConfig struct {
	// Network is the CAIP-2 network identifier.
	Network string

	// USDCAddress is the Circle USDC fungible asset metadata address.
	USDCAddress string

	// USDCDecimals is the number of decimal places for USDC (always 6).
	USDCDecimals int32

	// APTDecimals is the number of decimal places for APT (always 8, octas).
	APTDecimals int32
}

var (
	// AptosMainnet is the configuration for Aptos mainnet.
	// USDC metadata address verified 2025-11-12.
	AptosMainnet = ChainConfig{
		Network:      NetworkAptosMainnet,
		USDCAddress:  "0xbae207659db88bea0cbead6da0ed00aac12edcdda169e591cd41c94180b46f3b",
		USDCDecimals: 6,
		APTDecimals:  8,
	}

	// AptosTestnet is the configuration for Aptos testnet.
	// USDC metadata address verified 2025-11-12.
	AptosTestnet = ChainConfig{
		Network:      NetworkAptosTestnet,
		USDCAddress:  "0x69091fbab5f7d635ee7ac5098cf0c1efbe31d68fec0f2cd565e8d168daf52832",
		USDCDecimals: 6,
		APTDecimals:  8,
	}
)

// ChainByNetwork returns the chain configuration for a CAIP-2 identifier.
func ChainByNetwork(network string) (ChainConfig, error) {
	switch network {
	case NetworkAptosMainnet:
		return AptosMainnet, nil
	case NetworkAptosTestnet:
		return AptosTestnet, nil
	default:
		return ChainConfig{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
	}
}

// IsAptosNetwork reports whether the CAIP-2 identifier names an Aptos chain.
func IsAptosNetwork(network string) bool {
	return strings.HasPrefix(network, "aptos:")
}

// RequirementsConfig is the input for building a PaymentRequirements value.
// Every optional field has exactly one default, resolved in
// NewPaymentRequirements; nothing is defaulted ad hoc elsewhere.
type RequirementsConfig struct {
	// Chain is the target network configuration (required).
	Chain ChainConfig

	// Amount is the human-readable amount (e.g., "1.5" = 1.5 USDC).
	Amount string

	// Asset is the fungible asset metadata address (required).
	Asset string

	// AssetDecimals is the asset's decimal count, used to convert Amount.
	AssetDecimals int32

	// RecipientAddress is the payment recipient (required).
	RecipientAddress string

	// Sponsored requests gas sponsorship for the payment.
	Sponsored bool

	// Scheme is the payment scheme (optional, defaults to "exact").
	Scheme string

	// MaxTimeoutSeconds is the payment validity window (optional, defaults to 60).
	MaxTimeoutSeconds int

	// Description is an optional human-readable payment description.
	Description string

	// MimeType is the resource content type (optional, defaults to "application/json").
	MimeType string
}

// NewPaymentRequirements builds a PaymentRequirements from the given
// configuration, converting the human-readable amount to atomic units and
// applying all defaults in one place.
func NewPaymentRequirements(config RequirementsConfig) (PaymentRequirements, error) {
	if config.RecipientAddress == "" {
		return PaymentRequirements{}, fmt.Errorf("recipientAddress: cannot be empty")
	}
	if config.Asset == "" {
		return PaymentRequirements{}, fmt.Errorf("asset: cannot be empty")
	}
	if config.Chain.Network == "" {
		return PaymentRequirements{}, fmt.Errorf("chain: cannot be empty")
	}

	atomic, err := AmountToAtomic(config.Amount, config.AssetDecimals)
	if err != nil {
		return PaymentRequirements{}, fmt.Errorf("amount: %w", err)
	}

	scheme := config.Scheme
	if scheme == "" {
		scheme = SchemeExact
	}

	maxTimeout := config.MaxTimeoutSeconds
	if maxTimeout == 0 {
		maxTimeout = 60
	}

	mimeType := config.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	return PaymentRequirements{
		Scheme:            scheme,
		Network:           config.Chain.Network,
		Amount:            atomic,
		Asset:             config.Asset,
		PayTo:             config.RecipientAddress,
		MaxTimeoutSeconds: maxTimeout,
		Sponsored:         config.Sponsored,
		Description:       config.Description,
		MimeType:          mimeType,
	}, nil
}

// NewUSDCPaymentRequirements builds USDC requirements for the given chain.
func NewUSDCPaymentRequirements(chain ChainConfig, amount, recipient string) (PaymentRequirements, error) {
	return NewPaymentRequirements(RequirementsConfig{
		Chain:            chain,
		Amount:           amount,
		Asset:            chain.USDCAddress,
		AssetDecimals:    chain.USDCDecimals,
		RecipientAddress: recipient,
	})
}

// NewAPTPaymentRequirements builds native APT requirements for the given chain.
func NewAPTPaymentRequirements(chain ChainConfig, amount, recipient string) (PaymentRequirements, error) {
	return NewPaymentRequirements(RequirementsConfig{
		Chain:            chain,
		Amount:           amount,
		Asset:            AssetAPT,
		AssetDecimals:    chain.APTDecimals,
		RecipientAddress: recipient,
	})
}

// NewUSDCTokenConfig creates a TokenConfig for USDC on the given chain.
func NewUSDCTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: chain.USDCDecimals,
		Priority: priority,
	}
}

// NewAPTTokenConfig creates a TokenConfig for native APT.
func NewAPTTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  AssetAPT,
		Symbol:   "APT",
		Decimals: chain.APTDecimals,
		Priority: priority,
	}
}
