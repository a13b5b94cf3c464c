// Package validation validates x402 payment requirements, amounts, and Aptos
// addresses before they reach the wire or the facilitator.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/aptos-x402/x402-go"
)

// aptosAddressRegex matches Aptos account addresses: 0x followed by 1-64 hex
// characters. Short forms ("0xa") are legal per AIP-40 relaxed parsing.
var aptosAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{1,64}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Struct tag validator for Aptos addresses, usable as `validate:"aptos_address"`.
	_ = v.RegisterValidation("aptos_address", func(fl validator.FieldLevel) bool {
		return aptosAddressRegex.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates any struct carrying `validate` tags, with the
// aptos_address custom rule registered.
func Struct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateAmount validates that an amount string is a valid positive integer
// in atomic units. Returns an error if the amount is empty, malformed, or not
// greater than zero.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt := new(big.Int)
	if _, ok := amt.SetString(amount, 10); !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}

	return nil
}

// ValidateDecimalAmount validates a human-readable decimal amount string
// (e.g., a configured price such as "1.5").
func ValidateDecimalAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return fmt.Errorf("amount cannot be negative")
	}
	return nil
}

// ValidateAddress validates an Aptos account address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !aptosAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid Aptos address format: %s (expected 0x followed by up to 64 hex characters)", address)
	}
	return nil
}

// ValidatePaymentRequirements performs comprehensive validation of a payment
// requirements entry: amount, network, addresses, and scheme.
func ValidatePaymentRequirements(req x402.PaymentRequirements) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Network == "" {
		return fmt.Errorf("invalid requirement: network cannot be empty")
	}
	if !x402.IsAptosNetwork(req.Network) {
		return fmt.Errorf("invalid requirement: %w: %s", x402.ErrInvalidNetwork, req.Network)
	}
	if _, err := x402.ChainByNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Scheme != x402.SchemeExact {
		return fmt.Errorf("invalid requirement: %w: %s", x402.ErrUnsupportedScheme, req.Scheme)
	}

	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("invalid requirement payTo: %w", err)
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("invalid requirement asset: %w", err)
	}

	if req.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid requirement: maxTimeoutSeconds must be positive")
	}

	return nil
}

// ValidateTransactionHash validates an Aptos transaction hash: 0x followed by
// 64 hex characters.
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if len(hash) != 66 || hash[:2] != "0x" {
		return fmt.Errorf("Aptos transaction hash must be 0x followed by 64 hex characters")
	}
	for _, c := range hash[2:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return fmt.Errorf("Aptos transaction hash must be valid hex")
		}
	}
	return nil
}
