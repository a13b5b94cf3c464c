package validation

import (
	"strings"
	"testing"

	"github.com/aptos-x402/x402-go"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "short form", address: "0xa"},
		{name: "full form", address: "0x" + strings.Repeat("ab", 32)},
		{name: "mixed case", address: "0xAbCd1234"},
		{name: "empty", address: "", wantErr: true},
		{name: "no prefix", address: "abc123", wantErr: true},
		{name: "too long", address: "0x" + strings.Repeat("a", 65), wantErr: true},
		{name: "non-hex", address: "0xzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount("1000000"); err != nil {
		t.Errorf("ValidateAmount(1000000) error: %v", err)
	}
	for _, bad := range []string{"", "0", "-5", "1.5", "abc"} {
		if err := ValidateAmount(bad); err == nil {
			t.Errorf("ValidateAmount(%q) should fail", bad)
		}
	}
}

func TestValidateDecimalAmount(t *testing.T) {
	for _, good := range []string{"1.5", "0", "0.000001"} {
		if err := ValidateDecimalAmount(good); err != nil {
			t.Errorf("ValidateDecimalAmount(%q) error: %v", good, err)
		}
	}
	for _, bad := range []string{"", "-0.5", "abc"} {
		if err := ValidateDecimalAmount(bad); err == nil {
			t.Errorf("ValidateDecimalAmount(%q) should fail", bad)
		}
	}
}

func validRequirement() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkAptosTestnet,
		Amount:            "1000000",
		Asset:             x402.AssetAPT,
		PayTo:             "0x123",
		MaxTimeoutSeconds: 60,
	}
}

func TestValidatePaymentRequirements(t *testing.T) {
	if err := ValidatePaymentRequirements(validRequirement()); err != nil {
		t.Fatalf("valid requirement rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*x402.PaymentRequirements)
	}{
		{name: "zero amount", mutate: func(r *x402.PaymentRequirements) { r.Amount = "0" }},
		{name: "empty network", mutate: func(r *x402.PaymentRequirements) { r.Network = "" }},
		{name: "evm network", mutate: func(r *x402.PaymentRequirements) { r.Network = "eip155:8453" }},
		{name: "unknown aptos chain", mutate: func(r *x402.PaymentRequirements) { r.Network = "aptos:99" }},
		{name: "wrong scheme", mutate: func(r *x402.PaymentRequirements) { r.Scheme = "upto" }},
		{name: "bad payTo", mutate: func(r *x402.PaymentRequirements) { r.PayTo = "not-an-address" }},
		{name: "bad asset", mutate: func(r *x402.PaymentRequirements) { r.Asset = "USDC" }},
		{name: "zero timeout", mutate: func(r *x402.PaymentRequirements) { r.MaxTimeoutSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirement()
			tt.mutate(&req)
			if err := ValidatePaymentRequirements(req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateTransactionHash(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)
	if err := ValidateTransactionHash(valid); err != nil {
		t.Errorf("ValidateTransactionHash(%q) error: %v", valid, err)
	}
	for _, bad := range []string{"", "0x123", valid + "ff", "0x" + strings.Repeat("zz", 32)} {
		if err := ValidateTransactionHash(bad); err == nil {
			t.Errorf("ValidateTransactionHash(%q) should fail", bad)
		}
	}
}

func TestStructWithAptosAddressTag(t *testing.T) {
	type payoutConfig struct {
		Recipient string `validate:"required,aptos_address"`
	}

	if err := Struct(&payoutConfig{Recipient: "0xabc"}); err != nil {
		t.Errorf("valid struct rejected: %v", err)
	}
	if err := Struct(&payoutConfig{Recipient: "nope"}); err == nil {
		t.Error("invalid address accepted")
	}
}
