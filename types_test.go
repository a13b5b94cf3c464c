package x402

import (
	"errors"
	"testing"
)

func TestAmountToAtomic(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "whole USDC", amount: "1", decimals: 6, want: "1000000"},
		{name: "fractional USDC", amount: "1.5", decimals: 6, want: "1500000"},
		{name: "smallest USDC unit", amount: "0.000001", decimals: 6, want: "1"},
		{name: "APT octas", amount: "0.5", decimals: 8, want: "50000000"},
		{name: "zero", amount: "0", decimals: 6, want: "0"},
		{name: "excess precision", amount: "0.0000001", decimals: 6, wantErr: true},
		{name: "negative", amount: "-1", decimals: 6, wantErr: true},
		{name: "not a number", amount: "abc", decimals: 6, wantErr: true},
		{name: "empty", amount: "", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmountToAtomic(tt.amount, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("AmountToAtomic(%q, %d) = %q, want error", tt.amount, tt.decimals, got)
				}
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("error = %v, want ErrInvalidAmount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AmountToAtomic(%q, %d) error: %v", tt.amount, tt.decimals, err)
			}
			if got != tt.want {
				t.Errorf("AmountToAtomic(%q, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestAtomicToAmount(t *testing.T) {
	tests := []struct {
		atomic   string
		decimals int32
		want     string
	}{
		{atomic: "1500000", decimals: 6, want: "1.5"},
		{atomic: "1", decimals: 6, want: "0.000001"},
		{atomic: "100000000", decimals: 8, want: "1"},
		{atomic: "0", decimals: 6, want: "0"},
	}

	for _, tt := range tests {
		got, err := AtomicToAmount(tt.atomic, tt.decimals)
		if err != nil {
			t.Fatalf("AtomicToAmount(%q, %d) error: %v", tt.atomic, tt.decimals, err)
		}
		if got != tt.want {
			t.Errorf("AtomicToAmount(%q, %d) = %q, want %q", tt.atomic, tt.decimals, got, tt.want)
		}
	}

	if _, err := AtomicToAmount("xyz", 6); err == nil {
		t.Error("expected error for non-numeric atomic amount")
	}
}

func TestFindMatchingRequirement(t *testing.T) {
	base := PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           NetworkAptosTestnet,
		Amount:            "1000000",
		Asset:             AssetAPT,
		PayTo:             "0x123",
		MaxTimeoutSeconds: 60,
	}
	other := base
	other.Asset = AptosTestnet.USDCAddress

	requirements := []PaymentRequirements{base, other}

	payment := &PaymentPayload{
		X402Version: X402Version,
		Accepted:    other,
	}
	got, err := FindMatchingRequirement(payment, requirements)
	if err != nil {
		t.Fatalf("FindMatchingRequirement error: %v", err)
	}
	if got.Asset != other.Asset {
		t.Errorf("matched asset %q, want %q", got.Asset, other.Asset)
	}

	// A tampered amount must not match any offered requirement.
	tampered := other
	tampered.Amount = "1"
	payment.Accepted = tampered
	if _, err := FindMatchingRequirement(payment, requirements); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("tampered amount: error = %v, want ErrUnsupportedScheme", err)
	}
}
