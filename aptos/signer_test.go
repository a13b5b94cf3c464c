package aptos

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	sdk "github.com/aptos-labs/aptos-go-sdk"

	"github.com/aptos-x402/x402-go"
)

// testKey is a throwaway ed25519 seed, never funded anywhere.
const testKey = "0xabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcdabcd"

func plentyOfFunds(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
	return big.NewInt(1 << 40), nil
}

func newTestSigner(t *testing.T, opts ...SignerOption) *Signer {
	t.Helper()
	opts = append([]SignerOption{WithBalanceFunc(plentyOfFunds)}, opts...)
	signer, err := NewSigner(testKey, x402.NetworkAptosTestnet, opts...)
	if err != nil {
		t.Fatalf("NewSigner error: %v", err)
	}
	return signer
}

func testRequirement() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.NetworkAptosTestnet,
		Amount:            "1000000",
		Asset:             x402.AssetAPT,
		PayTo:             "0x123",
		MaxTimeoutSeconds: 60,
	}
}

func TestNewSignerValidation(t *testing.T) {
	if _, err := NewSigner("", x402.NetworkAptosTestnet); !errors.Is(err, x402.ErrMissingCredentials) {
		t.Errorf("empty key: error = %v, want ErrMissingCredentials", err)
	}
	if _, err := NewSigner("0xzz", x402.NetworkAptosTestnet); !errors.Is(err, x402.ErrInvalidKey) {
		t.Errorf("bad key: error = %v, want ErrInvalidKey", err)
	}
	if _, err := NewSigner(testKey, "eip155:1"); !errors.Is(err, x402.ErrInvalidNetwork) {
		t.Errorf("bad network: error = %v, want ErrInvalidNetwork", err)
	}
}

func TestSignerDefaults(t *testing.T) {
	signer := newTestSigner(t)

	if signer.Network() != x402.NetworkAptosTestnet {
		t.Errorf("network = %q", signer.Network())
	}
	if signer.Scheme() != x402.SchemeExact {
		t.Errorf("scheme = %q", signer.Scheme())
	}

	tokens := signer.GetTokens()
	if len(tokens) != 2 {
		t.Fatalf("default tokens = %d, want APT and USDC", len(tokens))
	}
	if tokens[0].Symbol != "APT" || tokens[1].Symbol != "USDC" {
		t.Errorf("tokens = %+v", tokens)
	}
	if signer.GetMaxAmount() != nil {
		t.Error("default max amount should be nil")
	}
}

func TestSignerCanSign(t *testing.T) {
	signer := newTestSigner(t)

	tests := []struct {
		name   string
		mutate func(*x402.PaymentRequirements)
		want   bool
	}{
		{name: "matching APT", mutate: func(*x402.PaymentRequirements) {}, want: true},
		{
			name:   "matching USDC",
			mutate: func(r *x402.PaymentRequirements) { r.Asset = x402.AptosTestnet.USDCAddress },
			want:   true,
		},
		{
			name:   "wrong network",
			mutate: func(r *x402.PaymentRequirements) { r.Network = x402.NetworkAptosMainnet },
			want:   false,
		},
		{
			name:   "wrong scheme",
			mutate: func(r *x402.PaymentRequirements) { r.Scheme = "streaming" },
			want:   false,
		},
		{
			name:   "unknown asset",
			mutate: func(r *x402.PaymentRequirements) { r.Asset = "0x999" },
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequirement()
			tt.mutate(&req)
			if got := signer.CanSign(&req); got != tt.want {
				t.Errorf("CanSign = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignInsufficientBalance(t *testing.T) {
	signer := newTestSigner(t, WithBalanceFunc(func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
		return big.NewInt(10), nil
	}))

	_, err := signer.Sign(context.Background(), ptr(testRequirement()))
	if !errors.Is(err, x402.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	var ibe *InsufficientBalanceError
	if !errors.As(err, &ibe) {
		t.Fatal("error does not carry InsufficientBalanceError")
	}
	// Required includes the gas headroom for an unsponsored APT payment.
	if ibe.Required.String() != "1200000" || ibe.Available.String() != "10" || ibe.Asset != x402.AssetAPT {
		t.Errorf("details = %+v", ibe)
	}
}

func TestSignGasBufferEnforced(t *testing.T) {
	// Balance exactly covers the amount but not the gas headroom an
	// unsponsored APT payment needs.
	signer := newTestSigner(t, WithBalanceFunc(func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
		return big.NewInt(1000000), nil
	}))

	req := testRequirement()
	_, err := signer.Sign(context.Background(), &req)
	if !errors.Is(err, x402.ErrInsufficientBalance) {
		t.Errorf("error = %v, want ErrInsufficientBalance", err)
	}
}

func TestSignFungibleAssetRequiresGasBalance(t *testing.T) {
	// Plenty of USDC, zero APT: the payment balance passes but the gas
	// preflight must still reject an unsponsored payment.
	signer := newTestSigner(t, WithBalanceFunc(func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
		if strings.EqualFold(asset, x402.AssetAPT) {
			return big.NewInt(0), nil
		}
		return big.NewInt(1 << 40), nil
	}))

	req := testRequirement()
	req.Asset = x402.AptosTestnet.USDCAddress
	_, err := signer.Sign(context.Background(), &req)
	if !errors.Is(err, x402.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	var ibe *InsufficientBalanceError
	if !errors.As(err, &ibe) {
		t.Fatal("error does not carry InsufficientBalanceError")
	}
	if ibe.Asset != x402.AssetAPT || ibe.Required.Int64() != gasBufferOctas {
		t.Errorf("details = %+v", ibe)
	}
}

func TestSignBalanceCheckError(t *testing.T) {
	chainDown := errors.New("fullnode unreachable")
	signer := newTestSigner(t, WithBalanceFunc(func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
		return nil, chainDown
	}))

	_, err := signer.Sign(context.Background(), ptr(testRequirement()))
	if !errors.Is(err, chainDown) {
		t.Errorf("error = %v, want wrapped balance error", err)
	}
}

func TestSignAmountExceedsLimit(t *testing.T) {
	var balanceChecked bool
	signer := newTestSigner(t,
		WithMaxAmount(big.NewInt(100)),
		WithBalanceFunc(func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
			balanceChecked = true
			return big.NewInt(1 << 40), nil
		}))

	_, err := signer.Sign(context.Background(), ptr(testRequirement()))
	if !errors.Is(err, x402.ErrAmountExceeded) {
		t.Fatalf("error = %v, want ErrAmountExceeded", err)
	}
	// The limit check runs before any chain access.
	if balanceChecked {
		t.Error("balance queried for an over-limit payment")
	}
}

func TestSignRejectsMismatchedRequirement(t *testing.T) {
	signer := newTestSigner(t)

	req := testRequirement()
	req.Network = x402.NetworkAptosMainnet
	_, err := signer.Sign(context.Background(), &req)
	if !errors.Is(err, x402.ErrUnsupportedScheme) {
		t.Errorf("error = %v, want ErrUnsupportedScheme", err)
	}
}

func TestSignRejectsInvalidRequirement(t *testing.T) {
	signer := newTestSigner(t)

	req := testRequirement()
	req.Amount = "-5"
	if _, err := signer.Sign(context.Background(), &req); err == nil {
		t.Error("negative amount accepted")
	}

	req = testRequirement()
	req.PayTo = "not-an-address"
	if _, err := signer.Sign(context.Background(), &req); err == nil {
		t.Error("bad recipient accepted")
	}
}

func TestTransferPayload(t *testing.T) {
	recipient := sdk.AccountAddress{}
	if err := recipient.ParseStringRelaxed("0x123"); err != nil {
		t.Fatal(err)
	}

	if _, err := transferPayload(x402.AssetAPT, recipient, 100); err != nil {
		t.Errorf("APT payload error: %v", err)
	}
	if _, err := transferPayload(x402.AptosTestnet.USDCAddress, recipient, 100); err != nil {
		t.Errorf("fungible asset payload error: %v", err)
	}
	if _, err := transferPayload("not-an-address", recipient, 100); err == nil {
		t.Error("invalid asset accepted")
	}
}

func TestInsufficientBalanceErrorMessage(t *testing.T) {
	err := &InsufficientBalanceError{
		Required:  big.NewInt(500),
		Available: big.NewInt(3),
		Asset:     x402.AssetAPT,
	}
	msg := err.Error()
	for _, want := range []string{"500", "3", x402.AssetAPT} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func ptr(req x402.PaymentRequirements) *x402.PaymentRequirements {
	return &req
}
