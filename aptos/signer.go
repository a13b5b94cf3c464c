// Package aptos implements the Aptos payment signer and gas station
// integration for the x402 engine. Payments are plain APT or fungible asset
// transfers, BCS-serialized and signed locally; sponsored payments leave the
// fee-payer slot as a zero-address placeholder for the facilitator's gas
// station to fill.
package aptos

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	sdk "github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/aptos-labs/aptos-go-sdk/crypto"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/encoding"
	"github.com/aptos-x402/x402-go/validation"
)

// gasBufferOctas is the headroom (0.002 APT) the balance preflight demands
// beyond the transfer amount when the payer also covers gas.
const gasBufferOctas = 200_000

// BalanceFunc reports the owner's balance of an asset in atomic units. The
// signer calls it before signing so an underfunded payment fails fast instead
// of bouncing off the chain.
type BalanceFunc func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error)

// InsufficientBalanceError reports a failed balance preflight.
type InsufficientBalanceError struct {
	Required  *big.Int
	Available *big.Int
	Asset     string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for asset %s: need %s, have %s", e.Asset, e.Required, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return x402.ErrInsufficientBalance
}

// Signer signs x402 payments with an Aptos account.
type Signer struct {
	account   *sdk.Account
	network   string
	client    *sdk.Client
	tokens    []x402.TokenConfig
	priority  int
	maxAmount *big.Int
	balance   BalanceFunc
}

var _ x402.Signer = (*Signer)(nil)

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClient supplies a pre-built Aptos fullnode client, e.g. one pointed at
// a local node.
func WithClient(client *sdk.Client) SignerOption {
	return func(s *Signer) { s.client = client }
}

// WithTokens sets the assets this signer will pay with. The default is APT
// and USDC for the signer's network.
func WithTokens(tokens ...x402.TokenConfig) SignerOption {
	return func(s *Signer) { s.tokens = tokens }
}

// WithPriority sets the signer's selection priority (lower wins).
func WithPriority(priority int) SignerOption {
	return func(s *Signer) { s.priority = priority }
}

// WithMaxAmount caps the atomic amount this signer will pay in a single call.
func WithMaxAmount(max *big.Int) SignerOption {
	return func(s *Signer) { s.maxAmount = new(big.Int).Set(max) }
}

// WithBalanceFunc overrides the balance preflight. Tests use this to avoid
// chain access; passing a func that always returns a large value disables the
// preflight entirely.
func WithBalanceFunc(fn BalanceFunc) SignerOption {
	return func(s *Signer) { s.balance = fn }
}

// NewSigner creates a signer from an ed25519 private key in hex form
// (with or without the 0x prefix) for the given network ("aptos:1" or
// "aptos:2").
func NewSigner(privateKeyHex, network string, opts ...SignerOption) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, x402.ErrMissingCredentials
	}

	privateKey := &crypto.Ed25519PrivateKey{}
	if err := privateKey.FromHex(privateKeyHex); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	account, err := sdk.NewAccountFromSigner(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	return NewSignerFromAccount(account, network, opts...)
}

// NewSignerFromAccount creates a signer around an existing SDK account, which
// also covers hardware-backed and multi-key accounts.
func NewSignerFromAccount(account *sdk.Account, network string, opts ...SignerOption) (*Signer, error) {
	chain, err := x402.ChainByNetwork(network)
	if err != nil {
		return nil, err
	}

	s := &Signer{
		account:  account,
		network:  network,
		priority: 1,
		tokens: []x402.TokenConfig{
			x402.NewAPTTokenConfig(chain, 1),
			x402.NewUSDCTokenConfig(chain, 2),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := networkConfig(network)
		if err != nil {
			return nil, err
		}
		client, err := sdk.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create aptos client: %w", err)
		}
		s.client = client
	}
	if s.balance == nil {
		s.balance = chainBalance(s.client)
	}

	return s, nil
}

func networkConfig(network string) (sdk.NetworkConfig, error) {
	switch network {
	case x402.NetworkAptosMainnet:
		return sdk.MainnetConfig, nil
	case x402.NetworkAptosTestnet:
		return sdk.TestnetConfig, nil
	default:
		return sdk.NetworkConfig{}, fmt.Errorf("%w: %s", x402.ErrInvalidNetwork, network)
	}
}

// Address returns the signer's account address.
func (s *Signer) Address() sdk.AccountAddress {
	return s.account.Address
}

// Network implements x402.Signer.
func (s *Signer) Network() string { return s.network }

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string { return x402.SchemeExact }

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int { return s.priority }

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig { return s.tokens }

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	if s.maxAmount == nil {
		return nil
	}
	return new(big.Int).Set(s.maxAmount)
}

// CanSign implements x402.Signer: the requirement must be on this signer's
// network, use the exact scheme, and name an asset the signer holds.
func (s *Signer) CanSign(requirements *x402.PaymentRequirements) bool {
	if requirements.Network != s.network {
		return false
	}
	if requirements.Scheme != x402.SchemeExact {
		return false
	}
	for _, token := range s.tokens {
		if strings.EqualFold(token.Address, requirements.Asset) {
			return true
		}
	}
	return false
}

// Sign builds, signs, and serializes the payment transaction. The balance
// preflight runs before any signing so an underfunded account fails with
// InsufficientBalanceError rather than producing a doomed transaction.
func (s *Signer) Sign(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentPayload, error) {
	if err := validation.ValidatePaymentRequirements(*requirements); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid payment requirements", err)
	}
	if !s.CanSign(requirements) {
		return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedScheme, "signer cannot satisfy requirements", x402.ErrUnsupportedScheme).
			WithDetails("network", requirements.Network).
			WithDetails("asset", requirements.Asset)
	}

	amount := new(big.Int)
	if _, ok := amount.SetString(requirements.Amount, 10); !ok || amount.Sign() <= 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid payment amount", x402.ErrInvalidAmount)
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeAmountExceeded, "payment exceeds per-call limit", x402.ErrAmountExceeded).
			WithDetails("amount", requirements.Amount).
			WithDetails("limit", s.maxAmount.String())
	}
	if !amount.IsUint64() {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "payment amount out of range", x402.ErrInvalidAmount)
	}

	// For unsponsored APT payments the same balance covers gas, so the
	// preflight demands headroom on top of the transfer amount.
	required := new(big.Int).Set(amount)
	if !requirements.Sponsored && strings.EqualFold(requirements.Asset, x402.AssetAPT) {
		required.Add(required, big.NewInt(gasBufferOctas))
	}

	available, err := s.balance(ctx, s.account.Address, requirements.Asset)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "balance check failed", err)
	}
	if available.Cmp(required) < 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInsufficientBalance, "insufficient balance",
			&InsufficientBalanceError{
				Required:  required,
				Available: available,
				Asset:     requirements.Asset,
			})
	}

	// Gas still comes out of APT when the payment itself is a fungible asset,
	// so an unsponsored non-APT payment needs a second preflight against the
	// APT balance.
	if !requirements.Sponsored && !strings.EqualFold(requirements.Asset, x402.AssetAPT) {
		gas := big.NewInt(gasBufferOctas)
		aptBalance, err := s.balance(ctx, s.account.Address, x402.AssetAPT)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "balance check failed", err)
		}
		if aptBalance.Cmp(gas) < 0 {
			return nil, x402.NewPaymentError(x402.ErrCodeInsufficientBalance, "insufficient balance for gas",
				&InsufficientBalanceError{
					Required:  gas,
					Available: aptBalance,
					Asset:     x402.AssetAPT,
				})
		}
	}

	signedTxn, err := s.buildAndSign(requirements, amount.Uint64())
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign payment transaction", err)
	}

	serialized, err := bcs.Serialize(signedTxn)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to serialize transaction", err)
	}

	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Accepted:    *requirements,
		Payload: x402.AptosPayload{
			Transaction: encoding.EncodeTransaction(serialized),
		},
	}, nil
}

func (s *Signer) buildAndSign(requirements *x402.PaymentRequirements, amount uint64) (*sdk.SignedTransaction, error) {
	recipient := sdk.AccountAddress{}
	if err := recipient.ParseStringRelaxed(requirements.PayTo); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	payload, err := transferPayload(requirements.Asset, recipient, amount)
	if err != nil {
		return nil, err
	}

	options := []any{}
	if requirements.MaxTimeoutSeconds > 0 {
		options = append(options, sdk.ExpirationSeconds(int64(requirements.MaxTimeoutSeconds)))
	}

	if requirements.Sponsored {
		// Fee-payer transaction with the zero address as placeholder; the gas
		// station substitutes its own address and signature at settlement.
		rawTxn, err := s.client.BuildTransactionMultiAgent(
			s.account.Address,
			*payload,
			append(options, sdk.FeePayer(&sdk.AccountZero))...,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build sponsored transaction: %w", err)
		}

		senderAuth, err := rawTxn.Sign(s.account)
		if err != nil {
			return nil, fmt.Errorf("failed to sign sponsored transaction: %w", err)
		}

		signedTxn, ok := rawTxn.ToFeePayerSignedTransaction(
			senderAuth,
			crypto.NoAccountAuthenticator(),
			[]crypto.AccountAuthenticator{},
		)
		if !ok {
			return nil, fmt.Errorf("failed to assemble fee-payer transaction")
		}
		return signedTxn, nil
	}

	rawTxn, err := s.client.BuildTransaction(s.account.Address, *payload, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return rawTxn.SignedTransaction(s.account)
}

// transferPayload builds the right transfer entry function for the asset:
// coin transfer for APT, primary fungible store transfer for everything else.
func transferPayload(asset string, recipient sdk.AccountAddress, amount uint64) (*sdk.TransactionPayload, error) {
	if strings.EqualFold(asset, x402.AssetAPT) {
		entry, err := sdk.CoinTransferPayload(nil, recipient, amount)
		if err != nil {
			return nil, fmt.Errorf("failed to build APT transfer: %w", err)
		}
		return &sdk.TransactionPayload{Payload: entry}, nil
	}

	metadata := sdk.AccountAddress{}
	if err := metadata.ParseStringRelaxed(asset); err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}
	entry, err := sdk.FungibleAssetPrimaryStoreTransferPayload(&metadata, recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to build fungible asset transfer: %w", err)
	}
	return &sdk.TransactionPayload{Payload: entry}, nil
}

// chainBalance is the production balance preflight: APT via the account
// resource, other assets via the primary fungible store view function.
func chainBalance(client *sdk.Client) BalanceFunc {
	return func(ctx context.Context, owner sdk.AccountAddress, asset string) (*big.Int, error) {
		if strings.EqualFold(asset, x402.AssetAPT) {
			balance, err := client.AccountAPTBalance(owner)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch APT balance: %w", err)
			}
			return new(big.Int).SetUint64(balance), nil
		}
		return fungibleAssetBalance(client, owner, asset)
	}
}

func fungibleAssetBalance(client *sdk.Client, owner sdk.AccountAddress, asset string) (*big.Int, error) {
	metadata := sdk.AccountAddress{}
	if err := metadata.ParseStringRelaxed(asset); err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}

	ownerArg, err := bcs.Serialize(&owner)
	if err != nil {
		return nil, err
	}
	metadataArg, err := bcs.Serialize(&metadata)
	if err != nil {
		return nil, err
	}

	result, err := client.View(&sdk.ViewPayload{
		Module: sdk.ModuleId{
			Address: sdk.AccountOne,
			Name:    "primary_fungible_store",
		},
		Function: "balance",
		ArgTypes: []sdk.TypeTag{
			{Value: &sdk.StructTag{
				Address: sdk.AccountOne,
				Module:  "fungible_asset",
				Name:    "Metadata",
			}},
		},
		Args: [][]byte{ownerArg, metadataArg},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fungible asset balance: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty balance view result")
	}

	str, ok := result[0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected balance view result type %T", result[0])
	}
	balance, ok := new(big.Int).SetString(str, 10)
	if !ok {
		return nil, fmt.Errorf("unparseable balance %q", str)
	}
	return balance, nil
}
