package aptos

import (
	"context"
	"fmt"

	sdk "github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/aptos-labs/aptos-go-sdk/crypto"

	"github.com/aptos-x402/x402-go"
	"github.com/aptos-x402/x402-go/encoding"
)

// GasStation sponsors network fees for x402 payments. It holds the sponsor
// account that replaces the zero-address fee-payer placeholder clients leave
// in sponsored transactions.
//
// A zero-value GasStation is valid and reports not configured; sponsored
// settlement attempts against it fail with ErrGasStationNotConfigured.
type GasStation struct {
	client  *sdk.Client
	sponsor *sdk.Account
}

// GasStationOption configures a GasStation.
type GasStationOption func(*GasStation)

// WithGasStationClient supplies a pre-built fullnode client.
func WithGasStationClient(client *sdk.Client) GasStationOption {
	return func(g *GasStation) { g.client = client }
}

// NewGasStation creates a gas station from the sponsor's ed25519 private key
// in hex form for the given network.
func NewGasStation(privateKeyHex, network string, opts ...GasStationOption) (*GasStation, error) {
	if privateKeyHex == "" {
		return nil, x402.ErrMissingCredentials
	}

	privateKey := &crypto.Ed25519PrivateKey{}
	if err := privateKey.FromHex(privateKeyHex); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}
	sponsor, err := sdk.NewAccountFromSigner(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	g := &GasStation{sponsor: sponsor}
	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		cfg, err := networkConfig(network)
		if err != nil {
			return nil, err
		}
		client, err := sdk.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create aptos client: %w", err)
		}
		g.client = client
	}

	return g, nil
}

// IsConfigured reports whether the gas station holds a sponsor account.
func (g *GasStation) IsConfigured() bool {
	return g != nil && g.sponsor != nil && g.client != nil
}

// SponsorAddress returns the sponsor's account address.
func (g *GasStation) SponsorAddress() (sdk.AccountAddress, error) {
	if !g.IsConfigured() {
		return sdk.AccountAddress{}, x402.ErrGasStationNotConfigured
	}
	return g.sponsor.Address, nil
}

// SponsorAndSubmit replaces the fee-payer placeholder with the sponsor's
// address, adds the sponsor's signature, submits the transaction, and waits
// for confirmation. Returns the on-chain transaction hash.
func (g *GasStation) SponsorAndSubmit(ctx context.Context, rawTxn *sdk.RawTransactionWithData, senderAuth *crypto.AccountAuthenticator) (string, error) {
	if !g.IsConfigured() {
		return "", x402.ErrGasStationNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if ok := rawTxn.SetFeePayer(g.sponsor.Address); !ok {
		return "", fmt.Errorf("transaction is not a fee-payer transaction")
	}

	sponsorAuth, err := rawTxn.Sign(g.sponsor)
	if err != nil {
		return "", fmt.Errorf("failed to sign as fee payer: %w", err)
	}

	signedTxn, ok := rawTxn.ToFeePayerSignedTransaction(senderAuth, sponsorAuth, []crypto.AccountAuthenticator{})
	if !ok {
		return "", fmt.Errorf("failed to assemble fee-payer transaction")
	}

	pending, err := g.client.SubmitTransaction(signedTxn)
	if err != nil {
		return "", fmt.Errorf("failed to submit sponsored transaction: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	confirmed, err := g.client.WaitForTransaction(pending.Hash)
	if err != nil {
		return "", fmt.Errorf("failed waiting for transaction %s: %w", pending.Hash, err)
	}
	if !confirmed.Success {
		return "", fmt.Errorf("%w: %s", x402.ErrSettlementFailed, confirmed.VmStatus)
	}

	return confirmed.Hash, nil
}

// DecodeSignedTransaction decodes the base64 BCS transaction carried in a
// payment payload back into an SDK signed transaction.
func DecodeSignedTransaction(encoded string) (*sdk.SignedTransaction, error) {
	raw, err := encoding.DecodeTransaction(encoded)
	if err != nil {
		return nil, err
	}

	txn := &sdk.SignedTransaction{}
	if err := bcs.Deserialize(txn, raw); err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	return txn, nil
}
