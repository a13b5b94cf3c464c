package x402

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// PaymentSelector selects the appropriate signer and creates a payment.
type PaymentSelector interface {
	// SelectAndSign chooses the best signer from the available signers
	// and creates a signed payment for one of the offered requirements.
	SelectAndSign(ctx context.Context, signers []Signer, requirements []PaymentRequirements) (*PaymentPayload, error)
}

// DefaultPaymentSelector implements the standard payment selection algorithm.
// It selects signers based on:
//  1. Ability to satisfy a requirement (network and asset match)
//  2. Requirement order in the accepts list (servers list preferences first)
//  3. Signer priority (lower number = higher priority)
//  4. Asset priority within the signer
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a new DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

// SelectAndSign implements PaymentSelector.
func (s *DefaultPaymentSelector) SelectAndSign(ctx context.Context, signers []Signer, requirements []PaymentRequirements) (*PaymentPayload, error) {
	if len(signers) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}
	if len(requirements) == 0 {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment requirements offered", ErrInvalidRequirements)
	}

	var candidates []signerCandidate
	for reqIdx := range requirements {
		req := &requirements[reqIdx]

		requiredAmount := new(big.Int)
		if _, ok := requiredAmount.SetString(req.Amount, 10); !ok {
			continue
		}

		for _, signer := range signers {
			if !signer.CanSign(req) {
				continue
			}

			// Per-call spending limit
			maxAmount := signer.GetMaxAmount()
			if maxAmount != nil && requiredAmount.Cmp(maxAmount) > 0 {
				continue
			}

			tokenPriority := 0
			for _, token := range signer.GetTokens() {
				if strings.EqualFold(token.Address, req.Asset) {
					tokenPriority = token.Priority
					break
				}
			}

			candidates = append(candidates, signerCandidate{
				signer:         signer,
				requirement:    req,
				reqIndex:       reqIdx,
				signerPriority: signer.GetPriority(),
				tokenPriority:  tokenPriority,
			})
		}
	}

	if len(candidates) == 0 {
		err := NewPaymentError(ErrCodeNoValidSigner, "no signer can satisfy requirements", ErrNoValidSigner)
		for i := range requirements {
			err = err.WithDetails("network", requirements[i].Network).
				WithDetails("asset", requirements[i].Asset).
				WithDetails("amount", requirements[i].Amount)
		}
		return nil, err
	}

	// Requirements order first, then signer priority, then asset priority.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].reqIndex != candidates[j].reqIndex {
			return candidates[i].reqIndex < candidates[j].reqIndex
		}
		if candidates[i].signerPriority != candidates[j].signerPriority {
			return candidates[i].signerPriority < candidates[j].signerPriority
		}
		return candidates[i].tokenPriority < candidates[j].tokenPriority
	})

	selected := candidates[0]
	payment, err := selected.signer.Sign(ctx, selected.requirement)
	if err != nil {
		var perr *PaymentError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, NewPaymentError(ErrCodeSigningFailed, "failed to sign payment",
			fmt.Errorf("%w: %w", ErrSigningFailed, err))
	}

	return payment, nil
}

// signerCandidate represents a signer able to satisfy one requirement.
type signerCandidate struct {
	signer         Signer
	requirement    *PaymentRequirements
	reqIndex       int
	signerPriority int
	tokenPriority  int
}
