package aptos

import (
	"context"
	"errors"
	"testing"

	"github.com/aptos-x402/x402-go"
)

func TestNewGasStationValidation(t *testing.T) {
	if _, err := NewGasStation("", x402.NetworkAptosTestnet); !errors.Is(err, x402.ErrMissingCredentials) {
		t.Errorf("empty key: error = %v, want ErrMissingCredentials", err)
	}
	if _, err := NewGasStation("0xnothex", x402.NetworkAptosTestnet); !errors.Is(err, x402.ErrInvalidKey) {
		t.Errorf("bad key: error = %v, want ErrInvalidKey", err)
	}
	if _, err := NewGasStation(testKey, "aptos:77"); !errors.Is(err, x402.ErrInvalidNetwork) {
		t.Errorf("bad network: error = %v, want ErrInvalidNetwork", err)
	}
}

func TestGasStationConfigured(t *testing.T) {
	var unset *GasStation
	if unset.IsConfigured() {
		t.Error("nil gas station reports configured")
	}
	if (&GasStation{}).IsConfigured() {
		t.Error("zero-value gas station reports configured")
	}

	station, err := NewGasStation(testKey, x402.NetworkAptosTestnet)
	if err != nil {
		t.Fatalf("NewGasStation error: %v", err)
	}
	if !station.IsConfigured() {
		t.Error("configured gas station reports unconfigured")
	}
	if _, err := station.SponsorAddress(); err != nil {
		t.Errorf("SponsorAddress error: %v", err)
	}
}

func TestGasStationUnconfiguredSponsorship(t *testing.T) {
	station := &GasStation{}
	if _, err := station.SponsorAndSubmit(context.Background(), nil, nil); !errors.Is(err, x402.ErrGasStationNotConfigured) {
		t.Errorf("error = %v, want ErrGasStationNotConfigured", err)
	}
	if _, err := station.SponsorAddress(); !errors.Is(err, x402.ErrGasStationNotConfigured) {
		t.Errorf("SponsorAddress error = %v, want ErrGasStationNotConfigured", err)
	}
}

func TestDecodeSignedTransactionRejectsGarbage(t *testing.T) {
	if _, err := DecodeSignedTransaction("!!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := DecodeSignedTransaction("AAECAw=="); err == nil {
		t.Error("truncated BCS accepted")
	}
}
