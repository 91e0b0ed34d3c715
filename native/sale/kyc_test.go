package sale

import (
	"errors"
	"math/big"
	"testing"
)

func TestKYCRequiredNeedsProvider(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetKYCRequired(f.owner, true); !errors.Is(err, ErrKYCProviderMissing) {
		t.Fatalf("expected ErrKYCProviderMissing, got %v", err)
	}
	// Disabling stays allowed without a provider.
	if err := f.engine.SetKYCRequired(f.owner, false); err != nil {
		t.Fatalf("disable without provider: %v", err)
	}
}

func TestKYCRegistryAdmitsAndRevokes(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	registry := NewKYCRegistry(f.memory)
	f.engine.SetKYCProvider(registry)
	if err := f.engine.SetKYCRequired(f.owner, true); err != nil {
		t.Fatalf("require kyc: %v", err)
	}
	f.startMain(t, 3_600)
	buyer := addr(0x01)
	f.usdt.credit(buyer, big.NewInt(300_000_000))

	if _, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(100_000_000)); !errors.Is(err, ErrKYCRequired) {
		t.Fatalf("expected ErrKYCRequired, got %v", err)
	}
	if err := f.engine.SetKYCVerified(f.owner, buyer, true); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	if _, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(100_000_000)); err != nil {
		t.Fatalf("verified purchase: %v", err)
	}
	if err := f.engine.SetKYCVerified(f.owner, buyer, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.engine.BuyWithToken(buyer, "USDT", big.NewInt(100_000_000)); !errors.Is(err, ErrKYCRequired) {
		t.Fatalf("expected ErrKYCRequired after revoke, got %v", err)
	}
}

func TestSetKYCVerifiedRequiresOwnerAndUpdater(t *testing.T) {
	f := newFixture(t)
	buyer := addr(0x01)
	if err := f.engine.SetKYCVerified(addr(0x42), buyer, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// The test fixture's static provider cannot be updated through the
	// engine.
	f.engine.SetKYCProvider(&fakeKYC{verified: map[[20]byte]bool{}})
	if err := f.engine.SetKYCVerified(f.owner, buyer, true); !errors.Is(err, ErrKYCProviderMissing) {
		t.Fatalf("expected ErrKYCProviderMissing, got %v", err)
	}
}
