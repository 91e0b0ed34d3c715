package sale

import (
	"fmt"
	"math/big"
)

// Params controls the limits and switches applied to every purchase. The
// owner capability gates all mutation; values live in state so they survive
// restarts.
type Params struct {
	Owner           [20]byte
	Treasury        [20]byte
	UnsoldRecipient [20]byte
	// MinPurchaseUSD is the per-transaction minimum in 8-decimal USD.
	MinPurchaseUSD *big.Int
	// MaxPurchaseUSD is the default cumulative per-user cap in 8-decimal
	// USD, overridable per buyer through the whitelist.
	MaxPurchaseUSD *big.Int
	// GasBuffer is the native amount retained from each native purchase
	// before the remainder is forwarded to the treasury.
	GasBuffer        *big.Int
	ReferralEnabled  bool
	ReferralBps      uint32
	WhitelistEnabled bool
	KYCRequired      bool
	VoucherEnabled   bool
	// EscrowLaunchTime is the earliest instant anyone may start the escrow
	// timeline.
	EscrowLaunchTime int64
	// EscrowDuration bounds the escrow timeline once started.
	EscrowDuration int64
}

// DefaultParams returns a conservative baseline: referrals and optional gates
// off, no gas buffer, and a zero minimum so dust rejection alone bounds the
// low end.
func DefaultParams() Params {
	return Params{
		MinPurchaseUSD: big.NewInt(0),
		MaxPurchaseUSD: big.NewInt(0),
		GasBuffer:      big.NewInt(0),
	}
}

// Clone returns a deep copy of the params.
func (p Params) Clone() Params {
	clone := p
	clone.MinPurchaseUSD = cloneBigInt(p.MinPurchaseUSD)
	clone.MaxPurchaseUSD = cloneBigInt(p.MaxPurchaseUSD)
	clone.GasBuffer = cloneBigInt(p.GasBuffer)
	return clone
}

// Validate ensures the supplied parameters fall within safe operating ranges.
func (p Params) Validate() error {
	if p.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner required", ErrInvalidParams)
	}
	if p.Treasury == ([20]byte{}) {
		return fmt.Errorf("%w: treasury required", ErrInvalidParams)
	}
	if p.MaxPurchaseUSD == nil || p.MaxPurchaseUSD.Sign() <= 0 {
		return fmt.Errorf("%w: max purchase must be positive", ErrInvalidParams)
	}
	if p.MinPurchaseUSD != nil && p.MinPurchaseUSD.Cmp(p.MaxPurchaseUSD) > 0 {
		return fmt.Errorf("%w: min purchase exceeds max", ErrInvalidParams)
	}
	if p.GasBuffer != nil && p.GasBuffer.Sign() < 0 {
		return fmt.Errorf("%w: gas buffer must be non-negative", ErrInvalidParams)
	}
	if p.ReferralBps > 10_000 {
		return fmt.Errorf("%w: referral bps out of range", ErrInvalidParams)
	}
	if p.ReferralEnabled && p.ReferralBps == 0 {
		return fmt.Errorf("%w: referral enabled with zero bps", ErrInvalidParams)
	}
	if p.EscrowLaunchTime != 0 && p.EscrowDuration <= 0 {
		return fmt.Errorf("%w: escrow duration required", ErrInvalidParams)
	}
	return nil
}
