package sale

import (
	"fmt"
	"math/big"

	"crowdsale/native/pricing"
)

// ClaimTokens pays out the caller's full entitlement, purchased units plus any
// referral bonus, in a single transfer. Claims are all-or-nothing per buyer.
func (e *Engine) ClaimTokens(caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	if status.Cancelled {
		return nil, ErrCancelled
	}
	if !status.ClaimsEnabled {
		return nil, ErrClaimsNotEnabled
	}
	mode, err := e.ActiveMode()
	if err != nil {
		return nil, err
	}
	if mode != ModeNone {
		return nil, ErrNoActiveSaleEnded
	}
	record, err := e.loadUser(caller)
	if err != nil {
		return nil, err
	}
	if record.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if record.Refunded {
		return nil, ErrAlreadyRefunded
	}
	entitlement := new(big.Int).Set(record.TotalUnits)
	referral, err := e.loadReferral(caller)
	if err != nil {
		return nil, err
	}
	bonus := big.NewInt(0)
	if !referral.Claimed && referral.BonusUnits.Sign() > 0 {
		bonus = new(big.Int).Set(referral.BonusUnits)
		entitlement.Add(entitlement, bonus)
	}
	if entitlement.Sign() <= 0 {
		return nil, ErrNothingToClaim
	}
	record.Claimed = true
	if err := e.storeUser(record); err != nil {
		return nil, err
	}
	if bonus.Sign() > 0 {
		referral.Claimed = true
		if err := e.storeReferral(referral); err != nil {
			return nil, err
		}
	}
	if e.saleToken == nil {
		return nil, fmt.Errorf("sale: sale token not configured")
	}
	if err := e.saleToken.Mint(caller, entitlement); err != nil {
		return nil, err
	}
	e.emitClaimed(caller, entitlement, bonus)
	return entitlement, nil
}

// EmergencyRefund returns the caller's paid-in value after a cancellation and
// zeroes their entitlement. Refund and claim are mutually exclusive.
func (e *Engine) EmergencyRefund(caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard(); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if !status.Cancelled {
		return ErrNotCancelled
	}
	record, err := e.loadUser(caller)
	if err != nil {
		return err
	}
	if record.Refunded {
		return ErrAlreadyRefunded
	}
	if record.Claimed {
		return ErrAlreadyClaimed
	}
	native := cloneBigInt(record.NativePaid)
	tokens := make([]TokenPaid, len(record.TokenPaid))
	for i, paid := range record.TokenPaid {
		tokens[i] = TokenPaid{Token: paid.Token, Amount: cloneBigInt(paid.Amount)}
	}
	if native.Sign() <= 0 && len(tokens) == 0 {
		return ErrNothingToRefund
	}
	record.Refunded = true
	record.TotalUnits = big.NewInt(0)
	record.TotalUSD = big.NewInt(0)
	if err := e.storeUser(record); err != nil {
		return err
	}
	if native.Sign() > 0 {
		if e.bank == nil {
			return fmt.Errorf("sale: bank ledger not configured")
		}
		if err := e.bank.Transfer(e.instance, caller, native); err != nil {
			return err
		}
	}
	for _, paid := range tokens {
		backend, err := e.paymentBackend(pricing.Token(paid.Token))
		if err != nil {
			return err
		}
		if err := backend.Transfer(caller, paid.Amount); err != nil {
			return err
		}
	}
	e.emitRefunded(caller, native, tokens)
	return nil
}

// WithdrawNative moves accumulated native balance from the sale instance to
// the treasury. A nil amount sweeps the full balance.
func (e *Engine) WithdrawNative(caller [20]byte, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.requireOwner(caller)
	if err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, fmt.Errorf("sale: bank ledger not configured")
	}
	if amount == nil {
		amount, err = e.bank.BalanceOf(e.instance)
		if err != nil {
			return nil, err
		}
	}
	if amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := e.bank.Transfer(e.instance, params.Treasury, amount); err != nil {
		return nil, err
	}
	e.emitWithdrawal(pricing.Native(), params.Treasury, amount)
	return amount, nil
}

// WithdrawToken moves accumulated balance of a registered payment token to the
// treasury. A nil amount sweeps the full balance.
func (e *Engine) WithdrawToken(caller [20]byte, symbol string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	params, err := e.requireOwner(caller)
	if err != nil {
		return nil, err
	}
	method := pricing.Token(symbol)
	backend, err := e.paymentBackend(method)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		amount, err = backend.BalanceOf(e.instance)
		if err != nil {
			return nil, err
		}
	}
	if amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := backend.Transfer(params.Treasury, amount); err != nil {
		return nil, err
	}
	e.emitWithdrawal(method, params.Treasury, amount)
	return amount, nil
}
