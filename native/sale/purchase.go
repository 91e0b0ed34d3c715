package sale

import (
	"fmt"
	"math/big"

	"crowdsale/native/authorizer"
	"crowdsale/native/pricing"
)

// Receipt summarises one successful purchase.
type Receipt struct {
	Buyer       [20]byte
	Beneficiary [20]byte
	Method      pricing.Method
	Paid        *big.Int
	USDValue    *big.Int
	Units       *big.Int
	BonusUnits  *big.Int
	Referrer    [20]byte
	Round       uint8
	Timeline    TimelineID
	Time        int64
}

type purchaseRequest struct {
	buyer    [20]byte
	method   pricing.Method
	amount   *big.Int
	referrer [20]byte
	voucher  *authorizer.Voucher
	sig      []byte
}

// BuyWithNative purchases sale tokens with the native coin.
func (e *Engine) BuyWithNative(buyer [20]byte, amount *big.Int) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Native(), amount: amount})
}

// BuyWithNativeReferral purchases with the native coin, crediting a referrer.
func (e *Engine) BuyWithNativeReferral(buyer [20]byte, amount *big.Int, referrer [20]byte) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Native(), amount: amount, referrer: referrer})
}

// BuyWithNativeVoucher purchases with the native coin under an issuer-signed
// voucher.
func (e *Engine) BuyWithNativeVoucher(buyer [20]byte, amount *big.Int, voucher *authorizer.Voucher, sig []byte) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Native(), amount: amount, voucher: voucher, sig: sig})
}

// BuyWithNativeVoucherReferral combines the voucher and referral paths for a
// native purchase.
func (e *Engine) BuyWithNativeVoucherReferral(buyer [20]byte, amount *big.Int, voucher *authorizer.Voucher, sig []byte, referrer [20]byte) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Native(), amount: amount, voucher: voucher, sig: sig, referrer: referrer})
}

// BuyWithToken purchases sale tokens with a registered payment token.
func (e *Engine) BuyWithToken(buyer [20]byte, symbol string, amount *big.Int) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Token(symbol), amount: amount})
}

// BuyWithTokenReferral purchases with a payment token, crediting a referrer.
func (e *Engine) BuyWithTokenReferral(buyer [20]byte, symbol string, amount *big.Int, referrer [20]byte) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Token(symbol), amount: amount, referrer: referrer})
}

// BuyWithTokenVoucher purchases with a payment token under an issuer-signed
// voucher.
func (e *Engine) BuyWithTokenVoucher(buyer [20]byte, symbol string, amount *big.Int, voucher *authorizer.Voucher, sig []byte) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Token(symbol), amount: amount, voucher: voucher, sig: sig})
}

// BuyWithTokenVoucherReferral combines the voucher and referral paths for a
// token purchase.
func (e *Engine) BuyWithTokenVoucherReferral(buyer [20]byte, symbol string, amount *big.Int, voucher *authorizer.Voucher, sig []byte, referrer [20]byte) (*Receipt, error) {
	return e.purchase(purchaseRequest{buyer: buyer, method: pricing.Token(symbol), amount: amount, voucher: voucher, sig: sig, referrer: referrer})
}

// purchase is the single internal routine every entrypoint converges on. The
// order is strict: all preconditions and amounts first, then the payment pull
// with delta verification, then counter updates, then the outward forward to
// the treasury.
func (e *Engine) purchase(req purchaseRequest) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !req.method.Valid() {
		return nil, ErrPaymentTokenUnknown
	}
	if req.amount == nil || req.amount.Sign() <= 0 {
		return nil, pricing.ErrPaymentTooSmall
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	timeline, err := e.openTimeline()
	if err != nil {
		return nil, err
	}
	if err := e.maybeTransitionRound(timeline); err != nil {
		return nil, err
	}

	beneficiary := req.buyer
	if req.voucher != nil {
		if !params.VoucherEnabled {
			return nil, ErrVoucherDisabled
		}
		if e.auth == nil {
			return nil, fmt.Errorf("sale: authorizer not configured")
		}
		if req.voucher.Buyer != req.buyer {
			return nil, ErrVoucherBuyerMismatch
		}
		if pricing.MethodFromKey(req.voucher.PayMethod).Key() != req.method.Key() {
			return nil, ErrVoucherMethodMismatch
		}
		if err := e.auth.Verify(req.voucher, req.sig); err != nil {
			return nil, err
		}
		if req.voucher.Beneficiary != ([20]byte{}) {
			beneficiary = req.voucher.Beneficiary
		}
	}

	if params.WhitelistEnabled {
		if _, ok, err := e.loadWhitelist(beneficiary); err != nil {
			return nil, err
		} else if !ok {
			return nil, ErrNotWhitelisted
		}
	}
	if params.KYCRequired {
		if e.kyc == nil || !e.kyc.IsCurrentlyVerified(beneficiary) {
			return nil, ErrKYCRequired
		}
	}

	var referrer [20]byte
	record, err := e.loadUser(beneficiary)
	if err != nil {
		return nil, err
	}
	if req.referrer != ([20]byte{}) {
		if req.referrer == beneficiary {
			return nil, ErrSelfReferral
		}
		// The first referred purchase fixes the referrer for this buyer.
		if record.Referrer == ([20]byte{}) {
			referrer = req.referrer
		} else {
			referrer = record.Referrer
		}
	} else if record.Referrer != ([20]byte{}) {
		referrer = record.Referrer
	}

	if e.pricing == nil {
		return nil, fmt.Errorf("sale: pricing engine not configured")
	}
	round, ok, err := e.loadRound(timeline.ActiveRound)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoundNotConfigured
	}
	usdValue, units, err := e.pricing.Convert(req.method, req.amount, round.UnitsPerUSD)
	if err != nil {
		return nil, err
	}
	if params.MinPurchaseUSD != nil && params.MinPurchaseUSD.Sign() > 0 && usdValue.Cmp(params.MinPurchaseUSD) < 0 {
		return nil, ErrInsufficientPayment
	}
	if req.voucher != nil && req.voucher.USDLimit != nil && usdValue.Cmp(req.voucher.USDLimit) > 0 {
		return nil, ErrVoucherLimitExceeded
	}
	limit, err := e.applicableLimit(params, beneficiary)
	if err != nil {
		return nil, err
	}
	spent := new(big.Int).Add(record.TotalUSD, usdValue)
	if spent.Cmp(limit) > 0 {
		return nil, ErrLimitExceeded
	}
	if units.Cmp(round.Remaining()) > 0 {
		if round.ID == RoundOne {
			return nil, ErrRoundCapacityExceeded
		}
		return nil, ErrSoldOut
	}
	gasBuffer := cloneBigInt(params.GasBuffer)
	if req.method.IsNative() && new(big.Int).Sub(req.amount, gasBuffer).Sign() <= 0 {
		return nil, ErrInsufficientPaymentAfterBuffer
	}

	// Pull the payment and verify what actually arrived.
	if req.method.IsNative() {
		if e.bank == nil {
			return nil, fmt.Errorf("sale: bank ledger not configured")
		}
		if err := e.bank.Transfer(req.buyer, e.instance, req.amount); err != nil {
			return nil, err
		}
	} else {
		backend, err := e.paymentBackend(req.method)
		if err != nil {
			return nil, err
		}
		before, err := backend.BalanceOf(e.instance)
		if err != nil {
			return nil, err
		}
		if err := backend.TransferFrom(req.buyer, e.instance, req.amount); err != nil {
			return nil, err
		}
		after, err := backend.BalanceOf(e.instance)
		if err != nil {
			return nil, err
		}
		delta := new(big.Int).Sub(after, before)
		if delta.Cmp(req.amount) < 0 {
			// Return whatever arrived and reject: crediting is never
			// computed from an amount that was not received in full.
			if delta.Sign() > 0 {
				if err := backend.Transfer(req.buyer, delta); err != nil {
					return nil, err
				}
			}
			return nil, ErrDeflationaryTokenRejected
		}
	}

	// Payment is in; the voucher nonce may now be burned.
	if req.voucher != nil {
		if err := e.auth.Consume(req.voucher.Buyer, req.voucher.Nonce); err != nil {
			return nil, err
		}
	}

	// Effects.
	now := e.now()
	round.Sold = new(big.Int).Add(cloneBigInt(round.Sold), units)
	if err := e.storeRound(round); err != nil {
		return nil, err
	}
	record.TotalUnits = new(big.Int).Add(record.TotalUnits, units)
	record.TotalUSD = spent
	record.Timeline = timeline.ID
	if req.method.IsNative() {
		record.NativePaid = new(big.Int).Add(record.NativePaid, req.amount)
	} else {
		record.addTokenPaid(req.method.TokenSymbol(), req.amount)
	}
	bonus := big.NewInt(0)
	if params.ReferralEnabled && referrer != ([20]byte{}) {
		if record.Referrer == ([20]byte{}) {
			record.Referrer = referrer
		}
		bonus = new(big.Int).Mul(units, big.NewInt(int64(params.ReferralBps)))
		bonus.Quo(bonus, big.NewInt(10_000))
		if bonus.Sign() > 0 {
			ref, err := e.loadReferral(referrer)
			if err != nil {
				return nil, err
			}
			ref.BonusUnits = new(big.Int).Add(ref.BonusUnits, bonus)
			ref.BonusBps = params.ReferralBps
			ref.Purchases++
			if err := e.storeReferral(ref); err != nil {
				return nil, err
			}
		}
	}
	if err := e.storeUser(record); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	totals.UnitsSold.Add(totals.UnitsSold, units)
	totals.BonusUnits.Add(totals.BonusUnits, bonus)
	totals.USDRaised.Add(totals.USDRaised, usdValue)
	if err := e.storeTotals(totals); err != nil {
		return nil, err
	}
	receipt := &Receipt{
		Buyer:       req.buyer,
		Beneficiary: beneficiary,
		Method:      req.method,
		Paid:        new(big.Int).Set(req.amount),
		USDValue:    usdValue,
		Units:       units,
		BonusUnits:  bonus,
		Referrer:    referrer,
		Round:       round.ID,
		Timeline:    timeline.ID,
		Time:        now,
	}
	if err := e.appendPurchase(receipt); err != nil {
		return nil, err
	}
	e.emitPurchase(receipt)

	// Interactions: native payments forward to the treasury immediately,
	// net of the gas buffer. Token payments accumulate under the sale
	// instance until the owner withdraws them.
	if req.method.IsNative() {
		forward := new(big.Int).Sub(req.amount, gasBuffer)
		if err := e.bank.Transfer(e.instance, params.Treasury, forward); err != nil {
			return nil, err
		}
	}
	return receipt, nil
}

func (e *Engine) applicableLimit(params Params, buyer [20]byte) (*big.Int, error) {
	if params.WhitelistEnabled {
		entry, ok, err := e.loadWhitelist(buyer)
		if err != nil {
			return nil, err
		}
		if ok && entry.AllocationUSD != nil && entry.AllocationUSD.Sign() > 0 {
			return entry.AllocationUSD, nil
		}
	}
	return cloneBigInt(params.MaxPurchaseUSD), nil
}
