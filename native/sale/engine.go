package sale

import (
	"fmt"
	"math/big"
	"time"

	"crowdsale/core/events"
	"crowdsale/native/authorizer"
	"crowdsale/native/bank"
	nativecommon "crowdsale/native/common"
	"crowdsale/native/pricing"
)

// SaleToken is the external sale-token contract. The engine only ever touches
// it through this surface: minting claim entitlements and returning unsold
// supply.
type SaleToken interface {
	Mint(to [20]byte, amount *big.Int) error
	Transfer(to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
	Decimals() uint8
}

// PaymentToken is an ERC20-style payment medium. TransferFrom draws on the
// buyer's approval; Transfer spends the engine's own holdings.
type PaymentToken interface {
	TransferFrom(from, to [20]byte, amount *big.Int) error
	Transfer(to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
	Decimals() uint8
}

// KYCProvider answers whether a buyer currently passes verification.
type KYCProvider interface {
	IsCurrentlyVerified(addr [20]byte) bool
}

// Engine wires the dual-timeline sale state machine with external state, the
// pricing table, the voucher authorizer, and the native coin ledger. Every
// mutating operation validates first, pulls and verifies payment second,
// updates counters third, and performs outward transfers last.
type Engine struct {
	state         Storage
	emitter       events.Emitter
	nowFn         func() int64
	instance      [20]byte
	saleToken     SaleToken
	paymentTokens map[string]PaymentToken
	kyc           KYCProvider
	auth          *authorizer.Engine
	pricing       *pricing.Engine
	bank          *bank.Ledger
	pauses        nativecommon.PauseView
}

// NewEngine creates a sale engine identified by the supplied instance address.
// The instance address doubles as the vault account on the native ledger and
// as the binding target for purchase vouchers.
func NewEngine(instance [20]byte) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		instance:      instance,
		paymentTokens: make(map[string]PaymentToken),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetSaleToken wires the external sale-token contract.
func (e *Engine) SetSaleToken(token SaleToken) { e.saleToken = token }

// RegisterPaymentToken binds the runtime backend for a payment token symbol.
// The symbol must match the price-table key configured through SetPrice.
func (e *Engine) RegisterPaymentToken(symbol string, token PaymentToken) {
	if e == nil || token == nil {
		return
	}
	method := pricing.Token(symbol)
	if method.TokenSymbol() == "" {
		return
	}
	e.paymentTokens[method.TokenSymbol()] = token
}

// SetKYCProvider wires the verification oracle consulted when KYC is required.
func (e *Engine) SetKYCProvider(provider KYCProvider) { e.kyc = provider }

// SetAuthorizer wires the voucher authorizer.
func (e *Engine) SetAuthorizer(auth *authorizer.Engine) { e.auth = auth }

// SetPricing wires the price table and conversion engine.
func (e *Engine) SetPricing(p *pricing.Engine) { e.pricing = p }

// SetBank wires the native coin ledger.
func (e *Engine) SetBank(l *bank.Ledger) { e.bank = l }

// SetPauses wires an external pause registry consulted ahead of the engine's
// own paused flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// Instance returns the engine's vault/binding address.
func (e *Engine) Instance() [20]byte { return e.instance }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Bootstrap validates and persists the initial parameter set. It fails when
// params already exist so a restart never silently rewrites limits.
func (e *Engine) Bootstrap(params Params) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := params.Validate(); err != nil {
		return err
	}
	var existing storedParams
	ok, err := e.state.KVGet(paramsKey, &existing)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("sale: already bootstrapped")
	}
	return e.storeParams(params)
}

// Params returns a copy of the current parameter set.
func (e *Engine) Params() (Params, error) {
	params, err := e.loadParams()
	if err != nil {
		return Params{}, err
	}
	return params.Clone(), nil
}

func (e *Engine) requireOwner(caller [20]byte) (Params, error) {
	params, err := e.loadParams()
	if err != nil {
		return Params{}, err
	}
	if caller != params.Owner {
		return Params{}, ErrUnauthorized
	}
	return params, nil
}

func (e *Engine) guard() error {
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleSale); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Paused {
		return nativecommon.ErrModulePaused
	}
	return nil
}

// SaleOpen implements pricing.TimelineView: prices may only move while no
// timeline is open.
func (e *Engine) SaleOpen() (bool, error) {
	mode, err := e.ActiveMode()
	if err != nil {
		return false, err
	}
	return mode != ModeNone, nil
}

// ActiveMode derives the open timeline from the clock. The result is never
// cached: once a timeline's end time passes, time alone flips the mode.
func (e *Engine) ActiveMode() (Mode, error) {
	now := e.now()
	main, err := e.loadTimeline(TimelineMain)
	if err != nil {
		return ModeNone, err
	}
	if main.Open(now) {
		return ModeMain, nil
	}
	escrow, err := e.loadTimeline(TimelineEscrow)
	if err != nil {
		return ModeNone, err
	}
	if escrow.Open(now) {
		return ModeEscrow, nil
	}
	return ModeNone, nil
}

func (e *Engine) paymentBackend(method pricing.Method) (PaymentToken, error) {
	if method.IsNative() {
		return nil, nil
	}
	token, ok := e.paymentTokens[method.TokenSymbol()]
	if !ok {
		return nil, ErrPaymentTokenUnknown
	}
	return token, nil
}

// --- admin configuration ---

// ConfigureRound writes the price and capacity for one round. Rounds are
// write-once and frozen as soon as any timeline has started.
func (e *Engine) ConfigureRound(caller [20]byte, id uint8, unitsPerUSD, capacity *big.Int, duration int64) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	if id != RoundOne && id != RoundTwo {
		return ErrInvalidRound
	}
	started, err := e.anyTimelineStarted()
	if err != nil {
		return err
	}
	if started {
		return ErrConfigAfterStart
	}
	if unitsPerUSD == nil || unitsPerUSD.Sign() <= 0 {
		return fmt.Errorf("%w: round price must be positive", ErrInvalidParams)
	}
	if capacity == nil || capacity.Sign() <= 0 {
		return fmt.Errorf("%w: round capacity must be positive", ErrInvalidParams)
	}
	if duration < 0 {
		return fmt.Errorf("%w: round duration must be non-negative", ErrInvalidParams)
	}
	if _, ok, err := e.loadRound(id); err != nil {
		return err
	} else if ok {
		return ErrRoundConfigured
	}
	return e.storeRound(&Round{
		ID:          id,
		UnitsPerUSD: new(big.Int).Set(unitsPerUSD),
		Capacity:    new(big.Int).Set(capacity),
		Sold:        big.NewInt(0),
		Duration:    duration,
	})
}

// SetPrice updates the payment price table. The pricing engine enforces the
// freeze while a timeline is open.
func (e *Engine) SetPrice(caller [20]byte, method pricing.Method, priceUSD *big.Int, decimals uint8, active bool) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.pricing == nil {
		return fmt.Errorf("sale: pricing engine not configured")
	}
	if err := e.pricing.SetPrice(method, priceUSD, decimals, active); err != nil {
		return err
	}
	e.emitPriceUpdated(method, priceUSD, decimals, active)
	return nil
}

// SetLimits updates the per-transaction minimum and the default per-user cap.
func (e *Engine) SetLimits(caller [20]byte, minUSD, maxUSD *big.Int) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.MinPurchaseUSD = cloneBigInt(minUSD)
	params.MaxPurchaseUSD = cloneBigInt(maxUSD)
	if err := params.Validate(); err != nil {
		return err
	}
	return e.storeParams(params)
}

// SetGasBuffer updates the native amount retained from each native purchase.
func (e *Engine) SetGasBuffer(caller [20]byte, buffer *big.Int) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.GasBuffer = cloneBigInt(buffer)
	if err := params.Validate(); err != nil {
		return err
	}
	return e.storeParams(params)
}

// SetTreasury updates the fund destination for forwarded payments and
// withdrawals.
func (e *Engine) SetTreasury(caller, treasury [20]byte) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.Treasury = treasury
	if err := params.Validate(); err != nil {
		return err
	}
	return e.storeParams(params)
}

// SetUnsoldRecipient updates where finalize sends unsold supply.
func (e *Engine) SetUnsoldRecipient(caller, recipient [20]byte) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.UnsoldRecipient = recipient
	return e.storeParams(params)
}

// SetReferral toggles the referral program and its bonus percentage.
func (e *Engine) SetReferral(caller [20]byte, enabled bool, bps uint32) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.ReferralEnabled = enabled
	params.ReferralBps = bps
	if err := params.Validate(); err != nil {
		return err
	}
	return e.storeParams(params)
}

// SetWhitelistEnabled toggles whitelist mode.
func (e *Engine) SetWhitelistEnabled(caller [20]byte, enabled bool) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.WhitelistEnabled = enabled
	return e.storeParams(params)
}

// SetWhitelistAllocation sets a buyer's custom USD allocation.
func (e *Engine) SetWhitelistAllocation(caller, buyer [20]byte, allocationUSD *big.Int) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	if allocationUSD == nil || allocationUSD.Sign() <= 0 {
		return fmt.Errorf("%w: allocation must be positive", ErrInvalidParams)
	}
	return e.state.KVPut(whitelistKey(buyer), storedWhitelist{Buyer: buyer, AllocationUSD: allocationUSD.String()})
}

// ClearWhitelistAllocation removes a buyer's whitelist entry.
func (e *Engine) ClearWhitelistAllocation(caller, buyer [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	return e.state.KVDelete(whitelistKey(buyer))
}

// SetKYCRequired toggles the verification requirement. Enabling it without a
// wired provider would lock every buyer out, so that combination is rejected.
func (e *Engine) SetKYCRequired(caller [20]byte, required bool) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	if required && e.kyc == nil {
		return ErrKYCProviderMissing
	}
	params.KYCRequired = required
	return e.storeParams(params)
}

// SetVoucherEnabled toggles the voucher purchase path.
func (e *Engine) SetVoucherEnabled(caller [20]byte, enabled bool) error {
	params, err := e.requireOwner(caller)
	if err != nil {
		return err
	}
	params.VoucherEnabled = enabled
	return e.storeParams(params)
}

// Pause stops all mutating purchase and settlement traffic.
func (e *Engine) Pause(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	status.Paused = true
	return e.storeStatus(status)
}

// Unpause resumes traffic.
func (e *Engine) Unpause(caller [20]byte) error {
	if _, err := e.requireOwner(caller); err != nil {
		return err
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	status.Paused = false
	return e.storeStatus(status)
}

func (e *Engine) anyTimelineStarted() (bool, error) {
	main, err := e.loadTimeline(TimelineMain)
	if err != nil {
		return false, err
	}
	if main.Started {
		return true, nil
	}
	escrow, err := e.loadTimeline(TimelineEscrow)
	if err != nil {
		return false, err
	}
	return escrow.Started, nil
}
