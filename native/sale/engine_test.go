package sale

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"crowdsale/core/events"
	repoCrypto "crowdsale/crypto"
	"crowdsale/native/authorizer"
	"crowdsale/native/bank"
	"crowdsale/native/pricing"
	"crowdsale/storage"
)

const (
	testChainID     = 1887
	testStartTime   = int64(1_000_000)
	testEscrowStart = int64(2_000_000)
	testEscrowSpan  = int64(86_400)
)

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

// usd returns n whole USD in 8-decimal fixed point.
func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

// units returns n whole sale tokens in 18-decimal base units.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// wei returns n native coins in 18-decimal base units.
func wei(n int64) *big.Int { return units(n) }

type testClock struct{ now int64 }

func (c *testClock) Now() int64    { return c.now }
func (c *testClock) Advance(d int64) { c.now += d }

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type fakeSaleToken struct {
	minted   map[[20]byte]*big.Int
	mintErr  error
	decimals uint8
}

func newFakeSaleToken() *fakeSaleToken {
	return &fakeSaleToken{minted: make(map[[20]byte]*big.Int), decimals: 18}
}

func (f *fakeSaleToken) Mint(to [20]byte, amount *big.Int) error {
	if f.mintErr != nil {
		return f.mintErr
	}
	current, ok := f.minted[to]
	if !ok {
		current = big.NewInt(0)
	}
	f.minted[to] = new(big.Int).Add(current, amount)
	return nil
}

func (f *fakeSaleToken) Transfer(to [20]byte, amount *big.Int) error {
	return f.Mint(to, amount)
}

func (f *fakeSaleToken) BalanceOf(a [20]byte) (*big.Int, error) {
	if bal, ok := f.minted[a]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeSaleToken) Decimals() uint8 { return f.decimals }

func (f *fakeSaleToken) balance(a [20]byte) *big.Int {
	bal, _ := f.BalanceOf(a)
	return bal
}

// fakePaymentToken is an ERC20-style double. A non-zero feeBps simulates a
// fee-on-transfer token: TransferFrom credits the recipient with less than the
// nominal amount.
type fakePaymentToken struct {
	balances map[[20]byte]*big.Int
	holder   [20]byte
	feeBps   int64
	decimals uint8
}

func newFakePaymentToken(holder [20]byte, decimals uint8) *fakePaymentToken {
	return &fakePaymentToken{
		balances: make(map[[20]byte]*big.Int),
		holder:   holder,
		decimals: decimals,
	}
}

func (f *fakePaymentToken) credit(a [20]byte, amount *big.Int) {
	current, ok := f.balances[a]
	if !ok {
		current = big.NewInt(0)
	}
	f.balances[a] = new(big.Int).Add(current, amount)
}

func (f *fakePaymentToken) debit(a [20]byte, amount *big.Int) error {
	current, ok := f.balances[a]
	if !ok || current.Cmp(amount) < 0 {
		return fmt.Errorf("fake token: insufficient balance")
	}
	f.balances[a] = new(big.Int).Sub(current, amount)
	return nil
}

func (f *fakePaymentToken) TransferFrom(from, to [20]byte, amount *big.Int) error {
	if err := f.debit(from, amount); err != nil {
		return err
	}
	received := new(big.Int).Set(amount)
	if f.feeBps > 0 {
		fee := new(big.Int).Mul(amount, big.NewInt(f.feeBps))
		fee.Quo(fee, big.NewInt(10_000))
		received.Sub(received, fee)
	}
	f.credit(to, received)
	return nil
}

func (f *fakePaymentToken) Transfer(to [20]byte, amount *big.Int) error {
	if err := f.debit(f.holder, amount); err != nil {
		return err
	}
	f.credit(to, amount)
	return nil
}

func (f *fakePaymentToken) BalanceOf(a [20]byte) (*big.Int, error) {
	if bal, ok := f.balances[a]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (f *fakePaymentToken) Decimals() uint8 { return f.decimals }

func (f *fakePaymentToken) balance(a [20]byte) *big.Int {
	bal, _ := f.BalanceOf(a)
	return bal
}

type fakeKYC struct {
	verified map[[20]byte]bool
}

func (f *fakeKYC) IsCurrentlyVerified(a [20]byte) bool { return f.verified[a] }

type fixture struct {
	engine    *Engine
	clock     *testClock
	emitter   *captureEmitter
	memory    *storage.Memory
	bank      *bank.Ledger
	saleToken *fakeSaleToken
	usdt      *fakePaymentToken
	auth      *authorizer.Engine
	signerKey *repoCrypto.PrivateKey
	owner     [20]byte
	treasury  [20]byte
	unsold    [20]byte
	instance  [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &testClock{now: testStartTime},
		emitter:  &captureEmitter{},
		memory:   storage.NewMemory(),
		owner:    addr(0xAA),
		treasury: addr(0xBB),
		unsold:   addr(0xCC),
		instance: addr(0xEE),
	}
	f.saleToken = newFakeSaleToken()
	f.usdt = newFakePaymentToken(f.instance, 6)
	f.bank = bank.NewLedger(f.memory)

	signerKey, err := repoCrypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate signer key: %v", err)
	}
	f.signerKey = signerKey
	var signer [20]byte
	copy(signer[:], signerKey.PubKey().Address().Bytes())

	f.auth = authorizer.NewEngine(f.memory, testChainID, f.instance)
	f.auth.SetNowFunc(f.clock.Now)
	if err := f.auth.Bootstrap(f.owner, signer); err != nil {
		t.Fatalf("bootstrap authorizer: %v", err)
	}

	engine := NewEngine(f.instance)
	engine.SetState(f.memory)
	engine.SetEmitter(f.emitter)
	engine.SetNowFunc(f.clock.Now)
	engine.SetSaleToken(f.saleToken)
	engine.SetBank(f.bank)
	engine.SetAuthorizer(f.auth)
	engine.RegisterPaymentToken("USDT", f.usdt)

	pricingEngine := pricing.NewEngine(f.memory)
	pricingEngine.SetTimelineView(engine)
	engine.SetPricing(pricingEngine)

	params := DefaultParams()
	params.Owner = f.owner
	params.Treasury = f.treasury
	params.UnsoldRecipient = f.unsold
	params.MinPurchaseUSD = usd(10)
	params.MaxPurchaseUSD = usd(5_000)
	params.GasBuffer = big.NewInt(1_000_000_000_000_000)
	params.ReferralEnabled = true
	params.ReferralBps = 500
	params.VoucherEnabled = true
	params.EscrowLaunchTime = testEscrowStart
	params.EscrowDuration = testEscrowSpan
	if err := engine.Bootstrap(params); err != nil {
		t.Fatalf("bootstrap sale engine: %v", err)
	}

	// Native coin at 2000 USD, USDT at parity.
	if err := pricingEngine.SetPrice(pricing.Native(), usd(2_000), 18, true); err != nil {
		t.Fatalf("set native price: %v", err)
	}
	if err := pricingEngine.SetPrice(pricing.Token("USDT"), usd(1), 6, true); err != nil {
		t.Fatalf("set token price: %v", err)
	}

	f.engine = engine
	return f
}

// configureRounds writes the standard two-round plan: round 1 sells 10 units
// per USD with a 1,000 USD capacity and a one hour cutoff, round 2 sells 5
// units per USD with a 20,000 USD capacity.
func (f *fixture) configureRounds(t *testing.T) {
	t.Helper()
	if err := f.engine.ConfigureRound(f.owner, RoundOne, units(10), units(10_000), 3_600); err != nil {
		t.Fatalf("configure round 1: %v", err)
	}
	if err := f.engine.ConfigureRound(f.owner, RoundTwo, units(5), units(100_000), 0); err != nil {
		t.Fatalf("configure round 2: %v", err)
	}
}

// configureDeepRounds raises both capacities far above anything the per-user
// and per-transaction guards allow, so those guards are the binding ones.
func (f *fixture) configureDeepRounds(t *testing.T) {
	t.Helper()
	if err := f.engine.ConfigureRound(f.owner, RoundOne, units(10), units(1_000_000), 3_600); err != nil {
		t.Fatalf("configure round 1: %v", err)
	}
	if err := f.engine.ConfigureRound(f.owner, RoundTwo, units(5), units(1_000_000), 0); err != nil {
		t.Fatalf("configure round 2: %v", err)
	}
}

func (f *fixture) startMain(t *testing.T, duration int64) {
	t.Helper()
	if err := f.engine.StartMain(f.owner, duration); err != nil {
		t.Fatalf("start main timeline: %v", err)
	}
}

// fund seeds the buyer's native balance.
func (f *fixture) fund(t *testing.T, buyer [20]byte, amount *big.Int) {
	t.Helper()
	if err := f.bank.Mint(buyer, amount); err != nil {
		t.Fatalf("mint native balance: %v", err)
	}
}

func (f *fixture) signVoucher(t *testing.T, v authorizer.Voucher) []byte {
	t.Helper()
	sig, err := authorizer.Sign(v, testChainID, f.signerKey)
	if err != nil {
		t.Fatalf("sign voucher: %v", err)
	}
	return sig
}

func TestBootstrapRejectsSecondCall(t *testing.T) {
	f := newFixture(t)
	params, err := f.engine.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if err := f.engine.Bootstrap(params); err == nil {
		t.Fatal("expected second bootstrap to fail")
	}
}

func TestAdminOpsRequireOwner(t *testing.T) {
	f := newFixture(t)
	intruder := addr(0x99)
	cases := map[string]error{
		"configure round": f.engine.ConfigureRound(intruder, RoundOne, units(10), units(1), 0),
		"set limits":      f.engine.SetLimits(intruder, usd(1), usd(2)),
		"set gas buffer":  f.engine.SetGasBuffer(intruder, big.NewInt(1)),
		"set treasury":    f.engine.SetTreasury(intruder, addr(0x01)),
		"set referral":    f.engine.SetReferral(intruder, true, 100),
		"pause":           f.engine.Pause(intruder),
		"start main":      f.engine.StartMain(intruder, 3_600),
		"finalize":        f.engine.Finalize(intruder),
		"cancel":          f.engine.Cancel(intruder),
		"enable claims":   f.engine.EnableClaims(intruder),
	}
	for name, err := range cases {
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestConfigureRoundWriteOnce(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	err := f.engine.ConfigureRound(f.owner, RoundOne, units(1), units(1), 0)
	if !errors.Is(err, ErrRoundConfigured) {
		t.Fatalf("expected ErrRoundConfigured, got %v", err)
	}
}

func TestConfigureRoundRejectsAfterStart(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 7_200)
	// End the timeline; configuration stays frozen even then.
	f.clock.Advance(8_000)
	err := f.engine.ConfigureRound(f.owner, RoundOne, units(1), units(1), 0)
	if !errors.Is(err, ErrConfigAfterStart) && !errors.Is(err, ErrRoundConfigured) {
		t.Fatalf("expected configuration rejection, got %v", err)
	}
}

func TestConfigureRoundValidatesInputs(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ConfigureRound(f.owner, 3, units(10), units(1), 0); !errors.Is(err, ErrInvalidRound) {
		t.Fatalf("expected ErrInvalidRound, got %v", err)
	}
	if err := f.engine.ConfigureRound(f.owner, RoundOne, big.NewInt(0), units(1), 0); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for zero price, got %v", err)
	}
	if err := f.engine.ConfigureRound(f.owner, RoundOne, units(10), nil, 0); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for nil capacity, got %v", err)
	}
}

func TestPriceFrozenWhileTimelineOpen(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	err := f.engine.SetPrice(f.owner, pricing.Native(), usd(3_000), 18, true)
	if !errors.Is(err, pricing.ErrPriceFrozen) {
		t.Fatalf("expected ErrPriceFrozen, got %v", err)
	}
	// After the timeline lapses prices move again.
	f.clock.Advance(4_000)
	if err := f.engine.SetPrice(f.owner, pricing.Native(), usd(3_000), 18, true); err != nil {
		t.Fatalf("set price after close: %v", err)
	}
	if f.emitter.count(TypePriceUpdated) != 1 {
		t.Fatalf("expected one price update event, got %d", f.emitter.count(TypePriceUpdated))
	}
}

func TestPauseBlocksPurchases(t *testing.T) {
	f := newFixture(t)
	f.configureRounds(t)
	f.startMain(t, 3_600)
	buyer := addr(0x01)
	f.fund(t, buyer, wei(1))
	amount := new(big.Int).Div(wei(1), big.NewInt(10)) // 0.1 coin, 200 USD
	if err := f.engine.Pause(f.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.engine.BuyWithNative(buyer, amount); err == nil {
		t.Fatal("expected paused purchase to fail")
	}
	if err := f.engine.Unpause(f.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := f.engine.BuyWithNative(buyer, amount); err != nil {
		t.Fatalf("purchase after unpause: %v", err)
	}
}
