package pricing

import (
	"errors"
	"math/big"
	"testing"

	"crowdsale/storage"
)

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

type stubTimeline struct {
	open bool
	err  error
}

func (s stubTimeline) SaleOpen() (bool, error) { return s.open, s.err }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine(storage.NewMemory())
	if err := engine.SetPrice(Native(), usd(2_000), 18, true); err != nil {
		t.Fatalf("set native price: %v", err)
	}
	if err := engine.SetPrice(Token("USDT"), usd(1), 6, true); err != nil {
		t.Fatalf("set token price: %v", err)
	}
	return engine
}

func TestUSDValueNative(t *testing.T) {
	engine := newTestEngine(t)
	// 0.1 coin at 2000 USD.
	amount := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	value, err := engine.USDValue(Native(), amount)
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if value.Cmp(usd(200)) != 0 {
		t.Fatalf("expected 200 USD, got %s", value)
	}
}

func TestUSDValueToken(t *testing.T) {
	engine := newTestEngine(t)
	value, err := engine.USDValue(Token("USDT"), big.NewInt(250_000_000))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if value.Cmp(usd(250)) != 0 {
		t.Fatalf("expected 250 USD, got %s", value)
	}
}

func TestUSDValueDustRejected(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.USDValue(Token("USDT"), big.NewInt(0)); !errors.Is(err, ErrPaymentTooSmall) {
		t.Fatalf("expected ErrPaymentTooSmall for zero, got %v", err)
	}
	// 1 base unit of an 18-decimal asset rounds to zero USD even at a
	// 2000 USD price.
	if _, err := engine.USDValue(Native(), big.NewInt(1)); !errors.Is(err, ErrPaymentTooSmall) {
		t.Fatalf("expected ErrPaymentTooSmall for dust, got %v", err)
	}
}

func TestUnknownOrInactiveTokenRejected(t *testing.T) {
	engine := newTestEngine(t)
	if _, err := engine.USDValue(Token("DOGE"), big.NewInt(1_000_000)); !errors.Is(err, ErrTokenNotAccepted) {
		t.Fatalf("expected ErrTokenNotAccepted, got %v", err)
	}
	if err := engine.SetPrice(Token("USDT"), usd(1), 6, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := engine.USDValue(Token("USDT"), big.NewInt(1_000_000)); !errors.Is(err, ErrTokenNotAccepted) {
		t.Fatalf("expected ErrTokenNotAccepted for inactive token, got %v", err)
	}
}

func TestSaleUnits(t *testing.T) {
	// 200 USD at 10 tokens per USD.
	unitsPerUSD := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	units, err := SaleUnits(usd(200), unitsPerUSD)
	if err != nil {
		t.Fatalf("sale units: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if units.Cmp(want) != 0 {
		t.Fatalf("expected %s units, got %s", want, units)
	}
}

func TestSaleUnitsDustRejected(t *testing.T) {
	// A positive USD value against a tiny per-USD rate can still round to
	// zero units; that is rejected, independently of the first dust guard.
	if _, err := SaleUnits(big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrZeroTokenAmount) {
		t.Fatalf("expected ErrZeroTokenAmount, got %v", err)
	}
}

func TestConvertAppliesBothGuards(t *testing.T) {
	engine := newTestEngine(t)
	unitsPerUSD := new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	usdValue, units, err := engine.Convert(Token("USDT"), big.NewInt(250_000_000), unitsPerUSD)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if usdValue.Cmp(usd(250)) != 0 {
		t.Fatalf("expected 250 USD, got %s", usdValue)
	}
	want := new(big.Int).Mul(big.NewInt(2_500), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if units.Cmp(want) != 0 {
		t.Fatalf("expected %s units, got %s", want, units)
	}
	// 0.999999 USDT at a 1 unit-per-10^8-USD rate truncates to zero units
	// after passing the first guard.
	if _, _, err := engine.Convert(Token("USDT"), big.NewInt(999_999), big.NewInt(1)); !errors.Is(err, ErrZeroTokenAmount) {
		t.Fatalf("expected ErrZeroTokenAmount, got %v", err)
	}
}

// fractionalRate covers a per-USD rate that does not divide the USD scale
// evenly, so truncation behaviour in the second conversion step is visible.
func fractionalRate(t *testing.T) *big.Int {
	t.Helper()
	rate, ok := new(big.Int).SetString("666666666666666667000", 10)
	if !ok {
		t.Fatal("bad rate literal")
	}
	return rate
}

func TestConvertWholeNativeCoinAtFractionalRate(t *testing.T) {
	engine := NewEngine(storage.NewMemory())
	if err := engine.SetPrice(Native(), usd(4_200), 18, true); err != nil {
		t.Fatalf("set native price: %v", err)
	}
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	usdValue, units, err := engine.Convert(Native(), one, fractionalRate(t))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if usdValue.Cmp(usd(4_200)) != 0 {
		t.Fatalf("expected 4200 USD, got %s", usdValue)
	}
	want, _ := new(big.Int).SetString("2800000000000000001400000", 10)
	if units.Cmp(want) != 0 {
		t.Fatalf("expected %s units, got %s", want, units)
	}
}

func TestConvertMinimalTokenUnitStaysPositive(t *testing.T) {
	engine := newTestEngine(t)
	// 1 base unit of a 6-decimal dollar stable is 100 in 8-decimal USD and
	// must still mint a positive unit count at the fractional rate.
	usdValue, units, err := engine.Convert(Token("USDT"), big.NewInt(1), fractionalRate(t))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if usdValue.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 raw USD, got %s", usdValue)
	}
	if units.Cmp(big.NewInt(666_666_666_666_666)) != 0 {
		t.Fatalf("expected 666666666666666 units, got %s", units)
	}
}

func TestSetPriceFrozenWhileSaleOpen(t *testing.T) {
	engine := newTestEngine(t)
	engine.SetTimelineView(stubTimeline{open: true})
	err := engine.SetPrice(Native(), usd(3_000), 18, true)
	if !errors.Is(err, ErrPriceFrozen) {
		t.Fatalf("expected ErrPriceFrozen, got %v", err)
	}
	engine.SetTimelineView(stubTimeline{open: false})
	if err := engine.SetPrice(Native(), usd(3_000), 18, true); err != nil {
		t.Fatalf("set price while closed: %v", err)
	}
	entry, ok, err := engine.Entry(Native())
	if err != nil || !ok {
		t.Fatalf("entry: ok=%t err=%v", ok, err)
	}
	if entry.PriceUSD.Cmp(usd(3_000)) != 0 {
		t.Fatalf("expected updated price, got %s", entry.PriceUSD)
	}
}

func TestSetPriceValidation(t *testing.T) {
	engine := NewEngine(storage.NewMemory())
	if err := engine.SetPrice(Native(), big.NewInt(0), 18, true); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero, got %v", err)
	}
	if err := engine.SetPrice(Native(), nil, 18, true); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for nil, got %v", err)
	}
	if err := engine.SetPrice(Method{}, usd(1), 18, true); err == nil {
		t.Fatal("expected invalid method to fail")
	}
}

func TestMethodKeys(t *testing.T) {
	if Native().Key() != NativeKey {
		t.Fatalf("unexpected native key %q", Native().Key())
	}
	if Token(" usdt ").Key() != "USDT" {
		t.Fatalf("expected normalised token key, got %q", Token(" usdt ").Key())
	}
	if MethodFromKey(NativeKey) != Native() {
		t.Fatal("native key must roundtrip")
	}
	if !Token("USDT").Valid() || Native().IsNative() != true {
		t.Fatal("method predicates broken")
	}
	if (Method{}).Valid() {
		t.Fatal("zero method must be invalid")
	}
}
