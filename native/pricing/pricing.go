package pricing

import (
	"fmt"
	"math/big"
	"strings"
)

// USDDecimals is the fixed-point precision used for all USD values.
const USDDecimals = 8

var usdScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(USDDecimals), nil)

// Storage abstracts the subset of state manager functionality required by the
// price table.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TimelineView reports whether any sale timeline is currently open. Prices are
// frozen for the duration of an open timeline.
type TimelineView interface {
	SaleOpen() (bool, error)
}

var pricePrefix = []byte("pricing/price/")

// Entry holds the price metadata for one accepted payment medium. PriceUSD is
// the USD value of one whole unit of the medium, in 8-decimal fixed point.
type Entry struct {
	Key      string
	PriceUSD *big.Int
	Decimals uint8
	Active   bool
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.PriceUSD != nil {
		clone.PriceUSD = new(big.Int).Set(e.PriceUSD)
	}
	return &clone
}

type storedEntry struct {
	Key      string
	PriceUSD string
	Decimals uint8
	Active   bool
}

// Engine maintains the payment price table and performs USD and sale-unit
// conversion.
type Engine struct {
	store     Storage
	timelines TimelineView
}

// NewEngine constructs a pricing engine backed by the supplied store.
func NewEngine(store Storage) *Engine {
	return &Engine{store: store}
}

// SetTimelineView wires the view used to enforce the price freeze.
func (e *Engine) SetTimelineView(view TimelineView) {
	if e == nil {
		return
	}
	e.timelines = view
}

func priceKey(key string) []byte {
	normalized := strings.ToUpper(strings.TrimSpace(key))
	buf := make([]byte, len(pricePrefix)+len(normalized))
	copy(buf, pricePrefix)
	copy(buf[len(pricePrefix):], normalized)
	return buf
}

// SetPrice creates or updates the price entry for the supplied method. The
// update is rejected while any timeline is open so live sales always price
// against a frozen table.
func (e *Engine) SetPrice(method Method, priceUSD *big.Int, decimals uint8, active bool) error {
	if e == nil || e.store == nil {
		return ErrNilState
	}
	if !method.Valid() {
		return ErrTokenNotAccepted
	}
	if active && (priceUSD == nil || priceUSD.Sign() <= 0) {
		return ErrInvalidPrice
	}
	if priceUSD != nil && priceUSD.Sign() < 0 {
		return ErrInvalidPrice
	}
	if e.timelines != nil {
		open, err := e.timelines.SaleOpen()
		if err != nil {
			return err
		}
		if open {
			return ErrPriceFrozen
		}
	}
	stored := storedEntry{Key: method.Key(), Decimals: decimals, Active: active}
	if priceUSD != nil {
		stored.PriceUSD = priceUSD.String()
	} else {
		stored.PriceUSD = "0"
	}
	return e.store.KVPut(priceKey(method.Key()), stored)
}

// Entry returns the price entry for the method, whether active or not.
func (e *Engine) Entry(method Method) (*Entry, bool, error) {
	if e == nil || e.store == nil {
		return nil, false, ErrNilState
	}
	var stored storedEntry
	ok, err := e.store.KVGet(priceKey(method.Key()), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	entry, err := fromStoredEntry(&stored)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func fromStoredEntry(stored *storedEntry) (*Entry, error) {
	price, ok := new(big.Int).SetString(strings.TrimSpace(stored.PriceUSD), 10)
	if !ok {
		return nil, fmt.Errorf("pricing: invalid stored price %q", stored.PriceUSD)
	}
	return &Entry{Key: stored.Key, PriceUSD: price, Decimals: stored.Decimals, Active: stored.Active}, nil
}

// USDValue converts a payment amount into its 8-decimal USD value using the
// active price entry for the method. A conversion that floors to zero is a
// dust payment and is rejected.
func (e *Engine) USDValue(method Method, amount *big.Int) (*big.Int, error) {
	entry, ok, err := e.Entry(method)
	if err != nil {
		return nil, err
	}
	if !ok || !entry.Active {
		return nil, ErrTokenNotAccepted
	}
	if entry.PriceUSD == nil || entry.PriceUSD.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrPaymentTooSmall
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(entry.Decimals)), nil)
	usd := new(big.Int).Mul(amount, entry.PriceUSD)
	usd.Quo(usd, scale)
	if usd.Sign() == 0 {
		return nil, ErrPaymentTooSmall
	}
	return usd, nil
}

// SaleUnits converts an 8-decimal USD value into sale-token base units at the
// supplied round rate (base units per whole USD). The zero guard is applied
// independently of USDValue so rounding in the second step can never mint a
// free zero-unit purchase.
func SaleUnits(usdValue, unitsPerUSD *big.Int) (*big.Int, error) {
	if usdValue == nil || usdValue.Sign() <= 0 {
		return nil, ErrPaymentTooSmall
	}
	if unitsPerUSD == nil || unitsPerUSD.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	units := new(big.Int).Mul(usdValue, unitsPerUSD)
	units.Quo(units, usdScale)
	if units.Sign() == 0 {
		return nil, ErrZeroTokenAmount
	}
	return units, nil
}

// Convert runs the full two-step conversion from payment amount to sale-token
// units, returning the intermediate USD value alongside the unit count.
func (e *Engine) Convert(method Method, amount, unitsPerUSD *big.Int) (usd *big.Int, units *big.Int, err error) {
	usd, err = e.USDValue(method, amount)
	if err != nil {
		return nil, nil, err
	}
	units, err = SaleUnits(usd, unitsPerUSD)
	if err != nil {
		return nil, nil, err
	}
	return usd, units, nil
}
