package bank

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNilState            = errors.New("bank: state not configured")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
)

// Storage abstracts the subset of state manager functionality required by the
// account ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var accountPrefix = []byte("bank/account/")

// Account tracks the native coin balance held by an address.
type Account struct {
	Balance *big.Int
}

type storedAccount struct {
	Balance string
}

// Ledger maintains native coin balances in the underlying key-value store. All
// balance mutation funnels through the ledger so callers never touch stored
// accounts directly.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func accountKey(addr [20]byte) []byte {
	encoded := hex.EncodeToString(addr[:])
	buf := make([]byte, len(accountPrefix)+len(encoded))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], encoded)
	return buf
}

// BalanceOf returns the current balance for the address. Unknown accounts
// report a zero balance.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilState
	}
	var stored storedAccount
	ok, err := l.store.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseBalance(stored.Balance)
}

// Mint credits freshly issued coins to the address. Intended for genesis
// funding and test fixtures.
func (l *Ledger) Mint(addr [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(addr)
	if err != nil {
		return err
	}
	return l.putBalance(addr, new(big.Int).Add(balance, amount))
}

// Transfer moves amount from one account to another, failing when the source
// balance cannot cover it. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.putBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.putBalance(to, new(big.Int).Add(toBalance, amount))
}

func (l *Ledger) putBalance(addr [20]byte, balance *big.Int) error {
	return l.store.KVPut(accountKey(addr), storedAccount{Balance: balance.String()})
}

func parseBalance(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("bank: invalid stored balance %q", raw)
	}
	return balance, nil
}
