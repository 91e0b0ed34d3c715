package bank

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

var tokenPrefix = []byte("bank/token/")

// TokenLedger maintains per-symbol token balances in the key-value store. It
// stands in for an external token contract in single-process deployments: the
// holder account is the one debited by Transfer, mirroring a contract spending
// its own funds.
type TokenLedger struct {
	store    Storage
	symbol   string
	decimals uint8
	holder   [20]byte
}

// NewTokenLedger constructs a token ledger for one symbol. The holder address
// is the account Transfer draws on.
func NewTokenLedger(store Storage, symbol string, decimals uint8, holder [20]byte) *TokenLedger {
	return &TokenLedger{
		store:    store,
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		decimals: decimals,
		holder:   holder,
	}
}

// Symbol returns the normalized token symbol.
func (t *TokenLedger) Symbol() string { return t.symbol }

// Decimals returns the token's base-unit precision.
func (t *TokenLedger) Decimals() uint8 { return t.decimals }

func (t *TokenLedger) balanceKey(addr [20]byte) []byte {
	encoded := t.symbol + "/" + hex.EncodeToString(addr[:])
	buf := make([]byte, len(tokenPrefix)+len(encoded))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], encoded)
	return buf
}

// BalanceOf returns the token balance for the address. Unknown accounts report
// zero.
func (t *TokenLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if t == nil || t.store == nil {
		return nil, ErrNilState
	}
	var stored storedAccount
	ok, err := t.store.KVGet(t.balanceKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseBalance(stored.Balance)
}

// Mint credits newly issued tokens to the address.
func (t *TokenLedger) Mint(to [20]byte, amount *big.Int) error {
	if t == nil || t.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	return t.putBalance(to, new(big.Int).Add(balance, amount))
}

// Transfer moves tokens from the configured holder to the recipient.
func (t *TokenLedger) Transfer(to [20]byte, amount *big.Int) error {
	return t.TransferFrom(t.holder, to, amount)
}

// TransferFrom moves tokens between two accounts, failing without mutation
// when the source balance cannot cover the amount.
func (t *TokenLedger) TransferFrom(from, to [20]byte, amount *big.Int) error {
	if t == nil || t.store == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := t.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance,
			hex.EncodeToString(from[:]), fromBalance.String(), amount.String())
	}
	toBalance, err := t.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := t.putBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return t.putBalance(to, new(big.Int).Add(toBalance, amount))
}

func (t *TokenLedger) putBalance(addr [20]byte, balance *big.Int) error {
	return t.store.KVPut(t.balanceKey(addr), storedAccount{Balance: balance.String()})
}
