package bank

import (
	"errors"
	"math/big"
	"testing"

	"crowdsale/storage"
)

func TestTokenLedgerMintAndBalance(t *testing.T) {
	ledger := NewTokenLedger(storage.NewMemory(), " usdt ", 6, addr(0xEE))
	if ledger.Symbol() != "USDT" {
		t.Fatalf("expected normalized symbol, got %q", ledger.Symbol())
	}
	if ledger.Decimals() != 6 {
		t.Fatalf("expected 6 decimals, got %d", ledger.Decimals())
	}
	account := addr(0x01)
	if err := ledger.Mint(account, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err := ledger.BalanceOf(account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected 1000000, got %s", balance)
	}
}

func TestTokenLedgerTransferFrom(t *testing.T) {
	ledger := NewTokenLedger(storage.NewMemory(), "USDT", 6, addr(0xEE))
	buyer, vault := addr(0x01), addr(0xEE)
	if err := ledger.Mint(buyer, big.NewInt(300)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.TransferFrom(buyer, vault, big.NewInt(200)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	buyerBalance, _ := ledger.BalanceOf(buyer)
	if buyerBalance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 remaining, got %s", buyerBalance)
	}

	// Transfer draws on the configured holder account.
	if err := ledger.Transfer(addr(0x02), big.NewInt(50)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	vaultBalance, _ := ledger.BalanceOf(vault)
	if vaultBalance.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected 150 in vault, got %s", vaultBalance)
	}
}

func TestTokenLedgerRejectsOverdraw(t *testing.T) {
	ledger := NewTokenLedger(storage.NewMemory(), "USDT", 6, addr(0xEE))
	buyer := addr(0x01)
	if err := ledger.Mint(buyer, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.TransferFrom(buyer, addr(0x02), big.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	balance, _ := ledger.BalanceOf(buyer)
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balance moved on failed transfer: %s", balance)
	}
}

func TestTokenLedgerSymbolsIsolated(t *testing.T) {
	store := storage.NewMemory()
	usdt := NewTokenLedger(store, "USDT", 6, addr(0xEE))
	usdc := NewTokenLedger(store, "USDC", 6, addr(0xEE))
	account := addr(0x01)
	if err := usdt.Mint(account, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err := usdc.BalanceOf(account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected isolated symbol balances, got %s", balance)
	}
}
