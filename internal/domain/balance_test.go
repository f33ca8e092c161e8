package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestBalances_DebitCredit(t *testing.T) {
	b := NewBalances("EUR", "BTC")
	b.Credit("EUR", decimal.NewFromInt(500))

	if err := b.Debit("EUR", decimal.NewFromInt(250)); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if !b.Get("EUR").Equal(decimal.NewFromInt(250)) {
		t.Errorf("Expected 250, got %s", b.Get("EUR"))
	}

	err := b.Debit("EUR", decimal.NewFromInt(251))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}
	if !b.Get("EUR").Equal(decimal.NewFromInt(250)) {
		t.Error("Failed debit must leave balance untouched")
	}
}

func TestBalances_UnknownCurrencyIsZero(t *testing.T) {
	b := NewBalances("EUR")
	if !b.Get("DOGE").IsZero() {
		t.Error("Unknown currency should read as zero")
	}
}

func TestBalances_VerifyInvariant(t *testing.T) {
	b := NewBalances("EUR")
	if err := b.VerifyInvariant(); err != nil {
		t.Errorf("Zero balances should be valid: %v", err)
	}
	b.Set("EUR", decimal.NewFromInt(-1))
	if err := b.VerifyInvariant(); err == nil {
		t.Error("Negative balance should violate invariant")
	}
}

func TestBalances_Valuation(t *testing.T) {
	b := NewBalances("EUR", "BTC", "ETH", "DOGE")
	b.Set("EUR", decimal.NewFromInt(100))
	b.Set("BTC", decimal.RequireFromString("0.01"))
	b.Set("ETH", decimal.NewFromInt(2))
	b.Set("DOGE", decimal.NewFromInt(1000)) // no DOGE/EUR pair

	prices := map[string]float64{
		"BTC/EUR": 25000,
		"ETH/EUR": 1500,
	}

	// 100 + 0.01*25000 + 2*1500 = 3350
	got := b.Valuation("EUR", prices)
	if !got.Equal(decimal.NewFromInt(3350)) {
		t.Errorf("Expected 3350, got %s", got)
	}
}

func TestBalances_CloneIsIndependent(t *testing.T) {
	b := NewBalances("EUR")
	c := b.Clone()
	c.Set("EUR", decimal.NewFromInt(1))
	if !b.Get("EUR").IsZero() {
		t.Error("Clone should not share storage")
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide("buy"); err != nil || s != SideBuy {
		t.Errorf("Expected buy, got %v %v", s, err)
	}
	if _, err := ParseSide("hold"); !errors.Is(err, ErrInvalidSide) {
		t.Errorf("Expected ErrInvalidSide, got %v", err)
	}
}
