package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Balances maps a currency symbol to a non-negative amount.
// Missing currencies read as zero.
type Balances map[string]decimal.Decimal

// NewBalances creates a balance map with every currency present at zero.
func NewBalances(currencies ...string) Balances {
	b := make(Balances, len(currencies))
	for _, c := range currencies {
		b[c] = decimal.Zero
	}
	return b
}

// Get returns the balance for a symbol, zero if unknown.
func (b Balances) Get(symbol string) decimal.Decimal {
	return b[symbol]
}

// Credit adds funds to the balance.
func (b Balances) Credit(symbol string, amount decimal.Decimal) {
	b[symbol] = b.Get(symbol).Add(amount)
}

// Debit removes funds from the balance. The balance is left untouched and
// ErrInsufficientBalance returned if it cannot cover amount.
func (b Balances) Debit(symbol string, amount decimal.Decimal) error {
	current := b.Get(symbol)
	if current.LessThan(amount) {
		return fmt.Errorf("%w: %s need %s, available %s",
			ErrInsufficientBalance, symbol, amount.String(), current.String())
	}
	b[symbol] = current.Sub(amount)
	return nil
}

// Set overwrites the balance for a symbol.
func (b Balances) Set(symbol string, amount decimal.Decimal) {
	b[symbol] = amount
}

// VerifyInvariant checks that no balance is negative.
// Call this after any state change to ensure data integrity.
func (b Balances) VerifyInvariant() error {
	for symbol, amount := range b {
		if amount.IsNegative() {
			return fmt.Errorf("BALANCE_INVARIANT_NEGATIVE_AMOUNT: %s = %s", symbol, amount.String())
		}
	}
	return nil
}

// Clone returns an independent copy.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Symbols returns the currencies held, sorted.
func (b Balances) Symbols() []string {
	out := make([]string, 0, len(b))
	for k := range b {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Valuation computes the value of all holdings in the quote currency.
// prices maps pair id ("BTC/EUR") to its latest price. Currencies without a
// known "<symbol>/<quote>" pair contribute nothing.
func (b Balances) Valuation(quote string, prices map[string]float64) decimal.Decimal {
	total := b.Get(quote)

	for symbol, amount := range b {
		if symbol == quote || amount.IsZero() {
			continue
		}
		price, ok := prices[PairID(symbol, quote)]
		if !ok {
			continue
		}
		total = total.Add(amount.Mul(decimal.NewFromFloat(price)))
	}

	return total
}
