package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide validates a side received from an external caller.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBuy, SideSell:
		return Side(s), nil
	default:
		return "", ErrInvalidSide
	}
}

// EventKind tags an Event.
type EventKind string

const (
	EventTrade      EventKind = "trade"
	EventAdjustment EventKind = "adjustment"
)

// Event is an immutable history record. Trade events use Side, Pair, Currency
// (the base asset), Quantity, Price and Value; adjustment events use Currency,
// Amount and Actor.
type Event struct {
	ID        string          `json:"id"`
	Kind      EventKind       `json:"kind"`
	Side      Side            `json:"side,omitempty"`
	Pair      string          `json:"pair,omitempty"`
	Currency  string          `json:"currency"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Value     decimal.Decimal `json:"value"`
	Amount    decimal.Decimal `json:"amount"`
	Actor     string          `json:"actor,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTradeEvent records a trade of quantity base units at price.
func NewTradeEvent(side Side, pair Pair, quantity, price decimal.Decimal, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventTrade,
		Side:      side,
		Pair:      pair.ID,
		Currency:  pair.Base,
		Quantity:  quantity,
		Price:     price,
		Value:     quantity.Mul(price),
		Timestamp: at,
	}
}

// NewAdjustmentEvent records an administrative overwrite of a balance.
func NewAdjustmentEvent(currency string, amount decimal.Decimal, actor string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      EventAdjustment,
		Currency:  currency,
		Amount:    amount,
		Actor:     actor,
		Timestamp: at,
	}
}

// Account is a participant's balances and history.
type Account struct {
	ID         string    `json:"id"`
	Credential []byte    `json:"-"` // opaque to the core
	Balances   Balances  `json:"balances"`
	History    []Event   `json:"history"`
	Suspended  bool      `json:"suspended"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAccount creates an account with zero balances for every currency given.
func NewAccount(id string, credential []byte, currencies []string, now time.Time) *Account {
	return &Account{
		ID:         id,
		Credential: credential,
		Balances:   NewBalances(currencies...),
		History:    []Event{},
		CreatedAt:  now,
	}
}

// Clone returns a deep copy safe to hand outside the owner's lock.
func (a *Account) Clone() Account {
	history := make([]Event, len(a.History))
	copy(history, a.History)

	var credential []byte
	if a.Credential != nil {
		credential = append([]byte(nil), a.Credential...)
	}

	return Account{
		ID:         a.ID,
		Credential: credential,
		Balances:   a.Balances.Clone(),
		History:    history,
		Suspended:  a.Suspended,
		CreatedAt:  a.CreatedAt,
	}
}

// Summary returns a copy without history, for notifications and persistence.
func (a *Account) Summary() Account {
	return Account{
		ID:         a.ID,
		Credential: a.Credential,
		Balances:   a.Balances.Clone(),
		Suspended:  a.Suspended,
		CreatedAt:  a.CreatedAt,
	}
}

// Message is one entry of an account's support conversation.
type Message struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}
