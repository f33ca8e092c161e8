package storage

import (
	"time"

	"tradesim/internal/domain"

	"github.com/shopspring/decimal"
)

// Amounts are stored as text so SQLite keeps every digit.

// AccountRecord is the persisted account header.
type AccountRecord struct {
	ID         string `gorm:"primaryKey"`
	Credential []byte
	Suspended  bool `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (AccountRecord) TableName() string { return "accounts" }

// BalanceRecord is one currency balance of an account.
type BalanceRecord struct {
	AccountID string          `gorm:"primaryKey"`
	Currency  string          `gorm:"primaryKey"`
	Amount    decimal.Decimal `gorm:"type:text"`
	UpdatedAt time.Time
}

func (BalanceRecord) TableName() string { return "balances" }

// EventRecord is one history entry. Seq preserves append order across accounts
// and doubles as the flat transactions log.
type EventRecord struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	EventID   string `gorm:"uniqueIndex"`
	AccountID string `gorm:"index"`
	Kind      string
	Side      string
	Pair      string
	Currency  string
	Quantity  decimal.Decimal `gorm:"type:text"`
	Price     decimal.Decimal `gorm:"type:text"`
	Value     decimal.Decimal `gorm:"type:text"`
	Amount    decimal.Decimal `gorm:"type:text"`
	Actor     string
	Timestamp time.Time `gorm:"index"`
}

func (EventRecord) TableName() string { return "events" }

// MessageRecord is one support conversation entry.
type MessageRecord struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	MessageID string `gorm:"uniqueIndex"`
	AccountID string `gorm:"index"`
	Sender    string
	Text      string
	Time      time.Time
}

func (MessageRecord) TableName() string { return "messages" }

func newEventRecord(accountID string, ev domain.Event) EventRecord {
	return EventRecord{
		EventID:   ev.ID,
		AccountID: accountID,
		Kind:      string(ev.Kind),
		Side:      string(ev.Side),
		Pair:      ev.Pair,
		Currency:  ev.Currency,
		Quantity:  ev.Quantity,
		Price:     ev.Price,
		Value:     ev.Value,
		Amount:    ev.Amount,
		Actor:     ev.Actor,
		Timestamp: ev.Timestamp,
	}
}

func (r EventRecord) toDomain() domain.Event {
	return domain.Event{
		ID:        r.EventID,
		Kind:      domain.EventKind(r.Kind),
		Side:      domain.Side(r.Side),
		Pair:      r.Pair,
		Currency:  r.Currency,
		Quantity:  r.Quantity,
		Price:     r.Price,
		Value:     r.Value,
		Amount:    r.Amount,
		Actor:     r.Actor,
		Timestamp: r.Timestamp,
	}
}

func (r MessageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:        r.MessageID,
		AccountID: r.AccountID,
		From:      r.Sender,
		Text:      r.Text,
		Time:      r.Time,
	}
}
