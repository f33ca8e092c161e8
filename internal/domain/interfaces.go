package domain

import "time"

// Topic identifies the kind of a Notification.
type Topic string

const (
	TopicPrices         Topic = "prices"
	TopicTrade          Topic = "trade"
	TopicTradeRejected  Topic = "trade_rejected"
	TopicAdjustment     Topic = "adjustment"
	TopicAccountCreated Topic = "account_created"
	TopicSuspension     Topic = "suspension"
	TopicBot            Topic = "bot"
	TopicMessage        Topic = "message"
)

// BotStatus describes the outcome of a bot poll or lifecycle change.
type BotStatus string

const (
	BotStarted  BotStatus = "started"
	BotStopped  BotStatus = "stopped"
	BotExecuted BotStatus = "executed"
	BotSkipped  BotStatus = "skipped"
	BotFailed   BotStatus = "failed"
)

// BotNotice is the payload of a TopicBot notification.
type BotNotice struct {
	Pair   string    `json:"pair"`
	Status BotStatus `json:"status"`
	Side   Side      `json:"side,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// Notification is published after every state change the core makes.
// Only the fields relevant to the Topic are set.
type Notification struct {
	Topic     Topic              `json:"topic"`
	AccountID string             `json:"account_id,omitempty"`
	Prices    map[string]float64 `json:"prices,omitempty"`
	Event     *Event             `json:"event,omitempty"`
	Account   *Account           `json:"account,omitempty"` // snapshot after the change
	Bot       *BotNotice         `json:"bot,omitempty"`
	Message   *Message           `json:"message,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	At        time.Time          `json:"at"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// PriceSource is the read side of the simulated market.
type PriceSource interface {
	Pair(id string) (Pair, bool)
	LatestPrice(id string) (float64, error)
	Series(id string) ([]float64, error)
	Snapshot() map[string]float64
}
