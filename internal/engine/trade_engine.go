package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"tradesim/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountLedger is the part of the ledger the engine drives.
type AccountLedger interface {
	IsSuspended(accountID string) (bool, error)
	ApplyTrade(accountID string, pair domain.Pair, side domain.Side, quantity, price decimal.Decimal) (domain.Balances, domain.Event, error)
	Accounts() []domain.Account
}

// TradeEngine is the single entry point for buy and sell requests, whether
// they come from a person or from a bot.
type TradeEngine struct {
	ledger   AccountLedger
	prices   domain.PriceSource
	notifier domain.Notifier
	now      func() time.Time
}

// NewTradeEngine wires the engine to its ledger and price source.
func NewTradeEngine(ledger AccountLedger, prices domain.PriceSource, notifier domain.Notifier) *TradeEngine {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &TradeEngine{
		ledger:   ledger,
		prices:   prices,
		notifier: notifier,
		now:      time.Now,
	}
}

// Execute checks preconditions in a fixed order and applies the trade at the
// latest simulated price. It returns the account's balances after the trade.
func (e *TradeEngine) Execute(ctx context.Context, accountID, pairID string, side domain.Side, quantity float64) (domain.Balances, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	balances, err := e.execute(accountID, pairID, side, quantity)
	if err != nil {
		if domain.IsRejection(err) {
			e.notifier.Notify(domain.Notification{
				Topic:     domain.TopicTradeRejected,
				AccountID: accountID,
				Reason:    err.Error(),
				At:        e.now(),
			})
		}
		return nil, err
	}
	return balances, nil
}

func (e *TradeEngine) execute(accountID, pairID string, side domain.Side, quantity float64) (domain.Balances, error) {
	reject := func(err error) error {
		return &domain.TradeError{Op: string(side), AccountID: accountID, Pair: pairID, Err: err}
	}

	// 1. Suspension
	suspended, err := e.ledger.IsSuspended(accountID)
	if err != nil {
		return nil, reject(err)
	}
	if suspended {
		return nil, reject(domain.ErrAccountSuspended)
	}

	// 2. Pair
	pair, ok := e.prices.Pair(pairID)
	if !ok {
		return nil, reject(domain.ErrUnknownPair)
	}

	// 3. Quantity
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return nil, reject(domain.ErrInvalidQuantity)
	}

	// 4. Price at the instant of execution
	price, err := e.prices.LatestPrice(pairID)
	if err != nil {
		return nil, reject(err)
	}

	// 5. Ledger errors already carry the trade context
	balances, ev, err := e.ledger.ApplyTrade(accountID, pair, side, decimal.NewFromFloat(quantity), decimal.NewFromFloat(price))
	if err != nil {
		return nil, err
	}

	slog.Debug("trade executed",
		slog.String("account", accountID),
		slog.String("pair", pairID),
		slog.String("side", string(side)),
		slog.String("quantity", ev.Quantity.String()),
		slog.String("price", ev.Price.String()),
	)
	return balances, nil
}

// DumpState writes every account to filename for post-mortem inspection.
func (e *TradeEngine) DumpState(filename string) error {
	slog.Info("Dumping ledger state...", slog.String("file", filename))

	data := struct {
		DumpedAt time.Time          `json:"dumped_at"`
		Prices   map[string]float64 `json:"prices"`
		Accounts []domain.Account   `json:"accounts"`
	}{
		DumpedAt: e.now(),
		Prices:   e.prices.Snapshot(),
		Accounts: e.ledger.Accounts(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		return fmt.Errorf("write state dump: %w", err)
	}
	return nil
}

// IsInsufficient reports whether err is a funds or asset shortfall.
func IsInsufficient(err error) bool {
	return errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrInsufficientAsset)
}
