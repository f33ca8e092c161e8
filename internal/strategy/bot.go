package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/engine"
)

// Executor places trades. *engine.TradeEngine satisfies it.
type Executor interface {
	Execute(ctx context.Context, accountID, pairID string, side domain.Side, quantity float64) (domain.Balances, error)
}

// SeriesSource exposes price series. *service.PriceSimulator satisfies it.
type SeriesSource interface {
	Series(pairID string) ([]float64, error)
}

// BotConfig describes one automated trader.
type BotConfig struct {
	AccountID     string  `json:"account_id"`
	Pair          string  `json:"pair"`
	FastWindow    int     `json:"fast_window"`
	SlowWindow    int     `json:"slow_window"`
	TradeSize     float64 `json:"trade_size"`
	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`
}

// Strategy builds the SMA crossover this bot evaluates.
func (c BotConfig) Strategy() SMACross {
	s := NewSMACross(c.FastWindow, c.SlowWindow)
	if c.BuyThreshold > 0 {
		s.BuyThreshold = c.BuyThreshold
	}
	if c.SellThreshold > 0 {
		s.SellThreshold = c.SellThreshold
	}
	return s
}

// Validate checks the bot parameters.
func (c BotConfig) Validate() error {
	if c.AccountID == "" {
		return domain.ErrInvalidAccount
	}
	if c.Pair == "" {
		return domain.ErrUnknownPair
	}
	if c.TradeSize <= 0 || math.IsNaN(c.TradeSize) || math.IsInf(c.TradeSize, 0) {
		return fmt.Errorf("%w: trade size %v", domain.ErrInvalidQuantity, c.TradeSize)
	}
	return c.Strategy().Validate()
}

// Bot evaluates its strategy on every Poll and trades through the executor
// exactly like a manual caller.
type Bot struct {
	cfg      BotConfig
	strategy Strategy
	exec     Executor
	prices   SeriesSource
	notifier domain.Notifier
	now      func() time.Time
}

// NewBot creates a bot. It does not schedule itself.
func NewBot(cfg BotConfig, exec Executor, prices SeriesSource, notifier domain.Notifier) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Bot{
		cfg:      cfg,
		strategy: cfg.Strategy(),
		exec:     exec,
		prices:   prices,
		notifier: notifier,
		now:      time.Now,
	}, nil
}

// Config returns the bot's parameters.
func (b *Bot) Config() BotConfig {
	return b.cfg
}

// Poll runs one evaluation. It places at most one trade and returns the notice
// it published, or false when the signal was hold.
func (b *Bot) Poll(ctx context.Context) (domain.BotNotice, bool) {
	series, err := b.prices.Series(b.cfg.Pair)
	if err != nil {
		return b.publish(domain.BotNotice{Pair: b.cfg.Pair, Status: domain.BotFailed, Reason: err.Error()}), true
	}

	side, ok := b.strategy.Evaluate(series).Side()
	if !ok {
		return domain.BotNotice{}, false
	}

	notice := domain.BotNotice{Pair: b.cfg.Pair, Side: side, Status: domain.BotExecuted}
	if _, err := b.exec.Execute(ctx, b.cfg.AccountID, b.cfg.Pair, side, b.cfg.TradeSize); err != nil {
		notice.Reason = err.Error()
		if engine.IsInsufficient(err) {
			notice.Status = domain.BotSkipped
		} else {
			notice.Status = domain.BotFailed
			slog.Warn("bot trade failed",
				slog.String("account", b.cfg.AccountID),
				slog.String("pair", b.cfg.Pair),
				slog.Any("error", err),
			)
		}
	}
	return b.publish(notice), true
}

func (b *Bot) publish(n domain.BotNotice) domain.BotNotice {
	b.notifier.Notify(domain.Notification{
		Topic:     domain.TopicBot,
		AccountID: b.cfg.AccountID,
		Bot:       &n,
		At:        b.now(),
	})
	return n
}

// AccountGate reports whether an account may run bots. *ledger.Ledger
// satisfies it.
type AccountGate interface {
	IsSuspended(accountID string) (bool, error)
}

type botKey struct {
	account string
	pair    string
}

type runningBot struct {
	bot  *Bot
	stop func()
}

// Manager keeps at most one running bot per (account, pair).
type Manager struct {
	mu       sync.Mutex
	bots     map[botKey]*runningBot
	sched    engine.Scheduler
	interval time.Duration
	exec     Executor
	prices   SeriesSource
	notifier domain.Notifier
	gate     AccountGate
}

// NewManager creates a manager that polls every interval on sched.
func NewManager(sched engine.Scheduler, interval time.Duration, exec Executor, prices SeriesSource, notifier domain.Notifier) *Manager {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Manager{
		bots:     make(map[botKey]*runningBot),
		sched:    sched,
		interval: interval,
		exec:     exec,
		prices:   prices,
		notifier: notifier,
	}
}

// SetGate makes Start refuse suspended accounts. The check runs under the
// manager lock so a suspension followed by StopAccount cannot be outrun.
func (m *Manager) SetGate(g AccountGate) {
	m.mu.Lock()
	m.gate = g
	m.mu.Unlock()
}

// Start schedules a bot. Starting a bot that already runs for the same
// account and pair is a no-op and reports false.
func (m *Manager) Start(ctx context.Context, cfg BotConfig) (bool, error) {
	bot, err := NewBot(cfg, m.exec, m.prices, m.notifier)
	if err != nil {
		return false, err
	}
	if _, err := m.prices.Series(cfg.Pair); err != nil {
		return false, err
	}

	key := botKey{cfg.AccountID, cfg.Pair}

	m.mu.Lock()
	if m.gate != nil {
		suspended, err := m.gate.IsSuspended(cfg.AccountID)
		if err == nil && suspended {
			err = domain.ErrAccountSuspended
		}
		if err != nil {
			m.mu.Unlock()
			return false, err
		}
	}
	if _, running := m.bots[key]; running {
		m.mu.Unlock()
		return false, nil
	}
	name := "bot:" + cfg.AccountID + ":" + cfg.Pair
	stop := m.sched.Every(ctx, name, m.interval, func(ctx context.Context) {
		bot.Poll(ctx)
	})
	m.bots[key] = &runningBot{bot: bot, stop: stop}
	m.mu.Unlock()

	bot.publish(domain.BotNotice{Pair: cfg.Pair, Status: domain.BotStarted})
	slog.Info("bot started", slog.String("account", cfg.AccountID), slog.String("pair", cfg.Pair))
	return true, nil
}

// Stop halts future polls of a bot. Stopping an inactive bot is a no-op and
// reports false.
func (m *Manager) Stop(accountID, pair string) bool {
	m.mu.Lock()
	rb, ok := m.bots[botKey{accountID, pair}]
	if ok {
		delete(m.bots, botKey{accountID, pair})
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	rb.stop()
	rb.bot.publish(domain.BotNotice{Pair: pair, Status: domain.BotStopped})
	slog.Info("bot stopped", slog.String("account", accountID), slog.String("pair", pair))
	return true
}

// StopAccount stops every bot of an account and returns how many ran.
func (m *Manager) StopAccount(accountID string) int {
	n := 0
	for _, cfg := range m.Running(accountID) {
		if m.Stop(cfg.AccountID, cfg.Pair) {
			n++
		}
	}
	return n
}

// StopAll stops every bot.
func (m *Manager) StopAll() {
	for _, cfg := range m.Running("") {
		m.Stop(cfg.AccountID, cfg.Pair)
	}
}

// Running lists running bots of accountID, or of every account when empty.
func (m *Manager) Running(accountID string) []BotConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]BotConfig, 0, len(m.bots))
	for key, rb := range m.bots {
		if accountID == "" || key.account == accountID {
			out = append(out, rb.bot.Config())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}
