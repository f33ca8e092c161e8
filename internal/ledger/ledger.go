// Package ledger is the sole owner of account balances and history.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradesim/internal/domain"

	"github.com/shopspring/decimal"
)

// Ledger holds every account and applies all mutations to them.
// Each account has its own mutex so concurrent trades against one account
// serialize while different accounts proceed in parallel.
type Ledger struct {
	mu         sync.RWMutex // guards the accounts map only
	accounts   map[string]*entry
	quote      string
	currencies []string
	notifier   domain.Notifier
	now        func() time.Time
}

type entry struct {
	mu  sync.Mutex
	acc *domain.Account
}

// New creates an empty ledger. currencies are the balances every new account
// starts with at zero; quote is the reference currency of every pair.
func New(quote string, currencies []string, notifier domain.Notifier) *Ledger {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Ledger{
		accounts:   make(map[string]*entry),
		quote:      quote,
		currencies: append([]string(nil), currencies...),
		notifier:   notifier,
		now:        time.Now,
	}
}

// Quote returns the reference currency.
func (l *Ledger) Quote() string {
	return l.quote
}

// Register creates a zero-balance account.
func (l *Ledger) Register(id string, credential []byte) (domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Account{}, domain.ErrInvalidAccount
	}

	l.mu.Lock()
	if _, exists := l.accounts[id]; exists {
		l.mu.Unlock()
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountExists, id)
	}
	acc := domain.NewAccount(id, credential, l.currencies, l.now())
	e := &entry{acc: acc}
	l.accounts[id] = e
	// Take the entry lock before releasing the map so nobody observes the
	// account ahead of its creation notice.
	e.mu.Lock()
	l.mu.Unlock()
	defer e.mu.Unlock()

	summary := acc.Summary()
	l.notifier.Notify(domain.Notification{
		Topic:     domain.TopicAccountCreated,
		AccountID: id,
		Account:   &summary,
		At:        acc.CreatedAt,
	})

	return acc.Clone(), nil
}

// Restore loads previously persisted accounts. Existing ids are replaced.
// Missing currencies are added at zero.
func (l *Ledger) Restore(accounts []domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range accounts {
		acc := accounts[i].Clone()
		if acc.Balances == nil {
			acc.Balances = domain.NewBalances()
		}
		if err := acc.Balances.VerifyInvariant(); err != nil {
			return fmt.Errorf("restore %s: %w", acc.ID, err)
		}
		for _, c := range l.currencies {
			if _, ok := acc.Balances[c]; !ok {
				acc.Balances[c] = decimal.Zero
			}
		}
		l.accounts[acc.ID] = &entry{acc: &acc}
	}
	return nil
}

func (l *Ledger) lookup(id string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.accounts[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}
	return e, nil
}

// Account returns a deep copy of an account.
func (l *Ledger) Account(id string) (domain.Account, error) {
	e, err := l.lookup(id)
	if err != nil {
		return domain.Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Clone(), nil
}

// Accounts returns copies of all accounts sorted by id.
func (l *Ledger) Accounts() []domain.Account {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.accounts))
	for _, e := range l.accounts {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]domain.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.acc.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Balances returns a copy of an account's balances.
func (l *Ledger) Balances(id string) (domain.Balances, error) {
	e, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Balances.Clone(), nil
}

// History returns the account's events in append order.
func (l *Ledger) History(id string) ([]domain.Event, error) {
	e, err := l.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Event, len(e.acc.History))
	copy(out, e.acc.History)
	return out, nil
}

// IsSuspended reports the account's suspended flag.
func (l *Ledger) IsSuspended(id string) (bool, error) {
	e, err := l.lookup(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc.Suspended, nil
}

// ApplyTrade executes a buy or sell of quantity base units at price as a single
// atomic step. On failure nothing is changed and no event is appended.
func (l *Ledger) ApplyTrade(accountID string, pair domain.Pair, side domain.Side, quantity, price decimal.Decimal) (domain.Balances, domain.Event, error) {
	fail := func(err error) (domain.Balances, domain.Event, error) {
		return nil, domain.Event{}, &domain.TradeError{Op: string(side), AccountID: accountID, Pair: pair.ID, Err: err}
	}

	if !quantity.IsPositive() {
		return fail(domain.ErrInvalidQuantity)
	}
	if !price.IsPositive() {
		return fail(fmt.Errorf("%w: execution price %s", domain.ErrInvalidAmount, price.String()))
	}

	e, err := l.lookup(accountID)
	if err != nil {
		return fail(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	acc := e.acc
	if acc.Suspended {
		return fail(domain.ErrAccountSuspended)
	}

	value := quantity.Mul(price)
	switch side {
	case domain.SideBuy:
		if err := acc.Balances.Debit(pair.Quote, value); err != nil {
			return fail(domain.ErrInsufficientFunds)
		}
		acc.Balances.Credit(pair.Base, quantity)
	case domain.SideSell:
		if err := acc.Balances.Debit(pair.Base, quantity); err != nil {
			return fail(domain.ErrInsufficientAsset)
		}
		acc.Balances.Credit(pair.Quote, value)
	default:
		return fail(domain.ErrInvalidSide)
	}

	ev := domain.NewTradeEvent(side, pair, quantity, price, l.now())
	acc.History = append(acc.History, ev)

	summary := acc.Summary()
	l.notifier.Notify(domain.Notification{
		Topic:     domain.TopicTrade,
		AccountID: accountID,
		Event:     &ev,
		Account:   &summary,
		At:        ev.Timestamp,
	})

	return acc.Balances.Clone(), ev, nil
}

// SetBalance overwrites one balance on behalf of an operator and records an
// adjustment event. Ordinary trading never calls it.
func (l *Ledger) SetBalance(accountID, currency string, amount decimal.Decimal, actor string) (domain.Event, error) {
	fail := func(err error) (domain.Event, error) {
		return domain.Event{}, &domain.TradeError{Op: "set_balance", AccountID: accountID, Err: err}
	}

	currency = strings.TrimSpace(currency)
	if currency == "" {
		return fail(fmt.Errorf("%w: currency is required", domain.ErrInvalidAmount))
	}
	if amount.IsNegative() {
		return fail(fmt.Errorf("%w: %s", domain.ErrInvalidAmount, amount.String()))
	}

	e, err := l.lookup(accountID)
	if err != nil {
		return fail(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.acc.Balances.Set(currency, amount)
	ev := domain.NewAdjustmentEvent(currency, amount, actor, l.now())
	e.acc.History = append(e.acc.History, ev)

	summary := e.acc.Summary()
	l.notifier.Notify(domain.Notification{
		Topic:     domain.TopicAdjustment,
		AccountID: accountID,
		Event:     &ev,
		Account:   &summary,
		At:        ev.Timestamp,
	})

	return ev, nil
}

// SetSuspended toggles the suspended flag.
func (l *Ledger) SetSuspended(accountID string, suspended bool) error {
	e, err := l.lookup(accountID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.acc.Suspended = suspended
	summary := e.acc.Summary()
	l.notifier.Notify(domain.Notification{
		Topic:     domain.TopicSuspension,
		AccountID: accountID,
		Account:   &summary,
		At:        l.now(),
	})
	return nil
}

// TotalValuation values every holding in the quote currency using prices
// keyed by pair id. It has no side effects.
func (l *Ledger) TotalValuation(accountID string, prices map[string]float64) (decimal.Decimal, error) {
	balances, err := l.Balances(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return balances.Valuation(l.quote, prices), nil
}
