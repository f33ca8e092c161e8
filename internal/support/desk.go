// Package support keeps the per-account conversation between participants
// and the operator.
package support

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tradesim/internal/domain"

	"github.com/google/uuid"
)

// FromAdmin is the sender of operator messages.
const FromAdmin = "admin"

const maxMessageLen = 2000

// ErrEmptyMessage is returned for blank message text.
var ErrEmptyMessage = errors.New("empty message")

// Desk stores conversations in memory and publishes every new message.
type Desk struct {
	mu            sync.RWMutex
	conversations map[string][]domain.Message
	notifier      domain.Notifier
	now           func() time.Time
}

// NewDesk creates an empty desk.
func NewDesk(notifier domain.Notifier) *Desk {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Desk{
		conversations: make(map[string][]domain.Message),
		notifier:      notifier,
		now:           time.Now,
	}
}

// Post appends a message written by the account holder.
func (d *Desk) Post(accountID, text string) (domain.Message, error) {
	return d.append(accountID, accountID, text)
}

// Reply appends an operator message to accountID's conversation.
func (d *Desk) Reply(accountID, text string) (domain.Message, error) {
	return d.append(accountID, FromAdmin, text)
}

func (d *Desk) append(accountID, from, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyMessage
	}
	if accountID == "" {
		return domain.Message{}, domain.ErrInvalidAccount
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		text = string([]rune(text)[:maxMessageLen])
	}

	m := domain.Message{
		ID:        uuid.NewString(),
		AccountID: accountID,
		From:      from,
		Text:      text,
		Time:      d.now(),
	}

	d.mu.Lock()
	d.conversations[accountID] = append(d.conversations[accountID], m)
	d.mu.Unlock()

	d.notifier.Notify(domain.Notification{
		Topic:     domain.TopicMessage,
		AccountID: accountID,
		Message:   &m,
		At:        m.Time,
	})
	return m, nil
}

// Conversation returns a copy of accountID's messages, oldest first.
func (d *Desk) Conversation(accountID string) []domain.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	msgs := d.conversations[accountID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Restore replaces the in-memory conversations with persisted ones.
func (d *Desk) Restore(conversations map[string][]domain.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, msgs := range conversations {
		d.conversations[id] = append([]domain.Message(nil), msgs...)
	}
}

// Notify tells the account holder when an operator overwrites a balance.
func (d *Desk) Notify(n domain.Notification) {
	if n.Topic != domain.TopicAdjustment || n.Event == nil {
		return
	}
	text := fmt.Sprintf("Your %s balance set to %s", n.Event.Currency, n.Event.Amount.String())
	if _, err := d.Reply(n.AccountID, text); err != nil {
		slog.Warn("Failed to post adjustment notice", slog.String("account", n.AccountID), slog.Any("error", err))
	}
}
