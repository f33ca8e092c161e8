package support

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"tradesim/internal/domain"
	"tradesim/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	got []domain.Notification
}

func (r *recorder) Notify(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func TestDesk_PostAndReply(t *testing.T) {
	rec := &recorder{}
	d := NewDesk(rec)

	m, err := d.Post("alice", "  where is my BTC?  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", m.From)
	assert.Equal(t, "where is my BTC?", m.Text)

	_, err = d.Reply("alice", "looking into it")
	require.NoError(t, err)

	conv := d.Conversation("alice")
	require.Len(t, conv, 2)
	assert.Equal(t, FromAdmin, conv[1].From)

	require.Len(t, rec.got, 2)
	for _, n := range rec.got {
		assert.Equal(t, domain.TopicMessage, n.Topic)
		assert.Equal(t, "alice", n.AccountID)
	}

	assert.Empty(t, d.Conversation("bob"))
}

func TestDesk_Rejects(t *testing.T) {
	d := NewDesk(nil)

	_, err := d.Post("alice", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = d.Post("", "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)

	m, err := d.Post("alice", strings.Repeat("x", maxMessageLen+10))
	require.NoError(t, err)
	assert.Len(t, m.Text, maxMessageLen)
}

func TestDesk_TruncatesOnRuneBoundary(t *testing.T) {
	d := NewDesk(nil)

	m, err := d.Post("alice", "a"+strings.Repeat("€", maxMessageLen))
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(m.Text))
	assert.Equal(t, maxMessageLen, utf8.RuneCountInString(m.Text))
	assert.True(t, strings.HasPrefix(m.Text, "a€"))
}

func TestDesk_ConversationIsCopy(t *testing.T) {
	d := NewDesk(nil)
	_, _ = d.Post("alice", "one")

	conv := d.Conversation("alice")
	conv[0].Text = "mutated"

	assert.Equal(t, "one", d.Conversation("alice")[0].Text)
}

func TestDesk_Restore(t *testing.T) {
	d := NewDesk(nil)
	d.Restore(map[string][]domain.Message{
		"alice": {{ID: "1", AccountID: "alice", From: "alice", Text: "old"}},
	})
	_, _ = d.Post("alice", "new")

	conv := d.Conversation("alice")
	require.Len(t, conv, 2)
	assert.Equal(t, "old", conv[0].Text)
	assert.Equal(t, "new", conv[1].Text)
}

func TestDesk_AdjustmentNotice(t *testing.T) {
	d := NewDesk(nil)
	l := ledger.New("EUR", []string{"EUR"}, d)
	_, err := l.Register("alice", nil)
	require.NoError(t, err)

	_, err = l.SetBalance("alice", "EUR", decimal.NewFromInt(1000), "admin")
	require.NoError(t, err)

	conv := d.Conversation("alice")
	require.Len(t, conv, 1)
	assert.Equal(t, FromAdmin, conv[0].From)
	assert.Equal(t, "Your EUR balance set to 1000", conv[0].Text)
}
