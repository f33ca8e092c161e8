// Package ws pushes core notifications to browser subscribers over websockets.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tradesim/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Push message types.
const (
	TypePrices         = "prices"
	TypeTradeResult    = "trade_result"
	TypeBalanceUpdated = "balance_updated"
	TypeUserUpdate     = "user_update"
	TypeBanned         = "banned"
	TypeChatMessage    = "chat_message"
	TypeBotNotice      = "bot_notice"
)

// Envelope is the JSON frame sent to subscribers.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TradeResult is the payload of a trade_result frame.
type TradeResult struct {
	OK     bool          `json:"ok"`
	Reason string        `json:"reason,omitempty"`
	Event  *domain.Event `json:"event,omitempty"`
}

// ConnectionCounter tracks open connections. *infra.Metrics satisfies it.
type ConnectionCounter interface {
	IncrementConnections()
	DecrementConnections()
}

// PriceSnapshot provides the current prices sent to new subscribers.
// *service.PriceSimulator satisfies it.
type PriceSnapshot interface {
	Snapshot() map[string]float64
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	accountID string
	admin     bool
	closeOnce sync.Once
}

// Hub tracks connected subscribers and routes notifications to them.
// Prices go to everyone, account events to the owner, and user updates to admins.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	counter  ConnectionCounter
	prices   PriceSnapshot
}

// NewHub creates an empty hub. counter and prices may be nil.
func NewHub(counter ConnectionCounter, prices PriceSnapshot) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		counter: counter,
		prices:  prices,
	}
}

// Serve upgrades the request and subscribes the connection. accountID must
// already be authenticated by the caller.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, accountID string, admin bool) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		accountID: accountID,
		admin:     admin,
	}
	// Queued before registration so no tick can overtake it.
	if h.prices != nil {
		if payload, err := json.Marshal(Envelope{Type: TypePrices, Data: h.prices.Snapshot()}); err == nil {
			c.send <- payload
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.counter != nil {
		h.counter.IncrementConnections()
	}
	slog.Debug("ws client connected", slog.String("account", accountID), slog.Bool("admin", admin))

	go c.writePump()
	go c.readPump()
	return nil
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.closeOnce.Do(func() {
		close(c.send)
		if h.counter != nil {
			h.counter.DecrementConnections()
		}
	})
}

// Notify turns a core notification into push frames.
func (h *Hub) Notify(n domain.Notification) {
	switch n.Topic {
	case domain.TopicPrices:
		h.broadcast(func(*client) bool { return true }, Envelope{Type: TypePrices, Data: n.Prices})

	case domain.TopicTrade:
		h.toAccount(n.AccountID, Envelope{Type: TypeTradeResult, Data: TradeResult{OK: true, Event: n.Event}})
		h.balanceAndAdmins(n)

	case domain.TopicTradeRejected:
		h.toAccount(n.AccountID, Envelope{Type: TypeTradeResult, Data: TradeResult{OK: false, Reason: n.Reason}})

	case domain.TopicAdjustment:
		h.balanceAndAdmins(n)

	case domain.TopicAccountCreated:
		h.toAdmins(n)

	case domain.TopicSuspension:
		if n.Account != nil && n.Account.Suspended {
			h.toAccount(n.AccountID, Envelope{Type: TypeBanned, Data: map[string]string{"account_id": n.AccountID}})
		}
		h.toAdmins(n)

	case domain.TopicMessage:
		frame := Envelope{Type: TypeChatMessage, Data: n.Message}
		h.broadcast(func(c *client) bool { return c.admin || c.accountID == n.AccountID }, frame)

	case domain.TopicBot:
		h.toAccount(n.AccountID, Envelope{Type: TypeBotNotice, Data: n.Bot})
	}
}

func (h *Hub) balanceAndAdmins(n domain.Notification) {
	if n.Account != nil {
		h.toAccount(n.AccountID, Envelope{Type: TypeBalanceUpdated, Data: n.Account.Balances})
	}
	h.toAdmins(n)
}

func (h *Hub) toAccount(accountID string, e Envelope) {
	h.broadcast(func(c *client) bool { return !c.admin && c.accountID == accountID }, e)
}

func (h *Hub) toAdmins(n domain.Notification) {
	if n.Account == nil {
		return
	}
	h.broadcast(func(c *client) bool { return c.admin }, Envelope{Type: TypeUserUpdate, Data: n.Account})
}

func (h *Hub) broadcast(match func(*client) bool, e Envelope) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to marshal push frame", slog.String("type", e.Type), slog.Any("error", err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// A client that cannot keep up is dropped rather than stalling the core.
	for _, c := range slow {
		slog.Warn("dropping slow ws client", slog.String("account", c.accountID))
		h.remove(c)
	}
}

// readPump only handles control frames; subscribers never send commands.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws read error", slog.String("account", c.accountID), slog.Any("error", err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
