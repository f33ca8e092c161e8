package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradesim/internal/auth"
	"tradesim/internal/domain"
	"tradesim/internal/engine"
	"tradesim/internal/infra"
	"tradesim/internal/infra/ws"
	"tradesim/internal/ledger"
	"tradesim/internal/report"
	"tradesim/internal/service"
	"tradesim/internal/strategy"
	"tradesim/internal/support"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminPassword = "op-pass"

type testEnv struct {
	router  *gin.Engine
	ledger  *ledger.Ledger
	bots    *strategy.Manager
	desk    *support.Desk
	metrics *infra.Metrics
}

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return buildTestEnv(t, false)
}

// newTestEnvWithHub also serves /ws.
func newTestEnvWithHub(t *testing.T) *testEnv {
	t.Helper()
	return buildTestEnv(t, true)
}

func buildTestEnv(t *testing.T, withHub bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pairs := []domain.Pair{
		domain.NewPair("BTC", "EUR", 25000, 0.01),
		domain.NewPair("ETH", "EUR", 1500, 0.01),
	}
	// Never ticked, so prices stay at their initial values.
	market, err := service.NewPriceSimulator(service.DefaultSimulatorConfig(pairs), nil)
	require.NoError(t, err)

	metrics := infra.NewMetrics()
	desk := support.NewDesk(metrics)
	l := ledger.New("EUR", market.Currencies(), desk)
	trader := engine.NewTradeEngine(l, market, metrics)
	bots := strategy.NewManager(engine.NewManualScheduler(), time.Second, trader, market, metrics)
	bots.SetGate(l)

	var hub *ws.Hub
	if withHub {
		hub = ws.NewHub(metrics, market)
		t.Cleanup(hub.Close)
	}

	srv := NewServer(context.Background(), Deps{
		Auth:        auth.NewService(l, "test-secret", adminPassword, time.Hour, bcrypt.MinCost),
		Ledger:      l,
		Trader:      trader,
		Market:      market,
		Bots:        bots,
		Desk:        desk,
		Hub:         hub,
		Metrics:     metrics,
		BotDefaults: strategy.BotConfig{FastWindow: 3, SlowWindow: 5, TradeSize: 0.01},
		Version:     "test",
		Logger:      setupTestLogger(),
	})

	return &testEnv{router: srv.SetupRoutes(), ledger: l, bots: bots, desk: desk, metrics: metrics}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/login", "", credentialsRequest{username, password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

// signup registers username and returns a session token for it.
func (e *testEnv) signup(t *testing.T, username string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/register", "", credentialsRequest{username, "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return e.login(t, username, "pw")
}

func (e *testEnv) fund(t *testing.T, username string, eur int64) {
	t.Helper()
	_, err := e.ledger.SetBalance(username, "EUR", decimal.NewFromInt(eur), auth.AdminUsername)
	require.NoError(t, err)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeaderKey))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, ServiceName, body["service"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeaderKey, "abc-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeaderKey))
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"created", credentialsRequest{"alice", "pw"}, http.StatusCreated},
		{"duplicate", credentialsRequest{"alice", "pw"}, http.StatusConflict},
		{"reserved admin", credentialsRequest{"admin", "pw"}, http.StatusConflict},
		{"missing password", credentialsRequest{"bob", ""}, http.StatusBadRequest},
		{"malformed", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/register", "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodPost, "/api/login", "", credentialsRequest{"alice", "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := env.login(t, "alice", "pw")
	assert.NotEmpty(t, token)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMarketEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/prices", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var prices map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prices))
	assert.Equal(t, 25000.0, prices["BTC/EUR"])
	assert.Equal(t, 1500.0, prices["ETH/EUR"])

	w = env.do(t, http.MethodGet, "/api/series?pair=BTC/EUR", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/series?pair=DOGE/EUR", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/pairs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pairs []domain.Pair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pairs))
	assert.Len(t, pairs, 2)
}

func TestTrade_BuyScenario(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")
	env.fund(t, "alice", 1000)

	w := env.do(t, http.MethodPost, "/api/trade", token, tradeRequest{Pair: "BTC/EUR", Side: "buy", Quantity: 0.02})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Balances domain.Balances `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Balances.Get("EUR").Equal(decimal.NewFromInt(500)))
	assert.True(t, resp.Balances.Get("BTC").Equal(decimal.RequireFromString("0.02")))

	w = env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me MeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Username)
	assert.Len(t, me.History, 2)
	assert.True(t, me.Valuation.Equal(decimal.NewFromInt(1000)), me.Valuation.String())
}

func TestTrade_Rejections(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")
	env.fund(t, "alice", 100)

	tests := []struct {
		name   string
		req    tradeRequest
		status int
	}{
		{"insufficient funds", tradeRequest{"BTC/EUR", "buy", 1}, http.StatusUnprocessableEntity},
		{"insufficient asset", tradeRequest{"ETH/EUR", "sell", 1}, http.StatusUnprocessableEntity},
		{"unknown pair", tradeRequest{"DOGE/EUR", "buy", 1}, http.StatusNotFound},
		{"zero quantity", tradeRequest{"BTC/EUR", "buy", 0}, http.StatusBadRequest},
		{"negative quantity", tradeRequest{"BTC/EUR", "sell", -1}, http.StatusBadRequest},
		{"bad side", tradeRequest{"BTC/EUR", "hold", 1}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/trade", token, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	balances, err := env.ledger.Balances("alice")
	require.NoError(t, err)
	assert.True(t, balances.Get("EUR").Equal(decimal.NewFromInt(100)))

	history, err := env.ledger.History("alice")
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejections must not append events")
	assert.Equal(t, uint64(5), env.metrics.Snapshot().TradesRejected)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")

	for _, path := range []string{"/api/admin/users", "/api/admin/chat/alice"} {
		w := env.do(t, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
	w := env.do(t, http.MethodPost, "/api/admin/set-balance", token, setBalanceRequest{"alice", "EUR", decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdmin_SetBalanceAndUsers(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")
	admin := env.login(t, auth.AdminUsername, adminPassword)

	w := env.do(t, http.MethodPost, "/api/admin/set-balance", admin, setBalanceRequest{"alice", "EUR", decimal.NewFromInt(750)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/admin/set-balance", admin, setBalanceRequest{"nobody", "EUR", decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/set-balance", admin, setBalanceRequest{"alice", "EUR", decimal.NewFromInt(-1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "credential")

	var users []domain.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.True(t, users[0].Balances.Get("EUR").Equal(decimal.NewFromInt(750)))

	// The adjustment shows up in the user's conversation.
	w = env.do(t, http.MethodGet, "/api/admin/chat/alice", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "Your EUR balance set to 750", msgs[0].Text)
}

func TestAdmin_Ban(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")
	env.fund(t, "alice", 1000)
	admin := env.login(t, auth.AdminUsername, adminPassword)

	w := env.do(t, http.MethodPost, "/api/bots", token, botRequest{Pair: "BTC/EUR"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/admin/ban", admin, banRequest{"alice", true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.bots.Running("alice"))

	w = env.do(t, http.MethodPost, "/api/trade", token, tradeRequest{"BTC/EUR", "buy", 0.01})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/bots", token, botRequest{Pair: "BTC/EUR"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/login", "", credentialsRequest{"alice", "pw"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/ban", admin, banRequest{"alice", false})
	require.Equal(t, http.StatusOK, w.Code)
	env.login(t, "alice", "pw")
}

func TestBots(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")

	w := env.do(t, http.MethodPost, "/api/bots", token, botRequest{Pair: "BTC/EUR", FastWindow: 2, SlowWindow: 4})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/bots", token, botRequest{Pair: "BTC/EUR"})
	require.Equal(t, http.StatusOK, w.Code)
	var dup struct {
		Started bool `json:"started"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dup))
	assert.False(t, dup.Started)

	w = env.do(t, http.MethodPost, "/api/bots", token, botRequest{Pair: "DOGE/EUR"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/bots", token, botRequest{Pair: "ETH/EUR", TradeSize: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/bots", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var running []strategy.BotConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &running))
	require.Len(t, running, 1)
	assert.Equal(t, 2, running[0].FastWindow)
	assert.Equal(t, 4, running[0].SlowWindow)
	assert.Equal(t, 0.01, running[0].TradeSize)

	w = env.do(t, http.MethodDelete, "/api/bots?pair=BTC/EUR", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stopped":true}`, w.Body.String())

	w = env.do(t, http.MethodDelete, "/api/bots?pair=BTC/EUR", token, nil)
	assert.JSONEq(t, `{"stopped":false}`, w.Body.String())
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")
	admin := env.login(t, auth.AdminUsername, adminPassword)

	w := env.do(t, http.MethodPost, "/api/chat", token, chatRequest{"hello"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/chat", token, chatRequest{"   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/chat/alice", admin, chatRequest{"hi alice"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/api/admin/chat/nobody", admin, chatRequest{"hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/chat", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice", msgs[0].From)
	assert.Equal(t, support.FromAdmin, msgs[1].From)
}

func TestChat_SuspendedAccountRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")
	admin := env.login(t, auth.AdminUsername, adminPassword)

	w := env.do(t, http.MethodPost, "/api/admin/ban", admin, banRequest{"alice", true})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/chat", token, chatRequest{"let me back in"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.desk.Conversation("alice"))

	// The operator can still reach a suspended account.
	w = env.do(t, http.MethodPost, "/api/admin/chat/alice", admin, chatRequest{"you are suspended"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestBots_BanRacesStart(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	// Suspension lands after the handler read the account but before the
	// manager registers the bot.
	require.NoError(t, env.ledger.SetSuspended("alice", true))
	started, err := env.bots.Start(context.Background(), strategy.BotConfig{
		AccountID: "alice", Pair: "BTC/EUR", FastWindow: 3, SlowWindow: 5, TradeSize: 0.01,
	})
	assert.ErrorIs(t, err, domain.ErrAccountSuspended)
	assert.False(t, started)
	assert.Empty(t, env.bots.Running("alice"))
}

func TestExportTransactions(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	env.signup(t, "bob")
	env.fund(t, "alice", 1000)
	env.fund(t, "bob", 10)
	admin := env.login(t, auth.AdminUsername, adminPassword)

	w := env.do(t, http.MethodPost, "/api/trade", alice, tradeRequest{"BTC/EUR", "buy", 0.02})
	require.Equal(t, http.StatusOK, w.Code)

	readCSV := func(w *httptest.ResponseRecorder) [][]string {
		t.Helper()
		records, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		return records
	}

	// A user gets only their own rows even when asking for someone else.
	w = env.do(t, http.MethodGet, "/api/transactions/export?username=bob", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "transactions_alice.csv")
	records := readCSV(w)
	require.Len(t, records, 3)
	assert.Equal(t, report.Header, records[0])
	assert.Equal(t, "trade", records[2][1])

	w = env.do(t, http.MethodGet, "/api/transactions/export?username=bob", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, readCSV(w), 2)

	w = env.do(t, http.MethodGet, "/api/transactions/export", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "transactions_all.csv")
	assert.Len(t, readCSV(w), 4)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	w := env.do(t, http.MethodGet, "/api/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap infra.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.GreaterOrEqual(t, snap.Requests, uint64(2))
}

func TestWebsocketUnavailableWithoutHub(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/ws", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no hub configured")
}

func TestWebsocket_SnapshotAndSuspension(t *testing.T) {
	env := newTestEnvWithHub(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")
	admin := env.login(t, auth.AdminUsername, adminPassword)

	w := env.do(t, http.MethodPost, "/api/admin/ban", admin, banRequest{"alice", true})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/ws?token="+alice, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + bob
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Type string             `json:"type"`
		Data map[string]float64 `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, ws.TypePrices, frame.Type)
	assert.Equal(t, 25000.0, frame.Data["BTC/EUR"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrAuth, http.StatusUnauthorized},
		{&domain.TradeError{Op: "buy", Err: domain.ErrAccountSuspended}, http.StatusForbidden},
		{domain.ErrAccountNotFound, http.StatusNotFound},
		{domain.ErrAccountExists, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{support.ErrEmptyMessage, http.StatusBadRequest},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
