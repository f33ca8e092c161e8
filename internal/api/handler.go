package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tradesim/internal/auth"
	"tradesim/internal/domain"
	"tradesim/internal/report"
	"tradesim/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tradeRequest struct {
	Pair     string  `json:"pair"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

type botRequest struct {
	Pair          string  `json:"pair"`
	FastWindow    int     `json:"fast_window"`
	SlowWindow    int     `json:"slow_window"`
	TradeSize     float64 `json:"trade_size"`
	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`
}

type chatRequest struct {
	Text string `json:"text"`
}

// MeResponse is the caller's account view.
type MeResponse struct {
	Username  string               `json:"username"`
	Balances  domain.Balances      `json:"balances"`
	Valuation decimal.Decimal      `json:"valuation"`
	Quote     string               `json:"quote"`
	Suspended bool                 `json:"suspended"`
	History   []domain.Event       `json:"history"`
	Bots      []strategy.BotConfig `json:"bots"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.Version,
	})
}

// GetMetrics handles GET /api/metrics.
func (s *Server) GetMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

// Register handles POST /api/register.
func (s *Server) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	acc, err := s.Auth.Register(req.Username, req.Password)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": acc.ID})
}

// Login handles POST /api/login.
func (s *Server) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	token, id, err := s.Auth.Login(req.Username, req.Password)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"username": id.AccountID,
		"admin":    id.Admin,
	})
}

// GetPairs handles GET /api/pairs.
func (s *Server) GetPairs(c *gin.Context) {
	c.JSON(http.StatusOK, s.Market.Pairs())
}

// GetPrices handles GET /api/prices.
func (s *Server) GetPrices(c *gin.Context) {
	c.JSON(http.StatusOK, s.Market.Snapshot())
}

// GetSeries handles GET /api/series?pair=BTC/EUR.
func (s *Server) GetSeries(c *gin.Context) {
	pair := c.Query("pair")
	series, err := s.Market.Series(pair)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": pair, "prices": series})
}

// GetMe handles GET /api/me.
func (s *Server) GetMe(c *gin.Context) {
	id := identity(c)
	acc, err := s.Ledger.Account(id.AccountID)
	if err != nil {
		s.abort(c, err)
		return
	}
	valuation, err := s.Ledger.TotalValuation(id.AccountID, s.Market.Snapshot())
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, MeResponse{
		Username:  acc.ID,
		Balances:  acc.Balances,
		Valuation: valuation,
		Quote:     s.Ledger.Quote(),
		Suspended: acc.Suspended,
		History:   acc.History,
		Bots:      s.Bots.Running(acc.ID),
	})
}

// PostTrade handles POST /api/trade.
func (s *Server) PostTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		s.abort(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	balances, err := s.Trader.Execute(ctx, identity(c).AccountID, req.Pair, side, req.Quantity)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// ListBots handles GET /api/bots.
func (s *Server) ListBots(c *gin.Context) {
	c.JSON(http.StatusOK, s.Bots.Running(identity(c).AccountID))
}

// StartBot handles POST /api/bots. Unset fields take the configured defaults.
func (s *Server) StartBot(c *gin.Context) {
	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	cfg := s.BotDefaults
	cfg.AccountID = identity(c).AccountID
	cfg.Pair = req.Pair
	if req.FastWindow > 0 {
		cfg.FastWindow = req.FastWindow
	}
	if req.SlowWindow > 0 {
		cfg.SlowWindow = req.SlowWindow
	}
	if req.TradeSize != 0 {
		cfg.TradeSize = req.TradeSize
	}
	if req.BuyThreshold > 0 {
		cfg.BuyThreshold = req.BuyThreshold
	}
	if req.SellThreshold > 0 {
		cfg.SellThreshold = req.SellThreshold
	}

	// The manager refuses suspended accounts.
	started, err := s.Bots.Start(s.ctx, cfg)
	if err != nil {
		s.abort(c, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"started": started, "bot": cfg})
}

// StopBot handles DELETE /api/bots?pair=BTC/EUR.
func (s *Server) StopBot(c *gin.Context) {
	stopped := s.Bots.Stop(identity(c).AccountID, c.Query("pair"))
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

// GetChat handles GET /api/chat.
func (s *Server) GetChat(c *gin.Context) {
	c.JSON(http.StatusOK, s.Desk.Conversation(identity(c).AccountID))
}

// PostChat handles POST /api/chat.
func (s *Server) PostChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	id := identity(c)
	if !s.allowed(c, id) {
		return
	}
	m, err := s.Desk.Post(id.AccountID, req.Text)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// ExportTransactions handles GET /api/transactions/export. Admins may pass
// ?username= or omit it to export everyone; users always get their own.
func (s *Server) ExportTransactions(c *gin.Context) {
	id := identity(c)
	target := id.AccountID
	if id.Admin {
		target = c.Query("username")
	}

	rows, err := report.ExportHistory(s.Ledger, target)
	if err != nil {
		s.abort(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(target)+`"`)
	c.Status(http.StatusOK)
	if err := report.WriteCSV(c.Writer, rows); err != nil {
		s.Logger.Error("Failed to write export", slog.String("target", target), slog.Any("error", err))
	}
}

// ServeWS handles GET /ws?token=. Browsers cannot set headers on websocket
// upgrades so the token travels in the query.
func (s *Server) ServeWS(c *gin.Context) {
	if s.Hub == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	id, err := s.Auth.Verify(token)
	if err != nil {
		s.abort(c, err)
		return
	}
	if !s.allowed(c, id) {
		return
	}
	if err := s.Hub.Serve(c.Writer, c.Request, id.AccountID, id.Admin); err != nil {
		s.Logger.Warn("ws upgrade failed", slog.String("account", id.AccountID), slog.Any("error", err))
	}
}

// allowed aborts with 403 when a participant is suspended. Tokens issued
// before a ban stay valid until they expire, so the ledger is the authority.
func (s *Server) allowed(c *gin.Context, id auth.Identity) bool {
	if id.Admin {
		return true
	}
	suspended, err := s.Ledger.IsSuspended(id.AccountID)
	if err == nil && suspended {
		err = domain.ErrAccountSuspended
	}
	if err != nil {
		s.abort(c, err)
		return false
	}
	return true
}
