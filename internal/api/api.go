package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"tradesim/internal/auth"
	"tradesim/internal/domain"
	"tradesim/internal/infra"
	"tradesim/internal/infra/ws"
	"tradesim/internal/ledger"
	"tradesim/internal/strategy"
	"tradesim/internal/support"

	"github.com/gin-gonic/gin"
)

// The API is split across files:
// - api.go: dependencies and routes (this file)
// - middleware.go: request id, logging, metrics and auth middleware
// - handler.go: market, account, trading and bot handlers
// - admin.go: operator handlers
// - errors.go: error to status mapping

const (
	DefaultTimeout      = 10 * time.Second
	ServiceName         = "tradesim"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
	identityContextKey  = "identity"
)

// Trader executes trades. *engine.TradeEngine satisfies it.
type Trader interface {
	Execute(ctx context.Context, accountID, pairID string, side domain.Side, quantity float64) (domain.Balances, error)
}

// Market is the read side of the simulator. *service.PriceSimulator satisfies it.
type Market interface {
	domain.PriceSource
	Pairs() []domain.Pair
}

// Deps are the components the API serves. Hub and Metrics may be nil.
type Deps struct {
	Auth        *auth.Service
	Ledger      *ledger.Ledger
	Trader      Trader
	Market      Market
	Bots        *strategy.Manager
	Desk        *support.Desk
	Hub         *ws.Hub
	Metrics     *infra.Metrics
	BotDefaults strategy.BotConfig
	Version     string
	Logger      *slog.Logger
}

// Server handles HTTP requests using Gin.
type Server struct {
	Deps
	// ctx bounds work that outlives a request, such as running bots.
	ctx context.Context
}

// NewServer creates the API. ctx is the process lifetime.
func NewServer(ctx context.Context, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{Deps: deps, ctx: ctx}
}

// Handler returns the configured router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.SetupRoutes()
}

// SetupRoutes configures all API routes.
func (s *Server) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", s.HealthCheck)
	router.GET("/api/metrics", s.GetMetrics)
	router.GET("/ws", s.ServeWS)

	pub := router.Group("/api")
	pub.POST("/register", s.Register)
	pub.POST("/login", s.Login)
	pub.GET("/pairs", s.GetPairs)
	pub.GET("/prices", s.GetPrices)
	pub.GET("/series", s.GetSeries)

	user := router.Group("/api", s.authMiddleware())
	user.GET("/me", s.GetMe)
	user.POST("/trade", s.PostTrade)
	user.GET("/bots", s.ListBots)
	user.POST("/bots", s.StartBot)
	user.DELETE("/bots", s.StopBot)
	user.GET("/chat", s.GetChat)
	user.POST("/chat", s.PostChat)
	user.GET("/transactions/export", s.ExportTransactions)

	admin := router.Group("/api/admin", s.authMiddleware(), adminOnly())
	admin.GET("/users", s.ListUsers)
	admin.POST("/set-balance", s.SetBalance)
	admin.POST("/ban", s.Ban)
	admin.GET("/chat/:username", s.GetUserChat)
	admin.POST("/chat/:username", s.ReplyChat)

	return router
}
