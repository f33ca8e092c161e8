package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tradesim/internal/api"
	"tradesim/internal/auth"
	"tradesim/internal/domain"
	"tradesim/internal/engine"
	"tradesim/internal/event"
	"tradesim/internal/infra"
	"tradesim/internal/infra/cache"
	"tradesim/internal/infra/rabbitmq"
	"tradesim/internal/infra/storage"
	"tradesim/internal/infra/ws"
	"tradesim/internal/ledger"
	"tradesim/internal/service"
	"tradesim/internal/strategy"
	"tradesim/internal/support"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Bus       *event.Bus
	Metrics   *infra.Metrics
	Market    *service.PriceSimulator
	Ledger    *ledger.Ledger
	Engine    *engine.TradeEngine
	Scheduler *engine.TickerScheduler
	Bots      *strategy.Manager
	Desk      *support.Desk
	Auth      *auth.Service
	Hub       *ws.Hub
	Persister *storage.Persister

	// Optional brokers, nil when disabled.
	Cache     *cache.RedisCache
	Publisher *rabbitmq.Publisher

	closers []func() error
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration from path, sets up logging and builds the system.
func (b *Bootstrap) Initialize(ctx context.Context, path string) error {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err // Let main handle the error
	}

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("🚀 Bootstrapping tradesim...", slog.String("version", cfg.App.Version))
	return b.Build(ctx, cfg)
}

// Build wires every component for cfg and restores persisted state.
func (b *Bootstrap) Build(ctx context.Context, cfg *infra.Config) error {
	b.Config = cfg

	// 1. Storage
	store, err := storage.Open(storage.Options{
		Driver:   cfg.Storage.Driver,
		Path:     cfg.Storage.Path,
		DSN:      cfg.Storage.DSN,
		Host:     cfg.Storage.Host,
		Port:     cfg.Storage.Port,
		User:     cfg.Storage.User,
		Password: cfg.Storage.Pass,
		Database: cfg.Storage.DBName,
		SSLMode:  cfg.Storage.SSL,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	b.closers = append(b.closers, store.Close)
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	// 2. Core
	b.Bus = event.NewBus()
	b.Metrics = infra.NewMetrics()

	market, err := service.NewPriceSimulator(service.SimulatorConfig{
		Pairs:      cfg.MarketPairs(),
		MaxSamples: cfg.Market.MaxSamples,
		DriftRange: cfg.Market.DriftRange,
		Seed:       cfg.Market.Seed,
	}, b.Bus)
	if err != nil {
		return err
	}
	b.Market = market

	b.Ledger = ledger.New(cfg.Market.Quote, market.Currencies(), b.Bus)
	b.Engine = engine.NewTradeEngine(b.Ledger, market, b.Bus)
	b.Scheduler = engine.NewTickerScheduler()
	b.Bots = strategy.NewManager(b.Scheduler, cfg.PollInterval(), b.Engine, market, b.Bus)
	b.Bots.SetGate(b.Ledger)
	b.Desk = support.NewDesk(b.Bus)
	b.Auth = auth.NewService(b.Ledger, cfg.Auth.JWTSecret, cfg.Auth.AdminPassword, cfg.TokenTTL(), cfg.Auth.BcryptCost)
	b.Hub = ws.NewHub(b.Metrics, market)

	if err := b.restore(ctx); err != nil {
		return err
	}

	// 3. Subscribers. Restore happens first so replayed state is not written back.
	b.Persister = storage.NewPersister(store, 0)
	b.Bus.Subscribe("metrics", b.Metrics)
	b.Bus.Subscribe("persister", b.Persister)
	b.Bus.Subscribe("ws", b.Hub)
	b.Bus.Subscribe("support", b.Desk, domain.TopicAdjustment)

	// 4. Optional brokers
	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, client.Close)
		b.Cache = cache.NewRedisCache(client, cfg.Redis.KeyPrefix, time.Duration(cfg.Redis.TTLSec)*time.Second)
		b.Bus.Subscribe("redis", b.Cache, domain.TopicPrices, domain.TopicSuspension)
		slog.Info("✅ Redis cache connected", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.RabbitMQ.Enabled {
		conn, ch, err := rabbitmq.SetupConn(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, conn.Close, ch.Close)
		b.Publisher = rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange, 0)
		b.Bus.Subscribe("rabbitmq", b.Publisher)
		slog.Info("✅ RabbitMQ publisher ready", slog.String("exchange", cfg.RabbitMQ.Exchange))
	}

	slog.Info("✅ Core wired",
		slog.Int("pairs", len(market.Pairs())),
		slog.Int("accounts", len(b.Ledger.Accounts())),
		slog.Int("subscribers", b.Bus.Len()),
	)
	return nil
}

func (b *Bootstrap) restore(ctx context.Context) error {
	accounts, err := b.Storage.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if err := b.Ledger.Restore(accounts); err != nil {
		return err
	}

	messages, err := b.Storage.LoadMessages(ctx)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	b.Desk.Restore(messages)

	if len(accounts) > 0 {
		slog.Info("🔄 State restored", slog.Int("accounts", len(accounts)), slog.Int("conversations", len(messages)))
	}
	return nil
}

// API builds the HTTP layer. ctx bounds bots started through it.
func (b *Bootstrap) API(ctx context.Context) *api.Server {
	return api.NewServer(ctx, api.Deps{
		Auth:    b.Auth,
		Ledger:  b.Ledger,
		Trader:  b.Engine,
		Market:  b.Market,
		Bots:    b.Bots,
		Desk:    b.Desk,
		Hub:     b.Hub,
		Metrics: b.Metrics,
		BotDefaults: strategy.BotConfig{
			FastWindow:    b.Config.Bot.FastWindow,
			SlowWindow:    b.Config.Bot.SlowWindow,
			TradeSize:     b.Config.Bot.TradeSize,
			BuyThreshold:  b.Config.Bot.BuyThreshold,
			SellThreshold: b.Config.Bot.SellThreshold,
		},
		Version: b.Config.App.Version,
		Logger:  slog.Default(),
	})
}

// DumpState writes the ledger to the configured dump path.
func (b *Bootstrap) DumpState() {
	if b.Engine == nil || b.Config == nil || b.Config.Server.DumpPath == "" {
		return
	}
	if err := b.Engine.DumpState(b.Config.Server.DumpPath); err != nil {
		slog.Error("Failed to dump state", slog.Any("error", err))
	}
}

// Close releases connections in reverse order of acquisition.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("close failed", slog.Any("error", err))
		}
	}
	b.closers = nil
}
