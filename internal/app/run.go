package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Run starts the market, background writers and the HTTP server, and blocks
// until ctx is canceled or one of them fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	// Writers outlive ctx so work confirmed during the shutdown grace period
	// still reaches storage. They stop only after every producer has.
	writerCtx, stopWriters := context.WithCancel(context.Background())
	defer stopWriters()

	var writers errgroup.Group
	writers.Go(func() error { return b.Persister.Run(writerCtx) })
	if b.Cache != nil {
		writers.Go(func() error { return b.Cache.Run(writerCtx) })
	}
	if b.Publisher != nil {
		writers.Go(func() error { return b.Publisher.Run(writerCtx) })
	}

	g, ctx := errgroup.WithContext(ctx)

	stopTicks := b.Scheduler.Every(ctx, "market_tick", b.Config.TickInterval(), func(context.Context) {
		b.Market.Tick()
	})
	slog.InfoContext(ctx, "✅ Market simulator started", slog.Duration("interval", b.Config.TickInterval()))

	srv := &http.Server{
		Addr:              b.Config.Server.Addr,
		Handler:           b.API(ctx).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		slog.InfoContext(ctx, "✨ HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("👋 Shutting down gracefully...")

		stopTicks()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout())
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// In-flight requests may have started bots, so stop them afterwards.
		b.Bots.StopAll()
		b.Scheduler.Wait()
		b.Hub.Close()
		return err
	})

	err := g.Wait()

	stopWriters()
	if werr := writers.Wait(); err == nil {
		err = werr
	}
	return err
}
