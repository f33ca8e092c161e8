package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tradesim/internal/app"

	"github.com/grafana/pyroscope-go"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	os.Exit(run())
}

func run() int {
	defaultPath := os.Getenv("TRADESIM_CONFIG")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML configuration")
	flag.Parse()

	// 1. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return 1
	}
	defer bootstrap.Close()

	// Leave a post-mortem of every account behind if the main goroutine panics.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("🔥 PANIC", slog.Any("panic", r))
			bootstrap.DumpState()
			panic(r)
		}
	}()

	cfg := bootstrap.Config

	// 3. Pprof Server (for performance profiling)
	if cfg.Server.PprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", cfg.Server.PprofAddr))
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Continuous profiling
	if cfg.Profiling.Pyroscope.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.App.Name,
			ServerAddress:   cfg.Profiling.Pyroscope.ServerAddress,
			Tags:            map[string]string{"version": cfg.App.Version},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			slog.Warn("Pyroscope disabled", slog.Any("error", err))
		} else {
			defer func() { _ = profiler.Stop() }()
			slog.Info("✅ Pyroscope profiler started", slog.String("server", cfg.Profiling.Pyroscope.ServerAddress))
		}
	}

	slog.InfoContext(ctx, "✨ tradesim fully operational. Press Ctrl+C to exit.")

	// 5. Market, bots and HTTP until shutdown
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("❌ Server stopped with error", slog.Any("error", err))
		return 1
	}

	slog.Info("👋 Bye")
	return 0
}
