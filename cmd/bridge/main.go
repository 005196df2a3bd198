package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"futu-bridge/internal/alerts"
	"futu-bridge/internal/bridge"
	"futu-bridge/internal/config"
	"futu-bridge/internal/gateway/opend"
	"futu-bridge/internal/logging"
	"futu-bridge/internal/metrics"
	"futu-bridge/internal/state/sqlite"
	"futu-bridge/internal/timescale"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		log.Error("state dir create failed", zap.Error(err))
		os.Exit(1)
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		log.Error("state store open failed", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	archive, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		log.Error("timescale init failed", zap.Error(err))
		os.Exit(1)
	}
	defer archive.Close()

	met := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		met = prom.Metrics
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := opend.NewDialer(log)
	alerter := alerts.NewTelegram(cfg.Telegram, log)
	b := bridge.New(cfg, dialer, bridge.Options{
		Store:   store,
		Archive: archive,
		Alerter: alerter,
		Metrics: met,
	}, log)
	b.SetCallbacks(bridge.Callbacks{
		OnTick: func(tick bridge.Tick) {
			log.Debug("tick", zap.String("symbol", tick.Symbol), zap.Float64("price", tick.Price))
		},
		OnOrder: func(order bridge.OrderEvent) {
			log.Info("order update",
				zap.Int64("local_id", order.LocalID),
				zap.String("status", string(order.Status)))
		},
	})

	if err := b.Connect(ctx); err != nil {
		log.Error("connect failed", zap.Error(err))
		os.Exit(1)
	}
	archive.Start(ctx)
	b.StartHealthArchive(ctx, time.Minute)

	<-ctx.Done()
	b.Disconnect()
	log.Info("shutdown complete")
}
