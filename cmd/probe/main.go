package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"futu-bridge/internal/config"
	"futu-bridge/internal/conn"
	"futu-bridge/internal/gateway"
	"futu-bridge/internal/gateway/opend"

	"go.uber.org/zap"
)

// probe dials the gateway once, reports channel liveness and exits.
// Useful for verifying gateway reachability before starting the bridge.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 30*time.Second, "overall probe timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := zap.NewNop()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	manager := conn.NewManager(opend.NewDialer(log), log)
	cc, err := manager.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close(cc)

	fmt.Println("quote channel: ok")
	for _, name := range cfg.Markets.Enabled() {
		ch := cc.Trade(gateway.Market(name))
		if ch == nil {
			fmt.Printf("trade channel %s: unavailable\n", name)
			continue
		}
		if err := ch.Probe(ctx); err != nil {
			fmt.Printf("trade channel %s: probe failed: %v\n", name, err)
			continue
		}
		fmt.Printf("trade channel %s: ok\n", name)
	}
}
