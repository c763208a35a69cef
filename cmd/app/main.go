package main

import (
	"context"
	"flag"
	"log"
	"os"

	"FxGuard/internal/di"
	"FxGuard/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	envFile := flag.String("env", ".env", "dotenv file with API keys")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath, *envFile)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s pairs=%d cache=%s kafka=%t clickhouse=%t",
		cfg.Environment, len(cfg.Pairs), cfg.Cache.Backend, cfg.Kafka.Enabled, cfg.ClickHouse.Enabled)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
