package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"convsync/internal/app"
	"convsync/pkg/config"
	"convsync/pkg/logger"
)

// build metadata, set via ldflags during release
var version = "dev"

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, userVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over config/env when explicitly provided
	if setFlags["addr"] {
		if host, port, ok := config.SplitHostPort(addrVal); ok {
			cfg.Server.Address = host
			cfg.Server.Port = port
		}
	}
	if setFlags["db"] {
		cfg.Store.DBPath = dbVal
	}
	if setFlags["user"] {
		cfg.Sync.User = userVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	a, err := app.New(cfg, version)
	if err != nil {
		logger.Error("startup_failed", "error", err)
		log.Fatalf("startup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("daemon_exit", "error", err)
		log.Fatalf("daemon exit: %v", err)
	}
}
