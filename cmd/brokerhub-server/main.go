package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"brokerhub/internal/api"
	"brokerhub/internal/config"
	"brokerhub/internal/engine"
	"brokerhub/internal/registry"
	"brokerhub/internal/store"
	"brokerhub/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "config file (default $BROKERHUB_CONFIG or "+config.DefaultPath+")")
	flag.Parse()

	// Load config.
	cfgPath := config.ResolvePath(*cfgFlag)
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Wire registry, accounts and comparison.
	reg := registry.Default()
	accounts := registry.NewAccounts(reg, cfg.Accounts, logger)
	defer accounts.Close()

	comparator := engine.NewComparator(engine.CompareOptions{
		Timeout:     cfg.Compare.Timeout,
		MaxParallel: cfg.Compare.MaxParallel,
	}, logger).WithStore(store.NewParquetStore(cfg.Storage.DataDir))

	srv := api.NewServer(cfg.Server, api.NewService(reg, accounts, comparator), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("brokerhub-server starting",
		"config", cfgPath,
		"accounts", len(cfg.Accounts),
		"brokers", reg.Keys(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		cancel()
		accounts.Close()
		log.Fatalf("server: %v", err)
	}
}
