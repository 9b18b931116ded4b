package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/tickorders/params"
	"github.com/uhyunpark/tickorders/pkg/api"
	"github.com/uhyunpark/tickorders/pkg/app"
	"github.com/uhyunpark/tickorders/pkg/curve"
	"github.com/uhyunpark/tickorders/pkg/feeder"
	"github.com/uhyunpark/tickorders/pkg/market"
	"github.com/uhyunpark/tickorders/pkg/storage"
	"github.com/uhyunpark/tickorders/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	for _, p := range []string{cfg.Log.File, cfg.Storage.WALPath} {
		if p != "" {
			os.MkdirAll(filepath.Dir(p), 0o755)
		}
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", cfg.Log.File), zap.String("level", cfg.Log.Level))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("node_failed", zap.Error(err))
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var wal storage.WAL = storage.NewNopWAL()
	if cfg.Storage.WALPath != "" {
		fw, err := storage.NewFileWAL(cfg.Storage.WALPath)
		if err != nil {
			return err
		}
		defer fw.Close()
		wal = fw
	}

	// ---- Host ----
	host, err := app.New(app.Config{
		HookAccount:      cfg.Engine.HookAddress,
		ReserveAccount:   cfg.Engine.ReserveAddress,
		Treasury:         cfg.Engine.TreasuryAddress,
		TreasuryShareBps: cfg.Engine.TreasuryShareBps,
		ChainID:          cfg.Engine.ChainID,
		FaucetEnabled:    cfg.API.FaucetEnabled,
	}, store, wal, logger.Named("app"))
	if err != nil {
		return err
	}

	if err := ensureMarket(host, cfg.Market, logger); err != nil {
		return err
	}

	// ---- API Server ----
	apiServer := api.NewServer(host, api.Options{AllowedOrigins: cfg.API.AllowedOrigins}, logger.Named("api"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Traffic Feeder (optional) ----
	if cfg.Feeder.Enabled {
		fcfg := feeder.DefaultConfig(cfg.Market.Symbol)
		fcfg.NumAccounts = cfg.Feeder.Accounts
		fcfg.Interval = cfg.Feeder.Interval
		f, err := feeder.New(fcfg, host, logger.Named("feeder"))
		if err != nil {
			return err
		}
		go f.Start(ctx)
	}

	errc := make(chan error, 1)
	go func() { errc <- apiServer.Start(cfg.API.Addr) }()

	logger.Info("node_started",
		zap.String("api_addr", cfg.API.Addr),
		zap.String("db_path", cfg.Storage.DBPath),
		zap.Bool("faucet_enabled", cfg.API.FaucetEnabled),
		zap.Stringer("hook", cfg.Engine.HookAddress),
		zap.Stringer("treasury", host.Treasury()))

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	logger.Info("node_stopping", zap.Uint64("height", host.Height()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// ensureMarket lists the configured market on first start.
func ensureMarket(host *app.App, m params.Market, logger *zap.Logger) error {
	if host.HasMarket(m.Symbol) {
		return nil
	}
	key := curve.PoolKey{
		Currency0:   m.Token0,
		Currency1:   m.Token1,
		Fee:         m.FeePips,
		TickSpacing: m.TickSpacing,
	}
	err := host.CreateMarket(m.Symbol, key, m.InitialTick)
	if errors.Is(err, market.ErrMarketExists) {
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("market_created", zap.String("symbol", m.Symbol), zap.Int32("initial_tick", m.InitialTick))
	return nil
}
