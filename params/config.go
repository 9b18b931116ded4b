package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Storage struct {
	DBPath string
	// WALPath is the append-only audit log of committed operations. Empty
	// disables it.
	WALPath string
}

type API struct {
	Addr           string
	AllowedOrigins []string
	// FaucetEnabled exposes POST /api/v1/faucet. Development only.
	FaucetEnabled bool
}

type Engine struct {
	// HookAddress is the custody account that holds deposits and owns every
	// order's curve position.
	HookAddress common.Address
	// ReserveAddress holds the curve's pool reserves.
	ReserveAddress   common.Address
	TreasuryAddress  common.Address
	TreasuryShareBps uint32
	ChainID          int64
}

// Market is the market registered on first start.
type Market struct {
	Symbol      string
	Token0      common.Address
	Token1      common.Address
	FeePips     uint32
	TickSpacing int32
	InitialTick int32
}

// Feeder generates signed devnet traffic. Requires the faucet.
type Feeder struct {
	Enabled  bool
	Accounts int
	Interval time.Duration
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Storage Storage
	API     API
	Engine  Engine
	Market  Market
	Feeder  Feeder
	Log     Log
}

func Default() Config {
	return Config{
		Storage: Storage{
			DBPath:  "data/tickorders",
			WALPath: "data/operations.log",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			FaucetEnabled:  true, // devnet default
		},
		Engine: Engine{
			HookAddress:      common.HexToAddress("0x000000000000000000000000000000000000c0de"),
			ReserveAddress:   common.HexToAddress("0x000000000000000000000000000000000000beef"),
			TreasuryAddress:  common.HexToAddress("0x0000000000000000000000000000000000007ea5"),
			TreasuryShareBps: 2000,
			ChainID:          1337,
		},
		Market: Market{
			Symbol:      "WETH-USDC",
			Token0:      common.HexToAddress("0x0000000000000000000000000000000000000a01"),
			Token1:      common.HexToAddress("0x0000000000000000000000000000000000000b01"),
			FeePips:     3000,
			TickSpacing: 60,
			InitialTick: 0,
		},
		Feeder: Feeder{
			Accounts: 10,
			Interval: 500 * time.Millisecond,
		},
		Log: Log{
			File:  "data/node.log",
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// .env is optional
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.WALPath = getEnv("WAL_PATH", cfg.Storage.WALPath)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Market.Symbol = getEnv("MARKET_SYMBOL", cfg.Market.Symbol)

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = cfg.API.AllowedOrigins[:0]
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.API.AllowedOrigins = append(cfg.API.AllowedOrigins, o)
			}
		}
	}
	if v := os.Getenv("FAUCET_ENABLED"); v != "" {
		cfg.API.FaucetEnabled = v == "true"
	}
	if v := os.Getenv("FEEDER_ENABLED"); v != "" {
		cfg.Feeder.Enabled = v == "true"
	}

	addrs := []struct {
		env string
		dst *common.Address
	}{
		{"HOOK_ADDRESS", &cfg.Engine.HookAddress},
		{"RESERVE_ADDRESS", &cfg.Engine.ReserveAddress},
		{"TREASURY_ADDRESS", &cfg.Engine.TreasuryAddress},
		{"MARKET_TOKEN0", &cfg.Market.Token0},
		{"MARKET_TOKEN1", &cfg.Market.Token1},
	}
	for _, a := range addrs {
		v := os.Getenv(a.env)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("%s: %q is not an address", a.env, v)
		}
		*a.dst = common.HexToAddress(v)
	}

	ints := []struct {
		env  string
		bits int
		set  func(int64)
	}{
		{"TREASURY_SHARE_BPS", 32, func(v int64) { cfg.Engine.TreasuryShareBps = uint32(v) }},
		{"CHAIN_ID", 64, func(v int64) { cfg.Engine.ChainID = v }},
		{"MARKET_FEE_PIPS", 32, func(v int64) { cfg.Market.FeePips = uint32(v) }},
		{"MARKET_TICK_SPACING", 32, func(v int64) { cfg.Market.TickSpacing = int32(v) }},
		{"MARKET_INITIAL_TICK", 32, func(v int64) { cfg.Market.InitialTick = int32(v) }},
		{"FEEDER_ACCOUNTS", 32, func(v int64) { cfg.Feeder.Accounts = int(v) }},
		{"FEEDER_INTERVAL_MS", 64, func(v int64) { cfg.Feeder.Interval = time.Duration(v) * time.Millisecond }},
	}
	for _, n := range ints {
		v := os.Getenv(n.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseInt(v, 10, n.bits)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", n.env, err)
		}
		n.set(parsed)
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would make the node misbehave rather than fail.
func (c Config) Validate() error {
	if c.Engine.TreasuryShareBps > 10_000 {
		return fmt.Errorf("TREASURY_SHARE_BPS %d exceeds 10000", c.Engine.TreasuryShareBps)
	}
	if c.Engine.HookAddress == (common.Address{}) {
		return fmt.Errorf("HOOK_ADDRESS must be set")
	}
	if c.Engine.ReserveAddress == (common.Address{}) || c.Engine.ReserveAddress == c.Engine.HookAddress {
		return fmt.Errorf("RESERVE_ADDRESS must be set and differ from HOOK_ADDRESS")
	}
	if c.Engine.TreasuryAddress == (common.Address{}) {
		return fmt.Errorf("TREASURY_ADDRESS must be set")
	}
	if c.Market.TickSpacing <= 0 {
		return fmt.Errorf("MARKET_TICK_SPACING must be positive")
	}
	if c.Feeder.Enabled && !c.API.FaucetEnabled {
		return fmt.Errorf("FEEDER_ENABLED requires FAUCET_ENABLED")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("DB_PATH must be set")
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
