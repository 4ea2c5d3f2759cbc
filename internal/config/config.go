package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/session"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port            int
	GRPCPort        int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	DataDir    string // empty keeps the ledger in memory
	SyncWrites bool

	LotSize       int64
	TickSize      int64
	PriceDecimals int32
	BandPercent   int64

	DefaultMode           domain.Mode
	DefaultPhase          domain.Phase
	Location              *time.Location
	Boundaries            session.Boundaries
	TradingDays           []time.Weekday
	SchedulerPollInterval time.Duration
	TradingHoursGuard     bool
	ExpireOrdersAtClose   bool

	MatchWorkers    int
	MatchQueueSize  int
	MatchDebounce   time.Duration
	AuctionTieBreak engine.TieBreak

	KafkaBrokers  []string // empty disables the outbox relay
	KafkaTopic    string
	RelayInterval time.Duration
}

// Rules returns the exchange-wide trading rules.
func (c *Config) Rules() domain.TradingRules {
	return domain.TradingRules{LotSize: c.LotSize, TickSize: c.TickSize, BandPercent: c.BandPercent}
}

// Load reads configuration, applies defaults, and validates values. It
// returns an error for any invalid value.
//
// Values come from environment variables, which may be seeded from a .env
// file (ENV_FILE, default ".env"). When CONFIG_FILE names a YAML file, its
// lower-case keys (port, log_level, ...) supply values the environment
// does not set.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.AutomaticEnv()
	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	src := source{v: v}

	cfg := &Config{}
	var err error

	if cfg.Port, err = src.getInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.GRPCPort, err = src.getInt("GRPC_PORT", 9090); err != nil {
		return nil, fmt.Errorf("invalid GRPC_PORT: %w", err)
	}

	cfg.LogLevel = src.getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	if cfg.ReadTimeout, err = src.getDuration("READ_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}
	if cfg.WriteTimeout, err = src.getDuration("WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}
	if cfg.IdleTimeout, err = src.getDuration("IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = src.getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.DataDir = src.getStr("DATA_DIR", "")
	if cfg.SyncWrites, err = src.getBool("SYNC_WRITES", true); err != nil {
		return nil, fmt.Errorf("invalid SYNC_WRITES: %w", err)
	}

	if cfg.LotSize, err = src.getPositive("LOT_SIZE", 10); err != nil {
		return nil, fmt.Errorf("invalid LOT_SIZE: %w", err)
	}
	if cfg.TickSize, err = src.getPositive("TICK_SIZE", 100); err != nil {
		return nil, fmt.Errorf("invalid TICK_SIZE: %w", err)
	}
	decimals, err := src.getInt("PRICE_DECIMALS", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_DECIMALS: %w", err)
	}
	if decimals < 0 || decimals > 8 {
		return nil, fmt.Errorf("invalid PRICE_DECIMALS: %d, must be between 0 and 8", decimals)
	}
	cfg.PriceDecimals = int32(decimals)
	if cfg.BandPercent, err = src.getPositive("BAND_PERCENT", 7); err != nil {
		return nil, fmt.Errorf("invalid BAND_PERCENT: %w", err)
	}
	if cfg.BandPercent >= 100 {
		return nil, fmt.Errorf("invalid BAND_PERCENT: %d, must be below 100", cfg.BandPercent)
	}

	cfg.DefaultMode = domain.Mode(src.getStr("DEFAULT_MODE", string(domain.ModeAutomatic)))
	if !cfg.DefaultMode.Valid() {
		return nil, fmt.Errorf("invalid DEFAULT_MODE: %q, must be one of: automatic, manual", cfg.DefaultMode)
	}
	cfg.DefaultPhase = domain.Phase(src.getStr("DEFAULT_PHASE", string(domain.PhaseClosed)))
	if !cfg.DefaultPhase.Valid() {
		return nil, fmt.Errorf("invalid DEFAULT_PHASE: %q, must be one of: closed, pre_open, opening_auction, continuous, closing_auction", cfg.DefaultPhase)
	}
	tz := src.getStr("TIMEZONE", "UTC")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	clocks := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"PRE_OPEN_AT", "09:00", &cfg.Boundaries.PreOpen},
		{"OPENING_AUCTION_AT", "09:15", &cfg.Boundaries.OpeningAuction},
		{"CONTINUOUS_AT", "09:30", &cfg.Boundaries.Continuous},
		{"CLOSING_AUCTION_AT", "14:30", &cfg.Boundaries.ClosingAuction},
		{"CLOSE_AT", "14:45", &cfg.Boundaries.Close},
	}
	for _, c := range clocks {
		if *c.dst, err = session.ParseClock(src.getStr(c.key, c.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", c.key, err)
		}
	}
	if cfg.TradingDays, err = session.ParseWeekdays(src.getStr("TRADING_DAYS", "mon,tue,wed,thu,fri")); err != nil {
		return nil, fmt.Errorf("invalid TRADING_DAYS: %w", err)
	}
	if _, err := session.NewSchedule(cfg.Location, cfg.Boundaries, cfg.TradingDays); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	if cfg.SchedulerPollInterval, err = src.getDuration("SCHEDULER_POLL_INTERVAL", time.Second); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_POLL_INTERVAL: %w", err)
	}
	if cfg.TradingHoursGuard, err = src.getBool("TRADING_HOURS_GUARD", false); err != nil {
		return nil, fmt.Errorf("invalid TRADING_HOURS_GUARD: %w", err)
	}
	if cfg.ExpireOrdersAtClose, err = src.getBool("EXPIRE_ORDERS_AT_CLOSE", true); err != nil {
		return nil, fmt.Errorf("invalid EXPIRE_ORDERS_AT_CLOSE: %w", err)
	}

	if cfg.MatchWorkers, err = src.getInt("MATCH_WORKERS", 4); err != nil || cfg.MatchWorkers < 1 {
		return nil, fmt.Errorf("invalid MATCH_WORKERS: must be a positive integer")
	}
	if cfg.MatchQueueSize, err = src.getInt("MATCH_QUEUE_SIZE", 1024); err != nil || cfg.MatchQueueSize < 1 {
		return nil, fmt.Errorf("invalid MATCH_QUEUE_SIZE: must be a positive integer")
	}
	if cfg.MatchDebounce, err = src.getDuration("MATCH_DEBOUNCE", 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("invalid MATCH_DEBOUNCE: %w", err)
	}
	cfg.AuctionTieBreak = engine.TieBreak(src.getStr("AUCTION_TIE_BREAK", string(engine.TieBreakReference)))
	if !cfg.AuctionTieBreak.Valid() {
		return nil, fmt.Errorf("invalid AUCTION_TIE_BREAK: %q, must be one of: reference, imbalance", cfg.AuctionTieBreak)
	}

	if brokers := src.getStr("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaTopic = src.getStr("KAFKA_TOPIC", "bourse.events")
	if cfg.RelayInterval, err = src.getDuration("RELAY_INTERVAL", time.Second); err != nil {
		return nil, fmt.Errorf("invalid RELAY_INTERVAL: %w", err)
	}

	return cfg, nil
}

// source reads keys from the environment first, then from the config file.
type source struct {
	v *viper.Viper
}

func (s source) getStr(key, defaultVal string) string {
	v := s.v.GetString(strings.ToLower(key))
	if v == "" {
		return defaultVal
	}
	return v
}

func (s source) getInt(key string, defaultVal int) (int, error) {
	v := s.getStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func (s source) getPositive(key string, defaultVal int64) (int64, error) {
	v := s.getStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d must be positive", n)
	}
	return n, nil
}

func (s source) getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := s.getStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func (s source) getBool(key string, defaultVal bool) (bool, error) {
	v := s.getStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
