package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.GRPCPort != 9090 {
		t.Errorf("GRPCPort = %d, want 9090", cfg.GRPCPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.DataDir != "" || !cfg.SyncWrites {
		t.Errorf("DataDir = %q SyncWrites = %v, want in-memory with sync", cfg.DataDir, cfg.SyncWrites)
	}
	want := domain.TradingRules{LotSize: 10, TickSize: 100, BandPercent: 7}
	if cfg.Rules() != want {
		t.Errorf("Rules() = %+v, want %+v", cfg.Rules(), want)
	}
	if cfg.PriceDecimals != 0 {
		t.Errorf("PriceDecimals = %d, want 0", cfg.PriceDecimals)
	}
	if cfg.DefaultMode != domain.ModeAutomatic || cfg.DefaultPhase != domain.PhaseClosed {
		t.Errorf("session = %s/%s, want automatic/closed", cfg.DefaultMode, cfg.DefaultPhase)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location)
	}
	if cfg.Boundaries.PreOpen != 9*time.Hour || cfg.Boundaries.Close != 14*time.Hour+45*time.Minute {
		t.Errorf("Boundaries = %+v", cfg.Boundaries)
	}
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	if !slices.Equal(cfg.TradingDays, weekdays) {
		t.Errorf("TradingDays = %v, want %v", cfg.TradingDays, weekdays)
	}
	if cfg.TradingHoursGuard {
		t.Error("TradingHoursGuard should default to false")
	}
	if !cfg.ExpireOrdersAtClose {
		t.Error("ExpireOrdersAtClose should default to true")
	}
	if cfg.MatchWorkers != 4 || cfg.MatchQueueSize != 1024 || cfg.MatchDebounce != 100*time.Millisecond {
		t.Errorf("match pool = %d/%d/%v", cfg.MatchWorkers, cfg.MatchQueueSize, cfg.MatchDebounce)
	}
	if cfg.AuctionTieBreak != engine.TieBreakReference {
		t.Errorf("AuctionTieBreak = %q, want reference", cfg.AuctionTieBreak)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want none", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != "bourse.events" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9191")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATA_DIR", "/var/lib/bourse")
	t.Setenv("LOT_SIZE", "100")
	t.Setenv("TICK_SIZE", "50")
	t.Setenv("PRICE_DECIMALS", "2")
	t.Setenv("BAND_PERCENT", "10")
	t.Setenv("DEFAULT_MODE", "manual")
	t.Setenv("DEFAULT_PHASE", "continuous")
	t.Setenv("TIMEZONE", "Asia/Ho_Chi_Minh")
	t.Setenv("CLOSE_AT", "15:00")
	t.Setenv("TRADING_DAYS", "mon,wed")
	t.Setenv("TRADING_HOURS_GUARD", "true")
	t.Setenv("AUCTION_TIE_BREAK", "imbalance")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.DataDir != "/var/lib/bourse" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	want := domain.TradingRules{LotSize: 100, TickSize: 50, BandPercent: 10}
	if cfg.Rules() != want {
		t.Errorf("Rules() = %+v, want %+v", cfg.Rules(), want)
	}
	if cfg.PriceDecimals != 2 {
		t.Errorf("PriceDecimals = %d, want 2", cfg.PriceDecimals)
	}
	if cfg.DefaultMode != domain.ModeManual || cfg.DefaultPhase != domain.PhaseContinuous {
		t.Errorf("session = %s/%s, want manual/continuous", cfg.DefaultMode, cfg.DefaultPhase)
	}
	if cfg.Location.String() != "Asia/Ho_Chi_Minh" {
		t.Errorf("Location = %v", cfg.Location)
	}
	if cfg.Boundaries.Close != 15*time.Hour {
		t.Errorf("Close = %v, want 15h", cfg.Boundaries.Close)
	}
	if !slices.Equal(cfg.TradingDays, []time.Weekday{time.Monday, time.Wednesday}) {
		t.Errorf("TradingDays = %v", cfg.TradingDays)
	}
	if !cfg.TradingHoursGuard {
		t.Error("TradingHoursGuard = false, want true")
	}
	if cfg.AuctionTieBreak != engine.TieBreakImbalance {
		t.Errorf("AuctionTieBreak = %q, want imbalance", cfg.AuctionTieBreak)
	}
	if !slices.Equal(cfg.KafkaBrokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "bourse.yaml")
	content := "port: 7000\nlog_level: warn\nlot_size: 1\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 from file", cfg.Port)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want env to win over file", cfg.LogLevel)
	}
	if cfg.LotSize != 1 {
		t.Errorf("LotSize = %d, want 1", cfg.LotSize)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(file, []byte("TICK_SIZE=5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", file)
	t.Cleanup(func() { os.Unsetenv("TICK_SIZE") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TickSize != 5 {
		t.Errorf("TickSize = %d, want 5", cfg.TickSize)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing CONFIG_FILE")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid LOG_LEVEL")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	for _, key := range durationEnvKeys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"LOT_SIZE", "0"},
		{"TICK_SIZE", "-100"},
		{"PRICE_DECIMALS", "9"},
		{"BAND_PERCENT", "100"},
		{"DEFAULT_MODE", "semi"},
		{"DEFAULT_PHASE", "lunch"},
		{"TIMEZONE", "Mars/Olympus"},
		{"PRE_OPEN_AT", "25:00"},
		{"CONTINUOUS_AT", "09:10"},
		{"TRADING_DAYS", "mon,funday"},
		{"SYNC_WRITES", "maybe"},
		{"MATCH_WORKERS", "0"},
		{"MATCH_QUEUE_SIZE", "x"},
		{"AUCTION_TIE_BREAK", "coin_flip"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
