package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/efreitasn/bourse/internal/config"
	"github.com/efreitasn/bourse/internal/domain"
	"github.com/efreitasn/bourse/internal/engine"
	"github.com/efreitasn/bourse/internal/events"
	"github.com/efreitasn/bourse/internal/handler"
	"github.com/efreitasn/bourse/internal/service"
	"github.com/efreitasn/bourse/internal/session"
	"github.com/efreitasn/bourse/internal/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage. Without DATA_DIR the ledger lives in memory; the outbox then
	// gets an in-memory pebble only when a relay needs it.
	var db *pebble.DB
	switch {
	case cfg.DataDir != "":
		db, err = pebble.Open(cfg.DataDir, &pebble.Options{})
	case len(cfg.KafkaBrokers) > 0:
		db, err = pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	}
	if err != nil {
		logger.Error("failed to open data store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	var journal store.Journal
	if cfg.DataDir != "" {
		journal = store.NewPebbleJournal(db, cfg.SyncWrites)
	}
	ledger, err := store.NewLedger(journal)
	if err != nil {
		logger.Error("failed to restore ledger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Events: live hub plus, with Kafka configured, the outbox relay.
	var outbox *events.Outbox
	if len(cfg.KafkaBrokers) > 0 {
		if outbox, err = events.NewOutbox(db); err != nil {
			logger.Error("failed to open outbox", slog.String("error", err.Error()))
			os.Exit(1)
		}
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.Error("failed to connect to kafka", slog.String("error", err.Error()))
			os.Exit(1)
		}
		relay := events.NewRelay(outbox, producer, cfg.KafkaTopic, cfg.RelayInterval, logger)
		defer relay.Close()
		relay.Start(ctx)
	}
	bus := events.NewBus(outbox, logger)

	clock := domain.NewClock(cfg.Location, time.Now)
	state := session.NewState(cfg.DefaultMode, cfg.DefaultPhase)
	schedule, err := session.NewSchedule(cfg.Location, cfg.Boundaries, cfg.TradingDays)
	if err != nil {
		logger.Error("invalid session schedule", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Engine.
	locks := engine.NewInstrumentLocks()
	settler := engine.NewSettler(ledger, clock)
	continuous := engine.NewContinuousMatcher(ledger, settler, locks, state, clock, bus, logger)
	auctions := engine.NewAuctionMatcher(ledger, settler, locks, clock, cfg.AuctionTieBreak, bus, logger)
	dispatcher := engine.NewDispatcher(continuous, cfg.MatchWorkers, cfg.MatchQueueSize, cfg.MatchDebounce, logger)
	dispatcher.Start(ctx)
	expirer := engine.NewExpirer(ledger, locks, clock, bus, logger)

	// Services.
	rules := cfg.Rules()
	accountSvc := service.NewAccountService(ledger, clock, logger)
	instrumentSvc := service.NewInstrumentService(ledger, rules, state, clock, dispatcher, bus, logger)
	orderSvc := service.NewOrderService(ledger, locks, rules, state, clock, dispatcher, bus, logger)

	stepper := session.NewStepper(state, clock, auctions, dispatcher, ledger, instrumentSvc, expirer,
		session.StepperConfig{Workers: cfg.MatchWorkers, ExpireAtClose: cfg.ExpireOrdersAtClose}, logger)
	sessionSvc := service.NewSessionService(state, stepper, clock, bus, logger)

	// Today's bands must exist before the first order arrives.
	if n, err := instrumentSvc.PrepareDay(ctx, clock.Today()); err != nil {
		logger.Error("failed to prepare trading day", slog.String("error", err.Error()))
		os.Exit(1)
	} else if n > 0 {
		logger.Info("price bands prepared", slog.String("date", clock.Today()), slog.Int("count", n))
	}

	// gRPC health reports the scheduler's serving status.
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	scheduler := session.NewScheduler(state, schedule, stepper, clock, healthSrv, cfg.SchedulerPollInterval, logger)
	go scheduler.Start(ctx)
	if cfg.TradingHoursGuard {
		guard := session.NewGuard(state, schedule, clock, cfg.SchedulerPollInterval, logger)
		go guard.Start(ctx)
	}

	// Router.
	router := handler.NewRouter(handler.Services{
		Accounts:    accountSvc,
		Instruments: instrumentSvc,
		Orders:      orderSvc,
		Session:     sessionSvc,
	}, bus.Hub(), cfg.PriceDecimals, logger)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr),
			slog.String("mode", string(state.Mode())),
			slog.String("phase", string(state.Phase())),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("failed to listen for grpc", slog.String("error", err.Error()))
		os.Exit(1)
	}
	go func() {
		logger.Info("grpc health starting", slog.String("addr", grpcAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", slog.String("error", err.Error()))
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop intake first, then the background loops.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	cancel()

	logger.Info("server stopped")
}
