package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/api"
	"github.com/medichat/appointment-chatbot/internal/app"
	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/chat"
	"github.com/medichat/appointment-chatbot/internal/config"
	"github.com/medichat/appointment-chatbot/internal/db"
	redisclient "github.com/medichat/appointment-chatbot/internal/redis"
	"github.com/medichat/appointment-chatbot/internal/schedule"
	"github.com/medichat/appointment-chatbot/internal/whatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, "migrations")
	if err != nil {
		log.Fatal("init migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		log.Fatal("run migrations", zap.Error(err))
	}
	_ = migrator.Close()

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		Timeout:  cfg.RedisTimeout,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	repo := booking.NewPgRepository(pool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, locker, log)

	catalog := schedule.Catalog{Morning: cfg.MorningSlots, Evening: cfg.EveningSlots}
	var calc chat.Availability
	if cfg.FixedSlotMode {
		calc = schedule.NewFixedCalculator(repo, catalog, cfg.AvailableDateCap)
		log.Info("fixed slot mode enabled")
	} else {
		calc = schedule.NewCalculator(repo, catalog, cfg.ScanHorizonDays, cfg.AvailableDateCap)
	}

	var agent chat.Agent
	if cfg.GeminiAPIKey != "" {
		gemini, err := chat.NewGeminiAgent(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Fatal("init gemini agent", zap.Error(err))
		}
		defer func() { _ = gemini.Close() }()
		agent = gemini
		log.Info("gemini agent enabled", zap.String("model", cfg.GeminiModel))
	} else {
		agent = chat.NewDisabledAgent()
		log.Info("no GEMINI_API_KEY set, free-text agent disabled")
	}

	flowCfg := chat.FlowConfig{
		SkipSpecialty:       cfg.SkipSpecialty,
		CollectDemographics: cfg.CollectDemographics,
	}
	flow := chat.NewFlow(svc, calc, flowCfg, log)
	handler := chat.NewHandler(chat.NewStore(), flow, repo, agent, log)

	wa := whatsapp.NewClient(cfg.GupshupAppName, cfg.GupshupAPIKey, cfg.GupshupSource, log)
	if !wa.Configured() {
		log.Info("gupshup credentials not set, outbound whatsapp disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		Chat:     handler,
		Service:  svc,
		Repo:     repo,
		Avail:    calc,
		WhatsApp: wa,
		Pool:     pool,
		Redis:    rdb,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info("api server listening", zap.String("port", cfg.HTTPPort), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
