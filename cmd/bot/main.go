package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/MoonPathBot/internal/config"
	"github.com/digkill/MoonPathBot/internal/database"
	"github.com/digkill/MoonPathBot/internal/metrics"
	"github.com/digkill/MoonPathBot/internal/oracle"
	"github.com/digkill/MoonPathBot/internal/payment"
	"github.com/digkill/MoonPathBot/internal/repository"
	"github.com/digkill/MoonPathBot/internal/securestore"
	"github.com/digkill/MoonPathBot/internal/server"
	"github.com/digkill/MoonPathBot/internal/service"
	"github.com/digkill/MoonPathBot/internal/session"
	"github.com/digkill/MoonPathBot/internal/storage"
	"github.com/digkill/MoonPathBot/internal/telegram"
	"github.com/digkill/MoonPathBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		kv     repository.KV
		health server.Pinger
		ledger *repository.PaymentRepository
	)
	switch cfg.StoreBackend {
	case config.StoreBackendMySQL:
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatalf("database connect: %v", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
		kvRepo := repository.NewKVRepository(db)
		kv, health = kvRepo, kvRepo
		ledger = repository.NewPaymentRepository(db)
	case config.StoreBackendRedis:
		redisKV, err := repository.NewRedisKV(repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		defer redisKV.Close()
		kv, health = redisKV, redisKV
	default:
		logr.Warn("using in-memory store, data is lost on restart")
		kv = repository.NewMemoryKV()
	}
	kv = repository.WithQuota(kv, cfg.StoreMaxValueBytes)

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	collector := metrics.New()
	oracleClient := oracle.NewClient(cfg, collector, logr)

	secure := securestore.New(kv, securestore.NewObfuscator(cfg.ObfuscationSecret), logr)
	planService := service.NewPlanService(secure, logr)
	themeService := service.NewThemeService(kv, logr)
	readingService := service.NewReadingService(cfg, logr, oracleClient, collector)

	var paymentLedger service.Ledger
	var paymentLister server.PaymentLister
	if ledger != nil {
		paymentLedger, paymentLister = ledger, ledger
	}
	paymentService := service.NewPaymentService(logr, payment.NewGateway(cfg.PaymentDelay), paymentLedger, collector)

	sessions := session.NewManager(session.Deps{
		KV:       kv,
		Readings: readingService,
		Plans:    planService,
		Themes:   themeService,
		Payments: paymentService,
		Metrics:  collector,
		Log:      logr,
	})

	var exporter telegram.Exporter
	if cfg.ExportEnabled() {
		s3Exporter, err := storage.NewExporter(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			Prefix:       cfg.S3Prefix,
			LinkTTL:      cfg.S3LinkTTL,
		})
		if err != nil {
			log.Fatalf("storage exporter: %v", err)
		}
		exporter = s3Exporter
	}

	bot := telegram.NewBot(botAPI, logr, sessions, planService, exporter)

	httpServer := server.NewServer(cfg, logr, server.Deps{
		KV:       kv,
		Health:   health,
		Plans:    planService,
		Payments: paymentService,
		Ledger:   paymentLister,
		Metrics:  collector,
	})
	if cfg.SessionIdleTimeout > 0 {
		go sessions.RunEviction(ctx, time.Minute, cfg.SessionIdleTimeout)
	}
	go func() {
		if err := httpServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("http server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
