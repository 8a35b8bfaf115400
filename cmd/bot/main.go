package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ecobot-id/ecobot/internal/ai"
	"github.com/ecobot-id/ecobot/internal/assembler"
	"github.com/ecobot-id/ecobot/internal/dialog"
	"github.com/ecobot-id/ecobot/internal/dispatch"
	"github.com/ecobot-id/ecobot/internal/mailer"
	"github.com/ecobot-id/ecobot/internal/maps"
	"github.com/ecobot-id/ecobot/internal/messaging"
	"github.com/ecobot-id/ecobot/internal/report"
	"github.com/ecobot-id/ecobot/internal/server"
	"github.com/ecobot-id/ecobot/internal/session"
	"github.com/ecobot-id/ecobot/internal/storage"
	"github.com/ecobot-id/ecobot/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize session store
	var sessions session.Store
	if cfg.Session.RedisAddr != "" {
		logger.Info("Using Redis session store", zap.String("addr", cfg.Session.RedisAddr))
		sessions, err = session.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	} else {
		logger.Info("Using in-memory session store")
		sessions = session.NewMemoryStore()
	}

	// Initialize AI adapters
	aiConfig := ai.Config{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		TextModel:   cfg.OpenAI.TextModel,
		VisionModel: cfg.OpenAI.VisionModel,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}
	text := ai.NewGPTText(aiConfig, logger)
	vision := ai.NewGPTVision(aiConfig, logger)

	// Initialize supporting services
	mail := mailer.NewMailer(cfg.Mailer.APIKey, cfg.Mailer.FromName, cfg.Mailer.FromEmail)
	locator := maps.NewService(store, cfg.Maps.APIKey, logger)
	reports := report.NewService(store, mail, logger)
	asm := assembler.New(store, text, cfg.App.ContextTurns, cfg.App.VillageName, logger)
	machine := dialog.New(cfg.App.AutoRegister)
	roles := dispatch.NewRoleDirectory(cfg.App.AdminPhones, cfg.App.KoordinatorPhones)

	// Initialize messaging channel
	var whatsapp *messaging.TwilioWhatsApp
	var telegram *messaging.Telegram
	var channel messaging.Channel
	switch cfg.Channel.Kind {
	case "telegram":
		telegram, err = messaging.NewTelegram(cfg.Channel.Telegram.Token, logger)
		if err != nil {
			logger.Fatal("Failed to create Telegram channel", zap.Error(err))
		}
		channel = telegram
	default:
		whatsapp = messaging.NewTwilioWhatsApp(
			cfg.Channel.WhatsApp.AccountSID,
			cfg.Channel.WhatsApp.AuthToken,
			cfg.Channel.WhatsApp.Number,
			logger,
		)
		channel = whatsapp
	}

	dispatcher := dispatch.New(dispatch.Options{
		Storage:     store,
		Sessions:    sessions,
		Channel:     channel,
		Machine:     machine,
		Assembler:   asm,
		Vision:      vision,
		Maps:        locator,
		Reports:     reports,
		Roles:       roles,
		ReportEmail: cfg.Mailer.ReportEmail,
		Logger:      logger,
	})

	if telegram != nil {
		logger.Info("Starting Telegram long-poll listener")
		go telegram.Listen(func(msg *messaging.NormalizedMessage) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			dispatcher.Handle(ctx, msg)
		})
		waitForSignal(logger)
		return
	}

	srv := server.New(cfg.Server.Port, dispatcher, whatsapp, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	waitForSignal(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

func waitForSignal(logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", zap.String("signal", sig.String()))
}
