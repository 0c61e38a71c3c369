package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"propfirm-risk-engine/config"
	"propfirm-risk-engine/internal/api"
	"propfirm-risk-engine/internal/database"
	"propfirm-risk-engine/internal/events"
	"propfirm-risk-engine/internal/feed"
	"propfirm-risk-engine/internal/logging"
	"propfirm-risk-engine/internal/monitor"
	"propfirm-risk-engine/internal/notification"
	"propfirm-risk-engine/internal/pricecache"
	"propfirm-risk-engine/internal/vault"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Setup(cfg.LoggingConfig)
	logger.Info().Msg("risk engine starting")

	// Resolve ledger credentials from Vault when enabled.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vault client")
	}
	if vaultClient.Enabled() {
		creds, err := vaultClient.GetLedgerCredentials(context.Background())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve ledger credentials from vault")
		}
		cfg.LedgerConfig.URL = creds.URL
		cfg.LedgerConfig.ServiceKey = creds.ServiceKey
		logger.Info().Msg("ledger credentials resolved from vault")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	eventBus := events.NewEventBus()

	notifyManager := notification.NewManager()
	if cfg.NotificationConfig.Enabled {
		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
				Enabled:  true,
			}))
			logger.Info().Msg("telegram notifications enabled")
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
				Enabled:    true,
			}))
			logger.Info().Msg("discord notifications enabled")
		}
		notifyManager.AttachToBus(eventBus)
	}

	db, err := database.NewDB(cfg.LedgerConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to ledger")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	repo := database.NewRepository(db)
	priceCache := pricecache.New()

	feedClient := feed.NewClient(cfg.FeedConfig.URL, priceCache, eventBus)
	feedClient.Start()

	riskMonitor := monitor.New(monitor.Config{
		Ledger:          repo,
		Cache:           priceCache,
		EventBus:        eventBus,
		Interval:        cfg.MonitorConfig.Interval(),
		StaleAfter:      cfg.MonitorConfig.StaleAfter(),
		FallbackSymbols: cfg.MonitorConfig.FallbackSymbols,
	})
	riskMonitor.Start(ctx, feed.StreamingSymbols())

	server := api.NewServer(api.ServerConfig{
		Port:            cfg.ServerConfig.Port,
		Host:            cfg.ServerConfig.Host,
		AllowedOrigins:  api.SplitOrigins(cfg.ServerConfig.AllowedOrigins),
		ProductionMode:  cfg.ServerConfig.ProductionMode,
		StaleAfter:      cfg.MonitorConfig.StaleAfter(),
		ShutdownTimeout: time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second,
	}, priceCache, feedClient, eventBus)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	logger.Info().
		Int("port", cfg.ServerConfig.Port).
		Dur("interval", cfg.MonitorConfig.Interval()).
		Msg("risk engine running")

	// Block until SIGINT/SIGTERM, then unwind: stop ticking, close the
	// feed socket, drain HTTP.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	riskMonitor.Stop()
	feedClient.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown error")
	}

	logger.Info().Msg("risk engine stopped")
}
