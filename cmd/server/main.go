// walink - multi-tenant WhatsApp link/check service
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/sync/semaphore"

	"github.com/avelichko/walink/internal/api"
	"github.com/avelichko/walink/internal/bot"
	"github.com/avelichko/walink/internal/config"
	"github.com/avelichko/walink/internal/credstore"
	"github.com/avelichko/walink/internal/lookup"
	"github.com/avelichko/walink/internal/middleware"
	"github.com/avelichko/walink/internal/netlink/meow"
	"github.com/avelichko/walink/internal/notify"
	"github.com/avelichko/walink/internal/ratelimit"
	"github.com/avelichko/walink/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	creds, err := credstore.NewSQLite(cfg.CredDBPath)
	if err != nil {
		slog.Error("Failed to initialize credential store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := creds.Close(); closeErr != nil {
			slog.Error("Failed to close credential store", "error", closeErr)
		}
	}()

	if err := creds.Ping(ctx); err != nil {
		slog.Error("Credential store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Credential store connected")

	dialer, err := meow.NewDialer(ctx, cfg.DeviceDBPath)
	if err != nil {
		slog.Error("Failed to initialize device store", "error", err)
		os.Exit(1)
	}
	slog.Info("Connection dialer initialized")

	// Outbound notifier: Telegram when a token is configured, otherwise
	// log-only so the core still runs headless.
	var notifier notify.Notifier = notify.SlogNotifier{}
	var botAPI *tgbotapi.BotAPI
	if cfg.TelegramToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			slog.Error("Failed to connect to Telegram", "error", err)
			os.Exit(1)
		}
		notifier = notify.NewTelegram(botAPI)
		slog.Info("Telegram notifier initialized", "bot", botAPI.Self.UserName)
	} else {
		slog.Info("TG_TOKEN not set, notifications go to the log only")
	}

	renderQR := func(token string) ([]byte, error) {
		return qrcode.Encode(token, qrcode.Medium, 512)
	}

	// Initialize the session core.
	bus := session.NewBus()
	registry := session.NewRegistry(dialer, creds, notifier, bus, renderQR, session.SupervisorConfig{
		ReconnectBackoff: cfg.Reconnect.Backoff,
		MaxRetries:       cfg.Reconnect.MaxRetries,
	})
	authFlow := session.NewAuthFlow(registry, creds, notifier)
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Quota, cfg.RateLimit.Cooldown)
	resolver := lookup.NewResolver()

	// The worker cap is global across all tenants.
	workers := semaphore.NewWeighted(int64(cfg.Batch.Workers))
	dispatcher := lookup.NewDispatcher(resolver, limiter, workers, cfg.Batch.ItemDelay)

	// Inbound command surface (optional, needs Telegram).
	if botAPI != nil {
		gateway := bot.New(botAPI, registry, authFlow, resolver, dispatcher, limiter, notifier)
		go gateway.Run(ctx)
	}

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler := api.NewHealthHandler(creds)
	healthHandler.RegisterHealth(r)

	adminHandler := api.NewHandler(registry, creds, bus)
	adminHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket event stream has no write deadline
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.Close(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
