package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aanjaneya24/smartsched/internal/activity"
	"github.com/aanjaneya24/smartsched/internal/auth"
	"github.com/aanjaneya24/smartsched/internal/config"
	"github.com/aanjaneya24/smartsched/internal/crypto"
	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/gcal"
	"github.com/aanjaneya24/smartsched/internal/health"
	"github.com/aanjaneya24/smartsched/internal/metrics"
	"github.com/aanjaneya24/smartsched/internal/notify"
	"github.com/aanjaneya24/smartsched/internal/oauth"
	"github.com/aanjaneya24/smartsched/internal/orchestrator"
	"github.com/aanjaneya24/smartsched/internal/web"
	"github.com/gin-gonic/gin"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting SmartSched calendar service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	vault, err := crypto.NewVault(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token vault: %v", err)
	}

	// A missing Google client leaves the integration disabled, not the service.
	var provider oauth.Provider
	googleProvider, err := oauth.NewGoogleProvider(oauth.GoogleConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURL,
	})
	switch {
	case err == nil:
		provider = googleProvider
	case errors.Is(err, oauth.ErrNotConfigured):
		log.Println("Google Calendar integration disabled: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set")
	default:
		log.Fatalf("Failed to initialize Google provider: %v", err)
	}

	tokens := oauth.NewManager(database, vault, provider, oauth.NewStateCodec([]byte(cfg.Security.SessionSecret)))

	notifyCfg := &notify.Config{
		WebhookEnabled: cfg.Alerts.WebhookEnabled,
		WebhookURL:     cfg.Alerts.WebhookURL,
		EmailEnabled:   cfg.Alerts.EmailEnabled,
		SMTPHost:       cfg.Alerts.SMTPHost,
		SMTPPort:       cfg.Alerts.SMTPPort,
		SMTPUsername:   cfg.Alerts.SMTPUsername,
		SMTPPassword:   cfg.Alerts.SMTPPassword,
		SMTPFrom:       cfg.Alerts.SMTPFrom,
		SMTPTo:         cfg.Alerts.SMTPTo,
		SMTPTLS:        cfg.Alerts.SMTPTLS,
		CooldownPeriod: time.Duration(cfg.Alerts.CooldownMinutes) * time.Minute,
	}
	if notifyCfg.WebhookEnabled || notifyCfg.EmailEnabled {
		if err := notify.ValidateConfig(notifyCfg); err != nil {
			log.Fatalf("Invalid alert configuration: %v", err)
		}
	}
	notifier := notify.New(notifyCfg, nil)
	if notifier.IsEnabled() {
		log.Printf("Alert notifications enabled (webhook: %v, email: %v, cooldown: %d min)",
			cfg.Alerts.WebhookEnabled, cfg.Alerts.EmailEnabled, cfg.Alerts.CooldownMinutes)
	}

	tokens.OnReauthRequired(func(ctx context.Context, userID string, cause error) {
		var email string
		if user, err := database.GetUserByID(ctx, userID); err == nil {
			email = user.Email
		}
		notifier.SendRevokedAlert(ctx, userID, email, cause)
	})

	clients := gcal.NewClientFactory(tokens, cfg.Sync.Location)
	engine := gcal.NewEngine(clients, gcal.EngineConfig{
		Location:            cfg.Sync.Location,
		OccurrenceLimit:     cfg.Sync.OccurrenceLimit,
		RequestDelay:        cfg.Sync.RequestDelay,
		CleanupWindowMonths: cfg.Sync.CleanupWindowMonths,
	})
	orch := orchestrator.New(engine, database, tokens, activity.NewTracker())

	sessionManager := auth.NewSessionManager(
		cfg.Security.SessionSecret,
		cfg.IsProduction(),
		cfg.Security.SessionMaxAgeSecs,
	)

	healthChecker := health.NewChecker(database, tokens.Configured())

	handlers, err := web.NewHandlers(
		cfg,
		database,
		sessionManager,
		tokens,
		clients,
		engine,
		orch,
		healthChecker,
		notifier,
	)
	if err != nil {
		log.Fatalf("Failed to load templates: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(web.RequestLogger())
	router.Use(web.SecurityHeaders())

	web.SetupRoutes(router, handlers, sessionManager)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
