// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/config"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/gateway"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/handler"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/middleware"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/notify"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/session"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/store"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/tracing"
)

// notificationWindow bounds how often an identical notification reaches the
// same user.
const notificationWindow = 5 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "roc-ai", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Postgres and run migrations
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBHost)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS for user notifications
	natsSink, err := notify.ConnectNATS(notify.NATSConfig{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsSink.Close()

	notifier := notify.NewDeduper(notificationWindow, natsSink, notify.NewLogSink(log))

	// Gateway client
	gw := gateway.NewClient(gateway.Config{
		URL:        cfg.GatewayURL,
		APIKey:     cfg.GatewayAPIKey,
		MaxRetries: cfg.GatewayRetries,
		RetryDelay: cfg.GatewayRetryDelay,
	}, log)

	// Repositories and per-user sessions
	conversations := store.NewConversationRepository(db)
	messages := store.NewMessageRepository(db)

	sessions := session.NewManager(session.ManagerConfig{
		Conversations:   conversations,
		Messages:        messages,
		Gateway:         gw,
		Notifier:        notifier,
		Logger:          log,
		CacheMaxEntries: cfg.CacheMaxEntries,
		CacheTTL:        cfg.CacheTTL,
		HistoryWindow:   cfg.HistoryWindow,
		MaxAttachments:  cfg.MaxAttachments,
	})

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db, natsSink)
	chatHandler := handler.NewChatHandler(sessions, log)
	conversationHandler := handler.NewConversationHandler(sessions, log)
	messageHandler := handler.NewMessageHandler(sessions)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/chat", func(r chi.Router) {
			r.Post("/send", chatHandler.Send)
			r.Post("/edit-image", chatHandler.EditImage)
			r.Post("/regenerate", chatHandler.Regenerate)
			r.Put("/mode", chatHandler.SetMode)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.New)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/select", conversationHandler.Select)
				r.Put("/", conversationHandler.Rename)
				r.Delete("/", conversationHandler.Delete)
			})
		})

		r.Get("/messages", messageHandler.List)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		ReadTimeout: cfg.ServerReadTimeout,
		// Streaming responses outlive any fixed write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
