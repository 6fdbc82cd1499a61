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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/forgechat/checkpoint-platform/internal/autocommit"
	"github.com/forgechat/checkpoint-platform/internal/branchstate"
	"github.com/forgechat/checkpoint-platform/internal/bridge"
	"github.com/forgechat/checkpoint-platform/internal/config"
	"github.com/forgechat/checkpoint-platform/internal/events"
	"github.com/forgechat/checkpoint-platform/internal/handler"
	"github.com/forgechat/checkpoint-platform/internal/llm"
	"github.com/forgechat/checkpoint-platform/internal/middleware"
	natsclient "github.com/forgechat/checkpoint-platform/internal/nats"
	"github.com/forgechat/checkpoint-platform/internal/projection"
	"github.com/forgechat/checkpoint-platform/internal/service"
	"github.com/forgechat/checkpoint-platform/internal/vcs"
	"github.com/forgechat/checkpoint-platform/pkg/logger"
	"github.com/forgechat/checkpoint-platform/pkg/tracing"
)

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
		tp, err := tracing.InitTracer(ctx, "checkpoint-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize LLM client
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, LLM features disabled", zap.Error(err))
		}
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, LLM features disabled", zap.Error(err))
		}
	}
	if llmClient != nil {
		llmClient = llm.WithRetry(llmClient)
	}

	// Event bus for cross-component synchronization
	bus := events.NewBus()
	defer bus.Close()

	// Tool bridge and version-control gateway
	toolBridge := bridge.NewLocalBridge(log)
	gateway := vcs.NewGateway(toolBridge, vcs.Author{
		Name:  cfg.GitAuthorName,
		Email: cfg.GitAuthorEmail,
	}, log)

	// Auto-commit engine
	autoCommitCfg := autocommit.DefaultConfig()
	autoCommitCfg.Enabled = cfg.AutoCommitEnabled
	autoCommitCfg.AutoPushToRemote = cfg.AutoCommitPush
	autoCommitCfg.Conditions.MinimumChanges = cfg.AutoCommitMinChanges
	autoCommitCfg.Conditions.DelayAfterLastChange = cfg.AutoCommitDelay
	configStore := autocommit.NewConfigStore(autoCommitCfg)
	engine := autocommit.NewEngine(configStore, gateway, nil, bus, log)
	defer engine.Close()

	// Branch state store with background refresh
	branchStore := branchstate.NewStore(gateway, bus, log)
	defer branchStore.Close()

	// Metadata projection: built locally from the workspace repository, or
	// fetched from an external service when one is configured.
	var builder service.MetadataBuilder = projection.NewBuilder(log)
	if cfg.MetadataServiceURL != "" {
		builder = service.NewRemoteMetadataBuilder(service.NewMetadataClient(cfg.MetadataServiceURL, log))
	}

	// Initialize services
	projectSvc := service.NewProjectService(builder, bus, log)
	conversationSvc := service.NewConversationService(projectSvc, gateway, log)
	messageSvc := service.NewMessageService(streamManager, projectSvc, conversationSvc, llmClient, toolBridge, engine, log)
	revertSvc := service.NewRevertOrchestrator(projectSvc, conversationSvc, branchStore, gateway, log)

	associationSvc := service.NewAssociationService(messageSvc, conversationSvc, log)
	associationSvc.Start(bus)
	defer associationSvc.Stop()

	// Mirror process-wide sync events onto JetStream so the checkpoint
	// timeline survives restarts.
	syncEvents, stopSync := bus.Subscribe()
	defer stopSync()
	go func() {
		for ev := range syncEvents {
			if _, err := streamManager.PublishSyncEvent(context.Background(), &ev); err != nil {
				log.Warn("failed to persist sync event",
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	projectHandler := handler.NewProjectHandler(projectSvc, branchStore, cfg.BranchRefreshInterval, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, revertSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, conversationSvc, log)
	streamHandler := handler.NewStreamHandler(messageSvc, conversationSvc, log)
	eventsHandler := handler.NewEventsHandler(bus, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Process-wide sync events
		r.Get("/events", eventsHandler.Events)

		// Projects
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", projectHandler.Create)
			r.Get("/", projectHandler.List)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", projectHandler.Get)
				r.Post("/generate", projectHandler.Generate)

				// Branches
				r.Get("/branches", projectHandler.ListBranches)
				r.Get("/branches/current", projectHandler.CurrentBranch)
				r.Get("/branches/format", projectHandler.FormatBranch)
				r.Post("/branches/switch", projectHandler.SwitchBranch)

				// Conversations
				r.Route("/conversations", func(r chi.Router) {
					r.Post("/", conversationHandler.Create)
					r.Get("/", conversationHandler.List)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", conversationHandler.Get)
						r.Put("/", conversationHandler.Update)
						r.Delete("/", conversationHandler.Delete)
						r.Post("/revert", conversationHandler.Revert)

						// Messages
						r.Get("/messages", messageHandler.List)
						r.Post("/messages", messageHandler.Send)

						// Streaming
						r.Get("/stream", streamHandler.Stream)
						r.Post("/stream", streamHandler.StreamWithMessage)
					})
				})
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
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
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
