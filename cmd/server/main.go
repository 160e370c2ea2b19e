package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/onlyif/messaging/config"
	"github.com/onlyif/messaging/internal/auth"
	"github.com/onlyif/messaging/internal/backend"
	"github.com/onlyif/messaging/internal/cache"
	"github.com/onlyif/messaging/internal/database"
	"github.com/onlyif/messaging/internal/handlers"
	"github.com/onlyif/messaging/internal/logger"
	"github.com/onlyif/messaging/internal/metrics"
	"github.com/onlyif/messaging/internal/middleware"
	"github.com/onlyif/messaging/internal/repository"
	"github.com/onlyif/messaging/internal/repository/memory"
	"github.com/onlyif/messaging/internal/repository/postgres"
	"github.com/onlyif/messaging/internal/service"
	"github.com/onlyif/messaging/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// stores is the persistence the service runs on
type stores struct {
	conversations repository.ConversationStore
	messages      repository.MessageStore
	participants  repository.ParticipantRegistry
	properties    repository.PropertyDirectory
	checks        map[string]handlers.Pinger
	close         func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var demo *service.DemoData
	if cfg.Messaging.DemoMode {
		d := service.NewDemoData(time.Now())
		demo = &d
	}

	st, err := buildStores(ctx, cfg, demo, log)
	if err != nil {
		log.Fatal("failed to initialise stores", zap.Error(err))
	}
	defer st.close()

	// Connect to Redis
	var redis *cache.RedisClient
	if cfg.Redis.Enabled {
		redis, err = cache.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("running without Redis, realtime fan out stays on this instance", zap.Error(err))
			redis = nil
		} else {
			defer redis.Close()
			st.checks["redis"] = redis
		}
	}

	m := metrics.New()
	hub := websocket.NewHub(presenceOf(redis), log)
	go hub.Run(ctx)

	opts := []service.Option{
		service.WithMetrics(m),
		service.WithPropertyDirectory(st.properties),
	}
	if redis != nil {
		opts = append(opts, service.WithNotifier(redis))
		go hub.ListenRedis(ctx, redis.SubscribeToMessages(ctx))
	} else {
		opts = append(opts, service.WithNotifier(hub))
	}
	if demo != nil {
		opts = append(opts, service.WithFallback(service.NewSellerDemoFallback(demo.Conversations)))
		log.Warn("demo mode enabled, sellers without conversations see template data")
	}

	svc := service.NewConversationService(st.conversations, st.messages, st.participants, log, opts...)

	var jwtService *auth.JWTService
	if cfg.JWT.Secret != "" {
		jwtService = auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	}

	var shared middleware.Allower
	if redis != nil {
		shared = redis
	}
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitMessagesPerSec, shared, log)
	rateLimiter.Cleanup(ctx)

	convHandler := handlers.NewConversationHandler(svc)
	msgHandler := handlers.NewMessageHandler(svc)
	healthHandler := handlers.NewHealthHandler(st.checks)
	wsHandler := websocket.NewHandler(hub, jwtService, svc, websocket.HandlerConfig{
		AuthRequired:    cfg.JWT.AuthRequired,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		FramesPerSecond: float64(cfg.API.RateLimitMessagesPerSec),
		Burst:           cfg.API.RateLimitMessagesPerSec * 2,
	}, log)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	router.GET("/ws", wsHandler.HandleWebSocket)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtService, cfg.JWT.AuthRequired))
	{
		// Conversation routes
		api.GET("/conversations", convHandler.GetConversations)
		api.GET("/conversations/:id/messages", convHandler.GetMessages)
		api.PUT("/conversations/:id/messages", convHandler.MarkRead)

		// Message routes
		api.POST("/messages", middleware.RateLimitMiddleware(rateLimiter, "send_message"), msgHandler.SendMessage)

		api.GET("/online-users", wsHandler.GetOnlineUsers)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting messaging server",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.Server.Env),
			zap.String("store", cfg.Store.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		return
	}
	log.Info("server stopped")
}

// buildStores opens the configured stores. demo is nil unless demo mode is on.
func buildStores(ctx context.Context, cfg *config.Config, demo *service.DemoData, log *zap.Logger) (*stores, error) {
	st := &stores{checks: map[string]handlers.Pinger{}, close: func() {}}

	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := database.NewPostgresDB(cfg.GetDSN())
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(db.DB, log); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		participants := postgres.NewParticipantRepository(db)
		st.conversations = postgres.NewConversationRepository(db)
		st.messages = postgres.NewMessageRepository(db)
		st.participants = participants
		st.checks["postgres"] = handlers.PingFunc(db.PingContext)
		st.close = func() { db.Close() }

		if demo != nil {
			for _, p := range demo.Participants {
				p := p
				if err := participants.Upsert(ctx, &p); err != nil {
					st.close()
					return nil, fmt.Errorf("failed to seed demo participant: %w", err)
				}
			}
			// the seller fallback hands out these ids, so they must exist here too
			created, err := service.SeedDemo(ctx, st.conversations, st.messages, *demo)
			if err != nil {
				st.close()
				return nil, fmt.Errorf("failed to seed demo conversations: %w", err)
			}
			log.Info("demo conversations seeded", zap.Int("created", created))
		}

	default:
		convs := memory.NewConversationStore()
		msgs := memory.NewMessageStore()
		registry := memory.NewParticipantRegistry()
		if demo != nil {
			for _, p := range demo.Participants {
				registry.Put(p)
			}
			convs.Seed(demo.Conversations...)
			if err := msgs.Seed(demo.Messages...); err != nil {
				return nil, fmt.Errorf("failed to seed demo messages: %w", err)
			}
		}
		st.conversations, st.messages, st.participants = convs, msgs, registry
	}

	// The marketplace backend owns accounts and listings when configured
	if cfg.Backend.URL != "" {
		client, err := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, log)
		if err != nil {
			st.close()
			return nil, err
		}
		st.participants = client
		st.properties = client
	}

	return st, nil
}

func presenceOf(redis *cache.RedisClient) websocket.Presence {
	if redis == nil {
		return nil
	}
	return redis
}
