package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-traderoom/internal/account"
	"go-traderoom/internal/broker"
	"go-traderoom/internal/config"
	"go-traderoom/internal/db"
	"go-traderoom/internal/infra"
	"go-traderoom/internal/lobby"
	myMiddleware "go-traderoom/internal/middleware"
	"go-traderoom/internal/push"
	"go-traderoom/internal/relay"
	"go-traderoom/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Config & Flags
	cfg := config.Load()
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		logger.Error("❌ DB_DSN is not set")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("❌ JWT_SECRET is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	database, err := db.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		logger.Error("❌ Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		logger.Error("❌ Migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("✅ Database Schema Initialized")

	// 3. Connect to the room broker
	transport, closeTransport, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		logger.Error("❌ Failed to connect to broker", "broker", cfg.Broker, "error", err)
		os.Exit(1)
	}
	defer closeTransport()
	logger.Info("✅ Connected to broker", "broker", cfg.Broker)

	// 4. Features
	accountService := account.NewService(account.NewRepository(database.Conn), cfg.JWTSecret)
	accountHandler := account.NewHandler(accountService)

	records := store.NewPostgres(database.Conn)
	pusher := push.NewClient(cfg.PushURL, logger)
	defer pusher.Wait()

	lobbyHandler := lobby.NewHandler(lobby.NewService(records, accountService, pusher, logger))

	hub := relay.NewHub(transport, logger)
	go hub.Run(ctx)
	relayHandler := relay.NewHandler(ctx, hub, records)

	authMiddleware := myMiddleware.NewAuthMiddleware(accountService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", accountHandler.Register)
	r.Post("/login", accountHandler.Login)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", relayHandler.ServeWs)

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", accountHandler.Me)
			r.Put("/me/push-token", accountHandler.SetPushToken)
			r.Get("/wallets", accountHandler.ListWallets)
			r.Post("/wallets", accountHandler.AddWallet)
			lobbyHandler.Routes(r)
		})
	})

	if cfg.MetricsAddr != "" {
		go startObservabilityServer(cfg.MetricsAddr, logger)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("🛑 Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("🚀 Server starting", "addr", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// connectBroker picks the relay's upstream transport.
func connectBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker.Transport, func(), error) {
	switch cfg.Broker {
	case "rabbitmq":
		mq, err := broker.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return mq, func() { mq.Close() }, nil
	default:
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			redisClient.Close()
			return nil, nil, err
		}
		return broker.NewRedis(redisClient, logger), func() { redisClient.Close() }, nil
	}
}

func startObservabilityServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("📊 Observability server online", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
