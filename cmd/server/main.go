package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"prediction-engine/internal/auth"
	"prediction-engine/internal/config"
	"prediction-engine/internal/database"
	"prediction-engine/internal/feed"
	"prediction-engine/internal/handlers"
	"prediction-engine/internal/jobs"
	"prediction-engine/internal/ledger"
	"prediction-engine/internal/logger"
	"prediction-engine/internal/repository"
	"prediction-engine/internal/services"
	"prediction-engine/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()
	sugar := zl.Sugar()

	jwtSecret := cfg.App.JWTSecret
	if jwtSecret == "" {
		sugar.Warn("JWT_SECRET not set, using development fallback")
		jwtSecret = "dev-jwt-secret"
	}
	auth.InitJWT(jwtSecret)

	if err := database.Connect(cfg.GetDSN()); err != nil {
		sugar.Fatalw("failed to connect to database", "error", err)
	}
	if err := database.AutoMigrate(); err != nil {
		sugar.Fatalw("failed to run migrations", "error", err)
	}

	// Consumed-token cache is best effort: run degraded when unavailable
	var cache *redis.Client
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		sugar.Warnw("redis unavailable, stake token consumption degrades to db uniqueness", "error", err)
	} else {
		cache = rdb
	}

	ledgerClient, err := ledger.NewClient(cfg.Ledger.NodeURL, cfg.Ledger.SigningKey, zl)
	if err != nil {
		sugar.Fatalw("failed to build ledger client", "error", err)
	}

	tokenizer, err := token.NewTokenizer(cfg.Stake, cfg.IsProduction(), cache, zl)
	if err != nil {
		sugar.Fatalw("failed to build stake tokenizer", "error", err)
	}

	repo := repository.NewRepository(database.GetDB())
	verifier := services.NewStakeVerifier(ledgerClient, cfg.Ledger, zl)
	stakeService := services.NewStakeService(repo, tokenizer, verifier, cfg.Ledger, cfg.Stake.FeePercent, zl)
	marketService := services.NewMarketService(repo, zl)
	engine := services.NewSettlementEngine(repo, ledgerClient, cfg.Ledger, cfg.Stake, zl)

	locker := jobs.NewMarketLocker(engine, 30*time.Second, zl)
	go locker.Start()

	var resolver *jobs.AutoResolver
	if cfg.Feed.BaseURL != "" {
		resolver = jobs.NewAutoResolver(engine, repo, feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.APIKey), time.Minute, zl)
		go resolver.Start()
	} else {
		sugar.Info("result feed not configured, markets settle manually")
	}

	marketHandler := handlers.NewMarketHandler(marketService, stakeService)
	stakeHandler := handlers.NewStakeHandler(stakeService)
	adminHandler := handlers.NewAdminHandler(engine)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
	}
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Public market routes
	router.GET("/api/markets", marketHandler.GetMarkets)
	router.GET("/api/markets/:id", marketHandler.GetMarketByID)

	// Authenticated routes
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.POST("/markets", marketHandler.CreateMarket)
		api.POST("/stakes/quote", stakeHandler.QuoteStake)
		api.POST("/stakes/confirm", stakeHandler.ConfirmStake)
	}

	// Admin routes
	admin := router.Group("/api/admin")
	admin.Use(auth.AuthMiddleware())
	admin.Use(auth.AdminMiddleware())
	{
		admin.POST("/markets/:id/settle", adminHandler.SettleMarket)
		admin.POST("/markets/:id/void", adminHandler.VoidMarket)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		sugar.Infow("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down")
	locker.Stop()
	if resolver != nil {
		resolver.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		sugar.Fatalw("server forced to shutdown", "error", err)
	}

	sugar.Info("server exited")
}
