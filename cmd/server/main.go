package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"payments-api/internal/cache"
	"payments-api/internal/compliance"
	"payments-api/internal/config"
	"payments-api/internal/controller"
	"payments-api/internal/engine"
	"payments-api/internal/external"
	"payments-api/internal/fee"
	"payments-api/internal/ledger"
	"payments-api/internal/limits"
	"payments-api/internal/middleware"
	"payments-api/internal/models"
	"payments-api/internal/monitoring"
	"payments-api/internal/repository"
	"payments-api/internal/reversal"
	"payments-api/internal/risk"
	"payments-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger.Init(cfg.Logging)
	logrus.Info("Starting payments-api")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer cancel()

	mongoClient, db, err := connectMongo(ctx, cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(context.Background())

	if err := repository.EnsureTransactionIndexes(ctx, db); err != nil {
		logrus.WithError(err).Fatal("Failed to ensure indexes")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Redis unavailable, falling back to in-process locking")
		redisAvailable = false
	}

	// Repositories.
	accounts := repository.NewAccountRepository(db)
	transactions := repository.NewTransactionRepository(db)
	rules := repository.NewRuleRepository(db)
	accountLimits := repository.NewLimitRepository(db)
	cases := repository.NewCaseRepository(db)
	reversals := repository.NewReversalRepository(db)

	metrics := monitoring.NewMetrics()

	// Ledger with per-account locking. Redis locks coordinate across
	// instances; the keyed locker covers single-instance deployments.
	var locker ledger.Locker
	if redisAvailable {
		locker = ledger.NewRedisLocker(redisClient, cfg.Redis.LockTTL, cfg.Engine.LockRetries, cfg.Engine.LockRetryDelay)
	} else {
		locker = ledger.NewKeyedLocker(5 * time.Second)
	}
	ldg := ledger.New(accounts, locker, cfg.Engine.LockRetries, cfg.Engine.LockRetryDelay).
		WithConflictHook(metrics.RecordLockConflict)

	// External collaborators.
	usersClient := external.NewUsersClient(cfg.External)
	rewardsClient := external.NewRewardsClient(cfg.External)
	publisher := external.NewNotificationPublisher(cfg.RabbitMQ)
	if err := publisher.Connect(); err != nil {
		logrus.WithError(err).Warn("RabbitMQ unavailable, notifications disabled until reconnect")
	}
	defer publisher.Close()

	// Engine.
	auditLogger := logger.Audit(cfg.Logging)
	feeCalc := fee.NewCalculator(cfg.Engine)
	scorer := risk.NewScorer(rules, transactions, cases, cfg.Engine)
	gate := compliance.NewGate(transactions, cases, usersClient, cfg.Engine, auditLogger)
	limiter := limits.NewEnforcer(accountLimits, transactions)

	orchestrator := engine.NewOrchestrator(accounts, transactions, ldg, feeCalc, scorer, gate, limiter, usersClient).
		WithSideEffects(publisher, rewardsClient, cache.NewIdempotencyCache(redisClient, cfg.Redis.IdempotencyTTL), metrics)

	reversalService := reversal.NewService(reversals, transactions, ldg, cfg.Engine.ReversalWindowDays)

	// Background sweeps.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("0 * * * *", func() {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), time.Minute)
		defer sweepCancel()
		expired, err := reversalService.ExpirePending(sweepCtx, 30*24*time.Hour)
		if err != nil {
			logrus.WithError(err).Warn("Reversal expiry sweep failed")
			return
		}
		if expired > 0 {
			logrus.WithField("expired", expired).Info("Expired stale reversal requests")
		}
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule reversal sweep")
	}
	if _, err := scheduler.AddFunc("30 2 * * *", func() {
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), time.Minute)
		defer sweepCancel()
		escalated, err := escalateStaleCases(sweepCtx, cases, 14*24*time.Hour)
		if err != nil {
			logrus.WithError(err).Warn("Case escalation sweep failed")
			return
		}
		if escalated > 0 {
			logrus.WithField("escalated", escalated).Info("Escalated unreviewed compliance cases")
		}
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule case escalation sweep")
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := buildRouter(cfg, orchestrator, reversalService, accounts, metrics)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
	logrus.Info("Server stopped")
}

// escalateStaleCases refers PENDING compliance cases nobody reviewed within
// maxAge, so they surface in the downstream review queue instead of rotting.
func escalateStaleCases(ctx context.Context, cases repository.CaseRepository, maxAge time.Duration) (int, error) {
	stale, err := cases.ListOpenOlderThan(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, activity := range stale {
		if err := cases.UpdateStatus(ctx, activity.CaseNumber, models.CaseReferred); err != nil {
			logrus.WithError(err).WithField("case", activity.CaseNumber).Warn("Failed to escalate case")
			continue
		}
		escalated++
	}
	return escalated, nil
}

func connectMongo(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("failed to ping: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}

func buildRouter(
	cfg *config.Config,
	orchestrator *engine.Orchestrator,
	reversalService *reversal.Service,
	accounts repository.AccountRepository,
	metrics *monitoring.Metrics,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(middleware.RequestLogger(metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst).Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "payments-api"})
	})
	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	auth := middleware.NewAuthMiddleware(cfg.Auth)
	payments := controller.NewPaymentController(orchestrator, reversalService)
	admin := controller.NewAdminController(reversalService, accounts, metrics)

	api := router.Group("/api", auth.JWTAuth())
	{
		api.GET("/balance", payments.GetBalance)
		api.POST("/deposits", payments.Deposit)
		api.POST("/transfers", payments.Transfer)
		api.POST("/payments", payments.Pay)
		api.GET("/transactions", payments.ListTransactions)
		api.GET("/transactions/:number", payments.GetTransaction)
		api.POST("/reversals", payments.RequestReversal)
	}

	adminAPI := router.Group("/api/admin", auth.AdminAuth())
	{
		adminAPI.POST("/accounts", admin.CreateAccount)
		adminAPI.PUT("/accounts/:number/status", admin.SetAccountStatus)
		adminAPI.GET("/reversals/:number", admin.GetReversal)
		adminAPI.POST("/reversals/:number/approve", admin.ApproveReversal)
		adminAPI.POST("/reversals/:number/reject", admin.RejectReversal)
		adminAPI.POST("/reversals/:number/process", admin.ProcessReversal)
	}

	return router
}
