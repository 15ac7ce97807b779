package main

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"sevapay/internal/fees"
	"sevapay/internal/gateway/cashfree"
	"sevapay/internal/handlers"
	"sevapay/internal/ledger"
	"sevapay/internal/notify"
	"sevapay/internal/requests"
	"sevapay/internal/vendors/pan"
	"sevapay/internal/vendors/recharge"
	"sevapay/pkg/auth"
	"sevapay/pkg/config"
	"sevapay/pkg/database"
	"sevapay/pkg/logging"
	"sevapay/pkg/models"
	"sevapay/pkg/monitoring"
	redisclient "sevapay/pkg/redis"
	"sevapay/pkg/server"
	"sevapay/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Wallet & Billing API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Redis backs the billing run lock. Optional: without it, billing runs
	// are only safe on a single instance.
	var locker fees.RunLocker
	var redisConn *goredis.Client
	if redisURL := config.GetEnv("REDIS_URL", ""); redisURL != "" {
		rc, err := redisclient.NewClientFromURL(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rc.Close()
		locker = fees.NewRedisLocker(rc)
		redisConn = rc
	} else {
		logger.Warn("REDIS_URL not set - fee billing run lock disabled")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": dbURL,
		"JWT_SECRET":   jwtSecret,
	}))
	if redisConn != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisConn))
	}

	// Create custom wallet/billing metrics
	metrics := &handlers.BursarMetrics{
		WalletOperations: metricsCollector.NewCounter("wallet_operations_total", "Wallet operations performed", []string{"operation", "status"}),
		FeeCharges:       metricsCollector.NewCounter("fee_charges_total", "Fee charges applied", []string{"trigger"}),
		GatewayWebhooks:  metricsCollector.NewCounter("gateway_webhooks_total", "Payment gateway webhooks received", []string{"event"}),
		VendorCalls:      metricsCollector.NewCounter("vendor_calls_total", "Vendor API calls", []string{"service", "operation", "status"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Build the domain services
	notifier := notify.NewNotifier(db, logger)
	walletLedger := ledger.New(db, logger)
	requestService := requests.New(db, walletLedger, notifier, logger)
	feeScheduler := fees.NewScheduler(db, walletLedger, locker, notifier, logger)

	gateway := cashfree.NewClient(cashfree.Config{
		AppID:       config.GetEnv("CASHFREE_APP_ID", ""),
		SecretKey:   config.GetEnv("CASHFREE_SECRET_KEY", ""),
		Environment: config.GetEnv("CASHFREE_ENVIRONMENT", "sandbox"),
		NotifyURL:   config.GetEnv("BASE_URL", "") + "/webhooks/cashfree",
		ReturnURL:   config.GetEnv("TOPUP_RETURN_URL", ""),
		Logger:      logger,
	})
	if !gateway.IsConfigured() {
		logger.Warn("Cashfree credentials not set - online top-ups disabled")
	}

	rechargeClient := recharge.NewClient(recharge.Config{
		BaseURL: config.GetEnv("RECHARGE_API_URL", ""),
		APIKey:  config.GetEnv("RECHARGE_API_KEY", ""),
		Logger:  logger,
	})
	panClient := pan.NewClient(pan.Config{
		BaseURL: config.GetEnv("PAN_API_URL", ""),
		APIKey:  config.GetEnv("PAN_API_KEY", ""),
		Logger:  logger,
	})

	// Initialize handlers
	handlers.Init(db, logger, metrics, handlers.Services{
		Ledger:   walletLedger,
		Requests: requestService,
		Fees:     feeScheduler,
		Gateway:  gateway,
		Recharge: rechargeClient,
		PAN:      panClient,
		Notifier: notifier,
	})

	// Start background fee billing and top-up expiry jobs
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feeScheduler.Start(ctx)
	defer feeScheduler.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/bursar/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			protected.GET("/wallet", handlers.GetWallet)
			protected.GET("/wallet/transactions", handlers.GetWalletTransactions)
			protected.POST("/wallet/requests", handlers.CreateWalletRequest)
			protected.GET("/wallet/requests", handlers.GetOwnWalletRequests)
			protected.POST("/topups", handlers.CreateTopup)

			protected.GET("/services/recharge/operators", handlers.GetRechargeOperators)
			protected.POST("/services/recharge",
				auth.RequireRole(models.RoleRetailer, models.RoleCustomer), handlers.CreateRecharge)
			protected.POST("/services/pan",
				auth.RequireRole(models.RoleRetailer), handlers.CreatePANApplication)

			reviewers := protected.Group("/admin", auth.RequireRole(models.RoleAdmin, models.RoleEmployee))
			{
				reviewers.GET("/wallet-requests", handlers.AdminListWalletRequests)
				reviewers.POST("/wallet-requests/:id/approve", handlers.ApproveWalletRequest)
				reviewers.POST("/wallet-requests/:id/reject", handlers.RejectWalletRequest)
			}

			admin := protected.Group("/admin", auth.RequireRole(models.RoleAdmin))
			{
				admin.GET("/fees", handlers.GetFeeDefinitions)
				admin.PUT("/fees", handlers.UpsertFeeDefinition)
				admin.POST("/rewards", handlers.DisburseReward)
			}
		}

		// Gateway webhook (no auth - HMAC signature verified in the handler)
		router.POST("/webhooks/cashfree", handlers.CashfreeWebhook)

		// Service-to-service endpoints
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/jobs/fees/run", handlers.RunFeeBilling)
			serviceAPI.POST("/webhooks/vendor/status", handlers.VendorStatusWebhook)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
