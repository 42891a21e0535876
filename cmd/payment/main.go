// PaymentPlatform 主程序
// 功能：收款/付款交易路由、余额冻结、聚合器兜底、争议处理
// 架构：基于 DDD + gin + Kafka
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	aggapp "github.com/wyfcoding/paymentplatform/internal/aggregator/application"
	aggdomain "github.com/wyfcoding/paymentplatform/internal/aggregator/domain"
	"github.com/wyfcoding/paymentplatform/internal/aggregator/infrastructure/partner"
	aggmysql "github.com/wyfcoding/paymentplatform/internal/aggregator/infrastructure/persistence/mysql"
	"github.com/wyfcoding/paymentplatform/internal/callback"
	disputeapp "github.com/wyfcoding/paymentplatform/internal/dispute/application"
	disputedomain "github.com/wyfcoding/paymentplatform/internal/dispute/domain"
	disputemysql "github.com/wyfcoding/paymentplatform/internal/dispute/infrastructure/persistence/mysql"
	disputehttp "github.com/wyfcoding/paymentplatform/internal/dispute/interfaces/http"
	merchantdomain "github.com/wyfcoding/paymentplatform/internal/merchant/domain"
	merchantmysql "github.com/wyfcoding/paymentplatform/internal/merchant/infrastructure/persistence/mysql"
	rateapp "github.com/wyfcoding/paymentplatform/internal/rate/application"
	ratedomain "github.com/wyfcoding/paymentplatform/internal/rate/domain"
	"github.com/wyfcoding/paymentplatform/internal/rate/infrastructure/source"
	requisiteapp "github.com/wyfcoding/paymentplatform/internal/requisite/application"
	requisitedomain "github.com/wyfcoding/paymentplatform/internal/requisite/domain"
	requisitemysql "github.com/wyfcoding/paymentplatform/internal/requisite/infrastructure/persistence/mysql"
	requisitehttp "github.com/wyfcoding/paymentplatform/internal/requisite/interfaces/http"
	traderapp "github.com/wyfcoding/paymentplatform/internal/trader/application"
	traderdomain "github.com/wyfcoding/paymentplatform/internal/trader/domain"
	tradermysql "github.com/wyfcoding/paymentplatform/internal/trader/infrastructure/persistence/mysql"
	trafficdomain "github.com/wyfcoding/paymentplatform/internal/traffic/domain"
	trafficmysql "github.com/wyfcoding/paymentplatform/internal/traffic/infrastructure/persistence/mysql"
	txnapp "github.com/wyfcoding/paymentplatform/internal/transaction/application"
	txndomain "github.com/wyfcoding/paymentplatform/internal/transaction/domain"
	txnmysql "github.com/wyfcoding/paymentplatform/internal/transaction/infrastructure/persistence/mysql"
	"github.com/wyfcoding/paymentplatform/internal/transaction/infrastructure/publisher"
	txnhttp "github.com/wyfcoding/paymentplatform/internal/transaction/interfaces/http"
	"github.com/wyfcoding/paymentplatform/pkg/cache"
	"github.com/wyfcoding/paymentplatform/pkg/config"
	"github.com/wyfcoding/paymentplatform/pkg/db"
	"github.com/wyfcoding/paymentplatform/pkg/logger"
	"github.com/wyfcoding/paymentplatform/pkg/metrics"
	"github.com/wyfcoding/paymentplatform/pkg/middleware"
	"github.com/wyfcoding/paymentplatform/pkg/mq"
	"github.com/wyfcoding/paymentplatform/pkg/ratelimit"
)

func main() {
	// 1. 加载配置
	configPath := os.Getenv("PAYMENT_CONFIG")
	if configPath == "" {
		configPath = "configs/payment/config.toml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting PaymentPlatform",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	// 3. 初始化数据库
	database, err := db.Init(db.Config{
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}

	if err := database.AutoMigrate(
		&traderdomain.Trader{},
		&merchantdomain.Merchant{},
		&merchantdomain.PaymentMethod{},
		&trafficdomain.TrafficRecord{},
		&requisitedomain.BankDetail{},
		&requisitedomain.Device{},
		&txndomain.Transaction{},
		&aggdomain.Aggregator{},
		&disputedomain.DealDispute{},
	); err != nil {
		logger.Fatal(ctx, "Failed to migrate database schema", "error", err)
	}

	// 4. 初始化 Redis
	redisCache, err := cache.New(cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
	}
	defer redisCache.Close()

	// 5. 初始化 Kafka 生产者
	producer, err := mq.NewProducer(mq.KafkaConfig{
		Brokers:    cfg.Kafka.Brokers,
		MaxRetries: cfg.Kafka.MaxRetries,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Kafka producer", "error", err)
	}
	defer producer.Close()

	m := metrics.New("payment")

	// 6. 初始化仓储
	traderRepo := tradermysql.NewTraderRepository(database)
	merchantRepo := merchantmysql.NewMerchantRepository(database)
	methodRepo := merchantmysql.NewMethodRepository(database)
	trafficRepo := trafficmysql.NewTrafficRepository(database)
	detailRepo := requisitemysql.NewBankDetailRepository(database)
	usageStats := requisitemysql.NewUsageStats(database)
	txnRepo := txnmysql.NewTransactionRepository(database)
	aggregatorRepo := aggmysql.NewAggregatorRepository(database)
	disputeRepo := disputemysql.NewDisputeRepository(database)

	// 7. 汇率源
	oracle := rateapp.NewOracle(map[ratedomain.Source]ratedomain.Provider{
		ratedomain.SourceRapira: source.NewRapiraClient(cfg.Rates.RapiraURL),
		ratedomain.SourceBybit:  source.NewBybitClient(cfg.Rates.BybitURL),
	}, redisCache, time.Duration(cfg.Rates.CacheTTL)*time.Second)

	kkkPercent, err := decimal.NewFromString(cfg.Rates.KKKPercent)
	if err != nil {
		logger.Fatal(ctx, "Invalid kkk_percent in config", "value", cfg.Rates.KKKPercent, "error", err)
	}

	// 8. 聚合器路由队列
	dispatchTimeout := time.Duration(cfg.Routing.DispatchTimeout) * time.Second
	adapters := map[aggdomain.Variant]aggdomain.AggregatorAdapter{
		aggdomain.VariantStandard:        partner.NewStandardAdapter(dispatchTimeout),
		aggdomain.VariantChase:           partner.NewChaseAdapter(false, dispatchTimeout),
		aggdomain.VariantChaseCompatible: partner.NewChaseAdapter(true, dispatchTimeout),
		aggdomain.VariantPSPWare:         partner.NewPSPWareAdapter(dispatchTimeout),
	}
	routingQueue := aggapp.NewRoutingQueue(aggregatorRepo, adapters, oracle, m, cfg.Routing.MaxAggregatorAttempts)

	// 9. 应用服务
	freezing := traderapp.NewFreezingService(traderRepo)
	selector := requisiteapp.NewSelector(detailRepo, trafficRepo, usageStats)
	detailService := requisiteapp.NewBankDetailService(detailRepo)
	notifier := callback.NewHTTPNotifier(time.Duration(cfg.Callback.Timeout)*time.Second, m)
	eventPublisher := publisher.NewKafkaEventPublisher(producer)

	payinCfg := txnapp.PayinConfig{
		RateSource:      ratedomain.Source(cfg.Rates.DefaultSource),
		KkkPercent:      kkkPercent,
		KkkOperation:    ratedomain.MarkupOperation(cfg.Rates.KKKOperation),
		CallbackBaseURL: cfg.Callback.BaseURL,
	}

	statusService := txnapp.NewStatusService(txnRepo, freezing, merchantRepo, methodRepo, trafficRepo,
		disputeRepo, notifier, eventPublisher, m)
	payinService := txnapp.NewPayinService(txnRepo, selector, freezing, merchantRepo, methodRepo,
		oracle, routingQueue, eventPublisher, m, payinCfg)
	payoutService := txnapp.NewPayoutService(txnRepo, traderRepo, merchantRepo, methodRepo, oracle, payinCfg)
	disputeService := disputeapp.NewDisputeService(disputeRepo, txnRepo, statusService)

	// 10. HTTP 服务
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinCORSMiddleware())
	router.Use(middleware.RateLimitMiddleware(ratelimit.NewRedisLimiter(redisCache.GetClient()), cfg.RateLimit))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("")
	txnhttp.NewTransactionHandler(payinService, payoutService, statusService).RegisterRoutes(api)
	disputehttp.NewDisputeHandler(disputeService).RegisterRoutes(api)
	requisitehttp.NewRequisiteHandler(detailService).RegisterRoutes(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 11. 后台任务：过期清扫 + 聚合器日承接量清零
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go runExpirySweep(sweepCtx, statusService, time.Duration(cfg.Routing.ExpirySweepInterval)*time.Second)
	go runDailyVolumeReset(sweepCtx, aggregatorRepo)

	go func() {
		logger.Info(ctx, "HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server failed", "error", err)
		}
	}()

	// 12. 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Shutting down PaymentPlatform")

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shut down HTTP server gracefully", "error", err)
	}
	logger.Info(ctx, "PaymentPlatform stopped")
}

// runExpirySweep 周期性把已过时效的进行中交易流转到 EXPIRED
func runExpirySweep(ctx context.Context, statusService *txnapp.StatusService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := statusService.ExpireOverdue(ctx, 100)
			if err != nil {
				logger.Error(ctx, "Failed to sweep expired transactions", "error", err)
				continue
			}
			if expired > 0 {
				logger.Info(ctx, "Expired overdue transactions", "count", expired)
			}
		}
	}
}

// runDailyVolumeReset 在每个 UTC 日界清零聚合器当日承接量
func runDailyVolumeReset(ctx context.Context, repo aggdomain.AggregatorRepository) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := repo.ResetDailyVolumes(ctx); err != nil {
				logger.Error(ctx, "Failed to reset aggregator daily volumes", "error", err)
			} else {
				logger.Info(ctx, "Aggregator daily volumes reset")
			}
		}
	}
}
