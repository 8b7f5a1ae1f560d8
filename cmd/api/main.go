package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/vanyaWEB/botsshop/internal/config"
	"github.com/vanyaWEB/botsshop/internal/handler"
	"github.com/vanyaWEB/botsshop/internal/infra/cache"
	"github.com/vanyaWEB/botsshop/internal/infra/db"
	"github.com/vanyaWEB/botsshop/internal/infra/notify"
	"github.com/vanyaWEB/botsshop/internal/infra/payment"
	infraRepo "github.com/vanyaWEB/botsshop/internal/infra/repository"
	"github.com/vanyaWEB/botsshop/internal/metrics"
	"github.com/vanyaWEB/botsshop/internal/server"
	"github.com/vanyaWEB/botsshop/internal/usecase"
)

func main() {
	//.envは無くてもよい（本番は環境変数）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg.GoEnv)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//メトリクス（エンドポイント未設定ならnoop）
	m, shutdownMetrics, err := metrics.Setup(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			log.Warn("failed to shutdown metrics", "err", err)
		}
	}()

	//DB接続とマイグレーション
	gormDB, sqlDB, err := db.Open(ctx, cfg.DSN())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.Migrate(sqlDB); err != nil {
		return err
	}

	//カートキャッシュ
	var cartCache usecase.CartCache = cache.NoopCache{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, cart cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			cartCache = cache.NewRedisCache(rdb)
		}
	}

	//通知
	var sink notify.Sink = notify.NewLogSink(log)
	if len(cfg.KafkaBrokers) > 0 {
		sink = notify.NewKafkaSink(cfg.KafkaTopic, cfg.KafkaBrokers...)
	}
	dispatcher := notify.NewDispatcher(sink, cfg.AdminIDs, cfg.NotifyQueueSize, m, log)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			log.Warn("failed to drain notifications", "err", err)
		}
	}()

	gateway := payment.NewYooKassaClient(payment.Config{
		BaseURL:   cfg.PaymentAPIURL,
		ShopID:    cfg.PaymentShopID,
		SecretKey: cfg.PaymentSecretKey,
		Timeout:   cfg.PaymentTimeout,
	}, log)

	//Repository（GORM実装）生成
	txm := infraRepo.NewTxManagerGorm(gormDB)
	cartRepo := infraRepo.NewCartGormRepository(gormDB)
	productRepo := infraRepo.NewProductGormRepository(gormDB)

	//usecaseに渡す部品
	clock := usecase.SystemClock{}
	ids := usecase.UUIDGenerator{}

	//Usecase生成
	cartUC := usecase.NewCartUsecase(cartRepo, cartRepo, productRepo, cartCache, log)
	orderUC := usecase.NewOrderUsecase(txm, cartUC, gateway, dispatcher, clock, ids, m, log, usecase.OrderConfig{
		RestockOnCancel: cfg.RestockOnCancel,
		GatewayTimeout:  cfg.PaymentTimeout,
	})
	adminOrderUC := usecase.NewAdminOrderUsecase(txm, dispatcher, clock, log, cfg.RestockOnCancel)
	paymentUC := usecase.NewPaymentUsecase(txm, gateway, dispatcher, clock, ids, m, log, usecase.PaymentConfig{
		Currency:        cfg.PaymentCurrency,
		ReturnURL:       cfg.PaymentReturnURL,
		Timeout:         cfg.PaymentTimeout,
		RestockOnCancel: cfg.RestockOnCancel,
	})

	//Handler生成
	e := server.New(cfg, server.Handlers{
		Cart:       handler.NewCartHandler(cartUC),
		Order:      handler.NewOrderHandler(orderUC),
		Payment:    handler.NewPaymentHandler(paymentUC),
		AdminOrder: handler.NewAdminOrderHandler(adminOrderUC, paymentUC),
	}, m, log)

	addr := ":" + cfg.Port
	log.Info("server starting", "addr", addr, "env", cfg.GoEnv, "restock_on_cancel", cfg.RestockOnCancel)
	return server.Start(ctx, e, addr)
}

// devはテキスト、それ以外はJSON
func newLogger(env string) *slog.Logger {
	if env == "dev" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
