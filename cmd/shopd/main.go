package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cardvend/cardvend/internal/alipay"
	"github.com/cardvend/cardvend/internal/catalog"
	"github.com/cardvend/cardvend/internal/config"
	"github.com/cardvend/cardvend/internal/delivery"
	"github.com/cardvend/cardvend/internal/httpx"
	"github.com/cardvend/cardvend/internal/inventory"
	kafkax "github.com/cardvend/cardvend/internal/kafka"
	"github.com/cardvend/cardvend/internal/metrics"
	"github.com/cardvend/cardvend/internal/orders"
	"github.com/cardvend/cardvend/internal/payment"
	"github.com/cardvend/cardvend/internal/postgres"
	"github.com/cardvend/cardvend/internal/provision"
	"github.com/cardvend/cardvend/internal/redisx"
	"github.com/cardvend/cardvend/internal/scheduler"
	"github.com/cardvend/cardvend/internal/tron"
	"github.com/cardvend/cardvend/internal/zaplogger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := zaplogger.New(cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db_connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
	prod.Start()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mtr := metrics.New(reg)

	// Repos
	orderRepo := &orders.Repo{DB: db}
	productRepo := &catalog.Repo{DB: db}
	cardRepo := &inventory.Repo{DB: db}
	emitter := &orders.Emitter{Pub: prod, Service: cfg.ServiceName}

	// Delivery & settlement
	dispatcher := &delivery.Dispatcher{
		Products: productRepo,
		Cards:    cardRepo,
		Prov:     provision.NewClient(cfg.ProvisionTimeout),
		Metrics:  mtr,
		Log:      logger,
	}
	settler := &payment.Settler{
		Orders:   orderRepo,
		Delivery: dispatcher,
		Events:   emitter,
		Metrics:  mtr,
		Log:      logger,
	}

	// HTTP
	router := httpx.NewRouter(reg)
	oh := &httpx.OrdersHandler{
		Cfg:      cfg,
		Orders:   orderRepo,
		Products: productRepo,
		Cards:    cardRepo,
		Emitter:  emitter,
		Redis:    rdb,
		Metrics:  mtr,
		Log:      logger,
	}
	oh.Register(router)

	var alipayClient *alipay.Client
	if cfg.AlipayConfigured() {
		priv, err := alipay.ParsePrivateKey(cfg.AlipayPrivateKey)
		if err != nil {
			logger.Fatal("alipay_private_key", zap.Error(err))
		}
		pub, err := alipay.ParsePublicKey(cfg.AlipayPublicKey)
		if err != nil {
			logger.Fatal("alipay_public_key", zap.Error(err))
		}
		alipayClient = alipay.NewClient(cfg.AlipayAppID, cfg.AlipayGateway, priv)
		rec := &alipay.Reconciler{
			PublicKey: pub,
			Orders:    orderRepo,
			Settle:    settler,
			Redis:     rdb,
			Metrics:   mtr,
			Log:       logger,
		}
		ah := &httpx.AlipayHandler{Reconciler: rec}
		ah.Register(router)
	}

	admin := &httpx.AdminHandler{
		Token:   cfg.AdminToken,
		Orders:  orderRepo,
		Cards:   cardRepo,
		Settler: settler,
		Alipay:  alipayClient,
		Log:     logger,
	}
	admin.Register(router)

	// Background jobs
	sched := &scheduler.Scheduler{Log: logger}
	jobs := []scheduler.Job{
		{
			Name:  "order_sweep",
			Every: cfg.OrderSweepEvery,
			Run: func(ctx context.Context) error {
				ids, err := orderRepo.ExpireOverdue(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					mtr.OrdersExpired.Inc()
					emitter.Expired(id)
				}
				if len(ids) > 0 {
					logger.Info("orders_expired", zap.Int("count", len(ids)))
				}
				return nil
			},
		},
		{
			Name:  "card_sweep",
			Every: cfg.CardSweepEvery,
			Run: func(ctx context.Context) error {
				n, err := cardRepo.ExpireStale(ctx)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("cards_expired", zap.Int64("count", n))
				}
				return nil
			},
		},
	}
	if cfg.UsdtConfigured() {
		matcher := &tron.Matcher{
			Chain:     tron.NewClient(cfg.TronBaseURL, cfg.TronAPIKey, cfg.UsdtWallet, cfg.UsdtContract),
			Orders:    orderRepo,
			Settle:    settler,
			Consumed:  &redisx.TxSet{RDB: rdb, Key: redisx.KeyConsumedTx, TTL: redisx.TTLConsumedTx},
			Tolerance: cfg.UsdtTolerance,
			Metrics:   mtr,
			Log:       logger,
		}
		jobs = append(jobs, scheduler.Job{
			Name:  "usdt_poll",
			Every: cfg.PollInterval,
			Run:   matcher.PollOnce,
		})
	}
	sched.Start(jobs...)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	sched.Stop()
	prod.Close()
	prod.WaitClosed()
}
