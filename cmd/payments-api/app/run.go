package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/configs"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/cache"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/gateway"
	grpcadapter "github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/grpc"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/http"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/http/middleware"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/kafka"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/observ"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/queue"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/repo"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/security"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/usecase"
)

type App struct {
	Router *gin.Engine
	Health *grpcadapter.HealthServer

	cfg        configs.Config
	background []func(ctx context.Context) error
}

// InitWithConfig wires stores, adapters and use cases. The returned cleanup
// closes every connection opened here.
func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, func(), error) {
	log := logging.New("bootstrap")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// load crypto keys (optional)
	var sealer repo.PayloadSealer
	cm, err := security.LoadCryptoMaterial(cfg)
	switch {
	case errors.Is(err, security.ErrNoKey):
		log.Info("audit payload sealing disabled")
	case err != nil:
		return fail(err)
	default:
		s, err := security.NewSealer(&cm)
		if err != nil {
			return fail(err)
		}
		sealer = s
	}

	// init store
	store, err := OpenStore(ctx, cfg, sealer)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, store.Close)
	checks := map[string]grpcadapter.Check{"store": store.Ping}

	// init redis (memory fallbacks when no addr)
	// An unresolved lock outlives one attempt but never the retention window.
	checkoutLock := cache.WithLockTTL(2 * cfg.Payments.InitiateTimeout)
	webhookLock := cache.WithLockTTL(2 * cfg.Payments.WebhookTimeout)
	var (
		idem       usecase.IdempotencyStore
		dedupe     usecase.IdempotencyStore
		orderCache usecase.OrderCache
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		closers = append(closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL, checkoutLock)
		dedupe = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.WebhookWindow, webhookLock)
		orderCache = cache.NewRedisCache(rdb, cfg.Cache.TTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Warn("redis not configured, using in-process idempotency and cache")
		idem = cache.NewMemoryIdempotencyStore(cfg.Idempotency.TTL, checkoutLock)
		dedupe = cache.NewMemoryIdempotencyStore(cfg.Idempotency.WebhookWindow, webhookLock)
		orderCache = cache.NewMemoryStatusCache()
	}

	metrics, err := observ.NewPaymentMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fail(err)
	}
	tolerance, err := cfg.Tolerance()
	if err != nil {
		return fail(err)
	}
	opts := []usecase.OrchestratorOption{
		usecase.WithMetrics(metrics),
		usecase.WithTolerance(tolerance),
		usecase.WithInitiateTimeout(cfg.Payments.InitiateTimeout),
		usecase.WithReferencePrefix(cfg.Payments.ReferencePrefix),
	}

	a := &App{cfg: cfg}

	// init rabbitmq + register [queue-handler]
	if cfg.Rabbit.URL != "" {
		conn, err := amqp.Dial(cfg.Rabbit.URL)
		if err != nil {
			return fail(fmt.Errorf("rabbitmq dial: %w", err))
		}
		closers = append(closers, func() { _ = conn.Close() })

		pubCh, err := conn.Channel()
		if err != nil {
			return fail(err)
		}
		producer, err := queue.NewRabbitProducer(pubCh, queue.Topology{
			Exchange:   cfg.Rabbit.Exchange,
			RoutingKey: cfg.Rabbit.RoutingKey,
			Queue:      cfg.Rabbit.Queue,
		})
		if err != nil {
			return fail(err)
		}
		opts = append(opts, usecase.WithPublisher(producer))

		if cfg.Rabbit.Queue != "" {
			subCh, err := conn.Channel()
			if err != nil {
				return fail(err)
			}
			if err := setupQueue(subCh, cfg, orderCache); err != nil {
				return fail(err)
			}
		}
	}

	// kafka producer: audit mirror + replay dead letters
	var (
		audit usecase.AuditSink = store.Audit
		prod  sarama.SyncProducer
	)
	if len(cfg.Kafka.Brokers) > 0 && (cfg.Kafka.AuditTopic != "" || cfg.Kafka.DeadLetterTopic != "") {
		prod, err = kafka.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fail(fmt.Errorf("kafka producer: %w", err))
		}
		closers = append(closers, func() { _ = prod.Close() })
		if cfg.Kafka.AuditTopic != "" {
			audit = kafka.NewAuditMirror(store.Audit, prod, cfg.Kafka.AuditTopic)
		}
	}

	// use cases
	registry, err := gateway.NewRegistry(cfg, nil)
	if err != nil {
		return fail(err)
	}
	log.Info("payment providers enabled", "providers", registry.IDs())

	orch := usecase.NewOrchestrator(store.Orders, registry, audit, opts...)
	checkoutUC := usecase.NewCheckout(store.Orders, registry, orch, idem)
	webhookUC := usecase.NewReconcileWebhook(registry, orch, dedupe, metrics, cfg.Payments.WebhookTimeout)

	// register kafka-listener
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ReplayTopic != "" {
		grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return fail(fmt.Errorf("kafka group: %w", err))
		}
		closers = append(closers, func() { _ = grp.Close() })
		var dlq kafka.DeadLetterFunc
		if prod != nil && cfg.Kafka.DeadLetterTopic != "" {
			dlq = kafka.NewDeadLetter(prod, cfg.Kafka.DeadLetterTopic)
		}
		a.background = append(a.background, replayListener(grp, cfg.Kafka.ReplayTopic, webhookUC, dlq))
	}

	// init handlers + routers + middleware
	h := http.NewOrderHandler(checkoutUC, orch, store.Orders, orderCache, cfg.Payments.InitiateTimeout+5*time.Second)
	wh := http.NewWebhookHandler(webhookUC)
	auth := middleware.NewAuthz(cfg)
	if !auth.Enabled() {
		log.Warn("security.jwt_secret empty, checkout routes are unauthenticated")
	}
	a.Router = http.NewRouter(h, wh, auth)
	a.Health = grpcadapter.NewHealthServer(10*time.Second, checks)

	return a, cleanup, nil
}

func setupQueue(ch *amqp.Channel, cfg configs.Config, c usecase.OrderCache) error {
	h := queue.NewStatusCacheHandler(c)

	router := queue.NewRouter(ch, queue.WithPrefetch(orDefault(cfg.Rabbit.Prefetch, 50)))
	router.Register(cfg.Rabbit.Queue, queue.JSONHandler[usecase.StatusChangedMsg]{HandleFunc: h.HandleStatusChanged})

	return router.Start()
}

func replayListener(grp sarama.ConsumerGroup, topic string, uc *usecase.ReconcileWebhook, dlq kafka.DeadLetterFunc) func(context.Context) error {
	h := kafka.NewWebhookReplayHandler(uc)
	consumer := kafka.NewConsumer(grp, []string{topic}, h.Handle)
	consumer.DeadLetter = dlq
	return consumer.Start
}

// Run serves HTTP, gRPC health and background consumers until ctx is
// cancelled or one of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	log := logging.New("app")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2+len(a.background))

	if addr := a.cfg.GRPC.HealthAddr; addr != "" && a.Health != nil {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc health listen: %w", err)
		}
		go func() {
			if err := a.Health.Serve(ctx, lis); err != nil {
				errCh <- fmt.Errorf("grpc health: %w", err)
			}
		}()
	}

	srv := &nethttp.Server{
		Addr:         a.cfg.App.HTTPAddr,
		Handler:      a.Router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	go func() {
		log.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	for _, job := range a.background {
		go func(job func(context.Context) error) {
			if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}(job)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("component failed, shutting down", "err", runErr)
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	return runErr
}
