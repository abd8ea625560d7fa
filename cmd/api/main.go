package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"freelancehub/config"
	"freelancehub/internal/api"
	"freelancehub/internal/fanout"
	"freelancehub/internal/guard"
	"freelancehub/internal/payment"
	"freelancehub/internal/repository"
	"freelancehub/internal/service"
	"freelancehub/pkg/circuitbreaker"
	"freelancehub/pkg/db"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/mq"
	"freelancehub/pkg/otel"
	"freelancehub/pkg/outbox"
	redisclient "freelancehub/pkg/redis"
	"freelancehub/pkg/util"
)

const serviceName = "freelancehub-api"

var version = "dev"

// stores 按 store.driver 选出的存储后端
type stores struct {
	projects repository.ProjectStore
	reviews  repository.ReviewStore
	outbox   *outbox.Repository // 只有 postgres 有
	ready    func(ctx context.Context) error
	close    func()
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log)
	if err != nil {
		stdlog.Fatalf("failed to init logger: %v", err)
	}
	defer log.Sync()

	if cfg.JWT.Secret == "" {
		log.Fatal("jwt.secret is required")
	}

	log.Info("Starting freelancehub api...",
		zap.String("instance_id", cfg.InstanceID),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("lease_guard", cfg.Guard.Lease),
		zap.Bool("fanout_bridge", cfg.Fanout.Bridge),
		zap.Bool("payment", cfg.Payment.Enabled),
	)

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
		SampleRatio:    cfg.Otel.SampleRatio,
	}, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init store", zap.Error(err))
	}
	defer st.close()

	// Redis：租约锁和去重共用
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redisclient.NewClient(cfg.Redis, log)
		if err != nil {
			log.Fatal("Failed to init redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var g guard.Guard = guard.NewLocal(cfg.Guard.Timeout(), log)
	if cfg.Guard.Lease {
		g = guard.NewRedisLease(g, rdb, cfg.Guard.LeaseTTL(), cfg.Guard.Timeout(), log)
	}

	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL, cfg.InstanceID)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	hub := fanout.NewHub(cfg.Fanout.BufferSize, log)
	defer hub.Close()

	svc := service.NewMarketplace(service.Deps{
		Projects:   st.projects,
		Reviews:    st.reviews,
		Guard:      g,
		Events:     hub,
		Payments:   newPaymentNotifier(cfg, publisher, rdb, log),
		InstanceID: cfg.InstanceID,
		Logger:     log,
	})

	if cfg.Fanout.Bridge {
		consumer, err := startBridge(ctx, cfg, hub, rdb, log)
		if err != nil {
			log.Fatal("Failed to start fan-out bridge", zap.Error(err))
		}
		defer consumer.Close()
	}

	var admin api.OutboxAdmin
	if st.outbox != nil && publisher != nil {
		admin = outbox.NewReplayService(st.outbox, publisher)
	}

	router := api.NewRouter(api.RouterDeps{
		Service:        svc,
		Hub:            hub,
		Outbox:         admin,
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Ready:          st.ready,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down freelancehub api gracefully...")

	// 先断开 WebSocket 观察者，否则 Shutdown 会等它们
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("freelancehub api shutdown complete")
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			return nil, err
		}
		return &stores{
			projects: repository.NewProjectRepository(pool, log),
			reviews:  repository.NewReviewRepository(pool, log),
			outbox:   outbox.NewRepository(pool),
			ready:    pool.Ping,
			close:    pool.Close,
		}, nil

	case config.StoreMongo:
		database, err := db.NewMongoDatabase(cfg.Mongo, log)
		if err != nil {
			return nil, err
		}
		store := repository.NewMongoStore(database, log)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		client := database.Client()
		return &stores{
			projects: store,
			reviews:  store,
			ready:    func(ctx context.Context) error { return client.Ping(ctx, nil) },
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			},
		}, nil

	default:
		log.Warn("Using in-memory store; data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{projects: mem, reviews: mem, close: func() {}}, nil
	}
}

func newPaymentNotifier(cfg *config.Config, publisher *mq.Publisher, rdb *goredis.Client, log *zap.Logger) payment.Notifier {
	if !cfg.Payment.Enabled {
		return payment.LogNotifier{Logger: log}
	}
	if publisher == nil {
		log.Fatal("payment.enabled requires mq.url")
	}
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		Name:                "payment",
		FailureThreshold:    cfg.Payment.FailureThreshold,
		Timeout:             time.Duration(cfg.Payment.OpenTimeoutS) * time.Second,
		HalfOpenMaxRequests: 1,
	}, log)
	var dedup payment.Deduper
	if rdb != nil {
		dedup = util.NewDeduper(rdb, "payment", 24*time.Hour, log)
	}
	return payment.NewMQNotifier(publisher, breaker, dedup, log)
}

// startBridge 订阅 events 交换机，把其他实例提交的事件推给本实例的观察者
func startBridge(ctx context.Context, cfg *config.Config, hub *fanout.Hub, rdb *goredis.Client, log *zap.Logger) (*mq.Consumer, error) {
	var dedup fanout.Deduper
	if rdb != nil {
		dedup = util.NewDeduper(rdb, "fanout", time.Duration(cfg.Fanout.DedupTTLS)*time.Second, log)
	}
	bridge := fanout.NewBridge(hub, cfg.InstanceID, dedup, log)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, bridge.QueueConfig(), log)
	if err != nil {
		return nil, err
	}
	consumer.SetHandler(bridge.Handle)
	go func() {
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Error("Fan-out bridge stopped", zap.Error(err))
		}
	}()
	return consumer, nil
}
