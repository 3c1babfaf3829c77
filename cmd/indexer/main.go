// Command indexer wires the sync layer (RequestQueue, RpcCache) and
// the storage layer (IndexingStore, NamespaceManager, RevertController)
// into a running process. The concrete JSON-RPC transport and the
// user's handler bundle are out of scope (spec.md §1) — this binary
// expects a Transport and a schema.Schema to be supplied by whatever
// embeds it; NullTransport and an example schema stand in here so the
// wiring is exercised end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"golang.org/x/time/rate"

	"github.com/indexkit/indexcore/cmd/indexer/config"
	"github.com/indexkit/indexcore/internal/domain/schema"
	"github.com/indexkit/indexcore/internal/infrastructure/cache"
	"github.com/indexkit/indexcore/internal/infrastructure/messaging"
	"github.com/indexkit/indexcore/internal/infrastructure/messaging/nats"
	"github.com/indexkit/indexcore/internal/infrastructure/persistence/postgres"
	"github.com/indexkit/indexcore/internal/infrastructure/rpc"
	"github.com/indexkit/indexcore/internal/pkg/eventbus"
	"github.com/indexkit/indexcore/internal/pkg/metrics"
	"github.com/indexkit/indexcore/internal/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Println("indexcore - blockchain indexing core")
	fmt.Printf("chain: %s (id=%d)\n", cfg.Chain.Network, cfg.Chain.ChainID)
	fmt.Printf("database: %s\n", cfg.Database.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		fmt.Printf("tracing enabled: exporting to %s\n", cfg.Tracing.Endpoint)
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer postgres.Close(pool)
	fmt.Println("database connected")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
	if err := postgres.Migrate(dsn, "migrations"); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	fmt.Println("migrations applied")

	if err := postgres.CheckIntegrity(ctx, pool); err != nil {
		log.Fatalf("namespace integrity check failed: %v", err)
	}

	m := metrics.New("indexcore")

	s := exampleSchema()
	schemaJSON := []byte(`{}`) // the real schema JSON is produced by the handler bundler, out of scope here

	ns := postgres.NewNamespaceManager(pool, fmt.Sprintf("%d", time.Now().UnixMilli()), m)
	if err := ns.Reload(ctx, s, schemaJSON); err != nil {
		log.Fatalf("failed to reload namespace: %v", err)
	}
	fmt.Printf("namespace %s ready\n", ns.Namespace())

	indexStore := postgres.NewStore(pool, ns.Namespace(), s, m)
	revertCtl := postgres.NewRevertController(pool, ns.Namespace(), s, rateLimitFromMS(cfg.Chain.RevertMinReintervalMS))

	rpcCacheStore := postgres.NewRpcCacheStore(pool)
	if err := rpcCacheStore.EnsureTable(ctx); err != nil {
		log.Fatalf("failed to ensure rpc_cache table: %v", err)
	}
	var cacheBacking rpc.CacheStore = rpcCacheStore
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisCache.Close()
		cacheBacking = cache.NewLayeredCacheStore(redisCache, rpcCacheStore)
		fmt.Println("redis L1 cache enabled")
	}

	transport := rpc.NullTransport{}
	cachedTransport := rpc.NewCache(transport, cacheBacking, cfg.Chain.ChainID)
	queue := rpc.New(cfg.Chain.Network, cachedTransport, cfg.Chain.MaxRequestsPerSecond, m)

	eventBus := eventbus.New()
	outbox := postgres.NewOutbox(pool)
	notifier := messaging.NewNotifier(eventBus, outbox)
	if err := notifier.NotifyPublished(ctx, ns.Namespace(), schemaJSON); err != nil {
		log.Printf("notify namespace ready: %v", err)
	}

	logger := watermill.NewStdLogger(false, false)
	publisher, err := nats.NewPublisher(cfg.NATS.URL, logger)
	if err != nil {
		log.Fatalf("failed to create NATS publisher: %v", err)
	}
	defer publisher.Close()
	fmt.Println("NATS publisher connected")

	subscriber, err := nats.NewSubscriber(cfg.NATS.URL, "indexcore-consumers", logger)
	if err != nil {
		log.Fatalf("failed to create NATS subscriber: %v", err)
	}
	defer subscriber.Close()
	if msgs, err := subscriber.Subscribe("indexcore.namespaces.namespace.published"); err != nil {
		log.Printf("namespace subscription failed: %v", err)
	} else {
		go func() {
			for msg := range msgs {
				fmt.Printf("received namespace event: %s\n", string(msg.Payload))
				msg.Ack()
			}
		}()
	}

	relay := messaging.NewOutboxRelay(outbox, publisher, 1*time.Second, 50)
	go func() {
		if err := relay.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("outbox relay stopped: %v", err)
		}
	}()

	gcWorker, err := messaging.NewGCWorker(outbox, cfg.GC.CronSchedule, cfg.GC.RetentionDays)
	if err != nil {
		log.Fatalf("failed to build gc worker: %v", err)
	}
	gcWorker.Start()
	defer gcWorker.Stop()

	go func() {
		if err := messaging.ListenPublic(ctx, pool, func(payload string) {
			fmt.Printf("namespace published: %s\n", payload)
		}); err != nil {
			log.Printf("listen public stopped: %v", err)
		}
	}()

	queue.Start()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetQueuePending(cfg.Chain.Network, queue.Size())
			}
		}
	}()

	// indexStore and revertCtl are the library surface a chain-follower
	// built on top of this process uses; this entrypoint only proves
	// they are wired, since driving them from live chain data is the
	// embedder's responsibility.
	_ = indexStore
	_ = revertCtl

	fmt.Println("indexer ready")
	<-ctx.Done()
	fmt.Println("shutting down")
	stop()
}

// rateLimitFromMS converts a minimum-reinterval-in-milliseconds config
// value into the equivalent token-bucket rate.
func rateLimitFromMS(ms int) rate.Limit {
	if ms <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Duration(ms) * time.Millisecond)
}

// exampleSchema is a placeholder schema exercised by this entrypoint's
// wiring; a real deployment replaces it with the user's compiled
// schema.Builder output.
func exampleSchema() schema.Schema {
	b := schema.NewBuilder()
	b.AddTable("Account", []schema.Column{
		{Name: "id", Kind: schema.KindScalar, Scalar: schema.ScalarBytes},
		{Name: "balance", Kind: schema.KindScalar, Scalar: schema.ScalarBigInt},
	})
	s, err := b.Build()
	if err != nil {
		log.Fatalf("invalid example schema: %v", err)
	}
	return s
}
