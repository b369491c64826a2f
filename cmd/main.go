package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathima-sithara/order-messaging/internal/api"
	"github.com/fathima-sithara/order-messaging/internal/auth"
	"github.com/fathima-sithara/order-messaging/internal/config"
	"github.com/fathima-sithara/order-messaging/internal/discovery"
	"github.com/fathima-sithara/order-messaging/internal/httpclient"
	"github.com/fathima-sithara/order-messaging/internal/kafka"
	"github.com/fathima-sithara/order-messaging/internal/media"
	"github.com/fathima-sithara/order-messaging/internal/metrics"
	"github.com/fathima-sithara/order-messaging/internal/orders"
	"github.com/fathima-sithara/order-messaging/internal/profiles"
	"github.com/fathima-sithara/order-messaging/internal/realtime"
	"github.com/fathima-sithara/order-messaging/internal/repository"
	"github.com/fathima-sithara/order-messaging/internal/service"
	"github.com/fathima-sithara/order-messaging/internal/storage"
	"github.com/fathima-sithara/order-messaging/internal/utils"
	"github.com/fathima-sithara/order-messaging/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.App.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	m := metrics.New()

	var mc *mongo.Client
	if cfg.Mongo.URI != "" {
		mc, err = repository.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			logger.Fatalw("mongo init", "err", err)
		}
		defer func() { _ = mc.Disconnect(context.Background()) }()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	store := openStore(cfg, mc, logger)
	defer func() { _ = store.Close(context.Background()) }()

	var bus realtime.Bus
	switch cfg.Realtime.Bus {
	case "redis":
		bus = realtime.NewRedisBus(rdb, cfg.Realtime.Channel, logger)
	case "nats":
		nb, err := realtime.NewNATSBus(cfg.NATS.URL, cfg.Realtime.Channel, logger)
		if err != nil {
			logger.Fatalw("nats init", "err", err)
		}
		bus = nb
	}
	dispatcher, err := realtime.NewDispatcher(store, logger, realtime.Options{
		Bus:         bus,
		Metrics:     m,
		LoadTimeout: cfg.SnapshotTimeout,
	})
	if err != nil {
		logger.Fatalw("dispatcher init", "err", err)
	}

	objects, err := storage.NewS3Store(ctx, storage.S3Config{
		Region:        cfg.AWS.Region,
		Bucket:        cfg.AWS.Bucket,
		Endpoint:      cfg.AWS.Endpoint,
		PublicBaseURL: cfg.AWS.PublicBaseURL,
	})
	if err != nil {
		logger.Fatalw("s3 init", "err", err)
	}
	uploader := media.NewUploader(objects, media.Config{
		MaxBytes:           cfg.Attachments.MaxBytes,
		AllowedTypes:       cfg.Attachments.AllowedTypes,
		ThumbnailWidth:     cfg.Attachments.ThumbnailWidth,
		MaxThumbnailPixels: cfg.Attachments.MaxThumbnailPixels,
	}, m, logger)

	var registrar *discovery.Registrar
	if cfg.Consul.Addr != "" {
		registrar, err = discovery.NewRegistrar(cfg.Consul.Addr, logger)
		if err != nil {
			logger.Fatalw("consul init", "err", err)
		}
	}

	upstreams := map[string]func() string{}
	var directory orders.Directory
	switch cfg.Orders.Source {
	case "mongo":
		directory = orders.NewMongoDirectory(mc.Database(cfg.Mongo.Database), cfg.Orders.Collection, cfg.OrdersTimeout)
	case "http":
		client := httpclient.NewClient(httpclient.Config{Name: "orders", Timeout: cfg.OrdersTimeout}, logger)
		directory = orders.NewHTTPDirectory(client, cfg.Orders.BaseURL)
		upstreams["orders"] = client.State
	}

	resolver, profileClient := newResolver(cfg, rdb, registrar, logger)
	if profileClient != nil {
		upstreams["profiles"] = profileClient.State
	}

	var producer *kafka.Producer
	var events service.EventPublisher
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		events = producer
	}

	deps := service.Deps{
		Store:          store,
		Orders:         directory,
		Uploader:       uploader,
		Dispatcher:     dispatcher,
		Profiles:       resolver,
		Events:         events,
		Metrics:        m,
		Log:            logger,
		ProfileTimeout: cfg.ProfilesTimeout,
	}
	cmdSvc := service.NewCommandService(deps)
	qrySvc := service.NewQueryService(deps)

	jv, err := newValidator(cfg)
	if err != nil {
		logger.Fatalw("jwt init", "err", err)
	}

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.GroupID, logger)
		ingest := service.NewIngest(cmdSvc, logger)
		go consumer.Start(consumeCtx, ingest.Handle)
	}

	views := ws.NewHandlers(cmdSvc, qrySvc, ws.Config{
		PingInterval:    cfg.PingInterval,
		WriteDeadline:   cfg.WriteDeadline,
		MaxMessageSize:  cfg.WS.MaxMessageSizeBytes,
		FramesPerSecond: cfg.WS.FramesPerSecond,
	}, logger)
	app := api.NewServer(api.Options{
		Name:            cfg.App.Name,
		RateLimitPerMin: cfg.App.RateLimitPerMin,
		BodyLimit:       int(cfg.Attachments.MaxBytes) + 1<<20,
		Upstreams:       upstreams,
	}, api.NewHandlers(cmdSvc, qrySvc, logger, 0), jv, m, logger, views.Register)

	go func() {
		if err := app.Listen(":" + cfg.App.PortString()); err != nil {
			logger.Fatalw("server listen", "err", err)
		}
	}()
	logger.Infow("order-messaging started", "port", cfg.App.Port, "instance", dispatcher.InstanceID(), "store", cfg.Store.Driver, "bus", cfg.Realtime.Bus)

	if registrar != nil {
		host := cfg.Consul.ServiceAddress
		if host == "" {
			host, _ = os.Hostname()
		}
		if err := registrar.Register(cfg.App.Name, host, cfg.App.Port); err != nil {
			logger.Warnw("consul register failed", "err", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if registrar != nil {
		_ = registrar.Deregister()
	}
	_ = app.ShutdownWithContext(shutdownCtx)
	stopConsumer()
	if consumer != nil {
		_ = consumer.Close(shutdownCtx)
	}
	dispatcher.Close()
	if bus != nil {
		_ = bus.Close()
	}
	if producer != nil {
		_ = producer.Close(shutdownCtx)
	}
	logger.Info("order-messaging stopped")
}

func openStore(cfg *config.Config, mc *mongo.Client, logger *zap.SugaredLogger) repository.MessageStore {
	switch cfg.Store.Driver {
	case "mongo":
		return repository.NewMongoRepository(mc.Database(cfg.Mongo.Database))
	case "pebble":
		s, err := repository.OpenPebbleStore(cfg.Pebble.Path)
		if err != nil {
			logger.Fatalw("pebble open", "path", cfg.Pebble.Path, "err", err)
		}
		return s
	default:
		logger.Warn("using in-memory message store; history is lost on restart")
		return repository.NewMemoryStore()
	}
}

// newResolver returns nil when no user service is reachable; the list view
// then shows raw courier ids.
func newResolver(cfg *config.Config, rdb *redis.Client, registrar *discovery.Registrar, logger *zap.SugaredLogger) (profiles.Resolver, *httpclient.Client) {
	base := cfg.Profiles.BaseURL
	if base == "" && registrar != nil {
		addr, err := registrar.Lookup("user-service")
		if err != nil {
			logger.Warnw("user-service lookup failed", "err", err)
		}
		base = addr
	}
	if base == "" {
		return nil, nil
	}

	client := httpclient.NewClient(httpclient.Config{
		Name:            "profiles",
		Timeout:         cfg.ProfilesTimeout,
		RetryMaxElapsed: cfg.ProfilesRetryMax,
	}, logger)
	var r profiles.Resolver = profiles.NewHTTPResolver(client, base)
	if rdb != nil {
		r = profiles.NewCachedResolver(r, rdb, cfg.ProfilesCacheTTL, logger)
	}
	return r, client
}

func newValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if cfg.JWT.Alg == "HS256" {
		return auth.NewHS256Validator(cfg.JWT.HSSecret)
	}
	return auth.NewRS256Validator(cfg.JWT.PublicKeyPath)
}
