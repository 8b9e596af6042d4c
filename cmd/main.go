package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/marketplace-cart/internal/cache"
	"github.com/fjod/go_cart/marketplace-cart/internal/circuitbreaker"
	"github.com/fjod/go_cart/marketplace-cart/internal/config"
	h "github.com/fjod/go_cart/marketplace-cart/internal/http"
	"github.com/fjod/go_cart/marketplace-cart/internal/logger"
	"github.com/fjod/go_cart/marketplace-cart/internal/poller"
	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
	"github.com/fjod/go_cart/marketplace-cart/internal/service"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.StoreDriver).Fatal("failed to open cart store")
	}
	defer closeStore()

	var cartStore repository.CartStore = circuitbreaker.NewStore(store, circuitbreaker.Settings{
		Name:        "cart-store-" + cfg.StoreDriver,
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
	}, log)

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		log.WithField("addr", cfg.RedisAddr).Info("redis ping succeeded")
		cartStore = cache.NewCachedStore(cartStore, cache.NewRedisCache(redisClient, cfg.SelectionCacheTTL), log)
	}

	sessions := service.NewSessions(cartStore, log)

	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(sessions, log, cfg.CheckoutTopic, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(ctx)
		log.WithField("topic", cfg.CheckoutTopic).Info("checkout poller started")
	}

	limiter := h.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	limiter.StartCleanup(ctx, 10*time.Minute)

	cartHandler := h.NewCartHandler(sessions, cfg.RequestTimeout, log)
	router := h.NewRouter(cartHandler, limiter, log, cfg.RequestTimeout)
	handler := otelhttp.NewHandler(router, "marketplace-cart",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != h.StreamPath
		}))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("marketplace cart starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	sessions.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (repository.CartStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(context.Background())
			return nil, nil, err
		}
		log.WithField("database", cfg.MongoDBName).Info("connected to MongoDB")
		return repo, func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				log.WithError(err).Warn("failed to disconnect MongoDB")
			}
		}, nil

	case config.DriverPostgres:
		cred := &repository.Credentials{
			Host:              cfg.DBHost,
			Port:              cfg.DBPort,
			User:              cfg.DBUser,
			Password:          cfg.DBPassword,
			DBName:            cfg.DBName,
			MigrationsDirPath: cfg.MigrationsPath,
		}
		db, err := repository.OpenPostgres(cred)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewPostgresRepository(db)
		if err := repo.RunMigrations(cred.MigrationsDirPath); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		log.WithField("database", cfg.DBName).Info("connected to Postgres")
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.WithError(err).Warn("failed to close Postgres")
			}
		}, nil

	default:
		log.Warn("using in-memory cart store, carts are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}
}
