package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/thanhtrang16490/appejvtest-sub004/internal/cache"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/catalog"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/config"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/customer"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/db"
	orderHttp "github.com/thanhtrang16490/appejvtest-sub004/internal/handler/http"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/metrics"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/notify"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/order/memory"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/session"
	"github.com/thanhtrang16490/appejvtest-sub004/internal/telemetry"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App)
	log.Info().Str("store", cfg.App.Store).Str("broker", cfg.Notify.Broker).Msg("Order service starting...")

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.App.Name,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init telemetry")
	}

	m := metrics.New(prometheus.DefaultRegisterer, "orders")

	var (
		store     order.Store
		products  catalog.Reader
		customers customer.Directory
		closeDB   = func() {}
	)
	switch cfg.App.Store {
	case "memory":
		mem := memory.New()
		if cfg.App.SeedPath != "" {
			if err := seedMemory(mem, cfg.App.SeedPath); err != nil {
				log.Fatal().Err(err).Str("path", cfg.App.SeedPath).Msg("Failed to seed in-memory store")
			}
		} else {
			log.Warn().Msg("SEED_PATH not set, in-memory catalog is empty and every order is rejected")
		}
		store, products, customers = mem, mem, mem
		log.Warn().Msg("Using in-memory store, data is lost on restart")
	default:
		pg, err := db.New(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		if err := pg.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		sqlDB := pg.SQLX()
		store = order.NewPostgresStore(pg.Pool)
		products = catalog.NewReader(sqlDB)
		customers = customer.NewDirectory(sqlDB)
		closeDB = func() {
			_ = sqlDB.Close()
			pg.Close()
		}
	}

	var (
		rdb        *redis.Client
		orderCache *cache.OrderCache
		resolver   session.Resolver
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to redis")
		}
		orderCache = cache.NewOrderCache(rdb, cfg.Redis.CacheTTL)
		resolver = session.NewRedisResolver(rdb, cfg.Redis.SessionPrefix)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, sessions cannot be resolved and every ledger call is unauthorized")
	}

	hooks := []notify.Hook{notify.LogHook{}}
	if orderCache != nil {
		hooks = append(hooks, cache.NewInvalidator(orderCache))
	}
	var closeBroker func()
	switch cfg.Notify.Broker {
	case "rabbitmq":
		pub, err := notify.NewRabbitPublisher(cfg.Notify.RabbitURL, cfg.Notify.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to rabbitmq")
		}
		hooks = append(hooks, pub)
		closeBroker = pub.Close
	case "kafka":
		pub := notify.NewKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		hooks = append(hooks, pub)
		closeBroker = func() {
			if err := pub.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close kafka writer")
			}
		}
	}

	dispatcher := notify.NewDispatcher(hooks,
		notify.WithTimeout(cfg.Notify.HookTimeout),
		notify.WithFailureRecorder(m),
	)

	opts := []order.Option{
		order.WithNotifier(dispatcher),
		order.WithMetrics(m),
		order.WithTimeout(cfg.Ledger.Timeout),
	}
	if orderCache != nil {
		opts = append(opts, order.WithCache(orderCache))
	}
	orderSvc := order.NewService(store, products, customers, opts...)
	orderHandler := orderHttp.NewOrderHandler(orderSvc)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(hlog.NewHandler(log.Logger))
	router.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	router.Use(middleware.Recoverer)
	router.Use(m.Middleware)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))

	router.Group(func(r chi.Router) {
		if resolver != nil {
			r.Use(session.Middleware(resolver))
		}
		orderHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Ledger.Timeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	dispatcher.Wait()
	if closeBroker != nil {
		closeBroker()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	closeDB()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Server stopped")
}

func seedMemory(mem *memory.Store, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	products, customers, err := mem.LoadSeed(file)
	if err != nil {
		return err
	}
	log.Info().Int("products", products).Int("customers", customers).Msg("Seeded in-memory store")
	return nil
}

func setupLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.With().Str("service", app.Name).Logger()
}
