package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"qms/queueflow-service/internal/announce"
	"qms/queueflow-service/internal/config"
	"qms/queueflow-service/internal/dispatch"
	"qms/queueflow-service/internal/httpapi"
	"qms/queueflow-service/internal/hub"
	"qms/queueflow-service/internal/insights"
	"qms/queueflow-service/internal/models"
	"qms/queueflow-service/internal/settings"
	"qms/queueflow-service/internal/store"
	"qms/queueflow-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "queueflow-service"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	shutdownTelemetry := telemetry.Setup(serviceName, version)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persister, closePersister, err := openPersister(ctx, cfg)
	if err != nil {
		log.Fatalf("settings: %v", err)
	}
	defer closePersister()

	displayHub := hub.New()
	providerOpts := announce.ProviderOptions{
		WebhookURL:   cfg.AnnounceWebhookURL,
		WebhookToken: cfg.AnnounceWebhookToken,
		Hub:          displayHub,
	}
	if cfg.AMQPURL != "" {
		amqpAnnouncer, err := announce.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("amqp announcer disabled: %v", err)
		} else {
			defer amqpAnnouncer.Close()
			providerOpts.AMQP = amqpAnnouncer
		}
	}
	dispatcher := announce.NewDispatcher(announce.NewProviders(cfg.AnnounceProviders, providerOpts), cfg.AnnounceQueueSize, 5*time.Second)
	writer := settings.NewWriter(persister, 5*time.Second)

	ledger := store.NewLedger(store.LedgerOptions{StrictCompletion: cfg.StrictCompletion})
	counters := store.NewCounters(settings.LoadCounters(ctx, persister))
	var engine *dispatch.Engine
	refresher := insights.NewRefresher(insights.Heuristic{}, func() []models.Ticket { return engine.Tickets() }, 5*time.Second)
	engine = dispatch.New(ledger, counters,
		dispatch.WithNotifier(dispatcher),
		dispatch.WithConfigSaver(writer),
		dispatch.WithChangeListener(refresher),
	)

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer workers.Done()
		writer.Run(ctx)
	}()
	if interval := cfg.InsightsInterval(); interval > 0 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			insights.Start(ctx, interval, refresher)
		}()
	}

	handler := httpapi.NewHandler(engine, httpapi.Options{
		Persister: persister,
		Insights:  refresher,
		Display:   httpapi.NewDisplayHandler(displayHub),
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		CounterPerMinute: cfg.CounterRateLimitPerMinute,
		CounterBurst:     cfg.CounterRateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), serviceName)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("%s listening on %s settings=%s announce=%v", serviceName, server.Addr, cfg.SettingsBackend, cfg.AnnounceProviders)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	cancel()
	workers.Wait()
}

// openPersister builds the configured counter settings backend and a func
// releasing its connections.
func openPersister(ctx context.Context, cfg config.Config) (settings.Persister, func(), error) {
	switch cfg.SettingsBackend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		st := settings.NewPostgresStore(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, pool.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("redis ping error: %v", err)
		}
		return settings.NewRedisStore(client, cfg.RedisKey), func() { _ = client.Close() }, nil
	default:
		return settings.NewFileStore(cfg.SettingsPath), func() {}, nil
	}
}
