package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PacketCustody/config"
	"github.com/BearBump/PacketCustody/internal/broker/kafka"
	"github.com/BearBump/PacketCustody/internal/broker/messages"
	"github.com/BearBump/PacketCustody/internal/cache/rediscache"
	"github.com/BearBump/PacketCustody/internal/metrics"
	"github.com/BearBump/PacketCustody/internal/services/packets"
	"github.com/BearBump/PacketCustody/internal/storage/pgcustody"
	"github.com/prometheus/client_golang/prometheus"
)

type custodyAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     custodyAPIOpts
	svc      *packets.Service
	consumer *kafka.Consumer
	producer *kafka.Producer
	cache    *rediscache.RedisCache
	closeDB  func()
}

func mustBootstrapCustodyAPI() *custodyAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	s := resolveSettings(cfg)

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)
	st.WithStrictBaseline(cfg.Custody.StrictBaselineEnabled())

	rc := rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
	m := metrics.New(prometheus.DefaultRegisterer)

	svc := packets.New(st, rc, s.snapshotTTL).
		WithMetrics(m).
		WithLogger(slog.Default())

	app := &custodyAPIApp{
		svc:     svc,
		cache:   rc,
		closeDB: st.Close,
	}

	var limiter *rediscache.RateLimiter
	if s.syncPerMinute > 0 {
		limiter = rediscache.NewRateLimiter(rc.Client(), s.syncPerMinute, time.Minute)
	}

	if !cfg.Kafka.Disabled {
		brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
		app.producer = kafka.NewProducer(brokers)
		svc.WithPublisher(app.producer)
		app.consumer = kafka.NewConsumer(brokers, s.submittedTopic, s.consumerGroup)
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = custodyAPIOpts{
		grpcAddr:      s.grpcAddr,
		httpAddr:      s.httpAddr,
		swaggerPath:   swaggerPath,
		topic:         s.submittedTopic,
		consumerGroup: s.consumerGroup,
		metrics:       m,
		ready: func(ctx context.Context) error {
			return errors.Join(st.Ping(ctx), rc.Ping(ctx))
		},
	}
	if limiter != nil {
		app.opts.limiter = limiter
	}
	return app
}

type apiSettings struct {
	grpcAddr       string
	httpAddr       string
	consumerGroup  string
	submittedTopic string
	snapshotTTL    time.Duration
	syncPerMinute  int64
}

func resolveSettings(cfg *config.Config) apiSettings {
	s := apiSettings{
		grpcAddr:       cfg.Custody.GRPCAddr,
		httpAddr:       cfg.Custody.HTTPAddr,
		consumerGroup:  cfg.Custody.KafkaConsumerGroup,
		submittedTopic: cfg.Kafka.HandoverSubmittedTopic,
		snapshotTTL:    time.Duration(cfg.Custody.SnapshotTTLSeconds) * time.Second,
		syncPerMinute:  int64(cfg.Custody.SyncRateLimitPerMinute),
	}
	if s.grpcAddr == "" {
		s.grpcAddr = ":50051"
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8080"
	}
	if s.consumerGroup == "" {
		s.consumerGroup = "custody-api"
	}
	if s.submittedTopic == "" {
		s.submittedTopic = messages.TopicHandoverSubmitted
	}
	if s.snapshotTTL <= 0 {
		s.snapshotTTL = 10 * time.Minute
	}
	if s.syncPerMinute < 0 {
		s.syncPerMinute = 0
	}
	return s
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgcustody.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgcustody.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *custodyAPIApp) Run() error {
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runCustodyAPI(a.ctx, a.opts, a.svc, consumer)
}

func (a *custodyAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}
