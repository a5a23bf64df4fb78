package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/PacketCustody/config"
	"github.com/BearBump/PacketCustody/internal/cache"
	"github.com/BearBump/PacketCustody/internal/cache/rediscache"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi/fake"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi/grpcclient"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi/httpclient"
	"github.com/BearBump/PacketCustody/internal/metrics"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/BearBump/PacketCustody/internal/queue/filequeue"
	"github.com/BearBump/PacketCustody/internal/queue/redisqueue"
	"github.com/BearBump/PacketCustody/internal/services/operator"
	"github.com/BearBump/PacketCustody/internal/services/syncer"
	"github.com/prometheus/client_golang/prometheus"
)

type agentFactories struct {
	newQueue         func(cfg *config.Config) (q queue.Queue, closeFn func(), err error)
	newClient        func(cfg *config.Config) (c custodyapi.Client, closeFn func(), err error)
	newSnapshotCache func(cfg *config.Config) (c cache.BytesCache, closeFn func())
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newQueue: func(cfg *config.Config) (queue.Queue, func(), error) {
			switch cfg.Agent.QueueBackend {
			case "redis":
				q := redisqueue.New(redisAddr(cfg), cfg.Agent.QueueID)
				return q, func() { _ = q.Close() }, nil
			case "", "file":
				dir := cfg.Agent.QueueDir
				if dir == "" {
					dir = "./data/queue"
				}
				q, err := filequeue.New(dir, cfg.Agent.QueueID)
				if err != nil {
					return nil, nil, err
				}
				return q, nil, nil
			default:
				return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Agent.QueueBackend)
			}
		},
		newClient: func(cfg *config.Config) (custodyapi.Client, func(), error) {
			timeout := time.Duration(cfg.Agent.APITimeoutSeconds) * time.Second
			switch cfg.Agent.APITransport {
			case "grpc":
				c, err := grpcclient.New(cfg.Agent.APIAddr, cfg.Agent.DeviceID, timeout)
				if err != nil {
					return nil, nil, err
				}
				return c, func() { _ = c.Close() }, nil
			case "http":
				return httpclient.New(cfg.Agent.APIAddr, cfg.Agent.DeviceID, timeout), nil, nil
			case "fake":
				// Для демо без бэкенда: in-memory хранилище, переживает только процесс.
				return fake.New(), nil, nil
			default:
				return nil, nil, fmt.Errorf("unknown api transport %q", cfg.Agent.APITransport)
			}
		},
		newSnapshotCache: func(cfg *config.Config) (cache.BytesCache, func()) {
			if cfg.Agent.QueueBackend != "redis" {
				return nil, nil
			}
			rc := rediscache.New(redisAddr(cfg))
			return rc, func() { _ = rc.Close() }
		},
	}
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
}

type agent struct {
	operator *operator.Service
	engine   *syncer.Engine
	queue    queue.Queue
	client   custodyapi.Client
	metrics  *metrics.Metrics
}

func buildAgent(cfg *config.Config, f agentFactories, reg prometheus.Registerer) (*agent, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	q, closeQ, err := f.newQueue(cfg)
	if err != nil {
		return nil, nil, err
	}
	if closeQ != nil {
		closers = append(closers, closeQ)
	}

	client, closeC, err := f.newClient(cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	if closeC != nil {
		closers = append(closers, closeC)
	}

	batchSize := cfg.Agent.SyncBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	m := metrics.New(reg)
	engine := syncer.New(q, client).
		WithSettings(batchSize).
		WithMetrics(m).
		WithLogger(slog.Default())

	op := operator.New(client, q).WithLogger(slog.Default())
	if c, closeCache := f.newSnapshotCache(cfg); c != nil {
		ttl := time.Duration(cfg.Agent.SnapshotTTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 7 * 24 * time.Hour
		}
		op = op.WithSnapshotCache(c, ttl)
		if closeCache != nil {
			closers = append(closers, closeCache)
		}
	}
	if cfg.Agent.GPSLatitude != nil && cfg.Agent.GPSLongitude != nil {
		fix := custody.GPSFix{Latitude: *cfg.Agent.GPSLatitude, Longitude: *cfg.Agent.GPSLongitude}
		op = op.WithLocator(operator.StaticLocator{Fix: fix}, time.Duration(cfg.Agent.GPSTimeoutMillis)*time.Millisecond)
	}

	return &agent{operator: op, engine: engine, queue: q, client: client, metrics: m}, closeAll, nil
}

// RunCustodyAgent serves the operator HTTP surface until ctx is done. Sync runs only
// when an operator asks for it.
func RunCustodyAgent(ctx context.Context, cfg *config.Config, f agentFactories, opts agentHTTPOpts) error {
	reg := prometheus.NewRegistry()
	a, closeFn, err := buildAgent(cfg, f, reg)
	if err != nil {
		return err
	}
	defer closeFn()

	if opts.httpAddr == "" {
		opts.httpAddr = cfg.Agent.HTTPAddr
	}
	opts.agent = a
	opts.cfg = cfg
	opts.gatherer = reg

	slog.Info("custody agent started",
		"device_id", cfg.Agent.DeviceID,
		"queue_backend", cfg.Agent.QueueBackend,
		"api_transport", cfg.Agent.APITransport,
	)
	return runAgentHTTPServer(ctx, opts)
}
