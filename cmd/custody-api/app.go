package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	custodyapi "github.com/BearBump/PacketCustody/internal/api/custody_api"
	custodyhttp "github.com/BearBump/PacketCustody/internal/api/custody_http"
	"github.com/BearBump/PacketCustody/internal/broker/kafka"
	"github.com/BearBump/PacketCustody/internal/broker/messages"
	"github.com/BearBump/PacketCustody/internal/metrics"
	"github.com/BearBump/PacketCustody/internal/services/packets"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

type custodyAPIOpts struct {
	grpcAddr    string
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	limiter custodyhttp.SyncLimiter
	metrics *metrics.Metrics
	// gatherer backs /metrics; nil means the default registry.
	gatherer prometheus.Gatherer
	// ready reports whether the backing stores answer.
	ready func(ctx context.Context) error

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// runCustodyAPI serves gRPC and REST on top of the same packets service and, when a
// consumer is given, ingests handovers relayed over Kafka. It returns once ctx is done
// or one of the servers fails.
func runCustodyAPI(ctx context.Context, opts custodyAPIOpts, svc *packets.Service, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	api := custodyapi.New(svc)
	if opts.limiter != nil {
		api = api.WithSyncLimiter(opts.limiter)
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runGRPCServer(gctx, grpcLis, api)
	})
	g.Go(func() error {
		return runHTTPServer(gctx, httpLis, opts, svc)
	})
	if consumer != nil {
		g.Go(func() error {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			err := consumer.Consume(gctx, handoverSubmittedHandler(gctx, svc))
			if err != nil && gctx.Err() == nil {
				// API продолжает работать без relay-ингеста
				slog.Error("kafka consumer stopped", "topic", opts.topic, "err", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// handoverSubmittedHandler applies relayed events. Undecodable or invalid messages are
// poison: retrying them can never succeed.
func handoverSubmittedHandler(ctx context.Context, svc *packets.Service) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var m messages.HandoverSubmitted
		if err := json.Unmarshal(value, &m); err != nil {
			return fmt.Errorf("%w: decode handover submitted: %v", kafka.ErrPoisonMessage, err)
		}
		err := svc.ApplyKafkaHandover(ctx, m)
		var invalid packets.ValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: %v", kafka.ErrPoisonMessage, err)
		}
		return err
	}
}

func runGRPCServer(ctx context.Context, lis net.Listener, api *custodyapi.CustodyAPI) error {
	s := grpc.NewServer()
	custodyapi.RegisterCustodyServiceServer(s, api)

	go func() {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func runHTTPServer(ctx context.Context, lis net.Listener, opts custodyAPIOpts, svc *packets.Service) error {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.ready != nil {
			if err := opts.ready(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	gatherer := opts.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	h := custodyhttp.New(svc)
	if opts.limiter != nil {
		h = h.WithSyncLimiter(opts.limiter, opts.metrics)
	}
	h.Mount(r)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
