package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/PacketCustody/config"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/BearBump/PacketCustody/internal/services/operator"
	"github.com/BearBump/PacketCustody/internal/services/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type agentHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	agent    *agent
	cfg      *config.Config
	gatherer prometheus.Gatherer
}

type scanBody struct {
	Barcode string `json:"barcode"`
}

type handoverBody struct {
	Barcode string `json:"barcode"`
	operator.HandoverInput
}

type statusBody struct {
	Barcode string `json:"barcode"`
	operator.StatusInput
}

func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("agent swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("agent swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: agentRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func agentRouter(opts agentHTTPOpts) http.Handler {
	r := chi.NewRouter()
	a := opts.agent

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	// Агент готов и без сети: достаточно, что очередь читается.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.queue.Len(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "online": a.client.Ping(r.Context()) == nil})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		n, err := a.queue.Len(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sync":        a.engine.Stats(),
			"queueLength": n,
		})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeError(w, http.StatusServiceUnavailable, "config not wired")
			return
		}
		ac := opts.cfg.Agent
		writeJSON(w, http.StatusOK, map[string]any{
			"deviceId":      ac.DeviceID,
			"queueBackend":  ac.QueueBackend,
			"queueId":       ac.QueueID,
			"apiTransport":  ac.APITransport,
			"apiAddr":       ac.APIAddr,
			"syncBatchSize": ac.SyncBatchSize,
			"gpsConfigured": ac.GPSLatitude != nil && ac.GPSLongitude != nil,
		})
	})

	r.Post("/scan", func(w http.ResponseWriter, r *http.Request) {
		var body scanBody
		if !decode(w, r, &body) || !requireBarcode(w, body.Barcode) {
			return
		}
		res, err := a.operator.Scan(r.Context(), body.Barcode)
		if err != nil {
			writeCustodyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/handovers", func(w http.ResponseWriter, r *http.Request) {
		var body handoverBody
		if !decode(w, r, &body) || !requireBarcode(w, body.Barcode) {
			return
		}
		d, err := a.operator.Handover(r.Context(), body.Barcode, body.HandoverInput)
		if err != nil {
			writeCustodyError(w, err)
			return
		}
		writeDelivery(w, d)
	})

	r.Post("/status", func(w http.ResponseWriter, r *http.Request) {
		var body statusBody
		if !decode(w, r, &body) || !requireBarcode(w, body.Barcode) {
			return
		}
		d, err := a.operator.RecordStatus(r.Context(), body.Barcode, body.StatusInput)
		if err != nil {
			writeCustodyError(w, err)
			return
		}
		writeDelivery(w, d)
	})

	r.Get("/queue", func(w http.ResponseWriter, r *http.Request) {
		entries, err := a.operator.Pending(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if entries == nil {
			entries = []queue.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "length": len(entries)})
	})

	r.Post("/sync", func(w http.ResponseWriter, r *http.Request) {
		rep, err := a.engine.Sync(r.Context())
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, custody.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case err != nil:
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeJSON(w, http.StatusOK, rep)
		}
	})

	r.Handle("/metrics", promhttp.HandlerFor(opts.gatherer, promhttp.HandlerOpts{}))

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

// writeDelivery answers 202 for queued events, 200 for accepted ones and 409 when
// the store rejected the handover.
func writeDelivery(w http.ResponseWriter, d operator.Delivery) {
	switch {
	case d.Queued:
		writeJSON(w, http.StatusAccepted, d)
	case d.Result != nil && !d.Result.Accepted:
		writeJSON(w, http.StatusConflict, d)
	default:
		writeJSON(w, http.StatusOK, d)
	}
}

func writeCustodyError(w http.ResponseWriter, err error) {
	var incomplete *custody.IncompleteLocationSelectionError
	switch {
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     err.Error(),
			"missing":   incomplete.Missing,
			"forbidden": incomplete.Forbidden,
		})
	case errors.Is(err, custody.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, custody.ErrTerminalPacket),
		errors.Is(err, custody.ErrInvalidTransition),
		errors.Is(err, custody.ErrUnmappedTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error(), "reason": custody.Reason(err)})
	case errors.Is(err, custody.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, custody.ErrSubmissionFailure):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func requireBarcode(w http.ResponseWriter, barcode string) bool {
	if barcode == "" {
		writeError(w, http.StatusBadRequest, "barcode is required")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
