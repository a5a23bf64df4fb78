package custody_http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/services/packets"
	"github.com/go-chi/chi/v5"
)

// DeviceHeader carries the operator device id used by the sync limit.
const DeviceHeader = "X-Device-ID"

const maxBodyBytes = 8 << 20

type SyncLimiter interface {
	Allow(ctx context.Context, deviceID string) (bool, int64, error)
}

// RateLimitMetrics counts requests turned away by the sync limit.
type RateLimitMetrics interface {
	IncRateLimited()
}

type Handler struct {
	svc     *packets.Service
	limiter SyncLimiter
	metrics RateLimitMetrics
	logger  *slog.Logger
}

func New(svc *packets.Service) *Handler {
	return &Handler{svc: svc, logger: slog.Default()}
}

func (h *Handler) WithSyncLimiter(l SyncLimiter, m RateLimitMetrics) *Handler {
	h.limiter = l
	h.metrics = m
	return h
}

func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	if l != nil {
		h.logger = l
	}
	return h
}

type createPacketsBody struct {
	Items []models.PacketCreateInput `json:"items"`
}

type batchBody struct {
	Events []models.HandoverEvent `json:"events"`
}

type statusBody struct {
	Status  models.PacketStatus `json:"status"`
	StaffID *uint64             `json:"staffId,omitempty"`
	Notes   string              `json:"notes,omitempty"`
}

// Mount registers the /v1 routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/packets", h.createPackets)
		r.Get("/packets/barcode/{code}", h.lookup)
		r.Post("/packets/barcode/{code}/status", h.recordStatus)
		r.Get("/packets/{id}/handovers", h.listHandovers)
		r.Post("/handovers", h.submit)
		r.Post("/handovers/batch", h.batch)
	})
}

func (h *Handler) createPackets(w http.ResponseWriter, r *http.Request) {
	var body createPacketsBody
	if !decode(w, r, &body) {
		return
	}
	ps, err := h.svc.CreatePackets(r.Context(), body.Items)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packets": ps})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.LookupByBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) listHandovers(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid packet id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	evs, err := h.svc.ListHandovers(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	if evs == nil {
		evs = []*models.HandoverEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var ev models.HandoverEvent
	if !decode(w, r, &ev) {
		return
	}
	res, err := h.svc.SubmitHandover(r.Context(), ev)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	var body batchBody
	if !decode(w, r, &body) {
		return
	}
	results, err := h.svc.ApplyHandovers(r.Context(), body.Events)
	if err != nil {
		h.fail(w, err)
		return
	}
	if results == nil {
		results = []models.HandoverResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) recordStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if !decode(w, r, &body) {
		return
	}
	res, err := h.svc.RecordStatus(r.Context(), chi.URLParam(r, "code"), custody.StatusRequest{
		Status:  body.Status,
		StaffID: body.StaffID,
		Notes:   body.Notes,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	device := r.Header.Get(DeviceHeader)
	if h.limiter == nil || device == "" {
		return true
	}
	ok, count, err := h.limiter.Allow(r.Context(), device)
	if err != nil {
		// лимитер недоступен: синк важнее лимита
		h.logger.Warn("sync rate limiter failed", "device_id", device, "err", err)
		return true
	}
	if !ok {
		if h.metrics != nil {
			h.metrics.IncRateLimited()
		}
		h.logger.Info("sync rate limited", "device_id", device, "count", count)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "sync rate limit exceeded")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var invalid packets.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, custody.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("custody api request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
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
