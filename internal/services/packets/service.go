package packets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/PacketCustody/internal/broker/messages"
	"github.com/BearBump/PacketCustody/internal/cache"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/metrics"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/storage/pgcustody"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxCreateItems = 10_000
	maxBatchEvents = 500

	SourceAPI   = "api"
	SourceBatch = "batch"
	SourceKafka = "kafka"
)

// ValidationError is a malformed request; transports answer it with 400 / InvalidArgument.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

type Repository interface {
	CreateOrGetPackets(ctx context.Context, items []models.PacketCreateInput) ([]*models.ExamPacket, error)
	GetPacketByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error)
	ListHandovers(ctx context.Context, packetID uint64, limit, offset int) ([]*models.HandoverEvent, error)
	ApplyHandover(ctx context.Context, ev models.HandoverEvent) (pgcustody.ApplyResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo        Repository
	cache       cache.BytesCache
	snapshotTTL time.Duration

	publisher Publisher
	metrics   *metrics.Metrics
	builder   *custody.Builder
	logger    *slog.Logger
	tracer    trace.Tracer
}

func New(repo Repository, c cache.BytesCache, snapshotTTL time.Duration) *Service {
	return &Service{
		repo:        repo,
		cache:       c,
		snapshotTTL: snapshotTTL,
		builder:     custody.NewBuilder(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/BearBump/PacketCustody/internal/services/packets"),
	}
}

// WithPublisher enables packet.handover.accepted notifications.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Service) WithBuilder(b *custody.Builder) *Service {
	if b != nil {
		s.builder = b
	}
	return s
}

func (s *Service) CreatePackets(ctx context.Context, items []models.PacketCreateInput) ([]*models.ExamPacket, error) {
	if len(items) == 0 {
		return nil, ValidationError("items is empty")
	}
	if len(items) > maxCreateItems {
		return nil, ValidationError(fmt.Sprintf("too many items (max %d)", maxCreateItems))
	}

	clean := make([]models.PacketCreateInput, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Barcode == "" {
			return nil, ValidationError("barcode is required")
		}
		if it.ExamYearID == 0 {
			return nil, ValidationError("examYearId is required")
		}
		if it.PaperCount < 0 {
			return nil, ValidationError("paperCount must not be negative")
		}
		if _, ok := seen[it.Barcode]; ok {
			continue
		}
		seen[it.Barcode] = struct{}{}
		clean = append(clean, it)
	}

	return s.repo.CreateOrGetPackets(ctx, clean)
}

// LookupByBarcode reads through the snapshot cache. The cache is written after
// every accepted event, so a hit is at most one TTL behind a missed write.
func (s *Service) LookupByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error) {
	if barcode == "" {
		return nil, ValidationError("barcode is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, snapshotKey(barcode))
		if err == nil && ok {
			var p models.ExamPacket
			if json.Unmarshal(b, &p) == nil {
				s.metrics.IncCacheLookup(true)
				return &p, nil
			}
		}
		s.metrics.IncCacheLookup(false)
	}

	p, err := s.repo.GetPacketByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	s.storeSnapshot(ctx, p)
	return p, nil
}

func (s *Service) ListHandovers(ctx context.Context, packetID uint64, limit, offset int) ([]*models.HandoverEvent, error) {
	if packetID == 0 {
		return nil, ValidationError("packetId is required")
	}
	return s.repo.ListHandovers(ctx, packetID, limit, offset)
}

// SubmitHandover applies one event. Custody rejections are reported in the result;
// the error is reserved for failures of the store itself.
func (s *Service) SubmitHandover(ctx context.Context, ev models.HandoverEvent) (models.HandoverResult, error) {
	return s.apply(ctx, SourceAPI, ev)
}

// ApplyHandovers applies a batch in order, one transaction per event. Once an event
// of a packet fails, later events of that packet in the batch are not attempted.
func (s *Service) ApplyHandovers(ctx context.Context, events []models.HandoverEvent) ([]models.HandoverResult, error) {
	if len(events) > maxBatchEvents {
		return nil, ValidationError(fmt.Sprintf("too many events (max %d)", maxBatchEvents))
	}

	ctx, span := s.tracer.Start(ctx, "packets.ApplyHandovers", trace.WithAttributes(attribute.Int("events", len(events))))
	defer span.End()

	out := make([]models.HandoverResult, 0, len(events))
	failed := make(map[uint64]struct{})
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if _, blocked := failed[ev.PacketID]; blocked {
			s.metrics.IncHandover(SourceBatch, models.ReasonBlocked)
			out = append(out, models.HandoverResult{ClientEventID: ev.ClientEventID, Reason: models.ReasonBlocked})
			continue
		}

		res, err := s.apply(ctx, SourceBatch, ev)
		if err != nil {
			s.logger.Error("apply handover failed", "client_event_id", ev.ClientEventID, "packet_id", ev.PacketID, "err", err)
		}
		if !res.Accepted {
			failed[ev.PacketID] = struct{}{}
		}
		out = append(out, res)
	}
	return out, nil
}

// RecordStatus records an in-place status change for a packet identified by barcode,
// built against the packet's current state in the store.
func (s *Service) RecordStatus(ctx context.Context, barcode string, req custody.StatusRequest) (models.HandoverResult, error) {
	if barcode == "" {
		return models.HandoverResult{}, ValidationError("barcode is required")
	}
	p, err := s.repo.GetPacketByBarcode(ctx, barcode)
	if err != nil {
		return models.HandoverResult{}, err
	}
	ev, err := s.builder.BuildStatus(p, req)
	if err != nil {
		s.metrics.IncHandover(SourceAPI, custody.Reason(err))
		return models.HandoverResult{Reason: custody.Reason(err)}, nil
	}
	return s.apply(ctx, SourceAPI, ev)
}

// ApplyKafkaHandover ingests an event relayed over Kafka. Rejections are final and
// only logged; store failures are returned so the message is redelivered.
func (s *Service) ApplyKafkaHandover(ctx context.Context, msg messages.HandoverSubmitted) error {
	if msg.Event.ClientEventID == "" {
		return ValidationError("client_event_id is required")
	}
	res, err := s.apply(ctx, SourceKafka, msg.Event)
	if err != nil {
		return err
	}
	if !res.Accepted {
		s.logger.Warn("relayed handover rejected",
			"device_id", msg.DeviceID, "client_event_id", res.ClientEventID, "reason", res.Reason)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, source string, ev models.HandoverEvent) (models.HandoverResult, error) {
	ctx, span := s.tracer.Start(ctx, "packets.apply", trace.WithAttributes(
		attribute.String("source", source),
		attribute.String("client_event_id", ev.ClientEventID),
		attribute.Int64("packet_id", int64(ev.PacketID)),
	))
	defer span.End()

	res := models.HandoverResult{ClientEventID: ev.ClientEventID}
	if err := custody.ValidateEvent(ev); err != nil {
		return s.reject(span, source, res, err), nil
	}

	start := time.Now()
	applied, err := s.repo.ApplyHandover(ctx, ev)
	s.metrics.ObserveApply(time.Since(start))
	if err != nil {
		if reason := custody.Reason(err); reason != models.ReasonInternal {
			return s.reject(span, source, res, err), nil
		}
		res.Reason = models.ReasonInternal
		s.metrics.IncHandover(source, models.ReasonInternal)
		span.SetStatus(codes.Error, err.Error())
		return res, errors.Wrap(err, "apply handover")
	}

	res.Accepted = true
	res.Duplicate = applied.Duplicate
	if applied.Duplicate {
		s.metrics.IncHandover(source, "duplicate")
	} else {
		s.metrics.IncHandover(source, "accepted")
		s.publishAccepted(ctx, applied)
	}
	s.storeSnapshot(ctx, &applied.Packet)

	s.logger.Info("handover applied",
		"source", source,
		"packet_id", applied.Packet.ID,
		"client_event_id", ev.ClientEventID,
		"status", applied.Packet.Status,
		"duplicate", applied.Duplicate,
	)
	return res, nil
}

func (s *Service) reject(span trace.Span, source string, res models.HandoverResult, err error) models.HandoverResult {
	res.Reason = custody.Reason(err)
	span.SetAttributes(attribute.String("reject_reason", res.Reason))
	s.metrics.IncHandover(source, res.Reason)
	s.logger.Info("handover rejected", "source", source, "client_event_id", res.ClientEventID, "reason", res.Reason, "err", err)
	return res
}

func (s *Service) publishAccepted(ctx context.Context, applied pgcustody.ApplyResult) {
	if s.publisher == nil {
		return
	}
	acceptedAt := time.Now().UTC()
	if applied.Event.AcceptedAt != nil {
		acceptedAt = *applied.Event.AcceptedAt
	}
	b, err := json.Marshal(messages.HandoverAccepted{
		PacketID:      applied.Packet.ID,
		Barcode:       applied.Packet.Barcode,
		EventID:       applied.Event.ID,
		ClientEventID: applied.Event.ClientEventID,
		Mode:          applied.Event.Mode,
		Direction:     applied.Event.Direction,
		From:          applied.Event.From,
		To:            applied.Event.To,
		Status:        applied.Event.StatusAtHandover,
		HandoverTime:  applied.Event.HandoverTime,
		AcceptedAt:    acceptedAt,
	})
	if err != nil {
		s.logger.Warn("encode handover accepted", "err", err)
		return
	}
	// Событие уже закоммичено: ошибка публикации не откатывает передачу.
	key := []byte(strconv.FormatUint(applied.Packet.ID, 10))
	if err := s.publisher.Publish(ctx, messages.TopicHandoverAccepted, key, b); err != nil {
		s.logger.Warn("publish handover accepted", "packet_id", applied.Packet.ID, "err", err)
	}
}

func (s *Service) storeSnapshot(ctx context.Context, p *models.ExamPacket) {
	if !s.cacheEnabled() || p == nil || p.Barcode == "" {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(p.Barcode), b, s.snapshotTTL); err != nil {
		s.logger.Warn("cache packet snapshot", "barcode", p.Barcode, "err", err)
	}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.snapshotTTL > 0
}

func snapshotKey(barcode string) string {
	return fmt.Sprintf("packet:barcode:%s", barcode)
}
