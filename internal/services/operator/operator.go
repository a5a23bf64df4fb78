package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/PacketCustody/internal/cache"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/pkg/errors"
)

// Locator is the device GPS. It may be slow or fail; fixes are best effort.
type Locator interface {
	Locate(ctx context.Context) (*custody.GPSFix, error)
}

// StaticLocator reports a fixed position, e.g. a center whose coordinates are configured.
type StaticLocator struct {
	Fix custody.GPSFix
}

func (l StaticLocator) Locate(context.Context) (*custody.GPSFix, error) {
	fix := l.Fix
	return &fix, nil
}

type ScanResult struct {
	Packet models.ExamPacket `json:"packet"`
	// Stale means the store was unreachable and Packet is the last snapshot seen on this device.
	Stale bool `json:"stale"`
}

type Delivery struct {
	Event  models.HandoverEvent   `json:"event"`
	Result *models.HandoverResult `json:"result,omitempty"`
	// Queued means the event waits in the offline queue for the next sync.
	Queued      bool `json:"queued"`
	QueueLength int  `json:"queueLength"`
}

type HandoverInput struct {
	Mode            models.HandoverMode `json:"mode"`
	Target          models.LocationRef  `json:"target"`
	SenderStaffID   *uint64             `json:"senderStaffId,omitempty"`
	ReceiverStaffID *uint64             `json:"receiverStaffId,omitempty"`
	Notes           string              `json:"notes,omitempty"`
}

type StatusInput struct {
	Status  models.PacketStatus `json:"status"`
	StaffID *uint64             `json:"staffId,omitempty"`
	Notes   string              `json:"notes,omitempty"`
}

// Service runs the operator side of a handover: scan, build, then submit or queue.
type Service struct {
	client  custodyapi.Client
	queue   queue.Queue
	builder *custody.Builder
	locator Locator
	logger  *slog.Logger

	gpsTimeout  time.Duration
	snapshotTTL time.Duration
	snapCache   cache.BytesCache

	mu        sync.Mutex
	snapshots map[string]models.ExamPacket
}

func New(client custodyapi.Client, q queue.Queue) *Service {
	return &Service{
		client:     client,
		queue:      q,
		builder:    custody.NewBuilder(),
		logger:     slog.Default(),
		gpsTimeout: 2 * time.Second,
		snapshots:  make(map[string]models.ExamPacket),
	}
}

func (s *Service) WithLocator(l Locator, timeout time.Duration) *Service {
	s.locator = l
	if timeout > 0 {
		s.gpsTimeout = timeout
	}
	return s
}

func (s *Service) WithBuilder(b *custody.Builder) *Service {
	if b != nil {
		s.builder = b
	}
	return s
}

// WithSnapshotCache keeps last known snapshots outside the process, so a restarted
// device can still work offline on packets it scanned before.
func (s *Service) WithSnapshotCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.snapCache = c
	s.snapshotTTL = ttl
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// Scan resolves a barcode against the store and falls back to the last known
// snapshot when the store is unreachable. Events still waiting in this device's
// queue are folded on top, so the result is what the packet becomes once they sync.
func (s *Service) Scan(ctx context.Context, barcode string) (ScanResult, error) {
	if barcode == "" {
		return ScanResult{}, errors.New("barcode is required")
	}
	p, err := s.client.LookupByBarcode(ctx, barcode)
	if err == nil {
		packet, err := s.withPending(ctx, *p)
		if err != nil {
			return ScanResult{}, err
		}
		s.remember(ctx, packet)
		return ScanResult{Packet: packet}, nil
	}
	if !unreachable(err) {
		return ScanResult{}, err
	}

	snap, ok := s.snapshot(ctx, barcode)
	if !ok {
		return ScanResult{}, err
	}
	s.logger.Warn("store unreachable, using last known snapshot", "barcode", barcode, "err", err)
	snap, perr := s.withPending(ctx, snap)
	if perr != nil {
		return ScanResult{}, perr
	}
	return ScanResult{Packet: snap, Stale: true}, nil
}

func (s *Service) Handover(ctx context.Context, barcode string, in HandoverInput) (Delivery, error) {
	scan, err := s.Scan(ctx, barcode)
	if err != nil {
		return Delivery{}, err
	}
	ev, err := s.builder.Build(&scan.Packet, custody.HandoverRequest{
		Mode:            in.Mode,
		Target:          in.Target,
		SenderStaffID:   in.SenderStaffID,
		ReceiverStaffID: in.ReceiverStaffID,
		Notes:           in.Notes,
		GPS:             s.locate(ctx),
	})
	if err != nil {
		return Delivery{}, err
	}
	return s.deliver(ctx, scan.Packet, ev)
}

func (s *Service) RecordStatus(ctx context.Context, barcode string, in StatusInput) (Delivery, error) {
	scan, err := s.Scan(ctx, barcode)
	if err != nil {
		return Delivery{}, err
	}
	ev, err := s.builder.BuildStatus(&scan.Packet, custody.StatusRequest{
		Status:  in.Status,
		StaffID: in.StaffID,
		Notes:   in.Notes,
		GPS:     s.locate(ctx),
	})
	if err != nil {
		return Delivery{}, err
	}
	return s.deliver(ctx, scan.Packet, ev)
}

func (s *Service) Pending(ctx context.Context) ([]queue.Entry, error) {
	return s.queue.PeekAll(ctx)
}

// withPending applies the queued events of p, in queue order, to the store's view of it.
func (s *Service) withPending(ctx context.Context, p models.ExamPacket) (models.ExamPacket, error) {
	entries, err := s.queue.PeekAll(ctx)
	if err != nil {
		return models.ExamPacket{}, errors.Wrap(err, "read pending queue")
	}
	var own []models.HandoverEvent
	for _, en := range entries {
		if en.Event.PacketID == p.ID {
			own = append(own, en.Event)
		}
	}
	return custody.Fold(p, own), nil
}

// deliver submits ev directly only when nothing is queued and the store answers;
// otherwise ev joins the queue behind the events recorded before it. A direct
// submit that fails in transport is returned to the caller as is: nothing is
// queued and the snapshot keeps its previous state.
func (s *Service) deliver(ctx context.Context, packet models.ExamPacket, ev models.HandoverEvent) (Delivery, error) {
	pending, err := s.queue.Len(ctx)
	if err != nil {
		return Delivery{}, errors.Wrap(err, "queue length")
	}

	if pending == 0 && s.client.Ping(ctx) == nil {
		res, err := s.client.SubmitHandover(ctx, ev)
		if err != nil {
			s.logger.Warn("submit handover failed", "client_event_id", ev.ClientEventID, "err", err)
			return Delivery{}, err
		}
		if !res.Accepted {
			s.logger.Info("handover rejected", "client_event_id", ev.ClientEventID, "reason", res.Reason)
			return Delivery{Event: ev, Result: &res}, nil
		}
		s.remember(ctx, custody.Apply(packet, ev))
		return Delivery{Event: ev, Result: &res}, nil
	}

	if err := s.queue.Enqueue(ctx, ev); err != nil {
		return Delivery{}, errors.Wrap(err, "enqueue handover")
	}
	s.remember(ctx, custody.Apply(packet, ev))

	n, err := s.queue.Len(ctx)
	if err != nil {
		return Delivery{}, errors.Wrap(err, "queue length")
	}
	s.logger.Info("handover queued", "client_event_id", ev.ClientEventID, "packet_id", ev.PacketID, "queue_length", n)
	return Delivery{Event: ev, Queued: true, QueueLength: n}, nil
}

func (s *Service) locate(ctx context.Context) *custody.GPSFix {
	if s.locator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.gpsTimeout)
	defer cancel()
	fix, err := s.locator.Locate(ctx)
	if err != nil {
		s.logger.Debug("gps unavailable", "err", err)
		return nil
	}
	return fix
}

func (s *Service) remember(ctx context.Context, p models.ExamPacket) {
	s.mu.Lock()
	s.snapshots[p.Barcode] = p
	s.mu.Unlock()

	if s.snapCache == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.snapCache.Set(ctx, snapshotKey(p.Barcode), b, s.snapshotTTL); err != nil {
		s.logger.Warn("store packet snapshot", "barcode", p.Barcode, "err", err)
	}
}

func (s *Service) snapshot(ctx context.Context, barcode string) (models.ExamPacket, bool) {
	s.mu.Lock()
	p, ok := s.snapshots[barcode]
	s.mu.Unlock()
	if ok || s.snapCache == nil {
		return p, ok
	}

	b, ok, err := s.snapCache.Get(ctx, snapshotKey(barcode))
	if err != nil || !ok {
		return models.ExamPacket{}, false
	}
	if json.Unmarshal(b, &p) != nil {
		return models.ExamPacket{}, false
	}
	return p, true
}

// unreachable reports whether the store could not answer, as opposed to answering no.
func unreachable(err error) bool {
	return errors.Is(err, custody.ErrSubmissionFailure) || errors.Is(err, custody.ErrRateLimited)
}

func snapshotKey(barcode string) string {
	return fmt.Sprintf("custody:agent:snapshot:%s", barcode)
}
