package custody

import (
	"fmt"
	"time"

	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/google/uuid"
)

// GPSFix is a best-effort position; a nil fix leaves the event coordinates empty.
type GPSFix struct {
	Latitude  float64
	Longitude float64
}

type HandoverRequest struct {
	Mode            models.HandoverMode
	Target          models.LocationRef
	SenderStaffID   *uint64
	ReceiverStaffID *uint64
	Notes           string
	GPS             *GPSFix
}

type StatusRequest struct {
	Status  models.PacketStatus
	StaffID *uint64
	Notes   string
	GPS     *GPSFix
}

// Builder turns an operator action on a freshly looked up packet into a HandoverEvent.
// It has no side effects; the event only matters once it is submitted or queued.
type Builder struct {
	now   func() time.Time
	newID func() string
}

func NewBuilder() *Builder {
	return &Builder{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

func (b *Builder) WithIDGenerator(newID func() string) *Builder {
	if newID != nil {
		b.newID = newID
	}
	return b
}

// Build derives direction and status from the packet's current location and the
// target, and stamps a new clientEventId. Resubmissions must reuse the returned event.
func (b *Builder) Build(packet *models.ExamPacket, req HandoverRequest) (models.HandoverEvent, error) {
	if packet == nil {
		return models.HandoverEvent{}, ErrNotFound
	}
	if err := ValidateLocation(req.Target); err != nil {
		return models.HandoverEvent{}, err
	}
	if IsTerminal(packet.Status) {
		return models.HandoverEvent{}, ErrTerminalPacket
	}

	dir := DeriveDirection(packet.CurrentLocation.Tier, req.Target.Tier)
	status, err := DeriveStatus(req.Mode, req.Target.Tier, dir)
	if err != nil {
		return models.HandoverEvent{}, err
	}

	now := b.now()
	ev := models.HandoverEvent{
		PacketID:         packet.ID,
		ClientEventID:    b.newID(),
		ClientTimestamp:  now,
		SenderStaffID:    req.SenderStaffID,
		ReceiverStaffID:  req.ReceiverStaffID,
		Mode:             req.Mode,
		Direction:        dir,
		From:             packet.CurrentLocation,
		To:               req.Target,
		ExpectedStatus:   packet.Status,
		StatusAtHandover: status,
		Notes:            req.Notes,
		HandoverTime:     now,
	}
	setGPS(&ev, req.GPS)
	return ev, nil
}

// BuildStatus records an in-place status change (opened, missing, ...) at the
// packet's current location, so the packet state stays a fold over events.
func (b *Builder) BuildStatus(packet *models.ExamPacket, req StatusRequest) (models.HandoverEvent, error) {
	if packet == nil {
		return models.HandoverEvent{}, ErrNotFound
	}
	if err := CheckManualStatus(packet.Status, req.Status); err != nil {
		return models.HandoverEvent{}, err
	}

	now := b.now()
	ev := models.HandoverEvent{
		PacketID:         packet.ID,
		ClientEventID:    b.newID(),
		ClientTimestamp:  now,
		SenderStaffID:    req.StaffID,
		Mode:             models.ModeStatus,
		Direction:        DeriveDirection(packet.CurrentLocation.Tier, packet.CurrentLocation.Tier),
		From:             packet.CurrentLocation,
		To:               packet.CurrentLocation,
		ExpectedStatus:   packet.Status,
		StatusAtHandover: req.Status,
		Notes:            req.Notes,
		HandoverTime:     now,
	}
	setGPS(&ev, req.GPS)
	return ev, nil
}

func setGPS(ev *models.HandoverEvent, fix *GPSFix) {
	if fix == nil {
		return
	}
	lat, lon := fix.Latitude, fix.Longitude
	ev.GPSLatitude = &lat
	ev.GPSLongitude = &lon
}

// ValidateEvent re-derives what the builder computed. The store runs it on every
// incoming event instead of trusting the client's arithmetic.
func ValidateEvent(ev models.HandoverEvent) error {
	if ev.ClientEventID == "" {
		return fmt.Errorf("clientEventId is required: %w", ErrInvalidEvent)
	}
	if ev.PacketID == 0 {
		return fmt.Errorf("packetId is required: %w", ErrInvalidEvent)
	}
	if err := ValidateLocation(ev.To); err != nil {
		return err
	}
	if err := ValidateLocation(ev.From); err != nil {
		return err
	}

	dir := DeriveDirection(ev.From.Tier, ev.To.Tier)
	if ev.Direction != dir {
		return fmt.Errorf("direction %s, expected %s: %w", ev.Direction, dir, ErrInvalidEvent)
	}

	if ev.Mode == models.ModeStatus {
		if !ev.From.Equal(ev.To) {
			return fmt.Errorf("status event must not move the packet: %w", ErrInvalidEvent)
		}
		return nil
	}

	status, err := DeriveStatus(ev.Mode, ev.To.Tier, dir)
	if err != nil {
		return err
	}
	if ev.StatusAtHandover != status {
		return fmt.Errorf("status %s, expected %s: %w", ev.StatusAtHandover, status, ErrInvalidEvent)
	}
	return nil
}
