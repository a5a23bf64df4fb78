package pgcustody

import (
	"context"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `
  id, packet_id, client_event_id, client_timestamp,
  sender_staff_id, receiver_staff_id, mode, direction,
  from_location, to_location, expected_status, status_at_handover,
  notes, gps_latitude, gps_longitude, handover_time, accepted_at`

// ApplyResult is what the store did with one event. Packet is the state after
// the event, or the current state for a duplicate.
type ApplyResult struct {
	Event     models.HandoverEvent
	Packet    models.ExamPacket
	Duplicate bool
}

func scanEvent(row rowScanner) (*models.HandoverEvent, error) {
	var e models.HandoverEvent
	if err := row.Scan(
		&e.ID, &e.PacketID, &e.ClientEventID, &e.ClientTimestamp,
		&e.SenderStaffID, &e.ReceiverStaffID, &e.Mode, &e.Direction,
		&e.From, &e.To, &e.ExpectedStatus, &e.StatusAtHandover,
		&e.Notes, &e.GPSLatitude, &e.GPSLongitude, &e.HandoverTime, &e.AcceptedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// ApplyHandover appends ev and moves the packet in one transaction. The packet row
// stays locked until commit, so concurrent events for one packet apply one at a time.
// Custody rejections come back as custody errors; the transaction is rolled back.
func (s *Storage) ApplyHandover(ctx context.Context, ev models.HandoverEvent) (ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ApplyResult{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	packet, err := scanPacket(tx.QueryRow(ctx, `SELECT`+packetColumns+`
FROM exam_packets
WHERE id = $1
FOR UPDATE
`, ev.PacketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ApplyResult{}, custody.ErrNotFound
	}
	if err != nil {
		return ApplyResult{}, errors.Wrap(err, "lock packet")
	}

	prev, err := scanEvent(tx.QueryRow(ctx, `SELECT`+eventColumns+`
FROM handover_events
WHERE client_event_id = $1
`, ev.ClientEventID))
	switch {
	case err == nil:
		return ApplyResult{Event: *prev, Packet: *packet, Duplicate: true}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return ApplyResult{}, errors.Wrap(err, "select event")
	}

	if err := custody.Admit(*packet, ev, s.strict); err != nil {
		return ApplyResult{}, err
	}

	stored, err := scanEvent(tx.QueryRow(ctx, `
INSERT INTO handover_events (
  packet_id, client_event_id, client_timestamp,
  sender_staff_id, receiver_staff_id, mode, direction,
  from_location, to_location, expected_status, status_at_handover,
  notes, gps_latitude, gps_longitude, handover_time, accepted_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
RETURNING`+eventColumns,
		ev.PacketID, ev.ClientEventID, ev.ClientTimestamp.UTC(),
		ev.SenderStaffID, ev.ReceiverStaffID, ev.Mode, ev.Direction,
		ev.From, ev.To, ev.ExpectedStatus, ev.StatusAtHandover,
		ev.Notes, ev.GPSLatitude, ev.GPSLongitude, ev.HandoverTime.UTC()))
	if err != nil {
		return ApplyResult{}, errors.Wrap(err, "insert handover event")
	}

	next := custody.Apply(*packet, *stored)
	if err := tx.QueryRow(ctx, `
UPDATE exam_packets
SET
  status = $2,
  current_location = $3,
  last_handover_at = $4,
  updated_at = now()
WHERE id = $1
RETURNING updated_at
`, next.ID, next.Status, next.CurrentLocation, next.LastHandoverAt).Scan(&next.UpdatedAt); err != nil {
		return ApplyResult{}, errors.Wrap(err, "update packet")
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, errors.Wrap(err, "commit tx")
	}
	return ApplyResult{Event: *stored, Packet: next}, nil
}

// ListHandovers returns the chain of custody of a packet, oldest first.
func (s *Storage) ListHandovers(ctx context.Context, packetID uint64, limit, offset int) ([]*models.HandoverEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `SELECT`+eventColumns+`
FROM handover_events
WHERE packet_id = $1
ORDER BY id ASC
LIMIT $2 OFFSET $3
`, packetID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select handover events")
	}
	defer rows.Close()

	var out []*models.HandoverEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan handover event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
