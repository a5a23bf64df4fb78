package pgcustody

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS exam_packets (
  id BIGSERIAL PRIMARY KEY,
  barcode TEXT NOT NULL UNIQUE,
  exam_year_id BIGINT NOT NULL,
  subject_id BIGINT NOT NULL,
  grade INT NOT NULL,
  destination_center_id BIGINT NOT NULL,
  paper_count INT NOT NULL DEFAULT 0,
  security_seal_number TEXT NOT NULL DEFAULT '',
  notes TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  current_location JSONB NOT NULL,
  last_handover_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_exam_packets_status ON exam_packets(status)`,
		`
CREATE TABLE IF NOT EXISTS handover_events (
  id BIGSERIAL PRIMARY KEY,
  packet_id BIGINT NOT NULL REFERENCES exam_packets(id),
  client_event_id TEXT NOT NULL,
  client_timestamp TIMESTAMPTZ NOT NULL,
  sender_staff_id BIGINT NULL,
  receiver_staff_id BIGINT NULL,
  mode TEXT NOT NULL,
  direction TEXT NOT NULL,
  from_location JSONB NOT NULL,
  to_location JSONB NOT NULL,
  expected_status TEXT NOT NULL,
  status_at_handover TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  gps_latitude DOUBLE PRECISION NULL,
  gps_longitude DOUBLE PRECISION NULL,
  handover_time TIMESTAMPTZ NOT NULL,
  accepted_at TIMESTAMPTZ NOT NULL
)`,
		// Повторная отправка из офлайн-очереди приходит с тем же client_event_id.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_handover_events_client_event_id ON handover_events(client_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_handover_events_packet_id ON handover_events(packet_id, id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
