package pgcustody

import (
	"context"
	"time"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const packetColumns = `
  id, barcode, exam_year_id, subject_id, grade,
  destination_center_id, paper_count, security_seal_number, notes,
  status, current_location, last_handover_at,
  created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPacket(row rowScanner) (*models.ExamPacket, error) {
	var p models.ExamPacket
	if err := row.Scan(
		&p.ID, &p.Barcode, &p.ExamYearID, &p.SubjectID, &p.Grade,
		&p.DestinationCenterID, &p.PaperCount, &p.SecuritySealNumber, &p.Notes,
		&p.Status, &p.CurrentLocation, &p.LastHandoverAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrGetPackets registers packets at HQ with status CREATED. A barcode that
// already exists keeps its stored state.
func (s *Storage) CreateOrGetPackets(ctx context.Context, items []models.PacketCreateInput) ([]*models.ExamPacket, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO exam_packets (
  barcode, exam_year_id, subject_id, grade, destination_center_id,
  paper_count, security_seal_number, notes,
  status, current_location, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (barcode)
DO UPDATE SET updated_at = exam_packets.updated_at
RETURNING id
`, it.Barcode, it.ExamYearID, it.SubjectID, it.Grade, it.DestinationCenterID,
			it.PaperCount, it.SecuritySealNumber, it.Notes,
			models.StatusCreated, models.HQ(), now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert packet")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetPacketsByIDs(ctx, ids)
}

func (s *Storage) GetPacketsByIDs(ctx context.Context, ids []uint64) ([]*models.ExamPacket, error) {
	if len(ids) == 0 {
		return []*models.ExamPacket{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+packetColumns+`
FROM exam_packets
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select packets")
	}
	defer rows.Close()

	byID := make(map[uint64]*models.ExamPacket, len(ids))
	for rows.Next() {
		p, err := scanPacket(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan packet")
		}
		byID[p.ID] = p
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	out := make([]*models.ExamPacket, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Storage) GetPacketByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error) {
	p, err := scanPacket(s.db.QueryRow(ctx, `SELECT`+packetColumns+`
FROM exam_packets
WHERE barcode = $1
`, barcode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custody.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select packet by barcode")
	}
	return p, nil
}
