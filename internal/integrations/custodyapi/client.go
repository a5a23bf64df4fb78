package custodyapi

import (
	"context"

	"github.com/BearBump/PacketCustody/internal/models"
)

// Client talks to the authoritative custody store from an operator device.
// Transport failures wrap custody.ErrSubmissionFailure, a throttled call wraps
// custody.ErrRateLimited, and an unknown barcode is custody.ErrNotFound.
type Client interface {
	LookupByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error)
	SubmitHandover(ctx context.Context, ev models.HandoverEvent) (models.HandoverResult, error)
	// SubmitBatch returns one result per event, in request order.
	SubmitBatch(ctx context.Context, events []models.HandoverEvent) ([]models.HandoverResult, error)
	Ping(ctx context.Context) error
}
