package custody_api

import (
	"context"
	"errors"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/services/packets"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type SyncLimiter interface {
	Allow(ctx context.Context, deviceID string) (bool, int64, error)
}

type CustodyAPI struct {
	svc     *packets.Service
	limiter SyncLimiter
}

func New(svc *packets.Service) *CustodyAPI {
	return &CustodyAPI{svc: svc}
}

// WithSyncLimiter caps SyncHandovers calls per device.
func (a *CustodyAPI) WithSyncLimiter(l SyncLimiter) *CustodyAPI {
	a.limiter = l
	return a
}

func (a *CustodyAPI) Ping(ctx context.Context, _ *PingRequest) (*PingResponse, error) {
	return &PingResponse{OK: true}, nil
}

func (a *CustodyAPI) CreatePackets(ctx context.Context, req *CreatePacketsRequest) (*CreatePacketsResponse, error) {
	ps, err := a.svc.CreatePackets(ctx, req.Items)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreatePacketsResponse{Packets: ps}, nil
}

func (a *CustodyAPI) LookupPacket(ctx context.Context, req *LookupPacketRequest) (*LookupPacketResponse, error) {
	p, err := a.svc.LookupByBarcode(ctx, req.Barcode)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LookupPacketResponse{Packet: p}, nil
}

func (a *CustodyAPI) ListHandovers(ctx context.Context, req *ListHandoversRequest) (*ListHandoversResponse, error) {
	evs, err := a.svc.ListHandovers(ctx, req.PacketID, int(req.Limit), int(req.Offset))
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListHandoversResponse{Events: evs}, nil
}

func (a *CustodyAPI) SubmitHandover(ctx context.Context, req *SubmitHandoverRequest) (*SubmitHandoverResponse, error) {
	res, err := a.svc.SubmitHandover(ctx, req.Event)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitHandoverResponse{Result: res}, nil
}

func (a *CustodyAPI) SyncHandovers(ctx context.Context, req *SyncHandoversRequest) (*SyncHandoversResponse, error) {
	if a.limiter != nil && req.DeviceID != "" {
		ok, _, err := a.limiter.Allow(ctx, req.DeviceID)
		if err != nil {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		if !ok {
			return nil, status.Error(codes.ResourceExhausted, "sync rate limit exceeded")
		}
	}
	results, err := a.svc.ApplyHandovers(ctx, req.Events)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SyncHandoversResponse{Results: results}, nil
}

func (a *CustodyAPI) RecordStatus(ctx context.Context, req *RecordStatusRequest) (*RecordStatusResponse, error) {
	res, err := a.svc.RecordStatus(ctx, req.Barcode, custody.StatusRequest{
		Status:  req.Status,
		StaffID: req.StaffID,
		Notes:   req.Notes,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &RecordStatusResponse{Result: res}, nil
}

func toStatus(err error) error {
	var invalid packets.ValidationError
	switch {
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, invalid.Error())
	case errors.Is(err, custody.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
