package grpcclient

import (
	"context"
	"fmt"
	"time"

	custodyapi "github.com/BearBump/PacketCustody/internal/api/custody_api"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type Client struct {
	conn     *grpc.ClientConn
	api      *custodyapi.CustodyServiceClient
	deviceID string
	timeout  time.Duration
}

func New(addr, deviceID string, timeout time.Duration) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrap(err, "dial custody grpc")
	}
	return NewWithConn(conn, deviceID, timeout), nil
}

func NewWithConn(conn *grpc.ClientConn, deviceID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		conn:     conn,
		api:      custodyapi.NewCustodyServiceClient(conn),
		deviceID: deviceID,
		timeout:  timeout,
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) LookupByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.LookupPacket(ctx, &custodyapi.LookupPacketRequest{Barcode: barcode})
	if err != nil {
		return nil, fromStatus("LookupPacket", err)
	}
	if resp.Packet == nil {
		return nil, custody.ErrNotFound
	}
	return resp.Packet, nil
}

func (c *Client) SubmitHandover(ctx context.Context, ev models.HandoverEvent) (models.HandoverResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.SubmitHandover(ctx, &custodyapi.SubmitHandoverRequest{Event: ev})
	if err != nil {
		return models.HandoverResult{}, fromStatus("SubmitHandover", err)
	}
	return resp.Result, nil
}

func (c *Client) SubmitBatch(ctx context.Context, events []models.HandoverEvent) ([]models.HandoverResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.SyncHandovers(ctx, &custodyapi.SyncHandoversRequest{DeviceID: c.deviceID, Events: events})
	if err != nil {
		return nil, fromStatus("SyncHandovers", err)
	}
	if len(resp.Results) != len(events) {
		return nil, fmt.Errorf("%w: %d results for %d events", custody.ErrSubmissionFailure, len(resp.Results), len(events))
	}
	return resp.Results, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.api.Ping(ctx, &custodyapi.PingRequest{}); err != nil {
		return fromStatus("Ping", err)
	}
	return nil
}

func fromStatus(method string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return custody.ErrNotFound
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: %s: %v", custody.ErrRateLimited, method, err)
	}
	return fmt.Errorf("%w: %s: %v", custody.ErrSubmissionFailure, method, err)
}
