package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/pkg/errors"
)

// DeviceHeader identifies the operator device for the per-device sync limit.
const DeviceHeader = "X-Device-ID"

type Client struct {
	baseURL  string
	deviceID string
	httpc    *http.Client
}

func New(baseURL, deviceID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type batchRequest struct {
	Events []models.HandoverEvent `json:"events"`
}

type batchResponse struct {
	Results []models.HandoverResult `json:"results"`
}

func (c *Client) LookupByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error) {
	var p models.ExamPacket
	if err := c.do(ctx, http.MethodGet, "/v1/packets/barcode/"+url.PathEscape(barcode), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) SubmitHandover(ctx context.Context, ev models.HandoverEvent) (models.HandoverResult, error) {
	var res models.HandoverResult
	if err := c.do(ctx, http.MethodPost, "/v1/handovers", ev, &res); err != nil {
		return models.HandoverResult{}, err
	}
	return res, nil
}

func (c *Client) SubmitBatch(ctx context.Context, events []models.HandoverEvent) ([]models.HandoverResult, error) {
	var resp batchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/handovers/batch", batchRequest{Events: events}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(events) {
		return nil, fmt.Errorf("%w: %d results for %d events", custody.ErrSubmissionFailure, len(resp.Results), len(events))
	}
	return resp.Results, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return errors.Wrap(err, "build url")
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set(DeviceHeader, c.deviceID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", custody.ErrSubmissionFailure, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet && path != "/healthz":
		return custody.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: %s", custody.ErrRateLimited, method, path, bytes.TrimSpace(msg))
	case resp.StatusCode/100 != 2:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: custody api http %d: %s", custody.ErrSubmissionFailure, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", custody.ErrSubmissionFailure, err)
	}
	return nil
}
