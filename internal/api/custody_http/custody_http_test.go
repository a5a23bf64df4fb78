package custody_http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/PacketCustody/internal/cache/rediscache"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi/httpclient"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/services/packets"
	packetsmocks "github.com/BearBump/PacketCustody/internal/services/packets/mocks"
	"github.com/BearBump/PacketCustody/internal/storage/pgcustody"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"status":"ok"}`)) })
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_AgentClientRoundTrip(t *testing.T) {
	repo := &packetsmocks.MockRepository{}
	srv := newServer(t, New(packets.New(repo, nil, 0)))
	c := httpclient.New(srv.URL, "tab-1", time.Second)
	ctx := context.Background()

	p := &models.ExamPacket{ID: 4, Barcode: "EX-4", Status: models.StatusAtRegion, CurrentLocation: models.Region(1)}
	repo.On("GetPacketByBarcode", mock.Anything, "EX-4").Return(p, nil)
	repo.On("GetPacketByBarcode", mock.Anything, "EX-0").Return(nil, custody.ErrNotFound)

	got, err := c.LookupByBarcode(ctx, "EX-4")
	require.NoError(t, err)
	require.Equal(t, p.Barcode, got.Barcode)

	_, err = c.LookupByBarcode(ctx, "EX-0")
	require.ErrorIs(t, err, custody.ErrNotFound)

	ev1, err := custody.NewBuilder().Build(p, custody.HandoverRequest{Mode: models.ModeDispatch, Target: models.Cluster(1, 2)})
	require.NoError(t, err)
	moved := custody.Apply(*p, ev1)
	ev2, err := custody.NewBuilder().Build(&moved, custody.HandoverRequest{Mode: models.ModeReceive, Target: models.Cluster(1, 2)})
	require.NoError(t, err)

	repo.On("ApplyHandover", mock.Anything, mock.MatchedBy(func(e models.HandoverEvent) bool { return e.ClientEventID == ev1.ClientEventID })).
		Return(pgcustody.ApplyResult{Event: ev1, Packet: moved}, nil)
	repo.On("ApplyHandover", mock.Anything, mock.MatchedBy(func(e models.HandoverEvent) bool { return e.ClientEventID == ev2.ClientEventID })).
		Return(pgcustody.ApplyResult{}, custody.ErrStaleBaseline)

	res, err := c.SubmitHandover(ctx, ev1)
	require.NoError(t, err)
	require.True(t, res.Accepted)

	out, err := c.SubmitBatch(ctx, []models.HandoverEvent{ev1, ev2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.True(t, out[0].Accepted)
	require.False(t, out[1].Accepted)
	require.Equal(t, models.ReasonStaleBaseline, out[1].Reason)

	require.NoError(t, c.Ping(ctx))
}

func TestHandler_BatchRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := rediscache.NewRateLimiter(rediscache.New(mr.Addr()).Client(), 2, time.Minute)
	srv := newServer(t, New(packets.New(&packetsmocks.MockRepository{}, nil, 0)).WithSyncLimiter(rl, nil))

	post := func(device string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/handovers/batch", strings.NewReader(`{"events":[]}`))
		require.NoError(t, err)
		req.Header.Set(DeviceHeader, device)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, post("tab-1"))
	require.Equal(t, http.StatusOK, post("tab-1"))
	require.Equal(t, http.StatusTooManyRequests, post("tab-1"))
	require.Equal(t, http.StatusOK, post("tab-2"))
}

func TestHandler_Errors(t *testing.T) {
	repo := &packetsmocks.MockRepository{}
	srv := newServer(t, New(packets.New(repo, nil, 0)))

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"bad json", http.MethodPost, "/v1/handovers", `{`, http.StatusBadRequest},
		{"empty create", http.MethodPost, "/v1/packets", `{"items":[]}`, http.StatusBadRequest},
		{"bad packet id", http.MethodGet, "/v1/packets/abc/handovers", ``, http.StatusBadRequest},
		{"zero packet id", http.MethodGet, "/v1/packets/0/handovers", ``, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.code, resp.StatusCode)
		})
	}

	repo.On("ListHandovers", mock.Anything, uint64(7), 10, 0).Return([]*models.HandoverEvent(nil), context.DeadlineExceeded).Once()
	resp, err := http.Get(srv.URL + "/v1/packets/7/handovers?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandler_RecordStatus(t *testing.T) {
	repo := &packetsmocks.MockRepository{}
	srv := newServer(t, New(packets.New(repo, nil, 0)))

	p := &models.ExamPacket{ID: 2, Barcode: "EX-2", Status: models.StatusAtCenter, CurrentLocation: models.Center(1, 2, 3)}
	repo.On("GetPacketByBarcode", mock.Anything, "EX-2").Return(p, nil)
	repo.On("ApplyHandover", mock.Anything, mock.MatchedBy(func(e models.HandoverEvent) bool {
		return e.Mode == models.ModeStatus && e.StatusAtHandover == models.StatusOpened
	})).Return(pgcustody.ApplyResult{Packet: models.ExamPacket{ID: 2, Barcode: "EX-2", Status: models.StatusOpened}}, nil).Once()

	resp, err := http.Post(srv.URL+"/v1/packets/barcode/EX-2/status", "application/json", strings.NewReader(`{"status":"OPENED"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	repo.AssertExpectations(t)
}
