package pgcustody

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "custody_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/custody_test?sslmode=disable"
	var st *Storage
	// postgres перезапускается после initdb, порт открывается раньше готовности
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)
	return st
}

func TestPGCustody_RepoFlow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	b := custody.NewBuilder()

	created, err := st.CreateOrGetPackets(ctx, []models.PacketCreateInput{
		{Barcode: "EX-0001", ExamYearID: 2026, SubjectID: 3, Grade: 12, DestinationCenterID: 9, PaperCount: 40},
		{Barcode: "EX-0002", ExamYearID: 2026, SubjectID: 4, Grade: 12, DestinationCenterID: 9, PaperCount: 35},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.NotZero(t, created[0].ID)
	require.Equal(t, models.StatusCreated, created[0].Status)
	require.True(t, created[0].CurrentLocation.Equal(models.HQ()))

	// повторная регистрация не сбрасывает пакет
	again, err := st.CreateOrGetPackets(ctx, []models.PacketCreateInput{{Barcode: "EX-0001", ExamYearID: 2026}})
	require.NoError(t, err)
	require.Equal(t, created[0].ID, again[0].ID)
	require.Equal(t, int32(40), again[0].PaperCount)

	p, err := st.GetPacketByBarcode(ctx, "EX-0001")
	require.NoError(t, err)

	ev, err := b.Build(p, custody.HandoverRequest{Mode: models.ModeDispatch, Target: models.Region(7)})
	require.NoError(t, err)
	res, err := st.ApplyHandover(ctx, ev)
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.NotZero(t, res.Event.ID)
	require.NotNil(t, res.Event.AcceptedAt)
	require.Equal(t, models.StatusDispatchedToRegion, res.Packet.Status)
	require.True(t, res.Packet.CurrentLocation.Equal(models.Region(7)))

	// тот же clientEventId второй раз
	dup, err := st.ApplyHandover(ctx, ev)
	require.NoError(t, err)
	require.True(t, dup.Duplicate)
	require.Equal(t, res.Event.ID, dup.Event.ID)

	// событие, собранное по старому состоянию
	_, err = st.ApplyHandover(ctx, mustBuild(t, b, p, models.ModeDispatch, models.Region(8)))
	require.ErrorIs(t, err, custody.ErrStaleBaseline)

	p, err = st.GetPacketByBarcode(ctx, "EX-0001")
	require.NoError(t, err)
	require.Equal(t, models.StatusDispatchedToRegion, p.Status)
	require.NotNil(t, p.LastHandoverAt)

	recv := mustBuild(t, b, p, models.ModeReceive, models.Region(7))
	res, err = st.ApplyHandover(ctx, recv)
	require.NoError(t, err)
	require.Equal(t, models.StatusAtRegion, res.Packet.Status)

	evs, err := st.ListHandovers(ctx, p.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, ev.ClientEventID, evs[0].ClientEventID)
	require.Equal(t, recv.ClientEventID, evs[1].ClientEventID)
	require.True(t, evs[1].To.Equal(models.Region(7)))

	// состояние пакета совпадает со сверткой журнала
	var replay []models.HandoverEvent
	for _, e := range evs {
		replay = append(replay, *e)
	}
	folded := custody.Fold(custody.Initial(*p), replay)
	stored, err := st.GetPacketsByIDs(ctx, []uint64{p.ID})
	require.NoError(t, err)
	require.Equal(t, folded.Status, stored[0].Status)
	require.True(t, folded.CurrentLocation.Equal(stored[0].CurrentLocation))
}

func TestPGCustody_Rejections(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()
	b := custody.NewBuilder()

	_, err := st.GetPacketByBarcode(ctx, "missing")
	require.ErrorIs(t, err, custody.ErrNotFound)

	ghost := &models.ExamPacket{ID: 999999, Status: models.StatusCreated, CurrentLocation: models.HQ()}
	_, err = st.ApplyHandover(ctx, mustBuild(t, b, ghost, models.ModeDispatch, models.Region(1)))
	require.ErrorIs(t, err, custody.ErrNotFound)

	created, err := st.CreateOrGetPackets(ctx, []models.PacketCreateInput{{Barcode: "EX-0100", ExamYearID: 2026}})
	require.NoError(t, err)
	p := created[0]

	// MISSING можно отметить из любого статуса, кроме COMPLETED
	missing, err := b.BuildStatus(p, custody.StatusRequest{Status: models.StatusMissing})
	require.NoError(t, err)
	res, err := st.ApplyHandover(ctx, missing)
	require.NoError(t, err)
	require.Equal(t, models.StatusMissing, res.Packet.Status)

	opened := missing
	opened.ClientEventID = "opened-from-missing"
	opened.ExpectedStatus = models.StatusMissing
	opened.StatusAtHandover = models.StatusOpened
	_, err = st.ApplyHandover(ctx, opened)
	require.ErrorIs(t, err, custody.ErrInvalidTransition)

	evs, err := st.ListHandovers(ctx, p.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestPGCustody_LenientBaseline(t *testing.T) {
	st := startStorage(t)
	st.WithStrictBaseline(false)
	ctx := context.Background()
	b := custody.NewBuilder()

	created, err := st.CreateOrGetPackets(ctx, []models.PacketCreateInput{{Barcode: "EX-0200", ExamYearID: 2026}})
	require.NoError(t, err)
	p := created[0]

	first := mustBuild(t, b, p, models.ModeDispatch, models.Region(7))
	second := mustBuild(t, b, p, models.ModeDispatch, models.Region(8))
	_, err = st.ApplyHandover(ctx, first)
	require.NoError(t, err)
	res, err := st.ApplyHandover(ctx, second)
	require.NoError(t, err)
	require.True(t, res.Packet.CurrentLocation.Equal(models.Region(8)))
}

func mustBuild(t *testing.T, b *custody.Builder, p *models.ExamPacket, mode models.HandoverMode, to models.LocationRef) models.HandoverEvent {
	t.Helper()
	ev, err := b.Build(p, custody.HandoverRequest{Mode: mode, Target: to})
	require.NoError(t, err)
	return ev
}
