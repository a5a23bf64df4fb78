package operator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/BearBump/PacketCustody/internal/cache/rediscache"
	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/integrations/custodyapi/fake"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/BearBump/PacketCustody/internal/queue/filequeue"
	"github.com/BearBump/PacketCustody/internal/services/syncer"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type brokenLocator struct{}

func (brokenLocator) Locate(context.Context) (*custody.GPSFix, error) {
	return nil, errors.New("no fix")
}

// failingSubmit answers pings and lookups but drops every single submit on the floor.
type failingSubmit struct {
	*fake.Store
}

func (failingSubmit) SubmitHandover(context.Context, models.HandoverEvent) (models.HandoverResult, error) {
	return models.HandoverResult{}, fmt.Errorf("connection reset: %w", custody.ErrSubmissionFailure)
}

type OperatorSuite struct {
	suite.Suite

	store *fake.Store
	q     *filequeue.Store
	svc   *Service
	ctx   context.Context
}

func (s *OperatorSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.store = fake.New()
	s.store.Seed(
		models.PacketCreateInput{Barcode: "EX-1", ExamYearID: 2026, PaperCount: 30},
		models.PacketCreateInput{Barcode: "EX-2", ExamYearID: 2026, PaperCount: 30},
	)
	s.q, err = filequeue.New(s.T().TempDir(), queue.DefaultQueueID)
	s.Require().NoError(err)
	s.svc = New(s.store, s.q)
}

func (s *OperatorSuite) queued() []string {
	entries, err := s.q.PeekAll(s.ctx)
	s.Require().NoError(err)
	return queue.IDs(entries)
}

func (s *OperatorSuite) TestOnlineHandoverSubmitsDirectly() {
	d, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().False(d.Queued)
	s.Require().NotNil(d.Result)
	s.Require().True(d.Result.Accepted)
	s.Require().Equal(models.DirectionForward, d.Event.Direction)
	s.Require().Equal(models.StatusDispatchedToRegion, d.Event.StatusAtHandover)
	s.Require().Empty(s.queued())

	p, err := s.store.LookupByBarcode(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().Equal(models.StatusDispatchedToRegion, p.Status)
}

func (s *OperatorSuite) TestOfflineDispatchThenReceiveSyncsLater() {
	_, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.store.SetOffline(true)

	d1, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().True(d1.Queued)
	s.Require().Equal(1, d1.QueueLength)

	// офлайн-скан видит состояние после собственной передачи
	scan, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().True(scan.Stale)
	s.Require().Equal(models.StatusDispatchedToRegion, scan.Packet.Status)

	d2, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeReceive, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().True(d2.Queued)
	s.Require().Equal(models.StatusAtRegion, d2.Event.StatusAtHandover)
	s.Require().Equal(models.StatusDispatchedToRegion, d2.Event.ExpectedStatus)
	s.Require().Equal([]string{d1.Event.ClientEventID, d2.Event.ClientEventID}, s.queued())

	s.store.SetOffline(false)
	rep, err := syncer.New(s.q, s.store).Sync(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(syncer.OutcomeSuccess, rep.Outcome)
	s.Require().Empty(s.queued())

	p, err := s.store.LookupByBarcode(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().Equal(models.StatusAtRegion, p.Status)
	s.Require().True(p.CurrentLocation.Equal(models.Region(7)))
}

func (s *OperatorSuite) TestPendingQueueKeepsOrderEvenWhenOnline() {
	_, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.store.SetOffline(true)
	d1, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)

	s.store.SetOffline(false)
	d2, err := s.svc.Handover(s.ctx, "EX-2", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().True(d2.Queued)
	s.Require().Equal([]string{d1.Event.ClientEventID, d2.Event.ClientEventID}, s.queued())

	_, single := s.store.Calls()
	s.Require().Zero(single)
}

func (s *OperatorSuite) TestRejectedOnlineIsSurfacedNotQueued() {
	first, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	_, err = s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)

	// событие собрано по снимку до первой передачи
	ev, err := custody.NewBuilder().Build(&first.Packet, custody.HandoverRequest{Mode: models.ModeDispatch, Target: models.Region(8)})
	s.Require().NoError(err)

	d, err := s.svc.deliver(s.ctx, first.Packet, ev)
	s.Require().NoError(err)
	s.Require().False(d.Queued)
	s.Require().False(d.Result.Accepted)
	s.Require().Equal(models.ReasonStaleBaseline, d.Result.Reason)
	s.Require().Empty(s.queued())
}

func (s *OperatorSuite) TestOnlineSubmitFailureIsReturnedNotQueued() {
	svc := New(failingSubmit{s.store}, s.q)
	_, err := svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)

	_, err = svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().ErrorIs(err, custody.ErrSubmissionFailure)
	s.Require().Empty(s.queued())

	p, err := s.store.LookupByBarcode(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().Equal(models.StatusCreated, p.Status)

	// снимок не сдвинулся: офлайн видно то же, что до попытки
	s.store.SetOffline(true)
	scan, err := svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().True(scan.Stale)
	s.Require().Equal(models.StatusCreated, scan.Packet.Status)
	s.Require().True(scan.Packet.CurrentLocation.Equal(models.HQ()))
}

func (s *OperatorSuite) TestOnlineScanIncludesOwnPendingEvents() {
	_, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.store.SetOffline(true)
	d1, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().True(d1.Queued)

	// сеть вернулась, но dispatch ещё в очереди
	s.store.SetOffline(false)
	scan, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().False(scan.Stale)
	s.Require().Equal(models.StatusDispatchedToRegion, scan.Packet.Status)
	s.Require().True(scan.Packet.CurrentLocation.Equal(models.Region(7)))

	d2, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeReceive, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().True(d2.Queued)
	s.Require().Equal(models.StatusDispatchedToRegion, d2.Event.ExpectedStatus)
	s.Require().True(d2.Event.From.Equal(models.Region(7)))
	s.Require().Equal([]string{d1.Event.ClientEventID, d2.Event.ClientEventID}, s.queued())

	rep, err := syncer.New(s.q, s.store).Sync(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(syncer.OutcomeSuccess, rep.Outcome)
	s.Require().Empty(rep.Failures)
	s.Require().Empty(s.queued())

	p, err := s.store.LookupByBarcode(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.Require().Equal(models.StatusAtRegion, p.Status)
}

func (s *OperatorSuite) TestScanErrors() {
	_, err := s.svc.Scan(s.ctx, "NOPE")
	s.Require().ErrorIs(err, custody.ErrNotFound)

	_, err = s.svc.Scan(s.ctx, "")
	s.Require().Error(err)

	s.store.SetOffline(true)
	_, err = s.svc.Scan(s.ctx, "EX-2")
	s.Require().ErrorIs(err, custody.ErrSubmissionFailure)
}

func (s *OperatorSuite) TestInvalidTargetNothingQueued() {
	_, err := s.svc.Handover(s.ctx, "EX-1", HandoverInput{
		Mode:   models.ModeDispatch,
		Target: models.LocationRef{Tier: models.TierCenter, RegionID: ptr(1)},
	})
	var incomplete *custody.IncompleteLocationSelectionError
	s.Require().ErrorAs(err, &incomplete)
	s.Require().Equal([]string{"clusterId", "centerId"}, incomplete.Missing)
	s.Require().Empty(s.queued())
}

func (s *OperatorSuite) TestGPSBestEffort() {
	svc := s.svc.WithLocator(StaticLocator{Fix: custody.GPSFix{Latitude: 9.03, Longitude: 38.74}}, time.Second)
	d, err := svc.Handover(s.ctx, "EX-1", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().NotNil(d.Event.GPSLatitude)
	s.Require().InDelta(38.74, *d.Event.GPSLongitude, 1e-9)

	svc = New(s.store, s.q).WithLocator(brokenLocator{}, 0)
	d, err = svc.Handover(s.ctx, "EX-2", HandoverInput{Mode: models.ModeDispatch, Target: models.Region(7)})
	s.Require().NoError(err)
	s.Require().Nil(d.Event.GPSLatitude)
	s.Require().True(d.Result.Accepted)
}

func (s *OperatorSuite) TestRecordStatusOffline() {
	_, err := s.svc.Scan(s.ctx, "EX-1")
	s.Require().NoError(err)
	s.store.SetOffline(true)

	d, err := s.svc.RecordStatus(s.ctx, "EX-1", StatusInput{Status: models.StatusMissing, Notes: "seal broken, box empty"})
	s.Require().NoError(err)
	s.Require().True(d.Queued)
	s.Require().Equal(models.ModeStatus, d.Event.Mode)

	_, err = s.svc.RecordStatus(s.ctx, "EX-1", StatusInput{Status: models.StatusOpened})
	s.Require().ErrorIs(err, custody.ErrInvalidTransition)
}

func (s *OperatorSuite) TestSnapshotCacheSurvivesRestart() {
	mr := miniredis.RunT(s.T())
	snaps := rediscache.New(mr.Addr())

	_, err := New(s.store, s.q).WithSnapshotCache(snaps, time.Hour).Scan(s.ctx, "EX-2")
	s.Require().NoError(err)

	s.store.SetOffline(true)
	restarted := New(s.store, s.q).WithSnapshotCache(snaps, time.Hour)
	scan, err := restarted.Scan(s.ctx, "EX-2")
	s.Require().NoError(err)
	s.Require().True(scan.Stale)
	s.Require().Equal(int32(30), scan.Packet.PaperCount)
}

func ptr(v uint64) *uint64 { return &v }

func TestOperatorSuite(t *testing.T) {
	suite.Run(t, new(OperatorSuite))
}

func TestStaticLocator(t *testing.T) {
	fix, err := StaticLocator{Fix: custody.GPSFix{Latitude: 1, Longitude: 2}}.Locate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1.0, fix.Latitude)
}
