package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/models"
)

// Store — authoritative custody store in memory, for the agent in demo mode and
// for tests. It applies events with the same rules as the Postgres store.
type Store struct {
	mu        sync.Mutex
	packets   map[uint64]*models.ExamPacket
	byBarcode map[string]uint64
	events    []models.HandoverEvent
	seen      map[string]struct{}
	nextID    uint64
	strict    bool

	offline      bool
	batchBroken  bool
	batchCalls   int
	singleCalls  int
	rejectEvents map[string]error
}

func New() *Store {
	return &Store{
		packets:      make(map[uint64]*models.ExamPacket),
		byBarcode:    make(map[string]uint64),
		seen:         make(map[string]struct{}),
		strict:       true,
		rejectEvents: make(map[string]error),
	}
}

// Seed registers packets at HQ with status CREATED.
func (s *Store) Seed(items ...models.PacketCreateInput) []*models.ExamPacket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]*models.ExamPacket, 0, len(items))
	for _, it := range items {
		if id, ok := s.byBarcode[it.Barcode]; ok {
			out = append(out, clone(s.packets[id]))
			continue
		}
		s.nextID++
		p := custody.Initial(models.ExamPacket{
			ID:                  s.nextID,
			Barcode:             it.Barcode,
			ExamYearID:          it.ExamYearID,
			SubjectID:           it.SubjectID,
			Grade:               it.Grade,
			DestinationCenterID: it.DestinationCenterID,
			PaperCount:          it.PaperCount,
			SecuritySealNumber:  it.SecuritySealNumber,
			Notes:               it.Notes,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
		s.packets[p.ID] = &p
		s.byBarcode[p.Barcode] = p.ID
		out = append(out, clone(&p))
	}
	return out
}

// SetOffline makes every call fail as if the store were unreachable.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// BreakBatch makes SubmitBatch fail at the transport level while single submits work.
func (s *Store) BreakBatch(broken bool) {
	s.mu.Lock()
	s.batchBroken = broken
	s.mu.Unlock()
}

// RejectEvent makes the store reject one clientEventId with err.
func (s *Store) RejectEvent(clientEventID string, err error) {
	s.mu.Lock()
	s.rejectEvents[clientEventID] = err
	s.mu.Unlock()
}

func (s *Store) Calls() (batch, single int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchCalls, s.singleCalls
}

func (s *Store) Events() []models.HandoverEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HandoverEvent(nil), s.events...)
}

func (s *Store) LookupByBarcode(ctx context.Context, barcode string) (*models.ExamPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, unreachable()
	}
	id, ok := s.byBarcode[barcode]
	if !ok {
		return nil, custody.ErrNotFound
	}
	return clone(s.packets[id]), nil
}

func (s *Store) SubmitHandover(ctx context.Context, ev models.HandoverEvent) (models.HandoverResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.singleCalls++
	if s.offline {
		return models.HandoverResult{}, unreachable()
	}
	return s.apply(ev), nil
}

func (s *Store) SubmitBatch(ctx context.Context, events []models.HandoverEvent) ([]models.HandoverResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	if s.offline || s.batchBroken {
		return nil, unreachable()
	}

	out := make([]models.HandoverResult, 0, len(events))
	failed := make(map[uint64]struct{})
	for _, ev := range events {
		if _, ok := failed[ev.PacketID]; ok {
			out = append(out, models.HandoverResult{ClientEventID: ev.ClientEventID, Reason: models.ReasonBlocked})
			continue
		}
		res := s.apply(ev)
		if !res.Accepted {
			failed[ev.PacketID] = struct{}{}
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return unreachable()
	}
	return nil
}

func (s *Store) apply(ev models.HandoverEvent) models.HandoverResult {
	res := models.HandoverResult{ClientEventID: ev.ClientEventID}
	if _, ok := s.seen[ev.ClientEventID]; ok {
		res.Accepted = true
		res.Duplicate = true
		return res
	}
	if err, ok := s.rejectEvents[ev.ClientEventID]; ok {
		res.Reason = custody.Reason(err)
		return res
	}
	if err := custody.ValidateEvent(ev); err != nil {
		res.Reason = custody.Reason(err)
		return res
	}
	p, ok := s.packets[ev.PacketID]
	if !ok {
		res.Reason = models.ReasonNotFound
		return res
	}
	if err := custody.Admit(*p, ev, s.strict); err != nil {
		res.Reason = custody.Reason(err)
		return res
	}

	now := time.Now().UTC()
	ev.ID = uint64(len(s.events) + 1)
	ev.AcceptedAt = &now
	s.events = append(s.events, ev)
	s.seen[ev.ClientEventID] = struct{}{}

	next := custody.Apply(*p, ev)
	next.UpdatedAt = now
	s.packets[p.ID] = &next

	res.Accepted = true
	return res
}

func unreachable() error {
	return fmt.Errorf("fake store offline: %w", custody.ErrSubmissionFailure)
}

func clone(p *models.ExamPacket) *models.ExamPacket {
	c := *p
	return &c
}
