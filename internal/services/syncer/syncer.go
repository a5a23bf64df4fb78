package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PacketCustody/internal/custody"
	"github.com/BearBump/PacketCustody/internal/metrics"
	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeEmpty   Outcome = "EMPTY"
)

// ErrSyncInProgress is returned when a sync pass is requested while one is running.
var ErrSyncInProgress = errors.New("sync already in progress")

type Submitter interface {
	SubmitHandover(ctx context.Context, ev models.HandoverEvent) (models.HandoverResult, error)
	SubmitBatch(ctx context.Context, events []models.HandoverEvent) ([]models.HandoverResult, error)
}

type Report struct {
	Outcome     Outcome           `json:"outcome"`
	Total       int               `json:"total"`
	Accepted    int               `json:"accepted"`
	Duplicates  int               `json:"duplicates"`
	Failed      int               `json:"failed"`
	AcceptedIDs []string          `json:"acceptedIds,omitempty"`
	FailedIDs   []string          `json:"failedIds,omitempty"`
	Failures    map[string]string `json:"failures,omitempty"`
	// Fallback is set when at least one batch had to be resent event by event.
	Fallback   bool      `json:"fallback"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// PartialSyncFailure lists the events that stayed in the queue after a pass.
type PartialSyncFailure struct {
	Accepted int
	Failures map[string]string
}

func (e *PartialSyncFailure) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+": "+e.Failures[id])
	}
	return fmt.Sprintf("sync left %d events queued (%d accepted): %s", len(ids), e.Accepted, strings.Join(parts, "; "))
}

// Err reports a pass that left events in the queue as *PartialSyncFailure.
func (r Report) Err() error {
	if r.Outcome != OutcomePartial && r.Outcome != OutcomeFailed {
		return nil
	}
	return &PartialSyncFailure{Accepted: r.Accepted, Failures: r.Failures}
}

type Engine struct {
	queue     queue.Queue
	submitter Submitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	batchSize int
	running   sync.Mutex

	startedAtUnixNano int64
	lastSyncUnixNano  atomic.Int64
	totalPasses       atomic.Int64
	totalAccepted     atomic.Int64
	totalFailed       atomic.Int64
	lastOutcome       atomic.Value
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(q queue.Queue, submitter Submitter) *Engine {
	return &Engine{
		queue:             q,
		submitter:         submitter,
		logger:            slog.Default(),
		tracer:            otel.Tracer("github.com/BearBump/PacketCustody/internal/services/syncer"),
		batchSize:         100,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (e *Engine) WithSettings(batchSize int) *Engine {
	if batchSize > 0 {
		e.batchSize = batchSize
	}
	return e
}

func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	LastOutcome   Outcome    `json:"lastOutcome,omitempty"`
	TotalPasses   int64      `json:"totalPasses"`
	TotalAccepted int64      `json:"totalAccepted"`
	TotalFailed   int64      `json:"totalFailed"`
	LastError     string     `json:"lastError,omitempty"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, e.startedAtUnixNano).UTC(),
		TotalPasses:   e.totalPasses.Load(),
		TotalAccepted: e.totalAccepted.Load(),
		TotalFailed:   e.totalFailed.Load(),
	}
	if n := e.lastSyncUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSyncAt = &t
	}
	if o, ok := e.lastOutcome.Load().(Outcome); ok {
		st.LastOutcome = o
	}
	e.lastErrorMu.Lock()
	st.LastError = e.lastError
	e.lastErrorMu.Unlock()
	return st
}

// Sync drains the queue once. Events go out in FIFO order, a batch at a time; if a
// batch fails at the transport level its events are resent one by one. Accepted
// events (duplicates included) leave the queue, the rest stay in place. Once an event
// of a packet fails, later events of that packet are held back for this pass.
// A rate-limited batch ends the pass: the rest of the queue waits for the next one.
func (e *Engine) Sync(ctx context.Context) (Report, error) {
	if !e.running.TryLock() {
		return Report{}, ErrSyncInProgress
	}
	defer e.running.Unlock()

	ctx, span := e.tracer.Start(ctx, "syncer.Sync")
	defer span.End()

	rep := Report{StartedAt: time.Now().UTC(), Failures: map[string]string{}}
	entries, err := e.queue.PeekAll(ctx)
	if err != nil {
		e.setLastError(err)
		span.SetStatus(codes.Error, err.Error())
		return rep, errors.Wrap(err, "read queue")
	}
	rep.Total = len(entries)

	failedPackets := make(map[uint64]struct{})
	for start := 0; start < len(entries); start += e.batchSize {
		end := min(start+e.batchSize, len(entries))
		if err := e.syncChunk(ctx, entries[start:end], failedPackets, &rep); err != nil {
			e.finish(span, &rep)
			e.setLastError(err)
			return rep, err
		}
	}

	e.finish(span, &rep)
	if n, err := e.queue.Len(ctx); err == nil {
		e.metrics.SetQueueDepth(n)
	}
	e.logger.Info("sync pass finished",
		"outcome", rep.Outcome,
		"total", rep.Total,
		"accepted", rep.Accepted,
		"duplicates", rep.Duplicates,
		"failed", rep.Failed,
		"fallback", rep.Fallback,
	)
	return rep, nil
}

func (e *Engine) syncChunk(ctx context.Context, chunk []queue.Entry, failedPackets map[uint64]struct{}, rep *Report) error {
	results := make(map[string]models.HandoverResult, len(chunk))

	// События пакета, который уже упал в этом проходе, не отправляем вовсе.
	send := make([]models.HandoverEvent, 0, len(chunk))
	for _, en := range chunk {
		if _, blocked := failedPackets[en.Event.PacketID]; blocked {
			results[en.ID()] = models.HandoverResult{ClientEventID: en.ID(), Reason: models.ReasonBlocked}
			continue
		}
		send = append(send, en.Event)
	}

	if len(send) > 0 {
		out, err := e.submitter.SubmitBatch(ctx, send)
		if errors.Is(err, custody.ErrRateLimited) {
			// Очередь не трогаем: всё уйдёт в следующем проходе.
			return errors.Wrap(err, "submit batch")
		}
		if err == nil && len(out) == len(send) {
			for i, res := range out {
				res.ClientEventID = send[i].ClientEventID
				results[res.ClientEventID] = res
			}
		} else {
			if err == nil {
				err = errors.Errorf("batch returned %d results for %d events", len(out), len(send))
			}
			e.logger.Warn("batch submit failed, falling back to single submits", "events", len(send), "err", err)
			rep.Fallback = true
			e.submitOneByOne(ctx, send, failedPackets, results)
		}
	}

	var applied []string
	failures := make(map[string]string)
	for _, en := range chunk {
		res := results[en.ID()]
		if res.Accepted {
			applied = append(applied, en.ID())
			rep.Accepted++
			rep.AcceptedIDs = append(rep.AcceptedIDs, en.ID())
			if res.Duplicate {
				rep.Duplicates++
			}
			continue
		}
		reason := res.Reason
		if reason == "" {
			reason = models.ReasonInternal
		}
		failedPackets[en.Event.PacketID] = struct{}{}
		failures[en.ID()] = reason
		rep.Failed++
		rep.FailedIDs = append(rep.FailedIDs, en.ID())
		rep.Failures[en.ID()] = reason
	}

	if err := e.queue.RemoveApplied(ctx, applied); err != nil {
		return errors.Wrap(err, "remove applied events")
	}
	if err := e.queue.MarkFailed(ctx, failures); err != nil {
		return errors.Wrap(err, "mark failed events")
	}
	return nil
}

func (e *Engine) submitOneByOne(ctx context.Context, events []models.HandoverEvent, failedPackets map[uint64]struct{}, results map[string]models.HandoverResult) {
	for _, ev := range events {
		if _, blocked := failedPackets[ev.PacketID]; blocked {
			results[ev.ClientEventID] = models.HandoverResult{ClientEventID: ev.ClientEventID, Reason: models.ReasonBlocked}
			continue
		}
		res, err := e.submitter.SubmitHandover(ctx, ev)
		if err != nil {
			res = models.HandoverResult{ClientEventID: ev.ClientEventID, Reason: custody.Reason(err)}
			e.logger.Warn("submit handover failed", "client_event_id", ev.ClientEventID, "err", err)
		}
		res.ClientEventID = ev.ClientEventID
		if !res.Accepted {
			failedPackets[ev.PacketID] = struct{}{}
		}
		results[ev.ClientEventID] = res
	}
}

func (e *Engine) finish(span trace.Span, rep *Report) {
	rep.FinishedAt = time.Now().UTC()
	switch {
	case rep.Total == 0:
		rep.Outcome = OutcomeEmpty
	case rep.Failed == 0 && rep.Accepted == rep.Total:
		rep.Outcome = OutcomeSuccess
	case rep.Accepted == 0:
		rep.Outcome = OutcomeFailed
	default:
		rep.Outcome = OutcomePartial
	}
	if len(rep.Failures) == 0 {
		rep.Failures = nil
	}

	span.SetAttributes(
		attribute.String("outcome", string(rep.Outcome)),
		attribute.Int("total", rep.Total),
		attribute.Int("accepted", rep.Accepted),
		attribute.Int("failed", rep.Failed),
	)
	e.lastSyncUnixNano.Store(rep.FinishedAt.UnixNano())
	e.lastOutcome.Store(rep.Outcome)
	e.totalPasses.Add(1)
	e.totalAccepted.Add(int64(rep.Accepted))
	e.totalFailed.Add(int64(rep.Failed))
	e.metrics.IncSync(string(rep.Outcome))
}

func (e *Engine) setLastError(err error) {
	e.lastErrorMu.Lock()
	e.lastError = err.Error()
	e.lastErrorMu.Unlock()
}
