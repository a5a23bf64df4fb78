// Package queue holds the offline handover queue shared by its durable backends.
// The queue is the only record of an event until the store confirms it, so every
// backend must survive process restarts and keep submission order.
package queue

import (
	"context"
	"time"

	"github.com/BearBump/PacketCustody/internal/models"
)

// DefaultQueueID names the queue of a device that runs a single operator agent.
const DefaultQueueID = "handovers"

type Entry struct {
	Event      models.HandoverEvent `json:"event"`
	EnqueuedAt time.Time            `json:"enqueuedAt"`
	Attempts   int                  `json:"attempts"`
	LastError  string               `json:"lastError,omitempty"`
}

func (e Entry) ID() string { return e.Event.ClientEventID }

// IDs returns the clientEventIds of entries in queue order.
func IDs(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID())
	}
	return out
}

// Queue is implemented by filequeue.Store and redisqueue.Queue.
type Queue interface {
	// Enqueue appends ev unless an entry with the same clientEventId is already queued.
	Enqueue(ctx context.Context, ev models.HandoverEvent) error
	// PeekAll returns every entry in FIFO order without removing anything.
	PeekAll(ctx context.Context) ([]Entry, error)
	RemoveApplied(ctx context.Context, ids []string) error
	// MarkFailed records a failed attempt keyed by clientEventId; order is kept.
	MarkFailed(ctx context.Context, reasons map[string]string) error
	Len(ctx context.Context) (int, error)
}
