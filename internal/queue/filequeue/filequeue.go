package filequeue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BearBump/PacketCustody/internal/models"
	"github.com/BearBump/PacketCustody/internal/queue"
	"github.com/pkg/errors"
)

const fileVersion = 1

type fileState struct {
	Version int           `json:"version"`
	QueueID string        `json:"queueId"`
	Entries []queue.Entry `json:"entries"`
}

// Store keeps the queue in one JSON file. Every mutation rewrites the file
// through a temp file and rename, so a crash leaves either the old or the new queue.
type Store struct {
	path    string
	queueID string
	mu      sync.Mutex
	now     func() time.Time
}

func New(dir, queueID string) (*Store, error) {
	if queueID == "" {
		queueID = queue.DefaultQueueID
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create queue dir")
	}
	return &Store{
		path:    filepath.Join(dir, queueID+".json"),
		queueID: queueID,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Enqueue(_ context.Context, ev models.HandoverEvent) error {
	if ev.ClientEventID == "" {
		return errors.New("clientEventId is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID() == ev.ClientEventID {
			return nil
		}
	}
	entries = append(entries, queue.Entry{Event: ev, EnqueuedAt: s.now()})
	return s.save(entries)
}

func (s *Store) PeekAll(_ context.Context) ([]queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) RemoveApplied(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := entries[:0]
	for _, e := range entries {
		if _, ok := drop[e.ID()]; ok {
			continue
		}
		kept = append(kept, e)
	}
	return s.save(kept)
}

func (s *Store) MarkFailed(_ context.Context, reasons map[string]string) error {
	if len(reasons) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for i := range entries {
		if reason, ok := reasons[entries[i].ID()]; ok {
			entries[i].Attempts++
			entries[i].LastError = reason
		}
	}
	return s.save(entries)
}

func (s *Store) Len(ctx context.Context) (int, error) {
	entries, err := s.PeekAll(ctx)
	return len(entries), err
}

func (s *Store) load() ([]queue.Entry, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read queue file")
	}
	if len(b) == 0 {
		return nil, nil
	}
	var st fileState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, errors.Wrap(err, "decode queue file")
	}
	return st.Entries, nil
}

func (s *Store) save(entries []queue.Entry) error {
	if entries == nil {
		entries = []queue.Entry{}
	}
	b, err := json.MarshalIndent(fileState{Version: fileVersion, QueueID: s.queueID, Entries: entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode queue")
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "open temp queue file")
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write temp queue file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "sync temp queue file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp queue file")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace queue file")
}
