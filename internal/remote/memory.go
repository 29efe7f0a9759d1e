package remote

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and offline runs. Failures
// and latency can be injected.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	err     error
	delay   time.Duration
	reads   int
	writes  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put seeds or replaces a record, bumping its version.
func (s *MemoryStore) Put(rec Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[rec.UserID]
	if ok {
		rec.Version = prev.Version + 1
	} else if rec.Version == 0 {
		rec.Version = 1
	}
	rec.UpdatedAt = time.Now()
	s.records[rec.UserID] = rec
	return rec
}

// Get returns the stored record without counting a read.
func (s *MemoryStore) Get(userID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	return rec, ok
}

// SetError makes every call fail with err until cleared with nil.
func (s *MemoryStore) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes every call wait d (or until ctx is done).
func (s *MemoryStore) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Calls returns the number of reads and writes attempted.
func (s *MemoryStore) Calls() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

func (s *MemoryStore) wait(ctx context.Context) error {
	s.mu.Lock()
	delay, err := s.delay, s.err
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (s *MemoryStore) ReadBalance(ctx context.Context, userID string) (Record, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) WriteBalance(ctx context.Context, userID string, w Write) (int64, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[userID]
	switch {
	case w.IfVersion == AnyVersion:
	case !ok && w.IfVersion != 0:
		return 0, ErrVersionConflict
	case ok && prev.Version != w.IfVersion:
		return 0, ErrVersionConflict
	}

	rec := prev
	rec.UserID = userID
	rec.Balance = w.Balance
	rec.DailyGains = w.DailyGains
	rec.WindowDate = w.WindowDate
	rec.Version = prev.Version + 1
	rec.UpdatedAt = time.Now()
	if rec.Tier == "" {
		rec.Tier = "freemium"
	}
	s.records[userID] = rec
	return rec.Version, nil
}
