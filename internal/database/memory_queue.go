package database

import (
	"context"
	"sync"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/orderedindex"
)

type memorySaleQueue struct {
	mu         sync.Mutex
	seq        int64
	waiting    *orderedindex.SkipList
	entries    map[string]*models.QueueEntry
	admissions []time.Time
}

// MemoryQueue implements interfaces.QueueStore in process, ordering waiting
// entries in a skip list keyed by (join time, sequence).
type MemoryQueue struct {
	mu    sync.Mutex
	sales map[string]*memorySaleQueue
}

// NewMemoryQueue creates an empty in-memory queue store
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{sales: make(map[string]*memorySaleQueue)}
}

func (q *MemoryQueue) sale(saleID string) *memorySaleQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.sales[saleID]
	if !ok {
		s = &memorySaleQueue{
			waiting: orderedindex.New(),
			entries: make(map[string]*models.QueueEntry),
		}
		q.sales[saleID] = s
	}
	return s
}

func entryKey(e *models.QueueEntry) orderedindex.Key {
	return orderedindex.Key{At: e.JoinedAt.UnixNano(), Seq: e.Sequence}
}

func (q *MemoryQueue) Join(_ context.Context, saleID, userID string, now time.Time) (*models.QueueEntry, bool, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[userID]; ok && !e.Status.IsTerminal() {
		if e.Status == models.QueueStatusWaiting {
			e.LastSeenAt = now
		}
		out := *e
		return &out, false, nil
	}

	s.seq++
	e := &models.QueueEntry{
		SaleID:     saleID,
		UserID:     userID,
		JoinedAt:   now,
		Sequence:   s.seq,
		LastSeenAt: now,
		Status:     models.QueueStatusWaiting,
	}
	s.entries[userID] = e
	s.waiting.Insert(entryKey(e), userID)

	out := *e
	return &out, true, nil
}

func (q *MemoryQueue) Get(_ context.Context, saleID, userID string) (*models.QueueEntry, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (q *MemoryQueue) Rank(_ context.Context, saleID, userID string) (int, int, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.waiting.Len()
	e, ok := s.entries[userID]
	if !ok || e.Status != models.QueueStatusWaiting {
		return -1, total, nil
	}
	return s.waiting.Rank(entryKey(e)), total, nil
}

func (q *MemoryQueue) Touch(_ context.Context, saleID, userID string, now time.Time) error {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[userID]; ok && e.Status == models.QueueStatusWaiting {
		e.LastSeenAt = now
	}
	return nil
}

func (q *MemoryQueue) SetStatus(_ context.Context, saleID, userID string, status models.QueueStatus, now time.Time) (bool, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return false, nil
	}
	s.setStatus(e, status, now)
	return true, nil
}

func (s *memorySaleQueue) setStatus(e *models.QueueEntry, status models.QueueStatus, now time.Time) {
	wasWaiting := e.Status == models.QueueStatusWaiting
	e.Status = status
	e.LastSeenAt = now

	switch {
	case wasWaiting && status != models.QueueStatusWaiting:
		s.waiting.Delete(entryKey(e))
	case !wasWaiting && status == models.QueueStatusWaiting:
		s.waiting.Insert(entryKey(e), e.UserID)
	}
}

func (q *MemoryQueue) WaitingCount(_ context.Context, saleID string) (int, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting.Len(), nil
}

func (q *MemoryQueue) EvictIdle(_ context.Context, saleID string, idleBefore, now time.Time) (int, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var idle []*models.QueueEntry
	s.waiting.Ascend(func(_ orderedindex.Key, user string) bool {
		if e := s.entries[user]; e.LastSeenAt.Before(idleBefore) {
			idle = append(idle, e)
		}
		return true
	})
	for _, e := range idle {
		s.setStatus(e, models.QueueStatusDropped, now)
	}
	return len(idle), nil
}

func (q *MemoryQueue) RecordAdmission(_ context.Context, saleID, _ string, at time.Time) error {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-admissionRetention)
	kept := s.admissions[:0]
	for _, t := range s.admissions {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	s.admissions = append(kept, at)
	return nil
}

func (q *MemoryQueue) CountAdmissionsSince(_ context.Context, saleID string, since time.Time) (int, error) {
	s := q.sale(saleID)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.admissions {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

// MemoryLease grants every request; a single process has nobody to share with.
type MemoryLease struct{}

func (MemoryLease) Acquire(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}
