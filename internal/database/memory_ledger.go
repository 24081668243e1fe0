package database

import (
	"context"
	"sync"
	"time"

	"github.com/AdityaPardikar/flash-sale-platform-sub001/internal/models"
)

type memorySale struct {
	mu           sync.Mutex
	total        int
	remaining    int
	reservations map[string]models.Reservation
	// quantity per user counted against the cap: live holds plus confirmed
	bought map[string]int
	// created time of each user's last confirmed or released hold
	settled map[string]time.Time
}

// MemoryLedger implements interfaces.LedgerStore in process. Each sale has its
// own lock so operations on one sale never wait on another.
type MemoryLedger struct {
	mu    sync.RWMutex
	sales map[string]*memorySale
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sales: make(map[string]*memorySale)}
}

func (l *MemoryLedger) sale(saleID string) *memorySale {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sales[saleID]
}

func (l *MemoryLedger) InitSale(_ context.Context, saleID string, total int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sales[saleID]; ok {
		return false, nil
	}
	l.sales[saleID] = &memorySale{
		total:        total,
		remaining:    total,
		reservations: make(map[string]models.Reservation),
		bought:       make(map[string]int),
		settled:      make(map[string]time.Time),
	}
	return true, nil
}

func (l *MemoryLedger) Reserve(_ context.Context, saleID, userID string, qty, limit int, now, expiresAt time.Time) (*models.ReserveResult, error) {
	s := l.sale(saleID)
	if s == nil {
		return &models.ReserveResult{Outcome: models.ReserveSaleNotInitialized}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[userID]; ok {
		return &models.ReserveResult{Remaining: s.remaining, Outcome: models.ReserveDuplicate}, nil
	}
	if limit > 0 && s.bought[userID]+qty > limit {
		return &models.ReserveResult{Remaining: s.remaining, Outcome: models.ReserveLimitExceeded}, nil
	}
	if s.remaining < qty {
		return &models.ReserveResult{Remaining: s.remaining, Outcome: models.ReserveOutOfStock}, nil
	}

	r := models.Reservation{
		SaleID:    saleID,
		UserID:    userID,
		Quantity:  qty,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.remaining -= qty
	s.reservations[userID] = r
	s.bought[userID] += qty

	return &models.ReserveResult{
		Success:     true,
		Remaining:   s.remaining,
		Outcome:     models.ReserveOK,
		Reservation: &r,
	}, nil
}

func (l *MemoryLedger) Confirm(_ context.Context, saleID, userID string) (bool, error) {
	s := l.sale(saleID)
	if s == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[userID]
	if !ok {
		return false, nil
	}
	delete(s.reservations, userID)
	s.settled[userID] = r.CreatedAt
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, saleID, userID string) (bool, int, error) {
	s := l.sale(saleID)
	if s == nil {
		return false, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[userID]
	if !ok {
		return false, s.remaining, nil
	}
	delete(s.reservations, userID)
	s.settled[userID] = r.CreatedAt
	s.unbuy(userID, r.Quantity)
	s.remaining += r.Quantity
	if s.remaining > s.total {
		s.remaining = s.total
	}
	return true, s.remaining, nil
}

func (l *MemoryLedger) GetReservation(_ context.Context, saleID, userID string) (*models.Reservation, error) {
	s := l.sale(saleID)
	if s == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (l *MemoryLedger) Snapshot(_ context.Context, saleID string) (*models.LedgerSnapshot, error) {
	s := l.sale(saleID)
	if s == nil {
		return &models.LedgerSnapshot{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot(), nil
}

func (s *memorySale) snapshot() *models.LedgerSnapshot {
	snap := &models.LedgerSnapshot{
		Initialized:  true,
		Total:        s.total,
		Remaining:    s.remaining,
		Reservations: len(s.reservations),
	}
	for _, r := range s.reservations {
		snap.Reserved += r.Quantity
	}
	return snap
}

func (s *memorySale) unbuy(userID string, qty int) {
	s.bought[userID] -= qty
	if s.bought[userID] <= 0 {
		delete(s.bought, userID)
	}
}

func (l *MemoryLedger) Reconcile(_ context.Context, saleID string, confirmed map[string]int, holds []models.Reservation, purgeBefore time.Time) (*models.LedgerSnapshot, error) {
	s := l.sale(saleID)
	if s == nil {
		return &models.LedgerSnapshot{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range holds {
		if settled, ok := s.settled[h.UserID]; ok && !h.CreatedAt.After(settled) {
			continue
		}
		if _, ok := s.reservations[h.UserID]; !ok {
			h.SaleID = saleID
			s.reservations[h.UserID] = h
		}
	}

	purged := 0
	floor := make(map[string]int)
	for user, r := range s.reservations {
		if r.ExpiresAt.Before(purgeBefore) {
			delete(s.reservations, user)
			s.unbuy(user, r.Quantity)
			purged++
			continue
		}
		floor[user] += r.Quantity
	}

	total := 0
	for user, qty := range confirmed {
		total += qty
		floor[user] += qty
	}
	for user, qty := range floor {
		if qty > s.bought[user] {
			s.bought[user] = qty
		}
	}

	snap := s.snapshot()
	remaining := s.total - total - snap.Reserved
	if remaining < 0 {
		remaining = 0
	}
	if remaining > s.total {
		remaining = s.total
	}
	s.remaining = remaining

	snap.Remaining = remaining
	snap.Purged = purged
	return snap, nil
}

func (l *MemoryLedger) Adjust(_ context.Context, saleID string, delta int) (*models.LedgerSnapshot, error) {
	s := l.sale(saleID)
	if s == nil {
		return nil, models.ErrLedgerNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining+delta < 0 || s.total+delta < 0 {
		return nil, models.ErrInvalidAdjustment
	}
	s.total += delta
	s.remaining += delta
	return &models.LedgerSnapshot{Initialized: true, Total: s.total, Remaining: s.remaining}, nil
}
