package application

import (
	"context"
	"fmt"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

// HistoryService keeps a local record of per-day usage so trends survive the
// provider's own retention window.
type HistoryService struct {
	fetcher *Fetcher
	store   ports.UsageHistoryStore
	clock   ports.Clock
}

func NewHistoryService(fetcher *Fetcher, store ports.UsageHistoryStore, clock ports.Clock) *HistoryService {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &HistoryService{fetcher: fetcher, store: store, clock: clock}
}

// Sync pulls the provider's daily usage report for a service and upserts it
// into the local store, returning the entries as recorded.
func (s *HistoryService) Sync(ctx context.Context, serviceID string) ([]domain.DailyUsage, error) {
	raw, err := s.fetcher.FetchDailyUsage(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entries := make([]domain.DailyUsage, 0, len(raw.Usage))
	for _, entry := range raw.Usage {
		entries = append(entries, entry.ToDomain(serviceID, now))
	}

	if err := s.store.Record(ctx, entries); err != nil {
		return nil, fmt.Errorf("record daily usage: %w", err)
	}

	return entries, nil
}

// List returns stored entries for a service since the given day, newest
// first.
func (s *HistoryService) List(ctx context.Context, serviceID string, since time.Time) ([]domain.DailyUsage, error) {
	return s.store.List(ctx, serviceID, since)
}

// Prune drops entries recorded before now minus retention.
func (s *HistoryService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-retention)

	return s.store.DeleteOlderThan(ctx, cutoff)
}
