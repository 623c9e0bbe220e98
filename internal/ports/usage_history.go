package ports

import (
	"context"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

type UsageHistoryStore interface {
	Record(ctx context.Context, usage []domain.DailyUsage) error
	List(ctx context.Context, serviceID string, since time.Time) ([]domain.DailyUsage, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
