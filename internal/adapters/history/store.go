package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

const (
	dayLayout = "2006-01-02"
)

// Store keeps per-day usage readings in a local SQLite database. Each
// service/day pair is unique; re-recording a day replaces the figures, so
// repeated syncs converge instead of duplicating rows.
type Store struct {
	db *sql.DB
}

var _ ports.UsageHistoryStore = (*Store)(nil)

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(dbPath, 0o600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set db perms: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS daily_usage (
    id TEXT PRIMARY KEY,
    service_id TEXT NOT NULL,
    day TEXT NOT NULL,
    download_gb REAL NOT NULL DEFAULT 0,
    upload_gb REAL NOT NULL DEFAULT 0,
    total_gb REAL NOT NULL DEFAULT 0,
    recorded_at DATETIME NOT NULL,
    UNIQUE(service_id, day)
);
CREATE INDEX IF NOT EXISTS idx_daily_usage_service_day ON daily_usage(service_id, day);
CREATE INDEX IF NOT EXISTS idx_daily_usage_recorded_at ON daily_usage(recorded_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, usage []domain.DailyUsage) error {
	if len(usage) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
INSERT INTO daily_usage (id, service_id, day, download_gb, upload_gb, total_gb, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(service_id, day) DO UPDATE SET
    download_gb = excluded.download_gb,
    upload_gb = excluded.upload_gb,
    total_gb = excluded.total_gb,
    recorded_at = excluded.recorded_at
`
	for _, entry := range usage {
		if entry.ServiceID == "" || entry.Day.IsZero() {
			return fmt.Errorf("%w: usage entry missing service or day", domain.ErrMalformedPayload)
		}
		if _, err := tx.ExecContext(ctx, query,
			ulid.Make().String(),
			entry.ServiceID,
			entry.Day.UTC().Format(dayLayout),
			entry.DownloadGB,
			entry.UploadGB,
			entry.TotalGB,
			entry.RecordedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("insert usage for %s %s: %w", entry.ServiceID, entry.Day.Format(dayLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, serviceID string, since time.Time) ([]domain.DailyUsage, error) {
	where := []string{"service_id = ?"}
	args := []any{serviceID}
	if !since.IsZero() {
		where = append(where, "day >= ?")
		args = append(args, since.UTC().Format(dayLayout))
	}

	query := `SELECT service_id, day, download_gb, upload_gb, total_gb, recorded_at
FROM daily_usage
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY day DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.DailyUsage{}
	for rows.Next() {
		var entry domain.DailyUsage
		var day, recordedAt string
		if err := rows.Scan(&entry.ServiceID, &day, &entry.DownloadGB, &entry.UploadGB, &entry.TotalGB, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		entry.Day, _ = time.Parse(dayLayout, day)
		entry.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, entry)
	}

	return out, rows.Err()
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM daily_usage WHERE recorded_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete old usage: %w", err)
	}

	dropped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted usage rows: %w", err)
	}
	return dropped, nil
}
