package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

// DefaultPollInterval matches the provider's own portal refresh cadence.
const DefaultPollInterval = 15 * time.Minute

// Update is what consumers receive after every refresh attempt. On failure
// Snapshot carries the last-good reading (if any) and Stale is set; Err
// explains why the attempt failed.
type Update struct {
	Snapshot *domain.UsageSnapshot
	Err      error
	Stale    bool
	At       time.Time
}

type CoordinatorOptions struct {
	Interval time.Duration
	Clock    ports.Clock
	Logger   *slog.Logger
}

// Coordinator drives the poll cycle for one account: valid session, fetch,
// normalize, publish. Failures never tear the account down; the previous
// snapshot keeps being served, marked stale, until a cycle succeeds.
type Coordinator struct {
	fetcher  *Fetcher
	clock    ports.Clock
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	inflight *inflightRefresh
	current  *domain.UsageSnapshot
	previous *domain.UsageSnapshot
	lastErr  error

	subMu       sync.Mutex
	subscribers []chan Update
}

type inflightRefresh struct {
	done     chan struct{}
	snapshot domain.UsageSnapshot
	err      error
}

func NewCoordinator(fetcher *Fetcher, opts CoordinatorOptions) *Coordinator {
	clock := opts.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Coordinator{
		fetcher:  fetcher,
		clock:    clock,
		logger:   logger,
		interval: interval,
	}
}

// Refresh runs one poll cycle. A refresh requested while another is in
// flight awaits the in-flight result instead of issuing a second outbound
// call, so re-authentication attempts never race each other.
func (c *Coordinator) Refresh(ctx context.Context) (domain.UsageSnapshot, error) {
	c.mu.Lock()
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()

		select {
		case <-call.done:
			return call.snapshot, call.err
		case <-ctx.Done():
			return domain.UsageSnapshot{}, ctx.Err()
		}
	}

	call := &inflightRefresh{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	snapshot, err := c.doRefresh(ctx)
	call.snapshot, call.err = snapshot, err

	c.mu.Lock()
	c.inflight = nil
	c.lastErr = err
	if err == nil {
		if c.current != nil {
			previous := *c.current
			c.previous = &previous
		}
		stored := snapshot
		c.current = &stored
	}
	update := c.currentUpdateLocked()
	c.mu.Unlock()

	close(call.done)
	c.publish(update)

	return snapshot, err
}

func (c *Coordinator) doRefresh(ctx context.Context) (domain.UsageSnapshot, error) {
	raw, err := c.fetcher.FetchServices(ctx)
	if err != nil {
		return domain.UsageSnapshot{}, err
	}

	return Normalize(raw, c.clock.Now())
}

// Current returns the most recent snapshot and whether it should be treated
// as stale: the last refresh failed, or the billing cycle no longer brackets
// the present moment.
func (c *Coordinator) Current() (*domain.UsageSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, true
	}

	snapshot := *c.current

	return &snapshot, c.lastErr != nil || !snapshot.CycleContains(c.clock.Now())
}

// Previous returns the retained fallback snapshot, if any.
func (c *Coordinator) Previous() *domain.UsageSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.previous == nil {
		return nil
	}
	snapshot := *c.previous

	return &snapshot
}

// Subscribe registers a consumer channel. Slow consumers miss updates
// rather than blocking the poll cycle.
func (c *Coordinator) Subscribe(buffer int) <-chan Update {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()

	return ch
}

// Run polls on a fixed interval until ctx is cancelled. Out-of-band
// Refresh calls coalesce with the scheduled ones and do not reset the
// timer. Refresh failures are reported to subscribers and logged, never
// returned: only cancellation stops the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("usage refresh failed, serving stale snapshot", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) currentUpdateLocked() Update {
	update := Update{
		Err: c.lastErr,
		At:  c.clock.Now(),
	}
	if c.current != nil {
		snapshot := *c.current
		update.Snapshot = &snapshot
		update.Stale = c.lastErr != nil || !snapshot.CycleContains(update.At)
	} else {
		update.Stale = true
	}

	return update
}

func (c *Coordinator) publish(update Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}
