package domain

import "time"

// UsageSnapshot is one fully normalized usage reading. Data volumes are in
// gigabytes; a nil DataLimitGB marks an unlimited plan, in which case
// DataRemainingGB is nil as well and never published.
type UsageSnapshot struct {
	ServiceID         string
	PlanName          string
	ServiceType       string
	PlanSpeedMbps     float64
	DataUsedGB        float64
	DataRemainingGB   *float64
	DataLimitGB       *float64
	UsageLastUpdated  string
	BillingCycleStart time.Time
	BillingCycleEnd   time.Time
	FetchedAt         time.Time
}

func (s UsageSnapshot) Unlimited() bool {
	return s.DataLimitGB == nil
}

// CycleContains reports whether t falls inside the billing cycle. The end
// date is inclusive through the whole day. Unknown cycle bounds are treated
// as containing any instant, so partial payloads do not read as stale.
func (s UsageSnapshot) CycleContains(t time.Time) bool {
	if s.BillingCycleStart.IsZero() || s.BillingCycleEnd.IsZero() {
		return true
	}
	if t.Before(s.BillingCycleStart) {
		return false
	}

	return t.Before(s.BillingCycleEnd.AddDate(0, 0, 1))
}

// DaysRemaining returns whole days until the billing cycle ends, never
// negative. Returns 0 when the cycle end is unknown.
func (s UsageSnapshot) DaysRemaining(now time.Time) int {
	if s.BillingCycleEnd.IsZero() {
		return 0
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := int(s.BillingCycleEnd.Sub(today).Hours() / 24)
	if days < 0 {
		return 0
	}

	return days
}
