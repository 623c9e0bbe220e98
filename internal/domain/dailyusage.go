package domain

import "time"

// DailyUsage is one day of metered traffic for a service, as reported by the
// provider's daily usage endpoint.
type DailyUsage struct {
	ServiceID  string
	Day        time.Time
	DownloadGB float64
	UploadGB   float64
	TotalGB    float64
	RecordedAt time.Time
}
