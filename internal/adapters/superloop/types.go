package superloop

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

// TokenGrant is the outcome of any token-issuing call. When the provider
// demands a verification code the grant carries only the pending challenge.
type TokenGrant struct {
	Session      domain.AuthSession
	RefreshToken string
	CustomerID   string
	TwoFactor    *domain.PendingTwoFactor
}

type tokenResponse struct {
	Token             string     `json:"token"`
	AccessToken       string     `json:"accessToken"`
	RefreshToken      string     `json:"refreshToken"`
	ExpiresIn         int64      `json:"expiresIn"`
	CustomerID        flexString `json:"customerId"`
	TwoFactorRequired bool       `json:"twoFactorRequired"`
	ChallengeID       string     `json:"challengeId"`
	Destination       string     `json:"destination"`
}

type apiErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ServicesResponse carries the account's service list. The provider has
// shipped both a "services" and a "broadband" top-level key across API
// revisions; both are accepted.
type ServicesResponse struct {
	Services  []Service `json:"services"`
	Broadband []Service `json:"broadband"`
}

func (r ServicesResponse) BroadbandServices() []Service {
	if len(r.Broadband) > 0 {
		return r.Broadband
	}

	return r.Services
}

type Service struct {
	ID             flexString     `json:"id"`
	Status         string         `json:"status"`
	ServiceDetails ServiceDetails `json:"serviceDetails"`
	Usage          Usage          `json:"usage"`
	BillingDetails BillingDetails `json:"billingDetails"`
}

type ServiceDetails struct {
	ServiceID         flexString `json:"serviceId"`
	ServiceType       string     `json:"serviceType"`
	DownloadSpeedMbps float64    `json:"downloadSpeedMbps"`
}

type Usage struct {
	TotalUsedMB     *float64 `json:"totalUsedMB"`
	IncludedQuotaMB *float64 `json:"includedQuotaMB"`
	LastUpdated     string   `json:"lastUpdated"`
}

type BillingDetails struct {
	PlanName       string `json:"planName"`
	Allowance      string `json:"allowance"`
	CycleStartDate string `json:"cycleStartDate"`
	CycleEndDate   string `json:"cycleEndDate"`
}

type DailyUsageResponse struct {
	Usage []DailyUsageEntry `json:"usage"`
}

type DailyUsageEntry struct {
	Date       string  `json:"date"`
	DownloadMB float64 `json:"downloadMB"`
	UploadMB   float64 `json:"uploadMB"`
	TotalMB    float64 `json:"totalMB"`
}

const dailyUsageDateLayout = "2006-01-02"

func (e DailyUsageEntry) ToDomain(serviceID string, recordedAt time.Time) domain.DailyUsage {
	day, err := time.Parse(dailyUsageDateLayout, strings.TrimSpace(e.Date))
	if err != nil {
		day = time.Time{}
	}

	total := e.TotalMB
	if total == 0 {
		total = e.DownloadMB + e.UploadMB
	}

	return domain.DailyUsage{
		ServiceID:  serviceID,
		Day:        day,
		DownloadGB: e.DownloadMB / 1024,
		UploadGB:   e.UploadMB / 1024,
		TotalGB:    total / 1024,
		RecordedAt: recordedAt,
	}
}

// flexString accepts both JSON strings and bare numbers; the provider has
// emitted customer and service identifiers in either form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = flexString(n.String())

	return nil
}

func (f flexString) String() string {
	return string(f)
}
