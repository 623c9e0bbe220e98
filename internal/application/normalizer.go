package application

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
	"github.com/thatwebagency/ha-superloop/internal/domain"
)

const cycleDateLayout = "2006-01-02"

// Normalize maps a raw services payload onto a canonical usage snapshot.
// Missing numeric fields default to a zero baseline rather than failing the
// snapshot; only a payload without a service identifier or without a single
// usage figure is rejected as malformed.
func Normalize(raw superloop.ServicesResponse, now time.Time) (domain.UsageSnapshot, error) {
	services := raw.BroadbandServices()
	if len(services) == 0 {
		return domain.UsageSnapshot{}, fmt.Errorf("%w: no services in payload", domain.ErrMalformedPayload)
	}

	service := pickService(services)

	serviceID := service.ServiceDetails.ServiceID.String()
	if serviceID == "" {
		serviceID = service.ID.String()
	}
	if serviceID == "" {
		return domain.UsageSnapshot{}, fmt.Errorf("%w: missing service identifier", domain.ErrMalformedPayload)
	}
	if service.Usage.TotalUsedMB == nil && service.Usage.IncludedQuotaMB == nil {
		return domain.UsageSnapshot{}, fmt.Errorf("%w: no usage figures for service %s", domain.ErrMalformedPayload, serviceID)
	}

	usedMB := 0.0
	if service.Usage.TotalUsedMB != nil {
		usedMB = *service.Usage.TotalUsedMB
	}

	snapshot := domain.UsageSnapshot{
		ServiceID:         serviceID,
		PlanName:          service.BillingDetails.PlanName,
		ServiceType:       service.ServiceDetails.ServiceType,
		PlanSpeedMbps:     service.ServiceDetails.DownloadSpeedMbps,
		DataUsedGB:        roundGB(usedMB),
		UsageLastUpdated:  service.Usage.LastUpdated,
		BillingCycleStart: parseCycleDate(service.BillingDetails.CycleStartDate),
		BillingCycleEnd:   parseCycleDate(service.BillingDetails.CycleEndDate),
		FetchedAt:         now,
	}

	if !unlimitedAllowance(service.BillingDetails.Allowance) && service.Usage.IncludedQuotaMB != nil && *service.Usage.IncludedQuotaMB > 0 {
		quotaMB := *service.Usage.IncludedQuotaMB
		limit := roundGB(quotaMB)
		remaining := roundGB(math.Max(0, quotaMB-usedMB))
		snapshot.DataLimitGB = &limit
		snapshot.DataRemainingGB = &remaining
	}

	return snapshot, nil
}

// pickService prefers the ACTIVE broadband service, otherwise the first.
func pickService(services []superloop.Service) superloop.Service {
	for _, service := range services {
		if strings.EqualFold(strings.TrimSpace(service.Status), "ACTIVE") {
			return service
		}
	}

	return services[0]
}

func unlimitedAllowance(allowance string) bool {
	return strings.Contains(strings.ToLower(allowance), "unlimited")
}

func parseCycleDate(raw string) time.Time {
	parsed, err := time.Parse(cycleDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func roundGB(mb float64) float64 {
	return math.Round(mb/1024*100) / 100
}
