package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

// Status is one account's renderable state: its configuration, the latest
// snapshot if any, and whether that snapshot should be flagged stale.
type Status struct {
	Account  domain.Account
	Snapshot *domain.UsageSnapshot
	Stale    bool
	Err      error
}

type RenderOptions struct {
	Now time.Time
}

func renderView(statuses []Status, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Superloop Broadband Usage"),
		s.header.Render(fmt.Sprintf("accounts: %d", len(statuses))),
	}

	if len(statuses) == 0 {
		lines = append(lines, s.empty.Render("No accounts configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, status := range statuses {
		lines = append(lines, s.section.Render(renderAccount(status, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(status Status, opts RenderOptions, s styles) string {
	parts := []string{
		s.account.Render(accountTitle(status.Account)),
	}

	if status.Err != nil {
		parts = append(parts, s.warning.Render(fmt.Sprintf("error: %v", status.Err)))
	}

	if status.Snapshot == nil {
		parts = append(parts, s.empty.Render("no usage data yet"))
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	snapshot := *status.Snapshot
	parts = append(parts, s.detail.Render(planLine(snapshot)))
	parts = append(parts, usageLine(snapshot, opts, s, status.Stale))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func accountTitle(account domain.Account) string {
	email := strings.TrimSpace(account.Email)
	if email == "" {
		return fmt.Sprintf("Account: %s", account.ID)
	}

	return fmt.Sprintf("Account: %s (%s)", email, loginLabel(account.Method))
}

func loginLabel(method domain.LoginMethod) string {
	switch method {
	case domain.LoginMethodPassword:
		return "password"
	case domain.LoginMethodBrowser:
		return "browser"
	default:
		return "unknown"
	}
}

func planLine(snapshot domain.UsageSnapshot) string {
	parts := []string{}
	if snapshot.PlanName != "" {
		parts = append(parts, snapshot.PlanName)
	}
	if snapshot.ServiceType != "" {
		parts = append(parts, snapshot.ServiceType)
	}
	if snapshot.PlanSpeedMbps > 0 {
		parts = append(parts, fmt.Sprintf("%.0f Mbps", snapshot.PlanSpeedMbps))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("service %s", snapshot.ServiceID)
	}

	return strings.Join(parts, " · ")
}

func usageLine(snapshot domain.UsageSnapshot, opts RenderOptions, s styles, stale bool) string {
	var line string
	if snapshot.Unlimited() {
		line = lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.usageKey.Render("usage:"),
			" ",
			s.detail.Render(fmt.Sprintf("%.2f GB used", snapshot.DataUsedGB)),
			" ",
			s.usageMeta.Render("(unlimited)"),
		)
	} else {
		limit := *snapshot.DataLimitGB
		usedPercent := 0.0
		if limit > 0 {
			usedPercent = snapshot.DataUsedGB / limit * 100
		}
		bar := renderProgressBar(usedPercent, 24, s)
		meta := s.detail.Render(fmt.Sprintf("%.2f of %.2f GB", snapshot.DataUsedGB, limit))
		left := s.usageMeta.Render(fmt.Sprintf("(%2.0f%% left)", clampPercent(100-usedPercent)))
		line = lipgloss.JoinHorizontal(lipgloss.Top, s.usageKey.Render("usage:"), " ", bar, " ", meta, " ", left)
	}

	if cycle := cycleSuffix(snapshot, opts.Now); cycle != "" {
		line += " " + s.usageMeta.Render(cycle)
	}
	if stale {
		line += " " + s.warning.Render("[stale]")
	}

	return line
}

func cycleSuffix(snapshot domain.UsageSnapshot, now time.Time) string {
	if now.IsZero() || snapshot.BillingCycleEnd.IsZero() {
		return ""
	}

	days := snapshot.DaysRemaining(now)
	if days <= 0 {
		return "(cycle ended)"
	}
	suffix := "days"
	if days == 1 {
		suffix = "day"
	}

	return fmt.Sprintf("(resets in %d %s)", days, suffix)
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	filled := int(math.Round(float64(width) * used / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
