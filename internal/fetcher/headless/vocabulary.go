package headless

import (
	"strings"

	"github.com/JakeFAU/statuswatch/internal/status"
)

type headline struct {
	indicator   status.Severity
	description string
}

// headlines maps the lowercased page headline onto the overall indicator.
var headlines = map[string]headline{
	"all systems operational": {status.SeverityNone, "All Systems Operational"},
	"degraded performance":    {status.SeverityMinor, "Degraded Performance"},
	"partial outage":          {status.SeverityMinor, "Partial Outage"},
	"major outage":            {status.SeverityMajor, "Major Outage"},
}

const unknownDescription = "Status Unknown"

// MapHeadline converts headline text into the overall status. Any phrase
// outside the known set yields SeverityUnknown.
func MapHeadline(text string) status.OverallStatus {
	if h, ok := headlines[strings.ToLower(strings.TrimSpace(text))]; ok {
		return status.OverallStatus{Indicator: h.indicator, Description: h.description}
	}
	return status.OverallStatus{Indicator: status.SeverityUnknown, Description: unknownDescription}
}

// classRules are checked in order; the first token present wins.
var classRules = []struct {
	token  string
	status status.StatusLevel
}{
	{"severity-major", status.StatusMajorOutage},
	{"severity-moderate", status.StatusPartialOutage},
	{"severity-minor", status.StatusDegradedPerformance},
}

// MapDayClass converts a day indicator's class attribute into a component
// status. The operational marker is page specific.
func MapDayClass(class, operationalMarker string) status.StatusLevel {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(class) {
		tokens[tok] = struct{}{}
	}
	for _, rule := range classRules {
		if _, ok := tokens[rule.token]; ok {
			return rule.status
		}
	}
	if operationalMarker != "" {
		if _, ok := tokens[operationalMarker]; ok {
			return status.StatusOperational
		}
	}
	return status.StatusUnknown
}
