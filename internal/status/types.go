package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Snapshot is the normalized, source-agnostic status of one upstream page at
// one point in time. Its JSON form follows the statuspage summary layout so
// structured sources decode straight into it.
type Snapshot struct {
	Page         PageInfo          `json:"page"`
	Components   []ComponentStatus `json:"components"`
	Incidents    []Incident        `json:"incidents"`
	Maintenances []Maintenance     `json:"scheduled_maintenances"`
	Overall      OverallStatus     `json:"status"`
}

// PageInfo identifies the upstream page.
type PageInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	UpdatedAt time.Time `json:"updated_at"`
	TimeZone  string    `json:"time_zone"`
}

// ComponentStatus is one displayed component. Position carries display order.
type ComponentStatus struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Status             StatusLevel `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Position           int         `json:"position"`
	Description        string      `json:"description"`
	GroupID            string      `json:"group_id"`
	Group              bool        `json:"group"`
	OnlyShowIfDegraded bool        `json:"only_show_if_degraded"`
}

// OverallStatus is the page-wide indicator.
type OverallStatus struct {
	Indicator   Severity `json:"indicator"`
	Description string   `json:"description"`
}

// Incident is an unplanned event with its ordered updates.
type Incident struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Status         IncidentStatus `json:"status"`
	Impact         Impact         `json:"impact"`
	Shortlink      string         `json:"shortlink"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	MonitoringAt   time.Time      `json:"monitoring_at,omitzero"`
	ResolvedAt     time.Time      `json:"resolved_at,omitzero"`
	ScheduledFor   time.Time      `json:"scheduled_for,omitzero"`
	ScheduledUntil time.Time      `json:"scheduled_until,omitzero"`
	Updates        []Update       `json:"incident_updates"`
}

// Maintenance is a planned window with its ordered updates.
type Maintenance struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Status         MaintenanceStatus `json:"status"`
	Impact         Impact            `json:"impact"`
	Shortlink      string            `json:"shortlink"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ScheduledFor   time.Time         `json:"scheduled_for,omitzero"`
	ScheduledUntil time.Time         `json:"scheduled_until,omitzero"`
	Updates        []Update          `json:"incident_updates"`
}

// Update is one timestamped entry in an incident or maintenance timeline.
type Update struct {
	ID                 string              `json:"id"`
	Status             UpdateStatus        `json:"status"`
	Body               string              `json:"body"`
	CreatedAt          time.Time           `json:"created_at"`
	DisplayAt          time.Time           `json:"display_at,omitzero"`
	AffectedComponents []AffectedComponent `json:"affected_components"`
}

// AffectedComponent records a component transition attached to an update.
type AffectedComponent struct {
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	OldStatus StatusLevel `json:"old_status"`
	NewStatus StatusLevel `json:"new_status"`
}

// ErrMissingField reports a summary body lacking a required top-level field.
var ErrMissingField = errors.New("missing required field")

// DecodeSnapshot parses a statuspage-style summary body. The page, components
// and status fields must be present; everything else may be absent.
func DecodeSnapshot(body []byte) (Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Snapshot{}, fmt.Errorf("decode summary: %w", err)
	}
	for _, field := range []string{"page", "components", "status"} {
		if raw, ok := fields[field]; !ok || string(raw) == "null" {
			return Snapshot{}, fmt.Errorf("decode summary: %w: %s", ErrMissingField, field)
		}
	}
	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode summary: %w", err)
	}
	return snap.Normalize(), nil
}

// Normalize replaces absent collections and vocabulary values with their
// empty or Unknown forms so the snapshot never carries null fields.
func (s Snapshot) Normalize() Snapshot {
	if s.Components == nil {
		s.Components = []ComponentStatus{}
	}
	for i := range s.Components {
		if s.Components[i].Status == "" {
			s.Components[i].Status = StatusUnknown
		}
	}
	if s.Incidents == nil {
		s.Incidents = []Incident{}
	}
	for i := range s.Incidents {
		s.Incidents[i].Updates = normalizeUpdates(s.Incidents[i].Updates)
		if s.Incidents[i].Status == "" {
			s.Incidents[i].Status = IncidentUnknown
		}
		if s.Incidents[i].Impact == "" {
			s.Incidents[i].Impact = ImpactUnknown
		}
	}
	if s.Maintenances == nil {
		s.Maintenances = []Maintenance{}
	}
	for i := range s.Maintenances {
		s.Maintenances[i].Updates = normalizeUpdates(s.Maintenances[i].Updates)
		if s.Maintenances[i].Status == "" {
			s.Maintenances[i].Status = MaintenanceUnknown
		}
		if s.Maintenances[i].Impact == "" {
			s.Maintenances[i].Impact = ImpactUnknown
		}
	}
	if s.Overall.Indicator == "" {
		s.Overall.Indicator = SeverityUnknown
	}
	return s
}

func normalizeUpdates(updates []Update) []Update {
	if updates == nil {
		return []Update{}
	}
	for i := range updates {
		if updates[i].AffectedComponents == nil {
			updates[i].AffectedComponents = []AffectedComponent{}
		}
		if updates[i].Status == "" {
			updates[i].Status = UpdateUnknown
		}
	}
	return updates
}
