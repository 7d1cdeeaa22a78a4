package status

import (
	"bytes"
	"encoding/json"
	"strings"
)

// StatusLevel is the operational state of a single component.
type StatusLevel string

// Component status values.
const (
	StatusOperational         StatusLevel = "operational"
	StatusUnderMaintenance    StatusLevel = "under_maintenance"
	StatusDegradedPerformance StatusLevel = "degraded_performance"
	StatusPartialOutage       StatusLevel = "partial_outage"
	StatusMajorOutage         StatusLevel = "major_outage"
	StatusUnknown             StatusLevel = "unknown"
)

var statusLevels = vocabulary(
	StatusOperational,
	StatusUnderMaintenance,
	StatusDegradedPerformance,
	StatusPartialOutage,
	StatusMajorOutage,
	StatusUnknown,
)

// ParseStatusLevel maps a raw source value onto the vocabulary.
func ParseStatusLevel(raw string) StatusLevel {
	return lookup(statusLevels, raw, StatusUnknown)
}

// UnmarshalJSON decodes unrecognized values as StatusUnknown.
func (s *StatusLevel) UnmarshalJSON(data []byte) error {
	*s = decodeTerm(data, statusLevels, StatusUnknown)
	return nil
}

// Severity is the page-wide status indicator.
type Severity string

// Page severity values.
const (
	SeverityNone        Severity = "none"
	SeverityMinor       Severity = "minor"
	SeverityMajor       Severity = "major"
	SeverityCritical    Severity = "critical"
	SeverityMaintenance Severity = "maintenance"
	SeverityUnknown     Severity = "unknown"
)

var severities = vocabulary(
	SeverityNone,
	SeverityMinor,
	SeverityMajor,
	SeverityCritical,
	SeverityMaintenance,
	SeverityUnknown,
)

// ParseSeverity maps a raw source value onto the vocabulary.
func ParseSeverity(raw string) Severity {
	return lookup(severities, raw, SeverityUnknown)
}

// UnmarshalJSON decodes unrecognized values as SeverityUnknown.
func (s *Severity) UnmarshalJSON(data []byte) error {
	*s = decodeTerm(data, severities, SeverityUnknown)
	return nil
}

// IncidentStatus is the lifecycle stage of an incident.
type IncidentStatus string

// Incident lifecycle values.
const (
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentIdentified    IncidentStatus = "identified"
	IncidentMonitoring    IncidentStatus = "monitoring"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentUnknown       IncidentStatus = "unknown"
)

var incidentStatuses = vocabulary(
	IncidentInvestigating,
	IncidentIdentified,
	IncidentMonitoring,
	IncidentResolved,
	IncidentUnknown,
)

// UnmarshalJSON decodes unrecognized values as IncidentUnknown.
func (s *IncidentStatus) UnmarshalJSON(data []byte) error {
	*s = decodeTerm(data, incidentStatuses, IncidentUnknown)
	return nil
}

// MaintenanceStatus is the lifecycle stage of a scheduled maintenance.
type MaintenanceStatus string

// Maintenance lifecycle values.
const (
	MaintenanceScheduled  MaintenanceStatus = "scheduled"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
	MaintenanceVerifying  MaintenanceStatus = "verifying"
	MaintenanceCompleted  MaintenanceStatus = "completed"
	MaintenanceUnknown    MaintenanceStatus = "unknown"
)

var maintenanceStatuses = vocabulary(
	MaintenanceScheduled,
	MaintenanceInProgress,
	MaintenanceVerifying,
	MaintenanceCompleted,
	MaintenanceUnknown,
)

// UnmarshalJSON decodes unrecognized values as MaintenanceUnknown.
func (s *MaintenanceStatus) UnmarshalJSON(data []byte) error {
	*s = decodeTerm(data, maintenanceStatuses, MaintenanceUnknown)
	return nil
}

// UpdateStatus is the stage recorded on one incident or maintenance update.
// Incident and maintenance updates share the field, so both lifecycles are
// accepted.
type UpdateStatus string

// Update status values.
const (
	UpdateInvestigating UpdateStatus = "investigating"
	UpdateIdentified    UpdateStatus = "identified"
	UpdateMonitoring    UpdateStatus = "monitoring"
	UpdateResolved      UpdateStatus = "resolved"
	UpdateScheduled     UpdateStatus = "scheduled"
	UpdateInProgress    UpdateStatus = "in_progress"
	UpdateVerifying     UpdateStatus = "verifying"
	UpdateCompleted     UpdateStatus = "completed"
	UpdateUnknown       UpdateStatus = "unknown"
)

var updateStatuses = vocabulary(
	UpdateInvestigating,
	UpdateIdentified,
	UpdateMonitoring,
	UpdateResolved,
	UpdateScheduled,
	UpdateInProgress,
	UpdateVerifying,
	UpdateCompleted,
	UpdateUnknown,
)

// UnmarshalJSON decodes unrecognized values as UpdateUnknown.
func (s *UpdateStatus) UnmarshalJSON(data []byte) error {
	*s = decodeTerm(data, updateStatuses, UpdateUnknown)
	return nil
}

// Impact is the declared blast radius of an incident.
type Impact string

// Impact values.
const (
	ImpactNone        Impact = "none"
	ImpactMinor       Impact = "minor"
	ImpactMajor       Impact = "major"
	ImpactCritical    Impact = "critical"
	ImpactMaintenance Impact = "maintenance"
	ImpactUnknown     Impact = "unknown"
)

var impacts = vocabulary(
	ImpactNone,
	ImpactMinor,
	ImpactMajor,
	ImpactCritical,
	ImpactMaintenance,
	ImpactUnknown,
)

// UnmarshalJSON decodes unrecognized values as ImpactUnknown.
func (s *Impact) UnmarshalJSON(data []byte) error {
	*s = decodeTerm(data, impacts, ImpactUnknown)
	return nil
}

func vocabulary[T ~string](terms ...T) map[string]T {
	out := make(map[string]T, len(terms))
	for _, term := range terms {
		out[string(term)] = term
	}
	return out
}

func lookup[T ~string](terms map[string]T, raw string, fallback T) T {
	if term, ok := terms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return term
	}
	return fallback
}

// decodeTerm never fails: null, non-string and unknown values all collapse to fallback.
func decodeTerm[T ~string](data []byte, terms map[string]T, fallback T) T {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fallback
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fallback
	}
	return lookup(terms, raw, fallback)
}
