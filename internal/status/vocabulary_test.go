package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusLevelDecodeIsTotal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want StatusLevel
	}{
		{`"operational"`, StatusOperational},
		{`"under_maintenance"`, StatusUnderMaintenance},
		{`"degraded_performance"`, StatusDegradedPerformance},
		{`"partial_outage"`, StatusPartialOutage},
		{`"major_outage"`, StatusMajorOutage},
		{`"MAJOR_OUTAGE"`, StatusMajorOutage},
		{`"melting"`, StatusUnknown},
		{`""`, StatusUnknown},
		{`null`, StatusUnknown},
		{`42`, StatusUnknown},
	}
	for _, tt := range tests {
		var got StatusLevel
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &got), tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}
}

func TestSeverityDecodeIsTotal(t *testing.T) {
	t.Parallel()

	tests := map[string]Severity{
		`"none"`:        SeverityNone,
		`"minor"`:       SeverityMinor,
		`"major"`:       SeverityMajor,
		`"critical"`:    SeverityCritical,
		`"maintenance"`: SeverityMaintenance,
		`"apocalyptic"`: SeverityUnknown,
		`{}`:            SeverityUnknown,
	}
	for raw, want := range tests {
		var got Severity
		require.NoError(t, json.Unmarshal([]byte(raw), &got), raw)
		require.Equal(t, want, got, raw)
	}
}

func TestLifecycleVocabularies(t *testing.T) {
	t.Parallel()

	var inc IncidentStatus
	require.NoError(t, json.Unmarshal([]byte(`"postmortem"`), &inc))
	require.Equal(t, IncidentUnknown, inc)

	var mnt MaintenanceStatus
	require.NoError(t, json.Unmarshal([]byte(`"in_progress"`), &mnt))
	require.Equal(t, MaintenanceInProgress, mnt)

	var upd UpdateStatus
	require.NoError(t, json.Unmarshal([]byte(`"verifying"`), &upd))
	require.Equal(t, UpdateVerifying, upd)

	var impact Impact
	require.NoError(t, json.Unmarshal([]byte(`"catastrophic"`), &impact))
	require.Equal(t, ImpactUnknown, impact)
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusPartialOutage, ParseStatusLevel("  Partial_Outage "))
	require.Equal(t, StatusUnknown, ParseStatusLevel("fine"))
	require.Equal(t, SeverityMinor, ParseSeverity("MINOR"))
	require.Equal(t, SeverityUnknown, ParseSeverity(""))
}
