package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/statuswatch/internal/status"
)

type sourceDTO struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	OK          bool               `json:"ok"`
	Indicator   status.Severity    `json:"indicator,omitempty"`
	Description string             `json:"description,omitempty"`
	Components  int                `json:"components"`
	Incidents   int                `json:"active_incidents"`
	Kind        status.FailureKind `json:"failure_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
	Attempts    int                `json:"attempts,omitempty"`
}

// listSources handles GET /api/sources. It returns one summary per source of
// the latest report, sorted by name, or 404 before the first cycle.
func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.reports.Report()
	if !ok {
		writeError(w, http.StatusNotFound, "no report published yet")
		return
	}
	names := make([]string, 0, len(report.Data))
	for name := range report.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sourceDTO, 0, len(names))
	for _, name := range names {
		dto := toSourceDTO(name, report.Data[name])
		dto.DisplayName = report.DisplayName(name)
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id":  report.CycleID,
		"timestamp": report.Timestamp.UTC().Format(time.RFC3339),
		"sources":   out,
	})
}

// getSource handles GET /api/sources/{name}. It returns the full report entry
// for the source, or 404 when the source is unknown.
func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	report, ok := s.reports.Report()
	if !ok {
		writeError(w, http.StatusNotFound, "no report published yet")
		return
	}
	outcome, found := report.Data[name]
	if !found {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id":     report.CycleID,
		"source":       name,
		"display_name": report.DisplayName(name),
		"entry":        outcome,
	})
}

func toSourceDTO(name string, o status.Outcome) sourceDTO {
	dto := sourceDTO{Name: name, OK: o.OK()}
	if snap, ok := o.Snapshot(); ok {
		dto.Indicator = snap.Overall.Indicator
		dto.Description = snap.Overall.Description
		dto.Components = len(snap.Components)
		for _, inc := range snap.Incidents {
			if inc.Status != status.IncidentResolved {
				dto.Incidents++
			}
		}
		return dto
	}
	fe := o.Err()
	dto.Kind = fe.Kind
	dto.Error = fe.Error()
	dto.Attempts = fe.Attempts
	return dto
}
