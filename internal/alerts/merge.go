package alerts

import "github.com/vesa/pulseboard/internal/models"

// Summary counts the alerts in a View.
type Summary struct {
	Total          int `json:"total"`
	Critical       int `json:"critical"`
	Warning        int `json:"warning"`
	Info           int `json:"info"`
	Unacknowledged int `json:"unacknowledged"`
}

// View is the merged alert list as presented to operators.
type View struct {
	All            []models.AlertEntry `json:"all"`
	Unacknowledged []models.AlertEntry `json:"unacknowledged"`
	Critical       []models.AlertEntry `json:"critical"`
	Summary        Summary             `json:"summary"`
}

// Merge appends derived alerts after the persistent ones. Derived entries
// whose id is in acked are marked acknowledged.
func Merge(persistent []models.Alert, derived []models.AlertEntry, acked map[string]bool) View {
	v := View{
		All:            make([]models.AlertEntry, 0, len(persistent)+len(derived)),
		Unacknowledged: []models.AlertEntry{},
		Critical:       []models.AlertEntry{},
	}
	for _, a := range persistent {
		v.All = append(v.All, a.Entry())
	}
	for _, d := range derived {
		d.Acknowledged = acked[d.ID]
		v.All = append(v.All, d)
	}

	for _, e := range v.All {
		v.Summary.Total++
		switch e.Severity {
		case models.SeverityCritical:
			v.Summary.Critical++
			v.Critical = append(v.Critical, e)
		case models.SeverityWarning:
			v.Summary.Warning++
		case models.SeverityInfo:
			v.Summary.Info++
		}
		if !e.Acknowledged {
			v.Summary.Unacknowledged++
			v.Unacknowledged = append(v.Unacknowledged, e)
		}
	}
	return v
}

// IDs returns the identifiers of entries, in order.
func IDs(entries []models.AlertEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
