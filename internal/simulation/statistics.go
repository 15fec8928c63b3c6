package simulation

import "github.com/septivank/ven-fleet-simulator/internal/db"

// VenStatistics counts the resources of one VEN per status
type VenStatistics struct {
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Suspended int `json:"suspended"`
	Total     int `json:"total"`
}

// Statistics summarizes the in-memory simulation state
type Statistics struct {
	TotalVens      int                      `json:"total_vens"`
	TotalResources int                      `json:"total_resources"`
	ByVen          map[string]VenStatistics `json:"by_ven"`
	TotalByStatus  map[db.Status]int        `json:"total_by_status"`
	CurrentIndex   int                      `json:"current_timestamp_index"`
	ReadingLength  int                      `json:"reading_length"`
	AssignedMeters int                      `json:"assigned_meters"`
}

// Statistics returns per-VEN and total resource counts by status
func (e *Engine) Statistics() (Statistics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return Statistics{}, ErrNotInitialized
	}

	stats := Statistics{
		TotalVens:      len(e.buckets),
		ByVen:          make(map[string]VenStatistics, len(e.buckets)),
		TotalByStatus:  make(map[db.Status]int, len(db.Statuses)),
		CurrentIndex:   e.currentIndex,
		ReadingLength:  e.readingLength,
		AssignedMeters: len(e.meters),
	}
	for _, s := range db.Statuses {
		stats.TotalByStatus[s] = 0
	}

	for ven, vb := range e.buckets {
		vs := VenStatistics{
			Pending:   len(vb[db.StatusPending]),
			Approved:  len(vb[db.StatusApproved]),
			Suspended: len(vb[db.StatusSuspended]),
		}
		vs.Total = vs.Pending + vs.Approved + vs.Suspended
		stats.ByVen[ven] = vs

		stats.TotalByStatus[db.StatusPending] += vs.Pending
		stats.TotalByStatus[db.StatusApproved] += vs.Approved
		stats.TotalByStatus[db.StatusSuspended] += vs.Suspended
		stats.TotalResources += vs.Total
	}

	return stats, nil
}
