package service

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
)

// Summary describes a terminated round.
type Summary struct {
	RoundID      string            `json:"round_id"`
	TemplateName string            `json:"template_name"`
	State        models.RoundState `json:"state"`
	Scanned      int               `json:"scanned"`
	Total        int               `json:"total"`
	Missing      []string          `json:"missing,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      time.Time         `json:"ended_at"`
	// Auto is set when the tolerance window closed the round.
	Auto bool `json:"auto"`
	// Synced is false when the terminal write was queued.
	Synced bool `json:"synced"`
}

func summarize(r *models.Round, auto bool) *Summary {
	scanned, total := r.Counts()
	s := &Summary{
		RoundID:      r.ID,
		TemplateName: r.TemplateName,
		State:        r.State,
		Scanned:      scanned,
		Total:        total,
		Missing:      r.Missing(),
		StartedAt:    r.StartedAt,
		Auto:         auto,
	}
	if r.EndedAt != nil {
		s.EndedAt = *r.EndedAt
	}
	return s
}

// closeRound moves r into its terminal state. Auto-termination ends the round
// at its deadline, a manual one at now.
func closeRound(r *models.Round, now time.Time, auto bool) {
	ended := now
	if auto {
		ended = r.Deadline()
	}
	r.State = r.FinalState()
	r.EndedAt = &ended
}

// mergeLocalWins overlays local checkpoint records onto remote ones. Any
// index whose scanned flag or code differs takes the local record; the
// changed indexes are returned. Both the scan path and the reconciler use
// this rule.
func mergeLocalWins(remote, local *models.Round) (*models.Round, map[int]models.CheckpointRecord) {
	merged := remote.Clone()
	diverged := map[int]models.CheckpointRecord{}
	for i, rec := range local.Records {
		if rec.Diverges(remote.Records[i]) {
			merged.Records[i] = rec
			diverged[i] = rec
		}
	}
	return merged, diverged
}

// FormatElapsed renders a duration as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
