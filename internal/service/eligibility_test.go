package service

import (
	"testing"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/stretchr/testify/assert"
)

func at(hour, minute, second int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, second, 0, time.UTC)
}

func TestCheckEligibility(t *testing.T) {
	base := testTemplate()

	tests := []struct {
		name     string
		mutate   func(*models.Template)
		now      time.Time
		eligible bool
		reason   string
		slot     time.Time
	}{
		{name: "at slot start", now: at(8, 0, 0), eligible: true, slot: at(8, 0, 0)},
		{name: "window end is inclusive", now: at(8, 30, 0), eligible: true, slot: at(8, 0, 0)},
		{name: "one minute late", now: at(8, 31, 0), reason: "window expired", slot: at(8, 0, 0)},
		{name: "ten minutes early", now: at(7, 50, 0), reason: "starts in 10 minutes", slot: at(8, 0, 0)},
		{name: "minutes are floored", now: at(7, 50, 30), reason: "starts in 9 minutes", slot: at(8, 0, 0)},
		{
			name:   "frequency missing",
			mutate: func(t *models.Template) { t.Frequency = "" },
			now:    at(8, 0, 0),
			reason: "frequency not configured",
		},
		{
			name:   "weekly unsupported",
			mutate: func(t *models.Template) { t.Frequency = "weekly" },
			now:    at(8, 0, 0),
			reason: `frequency "weekly" not supported`,
		},
		{
			name:   "start time missing",
			mutate: func(t *models.Template) { t.StartTime = "" },
			now:    at(8, 0, 0),
			reason: "start time not configured",
		},
		{
			name:   "start time malformed",
			mutate: func(t *models.Template) { t.StartTime = "8h" },
			now:    at(8, 0, 0),
			reason: `start time "8h" is invalid`,
		},
		{
			name:   "tolerance missing",
			mutate: func(t *models.Template) { t.Tolerance = models.Tolerance{} },
			now:    at(8, 0, 0),
			reason: "tolerance not configured",
		},
		{
			name:     "tolerance in hours",
			mutate:   func(t *models.Template) { t.Tolerance = models.Tolerance{Amount: 2, Unit: models.UnitHours} },
			now:      at(9, 45, 0),
			eligible: true,
			slot:     at(8, 0, 0),
		},
		{
			name: "window crossing midnight belongs to previous day",
			mutate: func(t *models.Template) {
				t.StartTime = "23:30"
				t.Tolerance = models.Tolerance{Amount: 60, Unit: models.UnitMinutes}
			},
			now:      at(0, 10, 0),
			eligible: true,
			slot:     time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC),
		},
		{
			name: "after a midnight window closes",
			mutate: func(t *models.Template) {
				t.StartTime = "23:30"
				t.Tolerance = models.Tolerance{Amount: 60, Unit: models.UnitMinutes}
			},
			now:    at(0, 31, 0),
			reason: "starts in 1379 minutes",
			slot:   at(23, 30, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := base
			if tt.mutate != nil {
				tt.mutate(&tpl)
			}
			e := CheckEligibility(tpl, tt.now)
			assert.Equal(t, tt.eligible, e.Eligible)
			assert.Equal(t, tt.reason, e.Reason)
			if !tt.slot.IsZero() {
				assert.True(t, tt.slot.Equal(e.Slot), "slot %v, want %v", e.Slot, tt.slot)
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatElapsed(0))
	assert.Equal(t, "00:01:05", FormatElapsed(65*time.Second))
	assert.Equal(t, "01:30:00", FormatElapsed(90*time.Minute))
	assert.Equal(t, "00:00:00", FormatElapsed(-time.Second))
}
