package service

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
)

// Eligibility is the result of checking a template against the clock.
type Eligibility struct {
	Eligible bool
	// Reason explains an ineligible template; empty when eligible.
	Reason string
	// Slot is the scheduled start the check refers to.
	Slot time.Time
}

// CheckEligibility reports whether now falls within the template's window
// [slot, slot+tolerance], bounds inclusive. Only daily schedules are
// supported. A window that crosses midnight belongs to the previous day's
// slot, so 00:10 is inside a 23:30 slot with a one hour tolerance.
func CheckEligibility(t models.Template, now time.Time) Eligibility {
	if t.Frequency == "" {
		return Eligibility{Reason: "frequency not configured"}
	}
	if t.Frequency != models.FrequencyDaily {
		return Eligibility{Reason: fmt.Sprintf("frequency %q not supported", t.Frequency)}
	}
	if t.StartTime == "" {
		return Eligibility{Reason: "start time not configured"}
	}
	hour, minute, err := models.ParseClock(t.StartTime)
	if err != nil {
		return Eligibility{Reason: fmt.Sprintf("start time %q is invalid", t.StartTime)}
	}
	if !t.Tolerance.Configured() {
		return Eligibility{Reason: "tolerance not configured"}
	}
	tolerance := t.Tolerance.Duration()

	slot := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Before(slot) {
		prev := slot.AddDate(0, 0, -1)
		if !now.After(prev.Add(tolerance)) {
			return Eligibility{Eligible: true, Slot: prev}
		}
		minutes := int(slot.Sub(now) / time.Minute)
		return Eligibility{Reason: fmt.Sprintf("starts in %d minutes", minutes), Slot: slot}
	}
	if now.After(slot.Add(tolerance)) {
		return Eligibility{Reason: "window expired", Slot: slot}
	}
	return Eligibility{Eligible: true, Slot: slot}
}
