package models

import (
	"fmt"
	"strings"
	"time"
)

// FrequencyDaily is the only schedule kind rounds support.
const FrequencyDaily = "daily"

// ToleranceUnit is the unit of a tolerance amount.
type ToleranceUnit string

const (
	UnitMinutes ToleranceUnit = "minutes"
	UnitHours   ToleranceUnit = "hours"
)

// Tolerance is how long after its start a round may still be completed.
type Tolerance struct {
	Amount int           `json:"amount"`
	Unit   ToleranceUnit `json:"unit"`
}

// Duration converts the tolerance to a time.Duration. Unknown units count as minutes.
func (t Tolerance) Duration() time.Duration {
	if t.Unit == UnitHours {
		return time.Duration(t.Amount) * time.Hour
	}
	return time.Duration(t.Amount) * time.Minute
}

// Configured reports whether the tolerance has a positive amount.
func (t Tolerance) Configured() bool {
	return t.Amount > 0
}

func (t Tolerance) String() string {
	if t.Unit == "" {
		return fmt.Sprintf("%d %s", t.Amount, UnitMinutes)
	}
	return fmt.Sprintf("%d %s", t.Amount, t.Unit)
}

// Template configures a recurring round: its checkpoints, schedule and tolerance.
type Template struct {
	ID          string       `json:"id" validate:"required"`
	Name        string       `json:"name"`
	Client      string       `json:"client" validate:"required"`
	Unit        string       `json:"unit" validate:"required"`
	Frequency   string       `json:"frequency"`
	StartTime   string       `json:"start_time"`
	Tolerance   Tolerance    `json:"tolerance"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// ParseClock parses an "HH:MM" schedule value into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse schedule %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// CheckpointCode is one entry of the cached valid-code list.
type CheckpointCode struct {
	Code   string `json:"code" validate:"required"`
	Name   string `json:"name"`
	Client string `json:"client"`
	Unit   string `json:"unit"`
}

// NormalizeCode upper-cases and trims a physical code for lookups.
func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
