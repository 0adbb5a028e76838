// Package models defines data structures for guard rounds, checkpoint codes and queued writes.
package models

import (
	"fmt"
	"maps"
	"time"
)

// RoundState is the lifecycle state of a round.
type RoundState string

const (
	RoundInProgress RoundState = "IN_PROGRESS"
	RoundTerminated RoundState = "TERMINATED"
	RoundIncomplete RoundState = "INCOMPLETE"
	RoundNotDone    RoundState = "NOT_DONE"
)

// Terminal reports whether the state can no longer change.
func (s RoundState) Terminal() bool {
	switch s {
	case RoundTerminated, RoundIncomplete, RoundNotDone:
		return true
	}
	return false
}

// Operator identifies the guard running a round.
type Operator struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Checkpoint is one configured stop of a template.
type Checkpoint struct {
	Name      string   `json:"name"`
	Code      string   `json:"code,omitempty"`
	Questions []string `json:"questions,omitempty"`
}

// CheckpointRecord is the per-round state of one checkpoint.
type CheckpointRecord struct {
	Name          string            `json:"name"`
	Scanned       bool              `json:"scanned"`
	Code          *string           `json:"code"`
	ScannedAt     *time.Time        `json:"scanned_at"`
	Answers       map[string]string `json:"answers,omitempty"`
	PhotoEmbedded Embedded          `json:"photo_embedded,omitempty"`
	PhotoURL      string            `json:"photo_url,omitempty"`
}

// Round is one execution of a scheduled patrol template.
type Round struct {
	ID             string                   `json:"id" validate:"required"`
	TemplateID     string                   `json:"template_id" validate:"required"`
	TemplateName   string                   `json:"template_name"`
	Client         string                   `json:"client" validate:"required"`
	Site           string                   `json:"site,omitempty"`
	Unit           string                   `json:"unit" validate:"required"`
	Operator       Operator                 `json:"operator"`
	ScheduledStart string                   `json:"scheduled_start" validate:"required"`
	Tolerance      Tolerance                `json:"tolerance"`
	Checkpoints    []Checkpoint             `json:"checkpoints" validate:"required,min=1"`
	Records        map[int]CheckpointRecord `json:"records"`
	State          RoundState               `json:"state" validate:"required,oneof=IN_PROGRESS TERMINATED INCOMPLETE NOT_DONE"`
	StartedAt      time.Time                `json:"started_at"`
	EndedAt        *time.Time               `json:"ended_at"`
	LastSyncAt     *time.Time               `json:"last_sync_at,omitempty"`
}

// RoundID derives the identity of the round for a template slot.
// Format: <templateID>_<YYYY>_<MM>_<DD>_<HHMM>.
func RoundID(templateID string, slot time.Time) string {
	return fmt.Sprintf("%s_%04d_%02d_%02d_%02d%02d",
		templateID, slot.Year(), int(slot.Month()), slot.Day(), slot.Hour(), slot.Minute())
}

// NewRound builds an IN_PROGRESS round with every checkpoint unscanned.
func NewRound(t Template, op Operator, site string, slot, startedAt time.Time) *Round {
	records := make(map[int]CheckpointRecord, len(t.Checkpoints))
	for i, cp := range t.Checkpoints {
		records[i] = CheckpointRecord{Name: cp.Name}
	}
	return &Round{
		ID:             RoundID(t.ID, slot),
		TemplateID:     t.ID,
		TemplateName:   t.Name,
		Client:         t.Client,
		Site:           site,
		Unit:           t.Unit,
		Operator:       op,
		ScheduledStart: t.StartTime,
		Tolerance:      t.Tolerance,
		Checkpoints:    append([]Checkpoint(nil), t.Checkpoints...),
		Records:        records,
		State:          RoundInProgress,
		StartedAt:      startedAt,
	}
}

// Counts returns the number of scanned checkpoints and the total.
func (r *Round) Counts() (scanned, total int) {
	total = len(r.Checkpoints)
	for i := range total {
		if r.Records[i].Scanned {
			scanned++
		}
	}
	return scanned, total
}

// FinalState applies the final-state rule to the current records.
func (r *Round) FinalState() RoundState {
	return FinalState(r.Counts())
}

// FinalState maps checkpoint completion to a terminal state.
func FinalState(scanned, total int) RoundState {
	switch {
	case scanned <= 0:
		return RoundNotDone
	case scanned < total:
		return RoundIncomplete
	default:
		return RoundTerminated
	}
}

// Missing returns the names of unscanned checkpoints in order.
func (r *Round) Missing() []string {
	var names []string
	for i, cp := range r.Checkpoints {
		if !r.Records[i].Scanned {
			names = append(names, cp.Name)
		}
	}
	return names
}

// Deadline is the instant after which the round auto-terminates.
func (r *Round) Deadline() time.Time {
	return r.StartedAt.Add(r.Tolerance.Duration())
}

// Expired reports whether the tolerance window has been exceeded at now.
func (r *Round) Expired(now time.Time) bool {
	return now.Sub(r.StartedAt) > r.Tolerance.Duration()
}

// Clone returns a deep copy safe to hand to other goroutines.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	c := *r
	c.Checkpoints = append([]Checkpoint(nil), r.Checkpoints...)
	c.Records = make(map[int]CheckpointRecord, len(r.Records))
	for i, rec := range r.Records {
		c.Records[i] = rec.clone()
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	if r.LastSyncAt != nil {
		t := *r.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

func (rec CheckpointRecord) clone() CheckpointRecord {
	c := rec
	if rec.Code != nil {
		s := *rec.Code
		c.Code = &s
	}
	if rec.ScannedAt != nil {
		t := *rec.ScannedAt
		c.ScannedAt = &t
	}
	if rec.Answers != nil {
		c.Answers = maps.Clone(rec.Answers)
	}
	return c
}

// CodeValue returns the scanned code or "" when unscanned.
func (rec CheckpointRecord) CodeValue() string {
	if rec.Code == nil {
		return ""
	}
	return *rec.Code
}

// Diverges reports whether two records disagree on scan completion.
func (rec CheckpointRecord) Diverges(other CheckpointRecord) bool {
	return rec.Scanned != other.Scanned || rec.CodeValue() != other.CodeValue()
}
