// Package graph provides GraphQL types and resolvers for the patrol agent.
package graph

import (
	"time"
)

// Checkpoint is a configured stop of a round. The expected code is never exposed.
type Checkpoint struct {
	Name      string   `json:"name"`
	Questions []string `json:"questions"`
}

// CheckpointRecord is the per-round state of one checkpoint.
type CheckpointRecord struct {
	Name         string            `json:"name"`
	Scanned      bool              `json:"scanned"`
	Code         *string           `json:"code"`
	ScannedAt    *time.Time        `json:"scannedAt"`
	Answers      map[string]string `json:"answers"`
	PhotoURL     *string           `json:"photoUrl"`
	PhotoPending bool              `json:"photoPending"`
}

// Round is one execution of a patrol template.
type Round struct {
	ID             string             `json:"id"`
	TemplateID     string             `json:"templateId"`
	TemplateName   string             `json:"templateName"`
	Client         string             `json:"client"`
	Site           *string            `json:"site"`
	Unit           string             `json:"unit"`
	OperatorID     string             `json:"operatorId"`
	OperatorName   string             `json:"operatorName"`
	State          string             `json:"state"`
	ScheduledStart string             `json:"scheduledStart"`
	StartedAt      time.Time          `json:"startedAt"`
	EndedAt        *time.Time         `json:"endedAt"`
	Deadline       time.Time          `json:"deadline"`
	Scanned        int                `json:"scanned"`
	Total          int                `json:"total"`
	Checkpoints    []Checkpoint       `json:"checkpoints"`
	Records        []CheckpointRecord `json:"records"`
}

// TemplateStatus is a template with its eligibility right now.
type TemplateStatus struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	StartTime   string  `json:"startTime"`
	Tolerance   string  `json:"tolerance"`
	Checkpoints int     `json:"checkpoints"`
	Eligible    bool    `json:"eligible"`
	Reason      *string `json:"reason"`
	Action      string  `json:"action"`
	Previous    *Round  `json:"previous"`
}

// StartResult is returned by startRound.
type StartResult struct {
	Round   *Round  `json:"round"`
	Resumed bool    `json:"resumed"`
	Message *string `json:"message"`
}

// Summary describes a terminated round.
type Summary struct {
	RoundID      string    `json:"roundId"`
	TemplateName string    `json:"templateName"`
	State        string    `json:"state"`
	Scanned      int       `json:"scanned"`
	Total        int       `json:"total"`
	Missing      []string  `json:"missing"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
	Auto         bool      `json:"auto"`
	Synced       bool      `json:"synced"`
}

// ResumeResult is returned by resumeRound.
type ResumeResult struct {
	Round   *Round   `json:"round"`
	Summary *Summary `json:"summary"`
}

// ScanResult is returned by scanCheckpoint and submitAnswers.
type ScanResult struct {
	Index           int      `json:"index"`
	Checkpoint      string   `json:"checkpoint"`
	AwaitingAnswers bool     `json:"awaitingAnswers"`
	Questions       []string `json:"questions"`
	Recorded        bool     `json:"recorded"`
	Synced          bool     `json:"synced"`
	Scanned         int      `json:"scanned"`
	Total           int      `json:"total"`
}

// Receipt acknowledges a submitted record.
type Receipt struct {
	ID           string `json:"id"`
	Collection   string `json:"collection"`
	SavedOffline bool   `json:"savedOffline"`
	MediaPending bool   `json:"mediaPending"`
}

// PassResult is the outcome of a reconciliation pass.
type PassResult struct {
	Reason     string    `json:"reason"`
	Skipped    bool      `json:"skipped"`
	SkipReason *string   `json:"skipReason"`
	Total      int       `json:"total"`
	Synced     int       `json:"synced"`
	Failed     int       `json:"failed"`
	Discarded  int       `json:"discarded"`
	Repaired   int       `json:"repaired"`
	At         time.Time `json:"at"`
}

// ActiveRound is the status view of the running round.
type ActiveRound struct {
	RoundID          string `json:"roundId"`
	TemplateName     string `json:"templateName"`
	Scanned          int    `json:"scanned"`
	Total            int    `json:"total"`
	ElapsedSeconds   int    `json:"elapsedSeconds"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// Status feeds the status indicator.
type Status struct {
	Online      bool         `json:"online"`
	QueueDepth  int          `json:"queueDepth"`
	ActiveRound *ActiveRound `json:"activeRound"`
	LastPass    *PassResult  `json:"lastPass"`
	At          time.Time    `json:"at"`
}

// OperationStats is the timing of one operation kind.
type OperationStats struct {
	Name        string  `json:"name"`
	Count       int     `json:"count"`
	Failures    int     `json:"failures"`
	TotalTimeMs int     `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int     `json:"minTimeMs"`
	MaxTimeMs   int     `json:"maxTimeMs"`
}

// ServerStats provides runtime statistics.
type ServerStats struct {
	UptimeSeconds float64          `json:"uptimeSeconds"`
	Operations    []OperationStats `json:"operations"`
}

// AttachmentInput is a photo or signature; Data is base64 on the wire.
type AttachmentInput struct {
	ContentType *string `json:"contentType,omitempty"`
	Data        []byte  `json:"data"`
}

// ScanInput captures one code for a checkpoint.
type ScanInput struct {
	Checkpoint int    `json:"checkpoint"`
	Code       string `json:"code"`
}

// AnswerInput answers one checkpoint question.
type AnswerInput struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AnswersInput completes a scan that is waiting for answers.
type AnswersInput struct {
	Answers []AnswerInput    `json:"answers"`
	Photo   *AttachmentInput `json:"photo,omitempty"`
}
