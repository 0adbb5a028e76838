package graph

import (
	"net/http"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/service"
)

// roundToGraphQL converts a models.Round to a GraphQL Round.
func roundToGraphQL(r *models.Round) *Round {
	if r == nil {
		return nil
	}
	scanned, total := r.Counts()

	checkpoints := make([]Checkpoint, len(r.Checkpoints))
	records := make([]CheckpointRecord, len(r.Checkpoints))
	for i, cp := range r.Checkpoints {
		questions := cp.Questions
		if questions == nil {
			questions = []string{}
		}
		checkpoints[i] = Checkpoint{Name: cp.Name, Questions: questions}

		rec := r.Records[i]
		if rec.Name == "" {
			rec.Name = cp.Name
		}
		records[i] = CheckpointRecord{
			Name:         rec.Name,
			Scanned:      rec.Scanned,
			Code:         rec.Code,
			ScannedAt:    rec.ScannedAt,
			Answers:      rec.Answers,
			PhotoURL:     stringPtr(rec.PhotoURL),
			PhotoPending: !rec.PhotoEmbedded.Empty(),
		}
	}

	return &Round{
		ID:             r.ID,
		TemplateID:     r.TemplateID,
		TemplateName:   r.TemplateName,
		Client:         r.Client,
		Site:           stringPtr(r.Site),
		Unit:           r.Unit,
		OperatorID:     r.Operator.ID,
		OperatorName:   r.Operator.Name,
		State:          string(r.State),
		ScheduledStart: r.ScheduledStart,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Deadline:       r.Deadline(),
		Scanned:        scanned,
		Total:          total,
		Checkpoints:    checkpoints,
		Records:        records,
	}
}

func templateStatusToGraphQL(st service.TemplateStatus) TemplateStatus {
	return TemplateStatus{
		ID:          st.Template.ID,
		Name:        st.Template.Name,
		StartTime:   st.Template.StartTime,
		Tolerance:   st.Template.Tolerance.String(),
		Checkpoints: len(st.Template.Checkpoints),
		Eligible:    st.Eligible,
		Reason:      stringPtr(st.Reason),
		Action:      st.Action,
		Previous:    roundToGraphQL(st.Previous),
	}
}

func summaryToGraphQL(s *service.Summary) *Summary {
	if s == nil {
		return nil
	}
	missing := s.Missing
	if missing == nil {
		missing = []string{}
	}
	return &Summary{
		RoundID:      s.RoundID,
		TemplateName: s.TemplateName,
		State:        string(s.State),
		Scanned:      s.Scanned,
		Total:        s.Total,
		Missing:      missing,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Auto:         s.Auto,
		Synced:       s.Synced,
	}
}

func scanResultToGraphQL(r service.ScanResult) *ScanResult {
	questions := r.Questions
	if questions == nil {
		questions = []string{}
	}
	return &ScanResult{
		Index:           r.Index,
		Checkpoint:      r.Checkpoint,
		AwaitingAnswers: r.AwaitingAnswers,
		Questions:       questions,
		Recorded:        r.Recorded,
		Synced:          r.Synced,
		Scanned:         r.Scanned,
		Total:           r.Total,
	}
}

func receiptToGraphQL(rc service.Receipt) *Receipt {
	return &Receipt{
		ID:           rc.ID,
		Collection:   rc.Collection,
		SavedOffline: rc.SavedOffline,
		MediaPending: rc.MediaPending,
	}
}

func passResultToGraphQL(p service.PassResult) *PassResult {
	return &PassResult{
		Reason:     p.Reason,
		Skipped:    p.Skipped,
		SkipReason: stringPtr(p.SkipReason),
		Total:      p.Total,
		Synced:     p.Synced,
		Failed:     p.Failed,
		Discarded:  p.Discarded,
		Repaired:   p.Repaired,
		At:         p.At,
	}
}

// statusToGraphQL converts a service.Status to a GraphQL Status.
func statusToGraphQL(st service.Status) *Status {
	out := &Status{
		Online:     st.Online,
		QueueDepth: st.QueueDepth,
		At:         st.At,
	}
	if a := st.ActiveRound; a != nil {
		out.ActiveRound = &ActiveRound{
			RoundID:          a.RoundID,
			TemplateName:     a.TemplateName,
			Scanned:          a.Scanned,
			Total:            a.Total,
			ElapsedSeconds:   int(a.Elapsed / time.Second),
			RemainingSeconds: int(a.Remaining / time.Second),
		}
	}
	if st.LastPass != nil {
		out.LastPass = passResultToGraphQL(*st.LastPass)
	}
	return out
}

// metricsSnapshotToGraphQL converts a metrics.Snapshot to a GraphQL ServerStats.
func metricsSnapshotToGraphQL(s metrics.Snapshot) *ServerStats {
	ops := make([]OperationStats, 0, len(s.Operations))
	for _, op := range s.Operations {
		ops = append(ops, OperationStats{
			Name:        op.Name,
			Count:       int(op.Count),
			Failures:    int(op.Failures),
			TotalTimeMs: int(op.TotalTimeMs),
			AvgTimeMs:   op.AvgTimeMs,
			MinTimeMs:   int(op.MinTimeMs),
			MaxTimeMs:   int(op.MaxTimeMs),
		})
	}
	return &ServerStats{UptimeSeconds: s.UptimeSeconds, Operations: ops}
}

// toService converts an attachment input; an empty one is no attachment.
func (a *AttachmentInput) toService() *service.Attachment {
	if a == nil || len(a.Data) == 0 {
		return nil
	}
	ct := ""
	if a.ContentType != nil {
		ct = *a.ContentType
	}
	if ct == "" {
		ct = http.DetectContentType(a.Data)
	}
	return &service.Attachment{Data: a.Data, ContentType: ct}
}

// stringPtr returns nil for an empty string.
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
