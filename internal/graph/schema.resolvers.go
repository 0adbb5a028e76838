package graph

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/service"
)

// Templates is the resolver for the templates field.
func (r *queryResolver) Templates(ctx context.Context) ([]TemplateStatus, error) {
	list, err := r.c.Session.Templates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TemplateStatus, 0, len(list))
	for _, st := range list {
		out = append(out, templateStatusToGraphQL(st))
	}
	return out, nil
}

// ActiveRound is the resolver for the activeRound field.
func (r *queryResolver) ActiveRound(ctx context.Context) (*Round, error) {
	return roundToGraphQL(r.c.Session.Active()), nil
}

// Status is the resolver for the status field.
func (r *queryResolver) Status(ctx context.Context) (*Status, error) {
	return statusToGraphQL(r.c.Status.Status(ctx)), nil
}

// Stats is the resolver for the stats field.
func (r *queryResolver) Stats(ctx context.Context) (*ServerStats, error) {
	return metricsSnapshotToGraphQL(r.c.Metrics.Snapshot()), nil
}

// StartRound is the resolver for the startRound field. When the operator
// already runs a round, that round is returned with resumed set.
func (r *mutationResolver) StartRound(ctx context.Context, templateID string) (*StartResult, error) {
	round, err := r.c.Session.Start(ctx, templateID)
	if errors.Is(err, service.ErrConflictAlreadyActive) && round != nil {
		msg := err.Error()
		return &StartResult{Round: roundToGraphQL(round), Resumed: true, Message: &msg}, nil
	}
	if err != nil {
		return nil, err
	}
	return &StartResult{Round: roundToGraphQL(round)}, nil
}

// ResumeRound is the resolver for the resumeRound field.
func (r *mutationResolver) ResumeRound(ctx context.Context) (*ResumeResult, error) {
	round, sum, err := r.c.Session.Resume(ctx)
	if err != nil {
		return nil, err
	}
	return &ResumeResult{Round: roundToGraphQL(round), Summary: summaryToGraphQL(sum)}, nil
}

// ScanCheckpoint is the resolver for the scanCheckpoint field. Each call is
// a complete capture: a scan left open by an earlier call is discarded.
func (r *mutationResolver) ScanCheckpoint(ctx context.Context, input ScanInput) (*ScanResult, error) {
	s := r.c.Session
	s.CloseScanner()
	if _, err := s.OpenScanner(input.Checkpoint); err != nil {
		return nil, err
	}
	res, err := s.Scan(ctx, input.Code)
	if err != nil {
		s.CloseScanner()
		return nil, err
	}
	return scanResultToGraphQL(res), nil
}

// SubmitAnswers is the resolver for the submitAnswers field.
func (r *mutationResolver) SubmitAnswers(ctx context.Context, input AnswersInput) (*ScanResult, error) {
	answers := make(map[string]string, len(input.Answers))
	for _, a := range input.Answers {
		answers[a.Question] = a.Answer
	}
	res, err := r.c.Session.SubmitAnswers(ctx, answers, input.Photo.toService())
	if err != nil {
		return nil, err
	}
	return scanResultToGraphQL(res), nil
}

// CloseScanner is the resolver for the closeScanner field.
func (r *mutationResolver) CloseScanner(ctx context.Context) (bool, error) {
	r.c.Session.CloseScanner()
	return true, nil
}

// TerminateRound is the resolver for the terminateRound field.
func (r *mutationResolver) TerminateRound(ctx context.Context) (*Summary, error) {
	sum, err := r.c.Session.Terminate(ctx)
	if err != nil {
		return nil, err
	}
	return summaryToGraphQL(sum), nil
}

// SubmitRecord is the resolver for the submitRecord field.
func (r *mutationResolver) SubmitRecord(ctx context.Context, kind string, data map[string]any, photo, signature *AttachmentInput) (*Receipt, error) {
	k, err := models.ParseRecordKind(kind)
	if err != nil {
		return nil, err
	}
	rc, err := r.c.Submitter.Submit(ctx, k, data, photo.toService(), signature.toService())
	if err != nil {
		return nil, err
	}
	return receiptToGraphQL(rc), nil
}

// RegisterManualRound is the resolver for the registerManualRound field.
func (r *mutationResolver) RegisterManualRound(ctx context.Context, code string, notes *string, photo *AttachmentInput) (*Receipt, error) {
	n := ""
	if notes != nil {
		n = *notes
	}
	rc, err := r.c.Manual.Register(ctx, code, n, photo.toService())
	if err != nil {
		return nil, err
	}
	return receiptToGraphQL(rc), nil
}

// RefreshCodes is the resolver for the refreshCodes field.
func (r *mutationResolver) RefreshCodes(ctx context.Context) (int, error) {
	return r.c.Manual.RefreshCodes(ctx)
}

// Sync is the resolver for the sync field.
func (r *mutationResolver) Sync(ctx context.Context) (*PassResult, error) {
	return passResultToGraphQL(r.c.Reconciler.Trigger(ctx, service.ReasonManual)), nil
}

// Status is the resolver for the status subscription. It sends the current
// status right away and then every StatusInterval until the client leaves.
func (r *subscriptionResolver) Status(ctx context.Context) (<-chan *Status, error) {
	interval := r.StatusInterval
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ch := make(chan *Status, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case ch <- statusToGraphQL(r.c.Status.Status(ctx)):
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
