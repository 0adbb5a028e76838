package service

import (
	"context"
	"time"
)

// ActiveInfo is the status view of the active round.
type ActiveInfo struct {
	RoundID      string        `json:"round_id"`
	TemplateName string        `json:"template_name"`
	Scanned      int           `json:"scanned"`
	Total        int           `json:"total"`
	Elapsed      time.Duration `json:"elapsed"`
	Remaining    time.Duration `json:"remaining"`
}

// Status feeds the status indicator.
type Status struct {
	Online      bool        `json:"online"`
	QueueDepth  int         `json:"queue_depth"`
	ActiveRound *ActiveInfo `json:"active_round,omitempty"`
	LastPass    *PassResult `json:"last_pass,omitempty"`
	At          time.Time   `json:"at"`
}

// StatusReporter assembles Status from the live components. Any of them may
// be nil.
type StatusReporter struct {
	Conn       Connectivity
	Deps       Deps
	Session    *Session
	Reconciler *Reconciler
}

// Status returns the current status.
func (r StatusReporter) Status(ctx context.Context) Status {
	deps := r.Deps.withDefaults()
	now := deps.Now()
	st := Status{Online: r.Conn == nil || r.Conn.Online(), At: now}
	if deps.Queue != nil {
		st.QueueDepth = deps.Queue.Count(ctx)
	}
	if r.Session != nil {
		if a := r.Session.Active(); a != nil {
			scanned, total := a.Counts()
			st.ActiveRound = &ActiveInfo{
				RoundID:      a.ID,
				TemplateName: a.TemplateName,
				Scanned:      scanned,
				Total:        total,
				Elapsed:      now.Sub(a.StartedAt),
				Remaining:    a.Deadline().Sub(now),
			}
		}
	}
	if r.Reconciler != nil {
		if p, ok := r.Reconciler.LastPass(); ok {
			st.LastPass = &p
		}
	}
	return st
}
