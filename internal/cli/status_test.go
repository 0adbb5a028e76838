package cli

import (
	"testing"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/stretchr/testify/assert"
)

func TestRenderStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   service.Status
		contains []string
		excludes []string
	}{
		{
			name:     "offline with queued writes",
			status:   service.Status{Online: false, QueueDepth: 2},
			contains: []string{"offline", "2 pending", "No round in progress"},
			excludes: []string{"Last sync"},
		},
		{
			name: "online with active round and last pass",
			status: service.Status{
				Online: true,
				ActiveRound: &service.ActiveInfo{
					TemplateName: "Morning",
					Scanned:      1,
					Total:        3,
					Elapsed:      12 * time.Minute,
					Remaining:    18 * time.Minute,
				},
				LastPass: &service.PassResult{Reason: service.ReasonPeriodic, Total: 2, Synced: 1, Failed: 1},
			},
			contains: []string{"online", "0 pending", "Morning", "00:12:00 elapsed", "00:18:00 left", "1/3", "periodic", "1/2 synced", "1 failed"},
			excludes: []string{"No round in progress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := renderStatus(tt.status, defaultTheme)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out, s)
			}
		})
	}
}
