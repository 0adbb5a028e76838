package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/patrolsync/internal/client"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	statusServer string
	statusFollow bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queued writes and the active round",
	Long: `Show whether the remote store is reachable, how many writes wait in the
queue, the active round and the last reconciliation pass.

With --server, the status of the agent at that URL is shown; --follow keeps
streaming it.

Examples:
  patrol status
  patrol status --server http://localhost:8585 --follow`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "agent URL (e.g. http://localhost:8585)")
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "stream status updates from the agent")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if statusServer == "" {
		if statusFollow {
			return errors.New("--follow needs --server")
		}
		// Adopt the round so the widget shows it.
		if _, _, err := device.Session.Resume(ctx); err != nil {
			return fmt.Errorf("resume round: %w", err)
		}
		fmt.Print(renderStatus(device.Status().Status(ctx), defaultTheme))
		return nil
	}

	c := client.New(statusServer)
	if !statusFollow {
		st, err := c.Status(ctx)
		if err != nil {
			return fmt.Errorf("get agent status: %w", err)
		}
		fmt.Print(renderStatus(*st, defaultTheme))
		return nil
	}

	err := c.WatchStatus(ctx, func(st service.Status) error {
		fmt.Print(renderStatus(st, defaultTheme))
		fmt.Println()
		return nil
	})
	if errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// renderStatus draws the status widget.
func renderStatus(st service.Status, theme Theme) string {
	var b strings.Builder

	if st.Online {
		b.WriteString(theme.completedStyle().Render("● online"))
	} else {
		b.WriteString(theme.errorStyle().Render("● offline"))
	}

	queued := fmt.Sprintf("%d pending", st.QueueDepth)
	if st.QueueDepth > 0 {
		b.WriteString("  " + theme.warningStyle().Render(queued))
	} else {
		b.WriteString("  " + theme.hintStyle().Render(queued))
	}
	b.WriteString("\n")

	if a := st.ActiveRound; a != nil {
		fmt.Fprintf(&b, "%s %s  %s elapsed, %s left, %d/%d checkpoints\n",
			theme.statusStyle().Render("Round"), a.TemplateName,
			service.FormatElapsed(a.Elapsed), service.FormatElapsed(a.Remaining), a.Scanned, a.Total)
	} else {
		b.WriteString(theme.hintStyle().Render("No round in progress") + "\n")
	}

	if p := st.LastPass; p != nil {
		fmt.Fprintf(&b, "Last sync %s (%s): %d/%d synced",
			p.At.Local().Format("15:04:05"), p.Reason, p.Synced, p.Total)
		if p.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", p.Failed)
		}
		b.WriteString("\n")
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Hint).
		Padding(0, 1)
	return box.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}
