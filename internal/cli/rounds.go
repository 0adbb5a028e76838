package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	scanAnswers map[string]string
	scanPhoto   string
)

var templatesCmd = &cobra.Command{
	Use:     "templates",
	Aliases: []string{"rounds"},
	Short:   "List round templates and what can be done with them",
	Long: `List the round templates of the post with their schedule, tolerance
and the action available right now (start, continue, completed, unavailable).

Offline, the cached template list is shown.`,
	RunE: runTemplates,
}

var startCmd = &cobra.Command{
	Use:   "start <template-id>",
	Short: "Start the round of a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the operator's round in progress",
	Long: `Resume the operator's round in progress, preferring the remote copy and
falling back to the local cache. Checkpoints recorded locally but not yet
synchronized are pushed. A round whose tolerance has elapsed is closed.`,
	RunE: runResume,
}

var scanCmd = &cobra.Command{
	Use:   "scan <checkpoint-number> <code>",
	Short: "Record a checkpoint of the active round",
	Long: `Validate a scanned code against the checkpoint and record it.

Checkpoints with questions need their answers in the same call.

Examples:
  patrol scan 1 ABC123
  patrol scan 2 DEF456 --answer "Door locked?=yes" --photo dock.jpg`,
	Args: cobra.ExactArgs(2),
	RunE: runScan,
}

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Finish the active round",
	RunE:  runTerminate,
}

func init() {
	scanCmd.Flags().StringToStringVarP(&scanAnswers, "answer", "a", nil, "answer to a checkpoint question (question=answer)")
	scanCmd.Flags().StringVar(&scanPhoto, "photo", "", "photo file to attach")
}

func runTemplates(cmd *cobra.Command, args []string) error {
	list, err := device.Session.Templates(cmd.Context())
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No templates found.")
		return nil
	}

	fmt.Printf("Templates (%d):\n\n", len(list))
	for _, ts := range list {
		t := ts.Template
		fmt.Printf("- %s [%s] %s %s, tolerance %s -> %s\n",
			t.Name, t.ID, t.Frequency, t.StartTime, t.Tolerance, ts.Action)
		if verbose {
			if ts.Reason != "" {
				fmt.Printf("  %s\n", ts.Reason)
			}
			if ts.Previous != nil {
				scanned, total := ts.Previous.Counts()
				fmt.Printf("  Today: %s (%d/%d)\n", ts.Previous.State, scanned, total)
			}
			fmt.Printf("  Checkpoints: %d\n", len(t.Checkpoints))
		}
	}
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	r, err := device.Session.Start(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("start round: %w", err)
	}
	printRound(r)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	r, sum, err := device.Session.Resume(cmd.Context())
	if err != nil {
		return fmt.Errorf("resume round: %w", err)
	}
	switch {
	case sum != nil:
		printSummary(sum)
	case r != nil:
		printRound(r)
	default:
		fmt.Println("No round in progress.")
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid checkpoint number: %s", args[0])
	}

	// Each invocation is a fresh process, so adopt the round first.
	if _, sum, err := device.Session.Resume(ctx); err != nil {
		return fmt.Errorf("resume round: %w", err)
	} else if sum != nil {
		printSummary(sum)
		return nil
	}

	cp, err := device.Session.OpenScanner(n - 1)
	if err != nil {
		return fmt.Errorf("open scanner: %w", err)
	}

	res, err := device.Session.Scan(ctx, args[1])
	if err != nil {
		device.Session.CloseScanner()
		return fmt.Errorf("scan %s: %w", cp.Name, err)
	}

	if res.AwaitingAnswers {
		missing := unanswered(res.Questions, scanAnswers)
		if len(missing) > 0 {
			device.Session.CloseScanner()
			return fmt.Errorf("checkpoint %s needs answers: %s", cp.Name, strings.Join(missing, "; "))
		}
		photo, err := readAttachment(scanPhoto)
		if err != nil {
			device.Session.CloseScanner()
			return err
		}
		res, err = device.Session.SubmitAnswers(ctx, scanAnswers, photo)
		if err != nil {
			return fmt.Errorf("submit answers: %w", err)
		}
	}

	syncMark := ""
	if !res.Synced {
		syncMark = " (saved offline)"
	}
	fmt.Printf("✓ %s recorded%s. %d/%d checkpoints.\n", res.Checkpoint, syncMark, res.Scanned, res.Total)
	return nil
}

func runTerminate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if _, sum, err := device.Session.Resume(ctx); err != nil {
		return fmt.Errorf("resume round: %w", err)
	} else if sum != nil {
		printSummary(sum)
		return nil
	}

	sum, err := device.Session.Terminate(ctx)
	if err != nil {
		return fmt.Errorf("terminate round: %w", err)
	}
	printSummary(sum)
	return nil
}

func unanswered(questions []string, answers map[string]string) []string {
	var missing []string
	for _, q := range questions {
		if strings.TrimSpace(answers[q]) == "" {
			missing = append(missing, q)
		}
	}
	return missing
}

func printRound(r *models.Round) {
	scanned, total := r.Counts()
	fmt.Printf("Round %s\n", r.ID)
	fmt.Printf("  Template: %s\n", r.TemplateName)
	fmt.Printf("  State:    %s\n", r.State)
	fmt.Printf("  Started:  %s\n", r.StartedAt.Local().Format("15:04:05"))
	fmt.Printf("  Deadline: %s\n", r.Deadline().Local().Format("15:04:05"))
	fmt.Printf("  Progress: %d/%d\n", scanned, total)
	for i, cp := range r.Checkpoints {
		mark := " "
		if r.Records[i].Scanned {
			mark = "✓"
		}
		fmt.Printf("  [%s] %d. %s\n", mark, i+1, cp.Name)
	}
}

func printSummary(s *service.Summary) {
	how := "terminated"
	if s.Auto {
		how = "closed by the tolerance window"
	}
	fmt.Printf("Round %s %s: %s\n", s.RoundID, how, s.State)
	fmt.Printf("  Checkpoints: %d/%d\n", s.Scanned, s.Total)
	fmt.Printf("  Duration:    %s\n", service.FormatElapsed(s.EndedAt.Sub(s.StartedAt)))
	if len(s.Missing) > 0 {
		fmt.Printf("  Missing:     %s\n", strings.Join(s.Missing, ", "))
	}
	if !s.Synced {
		fmt.Println("  Saved offline; it will sync when the store is reachable.")
	}
}
