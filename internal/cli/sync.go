package cli

import (
	"fmt"

	"github.com/raphaelgruber/patrolsync/internal/client"
	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	syncServer  string
	statsServer string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued writes against the remote store now",
	Long: `Run a reconciliation pass: replay the pending-operation queue in order and
push checkpoints of the active round that the remote store is missing.

With --server, the pass runs in the agent at that URL.`,
	RunE: runSync,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List writes waiting to be synchronized",
	RunE:  runQueue,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	RunE:  runStats,
}

func init() {
	syncCmd.Flags().StringVar(&syncServer, "server", "", "agent URL (e.g. http://localhost:8585)")
	statsCmd.Flags().StringVar(&statsServer, "server", "", "agent URL (e.g. http://localhost:8585)")
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncServer != "" {
		res, err := client.New(syncServer).Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		printPass(*res)
		return nil
	}

	printPass(device.Reconciler.Trigger(cmd.Context(), service.ReasonManual))
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	ops, undecodable, err := device.Queue.All(cmd.Context())
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}

	if len(ops) == 0 && len(undecodable) == 0 {
		fmt.Println("Queue is empty.")
		return nil
	}

	fmt.Printf("Pending writes (%d):\n\n", len(ops)+len(undecodable))
	for _, p := range ops {
		fmt.Printf("- %s [%s] %s\n", p.ID, p.Kind(), p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		if verbose {
			fmt.Printf("  Post: %s/%s/%s\n", p.Client, p.Site, p.Unit)
		}
	}
	for _, u := range undecodable {
		fmt.Printf("- %s [undecodable] %v\n", u.ID, u.Err)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsServer != "" {
		snap, err := client.New(statsServer).Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("get agent stats: %w", err)
		}
		printStats(*snap)
		return nil
	}
	printStats(device.Metrics.Snapshot())
	return nil
}

func printPass(res service.PassResult) {
	if res.Skipped {
		fmt.Printf("Sync skipped: %s\n", res.SkipReason)
		return
	}
	fmt.Printf("Synced %d/%d\n", res.Synced, res.Total)
	if res.Failed > 0 {
		fmt.Printf("  Failed (kept for retry): %d\n", res.Failed)
	}
	if res.Discarded > 0 {
		fmt.Printf("  Discarded (invalid):     %d\n", res.Discarded)
	}
	if res.Repaired > 0 {
		fmt.Printf("  Round records pushed:    %d\n", res.Repaired)
	}
}

// printStats displays runtime statistics.
func printStats(snap metrics.Snapshot) {
	fmt.Printf("Statistics (in-memory, since start)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", snap.UptimeSeconds)

	for _, op := range snap.Operations {
		fmt.Printf("\n%s:\n", op.Name)
		printOpStats(op)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
