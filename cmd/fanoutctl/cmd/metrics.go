package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type queueStats struct {
	Queued int64 `json:"queued"`
}

type targetStats struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
}

// metricsCmd shows the outstanding tasks per priority.
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show queue depths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]queueStats
		if err := getJSON("/metrics", &stats); err != nil {
			return err
		}
		if outputJSON {
			printOutput(stats)
			return nil
		}
		fmt.Fprintf(out, "%-6s %10s\n", "QUEUE", "QUEUED")
		for _, p := range []string{"high", "low"} {
			fmt.Fprintf(out, "%-6s %10d\n", p, stats[p].Queued)
		}
		return nil
	},
}

// targetsCmd shows the per-target outcome ledger.
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Show per-target attempts, successes and failures",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]targetStats
		if err := getJSON("/target_metrics", &stats); err != nil {
			return err
		}
		if outputJSON {
			printOutput(stats)
			return nil
		}
		if len(stats) == 0 {
			fmt.Fprintln(out, "No targets seen yet")
			return nil
		}
		names := make([]string, 0, len(stats))
		for k := range stats {
			names = append(names, k)
		}
		sort.Strings(names)

		fmt.Fprintf(out, "%-50s %9s %9s %9s\n", "TARGET", "ATTEMPTS", "SUCCESS", "FAILED")
		for _, n := range names {
			s := stats[n]
			fmt.Fprintf(out, "%-50s %9d %9d %9d\n", n, s.Attempts, s.Successes, s.Failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(targetsCmd)
}
