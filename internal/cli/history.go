package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/studiowebux/flux/internal/history"
)

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "flux-history.db"
	}
	return filepath.Join(home, ".flux", "history.db")
}

func newHistoryCmd() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past load test runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			fmt.Printf("%-5s %-20s %-22s %-6s %8s %10s %10s %8s\n",
				"ID", "STARTED", "TARGET", "MODE", "REQUESTS", "RPS", "P95(ms)", "ERR%")
			for _, run := range runs {
				fmt.Printf("%-5d %-20s %-22s %-6s %8d %10.1f %10.2f %7.2f%%\n",
					run.ID,
					run.StartedAt.Format("2006-01-02 15:04:05"),
					truncate(run.Target, 22),
					run.Mode,
					run.TotalRequests,
					run.ThroughputRPS,
					run.P95Ms,
					run.ErrorRate)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "history-db", defaultHistoryPath(), "history database path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	return cmd
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
