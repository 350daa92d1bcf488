// Package cli hosts the flux command tree
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: a completed run exits 0 even with recorded request errors; a
// configuration problem exits 1; a fatal runtime failure exits 2.
const (
	ExitOK     = 0
	ExitConfig = 1
	ExitFatal  = 2
)

// fatalError marks failures that should terminate with ExitFatal
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	return &fatalError{err: err}
}

var flagLogLevel string

// Execute runs the command tree and returns the process exit code
func Execute(version string) int {
	root := newRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var f *fatalError
		if errors.As(err, &f) {
			return ExitFatal
		}
		return ExitConfig
	}
	return ExitOK
}

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "flux",
		Short: "Container-native HTTP load-testing engine",
		Long: `flux drives a configured workload against one or more HTTP(S) endpoints
for a bounded duration, collecting per-request latency and outcome data and
producing aggregate statistics with accurate tail percentiles.

Workloads come in two shapes: a single endpoint hammered by every worker
(simple mode) or an ordered multi-step scenario with variable extraction
and step dependencies (scenario mode).

Examples:
  flux run -c config.yaml                  # Run the workload in config.yaml
  flux run -c config.yaml -w 50 -d 2m      # Override workers and duration
  flux run -c config.yaml --var token=abc  # Seed a runtime variable
  flux history                             # Show past runs`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newHistoryCmd())

	return root
}
