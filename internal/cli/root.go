package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cdr-backoffice/internal/core/ports"
)

// Operations are the services the CLI drives directly, bypassing the worker.
type Operations struct {
	Scanner     ports.DocumentScanner
	Processor   ports.DocumentProcessor
	Retry       ports.RetryService
	Maintenance ports.MaintenanceService
	Reports     ports.ReportReader
	Queue       ports.TaskQueue
}

// Loader builds Operations for one command run. The returned func releases resources.
type Loader func(ctx context.Context) (*Operations, func(), error)

type app struct {
	load Loader
	ops  *Operations
}

func NewRootCommand(load Loader) *cobra.Command {
	a := &app{load: load}
	var release func()

	root := &cobra.Command{
		Use:           "cdrctl",
		Short:         "Operate the CDR reconciliation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipsLoad(cmd) {
				return nil
			}
			ops, done, err := a.load(cmd.Context())
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			a.ops = ops
			release = done
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if release != nil {
				release()
			}
		},
	}

	root.AddCommand(
		a.scanCommand(),
		a.processCommand(),
		a.retryDocumentCommand(),
		a.retryFailedCommand(),
		a.retryBadCaseCommand(),
		a.sweepCommand(),
		a.orphansCommand(),
		a.listCommand(),
		a.statsCommand(),
		a.exportCommand(),
	)
	return root
}

// Execute runs the CLI against os.Args and reports errors on stderr.
func Execute(ctx context.Context, load Loader) error {
	root := NewRootCommand(load)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// skipsLoad reports whether cmd is cobra's built-in help or completion, which need no services.
func skipsLoad(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "help" || c.Name() == "completion" {
			return true
		}
	}
	return false
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
