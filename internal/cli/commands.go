package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
	"github.com/kirillkom/cdr-backoffice/internal/infrastructure/report"
)

func (a *app) publish(cmd *cobra.Command, task domain.Task) error {
	task.EnqueuedAt = time.Now().UTC()
	if err := a.ops.Queue.Publish(cmd.Context(), task); err != nil {
		return fmt.Errorf("publish %s: %w", task.Type, err)
	}
	return printJSON(cmd.OutOrStdout(), map[string]string{"task": string(task.Type), "status": "queued"})
}

func (a *app) scanCommand() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Claim new CDR files from the intake directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if async {
				return a.publish(cmd, domain.Task{Type: domain.TaskScan})
			}
			result, err := a.ops.Scanner.ScanNewFiles(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "publish a scan task instead of scanning in-process")
	return cmd
}

func (a *app) processCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process <document-id>",
		Short: "Process one pending document in-process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ops.Processor.ProcessByID(cmd.Context(), args[0]); err != nil {
				return err
			}
			doc, err := a.ops.Reports.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func (a *app) retryDocumentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-document <document-id>",
		Short: "Reset a failed document and enqueue it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ops.Retry.RetryDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"document_id": args[0], "status": string(domain.StatusPending)})
		},
	}
}

func (a *app) retryFailedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Retry every failed document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			retried, err := a.ops.Retry.RetryFailedDocuments(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"retried": retried})
		},
	}
}

func (a *app) retryBadCaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-bad-case <bad-case-id>",
		Short: "Re-run reconciliation for the ICCID of a bad case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, message, err := a.ops.Retry.RetryBadCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"bad_case_id": args[0], "success": ok, "message": message})
		},
	}
}

func (a *app) sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete successful documents past the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deleted, err := a.ops.Maintenance.SweepSucceeded(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{"deleted": deleted})
		},
	}
}

func (a *app) orphansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "Reconcile files in processing/ with document rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := a.ops.Maintenance.ReconcileOrphans(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, optionally by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := a.ops.Reports.ListDocuments(cmd.Context(), domain.DocumentStatus(status), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, doc := range docs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					doc.ID, doc.Status, doc.Filename, doc.Counters.Processed, doc.Counters.Total, doc.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, processing, success or failed")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of documents")
	return cmd
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document and bad case statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := a.ops.Reports.DocumentStats(cmd.Context())
			if err != nil {
				return err
			}
			badCases, err := a.ops.Reports.BadCaseStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"documents": docs, "bad_cases": badCases})
		},
	}
}

func (a *app) exportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-bad-cases <document-id>",
		Short: "Write the bad cases of a document to an XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.ops.Reports.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cases, err := a.ops.Reports.ListBadCasesByDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = "bad_cases_" + doc.ID + ".xlsx"
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := report.WriteBadCases(f, doc, cases); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bad cases to %s\n", len(cases), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default bad_cases_<id>.xlsx)")
	return cmd
}
