package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/aegis/internal/jobs"
)

func (c *cli) etlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "etl",
		Short: "Generate reports from transcripts",
	}
	cmd.AddCommand(
		c.generateCommand("call-summary", "Summarize one bank's earnings call by category", jobs.JobTypeCallSummary),
		c.generateCommand("key-themes", "Group one bank's analyst Q&A into themes", jobs.JobTypeKeyThemes),
		c.generateCommand("cm-readthrough", "Read capital markets commentary across banks", jobs.JobTypeCMReadthrough),
	)
	return cmd
}

// generateCommand runs a pipeline in process, without the job queue.
func (c *cli) generateCommand(use, short string, jobType jobs.JobType) *cobra.Command {
	var (
		bankIDs    []int
		fiscalYear int
		quarter    string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			job := &jobs.ETLJob{Type: jobType, BankIDs: bankIDs, FiscalYear: fiscalYear, Quarter: quarter}
			if err := job.Validate(); err != nil {
				return err
			}

			gen, ok := c.app.Generators[jobType]
			if !ok {
				return fmt.Errorf("no generator for %s", jobType)
			}
			client, err := c.app.ETLClient()
			if err != nil {
				return err
			}

			report, err := gen.Generate(cmd.Context(), client, job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored report %s: %s\n", report.ID, report.Title)
			if report.ArtifactURI != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Artifact: %s\n", report.ArtifactURI)
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&bankIDs, "bank-id", nil, "Bank id (repeatable for cm-readthrough)")
	cmd.Flags().IntVar(&fiscalYear, "fiscal-year", 0, "Fiscal year")
	cmd.Flags().StringVar(&quarter, "quarter", "", "Fiscal quarter (Q1-Q4)")
	_ = cmd.MarkFlagRequired("fiscal-year")
	_ = cmd.MarkFlagRequired("quarter")
	return cmd
}
