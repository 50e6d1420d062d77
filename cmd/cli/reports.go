package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/aegis/internal/infra/postgres"
)

func (c *cli) reportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect stored reports",
	}

	var (
		filter postgres.ReportFilter
		types  []string
		show   string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, or print one with --show",
		RunE: func(cmd *cobra.Command, args []string) error {
			if show != "" {
				report, err := c.app.Reports.GetReport(cmd.Context(), show)
				if err != nil {
					return err
				}
				if report == nil {
					return fmt.Errorf("report %s not found", show)
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Markdown)
				return nil
			}

			filter.ReportTypes = types
			reports, err := c.app.Reports.ListReports(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBANK\tPERIOD\tTYPE\tCREATED")
			for _, r := range reports {
				fmt.Fprintf(w, "%s\t%s\t%d %s\t%s\t%s\n", r.ID, r.BankSymbol, r.FiscalYear, r.Quarter, r.ReportType, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	list.Flags().IntSliceVar(&filter.BankIDs, "bank-id", nil, "Filter by bank id")
	list.Flags().IntVar(&filter.FiscalYear, "fiscal-year", 0, "Filter by fiscal year")
	list.Flags().StringVar(&filter.Quarter, "quarter", "", "Filter by quarter")
	list.Flags().StringSliceVar(&types, "type", nil, "Filter by report type")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of reports")
	list.Flags().StringVar(&show, "show", "", "Print the markdown of one report")

	cmd.AddCommand(list)
	return cmd
}
