// Package reports serves the stored ETL reports for a request.
package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/subagents"
)

// Repository is the report store.
type Repository interface {
	LatestReport(ctx context.Context, combo domain.BankPeriodCombination, reportType string) (*domain.Report, error)
}

var keywords = map[string][]string{
	domain.ReportTypeCallSummary:   {"summary", "summarize", "summarise", "recap", "overview"},
	domain.ReportTypeKeyThemes:     {"theme", "topics", "analyst questions"},
	domain.ReportTypeCMReadthrough: {"readthrough", "read-through", "capital markets"},
}

// defaultTypes are served when the intent names no report.
var defaultTypes = []string{domain.ReportTypeCallSummary, domain.ReportTypeKeyThemes}

// Agent is the reports subagent.
type Agent struct {
	repo Repository
}

// New creates the reports subagent.
func New(repo Repository) *Agent {
	return &Agent{repo: repo}
}

// Name implements subagents.Subagent.
func (a *Agent) Name() string { return domain.DatabaseReports }

// Run implements subagents.Subagent.
func (a *Agent) Run(ctx context.Context, in subagents.Input, emit subagents.Emit) error {
	types := SelectTypes(in.Intent() + " " + in.LatestMessage)

	seenReadthrough := map[domain.Period]bool{}
	for _, combo := range in.Combos {
		found := false
		emit(subagents.Header(combo))
		for _, t := range types {
			lookup := combo
			if t == domain.ReportTypeCMReadthrough {
				if seenReadthrough[combo.Period()] {
					continue
				}
				seenReadthrough[combo.Period()] = true
				lookup = domain.BankPeriodCombination{BankID: 0, FiscalYear: combo.FiscalYear, Quarter: combo.Quarter}
			}
			report, err := a.repo.LatestReport(ctx, lookup, t)
			if err != nil {
				return fmt.Errorf("reports.Run: %s %s: %w", combo.Label(), t, err)
			}
			if report == nil {
				continue
			}
			found = true
			emit(Render(report))
		}
		if !found {
			emit(fmt.Sprintf("No stored %s report for this period.\n\n", strings.Join(types, " or ")))
		}
	}
	return nil
}

// SelectTypes returns the report types whose keywords appear in text, in
// canonical order, or the default types when none match.
func SelectTypes(text string) []string {
	text = strings.ToLower(text)
	var out []string
	for _, t := range []string{domain.ReportTypeCallSummary, domain.ReportTypeKeyThemes, domain.ReportTypeCMReadthrough} {
		for _, k := range keywords[t] {
			if strings.Contains(text, k) {
				out = append(out, t)
				break
			}
		}
	}
	if len(out) == 0 {
		return defaultTypes
	}
	return out
}

// Render formats a stored report with its artifact link.
func Render(r *domain.Report) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(r.Markdown))
	sb.WriteString("\n\n")
	if r.ArtifactURI != "" {
		fmt.Fprintf(&sb, "Full report: %s\n\n", r.ArtifactURI)
	}
	return sb.String()
}

var _ subagents.Subagent = (*Agent)(nil)
