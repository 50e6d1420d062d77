// Package benchmarking answers questions from the quarterly metrics table.
package benchmarking

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/infra/bigquery"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/prompts"
	"github.com/dvloznov/aegis/internal/subagents"
)

const (
	// MaxAttempts bounds the metric-selection retries.
	MaxAttempts = 3
	// MaxMetrics caps a selection.
	MaxMetrics = 15
)

// Repository is the benchmarking store.
type Repository interface {
	ListMetricNames(ctx context.Context, combos []domain.BankPeriodCombination) ([]bigquery.MetricName, error)
	QueryMetrics(ctx context.Context, combos []domain.BankPeriodCombination, metricNames []string) ([]bigquery.MetricRow, error)
}

type selectMetrics struct {
	MetricNames []string `json:"metric_names" jsonschema:"description=Exact metric names from the catalogue"`
}

var selectTool = llm.NewTool[selectMetrics]("select_metrics", "Select the metrics needed to answer the request.")

// Agent is the benchmarking subagent.
type Agent struct {
	repo    Repository
	prompts *prompts.Loader
	models  subagents.Models
}

// New creates the benchmarking subagent.
func New(repo Repository, loader *prompts.Loader, models subagents.Models) *Agent {
	return &Agent{repo: repo, prompts: loader, models: models}
}

// Name implements subagents.Subagent.
func (a *Agent) Name() string { return domain.DatabaseBenchmarking }

// Run implements subagents.Subagent.
func (a *Agent) Run(ctx context.Context, in subagents.Input, emit subagents.Emit) error {
	log := logger.FromContext(ctx)

	catalogue, err := a.repo.ListMetricNames(ctx, in.Combos)
	if err != nil {
		return fmt.Errorf("benchmarking.Run: list metrics: %w", err)
	}
	if len(catalogue) == 0 {
		emit("No benchmarking metrics are recorded for these periods.\n\n")
		return nil
	}

	names, err := a.selectMetrics(ctx, in, catalogue)
	if err != nil {
		return err
	}
	log.Info().Strs("metrics", names).Msg("Selected metrics")

	rows, err := a.repo.QueryMetrics(ctx, in.Combos, names)
	if err != nil {
		return fmt.Errorf("benchmarking.Run: query metrics: %w", err)
	}
	tables := Tables(rows, names)
	if tables == "" {
		emit("No values were found for the selected metrics.\n\n")
		return nil
	}
	emit(tables)
	emit("\n")

	system, err := a.prompts.System(ctx, prompts.LayerSubagent, "benchmarking_synthesis", map[string]string{
		"intent": in.Intent(),
	})
	if err != nil {
		return fmt.Errorf("benchmarking.Run: prompt: %w", err)
	}
	if _, err := subagents.Synthesize(ctx, in.Client, a.models, system, tables, emit); err != nil {
		return err
	}
	emit("\n\n")
	return nil
}

func (a *Agent) selectMetrics(ctx context.Context, in subagents.Input, catalogue []bigquery.MetricName) ([]string, error) {
	system, err := a.prompts.System(ctx, prompts.LayerSubagent, "benchmarking_metrics", map[string]string{
		"intent":    in.Intent(),
		"catalogue": formatCatalogue(catalogue),
	})
	if err != nil {
		return nil, fmt.Errorf("benchmarking.selectMetrics: prompt: %w", err)
	}

	known := make(map[string]bool, len(catalogue))
	for _, m := range catalogue {
		known[m.Name] = true
	}
	check := func(v *selectMetrics) error {
		if len(v.MetricNames) == 0 {
			return fmt.Errorf("select at least one metric")
		}
		if len(v.MetricNames) > MaxMetrics {
			return fmt.Errorf("select at most %d metrics, got %d", MaxMetrics, len(v.MetricNames))
		}
		for _, n := range v.MetricNames {
			if !known[n] {
				return fmt.Errorf("metric %q is not in the catalogue", n)
			}
		}
		return nil
	}

	res, err := llm.CallTool(ctx, in.Client, llm.Request{
		Model:       a.models.Select,
		Messages:    []llm.Message{llm.System(system), llm.User(in.LatestMessage)},
		Temperature: llm.Float(0),
	}, selectTool, MaxAttempts, check)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, n := range res.Value.MetricNames {
		if !contains(names, n) {
			names = append(names, n)
		}
	}
	return names, nil
}

func formatCatalogue(catalogue []bigquery.MetricName) string {
	var sb strings.Builder
	for _, m := range catalogue {
		sb.WriteString("- ")
		sb.WriteString(m.Name)
		if m.Unit.Valid && m.Unit.StringVal != "" {
			fmt.Fprintf(&sb, " (%s)", m.Unit.StringVal)
		}
		if m.IsBankSpecific {
			sb.WriteString(" [bank-specific]")
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Tables renders one Markdown table per period, newest first, with a row per
// metric in selection order and a column per bank.
func Tables(rows []bigquery.MetricRow, metricOrder []string) string {
	type key struct {
		year    int64
		quarter string
	}
	byPeriod := map[key][]bigquery.MetricRow{}
	var periods []key
	for _, r := range rows {
		k := key{r.FiscalYear, r.Quarter}
		if _, ok := byPeriod[k]; !ok {
			periods = append(periods, k)
		}
		byPeriod[k] = append(byPeriod[k], r)
	}
	sort.Slice(periods, func(i, j int) bool {
		pi := domain.Period{FiscalYear: int(periods[i].year), Quarter: periods[i].quarter}
		pj := domain.Period{FiscalYear: int(periods[j].year), Quarter: periods[j].quarter}
		return pj.Less(pi)
	})

	var sb strings.Builder
	for _, p := range periods {
		prows := byPeriod[p]
		var banks []string
		values := map[string]map[string]string{}
		units := map[string]string{}
		for _, r := range prows {
			if !contains(banks, r.BankSymbol) {
				banks = append(banks, r.BankSymbol)
			}
			if values[r.MetricName] == nil {
				values[r.MetricName] = map[string]string{}
			}
			values[r.MetricName][r.BankSymbol] = formatValue(r.MetricValue.Valid, r.MetricValue.Float64)
			if r.Unit.Valid {
				units[r.MetricName] = r.Unit.StringVal
			}
		}
		sort.Strings(banks)

		fmt.Fprintf(&sb, "#### %d %s\n\n", p.year, p.quarter)
		sb.WriteString("| Metric |")
		for _, b := range banks {
			fmt.Fprintf(&sb, " %s |", b)
		}
		sb.WriteString("\n|---|")
		for range banks {
			sb.WriteString("---|")
		}
		sb.WriteByte('\n')

		for _, m := range metricOrder {
			vals, ok := values[m]
			if !ok {
				continue
			}
			label := m
			if u := units[m]; u != "" {
				label = fmt.Sprintf("%s (%s)", m, u)
			}
			fmt.Fprintf(&sb, "| %s |", label)
			for _, b := range banks {
				v, ok := vals[b]
				if !ok {
					v = "n/a"
				}
				fmt.Fprintf(&sb, " %s |", v)
			}
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatValue(valid bool, v float64) string {
	if !valid {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
