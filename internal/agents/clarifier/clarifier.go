// Package clarifier resolves which banks and fiscal periods a request is about,
// or produces the questions needed to find out.
package clarifier

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/conversation"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/metrics"
	"github.com/dvloznov/aegis/internal/prompts"
)

// MaxAttempts bounds the tool-call retries per stage.
const MaxAttempts = 3

// Catalog is the slice of the availability repository the clarifier reads.
type Catalog interface {
	ListBanks(ctx context.Context) ([]domain.Bank, error)
	ListAvailability(ctx context.Context, bankIDs []int) ([]domain.Availability, error)
	LatestPeriod(ctx context.Context, bankID int, databases []string) (*domain.Period, error)
}

// Result holds either resolved combinations or clarification questions.
type Result struct {
	Combos         []domain.BankPeriodCombination
	Clarifications []string
	QueryIntent    string
	Usage          llm.Usage
}

// NeedsClarification reports whether the pipeline must stop and ask the user.
func (r *Result) NeedsClarification() bool { return len(r.Clarifications) > 0 }

type banksFound struct {
	BankIDs     []int  `json:"bank_ids" jsonschema:"description=Ids of the banks the user is asking about"`
	QueryIntent string `json:"query_intent" jsonschema:"description=One sentence describing what the user wants"`
}

type clarificationNeeded struct {
	Question string `json:"question" jsonschema:"description=Short question to ask the user"`
}

type periodSpec struct {
	FiscalYear int      `json:"fiscal_year"`
	Quarters   []string `json:"quarters" jsonschema:"description=Quarters Q1 to Q4"`
}

type bankPeriod struct {
	BankID     int      `json:"bank_id"`
	FiscalYear int      `json:"fiscal_year"`
	Quarters   []string `json:"quarters"`
}

type periodsFound struct {
	ApplyAll     *periodSpec  `json:"apply_all,omitempty" jsonschema:"description=Period applying to every bank"`
	BankSpecific []bankPeriod `json:"bank_specific,omitempty" jsonschema:"description=Periods per bank; overrides apply_all for the banks listed"`
}

type useLatest struct{}

const (
	toolBanksFound    = "banks_found"
	toolClarification = "clarification_needed"
	toolPeriodsFound  = "periods_found"
	toolUseLatest     = "use_latest"
)

var (
	banksFoundTool    = llm.NewTool[banksFound](toolBanksFound, "Report the banks identified in the request.")
	clarificationTool = llm.NewTool[clarificationNeeded](toolClarification, "Ask the user a clarifying question.")
	periodsFoundTool  = llm.NewTool[periodsFound](toolPeriodsFound, "Report the fiscal periods identified in the request.")
	useLatestTool     = llm.NewTool[useLatest](toolUseLatest, "Use each bank's latest available period.")
)

// Clarifier runs the bank and period stages.
type Clarifier struct {
	prompts *prompts.Loader
	catalog Catalog
	model   string
}

// New creates a clarifier.
func New(loader *prompts.Loader, catalog Catalog, model string) *Clarifier {
	return &Clarifier{prompts: loader, catalog: catalog, model: model}
}

// Clarify resolves the conversation into bank-period combinations. dbNames,
// when non-empty, restricts latest-period resolution to those databases.
func (c *Clarifier) Clarify(ctx context.Context, client llm.Client, conv *conversation.Conversation, dbNames []string) (*Result, error) {
	defer metrics.ObserveStage("clarifier", time.Now())
	log := logger.FromContext(ctx)
	res := &Result{}

	banks, question, err := c.resolveBanks(ctx, client, conv, res)
	if err != nil {
		return nil, err
	}
	if question != "" {
		res.Clarifications = []string{question}
		return res, nil
	}

	combos, question, err := c.resolvePeriods(ctx, client, conv, banks, dbNames, res)
	if err != nil {
		return nil, err
	}
	if question != "" {
		res.Clarifications = []string{question}
		return res, nil
	}
	for i := range combos {
		combos[i].QueryIntent = res.QueryIntent
	}
	res.Combos = combos

	log.Info().Int("combos", len(combos)).Str("intent", res.QueryIntent).Msg("Clarified request")
	return res, nil
}

func (c *Clarifier) resolveBanks(ctx context.Context, client llm.Client, conv *conversation.Conversation, res *Result) ([]domain.Bank, string, error) {
	all, err := c.catalog.ListBanks(ctx)
	if err != nil {
		return nil, "", apperr.System("clarifier.ListBanks", err)
	}
	if len(all) == 0 {
		return nil, "", apperr.Userf("clarifier", "no banks are configured")
	}

	system, err := c.prompts.System(ctx, prompts.LayerAgent, "clarifier_banks", map[string]string{
		"bank_list": formatBanks(all),
	})
	if err != nil {
		return nil, "", apperr.System("clarifier.prompt", err)
	}

	call, err := llm.CallAnyTool(ctx, client, c.request(system, conv), []llm.Tool{banksFoundTool, clarificationTool}, MaxAttempts, nil)
	if err != nil {
		return nil, "", err
	}
	res.Usage.Add(call.Usage)

	if call.Name == toolClarification {
		return nil, questionOf(call.Arguments, "Which bank are you asking about?"), nil
	}

	var found banksFound
	if err := json.Unmarshal(call.Arguments, &found); err != nil {
		return nil, "", apperr.System("clarifier.banks_found", err)
	}
	res.QueryIntent = strings.TrimSpace(found.QueryIntent)

	byID := make(map[int]domain.Bank, len(all))
	for _, b := range all {
		byID[b.ID] = b
	}
	var banks []domain.Bank
	seen := map[int]bool{}
	for _, id := range found.BankIDs {
		b, ok := byID[id]
		if !ok {
			log := logger.FromContext(ctx)
			log.Warn().Int("bank_id", id).Msg("Dropping unknown bank id")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		banks = append(banks, b)
	}
	if len(banks) == 0 {
		return nil, "I couldn't match that to a bank I cover. Which bank are you asking about?", nil
	}
	return banks, "", nil
}

func (c *Clarifier) resolvePeriods(ctx context.Context, client llm.Client, conv *conversation.Conversation, banks []domain.Bank, dbNames []string, res *Result) ([]domain.BankPeriodCombination, string, error) {
	ids := make([]int, len(banks))
	for i, b := range banks {
		ids[i] = b.ID
	}
	avail, err := c.catalog.ListAvailability(ctx, ids)
	if err != nil {
		return nil, "", apperr.System("clarifier.ListAvailability", err)
	}

	system, err := c.prompts.System(ctx, prompts.LayerAgent, "clarifier_periods", map[string]string{
		"banks":        formatBanks(banks),
		"availability": formatAvailability(avail, dbNames),
	})
	if err != nil {
		return nil, "", apperr.System("clarifier.prompt", err)
	}

	check := func(name string, args json.RawMessage) error {
		if name != toolPeriodsFound {
			return nil
		}
		var pf periodsFound
		if err := json.Unmarshal(args, &pf); err != nil {
			return err
		}
		_, err := expandPeriods(pf, banks)
		return err
	}
	call, err := llm.CallAnyTool(ctx, client, c.request(system, conv), []llm.Tool{periodsFoundTool, useLatestTool, clarificationTool}, MaxAttempts, check)
	if err != nil {
		return nil, "", err
	}
	res.Usage.Add(call.Usage)

	switch call.Name {
	case toolClarification:
		return nil, questionOf(call.Arguments, "Which fiscal period are you interested in?"), nil
	case toolUseLatest:
		return c.latest(ctx, banks, dbNames)
	}

	var pf periodsFound
	if err := json.Unmarshal(call.Arguments, &pf); err != nil {
		return nil, "", apperr.System("clarifier.periods_found", err)
	}
	combos, err := expandPeriods(pf, banks)
	if err != nil {
		return nil, "", apperr.System("clarifier.periods_found", err)
	}
	return combos, "", nil
}

func (c *Clarifier) latest(ctx context.Context, banks []domain.Bank, dbNames []string) ([]domain.BankPeriodCombination, string, error) {
	var combos []domain.BankPeriodCombination
	var missing []string
	for _, b := range banks {
		p, err := c.catalog.LatestPeriod(ctx, b.ID, dbNames)
		if err != nil {
			return nil, "", apperr.System("clarifier.LatestPeriod", err)
		}
		if p == nil {
			missing = append(missing, b.Name)
			continue
		}
		combos = append(combos, combo(b, p.FiscalYear, p.Quarter))
	}
	if len(combos) == 0 {
		return nil, fmt.Sprintf("I don't have data for %s yet. Is there another bank or period you'd like?", strings.Join(missing, ", ")), nil
	}
	if len(missing) > 0 {
		log := logger.FromContext(ctx)
		log.Info().Strs("banks", missing).Msg("No latest period for some banks")
	}
	return combos, "", nil
}

// expandPeriods turns the periods_found arguments into combinations.
// bank_specific entries override apply_all for the banks they name.
func expandPeriods(pf periodsFound, banks []domain.Bank) ([]domain.BankPeriodCombination, error) {
	if pf.ApplyAll == nil && len(pf.BankSpecific) == 0 {
		return nil, fmt.Errorf("periods_found needs apply_all or bank_specific")
	}

	byID := make(map[int]domain.Bank, len(banks))
	for _, b := range banks {
		byID[b.ID] = b
	}

	specific := map[int][]domain.Period{}
	for _, bp := range pf.BankSpecific {
		if _, ok := byID[bp.BankID]; !ok {
			return nil, fmt.Errorf("bank_specific: bank_id %d is not one of the identified banks", bp.BankID)
		}
		periods, err := periodsOf(bp.FiscalYear, bp.Quarters)
		if err != nil {
			return nil, fmt.Errorf("bank_specific bank_id %d: %w", bp.BankID, err)
		}
		specific[bp.BankID] = append(specific[bp.BankID], periods...)
	}

	var common []domain.Period
	if pf.ApplyAll != nil {
		var err error
		if common, err = periodsOf(pf.ApplyAll.FiscalYear, pf.ApplyAll.Quarters); err != nil {
			return nil, fmt.Errorf("apply_all: %w", err)
		}
	}

	var combos []domain.BankPeriodCombination
	for _, b := range banks {
		periods, ok := specific[b.ID]
		if !ok {
			periods = common
		}
		for _, p := range dedupPeriods(periods) {
			combos = append(combos, combo(b, p.FiscalYear, p.Quarter))
		}
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("no bank-period combinations resolved")
	}
	return combos, nil
}

func periodsOf(year int, quarters []string) ([]domain.Period, error) {
	if len(quarters) == 0 {
		return nil, fmt.Errorf("at least one quarter is required")
	}
	out := make([]domain.Period, 0, len(quarters))
	for _, q := range quarters {
		p := domain.Period{FiscalYear: year, Quarter: domain.NormalizeQuarter(q)}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func dedupPeriods(in []domain.Period) []domain.Period {
	out := slices.Clone(in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return slices.Compact(out)
}

func combo(b domain.Bank, year int, quarter string) domain.BankPeriodCombination {
	return domain.BankPeriodCombination{
		BankID:     b.ID,
		BankName:   b.Name,
		BankSymbol: b.Symbol,
		BankType:   b.Type,
		FiscalYear: year,
		Quarter:    quarter,
	}
}

func (c *Clarifier) request(system string, conv *conversation.Conversation) llm.Request {
	return llm.Request{
		Model:       c.model,
		Messages:    append([]llm.Message{llm.System(system)}, conv.LLMMessages()...),
		Temperature: llm.Float(0),
	}
}

func questionOf(args json.RawMessage, fallback string) string {
	var cn clarificationNeeded
	if err := json.Unmarshal(args, &cn); err != nil || strings.TrimSpace(cn.Question) == "" {
		return fallback
	}
	return strings.TrimSpace(cn.Question)
}

func formatBanks(banks []domain.Bank) string {
	var sb strings.Builder
	for _, b := range banks {
		fmt.Fprintf(&sb, "- %d: %s (%s)\n", b.ID, b.Name, b.Symbol)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAvailability(rows []domain.Availability, dbNames []string) string {
	var sb strings.Builder
	for _, a := range rows {
		dbs := a.Databases
		if len(dbNames) > 0 {
			dbs = nil
			for _, d := range a.Databases {
				if slices.Contains(dbNames, d) {
					dbs = append(dbs, d)
				}
			}
			if len(dbs) == 0 {
				continue
			}
		}
		fmt.Fprintf(&sb, "- %s %d %s: %s\n", a.BankSymbol, a.FiscalYear, a.Quarter, strings.Join(dbs, ", "))
	}
	if sb.Len() == 0 {
		return "No data is available for these banks."
	}
	return strings.TrimRight(sb.String(), "\n")
}
