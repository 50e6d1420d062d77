// Package transcripts answers questions from earnings-call transcripts.
package transcripts

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/aegis/internal/categories"
	"github.com/dvloznov/aegis/internal/domain"
	"github.com/dvloznov/aegis/internal/llm"
	"github.com/dvloznov/aegis/internal/logger"
	"github.com/dvloznov/aegis/internal/prompts"
	"github.com/dvloznov/aegis/internal/subagents"
)

// MaxAttempts bounds the method-selection retries.
const MaxAttempts = 3

// TopK is the number of chunks returned by similarity search.
const TopK = 20

// Retrieval methods.
const (
	MethodFullSection = "full_section"
	MethodCategory    = "category"
	MethodSimilarity  = "similarity_search"
)

// Repository is the transcript store.
type Repository interface {
	ListChunks(ctx context.Context, combo domain.BankPeriodCombination, sections []string) ([]domain.TranscriptChunk, error)
	ListChunksByCategories(ctx context.Context, combo domain.BankPeriodCombination, categoryIDs []int) ([]domain.TranscriptChunk, error)
	SimilaritySearch(ctx context.Context, combo domain.BankPeriodCombination, embedding []float32, topK int) ([]domain.TranscriptChunk, error)
}

// Method is the chosen retrieval strategy.
type Method struct {
	Method       string `json:"method" jsonschema:"enum=full_section,enum=category,enum=similarity_search"`
	Sections     string `json:"sections,omitempty" jsonschema:"enum=MD,enum=QA,enum=ALL,description=Sections for full_section"`
	CategoryIDs  []int  `json:"category_ids,omitempty" jsonschema:"description=Category ids for category"`
	SearchPhrase string `json:"search_phrase,omitempty" jsonschema:"description=Phrase for similarity_search"`
}

var methodTool = llm.NewTool[Method]("select_method", "Select how to retrieve transcript content.")

// fallbackMethod is used when selection fails.
var fallbackMethod = Method{Method: MethodFullSection, Sections: categories.SectionAll}

// Agent is the transcripts subagent.
type Agent struct {
	repo    Repository
	prompts *prompts.Loader
	models  subagents.Models
}

// New creates the transcripts subagent.
func New(repo Repository, loader *prompts.Loader, models subagents.Models) *Agent {
	return &Agent{repo: repo, prompts: loader, models: models}
}

// Name implements subagents.Subagent.
func (a *Agent) Name() string { return domain.DatabaseTranscripts }

// Run implements subagents.Subagent.
func (a *Agent) Run(ctx context.Context, in subagents.Input, emit subagents.Emit) error {
	for _, combo := range in.Combos {
		if err := a.runCombo(ctx, in, combo, emit); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) runCombo(ctx context.Context, in subagents.Input, combo domain.BankPeriodCombination, emit subagents.Emit) error {
	log := logger.FromContext(ctx).With().Int("bank_id", combo.BankID).Logger()
	set, err := categories.ForBankType(combo.BankType)
	if err != nil {
		return fmt.Errorf("transcripts.Run: %w", err)
	}

	method := a.selectMethod(ctx, in, set)
	log.Info().Str("method", method.Method).Str("sections", method.Sections).Ints("category_ids", method.CategoryIDs).Msg("Selected retrieval method")

	chunks, err := a.retrieve(ctx, in.Client, combo, method)
	if err != nil {
		return fmt.Errorf("transcripts.Run: retrieve %s: %w", combo.Label(), err)
	}

	emit(subagents.Header(combo))
	if len(chunks) == 0 {
		emit("No transcript content matched this request.\n\n")
		return nil
	}

	system, err := a.prompts.System(ctx, prompts.LayerSubagent, "transcripts_synthesis", map[string]string{
		"bank_period": combo.Label(),
		"intent":      in.Intent(),
	})
	if err != nil {
		return fmt.Errorf("transcripts.Run: prompt: %w", err)
	}
	if _, err := subagents.Synthesize(ctx, in.Client, a.models, system, Format(chunks), emit); err != nil {
		return err
	}
	emit("\n\n")
	return nil
}

func (a *Agent) selectMethod(ctx context.Context, in subagents.Input, set *categories.Set) Method {
	log := logger.FromContext(ctx)
	system, err := a.prompts.System(ctx, prompts.LayerSubagent, "transcripts_method", map[string]string{
		"intent":     in.Intent(),
		"categories": set.Format(),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Method prompt unavailable, using full transcript")
		return fallbackMethod
	}

	check := func(m *Method) error {
		switch m.Method {
		case MethodCategory:
			if len(m.CategoryIDs) == 0 {
				return fmt.Errorf("category requires category_ids")
			}
			for _, id := range m.CategoryIDs {
				if _, ok := set.ByIndex(id); !ok {
					return fmt.Errorf("unknown category id %d", id)
				}
			}
		case MethodSimilarity:
			if strings.TrimSpace(m.SearchPhrase) == "" {
				return fmt.Errorf("similarity_search requires search_phrase")
			}
		}
		return nil
	}

	res, err := llm.CallTool(ctx, in.Client, llm.Request{
		Model:       a.models.Select,
		Messages:    []llm.Message{llm.System(system), llm.User(in.LatestMessage)},
		Temperature: llm.Float(0),
	}, methodTool, MaxAttempts, check)
	if err != nil {
		log.Warn().Err(err).Msg("Method selection failed, using full transcript")
		return fallbackMethod
	}
	m := res.Value
	if m.Method == MethodFullSection && m.Sections == "" {
		m.Sections = categories.SectionAll
	}
	return m
}

func (a *Agent) retrieve(ctx context.Context, client llm.Client, combo domain.BankPeriodCombination, m Method) ([]domain.TranscriptChunk, error) {
	switch m.Method {
	case MethodCategory:
		return a.repo.ListChunksByCategories(ctx, combo, m.CategoryIDs)
	case MethodSimilarity:
		vecs, err := client.Embed(ctx, []string{m.SearchPhrase})
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("embed: no vector returned")
		}
		return a.repo.SimilaritySearch(ctx, combo, vecs[0], TopK)
	default:
		return a.repo.ListChunks(ctx, combo, SectionNames(m.Sections))
	}
}

// SectionNames maps MD, QA or ALL to stored section names. ALL returns nil.
func SectionNames(s string) []string {
	switch s {
	case categories.SectionMD:
		return []string{domain.SectionManagementDiscussion}
	case categories.SectionQA:
		return []string{domain.SectionQA}
	default:
		return nil
	}
}

// Format renders chunks with a heading per section. Management discussion is
// grouped by speaker block and Q&A by exchange.
func Format(chunks []domain.TranscriptChunk) string {
	var sb strings.Builder
	section := ""
	group := -1
	for _, c := range chunks {
		if c.Section != section {
			section = c.Section
			group = -1
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "## %s\n", sectionTitle(section))
		}

		id, label := groupOf(c)
		if id != group {
			group = id
			fmt.Fprintf(&sb, "\n### %s\n", label)
		}
		if c.Speaker != "" && c.Section == domain.SectionQA {
			fmt.Fprintf(&sb, "%s: %s\n", c.Speaker, strings.TrimSpace(c.Content))
		} else {
			sb.WriteString(strings.TrimSpace(c.Content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func sectionTitle(s string) string {
	if s == domain.SectionQA {
		return "Q&A"
	}
	return "Management Discussion"
}

func groupOf(c domain.TranscriptChunk) (int, string) {
	if c.Section == domain.SectionQA && c.QAGroupID != nil {
		return *c.QAGroupID, fmt.Sprintf("Exchange %d", *c.QAGroupID)
	}
	id := 0
	if c.SpeakerBlockID != nil {
		id = *c.SpeakerBlockID
	}
	speaker := c.Speaker
	if speaker == "" {
		speaker = "Unknown speaker"
	}
	return id, fmt.Sprintf("%s (block %d)", speaker, id)
}

var _ subagents.Subagent = (*Agent)(nil)
