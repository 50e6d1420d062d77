package prompts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/infra/postgres"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]string
		want     string
	}{
		{name: "replaces", template: "Bank {bank}, {quarter}", vars: map[string]string{"bank": "RY", "quarter": "Q3"}, want: "Bank RY, Q3"},
		{name: "unknown kept", template: "{bank} {missing}", vars: map[string]string{"bank": "TD"}, want: "TD {missing}"},
		{name: "json untouched", template: `{"r": 1} for {bank}`, vars: map[string]string{"bank": "BMO"}, want: `{"r": 1} for BMO`},
		{name: "no vars", template: "{bank}", want: "{bank}"},
		{name: "repeated", template: "{x}-{x}", vars: map[string]string{"x": "a"}, want: "a-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.vars))
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	assert.Equal(t, "a\n\nb", BuildSystemPrompt(" a ", "", "\n", "b\n"))
}

func TestFiscalPeriod(t *testing.T) {
	tests := []struct {
		date        string
		wantYear    int
		wantQuarter string
	}{
		{"2024-11-01", 2025, "Q1"},
		{"2024-12-31", 2025, "Q1"},
		{"2025-01-15", 2025, "Q1"},
		{"2025-02-01", 2025, "Q2"},
		{"2025-04-30", 2025, "Q2"},
		{"2025-05-01", 2025, "Q3"},
		{"2025-07-31", 2025, "Q3"},
		{"2025-08-01", 2025, "Q4"},
		{"2025-10-31", 2025, "Q4"},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			d, err := time.Parse("2006-01-02", tt.date)
			require.NoError(t, err)
			y, q := FiscalPeriod(d)
			assert.Equal(t, tt.wantYear, y)
			assert.Equal(t, tt.wantQuarter, q)
		})
	}
}

func TestFiscalContext(t *testing.T) {
	got := FiscalContext(time.Date(2024, 12, 5, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, got, "December 5, 2024")
	assert.Contains(t, got, "FY2025 Q1")
}

func TestEmbeddedDefaults(t *testing.T) {
	store, err := NewEmbeddedStore()
	require.NoError(t, err)

	for _, key := range [][2]string{
		{LayerAegis, "context"},
		{LayerGlobal, "fiscal"},
		{LayerAgent, "router"},
		{LayerAgent, "clarifier_banks"},
		{LayerAgent, "clarifier_periods"},
		{LayerAgent, "planner"},
		{LayerAgent, "summarizer"},
		{LayerSubagent, "transcripts_method"},
		{LayerSubagent, "sectioned_select"},
		{LayerETL, "call_summary_extract"},
		{LayerETL, "call_summary_dedup"},
		{LayerETL, "key_themes_group"},
		{LayerETL, "cm_outlook"},
	} {
		p, err := store.Get(context.Background(), key[0], key[1])
		require.NoError(t, err, "%s/%s", key[0], key[1])
		assert.NotEmpty(t, p.SystemPrompt)
	}

	_, err = store.Get(context.Background(), LayerAgent, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFSRejectsDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"p/a.yaml": {Data: []byte("prompts:\n  - layer: agent\n    name: x\n    system_prompt: one\n")},
		"p/b.yaml": {Data: []byte("prompts:\n  - layer: agent\n    name: x\n    system_prompt: two\n")},
	}
	_, err := LoadFS(fsys, "p")
	assert.Error(t, err)
}

func TestFallbackStore(t *testing.T) {
	embedded, err := LoadFS(fstest.MapFS{
		"p/a.yaml": {Data: []byte("prompts:\n  - layer: agent\n    name: router\n    system_prompt: embedded\n")},
	}, "p")
	require.NoError(t, err)

	t.Run("database wins", func(t *testing.T) {
		db := &postgres.QuerierFunc{QueryRowFunc: func(ctx context.Context, sql string, args ...any) postgres.Row {
			return &postgres.StaticRow{Values: []any{"agent", "router", "2.0", "from db", nil, nil}}
		}}
		p, err := NewFallbackStore(NewPostgresStore(db), embedded).Get(context.Background(), LayerAgent, "router")
		require.NoError(t, err)
		assert.Equal(t, "from db", p.SystemPrompt)
		assert.Equal(t, "2.0", p.Version)
	})

	t.Run("database missing falls back", func(t *testing.T) {
		p, err := NewFallbackStore(NewPostgresStore(&postgres.QuerierFunc{}), embedded).Get(context.Background(), LayerAgent, "router")
		require.NoError(t, err)
		assert.Equal(t, "embedded", p.SystemPrompt)
	})

	t.Run("database down falls back", func(t *testing.T) {
		db := &postgres.QuerierFunc{QueryRowFunc: func(ctx context.Context, sql string, args ...any) postgres.Row {
			return &postgres.StaticRow{Err: errors.New("connection refused")}
		}}
		p, err := NewFallbackStore(NewPostgresStore(db), embedded).Get(context.Background(), LayerAgent, "router")
		require.NoError(t, err)
		assert.Equal(t, "embedded", p.SystemPrompt)
	})

	t.Run("nowhere", func(t *testing.T) {
		db := &postgres.QuerierFunc{QueryRowFunc: func(ctx context.Context, sql string, args ...any) postgres.Row {
			return &postgres.StaticRow{Err: errors.New("connection refused")}
		}}
		_, err := NewFallbackStore(NewPostgresStore(db), embedded).Get(context.Background(), LayerAgent, "other")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestLoaderSystem(t *testing.T) {
	store, err := LoadFS(fstest.MapFS{
		"p/a.yaml": {Data: []byte(strings.Join([]string{
			"prompts:",
			"  - layer: aegis",
			"    name: context",
			"    system_prompt: You are Aegis.",
			"  - layer: global",
			"    name: fiscal",
			"    system_prompt: \"{fiscal_context}\"",
			"  - layer: agent",
			"    name: planner",
			"    system_prompt: \"Plan for {intent}.\"",
		}, "\n"))},
	}, "p")
	require.NoError(t, err)

	loader := NewLoader(store)
	loader.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

	got, err := loader.System(context.Background(), LayerAgent, "planner", map[string]string{"intent": "RBC revenue"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "You are Aegis."))
	assert.Contains(t, got, "FY2025 Q2")
	assert.True(t, strings.HasSuffix(got, "Plan for RBC revenue."))
}
