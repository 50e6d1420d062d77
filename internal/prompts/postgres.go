package prompts

import (
	"context"
	"fmt"

	"github.com/dvloznov/aegis/internal/infra/postgres"
)

// PostgresStore reads the latest version of each prompt from the prompts table.
type PostgresStore struct {
	db postgres.Querier
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db postgres.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, layer, name string) (*Prompt, error) {
	var (
		p          Prompt
		userPrompt *string
		toolDef    *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT layer, name, version, system_prompt, user_prompt, tool_definition
		FROM prompts
		WHERE layer = $1 AND name = $2
		ORDER BY created_at DESC
		LIMIT 1`, layer, name).
		Scan(&p.Layer, &p.Name, &p.Version, &p.SystemPrompt, &userPrompt, &toolDef)
	if postgres.IsNoRows(err) {
		return nil, fmt.Errorf("PostgresStore.Get %s/%s: %w", layer, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("PostgresStore.Get %s/%s: %w", layer, name, err)
	}
	if userPrompt != nil {
		p.UserPrompt = *userPrompt
	}
	if toolDef != nil {
		p.ToolDefinition = *toolDef
	}
	return &p, nil
}
