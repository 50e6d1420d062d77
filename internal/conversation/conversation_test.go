package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/aegis/internal/apperr"
)

func TestProcess(t *testing.T) {
	tests := []struct {
		name       string
		messages   []Message
		limit      int
		wantLen    int
		wantLatest string
		wantErr    bool
	}{
		{
			name: "filters roles and empty content",
			messages: []Message{
				{Role: "system", Content: "ignored"},
				{Role: "user", Content: "  hello  "},
				{Role: "assistant", Content: "   "},
				{Role: "tool", Content: "ignored"},
				{Role: "USER", Content: "RBC Q3 revenue?"},
			},
			limit:      10,
			wantLen:    2,
			wantLatest: "RBC Q3 revenue?",
		},
		{
			name: "keeps last N",
			messages: []Message{
				{Role: "user", Content: "1"},
				{Role: "assistant", Content: "2"},
				{Role: "user", Content: "3"},
				{Role: "assistant", Content: "4"},
				{Role: "user", Content: "5"},
			},
			limit:      3,
			wantLen:    3,
			wantLatest: "5",
		},
		{
			name:     "last message from assistant",
			messages: []Message{{Role: "user", Content: "q"}, {Role: "assistant", Content: "a"}},
			limit:    10,
			wantErr:  true,
		},
		{
			name:     "nothing usable",
			messages: []Message{{Role: "system", Content: "x"}},
			limit:    10,
			wantErr:  true,
		},
		{
			name:       "no limit",
			messages:   []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}, {Role: "user", Content: "c"}},
			wantLen:    3,
			wantLatest: "c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv, err := Process(tt.messages, tt.limit)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsUser(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, conv.Messages, tt.wantLen)
			assert.Equal(t, tt.wantLatest, conv.LatestMessage)
		})
	}
}

func TestProcessTrimsContent(t *testing.T) {
	conv, err := Process([]Message{{Role: "user", Content: "\n hi \t"}}, 5)
	require.NoError(t, err)
	assert.Equal(t, "hi", conv.Messages[0].Content)
	assert.Equal(t, "user: hi", conv.Transcript())
	assert.Equal(t, "user", conv.LLMMessages()[0].Role)
}
