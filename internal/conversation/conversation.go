// Package conversation normalizes the chat history sent by clients.
package conversation

import (
	"errors"
	"strings"

	"github.com/dvloznov/aegis/internal/apperr"
	"github.com/dvloznov/aegis/internal/llm"
)

// Message is one client-supplied chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the processed history.
type Conversation struct {
	Messages      []Message
	LatestMessage string
}

// Process keeps user and assistant messages with non-empty trimmed content,
// retains the last limit of them and requires the last to come from the user.
// A limit of zero or less keeps everything.
func Process(messages []Message, limit int) (*Conversation, error) {
	kept := make([]Message, 0, len(messages))
	for _, m := range messages {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		kept = append(kept, Message{Role: role, Content: content})
	}

	if len(kept) == 0 {
		return nil, apperr.User("conversation.Process", errors.New("no user messages provided"))
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	last := kept[len(kept)-1]
	if last.Role != llm.RoleUser {
		return nil, apperr.User("conversation.Process", errors.New("the last message must be from the user"))
	}

	return &Conversation{Messages: kept, LatestMessage: last.Content}, nil
}

// LLMMessages converts the history for a model request.
func (c *Conversation) LLMMessages() []llm.Message {
	out := make([]llm.Message, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Transcript renders the history as "role: content" lines for prompts.
func (c *Conversation) Transcript() string {
	var sb strings.Builder
	for i, m := range c.Messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}
