// Package llm is the connector to OpenAI-compatible and Gemini chat models:
// completions, streaming, embeddings and schema-validated tool calls.
package llm

import (
	"context"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tool choice values besides a tool name.
const (
	ToolChoiceAuto     = ""
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Request is a provider-neutral chat completion request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  string
	Temperature *float64
	MaxTokens   int64
}

// ToolCall is a function call returned by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is a provider-neutral completion result.
type Response struct {
	Model     string
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client is implemented by every model backend.
type Client interface {
	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends req and calls onDelta for each content fragment as it arrives.
	Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error)

	// Embed returns one embedding per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Float returns a pointer to f, for Request.Temperature.
func Float(f float64) *float64 { return &f }
