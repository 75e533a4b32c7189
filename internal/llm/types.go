// Package llm defines the provider interface the chat agent talks to and
// the OpenAI-compatible and Gemini implementations of it.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// StopReason describes why the LLM stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// ToolUse represents a tool call requested by the LLM.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is a single turn in the conversation. An assistant message may
// carry tool calls; a tool result travels in its own message.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolUses   []ToolUse   `json:"tool_uses,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolResult is the result returned to the LLM after executing a tool.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ToolSchema describes a tool's interface for the LLM.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"` // JSON Schema object
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolSchema
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	StopReason   string    // StopReasonEndTurn | StopReasonToolUse | StopReasonMaxTokens
	ToolUses     []ToolUse // populated when StopReason == StopReasonToolUse
	InputTokens  int
	OutputTokens int
}

// Provider is the abstraction over language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}

// ToolResultMessage creates a Message containing a tool result for the conversation.
func ToolResultMessage(tu ToolUse, content string, isError bool) Message {
	return Message{
		Role: RoleUser,
		ToolResult: &ToolResult{
			ToolUseID: tu.ID,
			Name:      tu.Name,
			Content:   content,
			IsError:   isError,
		},
	}
}
