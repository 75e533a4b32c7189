// Package agent runs the chat loop: the model answers a user message,
// calling registry tools as often as it needs before replying.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/tool"
)

// DefaultMaxToolIter bounds the model round trips of one Chat call.
const DefaultMaxToolIter = 10

// DefaultPersona is the base system prompt.
const DefaultPersona = `You are Ken, an AI assistant specialized in GitLab issue management.

Your primary responsibilities:
- Help users query and understand GitLab issues
- Provide insights about project activity and status
- Answer questions about issues, assignees, labels, and milestones
- Suggest actionable next steps for issue management

When responding:
- Be concise and helpful
- Use the provided project context to give accurate information
- Format responses clearly with bullet points or numbered lists when appropriate
- Always base responses on the actual project data provided

If you don't have enough context or information, ask for clarification rather than guessing.`

// ErrToolLoop is returned when the model keeps calling tools past MaxToolIter.
var ErrToolLoop = errors.New("agent: exceeded max tool iterations")

// Spec describes how to construct an agent.
type Spec struct {
	Provider llm.Provider
	// Registry may be nil for a plain completion agent.
	Registry    *tool.Registry
	Persona     string
	ProjectID   string
	ContextText string
	Temperature float64
	MaxTokens   int
	MaxToolIter int
	Logger      zerolog.Logger
}

// Agent is a configured chat loop. It holds no conversation state; callers
// pass history on every Chat.
type Agent struct {
	spec    Spec
	system  string
	schemas []llm.ToolSchema
	logger  zerolog.Logger
}

// New creates an Agent from a Spec.
func New(spec Spec) (*Agent, error) {
	if spec.Provider == nil {
		return nil, fmt.Errorf("agent: provider is required")
	}
	if spec.MaxToolIter <= 0 {
		spec.MaxToolIter = DefaultMaxToolIter
	}
	if spec.Persona == "" {
		spec.Persona = DefaultPersona
	}
	var schemas []llm.ToolSchema
	if spec.Registry != nil {
		schemas = spec.Registry.Schemas()
	}
	return &Agent{
		spec:    spec,
		system:  BuildSystemPrompt(spec.Persona, spec.ProjectID, spec.ContextText, schemas),
		schemas: schemas,
		logger:  spec.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// SystemPrompt returns the composed system prompt.
func (a *Agent) SystemPrompt() string { return a.system }

// BuildSystemPrompt appends the current project, its rendered context and
// the tool list to the persona. Empty parts are left out.
func BuildSystemPrompt(persona, projectID, contextText string, schemas []llm.ToolSchema) string {
	var b strings.Builder
	b.WriteString(persona)
	if projectID != "" {
		fmt.Fprintf(&b, "\n\n## Current GitLab Project\nProject: %s\n", projectID)
	}
	if contextText != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(contextText, "\n"))
		b.WriteString("\n")
	}
	if len(schemas) > 0 {
		b.WriteString("\n## Available GitLab Tools\n")
		for _, s := range schemas {
			desc := s.Description
			if desc == "" {
				desc = "No description"
			}
			// Only the first line keeps the prompt compact for multi-line descriptions.
			desc, _, _ = strings.Cut(desc, "\n")
			fmt.Fprintf(&b, "- `%s`: %s\n", s.Name, desc)
		}
	}
	return b.String()
}

// Chat sends message after history and runs tool calls until the model
// produces a final answer.
func (a *Agent) Chat(ctx context.Context, message string, history []llm.Message) (string, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	for iter := 0; iter < a.spec.MaxToolIter; iter++ {
		resp, err := a.spec.Provider.Complete(ctx, llm.CompletionRequest{
			Messages:     msgs,
			SystemPrompt: a.system,
			Tools:        a.schemas,
			MaxTokens:    a.spec.MaxTokens,
			Temperature:  a.spec.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("agent: llm complete: %w", err)
		}

		a.logger.Debug().
			Str("stop_reason", resp.StopReason).
			Int("iter", iter).
			Int("tool_calls", len(resp.ToolUses)).
			Int("input_tokens", resp.InputTokens).
			Int("output_tokens", resp.OutputTokens).
			Msg("llm response")

		switch resp.StopReason {
		case llm.StopReasonToolUse:
			if len(resp.ToolUses) == 0 {
				return "", fmt.Errorf("agent: stop_reason=tool_use but no tool calls in response")
			}
			msgs = append(msgs, llm.Message{
				Role:     llm.RoleAssistant,
				Content:  resp.Text,
				ToolUses: resp.ToolUses,
			})
			for _, tu := range resp.ToolUses {
				result, toolErr := a.executeToolUse(ctx, tu)
				msgs = append(msgs, llm.ToolResultMessage(tu, result, toolErr != nil))
			}

		case llm.StopReasonMaxTokens:
			if resp.Text != "" {
				a.logger.Warn().Msg("response truncated at max tokens")
				return resp.Text, nil
			}
			return "", fmt.Errorf("agent: hit max tokens limit")

		default:
			return resp.Text, nil
		}
	}

	return "", fmt.Errorf("%w (%d)", ErrToolLoop, a.spec.MaxToolIter)
}

// executeToolUse never fails the chat: errors become error results the
// model can read and recover from.
func (a *Agent) executeToolUse(ctx context.Context, tu llm.ToolUse) (string, error) {
	if a.spec.Registry == nil {
		return "tool error: no tools available", fmt.Errorf("no tool registry")
	}
	a.logger.Debug().Str("tool", tu.Name).RawJSON("input", rawOrEmpty(tu.Input)).Msg("executing tool")
	result, err := a.spec.Registry.Execute(ctx, tu.Name, tu.Input)
	if err != nil {
		a.logger.Warn().Err(err).Str("tool", tu.Name).Msg("tool execution error")
		return fmt.Sprintf("tool error: %v", err), err
	}
	return result, nil
}

func rawOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
