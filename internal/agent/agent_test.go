package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/tool"
)

// scriptedProvider returns canned responses in order and records requests.
type scriptedProvider struct {
	responses []*llm.CompletionResponse
	err       error
	requests  []llm.CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.requests) > len(p.responses) {
		return &llm.CompletionResponse{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{{ID: "x", Name: "count"}}}, nil
	}
	return p.responses[len(p.requests)-1], nil
}

func (p *scriptedProvider) ModelID() string { return "scripted" }

type countTool struct {
	calls int
	fail  bool
}

func (c *countTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "count",
		Description: "Count calls\nsecond line",
		InputSchema: tool.MustSchema(map[string]any{"type": "object"}),
	}
}

func (c *countTool) Execute(context.Context, json.RawMessage) (string, error) {
	c.calls++
	if c.fail {
		return "", errors.New("boom")
	}
	return `{"count":1}`, nil
}

func newAgent(t *testing.T, p llm.Provider, tools ...tool.Tool) *Agent {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tools...))
	a, err := New(Spec{Provider: p, Registry: reg, ProjectID: "g/p", MaxToolIter: 3, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return a
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(Spec{})
	assert.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	schemas := []llm.ToolSchema{
		{Name: "list_gitlab_issues", Description: "List issues"},
		{Name: "mystery"},
	}
	got := BuildSystemPrompt("You are Ken.", "group/proj", "## Project Context for group/proj\n", schemas)

	assert.True(t, strings.HasPrefix(got, "You are Ken.\n\n## Current GitLab Project\nProject: group/proj\n"))
	assert.Contains(t, got, "## Project Context for group/proj\n")
	assert.Contains(t, got, "\n## Available GitLab Tools\n- `list_gitlab_issues`: List issues\n- `mystery`: No description\n")
	assert.Less(t, strings.Index(got, "Project Context"), strings.Index(got, "Available GitLab Tools"))

	assert.Equal(t, "persona", BuildSystemPrompt("persona", "", "", nil))
}

func TestChat_PlainAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{Text: "hello", StopReason: llm.StopReasonEndTurn},
	}}
	a := newAgent(t, p)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "earlier"},
		{Role: llm.RoleAssistant, Content: "reply"},
	}
	out, err := a.Chat(context.Background(), "hi", history)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "hi", req.Messages[2].Content)
	assert.Contains(t, req.SystemPrompt, DefaultPersona)
	assert.Len(t, history, 2)
}

func TestChat_ToolRoundTrip(t *testing.T) {
	ct := &countTool{}
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{
			{ID: "a", Name: "count", Input: json.RawMessage(`{}`)},
			{ID: "b", Name: "count"},
		}},
		{Text: "two calls", StopReason: llm.StopReasonEndTurn},
	}}
	a := newAgent(t, p, ct)

	out, err := a.Chat(context.Background(), "count twice", nil)
	require.NoError(t, err)
	assert.Equal(t, "two calls", out)
	assert.Equal(t, 2, ct.calls)

	require.Len(t, p.requests, 2)
	msgs := p.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Len(t, msgs[1].ToolUses, 2)
	require.NotNil(t, msgs[2].ToolResult)
	assert.Equal(t, "a", msgs[2].ToolResult.ToolUseID)
	assert.Equal(t, "count", msgs[2].ToolResult.Name)
	assert.Equal(t, "b", msgs[3].ToolResult.ToolUseID)
	assert.Len(t, p.requests[1].Tools, 1)
}

func TestChat_ToolErrorFedBack(t *testing.T) {
	ct := &countTool{fail: true}
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{{ID: "a", Name: "count"}}},
		{StopReason: llm.StopReasonToolUse, ToolUses: []llm.ToolUse{{ID: "b", Name: "ghost"}}},
		{Text: "recovered", StopReason: llm.StopReasonEndTurn},
	}}
	a := newAgent(t, p, ct)

	out, err := a.Chat(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)

	msgs := p.requests[2].Messages
	first := msgs[2].ToolResult
	require.NotNil(t, first)
	assert.True(t, first.IsError)
	assert.Contains(t, first.Content, "boom")
	second := msgs[4].ToolResult
	require.NotNil(t, second)
	assert.True(t, second.IsError)
	assert.Contains(t, second.Content, "unknown tool")
}

func TestChat_IterationLimit(t *testing.T) {
	p := &scriptedProvider{}
	a := newAgent(t, p, &countTool{})

	_, err := a.Chat(context.Background(), "loop", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolLoop))
	assert.Len(t, p.requests, 3)
}

func TestChat_ProviderError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("down")}
	a := newAgent(t, p)

	_, err := a.Chat(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
}

func TestChat_MaxTokens(t *testing.T) {
	p := &scriptedProvider{responses: []*llm.CompletionResponse{
		{Text: "partial", StopReason: llm.StopReasonMaxTokens},
	}}
	out, err := newAgent(t, p).Chat(context.Background(), "long", nil)
	require.NoError(t, err)
	assert.Equal(t, "partial", out)

	p = &scriptedProvider{responses: []*llm.CompletionResponse{{StopReason: llm.StopReasonMaxTokens}}}
	_, err = newAgent(t, p).Chat(context.Background(), "long", nil)
	assert.Error(t, err)
}
