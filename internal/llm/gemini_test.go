package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

func TestGeminiContents(t *testing.T) {
	a := ToolUse{ID: "1", Name: "list_gitlab_issues", Input: json.RawMessage(`{"state":"opened"}`)}
	b := ToolUse{ID: "2", Name: "get_project_workload", Input: json.RawMessage(`{}`)}

	contents, err := geminiContents([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "checking", ToolUses: []ToolUse{a, b}},
		ToolResultMessage(a, "[]", false),
		ToolResultMessage(b, "boom", true),
		{Role: RoleAssistant, Content: "all good"},
	})
	require.NoError(t, err)

	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "hi", contents[0].Parts[0].Text)

	model := contents[1]
	assert.Equal(t, "model", model.Role)
	require.Len(t, model.Parts, 3)
	assert.Equal(t, "checking", model.Parts[0].Text)
	assert.Equal(t, "list_gitlab_issues", model.Parts[1].FunctionCall.Name)
	assert.Equal(t, "opened", model.Parts[1].FunctionCall.Args["state"])

	results := contents[2]
	assert.Equal(t, "user", results.Role)
	require.Len(t, results.Parts, 2)
	assert.Equal(t, "[]", results.Parts[0].FunctionResponse.Response["output"])
	assert.Equal(t, "get_project_workload", results.Parts[1].FunctionResponse.Name)
	assert.Equal(t, "boom", results.Parts[1].FunctionResponse.Response["error"])

	assert.Equal(t, "model", contents[3].Role)
}

func TestGeminiContents_BadToolArguments(t *testing.T) {
	bad := ToolUse{ID: "1", Name: "list_gitlab_issues", Input: json.RawMessage(`{"state":`)}
	_, err := geminiContents([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolUses: []ToolUse{bad}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "list_gitlab_issues")

	empty := ToolUse{ID: "2", Name: "get_project_workload"}
	contents, err := geminiContents([]Message{{Role: RoleAssistant, ToolUses: []ToolUse{empty}}})
	require.NoError(t, err)
	assert.Nil(t, contents[0].Parts[0].FunctionCall.Args)
}

func TestGeminiConfig(t *testing.T) {
	p := &GeminiProvider{model: "m", maxTokens: 100}
	gc := p.config(CompletionRequest{
		SystemPrompt: "persona",
		Temperature:  0.3,
		Tools: []ToolSchema{
			{Name: "a", Description: "A", InputSchema: json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`)},
			{Name: "b"},
		},
	})
	assert.Equal(t, int32(100), gc.MaxOutputTokens)
	require.NotNil(t, gc.Temperature)
	assert.InDelta(t, 0.3, *gc.Temperature, 1e-6)
	assert.Equal(t, "persona", gc.SystemInstruction.Parts[0].Text)
	require.Len(t, gc.Tools, 1)
	decls := gc.Tools[0].FunctionDeclarations
	require.Len(t, decls, 2)
	assert.Equal(t, "a", decls[0].Name)
	assert.NotNil(t, decls[1].ParametersJsonSchema)
}

func TestGemini_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"candidates":[{"content":{"role":"model","parts":[
				{"functionCall":{"name":"get_user_workload","args":{"username":"bob"}}}
			]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2}
		}`)
	}))
	defer server.Close()

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{
		APIKey:     "key",
		Model:      "gemini-test",
		BaseURL:    server.URL + "/",
		HTTPClient: server.Client(),
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "gemini-test", p.ModelID())

	resp, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "load?"}}})
	require.NoError(t, err)
	assert.Equal(t, StopReasonToolUse, resp.StopReason)
	require.Len(t, resp.ToolUses, 1)
	assert.NotEmpty(t, resp.ToolUses[0].ID)
	assert.JSONEq(t, `{"username":"bob"}`, string(resp.ToolUses[0].Input))
	assert.Equal(t, 5, resp.InputTokens)
}
