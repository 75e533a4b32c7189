package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

const (
	defaultMaxTokens = 4000
	defaultModel     = "Qwen/Qwen3-32B"
)

// thinkRe strips reasoning blocks emitted by Qwen3-style models.
var thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat completions endpoint.
type OpenAIProvider struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// OpenAIOption configures the provider.
type OpenAIOption func(*OpenAIProvider)

func WithModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) { p.model = model }
}

func WithMaxTokens(n int) OpenAIOption {
	return func(p *OpenAIProvider) { p.maxTokens = n }
}

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

// NewOpenAIProvider constructs a provider posting to baseURL/chat/completions.
// apiKey may be empty for unauthenticated gateways.
func NewOpenAIProvider(baseURL, apiKey string, logger zerolog.Logger, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
		logger:    logger.With().Str("component", "llm.openai").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAIProvider) ModelID() string { return p.model }

// ---- wire types ----

type oaFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function oaFunctionCall `json:"function"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    *string      `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type oaTool struct {
	Type     string     `json:"type"`
	Function oaFunction `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func strp(s string) *string { return &s }

// buildMessages converts []Message to the chat completions shape.
func buildMessages(system string, msgs []Message) []oaMessage {
	out := make([]oaMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, oaMessage{Role: RoleSystem, Content: strp(system)})
	}
	for _, m := range msgs {
		switch {
		case m.ToolResult != nil:
			out = append(out, oaMessage{
				Role:       "tool",
				Content:    strp(m.ToolResult.Content),
				ToolCallID: m.ToolResult.ToolUseID,
			})
		case len(m.ToolUses) > 0:
			om := oaMessage{Role: RoleAssistant}
			if m.Content != "" {
				om.Content = strp(m.Content)
			}
			for _, tu := range m.ToolUses {
				args := string(tu.Input)
				if args == "" {
					args = "{}"
				}
				om.ToolCalls = append(om.ToolCalls, oaToolCall{
					ID:       tu.ID,
					Type:     "function",
					Function: oaFunctionCall{Name: tu.Name, Arguments: args},
				})
			}
			out = append(out, om)
		default:
			out = append(out, oaMessage{Role: m.Role, Content: strp(m.Content)})
		}
	}
	return out
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) oaRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	r := oaRequest{
		Model:       model,
		Messages:    buildMessages(req.SystemPrompt, req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   maxTok,
	}
	for _, t := range req.Tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		r.Tools = append(r.Tools, oaTool{
			Type:     "function",
			Function: oaFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	return r
}

// Complete sends a blocking completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	or := p.buildRequest(req)
	body, err := json.Marshal(or)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm http: %w: %w", kerrors.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var r oaResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		if resp.StatusCode >= 300 {
			return nil, kerrors.NewAPIError("llm", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if r.Error != nil {
		return nil, kerrors.NewAPIError("llm", resp.StatusCode, r.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return nil, kerrors.NewAPIError("llm", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("llm response has no choices")
	}

	choice := r.Choices[0]
	out := &CompletionResponse{
		InputTokens:  r.Usage.PromptTokens,
		OutputTokens: r.Usage.CompletionTokens,
	}
	if choice.Message.Content != nil {
		out.Text = strings.TrimSpace(thinkRe.ReplaceAllString(*choice.Message.Content, ""))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out.ToolUses = append(out.ToolUses, ToolUse{ID: id, Name: tc.Function.Name, Input: args})
	}

	switch {
	case len(out.ToolUses) > 0:
		out.StopReason = StopReasonToolUse
	case choice.FinishReason == "length":
		out.StopReason = StopReasonMaxTokens
	default:
		out.StopReason = StopReasonEndTurn
	}

	p.logger.Debug().
		Str("model", or.Model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("llm complete")
	return out, nil
}
