package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements Provider on the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// GeminiConfig configures NewGeminiProvider. BaseURL and HTTPClient are
// for tests and proxies.
type GeminiConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int
	BaseURL    string
	HTTPClient *http.Client
}

// NewGeminiProvider creates a provider backed by genai.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	p := &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.With().Str("component", "llm.gemini").Logger(),
	}
	if p.model == "" {
		p.model = defaultGeminiModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = defaultMaxTokens
	}
	return p, nil
}

func (p *GeminiProvider) ModelID() string { return p.model }

// geminiContents converts the conversation. Consecutive tool results are
// grouped into one user turn, as Gemini expects for parallel calls.
func geminiContents(msgs []Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range msgs {
		switch {
		case m.ToolResult != nil:
			key := "output"
			if m.ToolResult.IsError {
				key = "error"
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolResult.ToolUseID,
				Name:     m.ToolResult.Name,
				Response: map[string]any{key: m.ToolResult.Content},
			}}
			if n := len(out); n > 0 && out[n-1].Role == "user" && isFunctionResponse(out[n-1]) {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{part}})

		case m.Role == RoleAssistant:
			c := &genai.Content{Role: "model"}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			for _, tu := range m.ToolUses {
				var args map[string]any
				if len(tu.Input) > 0 {
					if err := json.Unmarshal(tu.Input, &args); err != nil {
						return nil, fmt.Errorf("%w: arguments of tool call %s (%s): %w", kerrors.ErrInvalidInput, tu.ID, tu.Name, err)
					}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tu.ID,
					Name: tu.Name,
					Args: args,
				}})
			}
			out = append(out, c)

		default:
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return out, nil
}

func isFunctionResponse(c *genai.Content) bool {
	return len(c.Parts) > 0 && c.Parts[0].FunctionResponse != nil
}

func (p *GeminiProvider) config(req CompletionRequest) *genai.GenerateContentConfig {
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(maxTok),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any = map[string]any{"type": "object", "properties": map[string]any{}}
			if len(t.InputSchema) > 0 {
				var parsed map[string]any
				if err := json.Unmarshal(t.InputSchema, &parsed); err == nil {
					schema = parsed
				}
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schema,
			})
		}
		gc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return gc
}

// Complete sends a blocking completion request.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	contents, err := geminiContents(req.Messages)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, p.config(req))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w: %w", kerrors.ErrTransport, err)
	}

	out := &CompletionResponse{Text: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.ToolUses = append(out.ToolUses, ToolUse{ID: id, Name: fc.Name, Input: args})
	}

	switch {
	case len(out.ToolUses) > 0:
		out.StopReason = StopReasonToolUse
	case len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens:
		out.StopReason = StopReasonMaxTokens
	default:
		out.StopReason = StopReasonEndTurn
	}

	p.logger.Debug().
		Str("model", model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("llm complete")
	return out, nil
}
