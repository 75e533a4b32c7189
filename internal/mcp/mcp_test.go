package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/p-blackswan/ken/internal/errors"
	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/tool"
)

type echoTool struct{}

func (echoTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "echo",
		Description: "Echo the message back",
		InputSchema: tool.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]string{"type": "string"},
			},
			"required": []string{"message"},
		}),
	}
}

func (echoTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", err
	}
	if in.Message == "" {
		return "", errors.New("message is required")
	}
	return "echo: " + in.Message, nil
}

func connectInProcess(t *testing.T, reg *tool.Registry) *Client {
	t.Helper()
	ctx := context.Background()

	c, err := client.NewInProcessClient(NewServer(reg, "test"))
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	cl := &Client{c: c, name: "in-process", logger: zerolog.Nop()}
	require.NoError(t, cl.initialize(ctx, "test"))
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestServerRoundTrip(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	cl := connectInProcess(t, reg)

	tools, err := cl.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	schema := tools[0].Schema()
	assert.Equal(t, "echo", schema.Name)
	assert.Equal(t, "Echo the message back", schema.Description)
	assert.Contains(t, string(schema.InputSchema), "message")

	out, err := tools[0].Execute(context.Background(), json.RawMessage(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
}

func TestRemoteToolError(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	cl := connectInProcess(t, reg)

	tools, err := cl.Tools(context.Background())
	require.NoError(t, err)

	_, err = tools[0].Execute(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is required")
}

func TestRemoteToolsRegister(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	cl := connectInProcess(t, reg)

	tools, err := cl.Tools(context.Background())
	require.NoError(t, err)

	local := tool.NewRegistry()
	require.NoError(t, local.Register(tools...))
	out, err := local.Execute(context.Background(), "echo", json.RawMessage(`{"message":"via registry"}`))
	require.NoError(t, err)
	assert.Equal(t, "echo: via registry", out)
}

func TestConnect_NotConfigured(t *testing.T) {
	_, err := Connect(context.Background(), Options{}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrNotConfigured))
}
