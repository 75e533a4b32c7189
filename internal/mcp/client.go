// Package mcp connects to external Model Context Protocol tool servers and
// exposes a tool registry as one.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	kerrors "github.com/p-blackswan/ken/internal/errors"
	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/retry"
	"github.com/p-blackswan/ken/internal/tool"
)

const (
	listTimeout = 10 * time.Second
	callTimeout = 30 * time.Second

	clientName = "ken"
)

// Options selects the transport. Command starts a stdio subprocess; URL
// connects over SSE. Command wins when both are set.
type Options struct {
	Command string
	Args    []string
	Env     []string
	URL     string
	Version string
}

// Client is an initialized MCP session.
type Client struct {
	c      *client.Client
	name   string
	logger zerolog.Logger
}

// Connect starts the transport and performs the initialize handshake.
func Connect(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	var (
		c    *client.Client
		err  error
		name string
	)
	switch {
	case opts.Command != "":
		name = opts.Command
		c, err = client.NewStdioMCPClient(opts.Command, opts.Env, opts.Args...)
		if err != nil {
			return nil, fmt.Errorf("mcp: starting %s: %w: %w", opts.Command, kerrors.ErrTransport, err)
		}
	case opts.URL != "":
		name = opts.URL
		c, err = client.NewSSEMCPClient(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("mcp: connecting %s: %w: %w", opts.URL, kerrors.ErrTransport, err)
		}
		if err := c.Start(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("mcp: starting sse stream: %w: %w", kerrors.ErrTransport, err)
		}
	default:
		return nil, fmt.Errorf("mcp: %w: no command or url", kerrors.ErrNotConfigured)
	}

	cl := &Client{c: c, name: name, logger: logger.With().Str("component", "mcp.client").Logger()}
	if err := cl.initialize(ctx, opts.Version); err != nil {
		_ = c.Close()
		return nil, err
	}
	return cl, nil
}

// initialize retries the handshake since a freshly spawned server may not
// be ready to answer.
func (c *Client) initialize(ctx context.Context, version string) error {
	if version == "" {
		version = "dev"
	}
	req := gomcp.InitializeRequest{}
	req.Params.ProtocolVersion = gomcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = gomcp.Implementation{Name: clientName, Version: version}

	err := retry.Do(ctx, retry.ConnectConfig(), func(ctx context.Context) error {
		res, err := c.c.Initialize(ctx, req)
		if err != nil {
			c.logger.Debug().Err(err).Str("server", c.name).Msg("initialize failed")
			return err
		}
		c.logger.Info().
			Str("server", res.ServerInfo.Name).
			Str("version", res.ServerInfo.Version).
			Msg("mcp server connected")
		return nil
	})
	if err != nil {
		return fmt.Errorf("mcp: initialize %s: %w: %w", c.name, kerrors.ErrTransport, err)
	}
	return nil
}

// Tools lists the server's tools as registry tools.
func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	res, err := c.c.ListTools(ctx, gomcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools: %w", err)
	}
	out := make([]tool.Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := inputSchema(t)
		if err != nil {
			c.logger.Warn().Err(err).Str("tool", t.Name).Msg("skipping tool with bad schema")
			continue
		}
		out = append(out, &remoteTool{
			client: c,
			schema: llm.ToolSchema{Name: t.Name, Description: t.Description, InputSchema: schema},
		})
	}
	c.logger.Debug().Int("count", len(out)).Msg("discovered mcp tools")
	return out, nil
}

func inputSchema(t gomcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	if t.InputSchema.Type == "" {
		t.InputSchema.Type = "object"
	}
	b, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close ends the session and stops a subprocess server.
func (c *Client) Close() error {
	if c == nil || c.c == nil {
		return nil
	}
	return c.c.Close()
}

func (c *Client) call(ctx context.Context, name string, input json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	req := gomcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp: call %s: %w", name, err)
	}
	text := joinText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func joinText(content []gomcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := gomcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// remoteTool forwards Execute to tools/call on the server.
type remoteTool struct {
	client *Client
	schema llm.ToolSchema
}

func (t *remoteTool) Schema() llm.ToolSchema { return t.schema }

func (t *remoteTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return t.client.call(ctx, t.schema.Name, input)
}
