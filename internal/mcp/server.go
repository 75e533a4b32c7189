package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/p-blackswan/ken/internal/tool"
)

const serverInstructions = `Ken exposes GitLab project tools: issue and merge request search, project context refresh, workload reports and a glab passthrough.`

// NewServer builds an MCP server exposing every tool in reg.
func NewServer(reg *tool.Registry, version string) *server.MCPServer {
	s := server.NewMCPServer(
		clientName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)
	for _, schema := range reg.Schemas() {
		name := schema.Name
		s.AddTool(
			gomcp.NewToolWithRawSchema(name, schema.Description, schema.InputSchema),
			func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
				input, err := json.Marshal(req.GetArguments())
				if err != nil {
					return gomcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
				}
				out, err := reg.Execute(ctx, name, input)
				if err != nil {
					return gomcp.NewToolResultError(err.Error()), nil
				}
				return gomcp.NewToolResultText(out), nil
			},
		)
	}
	return s
}

// ServeStdio runs the server on stdin/stdout until the input closes.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
