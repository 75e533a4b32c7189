package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ken/internal/llm"
)

// GlabTool runs the GitLab CLI. Arguments are passed directly to the
// binary, never through a shell.
type GlabTool struct {
	binary         string
	defaultProject string
	timeout        time.Duration
	logger         zerolog.Logger
}

// NewGlabTool creates a GlabTool. binary "" means "glab" on PATH and a zero
// timeout means 30s.
func NewGlabTool(binary, defaultProject string, timeout time.Duration, logger zerolog.Logger) *GlabTool {
	if binary == "" {
		binary = "glab"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GlabTool{
		binary:         binary,
		defaultProject: defaultProject,
		timeout:        timeout,
		logger:         logger.With().Str("component", "tool.glab").Logger(),
	}
}

type glabInput struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Project string   `json:"project,omitempty"`
}

func (t *GlabTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name: "execute_glab_command",
		Description: `Execute GitLab CLI (glab) commands to interact with GitLab.
Common commands:
- "issue list" - List issues
- "issue list --author=username" - List issues by author
- "issue list --assignee=username" - List issues by assignee
- "issue list --label=bug" - List issues by label
- "issue view 123" - View specific issue
- "mr list" - List merge requests
The tool adds --repo for the current project and --json for structured output.`,
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]string{
					"type":        "string",
					"description": "The glab command to execute (e.g. 'issue list --author=username')",
				},
				"args": map[string]interface{}{
					"type":        "array",
					"items":       map[string]string{"type": "string"},
					"description": "Additional arguments as a list",
				},
				"project": map[string]string{
					"type":        "string",
					"description": "Project path or id (--repo); defaults to the current project",
				},
			},
			"required": []string{"command"},
		}),
	}
}

// buildArgs splits the command on whitespace, appends extra args, then adds
// --repo and --json unless already present.
func (t *GlabTool) buildArgs(in glabInput) []string {
	args := strings.Fields(in.Command)
	if len(args) > 0 && args[0] == "glab" {
		args = args[1:]
	}
	args = append(args, in.Args...)

	project := in.Project
	if project == "" {
		project = t.defaultProject
	}
	if project != "" && !hasFlag(args, "--repo", "-R") {
		args = append(args, "--repo", project)
	}
	if !hasFlag(args, "--json", "--output", "-F") {
		args = append(args, "--json")
	}
	return args
}

func hasFlag(args []string, names ...string) bool {
	return slices.ContainsFunc(args, func(a string) bool {
		for _, n := range names {
			if a == n || strings.HasPrefix(a, n+"=") {
				return true
			}
		}
		return false
	})
}

func (t *GlabTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in glabInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("glab: unmarshal input: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", fmt.Errorf("glab: command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := t.buildArgs(in)
	cmd := exec.CommandContext(ctx, t.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.logger.Debug().Strs("args", args).Msg("running glab")

	err := cmd.Run()
	commandLine := "glab " + strings.Join(args, " ")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("glab command not found; install the GitLab CLI from https://gitlab.com/gitlab-org/cli")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("glab exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("running glab: %w", err)
	}

	out := map[string]any{"success": true, "command": commandLine}
	raw := bytes.TrimSpace(stdout.Bytes())
	if json.Valid(raw) && len(raw) > 0 {
		out["data"] = json.RawMessage(raw)
	} else {
		out["output"] = string(raw)
	}
	return jsonResult(out)
}
