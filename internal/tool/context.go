package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/projectctx"
)

// refreshContextTool refreshes and saves the cached project context.
type refreshContextTool struct {
	store   *projectctx.Store
	builder ContextRefresher
	project string
	now     func() time.Time
}

func (t *refreshContextTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "refresh_project_context",
		Description: "Refresh project context by fetching current labels, members, milestones, open issues and workload from GitLab. Use this when you need up-to-date project information.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"force_refresh": map[string]string{
					"type":        "boolean",
					"description": "Force refresh even if context is fresh (default: false)",
				},
				"project_id": map[string]string{
					"type":        "string",
					"description": "Project ID or path (uses the current project if not provided)",
				},
			},
			"required": []string{},
		}),
	}
}

type refreshInput struct {
	ForceRefresh bool   `json:"force_refresh"`
	ProjectID    string `json:"project_id"`
}

func (t *refreshContextTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in refreshInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	project, err := resolveProject(in.ProjectID, t.project)
	if err != nil {
		return "", err
	}

	pc, err := t.store.Load(project)
	if err != nil {
		return "", err
	}
	if !in.ForceRefresh && !pc.IsStale(t.now()) {
		return jsonResult(map[string]any{
			"success": true,
			"message": "Context is fresh, no refresh needed",
			"summary": pc.Summary(t.now()),
		})
	}

	pc, err = t.builder.Refresh(ctx, project)
	if err != nil {
		return "", fmt.Errorf("refreshing context: %w", err)
	}
	if err := t.store.Save(pc); err != nil {
		return "", err
	}

	topLabels := make([]string, 0, 10)
	for _, l := range pc.Labels {
		if len(topLabels) == 10 {
			break
		}
		topLabels = append(topLabels, l.Name)
	}
	sampleUsers := make([]string, 0, 5)
	for _, u := range pc.Users {
		if len(sampleUsers) == 5 {
			break
		}
		sampleUsers = append(sampleUsers, u.Username)
	}

	return jsonResult(map[string]any{
		"success":      true,
		"message":      "Project context refreshed successfully",
		"summary":      pc.Summary(t.now()),
		"top_labels":   topLabels,
		"sample_users": sampleUsers,
	})
}
