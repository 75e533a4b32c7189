package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/workload"
)

type userWorkloadTool struct {
	wl      WorkloadReporter
	project string
}

func (t *userWorkloadTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "get_user_workload",
		Description: "Get a user's open issues and merge requests with a load score (issues + 2 x MRs) and status (High > 8, Medium 4-8, Low < 4).",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"username": map[string]string{
					"type":        "string",
					"description": "GitLab username, with or without a leading @",
				},
				"project_id": map[string]string{
					"type":        "string",
					"description": "Project ID or path (uses the current project if not provided)",
				},
			},
			"required": []string{"username"},
		}),
	}
}

type userWorkloadInput struct {
	Username  string `json:"username"`
	ProjectID string `json:"project_id"`
}

type workItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func (t *userWorkloadTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in userWorkloadInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	if strings.TrimPrefix(strings.TrimSpace(in.Username), "@") == "" {
		return "", fmt.Errorf("username is required")
	}
	project, err := resolveProject(in.ProjectID, t.project)
	if err != nil {
		return "", err
	}

	e, err := t.wl.UserWorkload(ctx, project, in.Username)
	if err != nil {
		return "", err
	}

	issues := make([]workItem, 0, len(e.Issues))
	for _, is := range e.Issues {
		issues = append(issues, workItem{ID: is.IID, Title: is.Title})
	}
	mrs := make([]map[string]any, 0, len(e.MRs))
	for _, mr := range e.MRs {
		mrs = append(mrs, map[string]any{
			"id":            mr.IID,
			"title":         mr.Title,
			"source_branch": mr.SourceBranch,
			"target_branch": mr.TargetBranch,
		})
	}
	return jsonResult(map[string]any{
		"success":        true,
		"project_id":     project,
		"username":       e.Member.Username,
		"issue_count":    e.IssueCount,
		"mr_count":       e.MRCount,
		"total_score":    e.Score,
		"status":         e.Status,
		"issues":         issues,
		"merge_requests": mrs,
	})
}

type projectWorkloadTool struct {
	wl      WorkloadReporter
	project string
}

func (t *projectWorkloadTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "get_project_workload",
		Description: "Rank project members by open issues and merge requests and report unassigned issues. Use it to find who has capacity.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"project_id": map[string]string{
					"type":        "string",
					"description": "Project ID or path (uses the current project if not provided)",
				},
			},
			"required": []string{},
		}),
	}
}

type memberRow struct {
	Rank       int             `json:"rank"`
	Username   string          `json:"username"`
	Name       string          `json:"name"`
	Role       string          `json:"role,omitempty"`
	IssueCount int             `json:"issue_count"`
	MRCount    int             `json:"mr_count"`
	TotalScore int             `json:"total_score"`
	Status     workload.Status `json:"status"`
}

func (t *projectWorkloadTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	project, err := resolveProject(in.ProjectID, t.project)
	if err != nil {
		return "", err
	}

	r, err := t.wl.ComputeProject(ctx, project)
	if err != nil {
		return "", err
	}

	rows := make([]memberRow, 0, len(r.Entries))
	for i, e := range r.Entries {
		rows = append(rows, memberRow{
			Rank:       i + 1,
			Username:   e.Member.Username,
			Name:       e.DisplayName(),
			Role:       e.Member.Role,
			IssueCount: e.IssueCount,
			MRCount:    e.MRCount,
			TotalScore: e.Score,
			Status:     e.Status,
		})
	}
	sample := make([]workItem, 0, 5)
	for _, is := range r.Unassigned {
		if len(sample) == 5 {
			break
		}
		sample = append(sample, workItem{ID: is.IID, Title: is.Title})
	}

	return jsonResult(map[string]any{
		"success":    true,
		"project_id": project,
		"members":    rows,
		"summary": map[string]int{
			"high":   r.Buckets[workload.High],
			"medium": r.Buckets[workload.Medium],
			"low":    r.Buckets[workload.Low],
		},
		"active_members":    r.ActiveMembers(),
		"unassigned_count":  len(r.Unassigned),
		"unassigned_sample": sample,
		"total_open_issues": r.TotalOpenIssues(),
	})
}
