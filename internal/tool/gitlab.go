package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	kerrors "github.com/p-blackswan/ken/internal/errors"
	"github.com/p-blackswan/ken/internal/gitlab"
	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/projectctx"
	"github.com/p-blackswan/ken/internal/workload"
)

const (
	defaultListLimit = 20
	maxListLimit     = 50
	descriptionRunes = 100
	limitNote        = "Result limit reached. There may be more results. Use filters to narrow your search."
)

// GitLab is the part of the GitLab client the list tools need.
type GitLab interface {
	ListIssues(ctx context.Context, projectID string, opts gitlab.ListIssuesOptions) ([]gitlab.Issue, error)
	ListMergeRequests(ctx context.Context, projectID string, opts gitlab.ListMergeRequestsOptions) ([]gitlab.MergeRequest, error)
}

// ContextRefresher rebuilds a project context from GitLab.
type ContextRefresher interface {
	Refresh(ctx context.Context, projectID string) (*projectctx.ProjectContext, error)
}

// WorkloadReporter computes workload for a user or a whole project.
type WorkloadReporter interface {
	UserWorkload(ctx context.Context, projectID, username string) (*workload.Entry, error)
	ComputeProject(ctx context.Context, projectID string) (*workload.Report, error)
}

// Deps wires the built-in GitLab tools.
type Deps struct {
	GitLab         GitLab
	Store          *projectctx.Store
	Builder        ContextRefresher
	Workload       WorkloadReporter
	DefaultProject string
	GlabBinary     string
	Logger         zerolog.Logger
}

// Builtins returns the built-in tools. Tools whose dependency is missing
// are left out.
func Builtins(d Deps) []Tool {
	var out []Tool
	if d.GitLab != nil {
		out = append(out,
			&listIssuesTool{gl: d.GitLab, project: d.DefaultProject},
			&listMergeRequestsTool{gl: d.GitLab, project: d.DefaultProject},
		)
	}
	if d.Store != nil && d.Builder != nil {
		out = append(out, &refreshContextTool{store: d.Store, builder: d.Builder, project: d.DefaultProject, now: time.Now})
	}
	if d.Workload != nil {
		out = append(out,
			&userWorkloadTool{wl: d.Workload, project: d.DefaultProject},
			&projectWorkloadTool{wl: d.Workload, project: d.DefaultProject},
		)
	}
	out = append(out, NewGlabTool(d.GlabBinary, d.DefaultProject, 0, d.Logger))
	return out
}

func resolveProject(input, fallback string) (string, error) {
	if p := strings.TrimSpace(input); p != "" {
		return p, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: pass project_id or set a default project", kerrors.ErrNoProject)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func username(u *gitlab.User) string {
	if u == nil {
		return ""
	}
	return u.Username
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var listProperties = map[string]interface{}{
	"assignee_username": map[string]string{
		"type":        "string",
		"description": "Filter by assignee username",
	},
	"state": map[string]interface{}{
		"type":        "string",
		"enum":        []string{"opened", "closed", "all"},
		"description": "Filter by state",
	},
	"labels": map[string]string{
		"type":        "string",
		"description": "Filter by labels (comma-separated)",
	},
	"search": map[string]string{
		"type":        "string",
		"description": "Search within title and description",
	},
	"project_id": map[string]string{
		"type":        "string",
		"description": "Project ID or path (uses the current project if not provided)",
	},
	"limit": map[string]interface{}{
		"type":        "integer",
		"minimum":     1,
		"maximum":     maxListLimit,
		"description": "Maximum number of results (default 20, max 50)",
	},
	"include_descriptions": map[string]string{
		"type":        "boolean",
		"description": "Include descriptions truncated to 100 characters (default false to save context)",
	},
}

type listInput struct {
	AssigneeUsername    string `json:"assignee_username"`
	State               string `json:"state"`
	Labels              string `json:"labels"`
	Search              string `json:"search"`
	ProjectID           string `json:"project_id"`
	Limit               int    `json:"limit"`
	IncludeDescriptions bool   `json:"include_descriptions"`
}

type stats struct {
	Open   int `json:"open"`
	Closed int `json:"closed"`
	Merged int `json:"merged,omitempty"`
}

// ---- list_gitlab_issues ----

type listIssuesTool struct {
	gl      GitLab
	project string
}

func (t *listIssuesTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "list_gitlab_issues",
		Description: "List and search GitLab issues. Can filter by assignee, state, labels and search terms. Filtering happens server-side. Limited to 50 issues.",
		InputSchema: MustSchema(map[string]interface{}{
			"type":       "object",
			"properties": listProperties,
			"required":   []string{},
		}),
	}
}

type issueView struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	State       string   `json:"state"`
	Assignee    string   `json:"assignee,omitempty"`
	Author      string   `json:"author,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	Labels      []string `json:"labels"`
	WebURL      string   `json:"web_url"`
	Description *string  `json:"description,omitempty"`
}

func (t *listIssuesTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in listInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	project, err := resolveProject(in.ProjectID, t.project)
	if err != nil {
		return "", err
	}
	limit := clampLimit(in.Limit)

	issues, err := t.gl.ListIssues(ctx, project, gitlab.ListIssuesOptions{
		State:            in.State,
		AssigneeUsername: strings.TrimPrefix(in.AssigneeUsername, "@"),
		Labels:           in.Labels,
		Search:           in.Search,
		PerPage:          limit,
	})
	if err != nil {
		return "", err
	}

	views := make([]issueView, 0, len(issues))
	var st stats
	for _, is := range issues {
		if len(views) == limit {
			break
		}
		v := issueView{
			ID:        is.IID,
			Title:     is.Title,
			State:     is.State,
			Assignee:  is.AssigneeUsername(),
			Author:    username(is.Author),
			CreatedAt: timestamp(is.CreatedAt),
			UpdatedAt: timestamp(is.UpdatedAt),
			Labels:    is.Labels,
			WebURL:    is.WebURL,
		}
		if in.IncludeDescriptions && is.Description != "" {
			d := truncateRunes(is.Description, descriptionRunes)
			v.Description = &d
		}
		switch is.State {
		case gitlab.StateOpened:
			st.Open++
		case gitlab.StateClosed:
			st.Closed++
		}
		views = append(views, v)
	}

	out := map[string]any{
		"success":       true,
		"project_id":    project,
		"count":         len(views),
		"total_fetched": len(issues),
		"limit_applied": limit,
		"stats":         st,
		"issues":        views,
	}
	if len(views) == limit {
		out["note"] = limitNote
	}
	return jsonResult(out)
}

// ---- list_gitlab_merge_requests ----

type listMergeRequestsTool struct {
	gl      GitLab
	project string
}

func (t *listMergeRequestsTool) Schema() llm.ToolSchema {
	props := make(map[string]interface{}, len(listProperties))
	for k, v := range listProperties {
		props[k] = v
	}
	props["state"] = map[string]interface{}{
		"type":        "string",
		"enum":        []string{"opened", "closed", "merged", "all"},
		"description": "Filter by state",
	}
	return llm.ToolSchema{
		Name:        "list_gitlab_merge_requests",
		Description: "List and search GitLab merge requests. Can filter by assignee, state, labels and search terms. Limited to 50 merge requests.",
		InputSchema: MustSchema(map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   []string{},
		}),
	}
}

type mergeRequestView struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	State        string   `json:"state"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	Assignee     string   `json:"assignee,omitempty"`
	Author       string   `json:"author,omitempty"`
	Draft        bool     `json:"draft"`
	MergeStatus  string   `json:"merge_status,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
	Labels       []string `json:"labels"`
	WebURL       string   `json:"web_url"`
	Description  *string  `json:"description,omitempty"`
}

func (t *listMergeRequestsTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in listInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	project, err := resolveProject(in.ProjectID, t.project)
	if err != nil {
		return "", err
	}
	limit := clampLimit(in.Limit)

	mrs, err := t.gl.ListMergeRequests(ctx, project, gitlab.ListMergeRequestsOptions{
		State:            in.State,
		AssigneeUsername: strings.TrimPrefix(in.AssigneeUsername, "@"),
		Labels:           in.Labels,
		Search:           in.Search,
		PerPage:          limit,
	})
	if err != nil {
		return "", err
	}

	views := make([]mergeRequestView, 0, len(mrs))
	var st stats
	for _, mr := range mrs {
		if len(views) == limit {
			break
		}
		v := mergeRequestView{
			ID:           mr.IID,
			Title:        mr.Title,
			State:        mr.State,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			Assignee:     mr.AssigneeUsername(),
			Author:       username(mr.Author),
			Draft:        mr.Draft,
			MergeStatus:  mr.MergeStatus,
			UpdatedAt:    timestamp(mr.UpdatedAt),
			Labels:       mr.Labels,
			WebURL:       mr.WebURL,
		}
		if in.IncludeDescriptions && mr.Description != "" {
			d := truncateRunes(mr.Description, descriptionRunes)
			v.Description = &d
		}
		switch mr.State {
		case gitlab.StateOpened:
			st.Open++
		case gitlab.StateClosed:
			st.Closed++
		case "merged":
			st.Merged++
		}
		views = append(views, v)
	}

	out := map[string]any{
		"success":        true,
		"project_id":     project,
		"count":          len(views),
		"total_fetched":  len(mrs),
		"limit_applied":  limit,
		"stats":          st,
		"merge_requests": views,
	}
	if len(views) == limit {
		out["note"] = limitNote
	}
	return jsonResult(out)
}
