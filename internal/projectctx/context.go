// Package projectctx owns the per-project context cache: a snapshot of
// labels, members, milestones, open issues and workload that is stored on
// disk, refreshed when stale and rendered into the LLM prompt.
package projectctx

import (
	"time"

	"github.com/p-blackswan/ken/internal/gitlab"
)

// StaleAfter is the age after which a context is refreshed.
const StaleAfter = time.Hour

// recentWindow decides HotIssue.UpdatedRecently.
const recentWindow = 7 * 24 * time.Hour

// ProjectContext is the cached snapshot of one project. It is written
// wholesale on every refresh.
type ProjectContext struct {
	ProjectID     string              `json:"project_id"`
	Labels        []ProjectLabel      `json:"labels"`
	Users         []ProjectUser       `json:"users"`
	Milestones    []ProjectMilestone  `json:"milestones"`
	Teams         map[string][]string `json:"teams"`
	HotIssues     []HotIssue          `json:"hot_issues"`
	IssuePatterns IssuePatterns       `json:"issue_patterns"`
	WorkloadData  *WorkloadData       `json:"workload_data,omitempty"`
	LastUpdated   *string             `json:"last_updated"`
}

// IssuePatterns is serialized but not populated by any refresh path.
type IssuePatterns struct {
	MostUsedLabels  []string `json:"most_used_labels"`
	ActiveAssignees []string `json:"active_assignees"`
	CommonKeywords  []string `json:"common_keywords"`
	PriorityLevels  []string `json:"priority_levels"`
}

type ProjectLabel struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
	UsageCount  *int   `json:"usage_count,omitempty"`
}

type ProjectUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
}

type ProjectMilestone struct {
	Title       string `json:"title"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// HotIssue is the simplified issue kept in the cache for prompt rendering.
// Priority is reserved and never set.
type HotIssue struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Assignee        string   `json:"assignee,omitempty"`
	Labels          []string `json:"labels"`
	State           string   `json:"state"`
	UpdatedRecently bool     `json:"updated_recently"`
	Priority        string   `json:"priority,omitempty"`
}

// MergeRequest is the simplified merge request kept in workload data.
type MergeRequest struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	State        string `json:"state"`
}

// UserWorkload is only stored for users with at least one open issue or MR.
type UserWorkload struct {
	Username   string         `json:"username"`
	OpenIssues []HotIssue     `json:"open_issues"`
	OpenMRs    []MergeRequest `json:"open_mrs"`
	IssueCount int            `json:"issue_count"`
	MRCount    int            `json:"mr_count"`
	TotalScore int            `json:"total_score"`
}

// WorkloadData is the workload snapshot stored in the context.
// TotalOpenIssues equals the sum of IssueCount plus len(UnassignedIssues).
type WorkloadData struct {
	UserAssignments  map[string]UserWorkload `json:"user_assignments"`
	UnassignedIssues []HotIssue              `json:"unassigned_issues"`
	TotalOpenIssues  int                     `json:"total_open_issues"`
}

// New returns an empty context with no timestamp, which is stale.
func New(projectID string) *ProjectContext {
	return &ProjectContext{
		ProjectID:  projectID,
		Labels:     []ProjectLabel{},
		Users:      []ProjectUser{},
		Milestones: []ProjectMilestone{},
		Teams:      map[string][]string{},
		HotIssues:  []HotIssue{},
		IssuePatterns: IssuePatterns{
			MostUsedLabels:  []string{},
			ActiveAssignees: []string{},
			CommonKeywords:  []string{},
			PriorityLevels:  []string{},
		},
	}
}

// Touch stamps the context as refreshed at now.
func (c *ProjectContext) Touch(now time.Time) {
	ts := now.UTC().Format(time.RFC3339)
	c.LastUpdated = &ts
}

// UpdatedAt parses LastUpdated.
func (c *ProjectContext) UpdatedAt() (time.Time, bool) {
	if c.LastUpdated == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *c.LastUpdated)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsStale reports whether the context has no valid timestamp or is more
// than StaleAfter older than now. Exactly StaleAfter old is still fresh.
func (c *ProjectContext) IsStale(now time.Time) bool {
	t, ok := c.UpdatedAt()
	if !ok {
		return true
	}
	return now.Sub(t) > StaleAfter
}

// Summary holds the counts shown by /context and the refresh tool.
type Summary struct {
	ProjectID       string `json:"project_id"`
	Labels          int    `json:"labels_count"`
	Users           int    `json:"users_count"`
	Milestones      int    `json:"milestones_count"`
	HotIssues       int    `json:"hot_issues_count"`
	ActiveMembers   int    `json:"active_members"`
	Unassigned      int    `json:"unassigned_issues"`
	TotalOpenIssues int    `json:"total_open_issues"`
	LastUpdated     string `json:"last_updated,omitempty"`
	Stale           bool   `json:"stale"`
}

func (c *ProjectContext) Summary(now time.Time) Summary {
	s := Summary{
		ProjectID:  c.ProjectID,
		Labels:     len(c.Labels),
		Users:      len(c.Users),
		Milestones: len(c.Milestones),
		HotIssues:  len(c.HotIssues),
		Stale:      c.IsStale(now),
	}
	if c.LastUpdated != nil {
		s.LastUpdated = *c.LastUpdated
	}
	if w := c.WorkloadData; w != nil {
		s.ActiveMembers = len(w.UserAssignments)
		s.Unassigned = len(w.UnassignedIssues)
		s.TotalOpenIssues = w.TotalOpenIssues
	}
	return s
}

// Conversions from GitLab records.

func LabelFrom(l gitlab.Label) ProjectLabel {
	return ProjectLabel{
		Name:        l.Name,
		Color:       l.Color,
		Description: l.Description,
		UsageCount:  l.OpenIssuesCount,
	}
}

func UserFrom(m gitlab.Member) ProjectUser {
	return ProjectUser{
		Username:    m.Username,
		DisplayName: m.Name,
		Email:       m.Email,
		Role:        m.Role,
	}
}

func MilestoneFrom(m gitlab.Milestone) ProjectMilestone {
	return ProjectMilestone{
		Title:       m.Title,
		State:       m.State,
		Description: m.Description,
		DueDate:     m.DueDate,
	}
}

// HotIssueFrom reduces a full issue to its cached form. The assignee is
// the first of assignees, falling back to the singular assignee.
func HotIssueFrom(is gitlab.Issue, now time.Time) HotIssue {
	labels := is.Labels
	if labels == nil {
		labels = []string{}
	}
	return HotIssue{
		ID:              is.IID,
		Title:           is.Title,
		Assignee:        is.AssigneeUsername(),
		Labels:          labels,
		State:           is.State,
		UpdatedRecently: !is.UpdatedAt.IsZero() && now.Sub(is.UpdatedAt) < recentWindow,
	}
}

func MergeRequestFrom(mr gitlab.MergeRequest) MergeRequest {
	return MergeRequest{
		ID:           mr.IID,
		Title:        mr.Title,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		State:        mr.State,
	}
}

func mapSlice[S any, T any](in []S, f func(S) T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = f(v)
	}
	return out
}
