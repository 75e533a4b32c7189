package gitlab

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

// Issue states accepted by the list endpoints.
const (
	StateOpened = "opened"
	StateClosed = "closed"
	StateAll    = "all"
)

// ListIssuesOptions filters GET /projects/:id/issues.
type ListIssuesOptions struct {
	State            string `url:"state,omitempty"`
	AssigneeUsername string `url:"assignee_username,omitempty"`
	Labels           string `url:"labels,omitempty"`
	Search           string `url:"search,omitempty"`
	OrderBy          string `url:"order_by,omitempty"`
	Sort             string `url:"sort,omitempty"`
	PerPage          int    `url:"per_page,omitempty"`
}

// CreateIssueOptions is the body of POST /projects/:id/issues.
type CreateIssueOptions struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Labels      string  `json:"labels,omitempty"`
	AssigneeIDs []int64 `json:"assignee_ids,omitempty"`
	MilestoneID int64   `json:"milestone_id,omitempty"`
}

// ListIssues lists the issues of a project.
func (c *Client) ListIssues(ctx context.Context, projectID string, opts ListIssuesOptions) ([]Issue, error) {
	if opts.PerPage == 0 {
		opts.PerPage = defaultPerPage
	}
	body, err := c.get(ctx, projectPath(projectID, "issues"), opts)
	if err != nil {
		return nil, fmt.Errorf("listing issues of %s: %w", projectID, err)
	}
	return decodeList(body, toIssue)
}

// ListOpenIssues lists the opened issues of a project.
func (c *Client) ListOpenIssues(ctx context.Context, projectID string) ([]Issue, error) {
	return c.ListIssues(ctx, projectID, ListIssuesOptions{State: StateOpened})
}

// ListIssuesByAssignee lists the opened issues assigned to username.
func (c *Client) ListIssuesByAssignee(ctx context.Context, projectID, username string) ([]Issue, error) {
	return c.ListIssues(ctx, projectID, ListIssuesOptions{State: StateOpened, AssigneeUsername: username})
}

// ListUnassignedIssues fetches all opened issues and keeps those with
// neither an assignee nor any assignees.
func (c *Client) ListUnassignedIssues(ctx context.Context, projectID string) ([]Issue, error) {
	all, err := c.ListOpenIssues(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]Issue, 0, len(all))
	for _, is := range all {
		if is.Unassigned() {
			out = append(out, is)
		}
	}
	return out, nil
}

// GetIssue fetches a single issue by its project-scoped iid.
func (c *Client) GetIssue(ctx context.Context, projectID string, iid int64) (*Issue, error) {
	body, err := c.get(ctx, projectPath(projectID, "issues", strconv.FormatInt(iid, 10)), nil)
	if err != nil {
		return nil, fmt.Errorf("getting issue %s#%d: %w", projectID, iid, err)
	}
	is, err := decodeOne(body, toIssue)
	if err != nil {
		return nil, err
	}
	return &is, nil
}

// CreateIssue creates an issue.
func (c *Client) CreateIssue(ctx context.Context, projectID string, opts CreateIssueOptions) (*Issue, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return nil, fmt.Errorf("creating issue: %w: title is required", kerrors.ErrInvalidInput)
	}
	body, err := c.post(ctx, projectPath(projectID, "issues"), opts)
	if err != nil {
		return nil, fmt.Errorf("creating issue in %s: %w", projectID, err)
	}
	is, err := decodeOne(body, toIssue)
	if err != nil {
		return nil, err
	}
	return &is, nil
}
