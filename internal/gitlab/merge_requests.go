package gitlab

import (
	"context"
	"fmt"
	"strings"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

// ListMergeRequestsOptions filters GET /projects/:id/merge_requests.
type ListMergeRequestsOptions struct {
	State            string `url:"state,omitempty"`
	AssigneeUsername string `url:"assignee_username,omitempty"`
	Labels           string `url:"labels,omitempty"`
	Search           string `url:"search,omitempty"`
	OrderBy          string `url:"order_by,omitempty"`
	Sort             string `url:"sort,omitempty"`
	PerPage          int    `url:"per_page,omitempty"`
}

// CreateMergeRequestOptions is the body of POST /projects/:id/merge_requests.
type CreateMergeRequestOptions struct {
	SourceBranch       string  `json:"source_branch"`
	TargetBranch       string  `json:"target_branch"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	Labels             string  `json:"labels,omitempty"`
	AssigneeIDs        []int64 `json:"assignee_ids,omitempty"`
	RemoveSourceBranch bool    `json:"remove_source_branch,omitempty"`
}

// ListMergeRequests lists the merge requests of a project.
func (c *Client) ListMergeRequests(ctx context.Context, projectID string, opts ListMergeRequestsOptions) ([]MergeRequest, error) {
	if opts.PerPage == 0 {
		opts.PerPage = defaultPerPage
	}
	body, err := c.get(ctx, projectPath(projectID, "merge_requests"), opts)
	if err != nil {
		return nil, fmt.Errorf("listing merge requests of %s: %w", projectID, err)
	}
	return decodeList(body, toMergeRequest)
}

// ListMRsByAssignee lists the opened merge requests assigned to username.
func (c *Client) ListMRsByAssignee(ctx context.Context, projectID, username string) ([]MergeRequest, error) {
	return c.ListMergeRequests(ctx, projectID, ListMergeRequestsOptions{State: StateOpened, AssigneeUsername: username})
}

// CreateMergeRequest opens a merge request.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID string, opts CreateMergeRequestOptions) (*MergeRequest, error) {
	switch {
	case strings.TrimSpace(opts.Title) == "":
		return nil, fmt.Errorf("creating merge request: %w: title is required", kerrors.ErrInvalidInput)
	case opts.SourceBranch == "" || opts.TargetBranch == "":
		return nil, fmt.Errorf("creating merge request: %w: source and target branches are required", kerrors.ErrInvalidInput)
	}
	body, err := c.post(ctx, projectPath(projectID, "merge_requests"), opts)
	if err != nil {
		return nil, fmt.Errorf("creating merge request in %s: %w", projectID, err)
	}
	mr, err := decodeOne(body, toMergeRequest)
	if err != nil {
		return nil, err
	}
	return &mr, nil
}
