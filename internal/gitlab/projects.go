package gitlab

import (
	"context"
	"fmt"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

// ListProjectsOptions filters GET /projects.
type ListProjectsOptions struct {
	Search     string `url:"search,omitempty"`
	Owned      bool   `url:"owned,omitempty"`
	Membership bool   `url:"membership,omitempty"`
	Simple     bool   `url:"simple,omitempty"`
	OrderBy    string `url:"order_by,omitempty"`
	PerPage    int    `url:"per_page,omitempty"`
}

type pageOptions struct {
	PerPage int `url:"per_page,omitempty"`
}

// CurrentUser verifies the configured credentials. A 2xx response without a
// username is treated as an authentication failure.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	body, err := c.get(ctx, "/user", nil)
	if err != nil {
		return nil, fmt.Errorf("verifying credentials: %w", err)
	}
	u, err := decodeOne(body, wireUser.user)
	if err != nil {
		return nil, fmt.Errorf("verifying credentials: %w", err)
	}
	if u.Username == "" {
		return nil, fmt.Errorf("verifying credentials: %w: response has no username", kerrors.ErrAuthFailure)
	}
	return &u, nil
}

// ListProjects lists projects visible to the current user.
func (c *Client) ListProjects(ctx context.Context, opts ListProjectsOptions) ([]Project, error) {
	if opts.PerPage == 0 {
		opts.PerPage = 20
	}
	if opts.OrderBy == "" {
		opts.OrderBy = "last_activity_at"
	}
	opts.Simple = true
	body, err := c.get(ctx, "/projects", opts)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return decodeList(body, toProject)
}

// ListLabels lists the labels of a project, including open issue counts.
func (c *Client) ListLabels(ctx context.Context, projectID string) ([]Label, error) {
	opts := struct {
		pageOptions
		WithCounts bool `url:"with_counts"`
	}{pageOptions{defaultPerPage}, true}
	body, err := c.get(ctx, projectPath(projectID, "labels"), opts)
	if err != nil {
		return nil, fmt.Errorf("listing labels of %s: %w", projectID, err)
	}
	return decodeList(body, toLabel)
}

// ListProjectMembers lists direct and inherited members of a project.
func (c *Client) ListProjectMembers(ctx context.Context, projectID string) ([]Member, error) {
	body, err := c.get(ctx, projectPath(projectID, "members", "all"), pageOptions{defaultPerPage})
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", projectID, err)
	}
	return decodeList(body, toMember)
}

// ListMilestones lists the milestones of a project.
func (c *Client) ListMilestones(ctx context.Context, projectID string) ([]Milestone, error) {
	body, err := c.get(ctx, projectPath(projectID, "milestones"), pageOptions{defaultPerPage})
	if err != nil {
		return nil, fmt.Errorf("listing milestones of %s: %w", projectID, err)
	}
	return decodeList(body, toMilestone)
}
