package projectctx

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/ken/internal/gitlab"
)

// Source is the part of the GitLab client a refresh needs.
type Source interface {
	ListLabels(ctx context.Context, projectID string) ([]gitlab.Label, error)
	ListProjectMembers(ctx context.Context, projectID string) ([]gitlab.Member, error)
	ListMilestones(ctx context.Context, projectID string) ([]gitlab.Milestone, error)
	ListOpenIssues(ctx context.Context, projectID string) ([]gitlab.Issue, error)
}

// WorkloadSource computes the workload snapshot over a member list.
type WorkloadSource interface {
	Snapshot(ctx context.Context, projectID string, members []gitlab.Member) (WorkloadData, error)
}

// Builder produces fresh contexts from GitLab.
type Builder struct {
	src      Source
	workload WorkloadSource
	now      func() time.Time
	logger   zerolog.Logger
}

// NewBuilder creates a builder. workload may be nil, in which case refreshed
// contexts carry no workload data.
func NewBuilder(src Source, workload WorkloadSource, logger zerolog.Logger) *Builder {
	return &Builder{
		src:      src,
		workload: workload,
		now:      time.Now,
		logger:   logger.With().Str("component", "projectctx.builder").Logger(),
	}
}

// Refresh refetches everything for projectID. A failing sub-fetch is logged
// and leaves its field empty. The result is not persisted.
func (b *Builder) Refresh(ctx context.Context, projectID string) (*ProjectContext, error) {
	c := New(projectID)
	now := b.now()

	var (
		labels     []gitlab.Label
		members    []gitlab.Member
		milestones []gitlab.Milestone
		issues     []gitlab.Issue
	)

	var g errgroup.Group
	g.Go(func() error {
		labels = softFetch(ctx, b, "labels", projectID, b.src.ListLabels)
		return nil
	})
	g.Go(func() error {
		members = softFetch(ctx, b, "members", projectID, b.src.ListProjectMembers)
		return nil
	})
	g.Go(func() error {
		milestones = softFetch(ctx, b, "milestones", projectID, b.src.ListMilestones)
		return nil
	})
	g.Go(func() error {
		issues = softFetch(ctx, b, "open issues", projectID, b.src.ListOpenIssues)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.Labels = mapSlice(labels, LabelFrom)
	c.Users = mapSlice(members, UserFrom)
	c.Milestones = mapSlice(milestones, MilestoneFrom)
	c.HotIssues = mapSlice(issues, func(is gitlab.Issue) HotIssue { return HotIssueFrom(is, now) })

	if b.workload != nil {
		wd, err := b.workload.Snapshot(ctx, projectID, members)
		if err != nil {
			b.logger.Warn().Err(err).Str("project", projectID).Msg("workload snapshot failed")
		} else {
			c.WorkloadData = &wd
		}
	}

	c.Touch(now)
	b.logger.Info().
		Str("project", projectID).
		Int("labels", len(c.Labels)).
		Int("users", len(c.Users)).
		Int("milestones", len(c.Milestones)).
		Int("hot_issues", len(c.HotIssues)).
		Msg("context refreshed")
	return c, nil
}

func softFetch[T any](ctx context.Context, b *Builder, what, projectID string,
	fetch func(context.Context, string) ([]T, error)) []T {
	out, err := fetch(ctx, projectID)
	if err != nil {
		b.logger.Warn().Err(err).Str("project", projectID).Msgf("fetching %s failed, leaving empty", what)
		return nil
	}
	return out
}
