// Package workload ranks project members by their open issues and merge
// requests and reports unassigned work.
package workload

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/ken/internal/gitlab"
	"github.com/p-blackswan/ken/internal/projectctx"
)

// DefaultConcurrency bounds the per-member fetches in flight.
const DefaultConcurrency = 4

// Status is the load bucket of a member.
type Status string

const (
	High   Status = "High"
	Medium Status = "Medium"
	Low    Status = "Low"
)

// Score is the load score: open issues plus twice the open merge requests.
func Score(issues, mrs int) int {
	return issues + 2*mrs
}

// Classify buckets a score: above 8 is High, 4 through 8 is Medium, anything
// lower is Low.
func Classify(score int) Status {
	switch {
	case score > 8:
		return High
	case score >= 4:
		return Medium
	default:
		return Low
	}
}

// Source is the part of the GitLab client the aggregator needs.
type Source interface {
	ListProjectMembers(ctx context.Context, projectID string) ([]gitlab.Member, error)
	ListIssuesByAssignee(ctx context.Context, projectID, username string) ([]gitlab.Issue, error)
	ListMRsByAssignee(ctx context.Context, projectID, username string) ([]gitlab.MergeRequest, error)
	ListUnassignedIssues(ctx context.Context, projectID string) ([]gitlab.Issue, error)
}

// Entry is one member's workload.
type Entry struct {
	Member     gitlab.Member
	Issues     []gitlab.Issue
	MRs        []gitlab.MergeRequest
	IssueCount int
	MRCount    int
	Score      int
	Status     Status
}

func newEntry(m gitlab.Member, issues []gitlab.Issue, mrs []gitlab.MergeRequest) Entry {
	score := Score(len(issues), len(mrs))
	return Entry{
		Member:     m,
		Issues:     issues,
		MRs:        mrs,
		IssueCount: len(issues),
		MRCount:    len(mrs),
		Score:      score,
		Status:     Classify(score),
	}
}

// DisplayName falls back to the username.
func (e Entry) DisplayName() string {
	if e.Member.Name != "" {
		return e.Member.Name
	}
	return e.Member.Username
}

// Aggregator computes workload reports.
type Aggregator struct {
	src         Source
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// NewAggregator creates an aggregator. A concurrency below 1 uses
// DefaultConcurrency.
func NewAggregator(src Source, concurrency int, logger zerolog.Logger) *Aggregator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Aggregator{
		src:         src,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger.With().Str("component", "workload").Logger(),
	}
}

// ComputeProject fetches the member list and computes the report. Failing to
// list members is an error; per-member failures are not.
func (a *Aggregator) ComputeProject(ctx context.Context, projectID string) (*Report, error) {
	members, err := a.src.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return a.Compute(ctx, projectID, members)
}

// Compute fetches open issues and merge requests for every member and the
// unassigned issues of the project. A member whose fetch fails counts as
// having no work. The report is assembled after every fetch completes.
func (a *Aggregator) Compute(ctx context.Context, projectID string, members []gitlab.Member) (*Report, error) {
	entries := make([]Entry, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, m := range members {
		g.Go(func() error {
			entries[i] = a.fetchMember(gctx, projectID, m)
			return nil
		})
	}

	var unassigned []gitlab.Issue
	g.Go(func() error {
		issues, err := a.src.ListUnassignedIssues(gctx, projectID)
		if err != nil {
			a.logger.Warn().Err(err).Str("project", projectID).Msg("fetching unassigned issues failed")
			return nil
		}
		unassigned = issues
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Score > 0 {
			active = append(active, e)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Score > active[j].Score })

	r := &Report{
		ProjectID:   projectID,
		Members:     members,
		Entries:     active,
		Unassigned:  unassigned,
		Buckets:     map[Status]int{High: 0, Medium: 0, Low: 0},
		GeneratedAt: a.now(),
	}
	for _, e := range active {
		r.Buckets[e.Status]++
	}
	a.logger.Debug().
		Str("project", projectID).
		Int("members", len(members)).
		Int("active", len(active)).
		Int("unassigned", len(unassigned)).
		Msg("workload computed")
	return r, nil
}

func (a *Aggregator) fetchMember(ctx context.Context, projectID string, m gitlab.Member) Entry {
	log := a.logger.With().Str("project", projectID).Str("member", m.Username).Logger()

	issues, err := a.src.ListIssuesByAssignee(ctx, projectID, m.Username)
	if err != nil {
		log.Warn().Err(err).Msg("fetching member issues failed, counting as none")
		issues = nil
	}
	mrs, err := a.src.ListMRsByAssignee(ctx, projectID, m.Username)
	if err != nil {
		log.Warn().Err(err).Msg("fetching member merge requests failed, counting as none")
		mrs = nil
	}
	return newEntry(m, issues, mrs)
}

// Snapshot computes the workload over members and converts it for the
// project context. It implements projectctx.WorkloadSource.
func (a *Aggregator) Snapshot(ctx context.Context, projectID string, members []gitlab.Member) (projectctx.WorkloadData, error) {
	r, err := a.Compute(ctx, projectID, members)
	if err != nil {
		return projectctx.WorkloadData{}, err
	}
	return r.Data(), nil
}

// UserWorkload looks up a single user's open work. A leading "@" is ignored.
// Unlike Compute, fetch failures are returned.
func (a *Aggregator) UserWorkload(ctx context.Context, projectID, username string) (*Entry, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	var (
		issues []gitlab.Issue
		mrs    []gitlab.MergeRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issues, err = a.src.ListIssuesByAssignee(gctx, projectID, username)
		return err
	})
	g.Go(func() error {
		var err error
		mrs, err = a.src.ListMRsByAssignee(gctx, projectID, username)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("workload of %s: %w", username, err)
	}

	e := newEntry(gitlab.Member{User: gitlab.User{Username: username}}, issues, mrs)
	return &e, nil
}
