package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	kerrors "github.com/p-blackswan/ken/internal/errors"
	"github.com/p-blackswan/ken/internal/gitlab"
	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/projectctx"
	"github.com/p-blackswan/ken/internal/workload"
)

// loadContext returns the cached context of projectID, refreshing and
// saving it first when it is stale and GitLab is reachable. A failed
// refresh falls back to the cached copy.
func (s *Session) loadContext(ctx context.Context, projectID string) (*projectctx.ProjectContext, error) {
	pc, err := s.store.Load(projectID)
	if err != nil {
		s.logger.Warn().Err(err).Str("project", projectID).Msg("ignoring unreadable context cache")
		pc = projectctx.New(projectID)
	}
	if !pc.IsStale(s.now()) || s.builder == nil {
		return pc, nil
	}
	s.println("🔄 Refreshing project context...")
	fresh, err := s.refresh(ctx, projectID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("project", projectID).Msg("context refresh failed, using cached context")
		return pc, nil
	}
	return fresh, nil
}

func (s *Session) refresh(ctx context.Context, projectID string) (*projectctx.ProjectContext, error) {
	pc, err := s.builder.Refresh(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(pc); err != nil {
		return nil, err
	}
	return pc, nil
}

// RefreshContext refetches and saves the context of projectID (or the
// default project).
func (s *Session) RefreshContext(ctx context.Context, projectID string) error {
	if _, err := s.client(); err != nil {
		return err
	}
	project, err := s.project(projectID)
	if err != nil {
		return err
	}
	s.printf("🔄 Updating context for %s...\n", project)
	pc, err := s.refresh(ctx, project)
	if err != nil {
		return fmt.Errorf("updating context: %w", err)
	}
	sum := pc.Summary(s.now())
	s.printf("✅ Context updated: %d labels, %d members, %d milestones, %d open issues\n",
		sum.Labels, sum.Users, sum.Milestones, sum.HotIssues)
	if pc.WorkloadData != nil {
		s.printf("👥 %d active members, %d unassigned issues\n", sum.ActiveMembers, sum.Unassigned)
	}
	s.printf("💾 Saved to %s\n", s.store.Path(project))
	return nil
}

// ShowContext prints the cached context as the model sees it.
func (s *Session) ShowContext(projectID string) error {
	project, err := s.project(projectID)
	if err != nil {
		return err
	}
	pc, err := s.store.Load(project)
	if err != nil {
		return err
	}
	if pc.LastUpdated == nil {
		s.printf("📭 No cached context for %s. Use '/refresh' to fetch it.\n", project)
		return nil
	}
	s.println(projectctx.Render(pc))
	if pc.IsStale(s.now()) {
		s.println("⚠️  Context is stale (older than 1 hour). Use '/refresh' to update it.")
	} else {
		s.println("✅ Context is fresh.")
	}
	return nil
}

// Workload prints one user's workload, or the ranked project table when
// username is empty.
func (s *Session) Workload(ctx context.Context, projectID, username string) error {
	if _, err := s.client(); err != nil {
		return err
	}
	project, err := s.project(projectID)
	if err != nil {
		return err
	}
	if strings.TrimPrefix(strings.TrimSpace(username), "@") != "" {
		e, err := s.workload.UserWorkload(ctx, project, username)
		if err != nil {
			return err
		}
		return workload.RenderEntry(s.out, e)
	}
	s.printf("📊 Computing workload for %s...\n", project)
	r, err := s.workload.ComputeProject(ctx, project)
	if err != nil {
		return err
	}
	return r.Render(s.out)
}

// Ask answers a free-text question with the agent. remember adds the turn
// to the session history.
func (s *Session) Ask(ctx context.Context, question, projectID string, remember bool) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", kerrors.ErrInvalidInput)
	}

	project := strings.TrimSpace(projectID)
	if project == "" {
		project = s.cfg.DefaultProjectID
	}
	message := question
	if project != "" {
		pc, err := s.loadContext(ctx, project)
		if err != nil {
			return "", err
		}
		message = projectctx.Render(pc) + "\n\nUser question: " + question
	}

	a, err := s.newAgent(ctx, project, true)
	if err != nil {
		return "", err
	}
	answer, err := a.Chat(ctx, message, s.history)
	if err != nil {
		return "", err
	}
	if remember {
		s.history = append(s.history,
			llm.Message{Role: llm.RoleUser, Content: question},
			llm.Message{Role: llm.RoleAssistant, Content: answer},
		)
	}
	return answer, nil
}

var issueURLRe = regexp.MustCompile(`/-/issues/(\d+)`)

// ParseIssueRef accepts 123, #123 or an issue URL.
func ParseIssueRef(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if m := issueURLRe.FindStringSubmatch(ref); m != nil {
		ref = m[1]
	}
	ref = strings.TrimPrefix(ref, "#")
	iid, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || iid <= 0 {
		return 0, fmt.Errorf("%w: invalid issue reference %q (use 123, #123 or an issue URL)", kerrors.ErrInvalidInput, ref)
	}
	return iid, nil
}

func (s *Session) fetchIssue(ctx context.Context, ref, projectID string) (string, *gitlab.Issue, error) {
	gl, err := s.client()
	if err != nil {
		return "", nil, err
	}
	project, err := s.project(projectID)
	if err != nil {
		return "", nil, err
	}
	iid, err := ParseIssueRef(ref)
	if err != nil {
		return "", nil, err
	}
	key := fmt.Sprintf("%s#%d", project, iid)
	if is, ok := s.issues.Get(key); ok {
		return project, is, nil
	}
	is, err := gl.GetIssue(ctx, project, iid)
	if err != nil {
		return "", nil, fmt.Errorf("fetching issue #%d: %w", iid, err)
	}
	s.issues.Add(key, is)
	return project, is, nil
}

func describeIssue(is *gitlab.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue #%d: %s\n", is.IID, is.Title)
	fmt.Fprintf(&b, "State: %s\n", is.State)
	if a := is.AssigneeUsername(); a != "" {
		fmt.Fprintf(&b, "Assignee: %s\n", a)
	} else {
		b.WriteString("Assignee: unassigned\n")
	}
	if is.Author != nil {
		fmt.Fprintf(&b, "Author: %s\n", is.Author.Username)
	}
	if len(is.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(is.Labels, ", "))
	}
	if is.Milestone != nil {
		fmt.Fprintf(&b, "Milestone: %s\n", is.Milestone.Title)
	}
	if !is.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", is.CreatedAt.Format("2006-01-02"))
	}
	if !is.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "Updated: %s\n", is.UpdatedAt.Format("2006-01-02"))
	}
	b.WriteString("\nDescription:\n")
	if is.Description == "" {
		b.WriteString("(no description)\n")
	} else {
		b.WriteString(is.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// Summarize asks the model for a short summary of an issue.
func (s *Session) Summarize(ctx context.Context, ref, projectID string) (string, error) {
	project, is, err := s.fetchIssue(ctx, ref, projectID)
	if err != nil {
		return "", err
	}
	a, err := s.newAgent(ctx, project, false)
	if err != nil {
		return "", err
	}
	prompt := "Summarize the following GitLab issue in a few bullet points: the problem, its current status, and suggested next steps.\n\n" + describeIssue(is)
	return a.Chat(ctx, prompt, nil)
}

// Suggest asks the model who should take an issue, given current workload.
func (s *Session) Suggest(ctx context.Context, ref, projectID string) (string, error) {
	project, is, err := s.fetchIssue(ctx, ref, projectID)
	if err != nil {
		return "", err
	}
	s.println("📊 Computing team workload...")
	r, err := s.workload.ComputeProject(ctx, project)
	if err != nil {
		return "", err
	}
	var table bytes.Buffer
	if err := r.Render(&table); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Suggest the best assignee for the GitLab issue below. Prefer members with relevant experience and lower workload. ")
	b.WriteString("Give your top recommendation and one alternative, each with a one-line reason.\n\n")
	b.WriteString(describeIssue(is))
	b.WriteString("\nProject members:\n")
	for _, m := range r.Members {
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.Username, m.Role, m.Name)
	}
	b.WriteString("\nCurrent workload (members with no open work are not listed):\n")
	b.WriteString(table.String())

	a, err := s.newAgent(ctx, project, false)
	if err != nil {
		return "", err
	}
	return a.Chat(ctx, b.String(), nil)
}

// IssueDraft is the model's proposal for a new issue.
type IssueDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

// DraftIssue turns a free-text request into an issue draft, using the
// project's labels as hints.
func (s *Session) DraftIssue(ctx context.Context, request, projectID string) (*IssueDraft, error) {
	project, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	pc, err := s.loadContext(ctx, project)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(pc.Labels))
	for _, l := range pc.Labels {
		labels = append(labels, l.Name)
	}

	var b strings.Builder
	b.WriteString("Draft a GitLab issue from the request below. Reply with only a JSON object of the form ")
	b.WriteString(`{"title": "...", "description": "...", "labels": ["..."]}`)
	b.WriteString(". The description should be Markdown with a short summary and acceptance criteria. ")
	if len(labels) > 0 {
		fmt.Fprintf(&b, "Choose labels only from: %s.", strings.Join(labels, ", "))
	} else {
		b.WriteString("Use an empty labels list.")
	}
	b.WriteString("\n\nRequest: ")
	b.WriteString(request)

	a, err := s.newAgent(ctx, project, false)
	if err != nil {
		return nil, err
	}
	reply, err := a.Chat(ctx, b.String(), nil)
	if err != nil {
		return nil, err
	}
	return parseDraft(reply)
}

func parseDraft(reply string) (*IssueDraft, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("model reply contains no JSON object")
	}
	var d IssueDraft
	if err := json.Unmarshal([]byte(reply[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("parsing issue draft: %w", err)
	}
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return nil, fmt.Errorf("issue draft has no title")
	}
	return &d, nil
}

// CreateIssueFromText drafts an issue with the model, previews it and
// creates it after confirmation (or immediately when yes is set).
func (s *Session) CreateIssueFromText(ctx context.Context, request, projectID string, yes bool) error {
	gl, err := s.client()
	if err != nil {
		return err
	}
	project, err := s.project(projectID)
	if err != nil {
		return err
	}
	s.println("✍️  Drafting issue...")
	d, err := s.DraftIssue(ctx, request, project)
	if err != nil {
		return err
	}

	s.println("\n📝 Issue preview")
	s.println("─────────────────────")
	s.printf("Title:  %s\n", d.Title)
	if len(d.Labels) > 0 {
		s.printf("Labels: %s\n", strings.Join(d.Labels, ", "))
	}
	s.printf("\n%s\n\n", d.Description)

	if !yes {
		ok, err := s.confirm("Create this issue? [y/N]: ")
		if err != nil {
			return err
		}
		if !ok {
			s.println("❎ Cancelled.")
			return nil
		}
	}
	is, err := gl.CreateIssue(ctx, project, gitlab.CreateIssueOptions{
		Title:       d.Title,
		Description: d.Description,
		Labels:      strings.Join(d.Labels, ","),
	})
	if err != nil {
		return fmt.Errorf("creating issue: %w", err)
	}
	s.printf("✅ Created issue #%d: %s\n", is.IID, is.WebURL)
	return nil
}

func (s *Session) confirm(prompt string) (bool, error) {
	answer, err := s.prompt.Ask(prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
