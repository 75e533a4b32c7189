package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/p-blackswan/ken/internal/gitlab"
)

type field struct {
	key    string
	prompt string
}

type issueTemplate struct {
	labels string
	fields []field
	render func(v map[string]string) string
}

var issueTemplates = map[string]issueTemplate{
	"bug": {
		labels: "bug",
		fields: []field{
			{"summary", "Summary"},
			{"steps", "Steps to reproduce"},
			{"expected", "Expected behavior"},
			{"actual", "Actual behavior"},
		},
		render: func(v map[string]string) string {
			return section("Summary", v["summary"]) +
				section("Steps to reproduce", v["steps"]) +
				section("Expected behavior", v["expected"]) +
				section("Actual behavior", v["actual"])
		},
	},
	"feature": {
		labels: "feature",
		fields: []field{
			{"problem", "Problem to solve"},
			{"proposal", "Proposal"},
			{"criteria", "Acceptance criteria"},
		},
		render: func(v map[string]string) string {
			return section("Problem to solve", v["problem"]) +
				section("Proposal", v["proposal"]) +
				section("Acceptance criteria", v["criteria"])
		},
	},
	"task": {
		fields: []field{
			{"description", "Description"},
			{"done", "Definition of done"},
		},
		render: func(v map[string]string) string {
			return section("Description", v["description"]) +
				section("Definition of done", v["done"])
		},
	},
}

func section(title, body string) string {
	if strings.TrimSpace(body) == "" {
		body = "_TBD_"
	}
	return fmt.Sprintf("## %s\n\n%s\n\n", title, body)
}

func templateNames() []string {
	names := make([]string, 0, len(issueTemplates))
	for n := range issueTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Session) ask(prompt, def string) (string, error) {
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]: ", prompt, def)
	} else {
		prompt += ": "
	}
	v, err := s.prompt.Ask(prompt)
	if err != nil {
		return "", err
	}
	if v == "" {
		return def, nil
	}
	return v, nil
}

// resolveAssignee maps a username to a member ID. An empty name yields no IDs.
func (s *Session) resolveAssignee(ctx context.Context, project, username string) ([]int64, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, nil
	}
	members, err := s.gl.ListProjectMembers(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", username, err)
	}
	for _, m := range members {
		if strings.EqualFold(m.Username, username) {
			return []int64{m.ID}, nil
		}
	}
	return nil, fmt.Errorf("%s is not a member of %s", username, project)
}

// NewIssueWizard asks for an issue template and its fields, previews the
// result and creates it after confirmation.
func (s *Session) NewIssueWizard(ctx context.Context) error {
	gl, err := s.client()
	if err != nil {
		return err
	}
	project, err := s.project("")
	if err != nil {
		return err
	}

	s.printf("🆕 New issue in %s\n", project)
	kind, err := s.ask("Template ("+strings.Join(templateNames(), "/")+")", "task")
	if err != nil {
		return err
	}
	tpl, ok := issueTemplates[strings.ToLower(kind)]
	if !ok {
		return fmt.Errorf("unknown template %q", kind)
	}
	title, err := s.ask("Title", "")
	if err != nil {
		return err
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	values := make(map[string]string, len(tpl.fields))
	for _, f := range tpl.fields {
		if values[f.key], err = s.ask(f.prompt, ""); err != nil {
			return err
		}
	}
	labels, err := s.ask("Labels (comma-separated)", tpl.labels)
	if err != nil {
		return err
	}
	assignee, err := s.ask("Assignee username (optional)", "")
	if err != nil {
		return err
	}
	assigneeIDs, err := s.resolveAssignee(ctx, project, assignee)
	if err != nil {
		return err
	}

	description := strings.TrimRight(tpl.render(values), "\n")
	s.println("\n📝 Issue preview")
	s.println("─────────────────────")
	s.printf("Title:    %s\n", title)
	if labels != "" {
		s.printf("Labels:   %s\n", labels)
	}
	if assignee != "" {
		s.printf("Assignee: %s\n", strings.TrimPrefix(assignee, "@"))
	}
	s.printf("\n%s\n\n", description)

	ok, err = s.confirm("Create this issue? [y/N]: ")
	if err != nil {
		return err
	}
	if !ok {
		s.println("❎ Cancelled.")
		return nil
	}
	is, err := gl.CreateIssue(ctx, project, gitlab.CreateIssueOptions{
		Title:       title,
		Description: description,
		Labels:      labels,
		AssigneeIDs: assigneeIDs,
	})
	if err != nil {
		return fmt.Errorf("creating issue: %w", err)
	}
	s.printf("✅ Created issue #%d: %s\n", is.IID, is.WebURL)
	return nil
}

// NewMergeRequestWizard collects branches and a templated description, then
// opens a merge request after confirmation.
func (s *Session) NewMergeRequestWizard(ctx context.Context) error {
	gl, err := s.client()
	if err != nil {
		return err
	}
	project, err := s.project("")
	if err != nil {
		return err
	}

	s.printf("🆕 New merge request in %s\n", project)
	source, err := s.ask("Source branch", "")
	if err != nil {
		return err
	}
	target, err := s.ask("Target branch", "main")
	if err != nil {
		return err
	}
	title, err := s.ask("Title", "")
	if err != nil {
		return err
	}
	summary, err := s.ask("Summary", "")
	if err != nil {
		return err
	}
	changes, err := s.ask("Changes", "")
	if err != nil {
		return err
	}
	tested, err := s.ask("How was it tested", "")
	if err != nil {
		return err
	}
	closes, err := s.ask("Closes issue (optional, e.g. 42)", "")
	if err != nil {
		return err
	}
	labels, err := s.ask("Labels (comma-separated, optional)", "")
	if err != nil {
		return err
	}
	draft, err := s.confirm("Mark as draft? [y/N]: ")
	if err != nil {
		return err
	}
	removeSource, err := s.confirm("Delete source branch after merge? [y/N]: ")
	if err != nil {
		return err
	}

	description := section("Summary", summary) + section("Changes", changes) + section("Testing", tested)
	if closes != "" {
		iid, err := ParseIssueRef(closes)
		if err != nil {
			return err
		}
		description += fmt.Sprintf("Closes #%d\n", iid)
	}
	description = strings.TrimRight(description, "\n")
	if draft && !strings.HasPrefix(title, "Draft:") {
		title = "Draft: " + title
	}

	s.println("\n📝 Merge request preview")
	s.println("─────────────────────")
	s.printf("Title:  %s\n", title)
	s.printf("Branch: %s → %s\n", source, target)
	if labels != "" {
		s.printf("Labels: %s\n", labels)
	}
	s.printf("\n%s\n\n", description)

	ok, err := s.confirm("Create this merge request? [y/N]: ")
	if err != nil {
		return err
	}
	if !ok {
		s.println("❎ Cancelled.")
		return nil
	}
	mr, err := gl.CreateMergeRequest(ctx, project, gitlab.CreateMergeRequestOptions{
		SourceBranch:       source,
		TargetBranch:       target,
		Title:              title,
		Description:        description,
		Labels:             labels,
		RemoveSourceBranch: removeSource,
	})
	if err != nil {
		return fmt.Errorf("creating merge request: %w", err)
	}
	s.printf("✅ Created merge request !%d: %s\n", mr.IID, mr.WebURL)
	return nil
}
