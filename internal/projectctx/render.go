package projectctx

import (
	"fmt"
	"sort"
	"strings"
)

// Rendering caps.
const (
	maxRenderLabels     = 20
	maxRenderUsers      = 15
	maxRenderHotIssues  = 10
	maxRenderMilestones = 10
	maxRenderWorkload   = 5
)

// Render formats the context for injection ahead of a user query. Sections
// whose backing collection is empty are left out entirely.
func Render(c *ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Project Context for %s\n\n", c.ProjectID)

	if len(c.Labels) > 0 {
		b.WriteString("**Available Labels:**\n")
		for _, l := range head(c.Labels, maxRenderLabels) {
			desc := l.Description
			if desc == "" {
				desc = "No description"
			}
			usage := ""
			if l.UsageCount != nil {
				usage = fmt.Sprintf(" (%d)", *l.UsageCount)
			}
			fmt.Fprintf(&b, "- `%s`: %s%s\n", l.Name, desc, usage)
		}
		b.WriteString("\n")
	}

	if len(c.Users) > 0 {
		b.WriteString("**Project Members:**\n")
		for _, u := range head(c.Users, maxRenderUsers) {
			role := u.Role
			if role == "" {
				role = "Member"
			}
			name := u.DisplayName
			if name == "" {
				name = u.Username
			}
			fmt.Fprintf(&b, "- `%s` (%s): %s\n", u.Username, role, name)
		}
		b.WriteString("\n")
	}

	if len(c.Teams) > 0 {
		b.WriteString("**Known Teams:**\n")
		names := make([]string, 0, len(c.Teams))
		for name := range c.Teams {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- `%s`: %s\n", name, strings.Join(c.Teams[name], ", "))
		}
		b.WriteString("\n")
	}

	if len(c.HotIssues) > 0 {
		b.WriteString("**Recent Activity:**\n")
		for _, is := range head(c.HotIssues, maxRenderHotIssues) {
			assignee := is.Assignee
			if assignee == "" {
				assignee = "Unassigned"
			}
			labels := "No labels"
			if len(is.Labels) > 0 {
				labels = strings.Join(is.Labels, ", ")
			}
			fmt.Fprintf(&b, "- Issue #%d: %s (Assigned: %s, Labels: %s)\n", is.ID, is.Title, assignee, labels)
		}
		b.WriteString("\n")
	}

	if p := c.IssuePatterns; len(p.MostUsedLabels) > 0 {
		b.WriteString("**Common Patterns:**\n")
		fmt.Fprintf(&b, "- Most used labels: %s\n", strings.Join(p.MostUsedLabels, ", "))
		fmt.Fprintf(&b, "- Active assignees: %s\n", strings.Join(p.ActiveAssignees, ", "))
		if len(p.PriorityLevels) > 0 {
			fmt.Fprintf(&b, "- Priority levels: %s\n", strings.Join(p.PriorityLevels, ", "))
		}
		b.WriteString("\n")
	}

	renderMilestones(&b, c.Milestones)
	renderWorkload(&b, c.WorkloadData)

	if c.LastUpdated != nil {
		fmt.Fprintf(&b, "*Context last updated: %s*\n", *c.LastUpdated)
	}
	return b.String()
}

func renderMilestones(b *strings.Builder, milestones []ProjectMilestone) {
	open := make([]ProjectMilestone, 0, len(milestones))
	for _, m := range milestones {
		if m.State == "active" || m.State == "opened" {
			open = append(open, m)
		}
	}
	if len(open) == 0 {
		return
	}
	b.WriteString("**Open Milestones:**\n")
	for _, m := range head(open, maxRenderMilestones) {
		if m.DueDate != "" {
			fmt.Fprintf(b, "- %s (due %s)\n", m.Title, m.DueDate)
		} else {
			fmt.Fprintf(b, "- %s\n", m.Title)
		}
	}
	b.WriteString("\n")
}

func renderWorkload(b *strings.Builder, w *WorkloadData) {
	if w == nil || (len(w.UserAssignments) == 0 && len(w.UnassignedIssues) == 0) {
		return
	}
	b.WriteString("**Workload:**\n")
	for _, uw := range head(RankedAssignments(w), maxRenderWorkload) {
		fmt.Fprintf(b, "- `%s`: %d issues, %d MRs (score %d)\n", uw.Username, uw.IssueCount, uw.MRCount, uw.TotalScore)
	}
	fmt.Fprintf(b, "- Unassigned issues: %d of %d open\n", len(w.UnassignedIssues), w.TotalOpenIssues)
	b.WriteString("\n")
}

// RankedAssignments returns the stored workloads by score, highest first,
// ties broken by username.
func RankedAssignments(w *WorkloadData) []UserWorkload {
	out := make([]UserWorkload, 0, len(w.UserAssignments))
	for _, uw := range w.UserAssignments {
		out = append(out, uw)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
