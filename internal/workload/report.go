package workload

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/p-blackswan/ken/internal/gitlab"
	"github.com/p-blackswan/ken/internal/projectctx"
)

const sampleUnassigned = 5

// Report is a ranked workload table. Entries holds only members with a
// non-zero score, highest first.
type Report struct {
	ProjectID string
	// Members is every member considered, including those with no work.
	Members     []gitlab.Member
	Entries     []Entry
	Unassigned  []gitlab.Issue
	Buckets     map[Status]int
	GeneratedAt time.Time
}

// ActiveMembers is the number of members with any open work.
func (r *Report) ActiveMembers() int {
	return len(r.Entries)
}

// TotalOpenIssues counts assigned issues across members plus unassigned ones.
func (r *Report) TotalOpenIssues() int {
	total := len(r.Unassigned)
	for _, e := range r.Entries {
		total += e.IssueCount
	}
	return total
}

// Data converts the report into the form stored in the project context.
func (r *Report) Data() projectctx.WorkloadData {
	d := projectctx.WorkloadData{
		UserAssignments:  make(map[string]projectctx.UserWorkload, len(r.Entries)),
		UnassignedIssues: make([]projectctx.HotIssue, 0, len(r.Unassigned)),
	}
	for _, e := range r.Entries {
		uw := projectctx.UserWorkload{
			Username:   e.Member.Username,
			OpenIssues: make([]projectctx.HotIssue, 0, len(e.Issues)),
			OpenMRs:    make([]projectctx.MergeRequest, 0, len(e.MRs)),
			IssueCount: e.IssueCount,
			MRCount:    e.MRCount,
			TotalScore: e.Score,
		}
		for _, is := range e.Issues {
			uw.OpenIssues = append(uw.OpenIssues, projectctx.HotIssueFrom(is, r.GeneratedAt))
		}
		for _, mr := range e.MRs {
			uw.OpenMRs = append(uw.OpenMRs, projectctx.MergeRequestFrom(mr))
		}
		d.UserAssignments[uw.Username] = uw
	}
	for _, is := range r.Unassigned {
		d.UnassignedIssues = append(d.UnassignedIssues, projectctx.HotIssueFrom(is, r.GeneratedAt))
	}
	d.TotalOpenIssues = r.TotalOpenIssues()
	return d
}

// Render writes the ranked table followed by the summary.
func (r *Report) Render(w io.Writer) error {
	fmt.Fprintf(w, "Workload for project %s\n\n", r.ProjectID)

	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No members have open issues or merge requests.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tNAME\tUSERNAME\tROLE\tISSUES\tMRS\tSCORE\tSTATUS")
		for i, e := range r.Entries {
			role := e.Member.Role
			if role == "" {
				role = "-"
			}
			fmt.Fprintf(tw, "%d\t%s\t@%s\t%s\t%d\t%d\t%d\t%s\n",
				i+1, e.DisplayName(), e.Member.Username, role, e.IssueCount, e.MRCount, e.Score, e.Status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nSummary: %d high, %d medium, %d low\n", r.Buckets[High], r.Buckets[Medium], r.Buckets[Low])
	fmt.Fprintf(w, "Active members: %d\n", r.ActiveMembers())
	fmt.Fprintf(w, "Unassigned issues: %d\n", len(r.Unassigned))
	for i, is := range r.Unassigned {
		if i == sampleUnassigned {
			fmt.Fprintf(w, "  ... +%d more\n", len(r.Unassigned)-sampleUnassigned)
			break
		}
		fmt.Fprintf(w, "  - #%d %s\n", is.IID, is.Title)
	}
	_, err := fmt.Fprintf(w, "\nScore = open issues + 2 x open MRs (High > 8, Medium 4-8, Low < 4)\n")
	return err
}

// RenderEntry writes a single user's workload.
func RenderEntry(w io.Writer, e *Entry) error {
	fmt.Fprintf(w, "Workload for @%s\n", e.Member.Username)
	fmt.Fprintf(w, "Open issues: %d\nOpen merge requests: %d\nScore: %d (%s)\n", e.IssueCount, e.MRCount, e.Score, e.Status)
	if len(e.Issues) > 0 {
		fmt.Fprintln(w, "\nIssues:")
		for _, is := range e.Issues {
			fmt.Fprintf(w, "  - #%d %s\n", is.IID, is.Title)
		}
	}
	if len(e.MRs) > 0 {
		fmt.Fprintln(w, "\nMerge requests:")
		for _, mr := range e.MRs {
			fmt.Fprintf(w, "  - !%d %s (%s -> %s)\n", mr.IID, mr.Title, mr.SourceBranch, mr.TargetBranch)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
