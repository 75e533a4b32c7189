package projectctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/ken/internal/gitlab"
)

func strPtr(s string) *string { return &s }

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stamp := func(d time.Duration) *string {
		return strPtr(now.Add(-d).Format(time.RFC3339))
	}

	tests := []struct {
		name  string
		ts    *string
		stale bool
	}{
		{"no timestamp", nil, true},
		{"unparsable", strPtr("yesterday"), true},
		{"empty", strPtr(""), true},
		{"just refreshed", stamp(0), false},
		{"59 minutes", stamp(59 * time.Minute), false},
		{"exactly 60 minutes", stamp(60 * time.Minute), false},
		{"61 minutes", stamp(61 * time.Minute), true},
		{"days old", stamp(72 * time.Hour), true},
		{"other zone", strPtr(now.In(time.FixedZone("JST", 9*3600)).Add(-30 * time.Minute).Format(time.RFC3339)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("p")
			c.LastUpdated = tt.ts
			assert.Equal(t, tt.stale, c.IsStale(now))
		})
	}
}

func TestTouchMakesFresh(t *testing.T) {
	now := time.Now()
	c := New("p")
	assert.True(t, c.IsStale(now))
	c.Touch(now)
	assert.False(t, c.IsStale(now))
	assert.True(t, c.IsStale(now.Add(2*time.Hour)))
}

func TestHotIssueFrom(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	is := gitlab.Issue{
		IID:       14,
		Title:     "Crash on save",
		State:     "opened",
		Assignee:  &gitlab.User{Username: "single"},
		Assignees: []gitlab.User{{Username: "first"}, {Username: "second"}},
		UpdatedAt: now.Add(-time.Hour),
	}
	h := HotIssueFrom(is, now)
	assert.Equal(t, int64(14), h.ID)
	assert.Equal(t, "first", h.Assignee)
	assert.Equal(t, []string{}, h.Labels)
	assert.True(t, h.UpdatedRecently)
	assert.Empty(t, h.Priority)

	is.Assignees = nil
	is.UpdatedAt = now.Add(-30 * 24 * time.Hour)
	h = HotIssueFrom(is, now)
	assert.Equal(t, "single", h.Assignee)
	assert.False(t, h.UpdatedRecently)

	is.Assignee = nil
	assert.Empty(t, HotIssueFrom(is, now).Assignee)
}

func TestSummary(t *testing.T) {
	now := time.Now()
	c := New("g/p")
	c.Labels = []ProjectLabel{{Name: "a"}, {Name: "b"}}
	c.Users = []ProjectUser{{Username: "u"}}
	c.WorkloadData = &WorkloadData{
		UserAssignments:  map[string]UserWorkload{"u": {Username: "u", IssueCount: 2, TotalScore: 2}},
		UnassignedIssues: []HotIssue{{ID: 1}},
		TotalOpenIssues:  3,
	}
	c.Touch(now)

	s := c.Summary(now)
	assert.Equal(t, 2, s.Labels)
	assert.Equal(t, 1, s.Users)
	assert.Equal(t, 1, s.ActiveMembers)
	assert.Equal(t, 1, s.Unassigned)
	assert.Equal(t, 3, s.TotalOpenIssues)
	assert.False(t, s.Stale)
	assert.NotEmpty(t, s.LastUpdated)
}
