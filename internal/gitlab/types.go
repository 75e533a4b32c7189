package gitlab

import "time"

// User is a GitLab account as returned by /user and embedded in issues.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	State     string `json:"state,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Member is a project member with a resolved role name.
type Member struct {
	User
	AccessLevel int    `json:"access_level"`
	Role        string `json:"role"`
}

// Label is a project label. OpenIssuesCount is nil when GitLab did not
// report usage counts.
type Label struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Color           string `json:"color,omitempty"`
	Description     string `json:"description,omitempty"`
	OpenIssuesCount *int   `json:"open_issues_count,omitempty"`
}

type Milestone struct {
	ID          int64  `json:"id"`
	IID         int64  `json:"iid"`
	Title       string `json:"title"`
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

// Issue is the full issue record used by tools and the workload report.
type Issue struct {
	ID          int64      `json:"id"`
	IID         int64      `json:"iid"`
	ProjectID   int64      `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	Author      *User      `json:"author,omitempty"`
	Labels      []string   `json:"labels"`
	Milestone   *Milestone `json:"milestone,omitempty"`
	WebURL      string     `json:"web_url"`
}

// AssigneeUsername prefers the first entry of Assignees and falls back to
// the singular Assignee.
func (i Issue) AssigneeUsername() string {
	if len(i.Assignees) > 0 {
		return i.Assignees[0].Username
	}
	if i.Assignee != nil {
		return i.Assignee.Username
	}
	return ""
}

// Unassigned reports whether the issue has neither an assignee nor any
// entry in assignees.
func (i Issue) Unassigned() bool {
	return i.Assignee == nil && len(i.Assignees) == 0
}

// MergeRequest is the full merge request record.
type MergeRequest struct {
	ID           int64     `json:"id"`
	IID          int64     `json:"iid"`
	ProjectID    int64     `json:"project_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Assignee     *User     `json:"assignee,omitempty"`
	Assignees    []User    `json:"assignees,omitempty"`
	Author       *User     `json:"author,omitempty"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	Labels       []string  `json:"labels"`
	WebURL       string    `json:"web_url"`
	MergeStatus  string    `json:"merge_status,omitempty"`
	Draft        bool      `json:"draft"`
}

func (m MergeRequest) AssigneeUsername() string {
	if len(m.Assignees) > 0 {
		return m.Assignees[0].Username
	}
	if m.Assignee != nil {
		return m.Assignee.Username
	}
	return ""
}

type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	Description       string `json:"description,omitempty"`
	DefaultBranch     string `json:"default_branch,omitempty"`
	WebURL            string `json:"web_url"`
}

// Access levels as defined by GitLab.
const (
	AccessGuest      = 10
	AccessReporter   = 20
	AccessDeveloper  = 30
	AccessMaintainer = 40
	AccessOwner      = 50
)

// RoleName maps a numeric access level to its role name. Unknown levels
// resolve to "Member".
func RoleName(level int) string {
	switch level {
	case AccessGuest:
		return "Guest"
	case AccessReporter:
		return "Reporter"
	case AccessDeveloper:
		return "Developer"
	case AccessMaintainer:
		return "Maintainer"
	case AccessOwner:
		return "Owner"
	default:
		return "Member"
	}
}

// Conversions from wire types. Every default is applied here.

func (w wireUser) user() User {
	return User{
		ID:        w.ID.V,
		Username:  string(w.Username),
		Name:      string(w.Name),
		Email:     string(w.Email),
		State:     string(w.State),
		AvatarURL: string(w.AvatarURL),
	}
}

func (o optUser) ptr() *User {
	if o.u == nil {
		return nil
	}
	u := o.u.user()
	return &u
}

func (l userList) users() []User {
	if len(l) == 0 {
		return nil
	}
	out := make([]User, len(l))
	for i, w := range l {
		out[i] = w.user()
	}
	return out
}

func toMember(w wireUser) Member {
	level := int(w.AccessLevel.V)
	return Member{User: w.user(), AccessLevel: level, Role: RoleName(level)}
}

func toLabel(w wireLabel) Label {
	l := Label{
		ID:          w.ID.V,
		Name:        string(w.Name),
		Color:       string(w.Color),
		Description: string(w.Description),
	}
	if w.OpenIssuesCount.Valid {
		n := int(w.OpenIssuesCount.V)
		l.OpenIssuesCount = &n
	}
	return l
}

func toMilestone(w wireMilestone) Milestone {
	return Milestone{
		ID:          w.ID.V,
		IID:         w.IID.V,
		Title:       string(w.Title),
		State:       string(w.State),
		Description: string(w.Description),
		DueDate:     string(w.DueDate),
		WebURL:      string(w.WebURL),
	}
}

func toIssue(w wireIssue) Issue {
	i := Issue{
		ID:          w.ID.V,
		IID:         w.IID.V,
		ProjectID:   w.ProjectID.V,
		Title:       string(w.Title),
		Description: string(w.Description),
		State:       string(w.State),
		CreatedAt:   time.Time(w.CreatedAt),
		UpdatedAt:   time.Time(w.UpdatedAt),
		Assignee:    w.Assignee.ptr(),
		Assignees:   w.Assignees.users(),
		Author:      w.Author.ptr(),
		Labels:      []string(w.Labels),
		WebURL:      string(w.WebURL),
	}
	if i.Labels == nil {
		i.Labels = []string{}
	}
	if w.Milestone.m != nil {
		m := toMilestone(*w.Milestone.m)
		i.Milestone = &m
	}
	return i
}

func toMergeRequest(w wireMergeRequest) MergeRequest {
	m := MergeRequest{
		ID:           w.ID.V,
		IID:          w.IID.V,
		ProjectID:    w.ProjectID.V,
		Title:        string(w.Title),
		Description:  string(w.Description),
		State:        string(w.State),
		CreatedAt:    time.Time(w.CreatedAt),
		UpdatedAt:    time.Time(w.UpdatedAt),
		Assignee:     w.Assignee.ptr(),
		Assignees:    w.Assignees.users(),
		Author:       w.Author.ptr(),
		SourceBranch: string(w.SourceBranch),
		TargetBranch: string(w.TargetBranch),
		Labels:       []string(w.Labels),
		WebURL:       string(w.WebURL),
		MergeStatus:  string(w.MergeStatus),
		Draft:        bool(w.Draft),
	}
	if m.Labels == nil {
		m.Labels = []string{}
	}
	return m
}

func toProject(w wireProject) Project {
	return Project{
		ID:                w.ID.V,
		Name:              string(w.Name),
		PathWithNamespace: string(w.PathWithNamespace),
		Description:       string(w.Description),
		DefaultBranch:     string(w.DefaultBranch),
		WebURL:            string(w.WebURL),
	}
}
