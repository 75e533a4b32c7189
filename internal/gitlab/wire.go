package gitlab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// GitLab omits or retypes fields depending on version and permissions, so the
// wire types below never fail to decode. A field that is missing, null or of
// the wrong JSON type decodes to its zero value. Defaults are applied here
// and nowhere else.

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		*s = ""
		return nil
	}
	*s = flexString(v)
	return nil
}

// flexInt keeps track of whether a number was actually present.
type flexInt struct {
	V     int64
	Valid bool
}

func (n *flexInt) UnmarshalJSON(b []byte) error {
	*n = flexInt{}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return nil
	}
	if i, err := num.Int64(); err == nil {
		*n = flexInt{V: i, Valid: true}
		return nil
	}
	if f, err := strconv.ParseFloat(num.String(), 64); err == nil {
		*n = flexInt{V: int64(f), Valid: true}
	}
	return nil
}

type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	var x bool
	if err := json.Unmarshal(b, &x); err != nil {
		*v = false
		return nil
	}
	*v = flexBool(x)
	return nil
}

type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	*t = flexTime{}
	var s string
	if err := json.Unmarshal(b, &s); err != nil || s == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		*t = flexTime(parsed)
	}
	return nil
}

// flexStrings decodes an array of strings, dropping non-string elements.
type flexStrings []string

func (l *flexStrings) UnmarshalJSON(b []byte) error {
	*l = nil
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if json.Unmarshal(r, &s) == nil {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

type wireUser struct {
	ID          flexInt    `json:"id"`
	Username    flexString `json:"username"`
	Name        flexString `json:"name"`
	Email       flexString `json:"email"`
	State       flexString `json:"state"`
	AvatarURL   flexString `json:"avatar_url"`
	AccessLevel flexInt    `json:"access_level"`
}

// optUser is a user object that may be null or malformed.
type optUser struct {
	u *wireUser
}

func (o *optUser) UnmarshalJSON(b []byte) error {
	o.u = nil
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var w wireUser
	if err := json.Unmarshal(b, &w); err != nil {
		return nil
	}
	o.u = &w
	return nil
}

type userList []wireUser

func (l *userList) UnmarshalJSON(b []byte) error {
	*l = nil
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	for _, r := range raw {
		var o optUser
		_ = o.UnmarshalJSON(r)
		if o.u != nil {
			*l = append(*l, *o.u)
		}
	}
	return nil
}

type wireMilestone struct {
	ID          flexInt    `json:"id"`
	IID         flexInt    `json:"iid"`
	Title       flexString `json:"title"`
	State       flexString `json:"state"`
	Description flexString `json:"description"`
	DueDate     flexString `json:"due_date"`
	WebURL      flexString `json:"web_url"`
}

type optMilestone struct {
	m *wireMilestone
}

func (o *optMilestone) UnmarshalJSON(b []byte) error {
	o.m = nil
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var w wireMilestone
	if err := json.Unmarshal(b, &w); err != nil {
		return nil
	}
	o.m = &w
	return nil
}

type wireLabel struct {
	ID              flexInt    `json:"id"`
	Name            flexString `json:"name"`
	Color           flexString `json:"color"`
	Description     flexString `json:"description"`
	OpenIssuesCount flexInt    `json:"open_issues_count"`
}

type wireIssue struct {
	ID          flexInt      `json:"id"`
	IID         flexInt      `json:"iid"`
	ProjectID   flexInt      `json:"project_id"`
	Title       flexString   `json:"title"`
	Description flexString   `json:"description"`
	State       flexString   `json:"state"`
	CreatedAt   flexTime     `json:"created_at"`
	UpdatedAt   flexTime     `json:"updated_at"`
	Assignee    optUser      `json:"assignee"`
	Assignees   userList     `json:"assignees"`
	Author      optUser      `json:"author"`
	Labels      flexStrings  `json:"labels"`
	Milestone   optMilestone `json:"milestone"`
	WebURL      flexString   `json:"web_url"`
}

type wireMergeRequest struct {
	ID           flexInt     `json:"id"`
	IID          flexInt     `json:"iid"`
	ProjectID    flexInt     `json:"project_id"`
	Title        flexString  `json:"title"`
	Description  flexString  `json:"description"`
	State        flexString  `json:"state"`
	CreatedAt    flexTime    `json:"created_at"`
	UpdatedAt    flexTime    `json:"updated_at"`
	Assignee     optUser     `json:"assignee"`
	Assignees    userList    `json:"assignees"`
	Author       optUser     `json:"author"`
	SourceBranch flexString  `json:"source_branch"`
	TargetBranch flexString  `json:"target_branch"`
	Labels       flexStrings `json:"labels"`
	WebURL       flexString  `json:"web_url"`
	MergeStatus  flexString  `json:"merge_status"`
	Draft        flexBool    `json:"draft"`
}

type wireProject struct {
	ID                flexInt    `json:"id"`
	Name              flexString `json:"name"`
	PathWithNamespace flexString `json:"path_with_namespace"`
	Description       flexString `json:"description"`
	DefaultBranch     flexString `json:"default_branch"`
	WebURL            flexString `json:"web_url"`
}

// decodeList decodes a JSON array element by element. Elements that are not
// objects are skipped; a body that is not an array is an error.
func decodeList[W any, T any](body []byte, conv func(W) T) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var w W
		if err := json.Unmarshal(r, &w); err != nil {
			continue
		}
		out = append(out, conv(w))
	}
	return out, nil
}

func decodeOne[W any, T any](body []byte, conv func(W) T) (T, error) {
	var w W
	if err := json.Unmarshal(body, &w); err != nil {
		var zero T
		return zero, fmt.Errorf("decoding response: %w", err)
	}
	return conv(w), nil
}
