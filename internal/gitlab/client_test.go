package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/p-blackswan/ken/internal/errors"
	"github.com/p-blackswan/ken/internal/retry"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, PrivateToken("glpat-test"), zerolog.Nop(),
		WithHTTPClient(server.Client()),
		WithRetry(retry.Config{MaxAttempts: 1}),
	)
	return client, server
}

func TestClient_PathEscapingAndAuth(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/group%2Frepo/labels", r.URL.EscapedPath())
		assert.Equal(t, "glpat-test", r.Header.Get("PRIVATE-TOKEN"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		assert.Equal(t, "true", r.URL.Query().Get("with_counts"))
		io.WriteString(w, `[{"id":1,"name":"bug","color":"#ff0000","open_issues_count":4},{"id":2,"name":"docs"}]`)
	})

	labels, err := client.ListLabels(context.Background(), "group/repo")
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "bug", labels[0].Name)
	require.NotNil(t, labels[0].OpenIssuesCount)
	assert.Equal(t, 4, *labels[0].OpenIssuesCount)
	assert.Nil(t, labels[1].OpenIssuesCount)
	assert.Empty(t, labels[1].Color)
}

func TestClient_OAuthBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer oauth-tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("PRIVATE-TOKEN"))
		io.WriteString(w, `{"id":7,"username":"alice","name":"Alice"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", NewAuthenticator("oauth", "oauth-tok"), zerolog.Nop(),
		WithHTTPClient(server.Client()))
	u, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(7), u.ID)
}

func TestClient_CurrentUser(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantUser string
		wantAuth bool
	}{
		{name: "ok", status: 200, body: `{"username":"bob"}`, wantUser: "bob"},
		{name: "no username", status: 200, body: `{"id":3}`, wantAuth: true},
		{name: "unauthorized", status: 401, body: `{"message":"401 Unauthorized"}`, wantAuth: true},
		{name: "forbidden", status: 403, body: `{"error":"insufficient_scope"}`, wantAuth: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v4/user", r.URL.Path)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			u, err := client.CurrentUser(context.Background())
			if tt.wantAuth {
				require.Error(t, err)
				assert.True(t, kerrors.IsAuth(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, u.Username)
		})
	}
}

func TestClient_APIErrorCarriesStatus(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"404 Project Not Found"}`)
	})

	_, err := client.ListOpenIssues(context.Background(), "missing/project")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, kerrors.StatusCode(err))
	assert.Contains(t, err.Error(), "404 Project Not Found")
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, PrivateToken("t"), zerolog.Nop(), WithRetry(retry.Config{MaxAttempts: 1}))
	_, err := client.ListLabels(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrTransport)
}

func TestClient_RetriesTransientGET(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `[]`)
	}))
	defer server.Close()

	client := NewClient(server.URL, PrivateToken("t"), zerolog.Nop(),
		WithHTTPClient(server.Client()),
		WithRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		WithRateLimit(1000, 10),
	)
	ms, err := client.ListMilestones(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, ms)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, PrivateToken("t"), zerolog.Nop(),
		WithHTTPClient(server.Client()),
		WithRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	)
	_, err := client.CreateIssue(context.Background(), "1", CreateIssueOptions{Title: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_LenientIssueDecoding(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[
			{"id":"not-a-number","iid":5,"title":"first","state":"opened",
			 "assignee":"bob","assignees":[{"username":"carol"},7],
			 "labels":["bug",3,"ui"],"milestone":"v1","created_at":"garbage"},
			42,
			{"iid":6,"title":null,"labels":"bug","assignee":{"username":"dave"},"assignees":null}
		]`)
	})

	issues, err := client.ListOpenIssues(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, issues, 2)

	first := issues[0]
	assert.Zero(t, first.ID)
	assert.Equal(t, int64(5), first.IID)
	assert.Nil(t, first.Assignee)
	assert.Equal(t, []string{"bug", "ui"}, first.Labels)
	assert.Nil(t, first.Milestone)
	assert.True(t, first.CreatedAt.IsZero())
	assert.Equal(t, "carol", first.AssigneeUsername())

	second := issues[1]
	assert.Equal(t, "", second.Title)
	assert.Equal(t, []string{}, second.Labels)
	assert.Equal(t, "dave", second.AssigneeUsername())
	assert.False(t, second.Unassigned())
}

func TestClient_ListIssuesByAssignee(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "opened", q.Get("state"))
		assert.Equal(t, "alice", q.Get("assignee_username"))
		io.WriteString(w, `[{"iid":1,"title":"a","assignees":[{"username":"alice"}]}]`)
	})

	issues, err := client.ListIssuesByAssignee(context.Background(), "g/p", "alice")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "alice", issues[0].AssigneeUsername())
}

func TestClient_ListUnassignedIssues(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("assignee_username"))
		io.WriteString(w, `[
			{"iid":1,"assignee":{"username":"a"}},
			{"iid":2,"assignees":[{"username":"b"}]},
			{"iid":3,"assignee":null,"assignees":[]},
			{"iid":4}
		]`)
	})

	issues, err := client.ListUnassignedIssues(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, int64(3), issues[0].IID)
	assert.Equal(t, int64(4), issues[1].IID)
}

func TestClient_ListProjectMembers(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/42/members/all", r.URL.Path)
		io.WriteString(w, `[
			{"id":1,"username":"owner","name":"O","access_level":50},
			{"id":2,"username":"dev","access_level":30},
			{"id":3,"username":"odd","access_level":15}
		]`)
	})

	members, err := client.ListProjectMembers(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "Owner", members[0].Role)
	assert.Equal(t, "Developer", members[1].Role)
	assert.Equal(t, "Member", members[2].Role)
	assert.Equal(t, 15, members[2].AccessLevel)
}

func TestClient_ListMergeRequests(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/g%2Fp/merge_requests", r.URL.EscapedPath())
		assert.Equal(t, "bob", r.URL.Query().Get("assignee_username"))
		io.WriteString(w, `[{"iid":9,"title":"Fix","source_branch":"fix","target_branch":"main","state":"opened","draft":true}]`)
	})

	mrs, err := client.ListMRsByAssignee(context.Background(), "g/p", "bob")
	require.NoError(t, err)
	require.Len(t, mrs, 1)
	assert.Equal(t, "fix", mrs[0].SourceBranch)
	assert.Equal(t, "main", mrs[0].TargetBranch)
	assert.True(t, mrs[0].Draft)
}

func TestClient_ListProjects(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "api", q.Get("search"))
		assert.Equal(t, "true", q.Get("membership"))
		assert.Equal(t, "true", q.Get("simple"))
		assert.Empty(t, q.Get("owned"))
		io.WriteString(w, `[{"id":1,"name":"api","path_with_namespace":"team/api"}]`)
	})

	projects, err := client.ListProjects(context.Background(), ListProjectsOptions{Search: "api", Membership: true})
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "team/api", projects[0].PathWithNamespace)
}

func TestClient_CreateIssue(t *testing.T) {
	client, _ := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Login broken", body["title"])
		assert.Equal(t, "bug,auth", body["labels"])
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"iid":12,"title":"Login broken","web_url":"https://gitlab.example.com/g/p/-/issues/12"}`)
	})

	is, err := client.CreateIssue(context.Background(), "g/p", CreateIssueOptions{Title: "Login broken", Labels: "bug,auth"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), is.IID)
	assert.Contains(t, is.WebURL, "/issues/12")
}

func TestClient_CreateValidation(t *testing.T) {
	client := NewClient("http://unused", PrivateToken("t"), zerolog.Nop())

	_, err := client.CreateIssue(context.Background(), "1", CreateIssueOptions{Title: "  "})
	assert.ErrorIs(t, err, kerrors.ErrInvalidInput)

	_, err = client.CreateMergeRequest(context.Background(), "1", CreateMergeRequestOptions{Title: "x", SourceBranch: "a"})
	assert.ErrorIs(t, err, kerrors.ErrInvalidInput)
}

func TestClient_EmptyTokenRejected(t *testing.T) {
	client := NewClient("http://unused", PrivateToken(""), zerolog.Nop())
	_, err := client.CurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, kerrors.ErrAuthFailure))
}

func TestRoleName(t *testing.T) {
	tests := map[int]string{
		10: "Guest", 20: "Reporter", 30: "Developer", 40: "Maintainer", 50: "Owner",
		0: "Member", 5: "Member", 60: "Member",
	}
	for level, want := range tests {
		assert.Equal(t, want, RoleName(level), "level %d", level)
	}
}
