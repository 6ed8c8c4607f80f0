package atlassian

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sooperset/mcp-atlassian/internal/auth"
)

const issueJSON = `{
	"key": "DEV-42",
	"fields": {
		"summary": "Fix login flow",
		"description": "Users get stuck on the second factor.",
		"status": {"name": "In Progress"},
		"issuetype": {"name": "Bug"},
		"priority": {"name": "High"},
		"assignee": {"displayName": "Sam Doe"},
		"reporter": {"displayName": "Alex Roe"},
		"created": "2026-08-01T10:00:00.000+0000",
		"updated": "2026-08-02T09:30:00.000+0000",
		"labels": ["auth", "regression"]
	}
}`

func TestGetIssue(t *testing.T) {
	var gotPath string
	c := testClient(t, patIdentity(""), nil, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(issueJSON))
	})

	issue, err := c.GetIssue(context.Background(), "DEV-42")
	require.NoError(t, err)

	assert.Equal(t, "/rest/api/2/issue/DEV-42", gotPath)
	assert.Equal(t, "DEV-42", issue.Key)
	assert.Equal(t, "Fix login flow", issue.Summary)
	assert.Equal(t, "In Progress", issue.Status)
	assert.Equal(t, "Bug", issue.IssueType)
	assert.Equal(t, "High", issue.Priority)
	assert.Equal(t, "Sam Doe", issue.Assignee)
	assert.Equal(t, []string{"auth", "regression"}, issue.Labels)
}

func TestSearchIssues(t *testing.T) {
	var gotJQL, gotMax string
	c := testClient(t, patIdentity(""), nil, func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		gotMax = r.URL.Query().Get("maxResults")
		_, _ = w.Write([]byte(`{"issues": [` + issueJSON + `]}`))
	})

	issues, err := c.SearchIssues(context.Background(), "status = Open", 10)
	require.NoError(t, err)

	assert.Equal(t, "status = Open", gotJQL)
	assert.Equal(t, "10", gotMax)
	require.Len(t, issues, 1)
	assert.Equal(t, "DEV-42", issues[0].Key)
}

func TestSearchIssues_ProjectsFilterScopesJQL(t *testing.T) {
	id := patIdentity("")
	id.ProjectsFilter = []string{"DEV", "QA"}

	var gotJQL string
	c := testClient(t, id, nil, func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		_, _ = w.Write([]byte(`{"issues": []}`))
	})

	_, err := c.SearchIssues(context.Background(), "status = Open", 0)
	require.NoError(t, err)
	assert.Equal(t, `(status = Open) AND project in ("DEV", "QA")`, gotJQL)

	_, err = c.SearchIssues(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, `project in ("DEV", "QA")`, gotJQL, "empty JQL still gets scoped")
}

func TestCreateIssue(t *testing.T) {
	var gotBody map[string]any
	c := testClient(t, patIdentity(""), nil, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id": "10001", "key": "DEV-43"}`))
	})

	issue, err := c.CreateIssue(context.Background(), "DEV", "Task", "Do the thing", "Details here")
	require.NoError(t, err)
	assert.Equal(t, "DEV-43", issue.Key)

	fields := gotBody["fields"].(map[string]any)
	assert.Equal(t, "Do the thing", fields["summary"])
	assert.Equal(t, map[string]any{"key": "DEV"}, fields["project"])
	assert.Equal(t, map[string]any{"name": "Task"}, fields["issuetype"])
}

func TestAddComment(t *testing.T) {
	c := testClient(t, patIdentity(""), nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/DEV-42/comment", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": "5001", "author": {"displayName": "Sam Doe"}, "body": "On it."}`))
	})

	comment, err := c.AddComment(context.Background(), "DEV-42", "On it.")
	require.NoError(t, err)
	assert.Equal(t, "5001", comment.ID)
	assert.Equal(t, "Sam Doe", comment.Author)
	assert.Equal(t, "On it.", comment.Body)
}

func TestGetTransitions(t *testing.T) {
	c := testClient(t, patIdentity(""), nil, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"transitions": [
			{"id": "21", "name": "Start Progress", "to": {"name": "In Progress"}},
			{"id": "31", "name": "Close", "to": {"name": "Done"}}
		]}`))
	})

	transitions, err := c.GetTransitions(context.Background(), "DEV-42")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, Transition{ID: "21", Name: "Start Progress", To: "In Progress"}, transitions[0])
}

func TestTransitionIssue(t *testing.T) {
	var gotBody map[string]any
	c := testClient(t, patIdentity(""), nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.TransitionIssue(context.Background(), "DEV-42", "21")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"transition": map[string]any{"id": "21"}}, gotBody)
}

func TestScopedJQL_NoFilterPassthrough(t *testing.T) {
	c := &Client{id: &auth.Identity{}}
	assert.Equal(t, "status = Open", c.scopedJQL("status = Open"))
}
