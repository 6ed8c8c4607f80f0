package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sooperset/mcp-atlassian/internal/auth"
)

func jiraBackend(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := jiraGlobals()
	g.Primary.URL = srv.URL

	return testProvider(g, nil)
}

func TestGetIssueTool(t *testing.T) {
	p := jiraBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/2/issue/DEV-1", r.URL.Path)
		assert.Equal(t, "Bearer PAT1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"key": "DEV-1", "fields": {"summary": "A bug", "status": {"name": "Open"}}}`))
	})

	res, issue, err := getIssueHandler(p)(context.Background(), nil, GetIssueInput{IssueKey: "DEV-1"})
	require.NoError(t, err)

	require.NotNil(t, issue)
	assert.Equal(t, "DEV-1", issue.Key)
	assert.Equal(t, "A bug", issue.Summary)
	assert.Equal(t, "Open", issue.Status)

	require.NotNil(t, res)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
}

func TestSearchTool_WrapsResults(t *testing.T) {
	p := jiraBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"issues": [{"key": "DEV-1", "fields": {"summary": "A"}}, {"key": "DEV-2", "fields": {"summary": "B"}}]}`))
	})

	_, result, err := searchIssuesHandler(p)(context.Background(), nil, SearchIssuesInput{JQL: "status = Open"})
	require.NoError(t, err)

	require.NotNil(t, result)
	assert.Equal(t, 2, result.Count)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, "DEV-2", result.Issues[1].Key)
}

func TestWriteTool_BlockedInReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("read-only mode must block before any API call")
	}))
	t.Cleanup(srv.Close)

	g := jiraGlobals()
	g.Primary.URL = srv.URL
	g.ReadOnly = true
	p := testProvider(g, nil)

	_, _, err := createIssueHandler(p)(context.Background(), nil, CreateIssueInput{
		ProjectKey: "DEV", IssueType: "Task", Summary: "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestTool_PerRequestBearerReachesBackend(t *testing.T) {
	var gotAuth string
	p := jiraBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"key": "DEV-1", "fields": {}}`))
	})

	// The request-scoped token replaces the global PAT but keeps the global
	// URL, so the call still lands on the fake backend.
	ctx := auth.ContextWithOverride(context.Background(), &auth.Override{
		AuthScheme: auth.AuthSchemeToken,
		AuthToken:  "REQUEST-PAT",
	})

	_, _, err := getIssueHandler(p)(ctx, nil, GetIssueInput{IssueKey: "DEV-1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer REQUEST-PAT", gotAuth)
}
