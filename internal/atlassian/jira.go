package atlassian

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const jiraAPIPath = "/rest/api/2"

// Issue is the subset of a Jira issue surfaced through the tools.
type Issue struct {
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	IssueType   string   `json:"issue_type,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Reporter    string   `json:"reporter,omitempty"`
	Created     string   `json:"created,omitempty"`
	Updated     string   `json:"updated,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// Comment is a single issue comment.
type Comment struct {
	ID      string `json:"id"`
	Author  string `json:"author,omitempty"`
	Body    string `json:"body"`
	Created string `json:"created,omitempty"`
}

// Transition is an available workflow transition for an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   string `json:"to,omitempty"`
}

func issueFromJSON(v gjson.Result) Issue {
	issue := Issue{
		Key:         v.Get("key").String(),
		Summary:     v.Get("fields.summary").String(),
		Description: v.Get("fields.description").String(),
		Status:      v.Get("fields.status.name").String(),
		IssueType:   v.Get("fields.issuetype.name").String(),
		Priority:    v.Get("fields.priority.name").String(),
		Assignee:    v.Get("fields.assignee.displayName").String(),
		Reporter:    v.Get("fields.reporter.displayName").String(),
		Created:     v.Get("fields.created").String(),
		Updated:     v.Get("fields.updated").String(),
	}

	for _, l := range v.Get("fields.labels").Array() {
		issue.Labels = append(issue.Labels, l.String())
	}

	return issue
}

// GetIssue fetches a single issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	v, err := c.do(ctx, "GET", jiraAPIPath+"/issue/"+url.PathEscape(key), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("getting issue %s: %w", key, err)
	}

	issue := issueFromJSON(v)

	return &issue, nil
}

// SearchIssues runs a JQL search. The identity's projects filter, when set,
// is ANDed onto the query so a filtered identity cannot read outside its
// projects even with hand-crafted JQL.
func (c *Client) SearchIssues(ctx context.Context, jql string, limit int) ([]Issue, error) {
	if limit <= 0 {
		limit = 50
	}

	query := url.Values{
		"jql":        {c.scopedJQL(jql)},
		"maxResults": {strconv.Itoa(limit)},
		"fields":     {"summary,description,status,issuetype,priority,assignee,reporter,created,updated,labels"},
	}

	v, err := c.do(ctx, "GET", jiraAPIPath+"/search", query, nil)
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}

	var issues []Issue
	for _, iv := range v.Get("issues").Array() {
		issues = append(issues, issueFromJSON(iv))
	}

	return issues, nil
}

// scopedJQL composes the caller's JQL with the identity's projects filter.
func (c *Client) scopedJQL(jql string) string {
	filter := c.id.ProjectsFilter
	if len(filter) == 0 {
		return jql
	}

	quoted := make([]string, len(filter))
	for i, p := range filter {
		quoted[i] = strconv.Quote(p)
	}
	scope := "project in (" + strings.Join(quoted, ", ") + ")"

	if strings.TrimSpace(jql) == "" {
		return scope
	}

	return "(" + jql + ") AND " + scope
}

// CreateIssue creates an issue and returns it with the server-assigned key.
func (c *Client) CreateIssue(ctx context.Context, projectKey, issueType, summary, description string) (*Issue, error) {
	body := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": projectKey},
			"issuetype":   map[string]string{"name": issueType},
			"summary":     summary,
			"description": description,
		},
	}

	v, err := c.do(ctx, "POST", jiraAPIPath+"/issue", nil, body)
	if err != nil {
		return nil, fmt.Errorf("creating issue in %s: %w", projectKey, err)
	}

	return &Issue{
		Key:         v.Get("key").String(),
		Summary:     summary,
		Description: description,
		IssueType:   issueType,
	}, nil
}

// AddComment adds a comment to an issue and returns it.
func (c *Client) AddComment(ctx context.Context, key, body string) (*Comment, error) {
	v, err := c.do(ctx, "POST", jiraAPIPath+"/issue/"+url.PathEscape(key)+"/comment", nil,
		map[string]string{"body": body})
	if err != nil {
		return nil, fmt.Errorf("commenting on %s: %w", key, err)
	}

	return &Comment{
		ID:      v.Get("id").String(),
		Author:  v.Get("author.displayName").String(),
		Body:    v.Get("body").String(),
		Created: v.Get("created").String(),
	}, nil
}

// GetTransitions lists the workflow transitions currently available on an
// issue.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	v, err := c.do(ctx, "GET", jiraAPIPath+"/issue/"+url.PathEscape(key)+"/transitions", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing transitions for %s: %w", key, err)
	}

	var transitions []Transition
	for _, tv := range v.Get("transitions").Array() {
		transitions = append(transitions, Transition{
			ID:   tv.Get("id").String(),
			Name: tv.Get("name").String(),
			To:   tv.Get("to.name").String(),
		})
	}

	return transitions, nil
}

// TransitionIssue moves an issue through a workflow transition.
func (c *Client) TransitionIssue(ctx context.Context, key, transitionID string) error {
	body := map[string]any{
		"transition": map[string]string{"id": transitionID},
	}

	_, err := c.do(ctx, "POST", jiraAPIPath+"/issue/"+url.PathEscape(key)+"/transitions", nil, body)
	if err != nil {
		return fmt.Errorf("transitioning %s: %w", key, err)
	}

	return nil
}
