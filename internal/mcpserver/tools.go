package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sooperset/mcp-atlassian/internal/atlassian"
)

// RegisterTools adds all Jira and Confluence tools to the given MCP server.
// Tools are always registered; per-request filtering (enabled tools,
// read-only mode) happens when a tool is invoked, because the effective
// identity is only known per request.
func RegisterTools(server *mcp.Server, p *Provider) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "jira_get_issue",
		Description: "Get a single Jira issue by key, including summary, description, status, assignee, and labels.",
	}, getIssueHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "jira_search",
		Description: "Search Jira issues with JQL. Results are limited to the configured projects filter when one is set.",
	}, searchIssuesHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "jira_create_issue",
		Description: "Create a Jira issue in a project. Requires write access (disabled in read-only mode).",
	}, createIssueHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "jira_add_comment",
		Description: "Add a comment to a Jira issue. Requires write access (disabled in read-only mode).",
	}, addCommentHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "jira_get_transitions",
		Description: "List the workflow transitions currently available on a Jira issue.",
	}, getTransitionsHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "jira_transition_issue",
		Description: "Move a Jira issue through a workflow transition by transition ID. Requires write access.",
	}, transitionIssueHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "confluence_get_page",
		Description: "Get a Confluence page by ID, including its storage-format body.",
	}, getPageHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "confluence_search",
		Description: "Search Confluence content with CQL. Results are limited to the configured spaces filter when one is set.",
	}, searchPagesHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "confluence_create_page",
		Description: "Create a Confluence page in a space, optionally under a parent page. Requires write access.",
	}, createPageHandler(p))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "confluence_update_page",
		Description: "Replace a Confluence page's body (and optionally title). Requires write access.",
	}, updatePageHandler(p))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// GetIssueInput holds parameters for jira_get_issue.
type GetIssueInput struct {
	IssueKey string `json:"issue_key" jsonschema:"required,issue key like PROJ-123"`
}

// SearchIssuesInput holds parameters for jira_search.
type SearchIssuesInput struct {
	JQL   string `json:"jql" jsonschema:"required,JQL query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of issues, defaults to 50"`
}

// CreateIssueInput holds parameters for jira_create_issue.
type CreateIssueInput struct {
	ProjectKey  string `json:"project_key" jsonschema:"required,project key like PROJ"`
	IssueType   string `json:"issue_type" jsonschema:"required,issue type name like Task or Bug"`
	Summary     string `json:"summary" jsonschema:"required,one-line issue summary"`
	Description string `json:"description,omitempty" jsonschema:"issue description"`
}

// AddCommentInput holds parameters for jira_add_comment.
type AddCommentInput struct {
	IssueKey string `json:"issue_key" jsonschema:"required,issue key like PROJ-123"`
	Body     string `json:"body" jsonschema:"required,comment text"`
}

// GetTransitionsInput holds parameters for jira_get_transitions.
type GetTransitionsInput struct {
	IssueKey string `json:"issue_key" jsonschema:"required,issue key like PROJ-123"`
}

// TransitionIssueInput holds parameters for jira_transition_issue.
type TransitionIssueInput struct {
	IssueKey     string `json:"issue_key" jsonschema:"required,issue key like PROJ-123"`
	TransitionID string `json:"transition_id" jsonschema:"required,transition ID from jira_get_transitions"`
}

// GetPageInput holds parameters for confluence_get_page.
type GetPageInput struct {
	PageID string `json:"page_id" jsonschema:"required,numeric page ID"`
}

// SearchPagesInput holds parameters for confluence_search.
type SearchPagesInput struct {
	CQL   string `json:"cql" jsonschema:"required,CQL query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, defaults to 25"`
}

// CreatePageInput holds parameters for confluence_create_page.
type CreatePageInput struct {
	SpaceKey string `json:"space_key" jsonschema:"required,space key like ENG"`
	Title    string `json:"title" jsonschema:"required,page title"`
	Body     string `json:"body" jsonschema:"required,page body in storage format"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"optional parent page ID"`
}

// UpdatePageInput holds parameters for confluence_update_page.
type UpdatePageInput struct {
	PageID string `json:"page_id" jsonschema:"required,numeric page ID"`
	Title  string `json:"title,omitempty" jsonschema:"new title, empty keeps the current one"`
	Body   string `json:"body" jsonschema:"required,new page body in storage format"`
}

// --- Result types ---
// Structured tool output must be a JSON object, so list results are wrapped.

// SearchIssuesResult is the structured output of jira_search.
type SearchIssuesResult struct {
	Issues []atlassian.Issue `json:"issues"`
	Count  int               `json:"count"`
}

// TransitionsResult is the structured output of jira_get_transitions.
type TransitionsResult struct {
	Transitions []atlassian.Transition `json:"transitions"`
}

// TransitionResult reports a completed workflow transition.
type TransitionResult struct {
	IssueKey     string `json:"issue_key"`
	TransitionID string `json:"transition_id"`
	Transitioned bool   `json:"transitioned"`
}

// SearchPagesResult is the structured output of confluence_search.
type SearchPagesResult struct {
	Pages []atlassian.Page `json:"pages"`
	Count int              `json:"count"`
}

// --- Handlers ---

func getIssueHandler(p *Provider) mcp.ToolHandlerFor[GetIssueInput, *atlassian.Issue] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetIssueInput) (*mcp.CallToolResult, *atlassian.Issue, error) {
		c, err := p.Jira(ctx, "jira_get_issue", false)
		if err != nil {
			return nil, nil, err
		}

		issue, err := c.GetIssue(ctx, input.IssueKey)
		if err != nil {
			return nil, nil, err
		}
		return textResult(issue), issue, nil
	}
}

func searchIssuesHandler(p *Provider) mcp.ToolHandlerFor[SearchIssuesInput, *SearchIssuesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchIssuesInput) (*mcp.CallToolResult, *SearchIssuesResult, error) {
		c, err := p.Jira(ctx, "jira_search", false)
		if err != nil {
			return nil, nil, err
		}

		issues, err := c.SearchIssues(ctx, input.JQL, input.Limit)
		if err != nil {
			return nil, nil, err
		}

		result := &SearchIssuesResult{Issues: issues, Count: len(issues)}
		return textResult(result), result, nil
	}
}

func createIssueHandler(p *Provider) mcp.ToolHandlerFor[CreateIssueInput, *atlassian.Issue] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateIssueInput) (*mcp.CallToolResult, *atlassian.Issue, error) {
		c, err := p.Jira(ctx, "jira_create_issue", true)
		if err != nil {
			return nil, nil, err
		}

		issue, err := c.CreateIssue(ctx, input.ProjectKey, input.IssueType, input.Summary, input.Description)
		if err != nil {
			return nil, nil, err
		}
		return textResult(issue), issue, nil
	}
}

func addCommentHandler(p *Provider) mcp.ToolHandlerFor[AddCommentInput, *atlassian.Comment] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AddCommentInput) (*mcp.CallToolResult, *atlassian.Comment, error) {
		c, err := p.Jira(ctx, "jira_add_comment", true)
		if err != nil {
			return nil, nil, err
		}

		comment, err := c.AddComment(ctx, input.IssueKey, input.Body)
		if err != nil {
			return nil, nil, err
		}
		return textResult(comment), comment, nil
	}
}

func getTransitionsHandler(p *Provider) mcp.ToolHandlerFor[GetTransitionsInput, *TransitionsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetTransitionsInput) (*mcp.CallToolResult, *TransitionsResult, error) {
		c, err := p.Jira(ctx, "jira_get_transitions", false)
		if err != nil {
			return nil, nil, err
		}

		transitions, err := c.GetTransitions(ctx, input.IssueKey)
		if err != nil {
			return nil, nil, err
		}

		result := &TransitionsResult{Transitions: transitions}
		return textResult(result), result, nil
	}
}

func transitionIssueHandler(p *Provider) mcp.ToolHandlerFor[TransitionIssueInput, *TransitionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TransitionIssueInput) (*mcp.CallToolResult, *TransitionResult, error) {
		c, err := p.Jira(ctx, "jira_transition_issue", true)
		if err != nil {
			return nil, nil, err
		}

		if err := c.TransitionIssue(ctx, input.IssueKey, input.TransitionID); err != nil {
			return nil, nil, err
		}

		result := &TransitionResult{
			IssueKey:     input.IssueKey,
			TransitionID: input.TransitionID,
			Transitioned: true,
		}
		return textResult(result), result, nil
	}
}

func getPageHandler(p *Provider) mcp.ToolHandlerFor[GetPageInput, *atlassian.Page] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input GetPageInput) (*mcp.CallToolResult, *atlassian.Page, error) {
		c, err := p.Confluence(ctx, "confluence_get_page", false)
		if err != nil {
			return nil, nil, err
		}

		page, err := c.GetPage(ctx, input.PageID)
		if err != nil {
			return nil, nil, err
		}
		return textResult(page), page, nil
	}
}

func searchPagesHandler(p *Provider) mcp.ToolHandlerFor[SearchPagesInput, *SearchPagesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchPagesInput) (*mcp.CallToolResult, *SearchPagesResult, error) {
		c, err := p.Confluence(ctx, "confluence_search", false)
		if err != nil {
			return nil, nil, err
		}

		pages, err := c.SearchPages(ctx, input.CQL, input.Limit)
		if err != nil {
			return nil, nil, err
		}

		result := &SearchPagesResult{Pages: pages, Count: len(pages)}
		return textResult(result), result, nil
	}
}

func createPageHandler(p *Provider) mcp.ToolHandlerFor[CreatePageInput, *atlassian.Page] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreatePageInput) (*mcp.CallToolResult, *atlassian.Page, error) {
		c, err := p.Confluence(ctx, "confluence_create_page", true)
		if err != nil {
			return nil, nil, err
		}

		page, err := c.CreatePage(ctx, input.SpaceKey, input.Title, input.Body, input.ParentID)
		if err != nil {
			return nil, nil, err
		}
		return textResult(page), page, nil
	}
}

func updatePageHandler(p *Provider) mcp.ToolHandlerFor[UpdatePageInput, *atlassian.Page] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdatePageInput) (*mcp.CallToolResult, *atlassian.Page, error) {
		c, err := p.Confluence(ctx, "confluence_update_page", true)
		if err != nil {
			return nil, nil, err
		}

		page, err := c.UpdatePage(ctx, input.PageID, input.Title, input.Body)
		if err != nil {
			return nil, nil, err
		}
		return textResult(page), page, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
