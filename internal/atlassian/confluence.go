package atlassian

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const confluenceAPIPath = "/rest/api"

// Page is the subset of a Confluence page surfaced through the tools.
type Page struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SpaceKey string `json:"space_key,omitempty"`
	Version  int    `json:"version,omitempty"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
}

func pageFromJSON(v gjson.Result) Page {
	return Page{
		ID:       v.Get("id").String(),
		Title:    v.Get("title").String(),
		SpaceKey: v.Get("space.key").String(),
		Version:  int(v.Get("version.number").Int()),
		Body:     v.Get("body.storage.value").String(),
		URL:      v.Get("_links.webui").String(),
	}
}

// GetPage fetches a page by ID, including its storage-format body.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	query := url.Values{"expand": {"body.storage,version,space"}}

	v, err := c.do(ctx, "GET", confluenceAPIPath+"/content/"+url.PathEscape(id), query, nil)
	if err != nil {
		return nil, fmt.Errorf("getting page %s: %w", id, err)
	}

	page := pageFromJSON(v)

	return &page, nil
}

// SearchPages runs a CQL search. The identity's spaces filter, when set, is
// ANDed onto the query so a filtered identity cannot read outside its
// spaces.
func (c *Client) SearchPages(ctx context.Context, cql string, limit int) ([]Page, error) {
	if limit <= 0 {
		limit = 25
	}

	query := url.Values{
		"cql":    {c.scopedCQL(cql)},
		"limit":  {strconv.Itoa(limit)},
		"expand": {"version,space"},
	}

	v, err := c.do(ctx, "GET", confluenceAPIPath+"/content/search", query, nil)
	if err != nil {
		return nil, fmt.Errorf("searching pages: %w", err)
	}

	var pages []Page
	for _, pv := range v.Get("results").Array() {
		pages = append(pages, pageFromJSON(pv))
	}

	return pages, nil
}

// scopedCQL composes the caller's CQL with the identity's spaces filter.
func (c *Client) scopedCQL(cql string) string {
	filter := c.id.SpacesFilter
	if len(filter) == 0 {
		return cql
	}

	quoted := make([]string, len(filter))
	for i, s := range filter {
		quoted[i] = strconv.Quote(s)
	}
	scope := "space in (" + strings.Join(quoted, ", ") + ")"

	if strings.TrimSpace(cql) == "" {
		return scope
	}

	return "(" + cql + ") AND " + scope
}

// CreatePage creates a page in a space. parentID, when non-empty, makes the
// new page a child of that page.
func (c *Client) CreatePage(ctx context.Context, spaceKey, title, body, parentID string) (*Page, error) {
	payload := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]string{"key": spaceKey},
		"body": map[string]any{
			"storage": map[string]string{
				"value":          body,
				"representation": "storage",
			},
		},
	}
	if parentID != "" {
		payload["ancestors"] = []map[string]string{{"id": parentID}}
	}

	v, err := c.do(ctx, "POST", confluenceAPIPath+"/content", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("creating page %q in %s: %w", title, spaceKey, err)
	}

	page := pageFromJSON(v)

	return &page, nil
}

// UpdatePage replaces a page's title and body. The current version is read
// first so the update carries the required incremented version number.
func (c *Client) UpdatePage(ctx context.Context, id, title, body string) (*Page, error) {
	current, err := c.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}

	if title == "" {
		title = current.Title
	}

	payload := map[string]any{
		"type":    "page",
		"title":   title,
		"version": map[string]int{"number": current.Version + 1},
		"body": map[string]any{
			"storage": map[string]string{
				"value":          body,
				"representation": "storage",
			},
		},
	}

	v, err := c.do(ctx, "PUT", confluenceAPIPath+"/content/"+url.PathEscape(id), nil, payload)
	if err != nil {
		return nil, fmt.Errorf("updating page %s: %w", id, err)
	}

	page := pageFromJSON(v)

	return &page, nil
}
