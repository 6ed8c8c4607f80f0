package auth

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

// Recognized request headers. Lookup through http.Header is
// case-insensitive; these are the canonical spellings.
const (
	HeaderJiraURL           = "X-Atlassian-Jira-Url"
	HeaderConfluenceURL     = "X-Atlassian-Confluence-Url"
	HeaderCloudID           = "X-Atlassian-Cloud-Id"
	HeaderInstance          = "X-Atlassian-Instance"
	HeaderJiraPAT           = "X-Atlassian-Jira-Personal-Token"
	HeaderConfluencePAT     = "X-Atlassian-Confluence-Personal-Token"
	HeaderReadOnly          = "X-Atlassian-Read-Only-Mode"
	HeaderProjectsFilter    = "X-Atlassian-Jira-Projects-Filter"
	HeaderSpacesFilter      = "X-Atlassian-Confluence-Spaces-Filter"
	HeaderEnabledTools      = "X-Atlassian-Enabled-Tools"
	headerAuthorization     = "Authorization"
	authSchemeBearer        = "Bearer"
	authSchemePersonalToken = "Token"
)

// AuthScheme is the scheme of an Authorization header override.
type AuthScheme string

const (
	// AuthSchemeNone means no Authorization header was present.
	AuthSchemeNone AuthScheme = ""

	// AuthSchemeBearer carries an OAuth access token (bring-your-own-token).
	AuthSchemeBearer AuthScheme = "bearer"

	// AuthSchemeToken carries a personal access token.
	AuthSchemeToken AuthScheme = "token"
)

// Override is the ephemeral per-request record produced from transport
// headers. It is scoped to exactly one request and must never be cached or
// shared across requests.
type Override struct {
	// Authorization header override. Scheme selects the strategy for the
	// request; it takes precedence over the per-field headers below.
	AuthScheme AuthScheme
	AuthToken  Secret

	JiraURL       string
	ConfluenceURL string
	CloudID       string
	Instance      string

	JiraPAT       Secret
	ConfluencePAT Secret

	ReadOnly       *bool
	ProjectsFilter []string
	SpacesFilter   []string
	EnabledTools   []string
}

// Empty reports whether the override carries no values at all, meaning the
// request falls through to the global configuration unchanged.
func (o *Override) Empty() bool {
	return o.AuthScheme == AuthSchemeNone &&
		o.JiraURL == "" && o.ConfluenceURL == "" && o.CloudID == "" &&
		o.Instance == "" && o.JiraPAT.IsEmpty() && o.ConfluencePAT.IsEmpty() &&
		o.ReadOnly == nil && len(o.ProjectsFilter) == 0 &&
		len(o.SpacesFilter) == 0 && len(o.EnabledTools) == 0
}

// Extract parses the recognized headers into an Override. Unrecognized
// headers are ignored. The only failure mode is a malformed recognized
// header, reported as ErrUnreadableHeader. Extraction performs no I/O and
// never logs header values.
func Extract(h http.Header) (*Override, error) {
	ov := &Override{}

	get := func(name string) (string, error) {
		v := h.Get(name)
		if !utf8.ValidString(v) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", apperrors.ErrUnreadableHeader, name)
		}
		return strings.TrimSpace(v), nil
	}

	var err error
	if ov.JiraURL, err = get(HeaderJiraURL); err != nil {
		return nil, err
	}
	if ov.ConfluenceURL, err = get(HeaderConfluenceURL); err != nil {
		return nil, err
	}
	if ov.CloudID, err = get(HeaderCloudID); err != nil {
		return nil, err
	}
	if ov.Instance, err = get(HeaderInstance); err != nil {
		return nil, err
	}

	jiraPAT, err := get(HeaderJiraPAT)
	if err != nil {
		return nil, err
	}
	ov.JiraPAT = Secret(jiraPAT)

	confluencePAT, err := get(HeaderConfluencePAT)
	if err != nil {
		return nil, err
	}
	ov.ConfluencePAT = Secret(confluencePAT)

	if err := extractAuthorization(h, ov); err != nil {
		return nil, err
	}

	readOnly, err := get(HeaderReadOnly)
	if err != nil {
		return nil, err
	}
	if readOnly != "" {
		switch strings.ToLower(readOnly) {
		case "true", "1", "yes":
			v := true
			ov.ReadOnly = &v
		case "false", "0", "no":
			v := false
			ov.ReadOnly = &v
		default:
			return nil, fmt.Errorf("%w: %s must be a boolean, got %q",
				apperrors.ErrUnreadableHeader, HeaderReadOnly, readOnly)
		}
	}

	projects, err := get(HeaderProjectsFilter)
	if err != nil {
		return nil, err
	}
	ov.ProjectsFilter = splitCommaList(projects)

	spaces, err := get(HeaderSpacesFilter)
	if err != nil {
		return nil, err
	}
	ov.SpacesFilter = splitCommaList(spaces)

	tools, err := get(HeaderEnabledTools)
	if err != nil {
		return nil, err
	}
	ov.EnabledTools = splitCommaList(tools)

	return ov, nil
}

// extractAuthorization parses the Authorization header. Two schemes are
// recognized: "Bearer <token>" (OAuth access token) and "Token <token>"
// (personal access token). Other schemes are ignored so that unrelated
// proxy-level auth does not break extraction; a recognized scheme with an
// empty token is unreadable.
func extractAuthorization(h http.Header, ov *Override) error {
	raw := h.Get(headerAuthorization)
	if raw == "" {
		return nil
	}
	if !utf8.ValidString(raw) {
		return fmt.Errorf("%w: Authorization is not valid UTF-8", apperrors.ErrUnreadableHeader)
	}

	scheme, token, found := strings.Cut(raw, " ")
	if !found {
		// A bare scheme with no credential cannot be acted on.
		if strings.EqualFold(raw, authSchemeBearer) || strings.EqualFold(raw, authSchemePersonalToken) {
			return fmt.Errorf("%w: Authorization has no credential", apperrors.ErrUnreadableHeader)
		}
		return nil
	}

	token = strings.TrimSpace(token)

	switch {
	case strings.EqualFold(scheme, authSchemeBearer):
		if token == "" {
			return fmt.Errorf("%w: empty Bearer token", apperrors.ErrUnreadableHeader)
		}
		ov.AuthScheme = AuthSchemeBearer
		ov.AuthToken = Secret(token)
	case strings.EqualFold(scheme, authSchemePersonalToken):
		if token == "" {
			return fmt.Errorf("%w: empty Token credential", apperrors.ErrUnreadableHeader)
		}
		ov.AuthScheme = AuthSchemeToken
		ov.AuthToken = Secret(token)
	}

	return nil
}

// splitCommaList splits a comma-separated header value, trimming whitespace
// and dropping empty entries. Returns nil for an empty input.
func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}
