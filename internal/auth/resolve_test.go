package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

func basicGlobals() *Globals {
	return &Globals{
		Primary: &Credential{
			Service:   ServiceJira,
			URL:       "https://a.atlassian.net",
			Strategy:  StrategyBasic,
			Basic:     BasicAuth{Username: "a@x.com", APIToken: "T1"},
			SSLVerify: true,
		},
	}
}

func oauthGlobals() *Globals {
	return &Globals{
		Primary: &Credential{
			Service:  ServiceJira,
			URL:      "https://a.atlassian.net",
			Strategy: StrategyOAuth,
			OAuth: OAuthCreds{
				ClientID:     "cid",
				ClientSecret: "csecret",
				CloudID:      "cloud-1",
				Scope:        "read:jira-work offline_access",
				AccessToken:  "AT0",
				RefreshToken: "RT0",
			},
			SSLVerify: true,
		},
	}
}

// --- Resolve: global fallback ---

func TestResolve_EmptyOverrideReturnsGlobal(t *testing.T) {
	g := basicGlobals()

	id, err := Resolve(ServiceJira, g, &Override{})
	require.NoError(t, err)

	assert.Equal(t, StrategyBasic, id.Strategy)
	assert.Equal(t, "https://a.atlassian.net", id.URL)
	assert.Equal(t, "a@x.com", id.Basic.Username)
	assert.Equal(t, "T1", id.Basic.APIToken.Value())
	assert.False(t, id.ReadOnly)
}

func TestResolve_NilOverride(t *testing.T) {
	id, err := Resolve(ServiceJira, basicGlobals(), nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyBasic, id.Strategy)
}

func TestResolve_Idempotent(t *testing.T) {
	g := oauthGlobals()
	ov := &Override{CloudID: "cloud-9"}

	first, err := Resolve(ServiceJira, g, ov)
	require.NoError(t, err)

	second, err := Resolve(ServiceJira, g, ov)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Inputs must not have been mutated.
	assert.Equal(t, "cloud-1", g.Primary.OAuth.CloudID)
	assert.Equal(t, "cloud-9", ov.CloudID)
}

func TestResolve_NoIdentityAvailable(t *testing.T) {
	_, err := Resolve(ServiceJira, &Globals{}, &Override{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNoIdentity)
}

func TestResolve_IncompleteGlobalFails(t *testing.T) {
	g := &Globals{
		Primary: &Credential{
			Service:  ServiceJira,
			URL:      "https://a.atlassian.net",
			Strategy: StrategyBasic,
			Basic:    BasicAuth{Username: "a@x.com"}, // token missing
		},
	}

	_, err := Resolve(ServiceJira, g, &Override{})
	assert.ErrorIs(t, err, apperrors.ErrNoIdentity)
}

// --- Resolve: strategy group replacement ---

func TestResolve_TokenSchemeOverridesBasic(t *testing.T) {
	// Scenario: global Basic, request carries "Authorization: Token PAT123".
	id, err := Resolve(ServiceJira, basicGlobals(), &Override{
		AuthScheme: AuthSchemeToken,
		AuthToken:  "PAT123",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyPAT, id.Strategy)
	assert.Equal(t, "PAT123", id.PAT.Value())
	assert.Equal(t, "https://a.atlassian.net", id.URL, "URL stays global")
	// The basic group must be gone entirely, not half-merged.
	assert.True(t, id.Basic.Empty())
}

func TestResolve_BearerOverridesPATGlobal(t *testing.T) {
	g := &Globals{
		Primary: &Credential{
			Service:   ServiceJira,
			URL:       "https://jira.corp.example",
			Strategy:  StrategyPAT,
			PAT:       "GLOBALPAT",
			SSLVerify: true,
		},
	}

	id, err := Resolve(ServiceJira, g, &Override{
		AuthScheme: AuthSchemeBearer,
		AuthToken:  "OAT1",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyBYOT, id.Strategy)
	assert.Equal(t, "OAT1", id.OAuth.AccessToken.Value())
	assert.True(t, id.PAT.IsEmpty(), "global PAT discarded")
}

func TestResolve_NoHalfMergedOAuthGroup(t *testing.T) {
	// Override supplies a complete OAuth group while global supplies PAT:
	// the result must use only override OAuth fields.
	g := &Globals{
		Primary: &Credential{
			Service:   ServiceJira,
			URL:       "https://jira.corp.example",
			Strategy:  StrategyPAT,
			PAT:       "GLOBALPAT",
			SSLVerify: true,
		},
	}

	id, err := Resolve(ServiceJira, g, &Override{
		AuthScheme: AuthSchemeBearer,
		AuthToken:  "OAT2",
		CloudID:    "cloud-7",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyBYOT, id.Strategy)
	assert.Equal(t, "cloud-7", id.OAuth.CloudID)
	assert.Equal(t, "OAT2", id.OAuth.AccessToken.Value())
	assert.True(t, id.PAT.IsEmpty())
	assert.True(t, id.Basic.Empty())
}

func TestResolve_AuthorizationWinsOverServicePATHeader(t *testing.T) {
	id, err := Resolve(ServiceJira, basicGlobals(), &Override{
		AuthScheme: AuthSchemeBearer,
		AuthToken:  "OAT3",
		CloudID:    "cloud-3",
		JiraPAT:    "PATFIELD",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyBYOT, id.Strategy)
	assert.True(t, id.PAT.IsEmpty())
}

func TestResolve_ServicePATHeader(t *testing.T) {
	id, err := Resolve(ServiceJira, basicGlobals(), &Override{JiraPAT: "JPAT"})
	require.NoError(t, err)

	assert.Equal(t, StrategyPAT, id.Strategy)
	assert.Equal(t, "JPAT", id.PAT.Value())
}

func TestResolve_ConfluencePATHeaderIgnoredForJira(t *testing.T) {
	id, err := Resolve(ServiceJira, basicGlobals(), &Override{ConfluencePAT: "CPAT"})
	require.NoError(t, err)
	assert.Equal(t, StrategyBasic, id.Strategy)
}

// --- Resolve: multi-tenant without global fallback ---

func TestResolve_NoGlobalBearerWithCloudID(t *testing.T) {
	// Scenario: no global config, request supplies URL + Bearer + Cloud-Id.
	id, err := Resolve(ServiceJira, &Globals{}, &Override{
		JiraURL:    "https://b.atlassian.net",
		AuthScheme: AuthSchemeBearer,
		AuthToken:  "OAT1",
		CloudID:    "cloud-42",
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyBYOT, id.Strategy)
	assert.Equal(t, "cloud-42", id.OAuth.CloudID)
	assert.Equal(t, "https://b.atlassian.net", id.URL)
	assert.True(t, id.SSLVerify, "empty shell defaults to verified TLS")
}

func TestResolve_CloudIDSelectorKeepsGlobalOAuthApp(t *testing.T) {
	id, err := Resolve(ServiceJira, oauthGlobals(), &Override{CloudID: "cloud-9"})
	require.NoError(t, err)

	assert.Equal(t, StrategyOAuth, id.Strategy)
	assert.Equal(t, "cloud-9", id.OAuth.CloudID)
	assert.Equal(t, "cid", id.OAuth.ClientID, "client credentials retained")
}

// --- Resolve: named instances ---

func TestResolve_NamedInstance(t *testing.T) {
	g := basicGlobals()
	g.Instances = map[string]*Credential{
		"staging": {
			Service:   ServiceJira,
			URL:       "https://staging.atlassian.net",
			Strategy:  StrategyBasic,
			Basic:     BasicAuth{Username: "s@x.com", APIToken: "T2"},
			SSLVerify: true,
		},
	}

	id, err := Resolve(ServiceJira, g, &Override{Instance: "staging"})
	require.NoError(t, err)

	assert.Equal(t, "https://staging.atlassian.net", id.URL)
	assert.Equal(t, "s@x.com", id.Basic.Username)
}

func TestResolve_UnknownInstanceNoFallback(t *testing.T) {
	g := basicGlobals()
	g.Instances = map[string]*Credential{"prod": g.Primary}

	_, err := Resolve(ServiceJira, g, &Override{Instance: "staging"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownInstance)
	assert.Contains(t, err.Error(), "staging")
}

// --- Resolve: feature flags ---

func TestResolve_FlagOverrides(t *testing.T) {
	g := basicGlobals()
	g.ReadOnly = false
	g.ProjectsFilter = []string{"OPS"}

	readOnly := true
	id, err := Resolve(ServiceJira, g, &Override{
		ReadOnly:       &readOnly,
		ProjectsFilter: []string{"DEV", "QA"},
		EnabledTools:   []string{"jira_search"},
	})
	require.NoError(t, err)

	assert.True(t, id.ReadOnly)
	assert.Equal(t, []string{"DEV", "QA"}, id.ProjectsFilter)
	assert.True(t, id.ToolEnabled("jira_search"))
	assert.False(t, id.ToolEnabled("jira_create_issue"))
}

func TestResolve_GlobalFlagsSurviveEmptyOverride(t *testing.T) {
	g := basicGlobals()
	g.ReadOnly = true
	g.EnabledTools = []string{"jira_get_issue"}

	id, err := Resolve(ServiceJira, g, &Override{})
	require.NoError(t, err)

	assert.True(t, id.ReadOnly)
	assert.True(t, id.ToolEnabled("jira_get_issue"))
	assert.False(t, id.ToolEnabled("jira_search"))
}

// --- Round-trip: env-built credential survives an empty merge ---

func TestResolve_RoundTripPreservesFields(t *testing.T) {
	g := &Globals{
		Primary: &Credential{
			Service:       ServiceConfluence,
			URL:           "https://wiki.corp.example",
			Strategy:      StrategyPAT,
			PAT:           "PATX",
			SSLVerify:     false,
			CustomHeaders: []Header{{Name: "X-Forwarded-For", Value: "10.0.0.1"}},
			Proxy:         ProxyConfig{HTTPSProxy: "http://proxy.corp.example:3128"},
		},
	}

	id, err := Resolve(ServiceConfluence, g, &Override{})
	require.NoError(t, err)

	assert.Equal(t, *g.Primary, id.Credential)
}
