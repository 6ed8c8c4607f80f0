package auth

import (
	"fmt"
	"slices"

	apperrors "github.com/sooperset/mcp-atlassian/internal/errors"
)

// Globals is the process-wide configuration side of resolution for one
// service: the primary credential, any named secondary instances, and the
// default feature flags. A nil Primary means the service has no global
// fallback and is only reachable through per-request credentials.
type Globals struct {
	Primary   *Credential
	Instances map[string]*Credential

	ReadOnly       bool
	ProjectsFilter []string
	SpacesFilter   []string
	EnabledTools   []string
}

// Resolve merges the global configuration with a per-request override into
// a complete Identity. It is deterministic, side-effect free, and safe to
// call repeatedly with the same inputs.
//
// Precedence, in order:
//  1. An instance name selects a named secondary credential
//     (ErrUnknownInstance if absent).
//  2. Credential secret groups from the override replace the corresponding
//     global group wholesale; a request can never combine, say, a global
//     username with an override token.
//  3. The Authorization header beats per-field token headers when both are
//     present: Bearer forces the bring-your-own-token OAuth strategy, Token
//     forces PAT.
//  4. Feature flags merge field-wise; they are not secrets.
//
// If no strategy ends up with a complete field set, Resolve fails with
// ErrNoIdentity.
func Resolve(service Service, g *Globals, ov *Override) (*Identity, error) {
	if g == nil {
		g = &Globals{}
	}
	if ov == nil {
		ov = &Override{}
	}

	base := g.Primary
	if ov.Instance != "" {
		named, ok := g.Instances[ov.Instance]
		if !ok {
			return nil, fmt.Errorf("%w: %s instance %q", apperrors.ErrUnknownInstance, service, ov.Instance)
		}
		base = named
	}

	id := &Identity{
		ReadOnly:       g.ReadOnly,
		ProjectsFilter: slices.Clone(g.ProjectsFilter),
		SpacesFilter:   slices.Clone(g.SpacesFilter),
		EnabledTools:   slices.Clone(g.EnabledTools),
	}

	if base != nil {
		id.Credential = *base
		id.CustomHeaders = slices.Clone(base.CustomHeaders)
	} else {
		// Empty shell for multi-tenant-only deployments: the override must
		// carry a complete credential on its own.
		id.Credential = Credential{Service: service, SSLVerify: true}
	}
	id.Service = service

	applyURLOverride(id, ov)
	applyCredentialOverride(id, ov)
	applyFlagOverride(id, ov)

	if !id.Complete() {
		return nil, fmt.Errorf("%w: service %s, strategy %s", apperrors.ErrNoIdentity, service, orNone(id.Strategy))
	}

	return id, nil
}

func applyURLOverride(id *Identity, ov *Override) {
	switch id.Service {
	case ServiceJira:
		if ov.JiraURL != "" {
			id.URL = ov.JiraURL
		}
	case ServiceConfluence:
		if ov.ConfluenceURL != "" {
			id.URL = ov.ConfluenceURL
		}
	}
}

// applyCredentialOverride replaces credential secret groups supplied by the
// override. Group replacement clears the other groups so a resolved
// identity never carries stale secrets from a different strategy.
func applyCredentialOverride(id *Identity, ov *Override) {
	// Per-service PAT header first; the Authorization header below wins if
	// both are present.
	servicePAT := ov.JiraPAT
	if id.Service == ServiceConfluence {
		servicePAT = ov.ConfluencePAT
	}
	if !servicePAT.IsEmpty() {
		setPAT(id, servicePAT)
	}

	switch ov.AuthScheme {
	case AuthSchemeToken:
		setPAT(id, ov.AuthToken)
	case AuthSchemeBearer:
		cloudID := ov.CloudID
		if cloudID == "" {
			// The cloud ID is a tenant selector, not a secret, so the
			// global value may complete an override-supplied token.
			cloudID = id.OAuth.CloudID
		}
		id.Strategy = StrategyBYOT
		id.OAuth = OAuthCreds{AccessToken: ov.AuthToken, CloudID: cloudID}
		id.Basic = BasicAuth{}
		id.PAT = ""
	default:
		// No Authorization override: a cloud ID header alone retargets an
		// OAuth identity at a different tenant.
		if ov.CloudID != "" && (id.Strategy == StrategyOAuth || id.Strategy == StrategyBYOT) {
			id.OAuth.CloudID = ov.CloudID
		}
	}
}

func setPAT(id *Identity, token Secret) {
	id.Strategy = StrategyPAT
	id.PAT = token
	id.Basic = BasicAuth{}
	id.OAuth = OAuthCreds{}
}

func applyFlagOverride(id *Identity, ov *Override) {
	if ov.ReadOnly != nil {
		id.ReadOnly = *ov.ReadOnly
	}
	if len(ov.ProjectsFilter) > 0 {
		id.ProjectsFilter = slices.Clone(ov.ProjectsFilter)
	}
	if len(ov.SpacesFilter) > 0 {
		id.SpacesFilter = slices.Clone(ov.SpacesFilter)
	}
	if len(ov.EnabledTools) > 0 {
		id.EnabledTools = slices.Clone(ov.EnabledTools)
	}
}

func orNone(s Strategy) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
