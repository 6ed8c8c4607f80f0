// Package config loads process-wide configuration from the environment and
// builds the global credential descriptors for Jira and Confluence. Loading
// performs no network I/O; a service with no usable configuration is marked
// unavailable rather than failing startup, so the other service (and
// per-request multi-tenant credentials) keep working.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/sooperset/mcp-atlassian/internal/auth"
)

// Options holds server-level settings shared by both services.
type Options struct {
	// Environment controls log format ("production" means JSON).
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Transport selects how the MCP server is exposed: "stdio" or "http".
	Transport  string `env:"TRANSPORT" envDefault:"stdio"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8000"`

	// ReadOnly disables all write tools unless a request overrides it.
	ReadOnly bool `env:"READ_ONLY_MODE" envDefault:"false"`

	// EnabledTools restricts the tool surface ("jira_search,jira_get_issue").
	// Empty enables everything.
	EnabledTools string `env:"ENABLED_TOOLS"`

	// StatePath is the bbolt database holding persisted OAuth token state.
	// Defaults to ~/.mcp-atlassian/state.db.
	StatePath string `env:"STATE_PATH"`
}

// serviceEnv is the per-service environment surface, parsed once with the
// JIRA_/CONFLUENCE_ prefix for the primary instance and once per numbered
// suffix for additional instances.
type serviceEnv struct {
	URL           string `env:"URL"`
	Username      string `env:"USERNAME"`
	APIToken      string `env:"API_TOKEN"`
	PersonalToken string `env:"PERSONAL_TOKEN"`
	SSLVerify     bool   `env:"SSL_VERIFY" envDefault:"true"`
	CustomHeaders string `env:"CUSTOM_HEADERS"`
	HTTPProxy     string `env:"HTTP_PROXY"`
	HTTPSProxy    string `env:"HTTPS_PROXY"`
	NoProxy       string `env:"NO_PROXY"`

	// InstanceName aliases a numbered instance (JIRA_INSTANCE_NAME_2=staging);
	// unnamed instances are addressable by their number.
	InstanceName string `env:"INSTANCE_NAME"`

	// Service-scoped feature filter: projects for Jira, spaces for Confluence.
	ProjectsFilter string `env:"PROJECTS_FILTER"`
	SpacesFilter   string `env:"SPACES_FILTER"`
}

// oauthEnv is the shared ATLASSIAN_OAUTH_ surface, optionally overridden by
// service-scoped JIRA_OAUTH_/CONFLUENCE_OAUTH_ variables so Data Center
// deployments can use different OAuth apps per service.
type oauthEnv struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
	Scope        string `env:"SCOPE"`
	CloudID      string `env:"CLOUD_ID"`
	AccessToken  string `env:"ACCESS_TOKEN"`
	RefreshToken string `env:"REFRESH_TOKEN"`
	Enable       bool   `env:"ENABLE"`
}

// Config is the fully loaded process configuration. Jira and Confluence are
// always non-nil; a service without usable global credentials has a nil
// Globals.Primary and serves multi-tenant requests only.
type Config struct {
	Options    Options
	Jira       *auth.Globals
	Confluence *auth.Globals
}

// JiraAvailable reports whether a global Jira credential was configured.
func (c *Config) JiraAvailable() bool { return c.Jira.Primary != nil }

// ConfluenceAvailable reports whether a global Confluence credential was
// configured.
func (c *Config) ConfluenceAvailable() bool { return c.Confluence.Primary != nil }

// Globals returns the configuration side of resolution for a service.
func (c *Config) Globals(service auth.Service) *auth.Globals {
	if service == auth.ServiceConfluence {
		return c.Confluence
	}
	return c.Jira
}

// warnInsecureEnvFile checks whether the .env file (if present) has overly
// permissive permissions. On Unix systems, group or world readable files
// risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. It first attempts to
// load a .env file if present, then parses env vars and builds the global
// credential descriptors for both services.
func Load(logger *slog.Logger) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	return loadFrom(environMap(), logger)
}

// loadFrom builds a Config from an explicit environment map. Tests use this
// to stay independent of the process environment.
func loadFrom(environ map[string]string, logger *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(&cfg.Options, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parsing server options: %w", err)
	}

	if err := cfg.Options.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.Options.StatePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Options.StatePath = filepath.Join(home, ".mcp-atlassian", "state.db")
		}
	}

	var err error
	cfg.Jira, err = loadService(auth.ServiceJira, "JIRA_", environ, cfg.Options, logger)
	if err != nil {
		return nil, err
	}

	cfg.Confluence, err = loadService(auth.ServiceConfluence, "CONFLUENCE_", environ, cfg.Options, logger)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (o *Options) validate() error {
	switch o.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("TRANSPORT must be \"stdio\" or \"http\", got %q", o.Transport)
	}

	if o.Transport == "http" && o.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR is required for the http transport")
	}

	return nil
}

// loadService builds the Globals for one service: primary credential,
// numbered secondary instances, and service-level feature flags. A service
// without any usable credential gets a nil Primary and a log line, never an
// error: graceful degradation is the contract here.
func loadService(service auth.Service, prefix string, environ map[string]string, opts Options, logger *slog.Logger) (*auth.Globals, error) {
	var se serviceEnv
	if err := env.ParseWithOptions(&se, env.Options{Prefix: prefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("parsing %s config: %w", service, err)
	}

	oa, err := loadOAuthEnv(prefix, environ)
	if err != nil {
		return nil, err
	}

	g := &auth.Globals{
		ReadOnly:       opts.ReadOnly,
		ProjectsFilter: splitList(se.ProjectsFilter),
		SpacesFilter:   splitList(se.SpacesFilter),
		EnabledTools:   splitList(opts.EnabledTools),
	}

	cred, err := buildCredential(service, se, oa, logger)
	if err != nil {
		return nil, err
	}
	g.Primary = cred

	if cred == nil {
		logger.Info("service not configured, continuing without global credential",
			slog.String("service", string(service)))
	} else {
		logger.Info("service configured",
			slog.String("service", string(service)),
			slog.String("strategy", string(cred.Strategy)),
			slog.String("deployment", string(cred.Deployment())),
		)
	}

	g.Instances, err = loadInstances(service, prefix, environ, logger)
	if err != nil {
		return nil, err
	}

	return g, nil
}

// loadOAuthEnv reads ATLASSIAN_OAUTH_* and then lets the service-scoped
// variables (JIRA_OAUTH_*, CONFLUENCE_OAUTH_*) override non-empty fields.
func loadOAuthEnv(servicePrefix string, environ map[string]string) (oauthEnv, error) {
	var shared oauthEnv
	if err := env.ParseWithOptions(&shared, env.Options{Prefix: "ATLASSIAN_OAUTH_", Environment: environ}); err != nil {
		return oauthEnv{}, fmt.Errorf("parsing OAuth config: %w", err)
	}

	var scoped oauthEnv
	if err := env.ParseWithOptions(&scoped, env.Options{Prefix: servicePrefix + "OAUTH_", Environment: environ}); err != nil {
		return oauthEnv{}, fmt.Errorf("parsing service OAuth config: %w", err)
	}

	if scoped.ClientID != "" {
		shared.ClientID = scoped.ClientID
	}
	if scoped.ClientSecret != "" {
		shared.ClientSecret = scoped.ClientSecret
	}
	if scoped.AccessToken != "" {
		shared.AccessToken = scoped.AccessToken
	}
	if scoped.CloudID != "" {
		shared.CloudID = scoped.CloudID
	}
	if scoped.Scope != "" {
		shared.Scope = scoped.Scope
	}
	if scoped.RedirectURI != "" {
		shared.RedirectURI = scoped.RedirectURI
	}
	if scoped.RefreshToken != "" {
		shared.RefreshToken = scoped.RefreshToken
	}

	return shared, nil
}

// buildCredential selects the authentication strategy for one instance.
// When several strategies are configured at once the precedence is
// OAuth > PAT > Basic (with bring-your-own-token ahead of full OAuth,
// matching the loading order of the upstream implementation), and the
// choice is logged rather than silently applied.
func buildCredential(service auth.Service, se serviceEnv, oa oauthEnv, logger *slog.Logger) (*auth.Credential, error) {
	headers, err := parseCustomHeaders(se.CustomHeaders)
	if err != nil {
		return nil, fmt.Errorf("parsing %s custom headers: %w", service, err)
	}

	cred := &auth.Credential{
		Service:       service,
		URL:           strings.TrimRight(se.URL, "/"),
		SSLVerify:     se.SSLVerify,
		CustomHeaders: headers,
		Proxy: auth.ProxyConfig{
			HTTPProxy:  se.HTTPProxy,
			HTTPSProxy: se.HTTPSProxy,
			NoProxy:    se.NoProxy,
		},
	}

	hasBYOT := oa.AccessToken != "" && (oa.CloudID != "" || (cred.URL != "" && cred.Deployment() == auth.DeploymentServer))
	hasOAuth := oa.ClientID != "" && oa.ClientSecret != "" && (oa.CloudID != "" || cred.URL != "")
	hasPAT := se.PersonalToken != ""
	hasBasic := se.Username != "" && se.APIToken != ""

	configured := 0
	for _, present := range []bool{hasBYOT || hasOAuth, hasPAT, hasBasic} {
		if present {
			configured++
		}
	}

	switch {
	case hasBYOT:
		cred.Strategy = auth.StrategyBYOT
		cred.OAuth = auth.OAuthCreds{
			AccessToken: auth.Secret(oa.AccessToken),
			CloudID:     oa.CloudID,
		}
	case hasOAuth:
		cred.Strategy = auth.StrategyOAuth
		cred.OAuth = auth.OAuthCreds{
			ClientID:     oa.ClientID,
			ClientSecret: auth.Secret(oa.ClientSecret),
			RedirectURI:  oa.RedirectURI,
			Scope:        oa.Scope,
			CloudID:      oa.CloudID,
			RefreshToken: auth.Secret(oa.RefreshToken),
		}
	case hasPAT:
		cred.Strategy = auth.StrategyPAT
		cred.PAT = auth.Secret(se.PersonalToken)
	case hasBasic:
		cred.Strategy = auth.StrategyBasic
		cred.Basic = auth.BasicAuth{
			Username: se.Username,
			APIToken: auth.Secret(se.APIToken),
		}
	default:
		return nil, nil
	}

	if configured > 1 {
		logger.Warn("multiple auth strategies configured, using precedence OAuth > PAT > Basic",
			slog.String("service", string(service)),
			slog.String("selected", string(cred.Strategy)),
		)
	}

	if !cred.Complete() {
		logger.Warn("incomplete credential configuration, marking service unavailable",
			slog.String("service", string(service)),
			slog.String("strategy", string(cred.Strategy)),
		)
		return nil, nil
	}

	return cred, nil
}

var instanceSuffix = regexp.MustCompile(`_([2-9]|[1-9][0-9])$`)

// loadInstances discovers numbered secondary instances (JIRA_URL_2,
// JIRA_URL_3, ...) and builds a fully independent credential for each. A
// numbered instance is keyed by its JIRA_INSTANCE_NAME_N alias when set,
// otherwise by its number.
func loadInstances(service auth.Service, prefix string, environ map[string]string, logger *slog.Logger) (map[string]*auth.Credential, error) {
	indexes := map[int]bool{}
	for key := range environ {
		if !strings.HasPrefix(key, prefix+"URL_") {
			continue
		}
		m := instanceSuffix.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil {
			indexes[n] = true
		}
	}

	if len(indexes) == 0 {
		return nil, nil
	}

	instances := make(map[string]*auth.Credential)
	for n := range indexes {
		remapped := remapSuffix(environ, n)

		var se serviceEnv
		if err := env.ParseWithOptions(&se, env.Options{Prefix: prefix, Environment: remapped}); err != nil {
			return nil, fmt.Errorf("parsing %s instance %d: %w", service, n, err)
		}

		oa, err := loadOAuthEnv(prefix, remapped)
		if err != nil {
			return nil, fmt.Errorf("parsing %s instance %d OAuth: %w", service, n, err)
		}

		cred, err := buildCredential(service, se, oa, logger)
		if err != nil {
			return nil, fmt.Errorf("building %s instance %d: %w", service, n, err)
		}
		if cred == nil {
			logger.Warn("ignoring incomplete numbered instance",
				slog.String("service", string(service)), slog.Int("instance", n))
			continue
		}

		name := se.InstanceName
		if name == "" {
			name = strconv.Itoa(n)
		}
		if _, dup := instances[name]; dup {
			return nil, fmt.Errorf("duplicate %s instance name %q", service, name)
		}
		instances[name] = cred

		logger.Info("loaded named instance",
			slog.String("service", string(service)),
			slog.String("name", name),
			slog.String("strategy", string(cred.Strategy)),
		)
	}

	return instances, nil
}

// remapSuffix produces an environment view where every key carrying the
// _N suffix shadows its unsuffixed counterpart, so a numbered instance is
// parsed with the exact same struct tags as the primary. Unsuffixed
// credential keys are dropped rather than inherited: each instance is fully
// independent.
func remapSuffix(environ map[string]string, n int) map[string]string {
	suffix := "_" + strconv.Itoa(n)

	out := make(map[string]string, len(environ))
	for key, value := range environ {
		if instanceSuffix.MatchString(key) {
			if strings.HasSuffix(key, suffix) {
				out[strings.TrimSuffix(key, suffix)] = value
			}
		}
	}

	return out
}

// parseCustomHeaders parses "Name1=Value1,Name2=Value2" preserving order.
func parseCustomHeaders(s string) ([]auth.Header, error) {
	if s == "" {
		return nil, nil
	}

	var headers []auth.Header
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid custom header entry (want Name=Value)")
		}

		headers = append(headers, auth.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}

	return headers, nil
}

func splitList(s string) []string {
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

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, found := strings.Cut(kv, "=")
		if found {
			out[key] = value
		}
	}

	return out
}
