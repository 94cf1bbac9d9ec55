// Package config loads arcrelay.yaml: the listener, resource table, and
// referrer allow-list the Dispatcher runs against (§10.2). Config loading
// itself sits outside the CORE (§1) — this package's only job is turning a
// YAML document into the domain.Resource/domain.ReferrerPattern values the
// CORE consumes, validating it on the way in.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arcrelay/arcrelay/internal/domain"
	"github.com/arcrelay/arcrelay/internal/normalize"
)

// Config is the top-level arcrelay.yaml document.
type Config struct {
	ListenPrefixes  []string `yaml:"listenPrefixes"`
	PingPath        string   `yaml:"pingPath"`
	StatusPath      string   `yaml:"statusPath"`
	MustMatch       bool     `yaml:"mustMatch"`
	StaticAssetsDir string   `yaml:"staticAssetsDir"`
	CORSOrigins     []string `yaml:"corsOrigins"`

	Referrers []ReferrerConfig `yaml:"referrers"`
	Resources []ResourceConfig `yaml:"resources"`
}

// ReferrerConfig is one arcrelay.yaml entry in the referrer allow-list.
type ReferrerConfig struct {
	Protocol         string `yaml:"protocol"`
	Host             string `yaml:"host"`
	Path             string `yaml:"path"`
	MatchAllReferrer bool   `yaml:"matchAllReferrer"`
	Key              string `yaml:"key"`
}

// QueryParamConfig is one ordered query-string pair of a Resource's
// configured query. A YAML sequence (rather than a mapping) keeps insertion
// order, which the parameter-merge idempotence property (§8) depends on.
type QueryParamConfig struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// HostRedirectConfig overrides the host/port/path a matched Resource
// forwards to.
type HostRedirectConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Path string `yaml:"path"`
}

// ResourceConfig is one arcrelay.yaml entry describing a configured upstream
// destination.
type ResourceConfig struct {
	URL          string              `yaml:"url"`
	MatchAll     bool                `yaml:"matchAll"`
	HostRedirect *HostRedirectConfig `yaml:"hostRedirect"`

	Credential     string `yaml:"credential"` // "none" (default), "staticToken", "user", "app"
	StaticToken    string `yaml:"staticToken"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	ClientID       string `yaml:"clientId"`
	ClientSecret   string `yaml:"clientSecret"`
	OAuth2Endpoint string `yaml:"oauth2Endpoint"`

	TokenParamName string             `yaml:"tokenParamName"`
	Query          []QueryParamConfig `yaml:"query"`

	RateLimit       int `yaml:"rateLimit"`
	RateLimitPeriod int `yaml:"rateLimitPeriod"`
}

// DefaultConfig returns the zero-resource defaults: a single "/proxy" listen
// prefix, the standard ping/status paths, an accept-any referrer, and no
// static assets. Useful when no config file is present and for tests.
func DefaultConfig() *Config {
	return &Config{
		ListenPrefixes: []string{"/proxy"},
		PingPath:       "/ping",
		StatusPath:     "/status",
		Referrers: []ReferrerConfig{
			{Protocol: domain.Wildcard, Host: domain.Wildcard, Path: domain.Wildcard, Key: domain.Wildcard},
		},
	}
}

// Load parses an arcrelay.yaml file and validates it. If path is empty,
// returns DefaultConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(cfg.ListenPrefixes) == 0 {
		cfg.ListenPrefixes = []string{"/proxy"}
	}
	if cfg.PingPath == "" {
		cfg.PingPath = "/ping"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolvePath finds the config file path.
// Priority: ARCRELAY_CONFIG env var > ./arcrelay.yaml > "" (no config, defaults only).
func ResolvePath() string {
	if p := os.Getenv("ARCRELAY_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("arcrelay.yaml"); err == nil {
		return "arcrelay.yaml"
	}
	return ""
}

// validate checks that every resource/referrer entry is well-formed before
// it's handed to the CORE.
func (c *Config) validate() error {
	for i, r := range c.Resources {
		if r.URL == "" {
			return fmt.Errorf("resource[%d]: url is required", i)
		}
		switch r.Credential {
		case "", "none":
		case "staticToken":
			if r.StaticToken == "" {
				return fmt.Errorf("resource[%d] (%s): credential staticToken requires staticToken", i, r.URL)
			}
		case "user":
			if r.Username == "" || r.Password == "" {
				return fmt.Errorf("resource[%d] (%s): credential user requires username and password", i, r.URL)
			}
		case "app":
			if r.ClientID == "" || r.ClientSecret == "" || r.OAuth2Endpoint == "" {
				return fmt.Errorf("resource[%d] (%s): credential app requires clientId, clientSecret, and oauth2Endpoint", i, r.URL)
			}
		default:
			return fmt.Errorf("resource[%d] (%s): unknown credential mode %q", i, r.URL, r.Credential)
		}
		if (r.RateLimit > 0) != (r.RateLimitPeriod > 0) {
			return fmt.Errorf("resource[%d] (%s): rateLimit and rateLimitPeriod must both be set or both be zero", i, r.URL)
		}
	}
	return nil
}

// toResources converts the parsed ResourceConfig entries into domain.Resource
// values, normalizing each one's URL once at load time (§4.1).
func (c *Config) toResources() ([]*domain.Resource, error) {
	resources := make([]*domain.Resource, 0, len(c.Resources))
	for _, rc := range c.Resources {
		tuple, err := normalize.Parse(rc.URL)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.URL, err)
		}

		res := &domain.Resource{
			URL:            rc.URL,
			Tuple:          tuple,
			MatchAll:       rc.MatchAll,
			Credential:     credentialMode(rc.Credential),
			StaticToken:    rc.StaticToken,
			Username:       rc.Username,
			Password:       rc.Password,
			ClientID:       rc.ClientID,
			ClientSecret:   rc.ClientSecret,
			OAuth2Endpoint: rc.OAuth2Endpoint,
			TokenParamName: rc.TokenParamName,
			Query:          toQueryParams(rc.Query),
			RateLimit:      rc.RateLimit,
			RateLimitPeriod: rc.RateLimitPeriod,
		}
		if rc.HostRedirect != nil {
			res.HostRedirect = &domain.HostRedirect{
				Host: rc.HostRedirect.Host,
				Port: rc.HostRedirect.Port,
				Path: rc.HostRedirect.Path,
			}
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// toReferrers converts the parsed ReferrerConfig entries into normalized
// domain.ReferrerPattern values.
func (c *Config) toReferrers() []domain.ReferrerPattern {
	patterns := make([]domain.ReferrerPattern, 0, len(c.Referrers))
	for _, rc := range c.Referrers {
		patterns = append(patterns, domain.ReferrerPattern{
			Protocol:         orWildcard(rc.Protocol),
			Host:             orWildcard(rc.Host),
			Path:             orWildcard(rc.Path),
			MatchAllReferrer: rc.MatchAllReferrer,
			Key:              rc.Key,
		})
	}
	return patterns
}

// Build converts the whole config into the (resources, referrers) pair the
// Dispatcher's resource.Store is constructed or reloaded from.
func (c *Config) Build() ([]*domain.Resource, []domain.ReferrerPattern, error) {
	resources, err := c.toResources()
	if err != nil {
		return nil, nil, err
	}
	return resources, c.toReferrers(), nil
}

func orWildcard(s string) string {
	if s == "" {
		return domain.Wildcard
	}
	return s
}

func toQueryParams(params []QueryParamConfig) []domain.QueryParam {
	if len(params) == 0 {
		return nil
	}
	out := make([]domain.QueryParam, len(params))
	for i, p := range params {
		out[i] = domain.QueryParam{Key: p.Key, Value: p.Value}
	}
	return out
}

func credentialMode(s string) domain.CredentialMode {
	switch s {
	case "staticToken":
		return domain.CredentialStaticToken
	case "user":
		return domain.CredentialUser
	case "app":
		return domain.CredentialApp
	default:
		return domain.CredentialNone
	}
}
