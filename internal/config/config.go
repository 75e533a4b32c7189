// Package config loads and persists the per-user ken configuration.
//
// The file lives at ~/.ken/config.yaml (or $KEN_HOME/config.yaml) and is
// meant to be edited by hand. KEN_* environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

// Auth types accepted in auth_type.
const (
	AuthToken = "token"
	AuthOAuth = "oauth"
)

// Config holds the user configuration.
type Config struct {
	GitLabURL        string `yaml:"gitlab_url"`
	APIToken         string `yaml:"api_token"`
	DefaultProjectID string `yaml:"default_project_id,omitempty"`
	AuthType         string `yaml:"auth_type,omitempty"`
	LogLevel         string `yaml:"log_level,omitempty"`
	LLM              LLM    `yaml:"llm,omitempty"`
	MCP              MCP    `yaml:"mcp,omitempty"`

	// origin is set by Load and Save. Save uses it to write back only the
	// fields the caller changed.
	origin *origin
}

// origin pairs the document as written on disk with the effective values it
// produced, before any caller changes.
type origin struct {
	file   Config
	loaded Config
}

// LLM configures the completion backend.
type LLM struct {
	// Provider: "openai" (any OpenAI-compatible endpoint) or "gemini".
	Provider    string   `yaml:"provider,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	APIKey      string   `yaml:"api_key,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// MCP configures an optional external tool server. Command starts it as a
// subprocess speaking stdio; URL connects to a running server over SSE.
type MCP struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	URL     string   `yaml:"url,omitempty"`
}

// Temp returns the sampling temperature, or DefaultTemperature when unset.
// Temperature is a pointer so an explicit 0 survives defaulting.
func (l LLM) Temp() float64 {
	if l.Temperature == nil {
		return DefaultTemperature
	}
	return *l.Temperature
}

// Enabled reports whether an MCP server is configured.
func (m MCP) Enabled() bool { return m.Command != "" || m.URL != "" }

// Defaults used when neither the file nor the environment set a value.
const (
	DefaultProvider    = "openai"
	DefaultLLMBaseURL  = "http://llm-api.fixstars.com/"
	DefaultModel       = "Qwen/Qwen3-32B"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4000
	DefaultLogLevel    = "warn"
)

// overrides maps KEN_* environment variables. Tags carry the full variable
// name so envconfig never falls back to an unprefixed one such as $HOME.
type overrides struct {
	Home           string   `envconfig:"KEN_HOME"`
	GitLabURL      string   `envconfig:"KEN_GITLAB_URL"`
	APIToken       string   `envconfig:"KEN_API_TOKEN"`
	Project        string   `envconfig:"KEN_PROJECT"`
	AuthType       string   `envconfig:"KEN_AUTH_TYPE"`
	LogLevel       string   `envconfig:"KEN_LOG_LEVEL"`
	LLMProvider    string   `envconfig:"KEN_LLM_PROVIDER"`
	LLMBaseURL     string   `envconfig:"KEN_LLM_BASE_URL"`
	LLMAPIKey      string   `envconfig:"KEN_LLM_API_KEY"`
	LLMModel       string   `envconfig:"KEN_LLM_MODEL"`
	LLMTemperature *float64 `envconfig:"KEN_LLM_TEMPERATURE"`
	LLMMaxTokens   int      `envconfig:"KEN_LLM_MAX_TOKENS"`
	MCPCommand     string   `envconfig:"KEN_MCP_COMMAND"`
	MCPURL         string   `envconfig:"KEN_MCP_URL"`
}

func readOverrides() (*overrides, error) {
	var o overrides
	if err := envconfig.Process("", &o); err != nil {
		return nil, fmt.Errorf("reading KEN_* environment: %w", err)
	}
	return &o, nil
}

// Paths locates everything ken keeps on disk.
type Paths struct {
	Root        string
	ConfigFile  string
	ContextDir  string
	HistoryFile string
}

// DefaultPaths resolves paths under $KEN_HOME, falling back to ~/.ken.
func DefaultPaths() (Paths, error) {
	o, err := readOverrides()
	if err != nil {
		return Paths{}, err
	}
	root := o.Home
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolving home directory: %w", err)
		}
		root = filepath.Join(home, ".ken")
	}
	return PathsAt(root), nil
}

// PathsAt returns the layout rooted at dir.
func PathsAt(dir string) Paths {
	return Paths{
		Root:        dir,
		ConfigFile:  filepath.Join(dir, "config.yaml"),
		ContextDir:  filepath.Join(dir, "contexts"),
		HistoryFile: filepath.Join(dir, "history"),
	}
}

// Load reads the config file if present, expands ${VAR} references, applies
// KEN_* overrides and fills defaults. A missing file is not an error: the
// returned config simply reports Authenticated() == false.
func Load(p Paths) (*Config, error) {
	var file, cfg Config
	raw, err := os.ReadFile(p.ConfigFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p.ConfigFile, err)
		}
		// A reference in a numeric field only parses once expanded.
		if err := yaml.Unmarshal(raw, &file); err != nil {
			file = cfg.clone()
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", p.ConfigFile, err)
	}

	o, err := readOverrides()
	if err != nil {
		return nil, err
	}
	cfg.apply(o)
	applyDefaults(&cfg)
	cfg.origin = &origin{file: file, loaded: cfg.clone()}
	return &cfg, nil
}

// LoadBytes parses a config document (useful for testing).
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func (c *Config) apply(o *overrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.GitLabURL, o.GitLabURL)
	set(&c.APIToken, o.APIToken)
	set(&c.DefaultProjectID, o.Project)
	set(&c.AuthType, o.AuthType)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LLM.Provider, o.LLMProvider)
	set(&c.LLM.BaseURL, o.LLMBaseURL)
	set(&c.LLM.APIKey, o.LLMAPIKey)
	set(&c.LLM.Model, o.LLMModel)
	set(&c.MCP.Command, o.MCPCommand)
	set(&c.MCP.URL, o.MCPURL)
	if o.LLMTemperature != nil {
		t := *o.LLMTemperature
		c.LLM.Temperature = &t
	}
	if o.LLMMaxTokens > 0 {
		c.LLM.MaxTokens = o.LLMMaxTokens
	}
}

func applyDefaults(c *Config) {
	if c.GitLabURL != "" {
		c.GitLabURL = NormalizeURL(c.GitLabURL)
	}
	if c.AuthType == "" {
		c.AuthType = AuthToken
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	if c.LLM.BaseURL == "" && c.LLM.Provider == DefaultProvider {
		c.LLM.BaseURL = DefaultLLMBaseURL
	}
	if c.LLM.Model == "" && c.LLM.Provider == DefaultProvider {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Temperature == nil {
		t := DefaultTemperature
		c.LLM.Temperature = &t
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
}

// Save writes the config with owner-only permissions, creating the directory.
// For a config obtained from Load only the fields changed since loading are
// written; every other field keeps its text from the file, so ${VAR}
// references, KEN_* overrides and defaults never reach the disk.
func Save(p Paths, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(p.ConfigFile), 0o700); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	doc := c.persisted()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(p.ConfigFile, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", p.ConfigFile, err)
	}
	c.origin = &origin{file: doc, loaded: c.clone()}
	return nil
}

// persisted returns the document Save writes.
func (c *Config) persisted() Config {
	if c.origin == nil {
		return c.clone()
	}
	f, l := c.origin.file.clone(), c.origin.loaded

	f.GitLabURL = pick(f.GitLabURL, l.GitLabURL, c.GitLabURL)
	f.APIToken = pick(f.APIToken, l.APIToken, c.APIToken)
	f.DefaultProjectID = pick(f.DefaultProjectID, l.DefaultProjectID, c.DefaultProjectID)
	f.AuthType = pick(f.AuthType, l.AuthType, c.AuthType)
	f.LogLevel = pick(f.LogLevel, l.LogLevel, c.LogLevel)

	f.LLM.Provider = pick(f.LLM.Provider, l.LLM.Provider, c.LLM.Provider)
	f.LLM.BaseURL = pick(f.LLM.BaseURL, l.LLM.BaseURL, c.LLM.BaseURL)
	f.LLM.APIKey = pick(f.LLM.APIKey, l.LLM.APIKey, c.LLM.APIKey)
	f.LLM.Model = pick(f.LLM.Model, l.LLM.Model, c.LLM.Model)
	f.LLM.MaxTokens = pick(f.LLM.MaxTokens, l.LLM.MaxTokens, c.LLM.MaxTokens)
	if l.LLM.Temp() != c.LLM.Temp() {
		t := c.LLM.Temp()
		f.LLM.Temperature = &t
	}

	f.MCP.Command = pick(f.MCP.Command, l.MCP.Command, c.MCP.Command)
	f.MCP.URL = pick(f.MCP.URL, l.MCP.URL, c.MCP.URL)
	if !slices.Equal(l.MCP.Args, c.MCP.Args) {
		f.MCP.Args = slices.Clone(c.MCP.Args)
	}
	return f
}

// pick keeps the file value unless the caller changed the loaded one.
func pick[T comparable](file, loaded, current T) T {
	if current != loaded {
		return current
	}
	return file
}

// clone copies c without its origin.
func (c Config) clone() Config {
	c.origin = nil
	c.MCP.Args = slices.Clone(c.MCP.Args)
	if c.LLM.Temperature != nil {
		t := *c.LLM.Temperature
		c.LLM.Temperature = &t
	}
	return c
}

// Remove deletes the config file. Removing a missing file is not an error.
func Remove(p Paths) error {
	if err := os.Remove(p.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: remove %s: %w", p.ConfigFile, err)
	}
	return nil
}

// Authenticated reports whether GitLab credentials are present.
func (c *Config) Authenticated() bool {
	return c != nil && c.GitLabURL != "" && c.APIToken != ""
}

// RequireAuth returns ErrNotConfigured when credentials are missing.
func (c *Config) RequireAuth() error {
	if !c.Authenticated() {
		return fmt.Errorf("%w: run 'ken auth login' first", kerrors.ErrNotConfigured)
	}
	return nil
}

// ProjectOr returns override when set, else the default project.
// ErrNoProject is returned when neither is available.
func (c *Config) ProjectOr(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c != nil && c.DefaultProjectID != "" {
		return c.DefaultProjectID, nil
	}
	return "", fmt.Errorf("%w: use 'ken project set <id>' or pass --project", kerrors.ErrNoProject)
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	c.APIToken = mask(c.APIToken)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

// NormalizeURL trims whitespace and trailing slashes and defaults to https.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value.
// Missing vars expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
