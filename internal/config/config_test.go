package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/p-blackswan/ken/internal/errors"
)

const sampleYAML = `
gitlab_url: gitlab.example.com/
api_token: ${TEST_KEN_TOKEN}
default_project_id: group/repo
llm:
  provider: gemini
  model: gemini-2.5-flash
  api_key: $TEST_KEN_LLM_KEY
mcp:
  command: gitlab-mcp
  args: [--stdio]
`

func TestLoadBytes_ExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("TEST_KEN_TOKEN", "glpat-secret")
	t.Setenv("TEST_KEN_LLM_KEY", "gem-key")

	cfg, err := LoadBytes([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", cfg.GitLabURL)
	assert.Equal(t, "glpat-secret", cfg.APIToken)
	assert.Equal(t, "group/repo", cfg.DefaultProjectID)
	assert.Equal(t, AuthToken, cfg.AuthType)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gem-key", cfg.LLM.APIKey)
	assert.Empty(t, cfg.LLM.BaseURL)
	assert.Equal(t, DefaultTemperature, cfg.LLM.Temp())
	assert.Equal(t, DefaultMaxTokens, cfg.LLM.MaxTokens)
	assert.True(t, cfg.MCP.Enabled())
	assert.Equal(t, []string{"--stdio"}, cfg.MCP.Args)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	p := PathsAt(t.TempDir())
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.False(t, cfg.Authenticated())
	assert.Equal(t, DefaultModel, cfg.LLM.Model)
	assert.ErrorIs(t, cfg.RequireAuth(), kerrors.ErrNotConfigured)
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := PathsAt(t.TempDir())
	require.NoError(t, Save(p, &Config{GitLabURL: "https://gitlab.com", APIToken: "file-token"}))

	t.Setenv("KEN_API_TOKEN", "env-token")
	t.Setenv("KEN_PROJECT", "42")
	t.Setenv("KEN_LLM_TEMPERATURE", "0.7")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.APIToken)
	assert.Equal(t, "42", cfg.DefaultProjectID)
	assert.InDelta(t, 0.7, cfg.LLM.Temp(), 1e-9)
}

func TestSaveLoadRemove(t *testing.T) {
	p := PathsAt(filepath.Join(t.TempDir(), "nested"))
	in := &Config{GitLabURL: "https://gitlab.com", APIToken: "tok", DefaultProjectID: "a/b"}
	require.NoError(t, Save(p, in))

	info, err := os.Stat(p.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := Load(p)
	require.NoError(t, err)
	assert.True(t, out.Authenticated())
	assert.Equal(t, "a/b", out.DefaultProjectID)

	require.NoError(t, Remove(p))
	require.NoError(t, Remove(p))
	_, err = os.Stat(p.ConfigFile)
	assert.True(t, os.IsNotExist(err))
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestDefaultPaths_UnderHomeDotKen(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	unsetEnv(t, "KEN_HOME")

	p, err := DefaultPaths()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ken"), p.Root)
	assert.Equal(t, filepath.Join(home, ".ken", "config.yaml"), p.ConfigFile)
	assert.Equal(t, filepath.Join(home, ".ken", "contexts"), p.ContextDir)
	assert.Equal(t, filepath.Join(home, ".ken", "history"), p.HistoryFile)
}

func TestDefaultPaths_KenHome(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := filepath.Join(t.TempDir(), "ken-data")
	t.Setenv("KEN_HOME", root)

	p, err := DefaultPaths()
	require.NoError(t, err)
	assert.Equal(t, root, p.Root)
	assert.Equal(t, filepath.Join(root, "config.yaml"), p.ConfigFile)
}

func TestLoad_IgnoresUnprefixedVariables(t *testing.T) {
	for _, k := range []string{"KEN_PROJECT", "KEN_API_TOKEN", "KEN_GITLAB_URL", "KEN_LOG_LEVEL", "KEN_AUTH_TYPE"} {
		unsetEnv(t, k)
	}
	t.Setenv("PROJECT", "unrelated/project")
	t.Setenv("API_TOKEN", "unrelated-token")
	t.Setenv("GITLAB_URL", "https://unrelated.example")
	t.Setenv("LOG_LEVEL", "trace")
	t.Setenv("AUTH_TYPE", AuthOAuth)

	p := PathsAt(t.TempDir())
	require.NoError(t, os.WriteFile(p.ConfigFile, []byte("gitlab_url: https://gitlab.com\napi_token: file-token\n"), 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Empty(t, cfg.DefaultProjectID)
	assert.Equal(t, "file-token", cfg.APIToken)
	assert.Equal(t, "https://gitlab.com", cfg.GitLabURL)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, AuthToken, cfg.AuthType)
}

func TestSave_KeepsReferencesAndEnvValuesOffDisk(t *testing.T) {
	t.Setenv("MY_GL_TOKEN", "glpat-from-env")
	t.Setenv("KEN_LLM_API_KEY", "sk-env-only")

	p := PathsAt(t.TempDir())
	doc := "gitlab_url: gitlab.example.com\napi_token: ${MY_GL_TOKEN}\n"
	require.NoError(t, os.WriteFile(p.ConfigFile, []byte(doc), 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "glpat-from-env", cfg.APIToken)
	require.Equal(t, "sk-env-only", cfg.LLM.APIKey)

	cfg.DefaultProjectID = "group/repo"
	require.NoError(t, Save(p, cfg))

	raw, err := os.ReadFile(p.ConfigFile)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "${MY_GL_TOKEN}")
	assert.Contains(t, text, "group/repo")
	assert.Contains(t, text, "gitlab.example.com")
	assert.NotContains(t, text, "glpat-from-env")
	assert.NotContains(t, text, "sk-env-only")

	reloaded, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "glpat-from-env", reloaded.APIToken)
	assert.Equal(t, "group/repo", reloaded.DefaultProjectID)
}

func TestSave_AfterLoginKeepsOtherReferences(t *testing.T) {
	t.Setenv("MY_LLM_KEY", "sk-secret")
	p := PathsAt(t.TempDir())
	require.NoError(t, os.WriteFile(p.ConfigFile, []byte("llm:\n  provider: gemini\n  api_key: ${MY_LLM_KEY}\n"), 0o600))

	base, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "sk-secret", base.LLM.APIKey)

	in := strings.NewReader("gitlab.com\n\n")
	var out bytes.Buffer
	cfg, err := PromptLogin(NewLinePrompter(in, &out, func() (string, error) { return "glpat-typed", nil }), &out, base)
	require.NoError(t, err)
	require.NoError(t, Save(p, cfg))

	raw, err := os.ReadFile(p.ConfigFile)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "glpat-typed")
	assert.Contains(t, text, "https://gitlab.com")
	assert.Contains(t, text, "${MY_LLM_KEY}")
	assert.NotContains(t, text, "sk-secret")
}

func TestSave_WritesNoDefaults(t *testing.T) {
	p := PathsAt(t.TempDir())
	require.NoError(t, os.WriteFile(p.ConfigFile, []byte("gitlab_url: https://gitlab.com\napi_token: tok\n"), 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	cfg.DefaultProjectID = "42"
	require.NoError(t, Save(p, cfg))

	// A second change is diffed against what the first save wrote.
	cfg.DefaultProjectID = "43"
	require.NoError(t, Save(p, cfg))

	raw, err := os.ReadFile(p.ConfigFile)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "default_project_id: \"43\"")
	for _, key := range []string{"llm", "model", "temperature", "max_tokens", "log_level", "auth_type"} {
		assert.NotContains(t, text, key)
	}
}

func TestLoad_ZeroTemperatureIsKept(t *testing.T) {
	unsetEnv(t, "KEN_LLM_TEMPERATURE")
	p := PathsAt(t.TempDir())
	require.NoError(t, os.WriteFile(p.ConfigFile, []byte("llm:\n  temperature: 0\n"), 0o600))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.LLM.Temp())

	cfg, err = LoadBytes([]byte("llm:\n  model: m\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTemperature, cfg.LLM.Temp())
}

func TestProjectOr(t *testing.T) {
	cfg := &Config{DefaultProjectID: "default/proj"}
	got, err := cfg.ProjectOr("")
	require.NoError(t, err)
	assert.Equal(t, "default/proj", got)

	got, err = cfg.ProjectOr("other/proj")
	require.NoError(t, err)
	assert.Equal(t, "other/proj", got)

	_, err = (&Config{}).ProjectOr("")
	assert.ErrorIs(t, err, kerrors.ErrNoProject)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"gitlab.com", "https://gitlab.com"},
		{" https://gitlab.example.com/ ", "https://gitlab.example.com"},
		{"http://localhost:8080", "http://localhost:8080"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{APIToken: "glpat-1234567890", LLM: LLM{APIKey: "short"}}
	r := cfg.Redacted()
	assert.NotEqual(t, cfg.APIToken, r.APIToken)
	assert.NotContains(t, r.APIToken, "123456")
	assert.True(t, strings.HasPrefix(r.APIToken, "glpa"))
	assert.Equal(t, "********", r.LLM.APIKey)
	assert.Equal(t, "glpat-1234567890", cfg.APIToken)
}

func TestPromptLogin(t *testing.T) {
	in := strings.NewReader("gitlab.example.com\ngroup/repo\n")
	var out bytes.Buffer
	secret := func() (string, error) { return "glpat-abc", nil }

	cfg, err := PromptLogin(NewLinePrompter(in, &out, secret), &out, &Config{LLM: LLM{Provider: "gemini"}})
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", cfg.GitLabURL)
	assert.Equal(t, "glpat-abc", cfg.APIToken)
	assert.Equal(t, "group/repo", cfg.DefaultProjectID)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.NotContains(t, out.String(), "glpat-abc")
}

func TestPromptLogin_MissingToken(t *testing.T) {
	in := strings.NewReader("gitlab.com\n\n")
	var out bytes.Buffer
	_, err := PromptLogin(NewLinePrompter(in, &out, func() (string, error) { return "", nil }), &out, nil)
	assert.Error(t, err)
}

func TestLinePrompter_SecretFallsBackToInput(t *testing.T) {
	in := strings.NewReader("https://gitlab.com/\ntok-123\n\n")
	var out bytes.Buffer

	cfg, err := PromptLogin(NewLinePrompter(in, &out, nil), &out, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.com", cfg.GitLabURL)
	assert.Equal(t, "tok-123", cfg.APIToken)
	assert.Empty(t, cfg.DefaultProjectID)
	assert.Equal(t, AuthToken, cfg.AuthType)
}
