// Package session holds the state of one ken run: configuration, the GitLab
// client, the context store, the tool registry and the chat history. The
// interactive shell and every CLI command operate on a Session.
package session

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/ken/internal/agent"
	"github.com/p-blackswan/ken/internal/config"
	"github.com/p-blackswan/ken/internal/gitlab"
	"github.com/p-blackswan/ken/internal/llm"
	"github.com/p-blackswan/ken/internal/lru"
	"github.com/p-blackswan/ken/internal/mcp"
	"github.com/p-blackswan/ken/internal/projectctx"
	"github.com/p-blackswan/ken/internal/retry"
	"github.com/p-blackswan/ken/internal/tool"
	"github.com/p-blackswan/ken/internal/workload"
)

const (
	issueCacheSize = 64
	issueCacheTTL  = 2 * time.Minute
)

// Deps configures a Session.
type Deps struct {
	Paths  config.Paths
	Config *config.Config
	Out    io.Writer
	// Prompter answers wizard and login questions. The REPL replaces it
	// with one backed by its line editor.
	Prompter config.Prompter
	// Provider overrides the provider built from Config.LLM.
	Provider llm.Provider
	// GitLabOptions are passed to every GitLab client the session builds.
	GitLabOptions []gitlab.Option
	// ConnectMCP starts the configured MCP server, if any.
	ConnectMCP bool
	Version    string
	Logger     zerolog.Logger
}

// Session is the explicit state shared by all command handlers.
type Session struct {
	paths   config.Paths
	cfg     *config.Config
	out     io.Writer
	prompt  config.Prompter
	logger  zerolog.Logger
	version string
	glOpts  []gitlab.Option

	gl       *gitlab.Client
	store    *projectctx.Store
	builder  *projectctx.Builder
	workload *workload.Aggregator
	registry *tool.Registry
	// issues caches fetched issues by "project#iid".
	issues *lru.Cache[string, *gitlab.Issue]

	provider llm.Provider
	mcp      *mcp.Client
	remote   []tool.Tool
	history  []llm.Message

	now func() time.Time
}

// New builds a Session. A missing login is not an error: commands that
// need GitLab report it when they run.
func New(ctx context.Context, d Deps) (*Session, error) {
	cfg := d.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(d.Paths); err != nil {
			return nil, err
		}
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	if d.Prompter == nil {
		d.Prompter = config.StdioPrompter(d.Out)
	}

	s := &Session{
		paths:    d.Paths,
		cfg:      cfg,
		out:      d.Out,
		prompt:   d.Prompter,
		logger:   d.Logger.With().Str("component", "session").Logger(),
		version:  d.Version,
		glOpts:   d.GitLabOptions,
		store:    projectctx.NewStore(d.Paths.ContextDir, d.Logger),
		provider: d.Provider,
		issues:   lru.New[string, *gitlab.Issue](issueCacheSize, lru.WithTTL(issueCacheTTL)),
		now:      time.Now,
	}

	if d.ConnectMCP && cfg.MCP.Enabled() {
		s.connectMCP(ctx)
	}
	if err := s.rewire(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// connectMCP attaches an external tool server. Failure only loses its tools.
func (s *Session) connectMCP(ctx context.Context) {
	c, err := mcp.Connect(ctx, mcp.Options{
		Command: s.cfg.MCP.Command,
		Args:    s.cfg.MCP.Args,
		URL:     s.cfg.MCP.URL,
		Version: s.version,
	}, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("mcp server unavailable, continuing with built-in tools")
		return
	}
	tools, err := c.Tools(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing mcp tools failed")
		_ = c.Close()
		return
	}
	s.mcp = c
	s.remote = tools
}

// rewire rebuilds everything derived from the configuration. It runs after
// login, logout and project changes.
func (s *Session) rewire() error {
	s.gl, s.builder, s.workload = nil, nil, nil
	s.issues.Purge()
	if s.cfg.Authenticated() {
		auth := gitlab.NewAuthenticator(s.cfg.AuthType, s.cfg.APIToken)
		s.gl = gitlab.NewClient(s.cfg.GitLabURL, auth, s.logger, s.glOpts...)
		s.workload = workload.NewAggregator(s.gl, workload.DefaultConcurrency, s.logger)
		s.builder = projectctx.NewBuilder(s.gl, s.workload, s.logger)
	}

	deps := tool.Deps{
		Store:          s.store,
		DefaultProject: s.cfg.DefaultProjectID,
		Logger:         s.logger,
	}
	if s.gl != nil {
		deps.GitLab = s.gl
		deps.Builder = s.builder
		deps.Workload = s.workload
	}
	reg := tool.NewRegistry()
	if err := reg.Register(tool.Builtins(deps)...); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	for _, t := range s.remote {
		if err := reg.Register(t); err != nil {
			s.logger.Warn().Err(err).Msg("skipping mcp tool")
		}
	}
	s.registry = reg
	return nil
}

// Close ends the MCP session, stopping its subprocess.
func (s *Session) Close() error {
	if s.mcp == nil {
		return nil
	}
	err := s.mcp.Close()
	s.mcp = nil
	return err
}

// Config returns the active configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Registry returns the tool registry.
func (s *Session) Registry() *tool.Registry { return s.registry }

// SetPrompter swaps the source of interactive answers.
func (s *Session) SetPrompter(p config.Prompter) { s.prompt = p }

// ClearHistory forgets the chat so far.
func (s *Session) ClearHistory() { s.history = nil }

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Session) println(args ...any) {
	fmt.Fprintln(s.out, args...)
}

// client returns the GitLab client or the not-logged-in error.
func (s *Session) client() (*gitlab.Client, error) {
	if err := s.cfg.RequireAuth(); err != nil {
		return nil, err
	}
	return s.gl, nil
}

func (s *Session) project(override string) (string, error) {
	return s.cfg.ProjectOr(strings.TrimSpace(override))
}

func (s *Session) llm(ctx context.Context) (llm.Provider, error) {
	if s.provider != nil {
		return s.provider, nil
	}
	p, err := llm.New(ctx, s.cfg.LLM, s.logger)
	if err != nil {
		return nil, err
	}
	s.provider = p
	return p, nil
}

// newAgent builds a chat agent. Without tools it only completes text.
func (s *Session) newAgent(ctx context.Context, projectID string, withTools bool) (*agent.Agent, error) {
	p, err := s.llm(ctx)
	if err != nil {
		return nil, err
	}
	spec := agent.Spec{
		Provider:    p,
		ProjectID:   projectID,
		Temperature: s.cfg.LLM.Temp(),
		MaxTokens:   s.cfg.LLM.MaxTokens,
		Logger:      s.logger,
	}
	if withTools {
		spec.Registry = s.registry
	}
	return agent.New(spec)
}

// Verify checks the stored credentials against GitLab.
func (s *Session) Verify(ctx context.Context) (*gitlab.User, error) {
	gl, err := s.client()
	if err != nil {
		return nil, err
	}
	return gl.CurrentUser(ctx)
}

// Login prompts for credentials, verifies them and saves the config.
func (s *Session) Login(ctx context.Context) error {
	cfg, err := config.PromptLogin(s.prompt, s.out, s.cfg)
	if err != nil {
		return err
	}

	s.println("🔄 Verifying credentials...")
	auth := gitlab.NewAuthenticator(cfg.AuthType, cfg.APIToken)
	opts := append(slices.Clone(s.glOpts), gitlab.WithRetry(retry.Config{MaxAttempts: 1}))
	gl := gitlab.NewClient(cfg.GitLabURL, auth, s.logger, opts...)
	user, err := gl.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("verifying credentials (check your token and URL): %w", err)
	}
	if err := config.Save(s.paths, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	if err := s.rewire(); err != nil {
		return err
	}
	s.printf("✓ Successfully authenticated as: %s\n", user.Username)
	s.println("✅ Login successful!")
	return nil
}

// Logout removes the stored credentials.
func (s *Session) Logout() error {
	if !s.cfg.Authenticated() {
		s.println("❌ Not currently logged in.")
		return nil
	}
	if err := config.Remove(s.paths); err != nil {
		return err
	}
	cfg, err := config.Load(s.paths)
	if err != nil {
		return err
	}
	cfg.GitLabURL, cfg.APIToken, cfg.DefaultProjectID = "", "", ""
	s.cfg = cfg
	s.history = nil
	if err := s.rewire(); err != nil {
		return err
	}
	s.println("✅ Logged out successfully!")
	return nil
}

// Status prints the login state and checks the token.
func (s *Session) Status(ctx context.Context) error {
	if !s.cfg.Authenticated() {
		s.println("❌ Not authenticated. Use 'ken auth login' or '/login' first.")
		return nil
	}
	s.printf("✅ Authenticated to: %s\n", s.cfg.GitLabURL)
	if s.cfg.DefaultProjectID != "" {
		s.printf("📁 Default project: %s\n", s.cfg.DefaultProjectID)
	}
	s.printf("🤖 LLM: %s (%s)\n", s.cfg.LLM.Provider, s.cfg.LLM.Model)
	if s.mcp != nil {
		s.printf("🔌 MCP tools: %d\n", len(s.remote))
	}
	s.printf("🔄 Verifying token... ")
	user, err := s.Verify(ctx)
	if err != nil {
		s.println("❌ Token expired or invalid.")
		s.logger.Debug().Err(err).Msg("token verification failed")
		return nil
	}
	s.printf("✅ Token is valid (%s).\n", user.Username)
	return nil
}

// ListProjects prints projects visible to the user.
func (s *Session) ListProjects(ctx context.Context, search string, mine bool) error {
	gl, err := s.client()
	if err != nil {
		return err
	}
	s.println("📋 Fetching projects from GitLab...")
	projects, err := gl.ListProjects(ctx, gitlab.ListProjectsOptions{
		Search:     search,
		Membership: mine,
	})
	if err != nil {
		return fmt.Errorf("fetching projects: %w", err)
	}
	if len(projects) == 0 {
		s.println("No projects found.")
		return nil
	}
	s.println("\n📂 Available Projects:")
	s.println("─────────────────────")
	for _, p := range projects {
		s.printf("  • %s (ID: %d, Path: %s)\n", p.Name, p.ID, p.PathWithNamespace)
	}
	s.println("\n💡 Use '/project <id_or_path>' or 'ken project set <id>' to set a default project")
	return nil
}

// SetProject stores a new default project.
func (s *Session) SetProject(projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("please specify a project ID: /project <id>")
	}
	if err := s.cfg.RequireAuth(); err != nil {
		return err
	}
	s.cfg.DefaultProjectID = projectID
	if err := config.Save(s.paths, s.cfg); err != nil {
		return err
	}
	s.history = nil
	if err := s.rewire(); err != nil {
		return err
	}
	s.printf("✅ Default project set to: %s\n", projectID)
	return nil
}

// Current prints the default project.
func (s *Session) Current() {
	if s.cfg.DefaultProjectID == "" {
		s.println("❌ No default project set.")
		return
	}
	s.printf("📁 Current project: %s\n", s.cfg.DefaultProjectID)
}

// Tools prints the registered tools.
func (s *Session) Tools() {
	schemas := s.registry.Schemas()
	s.printf("🧰 Available tools (%d):\n", len(schemas))
	for _, sc := range schemas {
		desc, _, _ := strings.Cut(sc.Description, "\n")
		s.printf("  • %s: %s\n", sc.Name, desc)
	}
}
