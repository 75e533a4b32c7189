// Command ken is an AI assistant for GitLab issue management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/ken/internal/config"
	"github.com/p-blackswan/ken/internal/mcp"
	"github.com/p-blackswan/ken/internal/session"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		a.logger.Debug().Err(cerr).Msg("closing session")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, session.UserError(err))
		os.Exit(1)
	}
}

// app carries the state shared by the command tree.
type app struct {
	verbose bool
	project string

	paths  config.Paths
	cfg    *config.Config
	logger zerolog.Logger
	sess   *session.Session
}

func (a *app) setup(*cobra.Command, []string) error {
	paths, err := config.DefaultPaths()
	if err != nil {
		return err
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return err
	}
	a.paths, a.cfg = paths, cfg

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
	a.logger.Debug().
		Str("config", paths.ConfigFile).
		Str("gitlab_url", cfg.GitLabURL).
		Str("llm_provider", cfg.LLM.Provider).
		Bool("mcp", cfg.MCP.Enabled()).
		Msg("configuration loaded")
	return nil
}

// session builds the session on first use. withMCP also attaches the
// configured external tool server.
func (a *app) session(ctx context.Context, withMCP bool) (*session.Session, error) {
	if a.sess != nil {
		return a.sess, nil
	}
	s, err := session.New(ctx, session.Deps{
		Paths:      a.paths,
		Config:     a.cfg,
		Out:        os.Stdout,
		ConnectMCP: withMCP,
		Version:    version,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.sess = s
	return s, nil
}

func (a *app) close() error {
	if a.sess == nil {
		return nil
	}
	return a.sess.Close()
}

// run adapts a session handler into a cobra RunE.
func (a *app) run(withMCP bool, fn func(ctx context.Context, s *session.Session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := a.session(cmd.Context(), withMCP)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), s, args)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "ken",
		Short:             "AI-powered GitLab issue management assistant",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		RunE: a.run(true, func(ctx context.Context, s *session.Session, _ []string) error {
			return s.Run(ctx)
		}),
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newAuthCmd(a),
		newIssueCmd(a),
		newSummarizeCmd(a),
		newSuggestCmd(a),
		newWorkloadCmd(a),
		newQueryCmd(a),
		newInteractiveCmd(a),
		newProjectCmd(a),
		newMCPCmd(a),
	)
	return root
}

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Manage authentication"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "login",
			Short: "Login to GitLab",
			Args:  cobra.NoArgs,
			RunE: a.run(false, func(ctx context.Context, s *session.Session, _ []string) error {
				return s.Login(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Check authentication status",
			Args:  cobra.NoArgs,
			RunE: a.run(false, func(ctx context.Context, s *session.Session, _ []string) error {
				return s.Status(ctx)
			}),
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Logout (remove stored credentials)",
			Args:  cobra.NoArgs,
			RunE: a.run(false, func(_ context.Context, s *session.Session, _ []string) error {
				return s.Logout()
			}),
		},
	)
	return cmd
}

func newIssueCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "issue <description>",
		Short: "Create an issue from a natural language description",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.run(false, func(ctx context.Context, s *session.Session, args []string) error {
			return s.CreateIssueFromText(ctx, strings.Join(args, " "), a.project, yes)
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "create without asking for confirmation")
	cmd.Flags().StringVarP(&a.project, "project", "p", "", "project ID or path (overrides the default)")
	return cmd
}

func newSummarizeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize <issue>",
		Short: "Summarize an existing issue (ID, #ID or URL)",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(false, func(ctx context.Context, s *session.Session, args []string) error {
			out, err := s.Summarize(ctx, args[0], a.project)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&a.project, "project", "p", "", "project ID or path (overrides the default)")
	return cmd
}

func newSuggestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <issue>",
		Short: "Suggest an assignee for an issue",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(false, func(ctx context.Context, s *session.Session, args []string) error {
			out, err := s.Suggest(ctx, args[0], a.project)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&a.project, "project", "p", "", "project ID or path (overrides the default)")
	return cmd
}

func newWorkloadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload [username]",
		Short: "Check a user's workload, or the whole team's",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(false, func(ctx context.Context, s *session.Session, args []string) error {
			var username string
			if len(args) == 1 {
				username = args[0]
			}
			return s.Workload(ctx, a.project, username)
		}),
	}
	cmd.Flags().StringVarP(&a.project, "project", "p", "", "project ID or path (overrides the default)")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Query issues using natural language",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.run(true, func(ctx context.Context, s *session.Session, args []string) error {
			answer, err := s.Ask(ctx, strings.Join(args, " "), a.project, false)
			if err != nil {
				return err
			}
			fmt.Println(answer)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&a.project, "project", "p", "", "project ID or path (overrides the default)")
	return cmd
}

func newInteractiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Start interactive mode",
		Args:  cobra.NoArgs,
		RunE: a.run(true, func(ctx context.Context, s *session.Session, _ []string) error {
			return s.Run(ctx)
		}),
	}
}

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Project management commands"}

	var (
		search string
		mine   bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List available projects",
		Args:  cobra.NoArgs,
		RunE: a.run(false, func(ctx context.Context, s *session.Session, _ []string) error {
			return s.ListProjects(ctx, search, mine)
		}),
	}
	list.Flags().StringVarP(&search, "search", "s", "", "search projects by name")
	list.Flags().BoolVarP(&mine, "mine", "m", false, "show only projects you are a member of")

	update := &cobra.Command{
		Use:   "update-context",
		Short: "Update project context (labels, members, milestones, workload)",
		Args:  cobra.NoArgs,
		RunE: a.run(false, func(ctx context.Context, s *session.Session, _ []string) error {
			return s.RefreshContext(ctx, a.project)
		}),
	}
	update.Flags().StringVarP(&a.project, "project", "p", "", "project ID or path (overrides the default)")

	cmd.AddCommand(
		list,
		&cobra.Command{
			Use:   "set <project-id>",
			Short: "Set default project (ID or namespace/project)",
			Args:  cobra.ExactArgs(1),
			RunE: a.run(false, func(_ context.Context, s *session.Session, args []string) error {
				return s.SetProject(args[0])
			}),
		},
		&cobra.Command{
			Use:   "current",
			Short: "Show current default project",
			Args:  cobra.NoArgs,
			RunE: a.run(false, func(_ context.Context, s *session.Session, _ []string) error {
				s.Current()
				return nil
			}),
		},
		update,
	)
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "mcp", Short: "Model Context Protocol integration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the built-in GitLab tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: a.run(false, func(_ context.Context, s *session.Session, _ []string) error {
			a.logger.Info().Strs("tools", s.Registry().Names()).Msg("serving tools over stdio")
			return mcp.ServeStdio(mcp.NewServer(s.Registry(), version))
		}),
	})
	return cmd
}
