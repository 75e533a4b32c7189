package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExit ends the interactive loop.
var ErrExit = errors.New("exit requested")

type command struct {
	name  string
	args  string
	help  string
	run   func(ctx context.Context, s *Session, arg string) error
	alias []string
}

// commands lists the slash commands in help order. It is filled in init
// because /help reads it.
var commands []command

func init() {
	commands = []command{
		{name: "/help", help: "Show this help", run: func(_ context.Context, s *Session, _ string) error {
			s.printHelp()
			return nil
		}},
		{name: "/login", help: "Login to GitLab", run: func(ctx context.Context, s *Session, _ string) error {
			return s.Login(ctx)
		}},
		{name: "/logout", help: "Logout and remove credentials", run: func(_ context.Context, s *Session, _ string) error {
			return s.Logout()
		}},
		{name: "/status", help: "Check authentication status", run: func(ctx context.Context, s *Session, _ string) error {
			return s.Status(ctx)
		}},
		{name: "/projects", args: "[search]", help: "List available projects", run: func(ctx context.Context, s *Session, arg string) error {
			return s.ListProjects(ctx, arg, false)
		}},
		{name: "/project", args: "<id>", help: "Set default project", run: func(_ context.Context, s *Session, arg string) error {
			return s.SetProject(arg)
		}},
		{name: "/current", help: "Show current project", run: func(_ context.Context, s *Session, _ string) error {
			s.Current()
			return nil
		}},
		{name: "/context", help: "Show the cached project context", run: func(_ context.Context, s *Session, arg string) error {
			return s.ShowContext(arg)
		}},
		{name: "/refresh", help: "Refresh and save the project context", run: func(ctx context.Context, s *Session, arg string) error {
			return s.RefreshContext(ctx, arg)
		}},
		{name: "/workload", args: "[username]", help: "Show team workload, or one user's", run: func(ctx context.Context, s *Session, arg string) error {
			return s.Workload(ctx, "", arg)
		}},
		{name: "/tools", help: "List tools available to the assistant", run: func(_ context.Context, s *Session, _ string) error {
			s.Tools()
			return nil
		}},
		{name: "/clear", help: "Start a new conversation", run: func(_ context.Context, s *Session, _ string) error {
			s.ClearHistory()
			s.println("🧹 Conversation cleared.")
			return nil
		}},
		{name: "/new-issue", help: "Create an issue from a template", run: func(ctx context.Context, s *Session, _ string) error {
			return s.NewIssueWizard(ctx)
		}},
		{name: "/new-mr", help: "Create a merge request from a template", run: func(ctx context.Context, s *Session, _ string) error {
			return s.NewMergeRequestWizard(ctx)
		}},
		{name: "/exit", help: "Quit Ken", alias: []string{"/quit", "exit", "quit"}, run: func(context.Context, *Session, string) error {
			return ErrExit
		}},
	}
}

// CommandNames returns every slash command, for completion.
func CommandNames() []string {
	names := make([]string, 0, len(commands)+1)
	for _, c := range commands {
		names = append(names, c.name)
		for _, a := range c.alias {
			if strings.HasPrefix(a, "/") {
				names = append(names, a)
			}
		}
	}
	return names
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
		for _, a := range c.alias {
			if a == name {
				return c, true
			}
		}
	}
	return command{}, false
}

func (s *Session) printHelp() {
	s.println("📋 Available Commands:")
	for _, c := range commands {
		usage := c.name
		if c.args != "" {
			usage += " " + c.args
		}
		s.printf("  %-20s - %s\n", usage, c.help)
	}
	s.println("  exit                 - Quit Ken")
	s.println("\nAnything else is sent to the assistant as a question about the current project.")
}

// Handle runs one line of interactive input. It returns ErrExit when the
// user asks to quit; any other error is meant to be printed and ignored.
func (s *Session) Handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, arg, _ := strings.Cut(line, " ")
	if c, ok := lookup(strings.ToLower(name)); ok {
		return c.run(ctx, s, strings.TrimSpace(arg))
	}
	if strings.HasPrefix(line, "/") {
		s.printf("❓ Unknown command: %s. Type '/help' for available commands.\n", name)
		return nil
	}

	answer, err := s.Ask(ctx, line, "", true)
	if err != nil {
		return err
	}
	s.printf("\n%s\n\n", answer)
	return nil
}

// UserError renders an error as a short message for the terminal.
func UserError(err error) string {
	return fmt.Sprintf("❌ Error: %v", err)
}
