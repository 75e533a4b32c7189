package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

const replPrompt = "Ken> "

// readlinePrompter answers wizard questions through the line editor, which
// owns the terminal while the shell runs.
type readlinePrompter struct {
	rl *readline.Instance
}

func (p *readlinePrompter) Ask(prompt string) (string, error) {
	p.rl.SetPrompt(prompt)
	defer p.rl.SetPrompt(replPrompt)
	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", fmt.Errorf("cancelled")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *readlinePrompter) AskSecret(prompt string) (string, error) {
	b, err := p.rl.ReadPassword(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func completer() *readline.PrefixCompleter {
	names := CommandNames()
	items := make([]readline.PrefixCompleterInterface, 0, len(names))
	for _, n := range names {
		items = append(items, readline.PcItem(n))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) banner() {
	if s.cfg.Authenticated() {
		s.printf("✅ Authenticated to: %s\n", s.cfg.GitLabURL)
		if s.cfg.DefaultProjectID != "" {
			s.printf("📁 Current project: %s\n", s.cfg.DefaultProjectID)
		} else {
			s.println("❌ No default project set.")
		}
	} else {
		s.println("❌ Not authenticated. Use '/login' to authenticate.")
	}
	s.println("💡 Type '/help' for commands or 'exit' to quit.")
	s.println()
}

// Run starts the interactive shell. It returns nil on exit, Ctrl-C or
// Ctrl-D, and an error only when the terminal itself fails.
func (s *Session) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.paths.Root, 0o700); err != nil {
		s.logger.Warn().Err(err).Msg("history disabled")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 replPrompt,
		HistoryFile:            s.paths.HistoryFile,
		AutoComplete:           completer(),
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
		HistorySearchFold:      true,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return fmt.Errorf("starting line editor: %w", err)
	}
	defer rl.Close()

	out, prompt := s.out, s.prompt
	s.out, s.prompt = rl.Stdout(), &readlinePrompter{rl: rl}
	defer func() { s.out, s.prompt = out, prompt }()

	s.banner()
	return s.loop(ctx, rl.Readline, func(line string) { _ = rl.SaveHistory(line) })
}

// loop reads lines until exit. It is separate from Run so it can be driven
// without a terminal.
func (s *Session) loop(ctx context.Context, next func() (string, error), save func(string)) error {
	for {
		line, err := next()
		switch {
		case errors.Is(err, readline.ErrInterrupt), errors.Is(err, io.EOF):
			s.println("👋 Goodbye!")
			return nil
		case err != nil:
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		save(line)

		if err := s.Handle(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.println("👋 Goodbye!")
				return nil
			}
			s.println(UserError(err))
		}
	}
}
