package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the user one question at a time.
type Prompter interface {
	Ask(prompt string) (string, error)
	// AskSecret reads an answer without echoing it.
	AskSecret(prompt string) (string, error)
}

// SecretReader reads a line without echoing it.
type SecretReader func() (string, error)

// StdinSecret reads the token from the terminal with echo disabled.
func StdinSecret() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// LinePrompter reads newline-terminated answers from a reader.
type LinePrompter struct {
	r      *bufio.Reader
	out    io.Writer
	secret SecretReader
}

// NewLinePrompter prompts on out and reads from in. A nil secret reads
// secrets from in like any other answer.
func NewLinePrompter(in io.Reader, out io.Writer, secret SecretReader) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(in), out: out, secret: secret}
}

// StdioPrompter uses stdin, hiding secrets when stdin is a terminal.
func StdioPrompter(out io.Writer) *LinePrompter {
	var secret SecretReader
	if term.IsTerminal(int(os.Stdin.Fd())) {
		secret = StdinSecret
	}
	return NewLinePrompter(os.Stdin, out, secret)
}

func (p *LinePrompter) Ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *LinePrompter) AskSecret(prompt string) (string, error) {
	if p.secret == nil {
		return p.Ask(prompt)
	}
	fmt.Fprint(p.out, prompt)
	s, err := p.secret()
	fmt.Fprintln(p.out)
	return s, err
}

// PromptLogin asks for the GitLab URL, a personal access token and an
// optional default project. LLM and MCP settings are carried over from base.
func PromptLogin(p Prompter, out io.Writer, base *Config) (*Config, error) {
	fmt.Fprintln(out, "GitLab Authentication Setup")
	fmt.Fprintln(out, "----------------------------")

	rawURL, err := p.Ask("Enter your GitLab URL (e.g., https://gitlab.com): ")
	if err != nil {
		return nil, err
	}
	gitlabURL := NormalizeURL(rawURL)
	if gitlabURL == "" {
		return nil, fmt.Errorf("GitLab URL is required")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "To create a personal access token:")
	fmt.Fprintf(out, "1. Go to %s/-/user_settings/personal_access_tokens\n", gitlabURL)
	fmt.Fprintln(out, "2. Create a token with 'api' scope")
	fmt.Fprintln(out, "3. Copy the token and paste it below")
	fmt.Fprintln(out)

	token, err := p.AskSecret("Enter your GitLab personal access token: ")
	if err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("access token is required")
	}

	project, err := p.Ask("Enter default project ID (optional, press Enter to skip): ")
	if err != nil {
		return nil, err
	}

	cfg := Config{}
	if base != nil {
		cfg = *base
	}
	cfg.GitLabURL = gitlabURL
	cfg.APIToken = token
	cfg.DefaultProjectID = project
	applyDefaults(&cfg)
	return &cfg, nil
}
