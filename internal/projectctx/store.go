package projectctx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var unsafeChars = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeID maps a project identifier to a file-system safe name by
// replacing / \ : * ? " < > | with underscores.
func SanitizeID(projectID string) string {
	return unsafeChars.Replace(projectID)
}

// Store reads and writes one JSON document per project under dir.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore creates a store rooted at dir. The directory is created on the
// first Save.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "projectctx.store").Logger(),
	}
}

// Path returns the file a project's context is stored in.
func (s *Store) Path(projectID string) string {
	return filepath.Join(s.dir, SanitizeID(projectID)+".json")
}

// Load returns the stored context, or a new empty one when no file exists.
// Only I/O failures and corrupt documents are errors.
func (s *Store) Load(projectID string) (*ProjectContext, error) {
	path := s.Path(projectID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug().Str("project", projectID).Msg("no cached context")
		return New(projectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading context %s: %w", path, err)
	}

	var c ProjectContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing context %s: %w", path, err)
	}
	if c.ProjectID == "" {
		c.ProjectID = projectID
	}
	c.normalize()
	return &c, nil
}

// Save writes the full context, replacing any previous document.
func (s *Store) Save(c *ProjectContext) error {
	if c.ProjectID == "" {
		return fmt.Errorf("saving context: empty project id")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating context dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}

	path := s.Path(c.ProjectID)
	tmp, err := os.CreateTemp(s.dir, ".ctx-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing context: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing context: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing context %s: %w", path, err)
	}
	s.logger.Debug().Str("project", c.ProjectID).Str("path", path).Msg("context saved")
	return nil
}

// normalize replaces null collections from hand-edited or older files.
func (c *ProjectContext) normalize() {
	if c.Labels == nil {
		c.Labels = []ProjectLabel{}
	}
	if c.Users == nil {
		c.Users = []ProjectUser{}
	}
	if c.Milestones == nil {
		c.Milestones = []ProjectMilestone{}
	}
	if c.Teams == nil {
		c.Teams = map[string][]string{}
	}
	if c.HotIssues == nil {
		c.HotIssues = []HotIssue{}
	}
	p := &c.IssuePatterns
	for _, l := range []*[]string{&p.MostUsedLabels, &p.ActiveAssignees, &p.CommonKeywords, &p.PriorityLevels} {
		if *l == nil {
			*l = []string{}
		}
	}
}
