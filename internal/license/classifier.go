// internal/license/classifier.go
package license

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/google/uuid"
)

// Outcome is the tri-state result of a classification.
type Outcome int

const (
	NotFound     Outcome = -1
	Incompatible Outcome = 0
	Compatible   Outcome = 1
)

// Score maps the outcome to its numeric form: COMPATIBLE 1, INCOMPATIBLE 0,
// NOT_FOUND -1.
func (o Outcome) Score() float64 { return float64(o) }

// Family pairs a canonical phrase with the license identifier it indicates.
// Matching is ordered; the first phrase found in the text wins.
type Family struct {
	Phrase string
	ID     string
}

// Config parameterizes the classifier. The defaults describe compatibility
// with the registry's reference license, LGPL-2.1.
type Config struct {
	// ScratchRoot is where shallow clones are placed. Each classification
	// uses a uniquely named subdirectory removed before the call returns.
	ScratchRoot string
	Families    []Family
	Compatible  []string
}

// DefaultConfig returns the LGPL-2.1 compatibility configuration.
func DefaultConfig(scratchRoot string) Config {
	return Config{
		ScratchRoot: scratchRoot,
		Families: []Family{
			{Phrase: "MIT License", ID: "MIT"},
			{Phrase: "BSD-2-Clause", ID: "BSD-2-Clause"},
			{Phrase: "BSD-3-Clause", ID: "BSD-3-Clause"},
			{Phrase: "Apache License", ID: "Apache-2.0"},
			{Phrase: "Mozilla Public License", ID: "MPL-2.0"},
		},
		Compatible: []string{"MIT", "BSD-2-Clause", "BSD-3-Clause", "Apache-2.0", "MPL-2.0"},
	}
}

var (
	licenseFilePattern = regexp.MustCompile(`(?i)^LICENSE(\..*)?$`)
	readmeFilePattern  = regexp.MustCompile(`(?i)^README(\..*)?$`)
)

// Classifier identifies a repository's license family from its LICENSE file,
// falling back to the README, and tests it against the compatible set.
type Classifier struct {
	cfg    Config
	logger *slog.Logger
}

// NewClassifier creates a Classifier with the given configuration.
func NewClassifier(cfg Config, logger *slog.Logger) *Classifier {
	return &Classifier{cfg: cfg, logger: logger}
}

// Classify clones repoURL at depth 1, scans the working tree for license
// text, and returns the compatibility outcome. Clone and scan failures are
// mapped to NotFound rather than surfaced: an inaccessible repository only
// degrades the license term, never the whole scoring invocation. The clone
// directory is removed on every exit path.
func (c *Classifier) Classify(ctx context.Context, repoURL, repoName string) Outcome {
	dir := filepath.Join(c.cfg.ScratchRoot, repoName+"-"+uuid.NewString())
	defer os.RemoveAll(dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Error("Failed to create clone scratch directory", "dir", dir, "error", err)
		return NotFound
	}

	c.logger.Info("Cloning repository for license scan", "repo", repoName, "url", repoURL)
	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		c.logger.Error("Failed to clone repository for license scan", "repo", repoName, "error", err)
		return NotFound
	}

	return c.classifyDir(dir)
}

// classifyDir applies the LICENSE-then-README policy to a checked-out tree.
func (c *Classifier) classifyDir(dir string) Outcome {
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.logger.Error("Failed to read clone directory", "dir", dir, "error", err)
		return NotFound
	}

	var text string
	var found bool

	for _, entry := range entries {
		if !entry.IsDir() && licenseFilePattern.MatchString(entry.Name()) {
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return NotFound
			}
			text, found = string(data), true
			break
		}
	}

	if !found {
		// Fall back to a README, but only if it actually talks about a license.
		for _, entry := range entries {
			if entry.IsDir() || !readmeFilePattern.MatchString(entry.Name()) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return NotFound
			}
			if strings.Contains(strings.ToLower(string(data)), "license") {
				text, found = string(data), true
			}
			break
		}
	}

	if !found {
		return NotFound
	}

	family := c.identifyFamily(text)
	if family != "" && c.isCompatible(family) {
		return Compatible
	}
	return Incompatible
}

// identifyFamily returns the first matching license family, or "" when the
// text matches none of the canonical phrases.
func (c *Classifier) identifyFamily(text string) string {
	for _, f := range c.cfg.Families {
		if strings.Contains(text, f.Phrase) {
			return f.ID
		}
	}
	return ""
}

func (c *Classifier) isCompatible(family string) bool {
	for _, id := range c.cfg.Compatible {
		if id == family {
			return true
		}
	}
	return false
}
