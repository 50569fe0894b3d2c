// internal/resolver/resolver.go
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenk/backoff"
)

// ErrUnresolvable marks a URL that cannot be mapped to a source repository.
var ErrUnresolvable = errors.New("URL does not resolve to a supported source repository")

const npmRegistryURL = "https://registry.npmjs.org"

// Repository is a canonical source-repository reference.
type Repository struct {
	Owner string
	Name  string
	URL   string
}

// Resolver maps package-registry or source URLs to canonical GitHub
// repository references. github.com URLs pass through (normalized); npm
// package URLs are resolved through the npm registry's repository metadata.
type Resolver struct {
	client      *http.Client
	registryURL string
	logger      *slog.Logger
}

// NewResolver creates a Resolver with a default HTTP client.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		client:      &http.Client{Timeout: 15 * time.Second},
		registryURL: npmRegistryURL,
		logger:      logger,
	}
}

// Resolve returns the canonical repository for rawURL, or ErrUnresolvable.
// Transport failures against the npm registry are returned as-is so the
// caller can classify them as dependency errors.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Repository, error) {
	switch {
	case strings.Contains(rawURL, "github.com"):
		return parseGitHubURL(rawURL)
	case strings.Contains(rawURL, "npmjs.com"):
		return r.resolveNPM(ctx, rawURL)
	default:
		return Repository{}, ErrUnresolvable
	}
}

// parseGitHubURL normalizes git+https://... and .git forms and extracts the
// owner/name pair.
func parseGitHubURL(rawURL string) (Repository, error) {
	cleaned := strings.TrimPrefix(rawURL, "git+")
	cleaned = strings.TrimSuffix(cleaned, ".git")

	u, err := url.Parse(cleaned)
	if err != nil {
		return Repository{}, ErrUnresolvable
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repository{}, ErrUnresolvable
	}

	owner, name := parts[0], parts[1]
	return Repository{
		Owner: owner,
		Name:  name,
		URL:   fmt.Sprintf("https://github.com/%s/%s", owner, name),
	}, nil
}

// resolveNPM looks the package up in the npm registry and follows its
// declared repository URL.
func (r *Resolver) resolveNPM(ctx context.Context, rawURL string) (Repository, error) {
	pkgName, ok := npmPackageName(rawURL)
	if !ok {
		return Repository{}, ErrUnresolvable
	}

	var meta struct {
		Repository struct {
			URL string `json:"url"`
		} `json:"repository"`
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.registryURL+"/"+pkgName, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrUnresolvable)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("npm registry returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&meta)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ErrUnresolvable) {
			return Repository{}, ErrUnresolvable
		}
		r.logger.Error("npm registry lookup failed", "package", pkgName, "error", err)
		return Repository{}, err
	}

	if !strings.Contains(meta.Repository.URL, "github.com") {
		return Repository{}, ErrUnresolvable
	}
	return parseGitHubURL(meta.Repository.URL)
}

// npmPackageName extracts the package name from an npmjs.com URL, e.g.
// https://www.npmjs.com/package/express -> express.
func npmPackageName(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "package" && i+1 < len(parts) {
			// Scoped packages keep their @scope/name form.
			return strings.Join(parts[i+1:], "/"), true
		}
	}
	return "", false
}
