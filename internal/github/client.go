// internal/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"package-registry/internal/model"
)

const (
	// Page caps keep a single scoring invocation bounded; the engine's
	// formulas are defined over snapshots, not exhaustive history.
	maxCommitPages   = 3
	maxContributors  = 30
	recentIssueLimit = 50
	maxPullRequests  = 20
)

// Client is a wrapper around the go-github client exposing the four signal
// fetches the scoring pipeline consumes.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// GetRepositoryUsers fetches contributor activity: lifetime contribution
// counts from the contributors listing, commit timestamps from the recent
// commit history grouped by author login.
func (c *Client) GetRepositoryUsers(ctx context.Context, owner, name string) (*model.RepositoryUsers, error) {
	contributors, _, err := c.gh.Repositories.ListContributors(ctx, owner, name, &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: maxContributors},
	})
	if err != nil {
		return nil, err
	}

	datesByLogin, err := c.commitDatesByAuthor(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	users := &model.RepositoryUsers{}
	for _, contrib := range contributors {
		login := contrib.GetLogin()
		users.Contributors = append(users.Contributors, model.Contributor{
			Login:         login,
			Contributions: contrib.GetContributions(),
			CommitDates:   datesByLogin[login],
		})
	}
	return users, nil
}

// commitDatesByAuthor pages through recent commits and groups their author
// dates by login. It handles API pagination transparently up to the page cap.
func (c *Client) commitDatesByAuthor(ctx context.Context, owner, name string) (map[string][]time.Time, error) {
	dates := make(map[string][]time.Time)

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for page := 0; page < maxCommitPages; page++ {
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", name, "page", opts.Page)

		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, err
		}

		for _, commit := range commits {
			login := commit.GetAuthor().GetLogin()
			if login == "" {
				login = commit.GetCommit().GetAuthor().GetName()
			}
			dates[login] = append(dates[login], commit.GetCommit().GetAuthor().GetDate().Time)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return dates, nil
}

// GetRepositoryIssues fetches repository-wide issue totals plus the bounded
// recent-issue window.
func (c *Client) GetRepositoryIssues(ctx context.Context, owner, name string) (*model.RepositoryIssues, error) {
	total, err := c.countIssues(ctx, owner, name, "")
	if err != nil {
		return nil, err
	}
	closed, err := c.countIssues(ctx, owner, name, "state:closed")
	if err != nil {
		return nil, err
	}

	listed, _, err := c.gh.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: recentIssueLimit},
	})
	if err != nil {
		return nil, err
	}

	issues := &model.RepositoryIssues{TotalCount: total, ClosedCount: closed}
	for _, issue := range listed {
		if issue.IsPullRequest() {
			continue
		}
		m := model.Issue{
			Title:     issue.GetTitle(),
			CreatedAt: issue.GetCreatedAt().Time,
		}
		if issue.ClosedAt != nil {
			closedAt := issue.GetClosedAt().Time
			m.ClosedAt = &closedAt
		}
		issues.Recent = append(issues.Recent, m)
	}
	return issues, nil
}

func (c *Client) countIssues(ctx context.Context, owner, name, qualifier string) (int, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue", owner, name)
	if qualifier != "" {
		query += " " + qualifier
	}
	result, _, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, err
	}
	return result.GetTotal(), nil
}

// manifestFiles are the root-level dependency manifests the provider knows
// how to read.
var manifestFiles = []string{"package.json", "requirements.txt"}

// GetRepositoryDependencies reads the repository's root-level dependency
// manifests. A missing manifest file is not an error; a repository without
// any known manifest yields a zero-manifest snapshot.
func (c *Client) GetRepositoryDependencies(ctx context.Context, owner, name string) (*model.RepositoryDependencies, error) {
	deps := &model.RepositoryDependencies{}

	for _, filename := range manifestFiles {
		content, err := c.fetchFileContent(ctx, owner, name, filename)
		if err != nil {
			return nil, err
		}
		if content == "" {
			continue
		}

		manifest := model.Manifest{Filename: filename}
		switch filename {
		case "package.json":
			manifest.Dependencies = parsePackageJSONDependencies(content)
		case "requirements.txt":
			manifest.Dependencies = parseRequirementsTxt(content)
		}

		deps.Manifests = append(deps.Manifests, manifest)
		deps.ManifestCount++
	}

	return deps, nil
}

// fetchFileContent returns the decoded content of a root-level file, or ""
// when the file does not exist.
func (c *Client) fetchFileContent(ctx context.Context, owner, name, path string) (string, error) {
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	if file == nil {
		return "", nil
	}
	return file.GetContent()
}

// GetRepositoryPullRequests fetches recent pull requests with their line
// additions and review states.
func (c *Client) GetRepositoryPullRequests(ctx context.Context, owner, name string) (*model.RepositoryPullRequests, error) {
	listed, _, err := c.gh.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "all",
		ListOptions: github.ListOptions{PerPage: maxPullRequests},
	})
	if err != nil {
		return nil, err
	}

	prs := &model.RepositoryPullRequests{}
	for _, pr := range listed {
		// The list endpoint omits addition counts; fetch the full object.
		full, _, err := c.gh.PullRequests.Get(ctx, owner, name, pr.GetNumber())
		if err != nil {
			return nil, err
		}

		reviews, _, err := c.gh.PullRequests.ListReviews(ctx, owner, name, pr.GetNumber(), nil)
		if err != nil {
			return nil, err
		}

		states := make([]string, 0, len(reviews))
		for _, review := range reviews {
			states = append(states, review.GetState())
		}

		prs.PullRequests = append(prs.PullRequests, model.PullRequest{
			Additions:    full.GetAdditions(),
			ReviewStates: states,
		})
	}
	return prs, nil
}

// GetDefaultBranch returns the repository's default branch name.
func (c *Client) GetDefaultBranch(ctx context.Context, owner, name string) (string, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", err
	}
	return repo.GetDefaultBranch(), nil
}

// parsePackageJSONDependencies pulls the dependency maps out of a
// package.json. A constraint of "", "*" or "latest" counts as unpinned.
func parsePackageJSONDependencies(content string) []model.Dependency {
	type packageJSON struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	var pj packageJSON
	if err := json.Unmarshal([]byte(content), &pj); err != nil {
		return nil
	}

	var deps []model.Dependency
	for _, m := range []map[string]string{pj.Dependencies, pj.DevDependencies} {
		for name, req := range m {
			dep := model.Dependency{Name: name}
			if req != "" && req != "*" && req != "latest" {
				r := req
				dep.Requirements = &r
			}
			deps = append(deps, dep)
		}
	}
	return deps
}

var requirementOperators = []string{"==", ">=", "<=", "~=", "!=", ">", "<"}

// parseRequirementsTxt reads pip-style requirement lines. A line with a
// version operator is pinned; a bare package name is not.
func parseRequirementsTxt(content string) []model.Dependency {
	var deps []model.Dependency
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		dep := model.Dependency{Name: line}
		for _, op := range requirementOperators {
			if idx := strings.Index(line, op); idx >= 0 {
				dep.Name = strings.TrimSpace(line[:idx])
				req := strings.TrimSpace(line[idx:])
				dep.Requirements = &req
				break
			}
		}
		deps = append(deps, dep)
	}
	return deps
}
