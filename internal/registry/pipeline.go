// internal/registry/pipeline.go
package registry

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"package-registry/internal/apperrors"
	"package-registry/internal/archive"
	"package-registry/internal/license"
	"package-registry/internal/metrics"
	"package-registry/internal/model"
	"package-registry/internal/resolver"
	"package-registry/internal/semver"
)

const (
	searchResultLimit = 10
	enumerationLimit  = 10
)

// SignalProvider fetches the four repository views the metrics engine scores.
type SignalProvider interface {
	GetRepositoryUsers(ctx context.Context, owner, name string) (*model.RepositoryUsers, error)
	GetRepositoryIssues(ctx context.Context, owner, name string) (*model.RepositoryIssues, error)
	GetRepositoryDependencies(ctx context.Context, owner, name string) (*model.RepositoryDependencies, error)
	GetRepositoryPullRequests(ctx context.Context, owner, name string) (*model.RepositoryPullRequests, error)
	GetDefaultBranch(ctx context.Context, owner, name string) (string, error)
}

// Classifier performs the license clone-and-scan.
type Classifier interface {
	Classify(ctx context.Context, repoURL, repoName string) license.Outcome
}

// Resolver canonicalizes package or source URLs to repository references.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (resolver.Repository, error)
}

// Fetcher downloads a repository branch archive.
type Fetcher interface {
	DownloadBranchArchive(ctx context.Context, owner, name, branch string) ([]byte, error)
}

// Store is the persistence collaborator.
type Store interface {
	InsertIfAbsent(ctx context.Context, rec model.PackageRecord) (int64, error)
	GetByID(ctx context.Context, id int64) (model.PackageRecord, error)
	VersionsByName(ctx context.Context, name string) ([]string, error)
	List(ctx context.Context) ([]model.PackageRecord, error)
	ListPage(ctx context.Context, name string, limit, offset int) ([]model.Metadata, error)
	Update(ctx context.Context, rec model.PackageRecord) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}

// SubmissionData is the payload of a create or update request: exactly one of
// Content (a base64 zip) or URL must be set.
type SubmissionData struct {
	Content string
	URL     string
}

// Pipeline orchestrates classification, scoring and persistence for package
// submissions. Invocations are independent; the only cross-invocation
// serialization point is the store's unique-key check.
type Pipeline struct {
	store        Store
	provider     SignalProvider
	classifier   Classifier
	resolver     Resolver
	fetcher      Fetcher
	engine       *metrics.Engine
	logger       *slog.Logger
	threshold    float64
	fetchTimeout time.Duration
}

// NewPipeline wires the pipeline. threshold is the minimum acceptable
// sub-score for URL-provenance submissions; zero disables the gate.
// fetchTimeout bounds one scoring fan-out; zero means no bound.
func NewPipeline(store Store, provider SignalProvider, classifier Classifier, res Resolver, fetcher Fetcher, engine *metrics.Engine, logger *slog.Logger, threshold float64, fetchTimeout time.Duration) *Pipeline {
	return &Pipeline{
		store:        store,
		provider:     provider,
		classifier:   classifier,
		resolver:     res,
		fetcher:      fetcher,
		engine:       engine,
		logger:       logger,
		threshold:    threshold,
		fetchTimeout: fetchTimeout,
	}
}

// extraction is the result of turning a submission into scorable material.
type extraction struct {
	manifest model.PackageManifest
	blob     []byte
	repo     resolver.Repository
	byURL    bool
}

// Create ingests a new package: extract its manifest, score its source
// repository, and persist the record. No partial record is persisted on any
// failure path.
func (p *Pipeline) Create(ctx context.Context, data SubmissionData) (model.PackageRecord, error) {
	ext, err := p.extract(ctx, data)
	if err != nil {
		return model.PackageRecord{}, err
	}

	scores, err := p.scoreRepository(ctx, ext.repo)
	if err != nil {
		return model.PackageRecord{}, err
	}

	if ext.byURL {
		if err := p.checkThreshold(scores); err != nil {
			return model.PackageRecord{}, err
		}
	}

	rec := model.PackageRecord{
		Name:          ext.manifest.Name,
		Version:       ext.manifest.Version,
		Content:       archive.EncodeContent(ext.blob),
		UploadedByURL: ext.byURL,
		Scores:        scores,
		CostMB:        archive.CostMB(ext.blob),
	}
	if url := p.recordURL(ext, data); url != "" {
		rec.URL = &url
	}

	id, err := p.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return model.PackageRecord{}, err
	}
	rec.ID = id

	p.logger.Info("Package created", "name", rec.Name, "version", rec.Version, "id", id, "net_score", scores.NetScore)
	return rec, nil
}

// Update re-ingests an existing package under a new version. The submission
// must match the stored provenance kind and target the same logical package,
// and the new version must satisfy the monotonic-patch rule. Scores are
// recomputed from scratch, never patched.
func (p *Pipeline) Update(ctx context.Context, id int64, meta model.Metadata, data SubmissionData) (model.PackageRecord, error) {
	existing, err := p.store.GetByID(ctx, id)
	if err != nil {
		return model.PackageRecord{}, err
	}

	if data.Content != "" && existing.UploadedByURL {
		return model.PackageRecord{}, apperrors.Validation("package was submitted by URL and cannot be updated with content")
	}
	if data.URL != "" && !existing.UploadedByURL {
		return model.PackageRecord{}, apperrors.Validation("package was submitted with content and cannot be updated by URL")
	}

	ext, err := p.extract(ctx, data)
	if err != nil {
		return model.PackageRecord{}, err
	}

	if ext.manifest.Name != existing.Name {
		return model.PackageRecord{}, apperrors.Validation("manifest name %q does not match package %q", ext.manifest.Name, existing.Name)
	}
	if meta.Name != "" && meta.Name != existing.Name {
		return model.PackageRecord{}, apperrors.Validation("metadata name %q does not match package %q", meta.Name, existing.Name)
	}

	candidate := meta.Version
	if candidate == "" {
		return model.PackageRecord{}, apperrors.Validation("missing version in update metadata")
	}
	versions, err := p.store.VersionsByName(ctx, existing.Name)
	if err != nil {
		return model.PackageRecord{}, err
	}
	if !semver.IsValidNextVersion(versions, candidate) {
		return model.PackageRecord{}, apperrors.Validation("version %s is not a valid successor for %s", candidate, existing.Name)
	}

	scores, err := p.scoreRepository(ctx, ext.repo)
	if err != nil {
		return model.PackageRecord{}, err
	}

	updated := existing
	updated.Version = candidate
	updated.Content = archive.EncodeContent(ext.blob)
	updated.Scores = scores
	updated.CostMB = archive.CostMB(ext.blob)
	if url := p.recordURL(ext, data); url != "" {
		updated.URL = &url
	}

	if err := p.store.Update(ctx, updated); err != nil {
		return model.PackageRecord{}, err
	}

	p.logger.Info("Package updated", "name", updated.Name, "version", candidate, "id", id, "net_score", scores.NetScore)
	return updated, nil
}

// Get returns the stored record by id.
func (p *Pipeline) Get(ctx context.Context, id int64) (model.PackageRecord, error) {
	return p.store.GetByID(ctx, id)
}

// Rate returns the persisted score set for a package.
func (p *Pipeline) Rate(ctx context.Context, id int64) (model.ScoreSet, error) {
	rec, err := p.store.GetByID(ctx, id)
	if err != nil {
		return model.ScoreSet{}, err
	}
	return rec.Scores, nil
}

// Cost returns the persisted artifact size in MB.
func (p *Pipeline) Cost(ctx context.Context, id int64) (float64, error) {
	rec, err := p.store.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.CostMB, nil
}

// Delete removes a package by id.
func (p *Pipeline) Delete(ctx context.Context, id int64) error {
	return p.store.Delete(ctx, id)
}

// Reset wipes the registry.
func (p *Pipeline) Reset(ctx context.Context) error {
	return p.store.DeleteAll(ctx)
}

// ListByQuery enumerates stored packages matching the queried name, ten per
// page in id order. A name of "*" matches every package.
func (p *Pipeline) ListByQuery(ctx context.Context, name string, offset int) ([]model.Metadata, error) {
	if name == "" {
		return nil, apperrors.Validation("package query must include a name")
	}
	if offset < 0 {
		return nil, apperrors.Validation("offset must not be negative")
	}
	return p.store.ListPage(ctx, name, enumerationLimit, offset)
}

// SearchByRegex matches packages by name or embedded README content,
// returning at most ten matches.
func (p *Pipeline) SearchByRegex(ctx context.Context, expr string) ([]model.Metadata, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, apperrors.Validation("invalid regular expression: %v", err)
	}

	records, err := p.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var matches []model.Metadata
	for _, rec := range records {
		if !re.MatchString(rec.Name) && !p.readmeMatches(re, rec) {
			continue
		}
		matches = append(matches, model.Metadata{Name: rec.Name, Version: rec.Version, ID: rec.ID})
		if len(matches) >= searchResultLimit {
			break
		}
	}
	return matches, nil
}

func (p *Pipeline) readmeMatches(re *regexp.Regexp, rec model.PackageRecord) bool {
	blob, err := archive.DecodeContent(rec.Content)
	if err != nil {
		return false
	}
	readme, ok := archive.ExtractReadme(blob)
	return ok && re.MatchString(readme)
}

// extract turns a submission into a manifest, archive blob and scorable
// repository reference. Exactly one of Content or URL must be set.
func (p *Pipeline) extract(ctx context.Context, data SubmissionData) (extraction, error) {
	if data.Content == "" && data.URL == "" {
		return extraction{}, apperrors.Validation("either Content or URL must be set")
	}
	if data.Content != "" && data.URL != "" {
		return extraction{}, apperrors.Validation("Content and URL are mutually exclusive")
	}

	var ext extraction
	if data.Content != "" {
		blob, err := archive.DecodeContent(data.Content)
		if err != nil {
			return extraction{}, apperrors.Validation("content is not valid base64: %v", err)
		}
		manifest, err := archive.ExtractManifest(blob)
		if err != nil {
			return extraction{}, apperrors.Validation("content archive: %v", err)
		}
		ext = extraction{manifest: manifest, blob: blob}
	} else {
		repo, err := p.resolver.Resolve(ctx, data.URL)
		if err != nil {
			if errors.Is(err, resolver.ErrUnresolvable) {
				return extraction{}, apperrors.Validation("URL %q does not resolve to a source repository", data.URL)
			}
			return extraction{}, apperrors.Dependency("resolve URL", err)
		}

		branch, err := p.provider.GetDefaultBranch(ctx, repo.Owner, repo.Name)
		if err != nil {
			return extraction{}, apperrors.Dependency("fetch default branch", err)
		}
		blob, err := p.fetcher.DownloadBranchArchive(ctx, repo.Owner, repo.Name, branch)
		if err != nil {
			return extraction{}, apperrors.Dependency("download archive", err)
		}
		manifest, err := archive.ExtractManifest(blob)
		if err != nil {
			return extraction{}, apperrors.Validation("repository archive: %v", err)
		}
		ext = extraction{manifest: manifest, blob: blob, repo: repo, byURL: true}
	}

	if ext.manifest.Name == "" || ext.manifest.Version == "" {
		return extraction{}, apperrors.Validation("manifest is missing name or version")
	}

	// Content submissions declare their repository in the manifest; it must
	// resolve to something scorable.
	if !ext.byURL {
		repo, err := p.resolver.Resolve(ctx, ext.manifest.RepositoryURL)
		if err != nil {
			if errors.Is(err, resolver.ErrUnresolvable) {
				return extraction{}, apperrors.Validation("manifest repository %q does not resolve to a source repository", ext.manifest.RepositoryURL)
			}
			return extraction{}, apperrors.Dependency("resolve manifest repository", err)
		}
		ext.repo = repo
	}

	return ext, nil
}

// scoreRepository runs the concurrent signal fan-out and joins the results
// into a fresh score set. The four signal fetches must all succeed; a failure
// in any aborts the invocation as a dependency error and cancels the rest.
// License classification failures degrade to the not-found outcome instead.
func (p *Pipeline) scoreRepository(ctx context.Context, repo resolver.Repository) (model.ScoreSet, error) {
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	var (
		users   *model.RepositoryUsers
		issues  *model.RepositoryIssues
		deps    *model.RepositoryDependencies
		prs     *model.RepositoryPullRequests
		outcome license.Outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := p.provider.GetRepositoryUsers(gctx, repo.Owner, repo.Name)
		if err != nil {
			return apperrors.Dependency("fetch contributors", err)
		}
		users = u
		return nil
	})
	g.Go(func() error {
		i, err := p.provider.GetRepositoryIssues(gctx, repo.Owner, repo.Name)
		if err != nil {
			return apperrors.Dependency("fetch issues", err)
		}
		issues = i
		return nil
	})
	g.Go(func() error {
		d, err := p.provider.GetRepositoryDependencies(gctx, repo.Owner, repo.Name)
		if err != nil {
			return apperrors.Dependency("fetch dependencies", err)
		}
		deps = d
		return nil
	})
	g.Go(func() error {
		pr, err := p.provider.GetRepositoryPullRequests(gctx, repo.Owner, repo.Name)
		if err != nil {
			return apperrors.Dependency("fetch pull requests", err)
		}
		prs = pr
		return nil
	})
	g.Go(func() error {
		// Classify never fails; clone errors map to NotFound internally.
		outcome = p.classifier.Classify(gctx, repo.URL, repo.Name)
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.ScoreSet{}, err
	}

	// An empty contributor listing is indistinguishable from a truncated or
	// failed fetch; the engine is never scored over it.
	if len(users.Contributors) == 0 {
		return model.ScoreSet{}, apperrors.Dependency("fetch contributors",
			errors.New("contributor listing is empty"))
	}

	busFactor := p.engine.BusFactor(*users)
	correctness := p.engine.Correctness(*issues)
	rampUp := p.engine.RampUp(*users)
	responsive := p.engine.ResponsiveMaintainer(*issues)
	pinning := p.engine.VersionPinning(*deps)
	pullRequest := p.engine.PullRequestReviewFraction(*prs)
	licenseScore := licenseAsScore(outcome)

	for name, s := range map[string]metrics.Score{
		"bus_factor": busFactor,
		"license":    licenseScore,
	} {
		if !s.Available() {
			p.logger.Warn("Metric unavailable, counts as zero in net score", "metric", name, "repo", repo.Name)
		}
	}

	net := p.engine.NetScore(busFactor, correctness, responsive, rampUp, licenseScore, pinning, pullRequest)

	return model.ScoreSet{
		BusFactor:            busFactor.Float(),
		Correctness:          correctness.Float(),
		RampUp:               rampUp.Float(),
		ResponsiveMaintainer: responsive.Float(),
		LicenseScore:         outcome.Score(),
		VersionPinning:       pinning.Float(),
		PullRequest:          pullRequest.Float(),
		NetScore:             net,
	}, nil
}

// licenseAsScore maps the tri-state outcome into the engine's score domain:
// not-found is the unavailable sentinel, which the aggregation zeroes.
func licenseAsScore(o license.Outcome) metrics.Score {
	if o == license.NotFound {
		return metrics.Unavailable()
	}
	return metrics.Value(o.Score())
}

// checkThreshold enforces the acceptance gate for URL-provenance submissions:
// every sub-score and the net score must reach the configured threshold.
func (p *Pipeline) checkThreshold(scores model.ScoreSet) error {
	if p.threshold <= 0 {
		return nil
	}
	checks := []struct {
		name  string
		score float64
	}{
		{"NetScore", scores.NetScore},
		{"BusFactor", scores.BusFactor},
		{"Correctness", scores.Correctness},
		{"RampUp", scores.RampUp},
		{"ResponsiveMaintainer", scores.ResponsiveMaintainer},
		{"License", scores.LicenseScore},
		{"VersionPinning", scores.VersionPinning},
		{"PullRequest", scores.PullRequest},
	}
	for _, c := range checks {
		if c.score < p.threshold {
			return &apperrors.DisqualifiedError{Metric: c.name, Score: c.score}
		}
	}
	return nil
}

// recordURL picks the URL persisted with the record: the submitted URL for
// by-URL provenance, the manifest's declared repository otherwise.
func (p *Pipeline) recordURL(ext extraction, data SubmissionData) string {
	if ext.byURL {
		return data.URL
	}
	return ext.manifest.RepositoryURL
}
