// internal/model/models.go
package model

import "time"

// Contributor is one repository contributor with their lifetime contribution
// count and the commit timestamps observed for them in this repository.
type Contributor struct {
	Login         string
	Contributions int
	CommitDates   []time.Time
}

// RepositoryUsers is an immutable snapshot of contributor activity.
type RepositoryUsers struct {
	Contributors []Contributor
}

// Issue is a single repository issue. ClosedAt is nil while the issue is open.
type Issue struct {
	Title     string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// RepositoryIssues carries the repository-wide issue totals plus a bounded
// window of the most recent issues (at most 50).
type RepositoryIssues struct {
	TotalCount  int
	ClosedCount int
	Recent      []Issue
}

// Dependency is a declared dependency inside a manifest. Requirements is nil
// when the dependency carries no version constraint.
type Dependency struct {
	Name         string
	Requirements *string
}

// Manifest is one dependency manifest file found in the repository.
type Manifest struct {
	Filename     string
	Dependencies []Dependency
}

// RepositoryDependencies is a snapshot of the repository's dependency manifests.
type RepositoryDependencies struct {
	ManifestCount int
	Manifests     []Manifest
}

// PullRequest carries the lines added by a pull request and the states of its
// reviews (e.g. "APPROVED", "CHANGES_REQUESTED").
type PullRequest struct {
	Additions    int
	ReviewStates []string
}

// RepositoryPullRequests is a snapshot of pull-request review activity.
type RepositoryPullRequests struct {
	PullRequests []PullRequest
}

// PackageManifest is the metadata extracted from a package's own manifest
// (package.json): the declared name, version and source repository URL.
type PackageManifest struct {
	Name          string
	Version       string
	RepositoryURL string
}

// ScoreSet holds the seven sub-scores and the derived net score. Sub-scores
// are in [0,1], or -1 when the metric could not be computed; the license score
// is in {-1, 0, 1}.
type ScoreSet struct {
	BusFactor            float64
	Correctness          float64
	RampUp               float64
	ResponsiveMaintainer float64
	LicenseScore         float64
	VersionPinning       float64
	PullRequest          float64
	NetScore             float64
}

// PackageRecord is the persisted unit of the registry. The (Name, Version)
// pair is unique. UploadedByURL is fixed at creation and constrains which
// update submissions are legal.
type PackageRecord struct {
	ID            int64
	Name          string
	Version       string
	URL           *string
	Content       string
	UploadedByURL bool
	Scores        ScoreSet
	CostMB        float64
}

// Metadata identifies a stored package.
type Metadata struct {
	Name    string `json:"Name"`
	Version string `json:"Version"`
	ID      int64  `json:"ID"`
}
