// internal/metrics/engine.go
package metrics

import (
	"math"
	"time"

	"package-registry/internal/model"
)

// Weights are the relative contributions of each sub-score to the net score.
type Weights struct {
	BusFactor            float64
	Correctness          float64
	ResponsiveMaintainer float64
	RampUp               float64
	VersionPinning       float64
	PullRequest          float64
}

// Config parameterizes the engine so tests can substitute alternate weightings.
type Config struct {
	Weights Weights
	// RecentWindow bounds the issue window ResponsiveMaintainer looks at.
	RecentWindow time.Duration
}

// DefaultConfig returns the production weighting.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			BusFactor:            0.20,
			Correctness:          0.25,
			ResponsiveMaintainer: 0.25,
			RampUp:               0.10,
			VersionPinning:       0.10,
			PullRequest:          0.10,
		},
		RecentWindow: 30 * 24 * time.Hour,
	}
}

// Engine computes sub-scores from immutable repository snapshots. All methods
// are pure functions of their inputs (plus the clock for the recency window);
// running one twice on the same snapshot yields the same result.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates an Engine with the given configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// BusFactor scores how evenly contribution is spread: the fraction of
// contributors whose lifetime contribution count is at or above the average.
// Concentration among a few very active people yields a low score. Callers
// must not score an empty contributor snapshot; an empty listing is a failed
// fetch, and the pipeline aborts before reaching the engine.
func (e *Engine) BusFactor(users model.RepositoryUsers) Score {
	n := len(users.Contributors)
	if n == 0 {
		return Unavailable()
	}

	var total int
	for _, c := range users.Contributors {
		total += c.Contributions
	}
	avg := float64(total) / float64(n)

	var aboveAvg int
	for _, c := range users.Contributors {
		if float64(c.Contributions) >= avg {
			aboveAvg++
		}
	}

	return Value(round2(float64(aboveAvg) / float64(n)))
}

// Correctness scores the closed fraction of all issues ever filed. A
// repository with no issues is assumed correct.
func (e *Engine) Correctness(issues model.RepositoryIssues) Score {
	if issues.TotalCount == 0 {
		return Value(1)
	}
	return Value(round2(float64(issues.ClosedCount) / float64(issues.TotalCount)))
}

// RampUp scores how quickly new contributors onboard. Each contributor's
// onboarding date is their earliest commit; the score is the inverse of the
// average gap in months between successive onboarding dates, capped at 1.
func (e *Engine) RampUp(users model.RepositoryUsers) Score {
	var firstDates []time.Time
	for _, c := range users.Contributors {
		if len(c.CommitDates) == 0 {
			continue
		}
		earliest := c.CommitDates[0]
		for _, d := range c.CommitDates[1:] {
			if d.Before(earliest) {
				earliest = d
			}
		}
		firstDates = append(firstDates, earliest)
	}

	// Need at least two dated contributors to measure a gap.
	if len(firstDates) < 2 {
		return Value(0)
	}

	const monthMillis = 1000 * 3600 * 24 * 30
	var sumGaps float64
	for i := 1; i < len(firstDates); i++ {
		gap := float64(firstDates[i].UnixMilli()-firstDates[i-1].UnixMilli()) / monthMillis
		sumGaps += math.Abs(gap)
	}
	avgGap := sumGaps / float64(len(firstDates)-1)

	if avgGap <= 0 {
		return Value(1)
	}
	return Value(round2(math.Min(1/avgGap, 1)))
}

// ResponsiveMaintainer scores the resolved fraction of issues created within
// the recent window. No recent issues means responsiveness cannot be claimed.
func (e *Engine) ResponsiveMaintainer(issues model.RepositoryIssues) Score {
	cutoff := e.now().Add(-e.cfg.RecentWindow)

	var total, resolved int
	for _, issue := range issues.Recent {
		if issue.CreatedAt.Before(cutoff) {
			continue
		}
		total++
		if issue.ClosedAt != nil {
			resolved++
		}
	}

	if total == 0 {
		return Value(0)
	}
	return Value(round2(float64(resolved) / float64(total)))
}

// VersionPinning scores the fraction of manifests that pin at least one
// dependency. A manifest counts as pinned if any of its dependencies carries a
// requirements field, not the fraction of pinned dependencies within it.
func (e *Engine) VersionPinning(deps model.RepositoryDependencies) Score {
	if deps.ManifestCount == 0 {
		return Value(1)
	}

	var pinned int
	for _, m := range deps.Manifests {
		for _, d := range m.Dependencies {
			if d.Requirements != nil {
				pinned++
				break
			}
		}
	}

	return Value(round2(float64(pinned) / float64(deps.ManifestCount)))
}

// PullRequestReviewFraction scores the fraction of added lines that landed
// through a pull request with at least one APPROVED review. Weighting by
// lines means large unreviewed changes matter more than small ones.
func (e *Engine) PullRequestReviewFraction(prs model.RepositoryPullRequests) Score {
	var totalLines, reviewedLines int
	for _, pr := range prs.PullRequests {
		totalLines += pr.Additions
		for _, state := range pr.ReviewStates {
			if state == "APPROVED" {
				reviewedLines += pr.Additions
				break
			}
		}
	}

	if totalLines == 0 {
		return Value(1)
	}
	return Value(round2(float64(reviewedLines) / float64(totalLines)))
}

// NetScore combines the sub-scores into the weighted aggregate. Unavailable
// sub-scores count as zero, and the license score acts as a multiplicative
// gate: a missing or incompatible license forces the net score to zero.
func (e *Engine) NetScore(busFactor, correctness, responsiveMaintainer, rampUp, license, versionPinning, pullRequest Score) float64 {
	w := e.cfg.Weights
	net := license.weighted() * (w.BusFactor*busFactor.weighted() +
		w.Correctness*correctness.weighted() +
		w.ResponsiveMaintainer*responsiveMaintainer.weighted() +
		w.RampUp*rampUp.weighted() +
		w.VersionPinning*versionPinning.weighted() +
		w.PullRequest*pullRequest.weighted())
	return round2(net)
}

// round2 rounds to two decimal places, half away from zero.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
