// internal/metrics/engine_test.go
package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"package-registry/internal/model"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig())
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func TestBusFactor(t *testing.T) {
	e := newTestEngine()

	t.Run("single contributor scores 1", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Login: "solo", Contributions: 42},
		}}
		score := e.BusFactor(users)
		assert.True(t, score.Available())
		assert.Equal(t, 1.0, score.Float())
	})

	t.Run("concentrated contribution scores low", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Login: "whale", Contributions: 1000},
			{Login: "a", Contributions: 1},
			{Login: "b", Contributions: 1},
			{Login: "c", Contributions: 1},
		}}
		// avg ~250.75, only the whale is at or above it.
		assert.Equal(t, 0.25, e.BusFactor(users).Float())
	})

	t.Run("always within unit interval", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Contributions: 3}, {Contributions: 3}, {Contributions: 3},
		}}
		score := e.BusFactor(users).Float()
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	})

}

func TestCorrectness(t *testing.T) {
	e := newTestEngine()

	t.Run("no issues assumes correct", func(t *testing.T) {
		assert.Equal(t, 1.0, e.Correctness(model.RepositoryIssues{}).Float())
	})

	t.Run("half closed scores half", func(t *testing.T) {
		issues := model.RepositoryIssues{TotalCount: 10, ClosedCount: 5}
		assert.Equal(t, 0.5, e.Correctness(issues).Float())
	})

	t.Run("uses totals not the recent window", func(t *testing.T) {
		issues := model.RepositoryIssues{
			TotalCount:  100,
			ClosedCount: 25,
			Recent:      []model.Issue{{CreatedAt: time.Now()}},
		}
		assert.Equal(t, 0.25, e.Correctness(issues).Float())
	})
}

func TestRampUp(t *testing.T) {
	e := newTestEngine()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fewer than two dated contributors scores 0", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Login: "a", CommitDates: []time.Time{base}},
			{Login: "b"}, // no dated commits
		}}
		assert.Equal(t, 0.0, e.RampUp(users).Float())
	})

	t.Run("zero average gap scores 1", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Login: "a", CommitDates: []time.Time{base}},
			{Login: "b", CommitDates: []time.Time{base}},
		}}
		assert.Equal(t, 1.0, e.RampUp(users).Float())
	})

	t.Run("uses each contributor's earliest commit", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Login: "a", CommitDates: []time.Time{base.AddDate(0, 6, 0), base}},
			{Login: "b", CommitDates: []time.Time{base}},
		}}
		// Both onboarded at base, so the gap is zero.
		assert.Equal(t, 1.0, e.RampUp(users).Float())
	})

	t.Run("monotonically non-increasing with larger gaps", func(t *testing.T) {
		gapScore := func(days int) float64 {
			users := model.RepositoryUsers{Contributors: []model.Contributor{
				{Login: "a", CommitDates: []time.Time{base}},
				{Login: "b", CommitDates: []time.Time{base.AddDate(0, 0, days)}},
			}}
			return e.RampUp(users).Float()
		}
		assert.GreaterOrEqual(t, gapScore(45), gapScore(90))
		assert.GreaterOrEqual(t, gapScore(90), gapScore(180))
	})

	t.Run("gap within one month caps at 1", func(t *testing.T) {
		users := model.RepositoryUsers{Contributors: []model.Contributor{
			{Login: "a", CommitDates: []time.Time{base}},
			{Login: "b", CommitDates: []time.Time{base.AddDate(0, 0, 15)}},
		}}
		assert.Equal(t, 1.0, e.RampUp(users).Float())
	})
}

func TestResponsiveMaintainer(t *testing.T) {
	e := newTestEngine()
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	t.Run("no recent issues scores 0", func(t *testing.T) {
		issues := model.RepositoryIssues{Recent: []model.Issue{
			{CreatedAt: now.AddDate(0, -6, 0), ClosedAt: timePtr(now.AddDate(0, -5, 0))},
		}}
		assert.Equal(t, 0.0, e.ResponsiveMaintainer(issues).Float())
	})

	t.Run("resolved fraction of the recent window", func(t *testing.T) {
		issues := model.RepositoryIssues{Recent: []model.Issue{
			{CreatedAt: now.AddDate(0, 0, -5), ClosedAt: timePtr(now.AddDate(0, 0, -1))},
			{CreatedAt: now.AddDate(0, 0, -10)},
			{CreatedAt: now.AddDate(0, 0, -20), ClosedAt: timePtr(now.AddDate(0, 0, -15))},
			{CreatedAt: now.AddDate(0, -3, 0)}, // outside the window, ignored
		}}
		assert.InDelta(t, 0.67, e.ResponsiveMaintainer(issues).Float(), 0.001)
	})
}

func TestVersionPinning(t *testing.T) {
	e := newTestEngine()

	t.Run("no manifests is vacuously pinned", func(t *testing.T) {
		assert.Equal(t, 1.0, e.VersionPinning(model.RepositoryDependencies{}).Float())
	})

	t.Run("any pinned dependency counts the whole manifest", func(t *testing.T) {
		deps := model.RepositoryDependencies{
			ManifestCount: 1,
			Manifests: []model.Manifest{{
				Filename: "package.json",
				Dependencies: []model.Dependency{
					{Name: "left-pad", Requirements: strPtr("^1.3.0")},
					{Name: "is-odd"},
				},
			}},
		}
		assert.Equal(t, 1.0, e.VersionPinning(deps).Float())
	})

	t.Run("fraction of manifests with a pinned dependency", func(t *testing.T) {
		deps := model.RepositoryDependencies{
			ManifestCount: 2,
			Manifests: []model.Manifest{
				{Dependencies: []model.Dependency{{Name: "a", Requirements: strPtr("1.0.0")}}},
				{Dependencies: []model.Dependency{{Name: "b"}}},
			},
		}
		assert.Equal(t, 0.5, e.VersionPinning(deps).Float())
	})
}

func TestPullRequestReviewFraction(t *testing.T) {
	e := newTestEngine()

	t.Run("no added lines scores 1", func(t *testing.T) {
		assert.Equal(t, 1.0, e.PullRequestReviewFraction(model.RepositoryPullRequests{}).Float())
	})

	t.Run("weights by lines added", func(t *testing.T) {
		prs := model.RepositoryPullRequests{PullRequests: []model.PullRequest{
			{Additions: 100, ReviewStates: []string{"COMMENTED", "APPROVED"}},
			{Additions: 50, ReviewStates: []string{"CHANGES_REQUESTED"}},
		}}
		assert.InDelta(t, 100.0/150.0, e.PullRequestReviewFraction(prs).Float(), 0.01)
	})
}

func TestNetScore(t *testing.T) {
	e := newTestEngine()
	half := Value(0.5)

	t.Run("license gate zeroes the result", func(t *testing.T) {
		net := e.NetScore(half, half, half, half, Value(0), half, half)
		assert.Equal(t, 0.0, net)
	})

	t.Run("compatible license with uniform sub-scores", func(t *testing.T) {
		net := e.NetScore(half, half, half, half, Value(1), half, half)
		assert.Equal(t, 0.5, net)
	})

	t.Run("unavailable sub-scores count as zero", func(t *testing.T) {
		net := e.NetScore(Unavailable(), half, half, Unavailable(), Value(1), half, half)
		// 0.25*0.5 + 0.25*0.5 + 0.10*0.5 + 0.10*0.5 = 0.35
		assert.Equal(t, 0.35, net)
	})

	t.Run("missing license is treated as gate zero", func(t *testing.T) {
		net := e.NetScore(half, half, half, half, Unavailable(), half, half)
		assert.Equal(t, 0.0, net)
	})
}

func TestDeterminism(t *testing.T) {
	e := newTestEngine()
	users := model.RepositoryUsers{Contributors: []model.Contributor{
		{Login: "a", Contributions: 7, CommitDates: []time.Time{time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)}},
		{Login: "b", Contributions: 3, CommitDates: []time.Time{time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)}},
	}}

	first := e.BusFactor(users)
	second := e.BusFactor(users)
	assert.Equal(t, first, second)

	assert.Equal(t, e.RampUp(users), e.RampUp(users))
}
