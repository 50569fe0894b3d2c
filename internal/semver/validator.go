// internal/semver/validator.go
package semver

import (
	"github.com/Masterminds/semver/v3"
)

// IsValidNextVersion reports whether candidate may be published given the
// versions already stored for the package. The rules:
//
//   - candidate must be plain major.minor.patch semver (no prerelease/build);
//   - candidate must not already be present;
//   - within the same (major, minor) line, candidate's patch must exceed
//     every previously published patch.
//
// A first release in a new major or minor line is always allowed, including
// patch 0. Ordering across different lines is deliberately unconstrained.
func IsValidNextVersion(existing []string, candidate string) bool {
	cand, err := semver.StrictNewVersion(candidate)
	if err != nil || cand.Prerelease() != "" || cand.Metadata() != "" {
		return false
	}

	maxPatch := int64(-1)
	for _, raw := range existing {
		v, err := semver.NewVersion(raw)
		if err != nil {
			// Unparsable stored versions cannot constrain the candidate.
			continue
		}
		if v.Equal(cand) {
			return false
		}
		if v.Major() == cand.Major() && v.Minor() == cand.Minor() && int64(v.Patch()) > maxPatch {
			maxPatch = int64(v.Patch())
		}
	}

	return int64(cand.Patch()) > maxPatch
}
