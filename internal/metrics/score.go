// internal/metrics/score.go
package metrics

// Score is the result of a single metric computation: either a value in [0,1]
// or Unavailable when the metric could not be computed from the data at hand.
// Keeping the two cases distinct lets the pipeline log missing signals; the
// numeric collapse to zero happens only inside NetScore.
type Score struct {
	value float64
	ok    bool
}

// Value wraps a computed score.
func Value(v float64) Score {
	return Score{value: v, ok: true}
}

// Unavailable marks a metric that could not be computed.
func Unavailable() Score {
	return Score{}
}

// Available reports whether the metric was computed.
func (s Score) Available() bool { return s.ok }

// Float returns the computed value, or the -1 sentinel when unavailable.
// The sentinel form is what gets persisted.
func (s Score) Float() float64 {
	if !s.ok {
		return -1
	}
	return s.value
}

// weighted returns the value used during aggregation: unavailable metrics
// count as zero. This is the single place the sentinel collapses to a number.
func (s Score) weighted() float64 {
	if !s.ok {
		return 0
	}
	return s.value
}
