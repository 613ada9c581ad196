// Package distinct is a family of probabilistic distinct-value counters.
// Every counter approximates the number of distinct elements in a stream
// using memory fixed at creation time, trading exactness for an error bound
// chosen by the caller.
//
// The estimators live in their own packages:
//
//	probabilistic  Flajolet-Martin probabilistic counting (FM85)
//	pcsa           probabilistic counting with stochastic averaging
//	loglog         LogLog and SuperLogLog
//	hyperloglog    HyperLogLog
//	adaptive       adaptive sampling
//	bitmap         self-learning bitmap
//
// Each estimator is a single length-prefixed binary record. MarshalBinary
// returns that record byte-for-byte and UnmarshalBinary accepts it back, so
// states can be stored or shipped and merged elsewhere.
//
// None of the estimators are safe for concurrent use. Keep one estimator per
// goroutine and merge them afterwards.
package distinct

import "errors"

// Counter is the behavior shared by every estimator.
type Counter interface {
	// Estimate returns the approximate number of distinct elements added.
	Estimate() uint64

	// Reset returns the counter to its freshly created state.
	Reset()

	// MarshalBinary returns the raw record of the counter.
	MarshalBinary() ([]byte, error)
}

var (
	// ErrInvalidConfig is returned when a counter is created with an error
	// rate, expected cardinality or size parameter outside its valid range.
	ErrInvalidConfig = errors.New("invalid counter configuration")

	// ErrIncompatible is returned when merging counters whose configuration
	// differs.
	ErrIncompatible = errors.New("counters are not mergeable")

	// ErrCapacity is returned when an adaptive counter can't split any
	// further.
	ErrCapacity = errors.New("counter capacity exhausted")

	// ErrCorrupt is returned when a serialized record fails validation.
	ErrCorrupt = errors.New("corrupt counter record")
)
