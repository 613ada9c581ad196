package loglog

import (
	"fmt"
	"math"
	"slices"
)

// SuperLogLog is a LogLog whose estimate applies the truncation and
// restriction rules: only the lowest 70% of bucket ranks are kept, and of
// those only ranks not above ceil(log2(nmax/m) + 3).
//
// The estimate reuses the LogLog alpha constant rather than the revised
// constant the truncated mean calls for.
type SuperLogLog struct {
	sketch
}

// NewSuper returns an empty SuperLogLog for the error rate e.
func NewSuper(e float64) (*SuperLogLog, error) {
	s, err := newSketch(e)
	if err != nil {
		return nil, err
	}
	return &SuperLogLog{s}, nil
}

// Estimate returns alpha * m0 * 2^(mean of surviving ranks), where m0 is 70%
// of the buckets. The live buckets are never reordered.
func (s *SuperLogLog) Estimate() uint64 {
	m := len(s.data)
	m0 := int(0.7 * float64(m))
	ceiling := restriction(m)

	sorted := slices.Clone(s.data)
	slices.Sort(sorted)

	sum, kept := 0, 0
	for _, v := range sorted[:m0] {
		if int(v) <= ceiling {
			sum += int(v)
			kept++
		}
	}
	if kept == 0 {
		return 0
	}
	return uint64(alpha * float64(m0) * math.Exp2(float64(sum)/float64(kept)))
}

// restriction returns the largest rank a bucket may hold and still take part
// in the SuperLogLog mean.
func restriction(m int) int {
	return int(math.Ceil(math.Log2(float64(nmax/m)) + 3))
}

// MergeInto folds other into s, keeping the larger rank of each bucket.
func (s *SuperLogLog) MergeInto(other *SuperLogLog) error {
	return s.mergeInto(&other.sketch)
}

// MergedSuper returns a new SuperLogLog holding the union of a and b.
func MergedSuper(a, b *SuperLogLog) (*SuperLogLog, error) {
	c := a.Clone()
	if err := c.MergeInto(b); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns a deep copy of s.
func (s *SuperLogLog) Clone() *SuperLogLog {
	return &SuperLogLog{s.clone()}
}

// String returns a one-line summary of the configuration of s.
func (s *SuperLogLog) String() string {
	return fmt.Sprintf("superloglog bits=%d m=%d length=%d", s.bits, len(s.data), len(s.rec))
}

// UnmarshalBinary replaces s with the record in data.
func (s *SuperLogLog) UnmarshalBinary(data []byte) error {
	sk, err := parse(data)
	if err != nil {
		return err
	}
	s.sketch = sk
	return nil
}
