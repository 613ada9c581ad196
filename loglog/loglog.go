// Package loglog implements the LogLog and SuperLogLog cardinality
// estimators from "LogLog counting of large cardinalities" (Durand and
// Flajolet, 2003).
//
// Both keep, for each of m = 2^bits buckets, the largest rank seen among the
// digests routed to it. LogLog takes the geometric mean of all buckets;
// SuperLogLog first drops the largest 30% of buckets and any bucket above a
// fixed ceiling.
package loglog

import (
	"fmt"
	"math"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
	"github.com/clarkduvall/distinct/internal/bitfield"
	"github.com/clarkduvall/distinct/internal/record"
)

const (
	// DefaultError is the error rate used when none is configured.
	DefaultError = 0.025

	// MinBits and MaxBits bound the number of bucket index bits. Error rates
	// asking for more or fewer are clamped.
	MinBits = 4
	MaxBits = 16

	alpha = 0.39701

	// nmax is the largest cardinality the SuperLogLog restriction rule is
	// tuned for.
	nmax = 1000000000
)

const (
	fieldBits = iota
	fieldM
	numFields
)

// Bits returns the number of bucket index bits for the error rate e.
func Bits(e float64) (uint8, error) {
	if !(e > 0 && e <= 1) {
		return 0, fmt.Errorf("%w: error rate %v must be in (0, 1]", distinct.ErrInvalidConfig, e)
	}
	b := int(math.Ceil(math.Log2(1.3 / (e * e))))
	return uint8(min(max(b, MinBits), MaxBits)), nil
}

// Size returns the record length of a LogLog or SuperLogLog for the error
// rate e.
func Size(e float64) (int, error) {
	b, err := Bits(e)
	if err != nil {
		return 0, err
	}
	return record.Size(numFields, 1<<b), nil
}

// sketch holds the state shared by LogLog and SuperLogLog.
type sketch struct {
	rec  record.Record
	data []uint8
	bits uint8
}

func newSketch(e float64) (sketch, error) {
	b, err := Bits(e)
	if err != nil {
		return sketch{}, err
	}
	m := 1 << b
	rec := record.New(numFields, m)
	rec.SetInt(fieldBits, int(b))
	rec.SetInt(fieldM, m)
	return wrap(rec), nil
}

func wrap(rec record.Record) sketch {
	return sketch{
		rec:  rec,
		data: rec.Buffer(numFields),
		bits: uint8(rec.Int(fieldBits)),
	}
}

func parse(data []byte) (sketch, error) {
	rec, err := record.Parse(data, numFields)
	if err != nil {
		return sketch{}, err
	}
	b, m := rec.Int(fieldBits), rec.Int(fieldM)
	switch {
	case b < MinBits || b > MaxBits:
		return sketch{}, fmt.Errorf("%w: index bits %d out of range", distinct.ErrCorrupt, b)
	case m != 1<<b:
		return sketch{}, fmt.Errorf("%w: bucket count %d does not match %d index bits", distinct.ErrCorrupt, m, b)
	case len(rec) != record.Size(numFields, m):
		return sketch{}, fmt.Errorf("%w: length %d does not match %d buckets", distinct.ErrCorrupt, len(rec), m)
	}
	return wrap(rec), nil
}

// Add hashes element and adds it.
func (s *sketch) Add(element []byte) {
	s.AddHash(digest.Sum(element))
}

// AddString hashes str and adds it.
func (s *sketch) AddString(str string) {
	s.AddHash(digest.SumString(str))
}

// AddHash routes d to the bucket named by the top bits of its first four
// bytes and records the rank of bytes 4..11.
func (s *sketch) AddHash(d digest.Digest) {
	idx := d.Uint32(0) >> (32 - s.bits)
	rho := uint8(bitfield.Rho(d[4:12], 0, 64))
	if rho > s.data[idx] {
		s.data[idx] = rho
	}
}

// Reset clears every bucket.
func (s *sketch) Reset() {
	clear(s.data)
}

// Bits returns the number of bucket index bits.
func (s *sketch) Bits() uint8 { return s.bits }

// Buckets returns the number of buckets.
func (s *sketch) Buckets() int { return len(s.data) }

// MarshalBinary returns the raw record.
func (s *sketch) MarshalBinary() ([]byte, error) {
	return s.rec.Clone(), nil
}

func (s *sketch) mergeInto(other *sketch) error {
	switch {
	case len(s.rec) != len(other.rec):
		return fmt.Errorf("%w: sizes differ (%d != %d)", distinct.ErrIncompatible, len(s.rec), len(other.rec))
	case s.bits != other.bits:
		return fmt.Errorf("%w: index bits differ (%d != %d)", distinct.ErrIncompatible, s.bits, other.bits)
	case len(s.data) != len(other.data):
		return fmt.Errorf("%w: bucket counts differ (%d != %d)", distinct.ErrIncompatible, len(s.data), len(other.data))
	}
	for i, v := range other.data {
		if v > s.data[i] {
			s.data[i] = v
		}
	}
	return nil
}

func (s *sketch) clone() sketch {
	return wrap(s.rec.Clone())
}

// LogLog estimates cardinality from the mean bucket rank.
type LogLog struct {
	sketch
}

// New returns an empty LogLog for the error rate e.
func New(e float64) (*LogLog, error) {
	s, err := newSketch(e)
	if err != nil {
		return nil, err
	}
	return &LogLog{s}, nil
}

// Estimate returns alpha * m * 2^(mean rank), saturating at MaxUint64.
func (l *LogLog) Estimate() uint64 {
	sum := 0
	for _, v := range l.data {
		sum += int(v)
	}
	m := float64(len(l.data))
	est := alpha * m * math.Exp2(float64(sum)/m)
	if est >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(est)
}

// MergeInto folds other into l, keeping the larger rank of each bucket.
func (l *LogLog) MergeInto(other *LogLog) error {
	return l.mergeInto(&other.sketch)
}

// Merged returns a new LogLog holding the union of a and b.
func Merged(a, b *LogLog) (*LogLog, error) {
	c := a.Clone()
	if err := c.MergeInto(b); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone returns a deep copy of l.
func (l *LogLog) Clone() *LogLog {
	return &LogLog{l.clone()}
}

// String returns a one-line summary of the configuration of l.
func (l *LogLog) String() string {
	return fmt.Sprintf("loglog bits=%d m=%d length=%d", l.bits, len(l.data), len(l.rec))
}

// UnmarshalBinary replaces l with the record in data.
func (l *LogLog) UnmarshalBinary(data []byte) error {
	s, err := parse(data)
	if err != nil {
		return err
	}
	l.sketch = s
	return nil
}
