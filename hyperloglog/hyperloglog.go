// Package hyperloglog implements the HyperLogLog cardinality estimation
// algorithm on 128-bit digests.
//
// HyperLogLog is described here:
// http://algo.inria.fr/flajolet/Publications/FlFuGaMe07.pdf
//
// The bucket index is taken from the first four digest bytes and the rank
// from the following eight. The two ranges never overlap; drawing the rank
// from the same 32-bit word as the index measurably hurts accuracy.
package hyperloglog

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

	// MinBits and MaxBits bound the number of bucket index bits.
	MinBits = 4
	MaxBits = 16

	binBits = 8
	two32   = 1 << 32
)

const (
	fieldB = iota
	fieldM
	fieldBinBits
	numFields
)

var alphas = [MaxBits + 1]float64{
	4: 0.673, 0.697, 0.709, 0.7153, 0.7183, 0.7198, 0.7205,
	0.7209, 0.7211, 0.7212, 0.7213, 0.7213, 0.7213,
}

// alpha returns the bias correction constant for b index bits.
func alpha(b uint8) (float64, error) {
	if b < MinBits || b > MaxBits {
		return 0, fmt.Errorf("%w: no alpha for %d index bits", distinct.ErrInvalidConfig, b)
	}
	return alphas[b], nil
}

type HyperLogLog struct {
	rec record.Record
	reg []uint8
	m   uint32
	b   uint8
}

// Bits returns the number of bucket index bits needed for the error rate e.
// Rates needing fewer than MinBits are raised to MinBits; rates needing more
// than MaxBits are rejected.
func Bits(e float64) (uint8, error) {
	if !(e > 0 && e <= 1) {
		return 0, fmt.Errorf("%w: error rate %v must be in (0, 1]", distinct.ErrInvalidConfig, e)
	}
	b := int(math.Ceil(math.Log2(1.04 / (e * e))))
	if b < MinBits {
		b = MinBits
	} else if b > MaxBits {
		return 0, fmt.Errorf("%w: error rate %v needs %d index bits, max is %d",
			distinct.ErrInvalidConfig, e, b, MaxBits)
	}
	return uint8(b), nil
}

// Size returns the record length of a HyperLogLog for the error rate e.
func Size(e float64) (int, error) {
	b, err := Bits(e)
	if err != nil {
		return 0, err
	}
	return record.Size(numFields, 1<<b), nil
}

// New returns a new initialized HyperLogLog for the error rate e.
func New(e float64) (*HyperLogLog, error) {
	b, err := Bits(e)
	if err != nil {
		return nil, err
	}
	return NewBits(b)
}

// NewBits returns a new initialized HyperLogLog with 2^b buckets.
func NewBits(b uint8) (*HyperLogLog, error) {
	if b < MinBits || b > MaxBits {
		return nil, fmt.Errorf("%w: index bits must be between %d and %d",
			distinct.ErrInvalidConfig, MinBits, MaxBits)
	}

	m := uint32(1) << b
	rec := record.New(numFields, int(m))
	rec.SetInt(fieldB, int(b))
	rec.SetInt(fieldM, int(m))
	rec.SetInt(fieldBinBits, binBits)
	return wrap(rec), nil
}

func wrap(rec record.Record) *HyperLogLog {
	return &HyperLogLog{
		rec: rec,
		reg: rec.Buffer(numFields),
		m:   uint32(rec.Int(fieldM)),
		b:   uint8(rec.Int(fieldB)),
	}
}

// Reset sets HyperLogLog h back to its initial state.
func (h *HyperLogLog) Reset() {
	clear(h.reg)
}

// Add hashes element and adds it to HyperLogLog h.
func (h *HyperLogLog) Add(element []byte) {
	h.AddHash(digest.Sum(element))
}

// AddString hashes s and adds it to HyperLogLog h.
func (h *HyperLogLog) AddString(s string) {
	h.AddHash(digest.SumString(s))
}

// AddHash adds a digest to HyperLogLog h.
func (h *HyperLogLog) AddHash(d digest.Digest) {
	i := d.Uint32(0) >> (32 - h.b)
	rho := uint8(bitfield.Rho(d[4:12], 0, 64))
	if rho > h.reg[i] {
		h.reg[i] = rho
	}
}

// MergeInto folds other into HyperLogLog h, keeping the larger rank of each
// bucket. h is left untouched when the two are not compatible.
func (h *HyperLogLog) MergeInto(other *HyperLogLog) error {
	if err := compatible(h, other); err != nil {
		return err
	}

	for i, v := range other.reg {
		if v > h.reg[i] {
			h.reg[i] = v
		}
	}
	return nil
}

// Merged returns a new HyperLogLog holding the union of a and b.
func Merged(a, b *HyperLogLog) (*HyperLogLog, error) {
	if err := compatible(a, b); err != nil {
		return nil, err
	}
	c := a.Clone()
	_ = c.MergeInto(b)
	return c, nil
}

func compatible(a, b *HyperLogLog) error {
	switch {
	case len(a.rec) != len(b.rec):
		return fmt.Errorf("%w: sizes differ (%d != %d)", distinct.ErrIncompatible, len(a.rec), len(b.rec))
	case a.b != b.b:
		return fmt.Errorf("%w: index bits differ (%d != %d)", distinct.ErrIncompatible, a.b, b.b)
	case a.m != b.m:
		return fmt.Errorf("%w: bucket counts differ (%d != %d)", distinct.ErrIncompatible, a.m, b.m)
	case a.BinBits() != b.BinBits():
		return fmt.Errorf("%w: bin widths differ (%d != %d)", distinct.ErrIncompatible, a.BinBits(), b.BinBits())
	}
	return nil
}

// Estimate returns the cardinality estimate.
func (h *HyperLogLog) Estimate() uint64 {
	a, _ := alpha(h.b)
	m := float64(h.m)
	est := a * m * m / harmonicSum(h.reg)
	if est <= m*2.5 {
		if v := countZeros(h.reg); v != 0 {
			est = linearCounting(h.m, v)
		}
	} else if est > two32/30 {
		if est >= two32 {
			return math.MaxUint32
		}
		est = -two32 * math.Log(1-est/two32)
	}
	return uint64(est)
}

func harmonicSum(reg []uint8) float64 {
	sum := 0.0
	for _, v := range reg {
		sum += math.Ldexp(1, -int(v))
	}
	return sum
}

func countZeros(reg []uint8) uint32 {
	var c uint32
	for _, v := range reg {
		if v == 0 {
			c++
		}
	}
	return c
}

func linearCounting(m, v uint32) float64 {
	return float64(m) * math.Log(float64(m)/float64(v))
}

// Clone returns a deep copy of h.
func (h *HyperLogLog) Clone() *HyperLogLog {
	return wrap(h.rec.Clone())
}

// Bits returns the number of bucket index bits.
func (h *HyperLogLog) Bits() uint8 { return h.b }

// Buckets returns the number of buckets.
func (h *HyperLogLog) Buckets() uint32 { return h.m }

// BinBits returns the width of one bucket in bits.
func (h *HyperLogLog) BinBits() int { return h.rec.Int(fieldBinBits) }

// String returns a one-line summary of the configuration of h.
func (h *HyperLogLog) String() string {
	return fmt.Sprintf("hyperloglog b=%d m=%d binbits=%d length=%d", h.b, h.m, h.BinBits(), len(h.rec))
}

// MarshalBinary returns the raw record of h.
func (h *HyperLogLog) MarshalBinary() ([]byte, error) {
	return h.rec.Clone(), nil
}

// UnmarshalBinary replaces h with the record in data.
func (h *HyperLogLog) UnmarshalBinary(data []byte) error {
	rec, err := record.Parse(data, numFields)
	if err != nil {
		return err
	}
	b, m := rec.Int(fieldB), rec.Int(fieldM)
	switch {
	case b < MinBits || b > MaxBits:
		return fmt.Errorf("%w: index bits %d out of range", distinct.ErrCorrupt, b)
	case m != 1<<b:
		return fmt.Errorf("%w: bucket count %d does not match %d index bits", distinct.ErrCorrupt, m, b)
	case rec.Int(fieldBinBits) != binBits:
		return fmt.Errorf("%w: unsupported bin width %d", distinct.ErrCorrupt, rec.Int(fieldBinBits))
	case len(rec) != record.Size(numFields, m):
		return fmt.Errorf("%w: length %d does not match %d buckets", distinct.ErrCorrupt, len(rec), m)
	}
	*h = *wrap(rec)
	return nil
}

// GobEncode encodes HyperLogLog into a gob.
func (h *HyperLogLog) GobEncode() ([]byte, error) {
	return h.MarshalBinary()
}

// GobDecode decodes gob into a HyperLogLog structure.
func (h *HyperLogLog) GobDecode(b []byte) error {
	return h.UnmarshalBinary(b)
}
