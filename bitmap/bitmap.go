// Package bitmap implements the self-learning bitmap from "Distinct Counting
// with a Self-Learning Bitmap" (Chen and Cao, 2009).
//
// The first cbits bits of a digest select a bit of the bitmap. An unset bit is
// set only with a probability that falls as more bits are set, which is drawn
// from the next dbits bits of the digest. The state depends on the order of
// insertion, so counters can't be merged.
package bitmap

import (
	"fmt"
	"math"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
	"github.com/clarkduvall/distinct/internal/bitfield"
	"github.com/clarkduvall/distinct/internal/record"
)

const (
	// DefaultError and DefaultNDistinct are used when no configuration is given.
	DefaultError     = 0.025
	DefaultNDistinct = 1000000

	// MaxBits keeps nbits within a 4-byte header field.
	MaxBits = 30
)

const (
	fieldCBits = iota
	fieldDBits
	fieldNBits
	fieldLevel
	fieldError
	fieldNDistinct
	fieldR
	numFields
)

// Counter is a self-learning bitmap counter.
type Counter struct {
	rec    record.Record
	bitmap []byte
	cbits  int
	dbits  int
	nbits  int
}

func validate(e float64, ndistinct int) error {
	if ndistinct < 1 {
		return fmt.Errorf("%w: ndistinct %d must be at least 1", distinct.ErrInvalidConfig, ndistinct)
	}
	if !(e > 0 && e <= 1) {
		return fmt.Errorf("%w: error rate %v must be in (0, 1]", distinct.ErrInvalidConfig, e)
	}
	return nil
}

// Bits returns the index width for the error rate e and ndistinct expected
// distinct values.
func Bits(e float64, ndistinct int) (int, error) {
	if err := validate(e, ndistinct); err != nil {
		return 0, err
	}
	if ratio(e) == 0 {
		return 0, fmt.Errorf("%w: error rate %v leaves no chance of setting a second bit",
			distinct.ErrInvalidConfig, e)
	}
	e2 := e * e
	m := math.Log1p(2*float64(ndistinct)*e2) / math.Log1p(2*e2/(1-e2))
	bits := 1
	if m > 2 {
		bits = int(math.Ceil(math.Log2(m)))
	}
	if bits > MaxBits || 2*bits > digest.Size*8 {
		return 0, fmt.Errorf("%w: %d index bits needed for error %v and ndistinct %d, at most %d supported",
			distinct.ErrInvalidConfig, bits, e, ndistinct, MaxBits)
	}
	return bits, nil
}

// ratio returns r = 1 - 2e^2/(1+e^2), the factor by which each set bit
// lowers the chance of setting the next one. It is zero at e = 1.
func ratio(e float64) float32 {
	return float32(1 - 2*e*e/(1+e*e))
}

func bufferSize(nbits int) int {
	return (nbits + 7) / 8
}

// Size returns the record length for the given configuration.
func Size(e float64, ndistinct int) (int, error) {
	bits, err := Bits(e, ndistinct)
	if err != nil {
		return 0, err
	}
	return record.Size(numFields, bufferSize(1<<bits)), nil
}

// New returns an empty counter for the error rate e, sized for ndistinct
// expected distinct values.
func New(e float64, ndistinct int) (*Counter, error) {
	bits, err := Bits(e, ndistinct)
	if err != nil {
		return nil, err
	}
	nbits := 1 << bits
	rec := record.New(numFields, bufferSize(nbits))
	rec.SetInt(fieldCBits, bits)
	rec.SetInt(fieldDBits, bits)
	rec.SetInt(fieldNBits, nbits)
	rec.SetFloat(fieldError, float32(e))
	rec.SetInt(fieldNDistinct, ndistinct)
	rec.SetFloat(fieldR, ratio(e))
	return wrap(rec), nil
}

func wrap(rec record.Record) *Counter {
	return &Counter{
		rec:    rec,
		bitmap: rec.Buffer(numFields),
		cbits:  rec.Int(fieldCBits),
		dbits:  rec.Int(fieldDBits),
		nbits:  rec.Int(fieldNBits),
	}
}

// CBits returns the number of digest bits selecting a bitmap bit.
func (c *Counter) CBits() int { return c.cbits }

// DBits returns the number of digest bits drawn for the acceptance test.
func (c *Counter) DBits() int { return c.dbits }

// NBits returns the bitmap length in bits.
func (c *Counter) NBits() int { return c.nbits }

// Level returns the number of bits set so far.
func (c *Counter) Level() int { return c.rec.Int(fieldLevel) }

// NDistinct returns the expected number of distinct values c was sized for.
func (c *Counter) NDistinct() int { return c.rec.Int(fieldNDistinct) }

// Error returns the configured error rate.
func (c *Counter) Error() float64 { return float64(c.rec.Float(fieldError)) }

func (c *Counter) r() float64 { return float64(c.rec.Float(fieldR)) }

// p returns the probability of setting a new bit when k bits are set.
func (c *Counter) p(k int) float64 {
	e := c.Error()
	n := float64(c.nbits)
	return n * (1 + e*e) * math.Pow(c.r(), float64(k)) / (n + 1 - float64(k))
}

// q returns the probability that the next distinct value sets a bit when
// l-1 bits are set.
func (c *Counter) q(l int) float64 {
	return float64(c.nbits-l+1) * c.p(l) / float64(c.nbits)
}

// t returns the expected number of distinct values needed to set l bits.
func (c *Counter) t(l int) float64 {
	var sum float64
	for i := 1; i <= l; i++ {
		sum += 1 / c.q(i)
	}
	return sum
}

// Add hashes element and adds it.
func (c *Counter) Add(element []byte) {
	c.AddHash(digest.Sum(element))
}

// AddString hashes s and adds it.
func (c *Counter) AddString(s string) {
	c.AddHash(digest.SumString(s))
}

// AddHash adds a digest.
func (c *Counter) AddHash(d digest.Digest) {
	index := int(bitfield.Extract(d[:], 0, c.cbits))
	if bitfield.Test(c.bitmap, index) {
		return
	}
	level := c.Level()
	u := float64(bitfield.Extract(d[:], c.cbits, c.dbits)) / math.Exp2(float64(c.dbits))
	if u < c.p(level) {
		bitfield.Set(c.bitmap, index)
		c.rec.SetInt(fieldLevel, level+1)
	}
}

// Estimate blends the expected number of distinct values for the current
// level and the next one. A full bitmap, or a level whose successor is
// close, reports the current level's expectation alone.
func (c *Counter) Estimate() uint64 {
	level := c.Level()
	t1 := c.t(level)
	if c.nbits > level {
		t2 := t1 + 1/c.q(level+1)
		if math.IsInf(t2, 1) {
			return saturate(2 * t1)
		}
		if t2-t1 > 1.5 {
			return saturate(math.Round(2 * t1 * t2 / (t1 + t2)))
		}
	}
	return saturate(t1)
}

// saturate converts v to a count, clamping values past MaxUint64.
func saturate(v float64) uint64 {
	if !(v < math.MaxUint64) {
		return math.MaxUint64
	}
	return uint64(v)
}

// Reset clears the bitmap and the level.
func (c *Counter) Reset() {
	clear(c.bitmap)
	c.rec.SetInt(fieldLevel, 0)
}

// Clone returns a deep copy of c.
func (c *Counter) Clone() *Counter {
	return wrap(c.rec.Clone())
}

// String returns a one-line summary of the configuration and state of c.
func (c *Counter) String() string {
	return fmt.Sprintf("bitmap error=%v ndistinct=%d cbits=%d dbits=%d nbits=%d level=%d length=%d",
		c.Error(), c.NDistinct(), c.cbits, c.dbits, c.nbits, c.Level(), len(c.rec))
}

// MarshalBinary returns the raw record of c.
func (c *Counter) MarshalBinary() ([]byte, error) {
	return c.rec.Clone(), nil
}

// UnmarshalBinary replaces c with the record in data.
func (c *Counter) UnmarshalBinary(data []byte) error {
	rec, err := record.Parse(data, numFields)
	if err != nil {
		return err
	}
	cbits, dbits, nbits := rec.Int(fieldCBits), rec.Int(fieldDBits), rec.Int(fieldNBits)
	level := rec.Int(fieldLevel)
	switch {
	case cbits < 1 || cbits > MaxBits || nbits != 1<<cbits:
		return fmt.Errorf("%w: %d index bits for %d bitmap bits", distinct.ErrCorrupt, cbits, nbits)
	case dbits < 0 || dbits > 32 || cbits+dbits > digest.Size*8:
		return fmt.Errorf("%w: %d draw bits", distinct.ErrCorrupt, dbits)
	case !(rec.Float(fieldR) > 0):
		return fmt.Errorf("%w: ratio %v must be positive", distinct.ErrCorrupt, rec.Float(fieldR))
	case level < 0 || level > nbits:
		return fmt.Errorf("%w: level %d of %d bits", distinct.ErrCorrupt, level, nbits)
	case len(rec) != record.Size(numFields, bufferSize(nbits)):
		return fmt.Errorf("%w: length %d does not match %d bits", distinct.ErrCorrupt, len(rec), nbits)
	}
	*c = *wrap(rec)
	return nil
}
