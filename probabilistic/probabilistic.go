// Package probabilistic implements the probabilistic counter from
// "Probabilistic Counting Algorithms for Data Base Applications" (Flajolet
// and Martin, 1985).
//
// The paper hashes every element once per bitmap, each hash as wide as the
// bitmap. Here every element is hashed once per salt, and each 16-byte digest
// is cut into 16/nbytes slices that act as independent hashes, so nsalts salts
// with 4-byte bitmaps give 4*nsalts bitmaps.
package probabilistic

import (
	"fmt"
	"math"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
	"github.com/clarkduvall/distinct/internal/bitfield"
	"github.com/clarkduvall/distinct/internal/record"
)

const (
	// DefaultBytes and DefaultSalts are used when no configuration is given.
	DefaultBytes = 4
	DefaultSalts = 32

	MaxBytes = digest.Size
	// MaxSalts is the number of distinct one-byte salts.
	MaxSalts = 256

	phi = 0.77351
)

const (
	fieldBytes = iota
	fieldSalts
	numFields
)

// Counter is a Flajolet-Martin probabilistic counter.
type Counter struct {
	rec    record.Record
	bitmap []byte
	nbytes int
	nsalts int
}

func validate(nbytes, nsalts int) error {
	if nbytes < 1 || nbytes > MaxBytes {
		return fmt.Errorf("%w: bytes per bitmap %d must be between 1 and %d", distinct.ErrInvalidConfig, nbytes, MaxBytes)
	}
	if nsalts < 1 || nsalts > MaxSalts {
		return fmt.Errorf("%w: number of salts %d must be between 1 and %d", distinct.ErrInvalidConfig, nsalts, MaxSalts)
	}
	return nil
}

// Size returns the record length for the given configuration.
func Size(nbytes, nsalts int) (int, error) {
	if err := validate(nbytes, nsalts); err != nil {
		return 0, err
	}
	return record.Size(numFields, nsalts*digest.Size), nil
}

// New returns an empty counter with bitmaps of nbytes bytes, hashing every
// element with nsalts salts. Use a divisor of 16 for nbytes; the digest bytes
// past the last whole slice are ignored.
func New(nbytes, nsalts int) (*Counter, error) {
	if err := validate(nbytes, nsalts); err != nil {
		return nil, err
	}
	rec := record.New(numFields, nsalts*digest.Size)
	rec.SetInt(fieldBytes, nbytes)
	rec.SetInt(fieldSalts, nsalts)
	return wrap(rec), nil
}

func wrap(rec record.Record) *Counter {
	return &Counter{
		rec:    rec,
		bitmap: rec.Buffer(numFields),
		nbytes: rec.Int(fieldBytes),
		nsalts: rec.Int(fieldSalts),
	}
}

func (c *Counter) slices() int {
	return digest.Size / c.nbytes
}

// Bitmaps returns the effective number of bitmaps.
func (c *Counter) Bitmaps() int {
	return c.nsalts * c.slices()
}

// Add hashes element once per salt and, for every slice of each digest, sets
// the bit at the position of the slice's first set bit.
func (c *Counter) Add(element []byte) {
	width := c.nbytes * 8
	for salt := 0; salt < c.nsalts; salt++ {
		d := digest.Salted(byte(salt), element)
		for slice := 0; slice < c.slices(); slice++ {
			bit := bitfield.LowestSet(d[:], slice*width, width)
			if bit < 0 {
				continue
			}
			bitfield.Set(c.bitmap, (salt*digest.Size+slice*c.nbytes)*8+bit)
		}
	}
}

// AddString adds s.
func (c *Counter) AddString(s string) {
	c.Add([]byte(s))
}

// Estimate returns 2^R / phi, where R is the mean position of the lowest
// unset bit over all bitmaps.
func (c *Counter) Estimate() uint64 {
	width := c.nbytes * 8
	sum := 0
	for salt := 0; salt < c.nsalts; salt++ {
		for slice := 0; slice < c.slices(); slice++ {
			sum += bitfield.LowestUnset(c.bitmap, (salt*digest.Size+slice*c.nbytes)*8, width)
		}
	}
	return uint64(math.Exp2(float64(sum)/float64(c.Bitmaps())) / phi)
}

// MergeInto ORs the bitmaps of other into c.
func (c *Counter) MergeInto(other *Counter) error {
	switch {
	case len(c.rec) != len(other.rec):
		return fmt.Errorf("%w: sizes differ (%d != %d)", distinct.ErrIncompatible, len(c.rec), len(other.rec))
	case c.nbytes != other.nbytes:
		return fmt.Errorf("%w: bitmap widths differ (%d != %d)", distinct.ErrIncompatible, c.nbytes, other.nbytes)
	case c.nsalts != other.nsalts:
		return fmt.Errorf("%w: salt counts differ (%d != %d)", distinct.ErrIncompatible, c.nsalts, other.nsalts)
	}
	for i, b := range other.bitmap {
		c.bitmap[i] |= b
	}
	return nil
}

// Merged returns a new counter holding the union of a and b.
func Merged(a, b *Counter) (*Counter, error) {
	c := a.Clone()
	if err := c.MergeInto(b); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset clears every bitmap.
func (c *Counter) Reset() {
	clear(c.bitmap)
}

// Clone returns a deep copy of c.
func (c *Counter) Clone() *Counter {
	return wrap(c.rec.Clone())
}

// Bytes returns the width in bytes of the digest slice behind each bitmap.
func (c *Counter) Bytes() int { return c.nbytes }

// Salts returns the number of salts each element is hashed with.
func (c *Counter) Salts() int { return c.nsalts }

// String returns a one-line summary of the configuration of c.
func (c *Counter) String() string {
	return fmt.Sprintf("probabilistic nbytes=%d nsalts=%d bitmaps=%d length=%d",
		c.nbytes, c.nsalts, c.Bitmaps(), len(c.rec))
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
	nbytes, nsalts := rec.Int(fieldBytes), rec.Int(fieldSalts)
	if err := validate(nbytes, nsalts); err != nil {
		return fmt.Errorf("%w: %v", distinct.ErrCorrupt, err)
	}
	if len(rec) != record.Size(numFields, nsalts*digest.Size) {
		return fmt.Errorf("%w: length %d does not match %d salts", distinct.ErrCorrupt, len(rec), nsalts)
	}
	*c = *wrap(rec)
	return nil
}
