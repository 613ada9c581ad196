// Package pcsa implements Probabilistic Counting with Stochastic Averaging
// from "Probabilistic Counting Algorithms for Data Base Applications"
// (Flajolet and Martin, 1985).
//
// The first keysize digest bytes select one of nmaps bitmaps, taken modulo
// nmaps. When nmaps is not a power of two the modulo favors the low buckets
// slightly; that is accepted rather than corrected. The remaining digest bytes
// feed the bitmap itself.
package pcsa

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
	"github.com/clarkduvall/distinct/internal/bitfield"
	"github.com/clarkduvall/distinct/internal/record"
)

const (
	// DefaultMaps and DefaultKeySize are used when no configuration is given.
	DefaultMaps    = 64
	DefaultKeySize = 4

	// MaxMaps bounds the bitmap count and MaxKeySize the digest bytes that
	// select a bitmap.
	MaxMaps    = 2048
	MaxKeySize = 4

	phi = 0.77351
)

const (
	fieldMaps = iota
	fieldKeySize
	numFields
)

// PCSA is a probabilistic counter with stochastic averaging over nmaps
// bitmaps, each selected by the digest.
type PCSA struct {
	rec     record.Record
	bitmap  []byte
	nmaps   int
	keysize int
}

func validate(nmaps, keysize int) error {
	if keysize < 1 || keysize > MaxKeySize {
		return fmt.Errorf("%w: key size %d must be between 1 and %d", distinct.ErrInvalidConfig, keysize, MaxKeySize)
	}
	if nmaps < 1 || nmaps > MaxMaps {
		return fmt.Errorf("%w: number of bitmaps %d must be between 1 and %d", distinct.ErrInvalidConfig, nmaps, MaxMaps)
	}
	return nil
}

// Size returns the record length for nmaps bitmaps and keysize key bytes.
func Size(nmaps, keysize int) (int, error) {
	if err := validate(nmaps, keysize); err != nil {
		return 0, err
	}
	return record.Size(numFields, nmaps*(digest.Size-keysize)), nil
}

// New returns an empty PCSA counter with nmaps bitmaps, selected by the first
// keysize bytes of each digest.
func New(nmaps, keysize int) (*PCSA, error) {
	if err := validate(nmaps, keysize); err != nil {
		return nil, err
	}
	rec := record.New(numFields, nmaps*(digest.Size-keysize))
	rec.SetInt(fieldMaps, nmaps)
	rec.SetInt(fieldKeySize, keysize)
	return wrap(rec), nil
}

func wrap(rec record.Record) *PCSA {
	return &PCSA{
		rec:     rec,
		bitmap:  rec.Buffer(numFields),
		nmaps:   rec.Int(fieldMaps),
		keysize: rec.Int(fieldKeySize),
	}
}

// width is the byte length of one bitmap.
func (p *PCSA) width() int {
	return digest.Size - p.keysize
}

func (p *PCSA) bucket(d digest.Digest) int {
	var key [4]byte
	copy(key[:], d[:p.keysize])
	return int(binary.LittleEndian.Uint32(key[:]) % uint32(p.nmaps))
}

// Add hashes element and adds it.
func (p *PCSA) Add(element []byte) {
	p.AddHash(digest.Sum(element))
}

// AddString hashes s and adds it.
func (p *PCSA) AddString(s string) {
	p.AddHash(digest.SumString(s))
}

// AddHash sets, in the bitmap selected by the key bytes of d, the bit at the
// position of the first set bit of the remaining bytes.
func (p *PCSA) AddHash(d digest.Digest) {
	w := p.width()
	bit := bitfield.LowestSet(d[p.keysize:], 0, w*8)
	if bit < 0 {
		return
	}
	off := p.bucket(d) * w
	bitfield.Set(p.bitmap[off:off+w], bit)
}

// Estimate returns (nmaps / phi) * 2^(mean position of the lowest unset bit).
func (p *PCSA) Estimate() uint64 {
	w := p.width()
	sum := 0
	for i := 0; i < p.nmaps; i++ {
		sum += bitfield.LowestUnset(p.bitmap[i*w:(i+1)*w], 0, w*8)
	}
	n := float64(p.nmaps)
	return uint64(n / phi * math.Exp2(float64(sum)/n))
}

// MergeInto ORs the bitmaps of other into p.
func (p *PCSA) MergeInto(other *PCSA) error {
	switch {
	case len(p.rec) != len(other.rec):
		return fmt.Errorf("%w: sizes differ (%d != %d)", distinct.ErrIncompatible, len(p.rec), len(other.rec))
	case p.nmaps != other.nmaps:
		return fmt.Errorf("%w: bitmap counts differ (%d != %d)", distinct.ErrIncompatible, p.nmaps, other.nmaps)
	case p.keysize != other.keysize:
		return fmt.Errorf("%w: key sizes differ (%d != %d)", distinct.ErrIncompatible, p.keysize, other.keysize)
	}
	for i, b := range other.bitmap {
		p.bitmap[i] |= b
	}
	return nil
}

// Merged returns a new counter holding the union of a and b.
func Merged(a, b *PCSA) (*PCSA, error) {
	c := a.Clone()
	if err := c.MergeInto(b); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset clears every bitmap.
func (p *PCSA) Reset() {
	clear(p.bitmap)
}

// Clone returns a deep copy of p.
func (p *PCSA) Clone() *PCSA {
	return wrap(p.rec.Clone())
}

// Maps returns the number of bitmaps.
func (p *PCSA) Maps() int { return p.nmaps }

// KeySize returns the number of leading digest bytes that select a bitmap.
func (p *PCSA) KeySize() int { return p.keysize }

// String returns a one-line summary of the configuration of p.
func (p *PCSA) String() string {
	return fmt.Sprintf("pcsa nmaps=%d keysize=%d length=%d", p.nmaps, p.keysize, len(p.rec))
}

// MarshalBinary returns the raw record of p.
func (p *PCSA) MarshalBinary() ([]byte, error) {
	return p.rec.Clone(), nil
}

// UnmarshalBinary replaces p with the record in data.
func (p *PCSA) UnmarshalBinary(data []byte) error {
	rec, err := record.Parse(data, numFields)
	if err != nil {
		return err
	}
	nmaps, keysize := rec.Int(fieldMaps), rec.Int(fieldKeySize)
	if err := validate(nmaps, keysize); err != nil {
		return fmt.Errorf("%w: %v", distinct.ErrCorrupt, err)
	}
	if len(rec) != record.Size(numFields, nmaps*(digest.Size-keysize)) {
		return fmt.Errorf("%w: length %d does not match %d bitmaps", distinct.ErrCorrupt, len(rec), nmaps)
	}
	*p = *wrap(rec)
	return nil
}
