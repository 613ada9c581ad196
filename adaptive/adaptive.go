// Package adaptive implements Adaptive Sampling as presented in "On Adaptive
// Sampling" (Flajolet, 1990).
//
// The counter keeps a list of digest prefixes whose first level bits are all
// ones. When the list fills up the level is raised and the prefixes no longer
// matching it are dropped, so the list always samples about 1/2^level of the
// distinct elements.
//
// The split runs right after the insertion that fills the list, not before
// the next insertion as in the paper.
package adaptive

import (
	"bytes"
	"fmt"
	"math"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
	"github.com/clarkduvall/distinct/internal/bitfield"
	"github.com/clarkduvall/distinct/internal/record"
)

// Defaults used when no configuration is given.
const (
	DefaultError     = 0.025
	DefaultNDistinct = 1000000
)

const (
	fieldMaxItems = iota
	fieldItemSize
	fieldNDistinct
	fieldItems
	fieldLevel
	fieldError
	numFields
)

// Counter is an adaptive sampling counter. It keeps the distinct digests
// whose first level bits are all ones, and raises the level when the list
// fills up.
type Counter struct {
	rec      record.Record
	list     []byte
	maxItems int
	itemSize int
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

// dimensions returns the list capacity and the number of digest bytes kept
// per item for the error rate e and ndistinct expected distinct values.
//
// The item must be wide enough for the level to reach ndistinct/maxItems,
// and wide enough that prefixes of ndistinct values rarely collide. Each
// requirement gets one spare byte because every level consumes a bit that
// can no longer tell items apart.
func dimensions(e float64, ndistinct int) (maxItems, itemSize int) {
	maxItems = int(math.Ceil(math.Pow(1.2/e, 2)))

	ratio := max(ndistinct/maxItems, 1)
	sizeA := int(math.Ceil(math.Log2(float64(ratio))/8)) + 1
	sizeB := int(math.Ceil(math.Log(float64(ndistinct))/math.Log(256))) + 1
	return maxItems, min(max(sizeA, sizeB), digest.Size)
}

// Size returns the record length for the given configuration.
func Size(e float64, ndistinct int) (int, error) {
	if err := validate(e, ndistinct); err != nil {
		return 0, err
	}
	maxItems, itemSize := dimensions(e, ndistinct)
	return record.Size(numFields, maxItems*itemSize), nil
}

// New returns an empty counter for the error rate e, sized for ndistinct
// expected distinct values. Exceeding ndistinct degrades accuracy but is not
// an error.
func New(e float64, ndistinct int) (*Counter, error) {
	if err := validate(e, ndistinct); err != nil {
		return nil, err
	}
	maxItems, itemSize := dimensions(e, ndistinct)
	rec := record.New(numFields, maxItems*itemSize)
	rec.SetInt(fieldMaxItems, maxItems)
	rec.SetInt(fieldItemSize, itemSize)
	rec.SetInt(fieldNDistinct, ndistinct)
	rec.SetFloat(fieldError, float32(e))
	return wrap(rec), nil
}

func wrap(rec record.Record) *Counter {
	return &Counter{
		rec:      rec,
		list:     rec.Buffer(numFields),
		maxItems: rec.Int(fieldMaxItems),
		itemSize: rec.Int(fieldItemSize),
	}
}

// MaxItems returns the capacity of the item list.
func (c *Counter) MaxItems() int { return c.maxItems }

// ItemSize returns the number of digest bytes stored per item.
func (c *Counter) ItemSize() int { return c.itemSize }

// Items returns the number of items in the list.
func (c *Counter) Items() int { return c.rec.Int(fieldItems) }

// Level returns the number of leading one bits an item must have.
func (c *Counter) Level() int { return c.rec.Int(fieldLevel) }

// NDistinct returns the expected number of distinct values c was sized for.
func (c *Counter) NDistinct() int { return c.rec.Int(fieldNDistinct) }

// Error returns the configured error rate.
func (c *Counter) Error() float64 { return float64(c.rec.Float(fieldError)) }

func (c *Counter) item(i int) []byte  { return c.list[i*c.itemSize : (i+1)*c.itemSize] }
func (c *Counter) setItems(n int)     { c.rec.SetInt(fieldItems, n) }
func (c *Counter) setLevel(level int) { c.rec.SetInt(fieldLevel, level) }

// matches reports whether the first level bits of h are all ones.
func matches(h []byte, level int) bool {
	return bitfield.LowestUnset(h, 0, level) == level
}

func (c *Counter) contains(h []byte) bool {
	for i := 0; i < c.Items(); i++ {
		if bytes.Equal(c.item(i), h[:c.itemSize]) {
			return true
		}
	}
	return false
}

// Add hashes element and adds it.
func (c *Counter) Add(element []byte) error {
	return c.AddHash(digest.Sum(element))
}

// AddString hashes s and adds it.
func (c *Counter) AddString(s string) error {
	return c.AddHash(digest.SumString(s))
}

// AddHash adds a digest. It fails with distinct.ErrCapacity, leaving c as it
// was, if the list fills up and can't be split any further.
func (c *Counter) AddHash(d digest.Digest) error {
	return c.addItem(d[:])
}

// addItem adds the first itemSize bytes of h.
func (c *Counter) addItem(h []byte) error {
	if !matches(h, c.Level()) || c.contains(h) {
		return nil
	}

	n := c.Items()
	var saved record.Record
	if n+1 == c.maxItems {
		saved = c.rec.Clone()
	}

	copy(c.item(n), h[:c.itemSize])
	c.setItems(n + 1)

	if n+1 == c.maxItems {
		if err := c.split(); err != nil {
			copy(c.rec, saved)
			return err
		}
	}
	return nil
}

// split raises the level until the list is no longer full, dropping the
// items that stop matching. Items are compacted by moving the tail into the
// freed slots, so their order is not preserved.
func (c *Counter) split() error {
	if c.Items() != c.maxItems {
		panic(fmt.Sprintf("adaptive: split of a list that is not full (items = %d, max = %d)",
			c.Items(), c.maxItems))
	}

	for c.Items() == c.maxItems {
		level := c.Level()
		if level == c.itemSize*8 {
			return fmt.Errorf("%w: level %d already uses all %d item bits",
				distinct.ErrCapacity, level, c.itemSize*8)
		}
		level++
		c.setLevel(level)

		n := c.Items()
		for i := 0; i < n; {
			if matches(c.item(i), level) {
				i++
				continue
			}
			n--
			copy(c.item(i), c.item(n))
		}
		c.setItems(n)
	}
	return nil
}

// Estimate returns items * 2^level.
func (c *Counter) Estimate() uint64 {
	est := math.Ldexp(float64(c.Items()), c.Level())
	if est >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(est)
}

// Merged returns a new counter holding the union of a and b. The counter at
// the higher level is copied and the other's items are added to it, so the
// result has the configuration of that counter. The copied counter must not
// keep longer items than the other.
func Merged(a, b *Counter) (*Counter, error) {
	dest, src := a, b
	if dest.Level() < src.Level() || (dest.Level() == src.Level() && dest.itemSize > src.itemSize) {
		dest, src = src, dest
	}
	if dest.itemSize > src.itemSize {
		return nil, fmt.Errorf("%w: item length of the higher level counter %d > %d",
			distinct.ErrIncompatible, dest.itemSize, src.itemSize)
	}

	result := dest.Clone()
	for i := 0; i < src.Items(); i++ {
		if err := result.addItem(src.item(i)); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// MergeInto replaces c with the union of c and other. On failure c is left
// as it was.
func (c *Counter) MergeInto(other *Counter) error {
	merged, err := Merged(c, other)
	if err != nil {
		return err
	}
	*c = *merged
	return nil
}

// Reset empties the list and drops back to level zero.
func (c *Counter) Reset() {
	c.setItems(0)
	c.setLevel(0)
}

// Clone returns a deep copy of c.
func (c *Counter) Clone() *Counter {
	return wrap(c.rec.Clone())
}

// String returns a one-line summary of the configuration and state of c.
func (c *Counter) String() string {
	return fmt.Sprintf("adaptive error=%v ndistinct=%d maxItems=%d itemSize=%d items=%d level=%d length=%d",
		c.Error(), c.NDistinct(), c.maxItems, c.itemSize, c.Items(), c.Level(), len(c.rec))
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
	maxItems, itemSize := rec.Int(fieldMaxItems), rec.Int(fieldItemSize)
	items, level := rec.Int(fieldItems), rec.Int(fieldLevel)
	switch {
	case maxItems < 1:
		return fmt.Errorf("%w: list capacity %d", distinct.ErrCorrupt, maxItems)
	case itemSize < 1 || itemSize > digest.Size:
		return fmt.Errorf("%w: item size %d", distinct.ErrCorrupt, itemSize)
	case items < 0 || items >= maxItems:
		return fmt.Errorf("%w: %d items in a list of %d", distinct.ErrCorrupt, items, maxItems)
	case level < 0 || level > itemSize*8:
		return fmt.Errorf("%w: level %d with %d byte items", distinct.ErrCorrupt, level, itemSize)
	case len(rec) != record.Size(numFields, maxItems*itemSize):
		return fmt.Errorf("%w: length %d does not match %d items of %d bytes",
			distinct.ErrCorrupt, len(rec), maxItems, itemSize)
	}
	*c = *wrap(rec)
	return nil
}
