// Package record implements the storage shared by all estimators: a single
// allocation holding a little-endian int32 total length, a fixed number of
// 4-byte header fields and a trailing buffer.
//
//	[length int32][field 0]...[field n-1][buffer ...]
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/clarkduvall/distinct"
)

const wordSize = 4

// Record is a length-prefixed estimator record.
type Record []byte

// Size returns the byte length of a record with the given number of header
// fields and buffer bytes.
func Size(fields, buffer int) int {
	return wordSize + fields*wordSize + buffer
}

// New allocates a zeroed record and stores its length prefix.
func New(fields, buffer int) Record {
	n := Size(fields, buffer)
	r := make(Record, n)
	binary.LittleEndian.PutUint32(r, uint32(n))
	return r
}

// Parse copies b into a new record after checking that it is large enough
// to hold the header and that its length prefix matches len(b).
func Parse(b []byte, fields int) (Record, error) {
	if len(b) < Size(fields, 0) {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header",
			distinct.ErrCorrupt, len(b), Size(fields, 0))
	}
	if n := binary.LittleEndian.Uint32(b); int(n) != len(b) {
		return nil, fmt.Errorf("%w: length prefix %d, have %d bytes", distinct.ErrCorrupt, n, len(b))
	}
	r := make(Record, len(b))
	copy(r, b)
	return r, nil
}

// Len returns the length stored in the prefix.
func (r Record) Len() int {
	return int(binary.LittleEndian.Uint32(r))
}

// Int returns header field i as a signed 32-bit integer.
func (r Record) Int(i int) int {
	return int(int32(binary.LittleEndian.Uint32(r[offset(i):])))
}

// SetInt stores v in header field i.
func (r Record) SetInt(i, v int) {
	binary.LittleEndian.PutUint32(r[offset(i):], uint32(int32(v)))
}

// Float returns header field i as a float32.
func (r Record) Float(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(r[offset(i):]))
}

// SetFloat stores v in header field i.
func (r Record) SetFloat(i int, v float32) {
	binary.LittleEndian.PutUint32(r[offset(i):], math.Float32bits(v))
}

// Buffer returns the trailing buffer of a record with the given number of
// header fields. The slice aliases the record.
func (r Record) Buffer(fields int) []byte {
	return r[Size(fields, 0):]
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	copy(c, r)
	return c
}

func offset(i int) int {
	return wordSize + i*wordSize
}
