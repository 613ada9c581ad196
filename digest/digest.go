// Package digest produces the 128-bit hash every estimator is fed with.
//
// The hash is MD5. It is fixed for the whole module: changing it would change
// the mapping from elements to buckets and make stored states incomparable.
package digest

import (
	"crypto/md5"
	"encoding/binary"
)

// Size is the digest length in bytes.
const Size = md5.Size

// Digest is a 128-bit hash of an element.
type Digest [Size]byte

// Sum hashes data.
func Sum(data []byte) Digest {
	return md5.Sum(data)
}

// SumString hashes s.
func SumString(s string) Digest {
	return md5.Sum([]byte(s))
}

// Salted hashes data prefixed with a single salt byte.
func Salted(salt byte, data []byte) Digest {
	h := md5.New()
	h.Write([]byte{salt})
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Uint32 returns the little-endian integer stored in bytes [off, off+4).
func (d Digest) Uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(d[off : off+4])
}
