// Package bitfield reads and writes bits of byte slices. Bits are numbered
// least-significant first within each byte, so bit k lives in byte k/8 at
// position k%8.
package bitfield

import "math/bits"

// Test reports whether bit k of buf is set.
func Test(buf []byte, k int) bool {
	return buf[k/8]&(1<<(k%8)) != 0
}

// Set sets bit k of buf.
func Set(buf []byte, k int) {
	buf[k/8] |= 1 << (k % 8)
}

// LowestSet returns the position, relative to from, of the first set bit in
// the n bits starting at bit from. It returns -1 if all n bits are zero.
func LowestSet(buf []byte, from, n int) int {
	return scan(buf, from, n, 0)
}

// LowestUnset returns the position, relative to from, of the first zero bit
// in the n bits starting at bit from. It returns n if all n bits are set.
func LowestUnset(buf []byte, from, n int) int {
	if k := scan(buf, from, n, 0xff); k >= 0 {
		return k
	}
	return n
}

// Rho returns one plus the position of the first set bit in the n bits
// starting at bit from, or n+1 when there is none.
func Rho(buf []byte, from, n int) int {
	if k := LowestSet(buf, from, n); k >= 0 {
		return k + 1
	}
	return n + 1
}

// Extract returns the n bits starting at bit from as an integer whose bit i
// is bit from+i of buf. n must not exceed 32.
func Extract(buf []byte, from, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		if Test(buf, from+i) {
			v |= 1 << i
		}
	}
	return v
}

// scan finds the first bit whose value differs from the bits of flip.
// Whole bytes are skipped at once when the scan is byte aligned.
func scan(buf []byte, from, n int, flip byte) int {
	for k := 0; k < n; {
		pos := from + k
		b := (buf[pos/8] ^ flip) >> (pos % 8)
		if pos%8 == 0 && n-k >= 8 {
			if b != 0 {
				return k + bits.TrailingZeros8(b)
			}
			k += 8
			continue
		}
		if b&1 != 0 {
			return k
		}
		k++
	}
	return -1
}
