package hyperloglog

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/DmitriyVTitov/size"
	"github.com/stretchr/testify/require"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
)

// hashAt builds a digest landing in bucket idx of a 16-bit HyperLogLog with
// rank rho.
func hashAt(idx uint16, rho int) digest.Digest {
	var d digest.Digest
	d[2] = byte(idx)
	d[3] = byte(idx >> 8)
	d[4+(rho-1)/8] = 1 << ((rho - 1) % 8)
	return d
}

func TestHLLCount(t *testing.T) {
	h, _ := NewBits(16)

	n := h.Estimate()
	if n != 0 {
		t.Error(n)
	}

	h.AddHash(hashAt(1, 1))
	h.AddHash(hashAt(2, 1))
	h.AddHash(hashAt(3, 1))
	h.AddHash(hashAt(4, 1))
	h.AddHash(hashAt(5, 1))
	h.AddHash(hashAt(5, 1))

	n = h.Estimate()
	if n != 5 {
		t.Error(n)
	}
}

func TestBits(t *testing.T) {
	testCases := []struct {
		e    float64
		bits uint8
	}{
		{1, 4},
		{0.5, 4},
		{0.1, 7},
		{0.025, 11},
		{0.02, 12},
		{0.0041, 16},
	}
	for _, tc := range testCases {
		b, err := Bits(tc.e)
		require.NoError(t, err)
		require.Equal(t, tc.bits, b, "error rate %v", tc.e)
	}

	for _, e := range []float64{0, -0.1, 1.5, 0.001, math.NaN()} {
		_, err := Bits(e)
		require.ErrorIs(t, err, distinct.ErrInvalidConfig, "error rate %v", e)
	}

	_, err := NewBits(3)
	require.ErrorIs(t, err, distinct.ErrInvalidConfig)
	_, err = NewBits(17)
	require.ErrorIs(t, err, distinct.ErrInvalidConfig)
}

func TestAlpha(t *testing.T) {
	a, err := alpha(4)
	require.NoError(t, err)
	require.Equal(t, 0.673, a)

	a, err = alpha(16)
	require.NoError(t, err)
	require.Equal(t, 0.7213, a)

	_, err = alpha(3)
	require.ErrorIs(t, err, distinct.ErrInvalidConfig)
	_, err = alpha(17)
	require.ErrorIs(t, err, distinct.ErrInvalidConfig)
}

func TestSize(t *testing.T) {
	s, err := Size(0.025)
	require.NoError(t, err)
	require.Equal(t, 16+2048, s)

	h, err := New(0.025)
	require.NoError(t, err)
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, s)
}

func TestAddHashIndexAndRank(t *testing.T) {
	h, err := NewBits(4)
	require.NoError(t, err)

	// The index comes from the top bits of the little-endian word in bytes
	// 0..3, so only byte 3 matters for four index bits.
	var d digest.Digest
	d[3] = 0xA0
	d[0] = 0xFF
	d[5] = 0x04 // bit 10 of the rank window
	h.AddHash(d)
	require.Equal(t, uint8(11), h.reg[0xA])

	// A lower rank never lowers the bucket.
	d[4] = 0x01
	h.AddHash(d)
	require.Equal(t, uint8(11), h.reg[0xA])

	// An all-zero rank window yields 65.
	var z digest.Digest
	h.AddHash(z)
	require.Equal(t, uint8(65), h.reg[0])
}

func TestIdempotentAdd(t *testing.T) {
	h, err := New(0.02)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		h.AddString(strconv.Itoa(i))
	}
	before, _ := h.MarshalBinary()
	est := h.Estimate()

	for i := 0; i < 1000; i++ {
		h.AddString(strconv.Itoa(i))
	}
	after, _ := h.MarshalBinary()
	require.Equal(t, before, after)
	require.Equal(t, est, h.Estimate())
}

func TestHLLCountMany(t *testing.T) {
	for _, count := range []uint64{1e4, 1e5, 1e6} {
		t.Run(fmt.Sprintf("count=%d", count), func(t *testing.T) {
			h, err := New(0.02)
			require.NoError(t, err)

			require.Zero(t, h.Estimate())
			for i := uint64(0); i < count; i++ {
				h.AddString(strconv.FormatUint(i, 10))
			}

			gotCount := h.Estimate()
			t.Logf("size: %d", size.Of(h))
			t.Logf("error: %0.3f%%", 100*(float64(gotCount)-float64(count))/float64(count))
			require.InEpsilonf(t, count, gotCount, 0.05, "expected %d, got %d", count, gotCount)
		})
	}
}

func TestHLLSaltedTrials(t *testing.T) {
	const count = 100000
	var total float64
	for trial := 0; trial < 5; trial++ {
		h, err := New(0.02)
		require.NoError(t, err)
		for i := 0; i < count; i++ {
			h.AddString(fmt.Sprintf("%d:%d", trial, i))
		}
		relErr := math.Abs(float64(h.Estimate())-count) / count
		t.Logf("trial %d: estimate %d, error %0.3f%%", trial, h.Estimate(), 100*relErr)
		total += relErr
	}
	require.Less(t, total/5, 0.05)
}

func TestMerge(t *testing.T) {
	a, _ := New(0.02)
	b, _ := New(0.02)
	for i := 0; i < 5000; i++ {
		a.AddString(strconv.Itoa(i))
		b.AddString(strconv.Itoa(i + 2500))
	}

	ab, err := Merged(a, b)
	require.NoError(t, err)
	ba, err := Merged(b, a)
	require.NoError(t, err)

	abBytes, _ := ab.MarshalBinary()
	baBytes, _ := ba.MarshalBinary()
	require.Equal(t, abBytes, baBytes)
	require.InEpsilon(t, 7500, ab.Estimate(), 0.05)

	// Merged leaves its inputs alone; MergeInto mutates the receiver.
	require.NotEqual(t, ab.Estimate(), a.Estimate())
	require.NoError(t, a.MergeInto(b))
	aBytes, _ := a.MarshalBinary()
	require.Equal(t, abBytes, aBytes)

	// Merging a state with itself changes nothing.
	require.NoError(t, a.MergeInto(a.Clone()))
	again, _ := a.MarshalBinary()
	require.Equal(t, aBytes, again)
}

func TestMergeIncompatible(t *testing.T) {
	a, _ := New(0.02)
	b, _ := New(0.05)
	b.AddString("x")
	before, _ := a.MarshalBinary()

	err := a.MergeInto(b)
	require.ErrorIs(t, err, distinct.ErrIncompatible)
	_, err = Merged(a, b)
	require.ErrorIs(t, err, distinct.ErrIncompatible)

	after, _ := a.MarshalBinary()
	require.Equal(t, before, after)
}

func TestEstimateCorrections(t *testing.T) {
	h, _ := NewBits(4)

	// All buckets at rank 1: raw estimate alpha*m^2/(m/2) = 21.536 is below
	// 2.5m but there are no empty buckets, so it stands.
	for i := range h.reg {
		h.reg[i] = 1
	}
	require.Equal(t, uint64(21), h.Estimate())

	// Ranks high enough to trigger the large range correction.
	for i := range h.reg {
		h.reg[i] = 28
	}
	raw := 0.673 * 16 * 16 / (16 * math.Ldexp(1, -28))
	expected := -two32 * math.Log(1-raw/two32)
	require.Equal(t, uint64(expected), h.Estimate())

	// Past 2^32 the correction saturates.
	for i := range h.reg {
		h.reg[i] = 40
	}
	require.Equal(t, uint64(math.MaxUint32), h.Estimate())
}

func TestReset(t *testing.T) {
	h, _ := New(0.05)
	for i := 0; i < 100; i++ {
		h.AddString(strconv.Itoa(i))
	}
	require.NotZero(t, h.Estimate())
	h.Reset()
	require.Zero(t, h.Estimate())

	fresh, _ := New(0.05)
	require.Equal(t, fresh.rec, h.rec)
}

func TestMarshalRoundTrip(t *testing.T) {
	h, _ := New(0.02)
	for i := 0; i < 20000; i++ {
		h.AddString(strconv.Itoa(i))
	}

	buf, err := h.MarshalBinary()
	require.NoError(t, err)

	rt := &HyperLogLog{}
	require.NoError(t, rt.UnmarshalBinary(buf))
	require.Equal(t, h.Estimate(), rt.Estimate())
	require.Equal(t, h.Bits(), rt.Bits())
	require.Equal(t, h.Buckets(), rt.Buckets())

	// The round-tripped value is independent of its source.
	rt.AddString("one more")
	rt.AddString("and another")
	buf2, _ := h.MarshalBinary()
	require.Equal(t, buf, buf2)
}

func TestUnmarshalCorrupt(t *testing.T) {
	h, _ := NewBits(4)
	buf, _ := h.MarshalBinary()

	rt := &HyperLogLog{}
	require.ErrorIs(t, rt.UnmarshalBinary(buf[:len(buf)-1]), distinct.ErrCorrupt)

	bad := append([]byte(nil), buf...)
	bad[4] = 17
	require.ErrorIs(t, rt.UnmarshalBinary(bad), distinct.ErrCorrupt)

	bad = append([]byte(nil), buf...)
	bad[8] = 32
	require.ErrorIs(t, rt.UnmarshalBinary(bad), distinct.ErrCorrupt)

	bad = append([]byte(nil), buf...)
	bad[12] = 6
	require.ErrorIs(t, rt.UnmarshalBinary(bad), distinct.ErrCorrupt)
}

func TestGobRoundTrip(t *testing.T) {
	h, _ := New(0.02)
	for i := 0; i < 5000; i++ {
		h.AddString(strconv.Itoa(i))
	}

	var val bytes.Buffer
	require.NoError(t, gob.NewEncoder(&val).Encode(h))

	rt := &HyperLogLog{}
	require.NoError(t, gob.NewDecoder(&val).Decode(rt))
	require.Equal(t, h.Estimate(), rt.Estimate())
}

func TestCounter(t *testing.T) {
	var _ distinct.Counter = &HyperLogLog{}
}

func BenchmarkHLL_Estimate(b *testing.B) {
	for _, precision := range []uint8{10, 12, 14, 16} {
		b.Run(fmt.Sprintf("precision=%d", precision), func(b *testing.B) {
			h, err := NewBits(precision)
			require.NoError(b, err)
			for i := 0; i < 1e5; i++ {
				h.AddString(strconv.Itoa(i))
			}
			b.ResetTimer()
			c := uint64(0)
			for i := 0; i < b.N; i++ {
				c += h.Estimate()
			}
			require.NotZero(b, c)
		})
	}
}

func BenchmarkHLL_Add(b *testing.B) {
	h, err := New(0.01)
	require.NoError(b, err)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		h.AddString(strconv.Itoa(i))
	}
}
