package pcsa

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/DmitriyVTitov/size"
	"github.com/stretchr/testify/require"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/digest"
)

func TestNew(t *testing.T) {
	p, err := New(DefaultMaps, DefaultKeySize)
	require.NoError(t, err)
	require.Len(t, p.bitmap, 64*12)
	require.Equal(t, DefaultMaps, p.Maps())
	require.Equal(t, DefaultKeySize, p.KeySize())
	require.Equal(t, "pcsa nmaps=64 keysize=4 length=780", p.String())

	s, err := Size(DefaultMaps, DefaultKeySize)
	require.NoError(t, err)
	require.Equal(t, 12+64*12, s)

	for _, tc := range []struct{ nmaps, keysize int }{
		{0, 4}, {2049, 4}, {64, 0}, {64, 5},
	} {
		_, err := New(tc.nmaps, tc.keysize)
		require.ErrorIs(t, err, distinct.ErrInvalidConfig, "%+v", tc)
		_, err = Size(tc.nmaps, tc.keysize)
		require.ErrorIs(t, err, distinct.ErrInvalidConfig, "%+v", tc)
	}
}

func TestEmpty(t *testing.T) {
	p, _ := New(64, 4)
	require.Equal(t, uint64(82), p.Estimate()) // 64 / 0.77351
}

func TestBucketModulo(t *testing.T) {
	p, _ := New(3, 1)

	// Every single-byte key, reduced modulo 3: bucket 0 gets one extra key.
	counts := make([]int, 3)
	for key := 0; key < 256; key++ {
		var d digest.Digest
		d[0] = byte(key)
		counts[p.bucket(d)]++
	}
	require.Equal(t, []int{86, 85, 85}, counts)

	// Multi-byte keys are little-endian integers.
	p, _ = New(3, 2)
	var d digest.Digest
	d[0], d[1] = 0x01, 0x01
	require.Equal(t, 257%3, p.bucket(d))

	// Bytes past keysize never influence the bucket.
	p, _ = New(1000, 3)
	d = digest.Digest{}
	d[0], d[1], d[2], d[3] = 0x10, 0x27, 0x00, 0xFF
	require.Equal(t, 10000%1000, p.bucket(d))
}

func TestAddHash(t *testing.T) {
	p, _ := New(1, 4)

	var d digest.Digest
	d[5] = 0x02
	p.AddHash(d)
	require.Equal(t, byte(0x02), p.bitmap[1])
	require.Equal(t, uint64(1), p.Estimate()) // 2^0 / 0.77351

	d[4] = 0x01
	p.AddHash(d)
	require.Equal(t, byte(0x01), p.bitmap[0])
	require.Equal(t, uint64(2), p.Estimate()) // 2^1 / 0.77351

	// A digest with no set bit after the key leaves the bitmap alone.
	before := append([]byte(nil), p.bitmap...)
	p.AddHash(digest.Digest{0xff, 0xff, 0xff, 0xff})
	require.Equal(t, before, p.bitmap)
}

func TestAccuracy(t *testing.T) {
	for _, count := range []int{1e4, 1e5} {
		t.Run(fmt.Sprintf("count=%d", count), func(t *testing.T) {
			p, err := New(256, DefaultKeySize)
			require.NoError(t, err)
			for i := 0; i < count; i++ {
				p.AddString(strconv.Itoa(i))
			}
			t.Logf("size: %d", size.Of(p))
			t.Logf("estimate %d for %d", p.Estimate(), count)
			require.InEpsilon(t, count, p.Estimate(), 0.2)
		})
	}
}

func TestMerge(t *testing.T) {
	a, _ := New(64, 4)
	b, _ := New(64, 4)
	for i := 0; i < 2000; i++ {
		a.AddString(strconv.Itoa(i))
		b.AddString(strconv.Itoa(i + 1000))
	}

	ab, err := Merged(a, b)
	require.NoError(t, err)
	ba, err := Merged(b, a)
	require.NoError(t, err)
	require.Equal(t, ab.bitmap, ba.bitmap)

	// The union equals a counter fed both streams directly.
	all, _ := New(64, 4)
	for i := 0; i < 3000; i++ {
		all.AddString(strconv.Itoa(i))
	}
	require.Equal(t, all.bitmap, ab.bitmap)

	require.NoError(t, a.MergeInto(b))
	require.NoError(t, a.MergeInto(b))
	require.Equal(t, all.bitmap, a.bitmap)

	for _, other := range []struct{ nmaps, keysize int }{{32, 4}, {64, 2}} {
		o, _ := New(other.nmaps, other.keysize)
		require.ErrorIs(t, a.MergeInto(o), distinct.ErrIncompatible)
		_, err := Merged(o, a)
		require.ErrorIs(t, err, distinct.ErrIncompatible)
	}
	require.Equal(t, all.bitmap, a.bitmap)
}

func TestMarshalRoundTrip(t *testing.T) {
	p, _ := New(100, 2)
	for i := 0; i < 5000; i++ {
		p.AddString(strconv.Itoa(i))
	}
	buf, err := p.MarshalBinary()
	require.NoError(t, err)

	rt := &PCSA{}
	require.NoError(t, rt.UnmarshalBinary(buf))
	require.Equal(t, p.Estimate(), rt.Estimate())
	require.Equal(t, 100, rt.Maps())
	require.Equal(t, 2, rt.KeySize())

	buf[8] = 9
	require.ErrorIs(t, rt.UnmarshalBinary(buf), distinct.ErrCorrupt)
}

func TestReset(t *testing.T) {
	p, _ := New(16, 4)
	p.AddString("x")
	p.Reset()
	fresh, _ := New(16, 4)
	require.Equal(t, fresh.rec, p.rec)
}

func TestCounter(t *testing.T) {
	var _ distinct.Counter = &PCSA{}
}

func BenchmarkPCSA_Add(b *testing.B) {
	p, err := New(DefaultMaps, DefaultKeySize)
	require.NoError(b, err)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p.AddString(strconv.Itoa(i))
	}
}
