package digest

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum(t *testing.T) {
	d := SumString("")
	require.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", hex.EncodeToString(d[:]))

	d = Sum([]byte("abc"))
	require.Equal(t, "900150983cd24fb0d6963f7d28e17f72", hex.EncodeToString(d[:]))
}

func TestSalted(t *testing.T) {
	require.Equal(t, Digest(md5.Sum([]byte("\x07abc"))), Salted(7, []byte("abc")))
	require.NotEqual(t, Salted(0, []byte("abc")), Salted(1, []byte("abc")))
}

func TestUint32(t *testing.T) {
	var d Digest
	d[0], d[1], d[2], d[3] = 0x78, 0x56, 0x34, 0x12
	d[4] = 0xff
	require.Equal(t, uint32(0x12345678), d.Uint32(0))
	require.Equal(t, uint32(0xff123456), d.Uint32(1))
}
