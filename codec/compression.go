package codec

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Method bytes of the envelope payload.
const (
	MethodNone byte = 0x02
	MethodLZ4  byte = 0x82
)

// compressor compresses and decompresses envelope payloads.
type compressor interface {
	Method() byte
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, size int) ([]byte, error)
}

func compressorFor(method byte) (compressor, error) {
	switch method {
	case MethodLZ4:
		return lz4Compressor{}, nil
	case MethodNone:
		return noneCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compression method: 0x%02x", method)
	}
}

// maxRatio bounds how far an LZ4 block can expand.
const maxRatio = 255

type lz4Compressor struct{}

func (lz4Compressor) Method() byte { return MethodLZ4 }

// Compress returns nil when src does not compress.
func (lz4Compressor) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		return nil, nil
	}
	return dst[:n], nil
}

func (lz4Compressor) Decompress(src []byte, size int) ([]byte, error) {
	if size > maxRatio*len(src)+maxRatio {
		return nil, fmt.Errorf("lz4 decompress: %d bytes can't expand to %d", len(src), size)
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: expected %d bytes, got %d", size, n)
	}
	return dst, nil
}

type noneCompressor struct{}

func (noneCompressor) Method() byte { return MethodNone }

func (noneCompressor) Compress(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

func (noneCompressor) Decompress(src []byte, size int) ([]byte, error) {
	if len(src) != size {
		return nil, fmt.Errorf("stored payload is %d bytes, expected %d", len(src), size)
	}
	return append([]byte(nil), src...), nil
}
