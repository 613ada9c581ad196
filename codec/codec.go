// Package codec wraps counter records in a self-describing envelope so that
// a stored state can be decoded without knowing which estimator produced it.
//
// Envelope layout (little-endian):
//
//	[magic "DST1" (4)] [kind (1)] [method (1)] [raw size (4)] [payload size (4)] [payload...]
//
// The payload is the counter's raw record, compressed according to method.
package codec

import (
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"

	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/adaptive"
	"github.com/clarkduvall/distinct/bitmap"
	"github.com/clarkduvall/distinct/hyperloglog"
	"github.com/clarkduvall/distinct/loglog"
	"github.com/clarkduvall/distinct/pcsa"
	"github.com/clarkduvall/distinct/probabilistic"
)

const (
	magic      = "DST1"
	HeaderSize = 14
)

// Kind identifies the estimator inside an envelope.
type Kind byte

const (
	KindProbabilistic Kind = iota + 1
	KindPCSA
	KindLogLog
	KindSuperLogLog
	KindHyperLogLog
	KindAdaptive
	KindBitmap
)

var kindNames = map[Kind]string{
	KindProbabilistic: "probabilistic",
	KindPCSA:          "pcsa",
	KindLogLog:        "loglog",
	KindSuperLogLog:   "superloglog",
	KindHyperLogLog:   "hyperloglog",
	KindAdaptive:      "adaptive",
	KindBitmap:        "bitmap",
}

// String returns the CLI name of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown estimator %q", name)
}

// KindOf returns the kind of c.
func KindOf(c distinct.Counter) (Kind, error) {
	switch c.(type) {
	case *probabilistic.Counter:
		return KindProbabilistic, nil
	case *pcsa.PCSA:
		return KindPCSA, nil
	case *loglog.LogLog:
		return KindLogLog, nil
	case *loglog.SuperLogLog:
		return KindSuperLogLog, nil
	case *hyperloglog.HyperLogLog:
		return KindHyperLogLog, nil
	case *adaptive.Counter:
		return KindAdaptive, nil
	case *bitmap.Counter:
		return KindBitmap, nil
	default:
		return 0, fmt.Errorf("unsupported counter type %T", c)
	}
}

type unmarshaler interface {
	distinct.Counter
	encoding.BinaryUnmarshaler
}

func empty(k Kind) (unmarshaler, error) {
	switch k {
	case KindProbabilistic:
		return &probabilistic.Counter{}, nil
	case KindPCSA:
		return &pcsa.PCSA{}, nil
	case KindLogLog:
		return &loglog.LogLog{}, nil
	case KindSuperLogLog:
		return &loglog.SuperLogLog{}, nil
	case KindHyperLogLog:
		return &hyperloglog.HyperLogLog{}, nil
	case KindAdaptive:
		return &adaptive.Counter{}, nil
	case KindBitmap:
		return &bitmap.Counter{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", distinct.ErrCorrupt, byte(k))
	}
}

// Encode returns the envelope of c, compressing the record with method.
// A record that LZ4 can't shrink is stored uncompressed.
func Encode(c distinct.Counter, method byte) ([]byte, error) {
	kind, err := KindOf(c)
	if err != nil {
		return nil, err
	}
	comp, err := compressorFor(method)
	if err != nil {
		return nil, err
	}
	raw, err := c.MarshalBinary()
	if err != nil {
		return nil, err
	}

	payload, err := comp.Compress(raw)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		comp = noneCompressor{}
		payload = raw
	}

	buf := make([]byte, HeaderSize+len(payload))
	copy(buf, magic)
	buf[4] = byte(kind)
	buf[5] = comp.Method()
	binary.LittleEndian.PutUint32(buf[6:10], uint32(len(raw)))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode returns the counter held in an envelope produced by Encode.
func Decode(data []byte) (distinct.Counter, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: envelope too small: %d bytes", distinct.ErrCorrupt, len(data))
	}
	if string(data[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", distinct.ErrCorrupt, data[:4])
	}
	c, err := empty(Kind(data[4]))
	if err != nil {
		return nil, err
	}
	comp, err := compressorFor(data[5])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distinct.ErrCorrupt, err)
	}
	rawSize := binary.LittleEndian.Uint32(data[6:10])
	payloadSize := binary.LittleEndian.Uint32(data[10:14])
	if uint64(payloadSize) != uint64(len(data)-HeaderSize) {
		return nil, fmt.Errorf("%w: envelope says %d payload bytes, have %d",
			distinct.ErrCorrupt, payloadSize, len(data)-HeaderSize)
	}

	raw, err := comp.Decompress(data[HeaderSize:], int(rawSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distinct.ErrCorrupt, err)
	}
	if err := c.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeText returns the envelope of c as snappy-compressed URL-safe base64.
func EncodeText(c distinct.Counter, method byte) (string, error) {
	buf, err := Encode(c, method)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(snappy.Encode(nil, buf)), nil
}

// DecodeText is the inverse of EncodeText.
func DecodeText(s string) (distinct.Counter, error) {
	compressed, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distinct.ErrCorrupt, err)
	}
	buf, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", distinct.ErrCorrupt, err)
	}
	return Decode(buf)
}

func result[T distinct.Counter](c T, err error) (distinct.Counter, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Merged returns the union of two counters of the same kind. The inputs are
// left unchanged.
func Merged(a, b distinct.Counter) (distinct.Counter, error) {
	switch a := a.(type) {
	case *probabilistic.Counter:
		if b, ok := b.(*probabilistic.Counter); ok {
			return result(probabilistic.Merged(a, b))
		}
	case *pcsa.PCSA:
		if b, ok := b.(*pcsa.PCSA); ok {
			return result(pcsa.Merged(a, b))
		}
	case *loglog.LogLog:
		if b, ok := b.(*loglog.LogLog); ok {
			return result(loglog.Merged(a, b))
		}
	case *loglog.SuperLogLog:
		if b, ok := b.(*loglog.SuperLogLog); ok {
			return result(loglog.MergedSuper(a, b))
		}
	case *hyperloglog.HyperLogLog:
		if b, ok := b.(*hyperloglog.HyperLogLog); ok {
			return result(hyperloglog.Merged(a, b))
		}
	case *adaptive.Counter:
		if b, ok := b.(*adaptive.Counter); ok {
			return result(adaptive.Merged(a, b))
		}
	case *bitmap.Counter:
		return nil, fmt.Errorf("%w: self-learning bitmaps can't be merged", distinct.ErrIncompatible)
	}
	return nil, fmt.Errorf("%w: %T and %T", distinct.ErrIncompatible, a, b)
}
