package model

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// StringEncoder encodes the raw value of a string field into bits.
type StringEncoder interface {
	EncodeString(value []byte) (Bits, error)
}

// IntEncoder encodes the value of an integer field into bits.
// length is the field width in bits, signed selects two's complement
// interpretation of negative values.
type IntEncoder interface {
	EncodeInt(value int64, length int, signed bool) (Bits, error)
}

// BitsEncoder post-processes the rendered bits of a container.
type BitsEncoder interface {
	EncodeBits(b Bits) (Bits, error)
}

// String encoders.
var (
	// EncStrDefault passes the value through unchanged.
	EncStrDefault StringEncoder = strFunc(func(v []byte) ([]byte, error) { return v, nil })
	// EncStrNullTerm appends a single NUL byte.
	EncStrNullTerm StringEncoder = strFunc(func(v []byte) ([]byte, error) {
		return append(append([]byte{}, v...), 0x00), nil
	})
	// EncStrBase64 encodes to standard base64 with a trailing newline,
	// matching the output of common base64 tools.
	EncStrBase64 StringEncoder = strFunc(func(v []byte) ([]byte, error) {
		return append([]byte(base64.StdEncoding.EncodeToString(v)), '\n'), nil
	})
	// EncStrBase64NoNewline encodes to standard base64.
	EncStrBase64NoNewline StringEncoder = strFunc(func(v []byte) ([]byte, error) {
		return []byte(base64.StdEncoding.EncodeToString(v)), nil
	})
	// EncStrHex encodes to lowercase hex digits.
	EncStrHex StringEncoder = strFunc(func(v []byte) ([]byte, error) {
		return []byte(hex.EncodeToString(v)), nil
	})
	// EncStrUTF16LE re-encodes the value as UTF-16 little endian.
	EncStrUTF16LE StringEncoder = strFunc(func(v []byte) ([]byte, error) {
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes(v)
	})
	// EncStrUTF16BE re-encodes the value as UTF-16 big endian.
	EncStrUTF16BE StringEncoder = strFunc(func(v []byte) ([]byte, error) {
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes(v)
	})
)

// StrFuncEncoder wraps f as a StringEncoder.
func StrFuncEncoder(f func(value []byte) ([]byte, error)) StringEncoder {
	return strFunc(f)
}

type strFunc func(value []byte) ([]byte, error)

func (f strFunc) EncodeString(value []byte) (Bits, error) {
	out, err := f(value)
	if err != nil {
		return Bits{}, fmt.Errorf("encode string value: %w", err)
	}
	return BitsFromBytes(out), nil
}

// Integer encoders.
var (
	// EncIntBE encodes as a big endian bit sequence of the field width.
	// The width does not have to be byte aligned.
	EncIntBE IntEncoder = binIntEncoder{littleEndian: false}
	// EncIntLE encodes as little endian bytes. The field width must be
	// a whole number of bytes.
	EncIntLE IntEncoder = binIntEncoder{littleEndian: true}
	// EncIntDec encodes the decimal ASCII representation.
	EncIntDec IntEncoder = asciiIntEncoder{format: "%d"}
	// EncIntHex encodes the lowercase hex ASCII representation.
	EncIntHex IntEncoder = asciiIntEncoder{format: "%x"}
	// EncIntHexUpper encodes the uppercase hex ASCII representation.
	EncIntHexUpper IntEncoder = asciiIntEncoder{format: "%X"}
	// EncIntMultibyte encodes 7 bits per byte, most significant group
	// first, with the high bit of each byte but the last set.
	EncIntMultibyte IntEncoder = multibyteIntEncoder{}
)

type binIntEncoder struct {
	littleEndian bool
}

func (e binIntEncoder) EncodeInt(value int64, length int, signed bool) (Bits, error) {
	if length <= 0 || length > 64 {
		return Bits{}, fmt.Errorf("bit length %d out of range [1,64]", length)
	}
	if !signed && value < 0 {
		return Bits{}, fmt.Errorf("negative value %d for unsigned field", value)
	}
	// Two's complement truncation to the field width covers both signs.
	be := BitsFromUint(uint64(value), length)
	if !e.littleEndian {
		return be, nil
	}
	if length%8 != 0 {
		return Bits{}, fmt.Errorf("little endian needs byte aligned length, got %d bits", length)
	}
	buf := be.Bytes()
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return BitsFromBytes(buf), nil
}

type asciiIntEncoder struct {
	format string
}

func (e asciiIntEncoder) EncodeInt(value int64, _ int, _ bool) (Bits, error) {
	return BitsFromBytes(fmt.Appendf(nil, e.format, value)), nil
}

type multibyteIntEncoder struct{}

func (multibyteIntEncoder) EncodeInt(value int64, _ int, signed bool) (Bits, error) {
	if value < 0 {
		return Bits{}, fmt.Errorf("multibyte encoding does not support negative value %d", value)
	}
	v := uint64(value)
	groups := []byte{byte(v & 0x7f)}
	for v >>= 7; v != 0; v >>= 7 {
		groups = append(groups, byte(v&0x7f))
	}
	out := make([]byte, 0, len(groups))
	for i := len(groups) - 1; i >= 0; i-- {
		c := groups[i]
		if i != 0 {
			c |= 0x80
		}
		out = append(out, c)
	}
	return BitsFromBytes(out), nil
}

// Bits encoders.
var (
	// EncBitsNone passes the bits through unchanged.
	EncBitsNone BitsEncoder = bitsFunc(func(b Bits) (Bits, error) { return b, nil })
	// EncBitsByteAligned zero pads the bits up to a byte boundary.
	EncBitsByteAligned BitsEncoder = bitsFunc(func(b Bits) (Bits, error) {
		if b.ByteAligned() {
			return b, nil
		}
		return b.Concat(BitsFromUint(0, 8-b.Len()%8)), nil
	})
	// EncBitsReverse reverses the bit order.
	EncBitsReverse BitsEncoder = bitsFunc(func(b Bits) (Bits, error) { return b.Reverse(), nil })
)

// BitsStrEncoder byte-aligns the bits and runs them through a string
// encoder. It lets a container reuse encoders such as EncStrBase64.
func BitsStrEncoder(inner StringEncoder) BitsEncoder {
	return bitsFunc(func(b Bits) (Bits, error) {
		aligned, err := EncBitsByteAligned.EncodeBits(b)
		if err != nil {
			return Bits{}, err
		}
		return inner.EncodeString(aligned.Bytes())
	})
}

type bitsFunc func(b Bits) (Bits, error)

func (f bitsFunc) EncodeBits(b Bits) (Bits, error) { return f(b) }
