// Package model implements the low-level data model of the fuzzer.
//
// A data model describes the structure of a message as a tree of fields.
// Each field renders to a bit sequence and owns a set of mutations.
// Mutating the model steps exactly one field at a time through its
// mutation library while the rest of the tree keeps its default value.
package model

import (
	"fmt"
	"strings"
)

// Bits is an immutable bit-granular buffer. Values are packed MSB first,
// so bit 0 is the most significant bit of the first byte. Fields render
// to Bits because not every field is byte aligned; a template byte-aligns
// the final payload.
type Bits struct {
	data []byte
	n    int
}

// BitsFromBytes returns a byte-aligned Bits holding a copy of b.
func BitsFromBytes(b []byte) Bits {
	d := make([]byte, len(b))
	copy(d, b)
	return Bits{data: d, n: len(b) * 8}
}

// BitsFromUint returns the length low bits of v, MSB first.
// Values wider than length are truncated.
func BitsFromUint(v uint64, length int) Bits {
	if length < 0 || length > 64 {
		panic(fmt.Sprintf("model: bit length %d out of range", length))
	}
	b := Bits{data: make([]byte, (length+7)/8), n: length}
	for i := 0; i < length; i++ {
		if v&(1<<uint(length-1-i)) != 0 {
			b.data[i/8] |= 0x80 >> uint(i%8)
		}
	}
	return b
}

// Len returns the length in bits.
func (b Bits) Len() int { return b.n }

// ByteAligned reports whether the length is a whole number of bytes.
func (b Bits) ByteAligned() bool { return b.n%8 == 0 }

// Bytes returns the buffer as bytes. When the length is not byte aligned
// the final partial byte is zero padded on the right.
func (b Bits) Bytes() []byte {
	out := make([]byte, (b.n+7)/8)
	copy(out, b.data[:len(out)])
	if rem := b.n % 8; rem != 0 {
		out[len(out)-1] &= byte(0xff << uint(8-rem))
	}
	return out
}

// Bit returns bit i as 0 or 1.
func (b Bits) Bit(i int) int {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("model: bit index %d out of range [0,%d)", i, b.n))
	}
	if b.data[i/8]&(0x80>>uint(i%8)) != 0 {
		return 1
	}
	return 0
}

// Concat returns the concatenation of b and others in order.
func (b Bits) Concat(others ...Bits) Bits {
	total := b.n
	for _, o := range others {
		total += o.n
	}
	out := Bits{data: make([]byte, (total+7)/8)}
	out = out.appendInto(b)
	for _, o := range others {
		out = out.appendInto(o)
	}
	return out
}

// appendInto appends o to b assuming b.data has enough capacity.
func (b Bits) appendInto(o Bits) Bits {
	for i := 0; i < o.n; i++ {
		if o.Bit(i) == 1 {
			pos := b.n + i
			b.data[pos/8] |= 0x80 >> uint(pos%8)
		}
	}
	b.n += o.n
	return b
}

// Slice returns bits [start, end).
func (b Bits) Slice(start, end int) Bits {
	if start < 0 || end > b.n || start > end {
		panic(fmt.Sprintf("model: slice [%d,%d) out of range [0,%d)", start, end, b.n))
	}
	out := Bits{data: make([]byte, (end-start+7)/8)}
	for i := start; i < end; i++ {
		if b.Bit(i) == 1 {
			pos := i - start
			out.data[pos/8] |= 0x80 >> uint(pos%8)
		}
	}
	out.n = end - start
	return out
}

// Repeat returns b concatenated with itself count times.
// Repeat(0) returns an empty buffer.
func (b Bits) Repeat(count int) Bits {
	out := Bits{data: make([]byte, (b.n*count+7)/8)}
	for i := 0; i < count; i++ {
		out = out.appendInto(b)
	}
	return out
}

// Flip returns a copy with count bits inverted starting at offset.
func (b Bits) Flip(offset, count int) Bits {
	if offset < 0 || offset+count > b.n {
		panic(fmt.Sprintf("model: flip [%d,%d) out of range [0,%d)", offset, offset+count, b.n))
	}
	out := b.Slice(0, b.n)
	for i := offset; i < offset+count; i++ {
		out.data[i/8] ^= 0x80 >> uint(i%8)
	}
	return out
}

// Reverse returns b with the bit order reversed.
func (b Bits) Reverse() Bits {
	out := Bits{data: make([]byte, len(b.data))}
	for i := 0; i < b.n; i++ {
		if b.Bit(i) == 1 {
			pos := b.n - 1 - i
			out.data[pos/8] |= 0x80 >> uint(pos%8)
		}
	}
	out.n = b.n
	return out
}

// Equal reports whether b and o hold the same bit sequence.
func (b Bits) Equal(o Bits) bool {
	if b.n != o.n {
		return false
	}
	for i := 0; i < b.n; i++ {
		if b.Bit(i) != o.Bit(i) {
			return false
		}
	}
	return true
}

// Uint64 interprets the whole buffer as an unsigned big-endian integer.
// The buffer must be at most 64 bits long.
func (b Bits) Uint64() uint64 {
	if b.n > 64 {
		panic(fmt.Sprintf("model: buffer of %d bits does not fit in uint64", b.n))
	}
	var v uint64
	for i := 0; i < b.n; i++ {
		v = v<<1 | uint64(b.Bit(i))
	}
	return v
}

// String returns a short hex representation for logs and tests.
func (b Bits) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d bits:", b.n)
	for _, c := range b.Bytes() {
		fmt.Fprintf(&sb, " %02x", c)
	}
	return sb.String()
}
