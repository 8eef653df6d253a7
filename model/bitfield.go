package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BitField is an integer field of an arbitrary bit width. Its mutation
// library holds the interesting values of the range: the boundaries,
// off-by-small-N neighbours of the boundaries and of the default, power
// of two edges and single bit flips of the default.
type BitField struct {
	baseField
	def    int64
	length int
	signed bool
	min    int64
	max    int64
	lib    []int64
	enc    IntEncoder
}

// WithRange restricts the mutation library of a BitField to [min, max].
func WithRange(min, max int64) Option {
	return func(o *options) {
		o.hasRange = true
		o.rangeMin = min
		o.rangeMax = max
	}
}

// Signed makes a BitField use two's complement interpretation.
func Signed() Option {
	return func(o *options) { o.signed = true }
}

// NewBitField returns an integer field of the given bit width holding
// value by default. The width must be between 1 and 64 bits.
//
// Design decision: values are carried as int64. A 64 bit unsigned field
// still encodes correctly through two's complement, but its library is
// bounded at the int64 maximum.
func NewBitField(name string, value int64, length int, opts ...Option) (*BitField, error) {
	if length < 1 || length > 64 {
		return nil, fmt.Errorf("bitfield %q: length %d out of range [1,64]", name, length)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	min, max := bitFieldBounds(length, o.signed)
	if o.hasRange {
		if o.rangeMin < min || o.rangeMax > max || o.rangeMin > o.rangeMax {
			return nil, fmt.Errorf("bitfield %q: range [%d,%d] outside [%d,%d]",
				name, o.rangeMin, o.rangeMax, min, max)
		}
		min, max = o.rangeMin, o.rangeMax
	}
	if value < min || value > max {
		return nil, fmt.Errorf("bitfield %q: default %d outside range [%d,%d]", name, value, min, max)
	}
	lib := bitFieldLibrary(value, length, min, max)
	return &BitField{
		baseField: makeBaseField(name, o.fuzzable, len(lib)),
		def:       value,
		length:    length,
		signed:    o.signed,
		min:       min,
		max:       max,
		lib:       lib,
		enc:       o.intEncoder,
	}, nil
}

func bitFieldBounds(length int, signed bool) (int64, int64) {
	if signed {
		return -(int64(1) << uint(length-1)), int64(1)<<uint(length-1) - 1
	}
	if length >= 64 {
		return 0, math.MaxInt64
	}
	return 0, int64(1)<<uint(length) - 1
}

func bitFieldLibrary(def int64, length int, min, max int64) []int64 {
	seen := map[int64]bool{def: true}
	var lib []int64
	add := func(vs ...int64) {
		for _, v := range vs {
			if v < min || v > max || seen[v] {
				continue
			}
			seen[v] = true
			lib = append(lib, v)
		}
	}
	around := func(v int64) {
		add(v)
		for _, d := range []int64{1, 2, 3, 4} {
			add(v-d, v+d)
		}
	}
	around(0)
	around(min)
	around(max)
	around(def)
	for k := 1; k < length && k < 63; k++ {
		edge := int64(1) << uint(k)
		add(edge-1, edge, edge+1)
	}
	for k := 0; k < length && k < 63; k++ {
		add(def ^ int64(1)<<uint(k))
	}
	return lib
}

// Render implements Field.
func (f *BitField) Render(*RenderContext) (Bits, error) {
	v := f.def
	if f.mutating() {
		v = f.lib[f.index]
	}
	b, err := f.enc.EncodeInt(v, f.length, f.signed)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", f.name, err)
	}
	return b, nil
}

// Value returns the current value of the field.
func (f *BitField) Value() int64 {
	if f.mutating() {
		return f.lib[f.index]
	}
	return f.def
}

// Hash implements Field.
func (f *BitField) Hash() uint64 {
	var buf [10]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(f.def))
	buf[8] = byte(f.length)
	if f.signed {
		buf[9] = 1
	}
	return fieldHash("BitField", f.name, buf[:])
}

func mustBitField(f *BitField, err error) *BitField {
	if err != nil {
		panic(err)
	}
	return f
}

// UInt8 returns an 8 bit unsigned field.
// The fixed-width aliases panic on arguments NewBitField would reject,
// such as a range option excluding the default.
func UInt8(name string, value uint8, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, int64(value), 8, opts...))
}

// UInt16 returns a 16 bit unsigned field.
func UInt16(name string, value uint16, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, int64(value), 16, opts...))
}

// UInt32 returns a 32 bit unsigned field.
func UInt32(name string, value uint32, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, int64(value), 32, opts...))
}

// UInt64 returns a 64 bit unsigned field. Values are carried as int64,
// so defaults above the int64 maximum are rejected.
func UInt64(name string, value uint64, opts ...Option) *BitField {
	if value > math.MaxInt64 {
		panic(fmt.Sprintf("bitfield %q: default %d above the int64 maximum", name, value))
	}
	return mustBitField(NewBitField(name, int64(value), 64, opts...))
}

// SInt8 returns an 8 bit signed field.
func SInt8(name string, value int8, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, int64(value), 8, append(opts, Signed())...))
}

// SInt16 returns a 16 bit signed field.
func SInt16(name string, value int16, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, int64(value), 16, append(opts, Signed())...))
}

// SInt32 returns a 32 bit signed field.
func SInt32(name string, value int32, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, int64(value), 32, append(opts, Signed())...))
}

// SInt64 returns a 64 bit signed field.
func SInt64(name string, value int64, opts ...Option) *BitField {
	return mustBitField(NewBitField(name, value, 64, append(opts, Signed())...))
}
