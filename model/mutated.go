package model

import (
	"bytes"
	"fmt"
)

// The mutation-fuzzing fields do not model structure. They take a valid
// payload and derive mutations from it mechanically, which is the quick
// way to fuzz a format without writing a full model for it.

// BitFlip flips a window of consecutive bits at every position of a
// fixed payload.
type BitFlip struct {
	baseField
	def     []byte
	numBits int
}

// NewBitFlip returns a field flipping numBits consecutive bits of value
// per mutation.
func NewBitFlip(name string, value []byte, numBits int, opts ...Option) (*BitFlip, error) {
	if numBits <= 0 || numBits > len(value)*8 {
		return nil, fmt.Errorf("bit flip %q: window %d out of range [1,%d]", name, numBits, len(value)*8)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BitFlip{
		baseField: makeBaseField(name, o.fuzzable, len(value)*8-numBits+1),
		def:       append([]byte{}, value...),
		numBits:   numBits,
	}, nil
}

// Render implements Field.
func (f *BitFlip) Render(*RenderContext) (Bits, error) {
	b := BitsFromBytes(f.def)
	if !f.mutating() {
		return b, nil
	}
	return b.Flip(f.index, f.numBits), nil
}

// Hash implements Field.
func (f *BitFlip) Hash() uint64 {
	return fieldHash("BitFlip", f.name, append([]byte{byte(f.numBits)}, f.def...))
}

// ByteFlip inverts a window of consecutive bytes at every position of a
// fixed payload.
type ByteFlip struct {
	baseField
	def      []byte
	numBytes int
}

// NewByteFlip returns a field inverting numBytes consecutive bytes of
// value per mutation.
func NewByteFlip(name string, value []byte, numBytes int, opts ...Option) (*ByteFlip, error) {
	if numBytes <= 0 || numBytes > len(value) {
		return nil, fmt.Errorf("byte flip %q: window %d out of range [1,%d]", name, numBytes, len(value))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ByteFlip{
		baseField: makeBaseField(name, o.fuzzable, len(value)-numBytes+1),
		def:       append([]byte{}, value...),
		numBytes:  numBytes,
	}, nil
}

// Render implements Field.
func (f *ByteFlip) Render(*RenderContext) (Bits, error) {
	if !f.mutating() {
		return BitsFromBytes(f.def), nil
	}
	out := append([]byte{}, f.def...)
	for i := f.index; i < f.index+f.numBytes; i++ {
		out[i] ^= 0xff
	}
	return BitsFromBytes(out), nil
}

// Hash implements Field.
func (f *ByteFlip) Hash() uint64 {
	return fieldHash("ByteFlip", f.name, append([]byte{byte(f.numBytes)}, f.def...))
}

// BlockRemove drops a block of consecutive bytes at every position of a
// fixed payload.
type BlockRemove struct {
	baseField
	def       []byte
	blockSize int
}

// NewBlockRemove returns a field removing blockSize consecutive bytes
// of value per mutation.
func NewBlockRemove(name string, value []byte, blockSize int, opts ...Option) (*BlockRemove, error) {
	if blockSize <= 0 || blockSize > len(value) {
		return nil, fmt.Errorf("block remove %q: block %d out of range [1,%d]", name, blockSize, len(value))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BlockRemove{
		baseField: makeBaseField(name, o.fuzzable, len(value)-blockSize+1),
		def:       append([]byte{}, value...),
		blockSize: blockSize,
	}, nil
}

// Render implements Field.
func (f *BlockRemove) Render(*RenderContext) (Bits, error) {
	if !f.mutating() {
		return BitsFromBytes(f.def), nil
	}
	out := append([]byte{}, f.def[:f.index]...)
	out = append(out, f.def[f.index+f.blockSize:]...)
	return BitsFromBytes(out), nil
}

// Hash implements Field.
func (f *BlockRemove) Hash() uint64 {
	return fieldHash("BlockRemove", f.name, append([]byte{byte(f.blockSize)}, f.def...))
}

// BlockDuplicate repeats a block of consecutive bytes at every position
// of a fixed payload.
type BlockDuplicate struct {
	baseField
	def       []byte
	blockSize int
	numDups   int
}

// NewBlockDuplicate returns a field repeating a blockSize byte block of
// value numDups times per mutation.
func NewBlockDuplicate(name string, value []byte, blockSize, numDups int, opts ...Option) (*BlockDuplicate, error) {
	if blockSize <= 0 || blockSize > len(value) {
		return nil, fmt.Errorf("block duplicate %q: block %d out of range [1,%d]", name, blockSize, len(value))
	}
	if numDups < 2 {
		return nil, fmt.Errorf("block duplicate %q: duplication count %d must be at least 2", name, numDups)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BlockDuplicate{
		baseField: makeBaseField(name, o.fuzzable, len(value)-blockSize+1),
		def:       append([]byte{}, value...),
		blockSize: blockSize,
		numDups:   numDups,
	}, nil
}

// Render implements Field.
func (f *BlockDuplicate) Render(*RenderContext) (Bits, error) {
	if !f.mutating() {
		return BitsFromBytes(f.def), nil
	}
	block := f.def[f.index : f.index+f.blockSize]
	out := append([]byte{}, f.def[:f.index]...)
	out = append(out, bytes.Repeat(block, f.numDups)...)
	out = append(out, f.def[f.index+f.blockSize:]...)
	return BitsFromBytes(out), nil
}

// Hash implements Field.
func (f *BlockDuplicate) Hash() uint64 {
	return fieldHash("BlockDuplicate", f.name, append([]byte{byte(f.blockSize), byte(f.numDups)}, f.def...))
}

// BlockSet overwrites a block of consecutive bytes with a fill byte at
// every position of a fixed payload.
type BlockSet struct {
	baseField
	def       []byte
	blockSize int
	fill      byte
}

// NewBlockSet returns a field overwriting a blockSize byte block of
// value with fill per mutation.
func NewBlockSet(name string, value []byte, blockSize int, fill byte, opts ...Option) (*BlockSet, error) {
	if blockSize <= 0 || blockSize > len(value) {
		return nil, fmt.Errorf("block set %q: block %d out of range [1,%d]", name, blockSize, len(value))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &BlockSet{
		baseField: makeBaseField(name, o.fuzzable, len(value)-blockSize+1),
		def:       append([]byte{}, value...),
		blockSize: blockSize,
		fill:      fill,
	}, nil
}

// Render implements Field.
func (f *BlockSet) Render(*RenderContext) (Bits, error) {
	if !f.mutating() {
		return BitsFromBytes(f.def), nil
	}
	out := append([]byte{}, f.def...)
	for i := f.index; i < f.index+f.blockSize; i++ {
		out[i] = f.fill
	}
	return BitsFromBytes(out), nil
}

// Hash implements Field.
func (f *BlockSet) Hash() uint64 {
	return fieldHash("BlockSet", f.name, append([]byte{byte(f.blockSize), f.fill}, f.def...))
}

// NewBitFlips returns a one-of field combining bit flips with window
// sizes of counts. Without counts the windows 1 to 4 are used.
func NewBitFlips(name string, value []byte, counts ...int) (*OneOf, error) {
	if len(counts) == 0 {
		counts = []int{1, 2, 3, 4}
	}
	fields := make([]Field, 0, len(counts))
	for _, n := range counts {
		f, err := NewBitFlip(fmt.Sprintf("%s_bitflip_%d", name, n), value, n)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return NewOneOf(name, fields)
}

// NewByteFlips returns a one-of field combining byte flips with window
// sizes of counts. Without counts the windows 1, 2 and 4 are used.
func NewByteFlips(name string, value []byte, counts ...int) (*OneOf, error) {
	if len(counts) == 0 {
		counts = []int{1, 2, 4}
	}
	fields := make([]Field, 0, len(counts))
	for _, n := range counts {
		f, err := NewByteFlip(fmt.Sprintf("%s_byteflip_%d", name, n), value, n)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return NewOneOf(name, fields)
}

// NewBlockDuplicates returns a one-of field combining block
// duplications with the repeat counts of counts. Without counts the
// repeats 2, 5 and 10 are used.
func NewBlockDuplicates(name string, value []byte, blockSize int, counts ...int) (*OneOf, error) {
	if len(counts) == 0 {
		counts = []int{2, 5, 10}
	}
	fields := make([]Field, 0, len(counts))
	for _, n := range counts {
		f, err := NewBlockDuplicate(fmt.Sprintf("%s_blockdup_%d", name, n), value, blockSize, n)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return NewOneOf(name, fields)
}

// NewMutableField returns a one-of field combining the full set of
// mechanical mutations over value: bit flips, byte flips, block
// removal, duplication and overwrite.
func NewMutableField(name string, value []byte) (*OneOf, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("mutable field %q: empty value", name)
	}
	var bitCounts, byteCounts []int
	for _, n := range []int{1, 2, 3, 4} {
		if n <= len(value)*8 {
			bitCounts = append(bitCounts, n)
		}
	}
	for _, n := range []int{1, 2, 4} {
		if n <= len(value) {
			byteCounts = append(byteCounts, n)
		}
	}
	bitFlips, err := NewBitFlips(name+"_bitflips", value, bitCounts...)
	if err != nil {
		return nil, err
	}
	byteFlips, err := NewByteFlips(name+"_byteflips", value, byteCounts...)
	if err != nil {
		return nil, err
	}
	blockSize := len(value) / 4
	if blockSize < 1 {
		blockSize = 1
	}
	remove, err := NewBlockRemove(name+"_blockremove", value, blockSize)
	if err != nil {
		return nil, err
	}
	dups, err := NewBlockDuplicates(name+"_blockdups", value, blockSize)
	if err != nil {
		return nil, err
	}
	zero, err := NewBlockSet(name+"_blockzero", value, blockSize, 0x00)
	if err != nil {
		return nil, err
	}
	ff, err := NewBlockSet(name+"_blockff", value, blockSize, 0xff)
	if err != nil {
		return nil, err
	}
	return NewOneOf(name, []Field{bitFlips, byteFlips, remove, dups, zero, ff})
}
