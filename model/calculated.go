package model

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"hash/adler32"
	"hash/crc32"

	"golang.org/x/crypto/sha3"
)

// The calculated fields derive their value from another field in the
// model, resolved by name at render time. When the dependency encloses
// the calculated field itself, the first render pass of the template
// produces a zero placeholder and the second pass the real value.
//
// Design decision: calculated fields are not fuzzable unless enabled
// explicitly. Mutating a checksum or a length usually just gets the
// message rejected up front; enabling it is a deliberate choice.

func zeroBits(n int) Bits {
	return Bits{data: make([]byte, (n+7)/8), n: n}
}

// renderDependency resolves and renders the field depName relative to
// from. ok is false when the dependency is currently being rendered and
// no cached value exists yet; the caller then renders its placeholder.
func renderDependency(from Field, depName string, ctx *RenderContext) (b Bits, ok bool, err error) {
	dep, err := ResolveField(from, depName)
	if err != nil {
		return Bits{}, false, err
	}
	if ctx.contains(dep) {
		cr, isCached := dep.(interface{ cachedRender() (Bits, bool) })
		if !isCached {
			return Bits{}, false, nil
		}
		cached, has := cr.cachedRender()
		if !has {
			return Bits{}, false, nil
		}
		return cached, true, nil
	}
	b, err = dep.Render(ctx)
	if err != nil {
		return Bits{}, false, err
	}
	return b, true, nil
}

// flipIfMutating applies the single bit flip mutations of a fuzzable
// calculated field to its computed value.
func (b *baseField) flipIfMutating(v Bits) Bits {
	if !b.mutating() || v.Len() == 0 {
		return v
	}
	return v.Flip(b.index%v.Len(), 1)
}

// Size renders the byte length of another field's render.
type Size struct {
	baseField
	depName string
	length  int
	enc     IntEncoder
	calc    func(byteLen int) int64
}

// WithSizeFunc derives the rendered count from the dependency's byte
// length, for protocols that count in units other than bytes.
func WithSizeFunc(f func(byteLen int) int64) Option {
	return func(o *options) { o.sizeFunc = f }
}

// NewSize returns a field rendering the byte length of the field called
// of, encoded as a length bit integer.
func NewSize(name, of string, length int, opts ...Option) (*Size, error) {
	if length < 1 || length > 64 {
		return nil, fmt.Errorf("size %q: length %d out of range [1,64]", name, length)
	}
	o := defaultOptions()
	o.fuzzable = false
	for _, opt := range opts {
		opt(&o)
	}
	calc := o.sizeFunc
	if calc == nil {
		calc = func(n int) int64 { return int64(n) }
	}
	return &Size{
		baseField: makeBaseField(name, o.fuzzable, length),
		depName:   of,
		length:    length,
		enc:       o.intEncoder,
		calc:      calc,
	}, nil
}

// Render implements Field.
func (s *Size) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	dep, ok, err := renderDependency(s, s.depName, ctx)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", s.name, err)
	}
	if !ok {
		return s.flipIfMutating(zeroBits(s.length)), nil
	}
	v, err := s.enc.EncodeInt(s.calc(len(dep.Bytes())), s.length, false)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", s.name, err)
	}
	return s.flipIfMutating(v), nil
}

// Hash implements Field.
func (s *Size) Hash() uint64 {
	return fieldHash("Size", s.name, []byte(fmt.Sprintf("%s/%d", s.depName, s.length)))
}

// ChecksumKind selects the checksum algorithm of a Checksum field.
type ChecksumKind string

// Supported checksum algorithms.
const (
	ChecksumCRC32   ChecksumKind = "crc32"
	ChecksumAdler32 ChecksumKind = "adler32"
)

// Checksum renders a 32 bit checksum of another field's render.
type Checksum struct {
	baseField
	depName string
	kind    ChecksumKind
	enc     IntEncoder
}

// NewChecksum returns a field rendering the checksum of the field
// called of.
func NewChecksum(name, of string, kind ChecksumKind, opts ...Option) (*Checksum, error) {
	switch kind {
	case ChecksumCRC32, ChecksumAdler32:
	default:
		return nil, fmt.Errorf("checksum %q: unknown algorithm %q", name, kind)
	}
	o := defaultOptions()
	o.fuzzable = false
	for _, opt := range opts {
		opt(&o)
	}
	return &Checksum{
		baseField: makeBaseField(name, o.fuzzable, 32),
		depName:   of,
		kind:      kind,
		enc:       o.intEncoder,
	}, nil
}

// Render implements Field.
func (c *Checksum) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	dep, ok, err := renderDependency(c, c.depName, ctx)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", c.name, err)
	}
	if !ok {
		return c.flipIfMutating(zeroBits(32)), nil
	}
	var sum uint32
	switch c.kind {
	case ChecksumCRC32:
		sum = crc32.ChecksumIEEE(dep.Bytes())
	case ChecksumAdler32:
		sum = adler32.Checksum(dep.Bytes())
	}
	v, err := c.enc.EncodeInt(int64(sum), 32, false)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", c.name, err)
	}
	return c.flipIfMutating(v), nil
}

// Hash implements Field.
func (c *Checksum) Hash() uint64 {
	return fieldHash("Checksum", c.name, []byte(c.depName+"/"+string(c.kind)))
}

// HashKind selects the digest algorithm of a Hash field.
type HashKind string

// Supported digest algorithms.
const (
	HashMD5     HashKind = "md5"
	HashSHA1    HashKind = "sha1"
	HashSHA224  HashKind = "sha224"
	HashSHA256  HashKind = "sha256"
	HashSHA384  HashKind = "sha384"
	HashSHA512  HashKind = "sha512"
	HashSHA3256 HashKind = "sha3-256"
	HashSHA3512 HashKind = "sha3-512"
)

func newDigest(kind HashKind) (func() hash.Hash, bool) {
	switch kind {
	case HashMD5:
		return md5.New, true
	case HashSHA1:
		return sha1.New, true
	case HashSHA224:
		return sha256.New224, true
	case HashSHA256:
		return sha256.New, true
	case HashSHA384:
		return sha512.New384, true
	case HashSHA512:
		return sha512.New, true
	case HashSHA3256:
		return func() hash.Hash { return sha3.New256() }, true
	case HashSHA3512:
		return func() hash.Hash { return sha3.New512() }, true
	}
	return nil, false
}

// Hash renders a message digest of another field's render.
type Hash struct {
	baseField
	depName string
	kind    HashKind
	digest  func() hash.Hash
	bits    int
}

// NewHash returns a field rendering the digest of the field called of.
func NewHash(name, of string, kind HashKind, opts ...Option) (*Hash, error) {
	digest, ok := newDigest(kind)
	if !ok {
		return nil, fmt.Errorf("hash %q: unknown algorithm %q", name, kind)
	}
	o := defaultOptions()
	o.fuzzable = false
	for _, opt := range opts {
		opt(&o)
	}
	bits := digest().Size() * 8
	return &Hash{
		baseField: makeBaseField(name, o.fuzzable, bits),
		depName:   of,
		kind:      kind,
		digest:    digest,
		bits:      bits,
	}, nil
}

// Render implements Field.
func (h *Hash) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	dep, ok, err := renderDependency(h, h.depName, ctx)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", h.name, err)
	}
	if !ok {
		return h.flipIfMutating(zeroBits(h.bits)), nil
	}
	d := h.digest()
	d.Write(dep.Bytes())
	return h.flipIfMutating(BitsFromBytes(d.Sum(nil))), nil
}

// Hash implements Field.
func (h *Hash) Hash() uint64 {
	return fieldHash("Hash", h.name, []byte(h.depName+"/"+string(h.kind)))
}

// Clone renders the same bits as another field.
type Clone struct {
	baseField
	depName string
}

// NewClone returns a field mirroring the render of the field called of.
func NewClone(name, of string) *Clone {
	return &Clone{
		baseField: makeBaseField(name, false, 0),
		depName:   of,
	}
}

// Render implements Field.
func (c *Clone) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	dep, ok, err := renderDependency(c, c.depName, ctx)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", c.name, err)
	}
	if !ok {
		return Bits{}, nil
	}
	return dep, nil
}

// Hash implements Field.
func (c *Clone) Hash() uint64 { return fieldHash("Clone", c.name, []byte(c.depName)) }

// ElementCount renders the number of direct children of a container.
type ElementCount struct {
	baseField
	depName string
	length  int
	enc     IntEncoder
}

// NewElementCount returns a field rendering the child count of the
// container called of, encoded as a length bit integer.
func NewElementCount(name, of string, length int, opts ...Option) (*ElementCount, error) {
	if length < 1 || length > 64 {
		return nil, fmt.Errorf("element count %q: length %d out of range [1,64]", name, length)
	}
	o := defaultOptions()
	o.fuzzable = false
	for _, opt := range opts {
		opt(&o)
	}
	return &ElementCount{
		baseField: makeBaseField(name, o.fuzzable, length),
		depName:   of,
		length:    length,
		enc:       o.intEncoder,
	}, nil
}

// Render implements Field.
func (e *ElementCount) Render(ctx *RenderContext) (Bits, error) {
	dep, err := ResolveField(e, e.depName)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", e.name, err)
	}
	holder, ok := dep.(interface{ Fields() []Field })
	if !ok {
		return Bits{}, fmt.Errorf("field %q: %q is not a container", e.name, e.depName)
	}
	v, err := e.enc.EncodeInt(int64(len(holder.Fields())), e.length, false)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", e.name, err)
	}
	return e.flipIfMutating(v), nil
}

// Hash implements Field.
func (e *ElementCount) Hash() uint64 {
	return fieldHash("ElementCount", e.name, []byte(fmt.Sprintf("%s/%d", e.depName, e.length)))
}

// IndexOf renders the ordinal of a field within its enclosing container.
type IndexOf struct {
	baseField
	depName string
	length  int
	enc     IntEncoder
}

// NewIndexOf returns a field rendering the position of the field called
// of among its siblings, encoded as a length bit integer.
func NewIndexOf(name, of string, length int, opts ...Option) (*IndexOf, error) {
	if length < 1 || length > 64 {
		return nil, fmt.Errorf("index of %q: length %d out of range [1,64]", name, length)
	}
	o := defaultOptions()
	o.fuzzable = false
	for _, opt := range opts {
		opt(&o)
	}
	return &IndexOf{
		baseField: makeBaseField(name, o.fuzzable, length),
		depName:   of,
		length:    length,
		enc:       o.intEncoder,
	}, nil
}

// Render implements Field.
func (i *IndexOf) Render(ctx *RenderContext) (Bits, error) {
	dep, err := ResolveField(i, i.depName)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", i.name, err)
	}
	parent := dep.encloser()
	if parent == nil {
		return Bits{}, fmt.Errorf("field %q: %q has no enclosing container", i.name, i.depName)
	}
	holder, ok := parent.(interface{ Fields() []Field })
	if !ok {
		return Bits{}, fmt.Errorf("field %q: encloser of %q is not a container", i.name, i.depName)
	}
	idx := int64(-1)
	for n, f := range holder.Fields() {
		if f == dep {
			idx = int64(n)
			break
		}
	}
	if idx < 0 {
		return Bits{}, fmt.Errorf("field %q: %q not found among its siblings", i.name, i.depName)
	}
	v, err := i.enc.EncodeInt(idx, i.length, false)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", i.name, err)
	}
	return i.flipIfMutating(v), nil
}

// Hash implements Field.
func (i *IndexOf) Hash() uint64 {
	return fieldHash("IndexOf", i.name, []byte(fmt.Sprintf("%s/%d", i.depName, i.length)))
}
