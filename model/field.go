package model

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// Field is a node in a data model. A field renders its current value to
// bits and owns a finite mutation library. Mutations are applied one at a
// time: Mutate advances to the next one and reports false once the
// library is exhausted, Reset restores the default value.
type Field interface {
	// Name returns the field name. Names are unique within the
	// enclosing container.
	Name() string
	// NumMutations returns the size of the mutation library.
	NumMutations() int
	// Mutate advances to the next mutation. It returns false when the
	// library is exhausted, leaving the current value untouched.
	Mutate() bool
	// Skip fast-forwards up to count mutations and returns the number
	// actually skipped.
	Skip(count int) int
	// Reset restores the default value and rewinds the mutation state.
	Reset()
	// Render encodes the current value. ctx carries render state across
	// the field tree; passing nil is allowed.
	Render(ctx *RenderContext) (Bits, error)
	// Hash returns a structural hash of the field. It is stable across
	// process runs and is used to validate resumed sessions.
	Hash() uint64

	setEncloser(f Field)
	encloser() Field
	findChild(name string) Field
	applySessionData(data map[string][]byte)
}

// RenderContext tracks the fields currently being rendered. Calculated
// fields use it to detect render cycles.
type RenderContext struct {
	stack []Field
}

func (c *RenderContext) push(f Field) { c.stack = append(c.stack, f) }

func (c *RenderContext) pop() { c.stack = c.stack[:len(c.stack)-1] }

func (c *RenderContext) contains(f Field) bool {
	for _, s := range c.stack {
		if s == f {
			return true
		}
	}
	return false
}

// Option configures optional field attributes. Options that do not apply
// to the constructed field type are ignored.
type Option func(*options)

type options struct {
	fuzzable   bool
	strEncoder StringEncoder
	intEncoder IntEncoder
	bitsEnc    BitsEncoder
	maxSize    int
	seed       uint64
	step       int
	mutations  int
	signed     bool
	hasRange   bool
	rangeMin   int64
	rangeMax   int64
	sizeFunc   func(byteLen int) int64
}

func defaultOptions() options {
	return options{
		fuzzable:   true,
		strEncoder: EncStrDefault,
		intEncoder: EncIntBE,
		bitsEnc:    EncBitsNone,
		maxSize:    -1,
		seed:       0x4b697474, // arbitrary fixed default, keeps renders reproducible
		mutations:  25,
	}
}

// NotFuzzable excludes the field from mutation.
func NotFuzzable() Option {
	return func(o *options) { o.fuzzable = false }
}

// WithStringEncoder sets the encoder of a string-valued field.
func WithStringEncoder(e StringEncoder) Option {
	return func(o *options) { o.strEncoder = e }
}

// WithIntEncoder sets the encoder of an integer-valued field.
func WithIntEncoder(e IntEncoder) Option {
	return func(o *options) { o.intEncoder = e }
}

// WithBitsEncoder sets the post-render encoder of a container.
func WithBitsEncoder(e BitsEncoder) Option {
	return func(o *options) { o.bitsEnc = e }
}

// WithMaxSize caps string mutations at n bytes. Library entries longer
// than the cap are dropped.
func WithMaxSize(n int) Option {
	return func(o *options) { o.maxSize = n }
}

// WithSeed sets the random seed of a RandomBytes field.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithStep makes a RandomBytes field walk lengths deterministically in
// increments of step instead of drawing them at random.
func WithStep(step int) Option {
	return func(o *options) { o.step = step }
}

// WithMutationCount sets the mutation count of a RandomBytes field.
func WithMutationCount(n int) Option {
	return func(o *options) { o.mutations = n }
}

// baseField carries the state shared by every field: identity, the
// mutation cursor and the enclosing container link. index is -1 while
// the field holds its default value.
type baseField struct {
	name     string
	fuzzable bool
	total    int
	index    int
	parent   Field
}

func makeBaseField(name string, fuzzable bool, total int) baseField {
	return baseField{name: name, fuzzable: fuzzable, total: total, index: -1}
}

func (b *baseField) Name() string { return b.name }

func (b *baseField) NumMutations() int {
	if !b.fuzzable {
		return 0
	}
	return b.total
}

func (b *baseField) Mutate() bool {
	if !b.fuzzable || b.index+1 >= b.total {
		return false
	}
	b.index++
	return true
}

func (b *baseField) Skip(count int) int {
	if !b.fuzzable || count <= 0 {
		return 0
	}
	remaining := b.total - (b.index + 1)
	if count > remaining {
		count = remaining
	}
	b.index += count
	return count
}

func (b *baseField) Reset() { b.index = -1 }

func (b *baseField) setEncloser(f Field) { b.parent = f }

func (b *baseField) encloser() Field { return b.parent }

func (b *baseField) findChild(string) Field { return nil }

func (b *baseField) applySessionData(map[string][]byte) {}

// mutating reports whether the field currently holds a mutated value.
func (b *baseField) mutating() bool { return b.index >= 0 }

// fieldHash hashes the structural identity of a field. Two fields hash
// equal when they have the same kind, name and default value.
func fieldHash(kind, name string, defaultValue []byte) uint64 {
	h := fnv.New64a()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(defaultValue)
	return h.Sum64()
}

// ResolveField finds the field called name relative to start. The search
// walks up through the enclosing containers, looking down into each one's
// descendants, so a field can reference a sibling anywhere in the tree.
func ResolveField(start Field, name string) (Field, error) {
	if start.Name() == name {
		return start, nil
	}
	if f := start.findChild(name); f != nil {
		return f, nil
	}
	for cur := start.encloser(); cur != nil; cur = cur.encloser() {
		if cur.Name() == name {
			return cur, nil
		}
		if f := cur.findChild(name); f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("field %q not found from %q", name, start.Name())
}

// Static is a fixed value that is never mutated.
type Static struct {
	baseField
	value Bits
}

// NewStatic returns a field that always renders value.
func NewStatic(name string, value []byte) *Static {
	return &Static{
		baseField: makeBaseField(name, false, 0),
		value:     BitsFromBytes(value),
	}
}

// Render implements Field.
func (s *Static) Render(*RenderContext) (Bits, error) { return s.value, nil }

// Hash implements Field.
func (s *Static) Hash() uint64 { return fieldHash("Static", s.name, s.value.Bytes()) }

// Dynamic renders a value injected at runtime under a session data key,
// falling back to a default. When fuzzable, its mutations are single bit
// flips of the value.
type Dynamic struct {
	baseField
	key     string
	def     []byte
	session []byte
}

// NewDynamic returns a dynamic field bound to the session data key.
// Dynamic fields are not fuzzable unless enabled with an option, since
// their value usually has to stay valid for the session to progress.
func NewDynamic(name, key string, defaultValue []byte, opts ...Option) *Dynamic {
	o := defaultOptions()
	o.fuzzable = false
	for _, opt := range opts {
		opt(&o)
	}
	return &Dynamic{
		baseField: makeBaseField(name, o.fuzzable, len(defaultValue)*8),
		key:       key,
		def:       defaultValue,
	}
}

// Fuzzable re-enables mutations on a field type that defaults to not
// fuzzable.
func Fuzzable() Option {
	return func(o *options) { o.fuzzable = true }
}

// Key returns the session data key the field is bound to.
func (d *Dynamic) Key() string { return d.key }

func (d *Dynamic) applySessionData(data map[string][]byte) {
	if v, ok := data[d.key]; ok {
		d.session = append(d.session[:0], v...)
	}
}

// Render implements Field.
func (d *Dynamic) Render(*RenderContext) (Bits, error) {
	base := d.def
	if d.session != nil {
		base = d.session
	}
	b := BitsFromBytes(base)
	if !d.mutating() {
		return b, nil
	}
	if b.Len() == 0 {
		return b, nil
	}
	return b.Flip(d.index%b.Len(), 1), nil
}

// Hash implements Field.
func (d *Dynamic) Hash() uint64 {
	return fieldHash("Dynamic", d.name, append([]byte(d.key+"\x00"), d.def...))
}

// RandomBytes renders pseudo random byte sequences with lengths between
// a minimum and a maximum. The sequence only depends on the seed and the
// mutation index, so renders are reproducible.
type RandomBytes struct {
	baseField
	def       []byte
	minLength int
	maxLength int
	seed      uint64
	step      int
}

// NewRandomBytes returns a field rendering value by default and random
// buffers of minLength..maxLength bytes while mutating. With WithStep
// the lengths advance deterministically and the mutation count follows
// from the length range; otherwise WithMutationCount controls it.
func NewRandomBytes(name string, value []byte, minLength, maxLength int, opts ...Option) (*RandomBytes, error) {
	if minLength < 0 {
		return nil, fmt.Errorf("random bytes %q: negative min length %d", name, minLength)
	}
	if maxLength < minLength {
		return nil, fmt.Errorf("random bytes %q: max length %d below min length %d", name, maxLength, minLength)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	total := o.mutations
	if o.step > 0 {
		total = (maxLength-minLength)/o.step + 1
	}
	if total <= 0 {
		return nil, fmt.Errorf("random bytes %q: mutation count %d must be positive", name, total)
	}
	return &RandomBytes{
		baseField: makeBaseField(name, o.fuzzable, total),
		def:       append([]byte{}, value...),
		minLength: minLength,
		maxLength: maxLength,
		seed:      o.seed,
		step:      o.step,
	}, nil
}

// Render implements Field.
func (r *RandomBytes) Render(*RenderContext) (Bits, error) {
	if !r.mutating() {
		return BitsFromBytes(r.def), nil
	}
	rng := rand.New(rand.NewPCG(r.seed, uint64(r.index)))
	length := 0
	if r.step > 0 {
		length = r.minLength + r.index*r.step
	} else {
		length = r.minLength + rng.IntN(r.maxLength-r.minLength+1)
	}
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = byte(rng.UintN(256))
	}
	return BitsFromBytes(buf), nil
}

// Hash implements Field.
func (r *RandomBytes) Hash() uint64 { return fieldHash("RandomBytes", r.name, r.def) }
