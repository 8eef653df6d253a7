package model

import (
	"fmt"
	"hash/fnv"
)

// Container composes fields into a tree node. Mutating a container steps
// through the mutations of each child in order while the other children
// keep their default value, so the container's mutation count is the sum
// over its children.
type Container struct {
	baseField
	self     Field
	fields   []Field
	fieldIdx int
	enc      BitsEncoder

	rendered     bool
	lastRendered Bits
}

// NewContainer returns a container over fields. Direct children with a
// non-empty name must be uniquely named.
func NewContainer(name string, fields []Field, opts ...Option) (*Container, error) {
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	c.adopt(c)
	return c, nil
}

func newContainer(name string, fields []Field, opts ...Option) (*Container, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	seen := map[string]bool{}
	for _, f := range fields {
		n := f.Name()
		if n == "" {
			continue
		}
		if seen[n] {
			return nil, fmt.Errorf("container %q: duplicate field name %q", name, n)
		}
		seen[n] = true
	}
	return &Container{
		baseField: makeBaseField(name, o.fuzzable, 0),
		fields:    fields,
		enc:       o.bitsEnc,
	}, nil
}

// adopt finalizes the tree wiring. self is the outermost value when the
// container is embedded in another type, so that resolution and render
// cycle checks see the embedding field.
func (c *Container) adopt(self Field) {
	c.self = self
	for _, f := range c.fields {
		f.setEncloser(self)
	}
}

// Fields returns the direct children in order.
func (c *Container) Fields() []Field { return c.fields }

// NumMutations implements Field.
func (c *Container) NumMutations() int {
	if !c.fuzzable {
		return 0
	}
	total := 0
	for _, f := range c.fields {
		total += f.NumMutations()
	}
	return total
}

// Mutate implements Field.
func (c *Container) Mutate() bool {
	if !c.fuzzable {
		return false
	}
	for c.fieldIdx < len(c.fields) {
		if c.fields[c.fieldIdx].Mutate() {
			return true
		}
		c.fields[c.fieldIdx].Reset()
		c.fieldIdx++
	}
	return false
}

// Skip implements Field.
func (c *Container) Skip(count int) int {
	if !c.fuzzable || count <= 0 {
		return 0
	}
	skipped := 0
	for skipped < count && c.fieldIdx < len(c.fields) {
		skipped += c.fields[c.fieldIdx].Skip(count - skipped)
		if skipped < count {
			c.fields[c.fieldIdx].Reset()
			c.fieldIdx++
		}
	}
	return skipped
}

// Reset implements Field.
func (c *Container) Reset() {
	for _, f := range c.fields {
		f.Reset()
	}
	c.fieldIdx = 0
	c.rendered = false
}

// Render implements Field.
func (c *Container) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	b, err := c.renderFields(ctx)
	if err != nil {
		return Bits{}, err
	}
	return c.finish(b)
}

// renderFields concatenates the renders of the direct children.
func (c *Container) renderFields(ctx *RenderContext) (Bits, error) {
	ctx.push(c.self)
	defer ctx.pop()
	parts := make([]Bits, 0, len(c.fields))
	for _, f := range c.fields {
		b, err := f.Render(ctx)
		if err != nil {
			return Bits{}, fmt.Errorf("container %q: %w", c.name, err)
		}
		parts = append(parts, b)
	}
	return Bits{}.Concat(parts...), nil
}

// finish runs the container encoder and caches the result for render
// cycle resolution.
func (c *Container) finish(b Bits) (Bits, error) {
	out, err := c.enc.EncodeBits(b)
	if err != nil {
		return Bits{}, fmt.Errorf("container %q: %w", c.name, err)
	}
	c.lastRendered = out
	c.rendered = true
	return out, nil
}

func (c *Container) cachedRender() (Bits, bool) { return c.lastRendered, c.rendered }

func (c *Container) clearCache() {
	c.rendered = false
	for _, f := range c.fields {
		if cc, ok := f.(interface{ clearCache() }); ok {
			cc.clearCache()
		}
	}
}

func (c *Container) findChild(name string) Field {
	for _, f := range c.fields {
		if f.Name() == name {
			return f
		}
		if g := f.findChild(name); g != nil {
			return g
		}
	}
	return nil
}

func (c *Container) applySessionData(data map[string][]byte) {
	for _, f := range c.fields {
		f.applySessionData(data)
	}
}

// Hash implements Field.
func (c *Container) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte("Container"))
	h.Write([]byte{0})
	h.Write([]byte(c.name))
	for _, f := range c.fields {
		var buf [8]byte
		v := f.Hash()
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> uint(56-8*i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Meta mutates like a regular container but always renders empty. It
// drives fields whose value matters to the model, not to the payload.
type Meta struct {
	Container
}

// NewMeta returns a meta container over fields.
func NewMeta(name string, fields []Field, opts ...Option) (*Meta, error) {
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	m := &Meta{Container: *c}
	m.adopt(m)
	return m, nil
}

// Render implements Field.
func (m *Meta) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	if _, err := m.renderFields(ctx); err != nil {
		return Bits{}, err
	}
	return m.finish(Bits{})
}

// Pad aligns the render of its children by appending padding.
type Pad struct {
	Container
	alignBits int
	padValue  byte
}

// NewPad returns a container whose render is padded with padValue bytes
// up to a multiple of alignBits bits.
func NewPad(name string, alignBits int, padValue byte, fields []Field, opts ...Option) (*Pad, error) {
	if alignBits <= 0 {
		return nil, fmt.Errorf("pad %q: alignment %d must be positive", name, alignBits)
	}
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	p := &Pad{Container: *c, alignBits: alignBits, padValue: padValue}
	p.adopt(p)
	return p, nil
}

// Render implements Field.
func (p *Pad) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	b, err := p.renderFields(ctx)
	if err != nil {
		return Bits{}, err
	}
	if rem := b.Len() % p.alignBits; rem != 0 {
		pad := p.alignBits - rem
		unit := BitsFromBytes([]byte{p.padValue})
		fill := unit.Repeat((pad + 7) / 8).Slice(0, pad)
		b = b.Concat(fill)
	}
	return p.finish(b)
}

// Trunc caps the render of its children at a maximum number of bits.
type Trunc struct {
	Container
	maxBits int
}

// NewTrunc returns a container whose render is truncated to maxBits.
func NewTrunc(name string, maxBits int, fields []Field, opts ...Option) (*Trunc, error) {
	if maxBits < 0 {
		return nil, fmt.Errorf("trunc %q: negative size %d", name, maxBits)
	}
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	t := &Trunc{Container: *c, maxBits: maxBits}
	t.adopt(t)
	return t, nil
}

// Render implements Field.
func (t *Trunc) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	b, err := t.renderFields(ctx)
	if err != nil {
		return Bits{}, err
	}
	if b.Len() > t.maxBits {
		b = b.Slice(0, t.maxBits)
	}
	return t.finish(b)
}

// Repeat renders its children multiple times. Its first mutation stage
// walks the repeat count from the minimum to the maximum; afterwards the
// children mutate with the count back at the minimum.
type Repeat struct {
	Container
	minTimes   int
	maxTimes   int
	step       int
	stageIdx   int
	childPhase bool
}

// NewRepeat returns a repeating container. minTimes..maxTimes is the
// repeat count range and step its increment.
func NewRepeat(name string, minTimes, maxTimes, step int, fields []Field, opts ...Option) (*Repeat, error) {
	if minTimes < 0 || maxTimes < minTimes {
		return nil, fmt.Errorf("repeat %q: invalid range [%d,%d]", name, minTimes, maxTimes)
	}
	if step <= 0 {
		return nil, fmt.Errorf("repeat %q: step %d must be positive", name, step)
	}
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	r := &Repeat{Container: *c, minTimes: minTimes, maxTimes: maxTimes, step: step, stageIdx: -1}
	r.adopt(r)
	return r, nil
}

func (r *Repeat) countMutations() int { return (r.maxTimes - r.minTimes) / r.step }

// NumMutations implements Field.
func (r *Repeat) NumMutations() int {
	if !r.fuzzable {
		return 0
	}
	return r.countMutations() + r.Container.NumMutations()
}

// Mutate implements Field.
func (r *Repeat) Mutate() bool {
	if !r.fuzzable {
		return false
	}
	if !r.childPhase {
		if r.stageIdx+1 < r.countMutations() {
			r.stageIdx++
			return true
		}
		r.childPhase = true
	}
	return r.Container.Mutate()
}

// Skip implements Field.
func (r *Repeat) Skip(count int) int {
	skipped := 0
	for skipped < count && r.Mutate() {
		skipped++
	}
	return skipped
}

// Reset implements Field.
func (r *Repeat) Reset() {
	r.stageIdx = -1
	r.childPhase = false
	r.Container.Reset()
}

func (r *Repeat) times() int {
	if r.childPhase || r.stageIdx < 0 {
		return r.minTimes
	}
	return r.minTimes + (r.stageIdx+1)*r.step
}

// Render implements Field.
func (r *Repeat) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	b, err := r.renderFields(ctx)
	if err != nil {
		return Bits{}, err
	}
	return r.finish(b.Repeat(r.times()))
}

// OneOf renders exactly one of its children at a time. Each child
// contributes one mutation for its default value plus its own library,
// so alternative message layouts are explored one by one.
type OneOf struct {
	Container
	selIdx int
}

// NewOneOf returns a one-of container over fields. When not mutating it
// renders the default of the first child.
func NewOneOf(name string, fields []Field, opts ...Option) (*OneOf, error) {
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	o := &OneOf{Container: *c, selIdx: -1}
	o.adopt(o)
	return o, nil
}

// NumMutations implements Field.
func (o *OneOf) NumMutations() int {
	if !o.fuzzable {
		return 0
	}
	total := 0
	for _, f := range o.fields {
		total += 1 + f.NumMutations()
	}
	return total
}

// Mutate implements Field.
func (o *OneOf) Mutate() bool {
	if !o.fuzzable || len(o.fields) == 0 {
		return false
	}
	if o.selIdx == -1 {
		o.selIdx = 0
		return true
	}
	if o.fields[o.selIdx].Mutate() {
		return true
	}
	if o.selIdx+1 < len(o.fields) {
		o.fields[o.selIdx].Reset()
		o.selIdx++
		return true
	}
	return false
}

// Skip implements Field.
func (o *OneOf) Skip(count int) int {
	skipped := 0
	for skipped < count && o.Mutate() {
		skipped++
	}
	return skipped
}

// Reset implements Field.
func (o *OneOf) Reset() {
	o.selIdx = -1
	o.Container.Reset()
}

// Render implements Field.
func (o *OneOf) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	if len(o.fields) == 0 {
		return o.finish(Bits{})
	}
	idx := o.selIdx
	if idx < 0 {
		idx = 0
	}
	ctx.push(o.self)
	b, err := o.fields[idx].Render(ctx)
	ctx.pop()
	if err != nil {
		return Bits{}, fmt.Errorf("container %q: %w", o.name, err)
	}
	return o.finish(b)
}

// ForEach repeats the mutations of its children for every mutation of a
// driving field. The driving field stands outside the rendered tree; it
// typically feeds the model through a Clone or a condition.
type ForEach struct {
	Container
	target  Field
	started bool
}

// NewForEach returns a container whose children re-run their full
// mutation library once per mutation of target.
func NewForEach(name string, target Field, fields []Field, opts ...Option) (*ForEach, error) {
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	fe := &ForEach{Container: *c, target: target}
	fe.adopt(fe)
	return fe, nil
}

// NumMutations implements Field.
func (fe *ForEach) NumMutations() int {
	if !fe.fuzzable {
		return 0
	}
	return fe.target.NumMutations() * fe.Container.NumMutations()
}

// Mutate implements Field.
func (fe *ForEach) Mutate() bool {
	if !fe.fuzzable {
		return false
	}
	if !fe.started {
		if !fe.target.Mutate() {
			return false
		}
		fe.started = true
		return fe.Container.Mutate()
	}
	if fe.Container.Mutate() {
		return true
	}
	if !fe.target.Mutate() {
		return false
	}
	fe.Container.Reset()
	return fe.Container.Mutate()
}

// Skip implements Field.
func (fe *ForEach) Skip(count int) int {
	skipped := 0
	for skipped < count && fe.Mutate() {
		skipped++
	}
	return skipped
}

// Reset implements Field.
func (fe *ForEach) Reset() {
	fe.started = false
	fe.target.Reset()
	fe.Container.Reset()
}

// Template is the top level container of a data model. Its render is
// byte aligned and runs in two passes so calculated fields enclosed by
// their own dependency see the full first pass value.
type Template struct {
	Container
}

// NewTemplate returns a template over fields.
func NewTemplate(name string, fields []Field, opts ...Option) (*Template, error) {
	c, err := newContainer(name, fields, append([]Option{WithBitsEncoder(EncBitsByteAligned)}, opts...)...)
	if err != nil {
		return nil, err
	}
	t := &Template{Container: *c}
	t.adopt(t)
	return t, nil
}

// Render implements Field.
func (t *Template) Render(ctx *RenderContext) (Bits, error) {
	t.clearCache()
	if _, err := t.Container.Render(&RenderContext{}); err != nil {
		return Bits{}, err
	}
	return t.Container.Render(&RenderContext{})
}

// RenderBytes renders the template to its final byte-aligned payload.
func (t *Template) RenderBytes() ([]byte, error) {
	b, err := t.Render(nil)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// SetSessionData pushes runtime values to the Dynamic fields of the
// model before a render.
func (t *Template) SetSessionData(data map[string][]byte) {
	t.applySessionData(data)
}

// Hash implements Field. The hash identifies the model structure when a
// stored session is resumed.
func (t *Template) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte("Template"))
	h.Write([]byte{0})
	h.Write([]byte(t.name))
	var buf [8]byte
	v := t.Container.Hash()
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> uint(56-8*i))
	}
	h.Write(buf[:])
	return h.Sum64()
}
