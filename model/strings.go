package model

import (
	"bytes"
	"fmt"
	"strings"
)

// String is a string field with a mutation library of classic textual
// attack payloads: oversized buffers, format strings, injection strings
// and path traversals, plus variations of the default value.
type String struct {
	baseField
	def []byte
	lib [][]byte
	enc StringEncoder
}

// NewString returns a string field rendering value by default.
// WithMaxSize drops library entries longer than the cap, which keeps
// mutations valid for protocols with bounded string fields.
func NewString(name, value string, opts ...Option) *String {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	lib := stringLibrary([]byte(value), o.maxSize)
	return &String{
		baseField: makeBaseField(name, o.fuzzable, len(lib)),
		def:       []byte(value),
		lib:       lib,
		enc:       o.strEncoder,
	}
}

// Render implements Field.
func (s *String) Render(*RenderContext) (Bits, error) {
	v := s.def
	if s.mutating() {
		v = s.lib[s.index]
	}
	b, err := s.enc.EncodeString(v)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", s.name, err)
	}
	return b, nil
}

// Hash implements Field.
func (s *String) Hash() uint64 { return fieldHash("String", s.name, s.def) }

func stringLibrary(value []byte, maxSize int) [][]byte {
	var lib [][]byte
	add := func(entries ...[]byte) {
		for _, e := range entries {
			if maxSize >= 0 && len(e) > maxSize {
				continue
			}
			if bytes.Equal(e, value) {
				continue
			}
			lib = append(lib, e)
		}
	}
	addStr := func(entries ...string) {
		for _, e := range entries {
			add([]byte(e))
		}
	}

	add([]byte{})
	for _, n := range []int{2, 10, 100} {
		if len(value) > 0 {
			add(bytes.Repeat(value, n))
		}
	}
	for _, n := range []int{10, 100, 1000, 5000, 10000, 50000} {
		add(bytes.Repeat([]byte{'A'}, n))
	}
	for _, n := range []int{1, 10, 100} {
		addStr(strings.Repeat("%s", n), strings.Repeat("%x", n), strings.Repeat("%n", n))
	}
	addStr(
		";id",
		"|id",
		"`id`",
		"$(sleep 5)",
		"a);id",
		"() { :;}; id",
		"' or '1'='1",
		"\" or \"1\"=\"1",
		"'; drop table users; --",
		"1 OR 1=1",
		"admin'--",
		strings.Repeat("../", 10)+"etc/passwd",
		strings.Repeat("..\\", 10)+"boot.ini",
		"/etc/passwd\x00",
		"C:\\Windows\\System32\\drivers\\etc\\hosts",
	)
	add(
		[]byte{0x00},
		[]byte{0xff, 0xfe},
		bytes.Repeat([]byte("\r\n"), 100),
		bytes.Repeat([]byte{0x00}, 1000),
	)
	if len(value) > 0 {
		middle := append(append(append([]byte{}, value...), 0x00), value...)
		add(middle)
	}
	return lib
}

// Delimiter separates other fields. Its library removes, multiplies and
// substitutes the separator, which tends to expose parser state machine
// bugs.
type Delimiter struct {
	baseField
	def []byte
	lib [][]byte
	enc StringEncoder
}

// NewDelimiter returns a delimiter field rendering value by default.
func NewDelimiter(name, value string, opts ...Option) *Delimiter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	lib := delimiterLibrary([]byte(value), o.maxSize)
	return &Delimiter{
		baseField: makeBaseField(name, o.fuzzable, len(lib)),
		def:       []byte(value),
		lib:       lib,
		enc:       o.strEncoder,
	}
}

// Render implements Field.
func (d *Delimiter) Render(*RenderContext) (Bits, error) {
	v := d.def
	if d.mutating() {
		v = d.lib[d.index]
	}
	b, err := d.enc.EncodeString(v)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", d.name, err)
	}
	return b, nil
}

// Hash implements Field.
func (d *Delimiter) Hash() uint64 { return fieldHash("Delimiter", d.name, d.def) }

func delimiterLibrary(value []byte, maxSize int) [][]byte {
	var lib [][]byte
	add := func(e []byte) {
		if maxSize >= 0 && len(e) > maxSize {
			return
		}
		if bytes.Equal(e, value) {
			return
		}
		lib = append(lib, e)
	}
	add([]byte{})
	if len(value) > 0 {
		for _, n := range []int{2, 5, 10, 100} {
			add(bytes.Repeat(value, n))
		}
	}
	for _, s := range []string{" ", "\t", "\t ", "\r", "\n", "\r\n", "\x00", ":", "::", ";", ",", ".", "//", "\\"} {
		add([]byte(s))
	}
	return lib
}

// Group renders one value out of a fixed set. The first value is the
// default and every value in the set is a mutation, so a group of verbs
// exercises each one.
type Group struct {
	baseField
	values [][]byte
	enc    StringEncoder
}

// NewGroup returns a group field over values. At least one value is
// required; the first one is the default.
func NewGroup(name string, values []string, opts ...Option) (*Group, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("group %q: needs at least one value", name)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	vs := make([][]byte, len(values))
	for i, v := range values {
		vs[i] = []byte(v)
	}
	return &Group{
		baseField: makeBaseField(name, o.fuzzable, len(vs)),
		values:    vs,
		enc:       o.strEncoder,
	}, nil
}

// Render implements Field.
func (g *Group) Render(*RenderContext) (Bits, error) {
	v := g.values[0]
	if g.mutating() {
		v = g.values[g.index]
	}
	b, err := g.enc.EncodeString(v)
	if err != nil {
		return Bits{}, fmt.Errorf("field %q: %w", g.name, err)
	}
	return b, nil
}

// Hash implements Field.
func (g *Group) Hash() uint64 {
	return fieldHash("Group", g.name, bytes.Join(g.values, []byte{0}))
}
