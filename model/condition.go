package model

import (
	"bytes"
	"fmt"
)

// Condition gates the render of an If or IfNot container. It is
// evaluated against the current (possibly mutated) value of a field in
// the model.
type Condition interface {
	Applies(from Field, ctx *RenderContext) (bool, error)
}

// CompareOp is the comparison operator of a Compare condition.
type CompareOp string

// Comparison operators. The mask operators test bits of integer fields:
// OpMaskSet holds when all mask bits are set, OpMaskClear when none are.
const (
	OpEq        CompareOp = "=="
	OpNeq       CompareOp = "!="
	OpGT        CompareOp = ">"
	OpLT        CompareOp = "<"
	OpGE        CompareOp = ">="
	OpLE        CompareOp = "<="
	OpMaskSet   CompareOp = "&"
	OpMaskClear CompareOp = "&=0"
)

// Compare compares the current value of an integer field against a
// constant.
type Compare struct {
	fieldName string
	op        CompareOp
	value     int64
}

// NewCompare returns a condition comparing the field called fieldName
// with value.
func NewCompare(fieldName string, op CompareOp, value int64) (*Compare, error) {
	switch op {
	case OpEq, OpNeq, OpGT, OpLT, OpGE, OpLE, OpMaskSet, OpMaskClear:
	default:
		return nil, fmt.Errorf("compare on %q: unknown operator %q", fieldName, op)
	}
	return &Compare{fieldName: fieldName, op: op, value: value}, nil
}

// Applies implements Condition.
func (c *Compare) Applies(from Field, _ *RenderContext) (bool, error) {
	f, err := ResolveField(from, c.fieldName)
	if err != nil {
		return false, err
	}
	bf, ok := f.(*BitField)
	if !ok {
		return false, fmt.Errorf("compare: field %q is not an integer field", c.fieldName)
	}
	v := bf.Value()
	switch c.op {
	case OpEq:
		return v == c.value, nil
	case OpNeq:
		return v != c.value, nil
	case OpGT:
		return v > c.value, nil
	case OpLT:
		return v < c.value, nil
	case OpGE:
		return v >= c.value, nil
	case OpLE:
		return v <= c.value, nil
	case OpMaskSet:
		return v&c.value == c.value, nil
	case OpMaskClear:
		return v&c.value == 0, nil
	}
	return false, fmt.Errorf("compare: unknown operator %q", c.op)
}

// InList holds when the current value of an integer field is one of a
// set of constants.
type InList struct {
	fieldName string
	values    []int64
}

// NewInList returns a condition testing membership of the field called
// fieldName in values.
func NewInList(fieldName string, values ...int64) *InList {
	return &InList{fieldName: fieldName, values: values}
}

// Applies implements Condition.
func (l *InList) Applies(from Field, _ *RenderContext) (bool, error) {
	f, err := ResolveField(from, l.fieldName)
	if err != nil {
		return false, err
	}
	bf, ok := f.(*BitField)
	if !ok {
		return false, fmt.Errorf("in list: field %q is not an integer field", l.fieldName)
	}
	v := bf.Value()
	for _, cand := range l.values {
		if v == cand {
			return true, nil
		}
	}
	return false, nil
}

// InStrList holds when the current value of a string-valued field is
// one of a set of strings.
type InStrList struct {
	fieldName string
	values    [][]byte
}

// NewInStrList returns a condition testing membership of the field
// called fieldName in values.
func NewInStrList(fieldName string, values ...string) *InStrList {
	vs := make([][]byte, len(values))
	for i, v := range values {
		vs[i] = []byte(v)
	}
	return &InStrList{fieldName: fieldName, values: vs}
}

// Applies implements Condition.
func (l *InStrList) Applies(from Field, ctx *RenderContext) (bool, error) {
	f, err := ResolveField(from, l.fieldName)
	if err != nil {
		return false, err
	}
	b, err := f.Render(ctx)
	if err != nil {
		return false, err
	}
	cur := b.Bytes()
	for _, cand := range l.values {
		if bytes.Equal(cur, cand) {
			return true, nil
		}
	}
	return false, nil
}

// If renders its children only while its condition holds.
type If struct {
	Container
	cond Condition
}

// NewIf returns a conditional container.
func NewIf(name string, cond Condition, fields []Field, opts ...Option) (*If, error) {
	if cond == nil {
		return nil, fmt.Errorf("if %q: nil condition", name)
	}
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	i := &If{Container: *c, cond: cond}
	i.adopt(i)
	return i, nil
}

// Render implements Field.
func (i *If) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	ok, err := i.cond.Applies(i, ctx)
	if err != nil {
		return Bits{}, fmt.Errorf("container %q: %w", i.name, err)
	}
	if !ok {
		return i.finish(Bits{})
	}
	b, err := i.renderFields(ctx)
	if err != nil {
		return Bits{}, err
	}
	return i.finish(b)
}

// IfNot renders its children only while its condition does not hold.
type IfNot struct {
	Container
	cond Condition
}

// NewIfNot returns a negated conditional container.
func NewIfNot(name string, cond Condition, fields []Field, opts ...Option) (*IfNot, error) {
	if cond == nil {
		return nil, fmt.Errorf("if not %q: nil condition", name)
	}
	c, err := newContainer(name, fields, opts...)
	if err != nil {
		return nil, err
	}
	i := &IfNot{Container: *c, cond: cond}
	i.adopt(i)
	return i, nil
}

// Render implements Field.
func (i *IfNot) Render(ctx *RenderContext) (Bits, error) {
	if ctx == nil {
		ctx = &RenderContext{}
	}
	ok, err := i.cond.Applies(i, ctx)
	if err != nil {
		return Bits{}, fmt.Errorf("container %q: %w", i.name, err)
	}
	if ok {
		return i.finish(Bits{})
	}
	b, err := i.renderFields(ctx)
	if err != nil {
		return Bits{}, err
	}
	return i.finish(b)
}
