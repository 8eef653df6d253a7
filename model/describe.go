package model

import (
	"fmt"
	"strings"
)

// FieldInfo is a serializable description of a field tree node. The
// CLIs print it and the web interface ships it as template info.
type FieldInfo struct {
	Name         string       `json:"name"`
	Kind         string       `json:"kind"`
	NumMutations int          `json:"num_mutations"`
	Fields       []*FieldInfo `json:"fields,omitempty"`
}

// Describe returns the description of f and its descendants.
func Describe(f Field) *FieldInfo {
	info := &FieldInfo{
		Name:         f.Name(),
		Kind:         kindOf(f),
		NumMutations: f.NumMutations(),
	}
	if holder, ok := f.(interface{ Fields() []Field }); ok {
		for _, child := range holder.Fields() {
			info.Fields = append(info.Fields, Describe(child))
		}
	}
	return info
}

func kindOf(f Field) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", f), "*model.")
}

// WriteTree writes an indented tree of the description to sb.
func (i *FieldInfo) WriteTree(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	name := i.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(sb, "%s [%s, %d mutations]\n", name, i.Kind, i.NumMutations)
	for _, c := range i.Fields {
		c.WriteTree(sb, depth+1)
	}
}

// Tree returns the indented tree rendering of the description.
func (i *FieldInfo) Tree() string {
	var sb strings.Builder
	i.WriteTree(&sb, 0)
	return sb.String()
}
