// Package templatefile loads data model templates from declarative
// YAML files. A template file names its templates and nests their
// fields; field types, encoders and conditions are selected by name,
// so protocol models can be written without recompiling.
package templatefile

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kittyfuzz/kitty/model"
)

// Load reads a template file and builds its templates. Errors carry
// the file path and the line of the offending node.
func Load(path string) ([]*model.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}
	return Parse(path, data)
}

// Parse builds the templates of an in-memory template file. path is
// only used in error messages.
func Parse(path string, data []byte) ([]*model.Template, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("%s: no templates defined", path)
	}
	templates := make([]*model.Template, 0, len(doc.Templates))
	for _, tn := range doc.Templates {
		if tn.Name == "" {
			return nil, fmt.Errorf("%s:%d: template without a name", path, tn.line)
		}
		fields, err := buildFields(path, tn.Fields)
		if err != nil {
			return nil, err
		}
		tmpl, err := model.NewTemplate(tn.Name, fields)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: template %s: %w", path, tn.line, tn.Name, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

type fileDoc struct {
	Templates []templateNode `yaml:"templates"`
}

type templateNode struct {
	Name   string      `yaml:"name"`
	Fields []fieldNode `yaml:"fields"`
	line   int
}

func (t *templateNode) UnmarshalYAML(n *yaml.Node) error {
	type plain templateNode
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*t = templateNode(p)
	t.line = n.Line
	return nil
}

// fieldNode is one field declaration. The attribute set is the union
// over all field types; buildField checks per type which ones apply.
type fieldNode struct {
	Name       string      `yaml:"name"`
	Type       string      `yaml:"type"`
	Value      string      `yaml:"value"`
	Hex        string      `yaml:"hex"`
	Fuzzable   *bool       `yaml:"fuzzable"`
	Encoder    string      `yaml:"encoder"`
	IntEncoder string      `yaml:"int_encoder"`
	Length     int         `yaml:"length"`
	Of         string      `yaml:"of"`
	Signed     bool        `yaml:"signed"`
	Kind       string      `yaml:"kind"`
	Key        string      `yaml:"key"`
	Values     []string    `yaml:"values"`
	Min        *int64      `yaml:"min"`
	Max        *int64      `yaml:"max"`
	Step       int         `yaml:"step"`
	MaxSize    *int        `yaml:"max_size"`
	Seed       *uint64     `yaml:"seed"`
	Mutations  int         `yaml:"mutations"`
	Align      int         `yaml:"align"`
	PadValue   int         `yaml:"pad_value"`
	MaxBits    int         `yaml:"max_bits"`
	MinTimes   int         `yaml:"min_times"`
	MaxTimes   int         `yaml:"max_times"`
	Condition  *condNode   `yaml:"condition"`
	Fields     []fieldNode `yaml:"fields"`

	line int
}

func (f *fieldNode) UnmarshalYAML(n *yaml.Node) error {
	type plain fieldNode
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*f = fieldNode(p)
	f.line = n.Line
	return nil
}

// condNode selects a condition for if and ifnot containers.
type condNode struct {
	Field   string   `yaml:"field"`
	Op      string   `yaml:"op"`
	Value   int64    `yaml:"value"`
	Values  []int64  `yaml:"values"`
	Strings []string `yaml:"strings"`
	line    int
}

func (c *condNode) UnmarshalYAML(n *yaml.Node) error {
	type plain condNode
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	*c = condNode(p)
	c.line = n.Line
	return nil
}

func buildFields(path string, nodes []fieldNode) ([]model.Field, error) {
	fields := make([]model.Field, 0, len(nodes))
	for _, fn := range nodes {
		f, err := buildField(path, fn)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func buildField(path string, fn fieldNode) (model.Field, error) {
	fail := func(err error) (model.Field, error) {
		return nil, fmt.Errorf("%s:%d: field %s: %w", path, fn.line, fn.Name, err)
	}
	opts, err := fieldOptions(fn)
	if err != nil {
		return fail(err)
	}
	value, err := fieldValue(fn)
	if err != nil {
		return fail(err)
	}

	switch fn.Type {
	case "static":
		return model.NewStatic(fn.Name, value), nil
	case "string":
		return model.NewString(fn.Name, fn.Value, opts...), nil
	case "delimiter":
		return model.NewDelimiter(fn.Name, fn.Value, opts...), nil
	case "group":
		g, err := model.NewGroup(fn.Name, fn.Values, opts...)
		if err != nil {
			return fail(err)
		}
		return g, nil
	case "dynamic":
		return model.NewDynamic(fn.Name, fn.Key, value, opts...), nil
	case "random_bytes":
		if fn.Min == nil || fn.Max == nil {
			return fail(fmt.Errorf("random_bytes needs min and max"))
		}
		rb, err := model.NewRandomBytes(fn.Name, value, int(*fn.Min), int(*fn.Max), opts...)
		if err != nil {
			return fail(err)
		}
		return rb, nil
	case "bitfield":
		intVal, err := intValue(fn)
		if err != nil {
			return fail(err)
		}
		bf, err := model.NewBitField(fn.Name, intVal, fn.Length, opts...)
		if err != nil {
			return fail(err)
		}
		return bf, nil
	case "uint8", "uint16", "uint32", "uint64", "sint8", "sint16", "sint32", "sint64":
		return buildIntAlias(fn, opts, fail)
	case "mutable":
		m, err := model.NewMutableField(fn.Name, value)
		if err != nil {
			return fail(err)
		}
		return m, nil
	case "size":
		f, err := model.NewSize(fn.Name, fn.Of, fn.Length, opts...)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "checksum":
		f, err := model.NewChecksum(fn.Name, fn.Of, model.ChecksumKind(fn.Kind), opts...)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "hash":
		f, err := model.NewHash(fn.Name, fn.Of, model.HashKind(fn.Kind), opts...)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "clone":
		return model.NewClone(fn.Name, fn.Of), nil
	case "element_count":
		f, err := model.NewElementCount(fn.Name, fn.Of, fn.Length, opts...)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "index_of":
		f, err := model.NewIndexOf(fn.Name, fn.Of, fn.Length, opts...)
		if err != nil {
			return fail(err)
		}
		return f, nil
	case "container", "meta", "pad", "trunc", "repeat", "oneof", "if", "ifnot":
		return buildContainer(path, fn, opts, fail)
	case "":
		return fail(fmt.Errorf("missing field type"))
	default:
		return fail(fmt.Errorf("unknown field type %q", fn.Type))
	}
}

func buildIntAlias(fn fieldNode, opts []model.Option, fail func(error) (model.Field, error)) (model.Field, error) {
	v, err := intValue(fn)
	if err != nil {
		return fail(err)
	}
	switch fn.Type {
	case "uint8":
		return model.UInt8(fn.Name, uint8(v), opts...), nil
	case "uint16":
		return model.UInt16(fn.Name, uint16(v), opts...), nil
	case "uint32":
		return model.UInt32(fn.Name, uint32(v), opts...), nil
	case "uint64":
		return model.UInt64(fn.Name, uint64(v), opts...), nil
	case "sint8":
		return model.SInt8(fn.Name, int8(v), opts...), nil
	case "sint16":
		return model.SInt16(fn.Name, int16(v), opts...), nil
	case "sint32":
		return model.SInt32(fn.Name, int32(v), opts...), nil
	default:
		return model.SInt64(fn.Name, v, opts...), nil
	}
}

func buildContainer(path string, fn fieldNode, opts []model.Option, fail func(error) (model.Field, error)) (model.Field, error) {
	children, err := buildFields(path, fn.Fields)
	if err != nil {
		return nil, err
	}
	switch fn.Type {
	case "container":
		c, err := model.NewContainer(fn.Name, children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	case "meta":
		c, err := model.NewMeta(fn.Name, children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	case "pad":
		c, err := model.NewPad(fn.Name, fn.Align, byte(fn.PadValue), children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	case "trunc":
		c, err := model.NewTrunc(fn.Name, fn.MaxBits, children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	case "repeat":
		// Repeat counts step by one unless the file says otherwise.
		step := fn.Step
		if step == 0 {
			step = 1
		}
		c, err := model.NewRepeat(fn.Name, fn.MinTimes, fn.MaxTimes, step, children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	case "oneof":
		c, err := model.NewOneOf(fn.Name, children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	default: // if, ifnot
		if fn.Condition == nil {
			return fail(fmt.Errorf("%s container needs a condition", fn.Type))
		}
		cond, err := buildCondition(path, *fn.Condition)
		if err != nil {
			return nil, err
		}
		if fn.Type == "if" {
			c, err := model.NewIf(fn.Name, cond, children, opts...)
			if err != nil {
				return fail(err)
			}
			return c, nil
		}
		c, err := model.NewIfNot(fn.Name, cond, children, opts...)
		if err != nil {
			return fail(err)
		}
		return c, nil
	}
}

func buildCondition(path string, cn condNode) (model.Condition, error) {
	if cn.Field == "" {
		return nil, fmt.Errorf("%s:%d: condition without a field", path, cn.line)
	}
	switch cn.Op {
	case "in":
		return model.NewInList(cn.Field, cn.Values...), nil
	case "str_in":
		return model.NewInStrList(cn.Field, cn.Strings...), nil
	default:
		cond, err := model.NewCompare(cn.Field, model.CompareOp(cn.Op), cn.Value)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, cn.line, err)
		}
		return cond, nil
	}
}

// fieldValue resolves the byte value of a node, from hex when given,
// otherwise from the plain string value.
func fieldValue(fn fieldNode) ([]byte, error) {
	if fn.Hex != "" {
		b, err := hex.DecodeString(fn.Hex)
		if err != nil {
			return nil, fmt.Errorf("bad hex value: %w", err)
		}
		return b, nil
	}
	return []byte(fn.Value), nil
}

// intValue parses the value attribute as an integer. The 0x and 0o
// prefixes select the base.
func intValue(fn fieldNode) (int64, error) {
	if fn.Value == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(fn.Value, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer value %q", fn.Value)
	}
	return v, nil
}

func fieldOptions(fn fieldNode) ([]model.Option, error) {
	var opts []model.Option
	if fn.Fuzzable != nil {
		if *fn.Fuzzable {
			opts = append(opts, model.Fuzzable())
		} else {
			opts = append(opts, model.NotFuzzable())
		}
	}
	if fn.Encoder != "" {
		enc, err := stringEncoderByName(fn.Encoder)
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithStringEncoder(enc))
	}
	if fn.IntEncoder != "" {
		enc, err := intEncoderByName(fn.IntEncoder)
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithIntEncoder(enc))
	}
	if fn.MaxSize != nil {
		opts = append(opts, model.WithMaxSize(*fn.MaxSize))
	}
	if fn.Seed != nil {
		opts = append(opts, model.WithSeed(*fn.Seed))
	}
	if fn.Step != 0 && fn.Type == "random_bytes" {
		opts = append(opts, model.WithStep(fn.Step))
	}
	if fn.Mutations != 0 {
		opts = append(opts, model.WithMutationCount(fn.Mutations))
	}
	if fn.Type == "bitfield" && fn.Min != nil && fn.Max != nil {
		opts = append(opts, model.WithRange(*fn.Min, *fn.Max))
	}
	if fn.Signed {
		opts = append(opts, model.Signed())
	}
	return opts, nil
}

func stringEncoderByName(name string) (model.StringEncoder, error) {
	switch name {
	case "default":
		return model.EncStrDefault, nil
	case "nullterm":
		return model.EncStrNullTerm, nil
	case "base64":
		return model.EncStrBase64, nil
	case "base64_no_newline":
		return model.EncStrBase64NoNewline, nil
	case "hex":
		return model.EncStrHex, nil
	case "utf16le":
		return model.EncStrUTF16LE, nil
	case "utf16be":
		return model.EncStrUTF16BE, nil
	default:
		return nil, fmt.Errorf("unknown string encoder %q", name)
	}
}

func intEncoderByName(name string) (model.IntEncoder, error) {
	switch name {
	case "be":
		return model.EncIntBE, nil
	case "le":
		return model.EncIntLE, nil
	case "dec":
		return model.EncIntDec, nil
	case "hex":
		return model.EncIntHex, nil
	case "hex_upper":
		return model.EncIntHexUpper, nil
	case "multibyte":
		return model.EncIntMultibyte, nil
	default:
		return nil, fmt.Errorf("unknown int encoder %q", name)
	}
}
