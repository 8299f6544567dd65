package xquery

import (
	"fmt"
	"math"
	"strings"

	"github.com/midbel/xquery/xml"
)

type Category int8

const (
	Simple Category = iota
	Updating
)

func (c Category) String() string {
	if c == Updating {
		return "UPDATING"
	}
	return "SIMPLE"
}

func (c Category) Updating() bool {
	return c == Updating
}

func merge(list ...Category) Category {
	for _, c := range list {
		if c == Updating {
			return Updating
		}
	}
	return Simple
}

type Annotation struct {
	Name   xml.QName
	Values []string
}

func (a Annotation) String() string {
	var str strings.Builder
	str.WriteString("%")
	if a.Name.Uri == nsXQuery {
		str.WriteString(a.Name.Name)
	} else {
		str.WriteString(a.Name.QualifiedName())
	}
	if len(a.Values) > 0 {
		str.WriteString("(")
		for i, v := range a.Values {
			if i > 0 {
				str.WriteString(", ")
			}
			str.WriteString(quoteString(v))
		}
		str.WriteString(")")
	}
	return str.String()
}

func (a Annotation) is(name string) bool {
	return a.Name.Uri == nsXQuery && a.Name.Name == name
}

type ItemType interface {
	Match(Item) bool
	String() string
}

type SequenceType struct {
	Empty      bool
	Item       ItemType
	Occurrence string
}

func (s SequenceType) String() string {
	if s.Empty {
		return "empty-sequence()"
	}
	return s.Item.String() + s.Occurrence
}

func (s SequenceType) Matches(seq Sequence) bool {
	if s.Empty {
		return len(seq) == 0
	}
	switch s.Occurrence {
	case "":
		if len(seq) != 1 {
			return false
		}
	case "?":
		if len(seq) > 1 {
			return false
		}
	case "+":
		if len(seq) == 0 {
			return false
		}
	default:
	}
	for _, i := range seq {
		if !s.Item.Match(i) {
			return false
		}
	}
	return true
}

// coerce applies the function conversion rules: untyped values are cast to
// the expected atomic type and the result is checked against s.
func (s SequenceType) coerce(seq Sequence) (Sequence, error) {
	if at, ok := s.Item.(atomicType); ok {
		list, err := atomize(seq)
		if err != nil {
			return nil, err
		}
		for i := range list {
			v := list[i].Value()
			switch {
			case isUntyped(v):
				x, err := at.cast(list[i])
				if err != nil {
					return nil, err
				}
				list[i] = x
			case at.local() == "double" || at.local() == "decimal" || at.local() == "float":
				if n, ok := v.(int64); ok {
					list[i] = NewDouble(float64(n))
				}
			}
		}
		seq = list
	}
	if !s.Matches(seq) {
		return nil, dynamicError(CodeTypeError, "value does not match expected type %s", s)
	}
	return seq, nil
}

func isUntyped(v any) bool {
	_, ok := v.(Untyped)
	return ok
}

type anyItem struct{}

func (_ anyItem) Match(Item) bool {
	return true
}

func (_ anyItem) String() string {
	return "item()"
}

type kindType struct {
	kind xml.NodeType
	name string
	sub  *kindType
}

func (k kindType) Match(item Item) bool {
	n := item.Node()
	if n == nil {
		return false
	}
	return k.matchNode(n)
}

func (k kindType) matchNode(n xml.Node) bool {
	if k.kind&n.Type() == 0 {
		return false
	}
	if k.name != "" && k.name != "*" && n.QualifiedName() != k.name && n.LocalName() != k.name {
		return false
	}
	if k.sub != nil {
		doc, ok := n.(*xml.Document)
		if !ok {
			return false
		}
		root := doc.Root()
		return root != nil && k.sub.matchNode(root)
	}
	return true
}

func (k kindType) String() string {
	var arg string
	switch {
	case k.sub != nil:
		arg = k.sub.String()
	case k.name != "":
		arg = k.name
	}
	return fmt.Sprintf("%s(%s)", kindName(k.kind), arg)
}

func kindName(kind xml.NodeType) string {
	switch kind {
	case xml.TypeDocument:
		return "document-node"
	case xml.TypeText:
		return "text"
	default:
		return kind.String()
	}
}

func kindOf(name string) (xml.NodeType, bool) {
	switch name {
	case "node":
		return xml.TypeNode, true
	case "text":
		return xml.TypeText, true
	case "comment":
		return xml.TypeComment, true
	case "element":
		return xml.TypeElement, true
	case "attribute":
		return xml.TypeAttribute, true
	case "document-node":
		return xml.TypeDocument, true
	case "processing-instruction":
		return xml.TypeInstruction, true
	default:
		return 0, false
	}
}

type atomicType struct {
	name xml.QName
}

func (a atomicType) local() string {
	return a.name.Name
}

func (a atomicType) String() string {
	if a.name.Uri == nsXS {
		return "xs:" + a.name.Name
	}
	return a.name.QualifiedName()
}

func (a atomicType) Match(item Item) bool {
	if !item.Atomic() {
		return false
	}
	v := item.Value()
	switch a.local() {
	case "anyAtomicType":
		return true
	case "string", "anyURI", "NCName", "token":
		_, ok := v.(string)
		return ok
	case "untypedAtomic":
		return isUntyped(v)
	case "integer", "int", "long", "short":
		_, ok := v.(int64)
		return ok
	case "decimal", "numeric":
		return isNumeric(v)
	case "double", "float":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "QName":
		_, ok := v.(xml.QName)
		return ok
	case "duration":
		_, ok := v.(Duration)
		return ok
	case "dayTimeDuration":
		d, ok := v.(Duration)
		return ok && d.IsDayTime()
	case "yearMonthDuration":
		d, ok := v.(Duration)
		return ok && d.IsYearMonth()
	default:
		return false
	}
}

func (a atomicType) known() bool {
	switch a.local() {
	case "anyAtomicType", "string", "anyURI", "NCName", "token", "untypedAtomic",
		"integer", "int", "long", "short", "decimal", "numeric", "double", "float",
		"boolean", "QName", "duration", "dayTimeDuration", "yearMonthDuration":
		return a.name.Uri == nsXS
	default:
		return false
	}
}

func (a atomicType) cast(item Item) (Item, error) {
	v := item.Value()
	switch a.local() {
	case "string", "anyURI", "NCName", "token":
		return NewString(formatAtomic(v)), nil
	case "untypedAtomic":
		return atomicItem{value: Untyped(formatAtomic(v))}, nil
	case "integer", "int", "long", "short":
		n, err := toInteger(v)
		if err != nil {
			return nil, err
		}
		return NewInteger(n), nil
	case "decimal", "double", "float", "numeric":
		f, err := toDouble(v)
		if err != nil {
			return nil, err
		}
		if _, ok := v.(bool); !ok && math.IsNaN(f) && formatAtomic(v) != "NaN" {
			return nil, dynamicError(CodeCastFailed, "%s can not be cast to %s", formatAtomic(v), a)
		}
		return NewDouble(f), nil
	case "boolean":
		switch x := v.(type) {
		case bool:
			return NewBoolean(x), nil
		case int64, float64:
			f, _ := toDouble(x)
			return NewBoolean(f != 0 && !math.IsNaN(f)), nil
		default:
			b, err := castToBoolean(formatAtomic(x))
			if err != nil {
				return nil, err
			}
			return NewBoolean(b), nil
		}
	case "QName":
		if q, ok := v.(xml.QName); ok {
			return NewItem(q), nil
		}
		q, err := xml.ParseName(formatAtomic(v))
		if err != nil {
			return nil, dynamicError(CodeCastFailed, "%s", err)
		}
		return NewItem(q), nil
	case "duration", "dayTimeDuration", "yearMonthDuration":
		d, err := castDuration(v, a.local())
		if err != nil {
			return nil, err
		}
		return NewItem(d), nil
	case "anyAtomicType":
		return item, nil
	default:
		return nil, dynamicError(CodeUnknownType, "%s: unknown atomic type", a)
	}
}

type functionType struct {
	annotations []Annotation
	any         bool
	params      []SequenceType
	ret         *SequenceType
}

func (f functionType) Match(item Item) bool {
	fi, ok := item.(funcItem)
	if !ok {
		return false
	}
	for _, a := range f.annotations {
		if a.is("simple") && fi.fn.Category() != Simple {
			return false
		}
		if a.is("updating") && fi.fn.Category() != Updating {
			return false
		}
	}
	if f.any {
		return true
	}
	return len(f.params) == fi.fn.Arity()
}

func (f functionType) String() string {
	var str strings.Builder
	for _, a := range f.annotations {
		str.WriteString(a.String())
		str.WriteString(" ")
	}
	str.WriteString("function(")
	if f.any {
		str.WriteString("*")
	} else {
		for i, p := range f.params {
			if i > 0 {
				str.WriteString(", ")
			}
			str.WriteString(p.String())
		}
	}
	str.WriteString(")")
	if f.ret != nil {
		str.WriteString(" as ")
		str.WriteString(f.ret.String())
	}
	return str.String()
}
