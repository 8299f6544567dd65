package xquery

import (
	"strings"

	"github.com/midbel/xquery/xml"
)

type elementConstructor struct {
	meta
	name     xml.QName
	nameExpr Expr
	attrs    []Expr
	content  []Expr
	spaces   []xml.NS
	direct   bool
}

func (c *elementConstructor) String() string {
	var str strings.Builder
	if c.direct {
		str.WriteString("<")
		str.WriteString(c.name.QualifiedName())
		for _, a := range c.attrs {
			str.WriteString(" ")
			str.WriteString(a.String())
		}
		if len(c.content) == 0 {
			str.WriteString("/>")
			return str.String()
		}
		str.WriteString(">")
		for _, e := range c.content {
			if t, ok := e.(*textConstructor); ok && t.literal {
				str.WriteString(t.text)
				continue
			}
			if _, ok := e.(*elementConstructor); ok {
				str.WriteString(e.String())
				continue
			}
			str.WriteString("{")
			str.WriteString(e.String())
			str.WriteString("}")
		}
		str.WriteString("</")
		str.WriteString(c.name.QualifiedName())
		str.WriteString(">")
		return str.String()
	}
	str.WriteString("element ")
	if c.nameExpr != nil {
		str.WriteString("{ ")
		str.WriteString(c.nameExpr.String())
		str.WriteString(" }")
	} else {
		str.WriteString(c.name.QualifiedName())
	}
	str.WriteString(" { ")
	str.WriteString(joinExprs(c.content, ", "))
	str.WriteString(" }")
	return str.String()
}

func (c *elementConstructor) eval(ctx *Context) (Sequence, error) {
	name := c.name
	if c.nameExpr != nil {
		qn, err := evalName(ctx, c.nameExpr)
		if err != nil {
			return nil, err
		}
		name = qn
	}
	el := xml.NewElement(name)
	for _, ns := range c.spaces {
		attr := xml.QualifiedName(ns.Prefix, xml.AttrXmlNS)
		if ns.Prefix == "" {
			attr = xml.LocalName(xml.AttrXmlNS)
		}
		el.SetAttribute(xml.NewAttribute(attr, ns.Uri))
	}
	for _, a := range c.attrs {
		seq, err := a.eval(ctx)
		if err != nil {
			return nil, err
		}
		for _, i := range seq {
			if attr, ok := i.Node().(*xml.Attribute); ok {
				el.SetAttribute(attr)
			}
		}
	}
	var nodes []xml.Node
	for _, e := range c.content {
		seq, err := e.eval(ctx)
		if err != nil {
			return nil, err
		}
		list, err := contentNodes(seq)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, list...)
	}
	if err := fillContent(el, nodes); err != nil {
		return nil, err
	}
	return Singleton(NewNode(el)), nil
}

// contentNodes converts the result of one content expression into copies
// of nodes. Adjacent atomic values are joined, separated by a space, in a
// single text node and documents are replaced by their children.
func contentNodes(seq Sequence) ([]xml.Node, error) {
	var (
		nodes []xml.Node
		text  []string
	)
	flush := func() {
		if len(text) > 0 {
			nodes = append(nodes, xml.NewText(strings.Join(text, " ")))
			text = text[:0]
		}
	}
	for _, i := range seq {
		if i.Atomic() {
			text = append(text, i.String())
			continue
		}
		flush()
		n := i.Node()
		if n == nil {
			return nil, dynamicError("XQTY0105", "%s: function item can not be used as content", i)
		}
		if doc, ok := n.(*xml.Document); ok {
			for _, c := range doc.Children() {
				nodes = append(nodes, xml.Clone(c))
			}
			continue
		}
		nodes = append(nodes, xml.Clone(n))
	}
	flush()
	return nodes, nil
}

func fillContent(parent xml.Container, nodes []xml.Node) error {
	var (
		list  []xml.Node
		text  strings.Builder
		found bool
	)
	flush := func() {
		if text.Len() > 0 {
			list = append(list, xml.NewText(text.String()))
			text.Reset()
		}
	}
	for _, n := range nodes {
		switch x := n.(type) {
		case *xml.Attribute:
			el, ok := parent.(*xml.Element)
			if !ok {
				return dynamicError("XPTY0004", "%s: attribute can not be added to a document", x.QualifiedName())
			}
			if len(list) > 0 || text.Len() > 0 {
				return dynamicError("XQTY0024", "%s: attribute follows other content", x.QualifiedName())
			}
			if found = el.GetAttribute(x.QualifiedName()) != nil; found {
				return dynamicError("XQDY0025", "%s: duplicate attribute", x.QualifiedName())
			}
			el.SetAttribute(x)
		case *xml.Text:
			if x.Value() != "" {
				text.WriteString(x.Value())
			}
		default:
			flush()
			list = append(list, n)
		}
	}
	flush()
	return wrapError(CodeTypeError, parent.InsertAt(len(parent.Children()), list...))
}

func evalName(ctx *Context, expr Expr) (xml.QName, error) {
	seq, err := expr.eval(ctx)
	if err != nil {
		return xml.QName{}, err
	}
	v, err := atomizeOne(seq)
	if err != nil {
		return xml.QName{}, err
	}
	if v == nil {
		return xml.QName{}, dynamicError(CodeTypeError, "name expression returns an empty sequence")
	}
	return toQName(ctx, v)
}

func toQName(ctx *Context, item Item) (xml.QName, error) {
	if q, ok := item.Value().(xml.QName); ok {
		return q, nil
	}
	switch item.Value().(type) {
	case string, Untyped:
	default:
		return xml.QName{}, dynamicError(CodeTypeError, "%s can not be used as a name", typeName(item))
	}
	qn, err := xml.ParseName(strings.TrimSpace(item.String()))
	if err != nil {
		return qn, dynamicError("XQDY0074", "%s: invalid name", item)
	}
	if qn.Space != "" {
		uri, ok := ctx.Namespace(qn.Space)
		if !ok {
			return qn, dynamicError("XQDY0074", "%s: prefix is not bound", qn.Space)
		}
		qn.Uri = uri
	}
	return qn, nil
}

func joinValues(seq Sequence) (string, error) {
	list, err := atomize(seq)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, i := range list {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, " "), nil
}

type attributeConstructor struct {
	meta
	name     xml.QName
	nameExpr Expr
	parts    []Expr
	direct   bool
}

func (c *attributeConstructor) String() string {
	if c.direct {
		var str strings.Builder
		for _, p := range c.parts {
			if t, ok := p.(*literal); ok {
				str.WriteString(t.item.String())
				continue
			}
			str.WriteString("{")
			str.WriteString(p.String())
			str.WriteString("}")
		}
		return c.name.QualifiedName() + "=" + quoteString(str.String())
	}
	name := c.name.QualifiedName()
	if c.nameExpr != nil {
		name = "{ " + c.nameExpr.String() + " }"
	}
	return "attribute " + name + " { " + joinExprs(c.parts, ", ") + " }"
}

func (c *attributeConstructor) eval(ctx *Context) (Sequence, error) {
	name := c.name
	if c.nameExpr != nil {
		qn, err := evalName(ctx, c.nameExpr)
		if err != nil {
			return nil, err
		}
		name = qn
	}
	var str strings.Builder
	for _, p := range c.parts {
		seq, err := p.eval(ctx)
		if err != nil {
			return nil, err
		}
		v, err := joinValues(seq)
		if err != nil {
			return nil, err
		}
		str.WriteString(v)
	}
	return Singleton(NewNode(xml.NewAttribute(name, str.String()))), nil
}

type textConstructor struct {
	meta
	expr    Expr
	text    string
	literal bool
}

func (c *textConstructor) String() string {
	if c.literal {
		return "text { " + quoteString(c.text) + " }"
	}
	return "text { " + c.expr.String() + " }"
}

func (c *textConstructor) eval(ctx *Context) (Sequence, error) {
	if c.literal {
		return Singleton(NewNode(xml.NewText(c.text))), nil
	}
	seq, err := c.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, nil
	}
	str, err := joinValues(seq)
	if err != nil {
		return nil, err
	}
	return Singleton(NewNode(xml.NewText(str))), nil
}

type commentConstructor struct {
	meta
	expr Expr
}

func (c *commentConstructor) String() string {
	return "comment { " + c.expr.String() + " }"
}

func (c *commentConstructor) eval(ctx *Context) (Sequence, error) {
	seq, err := c.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	str, err := joinValues(seq)
	if err != nil {
		return nil, err
	}
	if strings.Contains(str, "--") || strings.HasSuffix(str, "-") {
		return nil, dynamicError("XQDY0072", "invalid comment content")
	}
	return Singleton(NewNode(xml.NewComment(str))), nil
}

type documentConstructor struct {
	meta
	expr Expr
}

func (c *documentConstructor) String() string {
	return "document { " + c.expr.String() + " }"
}

func (c *documentConstructor) eval(ctx *Context) (Sequence, error) {
	seq, err := c.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := contentNodes(seq)
	if err != nil {
		return nil, err
	}
	doc := xml.EmptyDocument()
	if err := fillContent(doc, nodes); err != nil {
		return nil, err
	}
	return Singleton(NewNode(doc)), nil
}
