package xml

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

type WriterOptions uint64

const (
	OptionCompact WriterOptions = 1 << iota
	OptionNoNamespace
	OptionNoComment
	OptionNoProlog
)

func (w WriterOptions) Compact() bool {
	return w&OptionCompact > 0
}

func (w WriterOptions) NoNamespace() bool {
	return w&OptionNoNamespace > 0
}

func (w WriterOptions) NoComment() bool {
	return w&OptionNoComment > 0
}

func (w WriterOptions) NoProlog() bool {
	return w&OptionNoProlog > 0
}

type Writer struct {
	writer *bufio.Writer

	Indent string
	WriterOptions
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		writer: bufio.NewWriter(w),
		Indent: "  ",
	}
}

// WriteNode serializes node on a single line without prolog.
func WriteNode(node Node) string {
	var buf bytes.Buffer
	ws := NewWriter(&buf)
	ws.WriterOptions = OptionCompact | OptionNoProlog
	ws.WriteNode(node)
	return buf.String()
}

func (d *Document) Write(w io.Writer) error {
	return NewWriter(w).Write(d)
}

func (d *Document) WriteString() (string, error) {
	var (
		buf bytes.Buffer
		err = d.Write(&buf)
	)
	return buf.String(), err
}

func (w *Writer) Write(doc *Document) error {
	if !w.NoProlog() {
		fmt.Fprintf(w.writer, `<?xml version="%s" encoding="%s"?>`, doc.Version, doc.Encoding)
		w.writeNL()
	}
	for _, n := range doc.Nodes {
		if err := w.writeNode(n, 0); err != nil {
			return err
		}
		w.writeNL()
	}
	return w.writer.Flush()
}

func (w *Writer) WriteNode(node Node) error {
	if err := w.writeNode(node, 0); err != nil {
		return err
	}
	return w.writer.Flush()
}

func (w *Writer) writeNode(node Node, depth int) error {
	switch node := node.(type) {
	case *Document:
		for _, n := range node.Nodes {
			if err := w.writeNode(n, depth); err != nil {
				return err
			}
		}
		return nil
	case *Element:
		return w.writeElement(node, depth)
	case *CharData:
		w.writer.WriteString("<![CDATA[")
		w.writer.WriteString(node.Content)
		w.writer.WriteString("]]>")
	case *Text:
		w.writer.WriteString(escapeText(node.Content))
	case *Instruction:
		w.writer.WriteString("<?")
		w.writer.WriteString(node.Name)
		w.writeAttributes(node.Attrs)
		if node.Data != "" {
			w.writer.WriteByte(' ')
			w.writer.WriteString(node.Data)
		}
		w.writer.WriteString("?>")
	case *Comment:
		if w.NoComment() {
			return nil
		}
		w.writer.WriteString("<!--")
		w.writer.WriteString(node.Content)
		w.writer.WriteString("-->")
	case *Attribute:
		fmt.Fprintf(w.writer, `%s="%s"`, w.name(node.QName), escapeText(node.Value()))
	default:
		return fmt.Errorf("node: unknown type (%T)", node)
	}
	return nil
}

func (w *Writer) writeElement(node *Element, depth int) error {
	name := w.name(node.QName)
	w.writer.WriteByte(langle)
	w.writer.WriteString(name)
	w.writeAttributes(node.Attrs)
	if len(node.Nodes) == 0 {
		w.writer.WriteString("/>")
		return nil
	}
	w.writer.WriteByte(rangle)
	leaf := node.Leaf()
	for _, n := range node.Nodes {
		if !leaf {
			w.writeNL()
			w.writer.WriteString(w.indent(depth + 1))
		}
		if err := w.writeNode(n, depth+1); err != nil {
			return err
		}
	}
	if !leaf {
		w.writeNL()
		w.writer.WriteString(w.indent(depth))
	}
	w.writer.WriteString("</")
	w.writer.WriteString(name)
	w.writer.WriteByte(rangle)
	return nil
}

func (w *Writer) writeAttributes(attrs []*Attribute) {
	for _, a := range attrs {
		if w.NoNamespace() && a.Namespace() {
			continue
		}
		fmt.Fprintf(w.writer, ` %s="%s"`, w.name(a.QName), escapeText(a.Value()))
	}
}

func (w *Writer) name(qn QName) string {
	if w.NoNamespace() {
		return qn.LocalName()
	}
	return qn.QualifiedName()
}

func (w *Writer) writeNL() {
	if w.Compact() {
		return
	}
	w.writer.WriteByte('\n')
}

func (w *Writer) indent(depth int) string {
	if w.Compact() {
		return ""
	}
	return strings.Repeat(w.Indent, depth)
}

var escaper = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeText(str string) string {
	return escaper.Replace(str)
}
