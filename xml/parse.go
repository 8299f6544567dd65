package xml

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/midbel/xquery/environ"
)

const MaxDepth = 512

const (
	SupportedVersion  = "1.0"
	SupportedEncoding = "UTF-8"
)

const AttrXmlNS = "xmlns"

type ParseError struct {
	Position
	Element string
	Message string
}

func createParseError(elem, msg string, pos Position) error {
	return ParseError{
		Position: pos,
		Element:  elem,
		Message:  msg,
	}
}

func (p ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s: %s", p.Line, p.Column, p.Element, p.Message)
}

// PiFunc lets callers turn a processing instruction into a node of their choice.
type PiFunc func(string, []*Attribute) (Node, error)

type Parser struct {
	scan *Scanner
	curr Token
	peek Token

	depth int

	TrimSpace     bool
	KeepEmpty     bool
	RequireProlog bool
	StrictNS      bool
	MaxDepth      int

	namespaces environ.Environ[string]

	piFuncs map[string]PiFunc
}

func NewParser(r io.Reader) *Parser {
	var p Parser
	p.reset()
	p.Reset(r)
	return &p
}

func ParseFile(file string) (*Document, error) {
	r, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	doc, err := ParseReader(r)
	if err == nil {
		doc.URI = file
	}
	return doc, err
}

func ParseString(xml string) (*Document, error) {
	return ParseReader(strings.NewReader(xml))
}

func ParseReader(r io.Reader) (*Document, error) {
	return DefaultPool.Parse(r)
}

// Reset makes the parser read a new input. Options and registered handlers
// are kept.
func (p *Parser) Reset(r io.Reader) {
	p.depth = 0
	p.namespaces = environ.Empty[string]()
	if p.scan == nil {
		p.scan = Scan(r)
	} else {
		p.scan.Reset(r)
	}
	p.next()
	p.next()
}

func (p *Parser) reset() {
	p.TrimSpace = true
	p.KeepEmpty = false
	p.RequireProlog = false
	p.StrictNS = false
	p.MaxDepth = MaxDepth
	p.depth = 0
	p.piFuncs = make(map[string]PiFunc)
	p.namespaces = environ.Empty[string]()
	p.curr = Token{}
	p.peek = Token{}
	if p.scan != nil {
		p.scan.Reset(strings.NewReader(""))
	}
}

func (p *Parser) RegisterPI(name string, fn PiFunc) {
	p.piFuncs[name] = fn
}

func (p *Parser) UnregisterPI(name string) {
	delete(p.piFuncs, name)
}

func (p *Parser) Parse() (*Document, error) {
	if err := p.parseProlog(); err != nil {
		return nil, err
	}
	doc := EmptyDocument()
	for !p.done() {
		node, err := p.parseNode()
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		switch node.Type() {
		case TypeComment, TypeInstruction:
		case TypeElement:
			if doc.Root() != nil {
				return nil, p.createError("document", "only one root element allowed")
			}
		case TypeText:
			if strings.TrimSpace(node.Value()) == "" {
				continue
			}
			return nil, p.createError("document", "text outside root element")
		default:
			return nil, p.createError("document", "invalid node type")
		}
		doc.attach(node)
	}
	if doc.Root() == nil {
		return nil, p.createError("document", "missing root element")
	}
	return doc, nil
}

func (p *Parser) parseProlog() error {
	for p.is(Literal) && strings.TrimSpace(p.getCurrentLiteral()) == "" {
		p.next()
	}
	if !p.is(ProcInstTag) || p.peek.Literal != "xml" {
		if p.RequireProlog {
			return p.createError("document", "xml prolog missing")
		}
		return nil
	}
	node, err := p.parsePI()
	if err != nil {
		return err
	}
	pi, ok := node.(*Instruction)
	if !ok {
		return p.createError("document", "expected xml prolog")
	}
	ok = slices.ContainsFunc(pi.Attrs, func(a *Attribute) bool {
		return a.LocalName() == "version" && a.Value() == SupportedVersion
	})
	if !ok {
		return p.createError("document", "xml version not supported")
	}
	ix := slices.IndexFunc(pi.Attrs, func(a *Attribute) bool {
		return a.LocalName() == "encoding"
	})
	if ix >= 0 && strings.ToUpper(pi.Attrs[ix].Value()) != SupportedEncoding {
		return p.createError("document", "xml encoding not supported")
	}
	return nil
}

func (p *Parser) parseNode() (Node, error) {
	p.enter()
	defer p.leave()
	if p.depth >= p.MaxDepth {
		return nil, p.createError("document", "maximum depth reached")
	}
	switch p.curr.Type {
	case OpenTag:
		return p.parseElement()
	case CommentTag:
		return p.parseComment()
	case ProcInstTag:
		return p.parsePI()
	case Cdata:
		return p.parseCharData()
	case Literal:
		return p.parseLiteral()
	default:
		return nil, p.createError("document", "unsupported element type")
	}
}

func (p *Parser) parseElement() (Node, error) {
	p.namespaces = environ.Enclosed[string](p.namespaces)
	defer func() {
		u, ok := p.namespaces.(interface {
			Unwrap() environ.Environ[string]
		})
		if ok {
			p.namespaces = u.Unwrap()
		}
	}()
	p.next()
	elem := NewElement(QName{})
	if p.is(Namespace) {
		elem.Space = p.getCurrentLiteral()
		p.next()
	}
	if !p.is(Name) {
		return nil, p.createError("element", "name is missing")
	}
	elem.Name = p.getCurrentLiteral()
	p.next()

	attrs, err := p.parseAttributes(func() bool {
		return p.is(EndTag) || p.is(EmptyElemTag)
	})
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		elem.SetAttribute(a)
	}
	if elem.Uri, err = p.isDefined(elem.QName); err != nil {
		return nil, err
	}

	switch p.curr.Type {
	case EmptyElemTag:
		p.next()
		return elem, nil
	case EndTag:
		p.next()
		for !p.done() && !p.is(CloseTag) {
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			if child != nil {
				elem.Append(child)
			}
		}
		if !p.is(CloseTag) {
			return nil, p.createError("element", "closing element is missing")
		}
		p.next()
		return elem, p.parseCloseElement(elem)
	default:
		return nil, p.createError("element", "end of element expected")
	}
}

func (p *Parser) parseCloseElement(elem *Element) error {
	if elem.Space != "" && !p.is(Namespace) {
		return p.createError("element", "closing element without namespace")
	}
	if p.is(Namespace) {
		if elem.Space != p.getCurrentLiteral() {
			return p.createError("element", "namespace mismatched with opening element")
		}
		p.next()
	}
	if !p.is(Name) {
		return p.createError("element", "name is missing")
	}
	if p.getCurrentLiteral() != elem.Name {
		return p.createError("element", "name mismatched with opening element")
	}
	p.next()
	if !p.is(EndTag) {
		return p.createError("element", "end of element expected")
	}
	p.next()
	return nil
}

func (p *Parser) parsePI() (Node, error) {
	p.next()
	if !p.is(Name) {
		return nil, p.createError("processing instruction", "name is missing")
	}
	elem := NewInstruction(LocalName(p.getCurrentLiteral()))
	p.next()
	attrs, err := p.parseAttributes(func() bool {
		return p.is(ProcInstTag)
	})
	if err != nil {
		return nil, err
	}
	if !p.is(ProcInstTag) {
		return nil, p.createError("processing instruction", "end of element expected")
	}
	p.next()
	for i, a := range attrs {
		a.setParent(elem)
		a.setPosition(i)
	}
	elem.Attrs = attrs
	if fn, ok := p.piFuncs[elem.Name]; ok {
		return fn(elem.Name, elem.Attrs)
	}
	return elem, nil
}

func (p *Parser) parseAttributes(done func() bool) ([]*Attribute, error) {
	var attrs []*Attribute
	for !p.done() && !done() {
		attr, err := p.parseAttr()
		if err != nil {
			return nil, err
		}
		ok := slices.ContainsFunc(attrs, func(a *Attribute) bool {
			return attr.QualifiedName() == a.QualifiedName()
		})
		if ok {
			return nil, p.createError("attribute", "attribute is already defined")
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func (p *Parser) parseAttr() (*Attribute, error) {
	var (
		attr Attribute
		err  error
	)
	if p.is(Namespace) {
		attr.Space = p.getCurrentLiteral()
		p.next()
	}
	if !p.is(Attr) {
		return nil, p.createError("attribute", "name is expected")
	}
	attr.Name = p.getCurrentLiteral()
	p.next()
	if !p.is(Literal) {
		return nil, p.createError("attribute", "value is missing")
	}
	attr.Datum = p.getCurrentLiteral()
	p.next()
	if attr.Name == AttrXmlNS {
		p.namespaces.Define("", attr.Datum)
	} else if attr.Space == AttrXmlNS {
		p.namespaces.Define(attr.Name, attr.Datum)
	}
	if attr.Space != "" && attr.Space != AttrXmlNS {
		if attr.Uri, err = p.isDefined(attr.QName); err != nil {
			return nil, err
		}
	}
	return &attr, nil
}

func (p *Parser) parseComment() (Node, error) {
	defer p.next()
	return NewComment(p.getCurrentLiteral()), nil
}

func (p *Parser) parseCharData() (Node, error) {
	defer p.next()
	return NewCharacterData(p.getCurrentLiteral()), nil
}

func (p *Parser) parseLiteral() (Node, error) {
	text := NewText(p.getCurrentLiteral())
	if p.TrimSpace {
		text.Content = strings.TrimSpace(text.Content)
	}
	p.next()
	if !p.KeepEmpty && text.Content == "" {
		return nil, nil
	}
	return text, nil
}

func (p *Parser) isDefined(qn QName) (string, error) {
	if qn.Name == AttrXmlNS || qn.Space == AttrXmlNS {
		return "", nil
	}
	uri, err := p.namespaces.Resolve(qn.Space)
	if err != nil && p.StrictNS && qn.Space != "" {
		return "", p.createError("namespace", fmt.Sprintf("%s: prefix is not defined", qn.Space))
	}
	return uri, nil
}

func (p *Parser) getCurrentLiteral() string {
	return p.curr.Literal
}

func (p *Parser) createError(elem, msg string) error {
	return createParseError(elem, msg, p.curr.Position)
}

func (p *Parser) is(kind rune) bool {
	return p.curr.Type == kind
}

func (p *Parser) done() bool {
	return p.is(EOF)
}

func (p *Parser) enter() {
	p.depth++
}

func (p *Parser) leave() {
	p.depth--
}

func (p *Parser) next() {
	p.curr = p.peek
	p.peek = p.scan.Scan()
}
