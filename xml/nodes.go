package xml

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrElement  = errors.New("element expected")
	ErrDetached = errors.New("node has no parent")
	ErrChild    = errors.New("node is not a child")
	ErrValue    = errors.New("node value can not be changed")
	ErrName     = errors.New("node can not be renamed")
)

type NodeType int8

const (
	TypeDocument NodeType = 1 << iota
	TypeElement
	TypeComment
	TypeAttribute
	TypeInstruction
	TypeText
)

const TypeNode = TypeDocument | TypeElement | TypeComment | TypeAttribute | TypeInstruction | TypeText

func (n NodeType) String() string {
	switch n {
	default:
		return "<>"
	case TypeDocument:
		return "document-node"
	case TypeElement:
		return "element"
	case TypeComment:
		return "comment"
	case TypeAttribute:
		return "attribute"
	case TypeInstruction:
		return "processing-instruction"
	case TypeText:
		return "text"
	case TypeNode:
		return "node"
	}
}

type Node interface {
	Type() NodeType
	LocalName() string
	QualifiedName() string
	Leaf() bool
	Position() int
	Parent() Node
	Value() string
	Identity() string

	setParent(Node)
	setPosition(int)
	path() []int
}

// Container is implemented by nodes owning an ordered list of children.
type Container interface {
	Node
	Children() []Node
	IndexOf(Node) int
	InsertAt(int, ...Node) error
	RemoveChild(Node) error
	ReplaceChild(Node, ...Node) error
}

// Before reports whether left precedes right in document order.
func Before(left, right Node) bool {
	var (
		p1 = left.path()
		p2 = right.path()
	)
	for i := 0; i < len(p1) && i < len(p2); i++ {
		if p1[i] < p2[i] {
			return true
		} else if p1[i] > p2[i] {
			return false
		}
	}
	return len(p1) < len(p2)
}

func Root(node Node) Node {
	for node != nil && node.Parent() != nil {
		node = node.Parent()
	}
	return node
}

func DocumentOf(node Node) *Document {
	doc, _ := Root(node).(*Document)
	return doc
}

// Contains reports whether node is root or one of its descendants.
func Contains(root, node Node) bool {
	for ; node != nil; node = node.Parent() {
		if node == root {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of node that is not attached to any parent.
func Clone(node Node) Node {
	switch n := node.(type) {
	case *Document:
		return n.Clone()
	case *Element:
		return n.Clone()
	case *Attribute:
		return n.Clone()
	case *Text:
		return n.Clone()
	case *CharData:
		return n.Clone()
	case *Comment:
		return n.Clone()
	case *Instruction:
		return n.Clone()
	default:
		return nil
	}
}

// Rename changes the name of an element, an attribute or a processing instruction.
func Rename(node Node, name QName) error {
	switch n := node.(type) {
	case *Element:
		n.QName = name
	case *Attribute:
		n.QName = name
	case *Instruction:
		n.QName = name
	default:
		return fmt.Errorf("%s: %w", node.Type(), ErrName)
	}
	return nil
}

// SetValue replaces the content of node by value.
func SetValue(node Node, value string) error {
	switch n := node.(type) {
	case *Element:
		for _, c := range n.Nodes {
			c.setParent(nil)
		}
		n.Nodes = nil
		if value != "" {
			n.Append(NewText(value))
		}
	case *Attribute:
		n.Datum = value
	case *Text:
		n.Content = value
	case *CharData:
		n.Content = value
	case *Comment:
		n.Content = value
	case *Instruction:
		n.Data = value
	default:
		return fmt.Errorf("%s: %w", node.Type(), ErrValue)
	}
	return nil
}

// Detach removes node from its parent.
func Detach(node Node) error {
	switch p := node.Parent().(type) {
	case nil:
		return ErrDetached
	case *Element:
		if a, ok := node.(*Attribute); ok {
			return p.RemoveAttr(a)
		}
		return p.RemoveChild(node)
	case Container:
		return p.RemoveChild(node)
	default:
		return ErrDetached
	}
}

type QName struct {
	Uri   string
	Space string
	Name  string
}

func ParseName(name string) (QName, error) {
	var (
		qn QName
		ok bool
	)
	qn.Space, qn.Name, ok = strings.Cut(name, ":")
	if !ok {
		qn.Name, qn.Space = qn.Space, ""
	}
	if ok && (qn.Space == "" || qn.Name == "") {
		return qn, fmt.Errorf("%s: invalid qualified name", name)
	}
	return qn, nil
}

func ExpandedName(name, space, uri string) QName {
	return QName{
		Name:  name,
		Space: space,
		Uri:   uri,
	}
}

func LocalName(name string) QName {
	return ExpandedName(name, "", "")
}

func QualifiedName(name, space string) QName {
	return ExpandedName(name, space, "")
}

func (q QName) Zero() bool {
	return q.Space == "" && q.Name == ""
}

func (q QName) Equal(other QName) bool {
	return q.Uri == other.Uri && q.Name == other.Name
}

func (q QName) LocalName() string {
	return q.Name
}

func (q QName) ExpandedName() string {
	return fmt.Sprintf("{%s}%s", q.Uri, q.Name)
}

func (q QName) QualifiedName() string {
	if q.Space == "" {
		return q.LocalName()
	}
	return q.Space + ":" + q.Name
}

func (q QName) String() string {
	return q.QualifiedName()
}

type Document struct {
	URI      string
	Version  string
	Encoding string

	Nodes []Node
}

func NewDocument(root Node) *Document {
	doc := EmptyDocument()
	doc.attach(root)
	return doc
}

func EmptyDocument() *Document {
	doc := Document{
		Version:  SupportedVersion,
		Encoding: SupportedEncoding,
	}
	return &doc
}

func (d *Document) Root() Node {
	ix := slices.IndexFunc(d.Nodes, func(n Node) bool {
		return n.Type() == TypeElement
	})
	if ix < 0 {
		return nil
	}
	return d.Nodes[ix]
}

func (d *Document) Clone() Node {
	c := Document{
		URI:      d.URI,
		Version:  d.Version,
		Encoding: d.Encoding,
	}
	for _, n := range d.Nodes {
		c.attach(Clone(n))
	}
	return &c
}

func (d *Document) Children() []Node {
	return d.Nodes
}

func (d *Document) IndexOf(node Node) int {
	return indexOf(d.Nodes, node)
}

func (d *Document) InsertAt(at int, nodes ...Node) error {
	list, err := insertAt(d, d.Nodes, at, nodes)
	if err == nil {
		d.Nodes = list
	}
	return err
}

func (d *Document) RemoveChild(node Node) error {
	list, err := removeChild(d.Nodes, node)
	if err == nil {
		d.Nodes = list
	}
	return err
}

func (d *Document) ReplaceChild(node Node, nodes ...Node) error {
	list, err := replaceChild(d, d.Nodes, node, nodes)
	if err == nil {
		d.Nodes = list
	}
	return err
}

func (d *Document) Type() NodeType {
	return TypeDocument
}

func (d *Document) LocalName() string {
	return ""
}

func (d *Document) QualifiedName() string {
	return ""
}

func (d *Document) Leaf() bool {
	return false
}

func (d *Document) Position() int {
	return 0
}

func (d *Document) Parent() Node {
	return nil
}

func (d *Document) Value() string {
	var buf strings.Builder
	for _, n := range d.Nodes {
		if n.Type() == TypeElement || n.Type() == TypeText {
			buf.WriteString(n.Value())
		}
	}
	return buf.String()
}

func (d *Document) Identity() string {
	if d.URI != "" {
		return fmt.Sprintf("document(%s)", d.URI)
	}
	return "document"
}

func (d *Document) attach(node Node) {
	node.setParent(d)
	node.setPosition(len(d.Nodes))
	d.Nodes = append(d.Nodes, node)
}

func (d *Document) path() []int {
	return nil
}

func (d *Document) setParent(_ Node) {}

func (d *Document) setPosition(_ int) {}

type Attribute struct {
	QName
	Datum string

	parent   Node
	position int
}

func NewAttribute(name QName, value string) *Attribute {
	return &Attribute{
		QName: name,
		Datum: value,
	}
}

func (a *Attribute) Clone() Node {
	return NewAttribute(a.QName, a.Datum)
}

func (a *Attribute) Namespace() bool {
	return a.Name == AttrXmlNS || a.Space == AttrXmlNS
}

func (_ *Attribute) Type() NodeType {
	return TypeAttribute
}

func (_ *Attribute) Leaf() bool {
	return true
}

func (a *Attribute) Position() int {
	return a.position
}

func (a *Attribute) Parent() Node {
	return a.parent
}

func (a *Attribute) Value() string {
	return a.Datum
}

func (a *Attribute) Identity() string {
	return fmt.Sprintf("attr(%s)[%s]", a.QualifiedName(), joinPath(a.path()))
}

// attributes sort before the children of their owner
func (a *Attribute) path() []int {
	if a.parent == nil {
		return []int{a.position}
	}
	return append(a.parent.path(), -1-a.position)
}

func (a *Attribute) setParent(node Node) {
	a.parent = node
}

func (a *Attribute) setPosition(pos int) {
	a.position = pos
}

type Element struct {
	QName
	Attrs []*Attribute
	Nodes []Node

	parent   Node
	position int
}

func NewElement(name QName) *Element {
	return &Element{
		QName: name,
	}
}

func (e *Element) Namespaces() []NS {
	var ns []NS
	for _, a := range e.Attrs {
		if !a.Namespace() {
			continue
		}
		n := NS{
			Prefix: a.Name,
			Uri:    a.Value(),
		}
		if n.Prefix == AttrXmlNS {
			n.Prefix = ""
		}
		ns = append(ns, n)
	}
	return ns
}

func (e *Element) Attributes() []*Attribute {
	var as []*Attribute
	for _, a := range e.Attrs {
		if a.Namespace() {
			continue
		}
		as = append(as, a)
	}
	return as
}

func (e *Element) Clone() Node {
	c := NewElement(e.QName)
	for _, a := range e.Attrs {
		c.SetAttribute(a.Clone().(*Attribute))
	}
	for _, n := range e.Nodes {
		c.Append(Clone(n))
	}
	return c
}

func (e *Element) Children() []Node {
	return e.Nodes
}

func (e *Element) IndexOf(node Node) int {
	return indexOf(e.Nodes, node)
}

func (e *Element) InsertAt(at int, nodes ...Node) error {
	list, err := insertAt(e, e.Nodes, at, nodes)
	if err == nil {
		e.Nodes = list
	}
	return err
}

func (e *Element) RemoveChild(node Node) error {
	list, err := removeChild(e.Nodes, node)
	if err == nil {
		e.Nodes = list
	}
	return err
}

func (e *Element) ReplaceChild(node Node, nodes ...Node) error {
	list, err := replaceChild(e, e.Nodes, node, nodes)
	if err == nil {
		e.Nodes = list
	}
	return err
}

func (e *Element) Append(node Node) {
	if a, ok := node.(*Attribute); ok {
		e.SetAttribute(a)
		return
	}
	node.setParent(e)
	node.setPosition(len(e.Nodes))
	e.Nodes = append(e.Nodes, node)
}

func (_ *Element) Type() NodeType {
	return TypeElement
}

func (e *Element) Leaf() bool {
	for _, n := range e.Nodes {
		if n.Type() != TypeText {
			return false
		}
	}
	return true
}

func (e *Element) Empty() bool {
	return len(e.Nodes) == 0
}

func (e *Element) Value() string {
	var buf strings.Builder
	for _, n := range e.Nodes {
		switch n.Type() {
		case TypeElement, TypeText:
			buf.WriteString(n.Value())
		default:
		}
	}
	return buf.String()
}

func (e *Element) Position() int {
	return e.position
}

func (e *Element) Parent() Node {
	return e.parent
}

func (e *Element) Identity() string {
	return fmt.Sprintf("node(%s)[%s]", e.QualifiedName(), joinPath(e.path()))
}

func (e *Element) GetAttribute(name string) *Attribute {
	ix := slices.IndexFunc(e.Attrs, func(a *Attribute) bool {
		return a.QualifiedName() == name
	})
	if ix < 0 {
		return nil
	}
	return e.Attrs[ix]
}

func (e *Element) SetAttribute(attr *Attribute) {
	attr.setParent(e)
	ix := slices.IndexFunc(e.Attrs, func(a *Attribute) bool {
		return a.QualifiedName() == attr.QualifiedName()
	})
	if ix < 0 {
		attr.setPosition(len(e.Attrs))
		e.Attrs = append(e.Attrs, attr)
	} else {
		e.Attrs[ix].setParent(nil)
		attr.setPosition(ix)
		e.Attrs[ix] = attr
	}
}

func (e *Element) RemoveAttr(attr *Attribute) error {
	ix := slices.Index(e.Attrs, attr)
	if ix < 0 {
		return fmt.Errorf("%s: %w", attr.QualifiedName(), ErrChild)
	}
	attr.setParent(nil)
	e.Attrs = slices.Delete(e.Attrs, ix, ix+1)
	for i := range e.Attrs {
		e.Attrs[i].setPosition(i)
	}
	return nil
}

func (e *Element) path() []int {
	if e.parent == nil {
		return []int{e.position}
	}
	return append(e.parent.path(), e.position)
}

func (e *Element) setPosition(pos int) {
	e.position = pos
}

func (e *Element) setParent(parent Node) {
	e.parent = parent
}

type NS struct {
	Prefix string
	Uri    string
}

type Instruction struct {
	QName
	Attrs []*Attribute
	Data  string

	parent   Node
	position int
}

func NewInstruction(name QName) *Instruction {
	return &Instruction{
		QName: name,
	}
}

func (i *Instruction) Clone() Node {
	c := NewInstruction(i.QName)
	c.Data = i.Data
	for _, a := range i.Attrs {
		c.Attrs = append(c.Attrs, a.Clone().(*Attribute))
	}
	return c
}

func (_ *Instruction) Type() NodeType {
	return TypeInstruction
}

func (i *Instruction) Leaf() bool {
	return true
}

func (i *Instruction) Value() string {
	return i.Data
}

func (i *Instruction) Position() int {
	return i.position
}

func (i *Instruction) Parent() Node {
	return i.parent
}

func (i *Instruction) Identity() string {
	return fmt.Sprintf("instr(%s)[%s]", i.QualifiedName(), joinPath(i.path()))
}

func (i *Instruction) path() []int {
	if i.parent == nil {
		return []int{i.position}
	}
	return append(i.parent.path(), i.position)
}

func (i *Instruction) setPosition(pos int) {
	i.position = pos
}

func (i *Instruction) setParent(parent Node) {
	i.parent = parent
}

type CharData struct {
	Content string
	leaf
}

func NewCharacterData(chardata string) *CharData {
	return &CharData{
		Content: chardata,
	}
}

func (c *CharData) Clone() Node {
	return NewCharacterData(c.Content)
}

func (_ *CharData) Type() NodeType {
	return TypeText
}

func (c *CharData) Value() string {
	return c.Content
}

func (c *CharData) Identity() string {
	return fmt.Sprintf("chardata[%s]", joinPath(c.path()))
}

type Text struct {
	Content string
	leaf
}

func NewText(text string) *Text {
	return &Text{
		Content: text,
	}
}

func (t *Text) Clone() Node {
	return NewText(t.Content)
}

func (_ *Text) Type() NodeType {
	return TypeText
}

func (t *Text) Value() string {
	return t.Content
}

func (t *Text) Identity() string {
	return fmt.Sprintf("text[%s]", joinPath(t.path()))
}

type Comment struct {
	Content string
	leaf
}

func NewComment(comment string) *Comment {
	return &Comment{
		Content: comment,
	}
}

func (c *Comment) Clone() Node {
	return NewComment(c.Content)
}

func (_ *Comment) Type() NodeType {
	return TypeComment
}

func (c *Comment) Value() string {
	return c.Content
}

func (c *Comment) Identity() string {
	return fmt.Sprintf("comment[%s]", joinPath(c.path()))
}

// leaf holds what text, chardata and comment nodes have in common.
type leaf struct {
	parent   Node
	position int
}

func (_ *leaf) LocalName() string {
	return ""
}

func (_ *leaf) QualifiedName() string {
	return ""
}

func (_ *leaf) Leaf() bool {
	return true
}

func (n *leaf) Position() int {
	return n.position
}

func (n *leaf) Parent() Node {
	return n.parent
}

func (n *leaf) path() []int {
	if n.parent == nil {
		return []int{n.position}
	}
	return append(n.parent.path(), n.position)
}

func (n *leaf) setPosition(pos int) {
	n.position = pos
}

func (n *leaf) setParent(parent Node) {
	n.parent = parent
}

func indexOf(list []Node, node Node) int {
	return slices.Index(list, node)
}

func insertAt(parent Node, list []Node, at int, nodes []Node) ([]Node, error) {
	if at < 0 || at > len(list) {
		return list, fmt.Errorf("inserting nodes with bad index (%d - %d)", at, len(list))
	}
	for _, n := range nodes {
		if n.Type() == TypeAttribute || n.Type() == TypeDocument {
			return list, fmt.Errorf("%s: can not be inserted as child", n.Type())
		}
		n.setParent(parent)
	}
	list = slices.Insert(list, at, nodes...)
	renumber(list, at)
	return list, nil
}

func removeChild(list []Node, node Node) ([]Node, error) {
	ix := indexOf(list, node)
	if ix < 0 {
		return list, ErrChild
	}
	node.setParent(nil)
	list = slices.Delete(list, ix, ix+1)
	renumber(list, ix)
	return list, nil
}

func replaceChild(parent Node, list []Node, node Node, nodes []Node) ([]Node, error) {
	ix := indexOf(list, node)
	if ix < 0 {
		return list, ErrChild
	}
	for _, n := range nodes {
		n.setParent(parent)
	}
	node.setParent(nil)
	list = slices.Replace(list, ix, ix+1, nodes...)
	renumber(list, ix)
	return list, nil
}

func renumber(list []Node, from int) {
	for i := from; i < len(list); i++ {
		list[i].setPosition(i)
	}
}

func joinPath(steps []int) string {
	var list []string
	for _, p := range steps {
		list = append(list, strconv.Itoa(p))
	}
	return strings.Join(list, "/")
}
