package xquery

import (
	"strings"
	"sync/atomic"

	"github.com/midbel/xquery/xml"
)

type InsertChoice int8

const (
	InsertInto InsertChoice = iota
	InsertFirst
	InsertLast
	InsertBefore
	InsertAfter
)

func (c InsertChoice) String() string {
	switch c {
	case InsertInto:
		return "INTO"
	case InsertFirst:
		return "FIRST"
	case InsertLast:
		return "LAST"
	case InsertBefore:
		return "BEFORE"
	case InsertAfter:
		return "AFTER"
	default:
		return "UNKNOWN"
	}
}

func (c InsertChoice) keyword() string {
	switch c {
	case InsertFirst:
		return "as first into"
	case InsertLast:
		return "as last into"
	case InsertBefore:
		return "before"
	case InsertAfter:
		return "after"
	default:
		return "into"
	}
}

func (c InsertChoice) opKind() OpKind {
	switch c {
	case InsertFirst:
		return OpInsertFirst
	case InsertLast:
		return OpInsertLast
	case InsertBefore:
		return OpInsertBefore
	case InsertAfter:
		return OpInsertAfter
	default:
		return OpInsertInto
	}
}

type Insert struct {
	meta
	Choice InsertChoice
	Source Expr
	Target Expr
}

func (i *Insert) String() string {
	return "insert node " + i.Source.String() + " " + i.Choice.keyword() + " " + i.Target.String()
}

func (i *Insert) eval(ctx *Context) (Sequence, error) {
	src, err := i.Source.eval(ctx)
	if err != nil {
		return nil, err
	}
	attrs, nodes, err := insertionNodes(src)
	if err != nil {
		return nil, err
	}
	target, err := updateTarget(ctx, i.Target, CodeInsertTarget)
	if err != nil {
		return nil, err
	}
	var parent xml.Node
	switch i.Choice {
	case InsertBefore, InsertAfter:
		switch target.Type() {
		case xml.TypeElement, xml.TypeText, xml.TypeComment, xml.TypeInstruction:
		default:
			return nil, dynamicError(CodeInsertSibling, "%s: target of insert %s must be an element, text, comment or processing instruction", target.Identity(), i.Choice.keyword())
		}
		if parent = target.Parent(); parent == nil {
			return nil, dynamicError(CodeInsertNoParent, "%s: target of insert %s has no parent", target.Identity(), i.Choice.keyword())
		}
		if len(attrs) > 0 && parent.Type() != xml.TypeElement {
			return nil, dynamicError("XUDY0030", "%s: attributes can not be inserted in a document", target.Identity())
		}
	default:
		if target.Type() != xml.TypeElement && target.Type() != xml.TypeDocument {
			return nil, dynamicError(CodeInsertTarget, "%s: target of insert %s must be an element or a document", target.Identity(), i.Choice.keyword())
		}
		parent = target
		if len(attrs) > 0 && target.Type() != xml.TypeElement {
			return nil, dynamicError(CodeInsertAttribute, "%s: attributes can only be inserted into an element", target.Identity())
		}
	}
	if len(attrs) > 0 {
		op := Op{
			Kind:   OpInsertAttributes,
			Target: parent,
			Nodes:  attrs,
		}
		if err := ctx.addUpdate(op); err != nil {
			return nil, err
		}
	}
	if len(nodes) > 0 {
		op := Op{
			Kind:   i.Choice.opKind(),
			Target: target,
			Nodes:  nodes,
		}
		if err := ctx.addUpdate(op); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// insertionNodes returns copies of the nodes of seq, attributes first.
// Attributes must come before any other node.
func insertionNodes(seq Sequence) ([]xml.Node, []xml.Node, error) {
	list, err := contentNodes(seq)
	if err != nil {
		return nil, nil, err
	}
	var attrs, nodes []xml.Node
	for _, n := range list {
		if n.Type() == xml.TypeAttribute {
			if len(nodes) > 0 {
				return nil, nil, dynamicError(CodeInsertSource, "%s: attribute follows other nodes in insertion sequence", n.QualifiedName())
			}
			attrs = append(attrs, n)
			continue
		}
		nodes = append(nodes, n)
	}
	return attrs, nodes, nil
}

func updateTarget(ctx *Context, expr Expr, code string) (xml.Node, error) {
	seq, err := expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	if len(seq) == 0 {
		return nil, dynamicError(CodeEmptyTarget, "target of update is an empty sequence")
	}
	if len(seq) > 1 {
		return nil, dynamicError(code, "target of update must be a single node, got %d items", len(seq))
	}
	node := seq[0].Node()
	if node == nil {
		return nil, dynamicError(code, "%s: target of update must be a node", typeName(seq[0]))
	}
	return node, nil
}

type Delete struct {
	meta
	Target   Expr
	Multiple bool
}

func (d *Delete) String() string {
	kw := "delete node "
	if d.Multiple {
		kw = "delete nodes "
	}
	return kw + d.Target.String()
}

func (d *Delete) eval(ctx *Context) (Sequence, error) {
	seq, err := d.Target.eval(ctx)
	if err != nil {
		return nil, err
	}
	nodes, ok := seq.Nodes()
	if !ok {
		return nil, dynamicError(CodeDeleteTarget, "target of delete must be a sequence of nodes")
	}
	for _, n := range nodes {
		op := Op{
			Kind:   OpDelete,
			Target: n,
		}
		if err := ctx.addUpdate(op); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type Rename struct {
	meta
	Target  Expr
	NewName Expr
}

func (r *Rename) String() string {
	return "rename node " + r.Target.String() + " as " + r.NewName.String()
}

func (r *Rename) eval(ctx *Context) (Sequence, error) {
	target, err := updateTarget(ctx, r.Target, CodeRenameTarget)
	if err != nil {
		return nil, err
	}
	switch target.Type() {
	case xml.TypeElement, xml.TypeAttribute, xml.TypeInstruction:
	default:
		return nil, dynamicError(CodeRenameTarget, "%s: only elements, attributes and processing instructions can be renamed", target.Identity())
	}
	name, err := evalName(ctx, r.NewName)
	if err != nil {
		return nil, err
	}
	op := Op{
		Kind:   OpRename,
		Target: target,
		Name:   name,
	}
	return nil, ctx.addUpdate(op)
}

type ReplaceMode int8

const (
	ReplaceNode ReplaceMode = iota
	ReplaceValue
)

func (m ReplaceMode) String() string {
	if m == ReplaceValue {
		return "VALUE"
	}
	return "NODE"
}

type Replace struct {
	meta
	Mode   ReplaceMode
	Target Expr
	With   Expr
}

func (r *Replace) String() string {
	kw := "replace node "
	if r.Mode == ReplaceValue {
		kw = "replace value of node "
	}
	return kw + r.Target.String() + " with " + r.With.String()
}

func (r *Replace) eval(ctx *Context) (Sequence, error) {
	target, err := updateTarget(ctx, r.Target, CodeReplaceTarget)
	if err != nil {
		return nil, err
	}
	if target.Type() == xml.TypeDocument {
		return nil, dynamicError(CodeReplaceTarget, "%s: a document can not be replaced", target.Identity())
	}
	seq, err := r.With.eval(ctx)
	if err != nil {
		return nil, err
	}
	if r.Mode == ReplaceValue {
		value, err := joinValues(seq)
		if err != nil {
			return nil, err
		}
		op := Op{
			Kind:   OpReplaceValue,
			Target: target,
			Value:  value,
		}
		return nil, ctx.addUpdate(op)
	}
	if target.Parent() == nil {
		return nil, dynamicError(CodeReplaceNoParent, "%s: target of replace has no parent", target.Identity())
	}
	attrs, nodes, err := insertionNodes(seq)
	if err != nil {
		return nil, err
	}
	if target.Type() == xml.TypeAttribute {
		if len(nodes) > 0 {
			return nil, dynamicError(CodeReplaceAttribute, "%s: an attribute can only be replaced by attributes", target.Identity())
		}
		nodes = attrs
	} else if len(attrs) > 0 {
		return nil, dynamicError(CodeReplaceElement, "%s: replacement of a node can not contain attributes", target.Identity())
	}
	op := Op{
		Kind:   OpReplaceNode,
		Target: target,
		Nodes:  nodes,
	}
	return nil, ctx.addUpdate(op)
}

type CopyBinding struct {
	Name xml.QName
	Expr Expr

	key string
}

// CopyModify evaluates its modify clause against copies of the nodes bound
// by its copy clause. The updates of the modify clause are applied to the
// copies before the return clause is evaluated.
type CopyModify struct {
	meta
	Bindings []CopyBinding
	Modify   Expr
	Return   Expr

	transform bool
}

func (c *CopyModify) String() string {
	if c.transform && len(c.Bindings) == 1 {
		return c.Bindings[0].Expr.String() + " transform with { " + c.Modify.String() + " }"
	}
	var parts []string
	for _, b := range c.Bindings {
		parts = append(parts, "$"+b.Name.QualifiedName()+" := "+b.Expr.String())
	}
	return "copy " + strings.Join(parts, ", ") + " modify " + c.Modify.String() + " return " + c.Return.String()
}

func (c *CopyModify) eval(ctx *Context) (Sequence, error) {
	sub, env := ctx.enclosed()
	var copies []xml.Node
	for _, b := range c.Bindings {
		seq, err := b.Expr.eval(sub)
		if err != nil {
			return nil, err
		}
		if len(seq) != 1 || seq[0].Node() == nil {
			return nil, dynamicError(CodeCopySource, "$%s: copy source must be a single node", b.Name.QualifiedName())
		}
		node := xml.Clone(seq[0].Node())
		copies = append(copies, node)
		env.Define(b.key, Singleton(NewNode(node)))
	}
	local := NewPendingList()
	mod := *sub
	mod.pending = local
	mod.modify = true
	if _, err := c.Modify.eval(&mod); err != nil {
		return nil, err
	}
	ops, err := local.Drain()
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if !copied(copies, op.Target) {
			return nil, dynamicError(CodeModifyTarget, "%s: target of modify clause is not a copied node", op.Target.Identity())
		}
	}
	if _, err := ApplyUpdates(ops); err != nil {
		return nil, err
	}
	return c.Return.eval(sub)
}

func copied(copies []xml.Node, node xml.Node) bool {
	for _, c := range copies {
		if xml.Contains(c, node) {
			return true
		}
	}
	return false
}

// DynamicCall calls the function item returned by its function expression.
// The category of a call to a function known only at evaluation time is
// given by the last function the call resolved to.
type DynamicCall struct {
	meta
	Func   Expr
	Args   []Expr
	Invoke bool

	resolved atomic.Pointer[Function]
}

func (d *DynamicCall) Category() Category {
	if d.cat == Updating {
		return Updating
	}
	if fn := d.resolved.Load(); fn != nil {
		return fn.Category()
	}
	return Simple
}

// Resolved returns the function the last evaluation of the call resolved to.
func (d *DynamicCall) Resolved() *Function {
	return d.resolved.Load()
}

func (d *DynamicCall) String() string {
	var prefix string
	if d.Invoke {
		prefix = "invoke updating "
	}
	return prefix + d.Func.String() + "(" + joinExprs(d.Args, ", ") + ")"
}

func (d *DynamicCall) eval(ctx *Context) (Sequence, error) {
	seq, err := d.Func.eval(ctx)
	if err != nil {
		return nil, err
	}
	fn, err := functionItem(seq)
	if err != nil {
		return nil, err
	}
	if prev := d.resolved.Load(); prev != fn {
		d.resolved.Store(fn)
	}
	if fn.Updating && !d.Invoke {
		return nil, dynamicError(CodeUpdatingCall, "%s: updating function called without invoke updating", fn)
	}
	args, err := evalArgs(ctx, d.Args)
	if err != nil {
		return nil, err
	}
	return fn.invoke(ctx, args)
}
