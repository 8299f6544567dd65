package xquery

import (
	"slices"

	"github.com/midbel/xquery/xml"
)

type Put struct {
	URI      string
	Document *xml.Document
}

type ApplyResult struct {
	Applied   int
	Documents []*xml.Document
	Puts      []Put
}

var phases = [][]OpKind{
	{OpInsertInto, OpInsertAttributes, OpReplaceValue, OpRename},
	{OpInsertBefore, OpInsertAfter, OpInsertFirst, OpInsertLast},
	{OpReplaceNode},
	{OpDelete},
}

// ApplyUpdates performs the operations of a drained pending list. Conflicting
// operations are detected before any tree is modified. Operations are then
// applied phase by phase: the result does not depend on the order in which
// non conflicting operations were requested.
func ApplyUpdates(ops []Op) (*ApplyResult, error) {
	if err := checkConflicts(ops); err != nil {
		return nil, err
	}
	if err := checkAttributes(ops); err != nil {
		return nil, err
	}
	var res ApplyResult
	for _, op := range ops {
		if op.Kind == OpPut {
			continue
		}
		doc := xml.DocumentOf(op.Target)
		if doc != nil && !slices.Contains(res.Documents, doc) {
			res.Documents = append(res.Documents, doc)
		}
	}
	for _, kinds := range phases {
		for _, op := range ops {
			if !slices.Contains(kinds, op.Kind) {
				continue
			}
			if err := applyOp(op); err != nil {
				return nil, err
			}
			res.Applied++
		}
	}
	for _, op := range ops {
		if op.Kind != OpPut {
			continue
		}
		var doc *xml.Document
		if d, ok := op.Target.(*xml.Document); ok {
			doc = d.Clone().(*xml.Document)
		} else {
			doc = xml.NewDocument(xml.Clone(op.Target))
		}
		doc.URI = op.URI
		res.Puts = append(res.Puts, Put{
			URI:      op.URI,
			Document: doc,
		})
		res.Applied++
	}
	return &res, nil
}

func checkConflicts(ops []Op) error {
	var (
		renamed  = make(map[xml.Node]struct{})
		replaced = make(map[xml.Node]struct{})
		values   = make(map[xml.Node]struct{})
		puts     = make(map[string]struct{})
	)
	check := func(set map[xml.Node]struct{}, node xml.Node, code string) error {
		if _, ok := set[node]; ok {
			return dynamicError(code, "%s: node is the target of more than one conflicting update", node.Identity())
		}
		set[node] = struct{}{}
		return nil
	}
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpRename:
			err = check(renamed, op.Target, CodeRenameConflict)
		case OpReplaceNode:
			err = check(replaced, op.Target, CodeReplaceConflict)
		case OpReplaceValue:
			err = check(values, op.Target, CodeValueConflict)
		case OpPut:
			if _, ok := puts[op.URI]; ok {
				err = dynamicError("XUDY0031", "%s: document is put more than once", op.URI)
			}
			puts[op.URI] = struct{}{}
		default:
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkAttributes replays the attribute changes of ops, phase by phase, on the
// attribute names of the elements involved. A name given twice to the same
// element is reported before any element is modified.
func checkAttributes(ops []Op) error {
	var (
		names = make(map[*xml.Element]map[string]*xml.Attribute)
		get   = func(el *xml.Element) map[string]*xml.Attribute {
			set, ok := names[el]
			if !ok {
				set = make(map[string]*xml.Attribute)
				for _, a := range el.Attributes() {
					set[a.QualifiedName()] = a
				}
				names[el] = set
			}
			return set
		}
		remove = func(set map[string]*xml.Attribute, attr *xml.Attribute) {
			for n, a := range set {
				if a == attr {
					delete(set, n)
				}
			}
		}
		insert = func(set map[string]*xml.Attribute, nodes []xml.Node) error {
			for _, n := range nodes {
				a, ok := n.(*xml.Attribute)
				if !ok {
					continue
				}
				if _, ok := set[a.QualifiedName()]; ok {
					return dynamicError(CodeDuplicateAttr, "%s: attribute already exists", a.QualifiedName())
				}
				set[a.QualifiedName()] = a
			}
			return nil
		}
	)
	for _, kinds := range phases {
		for _, op := range ops {
			if !slices.Contains(kinds, op.Kind) {
				continue
			}
			var err error
			switch op.Kind {
			case OpInsertAttributes:
				if el, ok := op.Target.(*xml.Element); ok {
					err = insert(get(el), op.Nodes)
				}
			case OpRename:
				a, el := attributeOf(op.Target)
				if a == nil {
					break
				}
				set, name := get(el), op.Name.QualifiedName()
				if other, ok := set[name]; ok && other != a {
					return dynamicError(CodeDuplicateAttr, "%s: attribute already exists", op.Name)
				}
				remove(set, a)
				set[name] = a
			case OpReplaceNode:
				a, el := attributeOf(op.Target)
				if a == nil {
					break
				}
				set := get(el)
				remove(set, a)
				err = insert(set, op.Nodes)
			default:
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func attributeOf(node xml.Node) (*xml.Attribute, *xml.Element) {
	a, ok := node.(*xml.Attribute)
	if !ok {
		return nil, nil
	}
	el, ok := a.Parent().(*xml.Element)
	if !ok {
		return nil, nil
	}
	return a, el
}

func applyOp(op Op) error {
	switch op.Kind {
	case OpInsertInto, OpInsertLast, OpInsertFirst:
		c, ok := op.Target.(xml.Container)
		if !ok {
			return dynamicError(CodeInsertTarget, "%s: can not have children", op.Target.Identity())
		}
		at := len(c.Children())
		if op.Kind == OpInsertFirst {
			at = 0
		}
		return wrapError(CodeInsertTarget, c.InsertAt(at, op.Nodes...))
	case OpInsertBefore, OpInsertAfter:
		parent, ok := op.Target.Parent().(xml.Container)
		if !ok {
			return dynamicError(CodeInsertNoParent, "%s: node has no parent", op.Target.Identity())
		}
		at := parent.IndexOf(op.Target)
		if op.Kind == OpInsertAfter {
			at++
		}
		return wrapError(CodeInsertSibling, parent.InsertAt(at, op.Nodes...))
	case OpInsertAttributes:
		el, ok := op.Target.(*xml.Element)
		if !ok {
			return dynamicError(CodeInsertAttribute, "%s: attributes can only be inserted into an element", op.Target.Identity())
		}
		return setAttributes(el, op.Nodes)
	case OpRename:
		if a, ok := op.Target.(*xml.Attribute); ok {
			if el, ok := a.Parent().(*xml.Element); ok {
				other := el.GetAttribute(op.Name.QualifiedName())
				if other != nil && other != a {
					return dynamicError(CodeDuplicateAttr, "%s: attribute already exists", op.Name)
				}
			}
		}
		return wrapError(CodeRenameTarget, xml.Rename(op.Target, op.Name))
	case OpReplaceValue:
		return wrapError(CodeReplaceTarget, xml.SetValue(op.Target, op.Value))
	case OpReplaceNode:
		if a, ok := op.Target.(*xml.Attribute); ok {
			el, ok := a.Parent().(*xml.Element)
			if !ok {
				return dynamicError(CodeReplaceNoParent, "%s: attribute has no parent", a.Identity())
			}
			if err := el.RemoveAttr(a); err != nil {
				return wrapError(CodeReplaceNoParent, err)
			}
			return setAttributes(el, op.Nodes)
		}
		parent, ok := op.Target.Parent().(xml.Container)
		if !ok {
			return dynamicError(CodeReplaceNoParent, "%s: node has no parent", op.Target.Identity())
		}
		return wrapError(CodeReplaceTarget, parent.ReplaceChild(op.Target, op.Nodes...))
	case OpDelete:
		if op.Target.Parent() == nil {
			return nil
		}
		return wrapError(CodeDeleteTarget, xml.Detach(op.Target))
	default:
		return nil
	}
}

func setAttributes(el *xml.Element, nodes []xml.Node) error {
	for _, n := range nodes {
		a, ok := n.(*xml.Attribute)
		if !ok {
			return dynamicError(CodeInsertSource, "%s: attribute expected", n.Type())
		}
		if el.GetAttribute(a.QualifiedName()) != nil {
			return dynamicError(CodeDuplicateAttr, "%s: attribute already exists", a.QualifiedName())
		}
		el.SetAttribute(a)
	}
	return nil
}
