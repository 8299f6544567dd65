package xquery

import (
	"fmt"
	"slices"

	"github.com/midbel/xquery/xml"
)

type OpKind int8

const (
	OpInsertInto OpKind = iota
	OpInsertFirst
	OpInsertLast
	OpInsertBefore
	OpInsertAfter
	OpInsertAttributes
	OpDelete
	OpRename
	OpReplaceNode
	OpReplaceValue
	OpPut
)

func (k OpKind) String() string {
	switch k {
	case OpInsertInto:
		return "insertInto"
	case OpInsertFirst:
		return "insertIntoAsFirst"
	case OpInsertLast:
		return "insertIntoAsLast"
	case OpInsertBefore:
		return "insertBefore"
	case OpInsertAfter:
		return "insertAfter"
	case OpInsertAttributes:
		return "insertAttributes"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	case OpReplaceNode:
		return "replaceNode"
	case OpReplaceValue:
		return "replaceValue"
	case OpPut:
		return "put"
	default:
		return "unknown"
	}
}

// Op is a pending update. Nodes holds the nodes to insert or to put in place
// of the target (always copies, never attached to a tree), Name the new name
// of a renamed node, Value the new content of a node and URI the location
// given to fn:put.
type Op struct {
	Kind   OpKind
	Target xml.Node
	Nodes  []xml.Node
	Name   xml.QName
	Value  string
	URI    string
}

func (o Op) String() string {
	switch o.Kind {
	case OpRename:
		return fmt.Sprintf("%s(%s, %s)", o.Kind, o.Target.Identity(), o.Name.QualifiedName())
	case OpReplaceValue:
		return fmt.Sprintf("%s(%s, %q)", o.Kind, o.Target.Identity(), o.Value)
	case OpPut:
		return fmt.Sprintf("%s(%s, %s)", o.Kind, o.Target.Identity(), o.URI)
	case OpDelete:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Target.Identity())
	default:
		return fmt.Sprintf("%s(%s, %d node(s))", o.Kind, o.Target.Identity(), len(o.Nodes))
	}
}

// PendingList is the append only log of the updates requested during one
// evaluation. It is drained once, by the code in charge of applying the
// updates.
type PendingList struct {
	ops     []Op
	drained bool
}

func NewPendingList() *PendingList {
	return &PendingList{}
}

func (p *PendingList) Add(op Op) error {
	if p.drained {
		return ErrDrained
	}
	p.ops = append(p.ops, op)
	return nil
}

func (p *PendingList) Len() int {
	return len(p.ops)
}

func (p *PendingList) Ops() []Op {
	return slices.Clone(p.ops)
}

func (p *PendingList) Drained() bool {
	return p.drained
}

func (p *PendingList) Drain() ([]Op, error) {
	if p.drained {
		return nil, ErrDrained
	}
	p.drained = true
	ops := p.ops
	p.ops = nil
	return ops, nil
}

// Discard drops the pending updates without applying them.
func (p *PendingList) Discard() {
	p.ops = nil
}

func (p *PendingList) Reset() {
	p.ops = nil
	p.drained = false
}
