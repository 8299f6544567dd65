package xquery

import (
	"fmt"
	"io"
	"strings"
)

type Kind int16

const (
	KindError Kind = iota
	KindModule
	KindLibrary
	KindVersion
	KindModuleDecl
	KindProlog
	KindNamespaceDecl
	KindDefaultNamespace
	KindImport
	KindVarDecl
	KindFuncDecl
	KindParam
	KindRevalidation
	KindOption
	KindSetter
	KindAnnotation

	KindSequenceType
	KindEmptySequence
	KindItemTest
	KindKindTest
	KindAtomicType
	KindFunctionTest

	KindExprList
	KindFLWOR
	KindFor
	KindLet
	KindWhere
	KindOrderBy
	KindOrderSpec
	KindReturn
	KindBinding
	KindQuantified
	KindIf

	KindBinary
	KindUnary
	KindInstanceOf
	KindTreatAs
	KindCastAs
	KindCastableAs
	KindPath
	KindRoot
	KindStep
	KindNameTest
	KindFilter
	KindMap

	KindVarRef
	KindString
	KindNumber
	KindContext
	KindEmpty
	KindCall
	KindPlaceholder
	KindFuncRef
	KindInlineFunc
	KindDynamicCall

	KindDirElement
	KindDirAttribute
	KindDirComment
	KindText
	KindEnclosed
	KindCompElement
	KindCompAttribute
	KindCompText
	KindCompComment
	KindCompDocument

	KindInsert
	KindDelete
	KindRename
	KindReplace
	KindCopyModify
	KindTransformWith
)

var kindNames = map[Kind]string{
	KindError:            "error",
	KindModule:           "module",
	KindLibrary:          "library",
	KindVersion:          "version",
	KindModuleDecl:       "module-decl",
	KindProlog:           "prolog",
	KindNamespaceDecl:    "namespace-decl",
	KindDefaultNamespace: "default-namespace",
	KindImport:           "import",
	KindVarDecl:          "variable-decl",
	KindFuncDecl:         "function-decl",
	KindParam:            "param",
	KindRevalidation:     "revalidation",
	KindOption:           "option",
	KindSetter:           "setter",
	KindAnnotation:       "annotation",
	KindSequenceType:     "sequence-type",
	KindEmptySequence:    "empty-sequence",
	KindItemTest:         "item-test",
	KindKindTest:         "kind-test",
	KindAtomicType:       "atomic-type",
	KindFunctionTest:     "function-test",
	KindExprList:         "expr-list",
	KindFLWOR:            "flwor",
	KindFor:              "for",
	KindLet:              "let",
	KindWhere:            "where",
	KindOrderBy:          "order-by",
	KindOrderSpec:        "order-spec",
	KindReturn:           "return",
	KindBinding:          "binding",
	KindQuantified:       "quantified",
	KindIf:               "if",
	KindBinary:           "binary",
	KindUnary:            "unary",
	KindInstanceOf:       "instance-of",
	KindTreatAs:          "treat-as",
	KindCastAs:           "cast-as",
	KindCastableAs:       "castable-as",
	KindPath:             "path",
	KindRoot:             "root",
	KindStep:             "step",
	KindNameTest:         "name-test",
	KindFilter:           "filter",
	KindMap:              "map",
	KindVarRef:           "variable",
	KindString:           "string",
	KindNumber:           "number",
	KindContext:          "context-item",
	KindEmpty:            "empty",
	KindCall:             "call",
	KindPlaceholder:      "placeholder",
	KindFuncRef:          "function-ref",
	KindInlineFunc:       "inline-function",
	KindDynamicCall:      "dynamic-call",
	KindDirElement:       "dir-element",
	KindDirAttribute:     "dir-attribute",
	KindDirComment:       "dir-comment",
	KindText:             "text",
	KindEnclosed:         "enclosed",
	KindCompElement:      "comp-element",
	KindCompAttribute:    "comp-attribute",
	KindCompText:         "comp-text",
	KindCompComment:      "comp-comment",
	KindCompDocument:     "comp-document",
	KindInsert:           "insert",
	KindDelete:           "delete",
	KindRename:           "rename",
	KindReplace:          "replace",
	KindCopyModify:       "copy-modify",
	KindTransformWith:    "transform-with",
}

func (k Kind) String() string {
	if str, ok := kindNames[k]; ok {
		return str
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Node is a node of the syntax tree built by the Parser. Literal holds the
// main value of the node (a name, an operator, a literal value) and Label a
// secondary one (positional variable, occurrence indicator, sort order...).
type Node struct {
	Kind     Kind
	Literal  string
	Label    string
	Children []*Node

	Start Position
	End   Position
}

func createNode(kind Kind, tok Token) *Node {
	return &Node{
		Kind:  kind,
		Start: tok.Position,
		End:   tok.Position,
	}
}

func (n *Node) add(child *Node) {
	if child == nil {
		return
	}
	n.Children = append(n.Children, child)
	if child.End.Offset > n.End.Offset {
		n.End = child.End
	}
}

// First returns the first child of the given kind.
func (n *Node) First(kind Kind) *Node {
	for _, c := range n.Children {
		if c.Kind == kind {
			return c
		}
	}
	return nil
}

// All returns the children of the given kind.
func (n *Node) All(kind Kind) []*Node {
	var list []*Node
	for _, c := range n.Children {
		if c.Kind == kind {
			list = append(list, c)
		}
	}
	return list
}

func (n *Node) Last() *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

func (n *Node) String() string {
	var buf strings.Builder
	buf.WriteString(n.Kind.String())
	if n.Literal != "" {
		fmt.Fprintf(&buf, "(%s)", n.Literal)
	}
	if n.Label != "" {
		fmt.Fprintf(&buf, "[%s]", n.Label)
	}
	return buf.String()
}

// Dump writes an indented representation of the tree rooted at n.
func Dump(w io.Writer, n *Node) {
	dumpNode(w, n, 0)
}

func dumpNode(w io.Writer, n *Node, depth int) {
	if n == nil {
		return
	}
	fmt.Fprintf(w, "%s%s @ %s\n", strings.Repeat("  ", depth), n, n.Start)
	for _, c := range n.Children {
		dumpNode(w, c, depth+1)
	}
}
