package xquery

import (
	"cmp"
	"slices"
	"strings"

	"github.com/midbel/xquery/environ"
	"github.com/midbel/xquery/xml"
)

const maxRange = 1 << 24

// Expr is a node of a compiled expression tree. The category of an
// expression is computed once, when the compiler builds the node.
type Expr interface {
	Category() Category
	String() string

	eval(*Context) (Sequence, error)
}

type meta struct {
	cat Category
}

func (m meta) Category() Category {
	return m.cat
}

func quoteString(str string) string {
	return `"` + strings.ReplaceAll(str, `"`, `""`) + `"`
}

func joinExprs(list []Expr, sep string) string {
	var parts []string
	for _, e := range list {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, sep)
}

type literal struct {
	meta
	item Item
}

func (i *literal) String() string {
	if s, ok := i.item.Value().(string); ok {
		return quoteString(s)
	}
	return i.item.String()
}

func (i *literal) eval(_ *Context) (Sequence, error) {
	return Singleton(i.item), nil
}

type sequence struct {
	meta
	all []Expr
}

func (s *sequence) String() string {
	if len(s.all) == 0 {
		return "()"
	}
	return "( " + joinExprs(s.all, ", ") + " )"
}

func (s *sequence) eval(ctx *Context) (Sequence, error) {
	var res Sequence
	for _, e := range s.all {
		seq, err := e.eval(ctx)
		if err != nil {
			return nil, err
		}
		res = append(res, seq...)
	}
	return res, nil
}

type varRef struct {
	meta
	name xml.QName
	key  string
}

func (v *varRef) String() string {
	return "$" + v.name.QualifiedName()
}

func (v *varRef) eval(ctx *Context) (Sequence, error) {
	return ctx.resolve(v.key)
}

type contextItem struct {
	meta
}

func (_ *contextItem) String() string {
	return "."
}

func (_ *contextItem) eval(ctx *Context) (Sequence, error) {
	if ctx.item == nil {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	return Singleton(ctx.item), nil
}

type rootExpr struct {
	meta
}

func (_ *rootExpr) String() string {
	return "/"
}

func (_ *rootExpr) eval(ctx *Context) (Sequence, error) {
	if ctx.item == nil {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	node := ctx.item.Node()
	if node == nil {
		return nil, dynamicError("XPTY0020", "context item is not a node")
	}
	doc, ok := xml.Root(node).(*xml.Document)
	if !ok {
		return nil, dynamicError("XPDY0050", "root of the context node is not a document")
	}
	return Singleton(NewNode(doc)), nil
}

type pathExpr struct {
	meta
	steps []Expr
}

func (p *pathExpr) String() string {
	var str strings.Builder
	for i, s := range p.steps {
		if _, ok := s.(*rootExpr); ok && i == 0 {
			str.WriteString("/")
			continue
		}
		if i > 1 || (i == 1 && !isRoot(p.steps[0])) {
			str.WriteString("/")
		}
		str.WriteString(s.String())
	}
	return str.String()
}

func isRoot(e Expr) bool {
	_, ok := e.(*rootExpr)
	return ok
}

func (p *pathExpr) eval(ctx *Context) (Sequence, error) {
	seq, err := p.steps[0].eval(ctx)
	if err != nil {
		return nil, err
	}
	for _, step := range p.steps[1:] {
		if err := ctx.check(); err != nil {
			return nil, err
		}
		var (
			res   Sequence
			nodes int
		)
		for i, item := range seq {
			if item.Node() == nil {
				return nil, dynamicError(CodeNotNode, "%s: path step applied to a value that is not a node", typeName(item))
			}
			out, err := step.eval(ctx.withFocus(item, i+1, len(seq)))
			if err != nil {
				return nil, err
			}
			for _, o := range out {
				if o.Node() != nil {
					nodes++
				}
			}
			res = append(res, out...)
		}
		switch nodes {
		case len(res):
			seq = documentOrder(res)
		case 0:
			seq = res
		default:
			return nil, dynamicError("XPTY0018", "path step returns both nodes and values")
		}
	}
	return seq, nil
}

type nodeTest interface {
	match(xml.Node, xml.NodeType) bool
	String() string
}

type nameTest struct {
	name     xml.QName
	anyLocal bool
	anyURI   bool
}

func (n nameTest) String() string {
	switch {
	case n.anyLocal && n.anyURI:
		return "*"
	case n.anyLocal && n.name.Space != "":
		return n.name.Space + ":*"
	case n.anyLocal:
		return "{" + n.name.Uri + "}*"
	case n.anyURI:
		return "*:" + n.name.Name
	case n.name.Uri == "" || n.name.Space != "":
		return n.name.QualifiedName()
	default:
		return n.name.ExpandedName()
	}
}

func (n nameTest) match(node xml.Node, principal xml.NodeType) bool {
	if node.Type() != principal {
		return false
	}
	var qn xml.QName
	switch x := node.(type) {
	case *xml.Element:
		qn = x.QName
	case *xml.Attribute:
		qn = x.QName
	default:
		return false
	}
	if !n.anyLocal && qn.Name != n.name.Name {
		return false
	}
	if n.anyURI || qn.Uri == n.name.Uri {
		return true
	}
	return qn.Uri == "" && n.name.Space != "" && qn.Space == n.name.Space
}

func (k kindType) match(node xml.Node, _ xml.NodeType) bool {
	return k.matchNode(node)
}

type stepExpr struct {
	meta
	axis  string
	test  nodeTest
	preds []Expr
}

func (s *stepExpr) String() string {
	var str strings.Builder
	str.WriteString(s.axis)
	str.WriteString("::")
	str.WriteString(s.test.String())
	for _, p := range s.preds {
		str.WriteString("[")
		str.WriteString(p.String())
		str.WriteString("]")
	}
	return str.String()
}

func (s *stepExpr) eval(ctx *Context) (Sequence, error) {
	if ctx.item == nil {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	node := ctx.item.Node()
	if node == nil {
		return nil, dynamicError("XPTY0020", "context item is not a node")
	}
	principal := xml.TypeElement
	if s.axis == "attribute" {
		principal = xml.TypeAttribute
	}
	var seq Sequence
	for _, n := range axisNodes(node, s.axis) {
		if s.test.match(n, principal) {
			seq = append(seq, NewNode(n))
		}
	}
	var err error
	for _, p := range s.preds {
		if seq, err = applyPredicate(ctx, seq, p); err != nil {
			return nil, err
		}
	}
	if reverseAxis(s.axis) {
		seq = documentOrder(seq)
	}
	return seq, nil
}

func reverseAxis(axis string) bool {
	switch axis {
	case "parent", "ancestor", "ancestor-or-self", "preceding", "preceding-sibling":
		return true
	default:
		return false
	}
}

// axisNodes returns the nodes of an axis. Nodes of reverse axes are returned
// nearest first.
func axisNodes(node xml.Node, axis string) []xml.Node {
	switch axis {
	case "self":
		return []xml.Node{node}
	case "child":
		return children(node)
	case "descendant":
		return descendants(node, nil)
	case "descendant-or-self":
		return descendants(node, []xml.Node{node})
	case "attribute":
		el, ok := node.(*xml.Element)
		if !ok {
			return nil
		}
		var list []xml.Node
		for _, a := range el.Attributes() {
			list = append(list, a)
		}
		return list
	case "parent":
		if p := node.Parent(); p != nil {
			return []xml.Node{p}
		}
		return nil
	case "ancestor", "ancestor-or-self":
		var list []xml.Node
		if axis == "ancestor-or-self" {
			list = append(list, node)
		}
		for p := node.Parent(); p != nil; p = p.Parent() {
			list = append(list, p)
		}
		return list
	case "following-sibling", "preceding-sibling":
		if node.Type() == xml.TypeAttribute {
			return nil
		}
		siblings := children(node.Parent())
		ix := slices.Index(siblings, node)
		if ix < 0 {
			return nil
		}
		if axis == "following-sibling" {
			return slices.Clone(siblings[ix+1:])
		}
		list := slices.Clone(siblings[:ix])
		slices.Reverse(list)
		return list
	case "following":
		var list []xml.Node
		for n := node; n != nil && n.Parent() != nil; n = n.Parent() {
			if n.Type() == xml.TypeAttribute {
				list = append(list, descendants(n.Parent(), nil)...)
				continue
			}
			siblings := children(n.Parent())
			ix := slices.Index(siblings, n)
			for _, s := range siblings[ix+1:] {
				list = append(list, descendants(s, []xml.Node{s})...)
			}
		}
		return documentNodes(list)
	case "preceding":
		var list []xml.Node
		ancestors := axisNodes(node, "ancestor")
		root := xml.Root(node)
		for _, n := range descendants(root, nil) {
			if xml.Before(n, node) && !slices.Contains(ancestors, n) {
				list = append(list, n)
			}
		}
		slices.Reverse(list)
		return list
	default:
		return nil
	}
}

func documentNodes(list []xml.Node) []xml.Node {
	slices.SortStableFunc(list, func(a, b xml.Node) int {
		if a == b {
			return 0
		}
		if xml.Before(a, b) {
			return -1
		}
		return 1
	})
	return slices.Compact(list)
}

func children(node xml.Node) []xml.Node {
	c, ok := node.(xml.Container)
	if !ok {
		return nil
	}
	return c.Children()
}

func descendants(node xml.Node, list []xml.Node) []xml.Node {
	for _, c := range children(node) {
		list = append(list, c)
		list = descendants(c, list)
	}
	return list
}

func applyPredicate(ctx *Context, seq Sequence, pred Expr) (Sequence, error) {
	var res Sequence
	for i, item := range seq {
		out, err := pred.eval(ctx.withFocus(item, i+1, len(seq)))
		if err != nil {
			return nil, err
		}
		ok, err := predicateTruth(out, i+1)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, item)
		}
	}
	return res, nil
}

func predicateTruth(seq Sequence, pos int) (bool, error) {
	if len(seq) == 1 && seq[0].Atomic() && isNumeric(seq[0].Value()) {
		f, _ := toDouble(seq[0].Value())
		return f == float64(pos), nil
	}
	return effectiveBoolean(seq)
}

type filterExpr struct {
	meta
	expr Expr
	pred Expr
}

func (f *filterExpr) String() string {
	return f.expr.String() + "[" + f.pred.String() + "]"
}

func (f *filterExpr) eval(ctx *Context) (Sequence, error) {
	seq, err := f.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	return applyPredicate(ctx, seq, f.pred)
}

type binaryExpr struct {
	meta
	op    string
	left  Expr
	right Expr
}

func (b *binaryExpr) String() string {
	return b.left.String() + " " + b.op + " " + b.right.String()
}

func (b *binaryExpr) eval(ctx *Context) (Sequence, error) {
	left, err := b.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "or", "and":
		ok, err := effectiveBoolean(left)
		if err != nil {
			return nil, err
		}
		if (b.op == "or" && ok) || (b.op == "and" && !ok) {
			return Singleton(NewBoolean(ok)), nil
		}
		right, err := b.right.eval(ctx)
		if err != nil {
			return nil, err
		}
		ok, err = effectiveBoolean(right)
		if err != nil {
			return nil, err
		}
		return Singleton(NewBoolean(ok)), nil
	}
	right, err := b.right.eval(ctx)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "=", "!=", "<", "<=", ">", ">=":
		ok, err := generalCompare(b.op, left, right)
		if err != nil {
			return nil, err
		}
		return Singleton(NewBoolean(ok)), nil
	case "eq", "ne", "lt", "le", "gt", "ge":
		return valueCompare(b.op, left, right)
	case "is", "<<", ">>":
		return nodeCompare(b.op, left, right)
	case "to":
		return rangeOf(left, right)
	case "||":
		var str strings.Builder
		for _, s := range []Sequence{left, right} {
			v, err := atomizeOne(s)
			if err != nil {
				return nil, err
			}
			if v != nil {
				str.WriteString(v.String())
			}
		}
		return Singleton(NewString(str.String())), nil
	case "union", "intersect", "except":
		return combineNodes(b.op, left, right)
	default:
		return arithmetic(b.op, left, right)
	}
}

func nodeCompare(op string, left, right Sequence) (Sequence, error) {
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	if len(left) > 1 || len(right) > 1 {
		return nil, dynamicError(CodeTypeError, "%s: operands must be single nodes", op)
	}
	a, b := left[0].Node(), right[0].Node()
	if a == nil || b == nil {
		return nil, dynamicError(CodeTypeError, "%s: operands must be nodes", op)
	}
	var ok bool
	switch op {
	case "is":
		ok = a == b
	case "<<":
		ok = a != b && xml.Before(a, b)
	default:
		ok = a != b && xml.Before(b, a)
	}
	return Singleton(NewBoolean(ok)), nil
}

func rangeOf(left, right Sequence) (Sequence, error) {
	a, err := atomizeOne(left)
	if err != nil || a == nil {
		return nil, err
	}
	b, err := atomizeOne(right)
	if err != nil || b == nil {
		return nil, err
	}
	from, err := toInteger(a.Value())
	if err != nil {
		return nil, err
	}
	to, err := toInteger(b.Value())
	if err != nil {
		return nil, err
	}
	if from > to {
		return nil, nil
	}
	size := uint64(to) - uint64(from)
	if size >= maxRange {
		return nil, dynamicError(CodeImplLimit, "range %d to %d is too large", from, to)
	}
	seq := make(Sequence, 0, size+1)
	for i := from; ; i++ {
		seq = append(seq, NewInteger(i))
		if i == to {
			break
		}
	}
	return seq, nil
}

func combineNodes(op string, left, right Sequence) (Sequence, error) {
	a, ok1 := left.Nodes()
	b, ok2 := right.Nodes()
	if !ok1 || !ok2 {
		return nil, dynamicError(CodeTypeError, "%s: operands must be sequences of nodes", op)
	}
	var res Sequence
	switch op {
	case "union":
		res = append(slices.Clone(left), right...)
	case "intersect":
		for _, n := range a {
			if slices.Contains(b, n) {
				res = append(res, NewNode(n))
			}
		}
	default:
		for _, n := range a {
			if !slices.Contains(b, n) {
				res = append(res, NewNode(n))
			}
		}
	}
	return documentOrder(res), nil
}

type unaryExpr struct {
	meta
	op   string
	expr Expr
}

func (u *unaryExpr) String() string {
	return u.op + u.expr.String()
}

func (u *unaryExpr) eval(ctx *Context) (Sequence, error) {
	seq, err := u.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	v, err := atomizeOne(seq)
	if err != nil || v == nil {
		return nil, err
	}
	n := numericValue(v.Value())
	if n == nil {
		return nil, dynamicError(CodeTypeError, "%s: operand is not numeric", typeName(v))
	}
	if u.op == "+" {
		return Singleton(NewItem(n)), nil
	}
	switch x := n.(type) {
	case int64:
		return Singleton(NewInteger(-x)), nil
	default:
		return Singleton(NewDouble(-x.(float64))), nil
	}
}

type mapExpr struct {
	meta
	left  Expr
	right Expr
}

func (m *mapExpr) String() string {
	return m.left.String() + " ! " + m.right.String()
}

func (m *mapExpr) eval(ctx *Context) (Sequence, error) {
	seq, err := m.left.eval(ctx)
	if err != nil {
		return nil, err
	}
	var res Sequence
	for i, item := range seq {
		out, err := m.right.eval(ctx.withFocus(item, i+1, len(seq)))
		if err != nil {
			return nil, err
		}
		res = append(res, out...)
	}
	return res, nil
}

type conditional struct {
	meta
	test Expr
	csq  Expr
	alt  Expr
}

func (c *conditional) String() string {
	return "if (" + c.test.String() + ") then " + c.csq.String() + " else " + c.alt.String()
}

func (c *conditional) eval(ctx *Context) (Sequence, error) {
	seq, err := c.test.eval(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := effectiveBoolean(seq)
	if err != nil {
		return nil, err
	}
	if ok {
		return c.csq.eval(ctx)
	}
	return c.alt.eval(ctx)
}

type clause interface {
	String() string
}

type forClause struct {
	name xml.QName
	key  string
	pos  string
	typ  *SequenceType
	expr Expr
}

func (c *forClause) String() string {
	str := "for $" + c.name.QualifiedName()
	if c.typ != nil {
		str += " as " + c.typ.String()
	}
	if c.pos != "" {
		str += " at $" + c.pos
	}
	return str + " in " + c.expr.String()
}

type letClause struct {
	name xml.QName
	key  string
	typ  *SequenceType
	expr Expr
}

func (c *letClause) String() string {
	str := "let $" + c.name.QualifiedName()
	if c.typ != nil {
		str += " as " + c.typ.String()
	}
	return str + " := " + c.expr.String()
}

type whereClause struct {
	expr Expr
}

func (c *whereClause) String() string {
	return "where " + c.expr.String()
}

type orderSpec struct {
	expr       Expr
	descending bool
	emptyLeast bool
}

type orderClause struct {
	stable bool
	specs  []orderSpec
}

func (c *orderClause) String() string {
	var parts []string
	for _, s := range c.specs {
		str := s.expr.String()
		if s.descending {
			str += " descending"
		}
		parts = append(parts, str)
	}
	prefix := "order by "
	if c.stable {
		prefix = "stable order by "
	}
	return prefix + strings.Join(parts, ", ")
}

type flwor struct {
	meta
	clauses []clause
	ret     Expr
}

func (f *flwor) String() string {
	var parts []string
	for _, c := range f.clauses {
		parts = append(parts, c.String())
	}
	parts = append(parts, "return "+f.ret.String())
	return strings.Join(parts, " ")
}

func (f *flwor) eval(ctx *Context) (Sequence, error) {
	tuples := []environ.Environ[Sequence]{
		environ.Enclosed(ctx.vars),
	}
	for _, c := range f.clauses {
		if err := ctx.check(); err != nil {
			return nil, err
		}
		var err error
		switch c := c.(type) {
		case *forClause:
			tuples, err = f.iterate(ctx, c, tuples)
		case *letClause:
			tuples, err = f.bind(ctx, c, tuples)
		case *whereClause:
			tuples, err = f.filter(ctx, c, tuples)
		case *orderClause:
			tuples, err = f.order(ctx, c, tuples)
		}
		if err != nil {
			return nil, err
		}
	}
	var res Sequence
	for _, t := range tuples {
		if err := ctx.check(); err != nil {
			return nil, err
		}
		seq, err := f.ret.eval(ctx.withScope(t))
		if err != nil {
			return nil, err
		}
		res = append(res, seq...)
	}
	return res, nil
}

func (f *flwor) iterate(ctx *Context, c *forClause, tuples []environ.Environ[Sequence]) ([]environ.Environ[Sequence], error) {
	var list []environ.Environ[Sequence]
	for _, t := range tuples {
		seq, err := c.expr.eval(ctx.withScope(t))
		if err != nil {
			return nil, err
		}
		for i, item := range seq {
			if err := ctx.check(); err != nil {
				return nil, err
			}
			value := Singleton(item)
			if c.typ != nil {
				if value, err = c.typ.coerce(value); err != nil {
					return nil, err
				}
			}
			env := environ.Enclosed(t)
			env.Define(c.key, value)
			if c.pos != "" {
				env.Define(c.pos, Singleton(NewInteger(int64(i+1))))
			}
			list = append(list, env)
		}
	}
	return list, nil
}

func (f *flwor) bind(ctx *Context, c *letClause, tuples []environ.Environ[Sequence]) ([]environ.Environ[Sequence], error) {
	for i, t := range tuples {
		seq, err := c.expr.eval(ctx.withScope(t))
		if err != nil {
			return nil, err
		}
		if c.typ != nil {
			if seq, err = c.typ.coerce(seq); err != nil {
				return nil, err
			}
		}
		env := environ.Enclosed(t)
		env.Define(c.key, seq)
		tuples[i] = env
	}
	return tuples, nil
}

func (f *flwor) filter(ctx *Context, c *whereClause, tuples []environ.Environ[Sequence]) ([]environ.Environ[Sequence], error) {
	var list []environ.Environ[Sequence]
	for _, t := range tuples {
		seq, err := c.expr.eval(ctx.withScope(t))
		if err != nil {
			return nil, err
		}
		ok, err := effectiveBoolean(seq)
		if err != nil {
			return nil, err
		}
		if ok {
			list = append(list, t)
		}
	}
	return list, nil
}

func (f *flwor) order(ctx *Context, c *orderClause, tuples []environ.Environ[Sequence]) ([]environ.Environ[Sequence], error) {
	type keyed struct {
		env  environ.Environ[Sequence]
		keys []any
	}
	var list []keyed
	for _, t := range tuples {
		k := keyed{
			env: t,
		}
		for _, s := range c.specs {
			seq, err := s.expr.eval(ctx.withScope(t))
			if err != nil {
				return nil, err
			}
			v, err := atomizeOne(seq)
			if err != nil {
				return nil, err
			}
			var key any
			if v != nil {
				key = v.Value()
				if u, ok := key.(Untyped); ok {
					key = string(u)
				}
			}
			k.keys = append(k.keys, key)
		}
		list = append(list, k)
	}
	var cmpErr error
	slices.SortStableFunc(list, func(a, b keyed) int {
		for i, s := range c.specs {
			res := compareKeys(a.keys[i], b.keys[i], s.emptyLeast, &cmpErr)
			if s.descending {
				res = -res
			}
			if res != 0 {
				return res
			}
		}
		return 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}
	tuples = tuples[:0]
	for _, k := range list {
		tuples = append(tuples, k.env)
	}
	return tuples, nil
}

func compareKeys(a, b any, emptyLeast bool, errp *error) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if emptyLeast {
			return -1
		}
		return 1
	case b == nil:
		if emptyLeast {
			return 1
		}
		return -1
	}
	res, err := compareValues(a, b)
	if err != nil && err != errNaN && *errp == nil {
		*errp = err
	}
	return cmp.Compare(res, 0)
}

type quantified struct {
	meta
	every bool
	binds []binding
	test  Expr
}

type binding struct {
	name xml.QName
	key  string
	expr Expr
}

func (q *quantified) String() string {
	var parts []string
	for _, b := range q.binds {
		parts = append(parts, "$"+b.name.QualifiedName()+" in "+b.expr.String())
	}
	kw := "some"
	if q.every {
		kw = "every"
	}
	return kw + " " + strings.Join(parts, ", ") + " satisfies " + q.test.String()
}

func (q *quantified) eval(ctx *Context) (Sequence, error) {
	ok, err := q.satisfies(ctx, environ.Enclosed(ctx.vars), 0)
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(ok)), nil
}

func (q *quantified) satisfies(ctx *Context, env environ.Environ[Sequence], depth int) (bool, error) {
	if depth >= len(q.binds) {
		seq, err := q.test.eval(ctx.withScope(env))
		if err != nil {
			return false, err
		}
		return effectiveBoolean(seq)
	}
	b := q.binds[depth]
	seq, err := b.expr.eval(ctx.withScope(env))
	if err != nil {
		return false, err
	}
	for _, item := range seq {
		if err := ctx.check(); err != nil {
			return false, err
		}
		sub := environ.Enclosed(env)
		sub.Define(b.key, Singleton(item))
		ok, err := q.satisfies(ctx, sub, depth+1)
		if err != nil {
			return false, err
		}
		if ok && !q.every {
			return true, nil
		}
		if !ok && q.every {
			return false, nil
		}
	}
	return q.every, nil
}

type instanceOf struct {
	meta
	expr Expr
	typ  SequenceType
}

func (i *instanceOf) String() string {
	return i.expr.String() + " instance of " + i.typ.String()
}

func (i *instanceOf) eval(ctx *Context) (Sequence, error) {
	seq, err := i.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(i.typ.Matches(seq))), nil
}

type treatAs struct {
	meta
	expr Expr
	typ  SequenceType
}

func (t *treatAs) String() string {
	return t.expr.String() + " treat as " + t.typ.String()
}

func (t *treatAs) eval(ctx *Context) (Sequence, error) {
	seq, err := t.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	if !t.typ.Matches(seq) {
		return nil, dynamicError("XPDY0050", "value does not match %s", t.typ)
	}
	return seq, nil
}

type castAs struct {
	meta
	expr      Expr
	typ       atomicType
	optional  bool
	castable  bool
	construct bool
}

func (c *castAs) String() string {
	if c.construct {
		return c.typ.String() + "(" + c.expr.String() + ")"
	}
	op := " cast as "
	if c.castable {
		op = " castable as "
	}
	str := c.expr.String() + op + c.typ.String()
	if c.optional {
		str += "?"
	}
	return str
}

func (c *castAs) eval(ctx *Context) (Sequence, error) {
	seq, err := c.expr.eval(ctx)
	if err != nil {
		return nil, err
	}
	v, err := atomizeOne(seq)
	if err != nil {
		if c.castable {
			return Singleton(NewBoolean(false)), nil
		}
		return nil, err
	}
	if v == nil {
		if c.castable {
			return Singleton(NewBoolean(c.optional)), nil
		}
		if c.optional {
			return nil, nil
		}
		return nil, dynamicError(CodeTypeError, "empty sequence can not be cast to %s", c.typ)
	}
	res, err := c.typ.cast(v)
	if c.castable {
		return Singleton(NewBoolean(err == nil)), nil
	}
	if err != nil {
		return nil, err
	}
	return Singleton(res), nil
}
