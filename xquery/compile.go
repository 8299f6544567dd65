package xquery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/midbel/xquery/environ"
	"github.com/midbel/xquery/xml"
)

type Option func(*Compiler)

func WithTracer(tracer Tracer) Option {
	return func(c *Compiler) {
		if tracer != nil {
			c.Tracer = tracer
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithNamespace(prefix, uri string) Option {
	return func(c *Compiler) {
		c.spaces[prefix] = uri
	}
}

// WithVariables declares external variables that the query can use without
// declaring them in its prolog.
func WithVariables(names ...string) Option {
	return func(c *Compiler) {
		c.implicit = append(c.implicit, names...)
	}
}

// WithLibrary makes the library module available to the import module
// declarations of the query.
func WithLibrary(source string) Option {
	return func(c *Compiler) {
		c.sources = append(c.sources, source)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Compiler) {
		c.timeout = timeout
	}
}

func WithDocuments(resolver DocumentResolver) Option {
	return func(c *Compiler) {
		c.documents = resolver
	}
}

type varInfo struct {
	key string
	fn  *Function
}

// Compiler builds the expression tree of a module from its syntax tree and
// performs the static checks: names resolution and the rules governing where
// updating expressions can appear.
type Compiler struct {
	Tracer
	logger    *zap.Logger
	spaces    map[string]string
	implicit  []string
	sources   []string
	timeout   time.Duration
	documents DocumentResolver

	namespaces environ.Environ[string]
	elemNS     string
	funcNS     string
	registry   *Registry
	scope      environ.Environ[*varInfo]
	module     *Module
	libraries  map[string]*Module
	counter    int
}

func NewCompiler(opts ...Option) *Compiler {
	c := Compiler{
		Tracer: discardTracer{},
		logger: zap.NewNop(),
		spaces: DefaultNamespaces(),
	}
	for _, o := range opts {
		o(&c)
	}
	return &c
}

// Namespaces returns the prefixes given to the compiler.
func (c *Compiler) Namespaces() map[string]string {
	return c.spaces
}

func (c *Compiler) reset() {
	c.namespaces = environ.Empty[string]()
	for p, u := range c.spaces {
		c.namespaces.Define(p, u)
	}
	c.elemNS = ""
	c.funcNS = nsFn
	c.registry = NewRegistry(builtins)
	c.scope = environ.Empty[*varInfo]()
	c.module = &Module{
		Namespaces: make(map[string]string),
		Options:    make(map[string]string),
		Setters:    make(map[string]string),
	}
}

func (c *Compiler) Compile(query string) (*Module, error) {
	c.reset()
	p := NewParser(query)
	p.Tracer = c.Tracer
	root := p.Module()
	if p.FoundErrors() {
		c.logger.Debug("query rejected by parser", zap.Int("errors", len(p.Errors())))
		return nil, p.Errors()
	}
	return c.compileModule(root)
}

// CompileExpr compiles a single expression without prolog.
func (c *Compiler) CompileExpr(expr string) (Expr, error) {
	c.reset()
	p := NewParser(expr)
	p.Tracer = c.Tracer
	root := p.Expr()
	if p.FoundErrors() {
		return nil, p.Errors()
	}
	if err := c.declareImplicit(); err != nil {
		return nil, err
	}
	return c.compile(root)
}

func (c *Compiler) compileModule(root *Node) (*Module, error) {
	mod := c.module
	mod.Library = root.Kind == KindLibrary
	var (
		vars  []*Node
		funcs []*Node
	)
	for _, n := range root.Children {
		switch n.Kind {
		case KindVersion:
			mod.Version = n.Literal
			mod.Encoding = n.Label
		case KindModuleDecl:
			mod.Prefix = n.Literal
			mod.Namespace = n.Label
			c.namespaces.Define(n.Literal, n.Label)
		case KindProlog:
			for _, d := range n.Children {
				switch d.Kind {
				case KindVarDecl:
					vars = append(vars, d)
				case KindFuncDecl:
					funcs = append(funcs, d)
				default:
					if err := c.compileSetting(d); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	if err := c.declareImplicit(); err != nil {
		return nil, err
	}
	var decls []*Function
	for _, n := range funcs {
		fn, err := c.declareFunction(n)
		if err != nil {
			return nil, err
		}
		decls = append(decls, fn)
	}
	for _, n := range vars {
		v, err := c.compileVariable(n)
		if err != nil {
			return nil, err
		}
		mod.Variables = append(mod.Variables, v)
	}
	for i, n := range funcs {
		if err := c.compileFunctionBody(decls[i], n); err != nil {
			return nil, err
		}
	}
	mod.Functions = append(mod.Functions, decls...)
	if mod.Library {
		return mod, nil
	}
	body, err := c.compile(root.Last())
	if err != nil {
		return nil, err
	}
	mod.Body = body
	c.logger.Debug("query compiled",
		zap.String("category", body.Category().String()),
		zap.Int("functions", len(mod.Functions)),
		zap.Int("variables", len(mod.Variables)),
	)
	return mod, nil
}

func (c *Compiler) declareImplicit() error {
	for _, name := range c.implicit {
		qn, err := c.resolveName(name, "", Position{})
		if err != nil {
			return err
		}
		key := varKey(qn)
		if _, err := c.scope.Resolve(key); err == nil {
			continue
		}
		c.scope.Define(key, &varInfo{key: key})
		c.module.Variables = append(c.module.Variables, &Variable{
			Name:     qn,
			External: true,
			key:      key,
		})
	}
	return nil
}

func (c *Compiler) compileSetting(n *Node) error {
	mod := c.module
	switch n.Kind {
	case KindNamespaceDecl:
		if n.Literal == "xml" || n.Literal == "xmlns" {
			return staticError("XQST0070", n.Start, "%s: prefix can not be redeclared", n.Literal)
		}
		c.namespaces.Define(n.Literal, n.Label)
		mod.Namespaces[n.Literal] = n.Label
	case KindDefaultNamespace:
		if n.Literal == "element" {
			c.elemNS = n.Label
		} else {
			c.funcNS = n.Label
		}
	case KindImport:
		return c.compileImport(n)
	case KindRevalidation:
		if mod.Revalidation != "" {
			return staticError(CodeRevalidation, n.Start, "revalidation mode declared more than once")
		}
		mod.Revalidation = n.Literal
	case KindOption:
		mod.Options[n.Literal] = n.Label
	case KindSetter:
		if _, ok := mod.Setters[n.Literal]; ok {
			return staticError("XQST0069", n.Start, "%s: declared more than once", n.Literal)
		}
		mod.Setters[n.Literal] = n.Label
	default:
	}
	return nil
}

func (c *Compiler) compileImport(n *Node) error {
	if len(n.Children) == 0 {
		return staticError(CodeSyntax, n.Start, "import without uri")
	}
	uri := n.Children[0].Literal
	if n.Label != "" {
		c.namespaces.Define(n.Label, uri)
		c.module.Namespaces[n.Label] = uri
	}
	if n.Literal == "schema" {
		return nil
	}
	lib, err := c.library(uri)
	if err != nil {
		return err
	}
	if lib == nil {
		return staticError(CodeUnknownModule, n.Start, "%s: no library module found", uri)
	}
	for _, fn := range lib.Functions {
		if fn.Private {
			continue
		}
		if err := c.registry.Define(fn); err != nil {
			return staticError(CodeDuplicateFunc, n.Start, "%s", err)
		}
	}
	for _, v := range lib.Variables {
		c.scope.Define(v.key, &varInfo{key: v.key})
		c.module.Variables = append(c.module.Variables, v)
	}
	c.module.Imports = append(c.module.Imports, uri)
	return nil
}

func (c *Compiler) library(uri string) (*Module, error) {
	if lib, ok := c.libraries[uri]; ok {
		return lib, nil
	}
	if c.libraries == nil {
		c.libraries = make(map[string]*Module)
	}
	for _, src := range c.sources {
		root, err := ParseModule(src)
		if err != nil || root.Kind != KindLibrary {
			continue
		}
		decl := root.First(KindModuleDecl)
		if decl == nil || decl.Label != uri {
			continue
		}
		sub := NewCompiler(WithTracer(c.Tracer), WithLogger(c.logger))
		sub.spaces = c.spaces
		sub.sources = c.sources
		sub.libraries = c.libraries
		lib, err := sub.Compile(src)
		if err != nil {
			return nil, err
		}
		c.libraries[uri] = lib
		return lib, nil
	}
	return nil, nil
}

func (c *Compiler) compileAnnotations(list []*Node) ([]Annotation, error) {
	var annots []Annotation
	for _, n := range list {
		qn, err := c.resolveName(n.Literal, nsXQuery, n.Start)
		if err != nil {
			return nil, err
		}
		a := Annotation{
			Name: qn,
		}
		for _, v := range n.Children {
			a.Values = append(a.Values, v.Literal)
		}
		annots = append(annots, a)
	}
	return annots, nil
}

func hasAnnotation(list []Annotation, name string) bool {
	for _, a := range list {
		if a.is(name) {
			return true
		}
	}
	return false
}

func (c *Compiler) compileVariable(n *Node) (*Variable, error) {
	c.Enter("variable-decl")
	defer c.Leave("variable-decl")

	qn, err := c.resolveName(n.Literal, "", n.Start)
	if err != nil {
		return nil, err
	}
	if c.module.Library && c.module.Namespace != "" && qn.Uri != c.module.Namespace {
		return nil, staticError("XQST0048", n.Start, "$%s: variable not in the namespace of the library module", n.Literal)
	}
	v := Variable{
		Name:     qn,
		External: n.Label == "external",
		key:      varKey(qn),
	}
	if _, err := c.scope.Resolve(v.key); err == nil {
		return nil, staticError(CodeDuplicateVar, n.Start, "$%s: variable already declared", n.Literal)
	}
	if v.Annotations, err = c.compileAnnotations(n.All(KindAnnotation)); err != nil {
		return nil, err
	}
	if hasAnnotation(v.Annotations, "updating") || hasAnnotation(v.Annotations, "simple") {
		return nil, staticError(CodeAnnotationVar, n.Start, "$%s: variable can not be annotated with %%updating or %%simple", n.Literal)
	}
	for _, x := range n.Children {
		switch x.Kind {
		case KindAnnotation:
		case KindSequenceType:
			if v.Type, err = c.compileType(x); err != nil {
				return nil, err
			}
		default:
			if v.Init, err = c.compile(x); err != nil {
				return nil, err
			}
			if emits(v.Init) {
				return nil, staticError(CodeMixedUpdate, x.Start, "$%s: initializer of a variable can not be an updating expression", n.Literal)
			}
		}
	}
	info := varInfo{
		key: v.key,
	}
	if ref, ok := v.Init.(*funcRef); ok {
		info.fn = ref.fn
	}
	c.scope.Define(v.key, &info)
	return &v, nil
}

func (c *Compiler) declareFunction(n *Node) (*Function, error) {
	qn, err := c.resolveName(n.Literal, c.funcNS, n.Start)
	if err != nil {
		return nil, err
	}
	switch qn.Uri {
	case "":
		return nil, staticError("XQST0060", n.Start, "%s: function must be in a namespace", n.Literal)
	case nsXML, nsXS, nsXSI, nsFn:
		return nil, staticError("XQST0045", n.Start, "%s: function can not be declared in a reserved namespace", n.Literal)
	}
	if c.module.Library && c.module.Namespace != "" && qn.Uri != c.module.Namespace {
		return nil, staticError("XQST0048", n.Start, "%s: function not in the namespace of the library module", n.Literal)
	}
	fn := Function{
		Name:     qn,
		Updating: n.Label == "updating",
		External: n.First(KindEnclosed) == nil,
	}
	if fn.Annotations, err = c.compileAnnotations(n.All(KindAnnotation)); err != nil {
		return nil, err
	}
	if err := c.signature(&fn, n); err != nil {
		return nil, err
	}
	if err := c.registry.Define(&fn); err != nil {
		return nil, staticError(CodeDuplicateFunc, n.Start, "%s", err)
	}
	return &fn, nil
}

// signature sets the parameters, the return type and the category of a
// function from its annotations and its signature.
func (c *Compiler) signature(fn *Function, n *Node) error {
	var (
		updating = hasAnnotation(fn.Annotations, "updating")
		simple   = hasAnnotation(fn.Annotations, "simple")
	)
	if updating && simple {
		return staticError(CodeAnnotationBoth, n.Start, "function can not be annotated with both %%updating and %%simple")
	}
	if updating {
		fn.Updating = true
	}
	fn.Private = hasAnnotation(fn.Annotations, "private")
	seen := make(map[string]struct{})
	for _, x := range n.Children {
		switch x.Kind {
		case KindParam:
			qn, err := c.resolveName(x.Literal, "", x.Start)
			if err != nil {
				return err
			}
			p := Param{
				Name: qn,
				key:  varKey(qn),
			}
			if _, ok := seen[p.key]; ok {
				return staticError("XQST0039", x.Start, "$%s: duplicate parameter", x.Literal)
			}
			seen[p.key] = struct{}{}
			if len(x.Children) > 0 {
				if p.Type, err = c.compileType(x.Children[0]); err != nil {
					return err
				}
			}
			fn.Params = append(fn.Params, p)
		case KindReturn:
			t, err := c.compileType(x.Children[0])
			if err != nil {
				return err
			}
			fn.Return = t
		default:
		}
	}
	fn.MinArgs = len(fn.Params)
	fn.MaxArgs = len(fn.Params)
	return nil
}

func (c *Compiler) compileFunctionBody(fn *Function, n *Node) error {
	body := n.First(KindEnclosed)
	if body == nil {
		return nil
	}
	c.Enter("function-decl")
	defer c.Leave("function-decl")

	expr, err := c.functionBody(fn, body)
	if err != nil {
		return err
	}
	fn.body = expr
	return nil
}

func (c *Compiler) functionBody(fn *Function, body *Node) (Expr, error) {
	saved := c.scope
	defer func() {
		c.scope = saved
	}()
	c.scope = environ.Enclosed(c.scope)
	for _, p := range fn.Params {
		c.scope.Define(p.key, &varInfo{key: p.key})
	}
	expr, err := c.compileEnclosed(body)
	if err != nil {
		return nil, err
	}
	switch {
	case !fn.Updating && emits(expr):
		return nil, staticError(CodeMixedUpdate, body.Start, "%s: body of a simple function can not be an updating expression", fn.Name.QualifiedName())
	case fn.Updating && !emits(expr) && !vacuous(expr):
		return nil, staticError(CodeNotUpdating, body.Start, "%s: body of an updating function must be an updating or vacuous expression", fn.Name.QualifiedName())
	}
	if fn.Updating && fn.Return != nil {
		return nil, staticError(CodeUpdatingReturn, body.Start, "%s: updating function can not declare a return type", fn.Name.QualifiedName())
	}
	return expr, nil
}

func (c *Compiler) resolveName(name, uri string, pos Position) (xml.QName, error) {
	qn, err := xml.ParseName(name)
	if err != nil {
		return qn, staticError(CodeSyntax, pos, "%s", err)
	}
	if qn.Space == "" {
		qn.Uri = uri
		return qn, nil
	}
	if qn.Uri, err = c.namespaces.Resolve(qn.Space); err != nil {
		return qn, staticError(CodeUnknownPrefix, pos, "%s: prefix is not bound to a namespace", qn.Space)
	}
	return qn, nil
}

func (c *Compiler) compileType(n *Node) (*SequenceType, error) {
	if n.Kind != KindSequenceType || len(n.Children) == 0 {
		return nil, staticError(CodeSyntax, n.Start, "sequence type expected")
	}
	st := SequenceType{
		Occurrence: n.Label,
	}
	item := n.Children[0]
	switch item.Kind {
	case KindEmptySequence:
		st.Empty = true
	case KindItemTest:
		st.Item = anyItem{}
	case KindKindTest:
		k, err := c.compileKindTest(item)
		if err != nil {
			return nil, err
		}
		st.Item = k
	case KindAtomicType:
		at, err := c.compileAtomicType(item)
		if err != nil {
			return nil, err
		}
		st.Item = at
	case KindFunctionTest:
		ft, err := c.compileFunctionTest(item)
		if err != nil {
			return nil, err
		}
		st.Item = ft
	default:
		return nil, staticError(CodeSyntax, item.Start, "%s: unexpected item type", item.Kind)
	}
	return &st, nil
}

func (c *Compiler) compileKindTest(n *Node) (kindType, error) {
	kind, ok := kindOf(n.Literal)
	if !ok {
		return kindType{}, staticError(CodeSyntax, n.Start, "%s: unknown kind test", n.Literal)
	}
	k := kindType{
		kind: kind,
		name: n.Label,
	}
	if len(n.Children) > 0 {
		sub, err := c.compileKindTest(n.Children[0])
		if err != nil {
			return k, err
		}
		k.sub = &sub
	}
	return k, nil
}

func (c *Compiler) compileAtomicType(n *Node) (atomicType, error) {
	qn, err := c.resolveName(n.Literal, nsXS, n.Start)
	if err != nil {
		return atomicType{}, err
	}
	at := atomicType{
		name: qn,
	}
	if !at.known() {
		return at, staticError(CodeUnknownType, n.Start, "%s: unknown atomic type", n.Literal)
	}
	return at, nil
}

func (c *Compiler) compileFunctionTest(n *Node) (functionType, error) {
	var (
		ft  functionType
		err error
	)
	ft.any = n.Label == "*"
	if ft.annotations, err = c.compileAnnotations(n.All(KindAnnotation)); err != nil {
		return ft, err
	}
	for _, x := range n.Children {
		switch x.Kind {
		case KindSequenceType:
			st, err := c.compileType(x)
			if err != nil {
				return ft, err
			}
			ft.params = append(ft.params, *st)
		case KindReturn:
			if ft.ret, err = c.compileType(x.Children[0]); err != nil {
				return ft, err
			}
		default:
		}
	}
	return ft, nil
}

// emits reports whether evaluating e adds updates to the pending list of
// its evaluation. A copy modify expression applies the updates of its
// modify clause itself.
func emits(e Expr) bool {
	if e == nil {
		return false
	}
	if _, ok := e.(*CopyModify); ok {
		return false
	}
	return e.Category() == Updating
}

func vacuous(e Expr) bool {
	switch x := e.(type) {
	case *sequence:
		for _, e := range x.all {
			if !vacuous(e) {
				return false
			}
		}
		return true
	case *callExpr:
		return isVacuousCall(x.fn)
	case *conditional:
		return vacuous(x.csq) && vacuous(x.alt)
	default:
		return false
	}
}

func categoryOf(list ...Expr) meta {
	for _, e := range list {
		if emits(e) {
			return meta{cat: Updating}
		}
	}
	return meta{}
}

func (c *Compiler) simple(n *Node, list ...Expr) error {
	for _, e := range list {
		if emits(e) {
			return staticError(CodeMixedUpdate, n.Start, "%s: updating expression used where a simple expression is expected", e)
		}
	}
	return nil
}

// mixed checks that when one of the expressions is an updating expression
// all the others are updating or vacuous expressions.
func (c *Compiler) mixed(n *Node, list ...Expr) error {
	var updating bool
	for _, e := range list {
		if emits(e) {
			updating = true
			break
		}
	}
	if !updating {
		return nil
	}
	for _, e := range list {
		if !emits(e) && !vacuous(e) {
			return staticError(CodeMixedUpdate, n.Start, "%s: simple expression mixed with updating expressions", e)
		}
	}
	return nil
}

func (c *Compiler) compile(n *Node) (Expr, error) {
	if n == nil {
		return &sequence{}, nil
	}
	c.Enter(n.Kind.String())
	defer c.Leave(n.Kind.String())

	expr, err := c.compileNode(n)
	if err != nil {
		c.Error(n.Kind.String(), err)
	}
	return expr, err
}

func (c *Compiler) compileNode(n *Node) (Expr, error) {
	switch n.Kind {
	case KindString:
		return &literal{item: NewString(n.Literal)}, nil
	case KindNumber:
		return c.compileNumber(n)
	case KindEmpty:
		return &sequence{}, nil
	case KindContext:
		return &contextItem{}, nil
	case KindRoot:
		return &rootExpr{}, nil
	case KindVarRef:
		return c.compileVarRef(n)
	case KindExprList:
		return c.compileSequence(n)
	case KindEnclosed:
		return c.compileEnclosed(n)
	case KindFLWOR:
		return c.compileFLWOR(n)
	case KindQuantified:
		return c.compileQuantified(n)
	case KindIf:
		return c.compileIf(n)
	case KindBinary:
		return c.compileBinary(n)
	case KindUnary:
		return c.compileUnary(n)
	case KindInstanceOf, KindTreatAs, KindCastAs, KindCastableAs:
		return c.compileTypeOperator(n)
	case KindPath:
		return c.compilePath(n)
	case KindStep:
		return c.compileStep(n)
	case KindFilter:
		return c.compileFilter(n)
	case KindMap:
		return c.compileMap(n)
	case KindCall:
		return c.compileCall(n)
	case KindPlaceholder:
		return &placeholder{}, nil
	case KindFuncRef:
		return c.compileFuncRef(n)
	case KindInlineFunc:
		return c.compileInlineFunc(n)
	case KindDynamicCall:
		return c.compileDynamicCall(n)
	case KindDirElement:
		return c.compileDirElement(n)
	case KindDirComment:
		return &commentConstructor{expr: &literal{item: NewString(n.Literal)}}, nil
	case KindText:
		return &textConstructor{text: n.Literal, literal: true}, nil
	case KindCompElement, KindCompAttribute:
		return c.compileComputed(n)
	case KindCompText, KindCompComment, KindCompDocument:
		return c.compileComputedLeaf(n)
	case KindInsert:
		return c.compileInsert(n)
	case KindDelete:
		return c.compileDelete(n)
	case KindReplace:
		return c.compileReplace(n)
	case KindRename:
		return c.compileRename(n)
	case KindCopyModify:
		return c.compileCopyModify(n)
	case KindTransformWith:
		return c.compileTransformWith(n)
	default:
		return nil, staticError(CodeSyntax, n.Start, "%s: unexpected node", n.Kind)
	}
}

func (c *Compiler) children(n *Node, want int) ([]Expr, error) {
	if len(n.Children) < want {
		return nil, staticError(CodeSyntax, n.Start, "%s: missing operand", n.Kind)
	}
	var list []Expr
	for _, x := range n.Children {
		e, err := c.compile(x)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, nil
}

func (c *Compiler) compileNumber(n *Node) (Expr, error) {
	if strings.ContainsAny(n.Literal, ".eE") {
		f, err := strconv.ParseFloat(n.Literal, 64)
		if err != nil {
			return nil, staticError(CodeSyntax, n.Start, "%s: invalid number", n.Literal)
		}
		return &literal{item: NewDouble(f)}, nil
	}
	i, err := strconv.ParseInt(n.Literal, 10, 64)
	if err != nil {
		return nil, staticError(CodeImplLimit, n.Start, "%s: integer out of range", n.Literal)
	}
	return &literal{item: NewInteger(i)}, nil
}

func (c *Compiler) compileVarRef(n *Node) (Expr, error) {
	qn, err := c.resolveName(n.Literal, "", n.Start)
	if err != nil {
		return nil, err
	}
	key := varKey(qn)
	if _, err := c.scope.Resolve(key); err != nil {
		return nil, staticError(CodeUndefinedVar, n.Start, "$%s: variable is not declared", n.Literal)
	}
	return &varRef{name: qn, key: key}, nil
}

func (c *Compiler) compileSequence(n *Node) (Expr, error) {
	list, err := c.children(n, 0)
	if err != nil {
		return nil, err
	}
	if err := c.mixed(n, list...); err != nil {
		return nil, err
	}
	return &sequence{meta: categoryOf(list...), all: list}, nil
}

func (c *Compiler) compileEnclosed(n *Node) (Expr, error) {
	if len(n.Children) == 0 {
		return &sequence{}, nil
	}
	return c.compile(n.Children[0])
}

func (c *Compiler) declareLocal(name string, pos Position) (xml.QName, string, error) {
	qn, err := c.resolveName(name, "", pos)
	if err != nil {
		return qn, "", err
	}
	return qn, varKey(qn), nil
}

func (c *Compiler) compileFLWOR(n *Node) (Expr, error) {
	saved := c.scope
	defer func() {
		c.scope = saved
	}()
	var expr flwor
	for _, x := range n.Children {
		switch x.Kind {
		case KindFor:
			cl, err := c.compileFor(x)
			if err != nil {
				return nil, err
			}
			expr.clauses = append(expr.clauses, cl)
		case KindLet:
			cl, err := c.compileLet(x)
			if err != nil {
				return nil, err
			}
			expr.clauses = append(expr.clauses, cl)
		case KindWhere:
			e, err := c.compile(x.Children[0])
			if err != nil {
				return nil, err
			}
			if err := c.simple(x, e); err != nil {
				return nil, err
			}
			expr.clauses = append(expr.clauses, &whereClause{expr: e})
		case KindOrderBy:
			cl, err := c.compileOrderBy(x)
			if err != nil {
				return nil, err
			}
			expr.clauses = append(expr.clauses, cl)
		case KindReturn:
			e, err := c.compile(x.Children[0])
			if err != nil {
				return nil, err
			}
			expr.ret = e
		}
	}
	if expr.ret == nil {
		return nil, staticError(CodeSyntax, n.Start, "return clause expected")
	}
	expr.meta = categoryOf(expr.ret)
	return &expr, nil
}

func (c *Compiler) bindingParts(n *Node) (*SequenceType, Expr, error) {
	var (
		typ  *SequenceType
		expr Expr
		err  error
	)
	for _, x := range n.Children {
		if x.Kind == KindSequenceType {
			if typ, err = c.compileType(x); err != nil {
				return nil, nil, err
			}
			continue
		}
		if expr, err = c.compile(x); err != nil {
			return nil, nil, err
		}
	}
	if expr == nil {
		return nil, nil, staticError(CodeSyntax, n.Start, "binding without expression")
	}
	if err := c.simple(n, expr); err != nil {
		return nil, nil, err
	}
	return typ, expr, nil
}

func (c *Compiler) compileFor(n *Node) (clause, error) {
	typ, expr, err := c.bindingParts(n)
	if err != nil {
		return nil, err
	}
	qn, key, err := c.declareLocal(n.Literal, n.Start)
	if err != nil {
		return nil, err
	}
	cl := forClause{
		name: qn,
		key:  key,
		typ:  typ,
		expr: expr,
	}
	c.scope = environ.Enclosed(c.scope)
	c.scope.Define(key, &varInfo{key: key})
	if n.Label != "" {
		_, pos, err := c.declareLocal(n.Label, n.Start)
		if err != nil {
			return nil, err
		}
		if pos == key {
			return nil, staticError("XQST0089", n.Start, "$%s: positional variable has the same name as the bound variable", n.Label)
		}
		cl.pos = pos
		c.scope.Define(pos, &varInfo{key: pos})
	}
	return &cl, nil
}

func (c *Compiler) compileLet(n *Node) (clause, error) {
	typ, expr, err := c.bindingParts(n)
	if err != nil {
		return nil, err
	}
	qn, key, err := c.declareLocal(n.Literal, n.Start)
	if err != nil {
		return nil, err
	}
	info := varInfo{
		key: key,
	}
	if ref, ok := expr.(*funcRef); ok {
		info.fn = ref.fn
	}
	c.scope = environ.Enclosed(c.scope)
	c.scope.Define(key, &info)
	return &letClause{name: qn, key: key, typ: typ, expr: expr}, nil
}

func (c *Compiler) compileOrderBy(n *Node) (clause, error) {
	cl := orderClause{
		stable: n.Literal == "stable",
	}
	for _, x := range n.Children {
		e, err := c.compile(x.Children[0])
		if err != nil {
			return nil, err
		}
		if err := c.simple(x, e); err != nil {
			return nil, err
		}
		cl.specs = append(cl.specs, orderSpec{
			expr:       e,
			descending: x.Label == "descending",
			emptyLeast: x.Literal != "greatest",
		})
	}
	return &cl, nil
}

func (c *Compiler) compileQuantified(n *Node) (Expr, error) {
	saved := c.scope
	defer func() {
		c.scope = saved
	}()
	q := quantified{
		every: n.Literal == "every",
	}
	for _, x := range n.Children[:len(n.Children)-1] {
		e, err := c.compile(x.Children[0])
		if err != nil {
			return nil, err
		}
		if err := c.simple(x, e); err != nil {
			return nil, err
		}
		qn, key, err := c.declareLocal(x.Literal, x.Start)
		if err != nil {
			return nil, err
		}
		c.scope = environ.Enclosed(c.scope)
		c.scope.Define(key, &varInfo{key: key})
		q.binds = append(q.binds, binding{name: qn, key: key, expr: e})
	}
	test, err := c.compile(n.Last())
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, test); err != nil {
		return nil, err
	}
	q.test = test
	return &q, nil
}

func (c *Compiler) compileIf(n *Node) (Expr, error) {
	list, err := c.children(n, 3)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list[0]); err != nil {
		return nil, err
	}
	if err := c.mixed(n, list[1], list[2]); err != nil {
		return nil, err
	}
	return &conditional{
		meta: categoryOf(list[1], list[2]),
		test: list[0],
		csq:  list[1],
		alt:  list[2],
	}, nil
}

func (c *Compiler) compileBinary(n *Node) (Expr, error) {
	list, err := c.children(n, 2)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	return &binaryExpr{op: n.Literal, left: list[0], right: list[1]}, nil
}

func (c *Compiler) compileUnary(n *Node) (Expr, error) {
	list, err := c.children(n, 1)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list[0]); err != nil {
		return nil, err
	}
	return &unaryExpr{op: n.Literal, expr: list[0]}, nil
}

func (c *Compiler) compileTypeOperator(n *Node) (Expr, error) {
	if len(n.Children) != 2 {
		return nil, staticError(CodeSyntax, n.Start, "%s: missing operand", n.Kind)
	}
	expr, err := c.compile(n.Children[0])
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, expr); err != nil {
		return nil, err
	}
	if n.Kind == KindCastAs || n.Kind == KindCastableAs {
		st := n.Children[1]
		if len(st.Children) == 0 || st.Children[0].Kind != KindAtomicType || (st.Label != "" && st.Label != "?") {
			return nil, staticError(CodeSyntax, st.Start, "cast requires a single atomic type")
		}
		at, err := c.compileAtomicType(st.Children[0])
		if err != nil {
			return nil, err
		}
		return &castAs{
			expr:     expr,
			typ:      at,
			optional: st.Label == "?",
			castable: n.Kind == KindCastableAs,
		}, nil
	}
	st, err := c.compileType(n.Children[1])
	if err != nil {
		return nil, err
	}
	if n.Kind == KindTreatAs {
		return &treatAs{expr: expr, typ: *st}, nil
	}
	return &instanceOf{expr: expr, typ: *st}, nil
}

func (c *Compiler) compilePath(n *Node) (Expr, error) {
	list, err := c.children(n, 1)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	if len(list) == 1 {
		return list[0], nil
	}
	return &pathExpr{steps: list}, nil
}

func (c *Compiler) compileStep(n *Node) (Expr, error) {
	if len(n.Children) == 0 {
		return nil, staticError(CodeSyntax, n.Start, "node test expected")
	}
	step := stepExpr{
		axis: n.Literal,
	}
	test := n.Children[0]
	switch test.Kind {
	case KindKindTest:
		k, err := c.compileKindTest(test)
		if err != nil {
			return nil, err
		}
		step.test = k
	case KindNameTest:
		nt, err := c.compileNameTest(test, step.axis == "attribute")
		if err != nil {
			return nil, err
		}
		step.test = nt
	default:
		return nil, staticError(CodeSyntax, test.Start, "node test expected")
	}
	for _, x := range n.Children[1:] {
		p, err := c.compile(x)
		if err != nil {
			return nil, err
		}
		if err := c.simple(x, p); err != nil {
			return nil, err
		}
		step.preds = append(step.preds, p)
	}
	return &step, nil
}

func (c *Compiler) compileNameTest(n *Node, attr bool) (nameTest, error) {
	var (
		nt  nameTest
		uri = c.elemNS
	)
	if attr {
		uri = ""
	}
	switch lit := n.Literal; {
	case lit == "*":
		nt.anyLocal = true
		nt.anyURI = true
	case strings.HasPrefix(lit, "*:"):
		nt.anyURI = true
		nt.name.Name = strings.TrimPrefix(lit, "*:")
	case strings.HasSuffix(lit, ":*"):
		prefix := strings.TrimSuffix(lit, ":*")
		u, err := c.namespaces.Resolve(prefix)
		if err != nil {
			return nt, staticError(CodeUnknownPrefix, n.Start, "%s: prefix is not bound to a namespace", prefix)
		}
		nt.anyLocal = true
		nt.name = xml.ExpandedName("", prefix, u)
	default:
		qn, err := c.resolveName(lit, uri, n.Start)
		if err != nil {
			return nt, err
		}
		nt.name = qn
	}
	return nt, nil
}

func (c *Compiler) compileFilter(n *Node) (Expr, error) {
	list, err := c.children(n, 2)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	return &filterExpr{expr: list[0], pred: list[1]}, nil
}

func (c *Compiler) compileMap(n *Node) (Expr, error) {
	list, err := c.children(n, 2)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	return &mapExpr{left: list[0], right: list[1]}, nil
}

func (c *Compiler) lookupFunction(n *Node, qn xml.QName, arity int) (*Function, error) {
	fn, ok := c.registry.Lookup(qn, arity)
	if ok {
		return fn, nil
	}
	msg := fmt.Sprintf("%s#%d: unknown function", n.Literal, arity)
	if s := c.registry.Suggest(qn); s != "" {
		msg += fmt.Sprintf(" (did you mean %s?)", s)
	}
	return nil, staticError(CodeUnknownFunc, n.Start, "%s", msg)
}

func (c *Compiler) compileCall(n *Node) (Expr, error) {
	qn, err := c.resolveName(n.Literal, c.funcNS, n.Start)
	if err != nil {
		return nil, err
	}
	args, err := c.children(n, 0)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, args...); err != nil {
		return nil, err
	}
	if qn.Uri == nsXS {
		if len(args) != 1 {
			return nil, staticError(CodeUnknownFunc, n.Start, "%s: constructor function expects one argument", n.Literal)
		}
		at := atomicType{
			name: qn,
		}
		if !at.known() {
			return nil, staticError(CodeUnknownType, n.Start, "%s: unknown atomic type", n.Literal)
		}
		return &castAs{expr: args[0], typ: at, optional: true, construct: true}, nil
	}
	fn, err := c.lookupFunction(n, qn, len(args))
	if err != nil {
		return nil, err
	}
	for _, a := range args {
		if _, ok := a.(*placeholder); ok {
			return &partialCall{fn: fn, args: args}, nil
		}
	}
	return &callExpr{meta: meta{cat: fn.Category()}, fn: fn, args: args}, nil
}

func (c *Compiler) compileFuncRef(n *Node) (Expr, error) {
	qn, err := c.resolveName(n.Literal, c.funcNS, n.Start)
	if err != nil {
		return nil, err
	}
	arity, err := strconv.Atoi(n.Label)
	if err != nil {
		return nil, staticError(CodeSyntax, n.Start, "%s: invalid arity", n.Label)
	}
	fn, err := c.lookupFunction(n, qn, arity)
	if err != nil {
		return nil, err
	}
	return &funcRef{fn: fn.withArity(arity)}, nil
}

func (c *Compiler) compileInlineFunc(n *Node) (Expr, error) {
	c.counter++
	fn := Function{
		Name: xml.ExpandedName(fmt.Sprintf("anonymous%d", c.counter), "", ""),
	}
	var err error
	if fn.Annotations, err = c.compileAnnotations(n.All(KindAnnotation)); err != nil {
		return nil, err
	}
	if err := c.signature(&fn, n); err != nil {
		return nil, err
	}
	if fn.body, err = c.functionBody(&fn, n.Last()); err != nil {
		return nil, err
	}
	return &inlineFunc{fn: &fn}, nil
}

func (c *Compiler) compileDynamicCall(n *Node) (Expr, error) {
	list, err := c.children(n, 1)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	call := DynamicCall{
		Func:   list[0],
		Args:   list[1:],
		Invoke: n.Label == "updating",
	}
	if fn := c.staticFunction(call.Func); fn != nil && fn.Updating {
		if !call.Invoke {
			return nil, staticError(CodeMixedUpdate, n.Start, "%s: updating function called without invoke updating", fn)
		}
		call.resolved.Store(fn)
	}
	if call.Invoke {
		call.cat = Updating
	}
	return &call, nil
}

// staticFunction returns the function an expression is known to return
// without evaluating it.
func (c *Compiler) staticFunction(e Expr) *Function {
	switch x := e.(type) {
	case *funcRef:
		return x.fn
	case *inlineFunc:
		return x.fn
	case *varRef:
		info, err := c.scope.Resolve(x.key)
		if err != nil || info == nil {
			return nil
		}
		return info.fn
	default:
		return nil
	}
}

func (c *Compiler) compileDirElement(n *Node) (Expr, error) {
	savedNS, savedElem := c.namespaces, c.elemNS
	defer func() {
		c.namespaces, c.elemNS = savedNS, savedElem
	}()
	el := elementConstructor{
		direct: true,
	}
	var attrs []*Node
	for _, x := range n.Children {
		if x.Kind != KindDirAttribute {
			continue
		}
		qn, err := xml.ParseName(x.Literal)
		if err != nil {
			return nil, staticError(CodeSyntax, x.Start, "%s", err)
		}
		if qn.Name != xml.AttrXmlNS && qn.Space != xml.AttrXmlNS {
			attrs = append(attrs, x)
			continue
		}
		if len(x.Children) != 1 || x.Children[0].Kind != KindString {
			return nil, staticError("XQST0022", x.Start, "namespace declaration must be a literal")
		}
		if c.namespaces == savedNS {
			c.namespaces = environ.Enclosed(c.namespaces)
		}
		uri := x.Children[0].Literal
		ns := xml.NS{Uri: uri}
		if qn.Space == xml.AttrXmlNS {
			ns.Prefix = qn.Name
			c.namespaces.Define(qn.Name, uri)
		} else {
			c.elemNS = uri
		}
		el.spaces = append(el.spaces, ns)
	}
	qn, err := c.resolveName(n.Literal, c.elemNS, n.Start)
	if err != nil {
		return nil, err
	}
	el.name = qn
	seen := make(map[string]struct{})
	for _, x := range attrs {
		a, err := c.compileDirAttribute(x)
		if err != nil {
			return nil, err
		}
		key := a.name.ExpandedName()
		if _, ok := seen[key]; ok {
			return nil, staticError("XQST0040", x.Start, "%s: duplicate attribute", x.Literal)
		}
		seen[key] = struct{}{}
		el.attrs = append(el.attrs, a)
	}
	for _, x := range n.Children {
		if x.Kind == KindDirAttribute {
			continue
		}
		e, err := c.compile(x)
		if err != nil {
			return nil, err
		}
		if err := c.simple(x, e); err != nil {
			return nil, err
		}
		el.content = append(el.content, e)
	}
	return &el, nil
}

func (c *Compiler) compileDirAttribute(n *Node) (*attributeConstructor, error) {
	qn, err := c.resolveName(n.Literal, "", n.Start)
	if err != nil {
		return nil, err
	}
	attr := attributeConstructor{
		name:   qn,
		direct: true,
	}
	for _, x := range n.Children {
		e, err := c.compile(x)
		if err != nil {
			return nil, err
		}
		if err := c.simple(x, e); err != nil {
			return nil, err
		}
		attr.parts = append(attr.parts, e)
	}
	return &attr, nil
}

func (c *Compiler) compileComputed(n *Node) (Expr, error) {
	var (
		name     xml.QName
		nameExpr Expr
		rest     = n.Children
		err      error
	)
	if n.Literal != "" {
		uri := c.elemNS
		if n.Kind == KindCompAttribute {
			uri = ""
		}
		if name, err = c.resolveName(n.Literal, uri, n.Start); err != nil {
			return nil, err
		}
	} else {
		if len(rest) < 2 {
			return nil, staticError(CodeSyntax, n.Start, "name expression expected")
		}
		if nameExpr, err = c.compileEnclosed(rest[0]); err != nil {
			return nil, err
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return nil, staticError(CodeSyntax, n.Start, "content expression expected")
	}
	content, err := c.compileEnclosed(rest[0])
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, nameExpr, content); err != nil {
		return nil, err
	}
	if n.Kind == KindCompAttribute {
		return &attributeConstructor{name: name, nameExpr: nameExpr, parts: []Expr{content}}, nil
	}
	return &elementConstructor{name: name, nameExpr: nameExpr, content: []Expr{content}}, nil
}

func (c *Compiler) compileComputedLeaf(n *Node) (Expr, error) {
	if len(n.Children) == 0 {
		return nil, staticError(CodeSyntax, n.Start, "content expression expected")
	}
	content, err := c.compileEnclosed(n.Children[0])
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, content); err != nil {
		return nil, err
	}
	switch n.Kind {
	case KindCompText:
		return &textConstructor{expr: content}, nil
	case KindCompComment:
		return &commentConstructor{expr: content}, nil
	default:
		return &documentConstructor{expr: content}, nil
	}
}

func (c *Compiler) compileInsert(n *Node) (Expr, error) {
	list, err := c.children(n, 2)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	var choice InsertChoice
	switch n.Literal {
	case "first":
		choice = InsertFirst
	case "last":
		choice = InsertLast
	case "before":
		choice = InsertBefore
	case "after":
		choice = InsertAfter
	default:
		choice = InsertInto
	}
	return &Insert{
		meta:   meta{cat: Updating},
		Choice: choice,
		Source: list[0],
		Target: list[1],
	}, nil
}

func (c *Compiler) compileDelete(n *Node) (Expr, error) {
	list, err := c.children(n, 1)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	return &Delete{
		meta:     meta{cat: Updating},
		Target:   list[0],
		Multiple: n.Literal == "nodes",
	}, nil
}

func (c *Compiler) compileReplace(n *Node) (Expr, error) {
	list, err := c.children(n, 2)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	mode := ReplaceNode
	if n.Label == "value" {
		mode = ReplaceValue
	}
	return &Replace{
		meta:   meta{cat: Updating},
		Mode:   mode,
		Target: list[0],
		With:   list[1],
	}, nil
}

func (c *Compiler) compileRename(n *Node) (Expr, error) {
	list, err := c.children(n, 2)
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, list...); err != nil {
		return nil, err
	}
	return &Rename{
		meta:    meta{cat: Updating},
		Target:  list[0],
		NewName: list[1],
	}, nil
}

func (c *Compiler) compileCopyModify(n *Node) (Expr, error) {
	if len(n.Children) < 3 {
		return nil, staticError(CodeSyntax, n.Start, "copy modify expression is incomplete")
	}
	saved := c.scope
	defer func() {
		c.scope = saved
	}()
	var cm CopyModify
	for _, x := range n.Children[:len(n.Children)-2] {
		e, err := c.compile(x.Children[0])
		if err != nil {
			return nil, err
		}
		if err := c.simple(x, e); err != nil {
			return nil, err
		}
		qn, key, err := c.declareLocal(x.Literal, x.Start)
		if err != nil {
			return nil, err
		}
		c.scope = environ.Enclosed(c.scope)
		c.scope.Define(key, &varInfo{key: key})
		cm.Bindings = append(cm.Bindings, CopyBinding{Name: qn, Expr: e, key: key})
	}
	modify, err := c.compile(n.Children[len(n.Children)-2])
	if err != nil {
		return nil, err
	}
	if err := c.modifying(n.Children[len(n.Children)-2], modify); err != nil {
		return nil, err
	}
	ret, err := c.compile(n.Last())
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, ret); err != nil {
		return nil, err
	}
	cm.Modify = modify
	cm.Return = ret
	cm.cat = modify.Category()
	return &cm, nil
}

func (c *Compiler) compileTransformWith(n *Node) (Expr, error) {
	if len(n.Children) != 2 {
		return nil, staticError(CodeSyntax, n.Start, "transform with expression is incomplete")
	}
	source, err := c.compile(n.Children[0])
	if err != nil {
		return nil, err
	}
	if err := c.simple(n, source); err != nil {
		return nil, err
	}
	c.counter++
	var (
		name = xml.LocalName(fmt.Sprintf("transform%d", c.counter))
		key  = "#" + name.Name
	)
	modify, err := c.compileEnclosed(n.Children[1])
	if err != nil {
		return nil, err
	}
	if err := c.modifying(n.Children[1], modify); err != nil {
		return nil, err
	}
	cm := CopyModify{
		meta: meta{cat: modify.Category()},
		Bindings: []CopyBinding{
			{Name: name, Expr: source, key: key},
		},
		Modify:    &focusExpr{key: key, expr: modify},
		Return:    &varRef{name: name, key: key},
		transform: true,
	}
	return &cm, nil
}

// modifying checks that the modify clause of a copy modify expression is an
// updating or a vacuous expression.
func (c *Compiler) modifying(n *Node, modify Expr) error {
	if emits(modify) || vacuous(modify) {
		return nil
	}
	return staticError(CodeNotUpdating, n.Start, "modify clause must be an updating or vacuous expression")
}

// focusExpr evaluates its expression with the value of a variable as
// context item.
type focusExpr struct {
	meta
	key  string
	expr Expr
}

func (f *focusExpr) Category() Category {
	return f.expr.Category()
}

func (f *focusExpr) String() string {
	return f.expr.String()
}

func (f *focusExpr) eval(ctx *Context) (Sequence, error) {
	seq, err := ctx.resolve(f.key)
	if err != nil {
		return nil, err
	}
	if len(seq) != 1 {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	return f.expr.eval(ctx.withFocus(seq[0], 1, 1))
}
