package xquery

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/midbel/xquery/environ"
	"github.com/midbel/xquery/xml"
)

type builtinFunc func(*Context, []Sequence) (Sequence, error)

type Param struct {
	Name xml.QName
	Type *SequenceType

	key string
}

// Function is a function known to a module: a builtin, a function declared
// in a prolog, an inline function or a function imported from a library.
type Function struct {
	Name        xml.QName
	Params      []Param
	Return      *SequenceType
	Annotations []Annotation
	Updating    bool
	Private     bool
	External    bool

	MinArgs int
	MaxArgs int

	builtin builtinFunc
	body    Expr
	closure environ.Environ[Sequence]
}

func (f *Function) Category() Category {
	if f.Updating {
		return Updating
	}
	return Simple
}

func (f *Function) Arity() int {
	if f.builtin != nil {
		return f.MinArgs
	}
	return len(f.Params)
}

func (f *Function) Body() Expr {
	return f.body
}

func (f *Function) String() string {
	return fmt.Sprintf("%s#%d", functionName(f.Name), f.Arity())
}

func (f *Function) accepts(n int) bool {
	if f.builtin == nil {
		return n == len(f.Params)
	}
	return n >= f.MinArgs && (f.MaxArgs < 0 || n <= f.MaxArgs)
}

func (f *Function) withArity(n int) *Function {
	if f.builtin == nil || (f.MinArgs == n && f.MaxArgs == n) {
		return f
	}
	x := *f
	x.MinArgs = n
	x.MaxArgs = n
	return &x
}

func (f *Function) invoke(ctx *Context, args []Sequence) (Sequence, error) {
	if err := ctx.check(); err != nil {
		return nil, err
	}
	if !f.accepts(len(args)) {
		return nil, dynamicError(CodeTypeError, "%s: wrong number of arguments (%d)", f.Name.QualifiedName(), len(args))
	}
	if f.builtin != nil {
		return f.builtin(ctx, args)
	}
	if f.body == nil {
		return nil, dynamicError(CodeUnknownFunc, "%s: external function is not implemented", f)
	}
	sub, err := ctx.call()
	if err != nil {
		return nil, err
	}
	scope := f.closure
	if scope == nil {
		scope = ctx.globals
	}
	env := environ.Enclosed(scope)
	for i, p := range f.Params {
		arg := args[i]
		if p.Type != nil {
			if arg, err = p.Type.coerce(arg); err != nil {
				return nil, fmt.Errorf("%s: parameter $%s: %w", f, p.Name.QualifiedName(), err)
			}
		}
		env.Define(p.key, arg)
	}
	res, err := f.body.eval(sub.withScope(env))
	if err != nil {
		return nil, err
	}
	if f.Return != nil && !f.Updating {
		return f.Return.coerce(res)
	}
	return res, nil
}

func functionName(qn xml.QName) string {
	if qn.Uri == nsFn {
		return qn.Name
	}
	return qn.QualifiedName()
}

// Registry holds the functions visible to a module, indexed by expanded name.
type Registry struct {
	parent *Registry
	funcs  map[string][]*Function
}

func NewRegistry(parent *Registry) *Registry {
	return &Registry{
		parent: parent,
		funcs:  make(map[string][]*Function),
	}
}

func (r *Registry) Define(fn *Function) error {
	key := fn.Name.ExpandedName()
	for _, f := range r.funcs[key] {
		if f.Arity() == fn.Arity() {
			return fmt.Errorf("%s: function already declared", fn)
		}
	}
	r.funcs[key] = append(r.funcs[key], fn)
	return nil
}

func (r *Registry) Lookup(name xml.QName, arity int) (*Function, bool) {
	for _, f := range r.funcs[name.ExpandedName()] {
		if f.accepts(arity) {
			return f, true
		}
	}
	if r.parent != nil {
		return r.parent.Lookup(name, arity)
	}
	return nil, false
}

// Functions returns the functions defined in the registry itself.
func (r *Registry) Functions() []*Function {
	var list []*Function
	for _, fs := range r.funcs {
		list = append(list, fs...)
	}
	slices.SortFunc(list, func(a, b *Function) int {
		return strings.Compare(a.String(), b.String())
	})
	return list
}

// Suggest returns the name of a known function close to name.
func (r *Registry) Suggest(name xml.QName) string {
	var (
		best string
		dist = 3
	)
	for reg := r; reg != nil; reg = reg.parent {
		for _, fs := range reg.funcs {
			fn := fs[0]
			if fn.Name.Uri != name.Uri {
				continue
			}
			d := levenshtein.ComputeDistance(fn.Name.Name, name.Name)
			if d < dist {
				dist = d
				best = functionName(fn.Name)
			}
		}
	}
	return best
}

type callExpr struct {
	meta
	fn   *Function
	args []Expr
}

func (c *callExpr) String() string {
	return functionName(c.fn.Name) + "(" + joinExprs(c.args, ", ") + ")"
}

func (c *callExpr) eval(ctx *Context) (Sequence, error) {
	args, err := evalArgs(ctx, c.args)
	if err != nil {
		return nil, err
	}
	return c.fn.invoke(ctx, args)
}

func evalArgs(ctx *Context, list []Expr) ([]Sequence, error) {
	var args []Sequence
	for _, a := range list {
		seq, err := a.eval(ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, seq)
	}
	return args, nil
}

type placeholder struct {
	meta
}

func (_ *placeholder) String() string {
	return "?"
}

func (_ *placeholder) eval(_ *Context) (Sequence, error) {
	return nil, dynamicError(CodeTypeError, "argument placeholder can not be evaluated")
}

type partialCall struct {
	meta
	fn   *Function
	args []Expr
}

func (p *partialCall) String() string {
	return functionName(p.fn.Name) + "(" + joinExprs(p.args, ", ") + ")"
}

func (p *partialCall) eval(ctx *Context) (Sequence, error) {
	var (
		fixed  = make([]Sequence, len(p.args))
		params []Param
	)
	for i, a := range p.args {
		if _, ok := a.(*placeholder); ok {
			params = append(params, Param{
				Name: xml.LocalName(fmt.Sprintf("arg%d", i+1)),
			})
			continue
		}
		seq, err := a.eval(ctx)
		if err != nil {
			return nil, err
		}
		fixed[i] = seq
	}
	target := p.fn
	fn := Function{
		Name:     target.Name,
		Params:   params,
		Updating: target.Updating,
		MinArgs:  len(params),
		MaxArgs:  len(params),
	}
	fn.builtin = func(ctx *Context, args []Sequence) (Sequence, error) {
		list := slices.Clone(fixed)
		for i, j := 0, 0; i < len(list); i++ {
			if _, ok := p.args[i].(*placeholder); ok {
				list[i] = args[j]
				j++
			}
		}
		return target.invoke(ctx, list)
	}
	return Singleton(funcItem{fn: &fn}), nil
}

type funcRef struct {
	meta
	fn *Function
}

func (f *funcRef) String() string {
	return f.fn.String()
}

func (f *funcRef) eval(_ *Context) (Sequence, error) {
	return Singleton(funcItem{fn: f.fn}), nil
}

type inlineFunc struct {
	meta
	fn *Function
}

func (i *inlineFunc) String() string {
	var str strings.Builder
	for _, a := range i.fn.Annotations {
		str.WriteString(a.String())
		str.WriteString(" ")
	}
	str.WriteString("function(")
	for j, p := range i.fn.Params {
		if j > 0 {
			str.WriteString(", ")
		}
		str.WriteString("$")
		str.WriteString(p.Name.QualifiedName())
		if p.Type != nil {
			str.WriteString(" as ")
			str.WriteString(p.Type.String())
		}
	}
	str.WriteString(") { ")
	str.WriteString(i.fn.body.String())
	str.WriteString(" }")
	return str.String()
}

func (i *inlineFunc) eval(ctx *Context) (Sequence, error) {
	fn := *i.fn
	fn.closure = ctx.vars
	return Singleton(funcItem{fn: &fn}), nil
}

func functionItem(seq Sequence) (*Function, error) {
	if len(seq) != 1 {
		return nil, dynamicError(CodeTypeError, "function item expected, got %d items", len(seq))
	}
	fi, ok := seq[0].(funcItem)
	if !ok {
		return nil, dynamicError(CodeTypeError, "%s: not a function item", typeName(seq[0]))
	}
	return fi.fn, nil
}
