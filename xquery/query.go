package xquery

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/midbel/xquery/environ"
)

var ErrLibrary = errors.New("library module can not be evaluated")

// Query is a compiled main module attached to the context used to evaluate
// it. A Query is not safe for concurrent use: it is owned by one evaluation
// at a time and must be prepared before being evaluated again by another
// caller.
type Query struct {
	source string
	module *Module
	ctx    *Context
	logger *zap.Logger
}

// Compile runs the whole pipeline on the source of a main module.
func Compile(source string, opts ...Option) (*Query, error) {
	c := NewCompiler(opts...)
	mod, err := c.Compile(source)
	if err != nil {
		return nil, err
	}
	if mod.Library {
		return nil, ErrLibrary
	}
	spaces := maps.Clone(c.spaces)
	maps.Copy(spaces, mod.Namespaces)

	ctx := NewContext(spaces, c.timeout)
	ctx.Documents = c.documents
	ctx.resolver = c.documents
	ctx.Logger = c.logger
	q := Query{
		source: source,
		module: mod,
		ctx:    ctx,
		logger: c.logger,
	}
	return &q, nil
}

func (q *Query) Source() string {
	return q.source
}

func (q *Query) Module() *Module {
	return q.module
}

func (q *Query) Body() Expr {
	return q.module.Body
}

func (q *Query) Category() Category {
	return q.module.Category()
}

func (q *Query) Context() *Context {
	return q.ctx
}

func (q *Query) Pending() *PendingList {
	return q.ctx.pending
}

func (q *Query) String() string {
	return q.module.Body.String()
}

func (q *Query) PrepareForReuse() {
	q.ctx.PrepareForReuse()
}

func (q *Query) UpdateContext(b Bindings) error {
	return q.ctx.UpdateContext(b)
}

// Eval evaluates the query. The updates requested by the query are left in
// the pending list of its context. They are discarded when the evaluation
// fails.
func (q *Query) Eval(ctx context.Context) (Sequence, error) {
	x := q.ctx
	x.pending.Reset()
	clear(x.docs)
	x.watchdog.start(ctx)

	seq, err := q.eval(x)
	if err != nil {
		x.pending.Discard()
		q.logger.Debug("evaluation failed", zap.String("code", ErrorCode(err)), zap.Error(err))
		return nil, err
	}
	q.logger.Debug("evaluation done",
		zap.Int("items", len(seq)),
		zap.Int("pending", x.pending.Len()),
	)
	return seq, nil
}

func (q *Query) eval(x *Context) (Sequence, error) {
	if err := q.bindGlobals(x); err != nil {
		return nil, err
	}
	if err := x.check(); err != nil {
		return nil, err
	}
	return q.module.Body.eval(x)
}

// Apply drains the pending list of the last evaluation and applies its
// updates to the trees they target.
func (q *Query) Apply() (*ApplyResult, error) {
	ops, err := q.ctx.pending.Drain()
	if err != nil {
		return nil, err
	}
	return ApplyUpdates(ops)
}

// Run evaluates the query then applies its updates.
func (q *Query) Run(ctx context.Context) (Sequence, *ApplyResult, error) {
	seq, err := q.Eval(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := q.Apply()
	if err != nil {
		return nil, nil, err
	}
	return seq, res, nil
}

func (q *Query) bindGlobals(x *Context) error {
	x.globals = environ.Empty[Sequence]()
	x.vars = environ.Enclosed(x.globals)
	for _, v := range q.module.Variables {
		var (
			seq Sequence
			ok  bool
			err error
		)
		if v.External {
			seq, ok = x.params[v.key]
		}
		if !ok {
			if v.Init == nil {
				return dynamicError(CodeExternalVar, "$%s: no value given to external variable", v.Name.QualifiedName())
			}
			seq, err = v.Init.eval(x)
			if err != nil {
				return err
			}
		}
		if v.Type != nil {
			if seq, err = v.Type.coerce(seq); err != nil {
				return fmt.Errorf("$%s: %w", v.Name.QualifiedName(), err)
			}
		}
		x.globals.Define(v.key, seq)
	}
	return nil
}
