package xquery

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/midbel/xquery/environ"
	"github.com/midbel/xquery/xml"
)

const maxCallDepth = 1024

type DocumentResolver interface {
	Document(context.Context, string) (*xml.Document, error)
}

// Bindings are the values given by the caller of a query for one
// evaluation: namespace prefixes, values of external variables, the initial
// context item, the document resolver and the time allowed to the evaluation.
type Bindings struct {
	Namespaces map[string]string
	Variables  map[string]any
	Item       any
	Documents  DocumentResolver
	Timeout    time.Duration
}

func (b Bindings) VariableNames() []string {
	names := slices.Collect(maps.Keys(b.Variables))
	slices.Sort(names)
	return names
}

// Watchdog aborts an evaluation when its deadline is reached, when the
// context of the evaluation is canceled or when it is killed.
type Watchdog struct {
	timeout  time.Duration
	deadline time.Time
	base     context.Context
	killed   atomic.Bool
}

func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		base:    context.Background(),
	}
}

// Reset clears the state left by a previous evaluation and sets the time
// allowed to the next one. A zero timeout disables the deadline.
func (w *Watchdog) Reset(timeout time.Duration) {
	w.timeout = timeout
	w.deadline = time.Time{}
	w.base = context.Background()
	w.killed.Store(false)
}

func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

func (w *Watchdog) Deadline() time.Time {
	return w.deadline
}

func (w *Watchdog) Kill() {
	w.killed.Store(true)
}

func (w *Watchdog) Killed() bool {
	return w.killed.Load()
}

func (w *Watchdog) start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	w.base = ctx
	w.deadline = time.Time{}
	if w.timeout > 0 {
		w.deadline = time.Now().Add(w.timeout)
	}
}

func (w *Watchdog) Check() error {
	if w.killed.Load() {
		return wrapError(CodeWatchdog, ErrKilled)
	}
	if err := w.base.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wrapError(CodeWatchdog, ErrTimeout)
		}
		return wrapError(CodeWatchdog, ErrCanceled)
	}
	if !w.deadline.IsZero() && time.Now().After(w.deadline) {
		return wrapError(CodeWatchdog, fmt.Errorf("%w after %s", ErrTimeout, w.timeout))
	}
	return nil
}

// Context holds the state of one evaluation of a query. A Context is owned
// by a single evaluation at a time and must be prepared before being reused.
type Context struct {
	Logger    *zap.Logger
	Documents DocumentResolver

	baseNS     environ.Environ[string]
	namespaces environ.Environ[string]
	params     map[string]Sequence
	globals    environ.Environ[Sequence]
	vars       environ.Environ[Sequence]

	item     Item
	position int
	size     int

	resolver DocumentResolver
	watchdog *Watchdog
	pending  *PendingList
	docs     map[string]*xml.Document
	depth    int
	modify   bool
	timeout  time.Duration
}

func NewContext(namespaces map[string]string, timeout time.Duration) *Context {
	base := environ.Empty[string]()
	for p, u := range namespaces {
		base.Define(p, u)
	}
	ctx := Context{
		Logger:     zap.NewNop(),
		baseNS:     base,
		namespaces: environ.Enclosed(base),
		params:     make(map[string]Sequence),
		globals:    environ.Empty[Sequence](),
		watchdog:   NewWatchdog(timeout),
		pending:    NewPendingList(),
		docs:       make(map[string]*xml.Document),
		timeout:    timeout,
	}
	ctx.vars = environ.Enclosed(ctx.globals)
	return &ctx
}

func (c *Context) Pending() *PendingList {
	return c.pending
}

func (c *Context) Watchdog() *Watchdog {
	return c.watchdog
}

// Variable returns the value bound by the caller to an external variable.
func (c *Context) Variable(name string) (Sequence, bool) {
	seq, ok := c.params[name]
	return seq, ok
}

func (c *Context) Namespace(prefix string) (string, bool) {
	uri, err := c.namespaces.Resolve(prefix)
	return uri, err == nil
}

// PrepareForReuse drops everything left by the previous evaluation: bound
// variables and namespaces, pending updates, loaded documents, focus and
// watchdog state.
func (c *Context) PrepareForReuse() {
	clear(c.params)
	clear(c.docs)
	if x, ok := c.namespaces.(environ.Clearer); ok {
		x.Clear()
	}
	c.globals = environ.Empty[Sequence]()
	c.vars = environ.Enclosed(c.globals)
	c.item = nil
	c.position = 0
	c.size = 0
	c.depth = 0
	c.modify = false
	c.pending.Reset()
	c.watchdog.Reset(c.timeout)
	c.Documents = c.resolver
}

// UpdateContext binds the values of the caller to the context.
func (c *Context) UpdateContext(b Bindings) error {
	for p, u := range b.Namespaces {
		c.namespaces.Define(p, u)
	}
	for n, v := range b.Variables {
		seq, err := toSequence(v)
		if err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
		c.params[c.variableKey(n)] = seq
	}
	if b.Item != nil {
		seq, err := toSequence(b.Item)
		if err != nil {
			return fmt.Errorf("context item: %w", err)
		}
		if len(seq) != 1 {
			return fmt.Errorf("context item: single item expected, got %d", len(seq))
		}
		c.item = seq[0]
		c.position = 1
		c.size = 1
	}
	if b.Documents != nil {
		c.Documents = b.Documents
	}
	timeout := c.timeout
	if b.Timeout > 0 {
		timeout = b.Timeout
	}
	c.watchdog.Reset(timeout)
	return nil
}

func (c *Context) variableKey(name string) string {
	name = strings.TrimPrefix(name, "$")
	qn, err := xml.ParseName(name)
	if err != nil || qn.Space == "" {
		return name
	}
	if uri, err := c.namespaces.Resolve(qn.Space); err == nil {
		qn.Uri = uri
		return varKey(qn)
	}
	return name
}

func (c *Context) base() context.Context {
	return c.watchdog.base
}

func (c *Context) check() error {
	return c.watchdog.Check()
}

func (c *Context) withFocus(item Item, pos, size int) *Context {
	x := *c
	x.item = item
	x.position = pos
	x.size = size
	return &x
}

func (c *Context) withScope(env environ.Environ[Sequence]) *Context {
	x := *c
	x.vars = env
	return &x
}

func (c *Context) enclosed() (*Context, environ.Environ[Sequence]) {
	env := environ.Enclosed(c.vars)
	return c.withScope(env), env
}

func (c *Context) call() (*Context, error) {
	if c.depth >= maxCallDepth {
		return nil, dynamicError(CodeImplLimit, "maximum call depth (%d) reached", maxCallDepth)
	}
	x := *c
	x.depth++
	x.item = nil
	x.position = 0
	x.size = 0
	return &x, nil
}

func (c *Context) resolve(name string) (Sequence, error) {
	seq, err := c.vars.Resolve(name)
	if err != nil {
		return nil, dynamicError(CodeUndefinedVar, "$%s: variable is not defined", name)
	}
	return seq, nil
}

func (c *Context) document(uri string) (*xml.Document, error) {
	if doc, ok := c.docs[uri]; ok {
		return doc, nil
	}
	if c.Documents == nil {
		return nil, dynamicError(CodeDocNotFound, "%s: no document resolver available", uri)
	}
	doc, err := c.Documents.Document(c.base(), uri)
	if err != nil {
		return nil, DynamicError{
			Code:    CodeDocNotFound,
			Message: fmt.Sprintf("%s: %s", uri, err),
			Err:     err,
		}
	}
	if doc.URI == "" {
		doc.URI = uri
	}
	c.docs[uri] = doc
	return doc, nil
}

func (c *Context) addUpdate(op Op) error {
	if c.modify && op.Kind == OpPut {
		return dynamicError(CodeModifyTarget, "fn:put can not be used in the modify clause of a copy modify expression")
	}
	return c.pending.Add(op)
}

func toSequence(value any) (Sequence, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case Sequence:
		return v, nil
	case []Item:
		return Sequence(v), nil
	case []string:
		var seq Sequence
		for _, s := range v {
			seq = append(seq, NewString(s))
		}
		return seq, nil
	case []any:
		var seq Sequence
		for _, x := range v {
			s, err := toSequence(x)
			if err != nil {
				return nil, err
			}
			seq = append(seq, s...)
		}
		return seq, nil
	case Item, xml.Node, *Function, int, int64, float32, float64, bool, string, Untyped, xml.QName:
		return Singleton(NewItem(v)), nil
	default:
		return nil, fmt.Errorf("%T: value can not be bound to a variable", value)
	}
}
