package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	"go.uber.org/zap"

	"github.com/midbel/xquery/xquery"
)

var (
	ErrExhausted   = errors.New("cache: too many queries borrowed")
	ErrNotBorrowed = errors.New("cache: query not borrowed from pool")
	ErrClosed      = errors.New("cache: pool closed")
)

const (
	DefaultSize      = 128
	DefaultMaxIdle   = 4
	DefaultMaxActive = 256
)

// Key identifies the source of a compiled query.
type Key string

// KeyFor returns the key of a query given by its text.
func KeyFor(source string) Key {
	return Key(fmt.Sprintf("src:%016x", xxhash.Sum64String(source)))
}

// KeyURI returns the key of a query stored at uri.
func KeyURI(uri string) Key {
	return Key("uri:" + uri)
}

type Option func(*Pool)

// WithSize sets the number of distinct sources kept by the pool.
func WithSize(size int) Option {
	return func(p *Pool) {
		if size > 0 {
			p.size = size
		}
	}
}

// WithMaxIdle sets the number of idle queries kept for one source.
func WithMaxIdle(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxIdle = n
		}
	}
}

// WithMaxActive sets the number of queries that can be borrowed at the same
// time.
func WithMaxActive(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxActive = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCompileOptions sets the options given to the compiler on a miss.
func WithCompileOptions(opts ...xquery.Option) Option {
	return func(p *Pool) {
		p.compileOpts = append(p.compileOpts, opts...)
	}
}

type Stats struct {
	Hits      int
	Misses    int
	Exhausted int
	Compiled  int
	Active    int
	Idle      int
	Sources   int
}

// Pool keeps compiled queries between evaluations. A query is borrowed by
// exactly one caller at a time; it is prepared and bound to the bindings of
// the caller when it is borrowed again.
type Pool struct {
	mu       sync.Mutex
	idle     *arc.ARCCache[Key, []*xquery.Query]
	active   map[*xquery.Query]Key
	reserved int
	closed   bool
	stats    Stats

	size        int
	maxIdle     int
	maxActive   int
	compileOpts []xquery.Option
	logger      *zap.Logger
}

func New(opts ...Option) (*Pool, error) {
	p := Pool{
		active:    make(map[*xquery.Query]Key),
		size:      DefaultSize,
		maxIdle:   DefaultMaxIdle,
		maxActive: DefaultMaxActive,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(&p)
	}
	idle, err := arc.NewARC[Key, []*xquery.Query](p.size)
	if err != nil {
		return nil, err
	}
	p.idle = idle
	return &p, nil
}

// Borrow returns a compiled query for source bound to the given bindings.
// The query is compiled when the pool has no idle query for key.
func (p *Pool) Borrow(key Key, source string, b xquery.Bindings) (*xquery.Query, error) {
	q, hit, err := p.take(key)
	if err != nil {
		return nil, err
	}
	if hit {
		q.PrepareForReuse()
		if err := q.UpdateContext(b); err != nil {
			p.Discard(q)
			return nil, err
		}
		return q, nil
	}
	q, err = xquery.Compile(source, p.compileOpts...)

	p.mu.Lock()
	p.reserved--
	if err == nil {
		p.active[q] = key
		p.stats.Compiled++
	}
	p.mu.Unlock()

	if err != nil {
		compileErrors.Inc()
		activeQueries.Dec()
		p.logger.Debug("query compilation failed", zap.String("key", string(key)), zap.Error(err))
		return nil, err
	}
	p.logger.Debug("query compiled",
		zap.String("key", string(key)),
		zap.String("category", q.Category().String()),
	)
	if err := q.UpdateContext(b); err != nil {
		p.Discard(q)
		return nil, err
	}
	return q, nil
}

func (p *Pool) take(key Key) (*xquery.Query, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, ErrClosed
	}
	if len(p.active)+p.reserved >= p.maxActive {
		p.stats.Exhausted++
		lookupTotal.WithLabelValues("exhausted").Inc()
		return nil, false, ErrExhausted
	}
	activeQueries.Inc()
	if list, ok := p.idle.Get(key); ok && len(list) > 0 {
		q := list[len(list)-1]
		list = list[:len(list)-1]
		if len(list) == 0 {
			p.idle.Remove(key)
		} else {
			p.idle.Add(key, list)
		}
		p.active[q] = key
		p.stats.Hits++
		lookupTotal.WithLabelValues("hit").Inc()
		return q, true, nil
	}
	p.reserved++
	p.stats.Misses++
	lookupTotal.WithLabelValues("miss").Inc()
	return nil, false, nil
}

// Return gives back a borrowed query. The pending updates left by the
// query are dropped.
func (p *Pool) Return(key Key, q *xquery.Query) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k, ok := p.active[q]
	if !ok || k != key {
		return fmt.Errorf("%w: %s", ErrNotBorrowed, key)
	}
	delete(p.active, q)
	activeQueries.Dec()
	q.Pending().Discard()
	if p.closed {
		return nil
	}
	list, _ := p.idle.Peek(key)
	if len(list) >= p.maxIdle {
		return nil
	}
	p.idle.Add(key, append(slices.Clip(list), q))
	return nil
}

// Discard releases a borrowed query without keeping it in the pool.
func (p *Pool) Discard(q *xquery.Query) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[q]; !ok {
		return ErrNotBorrowed
	}
	delete(p.active, q)
	activeQueries.Dec()
	return nil
}

// With borrows a query, gives it to fn and returns it to the pool whatever
// the result of fn.
func (p *Pool) With(ctx context.Context, key Key, source string, b xquery.Bindings, fn func(context.Context, *xquery.Query) error) error {
	q, err := p.Borrow(key, source, b)
	if err != nil {
		return err
	}
	defer p.Return(key, q)
	return fn(ctx, q)
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stats
	st.Active = len(p.active)
	st.Sources = p.idle.Len()
	for _, k := range p.idle.Keys() {
		list, _ := p.idle.Peek(k)
		st.Idle += len(list)
	}
	return st
}

// Purge drops every idle query.
func (p *Pool) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle.Purge()
}

// Close drops the idle queries. Borrowed queries can still be returned but
// are not kept.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.idle.Purge()
	return nil
}
