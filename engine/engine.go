package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/midbel/xquery/cache"
	"github.com/midbel/xquery/store"
	"github.com/midbel/xquery/xml"
	"github.com/midbel/xquery/xquery"
)

var ErrClosed = errors.New("engine closed")

const DefaultWorkers = 8

// Request is one query to evaluate. When URI is set, it identifies the
// query in the cache instead of its text.
type Request struct {
	ID       string
	URI      string
	Source   string
	Bindings xquery.Bindings
}

func (r Request) key() cache.Key {
	if r.URI != "" {
		return cache.KeyURI(r.URI)
	}
	return cache.KeyFor(r.Source)
}

type Result struct {
	ID       string
	Category xquery.Category
	Items    xquery.Sequence
	Batch    *store.Batch
	Elapsed  time.Duration
	Err      error
}

// Output serializes the items of the result: nodes as XML and atomic values
// as their string value.
func (r *Result) Output() []string {
	var list []string
	for _, i := range r.Items {
		if n := i.Node(); n != nil {
			list = append(list, xml.WriteNode(n))
			continue
		}
		list = append(list, i.String())
	}
	return list
}

type Option func(*Engine)

func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

func WithStore(s store.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

func WithCache(pool *cache.Pool) Option {
	return func(e *Engine) {
		if pool != nil {
			e.cache = pool
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine evaluates queries on a bounded set of workers. Queries are borrowed
// from a cache and their updates are saved in a store.
type Engine struct {
	cache   *cache.Pool
	store   store.Store
	applier *store.Applier
	pool    *ants.Pool

	workers int
	timeout time.Duration
	logger  *zap.Logger
}

func New(opts ...Option) (*Engine, error) {
	e := Engine{
		workers: DefaultWorkers,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(&e)
	}
	if e.store == nil {
		e.store = store.Memory()
	}
	if e.cache == nil {
		c, err := cache.New(cache.WithLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	e.applier = store.NewApplier(e.store, e.logger)

	pool, err := ants.NewPool(e.workers, ants.WithPanicHandler(func(v any) {
		e.logger.Error("query worker panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return &e, nil
}

func (e *Engine) Store() store.Store {
	return e.store
}

func (e *Engine) Cache() *cache.Pool {
	return e.cache
}

// Execute runs req on one of the workers of the engine and waits for its
// result. The error returned is the error of the request.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	var (
		done = make(chan *Result, 1)
		task = func() {
			done <- e.run(ctx, req)
		}
	)
	if err := e.pool.Submit(task); err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			err = ErrClosed
		}
		return nil, err
	}
	select {
	case res := <-done:
		return res, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteAll runs every request and returns their results in the same
// order. A failing request does not stop the others: its error is kept in
// its result. The returned error is only set when ctx is done or the engine
// is closed.
func (e *Engine) ExecuteAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	var (
		grp     errgroup.Group
		results = make([]*Result, len(reqs))
	)
	for i := range reqs {
		grp.Go(func() error {
			res, err := e.Execute(ctx, reqs[i])
			if res == nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return err
				}
				res = &Result{
					ID:  reqs[i].ID,
					Err: err,
				}
			}
			results[i] = res
			return nil
		})
	}
	return results, grp.Wait()
}

func (e *Engine) Close() error {
	e.pool.Release()
	return e.cache.Close()
}

func (e *Engine) run(ctx context.Context, req Request) *Result {
	if req.ID == "" {
		req.ID = ksuid.New().String()
	}
	var (
		res    = Result{ID: req.ID}
		now    = time.Now()
		logger = e.logger.With(zap.String("request", req.ID))
	)
	b := req.Bindings
	if b.Documents == nil {
		b.Documents = e.store
	}
	if b.Timeout == 0 {
		b.Timeout = e.timeout
	}
	res.Err = e.cache.With(ctx, req.key(), req.Source, b, func(ctx context.Context, q *xquery.Query) error {
		res.Category = q.Category()
		seq, err := q.Eval(ctx)
		if err != nil {
			return err
		}
		res.Items = seq
		if err := ctx.Err(); err != nil {
			q.Pending().Discard()
			return err
		}
		if q.Pending().Len() == 0 {
			return nil
		}
		batch, err := e.applier.Apply(ctx, q)
		if err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		res.Batch = batch
		updatesApplied.Add(float64(batch.Applied))
		return nil
	})
	res.Elapsed = time.Since(now)

	status := "ok"
	if res.Err != nil {
		status = "error"
		res.Items = nil
		logger.Debug("request failed", zap.String("code", xquery.ErrorCode(res.Err)), zap.Error(res.Err))
	} else {
		logger.Debug("request done", zap.Duration("elapsed", res.Elapsed), zap.Int("items", len(res.Items)))
	}
	category := res.Category.String()
	requestsTotal.WithLabelValues(category, status).Inc()
	evalDuration.WithLabelValues(category).Observe(res.Elapsed.Seconds())
	return &res
}
