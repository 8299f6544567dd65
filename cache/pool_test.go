package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/midbel/xquery/cache"
	"github.com/midbel/xquery/xml"
	"github.com/midbel/xquery/xquery"
)

const greeting = `declare variable $name external; <hello>{$name}</hello>`

func evalString(t *testing.T, q *xquery.Query) string {
	t.Helper()
	seq, err := q.Eval(context.Background())
	require.NoError(t, err)
	require.Len(t, seq, 1)
	return xml.WriteNode(seq[0].Node())
}

func bindName(name string) xquery.Bindings {
	return xquery.Bindings{
		Variables: map[string]any{"name": name},
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, cache.KeyFor("1 + 1"), cache.KeyFor("1 + 1"))
	assert.NotEqual(t, cache.KeyFor("1 + 1"), cache.KeyFor("1 + 2"))
	assert.Equal(t, cache.Key("uri:db/q.xq"), cache.KeyURI("db/q.xq"))
}

func TestPoolReuse(t *testing.T) {
	pool, err := cache.New()
	require.NoError(t, err)
	key := cache.KeyFor(greeting)

	first, err := pool.Borrow(key, greeting, bindName("first"))
	require.NoError(t, err)
	assert.Equal(t, "<hello>first</hello>", evalString(t, first))
	require.NoError(t, pool.Return(key, first))

	second, err := pool.Borrow(key, greeting, xquery.Bindings{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	_, err = second.Eval(context.Background())
	require.Error(t, err)
	assert.Equal(t, "XPDY0002", xquery.ErrorCode(err))
	require.NoError(t, pool.Return(key, second))

	third, err := pool.Borrow(key, greeting, bindName("third"))
	require.NoError(t, err)
	assert.Equal(t, "<hello>third</hello>", evalString(t, third))
	require.NoError(t, pool.Return(key, third))

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Compiled)
	assert.Equal(t, 1, stats.Misses)
	assert.Equal(t, 2, stats.Hits)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.Sources)
}

func TestPoolExhausted(t *testing.T) {
	pool, err := cache.New(cache.WithMaxActive(1))
	require.NoError(t, err)
	key := cache.KeyFor(greeting)

	q, err := pool.Borrow(key, greeting, bindName("a"))
	require.NoError(t, err)

	_, err = pool.Borrow(key, greeting, bindName("b"))
	assert.ErrorIs(t, err, cache.ErrExhausted)

	require.NoError(t, pool.Return(key, q))
	q, err = pool.Borrow(key, greeting, bindName("b"))
	require.NoError(t, err)
	assert.Equal(t, "<hello>b</hello>", evalString(t, q))
	require.NoError(t, pool.Return(key, q))
	assert.Equal(t, 1, pool.Stats().Exhausted)
}

func TestPoolNotBorrowed(t *testing.T) {
	pool, err := cache.New()
	require.NoError(t, err)
	key := cache.KeyFor(greeting)

	q, err := pool.Borrow(key, greeting, bindName("a"))
	require.NoError(t, err)
	assert.ErrorIs(t, pool.Return(cache.KeyFor("other"), q), cache.ErrNotBorrowed)
	require.NoError(t, pool.Return(key, q))
	assert.ErrorIs(t, pool.Return(key, q), cache.ErrNotBorrowed)
	assert.ErrorIs(t, pool.Discard(q), cache.ErrNotBorrowed)
	assert.Equal(t, 0, pool.Stats().Active)
}

func TestPoolCompileError(t *testing.T) {
	pool, err := cache.New(cache.WithMaxActive(1))
	require.NoError(t, err)

	src := `declare %simple variable $v := 1; $v`
	_, err = pool.Borrow(cache.KeyFor(src), src, xquery.Bindings{})
	require.Error(t, err)
	assert.Equal(t, "XUST0032", xquery.ErrorCode(err))

	q, err := pool.Borrow(cache.KeyFor(greeting), greeting, bindName("a"))
	require.NoError(t, err)
	require.NoError(t, pool.Return(cache.KeyFor(greeting), q))
}

func TestPoolFailedEvaluation(t *testing.T) {
	const query = `
declare variable $doc external;
declare variable $fail external;
(delete node $doc/root/a, rename node $doc/root/b as "c", if ($fail) then error() else ())
`
	pool, err := cache.New()
	require.NoError(t, err)
	key := cache.KeyFor(query)

	doc, err := xml.ParseString(`<root><a/><b/></root>`)
	require.NoError(t, err)
	bindings := xquery.Bindings{
		Variables: map[string]any{"doc": doc, "fail": true},
	}
	err = pool.With(context.Background(), key, query, bindings, func(ctx context.Context, q *xquery.Query) error {
		_, _, err := q.Run(ctx)
		assert.Equal(t, 0, q.Pending().Len())
		return err
	})
	require.Error(t, err)
	assert.Equal(t, `<root><a/><b/></root>`, xml.WriteNode(doc.Root()))
	assert.Equal(t, 0, pool.Stats().Active)

	bindings.Variables["fail"] = false
	err = pool.With(context.Background(), key, query, bindings, func(ctx context.Context, q *xquery.Query) error {
		_, res, err := q.Run(ctx)
		if err == nil {
			assert.Equal(t, 2, res.Applied)
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, `<root><c/></root>`, xml.WriteNode(doc.Root()))

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Compiled)
	assert.Equal(t, 1, stats.Hits)
}

func TestPoolConcurrent(t *testing.T) {
	pool, err := cache.New(cache.WithMaxIdle(8))
	require.NoError(t, err)
	key := cache.KeyFor(greeting)

	var grp errgroup.Group
	results := make([]string, 32)
	for i := range results {
		grp.Go(func() error {
			name := string(rune('a' + i%26))
			return pool.With(context.Background(), key, greeting, bindName(name), func(ctx context.Context, q *xquery.Query) error {
				seq, err := q.Eval(ctx)
				if err != nil {
					return err
				}
				results[i] = xml.WriteNode(seq[0].Node())
				return nil
			})
		})
	}
	require.NoError(t, grp.Wait())
	for i, r := range results {
		assert.Equal(t, "<hello>"+string(rune('a'+i%26))+"</hello>", r)
	}
	stats := pool.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.LessOrEqual(t, stats.Idle, 8)
	assert.Equal(t, 32, stats.Hits+stats.Misses)
}
