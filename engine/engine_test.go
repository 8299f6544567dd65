package engine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/engine"
	"github.com/midbel/xquery/store"
	"github.com/midbel/xquery/xml"
	"github.com/midbel/xquery/xquery"
)

const books = `<books><book id="1"><title>TCP/IP Illustrated</title></book><book id="2"><title>Data on the Web</title></book></books>`

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	s := store.Memory()
	doc, err := xml.ParseString(books)
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "books.xml", doc)
	require.NoError(t, err)

	e, err := engine.New(append([]engine.Option{engine.WithStore(s), engine.WithWorkers(4)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
	})
	return e
}

func stored(t *testing.T, e *engine.Engine, uri string) string {
	t.Helper()
	doc, err := e.Store().Document(context.Background(), uri)
	require.NoError(t, err)
	return xml.WriteNode(doc.Root())
}

func TestExecute(t *testing.T) {
	tests := []struct {
		Query string
		Want  []string
	}{
		{
			Query: `count(doc("books.xml")//book)`,
			Want:  []string{"2"},
		},
		{
			Query: `doc("books.xml")/books/book[@id = "2"]/title`,
			Want:  []string{`<title>Data on the Web</title>`},
		},
		{
			Query: `for $b in doc("books.xml")//book return string($b/@id)`,
			Want:  []string{"1", "2"},
		},
	}
	e := newEngine(t)
	for _, c := range tests {
		res, err := e.Execute(context.Background(), engine.Request{Source: c.Query})
		require.NoError(t, err, c.Query)
		assert.Equal(t, c.Want, res.Output(), c.Query)
		assert.Equal(t, xquery.Simple, res.Category)
		assert.Nil(t, res.Batch)
		assert.NotEmpty(t, res.ID)
	}
}

func TestExecuteUpdating(t *testing.T) {
	e := newEngine(t)
	req := engine.Request{
		ID:     "insert",
		Source: `insert node <book id="3"><title>XQuery</title></book> as last into doc("books.xml")/books`,
	}
	res, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "insert", res.ID)
	assert.Equal(t, xquery.Updating, res.Category)
	assert.Empty(t, res.Items)
	require.NotNil(t, res.Batch)
	assert.Equal(t, 1, res.Batch.Applied)

	res, err = e.Execute(context.Background(), engine.Request{Source: `count(doc("books.xml")//book)`})
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, res.Output())
}

func TestExecuteFailureKeepsStore(t *testing.T) {
	const query = `
declare variable $fail external;
(delete node doc("books.xml")//book[1], rename node doc("books.xml")//book[2] as "item", if ($fail) then error() else ())
`
	e := newEngine(t)
	req := engine.Request{
		Source: query,
		Bindings: xquery.Bindings{
			Variables: map[string]any{"fail": true},
		},
	}
	res, err := e.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "FOER0000", xquery.ErrorCode(err))
	assert.Equal(t, err, res.Err)
	assert.Nil(t, res.Batch)
	assert.Equal(t, books, stored(t, e, "books.xml"))

	req.Bindings.Variables["fail"] = false
	res, err = e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batch.Applied)
	assert.Equal(t, `<books><item id="2"><title>Data on the Web</title></item></books>`, stored(t, e, "books.xml"))

	stats := e.Cache().Stats()
	assert.Equal(t, 1, stats.Compiled)
	assert.Equal(t, 1, stats.Hits)
}

func TestExecuteCanceled(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, engine.Request{Source: `delete node doc("books.xml")//book`})
	require.Error(t, err)
	assert.Equal(t, books, stored(t, e, "books.xml"))
}

func TestExecuteAll(t *testing.T) {
	e := newEngine(t)

	var reqs []engine.Request
	for i := range 16 {
		req := engine.Request{
			ID:     fmt.Sprintf("req-%d", i),
			Source: fmt.Sprintf(`%d + count(doc("books.xml")//book)`, i),
		}
		if i%4 == 3 {
			req.Source = `1 +`
		}
		reqs = append(reqs, req)
	}
	results, err := e.ExecuteAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, reqs[i].ID, res.ID)
		if i%4 == 3 {
			assert.ErrorIs(t, res.Err, xquery.ErrSyntax)
			continue
		}
		require.NoError(t, res.Err)
		assert.Equal(t, []string{fmt.Sprint(i + 2)}, res.Output())
	}
}

func TestExecuteByURI(t *testing.T) {
	e := newEngine(t)
	req := engine.Request{
		URI:    "queries/count.xq",
		Source: `count(doc("books.xml")//book)`,
	}
	for range 3 {
		res, err := e.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, res.Output())
	}
	stats := e.Cache().Stats()
	assert.Equal(t, 1, stats.Compiled)
	assert.Equal(t, 2, stats.Hits)
}

func TestEngineClosed(t *testing.T) {
	e, err := engine.New()
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Execute(context.Background(), engine.Request{Source: `1`})
	assert.ErrorIs(t, err, engine.ErrClosed)
}
