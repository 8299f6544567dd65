package xquery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xml"
	"github.com/midbel/xquery/xquery"
)

func parseDoc(t *testing.T, str string) *xml.Document {
	t.Helper()
	doc, err := xml.ParseString(str)
	require.NoError(t, err)
	return doc
}

func compileQuery(t *testing.T, query string, opts ...xquery.Option) *xquery.Query {
	t.Helper()
	q, err := xquery.Compile(query, opts...)
	require.NoError(t, err, query)
	return q
}

func itemStrings(seq xquery.Sequence) []string {
	var list []string
	for _, i := range seq {
		if n := i.Node(); n != nil {
			list = append(list, xml.WriteNode(n))
			continue
		}
		list = append(list, i.String())
	}
	return list
}

func TestQueryEval(t *testing.T) {
	const books = `<books><book year="1999"><title>TCP/IP</title></book><book year="2005"><title>XQuery</title></book><book year="2010"><title>Go</title></book></books>`

	tests := []struct {
		Query string
		Want  []string
	}{
		{Query: `1 + 2`, Want: []string{"3"}},
		{Query: `for $i in 1 to 5 where $i mod 2 = 1 order by $i descending return $i * 10`, Want: []string{"50", "30", "10"}},
		{Query: `string-join(("a", "b", "c"), "-")`, Want: []string{"a-b-c"}},
		{Query: `count(//book)`, Want: []string{"3"}},
		{Query: `for $b in //book[@year > 2000] return string($b/title)`, Want: []string{"XQuery", "Go"}},
		{Query: `//book[last()]/title/text() = "Go"`, Want: []string{"true"}},
		{Query: `some $b in //book satisfies $b/@year = 1999`, Want: []string{"true"}},
		{Query: `every $b in //book satisfies $b/@year > 2000`, Want: []string{"false"}},
		{Query: `if (count(//book) > 2) then "many" else "few"`, Want: []string{"many"}},
		{Query: `<list>{//book[1]/title}</list>`, Want: []string{"<list><title>TCP/IP</title></list>"}},
		{Query: `element item { attribute id { 1 }, "value" }`, Want: []string{`<item id="1">value</item>`}},
		{Query: `let $f := function($x) { $x * 2 } return $f(21)`, Want: []string{"42"}},
		{Query: `let $f := upper-case#1 return $f("go")`, Want: []string{"GO"}},
		{Query: `("12" cast as xs:integer) + 1`, Want: []string{"13"}},
		{Query: `"abc" castable as xs:integer`, Want: []string{"false"}},
		{Query: `(1, 2, 3) ! (. * .)`, Want: []string{"1", "4", "9"}},
	}
	for _, c := range tests {
		q := compileQuery(t, c.Query)
		require.NoError(t, q.UpdateContext(xquery.Bindings{Item: parseDoc(t, books)}))
		seq, err := q.Eval(context.Background())
		require.NoError(t, err, c.Query)
		assert.Equal(t, c.Want, itemStrings(seq), c.Query)
	}
}

func TestQueryRange(t *testing.T) {
	tests := []struct {
		Query string
		Want  []string
		Code  string
	}{
		{Query: `count(9223372036854775806 to 9223372036854775807)`, Want: []string{"2"}},
		{Query: `(-9223372036854775807 - 1) to -9223372036854775807`, Want: []string{"-9223372036854775808", "-9223372036854775807"}},
		{Query: `count(5 to 3)`, Want: []string{"0"}},
		{Query: `3 to 3`, Want: []string{"3"}},
		{Query: `count(-9223372036854775807 to 9223372036854775807)`, Code: "XPDY0130"},
		{Query: `count(0 to 9223372036854775807)`, Code: "XPDY0130"},
	}
	for _, c := range tests {
		q := compileQuery(t, c.Query, xquery.WithTimeout(time.Second))
		done := make(chan struct{})
		var (
			seq xquery.Sequence
			err error
		)
		go func() {
			defer close(done)
			seq, err = q.Eval(context.Background())
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("%s: evaluation did not end", c.Query)
		}
		if c.Code != "" {
			require.Error(t, err, c.Query)
			assert.Equal(t, c.Code, xquery.ErrorCode(err), c.Query)
			continue
		}
		require.NoError(t, err, c.Query)
		assert.Equal(t, c.Want, itemStrings(seq), c.Query)
	}
}

func TestQueryInsert(t *testing.T) {
	doc := parseDoc(t, `<book><publisher>x</publisher></book>`)
	q := compileQuery(t, `insert node <year>2005</year> after book/publisher`)
	require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))

	seq, err := q.Eval(context.Background())
	require.NoError(t, err)
	assert.Empty(t, seq)
	assert.Equal(t, 1, q.Pending().Len())
	assert.Equal(t, `<book><publisher>x</publisher></book>`, xml.WriteNode(doc.Root()))

	res, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, `<book><publisher>x</publisher><year>2005</year></book>`, xml.WriteNode(doc.Root()))

	_, err = q.Apply()
	assert.ErrorIs(t, err, xquery.ErrDrained)
}

func TestQueryUpdates(t *testing.T) {
	tests := []struct {
		Query string
		Want  string
	}{
		{Query: `delete node book/a`, Want: `<book><b/></book>`},
		{Query: `rename node book/a as "c"`, Want: `<book><c/><b/></book>`},
		{Query: `replace node book/a with <z/>`, Want: `<book><z/><b/></book>`},
		{Query: `replace value of node book/a with "text"`, Want: `<book><a>text</a><b/></book>`},
		{Query: `insert node <z/> as first into book`, Want: `<book><z/><a/><b/></book>`},
		{Query: `insert node <z/> into book`, Want: `<book><a/><b/><z/></book>`},
		{Query: `insert node attribute id { 1 } into book`, Want: `<book id="1"><a/><b/></book>`},
		{Query: `(delete node book/a, rename node book/b as "c")`, Want: `<book><c/></book>`},
	}
	for _, c := range tests {
		doc := parseDoc(t, `<book><a/><b/></book>`)
		q := compileQuery(t, c.Query)
		require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))
		_, _, err := q.Run(context.Background())
		require.NoError(t, err, c.Query)
		assert.Equal(t, c.Want, xml.WriteNode(doc.Root()), c.Query)
	}
}

func TestQueryUpdateErrors(t *testing.T) {
	tests := []struct {
		Query string
		Code  string
	}{
		{Query: `delete node 1`, Code: "XUTY0007"},
		{Query: `rename node book/missing as "x"`, Code: "XUDY0027"},
		{Query: `insert node <a/> into (book/a, book/b)`, Code: "XUTY0005"},
		{Query: `insert node <a/> before root(book)`, Code: "XUTY0006"},
		{Query: `replace node root(book) with <a/>`, Code: "XUTY0008"},
		{Query: `copy $x := (book/a, book/b) modify () return $x`, Code: "XUTY0013"},
		{Query: `copy $x := book/a modify delete node book/b return $x`, Code: "XUDY0014"},
		{Query: `(rename node book/a as "x", rename node book/a as "y")`, Code: "XUDY0015"},
	}
	for _, c := range tests {
		doc := parseDoc(t, `<book><a/><b/></book>`)
		q := compileQuery(t, c.Query)
		require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))
		_, _, err := q.Run(context.Background())
		require.Error(t, err, c.Query)
		assert.Equal(t, c.Code, xquery.ErrorCode(err), c.Query)
		assert.Equal(t, `<book><a/><b/></book>`, xml.WriteNode(doc.Root()), c.Query)
	}
}

func TestQueryDuplicateAttributes(t *testing.T) {
	queries := []string{
		`(rename node /a/b as "c", insert node attribute x {2} into /a)`,
		`(rename node /a/b as "c", rename node /a/@x as "y", insert node attribute y {2} into /a)`,
		`(delete node /a/b, replace node /a/@x with (attribute y {1}, attribute y {2}))`,
	}
	for _, query := range queries {
		doc := parseDoc(t, `<a x="1"><b/></a>`)
		q := compileQuery(t, query)
		require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))
		_, _, err := q.Run(context.Background())
		require.Error(t, err, query)
		assert.Equal(t, "XUDY0021", xquery.ErrorCode(err), query)
		assert.Equal(t, `<a x="1"><b/></a>`, xml.WriteNode(doc.Root()), query)
	}
}

func TestQueryCopyModify(t *testing.T) {
	doc := parseDoc(t, `<book><a/><c/></book>`)
	q := compileQuery(t, `copy $x := book modify (delete node $x/a, rename node $x as "b") return $x`)
	require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))

	seq, err := q.Eval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{`<b><c/></b>`}, itemStrings(seq))
	assert.Equal(t, 0, q.Pending().Len())
	assert.Equal(t, `<book><a/><c/></book>`, xml.WriteNode(doc.Root()))

	q = compileQuery(t, `book transform with { delete node a }`)
	require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))
	seq, err = q.Eval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{`<book><c/></book>`}, itemStrings(seq))
	assert.Equal(t, `<book><a/><c/></book>`, xml.WriteNode(doc.Root()))
}

func TestQueryInvokeUpdating(t *testing.T) {
	q := compileQuery(t, `let $f := fn:put#2 return invoke updating $f(<n/>, "n.xml")`)
	assert.Equal(t, xquery.Updating, q.Category())

	_, err := q.Eval(context.Background())
	require.NoError(t, err)
	ops := q.Pending().Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, xquery.OpPut, ops[0].Kind)
	assert.Equal(t, "n.xml", ops[0].URI)

	res, err := q.Apply()
	require.NoError(t, err)
	require.Len(t, res.Puts, 1)
	assert.Equal(t, "n.xml", res.Puts[0].URI)
	assert.Equal(t, "<n/>", xml.WriteNode(res.Puts[0].Document.Root()))
}

func TestQueryFailureDiscardsUpdates(t *testing.T) {
	query := `
declare variable $doc external;
declare variable $fail as xs:boolean external;
(delete node $doc/book/a, delete node $doc/book/b, if ($fail) then error() else ())
`
	q := compileQuery(t, query)
	doc := parseDoc(t, `<book><a/><b/><c/></book>`)
	bindings := xquery.Bindings{
		Variables: map[string]any{
			"doc":  doc,
			"fail": true,
		},
	}
	require.NoError(t, q.UpdateContext(bindings))
	_, err := q.Eval(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, xquery.ErrDynamic)
	assert.Equal(t, "FOER0000", xquery.ErrorCode(err))
	assert.Equal(t, 0, q.Pending().Len())
	assert.Equal(t, `<book><a/><b/><c/></book>`, xml.WriteNode(doc.Root()))

	q.PrepareForReuse()
	bindings.Variables["fail"] = false
	require.NoError(t, q.UpdateContext(bindings))
	_, res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, `<book><c/></book>`, xml.WriteNode(doc.Root()))
}

func TestQueryReuse(t *testing.T) {
	q := compileQuery(t, `declare variable $name external; <hello>{$name}</hello>`)
	assert.Equal(t, []string{"name"}, q.Module().Externals())

	require.NoError(t, q.UpdateContext(xquery.Bindings{Variables: map[string]any{"name": "first"}}))
	seq, err := q.Eval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"<hello>first</hello>"}, itemStrings(seq))

	q.PrepareForReuse()
	_, err = q.Eval(context.Background())
	require.Error(t, err)
	assert.Equal(t, "XPDY0002", xquery.ErrorCode(err))

	q.PrepareForReuse()
	require.NoError(t, q.UpdateContext(xquery.Bindings{Variables: map[string]any{"$name": "second"}}))
	seq, err = q.Eval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"<hello>second</hello>"}, itemStrings(seq))
}

func TestQueryWatchdog(t *testing.T) {
	q := compileQuery(t, `count(for $i in 1 to 1000 return $i)`)

	q.Context().Watchdog().Kill()
	_, err := q.Eval(context.Background())
	assert.ErrorIs(t, err, xquery.ErrKilled)

	q.PrepareForReuse()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Eval(ctx)
	assert.ErrorIs(t, err, xquery.ErrCanceled)

	q.PrepareForReuse()
	require.NoError(t, q.UpdateContext(xquery.Bindings{Timeout: time.Minute}))
	seq, err := q.Eval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1000"}, itemStrings(seq))
	assert.Equal(t, time.Minute, q.Context().Watchdog().Timeout())
}

func TestCompileLibraryModule(t *testing.T) {
	_, err := xquery.Compile(`module namespace m = "urn:m"; declare function m:f() { 1 };`)
	assert.ErrorIs(t, err, xquery.ErrLibrary)
}

func TestQueryDocuments(t *testing.T) {
	resolver := documentsFunc(func(_ context.Context, uri string) (*xml.Document, error) {
		return xml.ParseString(`<books><book/><book/></books>`)
	})
	q := compileQuery(t, `count(doc("bib.xml")//book)`, xquery.WithDocuments(resolver))
	seq, err := q.Eval(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, itemStrings(seq))
}

type documentsFunc func(context.Context, string) (*xml.Document, error)

func (f documentsFunc) Document(ctx context.Context, uri string) (*xml.Document, error) {
	return f(ctx, uri)
}
