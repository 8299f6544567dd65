package xquery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xquery"
)

func compileBody(t *testing.T, query string, opts ...xquery.Option) xquery.Expr {
	t.Helper()
	mod, err := xquery.NewCompiler(opts...).Compile(query)
	require.NoError(t, err, query)
	require.NotNil(t, mod.Body)
	return mod.Body
}

func TestCompileInsert(t *testing.T) {
	body := compileBody(t, `insert node <year>2005</year> after book/publisher`)
	ins, ok := body.(*xquery.Insert)
	require.True(t, ok, "expected insert, got %T", body)
	assert.Equal(t, xquery.InsertAfter, ins.Choice)
	assert.Equal(t, xquery.Updating, ins.Category())
	assert.Equal(t, "<year>2005</year>", ins.Source.String())
	assert.Equal(t, "child::book/child::publisher", ins.Target.String())

	body = compileBody(t, `insert node $x as last into book`, xquery.WithVariables("x"))
	ins, ok = body.(*xquery.Insert)
	require.True(t, ok, "expected insert, got %T", body)
	assert.Equal(t, xquery.InsertLast, ins.Choice)
	assert.Equal(t, "LAST", ins.Choice.String())
	assert.Equal(t, "$x", ins.Source.String())

	tests := map[string]xquery.InsertChoice{
		`insert node <a/> into book`:             xquery.InsertInto,
		`insert node <a/> as first into book`:    xquery.InsertFirst,
		`insert nodes (<a/>, <b/>) before book`:  xquery.InsertBefore,
	}
	for query, want := range tests {
		body := compileBody(t, query)
		ins, ok := body.(*xquery.Insert)
		require.True(t, ok, query)
		assert.Equal(t, want, ins.Choice, query)
	}
}

func TestCompileDelete(t *testing.T) {
	body := compileBody(t, `delete node fn:doc("bib.xml")/books/book[1]/author[last()]`)
	del, ok := body.(*xquery.Delete)
	require.True(t, ok, "expected delete, got %T", body)
	assert.Equal(t, xquery.Updating, del.Category())
	assert.False(t, del.Multiple)
	assert.Equal(t, `doc("bib.xml")/child::books/child::book[1]/child::author[last()]`, del.Target.String())

	body = compileBody(t, `delete nodes //author`)
	del, ok = body.(*xquery.Delete)
	require.True(t, ok)
	assert.True(t, del.Multiple)

	body = compileBody(t, `delete nodes /email/message[date > xs:dayTimeDuration("P365D")]`)
	del, ok = body.(*xquery.Delete)
	require.True(t, ok, "expected delete, got %T", body)
	assert.True(t, del.Multiple)
	assert.Equal(t, xquery.Updating, del.Category())
}

func TestCompileReplace(t *testing.T) {
	body := compileBody(t, `replace node book/title with <title/>`)
	rep, ok := body.(*xquery.Replace)
	require.True(t, ok, "expected replace, got %T", body)
	assert.Equal(t, xquery.ReplaceNode, rep.Mode)
	assert.Equal(t, xquery.Updating, rep.Category())
	assert.Equal(t, "child::book/child::title", rep.Target.String())
	assert.Equal(t, "<title/>", rep.With.String())

	body = compileBody(t, `replace value of node book/title with "XQuery"`)
	rep, ok = body.(*xquery.Replace)
	require.True(t, ok)
	assert.Equal(t, xquery.ReplaceValue, rep.Mode)
	assert.Equal(t, "VALUE", rep.Mode.String())
	assert.Equal(t, `"XQuery"`, rep.With.String())
}

func TestCompileRename(t *testing.T) {
	body := compileBody(t, `rename node book as "newname"`)
	ren, ok := body.(*xquery.Rename)
	require.True(t, ok, "expected rename, got %T", body)
	assert.Equal(t, xquery.Updating, ren.Category())
	assert.Equal(t, `"newname"`, ren.NewName.String())

	body = compileBody(t, `rename node book as $newname`, xquery.WithVariables("newname"))
	ren, ok = body.(*xquery.Rename)
	require.True(t, ok)
	assert.Equal(t, "$newname", ren.NewName.String())
}

func TestCompileCopyModify(t *testing.T) {
	query := `copy $x := $e modify (delete node $x/a, rename node $x as "b") return $x`
	body := compileBody(t, query, xquery.WithVariables("e"))
	cm, ok := body.(*xquery.CopyModify)
	require.True(t, ok, "expected copy modify, got %T", body)
	assert.Equal(t, xquery.Updating, cm.Category())
	require.Len(t, cm.Bindings, 1)
	assert.Equal(t, "$e", cm.Bindings[0].Expr.String())
	assert.Equal(t, `( delete node $x/child::a, rename node $x as "b" )`, cm.Modify.String())
	assert.Equal(t, "$x", cm.Return.String())

	body = compileBody(t, `copy $x := <a/> modify () return $x`)
	assert.Equal(t, xquery.Simple, body.Category())

	body = compileBody(t, `<a/> transform with { delete node b }`)
	cm, ok = body.(*xquery.CopyModify)
	require.True(t, ok, "expected copy modify, got %T", body)
	assert.Equal(t, "<a/> transform with { delete node child::b }", cm.String())
}

func TestCompileInvokeUpdating(t *testing.T) {
	body := compileBody(t, `let $f := fn:put#2 return invoke updating $f(<n/>, "n.xml")`)
	assert.Equal(t, xquery.Updating, body.Category())

	body = compileBody(t, `let $f := fn:count#1 return $f((1, 2))`)
	assert.Equal(t, xquery.Simple, body.Category())
}

func TestCompileCategory(t *testing.T) {
	tests := []struct {
		Query string
		Want  xquery.Category
	}{
		{Query: `1 + 2`, Want: xquery.Simple},
		{Query: `//book[@year > 2000]/title`, Want: xquery.Simple},
		{Query: `for $b in //book return $b/title`, Want: xquery.Simple},
		{Query: `for $b in //book return delete node $b`, Want: xquery.Updating},
		{Query: `let $b := //book where count($b) > 1 return delete nodes $b`, Want: xquery.Updating},
		{Query: `if (//book) then delete node //book else ()`, Want: xquery.Updating},
		{Query: `if (//book) then () else rename node //book as "b"`, Want: xquery.Updating},
		{Query: `(delete node //a, delete node //b)`, Want: xquery.Updating},
		{Query: `(delete node //a, error())`, Want: xquery.Updating},
		{Query: `count(copy $x := <a/> modify delete node $x/b return $x)`, Want: xquery.Simple},
		{Query: `(copy $x := <a/> modify delete node $x/b return $x, 1)`, Want: xquery.Simple},
		{Query: `some $b in //book satisfies $b/@year = 2000`, Want: xquery.Simple},
		{Query: `<a>{1 + 1}</a>`, Want: xquery.Simple},
	}
	for _, c := range tests {
		body := compileBody(t, c.Query)
		assert.Equal(t, c.Want, body.Category(), c.Query)
	}
}

func TestCompileStaticErrors(t *testing.T) {
	tests := []struct {
		Query string
		Code  string
	}{
		{Query: `declare %simple variable $v := 1; $v`, Code: "XUST0032"},
		{Query: `declare %updating variable $v := 1; $v`, Code: "XUST0032"},
		{Query: `declare %updating %simple function local:f() { () }; 1`, Code: "XUST0033"},
		{Query: `declare revalidation lax; declare revalidation strict; 1`, Code: "XUST0003"},
		{Query: `declare updating function local:f() { 1 }; 1`, Code: "XUST0002"},
		{Query: `declare function local:f() { delete node //a }; 1`, Code: "XUST0001"},
		{Query: `declare variable $v := delete node //a; 1`, Code: "XUST0001"},
		{Query: `(delete node //a, 1)`, Code: "XUST0001"},
		{Query: `if (delete node //a) then 1 else 2`, Code: "XUST0001"},
		{Query: `if (1) then delete node //a else 2`, Code: "XUST0001"},
		{Query: `for $x in delete node //a return 1`, Code: "XUST0001"},
		{Query: `delete node (delete node //a)`, Code: "XUST0001"},
		{Query: `count(delete node //a)`, Code: "XUST0001"},
		{Query: `copy $x := <a/> modify () return delete node $x`, Code: "XUST0001"},
		{Query: `copy $x := <a/> modify 1 return $x`, Code: "XUST0002"},
		{Query: `copy $x := <a/> modify $x/b return $x`, Code: "XUST0002"},
		{Query: `<a/> transform with { 1 }`, Code: "XUST0002"},
		{Query: `let $f := fn:put#2 return $f(<n/>, "n.xml")`, Code: "XUST0001"},
		{Query: `$undefined`, Code: "XPST0008"},
		{Query: `cuont(1)`, Code: "XPST0017"},
		{Query: `p:name`, Code: "XPST0081"},
		{Query: `1 cast as xs:unknown`, Code: "XPST0051"},
		{Query: `declare variable $v := 1; declare variable $v := 2; $v`, Code: "XQST0049"},
		{Query: `declare function local:f() { 1 }; declare function local:f() { 2 }; 1`, Code: "XQST0034"},
		{Query: `import module namespace m = "urn:missing"; 1`, Code: "XQST0059"},
	}
	for _, c := range tests {
		_, err := xquery.NewCompiler().Compile(c.Query)
		require.Error(t, err, c.Query)
		assert.ErrorIs(t, err, xquery.ErrStatic, c.Query)
		assert.Equal(t, c.Code, xquery.ErrorCode(err), c.Query)
	}
}

func TestCompileSuggestion(t *testing.T) {
	_, err := xquery.NewCompiler().Compile(`cuont(1)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean count")
}

func TestCompileSyntaxErrors(t *testing.T) {
	_, err := xquery.NewCompiler().Compile("declare variable $a := ; declare variable $b := ; 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, xquery.ErrSyntax)

	var list xquery.ErrorList
	require.ErrorAs(t, err, &list)
	assert.GreaterOrEqual(t, len(list), 2)
}

func TestCompilePrologFunctions(t *testing.T) {
	query := `
declare namespace b = "urn:books";
declare variable $limit as xs:integer := 2;
declare %updating function local:drop($n) { delete node $n };
declare function local:twice($x as xs:integer) as xs:integer { $x * 2 };
local:drop(//book[local:twice(1) > $limit])
`
	mod, err := xquery.NewCompiler().Compile(query)
	require.NoError(t, err)
	assert.Equal(t, xquery.Updating, mod.Category())
	assert.Len(t, mod.Functions, 2)
	assert.Len(t, mod.Variables, 1)
	assert.Equal(t, "urn:books", mod.Namespaces["b"])
}

func TestCompileLibrary(t *testing.T) {
	const lib = `
module namespace m = "urn:lib";
declare variable $m:greeting := "hello";
declare function m:greet($name) { concat($m:greeting, " ", $name) };
declare %private function m:hidden() { 1 };
`
	c := xquery.NewCompiler(xquery.WithLibrary(lib))
	mod, err := c.Compile(`import module namespace m = "urn:lib"; m:greet("world")`)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:lib"}, mod.Imports)

	_, err = c.Compile(`import module namespace m = "urn:lib"; m:hidden()`)
	require.Error(t, err)
	assert.Equal(t, "XPST0017", xquery.ErrorCode(err))
}
