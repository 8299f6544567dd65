package xquery_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xquery"
)

func TestParseModule(t *testing.T) {
	tests := []string{
		`xquery version "3.0"; 1`,
		`declare namespace b = "urn:books"; //b:book`,
		`declare variable $x as xs:integer external; $x + 1`,
		`declare %updating function local:f($n as node()) { delete node $n }; local:f(/a)`,
		`declare default function namespace "urn:f"; declare option output:method "xml"; 1`,
		`declare revalidation skip; ()`,
		`import module namespace m = "urn:m" at "m.xq"; m:f()`,
		`for $b at $i in //book let $t := $b/title where $i > 1 order by $t descending empty least return <r n="{$i}">{$t}</r>`,
		`some $x in (1, 2), $y in (3, 4) satisfies $x + $y = 5`,
		`copy $a := /a, $b := /b modify (delete node $a/c, insert node $b as last into $a) return $a`,
		`/a transform with { rename node . as "b" }`,
		`invoke updating $f(1, ?)`,
		`fn:concat#3`,
		`%simple function($x as item()*) as xs:string { string($x) }`,
		`element { "n" } { attribute a { 1 }, text { "t" }, comment { "c" } }`,
		`document { <a><b>text</b></a> }`,
		`/a/b[@c = "d"]/following-sibling::*[1] instance of element()?`,
		`(1 to 10) treat as xs:integer+`,
	}
	for _, q := range tests {
		_, err := xquery.ParseModule(q)
		assert.NoError(t, err, q)
	}
}

func TestParseLibrary(t *testing.T) {
	root, err := xquery.ParseModule(`module namespace m = "urn:m"; declare function m:f() { 1 };`)
	require.NoError(t, err)
	assert.Equal(t, xquery.KindLibrary, root.Kind)

	decl := root.First(xquery.KindModuleDecl)
	require.NotNil(t, decl)
	assert.Equal(t, "m", decl.Literal)
	assert.Equal(t, "urn:m", decl.Label)
}

func TestParseAccumulatesErrors(t *testing.T) {
	p := xquery.NewParser(`declare variable $a := ; declare function local:f( { 1 }; declare variable $b := 1; $b`)
	root := p.Module()
	require.NotNil(t, root)
	require.True(t, p.FoundErrors())

	errs := p.Errors()
	assert.GreaterOrEqual(t, len(errs), 2)
	for _, e := range errs {
		assert.Equal(t, xquery.CodeSyntax, e.Code)
	}
	assert.Equal(t, len(errs), len(strings.Split(p.ErrorMessage(), "\n")))

	prolog := root.First(xquery.KindProlog)
	require.NotNil(t, prolog)
	assert.Len(t, prolog.All(xquery.KindVarDecl), 1)
}

func TestParseSequenceType(t *testing.T) {
	tests := []string{
		"empty-sequence()",
		"item()*",
		"xs:string?",
		"element(book)+",
		"document-node(element(root))",
		"%updating function(*)",
		"function(xs:integer) as xs:string",
	}
	for _, s := range tests {
		n, err := xquery.ParseSequenceType(s)
		require.NoError(t, err, s)
		assert.Equal(t, xquery.KindSequenceType, n.Kind, s)
	}
}

func TestParseProlog(t *testing.T) {
	n, err := xquery.ParseProlog(`declare namespace a = "urn:a"; declare variable $v := 1;`)
	require.NoError(t, err)
	assert.Len(t, n.Children, 2)

	_, err = xquery.ParseProlog(`declare namespace a "urn:a";`)
	assert.ErrorIs(t, err, xquery.ErrSyntax)
}
