package xquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xml"
)

func builtin(t *testing.T, name string, arity int) *Function {
	t.Helper()
	fn, ok := builtins.Lookup(xml.ExpandedName(name, "fn", nsFn), arity)
	require.True(t, ok, name)
	return fn
}

func TestDynamicCallCategory(t *testing.T) {
	q, err := Compile(`declare variable $f external; $f(<n/>, "n.xml")`)
	require.NoError(t, err)

	call, ok := q.Body().(*DynamicCall)
	require.True(t, ok, "expected dynamic call, got %T", q.Body())
	assert.Equal(t, Simple, call.Category())
	assert.Nil(t, call.Resolved())

	concat := builtin(t, "concat", 2)
	require.NoError(t, q.UpdateContext(Bindings{Variables: map[string]any{"f": concat}}))
	_, err = q.Eval(context.Background())
	require.NoError(t, err)
	assert.Same(t, concat, call.Resolved())
	assert.Equal(t, Simple, call.Category())

	put := builtin(t, "put", 2)
	q.PrepareForReuse()
	require.NoError(t, q.UpdateContext(Bindings{Variables: map[string]any{"f": put}}))
	_, err = q.Eval(context.Background())
	require.Error(t, err)
	assert.Equal(t, CodeUpdatingCall, ErrorCode(err))
	assert.Same(t, put, call.Resolved())
	assert.Equal(t, Updating, call.Category())
}

func TestDynamicCallInvoke(t *testing.T) {
	q, err := Compile(`let $f := fn:put#2 return invoke updating $f(<n/>, "n.xml")`)
	require.NoError(t, err)

	body, ok := q.Body().(*flwor)
	require.True(t, ok, "expected flwor, got %T", q.Body())
	call, ok := body.ret.(*DynamicCall)
	require.True(t, ok, "expected dynamic call, got %T", body.ret)
	assert.True(t, call.Invoke)
	assert.Equal(t, Updating, call.Category())
	assert.Equal(t, `invoke updating $f(<n/>, "n.xml")`, call.String())
	require.NotNil(t, call.Resolved())
	assert.Equal(t, "put#2", call.Resolved().String())
}

func TestPendingListDrain(t *testing.T) {
	var (
		list = NewPendingList()
		el   = xml.NewElement(xml.LocalName("a"))
	)
	require.NoError(t, list.Add(Op{Kind: OpDelete, Target: el}))
	require.NoError(t, list.Add(Op{Kind: OpRename, Target: el, Name: xml.LocalName("b")}))
	assert.Equal(t, 2, list.Len())

	ops, err := list.Drain()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, OpDelete, ops[0].Kind)
	assert.Equal(t, OpRename, ops[1].Kind)
	assert.True(t, list.Drained())

	_, err = list.Drain()
	assert.ErrorIs(t, err, ErrDrained)
	assert.ErrorIs(t, list.Add(Op{Kind: OpDelete, Target: el}), ErrDrained)

	list.Reset()
	assert.False(t, list.Drained())
	assert.Equal(t, 0, list.Len())
}

func TestApplyOrderIndependent(t *testing.T) {
	build := func() (*xml.Document, *xml.Element, *xml.Element) {
		doc, err := xml.ParseString(`<root><a/><b/></root>`)
		require.NoError(t, err)
		root := doc.Root().(*xml.Element)
		return doc, root.Nodes[0].(*xml.Element), root.Nodes[1].(*xml.Element)
	}
	var results []string
	for _, reverse := range []bool{false, true} {
		doc, a, b := build()
		ops := []Op{
			{Kind: OpDelete, Target: a},
			{Kind: OpInsertBefore, Target: a, Nodes: []xml.Node{xml.NewElement(xml.LocalName("x"))}},
			{Kind: OpRename, Target: b, Name: xml.LocalName("c")},
		}
		if reverse {
			ops[0], ops[2] = ops[2], ops[0]
		}
		res, err := ApplyUpdates(ops)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Applied)
		results = append(results, xml.WriteNode(doc.Root()))
	}
	assert.Equal(t, `<root><x/><c/></root>`, results[0])
	assert.Equal(t, results[0], results[1])
}
