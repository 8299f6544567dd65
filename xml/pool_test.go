package xml_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xml"
)

func TestPoolResetsHandlers(t *testing.T) {
	pool := xml.NewParserPool(1)

	ps := pool.Get(strings.NewReader(`<?marker?><root/>`))
	ps.RegisterPI("marker", func(name string, _ []*xml.Attribute) (xml.Node, error) {
		return xml.NewComment("handled " + name), nil
	})
	ps.StrictNS = true
	doc, err := ps.Parse()
	require.NoError(t, err)
	assert.Equal(t, xml.TypeComment, doc.Nodes[0].Type())
	pool.Put(ps)

	again := pool.Get(strings.NewReader(`<?marker?><x:root/>`))
	assert.Same(t, ps, again)
	assert.False(t, again.StrictNS)

	doc, err = again.Parse()
	require.NoError(t, err)
	assert.Equal(t, xml.TypeInstruction, doc.Nodes[0].Type())
	pool.Put(again)

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Reused)
	assert.Equal(t, 1, stats.Idle)
}

func TestPoolBounded(t *testing.T) {
	pool := xml.NewParserPool(1)
	a := pool.Get(strings.NewReader(""))
	b := pool.Get(strings.NewReader(""))
	pool.Put(a)
	pool.Put(b)
	assert.Equal(t, 1, pool.Stats().Idle)
}
