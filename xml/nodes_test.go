package xml_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xml"
)

func parseRoot(t *testing.T, str string) *xml.Element {
	t.Helper()
	doc, err := xml.ParseString(str)
	require.NoError(t, err)
	return doc.Root().(*xml.Element)
}

func TestInsertAndRemove(t *testing.T) {
	root := parseRoot(t, `<root><a/><c/></root>`)

	b := xml.NewElement(xml.LocalName("b"))
	require.NoError(t, root.InsertAt(1, b))
	assert.Equal(t, `<root><a/><b/><c/></root>`, xml.WriteNode(root))
	assert.Equal(t, 1, b.Position())
	assert.Equal(t, 2, root.Nodes[2].Position())

	require.NoError(t, xml.Detach(root.Nodes[0]))
	assert.Equal(t, `<root><b/><c/></root>`, xml.WriteNode(root))
	assert.Equal(t, 0, b.Position())

	assert.ErrorIs(t, root.RemoveChild(xml.NewText("x")), xml.ErrChild)
}

func TestReplaceChild(t *testing.T) {
	root := parseRoot(t, `<root><a/><b/></root>`)
	old := root.Nodes[0]
	err := root.ReplaceChild(old, xml.NewElement(xml.LocalName("x")), xml.NewElement(xml.LocalName("y")))
	require.NoError(t, err)
	assert.Equal(t, `<root><x/><y/><b/></root>`, xml.WriteNode(root))
	assert.Nil(t, old.Parent())
}

func TestCloneIsDetached(t *testing.T) {
	root := parseRoot(t, `<root id="1"><a>text</a></root>`)
	c := xml.Clone(root).(*xml.Element)

	assert.Nil(t, c.Parent())
	assert.Equal(t, xml.WriteNode(root), xml.WriteNode(c))

	require.NoError(t, xml.SetValue(c.Nodes[0], "changed"))
	require.NoError(t, xml.Rename(c, xml.LocalName("copy")))
	assert.Equal(t, `<root id="1"><a>text</a></root>`, xml.WriteNode(root))
	assert.Equal(t, `<copy id="1"><a>changed</a></copy>`, xml.WriteNode(c))
	assert.False(t, xml.Contains(root, c.Nodes[0]))
	assert.True(t, xml.Contains(c, c.Nodes[0]))
}

func TestDocumentOrder(t *testing.T) {
	root := parseRoot(t, `<root id="1"><a/><b><c/></b></root>`)
	var (
		a  = root.Nodes[0]
		b  = root.Nodes[1].(*xml.Element)
		c  = b.Nodes[0]
		id = root.Attrs[0]
	)
	assert.True(t, xml.Before(root, a))
	assert.True(t, xml.Before(id, a))
	assert.True(t, xml.Before(a, c))
	assert.False(t, xml.Before(c, b))
	assert.NotNil(t, xml.DocumentOf(c))
}
