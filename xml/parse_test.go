package xml_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xml"
)

const prolog = `<?xml version="1.0" encoding="UTF-8"?>`

const bib = `<?xml version="1.0" encoding="UTF-8"?>
<books>
  <book year="1994">
    <title>TCP/IP Illustrated</title>
    <author>Stevens</author>
    <publisher>Addison-Wesley</publisher>
  </book>
  <book year="2000">
    <title>Data on the Web</title>
    <author>Abiteboul</author>
    <author>Buneman</author>
  </book>
</books>`

func TestParseValidDocument(t *testing.T) {
	doc, err := xml.ParseString(bib)
	require.NoError(t, err)

	root, ok := doc.Root().(*xml.Element)
	require.True(t, ok)
	assert.Equal(t, "books", root.QualifiedName())
	require.Len(t, root.Nodes, 2)

	book := root.Nodes[1].(*xml.Element)
	assert.Equal(t, "2000", book.GetAttribute("year").Value())
	assert.Equal(t, "Data on the WebAbiteboulBuneman", book.Value())
}

func TestParseWithoutProlog(t *testing.T) {
	doc, err := xml.ParseString(`<root a='1'>text<empty/>more</root>`)
	require.NoError(t, err)

	root := doc.Root().(*xml.Element)
	require.Len(t, root.Nodes, 3)
	assert.Equal(t, "1", root.GetAttribute("a").Value())
	assert.Equal(t, "textmore", root.Value())
}

func TestParseNamespaces(t *testing.T) {
	doc, err := xml.ParseString(`<t:root xmlns:t="urn:test"><t:item>1</t:item></t:root>`)
	require.NoError(t, err)

	root := doc.Root().(*xml.Element)
	assert.Equal(t, "urn:test", root.Uri)
	item := root.Nodes[0].(*xml.Element)
	assert.Equal(t, "urn:test", item.Uri)
	assert.Equal(t, "t:item", item.QualifiedName())
}

func TestParseInvalidDocument(t *testing.T) {
	data := []struct {
		Xml   string
		Cause string
	}{
		{
			Xml:   ``,
			Cause: "document without root element",
		},
		{
			Xml:   `<root empty-attr></root>`,
			Cause: "attribute without value",
		},
		{
			Xml:   `<root id="id-1" id="id-2"></root>`,
			Cause: "duplicate attribute",
		},
		{
			Xml:   `<root><item></root>`,
			Cause: "mismatched closing element",
		},
	}
	for _, d := range data {
		_, err := xml.ParseString(prolog + d.Xml)
		assert.Error(t, err, d.Cause)
	}
}

func TestParseStrictNamespaces(t *testing.T) {
	valid := []string{
		`<root a="1"><item/></root>`,
		`<t:root xmlns:t="urn:test"><item t:a="1"/></t:root>`,
	}
	for _, str := range valid {
		p := xml.NewParser(strings.NewReader(str))
		p.StrictNS = true
		_, err := p.Parse()
		assert.NoError(t, err, str)
	}
	invalid := []string{
		`<x:root/>`,
		`<root x:a="1"/>`,
	}
	for _, str := range invalid {
		p := xml.NewParser(strings.NewReader(str))
		p.StrictNS = true
		_, err := p.Parse()
		assert.Error(t, err, str)
	}
}

func TestParseRequireProlog(t *testing.T) {
	p := xml.NewParser(strings.NewReader(`<root/>`))
	p.RequireProlog = true
	_, err := p.Parse()
	assert.Error(t, err)
}
