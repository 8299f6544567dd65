package xml_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midbel/xquery/xml"
)

func TestWriterWrite(t *testing.T) {
	const str = `<?xml version="1.0" encoding="UTF-8"?><test:root id="1"><test:a attr="text">text</test:a><test:a attr="self"/></test:root>`

	doc, err := xml.ParseString(str)
	require.NoError(t, err)

	var buf strings.Builder
	ws := xml.NewWriter(&buf)
	ws.WriterOptions |= xml.OptionCompact
	require.NoError(t, ws.Write(doc))
	assert.Equal(t, str, buf.String())
}

func TestWriteNode(t *testing.T) {
	el := xml.NewElement(xml.LocalName("item"))
	el.SetAttribute(xml.NewAttribute(xml.LocalName("q"), `a"b`))
	el.Append(xml.NewText("1 < 2"))

	assert.Equal(t, `<item q="a&quot;b">1 &lt; 2</item>`, xml.WriteNode(el))
	assert.Equal(t, `<empty/>`, xml.WriteNode(xml.NewElement(xml.LocalName("empty"))))
}
