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

func TestParseDuration(t *testing.T) {
	tests := []struct {
		Input string
		Want  xquery.Duration
		Str   string
	}{
		{Input: "P365D", Want: xquery.Duration{Time: 365 * 24 * time.Hour}, Str: "P365D"},
		{Input: "P1Y2M", Want: xquery.Duration{Months: 14}, Str: "P1Y2M"},
		{Input: "PT36H", Want: xquery.Duration{Time: 36 * time.Hour}, Str: "P1DT12H"},
		{Input: "-P1DT2M3.5S", Want: xquery.Duration{Time: -(24*time.Hour + 2*time.Minute + 3500*time.Millisecond)}, Str: "-P1DT2M3.5S"},
		{Input: "PT0S", Want: xquery.Duration{}, Str: "PT0S"},
	}
	for _, c := range tests {
		d, err := xquery.ParseDuration(c.Input)
		require.NoError(t, err, c.Input)
		assert.Equal(t, c.Want, d, c.Input)
		assert.Equal(t, c.Str, d.String(), c.Input)
	}
	for _, str := range []string{"", "P", "PT", "P1DT", "1D", "P1S", "PT1D", "P-1D"} {
		_, err := xquery.ParseDuration(str)
		assert.Error(t, err, str)
	}
}

func TestQueryDurations(t *testing.T) {
	tests := []struct {
		Query string
		Want  []string
	}{
		{Query: `xs:dayTimeDuration("PT48H")`, Want: []string{"P2D"}},
		{Query: `xs:dayTimeDuration("P2D") = xs:dayTimeDuration("PT48H")`, Want: []string{"true"}},
		{Query: `xs:dayTimeDuration("P1D") lt xs:dayTimeDuration("PT25H")`, Want: []string{"true"}},
		{Query: `xs:yearMonthDuration("P1Y") gt xs:yearMonthDuration("P11M")`, Want: []string{"true"}},
		{Query: `xs:duration("P1Y") = xs:duration("P365D")`, Want: []string{"false"}},
		{Query: `xs:dayTimeDuration(xs:duration("P1MT1H"))`, Want: []string{"PT1H"}},
		{Query: `xs:dayTimeDuration("P1D") instance of xs:duration`, Want: []string{"true"}},
	}
	for _, c := range tests {
		q := compileQuery(t, c.Query)
		seq, err := q.Eval(context.Background())
		require.NoError(t, err, c.Query)
		assert.Equal(t, c.Want, itemStrings(seq), c.Query)
	}

	errors := map[string]string{
		`xs:dayTimeDuration("P1Y")`:                        "FORG0001",
		`xs:duration("P1Y") lt xs:duration("P365D")`:       "XPTY0004",
		`xs:duration("P1Y1D") > xs:dayTimeDuration("P1D")`: "XPTY0004",
	}
	for query, code := range errors {
		q := compileQuery(t, query)
		_, err := q.Eval(context.Background())
		require.Error(t, err, query)
		assert.Equal(t, code, xquery.ErrorCode(err), query)
	}
}

func TestQueryDeleteOldMessages(t *testing.T) {
	doc := parseDoc(t, `<email><message><date>P400D</date></message><message><date>P10D</date></message></email>`)
	q := compileQuery(t, `delete nodes /email/message[date > xs:dayTimeDuration("P365D")]`)
	require.NoError(t, q.UpdateContext(xquery.Bindings{Item: doc}))
	_, res, err := q.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, `<email><message><date>P10D</date></message></email>`, xml.WriteNode(doc.Root()))
}
