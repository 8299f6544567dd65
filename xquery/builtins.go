package xquery

import (
	"math"
	"strings"

	"github.com/midbel/xquery/xml"
)

var builtins = NewRegistry(nil)

type builtinDef struct {
	name     string
	min, max int
	updating bool
	call     builtinFunc
}

var builtinList = []builtinDef{
	{name: "doc", min: 1, max: 1, call: callDoc},
	{name: "doc-available", min: 1, max: 1, call: callDocAvailable},
	{name: "put", min: 2, max: 2, updating: true, call: callPut},
	{name: "parse-xml", min: 1, max: 1, call: callParseXML},
	{name: "serialize", min: 1, max: 2, call: callSerialize},
	{name: "root", min: 0, max: 1, call: callRoot},
	{name: "count", min: 1, max: 1, call: callCount},
	{name: "position", min: 0, max: 0, call: callPosition},
	{name: "last", min: 0, max: 0, call: callLast},
	{name: "string", min: 0, max: 1, call: callString},
	{name: "data", min: 0, max: 1, call: callData},
	{name: "name", min: 0, max: 1, call: callName},
	{name: "local-name", min: 0, max: 1, call: callLocalName},
	{name: "node-name", min: 0, max: 1, call: callNodeName},
	{name: "QName", min: 2, max: 2, call: callQName},
	{name: "concat", min: 2, max: -1, call: callConcat},
	{name: "string-join", min: 1, max: 2, call: callStringJoin},
	{name: "contains", min: 2, max: 2, call: callContains},
	{name: "starts-with", min: 2, max: 2, call: callStartsWith},
	{name: "ends-with", min: 2, max: 2, call: callEndsWith},
	{name: "string-length", min: 0, max: 1, call: callStringLength},
	{name: "normalize-space", min: 0, max: 1, call: callNormalizeSpace},
	{name: "upper-case", min: 1, max: 1, call: callUpperCase},
	{name: "lower-case", min: 1, max: 1, call: callLowerCase},
	{name: "substring", min: 2, max: 3, call: callSubstring},
	{name: "number", min: 0, max: 1, call: callNumber},
	{name: "abs", min: 1, max: 1, call: callAbs},
	{name: "floor", min: 1, max: 1, call: callFloor},
	{name: "ceiling", min: 1, max: 1, call: callCeiling},
	{name: "round", min: 1, max: 1, call: callRound},
	{name: "boolean", min: 1, max: 1, call: callBoolean},
	{name: "not", min: 1, max: 1, call: callNot},
	{name: "true", min: 0, max: 0, call: callTrue},
	{name: "false", min: 0, max: 0, call: callFalse},
	{name: "empty", min: 1, max: 1, call: callEmpty},
	{name: "exists", min: 1, max: 1, call: callExists},
	{name: "head", min: 1, max: 1, call: callHead},
	{name: "tail", min: 1, max: 1, call: callTail},
	{name: "exactly-one", min: 1, max: 1, call: callExactlyOne},
	{name: "zero-or-one", min: 1, max: 1, call: callZeroOrOne},
	{name: "one-or-more", min: 1, max: 1, call: callOneOrMore},
	{name: "sum", min: 1, max: 2, call: callSum},
	{name: "avg", min: 1, max: 1, call: callAvg},
	{name: "min", min: 1, max: 1, call: callMin},
	{name: "max", min: 1, max: 1, call: callMax},
	{name: "distinct-values", min: 1, max: 1, call: callDistinctValues},
	{name: "reverse", min: 1, max: 1, call: callReverse},
	{name: "subsequence", min: 2, max: 3, call: callSubsequence},
	{name: "index-of", min: 2, max: 2, call: callIndexOf},
	{name: "error", min: 0, max: 3, call: callError},
}

func init() {
	for _, d := range builtinList {
		for n := d.min; n <= d.max || (d.max < 0 && n <= d.min); n++ {
			fn := Function{
				Name:     xml.ExpandedName(d.name, "fn", nsFn),
				Updating: d.updating,
				MinArgs:  n,
				MaxArgs:  n,
				builtin:  d.call,
			}
			if d.max < 0 {
				fn.MaxArgs = -1
			}
			for i := 0; i < n; i++ {
				fn.Params = append(fn.Params, Param{
					Name: xml.LocalName("arg"),
				})
			}
			builtins.Define(&fn)
		}
	}
}

func isVacuousCall(fn *Function) bool {
	return fn.Name.Uri == nsFn && fn.Name.Name == "error"
}

func contextArg(ctx *Context, args []Sequence) (Sequence, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if ctx.item == nil {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	return Singleton(ctx.item), nil
}

func contextNode(ctx *Context, args []Sequence) (xml.Node, error) {
	seq, err := contextArg(ctx, args)
	if err != nil || len(seq) == 0 {
		return nil, err
	}
	if len(seq) > 1 {
		return nil, dynamicError(CodeTypeError, "single node expected")
	}
	n := seq[0].Node()
	if n == nil {
		return nil, dynamicError(CodeTypeError, "%s: node expected", typeName(seq[0]))
	}
	return n, nil
}

func stringArg(seq Sequence) (string, error) {
	v, err := atomizeOne(seq)
	if err != nil || v == nil {
		return "", err
	}
	return v.String(), nil
}

func callDoc(ctx *Context, args []Sequence) (Sequence, error) {
	uri, err := stringArg(args[0])
	if err != nil || uri == "" {
		return nil, err
	}
	doc, err := ctx.document(uri)
	if err != nil {
		return nil, err
	}
	return Singleton(NewNode(doc)), nil
}

func callDocAvailable(ctx *Context, args []Sequence) (Sequence, error) {
	uri, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	_, err = ctx.document(uri)
	return Singleton(NewBoolean(err == nil)), nil
}

func callPut(ctx *Context, args []Sequence) (Sequence, error) {
	node, err := contextNode(ctx, args[:1])
	if err != nil {
		return nil, err
	}
	if node == nil || (node.Type() != xml.TypeDocument && node.Type() != xml.TypeElement) {
		return nil, dynamicError("FOUP0001", "first argument of fn:put must be a document or an element")
	}
	uri, err := stringArg(args[1])
	if err != nil {
		return nil, err
	}
	if uri == "" {
		return nil, dynamicError("FOUP0002", "fn:put requires a non empty uri")
	}
	return nil, ctx.addUpdate(Op{
		Kind:   OpPut,
		Target: node,
		URI:    uri,
	})
}

func callParseXML(_ *Context, args []Sequence) (Sequence, error) {
	str, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	doc, err := xml.DefaultPool.ParseString(str)
	if err != nil {
		return nil, DynamicError{
			Code:    CodeParseXML,
			Message: err.Error(),
			Err:     err,
		}
	}
	return Singleton(NewNode(doc)), nil
}

func callSerialize(_ *Context, args []Sequence) (Sequence, error) {
	var parts []string
	for _, i := range args[0] {
		if n := i.Node(); n != nil {
			parts = append(parts, xml.WriteNode(n))
		} else {
			parts = append(parts, i.String())
		}
	}
	return Singleton(NewString(strings.Join(parts, ""))), nil
}

func callRoot(ctx *Context, args []Sequence) (Sequence, error) {
	node, err := contextNode(ctx, args)
	if err != nil || node == nil {
		return nil, err
	}
	return Singleton(NewNode(xml.Root(node))), nil
}

func callCount(_ *Context, args []Sequence) (Sequence, error) {
	return Singleton(NewInteger(int64(len(args[0])))), nil
}

func callPosition(ctx *Context, _ []Sequence) (Sequence, error) {
	if ctx.item == nil {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	return Singleton(NewInteger(int64(ctx.position))), nil
}

func callLast(ctx *Context, _ []Sequence) (Sequence, error) {
	if ctx.item == nil {
		return nil, dynamicError(CodeNoContext, "context item is not defined")
	}
	return Singleton(NewInteger(int64(ctx.size))), nil
}

func callString(ctx *Context, args []Sequence) (Sequence, error) {
	seq, err := contextArg(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(seq) > 1 {
		return nil, dynamicError(CodeTypeError, "fn:string expects at most one item")
	}
	if len(seq) == 0 {
		return Singleton(NewString("")), nil
	}
	if _, ok := seq[0].(funcItem); ok {
		return nil, dynamicError("FOTY0014", "function item has no string value")
	}
	return Singleton(NewString(seq[0].String())), nil
}

func callData(ctx *Context, args []Sequence) (Sequence, error) {
	seq, err := contextArg(ctx, args)
	if err != nil {
		return nil, err
	}
	return atomize(seq)
}

func nodeName(ctx *Context, args []Sequence) (xml.QName, bool, error) {
	node, err := contextNode(ctx, args)
	if err != nil || node == nil {
		return xml.QName{}, false, err
	}
	switch n := node.(type) {
	case *xml.Element:
		return n.QName, true, nil
	case *xml.Attribute:
		return n.QName, true, nil
	case *xml.Instruction:
		return n.QName, true, nil
	default:
		return xml.QName{}, false, nil
	}
}

func callName(ctx *Context, args []Sequence) (Sequence, error) {
	qn, ok, err := nodeName(ctx, args)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Singleton(NewString("")), nil
	}
	return Singleton(NewString(qn.QualifiedName())), nil
}

func callLocalName(ctx *Context, args []Sequence) (Sequence, error) {
	qn, _, err := nodeName(ctx, args)
	if err != nil {
		return nil, err
	}
	return Singleton(NewString(qn.Name)), nil
}

func callNodeName(ctx *Context, args []Sequence) (Sequence, error) {
	qn, ok, err := nodeName(ctx, args)
	if err != nil || !ok {
		return nil, err
	}
	return Singleton(NewItem(qn)), nil
}

func callQName(_ *Context, args []Sequence) (Sequence, error) {
	uri, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	name, err := stringArg(args[1])
	if err != nil {
		return nil, err
	}
	qn, err := xml.ParseName(name)
	if err != nil {
		return nil, dynamicError("FOCA0002", "%s", err)
	}
	qn.Uri = uri
	return Singleton(NewItem(qn)), nil
}

func callConcat(_ *Context, args []Sequence) (Sequence, error) {
	var str strings.Builder
	for _, a := range args {
		s, err := stringArg(a)
		if err != nil {
			return nil, err
		}
		str.WriteString(s)
	}
	return Singleton(NewString(str.String())), nil
}

func callStringJoin(_ *Context, args []Sequence) (Sequence, error) {
	list, err := atomize(args[0])
	if err != nil {
		return nil, err
	}
	var sep string
	if len(args) > 1 {
		if sep, err = stringArg(args[1]); err != nil {
			return nil, err
		}
	}
	var parts []string
	for _, i := range list {
		parts = append(parts, i.String())
	}
	return Singleton(NewString(strings.Join(parts, sep))), nil
}

func stringPair(args []Sequence) (string, string, error) {
	left, err := stringArg(args[0])
	if err != nil {
		return "", "", err
	}
	right, err := stringArg(args[1])
	return left, right, err
}

func callContains(_ *Context, args []Sequence) (Sequence, error) {
	str, sub, err := stringPair(args)
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(strings.Contains(str, sub))), nil
}

func callStartsWith(_ *Context, args []Sequence) (Sequence, error) {
	str, sub, err := stringPair(args)
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(strings.HasPrefix(str, sub))), nil
}

func callEndsWith(_ *Context, args []Sequence) (Sequence, error) {
	str, sub, err := stringPair(args)
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(strings.HasSuffix(str, sub))), nil
}

func contextString(ctx *Context, args []Sequence) (string, error) {
	seq, err := contextArg(ctx, args)
	if err != nil {
		return "", err
	}
	return stringArg(seq)
}

func callStringLength(ctx *Context, args []Sequence) (Sequence, error) {
	str, err := contextString(ctx, args)
	if err != nil {
		return nil, err
	}
	return Singleton(NewInteger(int64(len([]rune(str))))), nil
}

func callNormalizeSpace(ctx *Context, args []Sequence) (Sequence, error) {
	str, err := contextString(ctx, args)
	if err != nil {
		return nil, err
	}
	return Singleton(NewString(strings.Join(strings.Fields(str), " "))), nil
}

func callUpperCase(_ *Context, args []Sequence) (Sequence, error) {
	str, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	return Singleton(NewString(strings.ToUpper(str))), nil
}

func callLowerCase(_ *Context, args []Sequence) (Sequence, error) {
	str, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	return Singleton(NewString(strings.ToLower(str))), nil
}

func callSubstring(_ *Context, args []Sequence) (Sequence, error) {
	str, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	start, err := doubleArg(args[1])
	if err != nil {
		return nil, err
	}
	var (
		runes = []rune(str)
		from  = math.Round(start)
		to    = math.Inf(1)
	)
	if len(args) > 2 {
		n, err := doubleArg(args[2])
		if err != nil {
			return nil, err
		}
		to = from + math.Round(n)
	}
	var res []rune
	for i, r := range runes {
		pos := float64(i + 1)
		if pos >= from && pos < to {
			res = append(res, r)
		}
	}
	return Singleton(NewString(string(res))), nil
}

func doubleArg(seq Sequence) (float64, error) {
	v, err := atomizeOne(seq)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return math.NaN(), nil
	}
	return toDouble(v.Value())
}

func callNumber(ctx *Context, args []Sequence) (Sequence, error) {
	seq, err := contextArg(ctx, args)
	if err != nil {
		return nil, err
	}
	v, err := atomizeOne(seq)
	if err != nil || v == nil {
		return Singleton(NewDouble(math.NaN())), nil
	}
	f, err := toDouble(v.Value())
	if err != nil {
		f = math.NaN()
	}
	return Singleton(NewDouble(f)), nil
}

func numericArg(seq Sequence, fn func(float64) float64) (Sequence, error) {
	v, err := atomizeOne(seq)
	if err != nil || v == nil {
		return nil, err
	}
	switch n := numericValue(v.Value()).(type) {
	case int64:
		return Singleton(NewInteger(int64(fn(float64(n))))), nil
	case float64:
		return Singleton(NewDouble(fn(n))), nil
	default:
		return nil, dynamicError(CodeTypeError, "%s: numeric value expected", typeName(v))
	}
}

func callAbs(_ *Context, args []Sequence) (Sequence, error) {
	return numericArg(args[0], math.Abs)
}

func callFloor(_ *Context, args []Sequence) (Sequence, error) {
	return numericArg(args[0], math.Floor)
}

func callCeiling(_ *Context, args []Sequence) (Sequence, error) {
	return numericArg(args[0], math.Ceil)
}

func callRound(_ *Context, args []Sequence) (Sequence, error) {
	return numericArg(args[0], func(f float64) float64 {
		return math.Floor(f + 0.5)
	})
}

func callBoolean(_ *Context, args []Sequence) (Sequence, error) {
	ok, err := effectiveBoolean(args[0])
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(ok)), nil
}

func callNot(_ *Context, args []Sequence) (Sequence, error) {
	ok, err := effectiveBoolean(args[0])
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(!ok)), nil
}

func callTrue(_ *Context, _ []Sequence) (Sequence, error) {
	return Singleton(NewBoolean(true)), nil
}

func callFalse(_ *Context, _ []Sequence) (Sequence, error) {
	return Singleton(NewBoolean(false)), nil
}

func callEmpty(_ *Context, args []Sequence) (Sequence, error) {
	return Singleton(NewBoolean(len(args[0]) == 0)), nil
}

func callExists(_ *Context, args []Sequence) (Sequence, error) {
	return Singleton(NewBoolean(len(args[0]) > 0)), nil
}

func callHead(_ *Context, args []Sequence) (Sequence, error) {
	if len(args[0]) == 0 {
		return nil, nil
	}
	return args[0][:1], nil
}

func callTail(_ *Context, args []Sequence) (Sequence, error) {
	if len(args[0]) <= 1 {
		return nil, nil
	}
	return args[0][1:], nil
}

func callExactlyOne(_ *Context, args []Sequence) (Sequence, error) {
	if len(args[0]) != 1 {
		return nil, dynamicError("FORG0005", "exactly one item expected, got %d", len(args[0]))
	}
	return args[0], nil
}

func callZeroOrOne(_ *Context, args []Sequence) (Sequence, error) {
	if len(args[0]) > 1 {
		return nil, dynamicError("FORG0003", "at most one item expected, got %d", len(args[0]))
	}
	return args[0], nil
}

func callOneOrMore(_ *Context, args []Sequence) (Sequence, error) {
	if len(args[0]) == 0 {
		return nil, dynamicError("FORG0004", "at least one item expected")
	}
	return args[0], nil
}

func numbers(seq Sequence) (Sequence, error) {
	list, err := atomize(seq)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if u, ok := list[i].Value().(Untyped); ok {
			f, err := parseDouble(string(u))
			if err != nil {
				return nil, err
			}
			list[i] = NewDouble(f)
		}
	}
	return list, nil
}

func callSum(_ *Context, args []Sequence) (Sequence, error) {
	list, err := numbers(args[0])
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		if len(args) > 1 {
			return args[1], nil
		}
		return Singleton(NewInteger(0)), nil
	}
	total := Singleton(list[0])
	for _, i := range list[1:] {
		if total, err = arithmetic("+", total, Singleton(i)); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func callAvg(ctx *Context, args []Sequence) (Sequence, error) {
	if len(args[0]) == 0 {
		return nil, nil
	}
	total, err := callSum(ctx, args)
	if err != nil {
		return nil, err
	}
	return arithmetic("div", total, Singleton(NewInteger(int64(len(args[0])))))
}

func extremum(seq Sequence, want int) (Sequence, error) {
	list, err := numbers(seq)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	best := list[0]
	for _, i := range list[1:] {
		res, err := compareValues(i.Value(), best.Value())
		if err != nil {
			return nil, dynamicError(CodeInvalidArg, "values are not comparable")
		}
		if res == want {
			best = i
		}
	}
	return Singleton(best), nil
}

func callMin(_ *Context, args []Sequence) (Sequence, error) {
	return extremum(args[0], -1)
}

func callMax(_ *Context, args []Sequence) (Sequence, error) {
	return extremum(args[0], 1)
}

func callDistinctValues(_ *Context, args []Sequence) (Sequence, error) {
	list, err := atomize(args[0])
	if err != nil {
		return nil, err
	}
	var res Sequence
	for _, i := range list {
		found := false
		for _, r := range res {
			if c, err := compareValues(i.Value(), r.Value()); err == nil && c == 0 {
				found = true
				break
			}
		}
		if !found {
			res = append(res, i)
		}
	}
	return res, nil
}

func callReverse(_ *Context, args []Sequence) (Sequence, error) {
	res := make(Sequence, 0, len(args[0]))
	for i := len(args[0]) - 1; i >= 0; i-- {
		res = append(res, args[0][i])
	}
	return res, nil
}

func callSubsequence(_ *Context, args []Sequence) (Sequence, error) {
	start, err := doubleArg(args[1])
	if err != nil {
		return nil, err
	}
	var (
		from = math.Round(start)
		to   = math.Inf(1)
		res  Sequence
	)
	if len(args) > 2 {
		n, err := doubleArg(args[2])
		if err != nil {
			return nil, err
		}
		to = from + math.Round(n)
	}
	for i, item := range args[0] {
		pos := float64(i + 1)
		if pos >= from && pos < to {
			res = append(res, item)
		}
	}
	return res, nil
}

func callIndexOf(_ *Context, args []Sequence) (Sequence, error) {
	list, err := atomize(args[0])
	if err != nil {
		return nil, err
	}
	search, err := atomizeOne(args[1])
	if err != nil || search == nil {
		return nil, err
	}
	var res Sequence
	for i, item := range list {
		if c, err := compareValues(item.Value(), search.Value()); err == nil && c == 0 {
			res = append(res, NewInteger(int64(i+1)))
		}
	}
	return res, nil
}

func callError(_ *Context, args []Sequence) (Sequence, error) {
	var (
		code = CodeUserError
		msg  = "error raised by fn:error"
	)
	if len(args) > 0 && len(args[0]) > 0 {
		switch v := args[0][0].Value().(type) {
		case xml.QName:
			code = v.Name
		default:
			code = args[0][0].String()
		}
	}
	if len(args) > 1 {
		str, err := stringArg(args[1])
		if err != nil {
			return nil, err
		}
		msg = str
	}
	return nil, dynamicError(code, "%s", msg)
}
