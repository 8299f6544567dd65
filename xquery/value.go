package xquery

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/midbel/xquery/xml"
)

// Untyped is the value of an atomized node (xs:untypedAtomic).
type Untyped string

type Item interface {
	Atomic() bool
	Node() xml.Node
	Value() any
	String() string
}

type Sequence []Item

func Singleton(item Item) Sequence {
	return Sequence{item}
}

func (s Sequence) Empty() bool {
	return len(s) == 0
}

func (s Sequence) Nodes() ([]xml.Node, bool) {
	var list []xml.Node
	for _, i := range s {
		n := i.Node()
		if n == nil {
			return nil, false
		}
		list = append(list, n)
	}
	return list, true
}

func (s Sequence) String() string {
	var list []string
	for _, i := range s {
		list = append(list, i.String())
	}
	return strings.Join(list, " ")
}

// NewItem wraps a go value into an Item. It panics when the type of the
// value can not be represented.
func NewItem(value any) Item {
	switch v := value.(type) {
	case Item:
		return v
	case xml.Node:
		return NewNode(v)
	case *Function:
		return funcItem{fn: v}
	case int:
		return atomicItem{value: int64(v)}
	case int64, float64, bool, string, Untyped, xml.QName, Duration:
		return atomicItem{value: v}
	case float32:
		return atomicItem{value: float64(v)}
	default:
		panic(fmt.Sprintf("%T: value can not be converted to an item", value))
	}
}

func NewNode(node xml.Node) Item {
	return nodeItem{node: node}
}

func NewString(str string) Item {
	return atomicItem{value: str}
}

func NewInteger(n int64) Item {
	return atomicItem{value: n}
}

func NewDouble(f float64) Item {
	return atomicItem{value: f}
}

func NewBoolean(b bool) Item {
	return atomicItem{value: b}
}

type nodeItem struct {
	node xml.Node
}

func (_ nodeItem) Atomic() bool {
	return false
}

func (i nodeItem) Node() xml.Node {
	return i.node
}

func (i nodeItem) Value() any {
	return i.node
}

func (i nodeItem) String() string {
	return i.node.Value()
}

type atomicItem struct {
	value any
}

func (_ atomicItem) Atomic() bool {
	return true
}

func (_ atomicItem) Node() xml.Node {
	return nil
}

func (i atomicItem) Value() any {
	return i.value
}

func (i atomicItem) String() string {
	return formatAtomic(i.value)
}

type funcItem struct {
	fn *Function
}

func (_ funcItem) Atomic() bool {
	return false
}

func (_ funcItem) Node() xml.Node {
	return nil
}

func (i funcItem) Value() any {
	return i.fn
}

func (i funcItem) String() string {
	return i.fn.String()
}

func formatAtomic(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case Untyped:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatDouble(v)
	case bool:
		return strconv.FormatBool(v)
	case xml.QName:
		return v.QualifiedName()
	case Duration:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatInt(int64(f), 10)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func typeName(item Item) string {
	switch v := item.Value().(type) {
	case xml.Node:
		return v.Type().String()
	case *Function:
		return "function"
	case string:
		return "xs:string"
	case Untyped:
		return "xs:untypedAtomic"
	case int64:
		return "xs:integer"
	case float64:
		return "xs:double"
	case bool:
		return "xs:boolean"
	case xml.QName:
		return "xs:QName"
	case Duration:
		switch {
		case v.IsDayTime():
			return "xs:dayTimeDuration"
		case v.IsYearMonth():
			return "xs:yearMonthDuration"
		default:
			return "xs:duration"
		}
	default:
		return fmt.Sprintf("%T", v)
	}
}

func atomize(seq Sequence) (Sequence, error) {
	var list Sequence
	for _, i := range seq {
		switch v := i.(type) {
		case nodeItem:
			list = append(list, atomicItem{value: Untyped(v.node.Value())})
		case funcItem:
			return nil, dynamicError("FOTY0013", "function item can not be atomized")
		default:
			list = append(list, i)
		}
	}
	return list, nil
}

func atomizeOne(seq Sequence) (Item, error) {
	list, err := atomize(seq)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return nil, dynamicError(CodeTypeError, "sequence of more than one item can not be atomized to a single value")
	}
}

func effectiveBoolean(seq Sequence) (bool, error) {
	if len(seq) == 0 {
		return false, nil
	}
	if !seq[0].Atomic() {
		if seq[0].Node() != nil {
			return true, nil
		}
		return false, dynamicError(CodeInvalidArg, "effective boolean value of a function is not defined")
	}
	if len(seq) > 1 {
		return false, dynamicError(CodeInvalidArg, "effective boolean value of a sequence of atomic values is not defined")
	}
	switch v := seq[0].Value().(type) {
	case bool:
		return v, nil
	case string:
		return v != "", nil
	case Untyped:
		return v != "", nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0 && !math.IsNaN(v), nil
	default:
		return false, dynamicError(CodeInvalidArg, "effective boolean value of %s is not defined", typeName(seq[0]))
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

func toDouble(value any) (float64, error) {
	switch v := value.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseDouble(v)
	case Untyped:
		return parseDouble(string(v))
	default:
		return math.NaN(), dynamicError(CodeTypeError, "%T: can not be converted to a number", value)
	}
}

func parseDouble(str string) (float64, error) {
	str = strings.TrimSpace(str)
	switch str {
	case "NaN":
		return math.NaN(), nil
	case "INF", "+INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return math.NaN(), dynamicError(CodeCastFailed, "%q: invalid number", str)
	}
	return f, nil
}

func toInteger(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, dynamicError("FOCA0002", "%s can not be converted to an integer", formatDouble(v))
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string, Untyped:
		str := strings.TrimSpace(formatAtomic(v))
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return 0, dynamicError(CodeCastFailed, "%q: invalid integer", str)
		}
		return n, nil
	default:
		return 0, dynamicError(CodeTypeError, "%T: can not be converted to an integer", value)
	}
}

// promote converts untyped values so that both operands of a comparison
// share a comparable type.
func promote(left, right any) (any, any, error) {
	lu, lok := left.(Untyped)
	ru, rok := right.(Untyped)
	switch {
	case lok && rok:
		return string(lu), string(ru), nil
	case lok:
		v, err := castUntyped(lu, right)
		return v, right, err
	case rok:
		v, err := castUntyped(ru, left)
		return left, v, err
	default:
		return left, right, nil
	}
}

func castUntyped(u Untyped, like any) (any, error) {
	switch like.(type) {
	case int64, float64:
		return parseDouble(string(u))
	case bool:
		return castToBoolean(string(u))
	case Duration:
		return ParseDuration(string(u))
	default:
		return string(u), nil
	}
}

func castToBoolean(str string) (bool, error) {
	switch strings.TrimSpace(str) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, dynamicError(CodeCastFailed, "%q: invalid boolean", str)
	}
}

// compareValues returns the ordering of two atomic values of comparable types.
func compareValues(left, right any) (int, error) {
	if isNumeric(left) && isNumeric(right) {
		if a, ok := left.(int64); ok {
			if b, ok := right.(int64); ok {
				return cmp.Compare(a, b), nil
			}
		}
		a, _ := toDouble(left)
		b, _ := toDouble(right)
		if math.IsNaN(a) || math.IsNaN(b) {
			return 0, errNaN
		}
		return cmp.Compare(a, b), nil
	}
	switch a := left.(type) {
	case string:
		if b, ok := right.(string); ok {
			return strings.Compare(a, b), nil
		}
	case bool:
		if b, ok := right.(bool); ok {
			return cmp.Compare(boolInt(a), boolInt(b)), nil
		}
	case xml.QName:
		if b, ok := right.(xml.QName); ok {
			if a.Equal(b) {
				return 0, nil
			}
			return strings.Compare(a.ExpandedName(), b.ExpandedName()), nil
		}
	case Duration:
		if b, ok := right.(Duration); ok {
			return compareDurations(a, b)
		}
	}
	return 0, dynamicError(CodeTypeError, "values of type %T and %T can not be compared", left, right)
}

var errNaN = dynamicError(CodeTypeError, "NaN is not comparable")

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func compareOp(op string, left, right any) (bool, error) {
	if a, ok := left.(Duration); ok {
		if b, ok := right.(Duration); ok && (op == "=" || op == "eq" || op == "!=" || op == "ne") {
			return a.Equal(b) == (op == "=" || op == "eq"), nil
		}
	}
	res, err := compareValues(left, right)
	if err == errNaN {
		return op == "!=" || op == "ne", nil
	}
	if err != nil {
		return false, err
	}
	switch op {
	case "=", "eq":
		return res == 0, nil
	case "!=", "ne":
		return res != 0, nil
	case "<", "lt":
		return res < 0, nil
	case "<=", "le":
		return res <= 0, nil
	case ">", "gt":
		return res > 0, nil
	case ">=", "ge":
		return res >= 0, nil
	default:
		return false, dynamicError(CodeTypeError, "%s: unknown comparison operator", op)
	}
}

func generalCompare(op string, left, right Sequence) (bool, error) {
	left, err := atomize(left)
	if err != nil {
		return false, err
	}
	right, err = atomize(right)
	if err != nil {
		return false, err
	}
	for _, a := range left {
		for _, b := range right {
			x, y, err := promote(a.Value(), b.Value())
			if err != nil {
				return false, err
			}
			ok, err := compareOp(op, x, y)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func valueCompare(op string, left, right Sequence) (Sequence, error) {
	a, err := atomizeOne(left)
	if err != nil || a == nil {
		return nil, err
	}
	b, err := atomizeOne(right)
	if err != nil || b == nil {
		return nil, err
	}
	x, y := a.Value(), b.Value()
	if u, ok := x.(Untyped); ok {
		x = string(u)
	}
	if u, ok := y.(Untyped); ok {
		y = string(u)
	}
	res, err := compareOp(op, x, y)
	if err != nil {
		return nil, err
	}
	return Singleton(NewBoolean(res)), nil
}

func arithmetic(op string, left, right Sequence) (Sequence, error) {
	a, err := atomizeOne(left)
	if err != nil || a == nil {
		return nil, err
	}
	b, err := atomizeOne(right)
	if err != nil || b == nil {
		return nil, err
	}
	x, y := numericValue(a.Value()), numericValue(b.Value())
	if x == nil || y == nil {
		return nil, dynamicError(CodeTypeError, "%s: operands of type %s and %s are not numeric", op, typeName(a), typeName(b))
	}
	i, iok := x.(int64)
	j, jok := y.(int64)
	if iok && jok {
		switch op {
		case "+":
			return Singleton(NewInteger(i + j)), nil
		case "-":
			return Singleton(NewInteger(i - j)), nil
		case "*":
			return Singleton(NewInteger(i * j)), nil
		case "idiv", "mod":
			if j == 0 {
				return nil, dynamicError(CodeDivByZero, "integer division by zero")
			}
			if op == "mod" {
				return Singleton(NewInteger(i % j)), nil
			}
			return Singleton(NewInteger(i / j)), nil
		case "div":
			if j == 0 {
				return nil, dynamicError(CodeDivByZero, "division by zero")
			}
			if i%j == 0 {
				return Singleton(NewInteger(i / j)), nil
			}
			return Singleton(NewDouble(float64(i) / float64(j))), nil
		}
	}
	f, _ := toDouble(x)
	g, _ := toDouble(y)
	switch op {
	case "+":
		return Singleton(NewDouble(f + g)), nil
	case "-":
		return Singleton(NewDouble(f - g)), nil
	case "*":
		return Singleton(NewDouble(f * g)), nil
	case "div":
		return Singleton(NewDouble(f / g)), nil
	case "idiv":
		if g == 0 {
			return nil, dynamicError(CodeDivByZero, "integer division by zero")
		}
		return Singleton(NewInteger(int64(f / g))), nil
	case "mod":
		return Singleton(NewDouble(math.Mod(f, g))), nil
	default:
		return nil, dynamicError(CodeTypeError, "%s: unknown arithmetic operator", op)
	}
}

// numericValue returns the numeric value of v or nil when v is not a
// number. Untyped values are converted to xs:double.
func numericValue(v any) any {
	switch x := v.(type) {
	case int64, float64:
		return x
	case Untyped:
		f, err := parseDouble(string(x))
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}

// documentOrder sorts nodes in document order and drops duplicates.
func documentOrder(seq Sequence) Sequence {
	if len(seq) < 2 {
		return seq
	}
	nodes, ok := seq.Nodes()
	if !ok {
		return seq
	}
	slices.SortStableFunc(nodes, func(a, b xml.Node) int {
		switch {
		case a == b:
			return 0
		case xml.Before(a, b):
			return -1
		default:
			return 1
		}
	})
	nodes = slices.CompactFunc(nodes, func(a, b xml.Node) bool {
		return a == b
	})
	list := make(Sequence, 0, len(nodes))
	for _, n := range nodes {
		list = append(list, NewNode(n))
	}
	return list
}
