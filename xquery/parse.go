package xquery

import (
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxErrors = 16
	maxDepth  = 512
)

const (
	powLowest = iota
	powOr
	powAnd
	powCmp
	powConcat
	powRange
	powAdd
	powMul
	powUnion
	powIntersect
	powInstance
	powTreat
	powCastable
	powCast
	powTransform
	powPrefix
	powMap
	powStep
	powPostfix
)

var bindings = map[rune]int{
	opEq:      powCmp,
	opNe:      powCmp,
	opLt:      powCmp,
	opLe:      powCmp,
	opGt:      powCmp,
	opGe:      powCmp,
	opBefore:  powCmp,
	opAfter:   powCmp,
	opConcat:  powConcat,
	opAdd:     powAdd,
	opSub:     powAdd,
	opMul:     powMul,
	opUnion:   powUnion,
	opBang:    powMap,
	currLevel: powStep,
	anyLevel:  powStep,
	begPred:   powPostfix,
	begGrp:    powPostfix,
}

var keywordBindings = map[string]int{
	"or":        powOr,
	"and":       powAnd,
	"eq":        powCmp,
	"ne":        powCmp,
	"lt":        powCmp,
	"le":        powCmp,
	"gt":        powCmp,
	"ge":        powCmp,
	"is":        powCmp,
	"to":        powRange,
	"div":       powMul,
	"idiv":      powMul,
	"mod":       powMul,
	"union":     powUnion,
	"intersect": powIntersect,
	"except":    powIntersect,
}

var operators = map[rune]string{
	opEq:     "=",
	opNe:     "!=",
	opLt:     "<",
	opLe:     "<=",
	opGt:     ">",
	opGe:     ">=",
	opBefore: "<<",
	opAfter:  ">>",
	opConcat: "||",
	opAdd:    "+",
	opSub:    "-",
	opMul:    "*",
	opUnion:  "union",
}

var axisNames = []string{
	"child",
	"descendant",
	"descendant-or-self",
	"attribute",
	"self",
	"following",
	"following-sibling",
	"parent",
	"ancestor",
	"ancestor-or-self",
	"preceding",
	"preceding-sibling",
}

var kindTests = []string{
	"node",
	"text",
	"comment",
	"element",
	"attribute",
	"document-node",
	"processing-instruction",
	"namespace-node",
}

var declKeywords = []string{
	"namespace",
	"default",
	"variable",
	"function",
	"updating",
	"revalidation",
	"option",
	"boundary-space",
	"construction",
	"ordering",
	"copy-namespaces",
	"base-uri",
}

func isKindTest(name string) bool {
	return slices.Contains(kindTests, name)
}

// Parser builds the syntax tree of a query. The Parser never stops at the
// first error: syntax errors are accumulated and the parser resumes at the
// next prolog declaration.
type Parser struct {
	scan *Scanner
	curr Token
	peek Token

	errors ErrorList
	depth  int

	Tracer

	prefix   map[rune]func() (*Node, error)
	infix    map[rune]func(*Node) (*Node, error)
	keywords map[string]func(*Node) (*Node, error)
}

func NewParser(query string) *Parser {
	p := Parser{
		scan:   Scan(query),
		Tracer: discardTracer{},
	}
	p.prefix = map[rune]func() (*Node, error){
		Name:       p.parseName,
		VarName:    p.parseVariable,
		Literal:    p.parseLiteral,
		Digit:      p.parseNumber,
		currNode:   p.parseContext,
		parentNode: p.parseParent,
		attrNode:   p.parseAttr,
		currLevel:  p.parseRoot,
		anyLevel:   p.parseDescendantRoot,
		begGrp:     p.parseGroup,
		opSub:      p.parseUnary,
		opAdd:      p.parseUnary,
		opMul:      p.parseWildcard,
		opLt:       p.parseDirConstructor,
		opPercent:  p.parseAnnotatedFunction,
	}
	p.infix = map[rune]func(*Node) (*Node, error){
		currLevel: p.parsePathStep,
		anyLevel:  p.parseDescendantStep,
		begPred:   p.parseFilter,
		begGrp:    p.parseDynamicCall,
		opBang:    p.parseMap,
		opConcat:  p.parseBinary,
		opAdd:     p.parseBinary,
		opSub:     p.parseBinary,
		opMul:     p.parseBinary,
		opEq:      p.parseBinary,
		opNe:      p.parseBinary,
		opLt:      p.parseBinary,
		opLe:      p.parseBinary,
		opGt:      p.parseBinary,
		opGe:      p.parseBinary,
		opBefore:  p.parseBinary,
		opAfter:   p.parseBinary,
		opUnion:   p.parseBinary,
	}
	p.keywords = map[string]func(*Node) (*Node, error){
		"instance":  p.parseInstanceOf,
		"treat":     p.parseTreatAs,
		"cast":      p.parseCastAs,
		"castable":  p.parseCastableAs,
		"transform": p.parseTransformWith,
	}
	for kw := range keywordBindings {
		p.keywords[kw] = p.parseBinary
	}
	p.next()
	p.next()
	return &p
}

func ParseModule(query string) (*Node, error) {
	p := NewParser(query)
	n := p.Module()
	if p.FoundErrors() {
		return n, p.Errors()
	}
	return n, nil
}

func ParseExpr(query string) (*Node, error) {
	p := NewParser(query)
	n := p.Expr()
	if p.FoundErrors() {
		return n, p.Errors()
	}
	return n, nil
}

func ParseSequenceType(query string) (*Node, error) {
	p := NewParser(query)
	n := p.SequenceType()
	if p.FoundErrors() {
		return n, p.Errors()
	}
	return n, nil
}

func ParseProlog(query string) (*Node, error) {
	p := NewParser(query)
	n := p.Prolog()
	if p.FoundErrors() {
		return n, p.Errors()
	}
	return n, nil
}

func (p *Parser) FoundErrors() bool {
	return len(p.errors) > 0
}

func (p *Parser) Errors() ErrorList {
	return slices.Clone(p.errors)
}

func (p *Parser) ErrorMessage() string {
	if len(p.errors) == 0 {
		return ""
	}
	return p.errors.Error()
}

// Module parses a main or a library module.
func (p *Parser) Module() *Node {
	p.Enter("module")
	defer p.Leave("module")

	root := createNode(KindModule, p.curr)
	if p.isKeyword("xquery") && (p.peekKeyword("version") || p.peekKeyword("encoding")) {
		n, err := p.parseVersion()
		if err != nil {
			p.report(err)
			p.skipDecl()
		} else {
			root.add(n)
		}
	}
	if p.isKeyword("module") && p.peekKeyword("namespace") {
		root.Kind = KindLibrary
		n, err := p.parseModuleDecl()
		if err != nil {
			p.report(err)
			p.skipDecl()
		} else {
			root.add(n)
		}
	}
	root.add(p.parseProlog())
	if root.Kind == KindLibrary {
		if !p.done() {
			p.report(p.unexpected())
		}
		return root
	}
	if p.done() {
		p.report(p.expected("query body"))
		return root
	}
	body, err := p.parseExprList()
	if err != nil {
		p.report(err)
		return root
	}
	root.add(body)
	if !p.done() {
		p.report(p.unexpected())
	}
	return root
}

// Expr parses a single expression (or a comma separated list of expressions).
func (p *Parser) Expr() *Node {
	p.Enter("expression")
	defer p.Leave("expression")
	n, err := p.parseExprList()
	if err != nil {
		p.report(err)
		return n
	}
	if !p.done() {
		p.report(p.unexpected())
	}
	return n
}

func (p *Parser) SequenceType() *Node {
	p.Enter("sequence-type")
	defer p.Leave("sequence-type")
	n, err := p.parseSequenceType()
	if err != nil {
		p.report(err)
		return n
	}
	if !p.done() {
		p.report(p.unexpected())
	}
	return n
}

// Prolog parses the declarations of a module without its body.
func (p *Parser) Prolog() *Node {
	p.Enter("prolog")
	defer p.Leave("prolog")
	n := p.parseProlog()
	if !p.done() {
		p.report(p.unexpected())
	}
	return n
}

func (p *Parser) parseVersion() (*Node, error) {
	n := createNode(KindVersion, p.curr)
	p.next()
	if p.isKeyword("version") {
		p.next()
		if !p.is(Literal) {
			return nil, p.expected("version string")
		}
		n.Literal = p.curr.Literal
		p.next()
	}
	if p.isKeyword("encoding") {
		p.next()
		if !p.is(Literal) {
			return nil, p.expected("encoding string")
		}
		n.Label = p.curr.Literal
		p.next()
	}
	if !p.is(opSemi) {
		return nil, p.expected("';'")
	}
	p.next()
	return n, nil
}

func (p *Parser) parseModuleDecl() (*Node, error) {
	n := createNode(KindModuleDecl, p.curr)
	p.next()
	p.next()
	if !p.is(Name) {
		return nil, p.expected("namespace prefix")
	}
	n.Literal = p.curr.Literal
	p.next()
	if !p.is(opEq) {
		return nil, p.expected("'='")
	}
	p.next()
	if !p.is(Literal) {
		return nil, p.expected("namespace uri")
	}
	n.Label = p.curr.Literal
	p.next()
	if !p.is(opSemi) {
		return nil, p.expected("';'")
	}
	p.next()
	return n, nil
}

func (p *Parser) parseProlog() *Node {
	prolog := createNode(KindProlog, p.curr)
	for p.isDecl() {
		decl, err := p.parseDecl()
		if err == nil && !p.is(opSemi) {
			err = p.expected("';'")
		}
		if err != nil {
			p.report(err)
			p.skipDecl()
			continue
		}
		p.next()
		prolog.add(decl)
	}
	return prolog
}

func (p *Parser) isDecl() bool {
	switch {
	case p.isKeyword("declare"):
		if p.peek.Type == opPercent {
			return true
		}
		return p.peek.Type == Name && slices.Contains(declKeywords, p.peek.Literal)
	case p.isKeyword("import"):
		return p.peekKeyword("module") || p.peekKeyword("schema")
	default:
		return false
	}
}

func (p *Parser) parseDecl() (*Node, error) {
	p.Enter("declaration")
	defer p.Leave("declaration")
	if p.isKeyword("import") {
		return p.parseImport()
	}
	tok := p.curr
	p.next()
	switch p.curr.Literal {
	case "namespace":
		return p.parseNamespaceDecl(tok)
	case "default":
		return p.parseDefaultDecl(tok)
	case "revalidation":
		p.next()
		n := createNode(KindRevalidation, tok)
		switch p.curr.Literal {
		case "strict", "lax", "skip":
			n.Literal = p.curr.Literal
		default:
			return nil, p.expected("strict, lax or skip")
		}
		p.next()
		return n, nil
	case "option":
		p.next()
		n := createNode(KindOption, tok)
		if !p.is(Name) {
			return nil, p.expected("option name")
		}
		n.Literal = p.curr.Literal
		p.next()
		if !p.is(Literal) {
			return nil, p.expected("option value")
		}
		n.Label = p.curr.Literal
		p.next()
		return n, nil
	case "boundary-space", "construction", "ordering", "copy-namespaces", "base-uri":
		n := createNode(KindSetter, tok)
		n.Literal = p.curr.Literal
		p.next()
		var values []string
		for !p.done() && !p.is(opSemi) {
			if !p.is(Name) && !p.is(Literal) && !p.is(opSeq) {
				return nil, p.unexpected()
			}
			if !p.is(opSeq) {
				values = append(values, p.curr.Literal)
			}
			p.next()
		}
		n.Label = strings.Join(values, ",")
		return n, nil
	default:
		return p.parseAnnotatedDecl(tok)
	}
}

func (p *Parser) parseImport() (*Node, error) {
	n := createNode(KindImport, p.curr)
	p.next()
	n.Literal = p.curr.Literal
	p.next()
	if p.isKeyword("namespace") {
		p.next()
		if !p.is(Name) {
			return nil, p.expected("namespace prefix")
		}
		n.Label = p.curr.Literal
		p.next()
		if !p.is(opEq) {
			return nil, p.expected("'='")
		}
		p.next()
	} else if n.Literal == "schema" && p.isKeyword("default") {
		for i := 0; i < 3 && p.is(Name); i++ {
			p.next()
		}
	}
	if !p.is(Literal) {
		return nil, p.expected("module uri")
	}
	n.add(p.literalNode())
	if p.isKeyword("at") {
		p.next()
		for {
			if !p.is(Literal) {
				return nil, p.expected("location")
			}
			n.add(p.literalNode())
			if !p.is(opSeq) {
				break
			}
			p.next()
		}
	}
	return n, nil
}

func (p *Parser) parseNamespaceDecl(tok Token) (*Node, error) {
	n := createNode(KindNamespaceDecl, tok)
	p.next()
	if !p.is(Name) {
		return nil, p.expected("namespace prefix")
	}
	n.Literal = p.curr.Literal
	p.next()
	if !p.is(opEq) {
		return nil, p.expected("'='")
	}
	p.next()
	if !p.is(Literal) {
		return nil, p.expected("namespace uri")
	}
	n.Label = p.curr.Literal
	p.next()
	return n, nil
}

func (p *Parser) parseDefaultDecl(tok Token) (*Node, error) {
	p.next()
	switch p.curr.Literal {
	case "element", "function":
		n := createNode(KindDefaultNamespace, tok)
		n.Literal = p.curr.Literal
		p.next()
		if !p.isKeyword("namespace") {
			return nil, p.expected("namespace")
		}
		p.next()
		if !p.is(Literal) {
			return nil, p.expected("namespace uri")
		}
		n.Label = p.curr.Literal
		p.next()
		return n, nil
	case "collation", "order":
		n := createNode(KindSetter, tok)
		n.Literal = "default-" + p.curr.Literal
		p.next()
		var values []string
		for p.is(Name) || p.is(Literal) {
			values = append(values, p.curr.Literal)
			p.next()
		}
		n.Label = strings.Join(values, " ")
		return n, nil
	default:
		return nil, p.expected("element, function, collation or order")
	}
}

func (p *Parser) parseAnnotatedDecl(tok Token) (*Node, error) {
	annots, err := p.parseAnnotations()
	if err != nil {
		return nil, err
	}
	var updating bool
	if p.isKeyword("updating") {
		updating = true
		p.next()
	}
	switch {
	case p.isKeyword("variable") && !updating:
		return p.parseVarDecl(tok, annots)
	case p.isKeyword("function"):
		return p.parseFuncDecl(tok, annots, updating)
	default:
		return nil, p.expected("variable or function declaration")
	}
}

func (p *Parser) parseAnnotations() ([]*Node, error) {
	var list []*Node
	for p.is(opPercent) {
		a, err := p.parseAnnotation()
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

func (p *Parser) parseAnnotation() (*Node, error) {
	n := createNode(KindAnnotation, p.curr)
	p.next()
	if !p.is(Name) {
		return nil, p.expected("annotation name")
	}
	n.Literal = p.curr.Literal
	p.next()
	if !p.is(begGrp) {
		return n, nil
	}
	p.next()
	for !p.done() && !p.is(endGrp) {
		switch {
		case p.is(Literal):
			n.add(p.literalNode())
		case p.is(Digit):
			x := createNode(KindNumber, p.curr)
			x.Literal = p.curr.Literal
			n.add(x)
			p.next()
		default:
			return nil, p.expected("annotation value")
		}
		if p.is(opSeq) {
			p.next()
		} else if !p.is(endGrp) {
			return nil, p.expected("')'")
		}
	}
	if !p.is(endGrp) {
		return nil, p.expected("')'")
	}
	p.next()
	return n, nil
}

func (p *Parser) parseVarDecl(tok Token, annots []*Node) (*Node, error) {
	p.Enter("variable-decl")
	defer p.Leave("variable-decl")

	n := createNode(KindVarDecl, tok)
	for _, a := range annots {
		n.add(a)
	}
	p.next()
	if !p.is(VarName) {
		return nil, p.expected("variable name")
	}
	n.Literal = p.curr.Literal
	p.next()
	if p.isKeyword("as") {
		p.next()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		n.add(st)
	}
	if p.isKeyword("external") {
		n.Label = "external"
		p.next()
		if !p.is(opAssign) {
			return n, nil
		}
	}
	if !p.is(opAssign) {
		return nil, p.expected("':=' or external")
	}
	p.next()
	expr, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(expr)
	return n, nil
}

func (p *Parser) parseFuncDecl(tok Token, annots []*Node, updating bool) (*Node, error) {
	p.Enter("function-decl")
	defer p.Leave("function-decl")

	n := createNode(KindFuncDecl, tok)
	if updating {
		n.Label = "updating"
	}
	for _, a := range annots {
		n.add(a)
	}
	p.next()
	if !p.is(Name) {
		return nil, p.expected("function name")
	}
	n.Literal = p.curr.Literal
	p.next()
	if err := p.parseSignature(n); err != nil {
		return nil, err
	}
	if p.isKeyword("external") {
		p.next()
		return n, nil
	}
	body, err := p.parseEnclosed()
	if err != nil {
		return nil, err
	}
	n.add(body)
	return n, nil
}

// parseSignature adds the parameters and the optional return type of a
// function to n.
func (p *Parser) parseSignature(n *Node) error {
	if !p.is(begGrp) {
		return p.expected("'('")
	}
	p.next()
	for !p.done() && !p.is(endGrp) {
		if !p.is(VarName) {
			return p.expected("parameter")
		}
		param := createNode(KindParam, p.curr)
		param.Literal = p.curr.Literal
		p.next()
		if p.isKeyword("as") {
			p.next()
			st, err := p.parseSequenceType()
			if err != nil {
				return err
			}
			param.add(st)
		}
		n.add(param)
		switch {
		case p.is(opSeq):
			p.next()
			if p.is(endGrp) {
				return p.expected("parameter")
			}
		case p.is(endGrp):
		default:
			return p.expected("',' or ')'")
		}
	}
	if !p.is(endGrp) {
		return p.expected("')'")
	}
	p.next()
	if p.isKeyword("as") {
		ret := createNode(KindReturn, p.curr)
		p.next()
		st, err := p.parseSequenceType()
		if err != nil {
			return err
		}
		ret.add(st)
		n.add(ret)
	}
	return nil
}

func (p *Parser) parseEnclosed() (*Node, error) {
	if !p.is(begCurl) {
		return nil, p.expected("'{'")
	}
	n := createNode(KindEnclosed, p.curr)
	p.next()
	if !p.is(endCurl) {
		expr, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		n.add(expr)
	}
	if !p.is(endCurl) {
		return nil, p.expected("'}'")
	}
	n.End = p.curr.Position
	p.next()
	return n, nil
}

func (p *Parser) parseSequenceType() (*Node, error) {
	p.Enter("sequence-type")
	defer p.Leave("sequence-type")

	st := createNode(KindSequenceType, p.curr)
	if p.isKeyword("empty-sequence") && p.peek.Type == begGrp {
		st.add(createNode(KindEmptySequence, p.curr))
		p.next()
		p.next()
		if !p.is(endGrp) {
			return nil, p.expected("')'")
		}
		p.next()
		return st, nil
	}
	item, err := p.parseItemType()
	if err != nil {
		return nil, err
	}
	st.add(item)
	switch p.curr.Type {
	case opQuestion:
		st.Label = "?"
	case opMul:
		st.Label = "*"
	case opAdd:
		st.Label = "+"
	default:
		return st, nil
	}
	p.next()
	return st, nil
}

func (p *Parser) parseItemType() (*Node, error) {
	switch {
	case p.is(opPercent):
		annots, err := p.parseAnnotations()
		if err != nil {
			return nil, err
		}
		if !p.isKeyword("function") {
			return nil, p.expected("function test")
		}
		return p.parseFunctionTest(annots)
	case p.isKeyword("function") && p.peek.Type == begGrp:
		return p.parseFunctionTest(nil)
	case p.isKeyword("item") && p.peek.Type == begGrp:
		n := createNode(KindItemTest, p.curr)
		p.next()
		p.next()
		if !p.is(endGrp) {
			return nil, p.expected("')'")
		}
		p.next()
		return n, nil
	case p.is(Name) && isKindTest(p.curr.Literal) && p.peek.Type == begGrp:
		return p.parseKindTest()
	case p.is(begGrp):
		p.next()
		n, err := p.parseItemType()
		if err != nil {
			return nil, err
		}
		if !p.is(endGrp) {
			return nil, p.expected("')'")
		}
		p.next()
		return n, nil
	case p.is(Name):
		n := createNode(KindAtomicType, p.curr)
		n.Literal = p.curr.Literal
		p.next()
		return n, nil
	default:
		return nil, p.expected("item type")
	}
}

func (p *Parser) parseFunctionTest(annots []*Node) (*Node, error) {
	n := createNode(KindFunctionTest, p.curr)
	for _, a := range annots {
		n.add(a)
	}
	p.next()
	p.next()
	if p.is(opMul) {
		n.Label = "*"
		p.next()
		if !p.is(endGrp) {
			return nil, p.expected("')'")
		}
		p.next()
		return n, nil
	}
	for !p.done() && !p.is(endGrp) {
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		n.add(st)
		switch {
		case p.is(opSeq):
			p.next()
		case p.is(endGrp):
		default:
			return nil, p.expected("',' or ')'")
		}
	}
	if !p.is(endGrp) {
		return nil, p.expected("')'")
	}
	p.next()
	if p.isKeyword("as") {
		ret := createNode(KindReturn, p.curr)
		p.next()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		ret.add(st)
		n.add(ret)
	}
	return n, nil
}

func (p *Parser) parseKindTest() (*Node, error) {
	n := createNode(KindKindTest, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	p.next()
	switch {
	case p.is(endGrp):
	case p.is(opMul):
		n.Label = "*"
		p.next()
	case p.is(Name) && isKindTest(p.curr.Literal) && p.peek.Type == begGrp:
		sub, err := p.parseKindTest()
		if err != nil {
			return nil, err
		}
		n.add(sub)
	case p.is(Name) || p.is(Literal):
		n.Label = p.curr.Literal
		p.next()
	default:
		return nil, p.expected("name test")
	}
	if p.is(opSeq) {
		p.next()
		if !p.is(Name) {
			return nil, p.expected("type name")
		}
		p.next()
		if p.is(opQuestion) {
			p.next()
		}
	}
	if !p.is(endGrp) {
		return nil, p.expected("')'")
	}
	p.next()
	return n, nil
}

func (p *Parser) parseExprList() (*Node, error) {
	expr, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	if !p.is(opSeq) {
		return expr, nil
	}
	list := createNode(KindExprList, p.curr)
	list.Start = expr.Start
	list.add(expr)
	for p.is(opSeq) {
		p.next()
		expr, err := p.parseExpr(powLowest)
		if err != nil {
			return nil, err
		}
		list.add(expr)
	}
	return list, nil
}

func (p *Parser) parseExpr(pow int) (*Node, error) {
	p.Enter("expr")
	defer p.Leave("expr")

	p.depth++
	defer func() {
		p.depth--
	}()
	if p.depth > maxDepth {
		return nil, p.errorf("expression nested too deeply")
	}
	fn, ok := p.prefix[p.curr.Type]
	if !ok {
		return nil, p.unexpected()
	}
	left, err := fn()
	if err != nil {
		return nil, err
	}
	for !p.done() && pow < p.power() {
		fn := p.infixFunc()
		if fn == nil {
			return nil, p.unexpected()
		}
		if left, err = fn(left); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) infixFunc() func(*Node) (*Node, error) {
	if p.is(Name) {
		return p.keywords[p.curr.Literal]
	}
	return p.infix[p.curr.Type]
}

func (p *Parser) parseName() (*Node, error) {
	switch lit := p.curr.Literal; {
	case (lit == "for" || lit == "let") && p.peek.Type == VarName:
		return p.parseFLWOR()
	case (lit == "some" || lit == "every") && p.peek.Type == VarName:
		return p.parseQuantified()
	case lit == "if" && p.peek.Type == begGrp:
		return p.parseIf()
	case lit == "insert" && p.peekKeyword("node", "nodes"):
		return p.parseInsert()
	case lit == "delete" && p.peekKeyword("node", "nodes"):
		return p.parseDelete()
	case lit == "replace" && p.peekKeyword("node", "value"):
		return p.parseReplace()
	case lit == "rename" && p.peekKeyword("node"):
		return p.parseRename()
	case lit == "copy" && p.peek.Type == VarName:
		return p.parseCopyModify()
	case lit == "invoke" && p.peekKeyword("updating"):
		return p.parseInvoke()
	case lit == "function" && p.peek.Type == begGrp:
		return p.parseInlineFunction(nil)
	case (lit == "element" || lit == "attribute") && (p.peek.Type == Name || p.peek.Type == begCurl):
		return p.parseComputed()
	case (lit == "text" || lit == "comment" || lit == "document") && p.peek.Type == begCurl:
		return p.parseComputed()
	case p.peek.Type == opHash:
		return p.parseFuncRef()
	case p.peek.Type == opAxis:
		return p.parseAxisStep()
	case p.peek.Type == begGrp && !isKindTest(lit):
		return p.parseCall()
	default:
		return p.parseAbbrevStep()
	}
}

func (p *Parser) parseFLWOR() (*Node, error) {
	p.Enter("flwor")
	defer p.Leave("flwor")

	flwor := createNode(KindFLWOR, p.curr)
	for {
		switch {
		case p.isKeyword("for") && p.peek.Type == VarName:
			p.next()
			for {
				n, err := p.parseForBinding()
				if err != nil {
					return nil, err
				}
				flwor.add(n)
				if !p.is(opSeq) {
					break
				}
				p.next()
			}
		case p.isKeyword("let") && p.peek.Type == VarName:
			p.next()
			for {
				n, err := p.parseLetBinding()
				if err != nil {
					return nil, err
				}
				flwor.add(n)
				if !p.is(opSeq) {
					break
				}
				p.next()
			}
		case p.isKeyword("where"):
			n := createNode(KindWhere, p.curr)
			p.next()
			expr, err := p.parseExpr(powLowest)
			if err != nil {
				return nil, err
			}
			n.add(expr)
			flwor.add(n)
		case p.isKeyword("order") && p.peekKeyword("by"), p.isKeyword("stable") && p.peekKeyword("order"):
			n, err := p.parseOrderBy()
			if err != nil {
				return nil, err
			}
			flwor.add(n)
		case p.isKeyword("return"):
			n := createNode(KindReturn, p.curr)
			p.next()
			expr, err := p.parseExpr(powLowest)
			if err != nil {
				return nil, err
			}
			n.add(expr)
			flwor.add(n)
			return flwor, nil
		default:
			return nil, p.expected("return")
		}
	}
}

func (p *Parser) parseForBinding() (*Node, error) {
	if !p.is(VarName) {
		return nil, p.expected("variable")
	}
	n := createNode(KindFor, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	if p.isKeyword("as") {
		p.next()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		n.add(st)
	}
	if p.isKeyword("at") {
		p.next()
		if !p.is(VarName) {
			return nil, p.expected("positional variable")
		}
		n.Label = p.curr.Literal
		p.next()
	}
	if !p.isKeyword("in") {
		return nil, p.expected("in")
	}
	p.next()
	expr, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(expr)
	return n, nil
}

func (p *Parser) parseLetBinding() (*Node, error) {
	if !p.is(VarName) {
		return nil, p.expected("variable")
	}
	n := createNode(KindLet, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	if p.isKeyword("as") {
		p.next()
		st, err := p.parseSequenceType()
		if err != nil {
			return nil, err
		}
		n.add(st)
	}
	if !p.is(opAssign) {
		return nil, p.expected("':='")
	}
	p.next()
	expr, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(expr)
	return n, nil
}

func (p *Parser) parseOrderBy() (*Node, error) {
	n := createNode(KindOrderBy, p.curr)
	if p.isKeyword("stable") {
		n.Literal = "stable"
		p.next()
	}
	p.next()
	p.next()
	for {
		spec := createNode(KindOrderSpec, p.curr)
		expr, err := p.parseExpr(powLowest)
		if err != nil {
			return nil, err
		}
		spec.add(expr)
		spec.Label = "ascending"
		if p.isKeyword("ascending") || p.isKeyword("descending") {
			spec.Label = p.curr.Literal
			p.next()
		}
		if p.isKeyword("empty") {
			p.next()
			if !p.isKeyword("greatest") && !p.isKeyword("least") {
				return nil, p.expected("greatest or least")
			}
			spec.Literal = p.curr.Literal
			p.next()
		}
		n.add(spec)
		if !p.is(opSeq) {
			break
		}
		p.next()
	}
	return n, nil
}

func (p *Parser) parseQuantified() (*Node, error) {
	p.Enter("quantified")
	defer p.Leave("quantified")

	n := createNode(KindQuantified, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	for {
		if !p.is(VarName) {
			return nil, p.expected("variable")
		}
		b := createNode(KindBinding, p.curr)
		b.Literal = p.curr.Literal
		p.next()
		if !p.isKeyword("in") {
			return nil, p.expected("in")
		}
		p.next()
		expr, err := p.parseExpr(powLowest)
		if err != nil {
			return nil, err
		}
		b.add(expr)
		n.add(b)
		if !p.is(opSeq) {
			break
		}
		p.next()
	}
	if !p.isKeyword("satisfies") {
		return nil, p.expected("satisfies")
	}
	p.next()
	test, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(test)
	return n, nil
}

func (p *Parser) parseIf() (*Node, error) {
	p.Enter("if")
	defer p.Leave("if")

	n := createNode(KindIf, p.curr)
	p.next()
	p.next()
	cdt, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if !p.is(endGrp) {
		return nil, p.expected("')'")
	}
	p.next()
	n.add(cdt)
	if !p.isKeyword("then") {
		return nil, p.expected("then")
	}
	p.next()
	csq, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(csq)
	if !p.isKeyword("else") {
		return nil, p.expected("else")
	}
	p.next()
	alt, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(alt)
	return n, nil
}

func (p *Parser) parseInsert() (*Node, error) {
	p.Enter("insert")
	defer p.Leave("insert")

	n := createNode(KindInsert, p.curr)
	p.next()
	p.next()
	source, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("as"):
		p.next()
		if !p.isKeyword("first") && !p.isKeyword("last") {
			return nil, p.expected("first or last")
		}
		n.Literal = p.curr.Literal
		p.next()
		if !p.isKeyword("into") {
			return nil, p.expected("into")
		}
	case p.isKeyword("into"), p.isKeyword("before"), p.isKeyword("after"):
		n.Literal = p.curr.Literal
	default:
		return nil, p.expected("into, before or after")
	}
	p.next()
	target, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(source)
	n.add(target)
	return n, nil
}

func (p *Parser) parseDelete() (*Node, error) {
	p.Enter("delete")
	defer p.Leave("delete")

	n := createNode(KindDelete, p.curr)
	p.next()
	n.Literal = p.curr.Literal
	p.next()
	target, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(target)
	return n, nil
}

func (p *Parser) parseReplace() (*Node, error) {
	p.Enter("replace")
	defer p.Leave("replace")

	n := createNode(KindReplace, p.curr)
	p.next()
	if p.isKeyword("value") {
		n.Label = "value"
		p.next()
		if !p.isKeyword("of") {
			return nil, p.expected("of")
		}
		p.next()
	}
	if !p.isKeyword("node") {
		return nil, p.expected("node")
	}
	p.next()
	target, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("with") {
		return nil, p.expected("with")
	}
	p.next()
	with, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(target)
	n.add(with)
	return n, nil
}

func (p *Parser) parseRename() (*Node, error) {
	p.Enter("rename")
	defer p.Leave("rename")

	n := createNode(KindRename, p.curr)
	p.next()
	p.next()
	target, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("as") {
		return nil, p.expected("as")
	}
	p.next()
	name, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(target)
	n.add(name)
	return n, nil
}

func (p *Parser) parseCopyModify() (*Node, error) {
	p.Enter("copy-modify")
	defer p.Leave("copy-modify")

	n := createNode(KindCopyModify, p.curr)
	p.next()
	for {
		if !p.is(VarName) {
			return nil, p.expected("variable")
		}
		b := createNode(KindBinding, p.curr)
		b.Literal = p.curr.Literal
		p.next()
		if !p.is(opAssign) {
			return nil, p.expected("':='")
		}
		p.next()
		expr, err := p.parseExpr(powLowest)
		if err != nil {
			return nil, err
		}
		b.add(expr)
		n.add(b)
		if !p.is(opSeq) {
			break
		}
		p.next()
	}
	if !p.isKeyword("modify") {
		return nil, p.expected("modify")
	}
	p.next()
	modify, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("return") {
		return nil, p.expected("return")
	}
	p.next()
	ret, err := p.parseExpr(powLowest)
	if err != nil {
		return nil, err
	}
	n.add(modify)
	n.add(ret)
	return n, nil
}

func (p *Parser) parseTransformWith(left *Node) (*Node, error) {
	p.Enter("transform-with")
	defer p.Leave("transform-with")

	if !p.peekKeyword("with") {
		return nil, p.expected("transform with")
	}
	n := createNode(KindTransformWith, p.curr)
	n.Start = left.Start
	p.next()
	p.next()
	body, err := p.parseEnclosed()
	if err != nil {
		return nil, err
	}
	n.add(left)
	n.add(body)
	return n, nil
}

func (p *Parser) parseInvoke() (*Node, error) {
	p.Enter("invoke")
	defer p.Leave("invoke")

	n := createNode(KindDynamicCall, p.curr)
	n.Label = "updating"
	p.next()
	p.next()
	fn, err := p.parseExpr(powPostfix)
	if err != nil {
		return nil, err
	}
	if !p.is(begGrp) {
		return nil, p.expected("argument list")
	}
	n.add(fn)
	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	for _, a := range args {
		n.add(a)
	}
	return n, nil
}

func (p *Parser) parseDynamicCall(left *Node) (*Node, error) {
	p.Enter("dynamic-call")
	defer p.Leave("dynamic-call")

	n := createNode(KindDynamicCall, p.curr)
	n.Start = left.Start
	n.add(left)
	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	for _, a := range args {
		n.add(a)
	}
	return n, nil
}

func (p *Parser) parseCall() (*Node, error) {
	p.Enter("call")
	defer p.Leave("call")

	n := createNode(KindCall, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	for _, a := range args {
		n.add(a)
	}
	return n, nil
}

func (p *Parser) parseArgs() ([]*Node, error) {
	if !p.is(begGrp) {
		return nil, p.expected("'('")
	}
	p.next()
	var args []*Node
	for !p.done() && !p.is(endGrp) {
		if p.is(opQuestion) && (p.peek.Type == opSeq || p.peek.Type == endGrp) {
			args = append(args, createNode(KindPlaceholder, p.curr))
			p.next()
		} else {
			arg, err := p.parseExpr(powLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		switch {
		case p.is(opSeq):
			p.next()
			if p.is(endGrp) {
				return nil, p.expected("argument")
			}
		case p.is(endGrp):
		default:
			return nil, p.expected("',' or ')'")
		}
	}
	if !p.is(endGrp) {
		return nil, p.expected("')'")
	}
	p.next()
	return args, nil
}

func (p *Parser) parseFuncRef() (*Node, error) {
	n := createNode(KindFuncRef, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	p.next()
	if !p.is(Digit) {
		return nil, p.expected("function arity")
	}
	n.Label = p.curr.Literal
	p.next()
	return n, nil
}

func (p *Parser) parseAnnotatedFunction() (*Node, error) {
	annots, err := p.parseAnnotations()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("function") {
		return nil, p.expected("function")
	}
	return p.parseInlineFunction(annots)
}

func (p *Parser) parseInlineFunction(annots []*Node) (*Node, error) {
	p.Enter("inline-function")
	defer p.Leave("inline-function")

	n := createNode(KindInlineFunc, p.curr)
	if len(annots) > 0 {
		n.Start = annots[0].Start
	}
	for _, a := range annots {
		n.add(a)
	}
	p.next()
	if err := p.parseSignature(n); err != nil {
		return nil, err
	}
	body, err := p.parseEnclosed()
	if err != nil {
		return nil, err
	}
	n.add(body)
	return n, nil
}

func (p *Parser) parseComputed() (*Node, error) {
	p.Enter("computed-constructor")
	defer p.Leave("computed-constructor")

	var kind Kind
	switch p.curr.Literal {
	case "element":
		kind = KindCompElement
	case "attribute":
		kind = KindCompAttribute
	case "text":
		kind = KindCompText
	case "comment":
		kind = KindCompComment
	default:
		kind = KindCompDocument
	}
	n := createNode(kind, p.curr)
	p.next()
	if kind == KindCompElement || kind == KindCompAttribute {
		if p.is(Name) {
			n.Literal = p.curr.Literal
			p.next()
		} else {
			name, err := p.parseEnclosed()
			if err != nil {
				return nil, err
			}
			n.add(name)
		}
	}
	body, err := p.parseEnclosed()
	if err != nil {
		return nil, err
	}
	n.add(body)
	return n, nil
}

func (p *Parser) parseAxisStep() (*Node, error) {
	p.Enter("step")
	defer p.Leave("step")

	n := createNode(KindStep, p.curr)
	n.Literal = p.curr.Literal
	if !slices.Contains(axisNames, n.Literal) {
		return nil, p.errorf("%s: unknown axis", n.Literal)
	}
	p.next()
	p.next()
	test, err := p.parseNodeTest()
	if err != nil {
		return nil, err
	}
	n.add(test)
	return n, nil
}

func (p *Parser) parseAbbrevStep() (*Node, error) {
	p.Enter("step")
	defer p.Leave("step")

	n := createNode(KindStep, p.curr)
	n.Literal = "child"
	if p.isKeyword("attribute") && p.peek.Type == begGrp {
		n.Literal = "attribute"
	}
	test, err := p.parseNodeTest()
	if err != nil {
		return nil, err
	}
	n.add(test)
	return n, nil
}

func (p *Parser) parseNodeTest() (*Node, error) {
	switch {
	case p.is(Name) && isKindTest(p.curr.Literal) && p.peek.Type == begGrp:
		return p.parseKindTest()
	case p.is(Name):
		n := createNode(KindNameTest, p.curr)
		n.Literal = p.curr.Literal
		p.next()
		return n, nil
	case p.is(opMul):
		n := createNode(KindNameTest, p.curr)
		n.Literal = "*"
		p.next()
		return n, nil
	default:
		return nil, p.expected("node test")
	}
}

func (p *Parser) parseWildcard() (*Node, error) {
	n := createNode(KindStep, p.curr)
	n.Literal = "child"
	test, err := p.parseNodeTest()
	if err != nil {
		return nil, err
	}
	n.add(test)
	return n, nil
}

func (p *Parser) parseAttr() (*Node, error) {
	n := createNode(KindStep, p.curr)
	n.Literal = "attribute"
	p.next()
	test, err := p.parseNodeTest()
	if err != nil {
		return nil, err
	}
	n.add(test)
	return n, nil
}

func (p *Parser) parseParent() (*Node, error) {
	n := createNode(KindStep, p.curr)
	n.Literal = "parent"
	test := createNode(KindKindTest, p.curr)
	test.Literal = "node"
	n.add(test)
	p.next()
	return n, nil
}

func (p *Parser) parseContext() (*Node, error) {
	n := createNode(KindContext, p.curr)
	p.next()
	return n, nil
}

func (p *Parser) parseRoot() (*Node, error) {
	p.Enter("root")
	defer p.Leave("root")

	root := createNode(KindRoot, p.curr)
	p.next()
	if !p.startStep() {
		return root, nil
	}
	right, err := p.parseExpr(powStep)
	if err != nil {
		return nil, err
	}
	return joinPath(root, right), nil
}

func (p *Parser) parseDescendantRoot() (*Node, error) {
	p.Enter("root")
	defer p.Leave("root")

	root := createNode(KindRoot, p.curr)
	step := descendantStep(p.curr)
	p.next()
	right, err := p.parseExpr(powStep)
	if err != nil {
		return nil, err
	}
	return joinPath(joinPath(root, step), right), nil
}

func (p *Parser) startStep() bool {
	switch p.curr.Type {
	case Name, opMul, attrNode, currNode, parentNode, VarName, Literal, begGrp:
		return true
	default:
		return false
	}
}

func (p *Parser) parsePathStep(left *Node) (*Node, error) {
	p.Enter("path")
	defer p.Leave("path")

	p.next()
	right, err := p.parseExpr(powStep)
	if err != nil {
		return nil, err
	}
	return joinPath(left, right), nil
}

func (p *Parser) parseDescendantStep(left *Node) (*Node, error) {
	p.Enter("path")
	defer p.Leave("path")

	step := descendantStep(p.curr)
	p.next()
	right, err := p.parseExpr(powStep)
	if err != nil {
		return nil, err
	}
	return joinPath(joinPath(left, step), right), nil
}

func descendantStep(tok Token) *Node {
	step := createNode(KindStep, tok)
	step.Literal = "descendant-or-self"
	test := createNode(KindKindTest, tok)
	test.Literal = "node"
	step.add(test)
	return step
}

func joinPath(left, right *Node) *Node {
	if left.Kind != KindPath {
		path := &Node{
			Kind:  KindPath,
			Start: left.Start,
			End:   left.End,
		}
		path.add(left)
		left = path
	}
	left.add(right)
	return left
}

func (p *Parser) parseFilter(left *Node) (*Node, error) {
	p.Enter("filter")
	defer p.Leave("filter")

	tok := p.curr
	p.next()
	pred, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if !p.is(endPred) {
		return nil, p.expected("']'")
	}
	p.next()
	if left.Kind == KindStep {
		left.add(pred)
		return left, nil
	}
	n := createNode(KindFilter, tok)
	n.Start = left.Start
	n.add(left)
	n.add(pred)
	return n, nil
}

func (p *Parser) parseMap(left *Node) (*Node, error) {
	p.Enter("map")
	defer p.Leave("map")

	n := createNode(KindMap, p.curr)
	n.Start = left.Start
	p.next()
	right, err := p.parseExpr(powMap)
	if err != nil {
		return nil, err
	}
	n.add(left)
	n.add(right)
	return n, nil
}

func (p *Parser) parseBinary(left *Node) (*Node, error) {
	p.Enter("binary")
	defer p.Leave("binary")

	n := createNode(KindBinary, p.curr)
	n.Start = left.Start
	if p.is(Name) {
		n.Literal = p.curr.Literal
	} else {
		n.Literal = operators[p.curr.Type]
	}
	pow := p.power()
	p.next()
	right, err := p.parseExpr(pow)
	if err != nil {
		return nil, err
	}
	n.add(left)
	n.add(right)
	return n, nil
}

func (p *Parser) parseInstanceOf(left *Node) (*Node, error) {
	return p.parseTypeOperator(left, KindInstanceOf, "of")
}

func (p *Parser) parseTreatAs(left *Node) (*Node, error) {
	return p.parseTypeOperator(left, KindTreatAs, "as")
}

func (p *Parser) parseCastAs(left *Node) (*Node, error) {
	return p.parseTypeOperator(left, KindCastAs, "as")
}

func (p *Parser) parseCastableAs(left *Node) (*Node, error) {
	return p.parseTypeOperator(left, KindCastableAs, "as")
}

func (p *Parser) parseTypeOperator(left *Node, kind Kind, keyword string) (*Node, error) {
	p.Enter(kind.String())
	defer p.Leave(kind.String())

	n := createNode(kind, p.curr)
	n.Start = left.Start
	p.next()
	if !p.isKeyword(keyword) {
		return nil, p.expected(keyword)
	}
	p.next()
	st, err := p.parseSequenceType()
	if err != nil {
		return nil, err
	}
	n.add(left)
	n.add(st)
	return n, nil
}

func (p *Parser) parseGroup() (*Node, error) {
	tok := p.curr
	p.next()
	if p.is(endGrp) {
		p.next()
		return createNode(KindEmpty, tok), nil
	}
	expr, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	if !p.is(endGrp) {
		return nil, p.expected("')'")
	}
	p.next()
	return expr, nil
}

func (p *Parser) parseUnary() (*Node, error) {
	n := createNode(KindUnary, p.curr)
	n.Literal = operators[p.curr.Type]
	p.next()
	expr, err := p.parseExpr(powPrefix)
	if err != nil {
		return nil, err
	}
	n.add(expr)
	return n, nil
}

func (p *Parser) parseVariable() (*Node, error) {
	n := createNode(KindVarRef, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	return n, nil
}

func (p *Parser) parseLiteral() (*Node, error) {
	return p.literalNode(), nil
}

func (p *Parser) literalNode() *Node {
	n := createNode(KindString, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	return n
}

func (p *Parser) parseNumber() (*Node, error) {
	n := createNode(KindNumber, p.curr)
	n.Literal = p.curr.Literal
	p.next()
	return n, nil
}

// parseDirConstructor reads a direct constructor from the raw query text.
// Enclosed expressions are parsed by moving the scanner inside the
// constructor and back.
func (p *Parser) parseDirConstructor() (*Node, error) {
	p.Enter("direct-constructor")
	defer p.Leave("direct-constructor")

	rs := rawReader{
		input: p.scan.Input(),
		pos:   p.curr.Offset,
	}
	var (
		n   *Node
		err error
	)
	switch {
	case rs.has("<!--"):
		n, err = p.parseDirComment(&rs)
	case isNameStart(rs.at(1)):
		n, err = p.parseDirElement(&rs)
	default:
		return nil, p.unexpected()
	}
	if err != nil {
		return nil, err
	}
	p.scan.Reset(rs.pos)
	p.next()
	p.next()
	return n, nil
}

func (p *Parser) parseDirComment(rs *rawReader) (*Node, error) {
	n := &Node{
		Kind:  KindDirComment,
		Start: p.positionAt(rs.pos),
	}
	rs.pos += len("<!--")
	ix := strings.Index(rs.input[rs.pos:], "-->")
	if ix < 0 {
		return nil, p.errorAt(rs.pos, "unterminated comment")
	}
	n.Literal = rs.input[rs.pos : rs.pos+ix]
	rs.pos += ix + len("-->")
	n.End = p.positionAt(rs.pos)
	return n, nil
}

func (p *Parser) parseDirElement(rs *rawReader) (*Node, error) {
	p.depth++
	defer func() {
		p.depth--
	}()
	if p.depth > maxDepth {
		return nil, p.errorAt(rs.pos, "constructor nested too deeply")
	}
	elem := &Node{
		Kind:  KindDirElement,
		Start: p.positionAt(rs.pos),
	}
	rs.pos++
	elem.Literal = rs.name()
	if elem.Literal == "" {
		return nil, p.errorAt(rs.pos, "element name expected")
	}
	for {
		rs.skipBlank()
		switch {
		case rs.done():
			return nil, p.errorAt(rs.pos, "unterminated start tag")
		case rs.accept("/>"):
			elem.End = p.positionAt(rs.pos)
			return elem, nil
		case rs.accept(">"):
			if err := p.parseDirContent(rs, elem); err != nil {
				return nil, err
			}
			elem.End = p.positionAt(rs.pos)
			return elem, nil
		default:
			attr, err := p.parseDirAttribute(rs)
			if err != nil {
				return nil, err
			}
			elem.add(attr)
		}
	}
}

func (p *Parser) parseDirAttribute(rs *rawReader) (*Node, error) {
	attr := &Node{
		Kind:  KindDirAttribute,
		Start: p.positionAt(rs.pos),
	}
	attr.Literal = rs.name()
	if attr.Literal == "" {
		return nil, p.errorAt(rs.pos, "attribute name expected")
	}
	rs.skipBlank()
	if !rs.accept("=") {
		return nil, p.errorAt(rs.pos, "'=' expected after attribute name")
	}
	rs.skipBlank()
	delim := rs.at(0)
	if delim != quote && delim != apos {
		return nil, p.errorAt(rs.pos, "quoted attribute value expected")
	}
	rs.pos++

	var str strings.Builder
	flush := func() {
		if str.Len() == 0 {
			return
		}
		attr.add(&Node{
			Kind:    KindString,
			Literal: html.UnescapeString(str.String()),
			Start:   attr.Start,
		})
		str.Reset()
	}
	for {
		switch c := rs.at(0); {
		case rs.done():
			return nil, p.errorAt(rs.pos, "unterminated attribute value")
		case c == delim && rs.at(1) == delim:
			str.WriteRune(c)
			rs.pos += 2
		case c == delim:
			rs.pos++
			flush()
			if len(attr.Children) == 0 {
				attr.add(&Node{
					Kind:  KindString,
					Start: attr.Start,
				})
			}
			return attr, nil
		case rs.accept("{{"):
			str.WriteRune(lcurly)
		case rs.accept("}}"):
			str.WriteRune(rcurly)
		case c == lcurly:
			flush()
			n, err := p.parseEnclosedAt(rs)
			if err != nil {
				return nil, err
			}
			attr.add(n)
		case c == rcurly:
			return nil, p.errorAt(rs.pos, "unescaped '}' in attribute value")
		default:
			str.WriteRune(c)
			rs.pos += utf8.RuneLen(c)
		}
	}
}

func (p *Parser) parseDirContent(rs *rawReader, elem *Node) error {
	var str strings.Builder
	flush := func() {
		text := str.String()
		str.Reset()
		if strings.TrimSpace(text) == "" {
			return
		}
		elem.add(&Node{
			Kind:    KindText,
			Literal: html.UnescapeString(text),
			Start:   elem.Start,
		})
	}
	for {
		switch c := rs.at(0); {
		case rs.done():
			return p.errorAt(rs.pos, "%s: missing end tag", elem.Literal)
		case rs.accept("</"):
			flush()
			name := rs.name()
			if name != elem.Literal {
				return p.errorAt(rs.pos, "end tag %s does not match %s", name, elem.Literal)
			}
			rs.skipBlank()
			if !rs.accept(">") {
				return p.errorAt(rs.pos, "'>' expected")
			}
			return nil
		case rs.has("<!--"):
			flush()
			n, err := p.parseDirComment(rs)
			if err != nil {
				return err
			}
			elem.add(n)
		case rs.accept("<![CDATA["):
			flush()
			ix := strings.Index(rs.input[rs.pos:], "]]>")
			if ix < 0 {
				return p.errorAt(rs.pos, "unterminated cdata section")
			}
			elem.add(&Node{
				Kind:    KindText,
				Literal: rs.input[rs.pos : rs.pos+ix],
				Start:   p.positionAt(rs.pos),
			})
			rs.pos += ix + len("]]>")
		case c == langle:
			flush()
			n, err := p.parseDirElement(rs)
			if err != nil {
				return err
			}
			elem.add(n)
		case rs.accept("{{"):
			str.WriteRune(lcurly)
		case rs.accept("}}"):
			str.WriteRune(rcurly)
		case c == lcurly:
			flush()
			n, err := p.parseEnclosedAt(rs)
			if err != nil {
				return err
			}
			elem.add(n)
		case c == rcurly:
			return p.errorAt(rs.pos, "unescaped '}' in element content")
		default:
			str.WriteRune(c)
			rs.pos += utf8.RuneLen(c)
		}
	}
}

func (p *Parser) parseEnclosedAt(rs *rawReader) (*Node, error) {
	p.scan.Reset(rs.pos)
	p.next()
	p.next()
	n, err := p.parseEnclosed()
	if err != nil {
		return nil, err
	}
	rs.pos = n.End.Offset + 1
	return n, nil
}

type rawReader struct {
	input string
	pos   int
}

func (r *rawReader) done() bool {
	return r.pos >= len(r.input)
}

func (r *rawReader) at(n int) rune {
	offset := r.pos
	for ; n > 0 && offset < len(r.input); n-- {
		_, z := utf8.DecodeRuneInString(r.input[offset:])
		offset += z
	}
	if offset >= len(r.input) {
		return utf8.RuneError
	}
	c, _ := utf8.DecodeRuneInString(r.input[offset:])
	return c
}

func (r *rawReader) has(str string) bool {
	return strings.HasPrefix(r.input[r.pos:], str)
}

func (r *rawReader) accept(str string) bool {
	if !r.has(str) {
		return false
	}
	r.pos += len(str)
	return true
}

func (r *rawReader) skipBlank() {
	for !r.done() {
		c := r.at(0)
		if !unicode.IsSpace(c) {
			break
		}
		r.pos += utf8.RuneLen(c)
	}
}

func (r *rawReader) name() string {
	start := r.pos
	for !r.done() {
		c := r.at(0)
		if !isNameChar(c) && c != colon {
			break
		}
		r.pos += utf8.RuneLen(c)
	}
	return r.input[start:r.pos]
}

func (p *Parser) positionAt(offset int) Position {
	pos := Position{
		Line:   1,
		Offset: offset,
	}
	for _, c := range p.scan.Input()[:min(offset, len(p.scan.Input()))] {
		if c == '\n' {
			pos.Line++
			pos.Column = 0
		} else {
			pos.Column++
		}
	}
	pos.Column++
	return pos
}

func (p *Parser) report(err error) {
	if err == nil || len(p.errors) >= maxErrors {
		return
	}
	var se SyntaxError
	if !errors.As(err, &se) {
		se = SyntaxError{
			Code:     CodeSyntax,
			Message:  err.Error(),
			Position: p.curr.Position,
		}
	}
	p.Error("parse", se)
	p.errors = append(p.errors, se)
}

// skipDecl moves the parser after the next ';' so that parsing can continue
// with the following declaration.
func (p *Parser) skipDecl() {
	for !p.done() && !p.is(opSemi) {
		p.next()
	}
	if p.is(opSemi) {
		p.next()
	}
}

func (p *Parser) errorf(msg string, args ...any) error {
	return SyntaxError{
		Code:     CodeSyntax,
		Message:  fmt.Sprintf(msg, args...),
		Position: p.curr.Position,
	}
}

func (p *Parser) errorAt(offset int, msg string, args ...any) error {
	return SyntaxError{
		Code:     CodeSyntax,
		Message:  fmt.Sprintf(msg, args...),
		Position: p.positionAt(offset),
	}
}

func (p *Parser) expected(what string) error {
	return p.errorf("%s expected but got %s", what, p.curr)
}

func (p *Parser) unexpected() error {
	return p.errorf("unexpected %s", p.curr)
}

func (p *Parser) power() int {
	if !p.is(Name) {
		return bindings[p.curr.Type]
	}
	switch lit := p.curr.Literal; lit {
	case "instance":
		if p.peekKeyword("of") {
			return powInstance
		}
	case "treat":
		if p.peekKeyword("as") {
			return powTreat
		}
	case "castable":
		if p.peekKeyword("as") {
			return powCastable
		}
	case "cast":
		if p.peekKeyword("as") {
			return powCast
		}
	case "transform":
		if p.peekKeyword("with") {
			return powTransform
		}
	default:
		return keywordBindings[lit]
	}
	return powLowest
}

func (p *Parser) isKeyword(kw string) bool {
	return p.is(Name) && p.curr.Literal == kw
}

func (p *Parser) peekKeyword(kws ...string) bool {
	return p.peek.Type == Name && slices.Contains(kws, p.peek.Literal)
}

func (p *Parser) is(kind rune) bool {
	return p.curr.Type == kind
}

func (p *Parser) done() bool {
	return p.is(EOF)
}

func (p *Parser) next() {
	p.curr = p.peek
	p.peek = p.scan.Scan()
}
