package xquery

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

const (
	EOF rune = -(1 + iota)
	Name
	VarName
	Literal
	Digit
	Invalid
)

const (
	currNode = -(iota + 1000)
	parentNode
	attrNode
	currLevel
	anyLevel
	begPred
	endPred
	begGrp
	endGrp
	begCurl
	endCurl
	opSeq
	opSemi
	opAssign
	opAxis
	opHash
	opPercent
	opQuestion
	opConcat
	opBang
	opBefore
	opAfter
	opAdd
	opSub
	opMul
	opEq
	opNe
	opGt
	opGe
	opLt
	opLe
	opUnion
)

type Token struct {
	Literal string
	Type    rune
	Position
}

func (t Token) String() string {
	switch t.Type {
	case EOF:
		return "<eof>"
	case Name:
		return fmt.Sprintf("name(%s)", t.Literal)
	case VarName:
		return fmt.Sprintf("variable(%s)", t.Literal)
	case Literal:
		return fmt.Sprintf("literal(%s)", t.Literal)
	case Digit:
		return fmt.Sprintf("number(%s)", t.Literal)
	case Invalid:
		return fmt.Sprintf("<invalid(%s)>", t.Literal)
	case currNode:
		return "<current-node>"
	case parentNode:
		return "<parent-node>"
	case attrNode:
		return "<attribute>"
	case currLevel:
		return "<current-level>"
	case anyLevel:
		return "<any-level>"
	case begPred:
		return "<begin-predicate>"
	case endPred:
		return "<end-predicate>"
	case begGrp:
		return "<begin-group>"
	case endGrp:
		return "<end-group>"
	case begCurl:
		return "<begin-curly>"
	case endCurl:
		return "<end-curly>"
	case opSeq:
		return "<sequence>"
	case opSemi:
		return "<semicolon>"
	case opAssign:
		return "<assignment>"
	case opAxis:
		return "<axis>"
	case opHash:
		return "<hash>"
	case opPercent:
		return "<annotation>"
	case opQuestion:
		return "<question>"
	case opConcat:
		return "<concat>"
	case opBang:
		return "<map>"
	case opBefore:
		return "<before>"
	case opAfter:
		return "<after>"
	case opAdd:
		return "<add>"
	case opSub:
		return "<subtract>"
	case opMul:
		return "<multiply>"
	case opEq:
		return "<equal>"
	case opNe:
		return "<not-equal>"
	case opGt:
		return "<greater-than>"
	case opGe:
		return "<greater-eq>"
	case opLt:
		return "<lesser-than>"
	case opLe:
		return "<lesser-eq>"
	case opUnion:
		return "<union>"
	default:
		return "<unknown>"
	}
}

// Scanner splits a query into tokens. Words are always returned as Name:
// whether a word is a keyword, an operator or a name test is decided by the
// parser from the position it occupies in the grammar.
type Scanner struct {
	input string
	char  rune
	curr  int
	next  int

	str strings.Builder

	Position
}

func Scan(input string) *Scanner {
	s := Scanner{
		input: input,
	}
	s.Reset(0)
	return &s
}

// Reset moves the scanner to the given byte offset of its input.
func (s *Scanner) Reset(offset int) {
	offset = min(max(offset, 0), len(s.input))
	s.Position = Position{Line: 1, Column: 0}
	for _, c := range s.input[:offset] {
		if c == '\n' {
			s.Line++
			s.Column = 0
		} else {
			s.Column++
		}
	}
	s.next = offset
	s.char = 0
	s.read()
}

func (s *Scanner) Input() string {
	return s.input
}

func (s *Scanner) Scan() Token {
	s.skipBlank()

	var tok Token
	tok.Position = s.Position
	if s.done() {
		tok.Type = EOF
		return tok
	}
	s.str.Reset()
	switch {
	case s.char == dollar:
		s.scanVariable(&tok)
	case s.char == quote || s.char == apos:
		s.scanLiteral(&tok)
	case unicode.IsDigit(s.char) || (s.char == dot && unicode.IsDigit(s.peek())):
		s.scanNumber(&tok)
	case isNameStart(s.char):
		s.scanIdent(&tok)
	case isDelimiter(s.char):
		s.scanDelimiter(&tok)
	case isOperator(s.char):
		s.scanOperator(&tok)
	default:
		tok.Type = Invalid
		tok.Literal = string(s.char)
		s.read()
	}
	return tok
}

func (s *Scanner) scanOperator(tok *Token) {
	switch k := s.peek(); s.char {
	case question:
		tok.Type = opQuestion
	case plus:
		tok.Type = opAdd
	case dash:
		tok.Type = opSub
	case star:
		tok.Type = opMul
		if k == colon && isNameStart(s.peekAt(1)) {
			s.write()
			s.read()
			s.write()
			s.read()
			s.scanNCName()
			tok.Type = Name
			tok.Literal = s.str.String()
			return
		}
	case percent:
		tok.Type = opPercent
	case hash:
		tok.Type = opHash
	case equal:
		tok.Type = opEq
	case bang:
		tok.Type = opBang
		if k == equal {
			s.read()
			tok.Type = opNe
		}
	case langle:
		tok.Type = opLt
		if k == equal {
			s.read()
			tok.Type = opLe
		} else if k == langle {
			s.read()
			tok.Type = opBefore
		}
	case rangle:
		tok.Type = opGt
		if k == equal {
			s.read()
			tok.Type = opGe
		} else if k == rangle {
			s.read()
			tok.Type = opAfter
		}
	case lparen:
		tok.Type = begGrp
	case rparen:
		tok.Type = endGrp
	default:
		tok.Type = Invalid
		tok.Literal = string(s.char)
	}
	s.read()
}

func (s *Scanner) scanDelimiter(tok *Token) {
	switch k := s.peek(); s.char {
	case colon:
		tok.Type = Invalid
		tok.Literal = string(s.char)
		if k == colon {
			s.read()
			tok.Type = opAxis
		} else if k == equal {
			s.read()
			tok.Type = opAssign
		}
	case semicolon:
		tok.Type = opSemi
	case arobase:
		tok.Type = attrNode
	case dot:
		tok.Type = currNode
		if k == dot {
			s.read()
			tok.Type = parentNode
		}
	case comma:
		tok.Type = opSeq
	case pipe:
		tok.Type = opUnion
		if k == pipe {
			s.read()
			tok.Type = opConcat
		}
	case lcurly:
		tok.Type = begCurl
	case rcurly:
		tok.Type = endCurl
	case lsquare:
		tok.Type = begPred
	case rsquare:
		tok.Type = endPred
	case slash:
		tok.Type = currLevel
		if k == slash {
			s.read()
			tok.Type = anyLevel
		}
	default:
		tok.Type = Invalid
		tok.Literal = string(s.char)
	}
	s.read()
}

func (s *Scanner) scanLiteral(tok *Token) {
	delim := s.char
	s.read()
	tok.Type = Invalid
	for !s.done() {
		if s.char == delim {
			if s.peek() != delim {
				tok.Type = Literal
				break
			}
			s.read()
		}
		s.write()
		s.read()
	}
	tok.Literal = s.str.String()
	if strings.IndexByte(tok.Literal, ampersand) >= 0 {
		tok.Literal = html.UnescapeString(tok.Literal)
	}
	s.read()
}

func (s *Scanner) scanNumber(tok *Token) {
	tok.Type = Digit
	digits := func() {
		for !s.done() && unicode.IsDigit(s.char) {
			s.write()
			s.read()
		}
	}
	digits()
	if s.char == dot && s.peek() != dot {
		s.write()
		s.read()
		digits()
	}
	if s.char == 'e' || s.char == 'E' {
		s.write()
		s.read()
		if s.char == dash || s.char == plus {
			s.write()
			s.read()
		}
		digits()
	}
	tok.Literal = s.str.String()
	if isNameStart(s.char) {
		tok.Type = Invalid
	}
}

func (s *Scanner) scanVariable(tok *Token) {
	s.read()
	s.skipBlank()
	if !isNameStart(s.char) {
		tok.Type = Invalid
		tok.Literal = string(dollar)
		return
	}
	s.scanIdent(tok)
	tok.Type = VarName
}

// scanIdent reads a name which may be prefixed (prefix:local) or be a
// wildcard (prefix:*).
func (s *Scanner) scanIdent(tok *Token) {
	s.scanNCName()
	if s.char == colon {
		switch k := s.peek(); {
		case isNameStart(k):
			s.write()
			s.read()
			s.scanNCName()
		case k == star:
			s.write()
			s.read()
			s.write()
			s.read()
		default:
		}
	}
	tok.Type = Name
	tok.Literal = s.str.String()
}

func (s *Scanner) scanNCName() {
	for !s.done() && isNameChar(s.char) {
		s.write()
		s.read()
	}
}

func (s *Scanner) skipBlank() {
	for !s.done() {
		if unicode.IsSpace(s.char) {
			s.read()
			continue
		}
		if s.char == lparen && s.peek() == colon {
			s.skipComment()
			continue
		}
		break
	}
}

func (s *Scanner) skipComment() {
	s.read()
	s.read()
	for level := 1; !s.done() && level > 0; {
		switch k := s.peek(); {
		case s.char == lparen && k == colon:
			level++
			s.read()
		case s.char == colon && k == rparen:
			level--
			s.read()
		default:
		}
		s.read()
	}
}

func (s *Scanner) write() {
	s.str.WriteRune(s.char)
}

func (s *Scanner) read() {
	if s.char == '\n' {
		s.Line++
		s.Column = 0
	}
	if s.next >= len(s.input) {
		s.curr = len(s.input)
		s.char = utf8.RuneError
		s.Offset = s.curr
		s.Column++
		return
	}
	c, z := utf8.DecodeRuneInString(s.input[s.next:])
	s.curr = s.next
	s.next += z
	s.char = c
	s.Offset = s.curr
	s.Column++
}

func (s *Scanner) peek() rune {
	if s.next >= len(s.input) {
		return utf8.RuneError
	}
	c, _ := utf8.DecodeRuneInString(s.input[s.next:])
	return c
}

func (s *Scanner) peekAt(n int) rune {
	offset := s.next
	for ; n > 0 && offset < len(s.input); n-- {
		_, z := utf8.DecodeRuneInString(s.input[offset:])
		offset += z
	}
	if offset >= len(s.input) {
		return utf8.RuneError
	}
	c, _ := utf8.DecodeRuneInString(s.input[offset:])
	return c
}

func (s *Scanner) done() bool {
	return s.curr >= len(s.input) && s.char == utf8.RuneError
}

const (
	langle     = '<'
	rangle     = '>'
	lsquare    = '['
	rsquare    = ']'
	lparen     = '('
	rparen     = ')'
	lcurly     = '{'
	rcurly     = '}'
	colon      = ':'
	semicolon  = ';'
	quote      = '"'
	apos       = '\''
	slash      = '/'
	question   = '?'
	bang       = '!'
	equal      = '='
	ampersand  = '&'
	dash       = '-'
	underscore = '_'
	dot        = '.'
	arobase    = '@'
	comma      = ','
	plus       = '+'
	star       = '*'
	percent    = '%'
	pipe       = '|'
	dollar     = '$'
	hash       = '#'
)

func isNameStart(c rune) bool {
	return unicode.IsLetter(c) || c == underscore
}

func isNameChar(c rune) bool {
	return isNameStart(c) || unicode.IsDigit(c) || c == dash || c == dot
}

func isDelimiter(c rune) bool {
	return c == comma || c == dot || c == pipe || c == slash ||
		c == lsquare || c == rsquare || c == colon || c == semicolon ||
		c == lcurly || c == rcurly || c == arobase
}

func isOperator(c rune) bool {
	return c == question || c == plus || c == dash || c == star || c == percent ||
		c == equal || c == bang || c == langle || c == rangle || c == hash ||
		c == lparen || c == rparen
}
