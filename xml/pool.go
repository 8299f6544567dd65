package xml

import (
	"io"
	"strings"
	"sync"
)

const DefaultPoolSize = 16

var DefaultPool = NewParserPool(DefaultPoolSize)

// ParserPool keeps a bounded stack of idle parsers. A parser given back to
// the pool is reset before it can be handed out again: handlers registered
// by the previous user, its namespace scopes, its options and its input are
// all dropped.
type ParserPool struct {
	mu   sync.Mutex
	idle []*Parser
	max  int

	created int
	reused  int
}

func NewParserPool(max int) *ParserPool {
	if max <= 0 {
		max = DefaultPoolSize
	}
	return &ParserPool{
		max: max,
	}
}

func (p *ParserPool) Get(r io.Reader) *Parser {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.created++
		p.mu.Unlock()
		return NewParser(r)
	}
	ps := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.reused++
	p.mu.Unlock()

	ps.Reset(r)
	return ps
}

func (p *ParserPool) Put(ps *Parser) {
	if ps == nil {
		return
	}
	ps.reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.max {
		return
	}
	p.idle = append(p.idle, ps)
}

func (p *ParserPool) Parse(r io.Reader) (*Document, error) {
	ps := p.Get(r)
	defer p.Put(ps)
	return ps.Parse()
}

func (p *ParserPool) ParseString(str string) (*Document, error) {
	return p.Parse(strings.NewReader(str))
}

type PoolStats struct {
	Idle    int
	Created int
	Reused  int
}

func (p *ParserPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Idle:    len(p.idle),
		Created: p.created,
		Reused:  p.reused,
	}
}
