package xpath

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

// 再帰下降によるクエリのパーサー
//
//	path    := step ('/' step)*
//	step    := name ('[' filter ']')*
//	filter  := 'text' '(' ')' '=' literal
//	         | 'contains' '(' 'text' '(' ')' ',' literal ')'
//	         | '@' name '=' literal
//	         | path
//	literal := '"' (char | '\"')* '"'
//
// リテラルの外にある空白は無視する
type parser struct {
	src string
	pos int
}

func (p *parser) parsePath() ([]*Step, error) {
	steps := make([]*Step, 0, 4)

	for {
		step, err := p.parseStep()
		if err != nil {
			return nil, err
		}

		steps = append(steps, step)

		p.skipSpace()
		if !p.consume('/') {
			return steps, nil
		}
	}
}

func (p *parser) parseStep() (*Step, error) {
	p.skipSpace()

	name, err := p.parseNodeName()
	if err != nil {
		return nil, err
	}

	step := &Step{Name: name}

	for {
		p.skipSpace()
		if !p.consume('[') {
			return step, nil
		}

		filter, err := p.parseFilter()
		if err != nil {
			return nil, err
		}

		p.skipSpace()
		if !p.consume(']') {
			return nil, p.errorf("missing ']'")
		}

		step.Filters = append(step.Filters, filter)
	}
}

func (p *parser) parseFilter() (Filter, error) {
	p.skipSpace()

	switch {
	case p.consume('@'):
		p.skipSpace()
		name := p.scanName()
		if len(name) == 0 {
			return nil, p.errorf("missing attribute name")
		}

		value, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		return &AttrEquals{Name: name, Value: value}, nil

	case p.lookaheadCall("text"):
		if err := p.parseTextCall(); err != nil {
			return nil, err
		}

		value, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		return &TextEquals{Value: value}, nil

	case p.lookaheadCall("contains"):
		p.scanName()
		p.skipSpace()
		p.consume('(')

		if err := p.parseTextCall(); err != nil {
			return nil, err
		}

		if err := p.expect(','); err != nil {
			return nil, err
		}

		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}

		if err := p.expect(')'); err != nil {
			return nil, err
		}

		return &TextContains{Value: value}, nil

	default:
		steps, err := p.parsePath()
		if err != nil {
			return nil, err
		}

		return &Nested{Steps: steps}, nil
	}
}

// text()
func (p *parser) parseTextCall() error {
	p.skipSpace()
	if p.scanName() != "text" {
		return p.errorf("text() expected")
	}

	if err := p.expect('('); err != nil {
		return err
	}

	return p.expect(')')
}

// = "literal"
func (p *parser) parseComparison() (string, error) {
	if err := p.expect('='); err != nil {
		return "", err
	}

	return p.parseLiteral()
}

func (p *parser) parseLiteral() (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}

	var b strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		p.pos++

		switch {
		case c == '\\' && p.peek() == '"':
			b.WriteByte('"')
			p.pos++
		case c == '"':
			return b.String(), nil
		default:
			b.WriteByte(c)
		}
	}

	return "", p.errorf("unterminated literal")
}

func (p *parser) parseNodeName() (string, error) {
	name := p.scanName()
	if len(name) == 0 {
		if p.eof() {
			return "", p.errorf("missing node name")
		}
		return "", p.errorf("unexpected '%c'", p.peek())
	}

	// "xml"から始まる名前は予約されている
	if strings.HasPrefix(strings.ToLower(name), "xml") {
		return "", p.errorf("reserved node name '%s'", name)
	}

	return name, nil
}

func (p *parser) scanName() string {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if !isNameStartChar(c) && (p.pos == start || !isNameChar(c)) {
			break
		}
		p.pos++
	}

	return p.src[start:p.pos]
}

// 次のトークンが"word("であるかどうかを、位置を進めずに判定する
func (p *parser) lookaheadCall(word string) bool {
	saved := p.pos
	defer func() { p.pos = saved }()

	if p.scanName() != word {
		return false
	}

	p.skipSpace()
	return p.peek() == '('
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if !p.consume(c) {
		if p.eof() {
			return p.errorf("'%c' expected but reached end", c)
		}
		return p.errorf("'%c' expected but got '%c'", c, p.peek())
	}

	return nil
}

func (p *parser) consume(c byte) bool {
	if p.peek() != c {
		return false
	}

	p.pos++
	return true
}

func (p *parser) skipSpace() {
	for !p.eof() && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}

	return p.src[p.pos]
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return xerrors.Errorf("%w: %s at %d", ErrInvalidQuery, fmt.Sprintf(format, args...), p.pos)
}

func isNameStartChar(c byte) bool {
	return c == '_' || c == ':' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStartChar(c) || c == '-' || c == '.' || ('0' <= c && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
