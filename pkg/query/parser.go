package query

import (
	"strconv"
)

// Parse turns RPQ text into a Path.
//
// Grammar (whitespace between tokens is ignored):
//
//	Path        := Alternative ('|' Alternative)*
//	Alternative := Element (('/' Element) | ('^' ElementNoInverse))*
//	Element     := ('^' ElementNoInverse) | ElementNoInverse
//	ElementNoInverse := Primary Modifier?
//	Primary     := '(' Path ')' | Predicate
//	Predicate   := ':'? [A-Za-z0-9]*
//	Modifier    := '*' | '?' | '+' | '{' Integer? (',' Integer?)? '}'
//
// Inversion is pushed down to the predicates, so the returned tree only
// carries Inverse on Predicate nodes.
func Parse(text string) (Path, error) {
	p := &parser{src: text}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		if p.peek() == ')' {
			return nil, p.errorf("unbalanced ')'")
		}
		return nil, p.errorf("unexpected token")
	}
	return simplify(path), nil
}

// MustParse is like Parse but panics on error. Intended for static templates.
func MustParse(text string) Path {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) errorf(msg string) *SyntaxError {
	tok := ""
	if !p.eof() {
		tok = p.src[p.pos : p.pos+1]
	}
	return &SyntaxError{Pos: p.pos, Token: tok, Msg: msg}
}

func isModifier(c byte) bool {
	return c == '*' || c == '?' || c == '+' || c == '{'
}

func isLabelChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *parser) parsePath() (Path, error) {
	first, err := p.parseAlternative()
	if err != nil {
		return nil, err
	}
	alts := []Path{first}
	for {
		p.skipSpace()
		if p.peek() != '|' {
			break
		}
		p.pos++
		next, err := p.parseAlternative()
		if err != nil {
			return nil, err
		}
		alts = append(alts, next)
	}
	if len(alts) == 1 {
		return first, nil
	}
	return Alternation{Children: alts}, nil
}

func (p *parser) parseAlternative() (Path, error) {
	first, err := p.parseElement()
	if err != nil {
		return nil, err
	}
	seq := []Path{first}
	for {
		p.skipSpace()
		switch p.peek() {
		case '/':
			p.pos++
			next, err := p.parseElement()
			if err != nil {
				return nil, err
			}
			seq = append(seq, next)
		case '^':
			next, err := p.parseInverse()
			if err != nil {
				return nil, err
			}
			seq = append(seq, next)
		default:
			if len(seq) == 1 {
				return first, nil
			}
			return Sequence{Children: seq}, nil
		}
	}
}

func (p *parser) parseElement() (Path, error) {
	p.skipSpace()
	if p.peek() == '^' {
		return p.parseInverse()
	}
	return p.parseElementNoInverse()
}

// parseInverse consumes '^' and the element it applies to.
func (p *parser) parseInverse() (Path, error) {
	p.pos++
	p.skipSpace()
	if c := p.peek(); isModifier(c) {
		return nil, p.errorf("modifier applied to '^'")
	} else if c == '^' {
		return nil, p.errorf("'^' cannot be applied twice")
	}
	el, err := p.parseElementNoInverse()
	if err != nil {
		return nil, err
	}
	return Invert(el), nil
}

func (p *parser) parseElementNoInverse() (Path, error) {
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.eof() || !isModifier(p.peek()) {
		return primary, nil
	}
	min, max, err := p.parseModifier()
	if err != nil {
		return nil, err
	}
	return Repeat{Child: primary, Min: min, Max: max}, nil
}

func (p *parser) parsePrimary() (Path, error) {
	p.skipSpace()
	if p.peek() == '(' {
		open := p.pos
		p.pos++
		inner, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			if p.eof() {
				return nil, &SyntaxError{Pos: open, Token: "(", Msg: "unbalanced '('"}
			}
			return nil, p.errorf("expected ')'")
		}
		p.pos++
		return inner, nil
	}
	if p.peek() == ':' {
		p.pos++
	}
	start := p.pos
	for !p.eof() && isLabelChar(p.peek()) {
		p.pos++
	}
	return Predicate{Label: p.src[start:p.pos]}, nil
}

func (p *parser) parseModifier() (int, int, error) {
	c := p.peek()
	p.pos++
	switch c {
	case '*':
		return 0, Unbounded, nil
	case '+':
		return 1, Unbounded, nil
	case '?':
		return 0, 1, nil
	}

	// '{' Integer? (',' Integer?)? '}'
	open := p.pos - 1
	min, hasMin, err := p.parseInt()
	if err != nil {
		return 0, 0, err
	}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		if !hasMin {
			return 0, 0, &SyntaxError{Pos: open, Token: "{", Msg: "empty repetition bounds"}
		}
		return min, min, nil
	}
	if p.peek() != ',' {
		return 0, 0, p.errorf("expected ',' or '}' in repetition bounds")
	}
	p.pos++
	max, hasMax, err := p.parseInt()
	if err != nil {
		return 0, 0, err
	}
	p.skipSpace()
	if p.peek() != '}' {
		return 0, 0, p.errorf("expected '}' in repetition bounds")
	}
	p.pos++
	switch {
	case !hasMin && !hasMax:
		return 0, 0, &SyntaxError{Pos: open, Token: "{", Msg: "empty repetition bounds"}
	case !hasMax:
		return min, Unbounded, nil
	case !hasMin:
		return 0, max, nil
	case max < min:
		return 0, 0, &SyntaxError{Pos: open, Token: "{", Msg: "upper bound is smaller than lower bound"}
	}
	return min, max, nil
}

func (p *parser) parseInt() (int, bool, error) {
	p.skipSpace()
	start := p.pos
	for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, false, nil
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil || n > maxBound {
		return 0, false, &SyntaxError{Pos: start, Token: p.src[start:p.pos], Msg: "repetition bound out of range"}
	}
	return n, true, nil
}

// maxBound caps repetition bounds so counters stay small.
const maxBound = 1 << 16

// simplify flattens nested sequences and alternations produced by grouping.
func simplify(p Path) Path {
	switch n := p.(type) {
	case Sequence:
		var out []Path
		for _, c := range n.Children {
			c = simplify(c)
			if s, ok := c.(Sequence); ok {
				out = append(out, s.Children...)
				continue
			}
			out = append(out, c)
		}
		if len(out) == 1 {
			return out[0]
		}
		return Sequence{Children: out}
	case Alternation:
		var out []Path
		for _, c := range n.Children {
			c = simplify(c)
			if a, ok := c.(Alternation); ok {
				out = append(out, a.Children...)
				continue
			}
			out = append(out, c)
		}
		if len(out) == 1 {
			return out[0]
		}
		return Alternation{Children: out}
	case Repeat:
		return Repeat{Child: simplify(n.Child), Min: n.Min, Max: n.Max}
	}
	return p
}
