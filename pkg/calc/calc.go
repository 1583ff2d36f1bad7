// Package calc evaluates arithmetic expressions over a fixed grammar:
// decimal numbers, + - * /, unary minus and parentheses. Nothing else.
// This is a parser, not an expression language, and there is deliberately
// no path from user text to code execution.
//
// Grammar:
//
//	expr   = term   { ("+" | "-") term }
//	term   = factor { ("*" | "/") factor }
//	factor = number | "-" factor | "(" expr ")"
package calc

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Evaluation errors.
var (
	ErrInvalidExpression = fmt.Errorf("invalid expression")
	ErrDivisionByZero    = fmt.Errorf("division by zero")
)

// Eval parses and evaluates an expression.
func Eval(input string) (float64, error) {
	p := &parser{input: input}
	p.skipSpace()
	if p.eof() {
		return 0, fmt.Errorf("%w: empty input", ErrInvalidExpression)
	}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if !p.eof() {
		return 0, fmt.Errorf("%w: unexpected %q at position %d", ErrInvalidExpression, p.input[p.pos], p.pos)
	}
	return v, nil
}

// Format renders a result the way a calculator would: integers without a
// decimal point, everything else with up to six significant decimals.
func Format(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

type parser struct {
	input string
	pos   int
}

func (p *parser) eof() bool { return p.pos >= len(p.input) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			p.pos++
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (p *parser) term() (float64, error) {
	v, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case '/':
			p.pos++
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, ErrDivisionByZero
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

func (p *parser) factor() (float64, error) {
	p.skipSpace()
	if p.eof() {
		return 0, fmt.Errorf("%w: unexpected end of input", ErrInvalidExpression)
	}

	switch c := p.peek(); {
	case c == '-':
		p.pos++
		v, err := p.factor()
		return -v, err

	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidExpression)
		}
		p.pos++
		return v, nil

	case unicode.IsDigit(rune(c)) || c == '.':
		return p.number()

	default:
		return 0, fmt.Errorf("%w: unexpected %q at position %d", ErrInvalidExpression, c, p.pos)
	}
}

func (p *parser) number() (float64, error) {
	start := p.pos
	seenDot := false
	for !p.eof() {
		c := p.input[p.pos]
		if c == '.' {
			if seenDot {
				return 0, fmt.Errorf("%w: malformed number at position %d", ErrInvalidExpression, start)
			}
			seenDot = true
			p.pos++
			continue
		}
		if !unicode.IsDigit(rune(c)) {
			break
		}
		p.pos++
	}

	tok := p.input[start:p.pos]
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed number %q", ErrInvalidExpression, tok)
	}
	return v, nil
}
