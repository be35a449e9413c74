// Package calc evaluates arithmetic expressions over a fixed set of
// operators, functions and constants. Nothing outside that namespace is
// reachable from an expression.
package calc

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrSyntax         = errors.New("invalid syntax")
)

// DomainError reports a value outside a function's domain (sqrt(-1), log(0), ...).
type DomainError struct {
	Msg string
}

func (e *DomainError) Error() string { return e.Msg }

// NameError reports an identifier that is not part of the namespace.
type NameError struct {
	Name string
}

func (e *NameError) Error() string { return fmt.Sprintf("name '%s' is not defined", e.Name) }

// Evaluate parses and evaluates expr.
func Evaluate(expr string) (float64, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	p := &parser{toks: toks}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.peek().kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q", ErrSyntax, p.peek().text)
	}
	if math.IsInf(v, 0) {
		return 0, fmt.Errorf("numerical result out of range")
	}
	if math.IsNaN(v) {
		return 0, &DomainError{Msg: "math domain error"}
	}
	return v, nil
}

// Format renders integral values without a fractional part and everything
// else with ten significant digits.
func Format(v float64) string {
	if v == 0 {
		return "0"
	}
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return fmt.Sprintf("%.10g", v)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
	num  float64
}

func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(s) && isDigit(s[i+1])):
			j := i
			for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
				j++
			}
			if j < len(s) && (s[j] == 'e' || s[j] == 'E') {
				k := j + 1
				if k < len(s) && (s[k] == '+' || s[k] == '-') {
					k++
				}
				if k < len(s) && isDigit(s[k]) {
					for k < len(s) && isDigit(s[k]) {
						k++
					}
					j = k
				}
			}
			n, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, s[i:j])
			}
			toks = append(toks, token{kind: tokNum, text: s[i:j], num: n})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && (isIdentStart(s[j]) || isDigit(s[j])) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: s[i:j]})
			i = j
		case c == '*' || c == '/':
			if i+1 < len(s) && s[i+1] == c {
				toks = append(toks, token{kind: tokOp, text: s[i : i+2]})
				i += 2
				continue
			}
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '+' || c == '-' || c == '%':
			toks = append(toks, token{kind: tokOp, text: string(c)})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ","})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, c)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// parser is a recursive-descent evaluator with the usual precedence:
// additive < multiplicative < unary < power. Power is right-associative and
// binds tighter than a unary minus on its left, so -2**2 is -4.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.next().text
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		case "//":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left = math.Floor(left / right)
		case "%":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left = floorMod(left, right)
		}
	}
	return left, nil
}

func (p *parser) unary() (float64, error) {
	if p.isOp("+", "-") {
		op := p.next().text
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.power()
}

func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if !p.isOp("**") {
		return base, nil
	}
	p.next()
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return pow(base, exp)
}

func (p *parser) primary() (float64, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return t.num, nil
	case tokLParen:
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.next().kind != tokRParen {
			return 0, fmt.Errorf("%w: missing ')'", ErrSyntax)
		}
		return v, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			p.next()
			args, err := p.args()
			if err != nil {
				return 0, err
			}
			return call(t.text, args)
		}
		v, ok := constants[t.text]
		if !ok {
			return 0, &NameError{Name: t.text}
		}
		return v, nil
	case tokEOF:
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	default:
		return 0, fmt.Errorf("%w: unexpected %q", ErrSyntax, t.text)
	}
}

func (p *parser) args() ([]float64, error) {
	var args []float64
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		v, err := p.expr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		switch p.next().kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, fmt.Errorf("%w: expected ',' or ')'", ErrSyntax)
		}
	}
}

func floorMod(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func pow(base, exp float64) (float64, error) {
	if base == 0 && exp < 0 {
		return 0, fmt.Errorf("%w: 0.0 cannot be raised to a negative power", ErrDivisionByZero)
	}
	v := math.Pow(base, exp)
	if math.IsNaN(v) {
		return 0, &DomainError{Msg: "math domain error"}
	}
	return v, nil
}
