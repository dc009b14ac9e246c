// Package rule compiles the weighted boolean expressions used by the
// rule-based fraud score. Expressions compare numeric features:
//
//	amount > 20000
//	velocity_1h > 5 AND NOT (hour_of_day >= 9 AND hour_of_day < 18)
package rule

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST
// -----------------------------------------------------------------------

// Expr is a compiled boolean expression.
type Expr interface {
	eval(vars Vars) bool
}

// Vars resolves feature names to values.
type Vars map[string]float64

type binaryExpr struct {
	op          string // "AND" | "OR"
	left, right Expr
}

func (e *binaryExpr) eval(v Vars) bool {
	if e.op == "AND" {
		return e.left.eval(v) && e.right.eval(v)
	}
	return e.left.eval(v) || e.right.eval(v)
}

type notExpr struct{ inner Expr }

func (e *notExpr) eval(v Vars) bool { return !e.inner.eval(v) }

type comparison struct {
	left  operand
	op    string
	right operand
}

func (c *comparison) eval(v Vars) bool {
	l, r := c.left.value(v), c.right.value(v)
	switch c.op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "<":
		return l < r
	case "<=":
		return l <= r
	}
	return false
}

// operand is a literal when name is empty, otherwise a feature lookup.
// Features missing from Vars read as 0.
type operand struct {
	name    string
	literal float64
}

func (o operand) value(v Vars) float64 {
	if o.name == "" {
		return o.literal
	}
	return v[o.name]
}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord tokenKind = iota
	tokOp
	tokNumber
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		ch := src[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			tokens = append(tokens, token{tokOp, string(ch), i})
			i++
		case unicode.IsDigit(rune(ch)) || ch == '.' || (ch == '-' && i+1 < len(src) && (unicode.IsDigit(rune(src[i+1])) || src[i+1] == '.')):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, src[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
	known  map[string]bool
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

// Compile parses src into an Expr. Identifiers must be in known; a nil known
// set accepts any identifier.
func Compile(src string, known []string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if known != nil {
		p.known = make(map[string]bool, len(known))
		for _, k := range known {
			p.known[k] = true
		}
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", t.val, t.pos)
	}
	return e, nil
}

// or := and ("OR" and)*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "OR", left: left, right: right}
	}
	return left, nil
}

// and := not ("AND" not)*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "AND", left: left, right: right}
	}
	return left, nil
}

// not := "NOT" not | "(" or ")" | comparison
func (p *parser) parseNot() (Expr, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d, got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.parseComparison()
}

// comparison := operand op operand
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != tokOp {
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &comparison{left: left, op: t.val, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return operand{}, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return operand{literal: f}, nil
	case tokWord:
		switch strings.ToUpper(t.val) {
		case "AND", "OR", "NOT":
			return operand{}, fmt.Errorf("unexpected keyword %q at position %d", t.val, t.pos)
		}
		if p.known != nil && !p.known[t.val] {
			return operand{}, fmt.Errorf("unknown feature %q at position %d", t.val, t.pos)
		}
		return operand{name: t.val}, nil
	default:
		return operand{}, fmt.Errorf("expected feature or number at position %d, got %q", t.pos, t.val)
	}
}
