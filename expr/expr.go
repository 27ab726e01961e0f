/*
Package expr evaluates scoring expressions over a fixed, closed grammar.

PURPOSE:
  Tenant scoring rules carry small arithmetic expressions like

      min(200, (base + storyPoints * spMult) * issueTypeWeight)
      base + (storyPoints ?? 3) * spMult

  evaluated against a handful of named variables. Expressions come
  from tenant administrators, so the evaluator must be incapable of
  running anything outside this grammar.

GRAMMAR:
  expr     := coalesce
  coalesce := additive ( "??" additive )*
  additive := term ( ("+" | "-") term )*
  term     := unary ( ("*" | "/") unary )*
  unary    := "-" unary | primary
  primary  := NUMBER | IDENT | "(" expr ")"
            | ("min" | "max") "(" expr "," expr ")"

  IDENT is one of the caller-supplied variable names. Anything else
  (string literals, brackets, semicolons, method calls, unknown
  identifiers) fails the lexer or parser with ErrInvalidExpression.

SAFETY BOUNDARY:
  The parser IS the whitelist. There is no substitution step and no
  generic evaluation primitive; an expression either parses into this
  AST or is rejected. Division producing a non-finite value fails with
  ErrEvaluation instead of propagating Inf/NaN.

COALESCING:
  "a ?? b" yields the left operand unless it is zero. All variables
  are always bound, so zero is the only representation of "unset".

SEE ALSO:
  - scoring/: The only consumer; rules fall back to the default
    formula when their expression fails to evaluate.
*/
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidExpression is returned for anything outside the grammar.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrEvaluation is returned when a structurally valid expression
	// produces a non-finite result (division by zero).
	ErrEvaluation = errors.New("expression evaluation failed")
)

// Vars binds variable names to values. The scorer supplies
// base, spMult, storyPoints and issueTypeWeight.
type Vars map[string]float64

// =============================================================================
// PUBLIC API
// =============================================================================

// Evaluate parses and evaluates src against vars.
// Always returns a finite number or an error.
func Evaluate(src string, vars Vars) (float64, error) {
	node, err := parse(src, vars)
	if err != nil {
		return 0, err
	}
	v, err := node.eval(vars)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite result for %q", ErrEvaluation, src)
	}
	return v, nil
}

// Validate probes src through the same pipeline with representative
// dummy values, without evaluating against real state.
func Validate(src string) error {
	_, err := Evaluate(src, Vars{
		"base":            10,
		"spMult":          5,
		"storyPoints":     3,
		"issueTypeWeight": 1.0,
	})
	return err
}

// =============================================================================
// LEXER
// =============================================================================

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
	tokCoalesce
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		case c == '?':
			if i+1 < len(src) && src[i+1] == '?' {
				toks = append(toks, token{tokCoalesce, "??", i})
				i += 2
			} else {
				return nil, lexError(src, i)
			}
		case c == '+':
			toks = append(toks, token{tokPlus, "+", i})
			i++
		case c == '-':
			toks = append(toks, token{tokMinus, "-", i})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*", i})
			i++
		case c == '/':
			toks = append(toks, token{tokSlash, "/", i})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		default:
			return nil, lexError(src, i)
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func lexError(src string, pos int) error {
	return fmt.Errorf("%w: forbidden character %q at position %d in %q", ErrInvalidExpression, src[pos], pos, src)
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// =============================================================================
// AST
// =============================================================================

type node interface {
	eval(vars Vars) (float64, error)
}

type numberNode float64

func (n numberNode) eval(Vars) (float64, error) { return float64(n), nil }

type varNode string

func (n varNode) eval(vars Vars) (float64, error) { return vars[string(n)], nil }

type unaryNode struct {
	operand node
}

func (n unaryNode) eval(vars Vars) (float64, error) {
	v, err := n.operand.eval(vars)
	return -v, err
}

type binaryNode struct {
	op          byte // '+', '-', '*', '/', '?' for ??
	left, right node
}

func (n binaryNode) eval(vars Vars) (float64, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return 0, err
	}
	if n.op == '?' {
		if l != 0 {
			return l, nil
		}
		return n.right.eval(vars)
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	default:
		if r == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrEvaluation)
		}
		return l / r, nil
	}
}

type callNode struct {
	fn   string // "min" or "max"
	a, b node
}

func (n callNode) eval(vars Vars) (float64, error) {
	a, err := n.a.eval(vars)
	if err != nil {
		return 0, err
	}
	b, err := n.b.eval(vars)
	if err != nil {
		return 0, err
	}
	if n.fn == "min" {
		return math.Min(a, b), nil
	}
	return math.Max(a, b), nil
}

// =============================================================================
// PARSER - recursive descent over the grammar above
// =============================================================================

type parser struct {
	src  string
	toks []token
	pos  int
	vars Vars
}

func parse(src string, vars Vars) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, vars: vars}
	n, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorAt(p.peek(), "unexpected trailing input")
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorAt(t, "expected "+what)
	}
	return t, nil
}

func (p *parser) errorAt(t token, msg string) error {
	return fmt.Errorf("%w: %s at position %d in %q", ErrInvalidExpression, msg, t.pos, p.src)
}

func (p *parser) parseCoalesce() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokCoalesce {
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: '?', left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokPlus:
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '+', left: left, right: right}
		case tokMinus:
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '-', left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokStar:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '*', left: left, right: right}
		case tokSlash:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '/', left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokMinus {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorAt(t, "malformed number")
		}
		return numberNode(v), nil

	case tokLParen:
		inner, err := p.parseCoalesce()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		if t.text == "min" || t.text == "max" {
			return p.parseCall(t.text)
		}
		if _, ok := p.vars[t.text]; !ok {
			return nil, p.errorAt(t, fmt.Sprintf("unknown identifier %q", t.text))
		}
		return varNode(t.text), nil

	default:
		return nil, p.errorAt(t, "expected number, variable or parenthesized expression")
	}
}

func (p *parser) parseCall(fn string) (node, error) {
	if _, err := p.expect(tokLParen, `"(" after `+fn); err != nil {
		return nil, err
	}
	a, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, `","`); err != nil {
		return nil, err
	}
	b, err := p.parseCoalesce()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, `")"`); err != nil {
		return nil, err
	}
	return callNode{fn: fn, a: a, b: b}, nil
}
