// Package expr implements the boolean expression language used by
// configuration-defined predicates: dispatcher rules and pipeline step
// conditions. Expressions reference the payload as data.* and the call
// context as ctx.*, e.g.
//
//	data.role == "admin" && ctx.region in ["eu", "us"]
//	exists(data.age) && data.age >= 18
package expr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc resolves a dotted path (data.field.sub, ctx.key) to a value.
// The second return reports whether the path exists.
type LookupFunc func(path string) (any, bool)

var (
	// ErrSyntax indicates the expression could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrTypeMismatch indicates an unsupported comparison or coercion.
	ErrTypeMismatch = errors.New("expression type mismatch")
)

// Expr is a parsed expression, reusable across evaluations and goroutines.
type Expr struct {
	source string
	root   node
}

// Compile parses the expression once. Predicates built from configuration
// compile at load time so malformed expressions fail the bundle, not the
// request.
func Compile(source string) (*Expr, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	p := &parser{lex: &lexer{input: trimmed}}
	p.advance()
	p.advance()
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("%w: trailing input %q", ErrSyntax, p.cur.text)
	}
	return &Expr{source: trimmed, root: root}, nil
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.source }

// Eval evaluates the expression. Unknown paths make comparisons false rather
// than erroring, so a rule like data.role == "admin" simply does not match a
// payload without a role.
func (e *Expr) Eval(ctx context.Context, lookup LookupFunc) (bool, error) {
	if lookup == nil {
		lookup = func(string) (any, bool) { return nil, false }
	}
	value, err := e.root.eval(ctx, lookup)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression is not boolean", ErrTypeMismatch)
	}
	return b, nil
}

// --- lexer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokBool
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokGt
	tokGte
	tokLt
	tokLte
	tokIn
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokMinus
	tokBad
)

type token struct {
	kind tokKind
	text string
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() token {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			goto scan
		}
	}
scan:
	if l.pos >= len(l.input) {
		return token{kind: tokEOF}
	}

	ch := l.input[l.pos]
	switch ch {
	case '(':
		l.pos++
		return token{kind: tokLParen, text: "("}
	case ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}
	case '[':
		l.pos++
		return token{kind: tokLBracket, text: "["}
	case ']':
		l.pos++
		return token{kind: tokRBracket, text: "]"}
	case ',':
		l.pos++
		return token{kind: tokComma, text: ","}
	case '-':
		l.pos++
		return token{kind: tokMinus, text: "-"}
	case '!':
		if l.peek() == '=' {
			l.pos += 2
			return token{kind: tokNeq, text: "!="}
		}
		l.pos++
		return token{kind: tokNot, text: "!"}
	case '=':
		if l.peek() == '=' {
			l.pos += 2
			return token{kind: tokEq, text: "=="}
		}
	case '>':
		if l.peek() == '=' {
			l.pos += 2
			return token{kind: tokGte, text: ">="}
		}
		l.pos++
		return token{kind: tokGt, text: ">"}
	case '<':
		if l.peek() == '=' {
			l.pos += 2
			return token{kind: tokLte, text: "<="}
		}
		l.pos++
		return token{kind: tokLt, text: "<"}
	case '&':
		if l.peek() == '&' {
			l.pos += 2
			return token{kind: tokAnd, text: "&&"}
		}
	case '|':
		if l.peek() == '|' {
			l.pos += 2
			return token{kind: tokOr, text: "||"}
		}
	case '\'', '"':
		return l.scanString()
	}

	if ch >= '0' && ch <= '9' {
		return l.scanNumber()
	}
	if isIdentStart(ch) {
		return l.scanIdent()
	}
	return token{kind: tokBad, text: string(ch)}
}

func (l *lexer) peek() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *lexer) scanString() token {
	quote := l.input[l.pos]
	l.pos++
	var b strings.Builder
	escaped := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		l.pos++
		if escaped {
			switch ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(ch)
			}
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return token{kind: tokString, text: b.String()}
		}
		b.WriteByte(ch)
	}
	return token{kind: tokBad, text: "unterminated string"}
}

func (l *lexer) scanNumber() token {
	start := l.pos
	dot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '.' && !dot {
			dot = true
			l.pos++
			continue
		}
		if ch < '0' || ch > '9' {
			break
		}
		l.pos++
	}
	return token{kind: tokNumber, text: l.input[start:l.pos]}
}

func (l *lexer) scanIdent() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	text := l.input[start:l.pos]
	switch text {
	case "true", "false":
		return token{kind: tokBool, text: text}
	case "in":
		return token{kind: tokIn, text: text}
	}
	return token{kind: tokIdent, text: text}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ch == '.' || ch == '-' || (ch >= '0' && ch <= '9')
}

// --- parser ---

type parser struct {
	lex  *lexer
	cur  token
	peek token
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.next()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	switch p.cur.kind {
	case tokEq, tokNeq, tokGt, tokGte, tokLt, tokLte:
		op := p.cur.kind
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	case tokIn:
		p.advance()
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &inNode{operand: left, options: list}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch p.cur.kind {
	case tokNot:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	case tokMinus:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.cur
	switch tok.kind {
	case tokIdent:
		// exists(path) is the only call form.
		if tok.text == "exists" && p.peek.kind == tokLParen {
			p.advance()
			p.advance()
			if p.cur.kind != tokIdent {
				return nil, fmt.Errorf("%w: exists() takes a path", ErrSyntax)
			}
			path := p.cur.text
			p.advance()
			if p.cur.kind != tokRParen {
				return nil, fmt.Errorf("%w: missing ) after exists", ErrSyntax)
			}
			p.advance()
			return &existsNode{path: path}, nil
		}
		p.advance()
		return &pathNode{path: tok.text}, nil
	case tokNumber:
		p.advance()
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, tok.text)
		}
		return &literalNode{value: f}, nil
	case tokString:
		p.advance()
		return &literalNode{value: tok.text}, nil
	case tokBool:
		p.advance()
		return &literalNode{value: tok.text == "true"}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing )", ErrSyntax)
		}
		p.advance()
		return inner, nil
	case tokBad:
		return nil, fmt.Errorf("%w: %s", ErrSyntax, tok.text)
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrSyntax, tok.text)
	}
}

// parseList parses a bracketed literal list, the right-hand side of in.
func (p *parser) parseList() ([]any, error) {
	if p.cur.kind != tokLBracket {
		return nil, fmt.Errorf("%w: in expects a [list]", ErrSyntax)
	}
	p.advance()

	var out []any
	for {
		switch p.cur.kind {
		case tokRBracket:
			p.advance()
			return out, nil
		case tokString:
			out = append(out, p.cur.text)
			p.advance()
		case tokNumber:
			f, err := strconv.ParseFloat(p.cur.text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, p.cur.text)
			}
			out = append(out, f)
			p.advance()
		case tokBool:
			out = append(out, p.cur.text == "true")
			p.advance()
		default:
			return nil, fmt.Errorf("%w: lists hold literals only", ErrSyntax)
		}
		if p.cur.kind == tokComma {
			p.advance()
		}
	}
}

// --- nodes ---

type node interface {
	eval(ctx context.Context, lookup LookupFunc) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(context.Context, LookupFunc) (any, error) { return n.value, nil }

// pathNode resolves to the looked-up value, or to missing (nil, reported via
// the missing sentinel) when absent.
type pathNode struct{ path string }

// missing marks an absent path so comparisons can treat it as non-matching
// instead of erroring.
type missing struct{}

func (n *pathNode) eval(_ context.Context, lookup LookupFunc) (any, error) {
	if value, ok := lookup(n.path); ok {
		return value, nil
	}
	return missing{}, nil
}

type existsNode struct{ path string }

func (n *existsNode) eval(_ context.Context, lookup LookupFunc) (any, error) {
	_, ok := lookup(n.path)
	return ok, nil
}

type notNode struct{ operand node }

func (n *notNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	value, err := n.operand.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	b, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: ! expects a boolean", ErrTypeMismatch)
	}
	return !b, nil
}

type negNode struct{ operand node }

func (n *negNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	value, err := n.operand.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	f, ok := toFloat(value)
	if !ok {
		return nil, fmt.Errorf("%w: - expects a number", ErrTypeMismatch)
	}
	return -f, nil
}

type inNode struct {
	operand node
	options []any
}

func (n *inNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	value, err := n.operand.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if _, absent := value.(missing); absent {
		return false, nil
	}
	for _, option := range n.options {
		if looseEqual(value, option) {
			return true, nil
		}
	}
	return false, nil
}

type binaryNode struct {
	op    tokKind
	left  node
	right node
}

func (n *binaryNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	left, err := n.left.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokAnd, tokOr:
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: logical operand is not boolean", ErrTypeMismatch)
		}
		// Short-circuit.
		if n.op == tokAnd && !lb {
			return false, nil
		}
		if n.op == tokOr && lb {
			return true, nil
		}
		right, err := n.right.eval(ctx, lookup)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: logical operand is not boolean", ErrTypeMismatch)
		}
		return rb, nil
	}

	right, err := n.right.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}

	// A missing path never satisfies a comparison, and != treats it as
	// trivially different.
	_, leftMissing := left.(missing)
	_, rightMissing := right.(missing)
	if leftMissing || rightMissing {
		return n.op == tokNeq, nil
	}

	switch n.op {
	case tokEq:
		return looseEqual(left, right), nil
	case tokNeq:
		return !looseEqual(left, right), nil
	case tokGt, tokGte, tokLt, tokLte:
		return order(left, right, n.op)
	default:
		return nil, fmt.Errorf("%w: unsupported operator", ErrSyntax)
	}
}

// --- coercion helpers ---

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func looseEqual(left, right any) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
		return false
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case nil:
		return right == nil
	default:
		return false
	}
}

func order(left, right any, op tokKind) (bool, error) {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			switch op {
			case tokGt:
				return lf > rf, nil
			case tokGte:
				return lf >= rf, nil
			case tokLt:
				return lf < rf, nil
			case tokLte:
				return lf <= rf, nil
			}
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case tokGt:
			return ls > rs, nil
		case tokGte:
			return ls >= rs, nil
		case tokLt:
			return ls < rs, nil
		case tokLte:
			return ls <= rs, nil
		}
	}
	return false, fmt.Errorf("%w: cannot order %T against %T", ErrTypeMismatch, left, right)
}
