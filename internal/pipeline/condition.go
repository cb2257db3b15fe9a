package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// EvalCondition evaluates a stage when-condition against the transition
// context. The language is deliberately small: identifiers resolve against
// the context map, literals are strings, numbers, and booleans, and the
// operators are ==, !=, <, <=, >, >=, and, or, not, with parentheses.
//
// A missing identifier evaluates to nil, which is falsy and compares equal
// only to nil. An empty expression is true.
func EvalCondition(expr string, tctx map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	tokens, err := lexCondition(expr)
	if err != nil {
		return false, err
	}
	p := &condParser{tokens: tokens, ctx: tctx}
	value, err := p.parseOr()
	if err != nil {
		return false, err
	}
	if !p.done() {
		return false, fmt.Errorf("condition %q: unexpected token %q", expr, p.peek().text)
	}
	return truthy(value), nil
}

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenString
	tokenNumber
	tokenOp
	tokenLParen
	tokenRParen
)

type condToken struct {
	kind tokenKind
	text string
}

func lexCondition(expr string) ([]condToken, error) {
	var tokens []condToken
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, condToken{tokenLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, condToken{tokenRParen, ")"})
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("condition: unterminated string at offset %d", i)
			}
			tokens = append(tokens, condToken{tokenString, string(runes[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(runes) && runes[j] == '=' {
				j++
			}
			op := string(runes[i:j])
			switch op {
			case "==", "!=", "<", "<=", ">", ">=":
			default:
				return nil, fmt.Errorf("condition: unknown operator %q", op)
			}
			tokens = append(tokens, condToken{tokenOp, op})
			i = j
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, condToken{tokenNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			tokens = append(tokens, condToken{tokenIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("condition: unexpected character %q", string(r))
		}
	}
	return tokens, nil
}

type condParser struct {
	tokens []condToken
	pos    int
	ctx    map[string]any
}

func (p *condParser) done() bool { return p.pos >= len(p.tokens) }

func (p *condParser) peek() condToken {
	if p.done() {
		return condToken{}
	}
	return p.tokens[p.pos]
}

func (p *condParser) nextIs(kind tokenKind, text string) bool {
	if p.done() {
		return false
	}
	t := p.tokens[p.pos]
	return t.kind == kind && t.text == text
}

func (p *condParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.nextIs(tokenIdent, "or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *condParser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.nextIs(tokenIdent, "and") {
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *condParser) parseNot() (any, error) {
	if p.nextIs(tokenIdent, "not") {
		p.pos++
		value, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(value), nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (any, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if p.done() || p.peek().kind != tokenOp {
		return left, nil
	}
	op := p.tokens[p.pos].text
	p.pos++
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return compare(op, left, right)
}

func (p *condParser) parseTerm() (any, error) {
	if p.done() {
		return nil, fmt.Errorf("condition: unexpected end of expression")
	}
	t := p.tokens[p.pos]
	switch t.kind {
	case tokenLParen:
		p.pos++
		value, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.nextIs(tokenRParen, ")") {
			return nil, fmt.Errorf("condition: missing closing parenthesis")
		}
		p.pos++
		return value, nil
	case tokenString:
		p.pos++
		return t.text, nil
	case tokenNumber:
		p.pos++
		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("condition: bad number %q", t.text)
		}
		return value, nil
	case tokenIdent:
		p.pos++
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "and", "or", "not":
			return nil, fmt.Errorf("condition: unexpected keyword %q", t.text)
		}
		return p.ctx[t.text], nil
	default:
		return nil, fmt.Errorf("condition: unexpected token %q", t.text)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}

func compare(op string, left, right any) (any, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("condition: cannot order %T against %T", left, right)
}

func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lf, ok := asNumber(left); ok {
		if rf, ok := asNumber(right); ok {
			return lf == rf
		}
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
