package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dmitrijs2005/gophsync/internal/entity"
)

var ErrSyntax = errors.New("query syntax error")

// ParseWhere parses expressions such as
//
//	name like 'ann%' and age >= 18 and tags in ('a', 'b') and born < date('2000-01-01')
//
// Supported operators are = != < <= > >= like ~ and in. Clauses are joined
// with "and"; several clauses on one field must all hold. An empty
// expression matches everything.
//
// As in FromValues, the wildcard values '', '0' and 0 match any field when
// compared with = or listed in an in list.
func ParseWhere(expr string) (Filter, error) {
	p := &parser{}
	if err := p.lex(expr); err != nil {
		return nil, err
	}
	f := Filter{}
	if len(p.toks) == 0 {
		return f, nil
	}
	for {
		field, c, err := p.clause()
		if err != nil {
			return nil, err
		}
		if prev, ok := f[field]; ok {
			if all, ok := prev.(AllOf); ok {
				f[field] = append(all, c)
			} else {
				f[field] = AllOf{prev, c}
			}
		} else {
			f[field] = c
		}
		if p.done() {
			return f, nil
		}
		if t := p.next(); !t.is(tokWord, "and") {
			return nil, p.errorf(t, "expected 'and'")
		}
	}
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokNumber
	tokOp
	tokPunct
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) is(kind tokKind, text string) bool {
	return t.kind == kind && strings.EqualFold(t.text, text)
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("%w at %d: %s", ErrSyntax, t.pos, fmt.Sprintf(format, args...))
}

func (p *parser) done() bool { return p.i >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokPunct, text: "<end>", pos: -1}
	}
	return p.toks[p.i]
}

func (p *parser) next() token {
	t := p.peek()
	p.i++
	return t
}

func (p *parser) lex(s string) error {
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'' || r == '"':
			var b strings.Builder
			j := i + 1
			for ; j < len(rs); j++ {
				if rs[j] == r {
					// doubled quote is an escaped quote
					if j+1 < len(rs) && rs[j+1] == r {
						b.WriteRune(r)
						j++
						continue
					}
					break
				}
				b.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return fmt.Errorf("%w at %d: unterminated string", ErrSyntax, i)
			}
			p.toks = append(p.toks, token{kind: tokString, text: b.String(), pos: i})
			i = j + 1
		case r == '-' || r == '.' || unicode.IsDigit(r):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E') {
				j++
			}
			p.toks = append(p.toks, token{kind: tokNumber, text: string(rs[i:j]), pos: i})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(rs) && (rs[j] == '_' || rs[j] == '.' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			p.toks = append(p.toks, token{kind: tokWord, text: string(rs[i:j]), pos: i})
			i = j
		case strings.ContainsRune("=!<>~", r):
			j := i + 1
			if j < len(rs) && rs[j] == '=' {
				j++
			}
			op := string(rs[i:j])
			if op == "!" {
				return fmt.Errorf("%w at %d: unexpected '!'", ErrSyntax, i)
			}
			p.toks = append(p.toks, token{kind: tokOp, text: op, pos: i})
			i = j
		case r == '(' || r == ')' || r == ',':
			p.toks = append(p.toks, token{kind: tokPunct, text: string(r), pos: i})
			i++
		default:
			return fmt.Errorf("%w at %d: unexpected %q", ErrSyntax, i, r)
		}
	}
	return nil
}

func (p *parser) clause() (string, Condition, error) {
	ft := p.next()
	if ft.kind != tokWord {
		return "", nil, p.errorf(ft, "expected field name")
	}
	field := ft.text
	op := p.next()
	switch {
	case op.is(tokWord, "in"):
		vals, err := p.list()
		if err != nil {
			return "", nil, err
		}
		conds := make(AnyOf, 0, len(vals))
		for _, v := range vals {
			if isWildcard(v) {
				return field, Any{}, nil
			}
			conds = append(conds, Eq{Value: v})
		}
		return field, conds, nil
	case op.is(tokWord, "like"):
		t := p.next()
		if t.kind != tokString {
			return "", nil, p.errorf(t, "like needs a string")
		}
		return field, Like(t.text), nil
	case op.kind == tokOp:
		v, err := p.literal()
		if err != nil {
			return "", nil, err
		}
		switch op.text {
		case "=", "==":
			if isWildcard(v) {
				return field, Any{}, nil
			}
			return field, Eq{Value: v}, nil
		case "!=":
			return field, Not{Cond: Eq{Value: v}}, nil
		case "<":
			return field, Range{Max: v, OpenMax: true}, nil
		case "<=":
			return field, Range{Max: v}, nil
		case ">":
			return field, Range{Min: v, OpenMin: true}, nil
		case ">=":
			return field, Range{Min: v}, nil
		case "~":
			s, ok := v.(entity.String)
			if !ok {
				return "", nil, p.errorf(op, "~ needs a string")
			}
			return field, Fuzzy{Query: string(s)}, nil
		}
	}
	return "", nil, p.errorf(op, "unknown operator %q", op.text)
}

func (p *parser) list() ([]entity.Value, error) {
	if t := p.next(); !t.is(tokPunct, "(") {
		return nil, p.errorf(t, "expected '('")
	}
	var out []entity.Value
	for {
		v, err := p.literal()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		t := p.next()
		if t.is(tokPunct, ")") {
			return out, nil
		}
		if !t.is(tokPunct, ",") {
			return nil, p.errorf(t, "expected ',' or ')'")
		}
	}
}

func (p *parser) literal() (entity.Value, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		if d, ok := entity.ParseDate(t.text); ok {
			return entity.NewDate(d), nil
		}
		return entity.String(t.text), nil
	case tokNumber:
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return entity.Int(n), nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf(t, "bad number %q", t.text)
		}
		return entity.Float(f), nil
	case tokWord:
		switch strings.ToLower(t.text) {
		case "true":
			return entity.Bool(true), nil
		case "false":
			return entity.Bool(false), nil
		case "null":
			return entity.Null{}, nil
		case "date":
			return p.date()
		}
	}
	return nil, p.errorf(t, "expected a value")
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func (p *parser) date() (entity.Value, error) {
	if t := p.next(); !t.is(tokPunct, "(") {
		return nil, p.errorf(t, "expected '('")
	}
	t := p.next()
	if t.kind != tokString {
		return nil, p.errorf(t, "date needs a string")
	}
	var (
		ts  time.Time
		err error
	)
	for _, layout := range dateLayouts {
		if ts, err = time.Parse(layout, t.text); err == nil {
			break
		}
	}
	if err != nil {
		return nil, p.errorf(t, "bad date %q", t.text)
	}
	if c := p.next(); !c.is(tokPunct, ")") {
		return nil, p.errorf(c, "expected ')'")
	}
	return entity.NewDate(ts), nil
}

func isWildcard(v entity.Value) bool {
	switch x := v.(type) {
	case entity.String:
		return IsWildcard(string(x))
	case entity.Int:
		return x == 0
	}
	return false
}
