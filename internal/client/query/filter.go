// Package query filters cached entity lists with per-field predicates.
//
// Fields combine with AND. A filter value that is an array matches when any
// of its elements matches. The wildcard values "0" and "" match everything.
package query

import (
	"math"
	"regexp"
	"strings"

	"github.com/dmitrijs2005/gophsync/internal/entity"
	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
)

// Condition decides whether one field value matches.
type Condition interface {
	Match(v entity.Value) bool
}

// Filter maps field names to conditions.
type Filter map[string]Condition

// Match reports whether e satisfies every condition.
func (f Filter) Match(e *entity.Entity) bool {
	for field, c := range f {
		if !matchValue(c, e.Get(field)) {
			return false
		}
	}
	return true
}

// matchValue lets scalar conditions match array-valued fields element-wise.
func matchValue(c Condition, v entity.Value) bool {
	switch c.(type) {
	case Not, AllOf:
		return c.Match(v)
	}
	if c.Match(v) {
		return true
	}
	arr, ok := v.(entity.Array)
	if !ok {
		return false
	}
	for _, el := range arr {
		if c.Match(el) {
			return true
		}
	}
	return false
}

// Apply returns the entities of list that match f, in order.
func Apply(list []*entity.Entity, f Filter) []*entity.Entity {
	out := make([]*entity.Entity, 0, len(list))
	for _, e := range list {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// FromValues builds a filter from raw field values the way form-bound
// callers supply them: strings match as substrings, arrays as any-of,
// wildcards as anything, everything else by equality.
func FromValues(values map[string]entity.Value) Filter {
	f := make(Filter, len(values))
	for field, v := range values {
		f[field] = ValueCondition(v)
	}
	return f
}

// ValueCondition is the condition FromValues uses for one value.
func ValueCondition(v entity.Value) Condition {
	switch x := v.(type) {
	case nil, entity.Null:
		return Any{}
	case entity.String:
		if IsWildcard(string(x)) {
			return Any{}
		}
		return Contains(string(x))
	case entity.Int:
		if x == 0 {
			return Any{}
		}
		return Eq{Value: x}
	case entity.Array:
		conds := make(AnyOf, 0, len(x))
		for _, el := range x {
			if _, wild := ValueCondition(el).(Any); wild {
				return Any{}
			}
			conds = append(conds, ValueCondition(el))
		}
		if len(conds) == 0 {
			return Any{}
		}
		return conds
	default:
		return Eq{Value: v}
	}
}

// IsWildcard reports whether s is one of the match-everything values.
func IsWildcard(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "0"
}

// Any matches everything.
type Any struct{}

func (Any) Match(entity.Value) bool { return true }

// Eq is exact equality. Numbers compare by value across Int and Float.
type Eq struct {
	Value entity.Value
}

func (c Eq) Match(v entity.Value) bool {
	if a, ok := number(c.Value); ok {
		if b, ok := number(v); ok {
			return a == b
		}
	}
	return entity.Equal(c.Value, v)
}

// Not negates a condition.
type Not struct {
	Cond Condition
}

func (c Not) Match(v entity.Value) bool { return !matchValue(c.Cond, v) }

// AnyOf matches when one of its conditions does.
type AnyOf []Condition

func (c AnyOf) Match(v entity.Value) bool {
	for _, cc := range c {
		if cc.Match(v) {
			return true
		}
	}
	return false
}

// AllOf matches when all of its conditions do.
type AllOf []Condition

func (c AllOf) Match(v entity.Value) bool {
	for _, cc := range c {
		if !matchValue(cc, v) {
			return false
		}
	}
	return true
}

// Substring is a case-insensitive substring match on string values.
type Substring struct {
	folded string
}

func Contains(s string) Substring {
	return Substring{folded: fold(s)}
}

func (c Substring) Match(v entity.Value) bool {
	s, ok := v.(entity.String)
	if !ok {
		return false
	}
	return strings.Contains(fold(string(s)), c.folded)
}

// Pattern is a SQL LIKE pattern: % is any run, _ any one character.
type Pattern struct {
	re *regexp.Regexp
}

func Like(pattern string) Condition {
	if !strings.ContainsAny(pattern, "%_") {
		return Contains(pattern)
	}
	var b strings.Builder
	b.WriteString("^")
	for _, r := range fold(pattern) {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return Pattern{re: regexp.MustCompile(b.String())}
}

func (c Pattern) Match(v entity.Value) bool {
	s, ok := v.(entity.String)
	return ok && c.re.MatchString(fold(string(s)))
}

// Range is an inclusive numeric range. Dates compare by epoch milliseconds,
// so Min and Max may be given as Date or as Int milliseconds. A nil bound is
// open.
type Range struct {
	Min, Max entity.Value
	// Exclusive bounds, for < and >.
	OpenMin, OpenMax bool
}

func (c Range) Match(v entity.Value) bool {
	x, ok := number(v)
	if !ok {
		return false
	}
	if c.Min != nil {
		lo, ok := number(c.Min)
		if !ok || x < lo || (c.OpenMin && x == lo) {
			return false
		}
	}
	if c.Max != nil {
		hi, ok := number(c.Max)
		if !ok || x > hi || (c.OpenMax && x == hi) {
			return false
		}
	}
	return true
}

// Fuzzy matches when the characters of the query appear in order in the
// value, ignoring case and diacritics.
type Fuzzy struct {
	Query string
}

func (c Fuzzy) Match(v entity.Value) bool {
	s, ok := v.(entity.String)
	return ok && lfuzzy.MatchNormalizedFold(c.Query, string(s))
}

func number(v entity.Value) (float64, bool) {
	switch x := v.(type) {
	case entity.Int:
		return float64(x), true
	case entity.Float:
		if math.IsNaN(float64(x)) {
			return 0, false
		}
		return float64(x), true
	case entity.Date:
		return float64(x.UnixMilli()), true
	default:
		return 0, false
	}
}

func fold(s string) string {
	return cases.Fold().String(s)
}
