package entity

import (
	"regexp"
	"strconv"
	"time"
)

// datePattern matches "/Date(1700000000000)/" with an optional timezone
// offset suffix, which is ignored.
var datePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:[+-]\d{4})?\)/$`)

// FormatDate renders t in the date wire form. With escaped set the slashes
// are written as "\/", which is how the form appears inside JSON text.
func FormatDate(t time.Time, escaped bool) string {
	ms := strconv.FormatInt(t.UnixMilli(), 10)
	if escaped {
		return `\/Date(` + ms + `)\/`
	}
	return "/Date(" + ms + ")/"
}

// ParseDate recognizes the decoded date wire form.
func ParseDate(s string) (time.Time, bool) {
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// MarshalDates replaces every Date inside v with its String wire form,
// descending into arrays and nested objects. Used by backends that persist
// values as plain strings.
func MarshalDates(v Value) Value {
	switch x := v.(type) {
	case Date:
		return String(FormatDate(x.Time, false))
	case Array:
		out := make(Array, len(x))
		for i, e := range x {
			out[i] = MarshalDates(e)
		}
		return out
	case Object:
		out := make(Object, len(x))
		for k, e := range x {
			out[k] = MarshalDates(e)
		}
		return out
	default:
		return v
	}
}

// RecreateDates is the inverse of MarshalDates: any String matching the
// date wire form becomes a Date.
func RecreateDates(v Value) Value {
	switch x := v.(type) {
	case String:
		if t, ok := ParseDate(string(x)); ok {
			return Date{Time: t}
		}
		return x
	case Array:
		out := make(Array, len(x))
		for i, e := range x {
			out[i] = RecreateDates(e)
		}
		return out
	case Object:
		out := make(Object, len(x))
		for k, e := range x {
			out[k] = RecreateDates(e)
		}
		return out
	default:
		return v
	}
}
