package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Value is a sealed interface over the field types an entity may carry.
// Only Null, String, Int, Float, Bool, Date, Array and Object implement it.
type Value interface {
	isValue()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) isValue() {}

func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

type String string

func (String) isValue() {}

type Int int64

func (Int) isValue() {}

type Float float64

func (Float) isValue() {}

// MarshalJSON keeps integral floats distinguishable from Int on decode.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("unsupported float value %v", v)
	}
	b := strconv.AppendFloat(nil, v, 'g', -1, 64)
	if v == math.Trunc(v) && !bytes.ContainsAny(b, ".e") {
		b = append(b, '.', '0')
	}
	return b, nil
}

type Bool bool

func (Bool) isValue() {}

// Date is an instant with millisecond precision. On the wire it is written as
// the string "\/Date(<epoch-ms>)\/".
type Date struct {
	time.Time
}

func (Date) isValue() {}

// NewDate truncates t to milliseconds and normalizes it to UTC.
func NewDate(t time.Time) Date {
	return Date{Time: t.UTC().Truncate(time.Millisecond)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + FormatDate(d.Time, true) + `"`), nil
}

// Array is an ordered list of values.
type Array []Value

func (Array) isValue() {}

// Object is a nested map of values.
type Object map[string]Value

func (Object) isValue() {}

func (a *Array) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	arr, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected array, got %T", v)
	}
	*a = arr
	return nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected object, got %T", v)
	}
	*o = obj
	return nil
}

// DecodeValue parses one JSON value. Integral numbers become Int, other
// numbers Float. Strings in the date wire form become Date.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return RecreateDates(FromAny(raw)), nil
}

// FromAny converts the output of encoding/json (with UseNumber), yaml.v3 or
// plain Go literals into a Value. Unsupported types become their fmt string.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null{}
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Int(x)
	case int32:
		return Int(x)
	case int64:
		return Int(x)
	case uint64:
		if x > math.MaxInt64 {
			return Float(x)
		}
		return Int(x)
	case float32:
		return Float(x)
	case float64:
		return Float(x)
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return Int(i)
		}
		f, _ := x.Float64()
		return Float(f)
	case time.Time:
		return NewDate(x)
	case []any:
		arr := make(Array, len(x))
		for i, e := range x {
			arr[i] = FromAny(e)
		}
		return arr
	case map[string]any:
		obj := make(Object, len(x))
		for k, e := range x {
			obj[k] = FromAny(e)
		}
		return obj
	default:
		return String(fmt.Sprint(x))
	}
}

// ToAny is the inverse of FromAny. Dates become time.Time.
func ToAny(v Value) any {
	switch x := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case Bool:
		return bool(x)
	case Date:
		return x.Time
	case Array:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// CloneValue returns a deep copy of v.
func CloneValue(v Value) Value {
	switch x := v.(type) {
	case Array:
		out := make(Array, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case Object:
		out := make(Object, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Equal reports deep equality. Dates compare by instant.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Date:
		y, ok := b.(Date)
		return ok && x.Equal(y.Time)
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return a == b
	}
}
