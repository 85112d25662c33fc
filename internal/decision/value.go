package decision

import (
	"fmt"
	"strconv"
)

// ValueKind tags the type of a context attribute.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindNumber
	KindString
	KindBool
	KindList
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the types a transaction attribute can hold.
// Absent is a first-class member: looking up a missing attribute yields
// Absent, and every comparison against Absent is false. Rules referencing
// optional fields degrade to "not triggered" instead of failing.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
	List []Value
}

// Absent is the value of any attribute not present in the context.
var Absent = Value{Kind: KindAbsent}

// Number wraps a float64.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String wraps a string.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// List wraps a list of values.
func List(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// IsAbsent reports whether the value is the absent marker.
func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }

// AsNumber attempts numeric coercion. Strings holding a parseable number
// coerce; everything else does not.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Equal reports exact equality with no cross-type coercion. Used by IN
// membership and by == on non-numeric operands.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	default:
		return false
	}
}

// GoString renders the value for diagnostic traces.
func (v Value) GoString() string {
	switch v.Kind {
	case KindAbsent:
		return "<absent>"
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindList:
		return fmt.Sprintf("%v", v.List)
	default:
		return "<unknown>"
	}
}

// FromAny converts a decoded JSON value into a Value. Unsupported types
// map to Absent.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Absent
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case []interface{}:
		list := make([]Value, 0, len(t))
		for _, e := range t {
			list = append(list, FromAny(e))
		}
		return Value{Kind: KindList, List: list}
	default:
		return Absent
	}
}
