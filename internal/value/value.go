// Package value provides the common typed data representation shared by
// every engine adapter. Native column and field types map onto exactly one
// Value variant; Null, Bool, Int64, Float64, String, and Binary round-trip
// losslessly through every engine.
package value

import (
	"fmt"
	"time"

	"github.com/switchboard-data/switchboard/internal/errors"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindDateTime
	KindBinary
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindDateTime:
		return "datetime"
	case KindBinary:
		return "binary"
	}
	return "unknown"
}

// Value is the tagged union every adapter produces and consumes.
// The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	raw  []byte
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a bool.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int64 wraps an int64.
func Int64(v int64) Value { return Value{kind: KindInt64, i: v} }

// Float64 wraps a float64.
func Float64(v float64) Value { return Value{kind: KindFloat64, f: v} }

// String wraps a string.
func String(v string) Value { return Value{kind: KindString, s: v} }

// DateTime wraps a timestamp.
func DateTime(v time.Time) Value { return Value{kind: KindDateTime, t: v} }

// Binary wraps a byte slice. The slice is not copied.
func Binary(v []byte) Value { return Value{kind: KindBinary, raw: v} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool variant.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, errors.NewTypeConversionFailed(v.GoString(), "bool")
	}
	return v.b, nil
}

// AsInt64 returns the int64 variant.
func (v Value) AsInt64() (int64, error) {
	if v.kind != KindInt64 {
		return 0, errors.NewTypeConversionFailed(v.GoString(), "int64")
	}
	return v.i, nil
}

// AsFloat64 returns the float64 variant. Int64 widens losslessly.
func (v Value) AsFloat64() (float64, error) {
	switch v.kind {
	case KindFloat64:
		return v.f, nil
	case KindInt64:
		return float64(v.i), nil
	}
	return 0, errors.NewTypeConversionFailed(v.GoString(), "float64")
}

// AsString returns the string variant.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", errors.NewTypeConversionFailed(v.GoString(), "string")
	}
	return v.s, nil
}

// AsDateTime returns the datetime variant.
func (v Value) AsDateTime() (time.Time, error) {
	if v.kind != KindDateTime {
		return time.Time{}, errors.NewTypeConversionFailed(v.GoString(), "datetime")
	}
	return v.t, nil
}

// AsBinary returns the binary variant.
func (v Value) AsBinary() ([]byte, error) {
	if v.kind != KindBinary {
		return nil, errors.NewTypeConversionFailed(v.GoString(), "binary")
	}
	return v.raw, nil
}

// GoString renders the value for diagnostics. Binary renders as a length
// to keep payload bytes out of logs.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt64:
		return fmt.Sprintf("%d", v.i)
	case KindFloat64:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.raw))
	}
	return "unknown"
}

// Native returns the value as a driver-bindable Go type. This is the only
// path from a Value into a driver's parameter-binding API.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt64:
		return v.i
	case KindFloat64:
		return v.f
	case KindString:
		return v.s
	case KindDateTime:
		return v.t
	case KindBinary:
		return v.raw
	}
	return nil
}

// FromNative normalizes a driver-scanned Go value into a Value.
// Unrecognized types fall back to their string rendering so adapters never
// leak driver-specific types to callers.
func FromNative(v interface{}) Value {
	switch n := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(n)
	case int:
		return Int64(int64(n))
	case int32:
		return Int64(int64(n))
	case int64:
		return Int64(n)
	case uint64:
		return Int64(int64(n))
	case float32:
		return Float64(float64(n))
	case float64:
		return Float64(n)
	case string:
		return String(n)
	case time.Time:
		return DateTime(n)
	case []byte:
		return Binary(n)
	default:
		return String(fmt.Sprintf("%v", n))
	}
}

// Natives converts a parameter list into driver-bindable arguments.
func Natives(params []Value) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p.Native()
	}
	return args
}
