package value

import (
	"testing"
	"time"
)

// TestValue_AccessorsRoundTrip proves that each constructor's value
// comes back unchanged through its matching accessor.
func TestValue_AccessorsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	if v, err := Int64(42).AsInt64(); err != nil || v != 42 {
		t.Errorf("AsInt64 = (%d, %v), want (42, nil)", v, err)
	}
	if v, err := Float64(2.5).AsFloat64(); err != nil || v != 2.5 {
		t.Errorf("AsFloat64 = (%v, %v), want (2.5, nil)", v, err)
	}
	if v, err := String("hello").AsString(); err != nil || v != "hello" {
		t.Errorf("AsString = (%q, %v), want (hello, nil)", v, err)
	}
	if v, err := Bool(true).AsBool(); err != nil || !v {
		t.Errorf("AsBool = (%v, %v), want (true, nil)", v, err)
	}
	if v, err := DateTime(now).AsDateTime(); err != nil || !v.Equal(now) {
		t.Errorf("AsDateTime = (%v, %v), want (%v, nil)", v, err, now)
	}
	if v, err := Binary([]byte{1, 2}).AsBinary(); err != nil || len(v) != 2 {
		t.Errorf("AsBinary = (%v, %v), want 2 bytes", v, err)
	}
}

// TestValue_MismatchedAccessorFails proves that reading a value through
// the wrong accessor is a type conversion error, not a silent coercion.
func TestValue_MismatchedAccessorFails(t *testing.T) {
	if _, err := String("abc").AsInt64(); err == nil {
		t.Error("expected string->int64 conversion to fail")
	}
	if _, err := Bool(true).AsDateTime(); err == nil {
		t.Error("expected bool->datetime conversion to fail")
	}
	if _, err := Null().AsString(); err == nil {
		t.Error("expected null->string conversion to fail")
	}
}

// TestFromNative_DriverTypes proves that the driver-facing conversions
// map Go scan results onto the value kinds.
func TestFromNative_DriverTypes(t *testing.T) {
	cases := []struct {
		in   interface{}
		want Kind
	}{
		{nil, KindNull},
		{int64(7), KindInt64},
		{3.14, KindFloat64},
		{"s", KindString},
		{true, KindBool},
		{time.Now(), KindDateTime},
		{[]byte("raw"), KindBinary},
	}
	for _, tc := range cases {
		if got := FromNative(tc.in).Kind(); got != tc.want {
			t.Errorf("FromNative(%T).Kind() = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// TestNatives_PreservesOrder proves positional binding order survives
// the conversion to driver arguments.
func TestNatives_PreservesOrder(t *testing.T) {
	params := []Value{Int64(1), String("two"), Bool(true)}
	natives := Natives(params)

	if len(natives) != 3 {
		t.Fatalf("expected 3 natives, got %d", len(natives))
	}
	if natives[0] != int64(1) || natives[1] != "two" || natives[2] != true {
		t.Fatalf("order not preserved: %v", natives)
	}
}

// TestRow_Get proves column lookup by name.
func TestRow_Get(t *testing.T) {
	row := Row{
		Columns: []string{"id", "name"},
		Values:  []Value{Int64(1), String("ada")},
	}

	v, ok := row.Get("name")
	if !ok {
		t.Fatal("expected column name to be found")
	}
	if s, _ := v.AsString(); s != "ada" {
		t.Fatalf("expected ada, got %q", s)
	}
	if _, ok := row.Get("missing"); ok {
		t.Fatal("expected missing column lookup to fail")
	}
}
