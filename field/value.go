package field

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Value is a coerced field value tagged with its kind.
// The zero Value is unset and is never stored in a document.
type Value struct {
	kind   Kind
	text   string
	number decimal.Decimal
	flag   bool
	at     time.Time
	items  []string
	multi  bool
}

func TextValue(s string) Value     { return Value{kind: KindText, text: s} }
func RichTextValue(s string) Value { return Value{kind: KindRichText, text: s} }
func BoolValue(b bool) Value       { return Value{kind: KindBoolean, flag: b} }
func SelectValue(s string) Value   { return Value{kind: KindSelect, text: s} }
func ReferenceValue(id string) Value {
	return Value{kind: KindReference, text: id}
}

// NumberValue wraps an exact decimal.
func NumberValue(d decimal.Decimal) Value { return Value{kind: KindNumeric, number: d} }

// TimeValue stores t normalized to UTC.
func TimeValue(t time.Time) Value { return Value{kind: KindDateTime, at: t.UTC()} }

// MultiSelectValue holds the chosen options of a multi-select field.
func MultiSelectValue(items []string) Value {
	return Value{kind: KindSelect, items: slices.Clone(items), multi: true}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsZero() bool { return v.kind == "" }

// Text returns the string content of text, rich text, single select and reference values.
func (v Value) Text() string { return v.text }

func (v Value) Number() decimal.Decimal { return v.number }
func (v Value) Bool() bool              { return v.flag }
func (v Value) Time() time.Time         { return v.at }

// Multi reports whether v is a multi-select value.
func (v Value) Multi() bool { return v.multi }

// Items returns a copy of the selected options of a multi-select value.
func (v Value) Items() []string { return slices.Clone(v.items) }

// Raw renders v as a plain JSON-compatible value. Numbers come back as
// json.Number so no precision is lost.
func (v Value) Raw() any {
	switch v.kind {
	case KindText, KindRichText, KindReference:
		return v.text
	case KindNumeric:
		return json.Number(v.number.String())
	case KindBoolean:
		return v.flag
	case KindDateTime:
		return v.at.Format(time.RFC3339Nano)
	case KindSelect:
		if v.multi {
			return slices.Clone(v.items)
		}
		return v.text
	default:
		return nil
	}
}

// Equal compares kind and content. Numbers compare by value, so 1.0 equals 1.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumeric:
		return v.number.Equal(o.number)
	case KindBoolean:
		return v.flag == o.flag
	case KindDateTime:
		return v.at.Equal(o.at)
	case KindSelect:
		if v.multi != o.multi {
			return false
		}
		if v.multi {
			return slices.Equal(v.items, o.items)
		}
		return v.text == o.text
	default:
		return v.text == o.text
	}
}

func (v Value) String() string {
	if v.IsZero() {
		return "<unset>"
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Raw())
}

type wireValue struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes v as {"kind": ..., "value": ...}. Numbers are encoded
// as strings to keep their exact decimal form.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte("null"), nil
	}
	var payload any
	switch v.kind {
	case KindNumeric:
		payload = v.number.String()
	default:
		payload = v.Raw()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}
	var wire wireValue
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Kind {
	case KindText, KindRichText, KindReference:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("decode %s value: %w", wire.Kind, err)
		}
		*v = Value{kind: wire.Kind, text: s}
	case KindNumeric:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("decode numeric value: %w", err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("decode numeric value: %w", err)
		}
		*v = NumberValue(d)
	case KindBoolean:
		var b bool
		if err := json.Unmarshal(wire.Value, &b); err != nil {
			return fmt.Errorf("decode boolean value: %w", err)
		}
		*v = BoolValue(b)
	case KindDateTime:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("decode date_time value: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("decode date_time value: %w", err)
		}
		*v = TimeValue(t)
	case KindSelect:
		var items []string
		if err := json.Unmarshal(wire.Value, &items); err == nil {
			*v = MultiSelectValue(items)
			return nil
		}
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("decode select value: %w", err)
		}
		*v = SelectValue(s)
	default:
		return fmt.Errorf("decode value: unknown kind %q", wire.Kind)
	}
	return nil
}

// ValueMap is the set of coerced values of a document, keyed by field name.
type ValueMap map[string]Value

// Has reports whether name holds a set value.
func (m ValueMap) Has(name string) bool {
	v, ok := m[name]
	return ok && !v.IsZero()
}

// Clone returns an independent copy of m.
func (m ValueMap) Clone() ValueMap {
	if m == nil {
		return nil
	}
	out := make(ValueMap, len(m))
	for k, v := range m {
		if v.multi {
			v.items = slices.Clone(v.items)
		}
		out[k] = v
	}
	return out
}

// Raw renders every value with Value.Raw.
func (m ValueMap) Raw() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Raw()
	}
	return out
}

// Equal compares two maps value by value.
func (m ValueMap) Equal(o ValueMap) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
