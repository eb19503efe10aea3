package field

import (
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	formflow "github.com/goliatone/go-formflow"
	"github.com/shopspring/decimal"
)

// Type is implemented by each supported kind. The set is closed: callers
// obtain implementations through TypeFor.
type Type interface {
	Kind() Kind
	// Coerce reads raw as this kind without applying constraints.
	Coerce(raw any) (Value, error)
	// Validate coerces raw and then checks it against c. Errors are *FieldError.
	Validate(raw any, c Constraints) (Value, error)
	// Default is the value a blank document starts with, if the kind has one.
	Default() (Value, bool)

	sealed()
}

var types = map[Kind]Type{
	KindText:      textType{kind: KindText},
	KindRichText:  textType{kind: KindRichText},
	KindNumeric:   numericType{},
	KindBoolean:   booleanType{},
	KindDateTime:  dateTimeType{},
	KindSelect:    selectType{},
	KindReference: referenceType{},
}

// TypeFor returns the implementation of kind.
func TypeFor(kind Kind) (Type, bool) {
	t, ok := types[kind]
	return t, ok
}

// Validate is shorthand for TypeFor(kind).Validate.
func Validate(kind Kind, raw any, c Constraints) (Value, error) {
	t, ok := TypeFor(kind)
	if !ok {
		return Value{}, &FieldError{Code: CodeTypeMismatch, Detail: "unknown field kind " + string(kind)}
	}
	return t.Validate(raw, c)
}

type textType struct{ kind Kind }

func (t textType) Kind() Kind { return t.kind }
func (textType) sealed()      {}

func (t textType) Coerce(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return Value{kind: t.kind, text: v}, nil
	case Value:
		if v.kind == t.kind {
			return v, nil
		}
	}
	return Value{}, TypeMismatch("string", raw)
}

func (t textType) Validate(raw any, c Constraints) (Value, error) {
	v, err := t.Coerce(raw)
	if err != nil {
		return Value{}, err
	}
	n := utf8.RuneCountInString(v.text)
	if c.MinLength != nil && n < *c.MinLength {
		return Value{}, ConstraintViolation("length %d is below min_length %d", n, *c.MinLength)
	}
	if c.MaxLength != nil && n > *c.MaxLength {
		return Value{}, ConstraintViolation("length %d exceeds max_length %d", n, *c.MaxLength)
	}
	if re := c.matcher(); re != nil && !re.MatchString(v.text) {
		return Value{}, ConstraintViolation("value does not match pattern %q", c.Pattern)
	}
	return v, nil
}

func (t textType) Default() (Value, bool) { return Value{kind: t.kind}, true }

type numericType struct{}

func (numericType) Kind() Kind { return KindNumeric }
func (numericType) sealed()    {}

func (numericType) Coerce(raw any) (Value, error) {
	d, ok := toDecimal(raw)
	if !ok {
		return Value{}, TypeMismatch("number", raw)
	}
	if !InNumericRange(d) {
		return Value{}, ConstraintViolation("number exceeds %d digits or an exponent of %d", MaxNumericDigits, MaxNumericExponent)
	}
	return NumberValue(d), nil
}

func (n numericType) Validate(raw any, c Constraints) (Value, error) {
	v, err := n.Coerce(raw)
	if err != nil {
		return Value{}, err
	}
	d := v.number
	if c.Min != nil && d.LessThan(*c.Min) {
		return Value{}, ConstraintViolation("%s is below min %s", d, c.Min)
	}
	if c.Max != nil && d.GreaterThan(*c.Max) {
		return Value{}, ConstraintViolation("%s exceeds max %s", d, c.Max)
	}
	if c.Precision != nil && !d.Equal(d.Truncate(*c.Precision)) {
		return Value{}, ConstraintViolation("%s has more than %d decimal place(s)", d, *c.Precision)
	}
	return v, nil
}

func (numericType) Default() (Value, bool) { return NumberValue(decimal.Zero), true }

// Numeric values are limited so comparisons and rounding stay cheap: the
// decimal library rescales to 10^|exponent| when comparing.
const (
	MaxNumericDigits   = 256
	MaxNumericExponent = 512
)

// InNumericRange reports whether d fits the numeric limits.
func InNumericRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > MaxNumericExponent || exp < -MaxNumericExponent {
		return false
	}
	return d.NumDigits() <= MaxNumericDigits
}

// ToDecimal reads the numeric forms accepted by numeric fields. Values
// outside the numeric limits are refused.
func ToDecimal(raw any) (decimal.Decimal, bool) {
	d, ok := toDecimal(raw)
	return d, ok && InNumericRange(d)
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	// sign, point and exponent on top of the digits
	if s == "" || len(s) > MaxNumericDigits+16 {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case Value:
		if v.kind == KindNumeric {
			return v.number, true
		}
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v != nil {
			return *v, true
		}
	case json.Number:
		return parseDecimal(v.String())
	case string:
		return parseDecimal(v)
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int8:
		return decimal.NewFromInt(int64(v)), true
	case int16:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromUint64(uint64(v)), true
	case uint8:
		return decimal.NewFromUint64(uint64(v)), true
	case uint16:
		return decimal.NewFromUint64(uint64(v)), true
	case uint32:
		return decimal.NewFromUint64(uint64(v)), true
	case uint64:
		return decimal.NewFromUint64(v), true
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	}
	return decimal.Decimal{}, false
}

func fromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}

type booleanType struct{}

func (booleanType) Kind() Kind { return KindBoolean }
func (booleanType) sealed()    {}

func (booleanType) Coerce(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return BoolValue(v), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return BoolValue(true), nil
		case "false":
			return BoolValue(false), nil
		}
	case Value:
		if v.kind == KindBoolean {
			return v, nil
		}
	}
	return Value{}, TypeMismatch("boolean", raw)
}

func (b booleanType) Validate(raw any, _ Constraints) (Value, error) { return b.Coerce(raw) }

func (booleanType) Default() (Value, bool) { return BoolValue(false), true }

type dateTimeType struct{}

func (dateTimeType) Kind() Kind { return KindDateTime }
func (dateTimeType) sealed()    {}

// Coerce accepts time.Time and RFC 3339 timestamps with an explicit offset.
// Dates without a time or timestamps without a zone are rejected.
func (dateTimeType) Coerce(raw any) (Value, error) {
	switch v := raw.(type) {
	case time.Time:
		return TimeValue(v), nil
	case *time.Time:
		if v != nil {
			return TimeValue(*v), nil
		}
	case string:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v))
		if err == nil {
			return TimeValue(t), nil
		}
		return Value{}, TypeMismatch("RFC 3339 timestamp", raw)
	case Value:
		if v.kind == KindDateTime {
			return v, nil
		}
	}
	return Value{}, TypeMismatch("RFC 3339 timestamp", raw)
}

func (d dateTimeType) Validate(raw any, _ Constraints) (Value, error) { return d.Coerce(raw) }

func (dateTimeType) Default() (Value, bool) { return Value{}, false }

type selectType struct{}

func (selectType) Kind() Kind { return KindSelect }
func (selectType) sealed()    {}

func (selectType) Coerce(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return SelectValue(v), nil
	case []string:
		return MultiSelectValue(v), nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return Value{}, TypeMismatch("list of strings", raw)
			}
			items = append(items, s)
		}
		return MultiSelectValue(items), nil
	case Value:
		if v.kind == KindSelect {
			return v, nil
		}
	}
	return Value{}, TypeMismatch("option string", raw)
}

func (s selectType) Validate(raw any, c Constraints) (Value, error) {
	v, err := s.Coerce(raw)
	if err != nil {
		return Value{}, err
	}
	if !c.AllowMultiple {
		if v.multi {
			return Value{}, TypeMismatch("single option string", raw)
		}
		if !c.Allows(v.text) {
			return Value{}, ConstraintViolation("%q is not one of the allowed values", v.text)
		}
		return v, nil
	}
	if !v.multi {
		return Value{}, TypeMismatch("list of options", raw)
	}
	seen := make(map[string]struct{}, len(v.items))
	for _, item := range v.items {
		if !c.Allows(item) {
			return Value{}, ConstraintViolation("%q is not one of the allowed values", item)
		}
		if _, dup := seen[item]; dup {
			return Value{}, ConstraintViolation("%q is selected more than once", item)
		}
		seen[item] = struct{}{}
	}
	return v, nil
}

func (selectType) Default() (Value, bool) { return Value{}, false }

type referenceType struct{}

func (referenceType) Kind() Kind { return KindReference }
func (referenceType) sealed()    {}

func (referenceType) Coerce(raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		id := strings.TrimSpace(v)
		if formflow.ValidIdentifier(id) {
			return ReferenceValue(id), nil
		}
	case Value:
		if v.kind == KindReference {
			return v, nil
		}
	}
	return Value{}, TypeMismatch("document identifier", raw)
}

// Validate only checks the identifier shape. Whether the referenced
// document exists is left to the caller.
func (r referenceType) Validate(raw any, _ Constraints) (Value, error) { return r.Coerce(raw) }

func (referenceType) Default() (Value, bool) { return Value{}, false }
