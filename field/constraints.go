package field

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/shopspring/decimal"
)

// Constraints narrow the values a field accepts. Only the members that make
// sense for the field's kind may be set.
type Constraints struct {
	Min           *decimal.Decimal `json:"min,omitempty"`
	Max           *decimal.Decimal `json:"max,omitempty"`
	Precision     *int32           `json:"precision,omitempty"`
	MinLength     *int             `json:"min_length,omitempty"`
	MaxLength     *int             `json:"max_length,omitempty"`
	Pattern       string           `json:"pattern,omitempty"`
	AllowedValues []string         `json:"allowed_values,omitempty"`
	AllowMultiple bool             `json:"allow_multiple,omitempty"`
	TargetForm    string           `json:"target_form,omitempty"`

	pattern *regexp.Regexp
}

// Check lists the problems that make c unusable for kind. An empty result
// means the constraints are well formed.
func (c Constraints) Check(kind Kind) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	numeric := c.Min != nil || c.Max != nil || c.Precision != nil
	textual := c.MinLength != nil || c.MaxLength != nil || c.Pattern != ""
	choice := len(c.AllowedValues) > 0 || c.AllowMultiple

	if numeric && kind != KindNumeric {
		add("min, max and precision apply only to numeric fields")
	}
	if textual && kind != KindText && kind != KindRichText {
		add("length and pattern constraints apply only to text fields")
	}
	if choice && kind != KindSelect {
		add("allowed values apply only to select fields")
	}
	if c.TargetForm != "" && kind != KindReference {
		add("target form applies only to reference fields")
	}

	if c.Min != nil && !InNumericRange(*c.Min) {
		add("min is outside the supported numeric range")
	}
	if c.Max != nil && !InNumericRange(*c.Max) {
		add("max is outside the supported numeric range")
	}
	if c.Precision != nil && *c.Precision > MaxNumericExponent {
		add("precision must not exceed %d", MaxNumericExponent)
	}
	if c.Min != nil && c.Max != nil && InNumericRange(*c.Min) && InNumericRange(*c.Max) && c.Min.GreaterThan(*c.Max) {
		add("min %s is greater than max %s", c.Min, c.Max)
	}
	if c.Precision != nil && *c.Precision < 0 {
		add("precision must not be negative")
	}
	if c.MinLength != nil && *c.MinLength < 0 {
		add("min_length must not be negative")
	}
	if c.MaxLength != nil && *c.MaxLength < 0 {
		add("max_length must not be negative")
	}
	if c.MinLength != nil && c.MaxLength != nil && *c.MinLength > *c.MaxLength {
		add("min_length %d is greater than max_length %d", *c.MinLength, *c.MaxLength)
	}
	if c.Pattern != "" {
		if _, err := compilePattern(c.Pattern); err != nil {
			add("pattern does not compile: %v", err)
		}
	}

	if kind == KindSelect {
		if len(c.AllowedValues) == 0 {
			add("select fields need at least one allowed value")
		}
		seen := make(map[string]struct{}, len(c.AllowedValues))
		for _, v := range c.AllowedValues {
			if v == "" {
				add("allowed values must not be empty")
				continue
			}
			if _, dup := seen[v]; dup {
				add("allowed value %q is listed twice", v)
			}
			seen[v] = struct{}{}
		}
	}
	return problems
}

// Clone returns a copy that shares no pointers or slices with c.
func (c Constraints) Clone() Constraints {
	out := c
	out.Min = clonePtr(c.Min)
	out.Max = clonePtr(c.Max)
	out.Precision = clonePtr(c.Precision)
	out.MinLength = clonePtr(c.MinLength)
	out.MaxLength = clonePtr(c.MaxLength)
	out.AllowedValues = slices.Clone(c.AllowedValues)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Compile prepares c for validation. It fails when the pattern is invalid.
func (c Constraints) Compile() (Constraints, error) {
	out := c.Clone()
	out.pattern = nil
	if c.Pattern == "" {
		return out, nil
	}
	re, err := compilePattern(c.Pattern)
	if err != nil {
		return c, fmt.Errorf("compile pattern %q: %w", c.Pattern, err)
	}
	out.pattern = re
	return out, nil
}

// Allows reports whether option is one of the allowed values.
func (c Constraints) Allows(option string) bool {
	return slices.Contains(c.AllowedValues, option)
}

func (c Constraints) matcher() *regexp.Regexp {
	if c.pattern != nil || c.Pattern == "" {
		return c.pattern
	}
	re, err := compilePattern(c.Pattern)
	if err != nil {
		return nil
	}
	return re
}

// Patterns must match the whole value.
func compilePattern(p string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + p + `)$`)
}
