package document

import (
	"fmt"
	"sort"
	"strings"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/schema"
)

// UnknownFieldPolicy decides what happens to payload keys the Form does not
// declare.
type UnknownFieldPolicy string

const (
	// RejectUnknown reports each unknown key as an UnknownField error.
	RejectUnknown UnknownFieldPolicy = "reject"
	// IgnoreUnknown drops unknown keys silently.
	IgnoreUnknown UnknownFieldPolicy = "ignore"
)

// ParseUnknownFieldPolicy reads a configured policy name.
func ParseUnknownFieldPolicy(s string) (UnknownFieldPolicy, error) {
	switch UnknownFieldPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RejectUnknown, "strict":
		return RejectUnknown, nil
	case IgnoreUnknown:
		return IgnoreUnknown, nil
	}
	return "", fmt.Errorf("unknown field policy %q (want reject or ignore)", s)
}

// Validator checks payloads against a Form. It has no state besides its
// policy and is safe for concurrent use.
type Validator struct {
	Unknown UnknownFieldPolicy
}

// NewValidator builds a validator with the given unknown-field policy.
func NewValidator(policy UnknownFieldPolicy) Validator {
	if policy == "" {
		policy = RejectUnknown
	}
	return Validator{Unknown: policy}
}

// Validate checks every field of form against payload and returns the typed
// values, or an ErrValidationFailed error whose source is the complete
// field.FieldErrors list. A nil payload entry counts as absent.
func (v Validator) Validate(form *schema.Form, payload map[string]any) (field.ValueMap, error) {
	values := make(field.ValueMap, len(form.Fields))
	var errs field.FieldErrors

	for _, fd := range form.Fields {
		raw, present := payload[fd.Name]
		if !present || raw == nil {
			if fd.Required {
				errs = append(errs, *field.MissingRequired(fd.Name))
			}
			continue
		}
		val, err := fd.Validate(raw)
		if err != nil {
			errs = append(errs, field.Attribute(fd.Name, err))
			continue
		}
		values[fd.Name] = val
	}

	if v.Unknown != IgnoreUnknown {
		var unknown []string
		for key := range payload {
			if _, ok := form.Field(key); !ok {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			errs = append(errs, *field.UnknownField(key))
		}
	}

	if len(errs) > 0 {
		return nil, formflow.CloneError(formflow.ErrValidationFailed,
			fmt.Sprintf("%s: %d field error(s)", form.Ref(), len(errs)), errs,
			map[string]any{
				"form_id":      form.ID,
				"form_version": form.Version,
				"fields":       errs.Fields(),
			})
	}
	return values, nil
}

// Merge overlays delta on the current values. A nil entry in delta clears
// the field. Current values are carried as field.Value so they are
// revalidated against their own kind.
func Merge(current field.ValueMap, delta map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(delta))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// WithDefaults returns payload with the declared default of every absent
// field filled in.
func WithDefaults(form *schema.Form, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+len(form.Fields))
	for k, v := range payload {
		out[k] = v
	}
	for _, fd := range form.Fields {
		if raw, ok := out[fd.Name]; ok && raw != nil {
			continue
		}
		if def, ok := fd.DefaultValue(); ok {
			out[fd.Name] = def
		}
	}
	return out
}
