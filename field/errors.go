package field

import (
	stderrors "errors"
	"fmt"
	"strings"

	formflow "github.com/goliatone/go-formflow"
)

// ErrorCode classifies a per-field validation failure.
type ErrorCode string

const (
	CodeMissingRequired     ErrorCode = "missing_required"
	CodeTypeMismatch        ErrorCode = "type_mismatch"
	CodeConstraintViolation ErrorCode = "constraint_violation"
	CodeUnknownField        ErrorCode = "unknown_field"
)

// FieldError reports one problem with one field of a payload.
type FieldError struct {
	Field  string    `json:"field"`
	Code   ErrorCode `json:"code"`
	Detail string    `json:"detail,omitempty"`
}

func (e *FieldError) Error() string {
	name := e.Field
	if name == "" {
		name = "<value>"
	}
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", name, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", name, e.Code, e.Detail)
}

// MissingRequired reports an absent or null required field.
func MissingRequired(name string) *FieldError {
	return &FieldError{Field: name, Code: CodeMissingRequired, Detail: "value is required"}
}

// UnknownField reports a payload key the Form does not declare.
func UnknownField(name string) *FieldError {
	return &FieldError{Field: name, Code: CodeUnknownField, Detail: "field is not declared by the form"}
}

// TypeMismatch reports a raw value that cannot be read as the expected kind.
func TypeMismatch(expected string, raw any) *FieldError {
	return &FieldError{
		Code:   CodeTypeMismatch,
		Detail: fmt.Sprintf("expected %s, got %s", expected, describe(raw)),
	}
}

// ConstraintViolation reports a well-typed value outside the declared constraints.
func ConstraintViolation(format string, args ...any) *FieldError {
	return &FieldError{Code: CodeConstraintViolation, Detail: fmt.Sprintf(format, args...)}
}

// FieldErrors is the complete set of problems found in one validation pass.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "no field errors"
	}
	parts := make([]string, 0, len(e))
	for i := range e {
		parts = append(parts, e[i].Error())
	}
	return strings.Join(parts, "; ")
}

// Fields lists the field names in error order, one entry per error.
func (e FieldErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, fe := range e {
		out = append(out, fe.Field)
	}
	return out
}

// ByField returns the errors reported for name.
func (e FieldErrors) ByField(name string) FieldErrors {
	var out FieldErrors
	for _, fe := range e {
		if fe.Field == name {
			out = append(out, fe)
		}
	}
	return out
}

// ErrorsOf extracts the field errors carried by a ValidationFailed error.
func ErrorsOf(err error) FieldErrors {
	if err == nil {
		return nil
	}
	var errs FieldErrors
	if stderrors.As(err, &errs) {
		return errs
	}
	if src, ok := formflow.SourceOf(err).(FieldErrors); ok {
		return src
	}
	var single *FieldError
	if stderrors.As(err, &single) {
		return FieldErrors{*single}
	}
	return nil
}

// Attribute returns err as a FieldError for the named field. Foreign errors
// become type mismatches.
func Attribute(name string, err error) FieldError {
	var fe *FieldError
	if stderrors.As(err, &fe) {
		out := *fe
		out.Field = name
		return out
	}
	return FieldError{Field: name, Code: CodeTypeMismatch, Detail: err.Error()}
}

func describe(raw any) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("string %q", truncate(v, 32))
	case bool:
		return "boolean"
	case Value:
		return "value of kind " + string(v.Kind())
	case []any, []string:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
