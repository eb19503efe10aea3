package document

import (
	"testing"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, fields ...schema.Field) *schema.Form {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.RegisterWorkflow(workflow.Definition{
		ID:      "flow",
		Initial: "open",
		Phases:  []workflow.Phase{{ID: "open"}, {ID: "closed", Terminal: true}},
		Transitions: []workflow.Transition{
			{ID: "close", From: "open", To: "closed"},
		},
	})
	require.NoError(t, err)
	form, err := reg.RegisterForm(schema.Form{ID: "person", WorkflowID: "flow", Fields: fields})
	require.NoError(t, err)
	return form
}

func personForm(t *testing.T) *schema.Form {
	zero := decimal.Zero
	return publish(t,
		schema.Field{Name: "name", Kind: field.KindText, Required: true},
		schema.Field{Name: "age", Kind: field.KindNumeric, Required: true, Constraints: field.Constraints{Min: &zero}},
	)
}

func TestMissingRequiredAge(t *testing.T) {
	form := personForm(t)
	_, err := NewValidator(RejectUnknown).Validate(form, map[string]any{"name": "Alice"})
	require.Error(t, err)
	assert.True(t, formflow.HasCode(err, formflow.ErrCodeValidationFailed))

	errs := field.ErrorsOf(err)
	require.Len(t, errs, 1)
	assert.Equal(t, field.FieldError{Field: "age", Code: field.CodeMissingRequired, Detail: "value is required"}, errs[0])
}

func TestValidateReportsEveryError(t *testing.T) {
	form := publish(t,
		schema.Field{Name: "name", Kind: field.KindText, Required: true},
		schema.Field{Name: "age", Kind: field.KindNumeric, Constraints: field.Constraints{Min: ptr(decimal.Zero)}},
		schema.Field{Name: "active", Kind: field.KindBoolean},
		schema.Field{Name: "level", Kind: field.KindSelect, Constraints: field.Constraints{AllowedValues: []string{"a", "b"}}},
	)
	payload := map[string]any{
		"age":    -3,
		"active": "maybe",
		"level":  "A",
		"extra":  1,
	}
	_, err := NewValidator(RejectUnknown).Validate(form, payload)
	errs := field.ErrorsOf(err)
	require.Len(t, errs, 5)
	assert.Equal(t, []string{"name", "age", "active", "level", "extra"}, errs.Fields())
	assert.Equal(t, field.CodeMissingRequired, errs[0].Code)
	assert.Equal(t, field.CodeConstraintViolation, errs[1].Code)
	assert.Equal(t, field.CodeTypeMismatch, errs[2].Code)
	assert.Equal(t, field.CodeConstraintViolation, errs[3].Code)
	assert.Equal(t, field.CodeUnknownField, errs[4].Code)

	// pure: same input, same answer
	_, again := NewValidator(RejectUnknown).Validate(form, payload)
	assert.Equal(t, errs, field.ErrorsOf(again))
}

func TestValidateIsIdempotentOnSuccess(t *testing.T) {
	form := personForm(t)
	payload := map[string]any{"name": "Alice", "age": "41"}
	first, err := NewValidator(RejectUnknown).Validate(form, payload)
	require.NoError(t, err)
	second, err := NewValidator(RejectUnknown).Validate(form, payload)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	// validated output fed back in is unchanged
	third, err := NewValidator(RejectUnknown).Validate(form, first.Raw())
	require.NoError(t, err)
	assert.True(t, first.Equal(third))
}

func TestNullCountsAsAbsent(t *testing.T) {
	form := personForm(t)
	_, err := NewValidator(RejectUnknown).Validate(form, map[string]any{"name": nil, "age": 1})
	errs := field.ErrorsOf(err)
	require.Len(t, errs, 1)
	assert.Equal(t, field.CodeMissingRequired, errs[0].Code)
}

func TestIgnorePolicyDropsUnknownKeys(t *testing.T) {
	form := personForm(t)
	values, err := NewValidator(IgnoreUnknown).Validate(form, map[string]any{"name": "A", "age": 2, "junk": true})
	require.NoError(t, err)
	assert.False(t, values.Has("junk"))
	assert.Len(t, values, 2)
}

func TestMergeOverlaysAndClears(t *testing.T) {
	current := field.ValueMap{
		"name": field.TextValue("Alice"),
		"age":  field.NumberValue(decimal.NewFromInt(30)),
	}
	merged := Merge(current, map[string]any{"age": "31", "name": nil})
	_, hasName := merged["name"]
	assert.False(t, hasName)
	assert.Equal(t, "31", merged["age"])
	assert.Equal(t, field.TextValue("Alice"), current["name"])
}

func TestDefaultsFillMissingFields(t *testing.T) {
	form := publish(t,
		schema.Field{Name: "title", Kind: field.KindText, Required: true, Default: "untitled"},
		schema.Field{Name: "count", Kind: field.KindNumeric},
		schema.Field{Name: "due", Kind: field.KindDateTime},
	)
	payload := WithDefaults(form, map[string]any{})
	values, err := NewValidator(RejectUnknown).Validate(form, payload)
	require.NoError(t, err)
	assert.Equal(t, "untitled", values["title"].Text())
	assert.False(t, values.Has("count"))
	assert.False(t, values.Has("due"))
}

func TestParseUnknownFieldPolicy(t *testing.T) {
	p, err := ParseUnknownFieldPolicy("IGNORE")
	require.NoError(t, err)
	assert.Equal(t, IgnoreUnknown, p)
	p, err = ParseUnknownFieldPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RejectUnknown, p)
	_, err = ParseUnknownFieldPolicy("lenient")
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
