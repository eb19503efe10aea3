// Package schema holds published Form and Workflow versions.
package schema

import (
	"fmt"
	"slices"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/field"
)

// MaxLabelLength bounds field labels.
const MaxLabelLength = 100

// Field is one named, typed and constrained entry of a Form.
type Field struct {
	Name        string            `json:"name"`
	Label       string            `json:"label,omitempty"`
	Description string            `json:"description,omitempty"`
	Kind        field.Kind        `json:"kind"`
	Required    bool              `json:"required"`
	Constraints field.Constraints `json:"constraints"`
	// Default is applied when the field is absent on submit. It is
	// validated like any submitted value.
	Default any `json:"default,omitempty"`

	defaultValue field.Value
}

// DefaultValue returns the validated default, if one was declared.
func (f Field) DefaultValue() (field.Value, bool) {
	return f.defaultValue, !f.defaultValue.IsZero()
}

// Validate runs the field's kind rules against raw.
func (f Field) Validate(raw any) (field.Value, error) {
	return field.Validate(f.Kind, raw, f.Constraints)
}

// Form is a versioned, ordered set of fields bound to one Workflow.
type Form struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	Version         int     `json:"version"`
	Application     string  `json:"application,omitempty"`
	Fields          []Field `json:"fields"`
	WorkflowID      string  `json:"workflow_id"`
	WorkflowVersion int     `json:"workflow_version"`

	index map[string]int
}

// Field looks up a field by name.
func (f *Form) Field(name string) (Field, bool) {
	if f.index != nil {
		i, ok := f.index[name]
		if !ok {
			return Field{}, false
		}
		return f.Fields[i], true
	}
	for _, fd := range f.Fields {
		if fd.Name == name {
			return fd, true
		}
	}
	return Field{}, false
}

// Ref identifies this form version.
func (f *Form) Ref() formflow.Ref { return formflow.Ref{ID: f.ID, Version: f.Version} }

// WorkflowRef identifies the workflow version the form is pinned to.
func (f *Form) WorkflowRef() formflow.Ref {
	return formflow.Ref{ID: f.WorkflowID, Version: f.WorkflowVersion}
}

// Clone returns a deep copy without the compiled state.
func (f *Form) Clone() Form {
	out := *f
	out.index = nil
	out.Fields = make([]Field, len(f.Fields))
	for i, fd := range f.Fields {
		fd.Constraints = fd.Constraints.Clone()
		fd.defaultValue = field.Value{}
		out.Fields[i] = fd
	}
	return out
}

// check reports the structural problems of f that do not depend on other
// definitions.
func (f *Form) check() formflow.SchemaIssues {
	subject := "form " + f.ID
	var issues formflow.SchemaIssues
	add := func(code formflow.SchemaIssueCode, path, format string, args ...any) {
		issues = append(issues, formflow.SchemaIssue{
			Code:    code,
			Subject: subject,
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if !formflow.ValidIdentifier(f.ID) {
		add(formflow.IssueInvalidIdentifier, "id", "form id %q is not a valid identifier", f.ID)
	}
	if f.Version < 0 {
		add(formflow.IssueVersionNotIncreasing, "version", "version %d is negative", f.Version)
	}

	seen := make(map[string]int, len(f.Fields))
	for i, fd := range f.Fields {
		path := fmt.Sprintf("fields[%d]", i)
		if !formflow.ValidIdentifier(fd.Name) {
			add(formflow.IssueInvalidIdentifier, path, "field name %q is not a valid identifier", fd.Name)
		}
		if first, dup := seen[fd.Name]; dup {
			add(formflow.IssueDuplicateFieldName, path, "field %q is already declared at fields[%d]", fd.Name, first)
		} else {
			seen[fd.Name] = i
		}
		if len([]rune(fd.Label)) > MaxLabelLength {
			add(formflow.IssueInvalidConstraint, path+".label", "label exceeds %d characters", MaxLabelLength)
		}
		if !fd.Kind.Valid() {
			add(formflow.IssueUnknownFieldType, path+".kind", "field %q has unknown kind %q", fd.Name, fd.Kind)
			continue
		}
		problems := fd.Constraints.Check(fd.Kind)
		for _, p := range problems {
			add(formflow.IssueInvalidConstraint, path+".constraints", "field %q: %s", fd.Name, p)
		}
		if fd.Default != nil && len(problems) == 0 {
			if _, err := fd.Validate(fd.Default); err != nil {
				add(formflow.IssueInvalidConstraint, path+".default", "field %q default: %v", fd.Name, err)
			}
		}
	}
	return issues
}

// freeze prepares a checked clone for sharing: constraints are compiled,
// defaults coerced and the name index built.
func (f *Form) freeze() (*Form, error) {
	out := f.Clone()
	out.index = make(map[string]int, len(out.Fields))
	for i := range out.Fields {
		fd := &out.Fields[i]
		c, err := fd.Constraints.Compile()
		if err != nil {
			return nil, err
		}
		fd.Constraints = c
		if fd.Default != nil {
			v, err := fd.Validate(fd.Default)
			if err != nil {
				return nil, err
			}
			fd.defaultValue = v
		}
		out.index[fd.Name] = i
	}
	return &out, nil
}

// Application groups forms and workflows under one namespace.
type Application struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Forms       []string `json:"forms,omitempty"`
	Workflows   []string `json:"workflows,omitempty"`
}

func (a Application) clone() Application {
	a.Forms = slices.Clone(a.Forms)
	a.Workflows = slices.Clone(a.Workflows)
	return a
}
