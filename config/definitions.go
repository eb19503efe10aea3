package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefinitionSet is the content of one or more definition files.
type DefinitionSet struct {
	Workflows    []WorkflowSpec    `json:"workflows" yaml:"workflows" toml:"workflows"`
	Forms        []FormSpec        `json:"forms" yaml:"forms" toml:"forms"`
	Applications []ApplicationSpec `json:"applications,omitempty" yaml:"applications,omitempty" toml:"applications,omitempty"`
}

// WorkflowSpec describes a workflow version in a definition file.
type WorkflowSpec struct {
	ID          string           `json:"id" yaml:"id" toml:"id"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Version     int              `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Initial     string           `json:"initial" yaml:"initial" toml:"initial"`
	Phases      []PhaseSpec      `json:"phases" yaml:"phases" toml:"phases"`
	Transitions []TransitionSpec `json:"transitions" yaml:"transitions" toml:"transitions"`
}

type PhaseSpec struct {
	ID       string `json:"id" yaml:"id" toml:"id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Terminal bool   `json:"terminal,omitempty" yaml:"terminal,omitempty" toml:"terminal,omitempty"`
}

type TransitionSpec struct {
	ID             string   `json:"id" yaml:"id" toml:"id"`
	Name           string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	From           string   `json:"from" yaml:"from" toml:"from"`
	To             string   `json:"to" yaml:"to" toml:"to"`
	Roles          []string `json:"roles,omitempty" yaml:"roles,omitempty" toml:"roles,omitempty"`
	Predicate      string   `json:"predicate,omitempty" yaml:"predicate,omitempty" toml:"predicate,omitempty"`
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty" toml:"required_fields,omitempty"`
}

// FormSpec describes a form version in a definition file.
type FormSpec struct {
	ID              string      `json:"id" yaml:"id" toml:"id"`
	Name            string      `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Version         int         `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Application     string      `json:"application,omitempty" yaml:"application,omitempty" toml:"application,omitempty"`
	Workflow        string      `json:"workflow" yaml:"workflow" toml:"workflow"`
	WorkflowVersion int         `json:"workflow_version,omitempty" yaml:"workflow_version,omitempty" toml:"workflow_version,omitempty"`
	Fields          []FieldSpec `json:"fields" yaml:"fields" toml:"fields"`
}

// FieldSpec flattens a field with its constraints. Min and Max accept
// numbers or decimal strings. JSON numbers and strings keep their exact
// digits; unquoted YAML and TOML numbers are read as float64 first, so quote
// bounds there when every digit matters.
type FieldSpec struct {
	Name          string   `json:"name" yaml:"name" toml:"name"`
	Label         string   `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Type          string   `json:"type" yaml:"type" toml:"type"`
	Required      bool     `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	Default       any      `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	Min           any      `json:"min,omitempty" yaml:"min,omitempty" toml:"min,omitempty"`
	Max           any      `json:"max,omitempty" yaml:"max,omitempty" toml:"max,omitempty"`
	Precision     *int32   `json:"precision,omitempty" yaml:"precision,omitempty" toml:"precision,omitempty"`
	MinLength     *int     `json:"min_length,omitempty" yaml:"min_length,omitempty" toml:"min_length,omitempty"`
	MaxLength     *int     `json:"max_length,omitempty" yaml:"max_length,omitempty" toml:"max_length,omitempty"`
	Pattern       string   `json:"pattern,omitempty" yaml:"pattern,omitempty" toml:"pattern,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty" toml:"allowed_values,omitempty"`
	AllowMultiple bool     `json:"allow_multiple,omitempty" yaml:"allow_multiple,omitempty" toml:"allow_multiple,omitempty"`
	TargetForm    string   `json:"target_form,omitempty" yaml:"target_form,omitempty" toml:"target_form,omitempty"`
}

type ApplicationSpec struct {
	ID          string   `json:"id" yaml:"id" toml:"id"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Forms       []string `json:"forms,omitempty" yaml:"forms,omitempty" toml:"forms,omitempty"`
	Workflows   []string `json:"workflows,omitempty" yaml:"workflows,omitempty" toml:"workflows,omitempty"`
}

// ParseDefinitions decodes data in the format named by ext (".yaml",
// ".yml", ".json" or ".toml") and checks its structure.
func ParseDefinitions(data []byte, ext string) (DefinitionSet, error) {
	var set DefinitionSet
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &set); err != nil {
			return set, err
		}
	case "json":
		if err := DecodeJSON(bytes.NewReader(data), &set); err != nil {
			return set, err
		}
	case "toml":
		if err := toml.Unmarshal(data, &set); err != nil {
			return set, err
		}
	default:
		return set, fmt.Errorf("unsupported definition format %q", ext)
	}
	return set, set.Validate()
}

// DecodeJSON decodes one JSON document into v keeping numbers as
// json.Number, so decimal bounds and defaults keep their digits.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// LoadDefinitions reads every definition file under paths. Directories are
// walked recursively; files with unknown extensions inside them are skipped.
// Files are merged in lexical path order.
func LoadDefinitions(paths ...string) (DefinitionSet, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return DefinitionSet{}, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isDefinitionFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return DefinitionSet{}, err
		}
	}
	sort.Strings(files)
	files = slices.Compact(files)

	var out DefinitionSet
	var errs []error
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set, err := ParseDefinitions(data, filepath.Ext(path))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		out.Workflows = append(out.Workflows, set.Workflows...)
		out.Forms = append(out.Forms, set.Forms...)
		out.Applications = append(out.Applications, set.Applications...)
	}
	return out, errors.Join(errs...)
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	}
	return false
}

// Validate checks the shape of the set: ids present, field types known and
// numeric bounds readable. Graph and binding rules are left to the registry.
func (s DefinitionSet) Validate() error {
	var errs []error
	for i, wf := range s.Workflows {
		if strings.TrimSpace(wf.ID) == "" {
			errs = append(errs, fmt.Errorf("workflows[%d]: id is required", i))
		}
		if len(wf.Phases) == 0 {
			errs = append(errs, fmt.Errorf("workflows[%d] %s: phases are required", i, wf.ID))
		}
		for j, tr := range wf.Transitions {
			if tr.ID == "" || tr.From == "" || tr.To == "" {
				errs = append(errs, fmt.Errorf("workflows[%d] %s transitions[%d]: id, from and to are required", i, wf.ID, j))
			}
		}
	}
	for i, f := range s.Forms {
		if strings.TrimSpace(f.ID) == "" {
			errs = append(errs, fmt.Errorf("forms[%d]: id is required", i))
		}
		if strings.TrimSpace(f.Workflow) == "" {
			errs = append(errs, fmt.Errorf("forms[%d] %s: workflow is required", i, f.ID))
		}
		for _, fd := range f.Fields {
			if _, err := fd.constraints(); err != nil {
				errs = append(errs, fmt.Errorf("forms[%d] %s field %s: %w", i, f.ID, fd.Name, err))
			}
			if _, err := field.ParseKind(fd.Type); err != nil {
				errs = append(errs, fmt.Errorf("forms[%d] %s field %s: %w", i, f.ID, fd.Name, err))
			}
		}
	}
	for i, app := range s.Applications {
		if strings.TrimSpace(app.ID) == "" {
			errs = append(errs, fmt.Errorf("applications[%d]: id is required", i))
		}
	}
	return errors.Join(errs...)
}

// Definition converts the file entry to a workflow definition.
func (w WorkflowSpec) Definition() workflow.Definition {
	def := workflow.Definition{
		ID:      w.ID,
		Name:    w.Name,
		Version: w.Version,
		Initial: w.Initial,
	}
	for _, p := range w.Phases {
		def.Phases = append(def.Phases, workflow.Phase{ID: p.ID, Name: p.Name, Terminal: p.Terminal})
	}
	for _, t := range w.Transitions {
		def.Transitions = append(def.Transitions, workflow.Transition{
			ID:   t.ID,
			Name: t.Name,
			From: t.From,
			To:   t.To,
			Guard: workflow.Guard{
				Roles:          slices.Clone(t.Roles),
				Predicate:      t.Predicate,
				RequiredFields: slices.Clone(t.RequiredFields),
			},
		})
	}
	return def
}

// Form converts the file entry to a form. It fails on unknown field types and
// unreadable numeric bounds.
func (f FormSpec) Form() (schema.Form, error) {
	form := schema.Form{
		ID:              f.ID,
		Name:            f.Name,
		Version:         f.Version,
		Application:     f.Application,
		WorkflowID:      f.Workflow,
		WorkflowVersion: f.WorkflowVersion,
	}
	for _, fd := range f.Fields {
		kind, err := field.ParseKind(fd.Type)
		if err != nil {
			return schema.Form{}, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		c, err := fd.constraints()
		if err != nil {
			return schema.Form{}, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		form.Fields = append(form.Fields, schema.Field{
			Name:        fd.Name,
			Label:       fd.Label,
			Description: fd.Description,
			Kind:        kind,
			Required:    fd.Required,
			Constraints: c,
			Default:     fd.Default,
		})
	}
	return form, nil
}

func (fd FieldSpec) constraints() (field.Constraints, error) {
	c := field.Constraints{
		Precision:     fd.Precision,
		MinLength:     fd.MinLength,
		MaxLength:     fd.MaxLength,
		Pattern:       fd.Pattern,
		AllowedValues: slices.Clone(fd.AllowedValues),
		AllowMultiple: fd.AllowMultiple,
		TargetForm:    fd.TargetForm,
	}
	var err error
	if c.Min, err = bound("min", fd.Min); err != nil {
		return c, err
	}
	if c.Max, err = bound("max", fd.Max); err != nil {
		return c, err
	}
	return c, nil
}

func bound(name string, raw any) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, ok := field.ToDecimal(raw)
	if !ok {
		return nil, fmt.Errorf("%s %v is not a number", name, raw)
	}
	return &d, nil
}

// Application converts the file entry to a schema application.
func (a ApplicationSpec) Application() schema.Application {
	return schema.Application{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Forms:       slices.Clone(a.Forms),
		Workflows:   slices.Clone(a.Workflows),
	}
}
